package solver

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"tedeval/internal/models"
)

// integralTol decides when a relaxation value counts as integral.
const integralTol = 1e-6

// boundTol guards the incumbent comparison against simplex round-off.
const boundTol = 1e-9

// branchBound is a deterministic branch-and-bound MILP solver. Each node
// solves the LP relaxation with gonum's simplex; fractional integer variables
// are branched on by splitting their domain at the fractional value. Nodes
// are explored depth-first, floor branch first, so that repeated runs on the
// same problem visit the same nodes in the same order.
type branchBound struct {
	opts Options

	numVars int
	types   []VarType

	objective   *Objective
	constraints []Constraint
}

func newBranchBound(opts Options) *branchBound {
	return &branchBound{opts: opts}
}

// Initialize implements Backend.
func (bb *branchBound) Initialize(numVars int, defaultType VarType, special map[int]VarType) error {
	if numVars <= 0 {
		return fmt.Errorf("initializing solver with %d variables: %w", numVars, models.ErrSolverUnavailable)
	}

	bb.numVars = numVars
	bb.types = make([]VarType, numVars)
	for i := range bb.types {
		bb.types[i] = defaultType
	}
	for i, t := range special {
		if i < 0 || i >= numVars {
			return fmt.Errorf("variable type override for unknown variable %d: %w", i, models.ErrUsage)
		}
		bb.types[i] = t
	}

	return nil
}

// SetObjective implements Backend.
func (bb *branchBound) SetObjective(obj *Objective) error {
	bb.objective = obj
	return nil
}

// SetConstraints implements Backend.
func (bb *branchBound) SetConstraints(constraints []Constraint) error {
	bb.constraints = constraints
	return nil
}

// bbRow is one standard-form constraint row. Inequality rows (eq == false)
// are of the form sum(vals * x) <= rhs and receive their own slack variable.
type bbRow struct {
	cols []int
	vals []float64
	eq   bool
	rhs  float64
}

// bbNode is one open node of the search tree, described by the variable
// bounds accumulated along its branch decisions.
type bbNode struct {
	lower map[int]float64
	upper map[int]float64
}

// Solve implements Backend.
func (bb *branchBound) Solve() (*Solution, error) {
	if bb.objective == nil || bb.types == nil {
		return nil, fmt.Errorf("solver not initialized: %w", models.ErrSolverUnavailable)
	}

	start := time.Now()
	var deadline time.Time
	if bb.opts.Timeout > 0 {
		deadline = start.Add(bb.opts.Timeout)
	}

	base := bb.baseRows()

	var (
		bestValues []float64
		bestObj    = math.Inf(1)
		nodes      = 0
		timedOut   = false
	)

	stack := []bbNode{{}}

	for len(stack) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			timedOut = true
			break
		}
		if bb.opts.MaxNodes > 0 && nodes >= bb.opts.MaxNodes {
			timedOut = true
			break
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		x, obj, err := bb.solveRelaxation(base, node)
		if err != nil {
			if errors.Is(err, lp.ErrInfeasible) {
				continue
			}
			return nil, fmt.Errorf("LP relaxation: %v: %w", err, models.ErrSolverFailed)
		}

		// a node can only improve on the incumbent if its bound does
		if obj >= bestObj-boundTol {
			continue
		}

		branchVar := bb.mostFractional(x)
		if branchVar < 0 {
			// integral solution, new incumbent
			rounded := bb.roundIntegral(x)
			val := bb.objectiveValue(rounded)
			if val < bestObj {
				bestObj = val
				bestValues = rounded
			}
			continue
		}

		v := x[branchVar]
		floor := math.Floor(v)

		up := bbNode{lower: copyBounds(node.lower), upper: copyBounds(node.upper)}
		if up.lower == nil {
			up.lower = make(map[int]float64)
		}
		up.lower[branchVar] = floor + 1

		down := bbNode{lower: copyBounds(node.lower), upper: copyBounds(node.upper)}
		if down.upper == nil {
			down.upper = make(map[int]float64)
		}
		down.upper[branchVar] = floor

		// floor branch on top of the stack, explored first
		stack = append(stack, up, down)
	}

	elapsed := time.Since(start)

	if bestValues == nil {
		if timedOut {
			return nil, fmt.Errorf("no feasible solution within %v: %w", bb.opts.Timeout, models.ErrSolverTimeout)
		}
		return nil, fmt.Errorf("problem is infeasible: %w", models.ErrSolverFailed)
	}

	message := "optimal"
	if timedOut {
		message = fmt.Sprintf("time budget expired after %d nodes, returning best incumbent", nodes)
		log.Warn().Dur("elapsed", elapsed).Int("nodes", nodes).Msg("solver timeout, using incumbent")
	}

	log.Debug().
		Int("nodes", nodes).
		Float64("objective", bestObj).
		Dur("elapsed", elapsed).
		Msg("branch and bound finished")

	return &Solution{
		Values:    bestValues,
		Objective: bestObj,
		Time:      elapsed,
		TimedOut:  timedOut,
		Message:   message,
	}, nil
}

// baseRows converts the user constraints into standard-form rows and adds the
// upper bound of 1 for every binary variable.
func (bb *branchBound) baseRows() []bbRow {
	rows := make([]bbRow, 0, len(bb.constraints)+bb.numVars)

	for _, c := range bb.constraints {
		cols := make([]int, 0, len(c.Coefficients))
		for col := range c.Coefficients {
			cols = append(cols, col)
		}
		sort.Ints(cols)

		vals := make([]float64, len(cols))
		for i, col := range cols {
			vals[i] = c.Coefficients[col]
		}

		switch c.Relation {
		case Equal:
			rows = append(rows, bbRow{cols: cols, vals: vals, eq: true, rhs: c.Value})
		case LessEqual:
			rows = append(rows, bbRow{cols: cols, vals: vals, rhs: c.Value})
		case GreaterEqual:
			neg := make([]float64, len(vals))
			for i, v := range vals {
				neg[i] = -v
			}
			rows = append(rows, bbRow{cols: cols, vals: neg, rhs: -c.Value})
		}
	}

	for i, t := range bb.types {
		if t == Binary {
			rows = append(rows, bbRow{cols: []int{i}, vals: []float64{1}, rhs: 1})
		}
	}

	return rows
}

// solveRelaxation solves the LP relaxation of the node: the base rows plus
// the node's bound rows, all variables continuous and non-negative.
func (bb *branchBound) solveRelaxation(base []bbRow, node bbNode) ([]float64, float64, error) {
	rows := base
	if len(node.lower) > 0 || len(node.upper) > 0 {
		rows = make([]bbRow, len(base), len(base)+len(node.lower)+len(node.upper))
		copy(rows, base)
		for _, col := range sortedKeys(node.lower) {
			// x >= l becomes -x <= -l
			rows = append(rows, bbRow{cols: []int{col}, vals: []float64{-1}, rhs: -node.lower[col]})
		}
		for _, col := range sortedKeys(node.upper) {
			rows = append(rows, bbRow{cols: []int{col}, vals: []float64{1}, rhs: node.upper[col]})
		}
	}

	m := len(rows)
	numSlacks := 0
	for _, r := range rows {
		if !r.eq {
			numSlacks++
		}
	}
	n := bb.numVars + numSlacks

	if m == 0 {
		return make([]float64, bb.numVars), 0, nil
	}

	a := mat.NewDense(m, n, nil)
	b := make([]float64, m)

	slack := bb.numVars
	for i, r := range rows {
		for j, col := range r.cols {
			a.Set(i, col, r.vals[j])
		}
		if !r.eq {
			a.Set(i, slack, 1)
			slack++
		}
		b[i] = r.rhs

		// the simplex expects a non-negative right-hand side
		if b[i] < 0 {
			for j := 0; j < n; j++ {
				if v := a.At(i, j); v != 0 {
					a.Set(i, j, -v)
				}
			}
			b[i] = -b[i]
		}
	}

	c := make([]float64, n)
	for col, coef := range bb.objective.Coefficients {
		c[col] = coef
	}

	_, xs, err := lp.Simplex(c, a, b, 0, nil)
	if err != nil {
		return nil, 0, err
	}

	x := xs[:bb.numVars]
	obj := 0.0
	for col, coef := range bb.objective.Coefficients {
		obj += coef * x[col]
	}

	return x, obj, nil
}

// mostFractional returns the integer-typed variable whose relaxation value is
// farthest from integral, or -1 if all are integral. Ties break towards the
// lowest index so that the search order is reproducible.
func (bb *branchBound) mostFractional(x []float64) int {
	best := -1
	bestFrac := integralTol
	for i, t := range bb.types {
		if t == Continuous {
			continue
		}
		frac := math.Abs(x[i] - math.Round(x[i]))
		if frac > bestFrac {
			best = i
			bestFrac = frac
		}
	}
	return best
}

// roundIntegral snaps integer-typed variables to the nearest integer to strip
// simplex round-off from an integral solution.
func (bb *branchBound) roundIntegral(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for i, t := range bb.types {
		if t != Continuous {
			out[i] = math.Round(out[i])
		}
	}
	return out
}

func (bb *branchBound) objectiveValue(x []float64) float64 {
	obj := 0.0
	for col, coef := range bb.objective.Coefficients {
		obj += coef * x[col]
	}
	return obj
}

func copyBounds(bounds map[int]float64) map[int]float64 {
	if bounds == nil {
		return nil
	}
	out := make(map[int]float64, len(bounds))
	for k, v := range bounds {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
