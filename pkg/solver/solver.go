// Package solver provides a small mixed-integer linear program model and a
// backend that solves it. The backend contract mirrors an opaque MILP
// service: initialize the variables, set objective and constraints, solve.
//
// All variables are assumed non-negative; integrality is requested per
// variable. The bundled backend is a deterministic branch-and-bound over the
// LP simplex solver from gonum.
package solver

import (
	"time"
)

// VarType describes the domain of a variable.
type VarType int

const (
	// Continuous variables take any non-negative real value.
	Continuous VarType = iota

	// Integer variables take non-negative integral values.
	Integer

	// Binary variables take the values 0 or 1.
	Binary
)

// Relation is the comparison of a linear constraint.
type Relation int

const (
	LessEqual Relation = iota
	Equal
	GreaterEqual
)

// Constraint is a single linear constraint sum(coef_i * x_i) REL value.
type Constraint struct {
	Coefficients map[int]float64
	Relation     Relation
	Value        float64
}

// NewConstraint creates an empty constraint with the given relation and
// right-hand side.
func NewConstraint(rel Relation, value float64) Constraint {
	return Constraint{
		Coefficients: make(map[int]float64),
		Relation:     rel,
		Value:        value,
	}
}

// SetCoefficient sets the coefficient of a variable in this constraint.
func (c Constraint) SetCoefficient(variable int, coef float64) {
	c.Coefficients[variable] = coef
}

// Objective is a linear objective to be minimized.
type Objective struct {
	Coefficients map[int]float64
}

// NewObjective creates an empty minimization objective.
func NewObjective() *Objective {
	return &Objective{Coefficients: make(map[int]float64)}
}

// SetCoefficient sets the objective coefficient of a variable.
func (o *Objective) SetCoefficient(variable int, coef float64) {
	o.Coefficients[variable] = coef
}

// Solution is the result of a solve.
type Solution struct {
	// Values holds one value per variable.
	Values []float64

	// Objective is the objective value of the solution.
	Objective float64

	// Time is the wall time spent solving.
	Time time.Duration

	// TimedOut is set when the time budget expired and Values holds the
	// best feasible incumbent rather than a proven optimum.
	TimedOut bool

	// Message carries the backend's diagnostic string.
	Message string
}

// Backend is the solver contract used by the evaluation. Implementations must
// be correct on binary/integer programs and report wall time; a timeout is
// optional but, if supported, returns the best feasible incumbent.
type Backend interface {
	// Initialize declares the number of variables, their default type, and
	// per-variable overrides.
	Initialize(numVars int, defaultType VarType, special map[int]VarType) error

	// SetObjective sets the minimization objective.
	SetObjective(obj *Objective) error

	// SetConstraints sets the constraint set, replacing any previous one.
	SetConstraints(constraints []Constraint) error

	// Solve runs the backend and returns a solution or an error wrapping
	// models.ErrSolverFailed or models.ErrSolverTimeout, or
	// models.ErrSolverUnavailable when called before Initialize and
	// SetObjective.
	Solve() (*Solution, error)
}

// Options configures the bundled backend.
type Options struct {
	// Timeout bounds the solve wall time. Zero means unbounded.
	Timeout time.Duration

	// NumThreads caps backend worker threads. The branch-and-bound backend
	// explores nodes sequentially to stay deterministic and does not use
	// this value.
	NumThreads int

	// MaxNodes bounds the number of explored branch-and-bound nodes, as a
	// backstop against runaway searches. Zero means unbounded.
	MaxNodes int
}

// NewBackend returns the bundled branch-and-bound backend.
func NewBackend(opts Options) Backend {
	return newBranchBound(opts)
}
