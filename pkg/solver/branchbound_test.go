package solver

import (
	"errors"
	"math"
	"testing"
	"time"

	"tedeval/internal/models"
)

func solveProgram(t *testing.T, opts Options, numVars int, defaultType VarType,
	special map[int]VarType, objective *Objective, constraints []Constraint) (*Solution, error) {
	t.Helper()

	backend := NewBackend(opts)
	if err := backend.Initialize(numVars, defaultType, special); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := backend.SetObjective(objective); err != nil {
		t.Fatalf("SetObjective failed: %v", err)
	}
	if err := backend.SetConstraints(constraints); err != nil {
		t.Fatalf("SetConstraints failed: %v", err)
	}
	return backend.Solve()
}

// TestBinaryChoice verifies a two-variable binary program with an exclusive
// choice: the cheaper option wins.
func TestBinaryChoice(t *testing.T) {
	objective := NewObjective()
	objective.SetCoefficient(0, -1)
	objective.SetCoefficient(1, -2)

	exclusive := NewConstraint(LessEqual, 1)
	exclusive.SetCoefficient(0, 1)
	exclusive.SetCoefficient(1, 1)

	solution, err := solveProgram(t, Options{}, 2, Binary, nil,
		objective, []Constraint{exclusive})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if solution.Values[0] != 0 || solution.Values[1] != 1 {
		t.Errorf("expected solution (0, 1), got (%g, %g)", solution.Values[0], solution.Values[1])
	}
	if math.Abs(solution.Objective-(-2)) > 1e-9 {
		t.Errorf("expected objective -2, got %g", solution.Objective)
	}
}

// TestIntegerRounding verifies that a fractional LP optimum is driven to the
// next feasible integer.
func TestIntegerRounding(t *testing.T) {
	objective := NewObjective()
	objective.SetCoefficient(0, 1)

	atLeast := NewConstraint(GreaterEqual, 2.5)
	atLeast.SetCoefficient(0, 1)

	solution, err := solveProgram(t, Options{}, 1, Integer, nil,
		objective, []Constraint{atLeast})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if solution.Values[0] != 3 {
		t.Errorf("expected x = 3, got %g", solution.Values[0])
	}
}

// TestTriangleIndependentSet verifies branching on a program whose LP
// relaxation is fractional: three pairwise exclusive binaries admit only one
// active variable.
func TestTriangleIndependentSet(t *testing.T) {
	objective := NewObjective()
	for i := 0; i < 3; i++ {
		objective.SetCoefficient(i, -1)
	}

	var constraints []Constraint
	for i := 0; i < 3; i++ {
		c := NewConstraint(LessEqual, 1)
		c.SetCoefficient(i, 1)
		c.SetCoefficient((i+1)%3, 1)
		constraints = append(constraints, c)
	}

	solution, err := solveProgram(t, Options{}, 3, Binary, nil, objective, constraints)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	active := 0
	for _, v := range solution.Values {
		if v > 0.5 {
			active++
		}
	}
	if active != 1 {
		t.Errorf("expected exactly one active variable, got %d", active)
	}
	if math.Abs(solution.Objective-(-1)) > 1e-9 {
		t.Errorf("expected objective -1, got %g", solution.Objective)
	}
}

// TestInfeasible verifies the error kind on contradictory constraints.
func TestInfeasible(t *testing.T) {
	objective := NewObjective()
	objective.SetCoefficient(0, 1)

	lower := NewConstraint(GreaterEqual, 2)
	lower.SetCoefficient(0, 1)
	upper := NewConstraint(LessEqual, 1)
	upper.SetCoefficient(0, 1)

	_, err := solveProgram(t, Options{}, 1, Integer, nil,
		objective, []Constraint{lower, upper})
	if !errors.Is(err, models.ErrSolverFailed) {
		t.Errorf("expected ErrSolverFailed, got %v", err)
	}
}

// TestTimeoutWithoutIncumbent verifies that an expired budget without any
// feasible solution reports a timeout.
func TestTimeoutWithoutIncumbent(t *testing.T) {
	objective := NewObjective()
	objective.SetCoefficient(0, 1)

	atLeast := NewConstraint(GreaterEqual, 1)
	atLeast.SetCoefficient(0, 1)

	backend := NewBackend(Options{Timeout: time.Nanosecond})
	if err := backend.Initialize(1, Binary, nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := backend.SetObjective(objective); err != nil {
		t.Fatalf("SetObjective failed: %v", err)
	}
	if err := backend.SetConstraints([]Constraint{atLeast}); err != nil {
		t.Fatalf("SetConstraints failed: %v", err)
	}

	// the deadline expires before the first node is explored
	time.Sleep(time.Millisecond)

	_, err := backend.Solve()
	if !errors.Is(err, models.ErrSolverTimeout) {
		t.Errorf("expected ErrSolverTimeout, got %v", err)
	}
}

// TestEqualityConstraint verifies equality handling together with integer
// aggregation variables, the pattern used by the edit distance program.
func TestEqualityConstraint(t *testing.T) {
	// x0, x1 binary; s integer with s = x0 + x1 - 1, s >= 0; minimize s
	// with both variables forced on
	objective := NewObjective()
	objective.SetCoefficient(2, 1)

	forceX0 := NewConstraint(Equal, 1)
	forceX0.SetCoefficient(0, 1)
	forceX1 := NewConstraint(Equal, 1)
	forceX1.SetCoefficient(1, 1)

	link := NewConstraint(Equal, -1)
	link.SetCoefficient(2, 1)
	link.SetCoefficient(0, -1)
	link.SetCoefficient(1, -1)

	positive := NewConstraint(GreaterEqual, 0)
	positive.SetCoefficient(2, 1)

	solution, err := solveProgram(t, Options{}, 3, Binary, map[int]VarType{2: Integer},
		objective, []Constraint{forceX0, forceX1, link, positive})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if solution.Values[2] != 1 {
		t.Errorf("expected s = 1, got %g", solution.Values[2])
	}
}

// TestDeterministicSolve verifies that repeated solves return identical
// values.
func TestDeterministicSolve(t *testing.T) {
	build := func() (*Objective, []Constraint) {
		objective := NewObjective()
		objective.SetCoefficient(0, -1)
		objective.SetCoefficient(1, -1)
		objective.SetCoefficient(2, -1.5)

		c1 := NewConstraint(LessEqual, 2)
		c1.SetCoefficient(0, 1)
		c1.SetCoefficient(1, 1)
		c1.SetCoefficient(2, 1)

		c2 := NewConstraint(LessEqual, 1)
		c2.SetCoefficient(1, 1)
		c2.SetCoefficient(2, 1)

		return objective, []Constraint{c1, c2}
	}

	objective, constraints := build()
	first, err := solveProgram(t, Options{}, 3, Binary, nil, objective, constraints)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	for run := 0; run < 3; run++ {
		objective, constraints = build()
		again, err := solveProgram(t, Options{}, 3, Binary, nil, objective, constraints)
		if err != nil {
			t.Fatalf("Solve failed: %v", err)
		}
		for i := range first.Values {
			if first.Values[i] != again.Values[i] {
				t.Errorf("run %d: variable %d changed from %g to %g",
					run, i, first.Values[i], again.Values[i])
			}
		}
	}
}
