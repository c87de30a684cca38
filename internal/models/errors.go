package models

import "errors"

// Error kinds surfaced by the evaluation pipeline. Callers match them with
// errors.Is; every failure returned from the public API wraps one of these.
var (
	// ErrShapeMismatch indicates that ground truth and reconstruction
	// differ in at least one dimension.
	ErrShapeMismatch = errors.New("ground truth and reconstruction have different size")

	// ErrUsage indicates invalid parameters, such as a negative distance
	// threshold or non-2D input to a 2D-only measure.
	ErrUsage = errors.New("invalid usage")

	// ErrSolverUnavailable indicates that the MILP backend could not be
	// initialized.
	ErrSolverUnavailable = errors.New("solver unavailable")

	// ErrSolverFailed indicates that the MILP backend returned no feasible
	// solution within its resources.
	ErrSolverFailed = errors.New("solver failed")

	// ErrSolverTimeout indicates that the MILP backend hit its time budget.
	// When a feasible incumbent exists the call still succeeds and the
	// report carries an advisory flag; this error is returned only when no
	// feasible solution was found in time.
	ErrSolverTimeout = errors.New("solver timed out")

	// ErrInternal indicates an invariant violation and therefore a bug,
	// such as a cell without possible labels after tolerance analysis.
	ErrInternal = errors.New("internal error")
)
