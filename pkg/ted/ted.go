package ted

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tedeval/internal/models"
	"tedeval/pkg/cells"
	"tedeval/pkg/solver"
	"tedeval/pkg/tolerance"
)

// Mode selects the tolerance criterion family.
type Mode int

const (
	// Volumetric applies the distance criterion to a filled ground truth.
	Volumetric Mode = iota

	// Skeleton applies the skeleton criterion to a curvilinear ground
	// truth; ground-truth background voxels are ignored.
	Skeleton
)

// Policy enumerates the options of a single evaluation.
type Policy struct {
	// Mode selects the tolerance criterion (volumetric or skeleton).
	Mode Mode

	// DistanceThreshold is the maximum allowed boundary shift in physical
	// units.
	DistanceThreshold float64

	// ReportFPFN reclassifies splits and merges involving the background
	// labels as false positives and false negatives.
	ReportFPFN bool

	// AllowBackgroundAppearance permits the reconstruction background as an
	// alternative label for cells that have at least one other alternative.
	AllowBackgroundAppearance bool

	// GTBackground and RecBackground are the background label values.
	GTBackground  models.Label
	RecBackground models.Label

	// SolverTimeout bounds the MILP solve; zero means unbounded. On expiry
	// the best feasible incumbent is accepted and the report flagged.
	SolverTimeout time.Duration

	// NumThreads caps the worker threads of the data-parallel phases and
	// the solver backend. Zero leaves the choice to the implementation.
	NumThreads int

	// ReportLocations additionally produces per-error location records.
	ReportLocations bool
}

// DefaultPolicy returns the default evaluation options: volumetric tolerance
// with a distance threshold of 10 physical units, background label 0 on both
// sides, no background appearance, and no fp/fn reclassification.
func DefaultPolicy() Policy {
	return Policy{
		Mode:              Volumetric,
		DistanceThreshold: 10,
		GTBackground:      0,
		RecBackground:     0,
	}
}

// Compute evaluates a reconstruction against a ground truth and returns the
// tolerant edit distance report. The two volumes must have identical shape;
// the call runs to completion or fails with one of the error kinds in
// internal/models.
func Compute(gt, rec *models.Volume, policy Policy) (*Errors, error) {
	if gt == nil || rec == nil {
		return nil, fmt.Errorf("ground truth and reconstruction are required: %w", models.ErrUsage)
	}
	if !gt.SameShape(rec) {
		return nil, fmt.Errorf("computing TED on %dx%dx%d vs %dx%dx%d volumes: %w",
			gt.Width, gt.Height, gt.Depth, rec.Width, rec.Height, rec.Depth,
			models.ErrShapeMismatch)
	}
	if policy.DistanceThreshold < 0 {
		return nil, fmt.Errorf("distance threshold %g is negative: %w", policy.DistanceThreshold, models.ErrUsage)
	}

	result := newReport(policy)

	// by convention an empty volume yields a zero-error report
	if gt.NumVoxels() == 0 {
		result.Corrected = rec.Clone()
		return result, nil
	}

	log.Info().
		Int("width", gt.Width).Int("height", gt.Height).Int("depth", gt.Depth).
		Float64("threshold", policy.DistanceThreshold).
		Bool("skeleton", policy.Mode == Skeleton).
		Msg("computing tolerant edit distance")

	// Step 1: joint connected-component decomposition into cells
	cs, err := cells.Extract(gt, rec)
	if err != nil {
		return nil, err
	}

	// Step 2: enumerate tolerated alternative labels per cell
	tf := toleranceFunc(policy)
	if err := tf.FindPossibleCellLabels(cs, gt, rec); err != nil {
		return nil, err
	}

	for i, cell := range cs {
		if len(cell.PossibleLabels()) == 0 {
			return nil, fmt.Errorf("cell %d has no possible labels after tolerance analysis: %w", i, models.ErrInternal)
		}
	}

	// Step 3: pick one label per cell minimizing splits plus merges
	prog := buildProgram(cs, gt.NumVoxels())

	backend := solver.NewBackend(solver.Options{
		Timeout:    policy.SolverTimeout,
		NumThreads: policy.NumThreads,
	})
	if err := backend.Initialize(prog.numVars, solver.Binary, prog.varTypes); err != nil {
		return nil, err
	}
	if err := backend.SetObjective(prog.objective); err != nil {
		return nil, err
	}
	if err := backend.SetConstraints(prog.constraints); err != nil {
		return nil, err
	}

	solution, err := backend.Solve()
	if err != nil {
		if errors.Is(err, models.ErrSolverFailed) {
			// the model guarantees feasibility; an infeasible program is a bug
			return nil, fmt.Errorf("%v: %w", err, models.ErrInternal)
		}
		return nil, err
	}

	// Step 4: decode the assignment into error counts and outputs
	chosen, err := decodeAssignment(prog, cs, solution)
	if err != nil {
		return nil, err
	}

	result.SetCells(cs)
	for cellIndex, label := range chosen {
		if err := result.AddMapping(cellIndex, label); err != nil {
			return nil, err
		}
	}

	result.Corrected = paintCorrected(rec, cs, chosen)

	if err := checkLabelPersistence(cs, chosen); err != nil {
		return nil, err
	}

	if policy.ReportLocations {
		result.SplitErrors = splitLocationErrors(result, gt.Res)
		result.MergeErrors = mergeLocationErrors(result, gt.Res)
	}

	result.SolverTime = solution.Time
	result.NumVariables = prog.numVars
	result.TimedOut = solution.TimedOut

	log.Info().
		Int("splits", result.NumSplits()).
		Int("merges", result.NumMerges()).
		Int("false_positives", result.NumFalsePositives()).
		Int("false_negatives", result.NumFalseNegatives()).
		Dur("solver_time", solution.Time).
		Msg("tolerant edit distance computed")

	return result, nil
}

func newReport(policy Policy) *Errors {
	if policy.ReportFPFN {
		return NewErrorsWithBackground(policy.GTBackground, policy.RecBackground)
	}
	return NewErrors()
}

func toleranceFunc(policy Policy) tolerance.Func {
	if policy.Mode == Skeleton {
		return tolerance.NewSkeleton(
			policy.DistanceThreshold,
			policy.GTBackground,
			policy.RecBackground,
			policy.NumThreads)
	}
	return tolerance.NewDistance(
		policy.DistanceThreshold,
		policy.AllowBackgroundAppearance,
		policy.RecBackground,
		policy.NumThreads)
}

// decodeAssignment reads the chosen label per cell from the indicator
// variables and verifies the assignment invariants.
func decodeAssignment(prog *program, cs []*cells.Cell, solution *solver.Solution) ([]models.Label, error) {
	chosen := make([]models.Label, len(cs))
	found := make([]bool, len(cs))

	for v := 0; v < prog.numIndicators; v++ {
		if solution.Values[v] < 0.5 {
			continue
		}
		a := prog.labelingByVar[v]
		if found[a.cellIndex] {
			return nil, fmt.Errorf("cell %d was assigned more than one label: %w", a.cellIndex, models.ErrInternal)
		}
		found[a.cellIndex] = true
		chosen[a.cellIndex] = a.label
	}

	for i, cell := range cs {
		if !found[i] {
			return nil, fmt.Errorf("cell %d was assigned no label: %w", i, models.ErrInternal)
		}
		if !cell.HasPossibleLabel(chosen[i]) {
			return nil, fmt.Errorf("cell %d was assigned label %d outside its possible labels: %w",
				i, chosen[i], models.ErrInternal)
		}
	}

	return chosen, nil
}

// paintCorrected builds the corrected reconstruction by painting each cell's
// locations with its chosen label.
func paintCorrected(rec *models.Volume, cs []*cells.Cell, chosen []models.Label) *models.Volume {
	corrected := models.NewVolume(rec.Width, rec.Height, rec.Depth, rec.Res)
	for i, cell := range cs {
		label := chosen[i]
		for _, l := range cell.Locations {
			corrected.Set(l.X, l.Y, l.Z, label)
		}
	}
	return corrected
}

// checkLabelPersistence asserts that no reconstruction label vanished in the
// assignment; the ILP constraints guarantee this, so a violation is a bug.
func checkLabelPersistence(cs []*cells.Cell, chosen []models.Label) error {
	before := make(map[models.Label]struct{})
	after := make(map[models.Label]struct{})
	for i, cell := range cs {
		before[cell.RecLabel] = struct{}{}
		after[chosen[i]] = struct{}{}
	}
	for label := range before {
		if _, ok := after[label]; !ok {
			return fmt.Errorf("reconstruction label %d vanished from the corrected volume: %w",
				label, models.ErrInternal)
		}
	}
	return nil
}
