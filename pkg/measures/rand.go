package measures

import (
	"fmt"

	"tedeval/internal/models"
)

// RandErrors holds the pair-counting comparison of two labelings.
type RandErrors struct {
	// NumPairs is the number of voxel pairs considered.
	NumPairs float64

	// NumAgreeingPairs is the number of pairs on which both labelings
	// agree (same label in both, or different label in both).
	NumAgreeingPairs float64

	// Precision is the probability that a pair with the same
	// reconstruction label also shares its ground-truth label.
	Precision float64

	// Recall is the probability that a pair with the same ground-truth
	// label also shares its reconstruction label.
	Recall float64

	// AdaptedRandError is 1 minus the F-score of precision and recall.
	AdaptedRandError float64
}

// RandIndex returns the fraction of agreeing pairs.
func (e *RandErrors) RandIndex() float64 {
	if e.NumPairs == 0 {
		return 1
	}
	return e.NumAgreeingPairs / e.NumPairs
}

// Header returns the tab-separated column header of the measure.
func (e *RandErrors) Header() string {
	return "RAND_PREC\tRAND_REC\tARAND"
}

// TSVLine returns the measure as a single tab-separated line matching Header.
func (e *RandErrors) TSVLine() string {
	return fmt.Sprintf("%.5e\t%.5e\t%.5e", e.Precision, e.Recall, e.AdaptedRandError)
}

// HumanReadable returns a one-line summary for console output.
func (e *RandErrors) HumanReadable() string {
	return fmt.Sprintf("RAND precision: %.5f, RAND recall: %.5f, adapted RAND error: %.5f",
		e.Precision, e.Recall, e.AdaptedRandError)
}

// AdaptedRand computes the pair-counting comparison between ground truth and
// reconstruction, following the contingency-matrix formulation of Andres'
// partition comparison. If ignoreBackground is set, voxels with ground-truth
// label 0 do not contribute.
func AdaptedRand(gt, rec *models.Volume, ignoreBackground bool) (*RandErrors, error) {
	if !gt.SameShape(rec) {
		return nil, fmt.Errorf("computing adapted Rand error: %w", models.ErrShapeMismatch)
	}

	errors := &RandErrors{}

	if gt.NumVoxels() == 0 {
		// perfect agreement on empty volumes
		errors.NumPairs = 1
		errors.NumAgreeingPairs = 1
		errors.Precision = 1
		errors.Recall = 1
		return errors, nil
	}

	contingency := make(map[[2]models.Label]uint64)
	recSums := make(map[models.Label]uint64)
	gtSums := make(map[models.Label]uint64)

	numLocations := uint64(0)
	for i, gtLabel := range gt.Data {
		if ignoreBackground && gtLabel == 0 {
			continue
		}
		recLabel := rec.Data[i]
		contingency[[2]models.Label{recLabel, gtLabel}]++
		recSums[recLabel]++
		gtSums[gtLabel]++
		numLocations++
	}

	if numLocations == 0 {
		errors.NumPairs = 1
		errors.NumAgreeingPairs = 1
		errors.Precision = 1
		errors.Recall = 1
		return errors, nil
	}

	// agreeing pairs via A = sum n(n-1) over the contingency matrix and
	// B = N^2 + sum n^2 - sum a^2 - sum b^2 over the marginals
	var (
		a                uint64
		b                = numLocations * numLocations
		bothSamePairs    uint64
		recSamePairs     uint64
		gtSamePairs      uint64
	)

	for _, n := range contingency {
		a += n * (n - 1)
		b += n * n
		bothSamePairs += n * n
	}
	for _, n := range recSums {
		b -= n * n
		recSamePairs += n * n
	}
	for _, n := range gtSums {
		b -= n * n
		gtSamePairs += n * n
	}

	errors.NumAgreeingPairs = float64(a+b) / 2
	errors.NumPairs = float64(numLocations) / 2 * (float64(numLocations) - 1)

	precision := float64(bothSamePairs) / float64(recSamePairs)
	recall := float64(bothSamePairs) / float64(gtSamePairs)
	fscore := 2 * precision * recall / (precision + recall)

	errors.Precision = precision
	errors.Recall = recall
	errors.AdaptedRandError = 1 - fscore

	return errors, nil
}
