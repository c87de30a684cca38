package measures

import (
	"errors"
	"math"
	"testing"

	"tedeval/internal/models"
)

func makeVolume(rows [][]models.Label) *models.Volume {
	height := len(rows)
	width := len(rows[0])
	v := models.NewVolume(width, height, 1, models.DefaultResolution())
	for y, row := range rows {
		for x, label := range row {
			v.Set(x, y, 0, label)
		}
	}
	return v
}

// TestVOIIdentical verifies that identical labelings have zero conditional
// entropies.
func TestVOIIdentical(t *testing.T) {
	v := makeVolume([][]models.Label{
		{1, 1, 2, 2},
		{1, 1, 2, 2},
	})

	voi, err := VariationOfInformation(v, v.Clone(), false)
	if err != nil {
		t.Fatalf("VariationOfInformation failed: %v", err)
	}

	if math.Abs(voi.SplitEntropy) > 1e-12 || math.Abs(voi.MergeEntropy) > 1e-12 {
		t.Errorf("expected zero entropies, got split %g, merge %g",
			voi.SplitEntropy, voi.MergeEntropy)
	}
}

// TestVOIHalfSplit verifies the conditional entropies of one region split
// into two equal halves: one bit of split entropy, no merge entropy.
func TestVOIHalfSplit(t *testing.T) {
	gt := makeVolume([][]models.Label{{1, 1, 1, 1}})
	rec := makeVolume([][]models.Label{{1, 1, 2, 2}})

	voi, err := VariationOfInformation(gt, rec, false)
	if err != nil {
		t.Fatalf("VariationOfInformation failed: %v", err)
	}

	if math.Abs(voi.SplitEntropy-1) > 1e-12 {
		t.Errorf("expected split entropy 1 bit, got %g", voi.SplitEntropy)
	}
	if math.Abs(voi.MergeEntropy) > 1e-12 {
		t.Errorf("expected merge entropy 0, got %g", voi.MergeEntropy)
	}
	if math.Abs(voi.Entropy()-1) > 1e-12 {
		t.Errorf("expected total entropy 1 bit, got %g", voi.Entropy())
	}
}

// TestVOIIgnoreBackground verifies that ground-truth background voxels are
// dropped from the distributions.
func TestVOIIgnoreBackground(t *testing.T) {
	gt := makeVolume([][]models.Label{{0, 0, 1, 1}})
	rec := makeVolume([][]models.Label{{5, 6, 7, 7}})

	voi, err := VariationOfInformation(gt, rec, true)
	if err != nil {
		t.Fatalf("VariationOfInformation failed: %v", err)
	}

	// outside the background both labelings are constant
	if math.Abs(voi.SplitEntropy) > 1e-12 || math.Abs(voi.MergeEntropy) > 1e-12 {
		t.Errorf("expected zero entropies, got split %g, merge %g",
			voi.SplitEntropy, voi.MergeEntropy)
	}
}

// TestVOIShapeMismatch verifies the error kind for differently shaped inputs.
func TestVOIShapeMismatch(t *testing.T) {
	gt := makeVolume([][]models.Label{{1}})
	rec := makeVolume([][]models.Label{{1, 1}})

	if _, err := VariationOfInformation(gt, rec, false); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

// TestRandIdentical verifies perfect precision and recall on identical
// labelings.
func TestRandIdentical(t *testing.T) {
	v := makeVolume([][]models.Label{
		{1, 1, 2, 2},
		{3, 3, 2, 2},
	})

	rand, err := AdaptedRand(v, v.Clone(), false)
	if err != nil {
		t.Fatalf("AdaptedRand failed: %v", err)
	}

	if rand.Precision != 1 || rand.Recall != 1 {
		t.Errorf("expected precision and recall 1, got %g and %g", rand.Precision, rand.Recall)
	}
	if math.Abs(rand.AdaptedRandError) > 1e-12 {
		t.Errorf("expected adapted Rand error 0, got %g", rand.AdaptedRandError)
	}
	if rand.RandIndex() != 1 {
		t.Errorf("expected Rand index 1, got %g", rand.RandIndex())
	}
}

// TestRandHalfSplit verifies the pair counts of one region split into two
// halves.
func TestRandHalfSplit(t *testing.T) {
	gt := makeVolume([][]models.Label{{1, 1, 1, 1}})
	rec := makeVolume([][]models.Label{{1, 1, 2, 2}})

	rand, err := AdaptedRand(gt, rec, false)
	if err != nil {
		t.Fatalf("AdaptedRand failed: %v", err)
	}

	if rand.Precision != 1 {
		t.Errorf("expected precision 1, got %g", rand.Precision)
	}
	if rand.Recall != 0.5 {
		t.Errorf("expected recall 0.5, got %g", rand.Recall)
	}
	if math.Abs(rand.AdaptedRandError-(1-2*0.5/1.5)) > 1e-12 {
		t.Errorf("unexpected adapted Rand error %g", rand.AdaptedRandError)
	}

	// 6 pairs of 4 voxels; the two within-half pairs agree
	if rand.NumPairs != 6 {
		t.Errorf("expected 6 pairs, got %g", rand.NumPairs)
	}
	if rand.NumAgreeingPairs != 2 {
		t.Errorf("expected 2 agreeing pairs, got %g", rand.NumAgreeingPairs)
	}
}

// TestDetectionOverlapMatch verifies the matching and the per-match area
// measures.
func TestDetectionOverlapMatch(t *testing.T) {
	gt := makeVolume([][]models.Label{
		{1, 1, 0, 0},
		{1, 1, 0, 0},
		{0, 0, 0, 2},
	})
	rec := makeVolume([][]models.Label{
		{7, 7, 0, 0},
		{7, 0, 0, 0},
		{0, 0, 0, 0},
	})

	do, err := DetectionOverlap(gt, rec)
	if err != nil {
		t.Fatalf("DetectionOverlap failed: %v", err)
	}

	if len(do.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(do.Matches))
	}
	m := do.Matches[0]
	if m.GTLabel != 1 || m.RecLabel != 7 {
		t.Errorf("expected match (1, 7), got (%d, %d)", m.GTLabel, m.RecLabel)
	}
	// overlap 3 of union 4, gt size 4, rec size 3
	if math.Abs(m.M1-75) > 1e-9 {
		t.Errorf("expected M1 = 75, got %g", m.M1)
	}
	if math.Abs(m.M2-75) > 1e-9 {
		t.Errorf("expected M2 = 75, got %g", m.M2)
	}
	if math.Abs(m.Dice-6.0/7.0) > 1e-9 {
		t.Errorf("expected Dice 6/7, got %g", m.Dice)
	}

	// gt region 2 has no overlapping partner
	if len(do.FalseNegatives) != 1 || do.FalseNegatives[0] != 2 {
		t.Errorf("expected false negatives {2}, got %v", do.FalseNegatives)
	}
	if len(do.FalsePositives) != 0 {
		t.Errorf("expected no false positives, got %v", do.FalsePositives)
	}
}

// TestDetectionOverlapOneToOne verifies that a region is matched at most
// once even when it overlaps two partners.
func TestDetectionOverlapOneToOne(t *testing.T) {
	gt := makeVolume([][]models.Label{
		{1, 1, 1, 1, 1, 1},
	})
	rec := makeVolume([][]models.Label{
		{7, 7, 7, 8, 8, 8},
	})

	do, err := DetectionOverlap(gt, rec)
	if err != nil {
		t.Fatalf("DetectionOverlap failed: %v", err)
	}

	if len(do.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(do.Matches))
	}
	if len(do.FalsePositives) != 1 {
		t.Errorf("expected 1 unmatched reconstruction region, got %v", do.FalsePositives)
	}
	if len(do.FalseNegatives) != 0 {
		t.Errorf("expected no false negatives, got %v", do.FalseNegatives)
	}
}

// TestDetectionOverlapRejectsStacks verifies the 2D-only restriction.
func TestDetectionOverlapRejectsStacks(t *testing.T) {
	gt := models.NewVolume(2, 2, 2, models.DefaultResolution())
	rec := models.NewVolume(2, 2, 2, models.DefaultResolution())

	if _, err := DetectionOverlap(gt, rec); !errors.Is(err, models.ErrUsage) {
		t.Errorf("expected ErrUsage, got %v", err)
	}
}
