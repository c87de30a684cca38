package cells

import (
	"errors"
	"testing"

	"tedeval/internal/models"
)

func makeVolume(frames [][][]models.Label) *models.Volume {
	depth := len(frames)
	height := len(frames[0])
	width := len(frames[0][0])
	v := models.NewVolume(width, height, depth, models.DefaultResolution())
	for z, frame := range frames {
		for y, row := range frame {
			for x, label := range row {
				v.Set(x, y, z, label)
			}
		}
	}
	return v
}

// TestExtractPartition verifies that the extracted cells partition the volume
// and that labels are constant within each cell.
func TestExtractPartition(t *testing.T) {
	gt := makeVolume([][][]models.Label{{
		{1, 1, 2, 2},
		{1, 3, 3, 2},
	}})
	rec := makeVolume([][][]models.Label{{
		{1, 1, 1, 2},
		{4, 4, 1, 2},
	}})

	cs, err := Extract(gt, rec)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	total := 0
	seen := make(map[models.Location]bool)
	for _, cell := range cs {
		if cell.Size() == 0 {
			t.Errorf("extracted an empty cell")
		}
		total += cell.Size()
		for _, l := range cell.Locations {
			if seen[l] {
				t.Errorf("location %v belongs to more than one cell", l)
			}
			seen[l] = true

			if gt.At(l.X, l.Y, l.Z) != cell.GTLabel {
				t.Errorf("location %v: gt label %d differs from cell label %d",
					l, gt.At(l.X, l.Y, l.Z), cell.GTLabel)
			}
			if rec.At(l.X, l.Y, l.Z) != cell.RecLabel {
				t.Errorf("location %v: rec label %d differs from cell label %d",
					l, rec.At(l.X, l.Y, l.Z), cell.RecLabel)
			}
		}
	}

	if total != gt.NumVoxels() {
		t.Errorf("cell sizes sum to %d, expected %d", total, gt.NumVoxels())
	}
}

// TestExtractDiagonalConnectivity verifies the 26-neighbourhood: two voxels
// touching only at a corner still form one cell.
func TestExtractDiagonalConnectivity(t *testing.T) {
	gt := makeVolume([][][]models.Label{{
		{1, 0},
		{0, 1},
	}})
	rec := gt.Clone()

	cs, err := Extract(gt, rec)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// one diagonal cell of label 1 and two background corners, which are
	// also corner-connected to each other
	if len(cs) != 2 {
		t.Fatalf("expected 2 cells, got %d", len(cs))
	}

	bySize := map[models.Label]int{}
	for _, cell := range cs {
		bySize[cell.GTLabel] += cell.Size()
	}
	if bySize[1] != 2 || bySize[0] != 2 {
		t.Errorf("unexpected cell sizes per label: %v", bySize)
	}
}

// TestExtractAcrossFrames verifies 3D connectivity between adjacent frames.
func TestExtractAcrossFrames(t *testing.T) {
	gt := makeVolume([][][]models.Label{
		{{1, 1}},
		{{1, 1}},
	})
	rec := gt.Clone()

	cs, err := Extract(gt, rec)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(cs) != 1 {
		t.Errorf("expected one cell spanning both frames, got %d", len(cs))
	}
	if cs[0].Size() != 4 {
		t.Errorf("expected cell size 4, got %d", cs[0].Size())
	}
}

// TestExtractPairConstancy verifies that equal labels in one volume still
// split into separate cells when the other volume differs.
func TestExtractPairConstancy(t *testing.T) {
	gt := makeVolume([][][]models.Label{{
		{1, 1, 1, 1},
	}})
	rec := makeVolume([][][]models.Label{{
		{2, 2, 3, 3},
	}})

	cs, err := Extract(gt, rec)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(cs) != 2 {
		t.Errorf("expected 2 cells, got %d", len(cs))
	}
}

// TestExtractShapeMismatch verifies the error kind for differently shaped
// inputs.
func TestExtractShapeMismatch(t *testing.T) {
	gt := makeVolume([][][]models.Label{{{1, 1}}})
	rec := makeVolume([][][]models.Label{{{1, 1, 1}}})

	if _, err := Extract(gt, rec); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

// TestExtractEmpty verifies that empty volumes yield an empty cell list.
func TestExtractEmpty(t *testing.T) {
	gt := models.NewVolume(0, 0, 0, models.DefaultResolution())
	rec := models.NewVolume(0, 0, 0, models.DefaultResolution())

	cs, err := Extract(gt, rec)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(cs) != 0 {
		t.Errorf("expected no cells, got %d", len(cs))
	}
}

// TestExtractForeground verifies the foreground relabeling: 6-connected
// components get fresh labels, diagonal contact does not join them.
func TestExtractForeground(t *testing.T) {
	mask := makeVolume([][][]models.Label{{
		{7, 0, 0},
		{0, 7, 7},
		{0, 7, 0},
	}})

	regions := ExtractForeground(mask, 0)

	if got := regions.At(0, 0, 0); got != 1 {
		t.Errorf("expected first region label 1, got %d", got)
	}
	second := regions.At(1, 1, 0)
	if second != 2 {
		t.Errorf("expected second region label 2, got %d", second)
	}
	if regions.At(2, 1, 0) != second || regions.At(1, 2, 0) != second {
		t.Errorf("face-connected foreground split into separate regions")
	}
	if regions.At(0, 1, 0) != 0 {
		t.Errorf("background voxel was labeled %d", regions.At(0, 1, 0))
	}
}

// TestCellPossibleLabels verifies the possible-label set operations.
func TestCellPossibleLabels(t *testing.T) {
	cell := NewCell(1, 2)
	cell.AddPossibleLabel(2)
	cell.AddPossibleLabel(9)
	cell.AddPossibleLabel(4)
	cell.AddPossibleLabel(9)

	labels := cell.PossibleLabels()
	if len(labels) != 3 || labels[0] != 2 || labels[1] != 4 || labels[2] != 9 {
		t.Errorf("unexpected possible labels %v", labels)
	}

	alternatives := cell.AlternativeLabels()
	if len(alternatives) != 2 || alternatives[0] != 4 || alternatives[1] != 9 {
		t.Errorf("unexpected alternative labels %v", alternatives)
	}

	if !cell.HasPossibleLabel(4) || cell.HasPossibleLabel(5) {
		t.Errorf("HasPossibleLabel gave wrong answers")
	}
}
