package tolerance

import (
	"tedeval/internal/models"
	"tedeval/pkg/cells"
)

// Skeleton is the tolerance criterion for curvilinear ground truth. Cells
// whose ground-truth label is background do not belong to the skeleton: their
// labels are hard-wired to the ignore sentinel and they never participate in
// relabeling. Skeleton cells are handled by the distance criterion unchanged.
// Background appearance is disallowed in this mode.
type Skeleton struct {
	*Distance

	gtBackground models.Label
}

// NewSkeleton creates a skeleton tolerance criterion with the given distance
// threshold in physical units.
func NewSkeleton(threshold float64, gtBackground, recBackground models.Label, workers int) *Skeleton {
	s := &Skeleton{
		Distance:     NewDistance(threshold, false, recBackground, workers),
		gtBackground: gtBackground,
	}
	s.Distance.initLabels = s.initCellLabels
	s.Distance.candidates = s.findRelabelCandidates
	return s
}

// initCellLabels rewrites non-skeleton cells to the ignore label; skeleton
// cells keep their original reconstruction label as a possible label.
func (s *Skeleton) initCellLabels(cs []*cells.Cell) {
	for _, cell := range cs {
		if s.isSkeletonCell(cell) {
			cell.AddPossibleLabel(cell.RecLabel)
			continue
		}
		cell.GTLabel = models.IgnoreLabel
		cell.RecLabel = models.IgnoreLabel
		cell.ClearPossibleLabels()
		cell.AddPossibleLabel(models.IgnoreLabel)
	}
}

// findRelabelCandidates considers every skeleton cell, regardless of its
// boundary distance.
func (s *Skeleton) findRelabelCandidates(cs []*cells.Cell, maxBoundaryDist2 []float64) []int {
	var candidates []int
	for i, cell := range cs {
		if cell.GTLabel != models.IgnoreLabel {
			candidates = append(candidates, i)
		}
	}
	return candidates
}

// isSkeletonCell reports whether the cell lies on the skeleton, i.e. its
// ground-truth label is not the background.
func (s *Skeleton) isSkeletonCell(cell *cells.Cell) bool {
	return cell.GTLabel != s.gtBackground
}
