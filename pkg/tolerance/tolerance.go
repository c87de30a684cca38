// Package tolerance implements the tolerance criteria that decide which
// reconstruction labels a cell may legally take on. Two variants exist: a
// distance criterion for volumetric ground truth and a skeleton criterion for
// curvilinear ground truth. Both share the same base algorithm and differ only
// in how cells are initialized and which cells are considered for relabeling.
package tolerance

import (
	"tedeval/internal/models"
	"tedeval/pkg/cells"
)

// Func assigns relabel alternatives to each cell independently. After a
// successful call every cell's possible-label set is non-empty.
type Func interface {
	// FindPossibleCellLabels mutates the possible-label sets of the given
	// cells based on the reconstruction and ground-truth volumes.
	FindPossibleCellLabels(cs []*cells.Cell, gt, rec *models.Volume) error
}
