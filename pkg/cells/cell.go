// Package cells provides the joint connected-component decomposition of a
// ground-truth / reconstruction volume pair into cells, the atomic units of
// relabeling during the evaluation.
package cells

import (
	"sort"

	"tedeval/internal/models"
)

// Cell is a maximal 3D-connected set of voxel locations on which the pair of
// ground-truth and reconstruction labels is constant. Cells are annotated
// with the set of reconstruction labels they may be relabeled to according to
// an external tolerance criterion.
type Cell struct {
	// GTLabel is the ground-truth label shared by all locations of the cell.
	GTLabel models.Label

	// RecLabel is the original reconstruction label shared by all locations.
	// The skeleton tolerance may rewrite it to models.IgnoreLabel.
	RecLabel models.Label

	// Locations are the voxel positions that constitute the cell.
	Locations []models.Location

	// possible is the set of reconstruction labels this cell may take on.
	possible map[models.Label]struct{}
}

// NewCell creates an empty cell with the given initial labels.
func NewCell(gtLabel, recLabel models.Label) *Cell {
	return &Cell{
		GTLabel:  gtLabel,
		RecLabel: recLabel,
		possible: make(map[models.Label]struct{}),
	}
}

// Add appends a location to the cell.
func (c *Cell) Add(l models.Location) {
	c.Locations = append(c.Locations, l)
}

// Size returns the number of locations in the cell.
func (c *Cell) Size() int {
	return len(c.Locations)
}

// AddPossibleLabel records a reconstruction label the cell may be relabeled to.
func (c *Cell) AddPossibleLabel(label models.Label) {
	c.possible[label] = struct{}{}
}

// ClearPossibleLabels removes all possible labels. Used by the skeleton
// tolerance when hard-wiring non-skeleton cells to the ignore label.
func (c *Cell) ClearPossibleLabels() {
	c.possible = make(map[models.Label]struct{})
}

// HasPossibleLabel reports whether the given label is in the possible set.
func (c *Cell) HasPossibleLabel(label models.Label) bool {
	_, ok := c.possible[label]
	return ok
}

// PossibleLabels returns the possible labels in ascending order.
func (c *Cell) PossibleLabels() []models.Label {
	labels := make([]models.Label, 0, len(c.possible))
	for l := range c.possible {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// AlternativeLabels returns the possible labels other than the cell's current
// reconstruction label, in ascending order.
func (c *Cell) AlternativeLabels() []models.Label {
	labels := make([]models.Label, 0, len(c.possible))
	for l := range c.possible {
		if l != c.RecLabel {
			labels = append(labels, l)
		}
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}
