// Package ted computes the tolerant edit distance between a ground-truth and
// a reconstruction label volume: the minimum number of split and merge
// operations needed to reconcile the two segmentations once every
// reconstruction boundary may shift up to a distance threshold.
package ted

import (
	"fmt"
	"sort"
	"time"

	"tedeval/internal/models"
	"tedeval/pkg/cells"
)

// cellMap is a sparse confusion matrix: label -> partner label -> set of
// contributing cell indices.
type cellMap map[models.Label]map[models.Label]map[int]struct{}

func (m cellMap) add(a, b models.Label, cellIndex int) {
	partners, ok := m[a]
	if !ok {
		partners = make(map[models.Label]map[int]struct{})
		m[a] = partners
	}
	set, ok := partners[b]
	if !ok {
		set = make(map[int]struct{})
		partners[b] = set
	}
	set[cellIndex] = struct{}{}
}

// Match is one entry of the label confusion matrix of the solved assignment.
type Match struct {
	GTLabel  models.Label
	RecLabel models.Label

	// Overlap is the number of voxels shared by the two labels.
	Overlap int
}

// LocationError is one split or merge error pinned to a volume location. For
// a split, Label is the split ground-truth label and From/To are the two
// reconstruction partners whose closest gap the record describes; merges are
// symmetric with reconstruction and ground truth swapped.
type LocationError struct {
	Label    models.Label
	From     models.Label
	To       models.Label
	Distance float64
	Midpoint models.Location

	// Size is the voxel count of the partner being attached.
	Size int
}

// Errors represents split and merge (and optionally false positive and false
// negative) errors between a ground truth and a reconstruction, based on a
// mapping of cells to reconstruction labels.
type Errors struct {
	cells []*cells.Cell

	// sparse ground-truth/reconstruction confusion matrices
	byGtToRec cellMap
	byRecToGt cellMap

	// subset of the confusion matrices without one-to-one mappings
	splits cellMap
	merges cellMap

	numSplits         int
	numMerges         int
	numFalsePositives int
	numFalseNegatives int

	haveBackground bool
	gtBackground   models.Label
	recBackground  models.Label

	dirty bool

	// Corrected is the reconstruction with every cell painted with its
	// chosen label. Nil until the solver produced a feasible solution.
	Corrected *models.Volume

	// SplitErrors and MergeErrors are optional per-error location records.
	SplitErrors []LocationError
	MergeErrors []LocationError

	// SolverTime is the wall time spent in the MILP backend, NumVariables
	// the size of the solved program.
	SolverTime   time.Duration
	NumVariables int

	// TimedOut is set when the solver returned its best incumbent instead
	// of a proven optimum.
	TimedOut bool
}

// NewErrors creates an empty errors data structure without background
// semantics, i.e. without false positives and false negatives.
func NewErrors() *Errors {
	return &Errors{
		byGtToRec: make(cellMap),
		byRecToGt: make(cellMap),
		dirty:     true,
	}
}

// NewErrorsWithBackground creates an empty errors data structure for the
// given background labels; splits of the ground-truth background become false
// positives and merges into the reconstruction background false negatives.
func NewErrorsWithBackground(gtBackground, recBackground models.Label) *Errors {
	e := NewErrors()
	e.haveBackground = true
	e.gtBackground = gtBackground
	e.recBackground = recBackground
	return e
}

// HasBackground reports whether background semantics are enabled.
func (e *Errors) HasBackground() bool {
	return e.haveBackground
}

// SetCells sets the cell list the mappings refer to. Must be called before
// AddMapping or Overlap.
func (e *Errors) SetCells(cs []*cells.Cell) {
	e.cells = cs
	e.byGtToRec = make(cellMap)
	e.byRecToGt = make(cellMap)
	e.dirty = true
}

// AddMapping registers that the cell at cellIndex was assigned recLabel.
func (e *Errors) AddMapping(cellIndex int, recLabel models.Label) error {
	if e.cells == nil {
		return fmt.Errorf("cells need to be set before adding mappings: %w", models.ErrUsage)
	}

	gtLabel := e.cells[cellIndex].GTLabel

	e.byRecToGt.add(recLabel, gtLabel, cellIndex)
	e.byGtToRec.add(gtLabel, recLabel, cellIndex)
	e.dirty = true

	return nil
}

// Matches returns the confusion matrix of the solved assignment, ordered by
// ground-truth then reconstruction label.
func (e *Errors) Matches() []Match {
	var matches []Match
	for _, gtLabel := range sortedLabels(e.byGtToRec) {
		for _, recLabel := range sortedPartnerLabels(e.byGtToRec[gtLabel]) {
			matches = append(matches, Match{
				GTLabel:  gtLabel,
				RecLabel: recLabel,
				Overlap:  e.Overlap(gtLabel, recLabel),
			})
		}
	}
	return matches
}

// Overlap returns the number of voxels shared by the given ground-truth and
// reconstruction label in the solved assignment.
func (e *Errors) Overlap(gtLabel, recLabel models.Label) int {
	partners, ok := e.byGtToRec[gtLabel]
	if !ok {
		return 0
	}
	overlap := 0
	for cellIndex := range partners[recLabel] {
		overlap += e.cells[cellIndex].Size()
	}
	return overlap
}

// NumSplits returns the number of split errors, excluding background splits
// when background semantics are enabled.
func (e *Errors) NumSplits() int {
	e.updateErrorCounts()
	return e.numSplits
}

// NumMerges returns the number of merge errors, excluding background merges
// when background semantics are enabled.
func (e *Errors) NumMerges() int {
	e.updateErrorCounts()
	return e.numMerges
}

// NumFalsePositives returns the partner surplus of the ground-truth
// background: the number of reconstruction labels it maps to, minus one.
// Zero without background semantics.
func (e *Errors) NumFalsePositives() int {
	e.updateErrorCounts()
	return e.numFalsePositives
}

// NumFalseNegatives returns the partner surplus of the reconstruction
// background: the number of ground-truth labels it maps to, minus one.
// Zero without background semantics.
func (e *Errors) NumFalseNegatives() int {
	e.updateErrorCounts()
	return e.numFalseNegatives
}

// NumErrors returns the sum of all error counts.
func (e *Errors) NumErrors() int {
	return e.NumSplits() + e.NumMerges() + e.NumFalsePositives() + e.NumFalseNegatives()
}

// SplitLabels returns all ground-truth labels that got split, excluding the
// background when background semantics are enabled.
func (e *Errors) SplitLabels() []models.Label {
	e.updateErrorCounts()
	var labels []models.Label
	for _, l := range sortedLabels(e.splits) {
		if e.haveBackground && l == e.gtBackground {
			continue
		}
		labels = append(labels, l)
	}
	return labels
}

// MergeLabels returns all reconstruction labels that merge several ground
// truth labels, excluding the background when background semantics are
// enabled.
func (e *Errors) MergeLabels() []models.Label {
	e.updateErrorCounts()
	var labels []models.Label
	for _, l := range sortedLabels(e.merges) {
		if e.haveBackground && l == e.recBackground {
			continue
		}
		labels = append(labels, l)
	}
	return labels
}

// Splits returns the reconstruction labels that split the given ground-truth
// label.
func (e *Errors) Splits(gtLabel models.Label) []models.Label {
	e.updateErrorCounts()
	return sortedPartnerLabels(e.splits[gtLabel])
}

// Merges returns the ground-truth labels that the given reconstruction label
// merges.
func (e *Errors) Merges(recLabel models.Label) []models.Label {
	e.updateErrorCounts()
	return sortedPartnerLabels(e.merges[recLabel])
}

// SplitCells returns, per partnering reconstruction label, the sorted indices
// of the cells splitting the given ground-truth label.
func (e *Errors) SplitCells(gtLabel models.Label) map[models.Label][]int {
	e.updateErrorCounts()
	return partnerCells(e.splits[gtLabel])
}

// MergeCells returns, per partnering ground-truth label, the sorted indices
// of the cells the given reconstruction label merges.
func (e *Errors) MergeCells(recLabel models.Label) map[models.Label][]int {
	e.updateErrorCounts()
	return partnerCells(e.merges[recLabel])
}

// FalsePositives returns the reconstruction labels, other than the
// reconstruction background, that the ground-truth background maps to. Such a
// label may also cover foreground ground-truth voxels.
func (e *Errors) FalsePositives() ([]models.Label, error) {
	if !e.haveBackground {
		return nil, fmt.Errorf("no background label set, cannot give false positives: %w", models.ErrUsage)
	}
	e.updateErrorCounts()
	var labels []models.Label
	for _, l := range sortedPartnerLabels(e.splits[e.gtBackground]) {
		if l != e.recBackground {
			labels = append(labels, l)
		}
	}
	return labels, nil
}

// FalseNegatives returns the ground-truth labels that map to the
// reconstruction background.
func (e *Errors) FalseNegatives() ([]models.Label, error) {
	if !e.haveBackground {
		return nil, fmt.Errorf("no background label set, cannot give false negatives: %w", models.ErrUsage)
	}
	e.updateErrorCounts()
	var labels []models.Label
	for _, l := range sortedPartnerLabels(e.merges[e.recBackground]) {
		if l != e.gtBackground {
			labels = append(labels, l)
		}
	}
	return labels, nil
}

// FalsePositiveCells returns the cells of every false positive region, keyed
// by reconstruction label.
func (e *Errors) FalsePositiveCells() (map[models.Label][]int, error) {
	if !e.haveBackground {
		return nil, fmt.Errorf("no background label set, cannot give false positives: %w", models.ErrUsage)
	}
	e.updateErrorCounts()
	return partnerCells(e.splits[e.gtBackground]), nil
}

// FalseNegativeCells returns the cells of every false negative region, keyed
// by ground-truth label.
func (e *Errors) FalseNegativeCells() (map[models.Label][]int, error) {
	if !e.haveBackground {
		return nil, fmt.Errorf("no background label set, cannot give false negatives: %w", models.ErrUsage)
	}
	e.updateErrorCounts()
	return partnerCells(e.merges[e.recBackground]), nil
}

// Header returns the tab-separated column header of the persisted report
// schema.
func (e *Errors) Header() string {
	return "TED_FP\tTED_FN\tTED_FS\tTED_FM\tTED_SUM"
}

// TSVLine returns the report as a single tab-separated line matching Header.
func (e *Errors) TSVLine() string {
	return fmt.Sprintf("%d\t%d\t%d\t%d\t%d",
		e.NumFalsePositives(),
		e.NumFalseNegatives(),
		e.NumSplits(),
		e.NumMerges(),
		e.NumErrors())
}

// HumanReadable returns a one-line summary for console output.
func (e *Errors) HumanReadable() string {
	return fmt.Sprintf("TED FP: %d, TED FN: %d, TED FS: %d, TED FM: %d, TED Total: %d",
		e.NumFalsePositives(),
		e.NumFalseNegatives(),
		e.NumSplits(),
		e.NumMerges(),
		e.NumErrors())
}

// Cells returns the cell list the mappings refer to.
func (e *Errors) Cells() []*cells.Cell {
	return e.cells
}

func (e *Errors) updateErrorCounts() {
	if !e.dirty {
		return
	}
	e.dirty = false

	e.numSplits = 0
	e.numMerges = 0
	e.numFalsePositives = 0
	e.numFalseNegatives = 0
	e.splits = make(cellMap)
	e.merges = make(cellMap)

	e.findSplits(e.byGtToRec, e.splits, &e.numSplits, &e.numFalsePositives, e.gtBackground)
	e.findSplits(e.byRecToGt, e.merges, &e.numMerges, &e.numFalseNegatives, e.recBackground)
}

// findSplits collects every label with two or more partners. Partners of the
// background label count as false positives (gt side) or false negatives
// (rec side) when background semantics are enabled.
func (e *Errors) findSplits(confusion, splits cellMap, numSplits, numFalse *int, background models.Label) {
	for label, partners := range confusion {
		if len(partners) == 1 {
			continue
		}

		splits[label] = partners

		if e.haveBackground && label == background {
			*numFalse += len(partners) - 1
		} else {
			*numSplits += len(partners) - 1
		}
	}
}

func sortedLabels(m cellMap) []models.Label {
	labels := make([]models.Label, 0, len(m))
	for l := range m {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

func sortedPartnerLabels(partners map[models.Label]map[int]struct{}) []models.Label {
	labels := make([]models.Label, 0, len(partners))
	for l := range partners {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

func partnerCells(partners map[models.Label]map[int]struct{}) map[models.Label][]int {
	out := make(map[models.Label][]int, len(partners))
	for label, set := range partners {
		indices := make([]int, 0, len(set))
		for i := range set {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		out[label] = indices
	}
	return out
}
