// Package measures provides the auxiliary comparison measures reported next
// to the tolerant edit distance: variation of information, adapted Rand
// error, and detection overlap.
package measures

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"tedeval/internal/models"
)

// VOIErrors holds the conditional entropies of the variation of information,
// in bits.
type VOIErrors struct {
	// SplitEntropy is H(reconstruction | ground truth): the information
	// needed to infer the reconstruction label of a voxel given its ground
	// truth label. It grows when ground-truth regions get split.
	SplitEntropy float64

	// MergeEntropy is H(ground truth | reconstruction): it grows when
	// ground-truth regions get merged.
	MergeEntropy float64
}

// Entropy returns the variation of information, the sum of both conditional
// entropies.
func (e *VOIErrors) Entropy() float64 {
	return e.SplitEntropy + e.MergeEntropy
}

// Header returns the tab-separated column header of the measure.
func (e *VOIErrors) Header() string {
	return "VOI_SPLIT\tVOI_MERGE"
}

// TSVLine returns the measure as a single tab-separated line matching Header.
func (e *VOIErrors) TSVLine() string {
	return fmt.Sprintf("%.5e\t%.5e", e.SplitEntropy, e.MergeEntropy)
}

// HumanReadable returns a one-line summary for console output.
func (e *VOIErrors) HumanReadable() string {
	return fmt.Sprintf("VOI split: %.5f, VOI merge: %.5f, VOI total: %.5f",
		e.SplitEntropy, e.MergeEntropy, e.Entropy())
}

// VariationOfInformation computes the conditional entropies between the
// ground-truth and reconstruction labelings. If ignoreBackground is set,
// voxels with ground-truth label 0 do not contribute.
func VariationOfInformation(gt, rec *models.Volume, ignoreBackground bool) (*VOIErrors, error) {
	if !gt.SameShape(rec) {
		return nil, fmt.Errorf("computing variation of information: %w", models.ErrShapeMismatch)
	}

	recCounts := make(map[models.Label]float64)
	gtCounts := make(map[models.Label]float64)
	jointCounts := make(map[[2]models.Label]float64)

	n := 0.0
	for i, gtLabel := range gt.Data {
		if ignoreBackground && gtLabel == 0 {
			continue
		}
		recLabel := rec.Data[i]
		recCounts[recLabel]++
		gtCounts[gtLabel]++
		jointCounts[[2]models.Label{recLabel, gtLabel}]++
		n++
	}

	if n == 0 {
		return &VOIErrors{}, nil
	}

	hRec := distributionEntropy(recCounts, n)
	hGt := distributionEntropy(gtCounts, n)

	joint := make([]float64, 0, len(jointCounts))
	for _, c := range jointCounts {
		joint = append(joint, c/n)
	}
	hJoint := stat.Entropy(joint) / math.Ln2

	return &VOIErrors{
		SplitEntropy: hJoint - hGt,
		MergeEntropy: hJoint - hRec,
	}, nil
}

// distributionEntropy returns the entropy of a label count distribution in
// bits.
func distributionEntropy(counts map[models.Label]float64, n float64) float64 {
	p := make([]float64, 0, len(counts))
	for _, c := range counts {
		p = append(p, c/n)
	}
	return stat.Entropy(p) / math.Ln2
}
