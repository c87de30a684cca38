package measures

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"tedeval/internal/models"
	"tedeval/pkg/solver"
)

// OverlapMatch is one matched region pair of the detection overlap measure.
type OverlapMatch struct {
	GTLabel  models.Label
	RecLabel models.Label

	// M1 is the intersection over union of the two regions, in percent.
	M1 float64

	// M2 is the fraction of the ground-truth region that is covered, in
	// percent.
	M2 float64

	// Dice is the Dice coefficient of the two regions.
	Dice float64
}

// DetectionOverlapErrors holds the one-to-one region matching of the
// detection overlap measure.
type DetectionOverlapErrors struct {
	Matches []OverlapMatch

	// FalsePositives are reconstruction regions without a match.
	FalsePositives []models.Label

	// FalseNegatives are ground-truth regions without a match.
	FalseNegatives []models.Label
}

// MeanDice returns the mean Dice coefficient over all matches, zero if there
// are none.
func (e *DetectionOverlapErrors) MeanDice() float64 {
	if len(e.Matches) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range e.Matches {
		sum += m.Dice
	}
	return sum / float64(len(e.Matches))
}

// Header returns the tab-separated column header of the measure.
func (e *DetectionOverlapErrors) Header() string {
	return "DO_FP\tDO_FN\tDO_MATCHES\tDO_MEAN_DICE"
}

// TSVLine returns the measure as a single tab-separated line matching Header.
func (e *DetectionOverlapErrors) TSVLine() string {
	return fmt.Sprintf("%d\t%d\t%d\t%.5e",
		len(e.FalsePositives), len(e.FalseNegatives), len(e.Matches), e.MeanDice())
}

// HumanReadable returns a one-line summary for console output.
func (e *DetectionOverlapErrors) HumanReadable() string {
	return fmt.Sprintf("DO FP: %d, DO FN: %d, DO matches: %d, DO mean Dice: %.5f",
		len(e.FalsePositives), len(e.FalseNegatives), len(e.Matches), e.MeanDice())
}

// region is the accumulated center and size of one label.
type region struct {
	sumX, sumY float64
	size       float64
}

// DetectionOverlap matches ground-truth and reconstruction regions one to
// one, preferring overlapping pairs with close centers, and reports area
// overlap measures per match plus the unmatched regions on both sides. The
// matching itself is a small ILP over the overlap pairs. Label 0 is treated
// as background on both sides. Only single 2D images are accepted.
func DetectionOverlap(gt, rec *models.Volume) (*DetectionOverlapErrors, error) {
	if !gt.SameShape(rec) {
		return nil, fmt.Errorf("computing detection overlap: %w", models.ErrShapeMismatch)
	}
	if gt.Depth != 1 {
		return nil, fmt.Errorf("detection overlap only accepts single 2D images, got depth %d: %w",
			gt.Depth, models.ErrUsage)
	}

	gtRegions := collectRegions(gt)
	recRegions := collectRegions(rec)

	log.Debug().
		Int("gt_regions", len(gtRegions)).
		Int("rec_regions", len(recRegions)).
		Msg("matching regions by overlap")

	// overlap areas of co-located region pairs
	type pair struct{ gt, rec models.Label }
	overlapAreas := make(map[pair]float64)
	for i, gtLabel := range gt.Data {
		recLabel := rec.Data[i]
		if gtLabel == 0 || recLabel == 0 {
			continue
		}
		overlapAreas[pair{gt: gtLabel, rec: recLabel}]++
	}

	pairs := make([]pair, 0, len(overlapAreas))
	for p := range overlapAreas {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].gt != pairs[j].gt {
			return pairs[i].gt < pairs[j].gt
		}
		return pairs[i].rec < pairs[j].rec
	})

	errors := &DetectionOverlapErrors{}

	if len(pairs) > 0 {

		// score each candidate match by center distance, kept strictly
		// positive so that the ILP breaks ties; shifting by the largest
		// score makes selecting a match always profitable
		scores := make([]float64, len(pairs))
		maxScore := 0.0
		for i, p := range pairs {
			g := gtRegions[p.gt]
			r := recRegions[p.rec]
			dx := g.sumX/g.size - r.sumX/r.size
			dy := g.sumY/g.size - r.sumY/r.size
			score := math.Max(0.5, math.Sqrt(dx*dx+dy*dy))
			scores[i] = score
			maxScore = math.Max(maxScore, score)
		}
		for i := range scores {
			scores[i] -= maxScore * 1.1
		}

		// every region can map to at most one other
		var constraints []solver.Constraint
		byGt := make(map[models.Label][]int)
		byRec := make(map[models.Label][]int)
		for i, p := range pairs {
			byGt[p.gt] = append(byGt[p.gt], i)
			byRec[p.rec] = append(byRec[p.rec], i)
		}
		for _, label := range sortedRegionLabels(byGt) {
			c := solver.NewConstraint(solver.LessEqual, 1)
			for _, v := range byGt[label] {
				c.SetCoefficient(v, 1)
			}
			constraints = append(constraints, c)
		}
		for _, label := range sortedRegionLabels(byRec) {
			c := solver.NewConstraint(solver.LessEqual, 1)
			for _, v := range byRec[label] {
				c.SetCoefficient(v, 1)
			}
			constraints = append(constraints, c)
		}

		objective := solver.NewObjective()
		for i, score := range scores {
			objective.SetCoefficient(i, score)
		}

		backend := solver.NewBackend(solver.Options{})
		if err := backend.Initialize(len(pairs), solver.Binary, nil); err != nil {
			return nil, err
		}
		if err := backend.SetObjective(objective); err != nil {
			return nil, err
		}
		if err := backend.SetConstraints(constraints); err != nil {
			return nil, err
		}
		solution, err := backend.Solve()
		if err != nil {
			return nil, err
		}

		matchedGt := make(map[models.Label]bool)
		matchedRec := make(map[models.Label]bool)
		for i, p := range pairs {
			if solution.Values[i] < 0.5 {
				continue
			}
			matchedGt[p.gt] = true
			matchedRec[p.rec] = true

			inter := overlapAreas[p]
			union := gtRegions[p.gt].size + recRegions[p.rec].size - inter

			errors.Matches = append(errors.Matches, OverlapMatch{
				GTLabel:  p.gt,
				RecLabel: p.rec,
				M1:       inter / union * 100,
				M2:       inter / gtRegions[p.gt].size * 100,
				Dice:     2 * inter / (gtRegions[p.gt].size + recRegions[p.rec].size),
			})
		}

		for _, label := range sortedRegionLabels(gtRegions) {
			if !matchedGt[label] {
				errors.FalseNegatives = append(errors.FalseNegatives, label)
			}
		}
		for _, label := range sortedRegionLabels(recRegions) {
			if !matchedRec[label] {
				errors.FalsePositives = append(errors.FalsePositives, label)
			}
		}

	} else {

		for _, label := range sortedRegionLabels(gtRegions) {
			errors.FalseNegatives = append(errors.FalseNegatives, label)
		}
		for _, label := range sortedRegionLabels(recRegions) {
			errors.FalsePositives = append(errors.FalsePositives, label)
		}
	}

	return errors, nil
}

// collectRegions accumulates center and size per non-background label.
func collectRegions(v *models.Volume) map[models.Label]*region {
	regions := make(map[models.Label]*region)
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			label := v.At(x, y, 0)
			if label == 0 {
				continue
			}
			r, ok := regions[label]
			if !ok {
				r = &region{}
				regions[label] = r
			}
			r.sumX += float64(x)
			r.sumY += float64(y)
			r.size++
		}
	}
	return regions
}

func sortedRegionLabels[V any](m map[models.Label]V) []models.Label {
	labels := make([]models.Label, 0, len(m))
	for l := range m {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}
