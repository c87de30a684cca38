package tolerance

import (
	"math"
	"runtime"
	"sort"

	"github.com/rs/zerolog/log"

	"tedeval/internal/models"
	"tedeval/pkg/cells"
)

// Distance is the tolerance criterion for volumetric ground truth: a cell may
// take an alternative reconstruction label l iff every one of its voxels lies
// within the distance threshold (in physical units) of some reconstruction
// boundary voxel labeled l.
type Distance struct {
	threshold                 float64
	allowBackgroundAppearance bool
	recBackground             models.Label
	workers                   int

	width, height, depth int
	res                  models.Resolution

	// distance threshold in voxels per axis
	maxDX, maxDY, maxDZ int

	boundary []bool

	// overridable hooks shared with the skeleton criterion
	initLabels func(cs []*cells.Cell)
	candidates func(cs []*cells.Cell, maxBoundaryDist2 []float64) []int
}

// NewDistance creates a distance tolerance criterion.
//
// threshold is the maximum allowed boundary shift in physical units. If
// allowBackgroundAppearance is set, a cell that has at least one alternative
// label may additionally take the reconstruction background label: two
// tolerated boundary shifts in opposing directions can expose a sliver of
// background between two foreground regions. workers caps the number of
// goroutines used for the data-parallel phases; zero means one per CPU.
func NewDistance(threshold float64, allowBackgroundAppearance bool, recBackground models.Label, workers int) *Distance {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	d := &Distance{
		threshold:                 threshold,
		allowBackgroundAppearance: allowBackgroundAppearance,
		recBackground:             recBackground,
		workers:                   workers,
	}
	d.initLabels = d.initCellLabels
	d.candidates = d.findRelabelCandidates
	return d
}

// FindPossibleCellLabels implements Func.
func (d *Distance) FindPossibleCellLabels(cs []*cells.Cell, gt, rec *models.Volume) error {
	d.initLabels(cs)

	d.width = gt.Width
	d.height = gt.Height
	d.depth = gt.Depth
	d.res = gt.Res

	d.createBoundaryMap(rec)

	// squared distance of every voxel to the nearest reconstruction boundary
	boundaryDist2 := distanceTransformSquared(d.boundary, d.width, d.height, d.depth, d.res, d.workers)

	// the maximum boundary distance of any location for each cell
	maxBoundaryDist2 := make([]float64, len(cs))
	for i, cell := range cs {
		for _, l := range cell.Locations {
			d2 := boundaryDist2[l.Z*d.width*d.height+l.Y*d.width+l.X]
			if d2 > maxBoundaryDist2[i] {
				maxBoundaryDist2[i] = d2
			}
		}
	}

	// limit analysis to promising relabel candidates
	relabelCandidates := d.candidates(cs, maxBoundaryDist2)

	d.maxDX = minInt(d.width, int(math.Round(d.threshold/d.res.X)))
	d.maxDY = minInt(d.height, int(math.Round(d.threshold/d.res.Y)))
	d.maxDZ = minInt(d.depth, int(math.Round(d.threshold/d.res.Z)))

	log.Debug().
		Int("dx", d.maxDX).Int("dy", d.maxDY).Int("dz", d.maxDZ).
		Int("candidates", len(relabelCandidates)).
		Msg("distance thresholds in voxels")

	if len(relabelCandidates) == 0 {
		return nil
	}

	neighborhood := d.createNeighborhood()

	log.Debug().
		Int("offsets", len(neighborhood)).
		Float64("threshold", d.threshold).
		Msg("created threshold neighborhood")

	// each cell's alternatives depend only on that cell, so the hot loop
	// partitions by candidate index
	parallelLines(len(relabelCandidates), d.workers, func(i int) {
		cell := cs[relabelCandidates[i]]

		alternatives := d.alternativeLabels(cell, neighborhood, rec)

		if d.allowBackgroundAppearance &&
			len(alternatives) > 0 && cell.RecLabel != d.recBackground {
			alternatives = append(alternatives, d.recBackground)
		}

		for _, label := range alternatives {
			cell.AddPossibleLabel(label)
		}
	})

	return nil
}

// initCellLabels lets every cell keep its original label. The skeleton
// criterion replaces this hook.
func (d *Distance) initCellLabels(cs []*cells.Cell) {
	for _, cell := range cs {
		cell.AddPossibleLabel(cell.RecLabel)
	}
}

// findRelabelCandidates keeps the cells whose farthest voxel still has some
// boundary within the threshold. The filter is conservative: it may keep
// cells without alternatives, but never drops a cell that has one, since
// every voxel of a relabeled cell must be reachable by a boundary shift.
func (d *Distance) findRelabelCandidates(cs []*cells.Cell, maxBoundaryDist2 []float64) []int {
	t2 := d.threshold * d.threshold
	var candidates []int
	for i := range cs {
		if maxBoundaryDist2[i] <= t2 {
			candidates = append(candidates, i)
		}
	}
	return candidates
}

// createBoundaryMap marks every reconstruction voxel that touches a label
// change or the volume border. The z-border counts only for real stacks.
func (d *Distance) createBoundaryMap(rec *models.Volume) {
	d.boundary = make([]bool, d.width*d.height*d.depth)
	parallelLines(d.depth, d.workers, func(z int) {
		for y := 0; y < d.height; y++ {
			for x := 0; x < d.width; x++ {
				if d.isBoundaryVoxel(x, y, z, rec) {
					d.boundary[rec.Index(x, y, z)] = true
				}
			}
		}
	})
}

func (d *Distance) isBoundaryVoxel(x, y, z int, rec *models.Volume) bool {
	// voxels at the volume borders are always boundary voxels
	if x == 0 || x == d.width-1 {
		return true
	}
	if y == 0 || y == d.height-1 {
		return true
	}
	// in z only if there are multiple sections
	if d.depth > 1 && (z == 0 || z == d.depth-1) {
		return true
	}

	center := rec.At(x, y, z)

	if x > 0 && rec.At(x-1, y, z) != center {
		return true
	}
	if x < d.width-1 && rec.At(x+1, y, z) != center {
		return true
	}
	if y > 0 && rec.At(x, y-1, z) != center {
		return true
	}
	if y < d.height-1 && rec.At(x, y+1, z) != center {
		return true
	}
	if z > 0 && rec.At(x, y, z-1) != center {
		return true
	}
	if z < d.depth-1 && rec.At(x, y, z+1) != center {
		return true
	}

	return false
}

// createNeighborhood returns all integer offsets within the physical distance
// threshold. The pure axis offsets come first: if they already contain all
// covering labels, the scan in alternativeLabels can abort early.
func (d *Distance) createNeighborhood() []models.Location {
	var offsets []models.Location

	t2 := d.threshold * d.threshold

	for z := 1; z <= d.maxDZ; z++ {
		if dz := float64(z) * d.res.Z; dz*dz > t2 {
			break
		}
		offsets = append(offsets,
			models.Location{X: 0, Y: 0, Z: z},
			models.Location{X: 0, Y: 0, Z: -z})
	}
	for y := 1; y <= d.maxDY; y++ {
		if dy := float64(y) * d.res.Y; dy*dy > t2 {
			break
		}
		offsets = append(offsets,
			models.Location{X: 0, Y: y, Z: 0},
			models.Location{X: 0, Y: -y, Z: 0})
	}
	for x := 1; x <= d.maxDX; x++ {
		if dx := float64(x) * d.res.X; dx*dx > t2 {
			break
		}
		offsets = append(offsets,
			models.Location{X: x, Y: 0, Z: 0},
			models.Location{X: -x, Y: 0, Z: 0})
	}

	for z := -d.maxDZ; z <= d.maxDZ; z++ {
		for y := -d.maxDY; y <= d.maxDY; y++ {
			for x := -d.maxDX; x <= d.maxDX; x++ {
				// axis locations have been added already, center is not needed
				if (x == 0 && y == 0) || (x == 0 && z == 0) || (y == 0 && z == 0) {
					continue
				}

				dx := float64(x) * d.res.X
				dy := float64(y) * d.res.Y
				dz := float64(z) * d.res.Z
				if dx*dx+dy*dy+dz*dz <= t2 {
					offsets = append(offsets, models.Location{X: x, Y: y, Z: z})
				}
			}
		}
	}

	return offsets
}

// alternativeLabels returns every reconstruction label l != cell.RecLabel
// such that each voxel of the cell has an l-labeled boundary voxel within the
// threshold neighborhood. Labels are returned in ascending order.
func (d *Distance) alternativeLabels(cell *cells.Cell, neighborhood []models.Location, rec *models.Volume) []models.Label {
	cellLabel := cell.RecLabel

	// counts how many of the visited locations have seen each neighbor label
	counts := make(map[models.Label]int)

	numVisited := 0

	// upper bound on the number of alternative labels: the number of labels
	// that covered every location visited so far
	maxAlternativeLabels := 0

	for _, i := range cell.Locations {

		// labels already counted at the current location
		seenHere := make(map[models.Label]struct{})

		numVisited++
		numComplete := 0

		for _, n := range neighborhood {
			jx := i.X + n.X
			jy := i.Y + n.Y
			jz := i.Z + n.Z

			if jx < 0 || jx >= d.width || jy < 0 || jy >= d.height || jz < 0 || jz >= d.depth {
				continue
			}
			if !d.boundary[jz*d.width*d.height+jy*d.width+jx] {
				continue
			}

			label := rec.At(jx, jy, jz)
			if label == cellLabel {
				continue
			}

			if _, ok := seenHere[label]; ok {
				continue
			}
			seenHere[label] = struct{}{}

			counts[label]++
			if counts[label] == numVisited {
				numComplete++
				// all possible complete labels seen, stop scanning
				if numComplete == maxAlternativeLabels {
					break
				}
			}
		}

		maxAlternativeLabels = numComplete

		// none of the neighbor labels covers the cell
		if maxAlternativeLabels == 0 {
			break
		}
	}

	var alternatives []models.Label
	size := cell.Size()
	for label, count := range counts {
		if count == size {
			alternatives = append(alternatives, label)
		}
	}
	sort.Slice(alternatives, func(a, b int) bool { return alternatives[a] < alternatives[b] })

	return alternatives
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
