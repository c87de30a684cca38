package ted

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"tedeval/internal/models"
)

// splitLocationErrors derives one location record per edge of a minimum
// spanning tree over the reconstruction partners of each split ground-truth
// label. Edge weights are the minimum physical distance between any two cells
// of the two partners; the walk is seeded at the partner with the largest
// overlap, so records describe how the remaining partners attach to the main
// body of the region.
func splitLocationErrors(e *Errors, res models.Resolution) []LocationError {
	var records []LocationError
	for _, gtLabel := range e.SplitLabels() {
		partners := e.SplitCells(gtLabel)
		overlap := func(partner models.Label) int { return e.Overlap(gtLabel, partner) }
		records = append(records, partnerTreeErrors(e, gtLabel, partners, overlap, res)...)
	}
	return records
}

// mergeLocationErrors is the symmetric counterpart for merged reconstruction
// labels and their ground-truth partners.
func mergeLocationErrors(e *Errors, res models.Resolution) []LocationError {
	var records []LocationError
	for _, recLabel := range e.MergeLabels() {
		partners := e.MergeCells(recLabel)
		overlap := func(partner models.Label) int { return e.Overlap(partner, recLabel) }
		records = append(records, partnerTreeErrors(e, recLabel, partners, overlap, res)...)
	}
	return records
}

// closestPair describes the minimum-distance gap between two partners.
type closestPair struct {
	distance float64
	midpoint models.Location
}

func partnerTreeErrors(
	e *Errors,
	label models.Label,
	partners map[models.Label][]int,
	overlap func(models.Label) int,
	res models.Resolution,
) []LocationError {

	partnerLabels := make([]models.Label, 0, len(partners))
	for l := range partners {
		partnerLabels = append(partnerLabels, l)
	}
	sort.Slice(partnerLabels, func(i, j int) bool { return partnerLabels[i] < partnerLabels[j] })

	if len(partnerLabels) < 2 {
		return nil
	}

	// complete partner graph weighted by closest physical distance
	full := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range partnerLabels {
		full.AddNode(simple.Node(i))
	}

	pairs := make(map[[2]int]closestPair)
	for i := 0; i < len(partnerLabels); i++ {
		for j := i + 1; j < len(partnerLabels); j++ {
			pair := closestCellPair(e, partners[partnerLabels[i]], partners[partnerLabels[j]], res)
			pairs[[2]int{i, j}] = pair
			full.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(i),
				T: simple.Node(j),
				W: pair.distance,
			})
		}
	}

	tree := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Kruskal(tree, full)

	// seed at the partner with the largest overlap
	seed := 0
	for i := 1; i < len(partnerLabels); i++ {
		if overlap(partnerLabels[i]) > overlap(partnerLabels[seed]) {
			seed = i
		}
	}

	partnerSize := func(i int) int {
		size := 0
		for _, cellIndex := range partners[partnerLabels[i]] {
			size += e.cells[cellIndex].Size()
		}
		return size
	}

	// walk the tree from the seed; every traversed edge is one error record
	var records []LocationError
	visited := map[int]bool{seed: true}
	queue := []int{seed}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		var neighbors []int
		it := tree.From(int64(current))
		for it.Next() {
			neighbors = append(neighbors, int(it.Node().ID()))
		}
		sort.Ints(neighbors)

		for _, next := range neighbors {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)

			key := [2]int{current, next}
			if next < current {
				key = [2]int{next, current}
			}
			pair := pairs[key]

			records = append(records, LocationError{
				Label:    label,
				From:     partnerLabels[current],
				To:       partnerLabels[next],
				Distance: pair.distance,
				Midpoint: pair.midpoint,
				Size:     partnerSize(next),
			})
		}
	}

	return records
}

// closestCellPair finds the minimum Euclidean distance, in physical units,
// between any location of the first cell set and any location of the second.
func closestCellPair(e *Errors, cellsA, cellsB []int, res models.Resolution) closestPair {
	best := closestPair{distance: math.Inf(1)}

	for _, ia := range cellsA {
		for _, la := range e.cells[ia].Locations {
			for _, ib := range cellsB {
				for _, lb := range e.cells[ib].Locations {
					dx := float64(la.X-lb.X) * res.X
					dy := float64(la.Y-lb.Y) * res.Y
					dz := float64(la.Z-lb.Z) * res.Z
					d2 := dx*dx + dy*dy + dz*dz
					if d2 < best.distance*best.distance {
						best.distance = math.Sqrt(d2)
						best.midpoint = models.Location{
							X: (la.X + lb.X) / 2,
							Y: (la.Y + lb.Y) / 2,
							Z: (la.Z + lb.Z) / 2,
						}
					}
				}
			}
		}
	}

	return best
}
