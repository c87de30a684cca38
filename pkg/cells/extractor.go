package cells

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"tedeval/internal/models"
)

// Extract performs the joint connected-component decomposition of a ground
// truth and a reconstruction volume. Two voxels belong to the same cell iff
// they are 26-connected (face-, edge-, or corner-adjacent) and carry the same
// (gt, rec) label pair. The returned cells partition the volume: every voxel
// belongs to exactly one cell.
//
// Cells are emitted in deterministic scan order (z, then y, then x of their
// first voxel), so repeated calls on the same inputs yield an identical list.
func Extract(gt, rec *models.Volume) ([]*Cell, error) {
	if !gt.SameShape(rec) {
		return nil, fmt.Errorf("extracting cells from %dx%dx%d vs %dx%dx%d volumes: %w",
			gt.Width, gt.Height, gt.Depth, rec.Width, rec.Height, rec.Depth,
			models.ErrShapeMismatch)
	}

	width, height, depth := gt.Width, gt.Height, gt.Depth
	numVoxels := width * height * depth
	if numVoxels == 0 {
		return nil, nil
	}

	log.Debug().
		Int("width", width).Int("height", height).Int("depth", depth).
		Msg("extracting cells")

	// cellIDs holds the 1-based component index per voxel, 0 = unvisited.
	cellIDs := make([]uint32, numVoxels)
	var result []*Cell

	stack := make([]int, 0, 1024)

	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				seed := gt.Index(x, y, z)
				if cellIDs[seed] != 0 {
					continue
				}

				gtLabel := gt.Data[seed]
				recLabel := rec.Data[seed]
				cell := NewCell(gtLabel, recLabel)
				id := uint32(len(result) + 1)

				// flood fill over the 26-neighbourhood
				cellIDs[seed] = id
				stack = append(stack[:0], seed)
				for len(stack) > 0 {
					idx := stack[len(stack)-1]
					stack = stack[:len(stack)-1]

					cz := idx / (width * height)
					rem := idx - cz*width*height
					cy := rem / width
					cx := rem - cy*width
					cell.Add(models.Location{X: cx, Y: cy, Z: cz})

					for dz := -1; dz <= 1; dz++ {
						nz := cz + dz
						if nz < 0 || nz >= depth {
							continue
						}
						for dy := -1; dy <= 1; dy++ {
							ny := cy + dy
							if ny < 0 || ny >= height {
								continue
							}
							for dx := -1; dx <= 1; dx++ {
								if dx == 0 && dy == 0 && dz == 0 {
									continue
								}
								nx := cx + dx
								if nx < 0 || nx >= width {
									continue
								}
								nidx := nz*width*height + ny*width + nx
								if cellIDs[nidx] != 0 {
									continue
								}
								if gt.Data[nidx] != gtLabel || rec.Data[nidx] != recLabel {
									continue
								}
								cellIDs[nidx] = id
								stack = append(stack, nidx)
							}
						}
					}
				}

				result = append(result, cell)
			}
		}
	}

	log.Debug().Int("cells", len(result)).Msg("found cells")

	return result, nil
}

// ExtractForeground relabels a foreground/background volume into regions:
// every 6-connected (face-adjacent) component of non-background voxels
// becomes one region with a fresh label starting at 1; background voxels keep
// label 0. Used for ground truth given as a mask rather than a label map.
func ExtractForeground(v *models.Volume, background models.Label) *models.Volume {
	width, height, depth := v.Width, v.Height, v.Depth
	out := models.NewVolume(width, height, depth, v.Res)

	visited := make([]bool, len(v.Data))
	next := models.Label(1)

	var offsets = [6][3]int{
		{-1, 0, 0}, {1, 0, 0},
		{0, -1, 0}, {0, 1, 0},
		{0, 0, -1}, {0, 0, 1},
	}

	stack := make([]int, 0, 1024)

	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				seed := v.Index(x, y, z)
				if visited[seed] || v.Data[seed] == background {
					continue
				}

				visited[seed] = true
				stack = append(stack[:0], seed)
				for len(stack) > 0 {
					idx := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					out.Data[idx] = next

					cz := idx / (width * height)
					rem := idx - cz*width*height
					cy := rem / width
					cx := rem - cy*width

					for _, o := range offsets {
						nx, ny, nz := cx+o[0], cy+o[1], cz+o[2]
						if nx < 0 || nx >= width || ny < 0 || ny >= height || nz < 0 || nz >= depth {
							continue
						}
						nidx := nz*width*height + ny*width + nx
						if visited[nidx] || v.Data[nidx] == background {
							continue
						}
						visited[nidx] = true
						stack = append(stack, nidx)
					}
				}

				next++
			}
		}
	}

	log.Debug().Uint64("regions", uint64(next-1)).Msg("extracted foreground regions")

	return out
}
