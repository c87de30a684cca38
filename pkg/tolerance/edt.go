package tolerance

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"tedeval/internal/models"
)

// edtInf stands in for an infinite squared distance. A finite value keeps the
// parabola intersections of the lower-envelope pass well defined.
const edtInf = 1e20

// distanceTransformSquared computes, for every voxel, the squared Euclidean
// distance to the nearest feature voxel, with anisotropic voxel pitch. The
// transform is axis-separable: one lower-envelope pass per axis, each line
// independent of the others, which makes the passes data-parallel.
func distanceTransformSquared(features []bool, width, height, depth int, res models.Resolution, workers int) []float64 {
	dist := make([]float64, len(features))
	for i, f := range features {
		if f {
			dist[i] = 0
		} else {
			dist[i] = edtInf
		}
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	plane := width * height

	// pass along x: one line per (y, z)
	parallelLines(height*depth, workers, func(line int) {
		z := line / height
		y := line - z*height
		base := z*plane + y*width
		f := make([]float64, width)
		d := make([]float64, width)
		v := make([]int, width)
		b := make([]float64, width+1)
		for x := 0; x < width; x++ {
			f[x] = dist[base+x]
		}
		envelope(f, d, v, b, res.X)
		for x := 0; x < width; x++ {
			dist[base+x] = d[x]
		}
	})

	// pass along y: one line per (x, z)
	parallelLines(width*depth, workers, func(line int) {
		z := line / width
		x := line - z*width
		base := z*plane + x
		f := make([]float64, height)
		d := make([]float64, height)
		v := make([]int, height)
		b := make([]float64, height+1)
		for y := 0; y < height; y++ {
			f[y] = dist[base+y*width]
		}
		envelope(f, d, v, b, res.Y)
		for y := 0; y < height; y++ {
			dist[base+y*width] = d[y]
		}
	})

	// pass along z: one line per (x, y)
	if depth > 1 {
		parallelLines(plane, workers, func(line int) {
			f := make([]float64, depth)
			d := make([]float64, depth)
			v := make([]int, depth)
			b := make([]float64, depth+1)
			for z := 0; z < depth; z++ {
				f[z] = dist[z*plane+line]
			}
			envelope(f, d, v, b, res.Z)
			for z := 0; z < depth; z++ {
				dist[z*plane+line] = d[z]
			}
		})
	}

	return dist
}

// envelope runs the 1D lower-envelope pass of the squared distance transform
// on a single line, with voxel pitch step along the line. f is the input, d
// the output; v and b are scratch for parabola vertices and boundaries.
func envelope(f, d []float64, v []int, b []float64, step float64) {
	n := len(f)
	if n == 1 {
		d[0] = f[0]
		return
	}

	s2 := step * step
	k := 0
	v[0] = 0
	b[0] = -edtInf
	b[1] = edtInf

	for q := 1; q < n; q++ {
		var s float64
		for {
			p := v[k]
			s = ((f[q] + s2*float64(q*q)) - (f[p] + s2*float64(p*p))) / (2 * s2 * float64(q-p))
			if s <= b[k] {
				k--
				continue
			}
			break
		}
		k++
		v[k] = q
		b[k] = s
		b[k+1] = edtInf
	}

	k = 0
	for q := 0; q < n; q++ {
		for b[k+1] < float64(q) {
			k++
		}
		dq := step * float64(q-v[k])
		d[q] = dq*dq + f[v[k]]
		if d[q] > edtInf {
			d[q] = edtInf
		}
	}
}

// parallelLines runs fn for every line index in [0, n) using at most workers
// goroutines. Lines write disjoint output, so the result is deterministic.
func parallelLines(n, workers int, fn func(line int)) {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var g errgroup.Group
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				fn(i)
			}
			return nil
		})
	}
	// workers never return errors; Wait only synchronizes
	_ = g.Wait()
}
