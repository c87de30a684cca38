package models

import (
	"sort"
)

// Label is a region identifier in a segmentation. Labels are non-negative
// integers; by convention label 0 is the background when background semantics
// are enabled.
type Label uint64

// IgnoreLabel is an internal sentinel used by the skeleton tolerance to mask
// out voxels that do not participate in the evaluation. It is distinct from
// every real label.
const IgnoreLabel Label = ^Label(0)

// Location is a voxel position inside a volume. Coordinates are zero-based
// with x varying fastest.
type Location struct {
	X, Y, Z int
}

// Less orders locations lexicographically by (z, y, x).
func (l Location) Less(other Location) bool {
	if l.Z != other.Z {
		return l.Z < other.Z
	}
	if l.Y != other.Y {
		return l.Y < other.Y
	}
	return l.X < other.X
}

// Resolution is the physical size of a voxel along each axis, in units per
// voxel edge. All components are positive.
type Resolution struct {
	X, Y, Z float64
}

// DefaultResolution is the isotropic unit resolution assumed when a volume
// does not carry explicit voxel sizes.
func DefaultResolution() Resolution {
	return Resolution{X: 1.0, Y: 1.0, Z: 1.0}
}

// Volume is a 3D label image stored as a sequence of 2D frames.
type Volume struct {
	// Data is the label data as a 1D array in row-major order,
	// indexed as z*Width*Height + y*Width + x.
	Data []Label

	// Width, Height and Depth are the dimensions of the volume in voxels.
	Width, Height, Depth int

	// Res is the physical size of each voxel.
	Res Resolution
}

// NewVolume creates a zero-initialized volume with the given dimensions and
// voxel resolution.
func NewVolume(width, height, depth int, res Resolution) *Volume {
	return &Volume{
		Data:   make([]Label, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
		Res:    res,
	}
}

// Index returns the position of voxel (x, y, z) in Data.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the label at voxel (x, y, z).
func (v *Volume) At(x, y, z int) Label {
	return v.Data[v.Index(x, y, z)]
}

// Set assigns the label at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, label Label) {
	v.Data[v.Index(x, y, z)] = label
}

// NumVoxels returns the total number of voxels in the volume.
func (v *Volume) NumVoxels() int {
	return v.Width * v.Height * v.Depth
}

// SameShape reports whether two volumes have identical dimensions.
func (v *Volume) SameShape(other *Volume) bool {
	return v.Width == other.Width && v.Height == other.Height && v.Depth == other.Depth
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	c := NewVolume(v.Width, v.Height, v.Depth, v.Res)
	copy(c.Data, v.Data)
	return c
}

// Labels returns the sorted set of distinct labels present in the volume.
func (v *Volume) Labels() []Label {
	seen := make(map[Label]struct{})
	for _, l := range v.Data {
		seen[l] = struct{}{}
	}
	labels := make([]Label, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}
