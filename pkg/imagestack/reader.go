// Package imagestack reads and writes label volumes stored as a directory of
// 2D image slices. Slices are grayscale PNG or TIFF images whose pixel values
// are the labels; a meta.yaml file next to the slices can carry the physical
// voxel resolution.
package imagestack

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	// slice image formats
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"tedeval/internal/models"
)

// MetaFile is the name of the optional resolution file inside a stack
// directory.
const MetaFile = "meta.yaml"

// Meta is the sidecar metadata of an image stack.
type Meta struct {
	Resolution struct {
		X float64 `yaml:"x"`
		Y float64 `yaml:"y"`
		Z float64 `yaml:"z"`
	} `yaml:"resolution"`
}

// ReadDirectory loads all image slices of a directory into a label volume.
// Slices are ordered by the numeric part of their filenames, so that
// "slice_2.png" precedes "slice_10.png". The voxel resolution is taken from
// meta.yaml if present, otherwise it defaults to 1 unit per voxel edge.
func ReadDirectory(dir string) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading stack directory: %w", err)
	}

	var sliceFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".tif", ".tiff":
			sliceFiles = append(sliceFiles, entry.Name())
		}
	}

	if len(sliceFiles) == 0 {
		return nil, fmt.Errorf("no image slices found in %s: %w", dir, models.ErrUsage)
	}

	// sort by the numeric part of the filename to keep the stack order
	sort.Slice(sliceFiles, func(i, j int) bool {
		ni := extractNumber(sliceFiles[i])
		nj := extractNumber(sliceFiles[j])
		if ni != nj {
			return ni < nj
		}
		return sliceFiles[i] < sliceFiles[j]
	})

	var volume *models.Volume
	for z, name := range sliceFiles {
		img, err := loadSlice(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading slice %s: %w", name, err)
		}

		bounds := img.Bounds()
		width := bounds.Dx()
		height := bounds.Dy()

		if volume == nil {
			volume = models.NewVolume(width, height, len(sliceFiles), readResolution(dir))
		} else if width != volume.Width || height != volume.Height {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d: %w",
				name, width, height, volume.Width, volume.Height, models.ErrShapeMismatch)
		}

		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				volume.Set(x, y, z, labelAt(img, bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
	}

	log.Debug().
		Str("dir", dir).
		Int("width", volume.Width).Int("height", volume.Height).Int("depth", volume.Depth).
		Msg("loaded image stack")

	return volume, nil
}

func loadSlice(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

// labelAt reads a pixel as a label. 8- and 16-bit grayscale images carry the
// label directly; paletted images use the palette index; anything else falls
// back to the 8-bit gray value.
func labelAt(img image.Image, x, y int) models.Label {
	switch im := img.(type) {
	case *image.Gray:
		return models.Label(im.GrayAt(x, y).Y)
	case *image.Gray16:
		return models.Label(im.Gray16At(x, y).Y)
	case *image.Paletted:
		return models.Label(im.ColorIndexAt(x, y))
	default:
		r, _, _, _ := img.At(x, y).RGBA()
		return models.Label(r >> 8)
	}
}

// readResolution parses the meta.yaml of a stack directory. A missing file or
// missing components default to unit resolution.
func readResolution(dir string) models.Resolution {
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return models.DefaultResolution()
	}

	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("ignoring malformed meta.yaml")
		return models.DefaultResolution()
	}

	res := models.DefaultResolution()
	if meta.Resolution.X > 0 {
		res.X = meta.Resolution.X
	}
	if meta.Resolution.Y > 0 {
		res.Y = meta.Resolution.Y
	}
	if meta.Resolution.Z > 0 {
		res.Z = meta.Resolution.Z
	}
	return res
}

// extractNumber extracts the numeric part from a filename, 0 if none.
func extractNumber(filename string) int {
	numStr := ""
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		if num, err := strconv.Atoi(numStr); err == nil {
			return num
		}
	}
	return 0
}
