package imagestack

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"tedeval/internal/models"
)

// WriteDirectory saves a label volume as a directory of 16-bit grayscale PNG
// slices plus a meta.yaml with the voxel resolution. Labels must fit into 16
// bits; larger labels are an error since the slice format could not represent
// them losslessly.
func WriteDirectory(dir string, volume *models.Volume) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating stack directory: %w", err)
	}

	for z := 0; z < volume.Depth; z++ {
		img := image.NewGray16(image.Rect(0, 0, volume.Width, volume.Height))

		for y := 0; y < volume.Height; y++ {
			for x := 0; x < volume.Width; x++ {
				label := volume.At(x, y, z)
				if label > 0xffff {
					return fmt.Errorf("label %d at (%d,%d,%d) does not fit into a 16-bit slice: %w",
						label, x, y, z, models.ErrUsage)
				}
				img.SetGray16(x, y, color.Gray16{Y: uint16(label)})
			}
		}

		name := filepath.Join(dir, fmt.Sprintf("%04d.png", z))
		if err := writePNG(name, img); err != nil {
			return fmt.Errorf("writing slice %s: %w", name, err)
		}
	}

	if err := writeMeta(dir, volume.Res); err != nil {
		return err
	}

	log.Debug().
		Str("dir", dir).
		Int("slices", volume.Depth).
		Msg("wrote image stack")

	return nil
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

func writeMeta(dir string, res models.Resolution) error {
	var meta Meta
	meta.Resolution.X = res.X
	meta.Resolution.Y = res.Y
	meta.Resolution.Z = res.Z

	data, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshaling meta.yaml: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, MetaFile), data, 0644); err != nil {
		return fmt.Errorf("writing meta.yaml: %w", err)
	}

	return nil
}
