// Package loader reads diffraction images from disk into ImageBuffers.
package loader

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"uedcenter/internal/models"
)

// Load decodes the image at path and converts it to 16-bit gray intensities.
//
// Parameters:
//   - path: Image file; any format imaging can decode (PNG, JPEG, GIF, TIFF, BMP)
//   - pixelSize: Physical units per pixel, 0 for the 1.0 default
//
// Returns:
//   - The loaded image buffer
//   - An error if the file cannot be read or decoded
func Load(path string, pixelSize float64) (*models.ImageBuffer, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", path, err)
	}
	return FromImage(img, pixelSize)
}

// FromImage converts a decoded image to an ImageBuffer. 16-bit gray images
// keep their raw values; every other color model goes through the 16-bit
// gray luminance conversion.
func FromImage(img image.Image, pixelSize float64) (*models.ImageBuffer, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrInvalidParameter)
	}

	data := make([]float64, width*height)
	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[y*width+x] = float64(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[y*width+x] = float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				data[y*width+x] = float64(g.Y)
			}
		}
	}

	return models.NewImageBuffer(data, width, height, pixelSize)
}
