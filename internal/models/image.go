package models

import (
	"fmt"
	"math"
)

// ImageBuffer represents a single diffraction image with its physical scale.
// The buffer is immutable once created: every method returns values or new
// buffers, so one instance may be shared by mask, profile and polar
// computations without synchronization.
type ImageBuffer struct {
	// data is the intensity data as a 1D array in row-major order
	data []float64

	// width and height of the image in pixels
	width  int
	height int

	// pixelSize is the physical size of one pixel (1.0 when undetected)
	pixelSize float64
}

// NewImageBuffer creates an image buffer from row-major intensity data.
// The data is copied. A pixelSize of zero means "undetected" and defaults to 1.0.
//
// Parameters:
//   - data: Intensity samples, len(data) must equal width*height
//   - width, height: Image dimensions in pixels
//   - pixelSize: Physical units per pixel
//
// Returns:
//   - The new buffer, or an ErrInvalidParameter error for inconsistent input
func NewImageBuffer(data []float64, width, height int, pixelSize float64) (*ImageBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image dimensions %dx%d", ErrInvalidParameter, width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: got %d samples for %dx%d image", ErrInvalidParameter, len(data), width, height)
	}
	if pixelSize == 0 {
		pixelSize = 1.0
	}
	if pixelSize < 0 || math.IsNaN(pixelSize) || math.IsInf(pixelSize, 0) {
		return nil, fmt.Errorf("%w: pixel size %v", ErrInvalidParameter, pixelSize)
	}

	buf := make([]float64, len(data))
	copy(buf, data)

	return &ImageBuffer{
		data:      buf,
		width:     width,
		height:    height,
		pixelSize: pixelSize,
	}, nil
}

// Width returns the image width in pixels
func (b *ImageBuffer) Width() int { return b.width }

// Height returns the image height in pixels
func (b *ImageBuffer) Height() int { return b.height }

// Len returns the number of pixels
func (b *ImageBuffer) Len() int { return len(b.data) }

// PixelSize returns the physical size of one pixel
func (b *ImageBuffer) PixelSize() float64 { return b.pixelSize }

// At returns the intensity at integer pixel coordinates.
// Coordinates must lie inside the image.
func (b *ImageBuffer) At(x, y int) float64 {
	return b.data[y*b.width+x]
}

// AtIndex returns the intensity at a row-major index
func (b *ImageBuffer) AtIndex(i int) float64 {
	return b.data[i]
}

// Values returns a copy of the row-major intensity data
func (b *ImageBuffer) Values() []float64 {
	out := make([]float64, len(b.data))
	copy(out, b.data)
	return out
}

// WithPixelSize returns a buffer sharing the same samples with a new pixel size.
// This is how a user pixel-size override is applied.
func (b *ImageBuffer) WithPixelSize(pixelSize float64) (*ImageBuffer, error) {
	if pixelSize <= 0 || math.IsNaN(pixelSize) || math.IsInf(pixelSize, 0) {
		return nil, fmt.Errorf("%w: pixel size %v", ErrInvalidParameter, pixelSize)
	}
	return &ImageBuffer{
		data:      b.data,
		width:     b.width,
		height:    b.height,
		pixelSize: pixelSize,
	}, nil
}

// Downsample keeps every step-th pixel along both axes.
// The pixel size grows by the same factor. A step below 2 returns b itself.
func (b *ImageBuffer) Downsample(step int) *ImageBuffer {
	if step < 2 {
		return b
	}

	w := (b.width + step - 1) / step
	h := (b.height + step - 1) / step
	data := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = b.data[(y*step)*b.width+x*step]
		}
	}

	return &ImageBuffer{
		data:      data,
		width:     w,
		height:    h,
		pixelSize: b.pixelSize * float64(step),
	}
}

// Contains reports whether a continuous coordinate lies inside the sampled
// area [0, width-1] x [0, height-1].
func (b *ImageBuffer) Contains(x, y float64) bool {
	return x >= 0 && y >= 0 && x <= float64(b.width-1) && y <= float64(b.height-1)
}

// GeometricCenter returns the center of the pixel grid
func (b *ImageBuffer) GeometricCenter() Center {
	return Center{
		X: float64(b.width-1) / 2,
		Y: float64(b.height-1) / 2,
	}
}

// Clamp clips a center onto the sampled area. The boolean reports whether
// clipping was needed.
func (b *ImageBuffer) Clamp(c Center) (Center, bool) {
	if math.IsNaN(c.X) || math.IsNaN(c.Y) {
		return b.GeometricCenter(), true
	}
	clamped := Center{
		X: math.Max(0, math.Min(float64(b.width-1), c.X)),
		Y: math.Max(0, math.Min(float64(b.height-1), c.Y)),
	}
	return clamped, clamped != c
}

// BoundaryDistance returns the distance from c to the nearest image boundary.
// It is negative when c lies outside the image.
func (b *ImageBuffer) BoundaryDistance(c Center) float64 {
	return math.Min(
		math.Min(c.X, float64(b.width-1)-c.X),
		math.Min(c.Y, float64(b.height-1)-c.Y),
	)
}

// BilinearWeights returns the four neighbour indices and their interpolation
// weights for a continuous coordinate. Neighbours on the far edge collapse
// onto the edge pixel with zero weight. ok is false outside the image.
func (b *ImageBuffer) BilinearWeights(x, y float64) (idx [4]int, w [4]float64, ok bool) {
	if !b.Contains(x, y) {
		return idx, w, false
	}

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := x0 + 1
	if x1 > b.width-1 {
		x1 = b.width - 1
	}
	y1 := y0 + 1
	if y1 > b.height-1 {
		y1 = b.height - 1
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	idx = [4]int{
		y0*b.width + x0,
		y0*b.width + x1,
		y1*b.width + x0,
		y1*b.width + x1,
	}
	w = [4]float64{
		(1 - fx) * (1 - fy),
		fx * (1 - fy),
		(1 - fx) * fy,
		fx * fy,
	}
	return idx, w, true
}

// Bilinear samples the image at a continuous coordinate.
// Neighbours with zero weight do not contribute, so a NaN pixel only
// poisons the samples that actually touch it.
func (b *ImageBuffer) Bilinear(x, y float64) (float64, bool) {
	idx, w, ok := b.BilinearWeights(x, y)
	if !ok {
		return 0, false
	}

	value := 0.0
	for k := 0; k < 4; k++ {
		if w[k] == 0 {
			continue
		}
		value += w[k] * b.data[idx[k]]
	}
	return value, true
}
