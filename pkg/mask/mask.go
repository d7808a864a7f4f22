// Package mask derives binary validity masks from intensity quantiles.
// The mask excludes the beam block, the background floor and saturated
// pixels from the centering computations.
package mask

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/effect"
	"gonum.org/v1/gonum/stat"

	"uedcenter/internal/models"
)

// Options holds the optional parts of the mask computation
type Options struct {
	// Saturation marks pixels at or above this intensity as saturated.
	// Saturated pixels are excluded from the quantiles and from the mask.
	// Zero disables the check.
	Saturation float64
}

// Mask is a boolean validity map with the shape of its source image
type Mask struct {
	width  int
	height int

	// valid[i] is true iff pixel i lies inside [Lo, Hi] and is usable
	valid []bool

	// below[i] is true for pixels under Lo or unusable; this is the
	// beam-block region hidden in the polar view
	below []bool

	// usable[i] is false for NaN, infinite and saturated pixels
	usable []bool

	count int

	// LowerQuantile and UpperQuantile are the requested thresholds
	LowerQuantile float64
	UpperQuantile float64

	// Lo and Hi are the intensity bounds derived from the quantiles
	Lo float64
	Hi float64
}

// ValidateQuantiles checks 0 <= lower < upper <= 1
func ValidateQuantiles(lower, upper float64) error {
	if math.IsNaN(lower) || math.IsNaN(upper) || lower < 0 || upper > 1 || lower >= upper {
		return fmt.Errorf("%w: quantiles must satisfy 0 <= lower < upper <= 1, got [%v, %v]",
			models.ErrInvalidParameter, lower, upper)
	}
	return nil
}

// Compute builds the quantile mask of img.
//
// Parameters:
//   - img: Source image
//   - lower, upper: Quantile thresholds, 0 <= lower < upper <= 1
//   - opts: Optional saturation threshold
//
// Returns:
//   - The mask, ErrInvalidParameter for bad thresholds, or ErrInsufficientData
//     when the image has no finite, unsaturated pixel at all
func Compute(img *models.ImageBuffer, lower, upper float64, opts Options) (*Mask, error) {
	if err := ValidateQuantiles(lower, upper); err != nil {
		return nil, err
	}
	if opts.Saturation < 0 || math.IsNaN(opts.Saturation) {
		return nil, fmt.Errorf("%w: saturation %v", models.ErrInvalidParameter, opts.Saturation)
	}

	n := img.Len()
	usable := make([]bool, n)
	samples := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := img.AtIndex(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if opts.Saturation > 0 && v >= opts.Saturation {
			continue
		}
		usable[i] = true
		samples = append(samples, v)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no finite unsaturated pixels", models.ErrInsufficientData)
	}

	// stat.Quantile requires sorted input
	sort.Float64s(samples)
	lo := stat.Quantile(lower, stat.Empirical, samples, nil)
	hi := stat.Quantile(upper, stat.Empirical, samples, nil)

	m := &Mask{
		width:         img.Width(),
		height:        img.Height(),
		valid:         make([]bool, n),
		below:         make([]bool, n),
		usable:        usable,
		LowerQuantile: lower,
		UpperQuantile: upper,
		Lo:            lo,
		Hi:            hi,
	}
	for i := 0; i < n; i++ {
		if !usable[i] {
			m.below[i] = true
			continue
		}
		v := img.AtIndex(i)
		if v < lo {
			m.below[i] = true
			continue
		}
		if v <= hi {
			m.valid[i] = true
			m.count++
		}
	}

	return m, nil
}

// Full returns a mask marking every pixel valid
func Full(width, height int) *Mask {
	n := width * height
	m := &Mask{
		width:         width,
		height:        height,
		valid:         make([]bool, n),
		below:         make([]bool, n),
		usable:        make([]bool, n),
		count:         n,
		LowerQuantile: 0,
		UpperQuantile: 1,
		Lo:            math.Inf(-1),
		Hi:            math.Inf(1),
	}
	for i := range m.valid {
		m.valid[i] = true
		m.usable[i] = true
	}
	return m
}

// Width returns the mask width
func (m *Mask) Width() int { return m.width }

// Height returns the mask height
func (m *Mask) Height() int { return m.height }

// Valid reports whether pixel (x, y) is valid
func (m *Mask) Valid(x, y int) bool { return m.valid[y*m.width+x] }

// ValidIndex reports whether the pixel at a row-major index is valid
func (m *Mask) ValidIndex(i int) bool { return m.valid[i] }

// Count returns the number of valid pixels
func (m *Mask) Count() int { return m.count }

// Fraction returns the share of valid pixels in the image
func (m *Mask) Fraction() float64 {
	if len(m.valid) == 0 {
		return 0
	}
	return float64(m.count) / float64(len(m.valid))
}

// Values returns a copy of the validity map
func (m *Mask) Values() []bool {
	out := make([]bool, len(m.valid))
	copy(out, m.valid)
	return out
}

// Below returns a copy of the below-lower-bound map
func (m *Mask) Below() []bool {
	out := make([]bool, len(m.below))
	copy(out, m.below)
	return out
}

// Apply returns the image samples with invalid pixels replaced by NaN
func (m *Mask) Apply(img *models.ImageBuffer) []float64 {
	out := img.Values()
	for i := range out {
		if !m.valid[i] {
			out[i] = math.NaN()
		}
	}
	return out
}

// Closed returns the morphological closing of the mask (dilate, then erode)
// with a disc of the given radius. Unusable pixels stay invalid.
func (m *Mask) Closed(radius float64) *Mask {
	if radius <= 0 {
		return m.clone()
	}
	img := effect.Erode(effect.Dilate(m.gray(), radius), radius)
	return m.fromImage(img)
}

// Eroded shrinks the valid region by a disc of the given radius, removing
// the transition area around the beam block.
func (m *Mask) Eroded(radius float64) *Mask {
	if radius <= 0 {
		return m.clone()
	}
	return m.fromImage(effect.Erode(m.gray(), radius))
}

// Downsample keeps every step-th mask pixel, matching ImageBuffer.Downsample
func (m *Mask) Downsample(step int) *Mask {
	if step < 2 {
		return m
	}

	w := (m.width + step - 1) / step
	h := (m.height + step - 1) / step
	out := &Mask{
		width:         w,
		height:        h,
		valid:         make([]bool, w*h),
		below:         make([]bool, w*h),
		usable:        make([]bool, w*h),
		LowerQuantile: m.LowerQuantile,
		UpperQuantile: m.UpperQuantile,
		Lo:            m.Lo,
		Hi:            m.Hi,
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := (y*step)*m.width + x*step
			dst := y*w + x
			out.valid[dst] = m.valid[src]
			out.below[dst] = m.below[src]
			out.usable[dst] = m.usable[src]
			if out.valid[dst] {
				out.count++
			}
		}
	}
	return out
}

func (m *Mask) clone() *Mask {
	out := *m
	out.valid = m.Values()
	out.below = m.Below()
	out.usable = make([]bool, len(m.usable))
	copy(out.usable, m.usable)
	return &out
}

// gray renders valid pixels white and invalid pixels black
func (m *Mask) gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.width, m.height))
	for i, v := range m.valid {
		if v {
			img.Pix[(i/m.width)*img.Stride+i%m.width] = 0xff
		}
	}
	return img
}

// fromImage thresholds a morphology result back into a mask
func (m *Mask) fromImage(img *image.RGBA) *Mask {
	out := m.clone()
	out.count = 0
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			i := y*m.width + x
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			out.valid[i] = g.Y >= 0x80 && m.usable[i]
			if out.valid[i] {
				out.count++
			}
		}
	}
	return out
}
