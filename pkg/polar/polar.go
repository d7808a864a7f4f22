// Package polar resamples a diffraction image into (radius, angle)
// coordinates about a center.
package polar

import (
	"fmt"
	"math"

	"uedcenter/internal/models"
)

// DefaultAngleBins is the angular resolution used when none is configured
const DefaultAngleBins = 360

// Options controls the polar grid
type Options struct {
	// RadiusBins is the number of rows. Zero selects floor(MaxRadius)+1,
	// i.e. unit-pixel resolution.
	RadiusBins int

	// AngleBins is the number of columns over [0, 2π). Zero selects DefaultAngleBins.
	AngleBins int

	// MaxRadius is the radius of the last row. Zero selects the distance
	// from the center to the nearest image boundary.
	MaxRadius float64

	// Fill is written to cells that fall outside the image
	Fill float64

	// Exclude marks pixels (row-major, image shape) that read as NaN,
	// such as the beam block. Nil excludes nothing.
	Exclude []bool
}

// DefaultOptions returns unit-pixel radius bins, one-degree angle bins and a
// NaN out-of-bounds sentinel
func DefaultOptions() Options {
	return Options{AngleBins: DefaultAngleBins, Fill: math.NaN()}
}

// PolarImage is indexed by (radius bin, angle bin); row i holds radius
// i*RadiusStep and column j holds angle j*AngleStep.
type PolarImage struct {
	Center     models.Center
	RadiusBins int
	AngleBins  int
	RadiusStep float64
	AngleStep  float64
	Fill       float64

	data []float64
}

// Transform resamples img about center.
//
// Every cell is sampled once with bilinear interpolation, so the cost is
// O(RadiusBins * AngleBins). Results are never cached; callers recompute
// whenever the center or the exclusion map changes.
func Transform(img *models.ImageBuffer, center models.Center, opts Options) (*PolarImage, error) {
	if opts.RadiusBins < 0 || opts.AngleBins < 0 {
		return nil, fmt.Errorf("%w: bin counts %d x %d", models.ErrInvalidParameter, opts.RadiusBins, opts.AngleBins)
	}
	if opts.MaxRadius < 0 || math.IsNaN(opts.MaxRadius) || math.IsInf(opts.MaxRadius, 0) {
		return nil, fmt.Errorf("%w: max radius %v", models.ErrInvalidParameter, opts.MaxRadius)
	}
	if opts.Exclude != nil && len(opts.Exclude) != img.Len() {
		return nil, fmt.Errorf("%w: exclusion map has %d entries for %d pixels",
			models.ErrInvalidParameter, len(opts.Exclude), img.Len())
	}
	if math.IsNaN(center.X) || math.IsNaN(center.Y) {
		return nil, fmt.Errorf("%w: center %v", models.ErrInvalidParameter, center)
	}

	maxRadius := opts.MaxRadius
	if maxRadius == 0 {
		maxRadius = math.Max(0, img.BoundaryDistance(center))
	}
	radiusBins := opts.RadiusBins
	if radiusBins == 0 {
		radiusBins = int(math.Floor(maxRadius)) + 1
	}
	angleBins := opts.AngleBins
	if angleBins == 0 {
		angleBins = DefaultAngleBins
	}

	radiusStep := 1.0
	if opts.RadiusBins > 0 && radiusBins > 1 {
		radiusStep = maxRadius / float64(radiusBins-1)
	}

	p := &PolarImage{
		Center:     center,
		RadiusBins: radiusBins,
		AngleBins:  angleBins,
		RadiusStep: radiusStep,
		AngleStep:  2 * math.Pi / float64(angleBins),
		Fill:       opts.Fill,
		data:       make([]float64, radiusBins*angleBins),
	}

	cos := make([]float64, angleBins)
	sin := make([]float64, angleBins)
	for j := 0; j < angleBins; j++ {
		cos[j], sin[j] = math.Cos(float64(j)*p.AngleStep), math.Sin(float64(j)*p.AngleStep)
	}

	for i := 0; i < radiusBins; i++ {
		r := float64(i) * radiusStep
		row := p.data[i*angleBins : (i+1)*angleBins]
		for j := range row {
			row[j] = sample(img, opts.Exclude, center.X+r*cos[j], center.Y+r*sin[j], opts.Fill)
		}
	}

	return p, nil
}

func sample(img *models.ImageBuffer, exclude []bool, x, y, fill float64) float64 {
	idx, w, ok := img.BilinearWeights(x, y)
	if !ok {
		return fill
	}
	v := 0.0
	for k := 0; k < 4; k++ {
		if w[k] == 0 {
			continue
		}
		if exclude != nil && exclude[idx[k]] {
			return math.NaN()
		}
		v += w[k] * img.AtIndex(idx[k])
	}
	return v
}

// At returns the value at radius bin i and angle bin j
func (p *PolarImage) At(i, j int) float64 {
	return p.data[i*p.AngleBins+j]
}

// Row returns a copy of radius bin i across all angles
func (p *PolarImage) Row(i int) []float64 {
	out := make([]float64, p.AngleBins)
	copy(out, p.data[i*p.AngleBins:(i+1)*p.AngleBins])
	return out
}

// Radius returns the radius in pixels of bin i
func (p *PolarImage) Radius(i int) float64 {
	return float64(i) * p.RadiusStep
}

// Values returns a copy of the row-major cell data
func (p *PolarImage) Values() []float64 {
	out := make([]float64, len(p.data))
	copy(out, p.data)
	return out
}

// AngularSum sums every radius bin over the angles, skipping NaN cells.
// This is the azimuthally integrated profile.
func (p *PolarImage) AngularSum() []float64 {
	out := make([]float64, p.RadiusBins)
	for i := range out {
		for _, v := range p.data[i*p.AngleBins : (i+1)*p.AngleBins] {
			if !math.IsNaN(v) {
				out[i] += v
			}
		}
	}
	return out
}
