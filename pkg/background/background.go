// Package background models the diffuse scattering around the direct beam
// as a radial power law I(d) = A * (d^2)^B about a center.
package background

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"uedcenter/internal/models"
	"uedcenter/pkg/mask"
)

// minFitSamples is the smallest number of pixels a fit is attempted with
const minFitSamples = 8

// Model is a fitted power-law background
type Model struct {
	// A is the amplitude and B the exponent applied to the squared distance.
	// B is never positive.
	A float64
	B float64

	Center models.Center

	// Residual is the mean squared residual of the fit in log space
	Residual float64

	// Samples is the number of pixels that entered the fit
	Samples int
}

// Fit estimates a power-law background about center.
//
// The fit is linear in log space: log I = log A + B * log d^2, solved by
// ordinary least squares over valid pixels with I > 0 and d^2 >= 1.
// An increasing fit is flattened to B = 0, since diffuse scattering
// never grows away from the beam.
//
// Returns:
//   - The fitted model, or ErrInsufficientData when fewer than a handful of
//     pixels qualify or all of them sit at the same distance
func Fit(img *models.ImageBuffer, m *mask.Mask, center models.Center) (Model, error) {
	xs := make([]float64, 0, img.Len()/2)
	ys := make([]float64, 0, img.Len()/2)

	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			if m != nil && !m.Valid(x, y) {
				continue
			}
			v := img.At(x, y)
			if !(v > 0) || math.IsInf(v, 0) {
				continue
			}
			dx := float64(x) - center.X
			dy := float64(y) - center.Y
			d2 := dx*dx + dy*dy
			if d2 < 1 {
				continue
			}
			xs = append(xs, math.Log(d2))
			ys = append(ys, math.Log(v))
		}
	}

	if len(xs) < minFitSamples {
		return Model{}, fmt.Errorf("%w: %d pixels available for background fit",
			models.ErrInsufficientData, len(xs))
	}
	if stat.Variance(xs, nil) == 0 {
		return Model{}, fmt.Errorf("%w: all fit pixels at the same distance", models.ErrInsufficientData)
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	if beta > 0 {
		beta = 0
		alpha = stat.Mean(ys, nil)
	}

	residual := 0.0
	for i := range xs {
		r := ys[i] - alpha - beta*xs[i]
		residual += r * r
	}

	return Model{
		A:        math.Exp(alpha),
		B:        beta,
		Center:   center,
		Residual: residual / float64(len(xs)),
		Samples:  len(xs),
	}, nil
}

// At evaluates the background at a pixel position. Distances under one
// pixel are evaluated at one pixel to keep the singular center finite.
func (md Model) At(x, y float64) float64 {
	dx := x - md.Center.X
	dy := y - md.Center.Y
	d2 := math.Max(dx*dx+dy*dy, 1)
	return md.A * math.Pow(d2, md.B)
}

// Scale maps a model fitted on an image downsampled by step back to
// full-resolution coordinates.
func (md Model) Scale(step int) Model {
	if step < 2 {
		return md
	}
	s := float64(step)
	out := md
	out.Center = md.Center.Scale(s)
	out.A = md.A * math.Pow(s, -2*md.B)
	return out
}

// Image renders the model over a width x height grid
func (md Model) Image(width, height int, pixelSize float64) (*models.ImageBuffer, error) {
	data := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = md.At(float64(x), float64(y))
		}
	}
	return models.NewImageBuffer(data, width, height, pixelSize)
}
