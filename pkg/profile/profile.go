// Package profile samples radial intensity profiles of a diffraction image
// along evenly spaced directions from a candidate center.
package profile

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"uedcenter/internal/models"
	"uedcenter/pkg/mask"
)

// Options controls ray sampling
type Options struct {
	// Directions is the number of rays, evenly spaced over [0, 2π)
	Directions int

	// MaxRadius caps every ray. Zero lets each ray run to the image boundary.
	MaxRadius float64
}

// Sample is one point on a ray
type Sample struct {
	Radius float64
	Value  float64
	Valid  bool
}

// RadialProfile holds the samples of a single ray, at unit radius steps
// starting from the center
type RadialProfile struct {
	Angle      float64
	Samples    []Sample
	ValidCount int
}

// ProfileSet is the fixed-size collection of rays about one center
type ProfileSet struct {
	Center   models.Center
	Profiles []RadialProfile

	// RMax is the distance from Center to the nearest image boundary
	RMax float64
}

// Profiles samples opts.Directions rays from center.
// A sample is missing when any bilinear neighbour contributing to it is
// masked out or non-finite. Each ray stops at the image boundary.
func Profiles(img *models.ImageBuffer, m *mask.Mask, center models.Center, opts Options) (*ProfileSet, error) {
	if opts.Directions < 1 {
		return nil, fmt.Errorf("%w: directions must be positive, got %d", models.ErrInvalidParameter, opts.Directions)
	}
	if opts.MaxRadius < 0 || math.IsNaN(opts.MaxRadius) {
		return nil, fmt.Errorf("%w: max radius %v", models.ErrInvalidParameter, opts.MaxRadius)
	}
	if m != nil && (m.Width() != img.Width() || m.Height() != img.Height()) {
		return nil, fmt.Errorf("%w: mask %dx%d does not match image %dx%d",
			models.ErrInvalidParameter, m.Width(), m.Height(), img.Width(), img.Height())
	}
	if !img.Contains(center.X, center.Y) {
		return nil, fmt.Errorf("%w: center %v outside %dx%d image",
			models.ErrOutOfBounds, center, img.Width(), img.Height())
	}

	set := &ProfileSet{
		Center:   center,
		Profiles: make([]RadialProfile, opts.Directions),
		RMax:     img.BoundaryDistance(center),
	}

	for k := 0; k < opts.Directions; k++ {
		angle := 2 * math.Pi * float64(k) / float64(opts.Directions)
		set.Profiles[k] = sampleRay(img, m, center, angle, opts.MaxRadius)
	}

	return set, nil
}

// sampleRay walks outward at unit steps until the ray leaves the image
func sampleRay(img *models.ImageBuffer, m *mask.Mask, center models.Center, angle, maxRadius float64) RadialProfile {
	p := RadialProfile{Angle: angle}
	cos, sin := math.Cos(angle), math.Sin(angle)

	for r := 0; ; r++ {
		radius := float64(r)
		if maxRadius > 0 && radius > maxRadius {
			break
		}
		idx, w, ok := img.BilinearWeights(center.X+radius*cos, center.Y+radius*sin)
		if !ok {
			break
		}

		s := Sample{Radius: radius, Valid: true}
		for k := 0; k < 4; k++ {
			if w[k] == 0 {
				continue
			}
			v := img.AtIndex(idx[k])
			if math.IsNaN(v) || math.IsInf(v, 0) || (m != nil && !m.ValidIndex(idx[k])) {
				s.Valid = false
				break
			}
			s.Value += w[k] * v
		}
		if !s.Valid {
			s.Value = math.NaN()
		} else {
			p.ValidCount++
		}
		p.Samples = append(p.Samples, s)
	}

	return p
}

// Usable returns the profiles holding at least minValid valid samples.
// The rest are still kept in the set for display.
func (s *ProfileSet) Usable(minValid int) []RadialProfile {
	var out []RadialProfile
	for _, p := range s.Profiles {
		if p.ValidCount >= minValid {
			out = append(out, p)
		}
	}
	return out
}

// MaxLength returns the number of radius bins of the longest ray
func (s *ProfileSet) MaxLength() int {
	n := 0
	for _, p := range s.Profiles {
		if len(p.Samples) > n {
			n = len(p.Samples)
		}
	}
	return n
}

// Column collects the valid values of the usable profiles at radius bin r
func Column(profiles []RadialProfile, r int, dst []float64) []float64 {
	dst = dst[:0]
	for _, p := range profiles {
		if r < len(p.Samples) && p.Samples[r].Valid {
			dst = append(dst, p.Samples[r].Value)
		}
	}
	return dst
}

// Mean averages the usable profiles per radius bin. Bins without any valid
// sample are NaN.
func (s *ProfileSet) Mean(minValid int) []float64 {
	usable := s.Usable(minValid)
	out := make([]float64, s.MaxLength())
	var column []float64
	for r := range out {
		column = Column(usable, r, column)
		if len(column) == 0 {
			out[r] = math.NaN()
			continue
		}
		out[r] = stat.Mean(column, nil)
	}
	return out
}
