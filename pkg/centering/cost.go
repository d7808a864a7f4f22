package centering

import (
	"gonum.org/v1/gonum/stat"

	"uedcenter/internal/models"
	"uedcenter/pkg/background"
	"uedcenter/pkg/mask"
	"uedcenter/pkg/profile"
)

// CostFunc scores a candidate center. Lower is better, and the true center
// of a radially symmetric pattern must be a minimum. ok is false when the
// candidate leaves too little data to score.
type CostFunc interface {
	Name() string
	Cost(img *models.ImageBuffer, m *mask.Mask, c models.Center) (cost float64, ok bool)
}

// DispersionCost compares radial profiles taken in different directions.
// The score is the share of the sampled intensity variation that radius
// alone does not explain: the within-bin sum of squares across the usable
// profiles divided by the total sum of squares of the same samples. It is
// zero for exact radial symmetry and does not depend on the intensity scale,
// so faint regions near the border score no better than bright ones.
type DispersionCost struct {
	// Directions is the number of rays per candidate
	Directions int

	// MinValid is the number of valid samples a ray needs to be compared
	MinValid int

	// MaxRadius caps the rays. FindCenter pins a zero value to half the
	// shorter image side so every candidate compares the same bins.
	MaxRadius float64
}

// Name implements CostFunc
func (DispersionCost) Name() string { return "dispersion" }

// Cost implements CostFunc
func (d DispersionCost) Cost(img *models.ImageBuffer, m *mask.Mask, c models.Center) (float64, bool) {
	set, err := profile.Profiles(img, m, c, profile.Options{
		Directions: d.Directions,
		MaxRadius:  d.MaxRadius,
	})
	if err != nil {
		return 0, false
	}
	return Dispersion(set, d.MinValid)
}

// Dispersion scores a profile set. Only radius bins holding at least two
// valid samples take part. It needs at least two usable profiles sharing at
// least one such bin.
func Dispersion(set *profile.ProfileSet, minValid int) (float64, bool) {
	usable := set.Usable(minValid)
	if len(usable) < 2 {
		return 0, false
	}

	within := 0.0
	var compared, column []float64
	for r := 0; r < set.MaxLength(); r++ {
		column = profile.Column(usable, r, column)
		if len(column) < 2 {
			continue
		}
		within += float64(len(column)-1) * stat.Variance(column, nil)
		compared = append(compared, column...)
	}
	if len(compared) == 0 {
		return 0, false
	}

	total := float64(len(compared)-1) * stat.Variance(compared, nil)
	if !(total > 0) {
		return 0, true
	}
	return within / total, true
}

// PowerLawCost scores a candidate by how well a power-law background
// centered on it explains the masked image.
type PowerLawCost struct{}

// Name implements CostFunc
func (PowerLawCost) Name() string { return "powerlaw" }

// Cost implements CostFunc
func (PowerLawCost) Cost(img *models.ImageBuffer, m *mask.Mask, c models.Center) (float64, bool) {
	model, err := background.Fit(img, m, c)
	if err != nil {
		return 0, false
	}
	return model.Residual, true
}

// CostByName returns the cost strategy registered under name
func CostByName(name string, directions, minValid int) (CostFunc, bool) {
	switch name {
	case "", "dispersion":
		return DispersionCost{Directions: directions, MinValid: minValid}, true
	case "powerlaw":
		return PowerLawCost{}, true
	default:
		return nil, false
	}
}
