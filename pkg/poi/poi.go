// Package poi turns user-entered radii of interest into overlay geometry
// for the Cartesian and polar views.
package poi

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"uedcenter/internal/models"
)

// DefaultText is the points-of-interest input used when none is configured
const DefaultText = "8.2,10.7"

// Circle is a ring overlay on the Cartesian view
type Circle struct {
	Center models.Center `yaml:"center"`
	Radius float64       `yaml:"radius"`
}

// Line is a vertical overlay on the polar and profile views, placed at a
// fractional radius bin
type Line struct {
	Radius float64 `yaml:"radius"`
	Bin    float64 `yaml:"bin"`
}

// Resolve parses a comma-separated list of physical radii and converts them
// to pixels by dividing by pixelSize.
//
// Tokens that are empty, non-numeric, non-finite or negative are dropped.
// The radii that did parse are always returned, in input order; the error,
// when non-nil, joins one ErrParse per dropped token.
func Resolve(text string, pixelSize float64) ([]float64, error) {
	if !(pixelSize > 0) || math.IsInf(pixelSize, 0) {
		return nil, fmt.Errorf("%w: pixel size %v", models.ErrInvalidParameter, pixelSize)
	}

	radii := []float64{}
	if strings.TrimSpace(text) == "" {
		return radii, nil
	}

	var errs []error
	for i, token := range strings.Split(text, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			errs = append(errs, fmt.Errorf("%w: empty token at position %d", models.ErrParse, i))
			continue
		}
		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: token %q at position %d is not a number", models.ErrParse, token, i))
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			errs = append(errs, fmt.Errorf("%w: token %q at position %d is not a radius", models.ErrParse, token, i))
			continue
		}
		radii = append(radii, v/pixelSize)
	}

	return radii, errors.Join(errs...)
}

// Overlays places pixel radii on both views. radiusStep is the pixel width of
// one polar radius bin; a non-positive step is treated as one pixel.
func Overlays(radii []float64, center models.Center, radiusStep float64) ([]Circle, []Line) {
	if !(radiusStep > 0) {
		radiusStep = 1
	}
	circles := make([]Circle, len(radii))
	lines := make([]Line, len(radii))
	for i, r := range radii {
		circles[i] = Circle{Center: center, Radius: r}
		lines[i] = Line{Radius: r, Bin: r / radiusStep}
	}
	return circles, lines
}
