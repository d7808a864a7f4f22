package polar

import (
	"errors"
	"math"
	"testing"

	"uedcenter/internal/models"
)

func createRadialImage(t *testing.T, size int, c models.Center) *models.ImageBuffer {
	data := make([]float64, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r := math.Hypot(float64(x)-c.X, float64(y)-c.Y)
			data[y*size+x] = 1000 * math.Exp(-r*r/800)
		}
	}
	img, err := models.NewImageBuffer(data, size, size, 1)
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	return img
}

func TestTransformRowsAreFlatAboutTrueCenter(t *testing.T) {
	center := models.Center{X: 32, Y: 32}
	img := createRadialImage(t, 64, center)

	p, err := Transform(img, center, DefaultOptions())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	if p.AngleBins != DefaultAngleBins {
		t.Errorf("Expected %d angle bins, got %d", DefaultAngleBins, p.AngleBins)
	}
	if p.RadiusBins != 32 {
		t.Errorf("Expected 32 radius bins, got %d", p.RadiusBins)
	}
	if p.RadiusStep != 1 {
		t.Errorf("Expected unit radius step, got %f", p.RadiusStep)
	}

	for i := 0; i < p.RadiusBins; i++ {
		want := 1000 * math.Exp(-p.Radius(i)*p.Radius(i)/800)
		for j, v := range p.Row(i) {
			if math.Abs(v-want) > 0.01*want {
				t.Fatalf("Cell (%d,%d): expected ~%f, got %f", i, j, want, v)
			}
		}
	}
}

func TestTransformExplicitGrid(t *testing.T) {
	img := createRadialImage(t, 32, models.Center{X: 16, Y: 16})

	p, err := Transform(img, models.Center{X: 16, Y: 16}, Options{RadiusBins: 5, AngleBins: 8, MaxRadius: 10})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if p.RadiusStep != 2.5 {
		t.Errorf("Expected radius step 2.5, got %f", p.RadiusStep)
	}
	if math.Abs(p.AngleStep-math.Pi/4) > 1e-12 {
		t.Errorf("Expected angle step π/4, got %f", p.AngleStep)
	}
	if len(p.Values()) != 40 {
		t.Errorf("Expected 40 cells, got %d", len(p.Values()))
	}
	// angle 0 points along +x
	if got, want := p.At(4, 0), img.At(26, 16); math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected %f at (10, 0), got %f", want, got)
	}
}

func TestTransformFillsOutsideImage(t *testing.T) {
	img := createRadialImage(t, 16, models.Center{X: 8, Y: 8})

	opts := Options{AngleBins: 4, MaxRadius: 10, Fill: -1}
	p, err := Transform(img, models.Center{X: 2, Y: 2}, opts)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	// angle index 2 is π, which walks off the left edge
	if v := p.At(10, 2); v != -1 {
		t.Errorf("Expected fill value -1, got %f", v)
	}
	if v := p.At(10, 0); v == -1 {
		t.Error("Expected an in-image sample along +x")
	}

	nan, err := Transform(img, models.Center{X: 2, Y: 2}, Options{AngleBins: 4, MaxRadius: 10, Fill: math.NaN()})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if !math.IsNaN(nan.At(10, 2)) {
		t.Errorf("Expected NaN fill, got %f", nan.At(10, 2))
	}
}

func TestTransformExclusion(t *testing.T) {
	center := models.Center{X: 8, Y: 8}
	img := createRadialImage(t, 16, center)

	exclude := make([]bool, img.Len())
	exclude[8*16+8] = true

	p, err := Transform(img, center, Options{AngleBins: 8, MaxRadius: 4, Fill: math.NaN(), Exclude: exclude})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	for j, v := range p.Row(0) {
		if !math.IsNaN(v) {
			t.Errorf("Expected excluded center to read NaN at angle %d, got %f", j, v)
		}
	}

	sums := p.AngularSum()
	if sums[0] != 0 {
		t.Errorf("Expected zero sum over an all-NaN row, got %f", sums[0])
	}
	if !(sums[4] > 0) {
		t.Errorf("Expected positive sum at radius 4, got %f", sums[4])
	}
}

func TestTransformInvalidParameters(t *testing.T) {
	img := createRadialImage(t, 8, models.Center{X: 4, Y: 4})
	c := models.Center{X: 4, Y: 4}

	cases := map[string]Options{
		"negative radius bins": {RadiusBins: -1},
		"negative angle bins":  {AngleBins: -3},
		"negative max radius":  {MaxRadius: -2},
		"infinite max radius":  {MaxRadius: math.Inf(1)},
		"short exclusion map":  {Exclude: make([]bool, 3)},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Transform(img, c, opts); !errors.Is(err, models.ErrInvalidParameter) {
				t.Errorf("Expected ErrInvalidParameter, got %v", err)
			}
		})
	}

	if _, err := Transform(img, models.Center{X: math.NaN(), Y: 1}, DefaultOptions()); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for NaN center, got %v", err)
	}
}
