package session

import (
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"uedcenter/internal/models"
	"uedcenter/pkg/config"
	"uedcenter/pkg/mask"
)

// createRingImage creates a bright ring of the given radius about c on a
// uniform background
func createRingImage(t *testing.T, size int, c models.Center, radius float64) *models.ImageBuffer {
	data := make([]float64, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r := math.Hypot(float64(x)-c.X, float64(y)-c.Y)
			data[y*size+x] = 10 + 100*math.Exp(-(r-radius)*(r-radius)/12.5)
		}
	}
	img, err := models.NewImageBuffer(data, size, size, 1)
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	return img
}

func newRingSession(t *testing.T, logger *zap.Logger) *Session {
	cfg := config.DefaultConfig()
	cfg.Mask.LowerQuantile = 0.1
	cfg.Mask.UpperQuantile = 0.99

	s, err := New(createRingImage(t, 64, models.Center{X: 32, Y: 32}, 20), cfg, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestRingScenario(t *testing.T) {
	s := newRingSession(t, nil)

	seed := models.Center{X: 30, Y: 34}
	c, err := s.AutoCenter(&seed)
	if err != nil {
		t.Fatalf("AutoCenter failed: %v", err)
	}
	if math.Abs(c.X-32) > 1 || math.Abs(c.Y-32) > 1 {
		t.Errorf("Expected center (32, 32) +/- 1, got %v", c)
	}
	if _, kind := s.Center(); kind != models.CenterAuto {
		t.Errorf("Expected auto center, got %v", kind)
	}
	if res, ok := s.LastSearch(); !ok || res.Seed != seed {
		t.Errorf("Expected last search seeded at %v", seed)
	}

	a, err := s.Analyze()
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	row := a.Polar.Row(20)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range row {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi < 90 || lo < 0.8*hi {
		t.Errorf("Expected a near-uniform bright row at radius 20, got range [%.1f, %.1f]", lo, hi)
	}

	peak := 0
	for i, v := range a.TotalProfile {
		if v > a.TotalProfile[peak] {
			peak = i
		}
	}
	if peak < 19 || peak > 21 {
		t.Errorf("Expected total profile peak near 20, got bin %d", peak)
	}

	if len(a.FlattenedProfile) != len(a.TotalProfile) || len(a.BackgroundProfile) != len(a.TotalProfile) {
		t.Fatal("Expected profiles of equal length")
	}
	for i, v := range a.FlattenedProfile {
		if v < 0 {
			t.Errorf("Flattened profile negative at bin %d: %f", i, v)
		}
	}
}

func TestRingScenarioFromDistantSeeds(t *testing.T) {
	s := newRingSession(t, nil)
	truth := models.Center{X: 32, Y: 32}
	d := 0.9 * s.cfg.Centering.SearchRadius

	seeds := []models.Center{{X: 47, Y: 32}}
	for k := 0; k < 8; k++ {
		phi := float64(k) * math.Pi / 4
		seeds = append(seeds, models.Center{X: truth.X + d*math.Cos(phi), Y: truth.Y + d*math.Sin(phi)})
	}

	for _, seed := range seeds {
		seed := seed
		c, err := s.AutoCenter(&seed)
		if err != nil {
			t.Fatalf("AutoCenter from %v failed: %v", seed, err)
		}
		if math.Abs(c.X-truth.X) > 1 || math.Abs(c.Y-truth.Y) > 1 {
			t.Errorf("Seed %v: expected center %v +/- 1, got %v", seed, truth, c)
		}
	}
}

func TestAutoCenterUsesConfiguredGuess(t *testing.T) {
	s := newRingSession(t, nil)
	configured := models.Center{X: 47, Y: 32}
	s.cfg.Centering.InitialGuess = &configured

	c, err := s.AutoCenter(nil)
	if err != nil {
		t.Fatalf("AutoCenter failed: %v", err)
	}
	if res, ok := s.LastSearch(); !ok || res.Seed != configured {
		t.Errorf("Expected search seeded at %v", configured)
	}
	if math.Abs(c.X-32) > 1 || math.Abs(c.Y-32) > 1 {
		t.Errorf("Expected center (32, 32) +/- 1, got %v", c)
	}

	explicit := models.Center{X: 30, Y: 34}
	if _, err := s.AutoCenter(&explicit); err != nil {
		t.Fatalf("AutoCenter failed: %v", err)
	}
	if res, _ := s.LastSearch(); res.Seed != explicit {
		t.Errorf("Expected an explicit guess to override the configured one, got seed %v", res.Seed)
	}
}

func TestSearchMaskIsClosedThenEroded(t *testing.T) {
	s := newRingSession(t, nil)
	if s.cfg.Mask.CloseRadius <= 0 || s.cfg.Centering.ErodeRadius <= 0 {
		t.Fatalf("Expected closing and erosion enabled by default, got %v / %v",
			s.cfg.Mask.CloseRadius, s.cfg.Centering.ErodeRadius)
	}

	raw, err := mask.Compute(s.Image(), 0.1, 0.99, mask.Options{})
	if err != nil {
		t.Fatalf("mask.Compute failed: %v", err)
	}
	closed, err := s.computeMask(0.1, 0.99)
	if err != nil {
		t.Fatalf("computeMask failed: %v", err)
	}
	if closed.Count() < raw.Count() {
		t.Errorf("Expected closing to keep at least %d valid pixels, got %d", raw.Count(), closed.Count())
	}

	search := s.searchMask()
	if search.Count() >= s.Mask().Count() {
		t.Errorf("Expected erosion to shrink the mask, got %d of %d", search.Count(), s.Mask().Count())
	}
	if !search.Valid(52, 32) {
		t.Error("Expected the ring at radius 20 to survive erosion")
	}
	if search.Valid(0, 0) {
		t.Error("Expected the dark corner to stay masked")
	}

	seed := models.Center{X: 47, Y: 32}
	c, err := s.AutoCenter(&seed)
	if err != nil {
		t.Fatalf("AutoCenter failed: %v", err)
	}
	if math.Abs(c.X-32) > 1 || math.Abs(c.Y-32) > 1 {
		t.Errorf("Expected center (32, 32) +/- 1 with the eroded mask, got %v", c)
	}
}

func TestAnalyzeResolvesPointsOfInterest(t *testing.T) {
	s := newRingSession(t, nil)
	s.SetManualCenter(models.Center{X: 32, Y: 32})

	a, err := s.Analyze()
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(a.PointsOfInterest) != 2 || a.PointsOfInterest[0] != 8.2 || a.PointsOfInterest[1] != 10.7 {
		t.Errorf("Expected default radii [8.2 10.7], got %v", a.PointsOfInterest)
	}
	if len(a.Circles) != 2 || a.Circles[0].Center != a.Center {
		t.Errorf("Expected circles about %v, got %+v", a.Center, a.Circles)
	}
	if a.Kind != models.CenterManual {
		t.Errorf("Expected manual center, got %v", a.Kind)
	}
	if a.MaskedPolar.RadiusBins != a.Polar.RadiusBins {
		t.Error("Expected masked and plain polar images of the same shape")
	}
}

func TestManualCenterTakesPrecedence(t *testing.T) {
	s := newRingSession(t, nil)

	if c, kind := s.Center(); kind != models.CenterNone || c != s.Image().GeometricCenter() {
		t.Errorf("Expected geometric center before any centering, got %v (%v)", c, kind)
	}

	manual := models.Center{X: 10, Y: 12}
	s.SetManualCenter(manual)

	seed := models.Center{X: 30, Y: 34}
	if _, err := s.AutoCenter(&seed); err != nil {
		t.Fatalf("AutoCenter failed: %v", err)
	}
	if c, kind := s.Center(); kind != models.CenterManual || c != manual {
		t.Errorf("Expected manual center %v to win, got %v (%v)", manual, c, kind)
	}

	s.ResetManualCenter()
	if c, kind := s.Center(); kind != models.CenterAuto || c == manual {
		t.Errorf("Expected auto center after reset, got %v (%v)", c, kind)
	}
}

func TestSetManualCenterClipsOutOfBounds(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := newRingSession(t, zap.New(core))

	got := s.SetManualCenter(models.Center{X: -5, Y: 100})
	if got.X != 0 || got.Y != 63 {
		t.Errorf("Expected center clipped to (0, 63), got %v", got)
	}
	if logs.FilterMessage("manual center outside image, clipped").Len() != 1 {
		t.Error("Expected an out-of-bounds warning")
	}
}

func TestAutoCenterFallsBackOnSparseMask(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := newRingSession(t, zap.New(core))

	if err := s.UpdateMask(0.999, 1); err != nil {
		t.Fatalf("UpdateMask failed: %v", err)
	}

	c, err := s.AutoCenter(nil)
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("Expected ErrInsufficientData, got %v", err)
	}
	if c != s.Image().GeometricCenter() {
		t.Errorf("Expected geometric fallback, got %v", c)
	}
	if logs.FilterMessage("center search failed, keeping previous center").Len() != 1 {
		t.Error("Expected a fallback warning")
	}

	// a previously found center survives a later failure
	if err := s.UpdateMask(0.1, 0.99); err != nil {
		t.Fatalf("UpdateMask failed: %v", err)
	}
	seed := models.Center{X: 30, Y: 34}
	found, err := s.AutoCenter(&seed)
	if err != nil {
		t.Fatalf("AutoCenter failed: %v", err)
	}
	if err := s.UpdateMask(0.999, 1); err != nil {
		t.Fatalf("UpdateMask failed: %v", err)
	}
	kept, err := s.AutoCenter(nil)
	if !errors.Is(err, models.ErrInsufficientData) || kept != found {
		t.Errorf("Expected previous center %v kept, got %v (%v)", found, kept, err)
	}
}

func TestUpdateMaskKeepsPreviousOnError(t *testing.T) {
	s := newRingSession(t, nil)
	before := s.Mask()

	if err := s.UpdateMask(0.9, 0.1); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
	if s.Mask() != before {
		t.Error("Expected the previous mask to stay in place")
	}

	if err := s.UpdateMask(0, 1); err != nil {
		t.Fatalf("UpdateMask failed: %v", err)
	}
	if s.Mask().Count() != s.Image().Len() {
		t.Errorf("Expected a full mask, got %d of %d", s.Mask().Count(), s.Image().Len())
	}
}

func TestDisplayRange(t *testing.T) {
	s := newRingSession(t, nil)

	vmin, vmax, err := s.DisplayRange(0.1)
	if err != nil {
		t.Fatalf("DisplayRange failed: %v", err)
	}
	maxValue := 0.0
	for _, v := range s.Image().Values() {
		maxValue = math.Max(maxValue, v)
	}
	if math.Abs(vmax-0.1*maxValue) > 1e-9 {
		t.Errorf("Expected vmax %f, got %f", 0.1*maxValue, vmax)
	}
	if vmin < 10 || vmin > 10.001 {
		t.Errorf("Expected vmin near the background level, got %f", vmin)
	}

	for _, b := range []float64{0, -0.5, 1.5, math.NaN()} {
		if _, _, err := s.DisplayRange(b); !errors.Is(err, models.ErrInvalidParameter) {
			t.Errorf("Brightness %v: expected ErrInvalidParameter, got %v", b, err)
		}
	}
}

func TestPointsOfInterestWarnsOnBadTokens(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := newRingSession(t, zap.New(core))

	radii, err := s.PointsOfInterest("5,,10")
	if !errors.Is(err, models.ErrParse) {
		t.Errorf("Expected ErrParse, got %v", err)
	}
	if len(radii) != 2 || radii[0] != 5 || radii[1] != 10 {
		t.Errorf("Expected [5 10], got %v", radii)
	}
	if logs.FilterMessage("dropped invalid points of interest").Len() != 1 {
		t.Error("Expected a parse warning")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Profile.Directions = 0

	img := createRingImage(t, 16, models.Center{X: 8, Y: 8}, 4)
	if _, err := New(img, cfg, nil); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
	if _, err := New(nil, nil, nil); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for nil image, got %v", err)
	}
}

func TestPolarFollowsEffectiveCenter(t *testing.T) {
	s := newRingSession(t, nil)

	s.SetManualCenter(models.Center{X: 20, Y: 25})
	p, err := s.Polar()
	if err != nil {
		t.Fatalf("Polar failed: %v", err)
	}
	if p.Center.X != 20 || p.Center.Y != 25 {
		t.Errorf("Expected polar image about (20, 25), got %v", p.Center)
	}
	if p.RadiusBins != 21 {
		t.Errorf("Expected 21 radius bins up to the nearest edge, got %d", p.RadiusBins)
	}

	set, err := s.Profiles()
	if err != nil {
		t.Fatalf("Profiles failed: %v", err)
	}
	if len(set.Profiles) != 16 || set.Center != p.Center {
		t.Errorf("Expected 16 profiles about %v, got %d about %v", p.Center, len(set.Profiles), set.Center)
	}
}
