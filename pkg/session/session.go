// Package session ties the centering pipeline together for one loaded
// diffraction image: it owns the current mask and the auto/manual center,
// and recomputes the derived views on demand.
package session

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"uedcenter/internal/logging"
	"uedcenter/internal/models"
	"uedcenter/pkg/background"
	"uedcenter/pkg/centering"
	"uedcenter/pkg/config"
	"uedcenter/pkg/mask"
	"uedcenter/pkg/poi"
	"uedcenter/pkg/polar"
	"uedcenter/pkg/profile"
)

// Session holds the analysis state of a single image.
//
// The image is immutable. The mask is replaced whenever the quantile
// thresholds change, and the center persists until it is re-run, overridden
// or reset. Every derived view is recomputed from that state on each call.
// A Session is not safe for concurrent use.
type Session struct {
	cfg    *config.Config
	logger *zap.Logger

	image  *models.ImageBuffer
	mask   *mask.Mask
	center models.CenterState

	// last holds the most recent successful search
	last *centering.Result
}

// Analysis bundles every view the display layer consumes for one center
type Analysis struct {
	Center models.Center
	Kind   models.CenterKind

	// Polar is the unmasked polar image; MaskedPolar hides the pixels below
	// the lower quantile (the beam block) as NaN
	Polar       *polar.PolarImage
	MaskedPolar *polar.PolarImage

	Profiles *profile.ProfileSet

	// Background is nil when no power law could be fitted
	Background *background.Model

	// Angular sums per radius bin. Flattened is max(0, Total - Background).
	TotalProfile      []float64
	BackgroundProfile []float64
	FlattenedProfile  []float64

	PointsOfInterest []float64
	Circles          []poi.Circle
	Lines            []poi.Line
}

// New creates a session for img. The session works on a copy of cfg; a nil
// cfg selects config.DefaultConfig and a nil logger discards all output.
//
// Parameters:
//   - img: Image to analyze
//   - cfg: Analysis parameters, validated before use
//   - logger: Structured logger for warnings and progress
//
// Returns:
//   - A session with the configured quantile mask already computed
//   - ErrInvalidParameter for a bad configuration, ErrInsufficientData when
//     the image has no usable pixel
func New(img *models.ImageBuffer, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", models.ErrInvalidParameter)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	own := *cfg
	s := &Session{
		cfg:    &own,
		logger: logging.OrNop(logger),
		image:  img,
	}

	m, err := s.computeMask(cfg.Mask.LowerQuantile, cfg.Mask.UpperQuantile)
	if err != nil {
		return nil, err
	}
	s.mask = m

	s.logger.Debug("session created",
		zap.Int("width", img.Width()),
		zap.Int("height", img.Height()),
		zap.Float64("pixelSize", img.PixelSize()),
		zap.Int("validPixels", m.Count()))

	return s, nil
}

// Image returns the analyzed image
func (s *Session) Image() *models.ImageBuffer { return s.image }

// Mask returns the current validity mask
func (s *Session) Mask() *mask.Mask { return s.mask }

// LastSearch returns the most recent successful center search, if any
func (s *Session) LastSearch() (*centering.Result, bool) { return s.last, s.last != nil }

func (s *Session) computeMask(lower, upper float64) (*mask.Mask, error) {
	m, err := mask.Compute(s.image, lower, upper, mask.Options{Saturation: s.cfg.Mask.Saturation})
	if err != nil {
		return nil, err
	}
	if s.cfg.Mask.CloseRadius > 0 {
		m = m.Closed(s.cfg.Mask.CloseRadius)
	}
	return m, nil
}

// UpdateMask recomputes the mask for new quantile thresholds. On failure the
// previous mask stays in place and the error is returned.
func (s *Session) UpdateMask(lower, upper float64) error {
	m, err := s.computeMask(lower, upper)
	if err != nil {
		s.logger.Warn("mask update rejected, keeping previous mask",
			zap.Float64("lower", lower),
			zap.Float64("upper", upper),
			zap.Error(err))
		return err
	}

	s.mask = m
	s.cfg.Mask.LowerQuantile = lower
	s.cfg.Mask.UpperQuantile = upper

	s.logger.Debug("mask updated",
		zap.Float64("lo", m.Lo),
		zap.Float64("hi", m.Hi),
		zap.Int("validPixels", m.Count()))
	return nil
}

// fitStep is the downsampling step that brings the shorter image side to
// at most MaxFitSize pixels
func (s *Session) fitStep() int {
	short := min(s.image.Width(), s.image.Height())
	return max(1, short/s.cfg.Centering.MaxFitSize)
}

func (s *Session) searchMask() *mask.Mask {
	if s.cfg.Centering.ErodeRadius > 0 {
		return s.mask.Eroded(s.cfg.Centering.ErodeRadius)
	}
	return s.mask
}

// AutoCenter runs the center search and stores the result as the auto center.
// A nil guess falls back to the configured initial guess, then to the
// mask-weighted centroid.
//
// When the mask is too sparse the search is abandoned: the previous center,
// or the geometric center when there is none, is returned together with an
// error wrapping ErrInsufficientData. The returned center is always usable.
func (s *Session) AutoCenter(guess *models.Center) (models.Center, error) {
	opts := s.cfg.SearchOptions()
	if guess != nil {
		opts.InitialGuess = guess
	}
	opts.Step = s.fitStep()
	opts.Logger = s.logger

	res, err := centering.FindCenter(s.image, s.searchMask(), opts)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientData) {
			fallback, kind := s.Center()
			s.logger.Warn("center search failed, keeping previous center",
				zap.Error(err),
				zap.Stringer("center", fallback),
				zap.Stringer("source", kind))
			return fallback, err
		}
		return models.Center{}, err
	}

	s.last = res
	s.center.SetAuto(res.Center)

	s.logger.Info("auto center found",
		zap.Stringer("center", res.Center),
		zap.Float64("cost", res.Cost),
		zap.Int("iterations", res.Iterations),
		zap.Int("step", opts.Step))

	return res.Center, nil
}

// SetManualCenter overrides the auto center until ResetManualCenter.
// Centers outside the image are clipped onto it with a warning.
func (s *Session) SetManualCenter(c models.Center) models.Center {
	clamped, clipped := s.image.Clamp(c)
	if clipped {
		s.logger.Warn("manual center outside image, clipped",
			zap.Error(models.ErrOutOfBounds),
			zap.Stringer("requested", c),
			zap.Stringer("clipped", clamped))
	}
	s.center.SetManual(clamped)
	return clamped
}

// ResetManualCenter drops the manual override
func (s *Session) ResetManualCenter() {
	s.center.ResetManual()
}

// Center returns the effective center: manual, else auto, else the
// geometric center of the image with kind CenterNone
func (s *Session) Center() (models.Center, models.CenterKind) {
	c, kind := s.center.Current()
	if kind == models.CenterNone {
		return s.image.GeometricCenter(), kind
	}
	return c, kind
}

// Profiles extracts the radial profile set about the effective center
func (s *Session) Profiles() (*profile.ProfileSet, error) {
	c, _ := s.Center()
	return profile.Profiles(s.image, s.mask, c, profile.Options{Directions: s.cfg.Profile.Directions})
}

func (s *Session) polarOptions() polar.Options {
	opts := polar.DefaultOptions()
	opts.RadiusBins = s.cfg.Polar.RadiusBins
	opts.AngleBins = s.cfg.Polar.AngleBins
	return opts
}

// Polar resamples the image about the effective center
func (s *Session) Polar() (*polar.PolarImage, error) {
	c, _ := s.Center()
	return polar.Transform(s.image, c, s.polarOptions())
}

// PointsOfInterest resolves the given radii text with the image pixel size.
// Malformed tokens are logged and dropped; the error is still returned so
// callers can surface it.
func (s *Session) PointsOfInterest(text string) ([]float64, error) {
	radii, err := poi.Resolve(text, s.image.PixelSize())
	if err != nil {
		if errors.Is(err, models.ErrInvalidParameter) {
			return nil, err
		}
		s.logger.Warn("dropped invalid points of interest",
			zap.String("text", text),
			zap.Error(err))
	}
	return radii, err
}

// DisplayRange returns the color scale limits for the Cartesian view:
// vmin is the smallest finite intensity and vmax is 0.01/brightness times
// the largest. brightness must lie in (0, 1].
func (s *Session) DisplayRange(brightness float64) (vmin, vmax float64, err error) {
	if !(brightness > 0) || brightness > 1 {
		return 0, 0, fmt.Errorf("%w: brightness %v, must lie in (0, 1]", models.ErrInvalidParameter, brightness)
	}
	finite := make([]float64, 0, s.image.Len())
	for _, v := range s.image.Values() {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, 0, fmt.Errorf("%w: no finite pixels", models.ErrInsufficientData)
	}
	return floats.Min(finite), 0.01 / brightness * floats.Max(finite), nil
}

// Analyze computes every derived view about the effective center.
//
// The polar images, profiles and background are recomputed on every call.
// A failed background fit is logged and leaves the background profile at
// zero, so the flattened profile equals the total profile.
func (s *Session) Analyze() (*Analysis, error) {
	c, kind := s.Center()

	plain, err := polar.Transform(s.image, c, s.polarOptions())
	if err != nil {
		return nil, fmt.Errorf("polar transform failed: %w", err)
	}

	maskedOpts := s.polarOptions()
	maskedOpts.Exclude = s.mask.Below()
	masked, err := polar.Transform(s.image, c, maskedOpts)
	if err != nil {
		return nil, fmt.Errorf("masked polar transform failed: %w", err)
	}

	set, err := s.Profiles()
	if err != nil {
		return nil, fmt.Errorf("profile extraction failed: %w", err)
	}

	a := &Analysis{
		Center:       c,
		Kind:         kind,
		Polar:        plain,
		MaskedPolar:  masked,
		Profiles:     set,
		TotalProfile: masked.AngularSum(),
	}

	a.BackgroundProfile = make([]float64, len(a.TotalProfile))
	if model, err := s.fitBackground(c); err != nil {
		s.logger.Warn("background fit failed, profile left unflattened", zap.Error(err))
	} else {
		a.Background = &model
		bkg, err := model.Image(s.image.Width(), s.image.Height(), s.image.PixelSize())
		if err != nil {
			return nil, fmt.Errorf("background rendering failed: %w", err)
		}
		bkgPolar, err := polar.Transform(bkg, c, maskedOpts)
		if err != nil {
			return nil, fmt.Errorf("background polar transform failed: %w", err)
		}
		a.BackgroundProfile = bkgPolar.AngularSum()
	}

	a.FlattenedProfile = make([]float64, len(a.TotalProfile))
	floats.SubTo(a.FlattenedProfile, a.TotalProfile, a.BackgroundProfile)
	for i, v := range a.FlattenedProfile {
		a.FlattenedProfile[i] = math.Max(0, v)
	}

	radii, err := s.PointsOfInterest(s.cfg.Display.PointsOfInterest)
	if errors.Is(err, models.ErrInvalidParameter) {
		return nil, err
	}
	a.PointsOfInterest = radii
	a.Circles, a.Lines = poi.Overlays(radii, c, plain.RadiusStep)

	s.logger.Debug("analysis complete",
		zap.Stringer("center", c),
		zap.Stringer("source", kind),
		zap.Int("radiusBins", plain.RadiusBins),
		zap.Bool("background", a.Background != nil))

	return a, nil
}

// fitBackground fits the power-law background on the downsampled search
// image and maps it back to full resolution
func (s *Session) fitBackground(c models.Center) (background.Model, error) {
	step := s.fitStep()
	scale := 1 / float64(step)
	model, err := background.Fit(s.image.Downsample(step), s.searchMask().Downsample(step), c.Scale(scale))
	if err != nil {
		return background.Model{}, err
	}
	return model.Scale(step), nil
}
