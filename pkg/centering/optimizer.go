// Package centering locates the center of a diffraction pattern by a
// bounded, derivative-free search over candidate centers.
package centering

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"uedcenter/internal/logging"
	"uedcenter/internal/models"
	"uedcenter/pkg/mask"
)

// maxScanSteps bounds the coarse grid to about this many points per radius
const maxScanSteps = 16

// scanStartCount is how many of the best grid points seed a simplex run
const scanStartCount = 3

// undefinedCost stands in for candidates that cannot be scored. It is finite
// so the simplex arithmetic and convergence checks stay well defined.
const undefinedCost = 1e100

// Options controls the center search
type Options struct {
	// InitialGuess seeds the search. Nil selects the mask-weighted centroid.
	InitialGuess *models.Center

	// SearchRadius bounds the search to a disc about the seed
	SearchRadius float64

	// Cost is the scoring strategy. Nil selects DispersionCost.
	Cost CostFunc

	// Tolerance is the cost improvement below which an iteration counts as stalled
	Tolerance float64

	// StallIterations is how many stalled iterations end the search
	StallIterations int

	// MaxIterations caps the number of simplex iterations
	MaxIterations int

	// MinValidFraction is the smallest share of valid mask pixels to search with
	MinValidFraction float64

	// SimplexSize is the edge length of the initial simplex in pixels
	SimplexSize float64

	// Step downsamples image and mask before the search; results are
	// reported in full-resolution coordinates
	Step int

	Logger *zap.Logger
}

// DefaultOptions returns the search settings used when nothing is configured
func DefaultOptions() Options {
	return Options{
		SearchRadius:     20,
		Cost:             DispersionCost{Directions: 16, MinValid: 5},
		Tolerance:        1e-9,
		StallIterations:  20,
		MaxIterations:    500,
		MinValidFraction: 0.01,
		SimplexSize:      2,
		Step:             1,
	}
}

// Result is the outcome of a center search
type Result struct {
	Center      models.Center
	Seed        models.Center
	Cost        float64
	Iterations  int
	Evaluations int
	Status      string
}

func (o Options) validate() error {
	if !(o.SearchRadius > 0) || math.IsInf(o.SearchRadius, 0) {
		return fmt.Errorf("%w: search radius %v", models.ErrInvalidParameter, o.SearchRadius)
	}
	if o.Tolerance < 0 || math.IsNaN(o.Tolerance) {
		return fmt.Errorf("%w: tolerance %v", models.ErrInvalidParameter, o.Tolerance)
	}
	if o.MaxIterations < 1 || o.StallIterations < 1 {
		return fmt.Errorf("%w: iteration limits %d/%d", models.ErrInvalidParameter, o.MaxIterations, o.StallIterations)
	}
	if o.MinValidFraction < 0 || o.MinValidFraction > 1 || math.IsNaN(o.MinValidFraction) {
		return fmt.Errorf("%w: min valid fraction %v", models.ErrInvalidParameter, o.MinValidFraction)
	}
	if !(o.SimplexSize > 0) {
		return fmt.Errorf("%w: simplex size %v", models.ErrInvalidParameter, o.SimplexSize)
	}
	if o.Step < 0 {
		return fmt.Errorf("%w: downsampling step %d", models.ErrInvalidParameter, o.Step)
	}
	return nil
}

// FindCenter searches for the center minimising opts.Cost.
//
// The feasible region is the disc of SearchRadius about the seed, clipped
// to the image. A coarse grid over that region is scored first, and
// Nelder-Mead then refines from the best few grid points; the lowest result
// wins. Simplex candidates outside the region are projected back onto it and
// charged a quadratic penalty on the projection distance, so the minimum
// always lies inside. The search is deterministic.
//
// Parameters:
//   - img: Image to center
//   - m: Validity mask; nil treats every pixel as valid
//   - opts: Search settings
//
// Returns:
//   - The best center in full-resolution pixel coordinates
//   - ErrInvalidParameter for bad settings, ErrInsufficientData when the mask
//     is too sparse or the seed cannot be scored
func FindCenter(img *models.ImageBuffer, m *mask.Mask, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger)

	if m == nil {
		m = mask.Full(img.Width(), img.Height())
	}
	if m.Width() != img.Width() || m.Height() != img.Height() {
		return nil, fmt.Errorf("%w: mask %dx%d does not match image %dx%d",
			models.ErrInvalidParameter, m.Width(), m.Height(), img.Width(), img.Height())
	}
	if m.Fraction() < opts.MinValidFraction || m.Count() == 0 {
		return nil, fmt.Errorf("%w: %.2f%% of pixels valid, need %.2f%%",
			models.ErrInsufficientData, 100*m.Fraction(), 100*opts.MinValidFraction)
	}

	seed := Seed(img, m, opts.InitialGuess)
	if clamped, clipped := img.Clamp(seed); clipped {
		logger.Warn("initial guess outside image, clipped",
			zap.Error(models.ErrOutOfBounds),
			zap.Stringer("requested", seed),
			zap.Stringer("clipped", clamped))
		seed = clamped
	}

	step := opts.Step
	if step < 1 {
		step = 1
	}
	scale := 1 / float64(step)
	work := img.Downsample(step)
	workMask := m.Downsample(step)
	workSeed, _ := work.Clamp(seed.Scale(scale))
	radius := opts.SearchRadius * scale

	cost := opts.Cost
	if cost == nil {
		cost = DefaultOptions().Cost
	}
	if d, ok := cost.(DispersionCost); ok && d.MaxRadius == 0 {
		d.MaxRadius = math.Max(1, float64(min(work.Width(), work.Height()))/2)
		cost = d
	}

	if _, ok := cost.Cost(work, workMask, workSeed); !ok {
		return nil, fmt.Errorf("%w: %s cost undefined at seed %v",
			models.ErrInsufficientData, cost.Name(), seed)
	}

	project := func(c models.Center) (models.Center, float64) {
		p := c
		if d := c.Distance(workSeed); d > radius {
			p = models.Center{
				X: workSeed.X + (c.X-workSeed.X)*radius/d,
				Y: workSeed.Y + (c.Y-workSeed.Y)*radius/d,
			}
		}
		p, _ = work.Clamp(p)
		return p, c.Distance(p)
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			p, dist := project(models.Center{X: x[0], Y: x[1]})
			v, ok := cost.Cost(work, workMask, p)
			if !ok {
				v = undefinedCost
			}
			return math.Min(v+(v+1)*dist*dist, math.MaxFloat64)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tolerance,
			Iterations: opts.StallIterations,
		},
	}

	simplex := opts.SimplexSize * scale
	starts := scanStarts(work, workSeed, radius, math.Max(simplex, radius/maxScanSteps), func(c models.Center) (float64, bool) {
		return cost.Cost(work, workMask, c)
	})

	var best *optimize.Result
	result := &Result{Seed: seed}
	for _, start := range starts {
		method := &optimize.NelderMead{SimplexSize: simplex}
		res, err := optimize.Minimize(problem, []float64{start.X, start.Y}, settings, method)
		if res == nil {
			return nil, fmt.Errorf("center search failed: %w", err)
		}
		if err != nil {
			logger.Warn("center search ended early", zap.Error(err), zap.Stringer("start", start))
		}
		result.Iterations += res.Stats.MajorIterations
		result.Evaluations += res.Stats.FuncEvaluations
		if best == nil || res.F < best.F {
			best = res
		}
	}

	center, _ := project(models.Center{X: best.X[0], Y: best.X[1]})
	result.Center = center.Scale(float64(step))
	result.Cost = best.F
	result.Status = best.Status.String()

	logger.Debug("center search finished",
		zap.String("cost", cost.Name()),
		zap.Stringer("seed", seed),
		zap.Int("starts", len(starts)),
		zap.Stringer("center", result.Center),
		zap.Float64("value", result.Cost),
		zap.Int("iterations", result.Iterations),
		zap.String("status", result.Status))

	return result, nil
}

// scanStarts scores a square grid of the given spacing over the feasible
// region (the disc of radius about seed, inside the image) and returns the
// lowest-cost points, best first. The seed itself is always a grid point.
// The scan is deterministic: ties keep grid order.
func scanStarts(img *models.ImageBuffer, seed models.Center, radius, spacing float64, score func(models.Center) (float64, bool)) []models.Center {
	type scored struct {
		at   models.Center
		cost float64
	}

	n := int(math.Ceil(radius / spacing))
	var grid []scored
	for j := -n; j <= n; j++ {
		for i := -n; i <= n; i++ {
			c := models.Center{X: seed.X + float64(i)*spacing, Y: seed.Y + float64(j)*spacing}
			if c.Distance(seed) > radius || !img.Contains(c.X, c.Y) {
				continue
			}
			v, ok := score(c)
			if !ok {
				continue
			}
			grid = append(grid, scored{at: c, cost: v})
		}
	}
	if len(grid) == 0 {
		return []models.Center{seed}
	}

	sort.SliceStable(grid, func(a, b int) bool { return grid[a].cost < grid[b].cost })
	starts := make([]models.Center, 0, scanStartCount)
	for _, g := range grid[:min(len(grid), scanStartCount)] {
		starts = append(starts, g.at)
	}
	return starts
}

// Seed resolves the starting point of a search: the explicit guess when
// given, else the mask-weighted centroid, else the geometric center.
func Seed(img *models.ImageBuffer, m *mask.Mask, guess *models.Center) models.Center {
	if guess != nil {
		return *guess
	}
	if c, ok := Centroid(img, m); ok {
		return c
	}
	return img.GeometricCenter()
}

// Centroid returns the intensity-weighted centroid of the valid pixels.
// ok is false when the valid pixels carry no positive intensity.
func Centroid(img *models.ImageBuffer, m *mask.Mask) (models.Center, bool) {
	var xs, ys, ws []float64
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			if m != nil && !m.Valid(x, y) {
				continue
			}
			v := img.At(x, y)
			if !(v > 0) || math.IsInf(v, 0) {
				continue
			}
			xs = append(xs, float64(x))
			ys = append(ys, float64(y))
			ws = append(ws, v)
		}
	}
	if len(ws) == 0 {
		return models.Center{}, false
	}
	return models.Center{X: stat.Mean(xs, ws), Y: stat.Mean(ys, ws)}, true
}
