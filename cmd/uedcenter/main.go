package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"uedcenter/internal/logging"
	"uedcenter/internal/models"
	"uedcenter/pkg/config"
	"uedcenter/pkg/loader"
	"uedcenter/pkg/session"
)

type maskReport struct {
	LowerQuantile float64 `yaml:"lowerQuantile"`
	UpperQuantile float64 `yaml:"upperQuantile"`
	Lo            float64 `yaml:"lo"`
	Hi            float64 `yaml:"hi"`
	ValidFraction float64 `yaml:"validFraction"`
}

type searchReport struct {
	Seed        models.Center `yaml:"seed"`
	Cost        float64       `yaml:"cost"`
	Iterations  int           `yaml:"iterations"`
	Evaluations int           `yaml:"evaluations"`
	Status      string        `yaml:"status"`
}

type peakReport struct {
	Bin    int     `yaml:"bin"`
	Radius float64 `yaml:"radius"`
	Value  float64 `yaml:"value"`
}

type report struct {
	Input            string        `yaml:"input"`
	Width            int           `yaml:"width"`
	Height           int           `yaml:"height"`
	PixelSize        float64       `yaml:"pixelSize"`
	Center           models.Center `yaml:"center"`
	Source           string        `yaml:"source"`
	Search           *searchReport `yaml:"search,omitempty"`
	Mask             maskReport    `yaml:"mask"`
	DisplayRange     [2]float64    `yaml:"displayRange,flow"`
	FlattenedPeak    peakReport    `yaml:"flattenedPeak"`
	PointsOfInterest []float64     `yaml:"pointsOfInterest,flow"`
}

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Diffraction image to center")
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	lower := flag.Float64("lower", 0, "Lower intensity quantile (overrides config)")
	upper := flag.Float64("upper", 0, "Upper intensity quantile (overrides config)")
	centerX := flag.Float64("x", 0, "Manual center x in pixels (requires -y)")
	centerY := flag.Float64("y", 0, "Manual center y in pixels (requires -x)")
	seedX := flag.Float64("seed-x", 0, "Initial guess x for the center search (requires -seed-y)")
	seedY := flag.Float64("seed-y", 0, "Initial guess y for the center search (requires -seed-x)")
	searchRadius := flag.Float64("search-radius", 0, "Search radius about the initial guess in pixels (overrides config)")
	pointsOfInterest := flag.String("poi", "", "Comma-separated radii of interest in physical units (overrides config)")
	pixelSize := flag.Float64("pixel-size", 0, "Physical size of one pixel (overrides config)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["lower"] {
		cfg.Mask.LowerQuantile = *lower
	}
	if set["upper"] {
		cfg.Mask.UpperQuantile = *upper
	}
	if set["poi"] {
		cfg.Display.PointsOfInterest = *pointsOfInterest
	}
	if set["pixel-size"] {
		cfg.Display.PixelSize = *pixelSize
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if set["search-radius"] {
		cfg.Centering.SearchRadius = *searchRadius
	}
	if set["x"] != set["y"] {
		log.Fatalf("Manual center needs both -x and -y")
	}
	if set["seed-x"] != set["seed-y"] {
		log.Fatalf("Initial guess needs both -seed-x and -seed-y")
	}
	if set["seed-x"] {
		cfg.Centering.InitialGuess = &models.Center{X: *seedX, Y: *seedY}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Output.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	if !cfg.Output.Verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(zapcore.InfoLevel))
	}
	defer logging.Sync(logger)

	img, err := loader.Load(*inputPath, cfg.Display.PixelSize)
	if err != nil {
		log.Fatalf("Failed to load image: %v", err)
	}

	s, err := session.New(img, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start analysis: %v", err)
	}

	if _, err := s.AutoCenter(nil); err != nil && !errors.Is(err, models.ErrInsufficientData) {
		log.Fatalf("Centering failed: %v", err)
	}
	if set["x"] {
		s.SetManualCenter(models.Center{X: *centerX, Y: *centerY})
	}

	analysis, err := s.Analyze()
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	vmin, vmax, err := s.DisplayRange(cfg.Display.Brightness)
	if err != nil {
		logger.Warn("display range unavailable", zap.Error(err))
	}

	m := s.Mask()
	out := report{
		Input:     *inputPath,
		Width:     img.Width(),
		Height:    img.Height(),
		PixelSize: img.PixelSize(),
		Center:    analysis.Center,
		Source:    analysis.Kind.String(),
		Mask: maskReport{
			LowerQuantile: m.LowerQuantile,
			UpperQuantile: m.UpperQuantile,
			Lo:            m.Lo,
			Hi:            m.Hi,
			ValidFraction: m.Fraction(),
		},
		DisplayRange:     [2]float64{vmin, vmax},
		PointsOfInterest: analysis.PointsOfInterest,
	}
	if res, ok := s.LastSearch(); ok {
		out.Search = &searchReport{
			Seed:        res.Seed,
			Cost:        res.Cost,
			Iterations:  res.Iterations,
			Evaluations: res.Evaluations,
			Status:      res.Status,
		}
	}
	for i, v := range analysis.FlattenedProfile {
		if v > out.FlattenedPeak.Value {
			out.FlattenedPeak = peakReport{Bin: i, Radius: analysis.Polar.Radius(i), Value: v}
		}
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		log.Fatalf("Failed to encode report: %v", err)
	}
	fmt.Print(string(data))
}
