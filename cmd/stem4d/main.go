package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stem4d/pkg/config"
	"stem4d/pkg/dpc"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Path to the .s4d dataset to analyse")
	outputDir := flag.String("output", "", "Output directory (default: from config)")
	configPath := flag.String("config", "stem4d.yaml", "Path to YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to the config path and exit")
	fetchURL := flag.String("fetch-url", "", "Download the dataset from this URL when the input file is missing")
	workers := flag.Int("workers", 0, "Number of worker goroutines (default: from config)")
	threshold := flag.Float64("threshold", math.NaN(), "Binarisation threshold as a multiple of the masked mean; negative disables")
	maskCX := flag.Float64("mask-cx", math.NaN(), "Collection mask centre x in detector pixels")
	maskCY := flag.Float64("mask-cy", math.NaN(), "Collection mask centre y in detector pixels")
	maskR := flag.Float64("mask-r", math.NaN(), "Collection mask radius in detector pixels; 0 disables masking")
	autoCenter := flag.Bool("auto-center", false, "Calibrate mask and origin from the mean pattern (overrides mask/origin flags)")
	originX := flag.Float64("origin-x", math.NaN(), "Reference origin x in detector pixels")
	originY := flag.Float64("origin-y", math.NaN(), "Reference origin y in detector pixels")
	cornerFraction := flag.Float64("corner-fraction", math.NaN(), "Corner fraction for the d-scan plane fit, in (0, 0.5)")
	noRamp := flag.Bool("no-ramp", false, "Disable d-scan ramp correction")
	histBins := flag.Int("hist-bins", 0, "Bivariate histogram bins per axis (default: from config)")
	format := flag.String("format", "", "Output image format: png or jpg (default: from config)")
	htmlReport := flag.Bool("report", false, "Render the interactive HTML exploration report")
	nanOnEmpty := flag.Bool("nan-on-empty", false, "Record NaN shifts for zero-intensity frames instead of aborting")
	saveIntermediary := flag.Bool("save-intermediary", false, "Also render the shift field before ramp correction")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	params := paramsFromConfig(cfg)
	params.InputPath = *inputPath

	// Flags override the config file where set.
	if *outputDir != "" {
		params.OutputDir = *outputDir
	}
	if *fetchURL != "" {
		params.FetchURL = *fetchURL
	}
	if *workers > 0 {
		params.Workers = *workers
	}
	if !math.IsNaN(*threshold) {
		params.Threshold = *threshold
	}
	if !math.IsNaN(*maskCX) {
		params.MaskCenterX = *maskCX
	}
	if !math.IsNaN(*maskCY) {
		params.MaskCenterY = *maskCY
	}
	if !math.IsNaN(*maskR) {
		params.MaskRadius = *maskR
	}
	if *autoCenter {
		params.AutoCenter = true
	}
	if !math.IsNaN(*originX) {
		params.OriginX = *originX
	}
	if !math.IsNaN(*originY) {
		params.OriginY = *originY
	}
	if !math.IsNaN(*cornerFraction) {
		params.CornerFraction = *cornerFraction
	}
	if *noRamp {
		params.RampCorrection = false
	}
	if *histBins > 0 {
		params.HistogramBins = *histBins
	}
	if *format != "" {
		params.ImageFormat = *format
	}
	if *htmlReport {
		params.Report = true
	}
	if *nanOnEmpty {
		params.NaNOnEmpty = true
	}
	if *saveIntermediary {
		params.SaveIntermediary = true
	}

	fmt.Println("================================")
	fmt.Println("STEM4D - DIFFERENTIAL PHASE CONTRAST ANALYSIS")
	fmt.Println("Beam-shift extraction from 4D-STEM datasets")
	fmt.Println("================================")

	// Interrupting the run cancels in-flight extraction cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer := dpc.NewAnalyzer(params)

	fmt.Println("Starting DPC analysis...")
	startTime := time.Now()
	if err := analyzer.Process(ctx); err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	processingTime := time.Since(startTime)

	metrics := analyzer.GetMetrics()
	fmt.Printf("\nAnalysis completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Outputs saved to: %s\n\n", params.OutputDir)

	fmt.Printf("Shift Field Metrics:\n")
	fmt.Printf("====================\n")
	fmt.Printf("Frames processed: %d\n", metrics.FramesProcessed)
	fmt.Printf("Mean shift: (%.4f, %.4f) px\n", metrics.MeanShiftX, metrics.MeanShiftY)
	fmt.Printf("Mean |shift|: %.4f px (std %.4f)\n", metrics.MeanMagnitude, metrics.StdMagnitude)
	fmt.Printf("Max |shift|: %.4f px\n", metrics.MaxMagnitude)
	if params.RampCorrection {
		fmt.Printf("Removed d-scan slopes: x %.4g/px, y %.4g/px\n", metrics.RampBX, metrics.RampBY)
		fmt.Printf("Corner residual mean: %.2e px\n", metrics.CornerResidualMean)
	}
}

// paramsFromConfig copies the configuration into pipeline parameters.
func paramsFromConfig(cfg *config.Config) *dpc.Params {
	return &dpc.Params{
		OutputDir:        cfg.Output.Dir,
		FetchURL:         cfg.Fetch.URL,
		Workers:          cfg.Processing.Workers,
		Threshold:        cfg.Processing.Threshold,
		NaNOnEmpty:       cfg.Processing.NaNOnEmpty,
		AutoCenter:       cfg.Processing.AutoCenter,
		MaskCenterX:      cfg.Processing.MaskCenterX,
		MaskCenterY:      cfg.Processing.MaskCenterY,
		MaskRadius:       cfg.Processing.MaskRadius,
		OriginX:          cfg.Processing.OriginX,
		OriginY:          cfg.Processing.OriginY,
		RampCorrection:   cfg.Ramp.Enabled,
		CornerFraction:   cfg.Ramp.CornerFraction,
		HistogramBins:    cfg.Output.HistogramBins,
		ImageFormat:      cfg.Output.ImageFormat,
		Report:           cfg.Output.Report,
		SaveIntermediary: cfg.Output.SaveIntermediary,
	}
}
