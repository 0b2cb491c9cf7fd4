// Package dpc orchestrates the full differential phase contrast pipeline:
// open (or fetch) a 4-D dataset, calibrate the direct-beam position, extract
// the shift field in parallel, remove the d-scan ramp, and render the result
// maps and histograms. All failures are terminal for the run; there are no
// retries.
package dpc

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"stem4d/internal/models"
	"stem4d/pkg/beamshift"
	"stem4d/pkg/fetch"
	"stem4d/pkg/phase"
	"stem4d/pkg/ramp"
	"stem4d/pkg/report"
	"stem4d/pkg/stemdata"
	"stem4d/pkg/virtual"
	"stem4d/pkg/visualization"
)

// Params holds the analysis parameters resolved from config file and flags.
type Params struct {
	// InputPath is the .s4d dataset to analyse.
	InputPath string

	// OutputDir is where rendered images and the run manifest are written.
	OutputDir string

	// FetchURL, when non-empty, is downloaded to InputPath if the input
	// file is missing.
	FetchURL string

	// Workers is the number of goroutines for per-frame work.
	Workers int

	// Threshold binarises masked frames at threshold*mean; negative
	// disables thresholding.
	Threshold float64

	// NaNOnEmpty records NaN shifts for dark frames instead of aborting.
	NaNOnEmpty bool

	// AutoCenter calibrates mask and origin from the mean pattern,
	// overriding the explicit values below.
	AutoCenter bool

	// MaskCenterX, MaskCenterY, MaskRadius define the collection mask;
	// MaskRadius <= 0 disables masking.
	MaskCenterX float64
	MaskCenterY float64
	MaskRadius  float64

	// OriginX, OriginY are the reference origin for shift vectors.
	OriginX float64
	OriginY float64

	// RampCorrection enables d-scan plane subtraction.
	RampCorrection bool

	// CornerFraction is the corner-block fraction for the ramp fit.
	CornerFraction float64

	// HistogramBins is the bivariate histogram resolution.
	HistogramBins int

	// ImageFormat is png or jpg.
	ImageFormat string

	// Report renders the interactive HTML exploration page.
	Report bool

	// SaveIntermediary also renders the field before ramp correction.
	SaveIntermediary bool
}

// Analyzer runs the DPC pipeline over one dataset.
type Analyzer struct {
	params  *Params
	fetcher *fetch.Fetcher

	field    *models.ShiftField
	metrics  Metrics
	manifest Manifest
}

// NewAnalyzer creates an analyzer for the given parameters.
func NewAnalyzer(params *Params) *Analyzer {
	return &Analyzer{
		params:  params,
		fetcher: fetch.New(),
	}
}

// Field returns the corrected shift field after a successful Process run.
func (a *Analyzer) Field() *models.ShiftField {
	return a.field
}

// GetMetrics returns the run metrics after a successful Process run.
func (a *Analyzer) GetMetrics() Metrics {
	return a.metrics
}

// Process runs the complete analysis pipeline.
func (a *Analyzer) Process(ctx context.Context) error {
	start := time.Now()
	a.manifest = newManifest(a.params)

	if err := os.MkdirAll(a.params.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}

	// Step 1: Obtain and open the dataset
	fmt.Println("Step 1: Opening dataset...")
	if _, err := os.Stat(a.params.InputPath); os.IsNotExist(err) && a.params.FetchURL != "" {
		fmt.Printf("Input missing, fetching %s...\n", a.params.FetchURL)
		if _, err := a.fetcher.Download(ctx, a.params.FetchURL, a.params.InputPath); err != nil {
			return fmt.Errorf("failed to fetch dataset: %v", err)
		}
	}
	ds, err := stemdata.Open(a.params.InputPath)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %v", err)
	}
	defer ds.Close()

	shape := ds.Shape()
	fmt.Printf("Loaded %dx%d scan of %dx%d frames (%d chunks)\n",
		shape.ScanW, shape.ScanH, shape.DetW, shape.DetH, ds.ChunkCount())

	// Step 2: Calibrate mask and origin
	fmt.Println("Step 2: Calibrating beam position...")
	opts, err := a.calibrate(ctx, ds)
	if err != nil {
		return fmt.Errorf("failed to calibrate: %v", err)
	}
	fmt.Printf("Reference origin (%.2f, %.2f)", opts.OriginX, opts.OriginY)
	if opts.Mask != nil {
		fmt.Printf(", mask centre (%.2f, %.2f) radius %.2f",
			opts.Mask.CenterX, opts.Mask.CenterY, opts.Mask.Radius)
	}
	fmt.Println()

	// Step 3: Extract the shift field
	fmt.Println("Step 3: Extracting shift field...")
	raw, err := beamshift.ComputeField(ctx, ds, opts, a.params.Workers, func(done, total int) {
		if done%256 == 0 || done == total {
			fmt.Printf("\rExtracting shifts: %.1f%% complete", float64(done)/float64(total)*100)
		}
	})
	if err != nil {
		fmt.Println()
		return fmt.Errorf("failed to extract shift field: %v", err)
	}
	fmt.Println()

	if a.params.SaveIntermediary {
		if err := a.renderField(raw, "raw"); err != nil {
			fmt.Printf("Warning: failed to save intermediary field: %v\n", err)
		}
	}

	// Step 4: Ramp correction
	a.field = raw
	if a.params.RampCorrection {
		fmt.Println("Step 4: Removing d-scan ramp...")
		planeX, planeY, err := ramp.Fit(raw, a.params.CornerFraction)
		if err != nil {
			return fmt.Errorf("failed to fit d-scan plane: %v", err)
		}
		a.field = ramp.Subtract(raw, planeX, planeY)
		a.metrics.RampBX = planeX.B
		a.metrics.RampBY = planeY.C
		fmt.Printf("Fitted ramp slopes: x %.4g/px, y %.4g/px\n", planeX.B, planeY.C)
	} else {
		fmt.Println("Step 4: Ramp correction disabled, skipping...")
	}

	// Step 5: Render outputs
	fmt.Println("Step 5: Rendering output maps...")
	if err := a.renderField(a.field, "corrected"); err != nil {
		return fmt.Errorf("failed to render outputs: %v", err)
	}

	// The phase map is supplemental: a scan too small to integrate (a line
	// scan, say) still produces the shift maps above.
	if phi, err := phase.Integrate(a.field); err != nil {
		fmt.Printf("Warning: skipping phase map: %v\n", err)
	} else {
		phasePath := a.outputPath("phase")
		if err := visualization.SaveImage(visualization.MagnitudeImage(phi, 0, 0), phasePath); err != nil {
			return fmt.Errorf("failed to save phase map: %v", err)
		}
		a.manifest.addFile(phasePath)
	}

	if a.params.Report {
		reportPath := filepath.Join(a.params.OutputDir, "report.html")
		if err := report.Save(reportPath, a.field, "stem4d DPC analysis"); err != nil {
			return fmt.Errorf("failed to render report: %v", err)
		}
		a.manifest.addFile(reportPath)
	}

	// Step 6: Metrics and manifest
	fmt.Println("Step 6: Computing metrics...")
	a.computeMetrics(shape.NumFrames(), time.Since(start))

	manifestPath := filepath.Join(a.params.OutputDir, "run.json")
	if err := a.manifest.save(manifestPath, a.metrics); err != nil {
		return fmt.Errorf("failed to write run manifest: %v", err)
	}

	return nil
}

// calibrate resolves the extraction options, either from the explicit
// parameters or from the mean diffraction pattern.
func (a *Analyzer) calibrate(ctx context.Context, ds *stemdata.Dataset) (beamshift.Options, error) {
	opts := beamshift.Options{
		OriginX:    a.params.OriginX,
		OriginY:    a.params.OriginY,
		NaNOnEmpty: a.params.NaNOnEmpty,
	}
	if a.params.Threshold >= 0 {
		threshold := a.params.Threshold
		opts.Threshold = &threshold
	}
	if a.params.MaskRadius > 0 {
		opts.Mask = &models.Mask{
			CenterX: a.params.MaskCenterX,
			CenterY: a.params.MaskCenterY,
			Radius:  a.params.MaskRadius,
		}
	}

	if !a.params.AutoCenter {
		return opts, nil
	}

	mean, err := virtual.MeanPattern(ctx, ds, a.params.Workers)
	if err != nil {
		return opts, err
	}
	cx, cy, rms, err := virtual.EstimateCenter(mean)
	if err != nil {
		return opts, err
	}

	opts.OriginX = cx
	opts.OriginY = cy
	// Twice the RMS radius comfortably covers the bright-field disc. A
	// degenerate pattern (single bright pixel) has zero RMS; in that case
	// the whole detector is used.
	if r := 2 * rms; r > 0 {
		opts.Mask = &models.Mask{CenterX: cx, CenterY: cy, Radius: r}
	} else {
		opts.Mask = nil
	}
	return opts, nil
}

// renderField writes the colour wheel, legend, magnitude map and histograms
// for one version of the shift field, prefixed by stage.
func (a *Analyzer) renderField(field *models.ShiftField, stage string) error {
	wheelPath := a.outputPath(stage + "_wheel")
	if err := visualization.SaveImage(visualization.ColorWheel(field, 0), wheelPath); err != nil {
		return err
	}
	a.manifest.addFile(wheelPath)

	legendPath := a.outputPath(stage + "_wheel_legend")
	if err := visualization.SaveImage(visualization.WheelLegend(256), legendPath); err != nil {
		return err
	}
	a.manifest.addFile(legendPath)

	mag := visualization.MagnitudeField(field)
	magPath := a.outputPath(stage + "_magnitude")
	if err := visualization.SaveImage(visualization.MagnitudeImage(mag, 0, 0), magPath); err != nil {
		return err
	}
	a.manifest.addFile(magPath)

	grid, err := visualization.Histogram2D(field, a.params.HistogramBins, 0)
	if err != nil {
		return err
	}
	histPath := filepath.Join(a.params.OutputDir, stage+"_histogram.png")
	if err := visualization.SaveHistogramPlot(grid, histPath); err != nil {
		return err
	}
	a.manifest.addFile(histPath)

	magHistPath := filepath.Join(a.params.OutputDir, stage+"_magnitude_histogram.png")
	if err := visualization.SaveMagnitudeHistogram(field, a.params.HistogramBins, magHistPath); err != nil {
		return err
	}
	a.manifest.addFile(magHistPath)

	return nil
}

// outputPath builds an image path in the output directory using the
// configured format.
func (a *Analyzer) outputPath(name string) string {
	ext := a.params.ImageFormat
	if ext == "" {
		ext = "png"
	}
	return filepath.Join(a.params.OutputDir, name+"."+ext)
}

// computeMetrics fills the metrics block from the final field.
func (a *Analyzer) computeMetrics(frames int, elapsed time.Duration) {
	a.metrics.FramesProcessed = frames
	a.metrics.Elapsed = elapsed

	var sx, sy, mag []float64
	for i := range a.field.SX {
		if math.IsNaN(a.field.SX[i]) || math.IsNaN(a.field.SY[i]) {
			continue
		}
		sx = append(sx, a.field.SX[i])
		sy = append(sy, a.field.SY[i])
		mag = append(mag, math.Hypot(a.field.SX[i], a.field.SY[i]))
	}
	a.metrics.fill(sx, sy, mag)

	if a.params.RampCorrection {
		samples := 0
		sum := 0.0
		bw := int(math.Ceil(a.params.CornerFraction * float64(a.field.ScanW)))
		bh := int(math.Ceil(a.params.CornerFraction * float64(a.field.ScanH)))
		for py := 0; py < a.field.ScanH; py++ {
			if py >= bh && py < a.field.ScanH-bh {
				continue
			}
			for px := 0; px < a.field.ScanW; px++ {
				if px >= bw && px < a.field.ScanW-bw {
					continue
				}
				i := py*a.field.ScanW + px
				if math.IsNaN(a.field.SX[i]) {
					continue
				}
				sum += math.Hypot(a.field.SX[i], a.field.SY[i])
				samples++
			}
		}
		if samples > 0 {
			a.metrics.CornerResidualMean = sum / float64(samples)
		}
	}
}
