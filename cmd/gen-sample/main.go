// Command gen-sample writes a synthetic 4D-STEM dataset for testing the DPC
// pipeline: a Gaussian direct beam deflected by a configurable pattern, with
// optional d-scan ramp and shot noise. The vortex pattern produces the
// classic colour-wheel image; the ramp slopes make the correction step
// verifiable from the command line.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"

	"stem4d/internal/models"
	"stem4d/pkg/stemdata"
)

func main() {
	output := flag.String("output", "sample.s4d", "Output dataset path")
	scanW := flag.Int("scan-w", 64, "Probe positions per scan row")
	scanH := flag.Int("scan-h", 64, "Probe positions per scan column")
	detW := flag.Int("det-w", 64, "Detector width in pixels")
	detH := flag.Int("det-h", 64, "Detector height in pixels")
	chunk := flag.Int("chunk", 64, "Frames per chunk")
	beamRadius := flag.Float64("beam-r", 6.0, "Gaussian beam sigma in detector pixels")
	pattern := flag.String("pattern", "vortex", "Deflection pattern: vortex, ramp or flat")
	amplitude := flag.Float64("amplitude", 3.0, "Peak deflection in detector pixels")
	rampX := flag.Float64("ramp-x", 0, "d-scan slope added to shift_x per probe x step")
	rampY := flag.Float64("ramp-y", 0, "d-scan slope added to shift_y per probe y step")
	noise := flag.Bool("noise", false, "Add pseudo-Poisson shot noise")
	seed := flag.Int64("seed", 1, "Noise RNG seed")
	flag.Parse()

	shape := models.DatasetShape{ScanW: *scanW, ScanH: *scanH, DetW: *detW, DetH: *detH}
	deflect, err := deflectionFunc(*pattern, shape, *amplitude)
	if err != nil {
		log.Fatalf("Invalid pattern: %v", err)
	}

	w, err := stemdata.Create(*output, shape, *chunk, stemdata.Metadata{
		"generator": "gen-sample",
		"pattern":   *pattern,
	})
	if err != nil {
		log.Fatalf("Failed to create dataset: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	centreX := float64(*detW) / 2
	centreY := float64(*detH) / 2

	fmt.Printf("Generating %dx%d scan of %dx%d frames (%s pattern)...\n",
		*scanW, *scanH, *detW, *detH, *pattern)

	for py := 0; py < *scanH; py++ {
		for px := 0; px < *scanW; px++ {
			dx, dy := deflect(px, py)
			dx += *rampX * float64(px)
			dy += *rampY * float64(py)

			frame := gaussianFrame(shape, centreX+dx, centreY+dy, *beamRadius)
			if *noise {
				addShotNoise(frame, rng)
			}
			if err := w.AppendFrame(frame); err != nil {
				log.Fatalf("Failed to append frame (%d, %d): %v", px, py, err)
			}
		}
		if (py+1)%16 == 0 || py == *scanH-1 {
			fmt.Printf("\rWriting frames: %.1f%% complete", float64(py+1)/float64(*scanH)*100)
		}
	}
	fmt.Println()

	if err := w.Close(); err != nil {
		log.Fatalf("Failed to finalise dataset: %v", err)
	}
	fmt.Printf("Dataset written to %s\n", *output)
}

// deflectionFunc returns the beam deflection at each probe position.
func deflectionFunc(pattern string, shape models.DatasetShape, amplitude float64) (func(px, py int) (float64, float64), error) {
	cx := float64(shape.ScanW-1) / 2
	cy := float64(shape.ScanH-1) / 2

	switch pattern {
	case "vortex":
		// Tangential deflection around the scan centre, strongest at half
		// the scan radius and decaying outward.
		return func(px, py int) (float64, float64) {
			rx := float64(px) - cx
			ry := float64(py) - cy
			r := math.Hypot(rx, ry)
			if r == 0 {
				return 0, 0
			}
			falloff := amplitude * (r / cx) * math.Exp(-r*r/(cx*cx/2))
			return -ry / r * falloff, rx / r * falloff
		}, nil
	case "ramp":
		return func(px, py int) (float64, float64) {
			return amplitude * float64(px) / float64(shape.ScanW), 0
		}, nil
	case "flat":
		return func(px, py int) (float64, float64) {
			return 0, 0
		}, nil
	default:
		return nil, fmt.Errorf("unknown pattern %q (want vortex, ramp or flat)", pattern)
	}
}

// gaussianFrame renders a Gaussian beam centred at (cx, cy).
func gaussianFrame(shape models.DatasetShape, cx, cy, sigma float64) *models.Frame {
	frame := models.NewFrame(shape.DetW, shape.DetH)
	inv := 1 / (2 * sigma * sigma)
	for y := 0; y < shape.DetH; y++ {
		for x := 0; x < shape.DetW; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			frame.Set(x, y, 1000*math.Exp(-(dx*dx+dy*dy)*inv))
		}
	}
	return frame
}

// addShotNoise perturbs each pixel with noise scaled by sqrt(intensity), a
// cheap stand-in for Poisson counting statistics.
func addShotNoise(frame *models.Frame, rng *rand.Rand) {
	for i, v := range frame.Data {
		if v <= 0 {
			continue
		}
		noisy := v + rng.NormFloat64()*math.Sqrt(v)
		if noisy < 0 {
			noisy = 0
		}
		frame.Data[i] = noisy
	}
}
