// Package virtual computes virtual detector images and detector-space
// summary patterns from a 4-D dataset: bright-field and annular dark-field
// maps over the scan grid, and mean/max diffraction patterns used to
// calibrate the direct-beam position.
package virtual

import (
	"context"
	"fmt"
	"math"
	"sync"

	"stem4d/internal/models"
	"stem4d/pkg/beamshift"
)

// Region is any detector-space membership test. models.Mask and
// models.Annulus both satisfy it.
type Region interface {
	Contains(x, y int) bool
}

// Image integrates the in-region intensity of every frame, producing one
// scalar per probe position. A nil region integrates the whole detector.
func Image(ctx context.Context, src beamshift.FrameSource, region Region, workers int) (*models.ScalarField, error) {
	shape := src.Shape()
	out := models.NewScalarField(shape.ScanW, shape.ScanH)

	err := eachFrame(ctx, src, workers, func(flat int, frame *models.Frame) error {
		sum := 0.0
		for y := 0; y < frame.Height; y++ {
			for x := 0; x < frame.Width; x++ {
				if region != nil && !region.Contains(x, y) {
					continue
				}
				sum += frame.At(x, y)
			}
		}
		out.Data[flat] = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BrightField integrates intensity inside a circular collection mask.
func BrightField(ctx context.Context, src beamshift.FrameSource, mask models.Mask, workers int) (*models.ScalarField, error) {
	return Image(ctx, src, mask, workers)
}

// AnnularDarkField integrates intensity inside an annular collection region.
func AnnularDarkField(ctx context.Context, src beamshift.FrameSource, annulus models.Annulus, workers int) (*models.ScalarField, error) {
	return Image(ctx, src, annulus, workers)
}

// MeanPattern averages all frames in detector space. Workers accumulate
// per-goroutine partial sums which are merged after the barrier, so the
// result is deterministic up to floating-point reassociation.
func MeanPattern(ctx context.Context, src beamshift.FrameSource, workers int) (*models.Frame, error) {
	shape := src.Shape()
	partials, err := reduceFrames(ctx, src, workers, func(acc, frame *models.Frame) {
		for i, v := range frame.Data {
			acc.Data[i] += v
		}
	})
	if err != nil {
		return nil, err
	}

	mean := models.NewFrame(shape.DetW, shape.DetH)
	for _, p := range partials {
		for i, v := range p.Data {
			mean.Data[i] += v
		}
	}
	n := float64(shape.NumFrames())
	for i := range mean.Data {
		mean.Data[i] /= n
	}
	return mean, nil
}

// MaxPattern takes the per-pixel maximum over all frames.
func MaxPattern(ctx context.Context, src beamshift.FrameSource, workers int) (*models.Frame, error) {
	shape := src.Shape()
	partials, err := reduceFrames(ctx, src, workers, func(acc, frame *models.Frame) {
		for i, v := range frame.Data {
			if v > acc.Data[i] {
				acc.Data[i] = v
			}
		}
	})
	if err != nil {
		return nil, err
	}

	max := models.NewFrame(shape.DetW, shape.DetH)
	for _, p := range partials {
		for i, v := range p.Data {
			if v > max.Data[i] {
				max.Data[i] = v
			}
		}
	}
	return max, nil
}

// EstimateCenter locates the direct beam in a summary pattern: the intensity
// centroid plus the RMS radius of the intensity distribution around it. The
// radius estimate is what the pipeline uses to size an automatic collection
// mask.
func EstimateCenter(pattern *models.Frame) (cx, cy, rms float64, err error) {
	var sum, sx, sy float64
	for y := 0; y < pattern.Height; y++ {
		for x := 0; x < pattern.Width; x++ {
			v := pattern.At(x, y)
			sum += v
			sx += v * float64(x)
			sy += v * float64(y)
		}
	}
	if sum == 0 {
		return 0, 0, 0, beamshift.ErrZeroIntensity
	}
	cx = sx / sum
	cy = sy / sum

	var r2 float64
	for y := 0; y < pattern.Height; y++ {
		for x := 0; x < pattern.Width; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			r2 += pattern.At(x, y) * (dx*dx + dy*dy)
		}
	}
	return cx, cy, math.Sqrt(r2 / sum), nil
}

// eachFrame fans the scan grid out over a bounded pool of goroutines,
// chunk-aligned so each container chunk is decompressed once.
func eachFrame(ctx context.Context, src beamshift.FrameSource, workers int, fn func(flat int, frame *models.Frame) error) error {
	if workers < 1 {
		workers = 1
	}

	// Buffered so the feed below never blocks if workers bail out early.
	chunks := make(chan int, src.ChunkCount())
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range chunks {
				lo, hi := src.ChunkBounds(c)
				for flat := lo; flat < hi; flat++ {
					if err := ctx.Err(); err != nil {
						fail(err)
						return
					}
					frame, err := src.ReadFrameAt(flat)
					if err != nil {
						fail(fmt.Errorf("reading frame %d: %w", flat, err))
						return
					}
					if err := fn(flat, frame); err != nil {
						fail(err)
						return
					}
				}
			}
		}()
	}

	for c := 0; c < src.ChunkCount(); c++ {
		chunks <- c
	}
	close(chunks)
	wg.Wait()

	return firstErr
}

// reduceFrames runs a detector-space reduction with one accumulator frame
// per worker, returning the partial accumulators for the caller to merge.
func reduceFrames(ctx context.Context, src beamshift.FrameSource, workers int, merge func(acc, frame *models.Frame)) ([]*models.Frame, error) {
	if workers < 1 {
		workers = 1
	}
	shape := src.Shape()

	partials := make([]*models.Frame, workers)
	for i := range partials {
		partials[i] = models.NewFrame(shape.DetW, shape.DetH)
	}

	chunks := make(chan int, src.ChunkCount())
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(acc *models.Frame) {
			defer wg.Done()
			for c := range chunks {
				lo, hi := src.ChunkBounds(c)
				for flat := lo; flat < hi; flat++ {
					if err := ctx.Err(); err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						return
					}
					frame, err := src.ReadFrameAt(flat)
					if err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = fmt.Errorf("reading frame %d: %w", flat, err)
						}
						mu.Unlock()
						return
					}
					merge(acc, frame)
				}
			}
		}(partials[w])
	}

	for c := 0; c < src.ChunkCount(); c++ {
		chunks <- c
	}
	close(chunks)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return partials, nil
}
