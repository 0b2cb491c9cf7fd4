package beamshift

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"stem4d/internal/models"
)

// FrameSource is the slice of the dataset reader the field extractor needs.
// *stemdata.Dataset satisfies it.
type FrameSource interface {
	Shape() models.DatasetShape
	ChunkCount() int
	ChunkBounds(i int) (lo, hi int)
	ReadFrameAt(flat int) (*models.Frame, error)
}

// ComputeField extracts the shift vector at every probe position. Frames are
// independent, so the scan grid is partitioned chunk-aligned (each worker
// claims whole chunks, so no chunk is decompressed by two workers) and
// processed by up to workers goroutines. Writes into the result field are
// disjoint per probe position; no locking is needed.
//
// A frame whose considered region sums to zero aborts the whole extraction
// with a wrapped ErrZeroIntensity naming the probe position, unless
// opts.NaNOnEmpty is set, in which case its shift is recorded as (NaN, NaN)
// and extraction continues.
//
// progress, when non-nil, is called after every completed frame with the
// running and total counts. It must be safe for concurrent use.
func ComputeField(ctx context.Context, src FrameSource, opts Options, workers int, progress func(done, total int)) (*models.ShiftField, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	shape := src.Shape()
	field := models.NewShiftField(shape.ScanW, shape.ScanH)
	total := shape.NumFrames()

	var done atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for c := 0; c < src.ChunkCount(); c++ {
		lo, hi := src.ChunkBounds(c)
		g.Go(func() error {
			for flat := lo; flat < hi; flat++ {
				if err := ctx.Err(); err != nil {
					return err
				}

				frame, err := src.ReadFrameAt(flat)
				if err != nil {
					return err
				}

				shift, err := FrameShift(frame, opts)
				if err != nil {
					if opts.NaNOnEmpty && errors.Is(err, ErrZeroIntensity) {
						shift = models.ShiftVector{X: math.NaN(), Y: math.NaN()}
					} else {
						px, py := shape.ProbeAt(flat)
						return fmt.Errorf("probe position (%d, %d): %w", px, py, err)
					}
				}
				field.SetFlat(flat, shift)

				if progress != nil {
					progress(int(done.Add(1)), total)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return field, nil
}
