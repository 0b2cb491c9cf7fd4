// Package beamshift extracts differential phase contrast signals from 4-D
// STEM datasets: the intensity centroid of each diffraction pattern, measured
// relative to the calibrated direct-beam position, is a proxy for the local
// beam deflection. Extraction is a pure per-frame computation, optionally
// preceded by a mask-and-threshold cleaning step that suppresses dark-field
// scattering outside the bright-field disc.
package beamshift

import (
	"errors"
	"fmt"

	"stem4d/internal/models"
)

// ErrZeroIntensity reports that the summed intensity over the considered
// region is zero, leaving the centroid undefined. Callers choose the
// fallback: abort, or opt into NaN shifts with Options.NaNOnEmpty.
var ErrZeroIntensity = errors.New("beamshift: zero total intensity in region")

// Options configures shift extraction. Mask and Threshold are optional: a nil
// Mask considers the whole detector, a nil Threshold skips binarisation and
// weights the raw in-mask intensities.
type Options struct {
	// OriginX and OriginY are the reference origin (the calibrated
	// direct-beam position); shifts are reported relative to it.
	OriginX float64
	OriginY float64

	// Mask restricts the computation to a circular detector region.
	Mask *models.Mask

	// Threshold binarises the masked frame at Threshold times the in-mask
	// mean intensity before the centroid is taken.
	Threshold *float64

	// NaNOnEmpty records (NaN, NaN) instead of failing when a frame's
	// considered region sums to zero. Field extraction continues past such
	// frames.
	NaNOnEmpty bool
}

// Validate rejects option combinations the extractor cannot honour.
func (o Options) Validate() error {
	if o.Threshold != nil && *o.Threshold < 0 {
		return fmt.Errorf("threshold must be nonnegative, got %g", *o.Threshold)
	}
	if o.Mask != nil && o.Mask.Radius <= 0 {
		return fmt.Errorf("mask radius must be positive, got %g", o.Mask.Radius)
	}
	return nil
}

// CleanFrame applies the mask-and-threshold binarisation: the mean intensity
// m of the in-mask pixels is computed, then every in-mask pixel with
// intensity strictly greater than threshold*m becomes 1 and every other
// pixel becomes 0. A pixel exactly at threshold*m is cut (the tie goes to 0).
// Applying CleanFrame twice with the same threshold is a no-op on the second
// pass for every threshold t: the surviving fraction f of in-mask pixels
// satisfies t*f < 1 (the survivors alone already exceed t*f times the
// original mean), so the second cut always falls below 1 and the ones
// survive.
//
// A nil mask treats the whole detector as the masked region.
func CleanFrame(frame *models.Frame, mask *models.Mask, threshold float64) *models.Frame {
	out := models.NewFrame(frame.Width, frame.Height)

	sum := 0.0
	count := 0
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			if mask != nil && !mask.Contains(x, y) {
				continue
			}
			sum += frame.At(x, y)
			count++
		}
	}
	if count == 0 {
		return out
	}
	cut := threshold * sum / float64(count)

	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			if mask != nil && !mask.Contains(x, y) {
				continue
			}
			if frame.At(x, y) > cut {
				out.Set(x, y, 1)
			}
		}
	}
	return out
}

// FrameShift computes the shift vector of a single frame: the intensity
// centroid of the (optionally cleaned) frame minus the reference origin.
// Pure function of its inputs; the frame is not modified.
//
// Returns ErrZeroIntensity when the considered region carries no intensity,
// regardless of Options.NaNOnEmpty (the NaN fallback is a field-level
// decision; see ComputeField).
func FrameShift(frame *models.Frame, opts Options) (models.ShiftVector, error) {
	if err := opts.Validate(); err != nil {
		return models.ShiftVector{}, err
	}

	weighted := frame
	if opts.Threshold != nil {
		weighted = CleanFrame(frame, opts.Mask, *opts.Threshold)
	}

	var sum, sx, sy float64
	for y := 0; y < weighted.Height; y++ {
		for x := 0; x < weighted.Width; x++ {
			if opts.Threshold == nil && opts.Mask != nil && !opts.Mask.Contains(x, y) {
				continue
			}
			v := weighted.At(x, y)
			sum += v
			sx += v * float64(x)
			sy += v * float64(y)
		}
	}
	if sum == 0 {
		return models.ShiftVector{}, ErrZeroIntensity
	}

	return models.ShiftVector{
		X: sx/sum - opts.OriginX,
		Y: sy/sum - opts.OriginY,
	}, nil
}
