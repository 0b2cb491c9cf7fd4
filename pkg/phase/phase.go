// Package phase reconstructs a relative phase image from a corrected shift
// field. For a conservative deflection field the beam shift is proportional
// to the phase gradient, so the phase is recovered by Fourier integration:
// divide the field's Fourier transform by ik and invert, with the zero
// frequency pinned to zero (the absolute phase offset is unobservable).
package phase

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"stem4d/internal/models"
)

// Integrate computes the integrated-DPC phase map of a shift field. The
// result is normalised to zero mean. Fields smaller than 2x2 are rejected:
// there is nothing to integrate.
func Integrate(field *models.ShiftField) (*models.ScalarField, error) {
	w, h := field.ScanW, field.ScanH
	if w < 2 || h < 2 {
		return nil, fmt.Errorf("phase: field %dx%d too small to integrate (need at least 2x2)", w, h)
	}

	sx := make([]complex128, w*h)
	sy := make([]complex128, w*h)
	for i := range field.SX {
		sx[i] = complex(field.SX[i], 0)
		sy[i] = complex(field.SY[i], 0)
	}

	fft2(sx, w, h, false)
	fft2(sy, w, h, false)

	// Divide by ik in frequency space; the k=0 term carries the arbitrary
	// phase offset and is set to zero.
	spec := make([]complex128, w*h)
	for v := 0; v < h; v++ {
		ky := 2 * math.Pi * freq(v, h)
		for u := 0; u < w; u++ {
			kx := 2 * math.Pi * freq(u, w)
			k2 := kx*kx + ky*ky
			if k2 == 0 {
				continue
			}
			i := v*w + u
			num := complex(kx, 0)*sx[i] + complex(ky, 0)*sy[i]
			spec[i] = num / complex(0, k2)
		}
	}

	fft2(spec, w, h, true)

	out := models.NewScalarField(w, h)
	mean := 0.0
	for i, c := range spec {
		out.Data[i] = real(c)
		mean += out.Data[i]
	}
	mean /= float64(len(out.Data))
	for i := range out.Data {
		out.Data[i] -= mean
	}
	return out, nil
}

// freq maps a DFT bin index to its signed frequency in cycles per sample.
func freq(i, n int) float64 {
	if i <= n/2 {
		return float64(i) / float64(n)
	}
	return float64(i-n) / float64(n)
}

// fft2 transforms a rectangular complex grid in place: a row pass followed
// by a column pass, each through gonum's 1-D complex FFT. The inverse pass
// includes the 1/(w*h) normalisation.
func fft2(data []complex128, w, h int, inverse bool) {
	rowFFT := fourier.NewCmplxFFT(w)
	rowIn := make([]complex128, w)
	rowOut := make([]complex128, w)
	for y := 0; y < h; y++ {
		copy(rowIn, data[y*w:(y+1)*w])
		if inverse {
			rowFFT.Sequence(rowOut, rowIn)
		} else {
			rowFFT.Coefficients(rowOut, rowIn)
		}
		copy(data[y*w:(y+1)*w], rowOut)
	}

	colFFT := fourier.NewCmplxFFT(h)
	colIn := make([]complex128, h)
	colOut := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			colIn[y] = data[y*w+x]
		}
		if inverse {
			colFFT.Sequence(colOut, colIn)
		} else {
			colFFT.Coefficients(colOut, colIn)
		}
		for y := 0; y < h; y++ {
			data[y*w+x] = colOut[y]
		}
	}

	if inverse {
		scale := complex(1/float64(w*h), 0)
		for i := range data {
			data[i] *= scale
		}
	}
}
