// Package ramp removes the d-scan artifact from extracted shift fields: a
// linear, probe-position-dependent beam shift caused by scan/descan
// misalignment. The artifact is modelled as an affine plane over the scan
// grid, fitted by least squares to the corner regions of the field (where the
// specimen signal is assumed weakest) and subtracted everywhere.
package ramp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"stem4d/internal/models"
)

// ErrInsufficientSamples reports that the corner regions hold fewer than the
// three points needed to determine a plane.
var ErrInsufficientSamples = errors.New("ramp: fewer than 3 corner samples for plane fit")

// Plane is the affine model a + b*px + c*py over probe positions.
type Plane struct {
	A float64
	B float64
	C float64
}

// Eval returns the plane value at probe position (px, py).
func (p Plane) Eval(px, py int) float64 {
	return p.A + p.B*float64(px) + p.C*float64(py)
}

// cornerIndices returns the flat indices of the four corner blocks, each
// ceil(fraction*dim) samples along its edge. Blocks are disjoint because
// fraction < 0.5, but NaN samples (positions where extraction fell back) are
// excluded from the fit.
func cornerIndices(field *models.ShiftField, fraction float64) []int {
	bw := int(math.Ceil(fraction * float64(field.ScanW)))
	bh := int(math.Ceil(fraction * float64(field.ScanH)))

	var idx []int
	for py := 0; py < field.ScanH; py++ {
		if py >= bh && py < field.ScanH-bh {
			continue
		}
		for px := 0; px < field.ScanW; px++ {
			if px >= bw && px < field.ScanW-bw {
				continue
			}
			i := py*field.ScanW + px
			if math.IsNaN(field.SX[i]) || math.IsNaN(field.SY[i]) {
				continue
			}
			idx = append(idx, i)
		}
	}
	return idx
}

// fitPlane solves the ordinary least squares problem for one shift component
// over the given sample indices, via QR factorisation of the n x 3 design
// matrix.
func fitPlane(field *models.ShiftField, component []float64, samples []int) (Plane, error) {
	n := len(samples)
	design := mat.NewDense(n, 3, nil)
	rhs := mat.NewDense(n, 1, nil)
	for row, i := range samples {
		px := i % field.ScanW
		py := i / field.ScanW
		design.Set(row, 0, 1)
		design.Set(row, 1, float64(px))
		design.Set(row, 2, float64(py))
		rhs.Set(row, 0, component[i])
	}

	var qr mat.QR
	qr.Factorize(design)

	var coef mat.Dense
	if err := qr.SolveTo(&coef, false, rhs); err != nil {
		return Plane{}, fmt.Errorf("plane fit is singular (degenerate corner geometry): %w", err)
	}

	return Plane{
		A: coef.At(0, 0),
		B: coef.At(1, 0),
		C: coef.At(2, 0),
	}, nil
}

// Fit computes the d-scan planes for both shift components using only the
// four corner blocks, each spanning the given fraction (exclusive, between 0
// and 0.5) of the scan dimensions.
func Fit(field *models.ShiftField, fraction float64) (planeX, planeY Plane, err error) {
	if fraction <= 0 || fraction >= 0.5 {
		return Plane{}, Plane{}, fmt.Errorf("corner fraction must be in (0, 0.5), got %g", fraction)
	}

	samples := cornerIndices(field, fraction)
	if len(samples) < 3 {
		return Plane{}, Plane{}, ErrInsufficientSamples
	}

	planeX, err = fitPlane(field, field.SX, samples)
	if err != nil {
		return Plane{}, Plane{}, fmt.Errorf("fitting shift_x: %w", err)
	}
	planeY, err = fitPlane(field, field.SY, samples)
	if err != nil {
		return Plane{}, Plane{}, fmt.Errorf("fitting shift_y: %w", err)
	}
	return planeX, planeY, nil
}

// Correct fits the d-scan planes and returns a new field with them
// subtracted at every probe position. The input field is not modified.
func Correct(field *models.ShiftField, fraction float64) (*models.ShiftField, error) {
	planeX, planeY, err := Fit(field, fraction)
	if err != nil {
		return nil, err
	}
	return Subtract(field, planeX, planeY), nil
}

// Subtract returns a copy of the field with the given planes removed.
func Subtract(field *models.ShiftField, planeX, planeY Plane) *models.ShiftField {
	out := models.NewShiftField(field.ScanW, field.ScanH)
	for py := 0; py < field.ScanH; py++ {
		for px := 0; px < field.ScanW; px++ {
			i := py*field.ScanW + px
			out.SX[i] = field.SX[i] - planeX.Eval(px, py)
			out.SY[i] = field.SY[i] - planeY.Eval(px, py)
		}
	}
	return out
}
