package models

import (
	"fmt"
	"math"
)

// ShiftVector is the displacement of a frame's intensity centroid from the
// calibrated direct-beam position, in detector pixels.
type ShiftVector struct {
	X float64
	Y float64
}

// Magnitude returns the Euclidean length of the shift.
func (v ShiftVector) Magnitude() float64 {
	return math.Hypot(v.X, v.Y)
}

// Angle returns the direction of the shift in radians, in (-pi, pi].
func (v ShiftVector) Angle() float64 {
	return math.Atan2(v.Y, v.X)
}

// ShiftField holds one shift vector per probe position: the navigable DPC
// signal. Components are stored as two parallel row-major planes so that
// per-component operations (plane fits, statistics) can work on contiguous
// slices.
type ShiftField struct {
	// ScanW and ScanH are the probe-position grid dimensions
	ScanW int
	ScanH int

	// SX and SY hold the x and y shift components, indexed py*ScanW+px
	SX []float64
	SY []float64
}

// NewShiftField allocates a zeroed shift field over a ScanW x ScanH grid.
func NewShiftField(scanW, scanH int) *ShiftField {
	return &ShiftField{
		ScanW: scanW,
		ScanH: scanH,
		SX:    make([]float64, scanW*scanH),
		SY:    make([]float64, scanW*scanH),
	}
}

// At returns the shift vector at probe position (px, py).
func (f *ShiftField) At(px, py int) ShiftVector {
	i := py*f.ScanW + px
	return ShiftVector{X: f.SX[i], Y: f.SY[i]}
}

// Set stores a shift vector at probe position (px, py).
func (f *ShiftField) Set(px, py int, v ShiftVector) {
	i := py*f.ScanW + px
	f.SX[i] = v.X
	f.SY[i] = v.Y
}

// SetFlat stores a shift vector at a flat scan-order index.
func (f *ShiftField) SetFlat(i int, v ShiftVector) {
	f.SX[i] = v.X
	f.SY[i] = v.Y
}

// Len returns the number of probe positions in the field.
func (f *ShiftField) Len() int {
	return f.ScanW * f.ScanH
}

// Magnitude returns the shift magnitude at probe position (px, py).
func (f *ShiftField) Magnitude(px, py int) float64 {
	i := py*f.ScanW + px
	return math.Hypot(f.SX[i], f.SY[i])
}

// Angle returns the shift direction at probe position (px, py) in radians.
func (f *ShiftField) Angle(px, py int) float64 {
	i := py*f.ScanW + px
	return math.Atan2(f.SY[i], f.SX[i])
}

// MaxMagnitude returns the largest shift magnitude in the field. NaN entries
// (positions where extraction was allowed to fall back) are skipped.
func (f *ShiftField) MaxMagnitude() float64 {
	max := 0.0
	for i := range f.SX {
		m := math.Hypot(f.SX[i], f.SY[i])
		if math.IsNaN(m) {
			continue
		}
		if m > max {
			max = m
		}
	}
	return max
}

// Clone returns a deep copy of the field.
func (f *ShiftField) Clone() *ShiftField {
	out := NewShiftField(f.ScanW, f.ScanH)
	copy(out.SX, f.SX)
	copy(out.SY, f.SY)
	return out
}

// Add returns the pointwise sum of two fields over the same scan grid.
func (f *ShiftField) Add(other *ShiftField) (*ShiftField, error) {
	if f.ScanW != other.ScanW || f.ScanH != other.ScanH {
		return nil, fmt.Errorf("shift field size mismatch: %dx%d vs %dx%d",
			f.ScanW, f.ScanH, other.ScanW, other.ScanH)
	}
	out := NewShiftField(f.ScanW, f.ScanH)
	for i := range f.SX {
		out.SX[i] = f.SX[i] + other.SX[i]
		out.SY[i] = f.SY[i] + other.SY[i]
	}
	return out, nil
}

// Sub returns the pointwise difference of two fields over the same scan grid.
func (f *ShiftField) Sub(other *ShiftField) (*ShiftField, error) {
	if f.ScanW != other.ScanW || f.ScanH != other.ScanH {
		return nil, fmt.Errorf("shift field size mismatch: %dx%d vs %dx%d",
			f.ScanW, f.ScanH, other.ScanW, other.ScanH)
	}
	out := NewShiftField(f.ScanW, f.ScanH)
	for i := range f.SX {
		out.SX[i] = f.SX[i] - other.SX[i]
		out.SY[i] = f.SY[i] - other.SY[i]
	}
	return out, nil
}

// ScalarField holds one value per probe position, such as a virtual detector
// image or a shift magnitude map.
type ScalarField struct {
	ScanW int
	ScanH int
	Data  []float64
}

// NewScalarField allocates a zeroed scalar field over a ScanW x ScanH grid.
func NewScalarField(scanW, scanH int) *ScalarField {
	return &ScalarField{
		ScanW: scanW,
		ScanH: scanH,
		Data:  make([]float64, scanW*scanH),
	}
}

// At returns the value at probe position (px, py).
func (s *ScalarField) At(px, py int) float64 {
	return s.Data[py*s.ScanW+px]
}

// Set stores a value at probe position (px, py).
func (s *ScalarField) Set(px, py int, v float64) {
	s.Data[py*s.ScanW+px] = v
}

// Range returns the minimum and maximum values in the field, skipping NaNs.
func (s *ScalarField) Range() (lo, hi float64) {
	lo = math.Inf(1)
	hi = math.Inf(-1)
	for _, v := range s.Data {
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}
