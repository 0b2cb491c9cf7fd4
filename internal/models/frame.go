// Package models defines the shared data types used across the stem4d
// analysis pipeline: detector frames, dataset geometry, detector masks and
// the per-probe-position shift fields extracted from them.
package models

import "fmt"

// Frame is a single detector image: one diffraction pattern recorded at one
// probe position. Intensities are stored row-major (y*Width + x) and are
// expected to be nonnegative.
type Frame struct {
	// Data holds the pixel intensities in row-major order
	Data []float64

	// Width and Height are the detector dimensions in pixels
	Width  int
	Height int
}

// NewFrame allocates a zeroed frame with the given detector dimensions.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the intensity at pixel (x, y). The caller is responsible for
// staying in bounds; this mirrors the raw slice access used in hot loops.
func (f *Frame) At(x, y int) float64 {
	return f.Data[y*f.Width+x]
}

// Set stores an intensity at pixel (x, y).
func (f *Frame) Set(x, y int, v float64) {
	f.Data[y*f.Width+x] = v
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.Width, f.Height)
	copy(out.Data, f.Data)
	return out
}

// DatasetShape describes the geometry of a 4-D dataset: a ScanW x ScanH grid
// of probe positions, each holding a DetW x DetH detector frame.
type DatasetShape struct {
	// ScanW and ScanH are the probe-position grid dimensions
	ScanW int
	ScanH int

	// DetW and DetH are the detector dimensions of every frame
	DetW int
	DetH int
}

// Validate checks that all four dimensions are positive.
func (s DatasetShape) Validate() error {
	if s.ScanW <= 0 || s.ScanH <= 0 || s.DetW <= 0 || s.DetH <= 0 {
		return fmt.Errorf("invalid dataset shape %dx%d scan, %dx%d detector: all dimensions must be positive",
			s.ScanW, s.ScanH, s.DetW, s.DetH)
	}
	return nil
}

// NumFrames returns the number of probe positions in the scan grid.
func (s DatasetShape) NumFrames() int {
	return s.ScanW * s.ScanH
}

// FrameSize returns the number of pixels in one detector frame.
func (s DatasetShape) FrameSize() int {
	return s.DetW * s.DetH
}

// FrameIndex converts a probe position to its flat scan-order index.
func (s DatasetShape) FrameIndex(px, py int) int {
	return py*s.ScanW + px
}

// ProbeAt converts a flat scan-order index back to a probe position.
func (s DatasetShape) ProbeAt(flat int) (px, py int) {
	return flat % s.ScanW, flat / s.ScanW
}

// Mask is a circular detector region restricting which pixels contribute to
// a computation. Coordinates are detector pixel coordinates; a pixel (x, y)
// is inside when its squared distance from the centre does not exceed the
// squared radius.
type Mask struct {
	CenterX float64
	CenterY float64
	Radius  float64
}

// Contains reports whether detector pixel (x, y) lies inside the mask.
func (m Mask) Contains(x, y int) bool {
	dx := float64(x) - m.CenterX
	dy := float64(y) - m.CenterY
	return dx*dx+dy*dy <= m.Radius*m.Radius
}

// Annulus is a ring-shaped detector region between two radii, used for
// annular dark-field virtual detectors.
type Annulus struct {
	CenterX float64
	CenterY float64
	Inner   float64
	Outer   float64
}

// Contains reports whether detector pixel (x, y) lies inside the ring.
func (a Annulus) Contains(x, y int) bool {
	dx := float64(x) - a.CenterX
	dy := float64(y) - a.CenterY
	d2 := dx*dx + dy*dy
	return d2 >= a.Inner*a.Inner && d2 <= a.Outer*a.Outer
}
