package visualization

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"stem4d/internal/models"
)

// TestColorWheelMapsMagnitudeToLightness verifies that zero shift renders
// black and that larger shifts render brighter.
func TestColorWheelMapsMagnitudeToLightness(t *testing.T) {
	field := models.NewShiftField(3, 1)
	field.Set(0, 0, models.ShiftVector{X: 0, Y: 0})
	field.Set(1, 0, models.ShiftVector{X: 0.5, Y: 0})
	field.Set(2, 0, models.ShiftVector{X: 1.0, Y: 0})

	img := ColorWheel(field, 1.0)

	r0, g0, b0, _ := img.At(0, 0).RGBA()
	if r0 != 0 || g0 != 0 || b0 != 0 {
		t.Errorf("Expected black at zero shift, got (%d, %d, %d)", r0, g0, b0)
	}

	lum := func(x int) uint32 {
		r, g, b, _ := img.At(x, 0).RGBA()
		return r + g + b
	}
	if lum(1) >= lum(2) {
		t.Errorf("Expected brightness to grow with magnitude: lum(1)=%d, lum(2)=%d", lum(1), lum(2))
	}
}

// TestColorWheelHueVariesWithDirection verifies that opposite shifts get
// different colours.
func TestColorWheelHueVariesWithDirection(t *testing.T) {
	field := models.NewShiftField(2, 1)
	field.Set(0, 0, models.ShiftVector{X: 1, Y: 0})
	field.Set(1, 0, models.ShiftVector{X: -1, Y: 0})

	img := ColorWheel(field, 1.0)
	if img.At(0, 0) == img.At(1, 0) {
		t.Error("Expected different colours for opposite shift directions")
	}
}

// TestColorWheelNaN verifies that NaN entries render black.
func TestColorWheelNaN(t *testing.T) {
	field := models.NewShiftField(1, 1)
	field.Set(0, 0, models.ShiftVector{X: math.NaN(), Y: math.NaN()})

	img := ColorWheel(field, 1.0)
	c := img.RGBAAt(0, 0)
	if c.R != 0 || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Errorf("Expected opaque black for NaN entry, got %+v", c)
	}
}

// TestWheelLegend verifies the legend geometry: coloured inside the disc,
// transparent outside, dark at the centre.
func TestWheelLegend(t *testing.T) {
	size := 64
	img := WheelLegend(size)

	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Error("Expected transparent corner outside the disc")
	}

	centre := img.RGBAAt(size/2, size/2)
	if centre.A != 255 {
		t.Error("Expected opaque centre")
	}
	if int(centre.R)+int(centre.G)+int(centre.B) > 30 {
		t.Errorf("Expected near-black centre, got %+v", centre)
	}

	edge := img.RGBAAt(size-4, size/2)
	if edge.A != 255 {
		t.Error("Expected opaque pixel near the disc edge")
	}
	if int(edge.R)+int(edge.G)+int(edge.B) <= int(centre.R)+int(centre.G)+int(centre.B) {
		t.Error("Expected edge brighter than centre")
	}
}

// TestMagnitudeImage verifies grayscale normalisation over an explicit and
// an automatic range.
func TestMagnitudeImage(t *testing.T) {
	field := models.NewScalarField(2, 1)
	field.Set(0, 0, 1.0)
	field.Set(1, 0, 3.0)

	img := MagnitudeImage(field, 1.0, 3.0)
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected 0 at range floor, got %d", got)
	}
	if got := img.Gray16At(1, 0).Y; got != 65535 {
		t.Errorf("Expected 65535 at range ceiling, got %d", got)
	}

	// Auto range picks up the same endpoints here.
	auto := MagnitudeImage(field, 0, 0)
	if auto.Gray16At(0, 0).Y != 0 || auto.Gray16At(1, 0).Y != 65535 {
		t.Error("Auto range did not normalise to full scale")
	}
}

// TestMagnitudeField verifies the magnitude extraction.
func TestMagnitudeField(t *testing.T) {
	field := models.NewShiftField(1, 1)
	field.Set(0, 0, models.ShiftVector{X: 3, Y: 4})

	mag := MagnitudeField(field)
	if got := mag.At(0, 0); got != 5.0 {
		t.Errorf("Expected magnitude 5, got %g", got)
	}
}

// TestSaveImage verifies both encoders and the extension check.
func TestSaveImage(t *testing.T) {
	dir := t.TempDir()
	field := models.NewShiftField(4, 4)
	field.Set(1, 1, models.ShiftVector{X: 1, Y: 1})
	img := ColorWheel(field, 0)

	for _, name := range []string{"wheel.png", "wheel.jpg"} {
		path := filepath.Join(dir, name)
		if err := SaveImage(img, path); err != nil {
			t.Fatalf("SaveImage(%s) failed: %v", name, err)
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			t.Errorf("Expected non-empty file for %s", name)
		}
	}

	if err := SaveImage(img, filepath.Join(dir, "wheel.bmp")); err == nil {
		t.Error("Expected error for unsupported extension")
	}
}

// TestHistogram2D verifies binning of known shift vectors.
func TestHistogram2D(t *testing.T) {
	field := models.NewShiftField(2, 2)
	field.Set(0, 0, models.ShiftVector{X: -0.9, Y: -0.9})
	field.Set(1, 0, models.ShiftVector{X: 0.9, Y: 0.9})
	field.Set(0, 1, models.ShiftVector{X: 0.9, Y: 0.9})
	field.Set(1, 1, models.ShiftVector{X: math.NaN(), Y: 0})

	grid, err := Histogram2D(field, 2, 1.0)
	if err != nil {
		t.Fatalf("Histogram2D failed: %v", err)
	}

	if got := grid.Z(0, 0); got != 1 {
		t.Errorf("Expected 1 count in lower-left bin, got %g", got)
	}
	if got := grid.Z(1, 1); got != 2 {
		t.Errorf("Expected 2 counts in upper-right bin, got %g", got)
	}

	total := 0.0
	for _, c := range grid.Counts {
		total += c
	}
	if total != 3 {
		t.Errorf("Expected 3 binned samples (NaN skipped), got %g", total)
	}

	// Bin centres are symmetric around zero.
	if x0, x1 := grid.X(0), grid.X(1); x0 != -x1 {
		t.Errorf("Expected symmetric bin centres, got %g and %g", x0, x1)
	}

	if _, err := Histogram2D(field, 0, 1.0); err == nil {
		t.Error("Expected error for zero bins")
	}
}

// TestHistogram2DBelowRange verifies that samples outside the requested
// range are dropped on both sides. Truncating toward zero instead of
// flooring would count samples just below -limit in the edge bin.
func TestHistogram2DBelowRange(t *testing.T) {
	field := models.NewShiftField(3, 1)
	field.Set(0, 0, models.ShiftVector{X: -1.05, Y: 0})
	field.Set(1, 0, models.ShiftVector{X: 1.05, Y: 0})
	field.Set(2, 0, models.ShiftVector{X: 0.5, Y: 0.5})

	grid, err := Histogram2D(field, 4, 1.0)
	if err != nil {
		t.Fatalf("Histogram2D failed: %v", err)
	}

	total := 0.0
	for _, c := range grid.Counts {
		total += c
	}
	if total != 1 {
		t.Errorf("Expected 1 binned sample with out-of-range samples skipped, got %g", total)
	}
	if got := grid.Z(3, 3); got != 1 {
		t.Errorf("Expected the in-range sample in bin (3,3), got %g", got)
	}
}

// TestHistogramPlots verifies that plots render to non-empty PNG files.
func TestHistogramPlots(t *testing.T) {
	dir := t.TempDir()
	field := models.NewShiftField(8, 8)
	for i := range field.SX {
		field.SX[i] = math.Sin(float64(i) * 0.4)
		field.SY[i] = math.Cos(float64(i) * 0.7)
	}

	grid, err := Histogram2D(field, 16, 0)
	if err != nil {
		t.Fatalf("Histogram2D failed: %v", err)
	}

	heatPath := filepath.Join(dir, "hist2d.png")
	if err := SaveHistogramPlot(grid, heatPath); err != nil {
		t.Fatalf("SaveHistogramPlot failed: %v", err)
	}
	if info, err := os.Stat(heatPath); err != nil || info.Size() == 0 {
		t.Error("Expected non-empty heat map file")
	}

	magPath := filepath.Join(dir, "mag.png")
	if err := SaveMagnitudeHistogram(field, 20, magPath); err != nil {
		t.Fatalf("SaveMagnitudeHistogram failed: %v", err)
	}
	if info, err := os.Stat(magPath); err != nil || info.Size() == 0 {
		t.Error("Expected non-empty magnitude histogram file")
	}
}
