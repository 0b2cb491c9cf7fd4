package phase

import (
	"math"
	"testing"

	"stem4d/internal/models"
)

// TestIntegrateRecoversSingleMode verifies Fourier integration against an
// analytic case: the gradient field of phi = sin(kx*x) + sin(ky*y) must
// integrate back to phi (up to the unobservable constant, removed by the
// zero-mean normalisation on both sides).
func TestIntegrateRecoversSingleMode(t *testing.T) {
	const w, h = 32, 24
	kx := 2 * math.Pi * 3 / float64(w)
	ky := 2 * math.Pi * 2 / float64(h)

	field := models.NewShiftField(w, h)
	want := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			field.SX[i] = kx * math.Cos(kx*float64(x))
			field.SY[i] = ky * math.Cos(ky*float64(y))
			want[i] = math.Sin(kx*float64(x)) + math.Sin(ky*float64(y))
		}
	}

	phi, err := Integrate(field)
	if err != nil {
		t.Fatalf("Integrate failed: %v", err)
	}

	// Remove the mean from the analytic phase too before comparing.
	mean := 0.0
	for _, v := range want {
		mean += v
	}
	mean /= float64(len(want))

	for i := range want {
		if diff := math.Abs(phi.Data[i] - (want[i] - mean)); diff > 1e-9 {
			t.Fatalf("Pixel %d: expected %g, got %g (diff %g)", i, want[i]-mean, phi.Data[i], diff)
		}
	}
}

// TestIntegrateZeroField verifies that a zero deflection field produces a
// zero phase map.
func TestIntegrateZeroField(t *testing.T) {
	phi, err := Integrate(models.NewShiftField(8, 8))
	if err != nil {
		t.Fatalf("Integrate failed: %v", err)
	}
	for i, v := range phi.Data {
		if v != 0 {
			t.Errorf("Pixel %d: expected 0, got %g", i, v)
		}
	}
}

// TestIntegrateOutputIsZeroMean verifies the normalisation on an arbitrary
// field.
func TestIntegrateOutputIsZeroMean(t *testing.T) {
	field := models.NewShiftField(10, 10)
	for i := range field.SX {
		field.SX[i] = math.Sin(float64(i) * 0.37)
		field.SY[i] = math.Cos(float64(i) * 0.91)
	}

	phi, err := Integrate(field)
	if err != nil {
		t.Fatalf("Integrate failed: %v", err)
	}

	sum := 0.0
	for _, v := range phi.Data {
		sum += v
	}
	if math.Abs(sum/float64(len(phi.Data))) > 1e-12 {
		t.Errorf("Expected zero-mean output, got mean %g", sum/float64(len(phi.Data)))
	}
}

// TestIntegrateRejectsTinyFields verifies the minimum-size contract.
func TestIntegrateRejectsTinyFields(t *testing.T) {
	for _, dims := range [][2]int{{1, 8}, {8, 1}, {1, 1}} {
		if _, err := Integrate(models.NewShiftField(dims[0], dims[1])); err == nil {
			t.Errorf("Expected error for %dx%d field", dims[0], dims[1])
		}
	}
}
