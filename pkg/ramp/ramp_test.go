package ramp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stem4d/internal/models"
)

// planeField builds a shift field that is exactly an affine plane in both
// components.
func planeField(scanW, scanH int, px, py Plane) *models.ShiftField {
	field := models.NewShiftField(scanW, scanH)
	for y := 0; y < scanH; y++ {
		for x := 0; x < scanW; x++ {
			field.Set(x, y, models.ShiftVector{X: px.Eval(x, y), Y: py.Eval(x, y)})
		}
	}
	return field
}

func TestFitRecoversPlane(t *testing.T) {
	wantX := Plane{A: 0.5, B: 0.1, C: -0.02}
	wantY := Plane{A: -1.2, B: 0.0, C: 0.3}
	field := planeField(16, 12, wantX, wantY)

	gotX, gotY, err := Fit(field, 0.25)
	require.NoError(t, err)

	assert.InDelta(t, wantX.A, gotX.A, 1e-9)
	assert.InDelta(t, wantX.B, gotX.B, 1e-9)
	assert.InDelta(t, wantX.C, gotX.C, 1e-9)
	assert.InDelta(t, wantY.A, gotY.A, 1e-9)
	assert.InDelta(t, wantY.B, gotY.B, 1e-9)
	assert.InDelta(t, wantY.C, gotY.C, 1e-9)
}

func TestCorrectPerfectPlaneYieldsZero(t *testing.T) {
	field := planeField(10, 10, Plane{A: 2, B: -0.3, C: 0.07}, Plane{A: -5, B: 0.01, C: 0.4})

	corrected, err := Correct(field, 0.2)
	require.NoError(t, err)

	for i := range corrected.SX {
		assert.InDelta(t, 0, corrected.SX[i], 1e-9)
		assert.InDelta(t, 0, corrected.SY[i], 1e-9)
	}
}

func TestCorrectIsLinear(t *testing.T) {
	// Two fields with the same corner geometry: correcting the sum must
	// equal the sum of the corrections.
	a := planeField(12, 8, Plane{A: 1, B: 0.2, C: 0}, Plane{A: 0, B: 0, C: 0.1})
	b := models.NewShiftField(12, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 12; x++ {
			b.Set(x, y, models.ShiftVector{
				X: math.Sin(float64(x)*0.7) * 0.05,
				Y: math.Cos(float64(y)*1.3) * 0.04,
			})
		}
	}

	sum, err := a.Add(b)
	require.NoError(t, err)

	correctedSum, err := Correct(sum, 0.25)
	require.NoError(t, err)
	correctedA, err := Correct(a, 0.25)
	require.NoError(t, err)
	correctedB, err := Correct(b, 0.25)
	require.NoError(t, err)

	sumOfCorrected, err := correctedA.Add(correctedB)
	require.NoError(t, err)

	for i := range correctedSum.SX {
		assert.InDelta(t, sumOfCorrected.SX[i], correctedSum.SX[i], 1e-9)
		assert.InDelta(t, sumOfCorrected.SY[i], correctedSum.SY[i], 1e-9)
	}
}

func TestCorrectSyntheticRamp(t *testing.T) {
	// 4x4 grid where shift_x is corrupted with a 0.1/position ramp in probe
	// x. After correction the residual must vanish.
	field := models.NewShiftField(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			field.Set(x, y, models.ShiftVector{X: 0.1 * float64(x), Y: 0})
		}
	}

	corrected, err := Correct(field, 0.25)
	require.NoError(t, err)

	for i := range corrected.SX {
		assert.InDelta(t, 0, corrected.SX[i], 1e-6)
		assert.InDelta(t, 0, corrected.SY[i], 1e-6)
	}
}

func TestCornerResidualMeanNearZero(t *testing.T) {
	// Plane plus noise: the corner-region residual mean should be driven
	// close to zero by the least squares fit.
	field := planeField(20, 20, Plane{A: 3, B: 0.05, C: -0.08}, Plane{A: -1, B: 0.02, C: 0.02})
	for i := range field.SX {
		field.SX[i] += 0.001 * math.Sin(float64(i)*2.1)
	}

	corrected, err := Correct(field, 0.2)
	require.NoError(t, err)

	sum := 0.0
	samples := cornerIndices(corrected, 0.2)
	require.NotEmpty(t, samples)
	for _, i := range samples {
		sum += corrected.SX[i]
	}
	assert.InDelta(t, 0, sum/float64(len(samples)), 1e-3)
}

func TestFitFractionValidation(t *testing.T) {
	field := planeField(8, 8, Plane{}, Plane{})

	for _, fraction := range []float64{0, -0.1, 0.5, 0.9} {
		_, _, err := Fit(field, fraction)
		assert.Error(t, err, "fraction %g", fraction)
	}
}

func TestFitInsufficientSamples(t *testing.T) {
	// A 1x2 field has two corner samples at most: underdetermined.
	field := models.NewShiftField(1, 2)

	_, _, err := Fit(field, 0.4)
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestFitSkipsNaNSamples(t *testing.T) {
	field := planeField(10, 10, Plane{A: 1, B: 0.1, C: 0.2}, Plane{})
	// Poison one corner entry; the fit must ignore it and still recover the
	// plane from the remaining samples.
	field.SX[0] = math.NaN()
	field.SY[0] = math.NaN()

	gotX, _, err := Fit(field, 0.3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, gotX.A, 1e-9)
	assert.InDelta(t, 0.1, gotX.B, 1e-9)
	assert.InDelta(t, 0.2, gotX.C, 1e-9)
}
