package dpc

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Metrics summarises one analysis run. NaN field entries (dark-frame
// fallbacks) are excluded from every statistic.
type Metrics struct {
	// MeanShiftX and MeanShiftY are the average shift components over the
	// corrected field, in detector pixels.
	MeanShiftX float64 `json:"meanShiftX"`
	MeanShiftY float64 `json:"meanShiftY"`

	// MeanMagnitude and MaxMagnitude summarise the shift magnitude
	// distribution.
	MeanMagnitude float64 `json:"meanMagnitude"`
	MaxMagnitude  float64 `json:"maxMagnitude"`

	// StdMagnitude is the standard deviation of the shift magnitudes.
	StdMagnitude float64 `json:"stdMagnitude"`

	// RampBX and RampBY are the fitted d-scan slopes (per probe position)
	// that were subtracted; zero when correction is disabled.
	RampBX float64 `json:"rampSlopeX"`
	RampBY float64 `json:"rampSlopeY"`

	// CornerResidualMean is the mean shift magnitude remaining in the
	// corner regions after correction.
	CornerResidualMean float64 `json:"cornerResidualMean"`

	// FramesProcessed is the number of probe positions analysed.
	FramesProcessed int `json:"framesProcessed"`

	// Elapsed is the wall-clock pipeline duration.
	Elapsed time.Duration `json:"elapsedNs"`
}

// fill computes the distribution statistics from the finite samples.
func (m *Metrics) fill(sx, sy, mag []float64) {
	if len(sx) == 0 {
		return
	}
	m.MeanShiftX = stat.Mean(sx, nil)
	m.MeanShiftY = stat.Mean(sy, nil)
	m.MeanMagnitude = stat.Mean(mag, nil)
	m.StdMagnitude = stat.StdDev(mag, nil)
	for _, v := range mag {
		if v > m.MaxMagnitude {
			m.MaxMagnitude = v
		}
	}
}
