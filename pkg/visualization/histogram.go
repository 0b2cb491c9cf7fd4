package visualization

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"stem4d/internal/models"
)

// HistGrid is a bivariate histogram of (shift_x, shift_y) pairs, laid out as
// a bins x bins count grid over a symmetric range. It implements
// plotter.GridXYZ so it can be rendered directly as a heat map.
type HistGrid struct {
	Bins   int
	Limit  float64
	Counts []float64
}

// Histogram2D bins the shift vectors of a field into a bins x bins grid over
// [-limit, limit] on both axes. limit <= 0 selects the field's maximum
// magnitude (so every finite sample lands in range). NaN entries are
// skipped.
func Histogram2D(field *models.ShiftField, bins int, limit float64) (*HistGrid, error) {
	if bins < 1 {
		return nil, fmt.Errorf("histogram needs at least 1 bin, got %d", bins)
	}
	if limit <= 0 {
		limit = field.MaxMagnitude()
		if limit == 0 {
			limit = 1
		}
	}

	grid := &HistGrid{
		Bins:   bins,
		Limit:  limit,
		Counts: make([]float64, bins*bins),
	}
	width := 2 * limit / float64(bins)

	for i := range field.SX {
		sx, sy := field.SX[i], field.SY[i]
		if math.IsNaN(sx) || math.IsNaN(sy) {
			continue
		}
		// Floor first: plain int conversion truncates toward zero, which
		// would fold samples just below -limit into bin 0.
		bx := int(math.Floor((sx + limit) / width))
		by := int(math.Floor((sy + limit) / width))
		// A sample exactly on the upper edge belongs to the last bin.
		if bx == bins && sx == limit {
			bx = bins - 1
		}
		if by == bins && sy == limit {
			by = bins - 1
		}
		if bx < 0 || bx >= bins || by < 0 || by >= bins {
			continue
		}
		grid.Counts[by*bins+bx]++
	}
	return grid, nil
}

// Dims implements plotter.GridXYZ.
func (g *HistGrid) Dims() (c, r int) { return g.Bins, g.Bins }

// Z implements plotter.GridXYZ.
func (g *HistGrid) Z(c, r int) float64 { return g.Counts[r*g.Bins+c] }

// X implements plotter.GridXYZ, returning the bin-centre shift_x value.
func (g *HistGrid) X(c int) float64 {
	width := 2 * g.Limit / float64(g.Bins)
	return -g.Limit + (float64(c)+0.5)*width
}

// Y implements plotter.GridXYZ, returning the bin-centre shift_y value.
func (g *HistGrid) Y(r int) float64 {
	width := 2 * g.Limit / float64(g.Bins)
	return -g.Limit + (float64(r)+0.5)*width
}

// SaveHistogramPlot renders a bivariate shift histogram as a heat-map PNG.
func SaveHistogramPlot(grid *HistGrid, path string) error {
	p := plot.New()
	p.Title.Text = "Beam Shift Distribution"
	p.X.Label.Text = "shift x (px)"
	p.Y.Label.Text = "shift y (px)"

	heat := plotter.NewHeatMap(grid, palette.Heat(16, 1))
	p.Add(heat)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving histogram plot: %w", err)
	}
	return nil
}

// SaveMagnitudeHistogram renders a 1-D histogram of shift magnitudes as PNG.
// NaN entries are skipped.
func SaveMagnitudeHistogram(field *models.ShiftField, bins int, path string) error {
	var values plotter.Values
	for i := range field.SX {
		m := math.Hypot(field.SX[i], field.SY[i])
		if math.IsNaN(m) {
			continue
		}
		values = append(values, m)
	}
	if len(values) == 0 {
		return fmt.Errorf("no finite shift magnitudes to plot")
	}

	p := plot.New()
	p.Title.Text = "Shift Magnitude"
	p.X.Label.Text = "|shift| (px)"
	p.Y.Label.Text = "count"

	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return fmt.Errorf("building magnitude histogram: %w", err)
	}
	p.Add(hist)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving magnitude histogram: %w", err)
	}
	return nil
}
