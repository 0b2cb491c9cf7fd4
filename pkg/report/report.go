// Package report renders an interactive HTML exploration page for a shift
// field: the shift-plane scatter (the interactive counterpart of the
// bivariate histogram) and the scan grid coloured by shift magnitude.
package report

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"stem4d/internal/models"
)

// maxPoints bounds the number of scatter points per chart; larger fields are
// strided down so the page stays responsive.
const maxPoints = 20000

var viridis = []string{
	"#440154", "#482777", "#3e4989", "#31688e", "#26828e",
	"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
}

// Write renders the report page to w.
func Write(w io.Writer, field *models.ShiftField, title string) error {
	stride := 1
	if n := field.Len(); n > maxPoints {
		stride = (n + maxPoints - 1) / maxPoints
	}

	maxMag := field.MaxMagnitude()
	if maxMag == 0 {
		maxMag = 1
	}

	planeData := make([]opts.ScatterData, 0, field.Len()/stride+1)
	gridData := make([]opts.ScatterData, 0, field.Len()/stride+1)
	for i := 0; i < field.Len(); i += stride {
		sx, sy := field.SX[i], field.SY[i]
		if math.IsNaN(sx) || math.IsNaN(sy) {
			continue
		}
		mag := math.Hypot(sx, sy)
		px := i % field.ScanW
		py := i / field.ScanW
		planeData = append(planeData, opts.ScatterData{Value: []interface{}{sx, sy, mag}})
		gridData = append(gridData, opts.ScatterData{Value: []interface{}{px, py, mag}})
	}

	plane := charts.NewScatter()
	plane.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "700px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Shift Plane", Subtitle: fmt.Sprintf("points=%d stride=%d", len(planeData), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "shift x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "shift y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxMag),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	plane.AddSeries("shifts", planeData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	grid := charts.NewScatter()
	grid.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "700px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Scan Grid Magnitude", Subtitle: fmt.Sprintf("%dx%d probe positions", field.ScanW, field.ScanH)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "probe x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "probe y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxMag),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	grid.AddSeries("magnitude", gridData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	page := components.NewPage()
	page.AddCharts(plane, grid)
	return page.Render(w)
}

// Save writes the report page to a file.
func Save(path string, field *models.ShiftField, title string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer file.Close()

	if err := Write(file, field, title); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}
