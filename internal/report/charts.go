package report

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/rewired-gh/casesim/internal/logger"
	"github.com/rewired-gh/casesim/internal/models"
	"github.com/rewired-gh/casesim/internal/montecarlo"
)

const maxChartWorkers = 4

var (
	seriesColor    = color.RGBA{B: 200, A: 255}
	referenceColor = color.RGBA{R: 255, A: 255}
	zeroColor      = color.Gray{Y: 128}
)

// Chart is one line chart over simulated days.
type Chart struct {
	Name   string
	Title  string
	YLabel string
	// Values holds one point per day. NaN marks a day without a value.
	Values []float64
	// Reference draws a dashed horizontal line when not NaN.
	Reference      float64
	ReferenceLabel string
}

// RunCharts returns the five charts of a run: the three simulated variables,
// active cases and the positivity rate. Observed means from summary are drawn
// as reference lines.
func RunCharts(label string, run *montecarlo.SimulationRun, summary RunSummary) []Chart {
	charts := make([]Chart, 0, len(models.Variables)+2)
	for _, v := range models.Variables {
		ref := math.NaN()
		if vs, ok := summary.Stats(v); ok && vs.ObservedDays > 0 {
			ref = vs.ObservedMean
		}
		charts = append(charts, Chart{
			Name:           string(v),
			Title:          fmt.Sprintf("Simulated %s (%s)", v, label),
			YLabel:         "Cases",
			Values:         toFloats(run.Series(v)),
			Reference:      ref,
			ReferenceLabel: "Observed mean",
		})
	}

	charts = append(charts, Chart{
		Name:      "active",
		Title:     fmt.Sprintf("Simulated active cases (%s)", label),
		YLabel:    "Cases",
		Values:    toFloats(run.ActiveCases),
		Reference: 0,
	})

	rates := make([]float64, len(run.PositivityRate))
	for i, r := range run.PositivityRate {
		rates[i] = math.NaN()
		if r.Defined {
			rates[i] = float64(r.Percent)
		}
	}
	charts = append(charts, Chart{
		Name:      "positivity",
		Title:     fmt.Sprintf("Simulated positivity rate (%s)", label),
		YLabel:    "Percent",
		Values:    rates,
		Reference: math.NaN(),
	})
	return charts
}

// CreateLinePlot renders c as a PNG image.
func CreateLinePlot(c Chart) ([]byte, error) {
	if len(c.Values) == 0 {
		return nil, fmt.Errorf("no values to plot for %s", c.Name)
	}

	p := plot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = "Day"
	p.Y.Label.Text = c.YLabel
	p.X.Min = 1
	p.X.Max = float64(len(c.Values))
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, 0, len(c.Values))
	for i, v := range c.Values {
		if !math.IsNaN(v) {
			pts = append(pts, plotter.XY{X: float64(i + 1), Y: v})
		}
	}

	if len(pts) > 0 {
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create line for %s: %w", c.Name, err)
		}
		line.Color = seriesColor
		line.LineStyle.Width = vg.Points(1.5)
		points.Color = seriesColor
		p.Add(line, points)
		p.Legend.Add("Simulated", line, points)
	} else {
		logger.Warn("Chart %s has no defined values", c.Name)
	}

	if !math.IsNaN(c.Reference) {
		ref, err := plotter.NewLine(plotter.XYs{{X: 1, Y: c.Reference}, {X: float64(len(c.Values)), Y: c.Reference}})
		if err != nil {
			return nil, fmt.Errorf("failed to create reference line for %s: %w", c.Name, err)
		}
		ref.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
		if c.ReferenceLabel != "" {
			ref.Color = referenceColor
			p.Legend.Add(c.ReferenceLabel, ref)
		} else {
			ref.Color = zeroColor
		}
		p.Add(ref)
	}

	p.Legend.Top = true
	p.Legend.XOffs = vg.Points(-10)

	writer, err := p.WriterTo(vg.Points(800), vg.Points(400), "png")
	if err != nil {
		return nil, fmt.Errorf("failed to create plot writer: %w", err)
	}
	buf := new(bytes.Buffer)
	if _, err := writer.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to write plot to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteCharts renders charts into dir as <prefix>-<name>.png and returns the
// written paths in chart order.
func WriteCharts(dir, prefix string, charts []Chart) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := make([]string, len(charts))
	var g errgroup.Group
	g.SetLimit(maxChartWorkers)
	for i, c := range charts {
		i, c := i, c
		g.Go(func() error {
			img, err := CreateLinePlot(c)
			if err != nil {
				return err
			}
			path := filepath.Join(dir, fmt.Sprintf("%s-%s.png", prefix, c.Name))
			if err := os.WriteFile(path, img, 0o644); err != nil {
				return fmt.Errorf("failed to write chart %s: %w", path, err)
			}
			logger.Debug("Wrote chart %s", path)
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
