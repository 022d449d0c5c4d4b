package stress

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	jsoniter "github.com/json-iterator/go"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TimelinePoint is one sample of the session counters during a run.
type TimelinePoint struct {
	Elapsed  float64 `json:"elapsed_s"`
	Received uint64  `json:"received"`
	Dropped  uint64  `json:"dropped"`
}

// Report summarises a stress run.
type Report struct {
	Addr      string          `json:"addr"`
	Rate      int             `json:"rate"`
	Duration  float64         `json:"duration_s"`
	Burst     int             `json:"burst"`
	Corrupt   float64         `json:"corrupt"`
	Sent      int             `json:"sent"`
	Corrupted int             `json:"corrupted"`
	Bursts    int             `json:"bursts"`
	Received  uint64          `json:"received"`
	Dropped   uint64          `json:"dropped"`
	Malformed uint64          `json:"malformed"`
	Batches   uint64          `json:"batches"`
	DropRate  float64         `json:"drop_rate"`
	Timeline  []TimelinePoint `json:"timeline"`

	DiagPath   string `json:"diag_path,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
	ChartPath  string `json:"chart_path,omitempty"`
	PlotPath   string `json:"plot_path,omitempty"`
}

func (r *Report) title() string {
	return fmt.Sprintf("Stress test %dpps burst=%d", r.Rate, r.Burst)
}

// WriteAll writes the chart, the plot and finally the JSON report into dir.
func (r *Report) WriteAll(dir string) error {
	chart := filepath.Join(dir, "stress_report.html")
	if err := r.WriteChart(chart); err != nil {
		return err
	}
	r.ChartPath = chart

	png := filepath.Join(dir, "stress_report.png")
	if err := r.WritePlot(png); err != nil {
		return err
	}
	r.PlotPath = png

	r.ReportPath = filepath.Join(dir, "stress_report.json")
	return r.WriteJSON(r.ReportPath)
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteJSON.
func ReadReport(path string) (*Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}

// WriteChart renders the timeline as an interactive HTML line chart.
func (r *Report) WriteChart(path string) error {
	xs := make([]string, len(r.Timeline))
	received := make([]opts.LineData, len(r.Timeline))
	dropped := make([]opts.LineData, len(r.Timeline))
	for i, p := range r.Timeline {
		xs[i] = strconv.FormatFloat(p.Elapsed, 'f', 1, 64)
		received[i] = opts.LineData{Value: p.Received}
		dropped[i] = opts.LineData{Value: p.Dropped}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "posebridge stress report", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: r.title(), Subtitle: fmt.Sprintf("received=%d dropped=%d drop_rate=%.3f", r.Received, r.Dropped, r.DropRate)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count"}),
	)
	line.SetXAxis(xs).
		AddSeries("received", received).
		AddSeries("dropped", dropped)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// WritePlot renders the timeline as a static PNG.
func (r *Report) WritePlot(path string) error {
	p := plot.New()
	p.Title.Text = r.title()
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "count"

	receivedPts := make(plotter.XYs, len(r.Timeline))
	droppedPts := make(plotter.XYs, len(r.Timeline))
	for i, pt := range r.Timeline {
		receivedPts[i] = plotter.XY{X: pt.Elapsed, Y: float64(pt.Received)}
		droppedPts[i] = plotter.XY{X: pt.Elapsed, Y: float64(pt.Dropped)}
	}

	receivedLine, err := plotter.NewLine(receivedPts)
	if err != nil {
		return fmt.Errorf("received line: %w", err)
	}
	receivedLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	receivedLine.Width = vg.Points(1.5)

	droppedLine, err := plotter.NewLine(droppedPts)
	if err != nil {
		return fmt.Errorf("dropped line: %w", err)
	}
	droppedLine.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	droppedLine.Width = vg.Points(1.5)

	p.Add(receivedLine, droppedLine)
	p.Legend.Add("received", receivedLine)
	p.Legend.Add("dropped", droppedLine)
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
