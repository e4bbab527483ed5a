// Package report renders per-task timing for a finished run: an interactive
// HTML page (go-echarts), a static PNG (gonum/plot) and a text summary.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/bagsplit/internal/pipeline"
	"github.com/banshee-data/bagsplit/internal/taskgraph"
)

// File names written under the report directory.
const (
	HTMLFile    = "report.html"
	PNGFile     = "durations.png"
	SummaryFile = "summary.txt"
)

// PipelineStats aggregates the task durations of one pipeline. Only tasks
// that ran count towards the timing figures.
type PipelineStats struct {
	Pipeline  string
	Succeeded int
	Failed    int
	Skipped   int
	Total     time.Duration
	Mean      time.Duration
	StdDev    time.Duration
	Longest   string
	Max       time.Duration
}

// Summarize computes per-pipeline statistics in first-seen pipeline order.
func Summarize(records []taskgraph.Record) []PipelineStats {
	var (
		order   []string
		byName  = map[string]*PipelineStats{}
		samples = map[string][]float64{}
	)
	for _, r := range records {
		ps, ok := byName[r.Graph]
		if !ok {
			ps = &PipelineStats{Pipeline: r.Graph}
			byName[r.Graph] = ps
			order = append(order, r.Graph)
		}
		switch r.Status {
		case taskgraph.Succeeded:
			ps.Succeeded++
		case taskgraph.Failed:
			ps.Failed++
		case taskgraph.Skipped:
			ps.Skipped++
			continue
		}
		d := r.Duration()
		ps.Total += d
		if d > ps.Max || ps.Longest == "" {
			ps.Max = d
			ps.Longest = r.Task
		}
		samples[r.Graph] = append(samples[r.Graph], d.Seconds())
	}

	out := make([]PipelineStats, 0, len(order))
	for _, name := range order {
		ps := byName[name]
		if xs := samples[name]; len(xs) > 0 {
			mean, std := stat.MeanStdDev(xs, nil)
			if len(xs) < 2 || math.IsNaN(std) {
				std = 0
			}
			ps.Mean = seconds(mean)
			ps.StdDev = seconds(std)
		}
		out = append(out, *ps)
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Write renders every report file for r into dir, creating dir.
func Write(dir string, r *pipeline.Report) ([]PipelineStats, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	records := r.Records()
	stats := Summarize(records)

	if err := writeFile(filepath.Join(dir, HTMLFile), func(w io.Writer) error {
		return RenderHTML(w, r, stats)
	}); err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(dir, SummaryFile), func(w io.Writer) error {
		return RenderSummary(w, r, stats)
	}); err != nil {
		return nil, err
	}
	if ran(records) > 0 {
		if err := SavePNG(filepath.Join(dir, PNGFile), records); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func ran(records []taskgraph.Record) int {
	n := 0
	for _, r := range records {
		if r.Status != taskgraph.Skipped {
			n++
		}
	}
	return n
}

func label(r taskgraph.Record) string {
	return r.Graph + ": " + r.Task
}

// RenderHTML writes a page with a task-duration bar chart and a bar chart
// of mean task duration per pipeline.
func RenderHTML(w io.Writer, r *pipeline.Report, stats []PipelineStats) error {
	var (
		names []string
		data  []opts.BarData
	)
	for _, rec := range r.Records() {
		if rec.Status == taskgraph.Skipped {
			continue
		}
		names = append(names, label(rec))
		data = append(data, opts.BarData{Name: rec.Status.String(), Value: rec.Duration().Seconds()})
	}

	tasks := charts.NewBar()
	tasks.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "bagsplit run " + r.RunID, Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Task durations", Subtitle: fmt.Sprintf("%s (%s, %s)", r.Bag, r.Status(), r.Finished.Sub(r.Started).Round(time.Millisecond))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	tasks.SetXAxis(names).
		AddSeries("duration", data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var (
		pipelines []string
		means     []opts.BarData
		spreads   []opts.BarData
	)
	for _, s := range stats {
		pipelines = append(pipelines, s.Pipeline)
		means = append(means, opts.BarData{Value: s.Mean.Seconds()})
		spreads = append(spreads, opts.BarData{Value: s.StdDev.Seconds()})
	}
	perPipeline := charts.NewBar()
	perPipeline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Mean task duration per pipeline"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	perPipeline.SetXAxis(pipelines).
		AddSeries("mean", means).
		AddSeries("stddev", spreads)

	page := components.NewPage()
	page.SetPageTitle("bagsplit run " + r.RunID)
	page.AddCharts(tasks, perPipeline)
	return page.Render(w)
}

// SavePNG draws the duration of every task that ran as a bar chart.
func SavePNG(path string, records []taskgraph.Record) error {
	var (
		names  []string
		values plotter.Values
	)
	for _, r := range records {
		if r.Status == taskgraph.Skipped {
			continue
		}
		names = append(names, label(r))
		values = append(values, r.Duration().Seconds())
	}
	if len(values) == 0 {
		return fmt.Errorf("no task ran")
	}

	p := plot.New()
	p.Title.Text = "Task durations"
	p.Y.Label.Text = "seconds"

	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return fmt.Errorf("failed to build bar chart: %w", err)
	}
	p.Add(bars)
	p.NominalX(names...)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = text.XRight

	width := vg.Length(len(values)) * 0.5 * vg.Inch
	if width < 6*vg.Inch {
		width = 6 * vg.Inch
	}
	if err := p.Save(width, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// RenderSummary writes a plain-text table of the run.
func RenderSummary(w io.Writer, r *pipeline.Report, stats []PipelineStats) error {
	var b strings.Builder
	fmt.Fprintf(&b, "run:      %s\n", r.RunID)
	fmt.Fprintf(&b, "bag:      %s\n", r.Bag)
	fmt.Fprintf(&b, "output:   %s\n", r.OutputDir)
	fmt.Fprintf(&b, "status:   %s\n", r.Status())
	fmt.Fprintf(&b, "duration: %s\n\n", r.Finished.Sub(r.Started).Round(time.Millisecond))

	fmt.Fprintf(&b, "%-12s %4s %4s %4s %10s %10s %10s  %s\n", "pipeline", "ok", "fail", "skip", "total", "mean", "stddev", "longest")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %4d %4d %4d %10s %10s %10s  %s\n",
			s.Pipeline, s.Succeeded, s.Failed, s.Skipped,
			s.Total.Round(time.Millisecond), s.Mean.Round(time.Millisecond), s.StdDev.Round(time.Millisecond), s.Longest)
	}

	if warnings := r.Warnings(); len(warnings) > 0 {
		sort.Strings(warnings)
		b.WriteString("\nwarnings:\n")
		for _, warning := range warnings {
			fmt.Fprintf(&b, "  - %s\n", warning)
		}
	}
	if err := r.Err(); err != nil {
		fmt.Fprintf(&b, "\nerrors:\n  %s\n", strings.ReplaceAll(err.Error(), "\n", "\n  "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
