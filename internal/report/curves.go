// Package report renders training-run loss curves as an HTML page and
// generated trajectories as PNG plots.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/skyhaven-systems/trajgen/internal/train"
)

// LossCurvesHTML writes an HTML page with the total train/val loss curve
// plus a per-component breakdown of the validation loss.
func LossCurvesHTML(history []train.EpochStats, title, path string) error {
	if len(history) == 0 {
		return fmt.Errorf("no epoch history to plot")
	}

	epochs := make([]string, len(history))
	trainTotal := make([]opts.LineData, len(history))
	valTotal := make([]opts.LineData, len(history))
	valRecon := make([]opts.LineData, len(history))
	valKL := make([]opts.LineData, len(history))
	valSmooth := make([]opts.LineData, len(history))
	valBound := make([]opts.LineData, len(history))
	lr := make([]opts.LineData, len(history))
	for i, e := range history {
		epochs[i] = fmt.Sprintf("%d", e.Epoch+1)
		trainTotal[i] = opts.LineData{Value: e.Train.Total}
		valTotal[i] = opts.LineData{Value: e.Val.Total}
		valRecon[i] = opts.LineData{Value: e.Val.Reconstruction}
		valKL[i] = opts.LineData{Value: e.Val.KL}
		valSmooth[i] = opts.LineData{Value: e.Val.Smoothness}
		valBound[i] = opts.LineData{Value: e.Val.Boundary}
		lr[i] = opts.LineData{Value: e.LearningRate}
	}

	total := charts.NewLine()
	total.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "total loss"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "epoch"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "loss"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	total.SetXAxis(epochs).
		AddSeries("train", trainTotal).
		AddSeries("val", valTotal)

	parts := charts.NewLine()
	parts.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "validation loss components"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "epoch"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	parts.SetXAxis(epochs).
		AddSeries("reconstruction", valRecon).
		AddSeries("kl", valKL).
		AddSeries("smoothness", valSmooth).
		AddSeries("boundary", valBound)

	lrChart := charts.NewLine()
	lrChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "learning rate"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "epoch"}),
	)
	lrChart.SetXAxis(epochs).AddSeries("lr", lr)

	page := components.NewPage()
	page.AddCharts(total, parts, lrChart)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		return fmt.Errorf("failed to render loss curves: %w", err)
	}
	return nil
}
