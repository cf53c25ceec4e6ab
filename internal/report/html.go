package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderHTML writes a standalone coverage dashboard: one stacked bar chart
// per scene showing each sensor's exact/held/missing frame counts, plus an
// arrival-count line across scenes.
func RenderHTML(w io.Writer, summaries []SceneSummary) error {
	page := components.NewPage()
	page.PageTitle = "Capture coverage"

	for _, s := range summaries {
		page.AddCharts(coverageBar(s))
	}
	if len(summaries) > 1 {
		page.AddCharts(arrivalLine(summaries))
	}

	return page.Render(w)
}

func coverageBar(s SceneSummary) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Scene %d sensor coverage", s.SceneID),
			Subtitle: fmt.Sprintf("frames=%d partial=%d annotations=%d", s.Frames, s.PartialFrames, s.Annotations),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	names := s.sensors()
	exact := make([]opts.BarData, len(names))
	held := make([]opts.BarData, len(names))
	missing := make([]opts.BarData, len(names))
	for i, name := range names {
		cov := s.Coverage[name]
		exact[i] = opts.BarData{Value: cov.Exact}
		held[i] = opts.BarData{Value: cov.Held}
		missing[i] = opts.BarData{Value: cov.Missing}
	}

	bar.SetXAxis(names).
		AddSeries("exact", exact).
		AddSeries("held", held).
		AddSeries("missing", missing).
		SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{Stack: "coverage"}))
	return bar
}

func arrivalLine(summaries []SceneSummary) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Mean sensor arrivals per frame"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	scenes := make([]string, len(summaries))
	means := make([]opts.LineData, len(summaries))
	for i, s := range summaries {
		scenes[i] = fmt.Sprintf("scene %d", s.SceneID)
		means[i] = opts.LineData{Value: s.ArrivalMean}
	}
	line.SetXAxis(scenes).AddSeries("mean arrivals", means)
	return line
}
