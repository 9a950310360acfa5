package internal

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/etesami/traffic-counting-system/pkg/counting"
	"github.com/etesami/traffic-counting-system/pkg/store"
)

// renderChart writes an HTML bar chart of the per-class counts of run.
func renderChart(w io.Writer, run *store.Run) error {
	x := make([]string, 0, len(counting.Classes))
	y := make([]opts.BarData, 0, len(counting.Classes))
	for _, c := range counting.Classes {
		x = append(x, string(c))
		y = append(y, opts.BarData{Value: run.Counts[c]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Vehicle counts", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    run.SourceName,
			Subtitle: fmt.Sprintf("total=%d level=%s frames=%d", run.Total, run.Level, run.Frames),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("vehicles", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar.Render(w)
}
