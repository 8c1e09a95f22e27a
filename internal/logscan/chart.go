package logscan

import (
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteHTML renders the series as an interactive go-echarts line chart.
// Absent readings leave gaps.
func WriteHTML(w io.Writer, records []Record, title string) error {
	x := make([]int, len(records))
	y := make([]opts.LineData, len(records))
	for i, r := range records {
		x[i] = i
		if r.Reading.Valid {
			y[i] = opts.LineData{Value: r.Reading.Meters}
		} else {
			y[i] = opts.LineData{Value: "-"}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: Summarize(records).String()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Tick", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Distance (m)", NameLocation: "middle", NameGap: 35}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).AddSeries("distance", y)

	return line.Render(w)
}

// SavePNG renders the present readings with gonum/plot.
func SavePNG(path string, records []Record, title string) error {
	pts := make(plotter.XYs, 0, len(records))
	for i, r := range records {
		if r.Reading.Valid {
			pts = append(pts, plotter.XY{X: float64(i), Y: r.Reading.Meters})
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("no readings to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Distance (m)"
	p.Add(plotter.NewGrid())

	l, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	l.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	l.Width = vg.Points(1)
	p.Add(l)

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(sc)

	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}
