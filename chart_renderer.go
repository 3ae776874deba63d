package waveviewer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Fraction of the viewport span added on each side when drawing, so traces
// on the boundary are not clipped by the frame.
const viewportMargin = 0.05

var (
	backgroundColor = drawing.ColorFromHex("000000")
	foregroundColor = drawing.ColorFromHex("ffffff")
	gridColor       = drawing.ColorFromHex("404040")
)

// ChartRenderer rasterises canvas snapshots with go-chart.
type ChartRenderer struct {
	options ViewerOptions
	logger  logrus.FieldLogger
}

func NewChartRenderer(options ViewerOptions) *ChartRenderer {
	return &ChartRenderer{
		options: options,
		logger:  logrus.WithField("tag", "ChartRenderer"),
	}
}

// RenderPNG writes the snapshot as a PNG of the given size.
func (r *ChartRenderer) RenderPNG(w io.Writer, snapshot CanvasSnapshot, width, height int) error {
	graph := r.chart(snapshot, width, height)
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// Render returns the snapshot as an image. On failure it logs and returns a
// blank frame so the window still updates.
func (r *ChartRenderer) Render(snapshot CanvasSnapshot, width, height int) image.Image {
	var buf bytes.Buffer
	if err := r.RenderPNG(&buf, snapshot, width, height); err != nil {
		r.logger.WithError(err).Warn("chart render failed, showing blank frame")
		return blankFrame(width, height)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		r.logger.WithError(err).Warn("chart decode failed, showing blank frame")
		return blankFrame(width, height)
	}

	return img
}

func (r *ChartRenderer) chart(snapshot CanvasSnapshot, width, height int) chart.Chart {
	t := padRange(snapshot.Viewport.T)
	y := padRange(snapshot.Viewport.Y)

	series := make([]chart.Series, 0, 2*len(snapshot.Lines)+1)

	// go-chart refuses to render without a series. An invisible one spanning
	// the viewport also keeps an empty canvas drawable.
	series = append(series, chart.ContinuousSeries{
		Style:   chart.Style{StrokeColor: drawing.ColorTransparent},
		XValues: []float64{t.Min, t.Max},
		YValues: []float64{y.Min, y.Max},
	})

	labels := make([]chart.Value2, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		for i, trace := range line.Traces {
			series = append(series, chart.ContinuousSeries{
				Name: fmt.Sprintf("%s[%d]", line.Name, i),
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex(strings.TrimPrefix(trace.Color, "#")),
					StrokeWidth: 1.5,
				},
				XValues: trace.XValues,
				YValues: trace.YValues,
			})
		}

		labels = append(labels, chart.Value2{
			XValue: line.Label.X,
			YValue: line.Label.Y,
			Label:  line.Label.Text,
			Style: chart.Style{
				FontColor:   foregroundColor,
				FillColor:   backgroundColor,
				StrokeColor: foregroundColor,
			},
		})
	}

	if len(labels) > 0 {
		series = append(series, chart.AnnotationSeries{Annotations: labels})
	}

	axisStyle := chart.Style{
		StrokeColor: foregroundColor,
		FontColor:   foregroundColor,
	}
	gridStyle := chart.Style{
		StrokeColor: gridColor,
		StrokeWidth: 1,
	}

	return chart.Chart{
		Title:      r.options.Hint,
		TitleStyle: chart.Style{FontColor: foregroundColor},
		Width:      width,
		Height:     height,
		Background: chart.Style{
			FillColor: backgroundColor,
			Padding:   chart.Box{Top: 40, Left: 20, Right: 50, Bottom: 20},
		},
		Canvas: chart.Style{FillColor: backgroundColor},
		XAxis: chart.XAxis{
			Name:           r.options.XLabel,
			NameStyle:      axisStyle,
			Style:          axisStyle,
			Range:          &chart.ContinuousRange{Min: t.Min, Max: t.Max},
			GridMajorStyle: gridStyle,
		},
		YAxis: chart.YAxis{
			Name:           r.options.YLabel,
			NameStyle:      axisStyle,
			Style:          axisStyle,
			Range:          &chart.ContinuousRange{Min: y.Min, Max: y.Max},
			GridMajorStyle: gridStyle,
		},
		Series: series,
	}
}

// padRange widens r by viewportMargin on each side, and gives degenerate
// ranges (a single value) a unit span.
func padRange(r Range) Range {
	span := r.Span()
	if span <= 0 {
		return Range{Min: r.Min - 0.5, Max: r.Max + 0.5}
	}

	return Range{Min: r.Min - viewportMargin*span, Max: r.Max + viewportMargin*span}
}

func blankFrame(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, Max(width, 1), Max(height, 1)))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	return img
}
