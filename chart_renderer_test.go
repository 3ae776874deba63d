package waveviewer

import (
	"bytes"
	"image/png"
	"math"
	"testing"
)

func TestPadRange(t *testing.T) {
	tests := []struct {
		name string
		in   Range
		want Range
	}{
		{"regular", Range{Min: 0, Max: 10}, Range{Min: -0.5, Max: 10.5}},
		{"degenerate", Range{Min: 3, Max: 3}, Range{Min: 2.5, Max: 3.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := padRange(tt.in)
			if math.Abs(got.Min-tt.want.Min) > 1e-12 || math.Abs(got.Max-tt.want.Max) > 1e-12 {
				t.Fatalf("padRange(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestChartRenderer(t *testing.T) {
	r := NewChartRenderer(DefaultViewerOptions())

	t.Run("EmptyCanvas", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.RenderPNG(&buf, NewCanvas(nil).Snapshot(), 320, 240); err != nil {
			t.Fatalf("RenderPNG() error = %v", err)
		}

		img, err := png.Decode(&buf)
		if err != nil {
			t.Fatalf("output is not a PNG: %v", err)
		}
		if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
			t.Fatalf("image size = %dx%d, want 320x240", b.Dx(), b.Dy())
		}
	})

	t.Run("LinesAfterAutoscale", func(t *testing.T) {
		c := NewCanvas(nil)
		c.AddLine(sinLine(100))
		c.AddLine(Line{Name: "flat", T: []float64{0, 1}, Ys: [][]float64{{0, 0}, {1, 1}, {2, 2}, {3, 3}}, Offset: 2})
		c.Autoscale()

		img := r.Render(c.Snapshot(), 400, 300)
		if b := img.Bounds(); b.Dx() != 400 || b.Dy() != 300 {
			t.Fatalf("image size = %dx%d, want 400x300", b.Dx(), b.Dy())
		}
	})

	t.Run("SinglePointLine", func(t *testing.T) {
		c := NewCanvas(nil)
		c.AddLine(Line{Name: "dot", T: []float64{1}, Ys: [][]float64{{1}}})
		c.Autoscale()

		var buf bytes.Buffer
		if err := r.RenderPNG(&buf, c.Snapshot(), 200, 200); err != nil {
			t.Fatalf("RenderPNG() error = %v", err)
		}
	})

	t.Run("BlankFrameFallback", func(t *testing.T) {
		img := blankFrame(0, 10)
		if b := img.Bounds(); b.Dx() != 1 || b.Dy() != 10 {
			t.Fatalf("blank frame size = %dx%d, want 1x10", b.Dx(), b.Dy())
		}
	})
}
