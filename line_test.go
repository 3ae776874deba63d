package waveviewer

import (
	"errors"
	"math"
	"testing"
)

// sinLine is the canonical example: "sin" over t in [0, 2π].
func sinLine(n int) Line {
	t := make([]float64, n)
	y := make([]float64, n)
	for i := range t {
		t[i] = 2 * math.Pi * float64(i) / float64(n-1)
		y[i] = math.Sin(t[i])
	}
	return Line{Name: "sin", T: t, Ys: [][]float64{y}}
}

func approxRange(got, want Range, tol float64) bool {
	return math.Abs(got.Min-want.Min) <= tol && math.Abs(got.Max-want.Max) <= tol
}

func TestLineValidate(t *testing.T) {
	tests := []struct {
		name string
		line Line
		want error
	}{
		{
			name: "valid",
			line: sinLine(10),
		},
		{
			name: "empty name is allowed",
			line: Line{T: []float64{0}, Ys: [][]float64{{1}}},
		},
		{
			name: "empty t",
			line: Line{Name: "a", Ys: [][]float64{{}}},
			want: ErrEmptyTimeAxis,
		},
		{
			name: "no series",
			line: Line{Name: "a", T: []float64{0, 1}},
			want: ErrNoSeries,
		},
		{
			name: "short series",
			line: Line{Name: "a", T: []float64{0, 1}, Ys: [][]float64{{0, 1}, {0}}},
			want: ErrShapeMismatch,
		},
		{
			name: "NaN sample",
			line: Line{Name: "a", T: []float64{0, 1}, Ys: [][]float64{{0, math.NaN()}}},
			want: ErrNonFinite,
		},
		{
			name: "infinite time",
			line: Line{Name: "a", T: []float64{0, math.Inf(1)}, Ys: [][]float64{{0, 1}}},
			want: ErrNonFinite,
		},
		{
			name: "infinite offset",
			line: Line{Name: "a", T: []float64{0}, Ys: [][]float64{{0}}, Offset: math.Inf(-1)},
			want: ErrNonFinite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.line.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}

			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrInvalidLine) {
				t.Fatalf("Validate() = %v does not wrap ErrInvalidLine", err)
			}
		})
	}
}

func TestLineRanges(t *testing.T) {
	t.Run("SinExample", func(t *testing.T) {
		line := sinLine(100)
		if got := line.TimeRange(); !approxRange(got, Range{Min: 0, Max: 2 * math.Pi}, 1e-12) {
			t.Fatalf("TimeRange() = %+v, want [0, 2π]", got)
		}
		// 100 samples do not hit ±1 exactly.
		if got := line.ValueRange(); !approxRange(got, Range{Min: -1, Max: 1}, 1e-3) {
			t.Fatalf("ValueRange() = %+v, want ≈[-1, 1]", got)
		}
	})

	t.Run("OffsetAndMultipleSeries", func(t *testing.T) {
		line := Line{
			Name:   "cossin",
			T:      []float64{3, 1, 2},
			Ys:     [][]float64{{0, 5, 1}, {-2, 0, 0}},
			Offset: 4,
		}
		if got := line.TimeRange(); got != (Range{Min: 1, Max: 3}) {
			t.Fatalf("TimeRange() = %+v, want [1, 3]", got)
		}
		if got := line.ValueRange(); got != (Range{Min: 2, Max: 9}) {
			t.Fatalf("ValueRange() = %+v, want [2, 9]", got)
		}
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		line := Line{Name: "a", T: []float64{0, 1}, Ys: [][]float64{{1, 2}}}
		clone := line.Clone()
		line.T[0] = 42
		line.Ys[0][0] = 42
		if clone.T[0] != 0 || clone.Ys[0][0] != 1 {
			t.Fatalf("clone shares memory with the original: %+v", clone)
		}
	})
}
