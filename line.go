package waveviewer

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidLine is wrapped by every validation failure of a Line.
	ErrInvalidLine = errors.New("invalid line")

	ErrEmptyTimeAxis = fmt.Errorf("%w: t must not be empty", ErrInvalidLine)
	ErrNoSeries      = fmt.Errorf("%w: ys must contain at least one series", ErrInvalidLine)
	ErrShapeMismatch = fmt.Errorf("%w: ys must have the same shape as t", ErrInvalidLine)
	ErrNonFinite     = fmt.Errorf("%w: values must be finite", ErrInvalidLine)
)

// Range is a closed interval on one axis.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Union(other Range) Range {
	return Range{
		Min: Min(r.Min, other.Min),
		Max: Max(r.Max, other.Max),
	}
}

func (r Range) Span() float64 {
	return r.Max - r.Min
}

// Line is a named waveform: one or more series sampled on a shared time
// axis and shifted vertically by Offset.
type Line struct {
	Name   string      `json:"name"`
	T      []float64   `json:"t"`
	Ys     [][]float64 `json:"ys"`
	Offset float64     `json:"offset"`
}

// Validate checks the shape of the line. It is called by the controller
// before anything is sent to the renderer.
func (l Line) Validate() error {
	if len(l.T) == 0 {
		return ErrEmptyTimeAxis
	}

	if len(l.Ys) == 0 {
		return ErrNoSeries
	}

	if !isFinite(l.Offset) {
		return fmt.Errorf("%w: offset is %v", ErrNonFinite, l.Offset)
	}

	if i := firstNonFinite(l.T); i >= 0 {
		return fmt.Errorf("%w: t[%d] is %v", ErrNonFinite, i, l.T[i])
	}

	for s, y := range l.Ys {
		if len(y) != len(l.T) {
			return fmt.Errorf("%w: ys[%d] has %d samples, t has %d", ErrShapeMismatch, s, len(y), len(l.T))
		}

		if i := firstNonFinite(y); i >= 0 {
			return fmt.Errorf("%w: ys[%d][%d] is %v", ErrNonFinite, s, i, y[i])
		}
	}

	return nil
}

// TimeRange is the extent of T. Only meaningful on a validated line.
func (l Line) TimeRange() Range {
	lo, hi, _ := Extent(l.T)
	return Range{Min: lo, Max: hi}
}

// ValueRange is the extent of every series with Offset applied. Only
// meaningful on a validated line.
func (l Line) ValueRange() Range {
	r := Range{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, y := range l.Ys {
		lo, hi, ok := Extent(y)
		if !ok {
			continue
		}
		r = r.Union(Range{Min: lo, Max: hi})
	}

	r.Min += l.Offset
	r.Max += l.Offset
	return r
}

// Clone deep copies the sample slices so the caller may reuse its buffers.
func (l Line) Clone() Line {
	ys := make([][]float64, len(l.Ys))
	for i, y := range l.Ys {
		ys[i] = append([]float64(nil), y...)
	}

	return Line{
		Name:   l.Name,
		T:      append([]float64(nil), l.T...),
		Ys:     ys,
		Offset: l.Offset,
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func firstNonFinite(values []float64) int {
	for i, v := range values {
		if !isFinite(v) {
			return i
		}
	}
	return -1
}
