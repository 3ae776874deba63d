package waveviewer

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Trace is one series of a line as it is drawn: the y values already have
// the line offset applied.
type Trace struct {
	Color   string    `json:"color"`
	XValues []float64 `json:"-"`
	YValues []float64 `json:"-"`
}

// Label is the line name drawn next to the last sample.
type Label struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// DrawnLine is everything the canvas keeps for one line name.
type DrawnLine struct {
	Name   string  `json:"name"`
	Traces []Trace `json:"traces"`
	Label  Label   `json:"label"`
	TRange Range   `json:"t_range"`
	YRange Range   `json:"y_range"`
}

// Viewport is the visible window of the plot (the camera).
type Viewport struct {
	T Range `json:"t"`
	Y Range `json:"y"`
}

var DefaultViewport = Viewport{
	T: Range{Min: 0, Max: 1},
	Y: Range{Min: 0, Max: 1},
}

// Canvas is the renderer's record of what is drawn, keyed by line name.
//
// Mutations are expected to come from the GUI goroutine only. The mutex
// exists so that other goroutines (HTTP handlers) can take snapshots.
type Canvas struct {
	mutex sync.RWMutex

	lines    map[string]*DrawnLine
	order    []string // draw order, oldest first
	viewport Viewport
	palette  []string

	logger logrus.FieldLogger
}

// CanvasSnapshot is a point-in-time copy of the canvas, safe to use without
// holding any lock. Trace sample slices are shared with the canvas and must
// not be modified.
type CanvasSnapshot struct {
	Lines    []DrawnLine `json:"lines"`
	Viewport Viewport    `json:"viewport"`
}

func NewCanvas(palette []string) *Canvas {
	if len(palette) == 0 {
		palette = DefaultViewerOptions().Colors
	}

	return &Canvas{
		lines:    make(map[string]*DrawnLine),
		viewport: DefaultViewport,
		palette:  palette,
		logger:   logrus.WithField("tag", "Canvas"),
	}
}

// AddLine draws line, replacing any line with the same name. The old
// traces are dropped and the new ones added under a single lock, so no
// reader ever sees both.
func (c *Canvas) AddLine(line Line) {
	drawn := c.draw(line)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.removeLocked(line.Name)
	c.lines[line.Name] = drawn
	c.order = append(c.order, line.Name)

	c.logger.WithFields(logrus.Fields{
		"name":   line.Name,
		"traces": len(drawn.Traces),
		"tRange": drawn.TRange,
		"yRange": drawn.YRange,
	}).Debug("added line")
}

// RemoveLine removes the named line. Unknown names are ignored; the return
// value reports whether anything was removed.
func (c *Canvas) RemoveLine(name string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.removeLocked(name)
}

// Clear removes every line and returns how many there were.
func (c *Canvas) Clear() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n := len(c.lines)
	c.lines = make(map[string]*DrawnLine)
	c.order = nil
	return n
}

// Range returns the union of the time and value ranges of all lines. ok is
// false when there are no lines.
func (c *Canvas) Range() (t Range, y Range, ok bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.rangeLocked()
}

// Autoscale fits the viewport to all lines. It does nothing and returns
// false when the canvas is empty.
func (c *Canvas) Autoscale() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	t, y, ok := c.rangeLocked()
	if !ok {
		return false
	}

	c.viewport = Viewport{T: t, Y: y}
	return true
}

func (c *Canvas) Viewport() Viewport {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.viewport
}

func (c *Canvas) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.lines)
}

// Names returns line names in draw order.
func (c *Canvas) Names() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return slices.Clone(c.order)
}

func (c *Canvas) Line(name string) (DrawnLine, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	drawn, ok := c.lines[name]
	if !ok {
		return DrawnLine{}, false
	}
	return *drawn, true
}

func (c *Canvas) Snapshot() CanvasSnapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	lines := make([]DrawnLine, 0, len(c.order))
	for _, name := range c.order {
		lines = append(lines, *c.lines[name])
	}

	return CanvasSnapshot{Lines: lines, Viewport: c.viewport}
}

// Apply executes cmd and describes the result as an Event.
func (c *Canvas) Apply(cmd Command) (Event, error) {
	event := Event{Command: cmd}

	switch cmd.Type {
	case CommandAddLine:
		if err := cmd.Line().Validate(); err != nil {
			return Event{}, fmt.Errorf("add_line %q: %w", cmd.Name, err)
		}
		c.AddLine(cmd.Line())
		drawn, _ := c.Line(cmd.Name)
		event.TRange = &drawn.TRange
		event.YRange = &drawn.YRange
	case CommandRemoveLine:
		if !c.RemoveLine(cmd.Name) {
			c.logger.WithField("name", cmd.Name).Debug("remove_line for unknown line ignored")
		}
	case CommandClear:
		n := c.Clear()
		c.logger.WithField("numLinesRemoved", n).Debug("cleared canvas")
	case CommandAutoscale:
		if c.Autoscale() {
			viewport := c.Viewport()
			event.TRange = &viewport.T
			event.YRange = &viewport.Y
		}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}

	event.Lines = c.Len()
	return event, nil
}

func (c *Canvas) draw(line Line) *DrawnLine {
	traces := make([]Trace, len(line.Ys))
	for i, y := range line.Ys {
		traces[i] = Trace{
			Color:   c.palette[i%len(c.palette)],
			XValues: line.T,
			YValues: Map(y, func(v float64) float64 { return v + line.Offset }),
		}
	}

	return &DrawnLine{
		Name:   line.Name,
		Traces: traces,
		Label: Label{
			Text: line.Name,
			X:    line.T[len(line.T)-1],
			Y:    line.Offset,
		},
		TRange: line.TimeRange(),
		YRange: line.ValueRange(),
	}
}

func (c *Canvas) removeLocked(name string) bool {
	if _, ok := c.lines[name]; !ok {
		return false
	}

	delete(c.lines, name)
	if i := slices.Index(c.order, name); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return true
}

func (c *Canvas) rangeLocked() (t Range, y Range, ok bool) {
	for i, name := range c.order {
		drawn := c.lines[name]
		if i == 0 {
			t, y = drawn.TRange, drawn.YRange
			continue
		}
		t = t.Union(drawn.TRange)
		y = y.Union(drawn.YRange)
	}

	return t, y, len(c.order) > 0
}
