package waveviewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Redraws are coalesced to at most one per frameInterval.
const frameInterval = 33 * time.Millisecond

// Renderer is the process side of the viewer: it owns the window and the
// canvas, and applies commands arriving on input.
//
// Goroutines:
//   - the caller of Run becomes the GUI goroutine (Window.Run);
//   - the command source polls input and hands commands to the GUI
//     goroutine with Window.Do;
//   - a frame loop re-renders the chart when the canvas changed;
//   - the event broadcaster and the optional HTTP server serve observers.
type Renderer struct {
	options ViewerOptions

	window Window
	canvas *Canvas
	chart  *ChartRenderer
	events *EventBroadcaster
	source *CommandSource
	server *HttpServer

	dirty atomic.Bool

	mutex    sync.Mutex
	fatalErr error

	logger logrus.FieldLogger
}

// NewRenderer wires a renderer reading commands from input. A nil window
// selects the build's default (fyne, or LoopWindow with -tags headless).
func NewRenderer(input io.Reader, options ViewerOptions, window Window) *Renderer {
	if window == nil {
		window = newDefaultWindow(options)
	}

	canvas := NewCanvas(options.Colors)
	chart := NewChartRenderer(options)
	events := NewEventBroadcaster(options.EventBufferSize)

	r := &Renderer{
		options: options,
		window:  window,
		canvas:  canvas,
		chart:   chart,
		events:  events,
		source:  NewCommandSource(input, options.PollInterval, options.KeepOpen),
		logger:  logrus.WithField("tag", "Renderer"),
	}

	if options.HTTPAddr != "" {
		r.server = NewHttpServer(events, canvas, chart, options)
	}

	return r
}

func (r *Renderer) Canvas() *Canvas {
	return r.canvas
}

func (r *Renderer) Events() *EventBroadcaster {
	return r.events
}

// Server returns the observer HTTP server, or nil when disabled.
func (r *Renderer) Server() *HttpServer {
	return r.server
}

// Run blocks until the window is closed, the command source ends, or ctx
// is canceled. It returns the error that ended the command source, if any.
func (r *Renderer) Run(ctx context.Context) error {
	if r.server != nil {
		if err := r.server.Listen(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The broadcaster outlives the command source so that its end event can
	// carry the source's error.
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	var sourceErr error
	sourceDone := make(chan struct{})
	r.events.Start(eventsCtx, func() error {
		<-sourceDone
		return r.err(sourceErr)
	})

	var wg sync.WaitGroup
	if r.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.server.Serve(ctx); err != nil {
				r.logger.WithError(err).Error("observer HTTP server failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.frameLoop(ctx)
	}()

	go func() {
		defer close(sourceDone)
		sourceErr = r.source.Run(ctx, r.dispatch)

		// The command source ending closes the window.
		r.window.Quit()
	}()

	r.window.OnKey(r.handleKey)
	r.redraw()

	r.logger.WithField("title", r.options.Title).Info("renderer window opened")
	r.window.Run(func() {
		r.logger.Info("window closed, stopping command source")
		r.source.Stop()
	})

	r.source.Stop()
	cancel()
	<-sourceDone

	stopEvents()
	r.events.Wait()
	wg.Wait()

	err := r.err(sourceErr)
	if err != nil {
		r.logger.WithError(err).Error("renderer stopped with error")
	} else {
		r.logger.Info("renderer stopped")
	}
	return err
}

// dispatch runs on the command source goroutine.
func (r *Renderer) dispatch(cmd Command) {
	r.window.Do(func() {
		r.apply(cmd)
	})
}

// apply runs on the GUI goroutine.
func (r *Renderer) apply(cmd Command) {
	event, err := r.canvas.Apply(cmd)
	if errors.Is(err, ErrUnknownCommand) {
		r.fail(err)
		return
	} else if err != nil {
		r.logger.WithError(err).WithField("command", cmd.String()).Warn("ignoring command")
		return
	}

	r.events.Publish(event)
	r.dirty.Store(true)
}

func (r *Renderer) handleKey(key rune) {
	switch key {
	case 'f', 'F':
		r.apply(AutoscaleCommand())
	case 'c', 'C':
		r.apply(ClearCommand())
	}
}

// redraw runs on the GUI goroutine.
func (r *Renderer) redraw() {
	width, height := r.window.Size()
	r.window.Show(r.chart.Render(r.canvas.Snapshot(), width, height))
}

func (r *Renderer) frameLoop(ctx context.Context) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.dirty.Swap(false) {
				r.window.Do(r.redraw)
			}
		}
	}
}

// fail records an internal error and shuts the renderer down.
func (r *Renderer) fail(err error) {
	r.logger.WithError(err).Error("fatal renderer error")

	r.mutex.Lock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
	r.mutex.Unlock()

	r.source.Stop()
}

func (r *Renderer) err(sourceErr error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if sourceErr != nil {
		return sourceErr
	}
	if r.fatalErr != nil {
		return fmt.Errorf("renderer: %w", r.fatalErr)
	}
	return nil
}
