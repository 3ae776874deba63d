package waveviewer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by every WaveViewer operation once the renderer
// process has exited, whether it was closed by the controller or not.
var ErrClosed = errors.New("wave viewer is closed")

// DefaultRendererBinary is looked up in PATH when Options.RendererPath is
// empty.
const DefaultRendererBinary = "waveviewer"

// Options configure a WaveViewer and the renderer process behind it.
type Options struct {
	Viewer ViewerOptions

	// Path of the renderer binary. Empty means DefaultRendererBinary from
	// PATH.
	RendererPath string

	// Arguments placed before the "render" subcommand.
	RendererArgs []string

	// Extra environment for the renderer, on top of this process's.
	Env []string

	// Where the renderer logs. Defaults to os.Stderr.
	Stderr io.Writer

	// Keep the renderer window open after this process goes away. By
	// default the renderer exits as soon as its command pipe closes.
	Detached bool
}

func DefaultOptions() Options {
	return Options{
		Viewer: DefaultViewerOptions(),
	}
}

// WaveViewer controls a renderer process. The methods only validate, encode
// and enqueue, so they never wait for the renderer to draw anything. It is
// safe for concurrent use; commands from one goroutine keep their order.
type WaveViewer struct {
	cmd   *exec.Cmd
	queue *CommandQueue

	exited  chan struct{}
	exitErr error

	closeOnce sync.Once
	mutex     sync.Mutex
	closing   bool

	logger logrus.FieldLogger
}

// Start spawns the renderer and returns once the process is running.
func Start(opts Options) (*WaveViewer, error) {
	if err := opts.Viewer.Validate(); err != nil {
		return nil, err
	}

	path := opts.RendererPath
	if path == "" {
		var err error
		path, err = exec.LookPath(DefaultRendererBinary)
		if err != nil {
			return nil, fmt.Errorf("cannot find the renderer binary: %w", err)
		}
	}

	viewer := opts.Viewer
	viewer.KeepOpen = opts.Detached

	args := append([]string{}, opts.RendererArgs...)
	args = append(args, "render")
	args = append(args, viewer.Args()...)

	cmd := exec.Command(path, args...)
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer pipe: %w", err)
	}

	logger := logrus.WithField("tag", "WaveViewer")
	logger.WithFields(logrus.Fields{
		"path": path,
		"args": args,
	}).Debug("starting renderer")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start renderer: %w", err)
	}

	v := &WaveViewer{
		cmd:    cmd,
		queue:  NewCommandQueue(stdin),
		exited: make(chan struct{}),
		logger: logger.WithField("pid", cmd.Process.Pid),
	}

	go v.waitForExit()

	v.logger.Info("renderer started")
	return v, nil
}

func (v *WaveViewer) waitForExit() {
	err := v.cmd.Wait()

	v.mutex.Lock()
	v.exitErr = err
	closing := v.closing
	v.mutex.Unlock()

	// Anything still queued can never be delivered.
	v.queue.Close(true)
	close(v.exited)

	logger := v.logger.WithField("closedByController", closing)
	if err != nil && !closing {
		logger.WithError(err).Warn("renderer exited with error")
	} else {
		logger.Info("renderer exited")
	}
}

// AddLine draws ys against t, shifted up by offset. A line with the same
// name is replaced. Shape errors are returned before anything is sent.
func (v *WaveViewer) AddLine(name string, t []float64, ys [][]float64, offset float64) error {
	if err := v.ensureOpen("add_line"); err != nil {
		return err
	}

	line := Line{Name: name, T: t, Ys: ys, Offset: offset}
	if err := line.Validate(); err != nil {
		return err
	}

	// Encoding copies the samples, so the caller may reuse its slices.
	return v.send(AddLineCommand(line))
}

func (v *WaveViewer) RemoveLine(name string) error {
	if err := v.ensureOpen("remove_line"); err != nil {
		return err
	}
	return v.send(RemoveLineCommand(name))
}

func (v *WaveViewer) Clear() error {
	if err := v.ensureOpen("clear"); err != nil {
		return err
	}
	return v.send(ClearCommand())
}

// Autoscale fits the view to every line currently drawn.
func (v *WaveViewer) Autoscale() error {
	if err := v.ensureOpen("autoscale"); err != nil {
		return err
	}
	return v.send(AutoscaleCommand())
}

// Close terminates the renderer, discarding commands it has not read yet,
// and waits for it to exit. Calling it again is a no-op.
func (v *WaveViewer) Close() error {
	v.closeOnce.Do(func() {
		v.mutex.Lock()
		v.closing = true
		v.mutex.Unlock()

		v.queue.Close(true)

		select {
		case <-v.exited:
			return
		default:
		}

		v.logger.Info("terminating renderer")
		if err := v.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// No SIGTERM on this platform, or the process is already gone.
			v.logger.WithError(err).Debug("SIGTERM failed, killing renderer")
			v.cmd.Process.Kill()
		}
	})

	<-v.exited
	<-v.queue.Done()
	return nil
}

// Wait blocks until the renderer exits on its own, usually because its
// window was closed. It does not end the renderer. The error is the
// process's exit error, or nil when Close ended it.
func (v *WaveViewer) Wait() error {
	<-v.exited

	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.closing {
		return nil
	}
	return v.exitErr
}

// Exited is closed once the renderer process is gone.
func (v *WaveViewer) Exited() <-chan struct{} {
	return v.exited
}

func (v *WaveViewer) ensureOpen(op string) error {
	select {
	case <-v.exited:
		return fmt.Errorf("%s: %w", op, ErrClosed)
	default:
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closing {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return nil
}

func (v *WaveViewer) send(cmd Command) error {
	frame, err := EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Type, err)
	}

	if err := v.queue.Push(frame); err != nil {
		return fmt.Errorf("%s: %w", cmd.Type, errors.Join(ErrClosed, err))
	}
	return nil
}
