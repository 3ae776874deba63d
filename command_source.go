package waveviewer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type commandOrError struct {
	cmd Command
	err error
}

// CommandSource drains framed commands from the controller's pipe.
//
// Reads happen on their own goroutine because a pipe read cannot be
// interrupted. Run waits on them with a timeout of pollInterval so that a
// Stop request is noticed even while the pipe is silent.
type CommandSource struct {
	input        io.Reader
	pollInterval time.Duration

	// Keep polling after the input ends, until stopped.
	keepOpen bool

	shouldStop atomic.Bool

	numCommandsRead int

	logger logrus.FieldLogger
}

func NewCommandSource(input io.Reader, pollInterval time.Duration, keepOpen bool) *CommandSource {
	return &CommandSource{
		input:        input,
		pollInterval: pollInterval,
		keepOpen:     keepOpen,
		logger:       logrus.WithField("tag", "CommandSource"),
	}
}

// Stop asks Run to return at its next poll. Safe from any goroutine.
func (s *CommandSource) Stop() {
	s.shouldStop.Store(true)
}

// Run passes every command to dispatch, in order, until Stop is called, ctx
// is canceled, or the input ends (unless keepOpen). A frame that cannot be
// decoded, including an unknown command type, ends Run with an error.
func (s *CommandSource) Run(ctx context.Context, dispatch func(Command)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	commands := make(chan commandOrError)
	go s.read(ctx, commands)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for !s.shouldStop.Load() {
		select {
		case <-ctx.Done():
			s.logger.WithField("numCommandsRead", s.numCommandsRead).Info("command source canceled")
			return nil
		case <-ticker.C:
			continue
		case next := <-commands:
			if errors.Is(next.err, io.EOF) {
				s.logger.WithField("numCommandsRead", s.numCommandsRead).Info("controller closed the command pipe")
				if !s.keepOpen {
					return nil
				}
				// A nil channel is never ready, so from here on only Stop
				// and ctx end the loop.
				commands = nil
				continue
			}

			if next.err != nil {
				s.logger.WithError(next.err).Error("unable to read command")
				return fmt.Errorf("failed to read command #%d: %w", s.numCommandsRead+1, next.err)
			}

			s.numCommandsRead++
			s.logger.WithField("command", next.cmd.String()).Debug("received command")
			dispatch(next.cmd)
		}
	}

	s.logger.WithField("numCommandsRead", s.numCommandsRead).Info("command source stopped")
	return nil
}

func (s *CommandSource) read(ctx context.Context, out chan<- commandOrError) {
	r := bufio.NewReader(s.input)
	for {
		cmd, err := ReadCommand(r)
		select {
		case out <- commandOrError{cmd: cmd, err: err}:
		case <-ctx.Done():
			return
		}

		if err != nil {
			return
		}
	}
}
