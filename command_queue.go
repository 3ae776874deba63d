package waveviewer

import (
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrQueueClosed is returned by Push once the queue was closed or its
// writer failed.
var ErrQueueClosed = errors.New("command queue closed")

// CommandQueue is an unbounded FIFO of encoded frames. Push never blocks on
// the consumer: a single writer goroutine drains the queue into output.
//
// The first write error stops the writer. Every later Push returns an error
// wrapping both ErrQueueClosed and the write error, so a dead renderer is
// noticed by the caller instead of frames piling up silently.
type CommandQueue struct {
	output io.Writer

	mutex   sync.Mutex
	cond    *sync.Cond
	pending [][]byte
	closed  bool
	err     error

	done chan struct{}

	numFramesWritten int

	logger logrus.FieldLogger
}

func NewCommandQueue(output io.Writer) *CommandQueue {
	q := &CommandQueue{
		output: output,
		done:   make(chan struct{}),
		logger: logrus.WithField("tag", "CommandQueue"),
	}
	q.cond = sync.NewCond(&q.mutex)

	go q.run()

	return q
}

// Push appends one frame. The frame must not be modified afterwards.
func (q *CommandQueue) Push(frame []byte) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.err != nil {
		return errors.Join(ErrQueueClosed, q.err)
	}

	if q.closed {
		return ErrQueueClosed
	}

	q.pending = append(q.pending, frame)
	q.cond.Signal()
	return nil
}

// Len is the number of frames not yet handed to the writer.
func (q *CommandQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending)
}

// Err returns the write error that stopped the queue, if any.
func (q *CommandQueue) Err() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.err
}

// Close stops accepting frames. Frames already queued are still written
// unless discard is set. Close does not wait for the writer; use Done.
func (q *CommandQueue) Close(discard bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.closed = true
	if discard {
		q.pending = nil
	}
	q.cond.Broadcast()
}

// Done is closed when the writer goroutine has exited.
func (q *CommandQueue) Done() <-chan struct{} {
	return q.done
}

func (q *CommandQueue) run() {
	defer close(q.done)

	for {
		q.mutex.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}

		if len(q.pending) == 0 {
			q.mutex.Unlock()
			q.logger.WithField("numFramesWritten", q.numFramesWritten).Debug("command queue drained and closed")
			return
		}

		// Take the whole backlog so Push is never blocked behind a slow write.
		batch := q.pending
		q.pending = nil
		q.mutex.Unlock()

		for _, frame := range batch {
			if _, err := q.output.Write(frame); err != nil {
				q.logger.WithError(err).Warn("failed to write command frame, renderer is gone?")

				q.mutex.Lock()
				q.err = err
				q.pending = nil
				q.mutex.Unlock()
				return
			}
			q.numFramesWritten++
		}
	}
}
