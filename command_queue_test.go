package waveviewer

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// lockedBuffer is a bytes.Buffer safe to read while the queue writes to it.
type lockedBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// failingWriter accepts `budget` writes and then fails every write.
type failingWriter struct {
	mutex  sync.Mutex
	budget int
	err    error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.budget <= 0 {
		return 0, w.err
	}
	w.budget--
	return len(p), nil
}

func waitDone(t *testing.T, q *CommandQueue) {
	t.Helper()
	select {
	case <-q.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("command queue writer did not exit")
	}
}

func TestCommandQueue(t *testing.T) {
	t.Run("FramesWrittenInOrder", func(t *testing.T) {
		out := &lockedBuffer{}
		q := NewCommandQueue(out)

		for i := 0; i < 100; i++ {
			if err := q.Push([]byte{byte(i)}); err != nil {
				t.Fatalf("Push(%d) error = %v", i, err)
			}
		}

		q.Close(false)
		waitDone(t, q)

		got := out.Bytes()
		if len(got) != 100 {
			t.Fatalf("wrote %d bytes, want 100", len(got))
		}
		for i, b := range got {
			if int(b) != i {
				t.Fatalf("byte %d = %d, out of order", i, b)
			}
		}
	})

	t.Run("PushDoesNotBlockOnSlowConsumer", func(t *testing.T) {
		r, w := io.Pipe()
		defer r.Close()
		q := NewCommandQueue(w)

		// Nobody reads the pipe, so the writer is stuck on the first frame.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 10000; i++ {
				if err := q.Push([]byte{1, 2, 3}); err != nil {
					t.Errorf("Push error = %v", err)
					return
				}
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("Push blocked behind an unread pipe")
		}

		q.Close(true)
		w.Close()
		waitDone(t, q)
	})

	t.Run("PushAfterCloseFails", func(t *testing.T) {
		q := NewCommandQueue(io.Discard)
		q.Close(false)
		waitDone(t, q)

		if err := q.Push([]byte{1}); !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	})

	t.Run("WriteErrorSurfacesOnNextPush", func(t *testing.T) {
		boom := errors.New("broken pipe")
		q := NewCommandQueue(&failingWriter{budget: 1, err: boom})

		if err := q.Push([]byte{1}); err != nil {
			t.Fatalf("first Push error = %v", err)
		}
		if err := q.Push([]byte{2}); err != nil {
			t.Fatalf("second Push error = %v", err)
		}
		waitDone(t, q)

		err := q.Push([]byte{3})
		if !errors.Is(err, ErrQueueClosed) || !errors.Is(err, boom) {
			t.Fatalf("expected error wrapping ErrQueueClosed and the write error, got %v", err)
		}
		if !errors.Is(q.Err(), boom) {
			t.Fatalf("Err() = %v, want %v", q.Err(), boom)
		}
	})
}
