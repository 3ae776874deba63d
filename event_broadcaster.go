package waveviewer

import (
	"context"
	"runtime/trace"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Event is a command as it was applied to the canvas, plus what it changed.
// Events are what observers (websocket clients) receive.
type Event struct {
	Command

	// For add_line, the ranges of the new line. For autoscale, the new
	// viewport. Nil otherwise.
	TRange *Range `json:"t_range,omitempty"`
	YRange *Range `json:"y_range,omitempty"`

	// Number of lines on the canvas after the command.
	Lines int `json:"lines"`

	// Set on the last event of a stream.
	StreamEnded bool   `json:"stream_ended,omitempty"`
	Error       string `json:"error,omitempty"`
}

// EventBroadcaster fans canvas events out to registered observers.
//
// Besides live events, it retains the events that describe the current
// canvas (the latest add_line per visible line and the latest effective
// autoscale) and replays them to newly registered channels, so a late
// observer starts from the same picture as the window.
type EventBroadcaster struct {
	input chan Event

	mutex sync.Mutex
	wg    sync.WaitGroup

	// If the stream is ended or not
	streamEnded atomic.Bool
	ended       chan struct{}
	endEvent    Event

	// These are channels from open websockets where we are sending events to.
	// Sends never block: a channel that is full is dropped and closed.
	channelsForLiveUpdate []chan<- Event

	retained      map[string]Event
	retainedOrder []string
	viewport      *Event

	// Just for tracking how many events are emitted when the stream ends.
	numEventsEmitted   int
	numChannelsDropped int

	logger logrus.FieldLogger
}

func NewEventBroadcaster(bufferCapacity int) *EventBroadcaster {
	return &EventBroadcaster{
		input: make(chan Event, bufferCapacity),
		ended: make(chan struct{}),

		channelsForLiveUpdate: make([]chan<- Event, 0),
		retained:              make(map[string]Event),
		logger:                logrus.WithField("tag", "EventBroadcaster"),
	}
}

// Start runs the fan-out loop until ctx is canceled. The final event sent
// to every observer has StreamEnded set; streamErr, if not nil, is reported
// through it.
func (b *EventBroadcaster) Start(ctx context.Context, streamErr func() error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(ctx)

		end := Event{StreamEnded: true}
		if streamErr != nil {
			if err := streamErr(); err != nil {
				end.Error = err.Error()
			}
		}

		b.mutex.Lock()
		b.endEvent = end
		b.broadcastLocked(end)
		// Set under the mutex so a channel registering right now either got
		// the end event above or will get it from RegisterChannel.
		b.streamEnded.Store(true)
		b.mutex.Unlock()

		close(b.ended)

		logger := b.logger.WithFields(logrus.Fields{
			"numEventsEmitted":   b.numEventsEmitted,
			"numChannelsDropped": b.numChannelsDropped,
		})
		if end.Error != "" {
			logger = logger.WithField("error", end.Error)
		}
		logger.Info("event broadcaster stream ended")
	}()
}

func (b *EventBroadcaster) Wait() {
	b.wg.Wait()
}

// Publish queues an event for broadcast. It blocks only while the input
// buffer is full, which lasts at most one fan-out since fan-out never waits
// on observers, and returns immediately once the stream has ended.
func (b *EventBroadcaster) Publish(event Event) {
	select {
	case b.input <- event:
	case <-b.ended:
	}
}

// Register a new channel. Called from the HTTP server when a new websocket
// connection is initiated.
//
// The retained canvas events are pushed first while holding the mutex, so
// no live event can slip in between the replay and the registration. If
// the stream has already ended, the end event follows the replay.
//
// The channel must be buffered and drained promptly. If it is ever full
// when an event is due, the broadcaster closes it and forgets it; the
// receiver sees the close and should give up on the stream. Callers never
// close a registered channel themselves.
func (b *EventBroadcaster) RegisterChannel(ctx context.Context, c chan<- Event) {
	traceCtx, task := trace.NewTask(ctx, "RegisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", b.mutex.Lock)
	defer b.mutex.Unlock()

	ok := true
	trace.WithRegion(traceCtx, "pushRetainedEventsToChannel", func() {
		ok = b.pushRetainedEventsToChannel(c)
	})

	if ok && b.streamEnded.Load() {
		ok = offer(c, b.endEvent)
	}

	if !ok {
		close(c)
		b.numChannelsDropped++
		b.logger.WithField("channel", c).Warn("channel too small for the retained canvas, dropped")
		return
	}

	b.channelsForLiveUpdate = append(b.channelsForLiveUpdate, c)

	b.logger.WithFields(logrus.Fields{
		"newChannel": c,
		"channels":   len(b.channelsForLiveUpdate),
	}).Info("registered channel")
}

// Deregister a channel. Deregistering a channel the broadcaster already
// dropped is a no-op.
func (b *EventBroadcaster) DeregisterChannel(ctx context.Context, c chan<- Event) {
	traceCtx, task := trace.NewTask(ctx, "DeregisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", b.mutex.Lock)
	defer b.mutex.Unlock()

	b.channelsForLiveUpdate = Filter(b.channelsForLiveUpdate, func(channel chan<- Event) bool {
		return channel != c
	})

	b.logger.WithFields(logrus.Fields{
		"removedChannel": c,
		"channels":       len(b.channelsForLiveUpdate),
	}).Info("deregistered channel")
}

func (b *EventBroadcaster) run(ctx context.Context) {
	for {
		select {
		case event := <-b.input:
			traceCtx, task := trace.NewTask(ctx, "EventBroadcasterLoop")
			b.cacheAndBroadcastEvent(traceCtx, event)
			task.End()
		case <-ctx.Done():
			// Flush whatever was published before the cancellation.
			for {
				select {
				case event := <-b.input:
					b.cacheAndBroadcastEvent(ctx, event)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBroadcaster) cacheAndBroadcastEvent(traceCtx context.Context, event Event) {
	b.numEventsEmitted++

	trace.WithRegion(traceCtx, "Lock", b.mutex.Lock)
	defer b.mutex.Unlock()

	b.logger.WithField("event", event.Command.String()).Debug("new event")

	trace.WithRegion(traceCtx, "Cache", func() {
		b.retain(event)
	})

	trace.WithRegion(traceCtx, "Broadcast", func() {
		b.broadcastLocked(event)
	})
}

// broadcastLocked sends event to every channel, dropping the ones that are
// full. Must hold b.mutex.
func (b *EventBroadcaster) broadcastLocked(event Event) {
	kept := b.channelsForLiveUpdate[:0]
	for _, c := range b.channelsForLiveUpdate {
		if offer(c, event) {
			kept = append(kept, c)
			continue
		}

		close(c)
		b.numChannelsDropped++
		b.logger.WithFields(logrus.Fields{
			"channel":            c,
			"numChannelsDropped": b.numChannelsDropped,
		}).Warn("observer is not keeping up, dropped")
	}

	// Clear the tail so dropped channels are not kept alive by the array.
	for i := len(kept); i < len(b.channelsForLiveUpdate); i++ {
		b.channelsForLiveUpdate[i] = nil
	}
	b.channelsForLiveUpdate = kept
}

func offer(c chan<- Event, event Event) bool {
	select {
	case c <- event:
		return true
	default:
		return false
	}
}

func (b *EventBroadcaster) retain(event Event) {
	switch event.Type {
	case CommandAddLine:
		b.forget(event.Name)
		b.retained[event.Name] = event
		b.retainedOrder = append(b.retainedOrder, event.Name)
	case CommandRemoveLine:
		b.forget(event.Name)
	case CommandClear:
		b.retained = make(map[string]Event)
		b.retainedOrder = nil
	case CommandAutoscale:
		if event.TRange != nil {
			b.viewport = &event
		}
	}
}

func (b *EventBroadcaster) forget(name string) {
	if _, ok := b.retained[name]; !ok {
		return
	}

	delete(b.retained, name)
	if i := slices.Index(b.retainedOrder, name); i >= 0 {
		b.retainedOrder = slices.Delete(b.retainedOrder, i, i+1)
	}
}

func (b *EventBroadcaster) pushRetainedEventsToChannel(c chan<- Event) bool {
	for _, name := range b.retainedOrder {
		if !offer(c, b.retained[name]) {
			return false
		}
	}

	if b.viewport != nil {
		return offer(c, *b.viewport)
	}
	return true
}
