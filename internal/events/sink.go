package events

import (
	"context"
	"sync"

	"github.com/smallnest/chanx"
)

// Sink receives progress events. Publish must not block the caller.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Queue buffers events in an unbounded channel so publishers never wait on
// a slow reader. Events published after Close are dropped. Close releases
// the channel's goroutine and must always be called.
type Queue struct {
	mu      sync.Mutex
	ch      *chanx.UnboundedChan[Event]
	closed  bool
	history []Event
}

func NewQueue() *Queue {
	return &Queue{ch: chanx.NewUnboundedChan[Event](context.Background(), 16)}
}

func (q *Queue) Publish(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.history = append(q.history, e)
	q.ch.In <- e
}

// Close ends the queue once buffered events are drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch.In)
	}
}

// Next blocks until an event is available. It returns false once the queue
// is closed and drained, or when ctx is done.
func (q *Queue) Next(ctx context.Context) (Event, bool) {
	select {
	case e, ok := <-q.ch.Out:
		return e, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Events returns every event published so far, read or not.
func (q *Queue) Events() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.history))
	copy(out, q.history)
	return out
}
