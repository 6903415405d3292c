// Package events fans session and cache signals out to in-process listeners and
// to optional external sinks (Redis stream, AMQP queue).
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeSessionState       = "session.state_changed"
	TypeSessionInvalidated = "session.invalidated"
	TypeShelfMembership    = "shelf.membership_changed"
	TypeCacheReset         = "cache.reset"
)

// Event is a single signal. Data carries flat string attributes.
type Event struct {
	ID   string            `json:"id"`
	Type string            `json:"type"`
	At   time.Time         `json:"at"`
	Data map[string]string `json:"data,omitempty"`
}

// New stamps an event with an id and the current time.
func New(eventType string, data map[string]string) Event {
	return Event{ID: uuid.NewString(), Type: eventType, At: time.Now().UTC(), Data: data}
}

// Sink delivers events outside the process.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Bus delivers events synchronously to listeners and asynchronously to sinks.
// Sink delivery is best effort: when the buffer is full the event is dropped.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[int]func(Event)
	nextID    int

	sinks   []Sink
	queue   chan Event
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewBus starts the sink dispatcher. Close stops it.
func NewBus(logger *slog.Logger, sinks ...Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:    logger.With("component", "events"),
		listeners: make(map[int]func(Event)),
		sinks:     sinks,
		queue:     make(chan Event, 256),
		done:      make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers fn for every event. The returned func unsubscribes.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish hands evt to every listener, then queues it for the sinks.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(evt)
	}

	if len(b.sinks) == 0 {
		return
	}
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- evt:
	default:
		b.logger.Warn("event dropped", "type", evt.Type, "id", evt.ID)
	}
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for evt := range b.queue {
		for _, sink := range b.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sink.Publish(ctx, evt); err != nil {
				b.logger.Warn("event sink publish failed", "type", evt.Type, "err", err)
			}
			cancel()
		}
	}
}

// Close flushes queued events and closes the sinks.
func (b *Bus) Close() error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.closeMu.Unlock()
	<-b.done

	var firstErr error
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
