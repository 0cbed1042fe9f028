package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Listener reacts to a dispatched event stream.
type Listener interface {
	Handle(ctx context.Context, events *Container) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, events *Container) error

// Handle calls f.
func (f ListenerFunc) Handle(ctx context.Context, events *Container) error {
	return f(ctx, events)
}

type subscription struct {
	name     string
	listener Listener
}

// Dispatcher runs named listeners sequentially in subscription order.
// Subscriptions are made at startup; Dispatch is safe for concurrent use.
type Dispatcher struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewDispatcher creates a dispatcher with no listeners.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe adds a listener under name.
func (d *Dispatcher) Subscribe(name string, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, subscription{name: name, listener: l})
}

// Listeners returns the subscribed listener names in order.
func (d *Dispatcher) Listeners() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.subs))
	for i, s := range d.subs {
		names[i] = s.name
	}
	return names
}

// Dispatch hands events to every listener and returns once all have run.
// The first listener error stops dispatch and is returned wrapped with the
// listener name. An empty stream is not dispatched.
func (d *Dispatcher) Dispatch(ctx context.Context, events *Container) error {
	if events.Len() == 0 {
		return nil
	}

	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, s := range subs {
		start := time.Now()
		if err := s.listener.Handle(ctx, events); err != nil {
			return fmt.Errorf("listener %s: %w", s.name, err)
		}
		slog.Debug("listener handled events",
			"component", "event",
			"action", "dispatch",
			"listener", s.name,
			"events", events.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return nil
}
