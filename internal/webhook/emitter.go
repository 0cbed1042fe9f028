// Package webhook posts sync event batches to configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/entsync/internal/event"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// ListenerName is the dispatcher name of the emitter.
const ListenerName = "webhook"

// DefaultTimeout bounds a delivery when the endpoint sets none.
const DefaultTimeout = 10 * time.Second

// Endpoint is one webhook receiver.
type Endpoint struct {
	Name string
	URL  string
	// Entities restricts deliveries to these collections. Empty means all.
	Entities []string
	Timeout  time.Duration
}

func (e Endpoint) accepts(entity string) bool {
	return len(e.Entities) == 0 || slices.Contains(e.Entities, entity)
}

// Delivery is the JSON body posted to an endpoint.
type Delivery struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
	Events     []DeliveryEvent `json:"events"`
}

// DeliveryEvent is one entity event inside a delivery.
type DeliveryEvent struct {
	Entity string               `json:"entity"`
	Kind   event.Kind           `json:"kind"`
	Keys   []entsync.PrimaryKey `json:"keys"`
}

// Emitter is an event listener that delivers every event stream to its
// endpoints concurrently. A failed delivery fails the dispatch.
type Emitter struct {
	endpoints []Endpoint
	client    *http.Client
	now       func() time.Time
}

// NewEmitter creates an Emitter. A nil client uses a default http.Client;
// per-endpoint timeouts apply through the request context.
func NewEmitter(endpoints []Endpoint, client *http.Client) *Emitter {
	if client == nil {
		client = &http.Client{}
	}
	return &Emitter{
		endpoints: endpoints,
		client:    client,
		now:       time.Now,
	}
}

// Handle implements event.Listener.
func (e *Emitter) Handle(ctx context.Context, events *event.Container) error {
	if len(e.endpoints) == 0 || events.Len() == 0 {
		return nil
	}

	source := ""
	if events.Context != nil {
		source = events.Context.Source.String()
	}
	occurredAt := e.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range e.endpoints {
		delivery := Delivery{
			ID:         uuid.NewString(),
			Source:     source,
			OccurredAt: occurredAt,
		}
		for _, ev := range events.Events() {
			if ep.accepts(ev.Entity) {
				delivery.Events = append(delivery.Events, DeliveryEvent{
					Entity: ev.Entity,
					Kind:   ev.Kind,
					Keys:   ev.IDs(),
				})
			}
		}
		if len(delivery.Events) == 0 {
			continue
		}

		g.Go(func() error {
			return e.deliver(gctx, ep, delivery)
		})
	}
	return g.Wait()
}

func (e *Emitter) deliver(ctx context.Context, ep Endpoint, d Delivery) error {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("webhook %s: marshal delivery: %w", ep.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: build request: %w", ep.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Entsync-Delivery", d.ID)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", ep.Name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: unexpected status %d", ep.Name, resp.StatusCode)
	}

	slog.Debug("webhook delivered",
		"component", "webhook",
		"action", "deliver",
		"endpoint", ep.Name,
		"delivery_id", d.ID,
		"events", len(d.Events),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Ensure Emitter implements event.Listener at compile time.
var _ event.Listener = (*Emitter)(nil)
