// Package event turns writer results into entity-written events and
// dispatches them to listeners such as indexers and webhook emitters.
package event

import (
	"github.com/hyperengineering/entsync/internal/execctx"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// Kind distinguishes write notifications from delete notifications.
type Kind string

const (
	KindWritten Kind = "written"
	KindDeleted Kind = "deleted"
)

// EntityWrittenEvent reports the rows of one entity affected by one write
// batch.
type EntityWrittenEvent struct {
	Entity  string
	Kind    Kind
	Results []entsync.WriteResult
	Context *execctx.Context
}

// IDs returns the affected primary keys in result order.
func (e *EntityWrittenEvent) IDs() []entsync.PrimaryKey {
	ids := make([]entsync.PrimaryKey, len(e.Results))
	for i, r := range e.Results {
		ids[i] = r.Key
	}
	return ids
}

// Payloads returns the written payloads in result order.
func (e *EntityWrittenEvent) Payloads() []map[string]any {
	out := make([]map[string]any, len(e.Results))
	for i, r := range e.Results {
		out[i] = r.Payload
	}
	return out
}

// Container is an ordered event stream sharing one execution context.
type Container struct {
	Context *execctx.Context
	events  []*EntityWrittenEvent
}

// NewContainer builds one event per entity group of results, in group
// order.
func NewContainer(ec *execctx.Context, results *entsync.Grouped, kind Kind) *Container {
	c := &Container{Context: ec}
	for _, g := range results.Groups() {
		c.events = append(c.events, &EntityWrittenEvent{
			Entity:  g.Entity,
			Kind:    kind,
			Results: g.Results,
			Context: ec,
		})
	}
	return c
}

// Add appends events. Events for an entity already present are kept
// separate, never coalesced.
func (c *Container) Add(events ...*EntityWrittenEvent) {
	c.events = append(c.events, events...)
}

// Merge appends every event of other after the events of c.
func (c *Container) Merge(other *Container) {
	if other == nil {
		return
	}
	c.Add(other.events...)
}

// Events returns the events in stream order.
func (c *Container) Events() []*EntityWrittenEvent {
	if c == nil {
		return nil
	}
	return c.events
}

// Len returns the number of events.
func (c *Container) Len() int {
	if c == nil {
		return 0
	}
	return len(c.events)
}

// Entities returns the distinct entity names in first-occurrence order.
func (c *Container) Entities() []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range c.Events() {
		if !seen[e.Entity] {
			seen[e.Entity] = true
			names = append(names, e.Entity)
		}
	}
	return names
}

// Filter returns the events of the given kind in stream order.
func (c *Container) Filter(kind Kind) []*EntityWrittenEvent {
	var out []*EntityWrittenEvent
	for _, e := range c.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
