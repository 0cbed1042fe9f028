// Package execctx carries the per-call execution context of a sync: who is
// acting, with which locale and currency, and which indexing switches apply.
//
// A Context is a value owned by one call. Callers that need to attach flags
// for a single call work on a Clone so the original never observes them.
package execctx

import (
	"context"
	"slices"
)

// SourceType identifies the kind of actor that issued a call.
type SourceType string

const (
	SourceSystem SourceType = "system"
	SourceAPI    SourceType = "api"
	SourceCLI    SourceType = "cli"
)

// Source is the acting identity of a call.
type Source struct {
	Type    SourceType `json:"type"`
	ActorID string     `json:"actor_id,omitempty"`
}

// String returns "type" or "type:actor".
func (s Source) String() string {
	if s.ActorID == "" {
		return string(s.Type)
	}
	return string(s.Type) + ":" + s.ActorID
}

// State is a named switch consumed by reactive listeners.
type State string

const (
	// StateDisableIndexing suppresses every indexer for the call.
	StateDisableIndexing State = "disable-indexing"
	// StateUseQueueIndexing defers indexers to the index queue.
	StateUseQueueIndexing State = "use-queue-indexing"
)

const (
	DefaultLocale   = "en-GB"
	DefaultCurrency = "EUR"
)

// Context is the execution context of one call.
type Context struct {
	Source   Source
	Locale   string
	Currency string

	skipIndexers []string
	states       []State
}

// Option configures a Context built with New.
type Option func(*Context)

// WithLocale sets the locale.
func WithLocale(locale string) Option {
	return func(c *Context) {
		if locale != "" {
			c.Locale = locale
		}
	}
}

// WithCurrency sets the currency.
func WithCurrency(currency string) Option {
	return func(c *Context) {
		if currency != "" {
			c.Currency = currency
		}
	}
}

// New creates a Context for the given source.
func New(source Source, opts ...Option) *Context {
	c := &Context{
		Source:   source,
		Locale:   DefaultLocale,
		Currency: DefaultCurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// System returns a fresh context acting as the system.
func System() *Context {
	return New(Source{Type: SourceSystem})
}

// Clone returns a deep copy. Mutations on the copy never reach c.
func (c *Context) Clone() *Context {
	if c == nil {
		return System()
	}
	clone := *c
	clone.skipIndexers = slices.Clone(c.skipIndexers)
	clone.states = slices.Clone(c.states)
	return &clone
}

// SetSkipIndexers replaces the set of indexers suppressed for this call.
// Duplicates and empty names are dropped; first-occurrence order is kept.
func (c *Context) SetSkipIndexers(names []string) {
	c.skipIndexers = c.skipIndexers[:0]
	for _, name := range names {
		if name == "" || slices.Contains(c.skipIndexers, name) {
			continue
		}
		c.skipIndexers = append(c.skipIndexers, name)
	}
}

// SkipIndexers returns a copy of the suppressed indexer names.
func (c *Context) SkipIndexers() []string {
	return slices.Clone(c.skipIndexers)
}

// SkipsIndexer reports whether the named indexer is suppressed.
func (c *Context) SkipsIndexer(name string) bool {
	return slices.Contains(c.skipIndexers, name)
}

// AddState records one or more states. Adding a present state is a no-op.
func (c *Context) AddState(states ...State) {
	for _, s := range states {
		if s == "" || c.HasState(s) {
			continue
		}
		c.states = append(c.states, s)
	}
}

// HasState reports whether s was added.
func (c *Context) HasState(s State) bool {
	return slices.Contains(c.states, s)
}

// States returns a copy of the recorded states in insertion order.
func (c *Context) States() []State {
	return slices.Clone(c.states)
}

type contextKey struct{}

// WithContext returns ctx carrying ec.
func WithContext(ctx context.Context, ec *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ec)
}

// FromContext extracts the execution context placed by WithContext.
// Returns System() when none is present.
func FromContext(ctx context.Context) *Context {
	ec, ok := ctx.Value(contextKey{}).(*Context)
	if !ok || ec == nil {
		return System()
	}
	return ec
}
