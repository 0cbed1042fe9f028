// Package indexer maintains derived read state in reaction to sync events.
// Indexers run inline during dispatch, are skipped per call, or are deferred
// to the index queue depending on the call's execution context.
package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/entsync/internal/event"
	"github.com/hyperengineering/entsync/internal/execctx"
	"github.com/hyperengineering/entsync/internal/store"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// Indexer rebuilds derived state for rows of one entity.
type Indexer interface {
	// Name is the identifier callers use to skip the indexer.
	Name() string

	// Index refreshes derived state for written rows.
	Index(ctx context.Context, entity string, keys []entsync.PrimaryKey) error

	// Remove drops derived state for deleted rows.
	Remove(ctx context.Context, entity string, keys []entsync.PrimaryKey) error
}

// Queue persists deferred indexer runs.
type Queue interface {
	EnqueueIndexTasks(ctx context.Context, tasks []store.IndexTask) error
}

// Registry is the event listener that fans sync events out to indexers.
type Registry struct {
	queue    Queue
	indexers []Indexer
}

// NewRegistry creates a registry. queue may be nil when deferred indexing
// is not available; calls asking for it then fail.
func NewRegistry(queue Queue, indexers ...Indexer) *Registry {
	return &Registry{queue: queue, indexers: indexers}
}

// Names returns the registered indexer names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.indexers))
	for i, idx := range r.indexers {
		names[i] = idx.Name()
	}
	return names
}

// Get returns the indexer registered under name.
func (r *Registry) Get(name string) (Indexer, bool) {
	for _, idx := range r.indexers {
		if idx.Name() == name {
			return idx, true
		}
	}
	return nil, false
}

// Handle implements event.Listener.
func (r *Registry) Handle(ctx context.Context, events *event.Container) error {
	ec := events.Context
	if ec == nil {
		ec = execctx.FromContext(ctx)
	}

	if ec.HasState(execctx.StateDisableIndexing) {
		slog.Debug("indexing disabled for call",
			"component", "indexer",
			"action", "skip_all",
			"events", events.Len(),
		)
		return nil
	}

	queued := ec.HasState(execctx.StateUseQueueIndexing)
	var tasks []store.IndexTask

	for _, idx := range r.indexers {
		if ec.SkipsIndexer(idx.Name()) {
			slog.Debug("indexer skipped",
				"component", "indexer",
				"action", "skip",
				"indexer", idx.Name(),
			)
			continue
		}

		for _, e := range events.Events() {
			if queued {
				tasks = append(tasks, store.IndexTask{
					Indexer:  idx.Name(),
					Entity:   e.Entity,
					Kind:     string(e.Kind),
					Keys:     e.IDs(),
					SourceID: ec.Source.String(),
				})
				continue
			}
			if err := apply(ctx, idx, e.Entity, e.Kind, e.IDs()); err != nil {
				return err
			}
		}
	}

	if len(tasks) == 0 {
		return nil
	}
	if r.queue == nil {
		return fmt.Errorf("queued indexing requested but no index queue is configured")
	}
	if err := r.queue.EnqueueIndexTasks(ctx, tasks); err != nil {
		return fmt.Errorf("enqueue index tasks: %w", err)
	}
	slog.Debug("index tasks queued",
		"component", "indexer",
		"action", "enqueue",
		"tasks", len(tasks),
	)
	return nil
}

// RunTask executes one queued task.
func (r *Registry) RunTask(ctx context.Context, task store.IndexTask) error {
	idx, ok := r.Get(task.Indexer)
	if !ok {
		return fmt.Errorf("unknown indexer %q", task.Indexer)
	}
	return apply(ctx, idx, task.Entity, event.Kind(task.Kind), task.Keys)
}

func apply(ctx context.Context, idx Indexer, entity string, kind event.Kind, keys []entsync.PrimaryKey) error {
	var err error
	switch kind {
	case event.KindWritten:
		err = idx.Index(ctx, entity, keys)
	case event.KindDeleted:
		err = idx.Remove(ctx, entity, keys)
	default:
		err = fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("indexer %s %s %s: %w", idx.Name(), kind, entity, err)
	}
	return nil
}

// Ensure Registry implements event.Listener at compile time.
var _ event.Listener = (*Registry)(nil)
