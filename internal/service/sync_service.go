// Package service drives one bulk sync call end to end: primary routing,
// context preparation, the transactional write, event dispatch and the
// result summary.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/entsync/internal/aggregate"
	"github.com/hyperengineering/entsync/internal/event"
	"github.com/hyperengineering/entsync/internal/execctx"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// PrimaryRouter forces reads and writes of a call onto the primary store.
type PrimaryRouter interface {
	EnsurePrimary(ctx context.Context) (context.Context, error)
}

// EntityWriter applies operations atomically and reports grouped results.
type EntityWriter interface {
	Sync(ctx context.Context, ops []entsync.Operation, wc *entsync.WriteContext) (*entsync.WriteResultSet, error)
}

// Dispatcher delivers an event stream to listeners synchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, events *event.Container) error
}

// SyncService orchestrates sync calls. It holds no per-call state and is
// safe for concurrent use.
type SyncService struct {
	router     PrimaryRouter
	writer     EntityWriter
	dispatcher Dispatcher
}

// NewSyncService creates a SyncService.
func NewSyncService(router PrimaryRouter, writer EntityWriter, dispatcher Dispatcher) *SyncService {
	return &SyncService{
		router:     router,
		writer:     writer,
		dispatcher: dispatcher,
	}
}

// Sync executes ops in one transaction and returns the summary.
//
// ec is never modified: behavior flags are applied to a clone, which the
// writer and listeners observe. If a listener fails, the writes have
// already been committed; the error wraps ErrDispatchFailed so callers can
// tell this case apart.
func (s *SyncService) Sync(ctx context.Context, ops []entsync.Operation, ec *execctx.Context, b entsync.Behavior) (*entsync.Result, error) {
	start := time.Now()

	if err := b.Validate(); err != nil {
		return nil, err
	}

	ctx, err := s.router.EnsurePrimary(ctx)
	if err != nil {
		return nil, err
	}

	callCtx := ec.Clone()
	if len(b.SkipIndexers) > 0 {
		callCtx.SetSkipIndexers(b.SkipIndexers)
	}
	if state, ok := b.Indexing.State(); ok {
		callCtx.AddState(state)
	}
	ctx = execctx.WithContext(ctx, callCtx)

	set, err := s.writer.Sync(ctx, ops, entsync.NewWriteContext(callCtx))
	if err != nil {
		slog.Warn("sync failed",
			"component", "service",
			"action", "sync",
			"operations", len(ops),
			"source", callCtx.Source.String(),
			"error", err,
		)
		return nil, err
	}

	events := event.NewContainer(callCtx, &set.Written, event.KindWritten)
	deletes := event.NewContainer(callCtx, &set.Deleted, event.KindDeleted)
	events.Merge(deletes)

	if err := s.dispatcher.Dispatch(ctx, events); err != nil {
		slog.Error("event dispatch failed after commit",
			"component", "service",
			"action", "dispatch",
			"committed", true,
			"events", events.Len(),
			"source", callCtx.Source.String(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", entsync.ErrDispatchFailed, err)
	}

	result := aggregate.Build(set, events)

	slog.Info("sync completed",
		"component", "service",
		"action", "sync",
		"operations", len(ops),
		"written", set.Written.Len(),
		"deleted", set.Deleted.Len(),
		"not_found", set.NotFound.Len(),
		"skip_indexers", callCtx.SkipIndexers(),
		"indexing_behavior", string(b.Indexing),
		"source", callCtx.Source.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}
