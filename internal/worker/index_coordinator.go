// Package worker runs background jobs owned by the server process.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/entsync/internal/store"
)

// IndexQueue defines the queue operations the coordinator needs.
// Implemented by SQLiteStore.
type IndexQueue interface {
	ClaimIndexTasks(ctx context.Context, limit int) ([]store.IndexTask, error)
	MarkIndexTaskDone(ctx context.Context, id int64) error
	MarkIndexTaskFailed(ctx context.Context, id int64, cause error, maxAttempts int) (bool, error)
}

// TaskRunner executes one queued indexer run.
type TaskRunner interface {
	RunTask(ctx context.Context, task store.IndexTask) error
}

// IndexCoordinator drains the index queue on an interval.
type IndexCoordinator struct {
	queue       IndexQueue
	runner      TaskRunner
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// NewIndexCoordinator creates a coordinator for the index queue.
func NewIndexCoordinator(
	queue IndexQueue,
	runner TaskRunner,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
) *IndexCoordinator {
	return &IndexCoordinator{
		queue:       queue,
		runner:      runner,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
//
// The queue is drained once immediately so tasks left by a previous process
// do not wait a full interval.
func (c *IndexCoordinator) Run(ctx context.Context) {
	slog.Info("index coordinator started",
		"component", "worker",
		"worker", "index-coordinator",
		"interval", c.interval.String(),
		"batch_size", c.batchSize,
		"max_attempts", c.maxAttempts,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("index coordinator stopped",
				"component", "worker",
				"worker", "index-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.drain(ctx)
		}
	}
}

// drain processes full batches until the queue is empty, a task fails, or
// ctx ends. Failed tasks wait for the next tick.
func (c *IndexCoordinator) drain(ctx context.Context) {
	for ctx.Err() == nil {
		processed, succeeded := c.ProcessBatch(ctx)
		if processed < c.batchSize || succeeded < processed {
			return
		}
	}
}

// ProcessBatch claims and runs up to one batch of tasks. It returns the
// number of tasks claimed and the number that succeeded.
func (c *IndexCoordinator) ProcessBatch(ctx context.Context) (processed, succeeded int) {
	tasks, err := c.queue.ClaimIndexTasks(ctx, c.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0
		}
		slog.Error("failed to claim index tasks",
			"component", "worker",
			"worker", "index-coordinator",
			"error", err,
		)
		return 0, 0
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return processed, succeeded
		}
		processed++
		if c.runTask(ctx, task) {
			succeeded++
		}
	}

	if processed > 0 {
		slog.Debug("index batch completed",
			"component", "worker",
			"worker", "index-coordinator",
			"tasks", processed,
			"succeeded", succeeded,
		)
	}
	return processed, succeeded
}

func (c *IndexCoordinator) runTask(ctx context.Context, task store.IndexTask) bool {
	runErr := c.runner.RunTask(ctx, task)
	if runErr == nil {
		if err := c.queue.MarkIndexTaskDone(ctx, task.ID); err != nil {
			slog.Error("failed to mark index task done",
				"component", "worker",
				"worker", "index-coordinator",
				"task_id", task.ID,
				"error", err,
			)
			return false
		}
		return true
	}

	permanent, err := c.queue.MarkIndexTaskFailed(ctx, task.ID, runErr, c.maxAttempts)
	if err != nil {
		slog.Error("failed to record index task failure",
			"component", "worker",
			"worker", "index-coordinator",
			"task_id", task.ID,
			"error", err,
		)
		return false
	}

	if permanent {
		slog.Warn("index task permanently failed after max attempts",
			"component", "worker",
			"worker", "index-coordinator",
			"task_id", task.ID,
			"indexer", task.Indexer,
			"entity", task.Entity,
			"attempts", task.Attempts+1,
			"error", runErr,
		)
	} else {
		slog.Warn("index task failed, will retry",
			"component", "worker",
			"worker", "index-coordinator",
			"task_id", task.ID,
			"indexer", task.Indexer,
			"entity", task.Entity,
			"error", runErr,
		)
	}
	return false
}
