package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// Index task statuses.
const (
	IndexTaskPending = "pending"
	IndexTaskDone    = "done"
	IndexTaskFailed  = "failed"
)

// EnqueueIndexTasks records deferred indexer runs in one transaction.
func (s *SQLiteStore) EnqueueIndexTasks(ctx context.Context, tasks []IndexTask) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.primary.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i := range tasks {
		keys, err := json.Marshal(keyMaps(tasks[i].Keys))
		if err != nil {
			return fmt.Errorf("marshal task keys: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_queue (indexer, entity, kind, keys, source_id, status, attempts, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		`, tasks[i].Indexer, tasks[i].Entity, tasks[i].Kind, string(keys), tasks[i].SourceID,
			IndexTaskPending, now, now); err != nil {
			return fmt.Errorf("enqueue index task %s/%s: %w", tasks[i].Indexer, tasks[i].Entity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// keyMaps stores keys with their field names so composite and scalar keys
// survive the round trip through the queue.
func keyMaps(keys []entsync.PrimaryKey) []map[string]any {
	out := make([]map[string]any, len(keys))
	for i, k := range keys {
		out[i] = k.Map()
	}
	return out
}

// ClaimIndexTasks returns up to limit pending tasks, oldest first.
// Claiming does not change task state; the worker is single-threaded.
func (s *SQLiteStore) ClaimIndexTasks(ctx context.Context, limit int) ([]IndexTask, error) {
	rows, err := s.primary.QueryContext(ctx, `
		SELECT id, indexer, entity, kind, keys, source_id, attempts, COALESCE(last_error, ''), created_at
		FROM index_queue
		WHERE status = ?
		ORDER BY id ASC
		LIMIT ?
	`, IndexTaskPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query index queue: %w", err)
	}
	defer rows.Close()

	tasks := make([]IndexTask, 0)
	for rows.Next() {
		var t IndexTask
		var keys, createdAt string
		if err := rows.Scan(&t.ID, &t.Indexer, &t.Entity, &t.Kind, &keys, &t.SourceID,
			&t.Attempts, &t.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan index task: %w", err)
		}

		var fields []map[string]any
		if err := json.Unmarshal([]byte(keys), &fields); err != nil {
			return nil, fmt.Errorf("decode keys of index task %d: %w", t.ID, err)
		}
		t.Keys = make([]entsync.PrimaryKey, len(fields))
		for i, m := range fields {
			t.Keys[i] = entsync.CompositeKey(m)
		}

		var parseErr error
		if t.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
			slog.Warn("index_queue: failed to parse created_at", "value", createdAt, "error", parseErr)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkIndexTaskDone marks a task as processed.
func (s *SQLiteStore) MarkIndexTaskDone(ctx context.Context, id int64) error {
	res, err := s.primary.ExecContext(ctx, `
		UPDATE index_queue SET status = ?, updated_at = ? WHERE id = ?
	`, IndexTaskDone, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark index task done: %w", err)
	}
	return requireAffected(res, id)
}

// MarkIndexTaskFailed records a failed attempt. Once attempts reach
// maxAttempts the task is marked failed and permanent is true.
func (s *SQLiteStore) MarkIndexTaskFailed(ctx context.Context, id int64, cause error, maxAttempts int) (permanent bool, err error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var attempts int
	err = s.primary.QueryRowContext(ctx, `
		UPDATE index_queue
		SET attempts = attempts + 1,
		    last_error = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END,
		    updated_at = ?
		WHERE id = ?
		RETURNING attempts
	`, msg, maxAttempts, IndexTaskFailed, time.Now().UTC().Format(time.RFC3339Nano), id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("index task %d: %w", id, ErrNoIndexTask)
	}
	if err != nil {
		return false, fmt.Errorf("mark index task failed: %w", err)
	}
	return attempts >= maxAttempts, nil
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("index task %d: %w", id, ErrNoIndexTask)
	}
	return nil
}
