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

const insertChangeLogSQL = `
	INSERT INTO change_log (entity, entity_key, operation, payload, source_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// changeLogArgs returns the SQL arguments for inserting a ChangeLogEntry.
func changeLogArgs(e *entsync.ChangeLogEntry) []any {
	return []any{
		e.Entity, e.EntityKey, string(e.Operation),
		nullablePayload(e.Payload), e.SourceID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// appendChangeLogTx appends entries within an existing transaction.
// Returns the highest assigned sequence number.
func appendChangeLogTx(ctx context.Context, tx *sql.Tx, entries []entsync.ChangeLogEntry) (int64, error) {
	var maxSeq int64

	for i := range entries {
		result, err := tx.ExecContext(ctx, insertChangeLogSQL, changeLogArgs(&entries[i])...)
		if err != nil {
			return 0, fmt.Errorf("insert change log entry: %w", err)
		}

		seq, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("get last insert id: %w", err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}

	return maxSeq, nil
}

// GetChangeLogAfter returns entries with sequence > afterSeq, up to limit.
// Reads are served by the replica when one is configured.
func (s *SQLiteStore) GetChangeLogAfter(ctx context.Context, afterSeq int64, limit int) ([]entsync.ChangeLogEntry, error) {
	rows, err := s.reader(ctx).QueryContext(ctx, `
		SELECT sequence, entity, entity_key, operation, payload, source_id, created_at, received_at
		FROM change_log
		WHERE sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	entries := make([]entsync.ChangeLogEntry, 0)
	for rows.Next() {
		var e entsync.ChangeLogEntry
		var payload sql.NullString
		var operation, createdAt, receivedAt string

		if err := rows.Scan(&e.Sequence, &e.Entity, &e.EntityKey, &operation,
			&payload, &e.SourceID, &createdAt, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan change log entry: %w", err)
		}

		e.Operation = entsync.WriteKind(operation)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		var parseErr error
		if e.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
			slog.Warn("change_log: failed to parse created_at", "value", createdAt, "error", parseErr)
		}
		if e.ReceivedAt, parseErr = time.Parse(time.RFC3339Nano, receivedAt); parseErr != nil {
			slog.Warn("change_log: failed to parse received_at", "value", receivedAt, "error", parseErr)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetLatestSequence returns the highest sequence number in the change log.
// Returns 0 if the change log is empty.
func (s *SQLiteStore) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.reader(ctx).QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM change_log`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get latest sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// GetSyncMeta retrieves a sync metadata value by key.
func (s *SQLiteStore) GetSyncMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.reader(ctx).QueryRowContext(ctx, `
		SELECT value FROM sync_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sync meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get sync meta: %w", err)
	}
	return value, nil
}

// SetSyncMeta sets a sync metadata value.
func (s *SQLiteStore) SetSyncMeta(ctx context.Context, key, value string) error {
	return setSyncMetaTx(ctx, s.primary, key, value)
}

func setSyncMetaTx(ctx context.Context, execer execContext, key, value string) error {
	_, err := execer.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set sync meta: %w", err)
	}
	return nil
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
// Returns nil for empty/null payloads, string otherwise.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 || string(p) == "null" {
		return nil
	}
	return string(p)
}
