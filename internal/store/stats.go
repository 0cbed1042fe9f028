package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/entsync/internal/plugin"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// GetStats returns row counts per registered collection plus change log,
// index queue and search index figures.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	db := s.reader(ctx)
	stats := &Stats{
		Entities:          make(map[string]int64),
		ReplicaConfigured: s.HasReplica(),
	}

	for _, def := range plugin.Definitions() {
		var n int64
		if err := db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", def.TableName())).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", def.Name, err)
		}
		stats.Entities[def.Name] = n
	}

	err := db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT MAX(sequence) FROM change_log), 0),
			(SELECT COUNT(*) FROM index_queue WHERE status = ?),
			(SELECT COUNT(*) FROM index_queue WHERE status = ?),
			(SELECT COUNT(*) FROM search_documents)
	`, IndexTaskPending, IndexTaskFailed).Scan(
		&stats.LatestSequence,
		&stats.PendingIndexTasks,
		&stats.FailedIndexTasks,
		&stats.SearchDocuments,
	)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	lastSync, err := s.GetSyncMeta(ctx, entsync.SyncMetaLastSyncAt)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	stats.LastSyncAt = lastSync

	return stats, nil
}
