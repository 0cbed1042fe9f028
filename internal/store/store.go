package store

import (
	"context"
	"time"

	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// Store defines the interface contract for entity storage operations.
type Store interface {
	// EnsurePrimary verifies the primary is reachable and returns a context
	// whose reads are pinned to it.
	EnsurePrimary(ctx context.Context) (context.Context, error)

	// Sync applies a batch of operations in one transaction.
	Sync(ctx context.Context, ops []entsync.Operation, wc *entsync.WriteContext) (*entsync.WriteResultSet, error)

	GetRow(ctx context.Context, entity string, key entsync.PrimaryKey) (map[string]any, error)
	ListRows(ctx context.Context, entity string, limit, offset int) ([]map[string]any, error)

	GetChangeLogAfter(ctx context.Context, afterSeq int64, limit int) ([]entsync.ChangeLogEntry, error)
	GetLatestSequence(ctx context.Context) (int64, error)
	GetSyncMeta(ctx context.Context, key string) (string, error)
	SetSyncMeta(ctx context.Context, key, value string) error

	EnqueueIndexTasks(ctx context.Context, tasks []IndexTask) error
	ClaimIndexTasks(ctx context.Context, limit int) ([]IndexTask, error)
	MarkIndexTaskDone(ctx context.Context, id int64) error
	MarkIndexTaskFailed(ctx context.Context, id int64, cause error, maxAttempts int) (bool, error)

	PutSearchDocument(ctx context.Context, doc SearchDocument) error
	DeleteSearchDocument(ctx context.Context, entity, entityKey string) error
	SearchDocuments(ctx context.Context, entity, term string, limit int) ([]SearchDocument, error)

	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// IndexTask is one deferred indexer run recorded in the index queue.
type IndexTask struct {
	ID        int64
	Indexer   string
	Entity    string
	Kind      string
	Keys      []entsync.PrimaryKey
	SourceID  string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// SearchDocument is the indexed text of one row.
type SearchDocument struct {
	Entity    string    `json:"entity"`
	EntityKey string    `json:"entity_key"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats summarises store contents for health reporting.
type Stats struct {
	Entities          map[string]int64 `json:"entities"`
	LatestSequence    int64            `json:"latest_sequence"`
	PendingIndexTasks int64            `json:"pending_index_tasks"`
	FailedIndexTasks  int64            `json:"failed_index_tasks"`
	SearchDocuments   int64            `json:"search_documents"`
	LastSyncAt        string           `json:"last_sync_at,omitempty"`
	ReplicaConfigured bool             `json:"replica_configured"`
}

// Ensure SQLiteStore implements Store at compile time.
var _ Store = (*SQLiteStore)(nil)
