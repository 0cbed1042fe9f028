package sync

import (
	"encoding/json"
	"time"
)

// ChangeLogEntry represents a single entry in the change log.
// One entry is appended per written or deleted row of a sync call.
type ChangeLogEntry struct {
	Sequence   int64           `json:"sequence"`
	Entity     string          `json:"entity"`
	EntityKey  string          `json:"entity_key"`
	Operation  WriteKind       `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SourceID   string          `json:"source_id"`
	CreatedAt  time.Time       `json:"created_at"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Delta paging limits.
const (
	DefaultDeltaLimit = 500
	MaxDeltaLimit     = 1000
)

// DeltaRequest pages the change log.
type DeltaRequest struct {
	After int64
	Limit int
}

// DeltaResponse is the response body of GET /sync/delta.
type DeltaResponse struct {
	Entries        []ChangeLogEntry `json:"entries"`
	LastSequence   int64            `json:"last_sequence"`
	LatestSequence int64            `json:"latest_sequence"`
	HasMore        bool             `json:"has_more"`
}

// SyncMeta keys
const (
	SyncMetaSchemaVersion = "schema_version"
	SyncMetaLastSyncAt    = "last_sync_at"
)
