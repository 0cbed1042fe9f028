package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/entsync/internal/execctx"
	"github.com/hyperengineering/entsync/internal/plugin"
	"github.com/hyperengineering/entsync/internal/store"
	entsync "github.com/hyperengineering/entsync/internal/sync"
	"github.com/hyperengineering/entsync/internal/validation"
)

// Paging bounds of the read endpoints.
const (
	DefaultRowLimit    = 100
	MaxRowLimit        = 1000
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Syncer runs one bulk sync call.
type Syncer interface {
	Sync(ctx context.Context, ops []entsync.Operation, ec *execctx.Context, b entsync.Behavior) (*entsync.Result, error)
}

// Handler implements the API handlers
type Handler struct {
	store   store.Store
	syncer  Syncer
	limits  validation.Limits
	apiKey  string
	version string
}

// NewHandler creates a new Handler. An empty apiKey disables authentication.
func NewHandler(s store.Store, syncer Syncer, limits validation.Limits, apiKey, version string) *Handler {
	return &Handler{
		store:   s,
		syncer:  syncer,
		limits:  limits,
		apiKey:  apiKey,
		version: version,
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status            string           `json:"status"`
	Version           string           `json:"version"`
	Entities          map[string]int64 `json:"entities"`
	LatestSequence    int64            `json:"latest_sequence"`
	PendingIndexTasks int64            `json:"pending_index_tasks"`
	FailedIndexTasks  int64            `json:"failed_index_tasks"`
	LastSyncAt        string           `json:"last_sync_at,omitempty"`
	ReplicaConfigured bool             `json:"replica_configured"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "action", "health", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:            "healthy",
		Version:           h.version,
		Entities:          stats.Entities,
		LatestSequence:    stats.LatestSequence,
		PendingIndexTasks: stats.PendingIndexTasks,
		FailedIndexTasks:  stats.FailedIndexTasks,
		LastSyncAt:        stats.LastSyncAt,
		ReplicaConfigured: stats.ReplicaConfigured,
	})
}

// EntityInfo describes one registered entity collection.
type EntityInfo struct {
	Name       string   `json:"name"`
	Table      string   `json:"table"`
	PrimaryKey []string `json:"primary_key"`
	Columns    []string `json:"columns"`
	AutoID     bool     `json:"auto_id"`
	Searchable []string `json:"searchable,omitempty"`
}

// DescribeEntities lists every registered collection sorted by name.
func DescribeEntities() []EntityInfo {
	defs := plugin.Definitions()
	out := make([]EntityInfo, len(defs))
	for i, def := range defs {
		out[i] = EntityInfo{
			Name:       def.Name,
			Table:      def.TableName(),
			PrimaryKey: def.PrimaryKey,
			Columns:    def.Columns,
			AutoID:     def.AutoID,
			Searchable: def.Searchable,
		}
	}
	return out
}

// ListEntities handles GET /api/v1/entities
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DescribeEntities())
}

// RowsResponse is the body of GET /entities/{entity}.
type RowsResponse struct {
	Entity string           `json:"entity"`
	Rows   []map[string]any `json:"rows"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// ListRows handles GET /api/v1/entities/{entity}
func (h *Handler) ListRows(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")

	limit, err := intParam(r, "limit", DefaultRowLimit, 1, MaxRowLimit)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0, 0, -1)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.store.ListRows(r.Context(), entity, limit, offset)
	if err != nil {
		logReadError("list_rows", entity, err)
		MapSyncError(w, r, err)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, RowsResponse{Entity: entity, Rows: rows, Limit: limit, Offset: offset})
}

// GetRow handles GET /api/v1/entities/{entity}/row?<key column>=<value>...
// Every key column of the collection must be given as a query parameter.
func (h *Handler) GetRow(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	def, err := plugin.Lookup(entity)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}

	q := r.URL.Query()
	fields := make(map[string]any, len(def.PrimaryKey))
	for _, col := range def.PrimaryKey {
		v := q.Get(col)
		if v == "" {
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("missing required query parameter: %s", col))
			return
		}
		fields[col] = v
	}

	row, err := h.store.GetRow(r.Context(), entity, entsync.CompositeKey(fields))
	if err != nil {
		logReadError("get_row", entity, err)
		MapSyncError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, row)
}

// SearchResponse is the body of GET /entities/{entity}/search.
type SearchResponse struct {
	Entity    string                 `json:"entity"`
	Term      string                 `json:"term"`
	Documents []store.SearchDocument `json:"documents"`
}

// Search handles GET /api/v1/entities/{entity}/search?term=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	if _, err := plugin.Lookup(entity); err != nil {
		MapSyncError(w, r, err)
		return
	}

	term := r.URL.Query().Get("term")
	if term == "" {
		WriteProblem(w, r, http.StatusBadRequest, "missing required query parameter: term")
		return
	}
	limit, err := intParam(r, "limit", DefaultSearchLimit, 1, MaxSearchLimit)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	docs, err := h.store.SearchDocuments(r.Context(), entity, term, limit)
	if err != nil {
		logReadError("search", entity, err)
		MapSyncError(w, r, err)
		return
	}
	if docs == nil {
		docs = []store.SearchDocument{}
	}

	writeJSON(w, http.StatusOK, SearchResponse{Entity: entity, Term: term, Documents: docs})
}

// intParam parses an optional integer query parameter. Values above hi
// are clamped; hi < 0 means unbounded.
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: must be an integer", name)
	}
	if n < lo {
		return 0, fmt.Errorf("invalid %s parameter: must be >= %d", name, lo)
	}
	if hi >= 0 && n > hi {
		n = hi
	}
	return n, nil
}

// logReadError logs unexpected read failures. Unknown collections and
// missing rows are client errors and are not logged.
func logReadError(action, entity string, err error) {
	if errors.Is(err, plugin.ErrUnknownEntity) || store.IsNotFound(err) {
		return
	}
	slog.Error("read failed",
		"component", "api",
		"action", action,
		"entity", entity,
		"error", err,
	)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
