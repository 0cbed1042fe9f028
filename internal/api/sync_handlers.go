package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	entsync "github.com/hyperengineering/entsync/internal/sync"
	"github.com/hyperengineering/entsync/internal/validation"
)

// MaxSyncBodyBytes bounds the request body of a sync call.
const MaxSyncBodyBytes = 32 << 20

// Sync handles POST /api/v1/_action/sync
//
// The body is a JSON array of operations. Indexing switches and the acting
// identity come from headers.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var ops []entsync.Operation
	body := http.MaxBytesReader(w, r.Body, MaxSyncBodyBytes)
	if err := json.NewDecoder(body).Decode(&ops); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", MaxSyncBodyBytes))
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	if errs := validation.ValidateSyncRequest(ops, h.limits); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Sync request exceeds limits", errs)
		return
	}

	behavior, err := BehaviorFromRequest(r)
	if err != nil {
		WriteProblemWithErrors(w, r, "Invalid sync behavior", []validation.ValidationError{{
			Field:   HeaderIndexingBehavior,
			Message: fmt.Sprintf("must be one of: %s, %s (or empty)", entsync.IndexingDisabled, entsync.IndexingQueued),
		}})
		return
	}

	ec := ExecContextFromRequest(r)
	result, err := h.syncer.Sync(r.Context(), ops, ec, behavior)
	if err != nil {
		slog.Warn("sync request failed",
			"component", "api",
			"action", "sync_failed",
			"operations", len(ops),
			"source", ec.Source.String(),
			"error", err,
		)
		MapSyncError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)

	slog.Info("sync request served",
		"component", "api",
		"action", "sync",
		"operations", len(ops),
		"source", ec.Source.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// SyncDelta handles GET /api/v1/sync/delta
func (h *Handler) SyncDelta(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	req, err := parseDeltaRequest(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.store.GetChangeLogAfter(ctx, req.After, req.Limit)
	if err != nil {
		slog.Error("delta query failed",
			"component", "api",
			"action", "sync_delta_failed",
			"after", req.After,
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to retrieve delta")
		return
	}

	latestSeq, err := h.store.GetLatestSequence(ctx)
	if err != nil {
		slog.Error("get latest sequence failed",
			"component", "api",
			"action", "sync_delta_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to retrieve delta")
		return
	}

	lastSeq := req.After
	if len(entries) > 0 {
		lastSeq = entries[len(entries)-1].Sequence
	}

	resp := entsync.DeltaResponse{
		Entries:        entries,
		LastSequence:   lastSeq,
		LatestSequence: latestSeq,
		HasMore:        lastSeq < latestSeq,
	}
	if resp.Entries == nil {
		resp.Entries = []entsync.ChangeLogEntry{}
	}

	writeJSON(w, http.StatusOK, resp)

	slog.Info("sync delta served",
		"component", "api",
		"action", "sync_delta",
		"after", req.After,
		"limit", req.Limit,
		"entries_returned", len(entries),
		"last_sequence", lastSeq,
		"latest_sequence", latestSeq,
		"has_more", resp.HasMore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// parseDeltaRequest extracts and validates query parameters for GET /sync/delta.
func parseDeltaRequest(r *http.Request) (entsync.DeltaRequest, error) {
	var req entsync.DeltaRequest

	afterStr := r.URL.Query().Get("after")
	if afterStr == "" {
		return req, fmt.Errorf("missing required query parameter: after")
	}
	after, err := strconv.ParseInt(afterStr, 10, 64)
	if err != nil {
		return req, fmt.Errorf("invalid after parameter: must be an integer")
	}
	if after < 0 {
		return req, fmt.Errorf("invalid after parameter: must be >= 0")
	}
	req.After = after

	req.Limit, err = intParam(r, "limit", entsync.DefaultDeltaLimit, 1, entsync.MaxDeltaLimit)
	if err != nil {
		return req, err
	}
	return req, nil
}
