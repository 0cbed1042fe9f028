package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/entsync/internal/plugin"
	"github.com/hyperengineering/entsync/internal/store"
	entsync "github.com/hyperengineering/entsync/internal/sync"
	"github.com/hyperengineering/entsync/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusUnauthorized:          {"https://entsync.dev/errors/unauthorized", "Unauthorized"},
	http.StatusBadRequest:            {"https://entsync.dev/errors/bad-request", "Bad Request"},
	http.StatusNotFound:              {"https://entsync.dev/errors/not-found", "Not Found"},
	http.StatusConflict:              {"https://entsync.dev/errors/constraint-violation", "Constraint Violation"},
	http.StatusRequestEntityTooLarge: {"https://entsync.dev/errors/payload-too-large", "Payload Too Large"},
	http.StatusUnprocessableEntity:   {"https://entsync.dev/errors/validation-error", "Validation Error"},
	http.StatusInternalServerError:   {"https://entsync.dev/errors/internal-error", "Internal Server Error"},
	http.StatusServiceUnavailable:    {"https://entsync.dev/errors/service-unavailable", "Service Unavailable"},
}

func lookupProblemType(status int) problemType {
	if pt, ok := problemTypes[status]; ok {
		return pt
	}
	return problemType{"https://entsync.dev/errors/unknown", http.StatusText(status)}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt := lookupProblemType(status)
	writeProblemBody(w, status, Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := problemTypes[http.StatusUnprocessableEntity]
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	})
}

// ProblemCommitted is the 500 body of a sync whose writes committed but
// whose event dispatch failed.
type ProblemCommitted struct {
	Problem
	Committed bool `json:"committed"`
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// MapSyncError converts sync and store errors to Problem Details responses.
// Internal causes are never exposed to the client.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error) {
	var opErrs entsync.OperationErrors
	var constraint *entsync.ConstraintError

	switch {
	case errors.As(err, &opErrs):
		WriteProblemWithErrors(w, r, "Sync request contains invalid operations; nothing was written",
			validation.FromOperationErrors(opErrs))
	case errors.Is(err, entsync.ErrInvalidOperation):
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &constraint):
		WriteProblem(w, r, http.StatusConflict,
			fmt.Sprintf("Constraint violation on %s %s; nothing was written", constraint.Entity, constraint.Key))
	case errors.Is(err, entsync.ErrConstraintViolation):
		WriteProblem(w, r, http.StatusConflict, "Constraint violation; nothing was written")
	case errors.Is(err, entsync.ErrConnectionUnavailable):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Primary database unavailable")
	case errors.Is(err, entsync.ErrDispatchFailed):
		pt := problemTypes[http.StatusInternalServerError]
		writeProblemBody(w, http.StatusInternalServerError, ProblemCommitted{
			Problem: Problem{
				Type:     "https://entsync.dev/errors/dispatch-failed",
				Title:    pt.title,
				Status:   http.StatusInternalServerError,
				Detail:   "Writes were committed but event dispatch failed",
				Instance: r.URL.Path,
			},
			Committed: true,
		})
	case errors.Is(err, plugin.ErrUnknownEntity):
		WriteProblem(w, r, http.StatusNotFound, "Unknown entity collection")
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	default:
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
