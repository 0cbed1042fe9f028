package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// bearerToken returns the token of an "Authorization: Bearer" header, or ""
// when the header is absent or uses another scheme. The scheme is matched
// case-sensitively.
func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthMiddleware rejects requests whose bearer token does not match apiKey
// with a 401 problem. An empty apiKey disables the check (dev mode).
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token != "" && subtle.ConstantTimeCompare([]byte(token), want) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			slog.Warn("auth failure",
				"component", "api",
				"action", "authenticate",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_ip", r.RemoteAddr,
				"source_id", r.Header.Get(HeaderSourceID),
			)
			WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid API key")
		})
	}
}

// LoggingMiddleware logs one line per request. Server errors log at warn.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "request",
			"component", "api",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// RecoveryMiddleware turns a panic into a 500 problem. The panic value and
// stack go to the log only. http.ErrAbortHandler is re-raised so the server
// can abort the connection.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			slog.Error("panic recovered",
				"component", "api",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		}()
		next.ServeHTTP(w, r)
	})
}
