package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hyperengineering/entsync/internal/event"
	"github.com/hyperengineering/entsync/internal/execctx"
	"github.com/hyperengineering/entsync/internal/plugin"
	"github.com/hyperengineering/entsync/internal/plugin/catalog"
	"github.com/hyperengineering/entsync/internal/service"
	"github.com/hyperengineering/entsync/internal/store"
	entsync "github.com/hyperengineering/entsync/internal/sync"
	"github.com/hyperengineering/entsync/internal/validation"
)

const testAPIKey = "test-api-key"

// testEnv is a router over a real migrated store and sync service.
type testEnv struct {
	store  *store.SQLiteStore
	router http.Handler
	events []*event.Container
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	plugin.Reset()
	plugin.Register(catalog.New())
	t.Cleanup(plugin.Reset)

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "entsync.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	env := &testEnv{store: s}
	d := event.NewDispatcher()
	d.Subscribe("recorder", event.ListenerFunc(func(ctx context.Context, c *event.Container) error {
		env.events = append(env.events, c)
		return nil
	}))

	svc := service.NewSyncService(s, s, d)
	h := NewHandler(s, svc, validation.Limits{MaxOperations: 10, MaxPayloads: 100}, testAPIKey, "test")
	env.router = NewRouter(h)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// stubSyncer returns a fixed result or error and records its inputs.
type stubSyncer struct {
	result   *entsync.Result
	err      error
	ops      []entsync.Operation
	ec       *execctx.Context
	behavior entsync.Behavior
}

func (s *stubSyncer) Sync(ctx context.Context, ops []entsync.Operation, ec *execctx.Context, b entsync.Behavior) (*entsync.Result, error) {
	s.ops, s.ec, s.behavior = ops, ec, b
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &entsync.Result{}, nil
}

func newStubRouter(syncer Syncer, limits validation.Limits) http.Handler {
	return NewRouter(NewHandler(nil, syncer, limits, "", "test"))
}

func postSync(router http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/_action/sync", bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var limitsNone = validation.Limits{}
