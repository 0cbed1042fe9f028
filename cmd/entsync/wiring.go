package main

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/entsync/internal/config"
	"github.com/hyperengineering/entsync/internal/event"
	"github.com/hyperengineering/entsync/internal/indexer"
	"github.com/hyperengineering/entsync/internal/store"
	"github.com/hyperengineering/entsync/internal/webhook"
)

// indexerListener is the dispatcher name of the indexer registry.
const indexerListener = "indexer"

// newLogger builds the process logger from the log config.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore opens the primary database and, when configured, the replica.
func openStore(cfg config.DatabaseConfig) (*store.SQLiteStore, error) {
	var opts []store.Option
	if cfg.ReplicaPath != "" {
		opts = append(opts, store.WithReplica(cfg.ReplicaPath))
	}
	return store.NewSQLiteStore(cfg.Path, opts...)
}

// newDispatcher subscribes the built-in listeners: the indexer registry
// first, then the webhook emitter when endpoints are configured.
func newDispatcher(s *store.SQLiteStore, hooks []config.WebhookConfig) (*event.Dispatcher, *indexer.Registry) {
	registry := indexer.NewRegistry(s, indexer.NewSearchIndexer(s))

	d := event.NewDispatcher()
	d.Subscribe(indexerListener, registry)

	if len(hooks) > 0 {
		endpoints := make([]webhook.Endpoint, len(hooks))
		for i, h := range hooks {
			endpoints[i] = webhook.Endpoint{
				Name:     h.Name,
				URL:      h.URL,
				Entities: h.Entities,
				Timeout:  time.Duration(h.Timeout),
			}
		}
		d.Subscribe(webhook.ListenerName, webhook.NewEmitter(endpoints, nil))
	}

	return d, registry
}
