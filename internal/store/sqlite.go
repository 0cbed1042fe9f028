package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// SQLiteStore is the SQLite-backed entity store. Writes always go to the
// primary database; reads go to the replica when one is configured, unless
// the context is pinned to the primary.
type SQLiteStore struct {
	primary *sql.DB
	replica *sql.DB
	path    string
}

// Option configures a SQLiteStore.
type Option func(*storeOptions)

type storeOptions struct {
	replicaPath string
}

// WithReplica opens replicaPath read-only and routes unpinned reads to it.
func WithReplica(replicaPath string) Option {
	return func(o *storeOptions) {
		o.replicaPath = replicaPath
	}
}

// primaryPragmas are applied to every pooled primary connection.
var primaryPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

var replicaPragmas = []string{
	"busy_timeout(5000)",
	"query_only(1)",
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It opens the primary with WAL mode and foreign keys, runs the base
// migrations and the migrations of every registered plugin.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	memory := dbPath == ":memory:"
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn(dbPath, primaryPragmas))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{primary: db, path: dbPath}

	if o.replicaPath != "" {
		if memory {
			db.Close()
			return nil, fmt.Errorf("replica requires a file-backed primary")
		}
		replica, err := sql.Open("sqlite", dsn(o.replicaPath, replicaPragmas))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open replica: %w", err)
		}
		s.replica = replica
	}

	return s, nil
}

// dsn appends modernc _pragma parameters to path.
func dsn(path string, pragmas []string) string {
	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	return path + "?" + strings.Join(params, "&")
}

// Close closes the primary and replica connections.
func (s *SQLiteStore) Close() error {
	var replicaErr error
	if s.replica != nil {
		replicaErr = s.replica.Close()
	}
	if err := s.primary.Close(); err != nil {
		return err
	}
	return replicaErr
}

// Path returns the primary database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

type primaryPinKey struct{}

// WithPrimary pins reads made with the returned context to the primary.
func WithPrimary(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryPinKey{}, true)
}

func pinnedToPrimary(ctx context.Context) bool {
	pinned, _ := ctx.Value(primaryPinKey{}).(bool)
	return pinned
}

// EnsurePrimary verifies the primary is reachable and returns a context
// pinned to it, so reads made later in the same call observe its writes.
func (s *SQLiteStore) EnsurePrimary(ctx context.Context) (context.Context, error) {
	if err := s.primary.PingContext(ctx); err != nil {
		return ctx, fmt.Errorf("%w: %v", entsync.ErrConnectionUnavailable, err)
	}
	return WithPrimary(ctx), nil
}

// reader returns the database unpinned reads should use.
func (s *SQLiteStore) reader(ctx context.Context) *sql.DB {
	if s.replica == nil || pinnedToPrimary(ctx) {
		return s.primary
	}
	return s.replica
}

// HasReplica reports whether a read replica is configured.
func (s *SQLiteStore) HasReplica() bool {
	return s.replica != nil
}
