package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	entsync "github.com/hyperengineering/entsync/internal/sync"
)

var (
	ErrNotFound    = errors.New("row not found")
	ErrNoIndexTask = errors.New("index task not found")
)

// sqliteCode returns the primary result code of a modernc sqlite error.
func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Code() & 0xff, true
}

// isConstraintError reports whether err is a SQLite constraint failure
// (unique, primary key, foreign key, not null, check).
func isConstraintError(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlite3.SQLITE_CONSTRAINT
}

// isConnectionError reports whether err means the database is unreachable.
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	switch code {
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

// classifyWriteError maps a driver error on one row to the sync error kinds.
func classifyWriteError(entity string, key entsync.PrimaryKey, err error) error {
	switch {
	case isConstraintError(err):
		return &entsync.ConstraintError{Entity: entity, Key: key.String(), Cause: err}
	case isConnectionError(err):
		return fmt.Errorf("%w: write %s %s: %v", entsync.ErrConnectionUnavailable, entity, key, err)
	default:
		return fmt.Errorf("write %s %s: %w", entity, key, err)
	}
}
