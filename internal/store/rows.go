package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/entsync/internal/plugin"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// GetRow loads one row of entity by primary key. A scalar key without a
// field name is bound to the collection's single key column.
func (s *SQLiteStore) GetRow(ctx context.Context, entity string, key entsync.PrimaryKey) (map[string]any, error) {
	def, err := plugin.Lookup(entity)
	if err != nil {
		return nil, err
	}
	key, err = bindKey(def, key)
	if err != nil {
		return nil, err
	}

	where, args := keyClause(key)
	rows, err := s.reader(ctx).QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(def.Columns, ", "), def.TableName(), where),
		args...)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", entity, key, err)
	}
	defer rows.Close()

	out, err := scanRows(rows, def.Columns)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", entity, key, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %s: %w", entity, key, ErrNotFound)
	}
	return out[0], nil
}

// ListRows returns a page of entity rows ordered by primary key.
func (s *SQLiteStore) ListRows(ctx context.Context, entity string, limit, offset int) ([]map[string]any, error) {
	def, err := plugin.Lookup(entity)
	if err != nil {
		return nil, err
	}

	rows, err := s.reader(ctx).QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ? OFFSET ?",
			strings.Join(def.Columns, ", "), def.TableName(), strings.Join(def.PrimaryKey, ", ")),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entity, err)
	}
	defer rows.Close()

	out, err := scanRows(rows, def.Columns)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entity, err)
	}
	return out, nil
}

// bindKey fills in field names for a scalar key given without one and
// checks the key covers the collection's key columns.
func bindKey(def *plugin.EntityDefinition, key entsync.PrimaryKey) (entsync.PrimaryKey, error) {
	if len(key.Fields) == 0 && len(key.Values) == 1 && len(def.PrimaryKey) == 1 {
		return entsync.ScalarKey(def.PrimaryKey[0], key.Values[0]), nil
	}
	if len(key.Fields) != len(def.PrimaryKey) {
		return key, fmt.Errorf("%w: key %s does not match %s primary key (%s)",
			entsync.ErrInvalidOperation, key, def.Name, strings.Join(def.PrimaryKey, ", "))
	}
	m := key.Map()
	bound, missing := def.KeyFrom(m)
	if len(missing) > 0 {
		return key, fmt.Errorf("%w: key %s missing %s", entsync.ErrInvalidOperation, key, strings.Join(missing, ", "))
	}
	return bound, nil
}

// scanRows reads every row into a column-name map. Text comes back as
// string rather than []byte.
func scanRows(rows *sql.Rows, cols []string) ([]map[string]any, error) {
	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsNotFound reports whether err means a row or task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoIndexTask)
}
