package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/entsync/internal/plugin"
	entsync "github.com/hyperengineering/entsync/internal/sync"
	"github.com/hyperengineering/entsync/internal/validation"
)

// execContext is satisfied by both *sql.DB and *sql.Tx.
type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// plannedOp is a validated operation ready to be applied.
type plannedOp struct {
	op   entsync.Operation
	def  *plugin.EntityDefinition
	rows []plannedRow
}

type plannedRow struct {
	payload map[string]any
	key     entsync.PrimaryKey

	// values holds the SQL parameter of every present column.
	values map[string]any
}

// Sync applies ops in request order inside one transaction on the primary.
// The whole batch is validated before the transaction begins; a failed row
// rolls back every operation of the call. Update and delete targets that do
// not exist are reported in NotFound and do not abort the call.
func (s *SQLiteStore) Sync(ctx context.Context, ops []entsync.Operation, wc *entsync.WriteContext) (*entsync.WriteResultSet, error) {
	if wc == nil {
		wc = entsync.NewWriteContext(nil)
	}

	plan, err := planOperations(ops)
	if err != nil {
		return nil, err
	}

	tx, err := s.primary.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %v", entsync.ErrConnectionUnavailable, err)
	}
	defer tx.Rollback()

	set := &entsync.WriteResultSet{}
	changes := make([]entsync.ChangeLogEntry, 0)
	sourceID := wc.Exec.Source.String()

	for _, p := range plan {
		for _, row := range p.rows {
			kind, found, err := applyRow(ctx, tx, p.def, p.op.Action, row)
			if err != nil {
				return nil, err
			}

			result := entsync.WriteResult{
				Entity:  p.def.Name,
				Key:     row.key,
				Payload: row.payload,
				Kind:    kind,
			}
			if !found {
				set.NotFound.Add(result)
				continue
			}

			entry := entsync.ChangeLogEntry{
				Entity:    p.def.Name,
				EntityKey: row.key.String(),
				Operation: kind,
				SourceID:  sourceID,
				CreatedAt: wc.Now,
			}
			if kind == entsync.WriteDelete {
				result.Payload = row.key.Map()
				set.Deleted.Add(result)
			} else {
				set.Written.Add(result)
			}
			if entry.Payload, err = json.Marshal(result.Payload); err != nil {
				return nil, fmt.Errorf("marshal change payload %s %s: %w", p.def.Name, row.key, err)
			}
			changes = append(changes, entry)
		}
	}

	if _, err := appendChangeLogTx(ctx, tx, changes); err != nil {
		return nil, err
	}
	if err := setSyncMetaTx(ctx, tx, entsync.SyncMetaLastSyncAt, wc.Now.Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isConnectionError(err) {
			return nil, fmt.Errorf("%w: commit: %v", entsync.ErrConnectionUnavailable, err)
		}
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.Debug("sync batch committed",
		"component", "store",
		"action", "sync",
		"operations", len(plan),
		"written", set.Written.Len(),
		"deleted", set.Deleted.Len(),
		"not_found", set.NotFound.Len(),
		"source", sourceID,
	)

	return set, nil
}

// planOperations validates every operation and payload of the batch and
// resolves primary keys. All failures are collected into one
// OperationErrors so callers see every problem at once.
func planOperations(ops []entsync.Operation) ([]plannedOp, error) {
	var errs []entsync.OperationError
	plan := make([]plannedOp, 0, len(ops))

	for i, op := range ops {
		label := op.Label(i)
		opErr := func(msg string) {
			errs = append(errs, entsync.OperationError{Index: i, Key: label, Entity: op.Entity, Payload: -1, Message: msg})
		}

		def, lookupErr := plugin.Lookup(op.Entity)
		if lookupErr != nil {
			opErr("unknown entity collection")
			continue
		}
		if !op.Action.Valid() {
			opErr(fmt.Sprintf("unknown action %q", op.Action))
			continue
		}
		if len(op.Payload) == 0 {
			opErr("payload must contain at least one record")
			continue
		}

		p := plannedOp{op: op, def: def, rows: make([]plannedRow, 0, len(op.Payload))}
		for j, raw := range op.Payload {
			row, rowErrs := planRow(def, op.Action, raw)
			for _, e := range rowErrs {
				errs = append(errs, entsync.OperationError{
					Index:   i,
					Key:     label,
					Entity:  def.Name,
					Payload: j,
					Field:   e.Field,
					Message: e.Message,
				})
			}
			if len(rowErrs) == 0 {
				p.rows = append(p.rows, row)
			}
		}
		plan = append(plan, p)
	}

	if len(errs) > 0 {
		return nil, entsync.OperationErrors{Errors: errs}
	}
	return plan, nil
}

// planRow copies one payload, fills a generated key for auto-id
// collections and validates it for the given action.
func planRow(def *plugin.EntityDefinition, action entsync.Action, raw map[string]any) (plannedRow, []validation.ValidationError) {
	c := &validation.Collector{}
	payload := maps.Clone(raw)
	if payload == nil {
		payload = map[string]any{}
	}

	fields := make([]string, 0, len(payload))
	for f := range payload {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if !def.HasColumn(f) {
			c.Add(&validation.ValidationError{Field: f, Message: "unknown field"})
		}
	}
	c.AddAll(validation.ValidatePayloadText(payload))

	if def.AutoID && !action.RequiresKey() {
		col := def.PrimaryKey[0]
		if v, ok := payload[col]; !ok || v == nil {
			payload[col] = ulid.Make().String()
		}
	}

	key, missing := def.KeyFrom(payload)
	for _, col := range missing {
		c.Add(&validation.ValidationError{Field: col, Message: "missing primary key field"})
	}
	for i, col := range key.Fields {
		if key.Values[i] != nil {
			c.Add(validation.ValidateKeyValue(col, key.Values[i]))
		}
	}

	switch action {
	case entsync.ActionDelete:
		// A delete only uses its key, which must still match the column types.
		if len(missing) == 0 {
			if err := def.ValidatePayload(key.Map()); err != nil {
				c.Add(&validation.ValidationError{Message: err.Error()})
			}
		}
	case entsync.ActionUpdate:
		if len(nonKeyColumns(def, payload)) == 0 {
			c.Add(&validation.ValidationError{Message: "update requires at least one non-key field"})
		}
		fallthrough
	default:
		if err := def.ValidatePayload(payload); err != nil {
			c.Add(&validation.ValidationError{Message: err.Error()})
		}
	}

	values := make(map[string]any, len(payload))
	for _, col := range presentColumns(def, payload) {
		v, err := mapValueToSQL(payload[col])
		if err != nil {
			c.Add(&validation.ValidationError{Field: col, Message: err.Error()})
			continue
		}
		values[col] = v
	}

	return plannedRow{payload: payload, key: key, values: values}, c.Errors()
}

// applyRow writes one row. found is false when an update or delete target
// does not exist.
func applyRow(ctx context.Context, execer execContext, def *plugin.EntityDefinition, action entsync.Action, row plannedRow) (kind entsync.WriteKind, found bool, err error) {
	switch action {
	case entsync.ActionCreate:
		err = insertRow(ctx, execer, def, row)
		return entsync.WriteInsert, err == nil, err

	case entsync.ActionUpsert:
		exists, err := rowExists(ctx, execer, def, row.key)
		if err != nil {
			return "", false, err
		}
		if !exists {
			return entsync.WriteInsert, true, insertRow(ctx, execer, def, row)
		}
		// An existing row only takes the columns present in the payload.
		if len(nonKeyColumns(def, row.payload)) > 0 {
			if _, err := updateRow(ctx, execer, def, row); err != nil {
				return "", false, err
			}
		}
		return entsync.WriteUpdate, true, nil

	case entsync.ActionUpdate:
		n, err := updateRow(ctx, execer, def, row)
		return entsync.WriteUpdate, n > 0, err

	case entsync.ActionDelete:
		n, err := deleteRow(ctx, execer, def, row.key)
		return entsync.WriteDelete, n > 0, err
	}
	return "", false, fmt.Errorf("%w: unknown action %q", entsync.ErrInvalidOperation, action)
}

// presentColumns returns the declared columns present in payload, in
// declaration order.
func presentColumns(def *plugin.EntityDefinition, payload map[string]any) []string {
	cols := make([]string, 0, len(payload))
	for _, col := range def.Columns {
		if _, ok := payload[col]; ok {
			cols = append(cols, col)
		}
	}
	return cols
}

func nonKeyColumns(def *plugin.EntityDefinition, payload map[string]any) []string {
	var cols []string
	for _, col := range presentColumns(def, payload) {
		if !def.IsKeyColumn(col) {
			cols = append(cols, col)
		}
	}
	return cols
}

// keyClause returns "a = ? AND b = ?" for the key columns with matching args.
func keyClause(key entsync.PrimaryKey) (string, []any) {
	conds := make([]string, len(key.Fields))
	args := make([]any, len(key.Fields))
	for i, f := range key.Fields {
		conds[i] = f + " = ?"
		args[i] = key.Values[i]
	}
	return strings.Join(conds, " AND "), args
}

func rowExists(ctx context.Context, execer execContext, def *plugin.EntityDefinition, key entsync.PrimaryKey) (bool, error) {
	where, args := keyClause(key)
	var one int
	err := execer.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE %s", def.TableName(), where), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classifyWriteError(def.Name, key, err)
	}
	return true, nil
}

func insertRow(ctx context.Context, execer execContext, def *plugin.EntityDefinition, row plannedRow) error {
	cols := presentColumns(def, row.payload)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = row.values[col]
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		def.TableName(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := execer.ExecContext(ctx, sqlStr, args...); err != nil {
		return classifyWriteError(def.Name, row.key, err)
	}
	return nil
}

func updateRow(ctx context.Context, execer execContext, def *plugin.EntityDefinition, row plannedRow) (int64, error) {
	cols := nonKeyColumns(def, row.payload)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(row.key.Fields))
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, row.values[col])
	}
	where, keyArgs := keyClause(row.key)
	args = append(args, keyArgs...)

	res, err := execer.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE %s", def.TableName(), strings.Join(sets, ", "), where), args...)
	if err != nil {
		return 0, classifyWriteError(def.Name, row.key, err)
	}
	return res.RowsAffected()
}

func deleteRow(ctx context.Context, execer execContext, def *plugin.EntityDefinition, key entsync.PrimaryKey) (int64, error) {
	where, args := keyClause(key)
	res, err := execer.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s", def.TableName(), where), args...)
	if err != nil {
		return 0, classifyWriteError(def.Name, key, err)
	}
	return res.RowsAffected()
}

// mapValueToSQL converts a payload value to a SQL parameter. Objects and
// arrays are stored as JSON text, booleans as 0/1. Non-finite numbers have
// no storable form and are rejected.
func mapValueToSQL(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("cannot be stored as JSON: %w", err)
		}
		return string(b), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, errors.New("must be a finite number")
		}
		return val, nil
	default:
		return v, nil
	}
}
