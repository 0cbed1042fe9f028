package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/entsync/internal/execctx"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

func op(entity string, action entsync.Action, payload ...map[string]any) entsync.Operation {
	return entsync.Operation{Entity: entity, Action: action, Payload: payload}
}

func apiContext() *entsync.WriteContext {
	return entsync.NewWriteContext(execctx.New(execctx.Source{Type: execctx.SourceAPI, ActorID: "integration-1"}))
}

func keyStrings(results []entsync.WriteResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Key.String()
	}
	return out
}

func TestSync_UpsertInsertsThenUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ops := []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Chair", "price": 49.5}),
	}

	set, err := s.Sync(ctx, ops, apiContext())
	require.NoError(t, err)
	written := set.Written.Get("product")
	require.Len(t, written, 1)
	assert.Equal(t, entsync.WriteInsert, written[0].Kind)
	assert.Equal(t, "P1", written[0].Key.String())

	set, err = s.Sync(ctx, ops, apiContext())
	require.NoError(t, err)
	written = set.Written.Get("product")
	require.Len(t, written, 1)
	assert.Equal(t, entsync.WriteUpdate, written[0].Kind)

	rows, err := s.ListRows(ctx, "product", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Chair", rows[0]["name"])
	assert.Equal(t, 49.5, rows[0]["price"])
}

func TestSync_UpsertPartialPayloadKeepsOtherColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Chair", "description": "Oak"}),
	}, nil)
	require.NoError(t, err)

	_, err = s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Armchair"}),
	}, nil)
	require.NoError(t, err)

	row, err := s.GetRow(ctx, "product", entsync.ScalarKey("id", "P1"))
	require.NoError(t, err)
	assert.Equal(t, "Armchair", row["name"])
	assert.Equal(t, "Oak", row["description"])
}

func TestSync_UpsertExistingWithoutRequiredColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Chair"}),
	}, nil)
	require.NoError(t, err)

	set, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "price": 5.0}),
	}, nil)
	require.NoError(t, err)

	written := set.Written.Get("product")
	require.Len(t, written, 1)
	assert.Equal(t, "P1", written[0].Key.String())
	assert.Equal(t, entsync.WriteUpdate, written[0].Kind)

	row, err := s.GetRow(ctx, "product", entsync.ScalarKey("id", "P1"))
	require.NoError(t, err)
	assert.Equal(t, "Chair", row["name"])
	assert.Equal(t, 5.0, row["price"])
}

func TestSync_UpsertExistingKeyOnlyLeavesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Chair"}),
	}, nil)
	require.NoError(t, err)

	set, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1"}),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, keyStrings(set.Written.Get("product")))

	row, err := s.GetRow(ctx, "product", entsync.ScalarKey("id", "P1"))
	require.NoError(t, err)
	assert.Equal(t, "Chair", row["name"])
}

func TestSync_UpsertMissingWithoutRequiredColumnIsConstraintViolation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Sync(context.Background(), []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "price": 5.0}),
	}, nil)
	assert.ErrorIs(t, err, entsync.ErrConstraintViolation)
}

func TestSync_DeleteKeyMustMatchColumnType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionCreate, map[string]any{"id": "5", "name": "Five"}),
	}, nil)
	require.NoError(t, err)

	var ops []entsync.Operation
	require.NoError(t, json.Unmarshal([]byte(`[{"entity":"product","action":"delete","payload":[{"id":5}]}]`), &ops))

	_, err = s.Sync(ctx, ops, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, entsync.ErrInvalidOperation)

	var opErrs entsync.OperationErrors
	require.True(t, errors.As(err, &opErrs))
	require.Len(t, opErrs.Errors, 1)
	assert.Equal(t, 0, opErrs.Errors[0].Payload)

	_, err = s.GetRow(ctx, "product", entsync.ScalarKey("id", "5"))
	assert.NoError(t, err, "row must survive a rejected delete")
}

func TestSync_CompositeDeleteKeyMustMatchColumnType(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Sync(context.Background(), []entsync.Operation{
		op("product_category", entsync.ActionDelete, map[string]any{"product_id": 7.0, "category_id": "C1"}),
	}, nil)
	assert.ErrorIs(t, err, entsync.ErrInvalidOperation)
}

func TestSync_NonFiniteValuesAreInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, []entsync.Operation{
		op("rule", entsync.ActionCreate, map[string]any{
			"id":         "R1",
			"name":       "Weekend",
			"conditions": map[string]any{"threshold": math.NaN()},
		}),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, entsync.ErrInvalidOperation)

	var opErrs entsync.OperationErrors
	require.True(t, errors.As(err, &opErrs))
	fields := make([]string, len(opErrs.Errors))
	for i, e := range opErrs.Errors {
		fields[i] = e.Field
	}
	assert.Contains(t, fields, "conditions")

	rows, err := s.ListRows(ctx, "rule", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMapValueToSQL(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    any
		wantErr bool
	}{
		{"nil", nil, nil, false},
		{"true", true, 1, false},
		{"false", false, 0, false},
		{"number", 2.5, 2.5, false},
		{"string", "oak", "oak", false},
		{"object", map[string]any{"a": 1.0}, `{"a":1}`, false},
		{"array", []any{"x", 2.0}, `["x",2]`, false},
		{"nan", math.NaN(), nil, true},
		{"inf", math.Inf(1), nil, true},
		{"nested nan", []any{math.NaN()}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapValueToSQL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSync_CreateDuplicateIsConstraintViolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	create := []entsync.Operation{
		op("category", entsync.ActionCreate, map[string]any{"id": "C1", "name": "Chairs"}),
	}

	_, err := s.Sync(ctx, create, nil)
	require.NoError(t, err)

	_, err = s.Sync(ctx, create, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, entsync.ErrConstraintViolation)

	var ce *entsync.ConstraintError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "category", ce.Entity)
	assert.Equal(t, "C1", ce.Key)
}

func TestSync_UpdateAndDeleteMissingAreNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	set, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Chair"}),
		op("product", entsync.ActionUpdate, map[string]any{"id": "P9", "name": "Ghost"}),
		op("product", entsync.ActionDelete, map[string]any{"id": "P2"}),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"P1"}, keyStrings(set.Written.Get("product")))
	assert.Equal(t, []string{"P9", "P2"}, keyStrings(set.NotFound.Get("product")))
	assert.Zero(t, set.Deleted.Len())

	rows, err := s.ListRows(ctx, "product", 10, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "not-found rows must not abort the transaction")
}

func TestSync_DeleteExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Chair"}),
	}, nil)
	require.NoError(t, err)

	set, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionDelete, map[string]any{"id": "P1"}),
	}, nil)
	require.NoError(t, err)

	deleted := set.Deleted.Get("product")
	require.Len(t, deleted, 1)
	assert.Equal(t, entsync.WriteDelete, deleted[0].Kind)
	assert.Equal(t, map[string]any{"id": "P1"}, deleted[0].Payload)

	_, err = s.GetRow(ctx, "product", entsync.ScalarKey("id", "P1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSync_FailureRollsBackWholeCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, []entsync.Operation{
		op("category", entsync.ActionUpsert, map[string]any{"id": "C1", "name": "Chairs"}),
		op("product_category", entsync.ActionUpsert, map[string]any{"product_id": "missing", "category_id": "C1"}),
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Chair"}),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, entsync.ErrConstraintViolation)

	for _, entity := range []string{"category", "product", "product_category"} {
		rows, err := s.ListRows(ctx, entity, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, rows, "%s rows persisted after rollback", entity)
	}

	seq, err := s.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq, "change log must roll back with the data")
}

func TestSync_ValidationRejectsBatchBeforeWriting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, []entsync.Operation{
		op("widget", entsync.ActionUpsert, map[string]any{"id": "W1"}),
		op("product", entsync.Action("merge"), map[string]any{"id": "P1"}),
		{Key: "with-colour", Entity: "product", Action: entsync.ActionUpsert, Payload: []map[string]any{
			{"id": "P1", "name": "Chair"},
			{"id": "P2", "name": "Stool", "colour": "red"},
		}},
		op("product", entsync.ActionUpdate, map[string]any{"name": "No key"}),
		op("product", entsync.ActionUpsert, map[string]any{"id": "P3", "name": "Bench", "price": -1.0}),
		op("category", entsync.ActionUpsert, map[string]any{"id": "C1", "name": "Valid"}),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, entsync.ErrInvalidOperation)

	var opErrs entsync.OperationErrors
	require.True(t, errors.As(err, &opErrs))
	require.Len(t, opErrs.Errors, 5)

	assert.Equal(t, 0, opErrs.Errors[0].Index)
	assert.Equal(t, "unknown entity collection", opErrs.Errors[0].Message)
	assert.Equal(t, -1, opErrs.Errors[0].Payload)

	assert.Equal(t, 1, opErrs.Errors[1].Index)
	assert.Contains(t, opErrs.Errors[1].Message, "unknown action")

	assert.Equal(t, "with-colour", opErrs.Errors[2].Key)
	assert.Equal(t, 1, opErrs.Errors[2].Payload)
	assert.Equal(t, "colour", opErrs.Errors[2].Field)

	assert.Equal(t, 3, opErrs.Errors[3].Index)
	assert.Equal(t, "id", opErrs.Errors[3].Field)
	assert.Equal(t, "missing primary key field", opErrs.Errors[3].Message)

	assert.Equal(t, 4, opErrs.Errors[4].Index)

	for _, entity := range []string{"category", "product"} {
		rows, err := s.ListRows(ctx, entity, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, rows)
	}
}

func TestSync_UpdateWithOnlyKeyIsInvalid(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Sync(context.Background(), []entsync.Operation{
		op("product", entsync.ActionUpdate, map[string]any{"id": "P1"}),
	}, nil)
	assert.ErrorIs(t, err, entsync.ErrInvalidOperation)
	assert.Contains(t, err.Error(), "non-key field")
}

func TestSync_AutoIDGeneratesULID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payload := map[string]any{"name": "Tables"}

	set, err := s.Sync(ctx, []entsync.Operation{op("category", entsync.ActionCreate, payload)}, nil)
	require.NoError(t, err)

	written := set.Written.Get("category")
	require.Len(t, written, 1)
	id, ok := written[0].Key.Value().(string)
	require.True(t, ok)
	assert.Len(t, id, 26)
	assert.NotContains(t, payload, "id", "caller payload must not be mutated")

	_, err = s.GetRow(ctx, "category", entsync.PrimaryKey{Values: []any{id}})
	assert.NoError(t, err)
}

func TestSync_CompositeKeysAndRequestOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	set, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Chair", "active": true}),
		op("category", entsync.ActionUpsert, map[string]any{"id": "C1", "name": "Chairs"}),
		op("product_category", entsync.ActionUpsert, map[string]any{"product_id": "P1", "category_id": "C1", "position": 1}),
	}, nil)
	require.NoError(t, err)

	groups := set.Written.Groups()
	require.Len(t, groups, 3)
	assert.Equal(t, "product", groups[0].Entity)
	assert.Equal(t, "category", groups[1].Entity)
	assert.Equal(t, "product_category", groups[2].Entity)

	pc := groups[2].Results[0]
	assert.True(t, pc.Key.IsComposite())
	assert.Equal(t, "product_id=P1|category_id=C1", pc.Key.String())

	row, err := s.GetRow(ctx, "product_category",
		entsync.CompositeKey(map[string]any{"product_id": "P1", "category_id": "C1"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["position"])

	product, err := s.GetRow(ctx, "product", entsync.ScalarKey("id", "P1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), product["active"])
}

func TestSync_AppendsChangeLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, []entsync.Operation{
		op("product", entsync.ActionUpsert,
			map[string]any{"id": "P1", "name": "Chair"},
			map[string]any{"id": "P2", "name": "Stool"}),
		op("product", entsync.ActionDelete, map[string]any{"id": "P2"}, map[string]any{"id": "P3"}),
	}, apiContext())
	require.NoError(t, err)

	entries, err := s.GetChangeLogAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3, "not-found deletes are not logged")

	assert.Equal(t, entsync.WriteInsert, entries[0].Operation)
	assert.Equal(t, "P1", entries[0].EntityKey)
	assert.Equal(t, "api:integration-1", entries[0].SourceID)
	assert.Equal(t, entsync.WriteDelete, entries[2].Operation)
	assert.Equal(t, "P2", entries[2].EntityKey)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Payload, &payload))
	assert.Equal(t, "Chair", payload["name"])

	last, err := s.GetSyncMeta(ctx, entsync.SyncMetaLastSyncAt)
	require.NoError(t, err)
	assert.NotEmpty(t, last)
}

func TestSync_ClosedStoreIsConnectionUnavailable(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Sync(context.Background(), []entsync.Operation{
		op("product", entsync.ActionUpsert, map[string]any{"id": "P1", "name": "Chair"}),
	}, nil)
	assert.ErrorIs(t, err, entsync.ErrConnectionUnavailable)

	_, err = s.EnsurePrimary(context.Background())
	assert.ErrorIs(t, err, entsync.ErrConnectionUnavailable)
}
