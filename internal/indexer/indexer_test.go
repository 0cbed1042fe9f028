package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/entsync/internal/event"
	"github.com/hyperengineering/entsync/internal/execctx"
	"github.com/hyperengineering/entsync/internal/store"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

type call struct {
	op     string
	entity string
	keys   []string
}

type fakeIndexer struct {
	name  string
	calls []call
	err   error
}

func (f *fakeIndexer) Name() string { return f.name }

func (f *fakeIndexer) Index(ctx context.Context, entity string, keys []entsync.PrimaryKey) error {
	f.calls = append(f.calls, call{"index", entity, keyStrings(keys)})
	return f.err
}

func (f *fakeIndexer) Remove(ctx context.Context, entity string, keys []entsync.PrimaryKey) error {
	f.calls = append(f.calls, call{"remove", entity, keyStrings(keys)})
	return f.err
}

type fakeQueue struct {
	tasks []store.IndexTask
}

func (q *fakeQueue) EnqueueIndexTasks(ctx context.Context, tasks []store.IndexTask) error {
	q.tasks = append(q.tasks, tasks...)
	return nil
}

func keyStrings(keys []entsync.PrimaryKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func stream(ec *execctx.Context) *event.Container {
	var written, deleted entsync.Grouped
	written.Add(entsync.WriteResult{Entity: "product", Key: entsync.ScalarKey("id", "P1")})
	written.Add(entsync.WriteResult{Entity: "product", Key: entsync.ScalarKey("id", "P2")})
	deleted.Add(entsync.WriteResult{Entity: "category", Key: entsync.ScalarKey("id", "C1")})

	c := event.NewContainer(ec, &written, event.KindWritten)
	c.Merge(event.NewContainer(ec, &deleted, event.KindDeleted))
	return c
}

func TestRegistry_RunsIndexersInline(t *testing.T) {
	search := &fakeIndexer{name: "search"}
	other := &fakeIndexer{name: "other"}
	r := NewRegistry(nil, search, other)

	require.NoError(t, r.Handle(context.Background(), stream(execctx.System())))

	want := []call{
		{"index", "product", []string{"P1", "P2"}},
		{"remove", "category", []string{"C1"}},
	}
	assert.Equal(t, want, search.calls)
	assert.Equal(t, want, other.calls)
	assert.Equal(t, []string{"search", "other"}, r.Names())
}

func TestRegistry_SkipsNamedIndexers(t *testing.T) {
	search := &fakeIndexer{name: "search"}
	other := &fakeIndexer{name: "other"}
	r := NewRegistry(nil, search, other)

	ec := execctx.System()
	ec.SetSkipIndexers([]string{"search"})
	require.NoError(t, r.Handle(context.Background(), stream(ec)))

	assert.Empty(t, search.calls)
	assert.Len(t, other.calls, 2)
}

func TestRegistry_DisableIndexing(t *testing.T) {
	search := &fakeIndexer{name: "search"}
	q := &fakeQueue{}
	r := NewRegistry(q, search)

	ec := execctx.System()
	ec.AddState(execctx.StateDisableIndexing)
	require.NoError(t, r.Handle(context.Background(), stream(ec)))

	assert.Empty(t, search.calls)
	assert.Empty(t, q.tasks)
}

func TestRegistry_QueueIndexing(t *testing.T) {
	search := &fakeIndexer{name: "search"}
	other := &fakeIndexer{name: "other"}
	q := &fakeQueue{}
	r := NewRegistry(q, search, other)

	ec := execctx.New(execctx.Source{Type: execctx.SourceAPI, ActorID: "a1"})
	ec.AddState(execctx.StateUseQueueIndexing)
	ec.SetSkipIndexers([]string{"other"})
	require.NoError(t, r.Handle(context.Background(), stream(ec)))

	assert.Empty(t, search.calls)
	require.Len(t, q.tasks, 2)
	assert.Equal(t, "search", q.tasks[0].Indexer)
	assert.Equal(t, "product", q.tasks[0].Entity)
	assert.Equal(t, "written", q.tasks[0].Kind)
	assert.Equal(t, []string{"P1", "P2"}, keyStrings(q.tasks[0].Keys))
	assert.Equal(t, "api:a1", q.tasks[0].SourceID)
	assert.Equal(t, "deleted", q.tasks[1].Kind)
}

func TestRegistry_QueueIndexingWithoutQueue(t *testing.T) {
	r := NewRegistry(nil, &fakeIndexer{name: "search"})
	ec := execctx.System()
	ec.AddState(execctx.StateUseQueueIndexing)

	assert.Error(t, r.Handle(context.Background(), stream(ec)))
}

func TestRegistry_IndexerErrorStops(t *testing.T) {
	boom := errors.New("boom")
	failing := &fakeIndexer{name: "search", err: boom}
	r := NewRegistry(nil, failing)

	err := r.Handle(context.Background(), stream(execctx.System()))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "indexer search written product")
	assert.Len(t, failing.calls, 1)
}

func TestRegistry_RunTask(t *testing.T) {
	search := &fakeIndexer{name: "search"}
	r := NewRegistry(nil, search)

	require.NoError(t, r.RunTask(context.Background(), store.IndexTask{
		Indexer: "search", Entity: "product", Kind: "deleted",
		Keys: []entsync.PrimaryKey{entsync.ScalarKey("id", "P9")},
	}))
	assert.Equal(t, []call{{"remove", "product", []string{"P9"}}}, search.calls)

	assert.Error(t, r.RunTask(context.Background(), store.IndexTask{Indexer: "missing"}))
	assert.Error(t, r.RunTask(context.Background(), store.IndexTask{Indexer: "search", Kind: "renamed"}))
}
