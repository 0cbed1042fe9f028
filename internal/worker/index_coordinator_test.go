package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/entsync/internal/store"
)

// mockIndexQueue is an in-memory queue with the same claim semantics as
// SQLiteStore: pending tasks oldest first, failures stay pending until
// maxAttempts.
type mockIndexQueue struct {
	mu       sync.Mutex
	tasks    []store.IndexTask
	done     []int64
	failed   []int64
	claimErr error
	doneErr  error
}

func (q *mockIndexQueue) ClaimIndexTasks(ctx context.Context, limit int) ([]store.IndexTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if limit > len(q.tasks) {
		limit = len(q.tasks)
	}
	return append([]store.IndexTask{}, q.tasks[:limit]...), nil
}

func (q *mockIndexQueue) MarkIndexTaskDone(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.doneErr != nil {
		return q.doneErr
	}
	q.done = append(q.done, id)
	q.remove(id)
	return nil
}

func (q *mockIndexQueue) MarkIndexTaskFailed(ctx context.Context, id int64, cause error, maxAttempts int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].ID != id {
			continue
		}
		q.tasks[i].Attempts++
		q.tasks[i].LastError = cause.Error()
		if q.tasks[i].Attempts >= maxAttempts {
			q.failed = append(q.failed, id)
			q.remove(id)
			return true, nil
		}
		return false, nil
	}
	return false, store.ErrNoIndexTask
}

func (q *mockIndexQueue) remove(id int64) {
	for i := range q.tasks {
		if q.tasks[i].ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

func (q *mockIndexQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type mockRunner struct {
	mu    sync.Mutex
	runs  []int64
	errOn map[int64]error
}

func (r *mockRunner) RunTask(ctx context.Context, task store.IndexTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, task.ID)
	return r.errOn[task.ID]
}

func (r *mockRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newQueue(n int) *mockIndexQueue {
	q := &mockIndexQueue{}
	for i := 1; i <= n; i++ {
		q.tasks = append(q.tasks, store.IndexTask{ID: int64(i), Indexer: "search", Entity: "product", Kind: "written"})
	}
	return q
}

func TestIndexCoordinator_ProcessBatch_MarksDone(t *testing.T) {
	q := newQueue(3)
	r := &mockRunner{}
	c := NewIndexCoordinator(q, r, time.Hour, 10, 3)

	processed, succeeded := c.ProcessBatch(context.Background())

	assert.Equal(t, 3, processed)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, []int64{1, 2, 3}, q.done)
	assert.Equal(t, 0, q.pending())
}

func TestIndexCoordinator_ProcessBatch_RespectsBatchSize(t *testing.T) {
	q := newQueue(5)
	c := NewIndexCoordinator(q, &mockRunner{}, time.Hour, 2, 3)

	processed, _ := c.ProcessBatch(context.Background())

	assert.Equal(t, 2, processed)
	assert.Equal(t, 3, q.pending())
}

func TestIndexCoordinator_FailureRetriedUntilPermanent(t *testing.T) {
	q := newQueue(1)
	r := &mockRunner{errOn: map[int64]error{1: errors.New("search backend down")}}
	c := NewIndexCoordinator(q, r, time.Hour, 10, 2)

	_, succeeded := c.ProcessBatch(context.Background())
	assert.Equal(t, 0, succeeded)
	require.Equal(t, 1, q.pending())
	assert.Equal(t, "search backend down", q.tasks[0].LastError)

	c.ProcessBatch(context.Background())
	assert.Equal(t, 0, q.pending())
	assert.Equal(t, []int64{1}, q.failed)
	assert.Empty(t, q.done)
}

func TestIndexCoordinator_ClaimError(t *testing.T) {
	q := &mockIndexQueue{claimErr: errors.New("database is locked")}
	r := &mockRunner{}
	c := NewIndexCoordinator(q, r, time.Hour, 10, 3)

	processed, succeeded := c.ProcessBatch(context.Background())

	assert.Zero(t, processed)
	assert.Zero(t, succeeded)
	assert.Zero(t, r.runCount())
}

func TestIndexCoordinator_MarkDoneErrorCountsAsFailure(t *testing.T) {
	q := newQueue(1)
	q.doneErr = errors.New("disk I/O error")
	c := NewIndexCoordinator(q, &mockRunner{}, time.Hour, 10, 3)

	processed, succeeded := c.ProcessBatch(context.Background())

	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, succeeded)
}

func TestIndexCoordinator_DrainsFullBatches(t *testing.T) {
	q := newQueue(7)
	r := &mockRunner{}
	c := NewIndexCoordinator(q, r, time.Hour, 3, 3)

	c.drain(context.Background())

	assert.Equal(t, 0, q.pending())
	assert.Equal(t, 7, r.runCount())
}

func TestIndexCoordinator_DrainStopsOnFailure(t *testing.T) {
	q := newQueue(6)
	r := &mockRunner{errOn: map[int64]error{2: errors.New("boom")}}
	c := NewIndexCoordinator(q, r, time.Hour, 3, 5)

	c.drain(context.Background())

	// First batch had a failure, so the rest waits for the next tick.
	assert.Equal(t, 3, r.runCount())
	assert.Equal(t, 4, q.pending())
}

func TestIndexCoordinator_RunProcessesImmediatelyAndStops(t *testing.T) {
	q := newQueue(2)
	r := &mockRunner{}
	c := NewIndexCoordinator(q, r, time.Hour, 10, 3)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return q.pending() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop after cancel")
	}
}

func TestIndexCoordinator_RunPicksUpTasksOnTick(t *testing.T) {
	q := &mockIndexQueue{}
	r := &mockRunner{}
	c := NewIndexCoordinator(q, r, 10*time.Millisecond, 10, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	q.mu.Lock()
	q.tasks = append(q.tasks, store.IndexTask{ID: 42, Indexer: "search", Entity: "rule"})
	q.mu.Unlock()

	require.Eventually(t, func() bool { return r.runCount() == 1 }, time.Second, 5*time.Millisecond)
}
