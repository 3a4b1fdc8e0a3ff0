package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/techtuber101/irisrun/internal/control"
	"github.com/techtuber101/irisrun/internal/executor"
	"github.com/techtuber101/irisrun/internal/health"
	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/lock"
	"github.com/techtuber101/irisrun/internal/registry"
	"github.com/techtuber101/irisrun/internal/store"
	"github.com/techtuber101/irisrun/internal/stream"
	"github.com/techtuber101/irisrun/internal/taskqueue"
	"github.com/techtuber101/irisrun/pkg/api"
)

func newWorker(t *testing.T, p api.Producer) (*Worker, *store.MemoryStore, *taskqueue.InMemoryQueue) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	log := zerolog.Nop()

	exec := executor.New(executor.Deps{
		Lock:     lock.New(st, log),
		Buffer:   stream.New(st, log),
		Control:  control.New(st, log),
		Registry: registry.NewWithID(st, "A", log),
		Producer: p,
		Logger:   log,
	})
	q := taskqueue.NewInMemoryQueue(16)
	return New(exec, q, st, log), st, q
}

func noopProducer() api.Producer {
	return api.ProducerFunc(func(ctx context.Context, params api.RunParams, out chan<- api.Item) error {
		return nil
	})
}

func TestEnqueueRunValidation(t *testing.T) {
	ctx := context.Background()
	w, _, q := newWorker(t, noopProducer())

	require.Error(t, w.EnqueueRun(ctx, api.RunParams{}))
	require.Error(t, w.EnqueueRun(ctx, api.RunParams{RunID: "has:colon"}))
	require.Equal(t, 0, q.Len())

	require.NoError(t, w.EnqueueRun(ctx, api.RunParams{RunID: "r1"}))
	require.Equal(t, 1, q.Len())
}

func TestProcessOneRunTask(t *testing.T) {
	ctx := context.Background()

	produced := make(chan string, 1)
	w, _, _ := newWorker(t, api.ProducerFunc(func(ctx context.Context, params api.RunParams, out chan<- api.Item) error {
		produced <- params.RunID
		return nil
	}))

	require.NoError(t, w.EnqueueRun(ctx, api.RunParams{RunID: "r1"}))

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, "r1", <-produced)
}

func TestProcessOneHealthTask(t *testing.T) {
	ctx := context.Background()
	w, st, _ := newWorker(t, noopProducer())

	require.NoError(t, w.EnqueueHealthCheck(ctx, "tok-1"))

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	val, ok, err := st.Get(ctx, keys.Health("tok-1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, health.Healthy, val)
}

func TestProcessOneRejectsHealthTaskWithoutToken(t *testing.T) {
	ctx := context.Background()
	w, _, q := newWorker(t, noopProducer())

	require.NoError(t, q.Enqueue(ctx, taskqueue.Task{ID: "x", Type: taskqueue.TaskTypeHealthCheck}))

	processed, err := w.ProcessOne(ctx)
	require.True(t, processed)
	require.Error(t, err)
}

func TestProcessOneUnknownTaskType(t *testing.T) {
	ctx := context.Background()
	w, _, q := newWorker(t, noopProducer())

	require.NoError(t, q.Enqueue(ctx, taskqueue.Task{ID: "x", Type: "mystery"}))

	processed, err := w.ProcessOne(ctx)
	require.True(t, processed)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown task type")
}

func TestProcessOneReturnsOnContextCancellation(t *testing.T) {
	w, _, _ := newWorker(t, noopProducer())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	processed, err := w.ProcessOne(ctx)
	require.False(t, processed)
	require.Error(t, err)
}

// downQueue fails every dequeue, as when the queue backend is unreachable.
type downQueue struct {
	mu    sync.Mutex
	calls int
}

func (q *downQueue) Enqueue(ctx context.Context, t taskqueue.Task) error {
	return errors.New("queue unreachable")
}

func (q *downQueue) Dequeue(ctx context.Context) (*taskqueue.Task, error) {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	return nil, errors.New("queue unreachable")
}

func (q *downQueue) Len() int { return 0 }

func (q *downQueue) dequeues() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func TestRunBacksOffWhenQueueUnavailable(t *testing.T) {
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	log := zerolog.Nop()

	exec := executor.New(executor.Deps{
		Lock:     lock.New(st, log),
		Buffer:   stream.New(st, log),
		Control:  control.New(st, log),
		Registry: registry.NewWithID(st, "A", log),
		Producer: noopProducer(),
		Logger:   log,
	})
	q := &downQueue{}
	w := New(exec, q, st, log)

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// With doubling delays from 500ms only a couple of attempts fit in the
	// window; a hot spin would make thousands.
	require.GreaterOrEqual(t, q.dequeues(), 1)
	require.LessOrEqual(t, q.dequeues(), 4, "dequeue retries must back off")
}

func TestRunLoopStopsOnContextCancellation(t *testing.T) {
	w, _, _ := newWorker(t, noopProducer())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker loop did not stop")
	}
}
