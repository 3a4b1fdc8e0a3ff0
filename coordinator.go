package irisrun

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/cache"
	"github.com/techtuber101/irisrun/internal/control"
	"github.com/techtuber101/irisrun/internal/health"
	"github.com/techtuber101/irisrun/internal/lock"
	"github.com/techtuber101/irisrun/internal/registry"
	"github.com/techtuber101/irisrun/internal/store"
	"github.com/techtuber101/irisrun/internal/stream"
	"github.com/techtuber101/irisrun/internal/taskqueue"
	"github.com/techtuber101/irisrun/pkg/api"
	"github.com/techtuber101/irisrun/pkg/worker"
)

// Coordinator is the process-wide execution context for the run
// coordination core. Construct one per process and pass it explicitly;
// there is no global state.
type Coordinator struct {
	store    store.Store
	queue    taskqueue.Queue
	lock     *lock.Lock
	buffer   *stream.Buffer
	control  *control.Control
	registry *registry.Registry
	worker   *worker.Worker
	prober   *health.Prober
	cache    *cache.Cache
	log      zerolog.Logger
}

// InstanceID returns this process's opaque instance identifier.
func (c *Coordinator) InstanceID() string { return c.registry.InstanceID() }

// Enqueue dispatches a run job to the worker pool. The queue delivers at
// least once; duplicate deliveries are de-duplicated by the run lock, not
// the queue.
func (c *Coordinator) Enqueue(ctx context.Context, params api.RunParams) error {
	return c.worker.EnqueueRun(ctx, params)
}

// Stop requests cancellation of a run wherever it is executing: it
// broadcasts on the run's global control channel and fans out to every
// instance-scoped channel discovered via active-run keys.
func (c *Coordinator) Stop(ctx context.Context, runID, reason string) error {
	return c.control.SignalStop(ctx, runID, reason)
}

// Owner reports which instance currently holds a run's lock, if any.
func (c *Coordinator) Owner(ctx context.Context, runID string) (string, bool, error) {
	return c.lock.Owner(ctx, runID)
}

// ReadAll returns a run's full ordered output log. A run id with neither a
// buffer nor a lock yields api.ErrRunNotFound.
func (c *Coordinator) ReadAll(ctx context.Context, runID string) ([]api.Item, error) {
	items, err := c.buffer.ReadAll(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		_, held, lerr := c.lock.Owner(ctx, runID)
		if lerr != nil {
			return nil, lerr
		}
		if !held {
			return nil, fmt.Errorf("read %s: %w", runID, api.ErrRunNotFound)
		}
	}
	return items, nil
}

// Follow streams a run's output from the given 0-based index until its
// terminal item, using replay-then-follow over the notification channel.
// Unlike ReadAll it does not require the run to exist yet: a client may
// follow a run it just enqueued before any worker has picked it up.
// See stream.Buffer.Follow for reconnection semantics.
func (c *Coordinator) Follow(ctx context.Context, runID string, from int) (<-chan api.Item, error) {
	return c.buffer.Follow(ctx, runID, from)
}

// RunWorker consumes the task queue until ctx is cancelled. Run it in as
// many goroutines or processes as desired.
func (c *Coordinator) RunWorker(ctx context.Context) error {
	return c.worker.Run(ctx)
}

// HealthCheck probes the full queue -> worker -> store path once, waiting
// up to timeout for a worker to answer.
func (c *Coordinator) HealthCheck(ctx context.Context, timeout time.Duration) error {
	return c.prober.Check(ctx, timeout)
}

// CacheGet reads a JSON cache entry into dest; ok is false on a miss.
func (c *Coordinator) CacheGet(ctx context.Context, key string, dest any) (bool, error) {
	return c.cache.Get(ctx, key, dest)
}

// CacheSet stores value as a JSON cache entry. ttl <= 0 uses the default.
func (c *Coordinator) CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.cache.Set(ctx, key, value, ttl)
}

// CacheInvalidate removes a cache entry.
func (c *Coordinator) CacheInvalidate(ctx context.Context, key string) error {
	return c.cache.Invalidate(ctx, key)
}

// Close performs the planned-shutdown sequence: stop every run this
// instance is executing, wait for their executors to write the cancellation
// terminal item and release the run locks, then release the store's
// connections. The wait is what makes the sequence safe: closing the store
// first would cut the executors off from the very keys their teardown must
// still write. Every step is attempted regardless of earlier failures.
func (c *Coordinator) Close(ctx context.Context) error {
	err := c.registry.Shutdown(ctx, func(ctx context.Context, runID, reason string) error {
		return c.control.SignalStop(ctx, runID, reason)
	})
	if cerr := c.store.Close(); err == nil {
		err = cerr
	}
	return err
}
