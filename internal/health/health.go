// Package health implements the end-to-end worker probe: enqueue a trivial
// job, have a worker write a known key, and poll the store for it. One probe
// validates the whole queue -> worker pickup -> store write path.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/store"
	"github.com/techtuber101/irisrun/internal/taskqueue"
)

// Healthy is the value the worker writes under the probe key.
const Healthy = "healthy"

// Poll bounds. The prober crosses a process boundary, so it polls with
// backoff instead of waiting on an in-process wakeup.
const (
	pollBase    = 100 * time.Millisecond
	pollCeiling = time.Second
)

// Prober runs health checks against a queue and store.
type Prober struct {
	store store.Store
	queue taskqueue.Queue
	log   zerolog.Logger
}

// New creates a Prober.
func New(st store.Store, q taskqueue.Queue, log zerolog.Logger) *Prober {
	return &Prober{store: st, queue: q, log: log}
}

// Check enqueues a health-check task and waits up to timeout for some worker
// to write the probe key. It returns nil on a pass and a descriptive error
// on timeout or store failure.
func (p *Prober) Check(ctx context.Context, timeout time.Duration) error {
	token := uuid.NewString()
	task := taskqueue.Task{
		ID:          token,
		Type:        taskqueue.TaskTypeHealthCheck,
		HealthToken: token,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue health-check task: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	key := keys.Health(token)
	delay := pollBase
	for {
		val, ok, err := p.store.Get(ctx, key)
		if err != nil && ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("health probe read failed")
		}
		if ok && val == Healthy {
			_ = p.store.Del(context.WithoutCancel(ctx), key)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("health check timed out after %s: no worker picked up the probe task", timeout)
		case <-time.After(delay):
		}
		if delay *= 2; delay > pollCeiling {
			delay = pollCeiling
		}
	}
}
