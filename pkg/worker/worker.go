package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/executor"
	"github.com/techtuber101/irisrun/internal/health"
	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/store"
	"github.com/techtuber101/irisrun/internal/taskqueue"
	"github.com/techtuber101/irisrun/pkg/api"
)

// Worker pulls tasks from a Queue and executes them.
type Worker struct {
	executor *executor.Executor
	queue    taskqueue.Queue
	store    store.Store
	log      zerolog.Logger
}

// New creates a new Worker.
func New(exec *executor.Executor, queue taskqueue.Queue, st store.Store, log zerolog.Logger) *Worker {
	return &Worker{
		executor: exec,
		queue:    queue,
		store:    st,
		log:      log,
	}
}

// EnqueueRun enqueues a run job. It does NOT execute the run itself; that is
// done by whichever worker dequeues the task. The queue delivers at least
// once, so a task may reach several workers; the run lock makes the extras
// no-ops.
func (w *Worker) EnqueueRun(ctx context.Context, params api.RunParams) error {
	if params.RunID == "" {
		return errors.New("enqueue run: run id is required")
	}
	if strings.ContainsRune(params.RunID, ':') {
		return fmt.Errorf("enqueue run: run id %q must not contain colons", params.RunID)
	}
	t := taskqueue.Task{
		ID:         uuid.NewString(),
		Type:       taskqueue.TaskTypeRun,
		Params:     params,
		EnqueuedAt: time.Now().UTC(),
	}
	return w.queue.Enqueue(ctx, t)
}

// EnqueueHealthCheck enqueues the trivial probe job. The prober in
// internal/health polls for the key this task writes.
func (w *Worker) EnqueueHealthCheck(ctx context.Context, token string) error {
	t := taskqueue.Task{
		ID:          token,
		Type:        taskqueue.TaskTypeHealthCheck,
		HealthToken: token,
		EnqueuedAt:  time.Now().UTC(),
	}
	return w.queue.Enqueue(ctx, t)
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err != nil: nothing was dequeued (normally context
//     cancellation).
//   - processed == true: a task was processed; err indicates whether the
//     handler succeeded.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeRun:
		return true, w.executor.Execute(ctx, task.Params)

	case taskqueue.TaskTypeHealthCheck:
		if task.HealthToken == "" {
			return true, errors.New("health-check task without token")
		}
		return true, w.store.Set(ctx, keys.Health(task.HealthToken), health.Healthy, keys.HealthTTL)

	default:
		// Unknown task type; mark as processed but return an error so this
		// isn't silently ignored.
		return true, fmt.Errorf("unknown task type: %s", task.Type)
	}
}

// Retry bounds for a failing dequeue; same shape as the store connector's
// startup retry.
const (
	dequeueRetryBase    = 500 * time.Millisecond
	dequeueRetryCeiling = 8 * time.Second
)

// Run consumes the queue until ctx is cancelled. Task failures are logged
// and do not stop the loop; dequeue failures (queue unreachable) back off
// with doubling, capped delays instead of hot-spinning through the outage.
// The error return is always a context error.
func (w *Worker) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = dequeueRetryBase
	bo.Multiplier = 2
	bo.MaxInterval = dequeueRetryCeiling
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	for {
		processed, err := w.ProcessOne(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			w.log.Error().Err(err).Bool("processed", processed).Msg("task processing failed")
		}
		if !processed && err != nil {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		bo.Reset()
	}
}
