// Package executor owns a run from lock acquisition to terminal cleanup. It
// drives the caller-supplied producer, writes items through the response
// buffer, watches the run's control channels, and guarantees that every run
// it owns ends with exactly one terminal item.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/control"
	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/lock"
	"github.com/techtuber101/irisrun/internal/registry"
	"github.com/techtuber101/irisrun/internal/stream"
	"github.com/techtuber101/irisrun/pkg/api"
)

const (
	defaultHeartbeat = time.Minute

	// drainTimeout bounds how long a cancelled producer gets to notice ctx
	// cancellation and return before the executor stops waiting for it.
	drainTimeout = 5 * time.Second
)

// Deps wires an Executor. Lock, Buffer, Control, Registry, Producer and
// Logger are required; the rest default sensibly.
type Deps struct {
	Lock     *lock.Lock
	Buffer   *stream.Buffer
	Control  *control.Control
	Registry *registry.Registry
	Producer api.Producer
	Observer api.Observer
	Logger   zerolog.Logger

	LockTTL           time.Duration
	Retention         time.Duration
	HeartbeatInterval time.Duration
}

// Executor runs agent jobs picked up from the task queue.
type Executor struct {
	deps Deps
}

// New creates an Executor.
func New(deps Deps) *Executor {
	if deps.Observer == nil {
		deps.Observer = api.NoopObserver{}
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = keys.LockTTL
	}
	if deps.Retention <= 0 {
		deps.Retention = keys.ResponseRetention
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = defaultHeartbeat
	}
	return &Executor{deps: deps}
}

// session is the per-run execution context; one run occupies one session.
type session struct {
	*Executor
	params api.RunParams
	runID  string
	state  api.State
	count  int
	log    zerolog.Logger
}

func (s *session) transition(to api.State) {
	s.log.Debug().Str("from", string(s.state)).Str("to", string(to)).Msg("run state transition")
	s.state = to
}

// Execute processes one run job to completion. It returns nil when the run
// completed, was cancelled, or was already owned by another instance;
// producer failures are returned so the queue layer can apply its own retry
// and failure accounting. A crash between RUNNING and TERMINATED leaves the
// lock to expire by TTL, which makes execution at-least-once rather than
// exactly-once; downstream effects are append-only, so a rerun is safe.
func (e *Executor) Execute(ctx context.Context, params api.RunParams) error {
	s := &session{
		Executor: e,
		params:   params,
		runID:    params.RunID,
		state:    api.StatePending,
		log: e.deps.Logger.With().
			Str("run_id", params.RunID).
			Str("instance_id", e.deps.Registry.InstanceID()).
			Logger(),
	}
	return s.run(ctx)
}

func (s *session) run(ctx context.Context) error {
	d := s.deps
	instanceID := d.Registry.InstanceID()

	s.transition(api.StateLockWait)
	acquired, err := d.Lock.Acquire(ctx, s.runID, instanceID, d.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		// Another owner has this run; not an error.
		s.transition(api.StateTerminated)
		return nil
	}

	// Cleanup must run even when ctx is already cancelled.
	cleanupCtx := context.WithoutCancel(ctx)
	defer s.teardown(cleanupCtx)

	if err := d.Registry.MarkActive(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to set instance-active key")
	}
	if err := d.Registry.TrackRun(ctx, s.runID); err != nil {
		s.log.Warn().Err(err).Msg("failed to set active-run key")
	}

	watcher, err := d.Control.Watch(ctx, s.runID, instanceID)
	if err != nil {
		// Running uncancellable is worse than failing the job; the queue
		// retries and the lock release below frees the run.
		return fmt.Errorf("run %s: %w", s.runID, err)
	}
	defer func() { _ = watcher.Close() }()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go d.Registry.KeepAlive(runCtx, d.HeartbeatInterval)

	items := make(chan api.Item)
	prodErr := make(chan error, 1)
	go func() { prodErr <- d.Producer.Produce(runCtx, s.params, items) }()

	s.transition(api.StateRunning)
	s.log.Info().Msg("starting agent run")
	d.Observer.OnRunStart(ctx, s.params)

	signals := watcher.Signals()
	for {
		select {
		case it := <-items:
			if err := d.Buffer.Append(ctx, s.runID, it); err != nil {
				cancelRun()
				s.awaitProducer(prodErr, items)
				return s.fail(cleanupCtx, fmt.Errorf("append item %d: %w", s.count, err))
			}
			s.count++
			d.Observer.OnItem(ctx, s.runID, s.count-1, it)

		case perr := <-prodErr:
			if perr != nil {
				return s.fail(cleanupCtx, perr)
			}
			return s.complete(cleanupCtx)

		case sig, ok := <-signals:
			if !ok {
				// Control subscription lost. The run keeps going; it just
				// cannot be cancelled remotely until the TTLs catch it.
				s.log.Warn().Msg("control channel subscription lost")
				signals = nil
				continue
			}
			cancelRun()
			s.awaitProducer(prodErr, items)
			reason := sig.Reason
			if reason == "" {
				reason = "stop requested"
			}
			return s.cancel(cleanupCtx, reason)

		case <-ctx.Done():
			cancelRun()
			s.awaitProducer(prodErr, items)
			if cerr := s.cancel(cleanupCtx, "worker context cancelled"); cerr != nil {
				return cerr
			}
			return ctx.Err()
		}
	}
}

// awaitProducer gives a cancelled producer a bounded window to return,
// discarding any items it emits on the way out. Items produced after a
// cancellation decision are never appended.
func (s *session) awaitProducer(prodErr <-chan error, items <-chan api.Item) {
	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-items:
		case <-prodErr:
			return
		case <-deadline.C:
			s.log.Warn().Msg("producer did not stop within drain timeout")
			return
		}
	}
}

func (s *session) complete(ctx context.Context) error {
	s.transition(api.StateCompleting)
	terminal := api.Completion(s.count)
	if err := s.deps.Buffer.MarkTerminal(ctx, s.runID, terminal); err != nil {
		return fmt.Errorf("write completion for %s: %w", s.runID, err)
	}
	s.log.Info().Int("total_responses", s.count).Msg("agent run completed")
	s.deps.Observer.OnRunEnd(ctx, s.runID, terminal)
	return nil
}

// fail records the producer error as the terminal item, notifies control
// channel listeners, and re-raises the error to the queue layer.
func (s *session) fail(ctx context.Context, cause error) error {
	s.transition(api.StateFailing)
	terminal := api.Failure(cause, s.count)
	if err := s.deps.Buffer.MarkTerminal(ctx, s.runID, terminal); err != nil {
		s.log.Error().Err(err).Msg("failed to write error terminal item")
	}
	if err := s.deps.Control.SignalError(ctx, s.runID, cause); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish error control signal")
	}
	s.log.Error().Err(cause).Int("responses_so_far", s.count).Msg("agent run failed")
	s.deps.Observer.OnRunEnd(ctx, s.runID, terminal)
	return cause
}

// cancel is the CANCELLING path: a stop signal ends the run cleanly, it is
// not a crash.
func (s *session) cancel(ctx context.Context, reason string) error {
	s.transition(api.StateCancelling)
	terminal := api.Cancelled(reason, s.count)
	if err := s.deps.Buffer.MarkTerminal(ctx, s.runID, terminal); err != nil {
		return fmt.Errorf("write cancellation for %s: %w", s.runID, err)
	}
	s.log.Info().Str("reason", reason).Int("responses_so_far", s.count).Msg("agent run cancelled")
	s.deps.Observer.OnRunEnd(ctx, s.runID, terminal)
	return nil
}

// teardown attempts every cleanup step regardless of earlier failures.
func (s *session) teardown(ctx context.Context) {
	d := s.deps
	instanceID := d.Registry.InstanceID()

	if err := d.Lock.Release(ctx, s.runID, instanceID); err != nil {
		s.log.Warn().Err(err).Msg("failed to release run lock")
	}
	if err := d.Buffer.ExpireAfter(ctx, s.runID, d.Retention); err != nil {
		s.log.Warn().Err(err).Msg("failed to set response buffer expiry")
	}
	if err := d.Registry.UntrackRun(ctx, s.runID); err != nil {
		s.log.Warn().Err(err).Msg("failed to delete active-run key")
	}
	s.transition(api.StateTerminated)
}
