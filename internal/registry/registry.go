// Package registry tracks which runs this worker instance is executing, so
// cancellation fan-out can find the owner and a planned shutdown can
// terminate its own runs deterministically instead of letting clients time
// out.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/store"
)

// StatusRunning is the value stored under the instance-active key while the
// instance is responsible for at least one run. The key is a best-effort
// liveness hint, not an authoritative record.
const StatusRunning = "running"

// instanceIDLength keeps ids short enough to read in key listings.
const instanceIDLength = 8

// StopFunc is invoked for each of the instance's active runs during
// shutdown; it is control.SignalStop in production wiring.
type StopFunc func(ctx context.Context, runID, reason string) error

// Registry is the per-process instance identity and its active-run ledger.
type Registry struct {
	store      store.Store
	instanceID string
	log        zerolog.Logger
}

// New creates a Registry with a freshly generated instance id.
func New(st store.Store, log zerolog.Logger) (*Registry, error) {
	id, err := gonanoid.New(instanceIDLength)
	if err != nil {
		return nil, fmt.Errorf("generate instance id: %w", err)
	}
	return NewWithID(st, id, log), nil
}

// NewWithID creates a Registry with a fixed instance id. Used by tests and
// by deployments that pin ids externally.
func NewWithID(st store.Store, instanceID string, log zerolog.Logger) *Registry {
	return &Registry{
		store:      st,
		instanceID: instanceID,
		log:        log.With().Str("instance_id", instanceID).Logger(),
	}
}

// InstanceID returns this process's opaque instance identifier.
func (r *Registry) InstanceID() string { return r.instanceID }

// MarkActive refreshes the instance liveness hint.
func (r *Registry) MarkActive(ctx context.Context) error {
	return r.store.Set(ctx, keys.InstanceActive(r.instanceID), StatusRunning, keys.InstanceActiveTTL)
}

// KeepAlive refreshes the liveness hint every interval until ctx is
// cancelled. Refresh failures are logged and retried on the next tick.
func (r *Registry) KeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.MarkActive(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn().Err(err).Msg("failed to refresh instance-active key")
			}
		}
	}
}

// TrackRun records the discovery key marking this instance as runID's
// executor. The key's TTL bounds how long a crashed instance stays
// discoverable.
func (r *Registry) TrackRun(ctx context.Context, runID string) error {
	return r.store.Set(ctx, keys.ActiveRun(r.instanceID, runID), StatusRunning, keys.ActiveRunTTL)
}

// UntrackRun removes the discovery key for runID.
func (r *Registry) UntrackRun(ctx context.Context, runID string) error {
	return r.store.Del(ctx, keys.ActiveRun(r.instanceID, runID))
}

// ActiveRuns returns the ids of runs this instance is currently marked as
// executing.
func (r *Registry) ActiveRuns(ctx context.Context) ([]string, error) {
	found, err := r.store.ScanKeys(ctx, keys.ActiveRunsByInstance(r.instanceID))
	if err != nil {
		return nil, fmt.Errorf("scan active runs of %s: %w", r.instanceID, err)
	}
	runs := make([]string, 0, len(found))
	for _, key := range found {
		_, runID, ok := keys.SplitActiveRun(key)
		if !ok {
			r.log.Warn().Str("key", key).Msg("malformed active-run key")
			continue
		}
		runs = append(runs, runID)
	}
	return runs, nil
}

// Drain bounds while waiting for this instance's runs to wind down during
// shutdown.
const (
	drainPollInterval = 100 * time.Millisecond
	drainTimeout      = 30 * time.Second
)

// Shutdown enumerates this instance's active runs, invokes stop for each with
// a planned-shutdown reason, then waits for the owning executors to finish
// their own teardown before clearing the instance's liveness key. The
// executors, not Shutdown, remove the active-run keys: a run that is still
// winding down must stay discoverable for cancel fan-out, and its
// disappearance is the signal that its terminal item and lock release have
// landed. Every step is attempted regardless of earlier failures.
func (r *Registry) Shutdown(ctx context.Context, stop StopFunc) error {
	runs, err := r.ActiveRuns(ctx)
	errs := []error{err}

	for _, runID := range runs {
		r.log.Info().Str("run_id", runID).Msg("stopping run for instance shutdown")
		if serr := stop(ctx, runID, "instance shutting down"); serr != nil {
			errs = append(errs, fmt.Errorf("stop run %s: %w", runID, serr))
		}
	}
	if len(runs) > 0 {
		if werr := r.awaitDrain(ctx); werr != nil {
			errs = append(errs, werr)
		}
	}

	if derr := r.store.Del(ctx, keys.InstanceActive(r.instanceID)); derr != nil {
		errs = append(errs, fmt.Errorf("delete instance-active key: %w", derr))
	}
	return errors.Join(errs...)
}

// awaitDrain polls until every active-run key of this instance is gone, ctx
// is cancelled, or the deadline passes.
func (r *Registry) awaitDrain(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, drainTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		runs, err := r.ActiveRuns(ctx)
		if err == nil && len(runs) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown: %d runs still winding down: %w", len(runs), ctx.Err())
		case <-ticker.C:
		}
	}
}
