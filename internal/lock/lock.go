// Package lock implements the exclusive per-run ownership token. The lock
// value is the owning instance id, which doubles as the fencing value:
// release only succeeds while the caller still owns the key.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/store"
)

// ErrNotOwner is returned by Release when the lock exists but is held by a
// different instance. A missing lock is not an error; release is idempotent.
var ErrNotOwner = errors.New("run lock held by another instance")

// Lock acquires and releases run ownership tokens.
type Lock struct {
	store store.Store
	log   zerolog.Logger
}

// New creates a Lock on the given store.
func New(st store.Store, log zerolog.Logger) *Lock {
	return &Lock{store: st, log: log}
}

// Acquire attempts to take ownership of runID for owner. It returns true iff
// this call created the lock key. false with a nil error means another
// instance owns the run; callers must treat that as "no work to do", not as
// a failure. A second conditional set is attempted before giving up, which
// cannot weaken exclusivity: both attempts are create-if-absent.
func (l *Lock) Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	key := keys.Lock(runID)
	ok, err := l.store.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if ok {
		return true, nil
	}
	ok, err = l.store.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		holder, _, _ := l.store.Get(ctx, key)
		l.log.Warn().Str("run_id", runID).Str("holder", holder).
			Msg("run already being processed by another instance")
	}
	return ok, nil
}

// Release removes the lock iff it is still held by owner.
func (l *Lock) Release(ctx context.Context, runID, owner string) error {
	key := keys.Lock(runID)
	deleted, err := l.store.CompareAndDelete(ctx, key, owner)
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if deleted {
		return nil
	}
	if _, held, err := l.store.Get(ctx, key); err == nil && held {
		return ErrNotOwner
	}
	// Already gone (TTL expiry or a prior release); nothing to do.
	return nil
}

// Owner returns the instance currently holding runID's lock, if any.
func (l *Lock) Owner(ctx context.Context, runID string) (string, bool, error) {
	return l.store.Get(ctx, keys.Lock(runID))
}
