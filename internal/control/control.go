// Package control delivers stop and error signals to the executor that
// currently owns a run. Signals travel over a global per-run channel plus
// instance-targeted channels discovered through the active-run keys, so a
// cancellation reaches the real owner even when the caller's view of
// ownership is stale.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/store"
)

// Signal types.
const (
	TypeStop  = "stop"
	TypeError = "error"
)

// Legacy bare payloads still honored on the wire.
const (
	rawStop  = "STOP"
	rawError = "ERROR"
)

// Signal is the structured payload carried on control channels.
type Signal struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Parse decodes a control payload. Bare STOP / ERROR strings and undecodable
// payloads are coerced to stop signals: any traffic on a run's control
// channel means the run must wind down.
func Parse(payload string) Signal {
	switch payload {
	case rawStop:
		return Signal{Type: TypeStop, Timestamp: time.Now().UTC()}
	case rawError:
		return Signal{Type: TypeError, Timestamp: time.Now().UTC()}
	}
	var sig Signal
	if err := sonic.UnmarshalString(payload, &sig); err != nil || sig.Type == "" {
		return Signal{Type: TypeStop, Reason: payload, Timestamp: time.Now().UTC()}
	}
	return sig
}

// Control publishes and watches run control channels.
type Control struct {
	store store.Store
	log   zerolog.Logger
}

// New creates a Control on the given store.
func New(st store.Store, log zerolog.Logger) *Control {
	return &Control{store: st, log: log}
}

func (c *Control) publish(ctx context.Context, channel string, sig Signal) error {
	payload, err := sonic.MarshalString(sig)
	if err != nil {
		return fmt.Errorf("encode control signal: %w", err)
	}
	return c.store.Publish(ctx, channel, payload)
}

// SignalStop broadcasts a stop signal for runID on the global control
// channel, then fans the same signal out to every instance-scoped channel
// found via the active-run discovery keys. Fan-out is best-effort: every
// target is attempted and the errors are joined.
func (c *Control) SignalStop(ctx context.Context, runID, reason string) error {
	sig := Signal{Type: TypeStop, Reason: reason, Timestamp: time.Now().UTC()}

	errs := []error{c.publish(ctx, keys.Control(runID), sig)}

	found, err := c.store.ScanKeys(ctx, keys.ActiveRunsByRun(runID))
	if err != nil {
		errs = append(errs, fmt.Errorf("scan active runs for %s: %w", runID, err))
	}
	for _, key := range found {
		instanceID, _, ok := keys.SplitActiveRun(key)
		if !ok {
			c.log.Warn().Str("key", key).Msg("malformed active-run key")
			continue
		}
		c.log.Debug().Str("run_id", runID).Str("instance_id", instanceID).
			Msg("fanning out stop signal")
		errs = append(errs, c.publish(ctx, keys.InstanceControl(runID, instanceID), sig))
	}
	return errors.Join(errs...)
}

// SignalError publishes an error signal on the run's global channel so
// listeners relaying the stream can fail fast.
func (c *Control) SignalError(ctx context.Context, runID string, cause error) error {
	sig := Signal{Type: TypeError, Timestamp: time.Now().UTC()}
	if cause != nil {
		sig.Reason = cause.Error()
	}
	return c.publish(ctx, keys.Control(runID), sig)
}

// Watcher delivers control signals for one run to its owning executor.
type Watcher struct {
	sub     store.Subscription
	signals chan Signal
}

// Watch subscribes to both the global and the instance-scoped control
// channel for runID and forwards decoded signals until closed. The executor
// holds the watcher for the whole RUNNING window.
func (c *Control) Watch(ctx context.Context, runID, instanceID string) (*Watcher, error) {
	sub, err := c.store.Subscribe(ctx, keys.Control(runID), keys.InstanceControl(runID, instanceID))
	if err != nil {
		return nil, fmt.Errorf("watch control of %s: %w", runID, err)
	}
	w := &Watcher{sub: sub, signals: make(chan Signal, 4)}
	go func() {
		defer close(w.signals)
		for msg := range sub.Messages() {
			select {
			case w.signals <- Parse(msg.Payload):
			default:
				// Executor only acts on the first signal; drop extras.
			}
		}
	}()
	return w, nil
}

// Signals returns the decoded signal channel. It is closed when the watcher
// is closed or the subscription is lost.
func (w *Watcher) Signals() <-chan Signal { return w.signals }

// Close tears down the subscription.
func (w *Watcher) Close() error { return w.sub.Close() }
