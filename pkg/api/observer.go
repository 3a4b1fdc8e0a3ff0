package api

import (
	"context"

	"github.com/rs/zerolog"
)

// Observer receives callbacks from the run executor for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay item streaming.
type Observer interface {
	// OnRunStart is called once after the run's lock is acquired, before the
	// producer is started.
	OnRunStart(ctx context.Context, params RunParams)

	// OnItem is called after a content item has been appended to the run's
	// buffer. index is the 0-based position of the item in the buffer.
	OnItem(ctx context.Context, runID string, index int, item Item)

	// OnRunEnd is called exactly once with the terminal item that closed the
	// run, for all of completion, error and cancellation.
	OnRunEnd(ctx context.Context, runID string, terminal Item)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, params RunParams)           {}
func (NoopObserver) OnItem(ctx context.Context, runID string, idx int, it Item) {}
func (NoopObserver) OnRunEnd(ctx context.Context, runID string, terminal Item)  {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, params RunParams) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, params)
	}
}

func (c *CompositeObserver) OnItem(ctx context.Context, runID string, idx int, it Item) {
	for _, o := range c.observers {
		o.OnItem(ctx, runID, idx, it)
	}
}

func (c *CompositeObserver) OnRunEnd(ctx context.Context, runID string, terminal Item) {
	for _, o := range c.observers {
		o.OnRunEnd(ctx, runID, terminal)
	}
}

// LoggingObserver writes structured logs for run lifecycle events.
type LoggingObserver struct {
	Logger zerolog.Logger
}

// NewLoggingObserver creates an Observer that logs run lifecycle events with
// the provided logger. Per-item events are logged at debug level only.
func NewLoggingObserver(logger zerolog.Logger) Observer {
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, params RunParams) {
	o.Logger.Info().
		Str("run_id", params.RunID).
		Str("thread_id", params.ThreadID).
		Msg("run started")
}

func (o *LoggingObserver) OnItem(ctx context.Context, runID string, idx int, it Item) {
	o.Logger.Debug().
		Str("run_id", runID).
		Int("index", idx).
		Str("type", it.Type).
		Msg("item appended")
}

func (o *LoggingObserver) OnRunEnd(ctx context.Context, runID string, terminal Item) {
	ev := o.Logger.Info()
	if terminal.Type == KindError {
		ev = o.Logger.Error()
	}
	ev.Str("run_id", runID).
		Str("terminal", terminal.Type).
		Str("error", terminal.Error).
		Str("reason", terminal.Reason).
		Int("total_responses", terminal.TotalResponses).
		Int("responses_so_far", terminal.ResponsesSoFar).
		Msg("run ended")
}
