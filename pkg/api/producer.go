package api

import "context"

// Producer is the caller-supplied streaming computation driven by the
// executor once it owns a run's lock.
//
// Produce sends each output item on out in production order and returns when
// the stream is exhausted. A nil return means the run completed normally; a
// non-nil return is recorded as the run's terminal error. Produce must honor
// ctx cancellation between items: when a stop signal reaches the executor it
// cancels ctx and stops reading from out, so a producer that keeps sending
// after cancellation will block forever on an abandoned channel unless it
// also selects on ctx.Done().
//
// Produce must not close out; the executor owns the channel's lifecycle.
type Producer interface {
	Produce(ctx context.Context, params RunParams, out chan<- Item) error
}

// ProducerFunc adapts a plain function to the Producer interface.
type ProducerFunc func(ctx context.Context, params RunParams, out chan<- Item) error

func (f ProducerFunc) Produce(ctx context.Context, params RunParams, out chan<- Item) error {
	return f(ctx, params, out)
}
