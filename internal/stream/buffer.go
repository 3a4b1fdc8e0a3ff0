// Package stream implements the per-run ordered output log and its change
// notification channel. The list is the source of truth; the pub/sub ping
// carries no payload of record and only tells readers to re-read.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/store"
	"github.com/techtuber101/irisrun/pkg/api"
)

// Ping is the payload published on the notify channel. Its content is
// irrelevant; receipt means "re-read the buffer".
const Ping = "new"

// Buffer is the append-only response log for runs.
type Buffer struct {
	store store.Store
	log   zerolog.Logger
}

// New creates a Buffer on the given store.
func New(st store.Store, log zerolog.Logger) *Buffer {
	return &Buffer{store: st, log: log}
}

// Append serializes item, appends it to the run's list and publishes a ping,
// issuing the two store operations concurrently but awaiting both before
// returning, so a producer cannot pipeline unbounded writes. Appending after
// a terminal item fails with api.ErrRunTerminated.
func (b *Buffer) Append(ctx context.Context, runID string, item api.Item) error {
	if err := b.guardNotTerminated(ctx, runID); err != nil {
		return err
	}
	return b.push(ctx, runID, item)
}

// MarkTerminal appends the run's terminal item and publishes the final ping.
// item must be one of the reserved terminal kinds.
func (b *Buffer) MarkTerminal(ctx context.Context, runID string, item api.Item) error {
	if !item.Terminal() {
		return fmt.Errorf("mark terminal %s: %q is not a terminal kind", runID, item.Type)
	}
	if err := b.guardNotTerminated(ctx, runID); err != nil {
		return err
	}
	return b.push(ctx, runID, item)
}

func (b *Buffer) guardNotTerminated(ctx context.Context, runID string) error {
	last, err := b.store.LRange(ctx, keys.Responses(runID), -1, -1)
	if err != nil {
		return fmt.Errorf("read tail of %s: %w", runID, err)
	}
	if len(last) == 0 {
		return nil
	}
	var tail api.Item
	if err := sonic.UnmarshalString(last[0], &tail); err != nil {
		return fmt.Errorf("decode tail of %s: %w", runID, err)
	}
	if tail.Terminal() {
		return api.ErrRunTerminated
	}
	return nil
}

func (b *Buffer) push(ctx context.Context, runID string, item api.Item) error {
	data, err := sonic.MarshalString(item)
	if err != nil {
		return fmt.Errorf("encode item for %s: %w", runID, err)
	}

	name := keys.Responses(runID)
	errc := make(chan error, 2)
	go func() { errc <- b.store.RPush(ctx, name, data) }()
	go func() { errc <- b.store.Publish(ctx, name, Ping) }()
	return errors.Join(<-errc, <-errc)
}

// ReadAll returns the full ordered log for a run. A run with no buffer
// yields an empty slice.
func (b *Buffer) ReadAll(ctx context.Context, runID string) ([]api.Item, error) {
	return b.ReadFrom(ctx, runID, 0)
}

// ReadFrom returns the log starting at the 0-based index from.
func (b *Buffer) ReadFrom(ctx context.Context, runID string, from int) ([]api.Item, error) {
	raw, err := b.store.LRange(ctx, keys.Responses(runID), int64(from), -1)
	if err != nil {
		return nil, fmt.Errorf("read responses of %s: %w", runID, err)
	}
	items := make([]api.Item, 0, len(raw))
	for i, r := range raw {
		var it api.Item
		if err := sonic.UnmarshalString(r, &it); err != nil {
			return nil, fmt.Errorf("decode response %d of %s: %w", from+i, runID, err)
		}
		items = append(items, it)
	}
	return items, nil
}

// Len returns the number of items currently in the run's log.
func (b *Buffer) Len(ctx context.Context, runID string) (int, error) {
	n, err := b.store.LLen(ctx, keys.Responses(runID))
	return int(n), err
}

// ExpireAfter sets the retention window on a finished run's log. The buffer
// is not deleted immediately so a slow reader can still catch the tail.
func (b *Buffer) ExpireAfter(ctx context.Context, runID string, retention time.Duration) error {
	return b.store.Expire(ctx, keys.Responses(runID), retention)
}
