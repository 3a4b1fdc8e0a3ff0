package stream

import (
	"context"
	"time"

	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/pkg/api"
)

// followFallback bounds how long a follower waits without a ping before
// re-reading anyway. Pings are best-effort; the list is the ground truth.
const followFallback = 10 * time.Second

// Follow streams a run's items from the 0-based index from until the
// terminal item has been delivered or ctx is cancelled, using
// replay-then-follow: subscribe to the notify channel first, replay the
// existing tail of the list, then re-read from the last consumed index on
// every ping. Because every re-read starts at the follower's own offset,
// missed or coalesced pings never lose items and duplicate pings never
// duplicate them.
//
// The returned channel is closed after the terminal item, on ctx
// cancellation, or if the subscription is lost; a caller that still wants
// the rest of the run calls Follow again from its last consumed index.
func (b *Buffer) Follow(ctx context.Context, runID string, from int) (<-chan api.Item, error) {
	sub, err := b.store.Subscribe(ctx, keys.Responses(runID))
	if err != nil {
		return nil, err
	}

	out := make(chan api.Item)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		next := from
		timer := time.NewTimer(followFallback)
		defer timer.Stop()

		for {
			items, err := b.ReadFrom(ctx, runID, next)
			if err != nil {
				// The next wakeup retries from the same offset.
				b.log.Warn().Err(err).Str("run_id", runID).Int("from", next).
					Msg("follow re-read failed")
			}
			for _, it := range items {
				select {
				case out <- it:
				case <-ctx.Done():
					return
				}
				next++
				if it.Terminal() {
					return
				}
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(followFallback)

			select {
			case _, ok := <-sub.Messages():
				if !ok {
					return
				}
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
