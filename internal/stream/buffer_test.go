package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/store"
	"github.com/techtuber101/irisrun/pkg/api"
)

func newBuffer(t *testing.T) (*Buffer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	return New(st, zerolog.Nop()), st
}

func TestAppendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	b, _ := newBuffer(t)

	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", "Hi")))
	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", " there")))
	require.NoError(t, b.MarkTerminal(ctx, "r1", api.Completion(2)))

	items, err := b.ReadAll(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "Hi", items[0].Content)
	require.Equal(t, " there", items[1].Content)
	require.Equal(t, api.KindCompletion, items[2].Type)
	require.Equal(t, 2, items[2].TotalResponses)
	require.True(t, items[2].Terminal())
}

func TestNoAppendAfterTerminal(t *testing.T) {
	ctx := context.Background()
	b, _ := newBuffer(t)

	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", "x")))
	require.NoError(t, b.MarkTerminal(ctx, "r1", api.Failure(errors.New("boom"), 1)))

	require.ErrorIs(t, b.Append(ctx, "r1", api.NewItem("token", "late")), api.ErrRunTerminated)
	require.ErrorIs(t, b.MarkTerminal(ctx, "r1", api.Completion(1)), api.ErrRunTerminated)

	items, err := b.ReadAll(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, items, 2, "rejected appends must not land")
}

func TestMarkTerminalRejectsContentItems(t *testing.T) {
	ctx := context.Background()
	b, _ := newBuffer(t)
	require.Error(t, b.MarkTerminal(ctx, "r1", api.NewItem("token", "x")))
}

func TestAppendPublishesPing(t *testing.T) {
	ctx := context.Background()
	b, st := newBuffer(t)

	sub, err := st.Subscribe(ctx, keys.Responses("r1"))
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", "x")))

	select {
	case msg := <-sub.Messages():
		require.Equal(t, Ping, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no ping published on append")
	}
}

func TestReadFrom(t *testing.T) {
	ctx := context.Background()
	b, _ := newBuffer(t)

	for _, tok := range []string{"a", "b", "c"} {
		require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", tok)))
	}

	items, err := b.ReadFrom(ctx, "r1", 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "c", items[0].Content)

	n, err := b.Len(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestExpireAfterBoundsRetention(t *testing.T) {
	ctx := context.Background()
	b, _ := newBuffer(t)

	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", "x")))
	require.NoError(t, b.ExpireAfter(ctx, "r1", 20*time.Millisecond))

	items, err := b.ReadAll(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, items, 1, "buffer must stay readable inside the window")

	time.Sleep(30 * time.Millisecond)
	items, err = b.ReadAll(ctx, "r1")
	require.NoError(t, err)
	require.Empty(t, items, "buffer must be reclaimed after the window")
}

func TestFollowReplaysThenFollows(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, _ := newBuffer(t)

	// History exists before the follower subscribes.
	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", "a")))
	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", "b")))

	out, err := b.Follow(ctx, "r1", 0)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []api.Item
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for it := range out {
			mu.Lock()
			got = append(got, it)
			mu.Unlock()
		}
	}()

	// Give the follower a moment to replay, then produce the tail.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond, "replay must deliver history")

	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", "c")))
	require.NoError(t, b.MarkTerminal(ctx, "r1", api.Completion(3)))

	wg.Wait()
	require.Len(t, got, 4)
	for i, want := range []string{"a", "b", "c"} {
		require.Equal(t, want, got[i].Content)
	}
	require.True(t, got[3].Terminal(), "follow must end at the terminal item")
}

func TestFollowConvergesDespiteMissedPings(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, st := newBuffer(t)

	// Write items and the terminal directly, without any pings: a follower
	// must still converge because the list, not the channel, is the source
	// of truth.
	for _, tok := range []string{"a", "b"} {
		raw, err := sonic.MarshalString(api.NewItem("token", tok))
		require.NoError(t, err)
		require.NoError(t, st.RPush(ctx, keys.Responses("r1"), raw))
	}
	raw, err := sonic.MarshalString(api.Completion(2))
	require.NoError(t, err)
	require.NoError(t, st.RPush(ctx, keys.Responses("r1"), raw))

	out, err := b.Follow(ctx, "r1", 0)
	require.NoError(t, err)

	var got []api.Item
	for it := range out {
		got = append(got, it)
	}
	require.Len(t, got, 3)
	require.True(t, got[2].Terminal())
}

func TestFollowFromOffsetDoesNotDuplicate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, _ := newBuffer(t)

	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", "a")))
	require.NoError(t, b.Append(ctx, "r1", api.NewItem("token", "b")))
	require.NoError(t, b.MarkTerminal(ctx, "r1", api.Completion(2)))

	// A reconnecting reader resumes from its last consumed index.
	out, err := b.Follow(ctx, "r1", 2)
	require.NoError(t, err)

	var got []api.Item
	for it := range out {
		got = append(got, it)
	}
	require.Len(t, got, 1)
	require.True(t, got[0].Terminal())
}
