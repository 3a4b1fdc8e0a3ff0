package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetNXCreatesOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ok, err := s.SetNX(ctx, "k", "a", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetNX(ctx, "k", "b", 0)
	require.NoError(t, err)
	require.False(t, ok, "second SetNX must not overwrite")

	val, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a", val)
}

func TestMemoryStore_SetNXConcurrentExactlyOne(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.SetNX(ctx, "race", "owner", time.Minute)
			if err == nil && ok {
				mu.Lock()
				winners = append(winners, n)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, winners, 1, "exactly one SetNX must win")
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k", "v", 20*time.Millisecond))
	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)

	time.Sleep(30 * time.Millisecond)
	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found, "expired key must be absent")

	// And SetNX must be able to re-create it.
	ok, err := s.SetNX(ctx, "k", "v2", 0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", "owner1", 0))

	deleted, err := s.CompareAndDelete(ctx, "k", "owner2")
	require.NoError(t, err)
	require.False(t, deleted, "mismatched value must not delete")

	deleted, err = s.CompareAndDelete(ctx, "k", "owner1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "k", "owner1")
	require.NoError(t, err)
	require.False(t, deleted, "missing key deletes nothing")
}

func TestMemoryStore_ListSemantics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	got, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Empty(t, got, "missing list reads empty")

	require.NoError(t, s.RPush(ctx, "l", "a", "b"))
	require.NoError(t, s.RPush(ctx, "l", "c"))

	got, err = s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, got)

	got, err = s.LRange(ctx, "l", 1, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, got)

	got, err = s.LRange(ctx, "l", -1, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, got)

	n, err := s.LLen(ctx, "l")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	got, err = s.LRange(ctx, "l", 5, 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMemoryStore_ScanKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "active-run:A:r1", "running", 0))
	require.NoError(t, s.Set(ctx, "active-run:B:r1", "running", 0))
	require.NoError(t, s.Set(ctx, "active-run:A:r2", "running", 0))
	require.NoError(t, s.Set(ctx, "other:A:r1", "x", 0))

	got, err := s.ScanKeys(ctx, "active-run:*:r1")
	require.NoError(t, err)
	require.Equal(t, []string{"active-run:A:r1", "active-run:B:r1"}, got)

	got, err = s.ScanKeys(ctx, "active-run:A:*")
	require.NoError(t, err)
	require.Equal(t, []string{"active-run:A:r1", "active-run:A:r2"}, got)
}

func TestMemoryStore_PubSub(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub, err := s.Subscribe(ctx, "chan-a")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, s.Publish(ctx, "chan-a", "hello"))
	require.NoError(t, s.Publish(ctx, "chan-b", "ignored"))

	select {
	case msg := <-sub.Messages():
		require.Equal(t, "chan-a", msg.Channel)
		require.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryStore_PublishWithoutSubscribersIsLost(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Publish(ctx, "chan-a", "dropped"))

	sub, err := s.Subscribe(ctx, "chan-a")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	select {
	case msg := <-sub.Messages():
		t.Fatalf("message published before subscribe must be lost, got %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryStore_CloseClosesSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub, err := s.Subscribe(ctx, "chan-a")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, open := <-sub.Messages()
	require.False(t, open, "subscription channel must close with the store")

	require.ErrorIs(t, s.Ping(ctx), ErrClosed)
	_, err = s.Subscribe(ctx, "chan-a")
	require.ErrorIs(t, err, ErrClosed)
}
