package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/techtuber101/irisrun/internal/store"
)

type threadMeta struct {
	ThreadID string `json:"thread_id"`
	Model    string `json:"model"`
	Turns    int    `json:"turns"`
}

func newCache(t *testing.T) *Cache {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	want := threadMeta{ThreadID: "th1", Model: "gpt-4o", Turns: 3}
	require.NoError(t, c.Set(ctx, "thread:th1", want, 0))

	var got threadMeta
	ok, err := c.Get(ctx, "thread:th1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestGetMiss(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	var got threadMeta
	ok, err := c.Get(ctx, "absent", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Invalidate(ctx, "k"))

	var got string
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	var got string
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetRejectsMismatchedShape(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.Set(ctx, "k", "just a string", 0))

	var got threadMeta
	_, err := c.Get(ctx, "k", &got)
	require.Error(t, err)
}
