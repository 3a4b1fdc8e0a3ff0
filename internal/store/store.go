// Package store provides the key/value + pub/sub store behind all run
// coordination. The Redis implementation is the production backend; the
// in-memory implementation backs unit tests and embedded single-process use.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store is closed")

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub subscription. Messages published while
// nobody is subscribed are lost; subscribers must treat the channel as a
// wakeup signal and re-read their source of truth.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription is closed or the underlying connection is lost.
	Messages() <-chan Message

	// Close terminates the subscription and releases its connection.
	Close() error
}

// Store is the typed operation surface over the shared store. All methods
// honor ctx and apply the store's per-operation timeout on top of it;
// callers must treat a timeout as a possible outcome of every call.
type Store interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Get returns the string value at key. ok is false if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes key with a TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX atomically creates key iff it does not exist. It returns true
	// iff this call created the key.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes key unconditionally. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// CompareAndDelete removes key iff its current value equals expect.
	// It returns true iff the key was deleted by this call.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)

	// Expire sets the TTL of an existing key. Missing keys are not an error.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// RPush appends values to the list at key, creating it if absent.
	RPush(ctx context.Context, key string, values ...string) error

	// LRange returns list elements in [start, stop], inclusive, with
	// Redis semantics (-1 == last element). Missing keys yield an empty
	// slice.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LLen returns the list length; 0 for missing keys.
	LLen(ctx context.Context, key string) (int64, error)

	// ScanKeys returns all keys matching a glob pattern. Intended for the
	// narrow active-run namespaces, not for bulk enumeration.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// Publish sends message on channel. Delivery is best-effort.
	Publish(ctx context.Context, channel, message string) error

	// Subscribe opens a dedicated subscription to the given channels.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// Close releases every connection held by the store.
	Close() error
}
