package store

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a goroutine-safe, single-process Store backed by maps.
// TTLs are honored lazily on access; pub/sub is fan-out to subscriber
// channels with best-effort delivery (a full subscriber drops messages, the
// same contract as Redis pub/sub under backpressure).
type MemoryStore struct {
	mu     sync.Mutex
	kv     map[string]memoryValue
	lists  map[string]memoryList
	subs   map[*memorySubscription]struct{}
	closed bool
}

type memoryValue struct {
	value    string
	deadline time.Time
}

type memoryList struct {
	items    []string
	deadline time.Time
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.deadline.IsZero() && now.After(v.deadline)
}

func (l memoryList) expired(now time.Time) bool {
	return !l.deadline.IsZero() && now.After(l.deadline)
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:    make(map[string]memoryValue),
		lists: make(map[string]memoryList),
		subs:  make(map[*memorySubscription]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

func deadlineFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// purge drops expired entries for key. Callers hold mu.
func (s *MemoryStore) purge(key string) {
	now := time.Now()
	if v, ok := s.kv[key]; ok && v.expired(now) {
		delete(s.kv, key)
	}
	if l, ok := s.lists[key]; ok && l.expired(now) {
		delete(s.lists, key)
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	s.purge(key)
	v, ok := s.kv[key]
	if !ok {
		return "", false, nil
	}
	return v.value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.kv[key] = memoryValue{value: value, deadline: deadlineFor(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	s.purge(key)
	if _, ok := s.kv[key]; ok {
		return false, nil
	}
	s.kv[key] = memoryValue{value: value, deadline: deadlineFor(ttl)}
	return true, nil
}

func (s *MemoryStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.kv, key)
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	s.purge(key)
	v, ok := s.kv[key]
	if !ok || v.value != expect {
		return false, nil
	}
	delete(s.kv, key)
	return true, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.purge(key)
	if v, ok := s.kv[key]; ok {
		v.deadline = deadlineFor(ttl)
		s.kv[key] = v
	}
	if l, ok := s.lists[key]; ok {
		l.deadline = deadlineFor(ttl)
		s.lists[key] = l
	}
	return nil
}

func (s *MemoryStore) RPush(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.purge(key)
	l := s.lists[key]
	l.items = append(l.items, values...)
	s.lists[key] = l
	return nil
}

func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.purge(key)
	items := s.lists[key].items
	n := int64(len(items))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, items[start:stop+1])
	return out, nil
}

func (s *MemoryStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.purge(key)
	return int64(len(s.lists[key].items)), nil
}

func (s *MemoryStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	now := time.Now()
	var out []string
	for k, v := range s.kv {
		if v.expired(now) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	for k, l := range s.lists {
		if l.expired(now) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for sub := range s.subs {
		if !sub.wants(channel) {
			continue
		}
		select {
		case sub.out <- Message{Channel: channel, Payload: message}:
		default:
			// Slow subscriber; drop, as Redis pub/sub would.
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		store:    s,
		channels: make(map[string]struct{}, len(channels)),
		out:      make(chan Message, 64),
	}
	for _, c := range channels {
		sub.channels[c] = struct{}{}
	}
	s.subs[sub] = struct{}{}
	return sub, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.out)
		delete(s.subs, sub)
	}
	return nil
}

type memorySubscription struct {
	store    *MemoryStore
	channels map[string]struct{}
	out      chan Message

	closeOnce sync.Once
}

func (m *memorySubscription) wants(channel string) bool {
	_, ok := m.channels[channel]
	return ok
}

func (m *memorySubscription) Messages() <-chan Message { return m.out }

func (m *memorySubscription) Close() error {
	m.closeOnce.Do(func() {
		m.store.mu.Lock()
		if _, ok := m.store.subs[m]; ok {
			delete(m.store.subs, m)
			close(m.out)
		}
		m.store.mu.Unlock()
	})
	return nil
}
