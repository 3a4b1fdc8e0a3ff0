package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Connection policy defaults; original deployment values.
const (
	DefaultOpTimeout       = 5 * time.Second
	DefaultConnectAttempts = 5
	defaultConnectBase     = 500 * time.Millisecond
	defaultConnectCeiling  = 8 * time.Second
)

// Options configures the Redis store.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	UseTLS   bool

	// OpTimeout is applied to every store operation on top of the caller's
	// context. Zero means DefaultOpTimeout.
	OpTimeout time.Duration

	// ConnectAttempts bounds the startup ping retries. Zero means
	// DefaultConnectAttempts.
	ConnectAttempts int

	// ConnectBase and ConnectCeiling override the retry backoff bounds.
	// Only tests should need these.
	ConnectBase    time.Duration
	ConnectCeiling time.Duration

	Logger zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.OpTimeout <= 0 {
		o.OpTimeout = DefaultOpTimeout
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = DefaultConnectAttempts
	}
	if o.ConnectBase <= 0 {
		o.ConnectBase = defaultConnectBase
	}
	if o.ConnectCeiling <= 0 {
		o.ConnectCeiling = defaultConnectCeiling
	}
}

// RedisStore implements Store on a pooled go-redis client, with a dedicated
// publisher connection and per-subscription subscriber connections so that
// pub/sub traffic never shares a connection with request/response traffic.
type RedisStore struct {
	opts      Options
	client    *redis.Client
	publisher *redis.Client
	log       zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var _ Store = (*RedisStore)(nil)

// Connect builds the pooled client plus the dedicated publisher, then
// verifies connectivity with bounded exponential backoff (base 0.5s,
// doubling, capped at 8s). After exhausting the attempts it fails with an
// error naming the usual misconfigurations.
func Connect(ctx context.Context, opts Options) (*RedisStore, error) {
	opts.withDefaults()

	s := &RedisStore{
		opts:      opts,
		client:    newClient(opts),
		publisher: newClient(opts),
		log:       opts.Logger,
	}

	bo := connectBackOff(opts.ConnectBase, opts.ConnectCeiling)
	attempt := 0
	ping := func() error {
		attempt++
		pctx, cancel := context.WithTimeout(ctx, opts.OpTimeout)
		defer cancel()
		if err := s.client.Ping(pctx).Err(); err != nil {
			s.log.Warn().Err(err).Int("attempt", attempt).Int("max", opts.ConnectAttempts).
				Msg("redis ping failed")
			return err
		}
		return nil
	}

	err := backoff.Retry(ping, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(opts.ConnectAttempts-1)), ctx))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf(
			"unable to connect to redis at %q after %d attempts; check address, username/password and TLS settings: %w",
			opts.Addr, opts.ConnectAttempts, err)
	}

	s.log.Info().Str("addr", opts.Addr).Msg("redis connected")
	return s, nil
}

// connectBackOff returns the retry policy for startup pings. The zero
// randomization keeps the delay sequence strictly doubling up to the cap.
func connectBackOff(base, ceiling time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.MaxInterval = ceiling
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return bo
}

func newClient(opts Options) *redis.Client {
	ro := &redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.OpTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
		// The store layer owns retry policy; don't let the driver stack
		// its own retries underneath.
		MaxRetries: -1,
	}
	if opts.UseTLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(ro)
}

// Client exposes the pooled client for collaborators that need raw blocking
// commands (the BRPOP task queue). Pub/sub must not go through it.
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.OpTimeout)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Del(ctx, key).Err()
}

// compareAndDeleteLua deletes the key only while it still holds the expected
// value, so a stale owner cannot remove a lock it has already lost.
var compareAndDeleteLua = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return 0
end
if cur == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	res, err := compareAndDeleteLua.Run(ctx, s.client, []string{key}, expect).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.RPush(ctx, key, args...).Err()
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return vals, err
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

// Publish goes through the dedicated publisher connection so a slow pooled
// operation can never block a notification behind it.
func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.publisher.Publish(ctx, channel, message).Err()
}

// Subscribe opens a fresh subscriber connection per subscription; subscribed
// connections cannot serve normal commands, and they are cheap to open.
func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	sub := newClient(s.opts)
	s.mu.Unlock()

	ps := sub.Subscribe(context.WithoutCancel(ctx), channels...)

	// Confirm the subscription is established before returning, so callers
	// can rely on replay-then-follow not missing a window.
	rctx, cancel := s.op(ctx)
	defer cancel()
	if _, err := ps.Receive(rctx); err != nil {
		_ = ps.Close()
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	rs := &redisSubscription{ps: ps, conn: sub, out: make(chan Message, 64)}
	go rs.pump()
	return rs, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	conn *redis.Client
	out  chan Message

	closeOnce sync.Once
}

// pump forwards deliveries without ever blocking: a pump stuck in a send to
// a subscriber that stopped reading would outlive Close and leak its
// connection. Dropping is safe under the Subscription contract; messages are
// wakeup signals, not records.
func (r *redisSubscription) pump() {
	defer close(r.out)
	for msg := range r.ps.Channel() {
		select {
		case r.out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
		default:
		}
	}
}

func (r *redisSubscription) Messages() <-chan Message { return r.out }

func (r *redisSubscription) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.ps.Close()
		if cerr := r.conn.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.client.Close()
	if perr := s.publisher.Close(); err == nil {
		err = perr
	}
	return err
}
