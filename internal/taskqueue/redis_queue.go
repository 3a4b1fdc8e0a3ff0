package taskqueue

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisQueue implements the Queue interface using Redis.
//
// It uses a single Redis list with key:
//
//	<prefix>tasks
//
// Values are JSON-encoded Task structs.
type RedisQueue struct {
	client *redis.Client
	key    string
	log    zerolog.Logger
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "irisrun:").
func NewRedisQueue(client *redis.Client, prefix string, log zerolog.Logger) *RedisQueue {
	if prefix == "" {
		prefix = "irisrun:"
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "tasks",
		log:    log,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a task onto the Redis list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	// BRPop returns [key, value]
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		// If ctx is cancelled, BRPop returns an error wrapping ctx.Err().
		return nil, err
	}
	if len(res) != 2 {
		// Unexpected shape; log and let the caller poll again.
		q.log.Warn().Strs("result", res).Msg("BRPOP returned unexpected result")
		return nil, nil
	}

	return DecodeTask([]byte(res[1]))
}

// Len returns the approximate number of tasks queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		q.log.Warn().Err(err).Msg("queue length check failed")
		return 0
	}
	return int(n)
}
