package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/techtuber101/irisrun/internal/testutil"
	"github.com/techtuber101/irisrun/pkg/api"
)

type RedisQueueTestSuite struct {
	suite.Suite
	client *redis.Client
	queue  *RedisQueue
}

func TestRedisQueueTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration tests in short mode")
	}
	suite.Run(t, new(RedisQueueTestSuite))
}

func (s *RedisQueueTestSuite) SetupSuite() {
	addr := testutil.GetRedisAddress(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: addr})
}

func (s *RedisQueueTestSuite) SetupTest() {
	s.queue = NewRedisQueue(s.client, "irisrun:test:", zerolog.Nop())
	s.Require().NoError(s.client.Del(context.Background(), "irisrun:test:tasks").Err())
}

func (s *RedisQueueTestSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *RedisQueueTestSuite) TestEnqueueDequeue() {
	ctx := context.Background()

	task := Task{
		ID:         "t1",
		Type:       TaskTypeRun,
		Params:     api.RunParams{RunID: "r1", ThreadID: "th1"},
		EnqueuedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.queue.Enqueue(ctx, task))
	s.Equal(1, s.queue.Len())

	got, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)
	s.Equal("t1", got.ID)
	s.Equal("r1", got.Params.RunID)
	s.Equal(0, s.queue.Len())
}

func (s *RedisQueueTestSuite) TestFIFOOrder() {
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		s.Require().NoError(s.queue.Enqueue(ctx, Task{ID: id, Type: TaskTypeRun}))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := s.queue.Dequeue(ctx)
		s.Require().NoError(err)
		s.Equal(want, got.ID)
	}
}

func (s *RedisQueueTestSuite) TestDequeueBlocksUntilEnqueue() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		task *Task
		err  error
	}
	done := make(chan result, 1)
	go func() {
		task, err := s.queue.Dequeue(ctx)
		done <- result{task, err}
	}()

	time.Sleep(100 * time.Millisecond)
	s.Require().NoError(s.queue.Enqueue(ctx, Task{ID: "late", Type: TaskTypeRun}))

	select {
	case res := <-done:
		s.Require().NoError(res.err)
		s.Equal("late", res.task.ID)
	case <-time.After(5 * time.Second):
		s.FailNow("dequeue never returned")
	}
}

func (s *RedisQueueTestSuite) TestDequeueHonorsContextCancellation() {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := s.queue.Dequeue(ctx)
	require.Error(s.T(), err)
}
