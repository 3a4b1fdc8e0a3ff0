package irisrun

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/cache"
	"github.com/techtuber101/irisrun/internal/config"
	"github.com/techtuber101/irisrun/internal/control"
	"github.com/techtuber101/irisrun/internal/executor"
	"github.com/techtuber101/irisrun/internal/health"
	"github.com/techtuber101/irisrun/internal/lock"
	"github.com/techtuber101/irisrun/internal/registry"
	"github.com/techtuber101/irisrun/internal/store"
	"github.com/techtuber101/irisrun/internal/stream"
	"github.com/techtuber101/irisrun/internal/taskqueue"
	"github.com/techtuber101/irisrun/pkg/api"
	"github.com/techtuber101/irisrun/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Item         = api.Item
	RunParams    = api.RunParams
	Producer     = api.Producer
	ProducerFunc = api.ProducerFunc
	Observer     = api.Observer
)

// Re-export terminal item kinds.
const (
	KindCompletion = api.KindCompletion
	KindError      = api.KindError
	KindCancelled  = api.KindCancelled
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export sentinel errors.
var (
	ErrRunTerminated = api.ErrRunTerminated
	ErrRunNotFound   = api.ErrRunNotFound
)

// Options configures a Coordinator. The zero value is usable with NewInMemory;
// Redis constructors additionally need connection settings.
type Options struct {
	// Logger for every component. nil means no logging.
	Logger *zerolog.Logger

	// Observer receives run lifecycle callbacks. nil means none.
	Observer api.Observer

	// InstanceID pins this process's instance identifier. Empty means a
	// generated short id.
	InstanceID string

	// QueuePrefix namespaces the shared task queue key. Empty means
	// "irisrun:".
	QueuePrefix string

	LockTTL           time.Duration
	ResponseRetention time.Duration
	HeartbeatInterval time.Duration
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// NewFromEnv builds a Redis-backed Coordinator from environment variables
// (REDIS_URL or REDIS_HOST/REDIS_PORT/..., see internal/config), honoring a
// local .env file.
func NewFromEnv(ctx context.Context, producer api.Producer) (*Coordinator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()
	storeOpts, err := cfg.StoreOptions(logger)
	if err != nil {
		return nil, err
	}
	return newRedis(ctx, producer, storeOpts, Options{
		Logger:            &logger,
		QueuePrefix:       cfg.QueuePrefix,
		LockTTL:           cfg.LockTTL,
		ResponseRetention: cfg.ResponseRetention,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
}

// NewRedis builds a Coordinator against the Redis endpoint addr. It blocks
// until connectivity is verified or the bounded startup retries are
// exhausted.
func NewRedis(ctx context.Context, producer api.Producer, addr, username, password string, opts Options) (*Coordinator, error) {
	storeOpts := store.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		Logger:   opts.logger(),
	}
	return newRedis(ctx, producer, storeOpts, opts)
}

func newRedis(ctx context.Context, producer api.Producer, storeOpts store.Options, opts Options) (*Coordinator, error) {
	st, err := store.Connect(ctx, storeOpts)
	if err != nil {
		return nil, err
	}
	queue := taskqueue.NewRedisQueue(st.Client(), opts.QueuePrefix, opts.logger())
	coord, err := assemble(st, queue, producer, opts)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return coord, nil
}

// NewInMemory builds a Coordinator on an in-process store and queue. It is
// intended for tests and single-process embedding; nothing is shared across
// processes.
func NewInMemory(producer api.Producer, opts Options) (*Coordinator, error) {
	return assemble(store.NewMemoryStore(), taskqueue.NewInMemoryQueue(0), producer, opts)
}

func assemble(st store.Store, queue taskqueue.Queue, producer api.Producer, opts Options) (*Coordinator, error) {
	logger := opts.logger()

	var reg *registry.Registry
	var err error
	if opts.InstanceID != "" {
		reg = registry.NewWithID(st, opts.InstanceID, logger)
	} else if reg, err = registry.New(st, logger); err != nil {
		return nil, err
	}

	lk := lock.New(st, logger)
	buf := stream.New(st, logger)
	ctl := control.New(st, logger)
	exec := executor.New(executor.Deps{
		Lock:              lk,
		Buffer:            buf,
		Control:           ctl,
		Registry:          reg,
		Producer:          producer,
		Observer:          opts.Observer,
		Logger:            logger,
		LockTTL:           opts.LockTTL,
		Retention:         opts.ResponseRetention,
		HeartbeatInterval: opts.HeartbeatInterval,
	})

	return &Coordinator{
		store:    st,
		queue:    queue,
		lock:     lk,
		buffer:   buf,
		control:  ctl,
		registry: reg,
		worker:   worker.New(exec, queue, st, logger),
		prober:   health.New(st, queue, logger),
		cache:    cache.New(st),
		log:      logger,
	}, nil
}
