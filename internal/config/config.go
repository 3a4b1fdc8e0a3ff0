// Package config loads the process configuration from the environment, with
// optional .env support for local development.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/store"
)

// Config holds everything the process needs to talk to the store and run
// the coordination core. Zero values fall back to the documented defaults.
type Config struct {
	// RedisURL takes precedence over the individual fields when set.
	// rediss:// schemes enable TLS.
	RedisURL string

	RedisHost     string
	RedisPort     int
	RedisUsername string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	// OpTimeout is the per-operation store timeout.
	OpTimeout time.Duration

	// ConnectAttempts bounds startup connection retries.
	ConnectAttempts int

	LockTTL           time.Duration
	ResponseRetention time.Duration
	HeartbeatInterval time.Duration

	// QueuePrefix namespaces the task queue key.
	QueuePrefix string

	LogLevel string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisHost:         envOr("REDIS_HOST", "localhost"),
		RedisUsername:     os.Getenv("REDIS_USERNAME"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		OpTimeout:         store.DefaultOpTimeout,
		ConnectAttempts:   store.DefaultConnectAttempts,
		LockTTL:           keys.LockTTL,
		ResponseRetention: keys.ResponseRetention,
		HeartbeatInterval: time.Minute,
		QueuePrefix:       envOr("QUEUE_PREFIX", "irisrun:"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RedisPort, err = envInt("REDIS_PORT", 6379); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.ConnectAttempts, err = envInt("REDIS_INIT_MAX_RETRIES", cfg.ConnectAttempts); err != nil {
		return Config{}, err
	}
	if secs, err := envInt("REDIS_SOCKET_TIMEOUT", int(cfg.OpTimeout/time.Second)); err != nil {
		return Config{}, err
	} else if secs > 0 {
		cfg.OpTimeout = time.Duration(secs) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

// Validate rejects configurations that could only fail later and less
// clearly.
func (c Config) Validate() error {
	if c.RedisURL == "" && c.RedisHost == "" {
		return fmt.Errorf("either REDIS_URL or REDIS_HOST must be set")
	}
	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("REDIS_INIT_MAX_RETRIES must be positive, got %d", c.ConnectAttempts)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("REDIS_SOCKET_TIMEOUT must be positive, got %s", c.OpTimeout)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return nil
}

// StoreOptions resolves the Redis connection settings. Managed Redis hosts
// that require TLS (for example *.upstash.io) get rediss coerced even when
// the URL says redis://.
func (c Config) StoreOptions(log zerolog.Logger) (store.Options, error) {
	opts := store.Options{
		Addr:            fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort),
		Username:        c.RedisUsername,
		Password:        c.RedisPassword,
		DB:              c.RedisDB,
		UseTLS:          c.RedisTLS,
		OpTimeout:       c.OpTimeout,
		ConnectAttempts: c.ConnectAttempts,
		Logger:          log,
	}
	if c.RedisURL == "" {
		return opts, nil
	}

	u, err := url.Parse(c.RedisURL)
	if err != nil {
		return store.Options{}, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss":
	default:
		return store.Options{}, fmt.Errorf("invalid REDIS_URL scheme %q: want redis or rediss", u.Scheme)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "6379"
	}
	opts.Addr = host + ":" + port
	opts.Username = u.User.Username()
	opts.Password, _ = u.User.Password()
	opts.UseTLS = u.Scheme == "rediss" || strings.HasSuffix(host, ".upstash.io")

	opts.DB = 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		db, err := strconv.Atoi(p)
		if err != nil {
			return store.Options{}, fmt.Errorf("invalid REDIS_URL database %q: %w", p, err)
		}
		opts.DB = db
	}
	return opts, nil
}

// Logger builds the process logger at the configured level.
func (c Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
