package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/david/bid-intel/internal/config"
	"github.com/david/bid-intel/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is the shared cache backend. Errors are logged and counted, never
// returned.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisClient parses a redis:// URL and applies the configured timeouts.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = orDefault(cfg.DialTimeout, 5*time.Second)
	opts.ReadTimeout = orDefault(cfg.ReadTimeout, 3*time.Second)
	opts.WriteTimeout = orDefault(cfg.WriteTimeout, 3*time.Second)
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	return redis.NewClient(opts), nil
}

func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, log: log.Named("cache")}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheLookups.WithLabelValues("miss").Inc()
			return nil, false
		}
		metrics.CacheLookups.WithLabelValues("error").Inc()
		r.log.Warn("cache get failed, continuing uncached", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.log.Warn("cache set failed, value dropped", zap.String("key", key), zap.Error(err))
	}
}

// Ping reports backend health for startup diagnostics.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// New picks the backend from configuration: redis when a URL is set and
// reachable, otherwise the in-process memory cache.
func New(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) Cache {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.URL == "" {
		return NewMemory()
	}
	client, err := NewRedisClient(cfg)
	if err != nil {
		log.Warn("redis disabled, using memory cache", zap.Error(err))
		return NewMemory()
	}
	r := NewRedis(client, log)
	if err := r.Ping(ctx); err != nil {
		log.Warn("redis not reachable at startup, calls will run uncached until it recovers", zap.Error(err))
	}
	return r
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
