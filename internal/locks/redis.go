package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// KEYS[1] = lock key, ARGV[1] = owner token.
// Deletes the key only while it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock shared by every instance pointed at the same
// Redis. A lease that outlives TTL expires on its own.
type RedisLocker struct {
	Client        *redis.Client
	Prefix        string
	TTL           time.Duration
	RetryInterval time.Duration
	Logger        zerolog.Logger
}

func (l *RedisLocker) key(key string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "assignment:lock:"
	}
	return prefix + key
}

func (l *RedisLocker) ttl() time.Duration {
	if l.TTL <= 0 {
		return 30 * time.Second
	}
	return l.TTL
}

func (l *RedisLocker) retryInterval() time.Duration {
	if l.RetryInterval <= 0 {
		return 50 * time.Millisecond
	}
	return l.RetryInterval
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.Client == nil {
		return nil, errors.New("redis client is nil")
	}
	k := l.key(key)
	token := uuid.NewString()
	for {
		ok, err := l.Client.SetNX(ctx, k, token, l.ttl()).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			return l.unlocker(k, token), nil
		}
		timer := time.NewTimer(l.retryInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	if l.Client == nil {
		return nil, false, errors.New("redis client is nil")
	}
	k := l.key(key)
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, k, token, l.ttl()).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", k, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l.unlocker(k, token), true, nil
}

func (l *RedisLocker) unlocker(k, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.Client, []string{k}, token).Err(); err != nil {
			l.Logger.Warn().Err(err).Str("key", k).Msg("release lock failed")
		}
	}
}
