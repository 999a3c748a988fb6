package lock

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nhowze/overunder/internal/ports"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock key only if it still holds the caller's token,
// so an expired holder cannot release someone else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const defaultRetry = 25 * time.Millisecond

// RedisConfig holds connection parameters for the Redis locker.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	Prefix     string        // key namespace, default "overunder:lock:"
	Retry      time.Duration // poll interval while the key is held
}

// Redis implements ports.Locker with SETNX plus a TTL and a Lua conditional
// unlock. It lets several engine processes share one ledger.
type Redis struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	prefix   string
	retry    time.Duration
}

var (
	_ ports.Locker     = (*Redis)(nil)
	_ ports.NonceStore = (*Redis)(nil)
)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("lock.NewRedis: ping %s: %w", cfg.Addr, err)
	}
	return newRedis(rdb, cfg), nil
}

func newRedis(rdb *redis.Client, cfg RedisConfig) *Redis {
	r := &Redis{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		prefix:   cfg.Prefix,
		retry:    cfg.Retry,
	}
	if r.prefix == "" {
		r.prefix = "overunder:lock:"
	}
	if r.retry <= 0 {
		r.retry = defaultRetry
	}
	return r
}

// Acquire polls SETNX until the key is free or ctx is done. The returned
// unlock function is safe to call more than once.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := r.prefix + key

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock.Redis: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock.Redis: acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.unlockSc.Run(unlockCtx, r.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Remember records a request nonce with SETNX so every node sharing the
// server sees it. The key expires after ttl.
func (r *Redis) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.prefix+"nonce:"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock.Redis: remember %s: %w", key, err)
	}
	return ok, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
