package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend stores entries in Redis. Pattern deletes use cursor-based
// SCAN rather than KEYS so a large keyspace never blocks the server.
type redisBackend struct {
	client *redis.Client
	cfg    config
}

var _ Backend = (*redisBackend)(nil)

// scanBatch is the COUNT hint passed to SCAN during pattern deletes.
const scanBatch = 100

// NewRedis returns a Backend backed by Redis.
// The caller owns the redis.Client lifecycle — Close is a no-op on the client.
func NewRedis(client *redis.Client, opts ...Option) Backend {
	return &redisBackend{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (b *redisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.cfg.queryTimeout)
}

func (b *redisBackend) prefixKey(key string) string {
	if b.cfg.prefix == "" {
		return key
	}
	return b.cfg.prefix + ":" + key
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	data, err := b.client.Get(qctx, b.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.cfg.defaultExpires
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	return b.client.Set(qctx, b.prefixKey(key), data, ttl).Err()
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	return b.client.Del(qctx, b.prefixKey(key)).Err()
}

func (b *redisBackend) DeletePattern(ctx context.Context, pattern string) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(qctx, cursor, b.prefixKey(pattern), scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := b.client.Del(qctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (b *redisBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = b.cfg.defaultExpires
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	return b.client.Expire(qctx, b.prefixKey(key), ttl).Result()
}

func (b *redisBackend) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	ttl, err := b.client.TTL(qctx, b.prefixKey(key)).Result()
	if err != nil {
		return 0, false, err
	}
	// -2 means the key does not exist, -1 means no expiry is set.
	if ttl < 0 {
		return 0, ttl == -1*time.Second, nil
	}
	return ttl, true, nil
}

func (b *redisBackend) Exists(ctx context.Context, key string) (bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	n, err := b.client.Exists(qctx, b.prefixKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *redisBackend) Clear(ctx context.Context) error {
	return b.DeletePattern(ctx, "*")
}

func (b *redisBackend) Ping(ctx context.Context) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	return b.client.Ping(qctx).Err()
}

// Close is a no-op — the caller owns the redis.Client lifecycle.
func (b *redisBackend) Close() error {
	return nil
}
