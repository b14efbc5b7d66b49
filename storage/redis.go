package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisProvider is an alternate StorageProvider backend, adapted from
// this codebase's orchestration/execution_store.go StorageProvider and its
// Redis-backed implementation (sorted-set index, plain-string
// records). Useful for deployments that need shared storage across
// multiple engine instances instead of a local filesystem.
type RedisProvider struct {
	client *redis.Client
	prefix string
}

// NewRedisProvider wraps an existing *redis.Client. keyPrefix namespaces
// every key this provider touches: records are stored as "{prefix}:{key}"
// and sorted-set indexes as "{prefix}:idx:{name}".
func NewRedisProvider(client *redis.Client, keyPrefix string) *RedisProvider {
	if keyPrefix == "" {
		keyPrefix = "engine"
	}
	return &RedisProvider{client: client, prefix: keyPrefix}
}

func (r *RedisProvider) key(k string) string {
	return fmt.Sprintf("%s:%s", r.prefix, k)
}

func (r *RedisProvider) indexKey(name string) string {
	return fmt.Sprintf("%s:idx:%s", r.prefix, name)
}

func (r *RedisProvider) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage(redis): get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisProvider) Set(ctx context.Context, key string, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("storage(redis): set %q: %w", key, err)
	}
	return nil
}

func (r *RedisProvider) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("storage(redis): del %q: %w", key, err)
	}
	return nil
}

func (r *RedisProvider) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("storage(redis): exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisProvider) AddToIndex(ctx context.Context, indexName, key string, score float64) error {
	if err := r.client.ZAdd(ctx, r.indexKey(indexName), &redis.Z{Score: score, Member: key}).Err(); err != nil {
		return fmt.Errorf("storage(redis): zadd %q: %w", indexName, err)
	}
	return nil
}

func (r *RedisProvider) ListByScoreDesc(ctx context.Context, indexName string, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := r.client.ZRevRange(ctx, r.indexKey(indexName), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("storage(redis): zrevrange %q: %w", indexName, err)
	}
	return members, nil
}

func (r *RedisProvider) RemoveFromIndex(ctx context.Context, indexName, key string) error {
	if err := r.client.ZRem(ctx, r.indexKey(indexName), key).Err(); err != nil {
		return fmt.Errorf("storage(redis): zrem %q: %w", indexName, err)
	}
	return nil
}

func (r *RedisProvider) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, r.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), r.prefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("storage(redis): scan %q: %w", prefix, err)
	}
	return out, nil
}
