package kvstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists key-value pairs in Redis. Prefix scans use SCAN with a
// MATCH pattern, so they are O(keyspace) but never block the server the way
// KEYS would.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by the given Redis endpoint.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewRedisStoreWithClient wraps an existing client, for tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	var out []KV
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// Deleted between SCAN and GET; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, KV{Key: key, Value: val})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity, for startup checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
