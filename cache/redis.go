package cache

import (
	"context"
	"encoding/json"
	"time"

	"url-redirector/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore is an implementation of URLCache shared by every instance
// that talks to the same Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore caches redirects in Redis for ttl (0 keeps them until
// they are deleted).
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "cache:redirect:", ttl: ttl}
}

func (r *RedisStore) Set(ctx context.Context, key string, value models.Redirect) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, data, r.ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (models.Redirect, error) {
	var result models.Redirect
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return result, err
	}
	err = json.Unmarshal(data, &result)
	return result, err
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Close is a no-op: the client is shared and closed by its owner.
func (r *RedisStore) Close() error {
	return nil
}
