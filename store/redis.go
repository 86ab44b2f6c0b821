package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"url-redirector/models"

	"github.com/redis/go-redis/v9"
)

// incrementScript adds to a counter field only when the redirect hash
// still exists, so a late flush never resurrects a deleted redirect.
var incrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HINCRBY", KEYS[1], ARGV[1], ARGV[2])
`)

// RedisStore keeps every redirect in its own hash and maintains a sorted
// set of keys for lexical paging.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "redirect"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) hashKey(key string) string { return s.prefix + ":" + key }
func (s *RedisStore) indexKey() string          { return s.prefix + ":index" }

func (s *RedisStore) Get(ctx context.Context, key string) (models.Redirect, error) {
	fields, err := s.client.HGetAll(ctx, s.hashKey(key)).Result()
	if err != nil {
		return models.Redirect{}, fmt.Errorf("get redirect %q: %w", key, err)
	}
	if len(fields) == 0 {
		return models.Redirect{}, ErrNotFound
	}
	return decodeRedirect(key, fields), nil
}

func (s *RedisStore) Put(ctx context.Context, key, url string) error {
	if key == "" {
		return ErrInvalidKey
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	hash := s.hashKey(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, hash, "created", now)
		pipe.HSetNX(ctx, hash, HitsField, 0)
		pipe.HSet(ctx, hash, "url", url, "updated", now)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put redirect %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.hashKey(key))
		pipe.ZRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete redirect %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, cursor string, limit int) (Page, error) {
	limit = pageSize(limit)

	from := "-"
	if cursor != "" {
		from = "(" + cursor
	}
	keys, err := s.client.ZRangeByLex(ctx, s.indexKey(), &redis.ZRangeBy{
		Min:   from,
		Max:   "+",
		Count: int64(limit + 1),
	}).Result()
	if err != nil {
		return Page{}, fmt.Errorf("list redirects: %w", err)
	}

	var page Page
	if len(keys) > limit {
		keys = keys[:limit]
		page.Next = keys[limit-1]
	}
	if len(keys) == 0 {
		return page, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	pipe := s.client.Pipeline()
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.hashKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Page{}, fmt.Errorf("list redirects: %w", err)
	}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		page.Redirects = append(page.Redirects, decodeRedirect(keys[i], fields))
	}
	return page, nil
}

func (s *RedisStore) Increment(ctx context.Context, key, field string, amount int64) error {
	if err := checkIncrement(key, field, amount); err != nil {
		return err
	}
	n, err := incrementScript.Run(ctx, s.client, []string{s.hashKey(key)}, field, amount).Int64()
	if err != nil {
		return fmt.Errorf("increment %s of %q: %w", field, key, err)
	}
	if n < 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func decodeRedirect(key string, fields map[string]string) models.Redirect {
	redirect := models.Redirect{Key: key, URL: fields["url"]}
	redirect.Hits, _ = strconv.ParseInt(fields[HitsField], 10, 64)
	redirect.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created"])
	redirect.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated"])
	return redirect
}
