package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"url-redirector/models"

	"github.com/allegro/bigcache"
)

// URLCache defines the interface for the redirect read-through cache.
// A Get error of any kind is treated as a miss by callers.
type URLCache interface {
	Set(ctx context.Context, key string, value models.Redirect) error
	Get(ctx context.Context, key string) (models.Redirect, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// BigCacheStore is an implementation of URLCache using BigCache.
type BigCacheStore struct {
	cache *bigcache.BigCache
}

// NewBigCacheStore initializes a new in-process cache whose entries live
// for lifeWindow.
func NewBigCacheStore(lifeWindow time.Duration) (*BigCacheStore, error) {
	config := bigcache.Config{
		Shards:           1024,
		LifeWindow:       lifeWindow,
		CleanWindow:      lifeWindow / 2,
		MaxEntrySize:     500,
		HardMaxCacheSize: 8192,
		Verbose:          false,
	}
	bc, err := bigcache.NewBigCache(config)
	if err != nil {
		return nil, err
	}
	return &BigCacheStore{cache: bc}, nil
}

func (b *BigCacheStore) Set(_ context.Context, key string, value models.Redirect) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.cache.Set(key, data)
}

func (b *BigCacheStore) Get(_ context.Context, key string) (models.Redirect, error) {
	data, err := b.cache.Get(key)
	if err != nil {
		return models.Redirect{}, err
	}
	var value models.Redirect
	if err := json.Unmarshal(data, &value); err != nil {
		return models.Redirect{}, err
	}
	return value, nil
}

// Delete removes key. BigCache only fails a delete for an absent entry,
// which is what the caller wanted anyway.
func (b *BigCacheStore) Delete(_ context.Context, key string) error {
	_ = b.cache.Delete(key)
	return nil
}

// Close is a no-op; the cache is released with the process.
func (b *BigCacheStore) Close() error {
	return nil
}

// Noop caches nothing; every Get is a miss.
type Noop struct{}

var errMiss = errors.New("cache disabled")

func (Noop) Set(context.Context, string, models.Redirect) error { return nil }
func (Noop) Get(context.Context, string) (models.Redirect, error) {
	return models.Redirect{}, errMiss
}
func (Noop) Delete(context.Context, string) error { return nil }
func (Noop) Close() error                         { return nil }
