package pubsub

import (
	"context"
	"log"
)

// Deleter is the part of a cache that invalidation needs.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// PublishRedirectChanged tells every instance that key changed.
func (ps *PubSub) PublishRedirectChanged(ctx context.Context, key string) error {
	return ps.Publish(ctx, EventRedirectChanged, map[string]interface{}{"key": key})
}

// InvalidateOnChange drops changed redirects from the local cache until
// ctx is done.
func InvalidateOnChange(ctx context.Context, ps *PubSub, cache Deleter) {
	ps.Subscribe(ctx, EventRedirectChanged, invalidator(ctx, cache, ps.logger))
}

func invalidator(ctx context.Context, cache Deleter, logger *log.Logger) HandlerFunc {
	return func(data map[string]interface{}) {
		key, ok := data["key"].(string)
		if !ok || key == "" {
			return
		}
		if err := cache.Delete(ctx, key); err != nil {
			logger.Printf("pubsub: failed to invalidate %q: %v", key, err)
		}
	}
}
