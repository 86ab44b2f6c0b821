package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel every instance publishes to.
const DefaultChannel = "events"

// EventRedirectChanged is published after an admin upsert or delete.
const EventRedirectChanged = "redirect_changed"

type HandlerFunc func(data map[string]interface{})

type PubSub struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

func NewPubSub(client *redis.Client, logger *log.Logger) *PubSub {
	if logger == nil {
		logger = log.Default()
	}
	return &PubSub{client: client, channel: DefaultChannel, logger: logger}
}

type envelope struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// Subscribe calls handler for every event named event until ctx is done.
func (ps *PubSub) Subscribe(ctx context.Context, event string, handler HandlerFunc) {
	sub := ps.client.Subscribe(ctx, ps.channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := dispatch(msg.Payload, event, handler); err != nil {
					ps.logger.Printf("pubsub: decode error: %v", err)
				}
			}
		}
	}()
}

// Publish an event
func (ps *PubSub) Publish(ctx context.Context, event string, data map[string]interface{}) error {
	bytes, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	if err := ps.client.Publish(ctx, ps.channel, bytes).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

func dispatch(payload, event string, handler HandlerFunc) error {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return err
	}
	if env.Event != event || env.Data == nil {
		return nil
	}
	handler(env.Data)
	return nil
}
