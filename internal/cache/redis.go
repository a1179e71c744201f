package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "strand:event:"

// Redis stores events as JSON under strand:event:<id>
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the server at url (redis://host:port/db)
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	if url == "" {
		return nil, fmt.Errorf("redis cache requires caching.redis_url")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Redis{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Ping checks that the server is reachable
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, id string) (*nostr.Event, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}

	var event nostr.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode cached event %s: %w", id, err)
	}
	return &event, nil
}

func (r *Redis) Set(ctx context.Context, event *nostr.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+event.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", event.ID, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
