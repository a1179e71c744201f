// Package cache keeps recently seen events in a hot layer in front of the
// SQLite event store. Events are immutable once signed, so entries never need
// invalidation; they only expire.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/config"
)

// Cache is a keyed event cache. Get reports a miss with a nil event and no error.
type Cache interface {
	Get(ctx context.Context, id string) (*nostr.Event, error)
	Set(ctx context.Context, event *nostr.Event) error
	Close() error
}

// New creates the cache engine selected by cfg. A disabled cache is a no-op.
func New(cfg *config.Caching) (Cache, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}

	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	switch cfg.Engine {
	case "memory":
		return NewMemory(ttl), nil
	case "redis":
		return NewRedis(cfg.RedisURL, ttl)
	default:
		return nil, fmt.Errorf("unsupported cache engine: %s", cfg.Engine)
	}
}

// Noop never stores anything
type Noop struct{}

func (Noop) Get(context.Context, string) (*nostr.Event, error) { return nil, nil }
func (Noop) Set(context.Context, *nostr.Event) error          { return nil }
func (Noop) Close() error                                     { return nil }
