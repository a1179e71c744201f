// Package facade is the single gateway between the synchronizers and the
// outside world: the local SQLite event cache and the relay pool.
//
// The synchronizers only see the EventStore interface. Facade is the
// production implementation; facadetest provides an in-memory fake.
package facade

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// CacheQuery selects events from the local cache only
type CacheQuery struct {
	Kind     int
	Limit    int
	TagKey   string // optional single-letter tag to match
	TagValue string
}

// PastQuery requests historical events from the relays.
// With UseCache the results are persisted locally and merged with cached matches.
type PastQuery struct {
	Kind     int
	Since    *nostr.Timestamp
	Until    *nostr.Timestamp
	Limit    int
	UseCache bool
	TagKey   string
	Tags     []string
}

// LiveQuery opens a push subscription. Since defaults to now, so only new
// events are delivered.
type LiveQuery struct {
	Kind  int
	Limit int
	Since *nostr.Timestamp
}

// EventStore is everything the synchronizers, aggregator and publisher need
// from storage and the network.
type EventStore interface {
	// Connect opens the relay connections, which are shared by every caller.
	// Each non-nil onStateChange is registered and called on every later
	// transition between connected and disconnected.
	Connect(ctx context.Context, onStateChange func(connected bool)) error
	Connected() bool

	QueryCachedEvents(ctx context.Context, q CacheQuery) ([]*nostr.Event, error)
	RequestPastEvents(ctx context.Context, q PastQuery) ([]*nostr.Event, error)
	ListenToEvents(ctx context.Context, q LiveQuery) (*Subscription, error)

	// CacheEvent upserts an event into the local cache. Caching an event that
	// is already present succeeds without effect.
	CacheEvent(ctx context.Context, event *nostr.Event) error
	// GetCachedEvent returns nil, nil on a miss
	GetCachedEvent(ctx context.Context, id string) (*nostr.Event, error)

	PublishEvent(ctx context.Context, event *nostr.Event) error
	Disconnect(permanent bool)
}

// Subscription is a live event stream. Close stops it and may be called any
// number of times; the Events channel is closed once the producer stops.
type Subscription struct {
	events <-chan *nostr.Event
	stop   func()
	once   sync.Once
}

// NewSubscription wraps a producer channel and the function that stops it
func NewSubscription(events <-chan *nostr.Event, stop func()) *Subscription {
	return &Subscription{events: events, stop: stop}
}

func (s *Subscription) Events() <-chan *nostr.Event {
	return s.events
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Filter converts q into a relay filter
func (q PastQuery) Filter() nostr.Filter {
	filter := nostr.Filter{
		Kinds: []int{q.Kind},
		Since: q.Since,
		Until: q.Until,
		Limit: q.Limit,
	}
	if q.TagKey != "" && len(q.Tags) > 0 {
		filter.Tags = nostr.TagMap{q.TagKey: q.Tags}
	}
	return filter
}

// Filter converts q into a local store filter
func (q CacheQuery) Filter() nostr.Filter {
	filter := nostr.Filter{
		Kinds: []int{q.Kind},
		Limit: q.Limit,
	}
	if q.TagKey != "" {
		filter.Tags = nostr.TagMap{q.TagKey: []string{q.TagValue}}
	}
	return filter
}
