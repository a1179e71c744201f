// Package facadetest provides an in-memory facade.EventStore for tests.
//
// The fake keeps two event sets: the local cache and what the relays hold.
// Past queries read the relay set, honour kind, since, until, tag and limit,
// and with UseCache persist results into the cache and merge cached matches,
// the same way the production facade does.
package facadetest

import (
	"context"
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/errs"
	"github.com/sandwichfarm/strand/internal/facade"
)

// Fake is an in-memory EventStore. Failure fields may be set at any time to
// inject errors into the matching operation.
type Fake struct {
	mu sync.Mutex

	cache  map[string]*nostr.Event
	remote map[string]*nostr.Event

	connected bool
	listeners []func(bool)
	subs      map[*liveSub]struct{}

	ConnectErr error
	CacheErr   error
	PastErr    error
	PublishErr error
	NoRelays   bool

	Published   []*nostr.Event
	PastQueries []facade.PastQuery
	CacheWrites int
}

var _ facade.EventStore = (*Fake)(nil)

type liveSub struct {
	kind int
	ch   chan *nostr.Event
	done chan struct{}
}

// New returns a disconnected fake with empty cache and relay sets
func New() *Fake {
	return &Fake{
		cache:  make(map[string]*nostr.Event),
		remote: make(map[string]*nostr.Event),
		subs:   make(map[*liveSub]struct{}),
	}
}

// AddCached seeds the local cache
func (f *Fake) AddCached(events ...*nostr.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		f.cache[ev.ID] = ev
	}
}

// AddRemote seeds the relay set
func (f *Fake) AddRemote(events ...*nostr.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		f.remote[ev.ID] = ev
	}
}

// Cached reports whether id is in the local cache
func (f *Fake) Cached(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.cache[id]
	return ok
}

// Emit delivers ev to every live subscription of its kind and adds it to
// the relay set. It blocks until each subscriber accepted the event or
// closed its subscription.
func (f *Fake) Emit(ev *nostr.Event) {
	f.mu.Lock()
	f.remote[ev.ID] = ev
	var targets []*liveSub
	for sub := range f.subs {
		if sub.kind == ev.Kind {
			targets = append(targets, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

// Subscribers returns the number of open live subscriptions of kind
func (f *Fake) Subscribers(kind int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for sub := range f.subs {
		if sub.kind == kind {
			n++
		}
	}
	return n
}

// Drop simulates losing every relay connection
func (f *Fake) Drop() {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	listeners := append([](func(bool))(nil), f.listeners...)
	f.mu.Unlock()

	if was {
		notify(listeners, false)
	}
}

func notify(listeners []func(bool), connected bool) {
	for _, cb := range listeners {
		cb(connected)
	}
}

func (f *Fake) Connect(_ context.Context, onStateChange func(bool)) error {
	f.mu.Lock()
	if onStateChange != nil {
		f.listeners = append(f.listeners, onStateChange)
	}
	listeners := append([](func(bool))(nil), f.listeners...)

	if f.NoRelays {
		f.mu.Unlock()
		return errs.ErrNoRelayConfig
	}
	if f.ConnectErr != nil {
		err := f.ConnectErr
		f.mu.Unlock()
		notify(listeners, false)
		return errs.Connection(err, "connect to relays")
	}
	was := f.connected
	f.connected = true
	f.mu.Unlock()

	if !was {
		notify(listeners, true)
	}
	return nil
}

func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) QueryCachedEvents(_ context.Context, q facade.CacheQuery) ([]*nostr.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CacheErr != nil {
		return nil, errs.Cache(f.CacheErr, "query cached events")
	}
	return selectEvents(f.cache, q.Filter()), nil
}

func (f *Fake) RequestPastEvents(_ context.Context, q facade.PastQuery) ([]*nostr.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.PastQueries = append(f.PastQueries, q)

	if !f.connected {
		return nil, errs.Connection(errs.ErrNotConnected, "request past events")
	}
	if f.PastErr != nil {
		return nil, errs.Connection(f.PastErr, "request past events")
	}

	filter := q.Filter()
	fetched := selectEvents(f.remote, filter)
	if !q.UseCache {
		return fetched, nil
	}

	for _, ev := range fetched {
		f.cache[ev.ID] = ev
	}
	return selectEvents(f.cache, filter), nil
}

func (f *Fake) ListenToEvents(ctx context.Context, q facade.LiveQuery) (*facade.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return nil, errs.Connection(errs.ErrNotConnected, "listen for events")
	}

	sub := &liveSub{
		kind: q.Kind,
		ch:   make(chan *nostr.Event),
		done: make(chan struct{}),
	}
	f.subs[sub] = struct{}{}

	out := make(chan *nostr.Event)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer func() {
			f.mu.Lock()
			delete(f.subs, sub)
			f.mu.Unlock()
			close(sub.done)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub.ch:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return facade.NewSubscription(out, cancel), nil
}

func (f *Fake) CacheEvent(_ context.Context, ev *nostr.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CacheErr != nil {
		return errs.Cache(f.CacheErr, "cache event %s", ev.ID)
	}
	f.cache[ev.ID] = ev
	f.CacheWrites++
	return nil
}

func (f *Fake) GetCachedEvent(_ context.Context, id string) (*nostr.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CacheErr != nil {
		return nil, errs.Cache(f.CacheErr, "read cached event %s", id)
	}
	return f.cache[id], nil
}

func (f *Fake) PublishEvent(_ context.Context, ev *nostr.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return errs.ErrNotConnected
	}
	if f.PublishErr != nil {
		return errs.Connection(f.PublishErr, "publish event %s", ev.ID)
	}
	f.Published = append(f.Published, ev)
	f.remote[ev.ID] = ev
	return nil
}

func (f *Fake) Disconnect(bool) {
	f.Drop()
}

// selectEvents returns the events matching filter, newest first, limited
func selectEvents(set map[string]*nostr.Event, filter nostr.Filter) []*nostr.Event {
	out := make([]*nostr.Event, 0)
	for _, ev := range set {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}
