package facade

import (
	"context"
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/cache"
	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/errs"
	relayclient "github.com/sandwichfarm/strand/internal/nostr"
	"github.com/sandwichfarm/strand/internal/ops"
	"github.com/sandwichfarm/strand/internal/storage"
)

// Facade implements EventStore over the SQLite cache, a hot event cache and
// the relay pool.
type Facade struct {
	storage *storage.Storage
	client  *relayclient.Client
	hot     cache.Cache
	config  *config.Sync
	logger  *ops.Logger

	state *stateMachine

	mu        sync.Mutex
	listeners []func(bool)
	gen       uint64 // bumped by every Connect and Disconnect
	closed    bool
}

var _ EventStore = (*Facade)(nil)

// New creates a facade. The facade takes ownership of client and hot; the
// caller keeps ownership of st.
func New(st *storage.Storage, client *relayclient.Client, hot cache.Cache, cfg *config.Sync, logger *ops.Logger) *Facade {
	if hot == nil {
		hot = cache.Noop{}
	}
	if logger == nil {
		logger = ops.Discard()
	}
	return &Facade{
		storage: st,
		client:  client,
		hot:     hot,
		config:  cfg,
		logger:  logger.WithComponent("facade"),
		state:   newStateMachine(),
	}
}

// State returns the current connection state
func (f *Facade) State() ConnState {
	return f.state.current()
}

// WatchState subscribes to connection state transitions
func (f *Facade) WatchState() (<-chan ConnState, func()) {
	return f.state.watch()
}

// Connect opens the shared relay connection. Every non-nil onStateChange is
// kept and told about each later transition, so each caller should pass
// its callback once.
func (f *Facade) Connect(ctx context.Context, onStateChange func(connected bool)) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errs.ErrShutdown
	}
	if onStateChange != nil {
		f.listeners = append(f.listeners, onStateChange)
	}
	f.mu.Unlock()

	if len(f.client.URLs()) == 0 {
		return errs.WithHint(errs.ErrNoRelayConfig, "add relay endpoints under relays.urls or set STRAND_RELAYS")
	}

	if _, ok := f.state.transition(StateConnecting); !ok {
		if f.state.current() == StateLive {
			return nil
		}
		return errs.Connection(nil, "connection already in progress")
	}

	n, err := f.client.Connect(ctx)
	if err != nil {
		f.state.transition(StateFailed)
		f.notifyState(false)
		return errs.Connection(err, "connect to relays")
	}

	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	f.state.transition(StateLive)
	f.logger.Info("connected", "relays", n)
	f.notifyState(true)

	for _, relay := range f.client.Relays() {
		go f.watchRelay(relay, gen)
	}

	return nil
}

// watchRelay reports the connection lost once the last relay of connection
// gen drops. Relays of an earlier connection are ignored.
func (f *Facade) watchRelay(relay *nostr.Relay, gen uint64) {
	<-relay.Context().Done()

	f.mu.Lock()
	current := f.gen == gen
	f.mu.Unlock()

	if !current || f.client.Connected() {
		return
	}
	if _, ok := f.state.transition(StateDisconnected); ok {
		f.logger.Warn("all relay connections lost")
		f.notifyState(false)
	}
}

func (f *Facade) notifyState(connected bool) {
	f.mu.Lock()
	listeners := append([](func(bool))(nil), f.listeners...)
	f.mu.Unlock()

	for _, cb := range listeners {
		cb(connected)
	}
}

func (f *Facade) Connected() bool {
	return f.state.current() == StateLive && f.client.Connected()
}

func (f *Facade) QueryCachedEvents(ctx context.Context, q CacheQuery) ([]*nostr.Event, error) {
	events, err := f.storage.QueryEvents(ctx, q.Filter())
	if err != nil {
		return nil, errs.Cache(err, "query cached kind %d events", q.Kind)
	}
	return events, nil
}

func (f *Facade) RequestPastEvents(ctx context.Context, q PastQuery) ([]*nostr.Event, error) {
	if !f.Connected() {
		return nil, errs.Connection(errs.ErrNotConnected, "request past kind %d events", q.Kind)
	}

	filter := q.Filter()
	if f.logger.IsDebugEnabled() {
		f.logger.Debug("past query", "filter", filter.String(), "use_cache", q.UseCache)
	}

	if q.UseCache && f.config != nil && f.config.UseNegentropy {
		synced, err := f.client.NegentropySync(ctx, f.storage.Store(), filter)
		if err != nil {
			f.logger.Warn("negentropy failed, using REQ", "error", err)
		}
		if synced {
			events, err := f.storage.QueryEvents(ctx, filter)
			if err != nil {
				return nil, errs.Cache(err, "read reconciled events")
			}
			return events, nil
		}
	}

	fetched, err := f.client.FetchEvents(ctx, filter)
	if err != nil {
		return nil, errs.Connection(err, "request past kind %d events", q.Kind)
	}

	if !q.UseCache {
		return fetched, nil
	}

	for _, event := range fetched {
		if err := f.CacheEvent(ctx, event); err != nil {
			f.logger.Warn("failed to cache fetched event", "event_id", event.ID, "error", err)
		}
	}

	cached, err := f.storage.QueryEvents(ctx, filter)
	if err != nil {
		f.logger.Debug("cached merge skipped", "error", err)
		return fetched, nil
	}

	return mergeNewestFirst(fetched, cached, q.Limit), nil
}

// mergeNewestFirst unions a and b by ID, newest first, truncated to limit (0 = no limit)
func mergeNewestFirst(a, b []*nostr.Event, limit int) []*nostr.Event {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]*nostr.Event, 0, len(a)+len(b))
	for _, list := range [][]*nostr.Event{a, b} {
		for _, event := range list {
			if seen[event.ID] {
				continue
			}
			seen[event.ID] = true
			out = append(out, event)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *Facade) ListenToEvents(ctx context.Context, q LiveQuery) (*Subscription, error) {
	if !f.Connected() {
		return nil, errs.Connection(errs.ErrNotConnected, "listen for kind %d events", q.Kind)
	}

	since := q.Since
	if since == nil {
		now := nostr.Now()
		since = &now
	}

	ctx, cancel := context.WithCancel(ctx)
	events := f.client.SubscribeEvents(ctx, nostr.Filter{
		Kinds: []int{q.Kind},
		Since: since,
		Limit: q.Limit,
	})

	return NewSubscription(events, cancel), nil
}

func (f *Facade) CacheEvent(ctx context.Context, event *nostr.Event) error {
	if hit, err := f.hot.Get(ctx, event.ID); err == nil && hit != nil {
		f.logger.LogCacheOperation("cache_event", event.ID, true)
		return nil
	}

	exists, err := f.storage.EventExists(ctx, event.ID)
	if err != nil {
		return errs.Cache(err, "cache event %s", event.ID)
	}
	if !exists {
		if err := f.storage.StoreEvent(ctx, event); err != nil {
			return errs.Cache(err, "cache event %s", event.ID)
		}
	}

	if err := f.hot.Set(ctx, event); err != nil {
		f.logger.Debug("hot cache write failed", "event_id", event.ID, "error", err)
	}
	f.logger.LogCacheOperation("cache_event", event.ID, false)
	return nil
}

func (f *Facade) GetCachedEvent(ctx context.Context, id string) (*nostr.Event, error) {
	if hit, err := f.hot.Get(ctx, id); err == nil && hit != nil {
		f.logger.LogCacheOperation("get_event", id, true)
		return hit, nil
	}

	event, err := f.storage.GetEvent(ctx, id)
	if err != nil {
		return nil, errs.Cache(err, "read cached event %s", id)
	}
	f.logger.LogCacheOperation("get_event", id, event != nil)
	if event == nil {
		return nil, nil
	}

	if err := f.hot.Set(ctx, event); err != nil {
		f.logger.Debug("hot cache write failed", "event_id", id, "error", err)
	}
	return event, nil
}

func (f *Facade) PublishEvent(ctx context.Context, event *nostr.Event) error {
	if !f.Connected() {
		return errs.ErrNotConnected
	}
	if err := f.client.PublishEvent(ctx, event); err != nil {
		return errs.Connection(err, "publish event %s", event.ID)
	}
	return nil
}

// Disconnect closes relay connections. A permanent disconnect also releases
// the relay pool and hot cache; Connect then fails with ErrShutdown.
func (f *Facade) Disconnect(permanent bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = permanent
	f.gen++
	f.mu.Unlock()

	if permanent {
		f.client.Close()
		if err := f.hot.Close(); err != nil {
			f.logger.Debug("hot cache close failed", "error", err)
		}
	} else {
		f.client.Disconnect()
	}

	if prev, ok := f.state.transition(StateDisconnected); ok && prev == StateLive {
		f.notifyState(false)
	}
}
