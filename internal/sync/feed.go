package sync

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/errs"
	"github.com/sandwichfarm/strand/internal/facade"
	"github.com/sandwichfarm/strand/internal/notify"
	"github.com/sandwichfarm/strand/internal/ops"
	"github.com/sandwichfarm/strand/internal/tags"
)

// FeedView is the view name carried by the feed's Changed notifications
const FeedView = "feed"

// Feed keeps the global feed of top-level notes: cached first, then merged
// with relay history, then kept current by a live subscription.
//
// All view state is guarded by one mutex. Network calls run outside it and
// their results are merged under it.
type Feed struct {
	store   facade.EventStore
	filters *FilterBuilder
	gate    *notify.Gate
	logger  *ops.Logger

	mu         sync.Mutex
	state      State
	err        error
	events     []*nostr.Event
	cursor     Cursor
	hashtag    string
	paginating bool
	shutdown   bool
	watching   bool
	live       *listener
}

// NewFeed creates a feed synchronizer. hub may be nil.
func NewFeed(store facade.EventStore, cfg *config.Sync, hub *notify.Hub, logger *ops.Logger) *Feed {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Feed{
		store:   store,
		filters: NewFilterBuilder(cfg),
		gate:    notify.NewGate(hub),
		logger:  logger.WithComponent("feed"),
	}
}

// Start runs the initialization sequence: hydrate from cache, connect,
// sync history and go live. A connection failure leaves the cached view in
// place and is returned.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return errs.ErrShutdown
	}
	f.mu.Unlock()

	f.gate.Open()
	f.Hydrate(ctx)
	return f.Connect(ctx)
}

// Hydrate fills the view from the local cache. Cache failures are logged
// and leave the view empty.
func (f *Feed) Hydrate(ctx context.Context) {
	f.setState(StateHydrating)

	cached, err := f.store.QueryCachedEvents(ctx, f.filters.HydrateQuery())
	if err != nil {
		f.logger.Warn("cache hydration failed", "error", err)
		return
	}

	f.mu.Lock()
	f.events = mergeSortDedupe(append(f.events, topLevel(cached)...))
	f.cursor.UpdateFromView(f.events)
	size, cursor := len(f.events), f.cursorValue()
	f.mu.Unlock()

	f.logger.LogSyncProgress(FeedView, "hydrate", len(cached), size, cursor)
	f.gate.Changed(FeedView)
}

// Connect opens the relay connection, syncs history and starts listening.
func (f *Feed) Connect(ctx context.Context) error {
	f.setState(StateConnecting)

	// the store keeps every callback it is given
	var onChange func(bool)
	f.mu.Lock()
	if !f.watching {
		f.watching = true
		onChange = f.onConnectionChange
	}
	f.mu.Unlock()

	if err := f.store.Connect(ctx, onChange); err != nil {
		f.fail(err)
		return err
	}
	f.setState(StateLive)

	if err := f.InitialSync(ctx); err != nil {
		f.logger.Warn("initial sync failed", "error", err)
	}

	return f.startLive(ctx)
}

func (f *Feed) onConnectionChange(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case !connected && f.state == StateLive:
		f.state = StateDisconnected
		f.logger.Warn("relay connection lost")
	case connected && f.state == StateDisconnected:
		f.state = StateLive
	}
}

// InitialSync requests everything newer than the newest view entry and adds
// what is missing. It never removes entries.
func (f *Feed) InitialSync(ctx context.Context) error {
	_, err := f.syncNewer(ctx, "initial_sync")
	return err
}

// Refresh requests events newer than the newest entry and returns how many
// were added. After a connection failure it returns that failure until Retry.
func (f *Feed) Refresh(ctx context.Context) (int, error) {
	return f.syncNewer(ctx, "refresh")
}

func (f *Feed) syncNewer(ctx context.Context, step string) (int, error) {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return 0, errs.ErrShutdown
	}
	if f.state == StateError {
		err := f.err
		f.mu.Unlock()
		return 0, err
	}
	var since *nostr.Timestamp
	if len(f.events) > 0 {
		newest := f.events[0].CreatedAt
		since = &newest
	}
	f.mu.Unlock()

	fetched, err := f.store.RequestPastEvents(ctx, f.filters.SinceQuery(since))
	if err != nil {
		f.record(err)
		return 0, err
	}

	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return 0, errs.ErrShutdown
	}
	var added int
	f.events, added = appendAbsent(f.events, topLevel(fetched))
	f.events = mergeSortDedupe(f.events)
	f.cursor.UpdateFromView(f.events)
	size, cursor := len(f.events), f.cursorValue()
	f.mu.Unlock()

	f.logger.LogSyncProgress(FeedView, step, len(fetched), size, cursor)
	if added > 0 {
		f.gate.Changed(FeedView)
	}
	return added, nil
}

// LoadMore fetches the page before the cursor. It does nothing while a page
// is in flight or when history is exhausted. After a connection failure it
// returns that failure until Retry. A page without new top-level
// notes exhausts the cursor until Retry.
func (f *Feed) LoadMore(ctx context.Context) error {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return errs.ErrShutdown
	}
	if f.state == StateError {
		err := f.err
		f.mu.Unlock()
		return err
	}
	until, ok := f.cursor.Until()
	if f.paginating || !ok {
		f.mu.Unlock()
		return nil
	}
	f.paginating = true
	f.mu.Unlock()

	fetched, err := f.store.RequestPastEvents(ctx, f.filters.PageQuery(until))

	f.mu.Lock()
	f.paginating = false
	if f.shutdown {
		f.mu.Unlock()
		return errs.ErrShutdown
	}
	if err != nil {
		f.err = err
		f.mu.Unlock()
		f.logger.Warn("page fetch failed", "error", err)
		return err
	}

	var added int
	f.events, added = appendAbsent(f.events, topLevel(fetched))
	f.events = mergeSortDedupe(f.events)
	f.cursor.UpdateFromView(f.events)
	if added == 0 {
		f.cursor.Exhaust()
	}
	size, cursor := len(f.events), f.cursorValue()
	f.mu.Unlock()

	f.logger.LogSyncProgress(FeedView, "load_more", len(fetched), size, cursor)
	if added > 0 {
		f.gate.Changed(FeedView)
	}
	return nil
}

// LiveMerge folds one live event into the feed. Comments never enter the
// view: they are cached and announced with the ID of the post they answer.
func (f *Feed) LiveMerge(ctx context.Context, ev *nostr.Event) {
	if ev == nil || ev.Kind != KindNote {
		return
	}

	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	if postID, ok := tags.FirstEventRef(ev.Tags); ok {
		if err := f.store.CacheEvent(ctx, ev); err != nil {
			f.logger.Warn("failed to cache live comment", "event_id", ev.ID, "error", err)
		}
		f.gate.CommentArrived(postID, ev)
		return
	}

	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return
	}
	var added int
	f.events, added = appendAbsent(f.events, []*nostr.Event{ev})
	if added == 0 {
		f.mu.Unlock()
		return
	}
	f.events = mergeSortDedupe(f.events)
	f.cursor.UpdateFromView(f.events)
	size, cursor := len(f.events), f.cursorValue()
	f.mu.Unlock()

	if err := f.store.CacheEvent(ctx, ev); err != nil {
		f.logger.Warn("failed to cache live post", "event_id", ev.ID, "error", err)
	}
	f.logger.LogSyncProgress(FeedView, "live", 1, size, cursor)
	f.gate.Changed(FeedView)
}

func (f *Feed) startLive(ctx context.Context) error {
	l, err := listen(ctx, f.store, []facade.LiveQuery{f.filters.LiveQuery(KindNote)}, f.LiveMerge, f.logger)
	if err != nil {
		f.record(err)
		return err
	}

	f.mu.Lock()
	old := f.live
	f.live = l
	f.mu.Unlock()

	old.stop()
	return nil
}

// SetHashtagFilter projects Events to notes carrying tag
func (f *Feed) SetHashtagFilter(tag string) {
	f.mu.Lock()
	f.hashtag = tag
	f.mu.Unlock()
	f.gate.Changed(FeedView)
}

// ClearFilter removes the hashtag projection
func (f *Feed) ClearFilter() {
	f.SetHashtagFilter("")
}

// HashtagFilter returns the active hashtag projection, or ""
func (f *Feed) HashtagFilter() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashtag
}

// Events returns the view after the hashtag projection
func (f *Feed) Events() []*nostr.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hashtag == "" {
		return append([]*nostr.Event(nil), f.events...)
	}

	out := make([]*nostr.Event, 0, len(f.events))
	for _, ev := range f.events {
		if tags.MatchesHashtag(ev.Content, ev.Tags, f.hashtag) {
			out = append(out, ev)
		}
	}
	return out
}

// AllEvents returns the full view
func (f *Feed) AllEvents() []*nostr.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*nostr.Event(nil), f.events...)
}

// Retry clears the error and the view, resets pagination and runs the
// initialization sequence again.
func (f *Feed) Retry(ctx context.Context) error {
	f.Stop()

	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return errs.ErrShutdown
	}
	f.err = nil
	f.events = nil
	f.cursor.Reset()
	f.mu.Unlock()

	return f.Start(ctx)
}

// Stop cancels live subscriptions and waits for their goroutines. The view
// is kept.
func (f *Feed) Stop() {
	f.mu.Lock()
	l := f.live
	f.live = nil
	f.mu.Unlock()

	l.stop()
}

// Shutdown stops the feed and discards its view. No notification is
// delivered afterwards. Reinitialize brings it back.
func (f *Feed) Shutdown() {
	f.gate.Close()
	f.Stop()

	f.mu.Lock()
	f.shutdown = true
	f.events = nil
	f.cursor.Reset()
	f.err = nil
	f.hashtag = ""
	f.state = StateUninitialized
	f.mu.Unlock()
}

// Reinitialize restarts a feed from clean state, typically after Shutdown
func (f *Feed) Reinitialize(ctx context.Context) error {
	f.Shutdown()

	f.mu.Lock()
	f.shutdown = false
	f.mu.Unlock()

	return f.Start(ctx)
}

// State returns the lifecycle state
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the last recorded error
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// HasMore reports whether LoadMore may return another page
func (f *Feed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor.HasMore()
}

// Cursor returns the pagination cursor, or false when absent
func (f *Feed) Cursor() (nostr.Timestamp, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor.Oldest()
}

func (f *Feed) cursorValue() int64 {
	ts, _ := f.cursor.Oldest()
	return int64(ts)
}

func (f *Feed) setState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.shutdown {
		f.state = s
	}
}

// fail records a connection failure and halts network activity until Retry
func (f *Feed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	if !f.shutdown {
		f.state = StateError
	}
	f.logger.Error("connection failed", "error", err)
}

func (f *Feed) record(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
