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

// ThreadView returns the view name carried by a thread's Changed notifications
func ThreadView(rootID string) string {
	return "thread:" + rootID
}

// Thread keeps one post and its flat, oldest-first comment list current.
type Thread struct {
	rootID  string
	store   facade.EventStore
	filters *FilterBuilder
	gate    *notify.Gate
	logger  *ops.Logger

	mu       sync.Mutex
	state    State
	err      error
	root     *nostr.Event
	comments []*nostr.Event
	known    map[string]struct{} // root and comment IDs
	shutdown bool
	watching bool
	live     *listener
}

// NewThread creates a thread synchronizer for rootID. hub may be nil.
func NewThread(store facade.EventStore, rootID string, cfg *config.Sync, hub *notify.Hub, logger *ops.Logger) *Thread {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Thread{
		rootID:  rootID,
		store:   store,
		filters: NewFilterBuilder(cfg),
		gate:    notify.NewGate(hub),
		logger:  logger.WithComponent("thread").WithFields("root", rootID),
		known:   map[string]struct{}{rootID: {}},
	}
}

// Start connects, loads the thread and subscribes to new
// comments and reactions.
func (t *Thread) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return errs.ErrShutdown
	}
	t.mu.Unlock()

	t.gate.Open()

	if !t.store.Connected() {
		t.setState(StateConnecting)
	}

	// registers the state callback even when another view already connected
	var onChange func(bool)
	t.mu.Lock()
	if !t.watching {
		t.watching = true
		onChange = t.onConnectionChange
	}
	t.mu.Unlock()

	if err := t.store.Connect(ctx, onChange); err != nil {
		t.logger.Warn("connect failed, using cached thread only", "error", err)
		t.record(err)
	}

	if err := t.Load(ctx); err != nil {
		t.fail(err)
		return err
	}

	if !t.store.Connected() {
		t.setState(StateDisconnected)
		return nil
	}

	l, err := listen(ctx, t.store, []facade.LiveQuery{
		t.filters.LiveQuery(KindNote),
		t.filters.LiveQuery(KindReaction),
	}, t.handleLive, t.logger)
	if err != nil {
		t.record(err)
		return err
	}

	t.mu.Lock()
	old := t.live
	t.live = l
	if !t.shutdown {
		t.state = StateLive
	}
	t.mu.Unlock()

	old.stop()
	return nil
}

func (t *Thread) onConnectionChange(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !connected && t.state == StateLive:
		t.state = StateDisconnected
	case connected && t.state == StateDisconnected:
		t.state = StateLive
	}
}

// Load resolves the root and loads its comments from cache and relays
func (t *Thread) Load(ctx context.Context) error {
	t.setState(StateHydrating)

	root, err := t.resolveRoot(ctx)
	if err != nil {
		return err
	}

	comments := t.loadComments(ctx)

	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return errs.ErrShutdown
	}
	t.root = root
	t.comments = mergeSortAscending(append(t.comments, comments...))
	for _, c := range t.comments {
		t.known[c.ID] = struct{}{}
	}
	size := len(t.comments)
	t.mu.Unlock()

	t.logger.LogSyncProgress(ThreadView(t.rootID), "load", len(comments), size, 0)
	t.gate.Changed(ThreadView(t.rootID))
	return nil
}

// resolveRoot looks in the cache, then scans the relays narrowly and then
// widely. The root is cached once found.
func (t *Thread) resolveRoot(ctx context.Context) (*nostr.Event, error) {
	root, err := t.store.GetCachedEvent(ctx, t.rootID)
	if err != nil {
		t.logger.Debug("cache lookup failed", "error", err)
	}
	if root != nil {
		return root, nil
	}

	if !t.store.Connected() {
		return nil, errs.Connection(errs.ErrNotConnected, "post %s is not cached", t.rootID)
	}

	for _, q := range t.filters.RootScanQueries() {
		scanned, err := t.store.RequestPastEvents(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, ev := range scanned {
			if ev.ID == t.rootID {
				if err := t.store.CacheEvent(ctx, ev); err != nil {
					t.logger.Warn("failed to cache root", "error", err)
				}
				return ev, nil
			}
		}
		t.logger.Debug("root not in scan", "scanned", len(scanned), "limit", q.Limit)
	}

	return nil, errs.NotFound("post %s", t.rootID)
}

// loadComments merges cached comments with the relay query. Relay failures
// are recorded; the cached comments are still returned.
func (t *Thread) loadComments(ctx context.Context) []*nostr.Event {
	cached, err := t.store.QueryCachedEvents(ctx, t.filters.CachedCommentsQuery(t.rootID))
	if err != nil {
		t.logger.Debug("cached comments unavailable", "error", err)
	}

	all := cached
	if t.store.Connected() {
		fetched, err := t.store.RequestPastEvents(ctx, t.filters.CommentsQuery(t.rootID))
		if err != nil {
			t.logger.Warn("comment fetch failed", "error", err)
			t.record(err)
		} else {
			all = append(fetched, cached...)
		}
	}

	return commentsOf(t.rootID, all)
}

func (t *Thread) handleLive(ctx context.Context, ev *nostr.Event) {
	switch ev.Kind {
	case KindNote:
		t.liveComment(ctx, ev)
	case KindReaction:
		t.liveReaction(ctx, ev)
	}
}

func (t *Thread) liveComment(ctx context.Context, ev *nostr.Event) {
	if target, ok := tags.FirstEventRef(ev.Tags); !ok || target != t.rootID {
		return
	}

	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return
	}
	if _, ok := t.known[ev.ID]; ok {
		t.mu.Unlock()
		return
	}
	t.known[ev.ID] = struct{}{}
	t.comments = mergeSortAscending(append(t.comments, ev))
	t.mu.Unlock()

	if err := t.store.CacheEvent(ctx, ev); err != nil {
		t.logger.Warn("failed to cache live comment", "event_id", ev.ID, "error", err)
	}
	t.gate.CommentArrived(t.rootID, ev)
	t.gate.Changed(ThreadView(t.rootID))
}

func (t *Thread) liveReaction(ctx context.Context, ev *nostr.Event) {
	target, ok := tags.FirstEventRef(ev.Tags)
	if !ok {
		return
	}

	t.mu.Lock()
	_, known := t.known[target]
	shutdown := t.shutdown
	t.mu.Unlock()
	if !known || shutdown {
		return
	}

	if err := t.store.CacheEvent(ctx, ev); err != nil {
		t.logger.Warn("failed to cache live reaction", "event_id", ev.ID, "error", err)
	}
	t.gate.ReactionArrived(target, ev.PubKey, ev.Content, ev)
}

// Root returns the resolved post, or nil before Load
func (t *Thread) Root() *nostr.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// RootID returns the ID of the post this thread follows
func (t *Thread) RootID() string {
	return t.rootID
}

// Comments returns the comments oldest first
func (t *Thread) Comments() []*nostr.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*nostr.Event(nil), t.comments...)
}

// Stop cancels live subscriptions; the loaded thread is kept
func (t *Thread) Stop() {
	t.mu.Lock()
	l := t.live
	t.live = nil
	t.mu.Unlock()

	l.stop()
}

// Shutdown stops the thread and discards it. No notification is delivered
// afterwards.
func (t *Thread) Shutdown() {
	t.gate.Close()
	t.Stop()

	t.mu.Lock()
	t.shutdown = true
	t.root = nil
	t.comments = nil
	t.known = map[string]struct{}{t.rootID: {}}
	t.err = nil
	t.state = StateUninitialized
	t.mu.Unlock()
}

// Reinitialize restarts the thread from clean state
func (t *Thread) Reinitialize(ctx context.Context) error {
	t.Shutdown()

	t.mu.Lock()
	t.shutdown = false
	t.mu.Unlock()

	return t.Start(ctx)
}

// State returns the lifecycle state
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the last recorded error
func (t *Thread) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Thread) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.shutdown {
		t.state = s
	}
}

func (t *Thread) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	if !t.shutdown {
		t.state = StateError
	}
}

func (t *Thread) record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}
