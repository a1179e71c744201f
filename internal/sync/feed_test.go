package sync

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/errs"
	"github.com/sandwichfarm/strand/internal/facade/facadetest"
	"github.com/sandwichfarm/strand/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(t *testing.T) (*Feed, *facadetest.Fake, *notify.Hub) {
	t.Helper()

	store := facadetest.New()
	hub := notify.NewHub(0, nil)
	feed := NewFeed(store, nil, hub, nil)
	t.Cleanup(func() {
		feed.Shutdown()
		hub.Close()
	})
	return feed, store, hub
}

func TestFeedHydrateKeepsTopLevelOnly(t *testing.T) {
	feed, store, _ := newTestFeed(t)

	a := post(300, "a")
	b := post(200, "b")
	c := post(100, "c")
	store.AddCached(b, comment(a, 250, "reply to a"), c, a, comment(b, 50, "reply to b"))

	feed.Hydrate(context.Background())

	events := feed.Events()
	assert.Equal(t, ids([]*nostr.Event{a, b, c}), ids(events))
	assertFeedInvariants(t, events)

	cursor, ok := feed.Cursor()
	require.True(t, ok)
	assert.Equal(t, c.CreatedAt, cursor)
}

func TestFeedHydrateCacheFailure(t *testing.T) {
	feed, store, _ := newTestFeed(t)
	store.AddCached(post(100, "a"))
	store.CacheErr = errs.New("disk gone")

	feed.Hydrate(context.Background())

	assert.Empty(t, feed.Events())
	assert.False(t, feed.HasMore())
	assert.NoError(t, feed.Err())
}

func TestFeedStartMergesRelayHistory(t *testing.T) {
	feed, store, hub := newTestFeed(t)
	ch, cancel := hub.Subscribe()
	defer cancel()

	cached := post(100, "cached")
	fresh := post(200, "fresh")
	store.AddCached(cached)
	store.AddRemote(fresh, comment(fresh, 150, "reply"))

	require.NoError(t, feed.Start(context.Background()))

	assert.Equal(t, StateLive, feed.State())
	assert.Equal(t, ids([]*nostr.Event{fresh, cached}), ids(feed.Events()))
	assert.True(t, store.Cached(fresh.ID), "fetched history is persisted")
	assert.Equal(t, 1, store.Subscribers(KindNote))

	changed := waitFor[notify.Changed](t, ch)
	assert.Equal(t, FeedView, changed.View)
}

func TestFeedConnectFailureKeepsCachedView(t *testing.T) {
	feed, store, _ := newTestFeed(t)

	cached := post(100, "cached")
	store.AddCached(cached)
	store.ConnectErr = errs.New("dial tcp: refused")

	err := feed.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrConnection))

	assert.Equal(t, StateError, feed.State())
	assert.True(t, errs.Is(feed.Err(), errs.ErrConnection))
	assert.Equal(t, ids([]*nostr.Event{cached}), ids(feed.Events()))
	assert.Zero(t, store.Subscribers(KindNote))

	store.ConnectErr = nil
	store.AddRemote(post(200, "fresh"))

	require.NoError(t, feed.Retry(context.Background()))
	assert.Equal(t, StateLive, feed.State())
	assert.NoError(t, feed.Err())
	assert.Len(t, feed.Events(), 2)
}

func TestFeedKeepsConnectErrorUntilRetry(t *testing.T) {
	feed, store, _ := newTestFeed(t)
	store.AddCached(post(100, "cached"))
	store.ConnectErr = errs.New("dial tcp: refused")

	startErr := feed.Start(context.Background())
	require.Error(t, startErr)
	queries := len(store.PastQueries)

	err := feed.LoadMore(context.Background())
	assert.Equal(t, startErr, err)
	_, err = feed.Refresh(context.Background())
	assert.Equal(t, startErr, err)

	assert.Len(t, store.PastQueries, queries, "no relay request while failed")
	assert.Equal(t, StateError, feed.State())
	assert.True(t, errs.Is(feed.Err(), errs.ErrConnection))
}

func TestFeedMissingRelayConfig(t *testing.T) {
	feed, store, _ := newTestFeed(t)
	store.NoRelays = true

	err := feed.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrConfiguration))
	assert.Equal(t, StateError, feed.State())
}

func TestFeedPaginatesToExhaustion(t *testing.T) {
	feed, store, _ := newTestFeed(t)
	ctx := context.Background()

	const t0 = 1_700_000_000
	for i := 0; i < 40; i++ {
		store.AddRemote(post(t0-int64(i), "note"))
	}

	require.NoError(t, feed.Start(ctx))
	assert.Len(t, feed.Events(), 20)
	assert.True(t, feed.HasMore())

	require.NoError(t, feed.LoadMore(ctx))
	assert.Len(t, feed.Events(), 40)
	assert.True(t, feed.HasMore())

	require.NoError(t, feed.LoadMore(ctx))
	assert.False(t, feed.HasMore())
	_, ok := feed.Cursor()
	assert.False(t, ok)

	events := feed.Events()
	assert.Len(t, events, 40)
	assertFeedInvariants(t, events)
	assert.Equal(t, nostr.Timestamp(t0), events[0].CreatedAt)
	assert.Equal(t, nostr.Timestamp(t0-39), events[39].CreatedAt)

	queries := len(store.PastQueries)
	require.NoError(t, feed.LoadMore(ctx))
	assert.Len(t, store.PastQueries, queries, "exhausted feed issues no request")
}

func TestFeedLoadMoreCommentOnlyPageExhausts(t *testing.T) {
	feed, store, _ := newTestFeed(t)
	ctx := context.Background()

	root := post(100, "root")
	store.AddRemote(root)
	for i := 0; i < 5; i++ {
		store.AddRemote(comment(root, 50-int64(i), "reply"))
	}

	require.NoError(t, feed.Start(ctx))
	require.True(t, feed.HasMore())

	require.NoError(t, feed.LoadMore(ctx))
	assert.False(t, feed.HasMore())
	assert.Equal(t, ids([]*nostr.Event{root}), ids(feed.Events()))
}

func TestFeedLoadMoreFailureKeepsView(t *testing.T) {
	feed, store, _ := newTestFeed(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		store.AddRemote(post(1000-int64(i), "note"))
	}
	require.NoError(t, feed.Start(ctx))
	before := ids(feed.Events())

	store.PastErr = errs.New("relay timeout")
	err := feed.LoadMore(ctx)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrConnection))

	assert.Equal(t, before, ids(feed.Events()))
	assert.True(t, feed.HasMore(), "a failed page does not end pagination")
	assert.Error(t, feed.Err())
}

func TestFeedLiveMerge(t *testing.T) {
	feed, store, hub := newTestFeed(t)
	ctx := context.Background()

	old := post(100, "old")
	store.AddRemote(old)
	require.NoError(t, feed.Start(ctx))

	ch, cancel := hub.Subscribe()
	defer cancel()

	fresh := post(time.Now().Unix(), "fresh")
	store.Emit(fresh)
	require.Eventually(t, func() bool {
		return len(feed.Events()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, fresh.ID, feed.Events()[0].ID)
	assert.True(t, store.Cached(fresh.ID))
	waitFor[notify.Changed](t, ch)

	reply := comment(old, time.Now().Unix(), "nice")
	store.Emit(reply)
	arrived := waitFor[notify.CommentArrived](t, ch)
	assert.Equal(t, old.ID, arrived.PostID)
	assert.Equal(t, reply.ID, arrived.Event.ID)
	assert.True(t, store.Cached(reply.ID))
	assert.NotContains(t, ids(feed.Events()), reply.ID)

	drain(ch)
	feed.LiveMerge(ctx, fresh)
	assertSilent(t, ch)
	assert.Len(t, feed.Events(), 2)
	assertFeedInvariants(t, feed.Events())
}

func TestFeedInvariantsAcrossOperations(t *testing.T) {
	feed, store, _ := newTestFeed(t)
	ctx := context.Background()

	shared := []*nostr.Event{post(500, "a"), post(500, "b"), post(400, "c")}
	store.AddCached(shared...)
	store.AddCached(comment(shared[0], 450, "reply"))
	store.AddRemote(shared...)
	for i := 0; i < 25; i++ {
		store.AddRemote(post(600-int64(i*10), "remote"))
	}

	require.NoError(t, feed.Start(ctx))
	assertFeedInvariants(t, feed.Events())

	for feed.HasMore() {
		require.NoError(t, feed.LoadMore(ctx))
		assertFeedInvariants(t, feed.Events())
	}

	feed.LiveMerge(ctx, shared[1])
	feed.LiveMerge(ctx, post(700, "newest"))
	feed.LiveMerge(ctx, post(1, "oldest"))
	assertFeedInvariants(t, feed.Events())

	_, err := feed.Refresh(ctx)
	require.NoError(t, err)
	assertFeedInvariants(t, feed.Events())
}

func TestFeedHashtagProjection(t *testing.T) {
	feed, store, _ := newTestFeed(t)
	ctx := context.Background()

	tagged := post(300, "learning #go today", nostr.Tag{"t", "go"})
	inline := post(200, "more #Go")
	other := post(100, "rust only", nostr.Tag{"t", "rust"})
	store.AddCached(tagged, inline, other)
	feed.Hydrate(ctx)

	feed.SetHashtagFilter("go")
	assert.Equal(t, "go", feed.HashtagFilter())
	assert.Equal(t, ids([]*nostr.Event{tagged, inline}), ids(feed.Events()))
	assert.Len(t, feed.AllEvents(), 3)

	feed.ClearFilter()
	assert.Equal(t, ids([]*nostr.Event{tagged, inline, other}), ids(feed.Events()))
}

func TestFeedConnectionLoss(t *testing.T) {
	feed, store, _ := newTestFeed(t)

	require.NoError(t, feed.Start(context.Background()))
	require.Equal(t, StateLive, feed.State())

	store.Drop()
	assert.Equal(t, StateDisconnected, feed.State())

	require.NoError(t, store.Connect(context.Background(), nil))
	assert.Equal(t, StateLive, feed.State())
}

func TestFeedConnectionLossAfterReinitialize(t *testing.T) {
	feed, store, _ := newTestFeed(t)

	require.NoError(t, feed.Start(context.Background()))
	require.NoError(t, feed.Reinitialize(context.Background()))
	require.Equal(t, StateLive, feed.State())

	store.Drop()
	assert.Equal(t, StateDisconnected, feed.State())
}

func TestViewsSharingOneStore(t *testing.T) {
	root := post(100, "root")
	store := facadetest.New()
	store.AddRemote(root)

	feed := NewFeed(store, nil, nil, nil)
	thread := NewThread(store, root.ID, nil, nil, nil)
	t.Cleanup(func() {
		thread.Shutdown()
		feed.Shutdown()
	})

	require.NoError(t, feed.Start(context.Background()))
	require.NoError(t, thread.Start(context.Background()))
	require.Equal(t, StateLive, feed.State())
	require.Equal(t, StateLive, thread.State())

	store.Drop()
	assert.Equal(t, StateDisconnected, feed.State())
	assert.Equal(t, StateDisconnected, thread.State())

	require.NoError(t, store.Connect(context.Background(), nil))
	assert.Equal(t, StateLive, feed.State())
	assert.Equal(t, StateLive, thread.State())
}

func TestFeedStopKeepsView(t *testing.T) {
	feed, store, _ := newTestFeed(t)
	store.AddRemote(post(100, "a"))

	require.NoError(t, feed.Start(context.Background()))
	feed.Stop()

	assert.Len(t, feed.Events(), 1)
	require.Eventually(t, func() bool {
		return store.Subscribers(KindNote) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedShutdownSilencesNotifications(t *testing.T) {
	feed, store, hub := newTestFeed(t)
	ctx := context.Background()

	store.AddRemote(post(100, "a"))
	require.NoError(t, feed.Start(ctx))

	ch, cancel := hub.Subscribe()
	defer cancel()

	feed.Shutdown()
	assert.Empty(t, feed.Events())
	assert.Equal(t, StateUninitialized, feed.State())
	require.Eventually(t, func() bool {
		return store.Subscribers(KindNote) == 0
	}, 2*time.Second, 10*time.Millisecond)

	feed.LiveMerge(ctx, post(200, "late"))
	feed.LiveMerge(ctx, comment(post(1, "x"), 200, "late reply"))
	assertSilent(t, ch)
	assert.Empty(t, feed.Events())

	assert.ErrorIs(t, feed.Start(ctx), errs.ErrShutdown)
	assert.ErrorIs(t, feed.LoadMore(ctx), errs.ErrShutdown)

	require.NoError(t, feed.Reinitialize(ctx))
	assert.Equal(t, StateLive, feed.State())
	assert.Len(t, feed.Events(), 1)
}

func BenchmarkMergeSortDedupe(b *testing.B) {
	view := make([]*nostr.Event, 0, 500)
	for i := 0; i < 500; i++ {
		view = append(view, post(int64(10_000-i), "view"))
	}
	page := make([]*nostr.Event, 0, 20)
	for i := 0; i < 20; i++ {
		page = append(page, post(int64(9_500-i), "page"))
	}
	page = append(page, view[:5]...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		merged, _ := appendAbsent(append([]*nostr.Event(nil), view...), page)
		mergeSortDedupe(merged)
	}
}
