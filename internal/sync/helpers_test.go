package sync

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/notify"
	"github.com/stretchr/testify/assert"
)

var nextID atomic.Int64

func newEvent(kind int, createdAt int64, content string, tags ...nostr.Tag) *nostr.Event {
	return &nostr.Event{
		ID:        fmt.Sprintf("%064x", nextID.Add(1)),
		PubKey:    "author",
		Kind:      kind,
		CreatedAt: nostr.Timestamp(createdAt),
		Content:   content,
		Tags:      nostr.Tags(tags),
	}
}

func post(createdAt int64, content string, tags ...nostr.Tag) *nostr.Event {
	return newEvent(KindNote, createdAt, content, tags...)
}

func comment(root *nostr.Event, createdAt int64, content string) *nostr.Event {
	return newEvent(KindNote, createdAt, content, nostr.Tag{"e", root.ID, "", "reply"})
}

func reactionTo(target *nostr.Event, author string, createdAt int64, content string) *nostr.Event {
	ev := newEvent(KindReaction, createdAt, content, nostr.Tag{"e", target.ID}, nostr.Tag{"p", target.PubKey})
	ev.PubKey = author
	return ev
}

func ids(events []*nostr.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

// assertFeedInvariants checks uniqueness, descending order and comment exclusion
func assertFeedInvariants(t *testing.T, events []*nostr.Event) {
	t.Helper()

	seen := make(map[string]bool)
	for i, ev := range events {
		assert.False(t, seen[ev.ID], "duplicate id %s", ev.ID)
		seen[ev.ID] = true

		for _, tag := range ev.Tags {
			assert.NotEqual(t, "e", tag[0], "comment %s in feed", ev.ID)
		}

		if i > 0 {
			assert.LessOrEqual(t, ev.CreatedAt, events[i-1].CreatedAt, "feed not descending at %d", i)
		}
	}
}

// waitFor returns the next notification of type T, skipping others
func waitFor[T notify.Notification](t *testing.T, ch <-chan notify.Notification) T {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-ch:
			if v, ok := n.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// assertSilent fails if any notification arrives within a short window
func assertSilent(t *testing.T, ch <-chan notify.Notification) {
	t.Helper()

	select {
	case n, ok := <-ch:
		if ok {
			t.Fatalf("unexpected notification %#v", n)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func drain(ch <-chan notify.Notification) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
