package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/config"
)

func TestCountEventsByKind(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for _, kind := range []int{1, 1, 7} {
		if err := storage.StoreEvent(ctx, signedEvent(t, kind, "x", nil, nostr.Now())); err != nil {
			t.Fatalf("StoreEvent() error = %v", err)
		}
	}

	counts, err := storage.CountEventsByKind(ctx)
	if err != nil {
		t.Fatalf("CountEventsByKind() error = %v", err)
	}
	if len(counts) != 2 || counts[0].Kind != 1 || counts[0].Count != 2 || counts[1].Kind != 7 || counts[1].Count != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestEventTimeRange(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	oldest, newest, err := storage.EventTimeRange(ctx)
	if err != nil {
		t.Fatalf("EventTimeRange() error = %v", err)
	}
	if oldest != nil || newest != nil {
		t.Error("expected empty range for empty cache")
	}

	storage.StoreEvent(ctx, signedEvent(t, 1, "old", nil, 1_700_000_000))
	storage.StoreEvent(ctx, signedEvent(t, 1, "new", nil, 1_700_000_500))

	oldest, newest, err = storage.EventTimeRange(ctx)
	if err != nil {
		t.Fatalf("EventTimeRange() error = %v", err)
	}
	if oldest == nil || oldest.Unix() != 1_700_000_000 {
		t.Errorf("oldest = %v", oldest)
	}
	if newest == nil || newest.Unix() != 1_700_000_500 {
		t.Errorf("newest = %v", newest)
	}
}

func TestDeleteEventsBefore(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sk := nostr.GeneratePrivateKey()
	own := &nostr.Event{Kind: 1, Content: "mine", CreatedAt: 1_600_000_000}
	if err := own.Sign(sk); err != nil {
		t.Fatal(err)
	}
	old := signedEvent(t, 1, "old", nil, 1_600_000_000)
	recent := signedEvent(t, 1, "recent", nil, 1_800_000_000)
	for _, ev := range []*nostr.Event{own, old, recent} {
		if err := storage.StoreEvent(ctx, ev); err != nil {
			t.Fatalf("StoreEvent() error = %v", err)
		}
	}

	deleted, err := storage.DeleteEventsBefore(ctx, time.Unix(1_700_000_000, 0), own.PubKey)
	if err != nil {
		t.Fatalf("DeleteEventsBefore() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	for _, tt := range []struct {
		ev   *nostr.Event
		want bool
	}{{own, true}, {old, false}, {recent, true}} {
		exists, err := storage.EventExists(ctx, tt.ev.ID)
		if err != nil {
			t.Fatal(err)
		}
		if exists != tt.want {
			t.Errorf("event %q exists = %v, want %v", tt.ev.Content, exists, tt.want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	ev := signedEvent(t, 1, "kept", nil, nostr.Now())
	if err := storage.StoreEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	if err := storage.Snapshot(ctx, dest); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	copied, err := New(ctx, &config.Storage{Driver: "sqlite", SQLitePath: dest, QueryLimit: 500})
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer copied.Close()

	got, err := copied.GetEvent(ctx, ev.ID)
	if err != nil || got == nil {
		t.Fatalf("snapshot lost event: %v", err)
	}

	if size, err := storage.DatabaseSize(); err != nil || size == 0 {
		t.Errorf("DatabaseSize() = %d, %v", size, err)
	}
}
