package cache

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	event   *nostr.Event
	expires time.Time
}

// Memory is an in-process cache backed by a concurrent map
type Memory struct {
	entries *xsync.MapOf[string, memoryEntry]
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates an in-process cache. A zero ttl keeps entries forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: xsync.NewMapOf[string, memoryEntry](),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, id string) (*nostr.Event, error) {
	entry, ok := m.entries.Load(id)
	if !ok {
		return nil, nil
	}
	if !entry.expires.IsZero() && m.now().After(entry.expires) {
		m.entries.Delete(id)
		return nil, nil
	}
	return entry.event, nil
}

func (m *Memory) Set(_ context.Context, event *nostr.Event) error {
	entry := memoryEntry{event: event}
	if m.ttl > 0 {
		entry.expires = m.now().Add(m.ttl)
	}
	m.entries.Store(event.ID, entry)
	return nil
}

// Len returns the number of entries, expired ones included
func (m *Memory) Len() int {
	return m.entries.Size()
}

// Prune drops expired entries and returns how many were removed
func (m *Memory) Prune() int {
	now := m.now()
	removed := 0
	m.entries.Range(func(id string, entry memoryEntry) bool {
		if !entry.expires.IsZero() && now.After(entry.expires) {
			m.entries.Delete(id)
			removed++
		}
		return true
	})
	return removed
}

func (m *Memory) Close() error {
	m.entries.Clear()
	return nil
}
