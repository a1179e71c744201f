package sync

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/tags"
)

// mergeSortDedupe keeps the first occurrence of each ID and sorts newest
// first. Equal timestamps keep their relative order.
func mergeSortDedupe(events []*nostr.Event) []*nostr.Event {
	out := dedupe(events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

// mergeSortAscending is mergeSortDedupe for oldest-first views
func mergeSortAscending(events []*nostr.Event) []*nostr.Event {
	out := dedupe(events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

func dedupe(events []*nostr.Event) []*nostr.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]*nostr.Event, 0, len(events))
	for _, ev := range events {
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out
}

// topLevel drops every event carrying an "e" tag
func topLevel(events []*nostr.Event) []*nostr.Event {
	out := make([]*nostr.Event, 0, len(events))
	for _, ev := range events {
		if !tags.HasEventRef(ev.Tags) {
			out = append(out, ev)
		}
	}
	return out
}

// commentsOf keeps the events whose first "e" tag references rootID
func commentsOf(rootID string, events []*nostr.Event) []*nostr.Event {
	out := make([]*nostr.Event, 0, len(events))
	for _, ev := range events {
		if target, ok := tags.FirstEventRef(ev.Tags); ok && target == rootID {
			out = append(out, ev)
		}
	}
	return out
}

// appendAbsent appends the events of add whose IDs are not in view
func appendAbsent(view, add []*nostr.Event) ([]*nostr.Event, int) {
	present := make(map[string]struct{}, len(view))
	for _, ev := range view {
		present[ev.ID] = struct{}{}
	}

	added := 0
	for _, ev := range add {
		if _, ok := present[ev.ID]; ok {
			continue
		}
		present[ev.ID] = struct{}{}
		view = append(view, ev)
		added++
	}
	return view, added
}
