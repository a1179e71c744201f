// Package aggregates derives engagement numbers for posts from the local
// event cache: comment counts, reaction ledgers and reaction breakdowns.
//
// Everything here is read-only. A cache failure yields zero values and is
// logged at debug level.
package aggregates

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/facade"
	"github.com/sandwichfarm/strand/internal/ops"
	"github.com/sandwichfarm/strand/internal/tags"
)

const (
	kindNote     = 1
	kindReaction = 7

	// scanLimit bounds a single cache read; the storage layer may cap it lower
	scanLimit = 5000
)

// CacheReader is the part of the event store the aggregator reads from
type CacheReader interface {
	QueryCachedEvents(ctx context.Context, q facade.CacheQuery) ([]*nostr.Event, error)
}

// Engagement computes engagement aggregates from cached events
type Engagement struct {
	cache     CacheReader
	reactions *ReactionProcessor
	logger    *ops.Logger
}

// Summary holds all aggregates of one event as seen by one user
type Summary struct {
	EventID   string
	Comments  int
	Reactions int
	Reacted   bool
}

// NewEngagement creates an aggregator over cache. cfg may be nil.
func NewEngagement(cache CacheReader, cfg *config.Inbox, logger *ops.Logger) *Engagement {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Engagement{
		cache:     cache,
		reactions: NewReactionProcessor(cfg),
		logger:    logger.WithComponent("aggregates"),
	}
}

// CommentCount returns the number of cached notes whose first "e" tag
// references postID
func (e *Engagement) CommentCount(ctx context.Context, postID string) int {
	events := e.referencing(ctx, kindNote, postID)
	count := 0
	for _, ev := range events {
		if target, ok := tags.FirstEventRef(ev.Tags); ok && target == postID {
			count++
		}
	}
	return count
}

// Ledger returns the newest reaction of every author for eventID
func (e *Engagement) Ledger(ctx context.Context, eventID string) Ledger {
	return BuildLedger(eventID, e.referencing(ctx, kindReaction, eventID))
}

// ReactionCount returns how many authors currently like eventID
func (e *Engagement) ReactionCount(ctx context.Context, eventID string) int {
	return e.Ledger(ctx, eventID).Likes()
}

// HasUserReacted reports whether selfKey currently likes eventID
func (e *Engagement) HasUserReacted(ctx context.Context, eventID, selfKey string) bool {
	return e.Ledger(ctx, eventID).Liked(selfKey)
}

// Summary returns the comment count, the like count and whether selfKey
// likes eventID, reading the reaction ledger once
func (e *Engagement) Summary(ctx context.Context, eventID, selfKey string) Summary {
	ledger := e.Ledger(ctx, eventID)
	return Summary{
		EventID:   eventID,
		Comments:  e.CommentCount(ctx, eventID),
		Reactions: ledger.Likes(),
		Reacted:   ledger.Liked(selfKey),
	}
}

// ReactionBreakdown counts the current reaction of every author by content,
// most frequent first. Reactions outside the configured allow list are left out.
func (e *Engagement) ReactionBreakdown(ctx context.Context, eventID string) []ReactionStat {
	return e.reactions.Breakdown(e.Ledger(ctx, eventID))
}

// referencing reads cached events of kind tagged with eventID
func (e *Engagement) referencing(ctx context.Context, kind int, eventID string) []*nostr.Event {
	events, err := e.cache.QueryCachedEvents(ctx, facade.CacheQuery{
		Kind:     kind,
		Limit:    scanLimit,
		TagKey:   tags.MarkerEvent,
		TagValue: eventID,
	})
	if err != nil {
		e.logger.Debug("cache read failed", "event_id", eventID, "kind", kind, "error", err)
		return nil
	}
	return events
}
