package aggregates

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/tags"
)

// Reaction contents with protocol meaning
const (
	ReactionLike   = "+"
	ReactionUnlike = "-"
)

// Ledger maps an author key to that author's newest reaction for one target.
// Older reactions are superseded; an "-" withdraws an earlier "+".
type Ledger map[string]*nostr.Event

// BuildLedger keeps, per author, the newest kind 7 event whose first "e" tag
// references targetID. Equal timestamps go to the greater event ID.
//
// The newest reaction wins on its claimed CreatedAt. An author with a skewed
// clock can therefore override their own later reactions.
func BuildLedger(targetID string, events []*nostr.Event) Ledger {
	ledger := make(Ledger)
	for _, ev := range events {
		if ev.Kind != kindReaction {
			continue
		}
		if target, ok := tags.FirstEventRef(ev.Tags); !ok || target != targetID {
			continue
		}

		current, ok := ledger[ev.PubKey]
		if !ok || newer(ev, current) {
			ledger[ev.PubKey] = ev
		}
	}
	return ledger
}

func newer(a, b *nostr.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// Content returns the normalized current reaction of author, or "" when
// the author never reacted
func (l Ledger) Content(author string) string {
	ev, ok := l[author]
	if !ok {
		return ""
	}
	return normalizeReaction(ev.Content)
}

// Liked reports whether author's current reaction is a like
func (l Ledger) Liked(author string) bool {
	return l.Content(author) == ReactionLike
}

// Likes counts authors whose current reaction is a like
func (l Ledger) Likes() int {
	count := 0
	for author := range l {
		if l.Liked(author) {
			count++
		}
	}
	return count
}

// normalizeReaction treats an empty reaction as a like
func normalizeReaction(content string) string {
	if content == "" {
		return ReactionLike
	}
	return content
}

// ReactionProcessor applies the inbox noise filter to reaction contents
type ReactionProcessor struct {
	config *config.Inbox
}

// NewReactionProcessor creates a new reaction processor
func NewReactionProcessor(cfg *config.Inbox) *ReactionProcessor {
	return &ReactionProcessor{config: cfg}
}

// Breakdown counts ledger entries by content. Withdrawn reactions are not
// counted.
func (rp *ReactionProcessor) Breakdown(ledger Ledger) []ReactionStat {
	counts := make(map[string]int)
	for author := range ledger {
		reaction := ledger.Content(author)
		if reaction == ReactionUnlike || !rp.isAllowedReaction(reaction) {
			continue
		}
		counts[reaction]++
	}

	stats := make([]ReactionStat, 0, len(counts))
	for emoji, count := range counts {
		stats = append(stats, ReactionStat{Emoji: emoji, Count: count})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Emoji < stats[j].Emoji
	})

	return stats
}

// isAllowedReaction checks if a reaction passes noise filters
func (rp *ReactionProcessor) isAllowedReaction(reaction string) bool {
	if rp.config == nil || len(rp.config.NoiseFilters.AllowedReactionChars) == 0 {
		return true
	}

	for _, allowed := range rp.config.NoiseFilters.AllowedReactionChars {
		if reaction == allowed {
			return true
		}
	}

	return false
}

// ReactionStat represents a reaction and its count
type ReactionStat struct {
	Emoji string
	Count int
}

// Top returns at most limit entries of stats. A limit of zero or less keeps all.
func Top(stats []ReactionStat, limit int) []ReactionStat {
	if limit > 0 && len(stats) > limit {
		return stats[:limit]
	}
	return stats
}
