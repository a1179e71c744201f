package sync

import (
	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/facade"
)

// Event kinds the synchronizers work with
const (
	KindNote     = 1
	KindReaction = 7
)

// FilterBuilder creates facade queries based on sync configuration
type FilterBuilder struct {
	config *config.Sync
}

// NewFilterBuilder creates a new filter builder. Zero sizes fall back to defaults.
func NewFilterBuilder(cfg *config.Sync) *FilterBuilder {
	defaults := config.Default().Sync
	c := config.Sync{}
	if cfg != nil {
		c = *cfg
	}
	if c.PageSize <= 0 {
		c.PageSize = defaults.PageSize
	}
	if c.NarrowScan <= 0 {
		c.NarrowScan = defaults.NarrowScan
	}
	if c.WideScan <= 0 {
		c.WideScan = defaults.WideScan
	}
	if c.CommentLimit <= 0 {
		c.CommentLimit = defaults.CommentLimit
	}
	return &FilterBuilder{config: &c}
}

// HydrateQuery reads the first page of cached notes
func (fb *FilterBuilder) HydrateQuery() facade.CacheQuery {
	return facade.CacheQuery{Kind: KindNote, Limit: fb.config.PageSize}
}

// SinceQuery requests notes newer than since. A nil since requests the newest page.
func (fb *FilterBuilder) SinceQuery(since *nostr.Timestamp) facade.PastQuery {
	return facade.PastQuery{
		Kind:     KindNote,
		Since:    since,
		Limit:    fb.config.PageSize,
		UseCache: true,
	}
}

// PageQuery requests the page of notes at or before until
func (fb *FilterBuilder) PageQuery(until nostr.Timestamp) facade.PastQuery {
	return facade.PastQuery{
		Kind:     KindNote,
		Until:    &until,
		Limit:    fb.config.PageSize,
		UseCache: true,
	}
}

// RootScanQueries returns the narrow and wide scans used to find an uncached post
func (fb *FilterBuilder) RootScanQueries() []facade.PastQuery {
	return []facade.PastQuery{
		{Kind: KindNote, Limit: fb.config.NarrowScan, UseCache: true},
		{Kind: KindNote, Limit: fb.config.WideScan, UseCache: true},
	}
}

// CommentsQuery requests comments referencing rootID
func (fb *FilterBuilder) CommentsQuery(rootID string) facade.PastQuery {
	return facade.PastQuery{
		Kind:     KindNote,
		Limit:    fb.config.CommentLimit,
		UseCache: true,
		TagKey:   "e",
		Tags:     []string{rootID},
	}
}

// CachedCommentsQuery reads cached comments referencing rootID
func (fb *FilterBuilder) CachedCommentsQuery(rootID string) facade.CacheQuery {
	return facade.CacheQuery{
		Kind:     KindNote,
		Limit:    fb.config.CommentLimit,
		TagKey:   "e",
		TagValue: rootID,
	}
}

// LiveQuery subscribes to new events of kind
func (fb *FilterBuilder) LiveQuery(kind int) facade.LiveQuery {
	return facade.LiveQuery{Kind: kind}
}
