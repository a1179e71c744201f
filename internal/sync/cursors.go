package sync

import (
	"github.com/nbd-wtf/go-nostr"
)

// Cursor tracks backward pagination through a descending view. It holds the
// CreatedAt of the oldest view entry. Once a page brings no new entries the
// cursor is exhausted and stays so until Reset, even if later merges move it.
type Cursor struct {
	oldest    nostr.Timestamp
	set       bool
	exhausted bool
}

// Set records the oldest timestamp of the view
func (c *Cursor) Set(ts nostr.Timestamp) {
	c.oldest = ts
	c.set = true
}

// Clear marks the cursor absent (the view is empty)
func (c *Cursor) Clear() {
	c.oldest = 0
	c.set = false
}

// Exhaust marks the end of history
func (c *Cursor) Exhaust() {
	c.exhausted = true
}

// Reset clears the cursor and its exhaustion
func (c *Cursor) Reset() {
	*c = Cursor{}
}

// Oldest returns the cursor value, or false when absent or exhausted
func (c *Cursor) Oldest() (nostr.Timestamp, bool) {
	if !c.set || c.exhausted {
		return 0, false
	}
	return c.oldest, true
}

// HasMore reports whether another page may exist
func (c *Cursor) HasMore() bool {
	_, ok := c.Oldest()
	return ok
}

// Until returns the upper bound for the next page, one second below the
// oldest entry
func (c *Cursor) Until() (nostr.Timestamp, bool) {
	ts, ok := c.Oldest()
	if !ok {
		return 0, false
	}
	return ts - 1, true
}

// UpdateFromView sets the cursor from the last element of a descending view
func (c *Cursor) UpdateFromView(view []*nostr.Event) {
	if len(view) == 0 {
		c.Clear()
		return
	}
	c.Set(view[len(view)-1].CreatedAt)
}
