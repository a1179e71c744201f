package notify

import (
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"
)

// Gate forwards notifications from one synchronizer to a hub while open.
// Once closed, every later delivery is dropped, including debounced Changed
// signals that were scheduled while it was open. A Gate with a nil hub
// swallows everything.
type Gate struct {
	hub  *Hub
	open atomic.Bool
}

// NewGate returns a closed gate over hub
func NewGate(hub *Hub) *Gate {
	return &Gate{hub: hub}
}

func (g *Gate) Open()        { g.open.Store(true) }
func (g *Gate) Close()       { g.open.Store(false) }
func (g *Gate) IsOpen() bool { return g.open.Load() }

func (g *Gate) CommentArrived(postID string, ev *nostr.Event) {
	if g.hub != nil && g.IsOpen() {
		g.hub.CommentArrived(postID, ev)
	}
}

func (g *Gate) ReactionArrived(targetID, author, content string, ev *nostr.Event) {
	if g.hub != nil && g.IsOpen() {
		g.hub.ReactionArrived(targetID, author, content, ev)
	}
}

func (g *Gate) Changed(view string) {
	if g.hub != nil && g.IsOpen() {
		g.hub.changed(view, g.IsOpen)
	}
}
