// Package notify broadcasts engine notifications to interested listeners.
//
// Deliveries never block the sender: each subscriber has a buffered
// channel and a full buffer drops the notification. Changed signals may be
// coalesced per view with a debounce window.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/ops"
)

// Notification is one of CommentArrived, ReactionArrived or Changed
type Notification interface {
	notification()
}

// CommentArrived is sent when a comment for PostID is seen
type CommentArrived struct {
	PostID string
	Event  *nostr.Event
}

// ReactionArrived is sent when a reaction for TargetID is seen
type ReactionArrived struct {
	TargetID string
	Author   string
	Content  string
	Event    *nostr.Event
}

// Changed is sent when a synchronized view was modified
type Changed struct {
	View string
}

func (CommentArrived) notification()  {}
func (ReactionArrived) notification() {}
func (Changed) notification()         {}

const subscriberBuffer = 64

// Hub fans notifications out to subscribers
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]chan Notification

	debounce   time.Duration
	debounceMu sync.Mutex
	debouncers map[string]func(func())

	dropped atomic.Int64
	logger  *ops.Logger
}

// NewHub creates a hub. A positive debounce coalesces Changed signals per view.
func NewHub(debounceWindow time.Duration, logger *ops.Logger) *Hub {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Hub{
		subs:       make(map[uuid.UUID]chan Notification),
		debounce:   debounceWindow,
		debouncers: make(map[string]func(func())),
		logger:     logger.WithComponent("notify"),
	}
}

// Subscribe returns a notification channel and a cancel func. Cancel closes
// the channel and may be called more than once.
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	id := uuid.New()
	ch := make(chan Notification, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Dropped returns how many deliveries were lost to full subscriber buffers
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) publish(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.dropped.Add(1)
			h.logger.Debug("notification dropped", "subscriber", id.String())
		}
	}
}

func (h *Hub) CommentArrived(postID string, ev *nostr.Event) {
	h.publish(CommentArrived{PostID: postID, Event: ev})
}

func (h *Hub) ReactionArrived(targetID, author, content string, ev *nostr.Event) {
	h.publish(ReactionArrived{TargetID: targetID, Author: author, Content: content, Event: ev})
}

func (h *Hub) Changed(view string) {
	h.changed(view, nil)
}

// changed delivers Changed{view}, coalesced when debouncing. live is checked
// again at delivery time.
func (h *Hub) changed(view string, live func() bool) {
	deliver := func() {
		if live != nil && !live() {
			return
		}
		h.publish(Changed{View: view})
	}

	if h.debounce <= 0 {
		deliver()
		return
	}

	h.debounceMu.Lock()
	d, ok := h.debouncers[view]
	if !ok {
		d = debounce.New(h.debounce)
		h.debouncers[view] = d
	}
	h.debounceMu.Unlock()

	d(deliver)
}

// Close closes every subscriber channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
