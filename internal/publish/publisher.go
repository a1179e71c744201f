// Package publish creates, signs and sends the user's posts, comments,
// reactions and quotes.
//
// Preconditions are checked before any network I/O: a publish without a
// relay connection fails with errs.ErrNotConnected and one without a
// signing key with errs.ErrNoSigningKey. Every published event is written
// to the local cache, so counts derived from the cache reflect it at once.
package publish

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/errs"
	"github.com/sandwichfarm/strand/internal/facade"
	"github.com/sandwichfarm/strand/internal/keys"
	"github.com/sandwichfarm/strand/internal/ops"
	"github.com/sandwichfarm/strand/internal/tags"
)

// Event kinds the publisher writes
const (
	KindNote     = 1
	KindReaction = 7
)

// Signer signs events and attests them with the client key
type Signer interface {
	Sign(content string, t nostr.Tags, kind int, createdAt nostr.Timestamp, kp keys.Keypair) (*nostr.Event, error)
	AddClientSignatureTag(t nostr.Tags, content string, createdAt nostr.Timestamp) (nostr.Tags, error)
}

// KeySource provides the user's signing key once it is resolved
type KeySource interface {
	Keypair() (keys.Keypair, bool)
}

// ReactionState tells whether a user currently likes an event
type ReactionState interface {
	HasUserReacted(ctx context.Context, eventID, selfKey string) bool
}

// Publisher publishes events through the event store
type Publisher struct {
	store  facade.EventStore
	signer Signer
	keys   KeySource
	state  ReactionState
	logger *ops.Logger
	now    func() time.Time

	mu  sync.Mutex
	err error
}

// New creates a publisher. state is used by ToggleReaction and may be nil,
// in which case a toggle always likes.
func New(store facade.EventStore, signer Signer, keySource KeySource, state ReactionState, logger *ops.Logger) *Publisher {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Publisher{
		store:  store,
		signer: signer,
		keys:   keySource,
		state:  state,
		logger: logger.WithComponent("publish"),
		now:    time.Now,
	}
}

// PublishPost publishes a top-level note. mentions maps usernames written
// as @name in content to resolved public keys.
func (p *Publisher) PublishPost(ctx context.Context, content string, mentions map[string]string) (*nostr.Event, error) {
	return p.publish(ctx, KindNote, content, tags.Context{Mentions: mentions})
}

// PublishComment publishes a comment on rootID
func (p *Publisher) PublishComment(ctx context.Context, rootID, content string, mentions map[string]string) (*nostr.Event, error) {
	return p.publish(ctx, KindNote, content, tags.Context{
		Reply:    &tags.Reply{RootID: rootID},
		Mentions: mentions,
	})
}

// PublishReaction publishes a reaction to target. An empty content is a like.
func (p *Publisher) PublishReaction(ctx context.Context, target *nostr.Event, content string) (*nostr.Event, error) {
	if content == "" {
		content = "+"
	}
	return p.publish(ctx, KindReaction, content, tags.Context{
		Reaction: &tags.Reaction{TargetID: target.ID, TargetAuthor: target.PubKey},
	})
}

// ToggleReaction withdraws the user's like of target, or likes it when the
// user does not currently like it
func (p *Publisher) ToggleReaction(ctx context.Context, target *nostr.Event) (*nostr.Event, error) {
	kp, err := p.preconditions()
	if err != nil {
		p.record(err)
		return nil, err
	}

	content := "+"
	if p.state != nil && p.state.HasUserReacted(ctx, target.ID, kp.Public) {
		content = "-"
	}
	return p.PublishReaction(ctx, target, content)
}

// PublishQuote publishes a note quoting quoted
func (p *Publisher) PublishQuote(ctx context.Context, quoted *nostr.Event, relay, content string, mentions map[string]string) (*nostr.Event, error) {
	return p.publish(ctx, KindNote, content, tags.Context{
		Quote:    &tags.Quote{ID: quoted.ID, Relay: relay, Author: quoted.PubKey},
		Mentions: mentions,
	})
}

func (p *Publisher) preconditions() (keys.Keypair, error) {
	if !p.store.Connected() {
		return keys.Keypair{}, errs.ErrNotConnected
	}
	if p.keys == nil {
		return keys.Keypair{}, errs.ErrNoSigningKey
	}
	kp, ok := p.keys.Keypair()
	if !ok {
		return keys.Keypair{}, errs.ErrNoSigningKey
	}
	return kp, nil
}

// Err returns the failure of the last publish, or nil when it succeeded
func (p *Publisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Publisher) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Publisher) publish(ctx context.Context, kind int, content string, c tags.Context) (*nostr.Event, error) {
	ev, err := p.send(ctx, kind, content, c)
	p.record(err)
	return ev, err
}

func (p *Publisher) send(ctx context.Context, kind int, content string, c tags.Context) (*nostr.Event, error) {
	kp, err := p.preconditions()
	if err != nil {
		return nil, err
	}

	createdAt := nostr.Timestamp(p.now().Unix())
	t, err := p.signer.AddClientSignatureTag(tags.Encode(tags.Compose(content, c)), content, createdAt)
	if err != nil {
		return nil, err
	}

	ev, err := p.signer.Sign(content, t, kind, createdAt, kp)
	if err != nil {
		return nil, err
	}

	if err := p.store.PublishEvent(ctx, ev); err != nil {
		p.logger.LogPublish(ev.ID, kind, err)
		return nil, err
	}
	p.logger.LogPublish(ev.ID, kind, nil)

	if err := p.store.CacheEvent(ctx, ev); err != nil {
		p.logger.Warn("failed to cache published event", "event_id", ev.ID, "error", err)
	}
	return ev, nil
}
