package sync

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/facade"
	"github.com/sandwichfarm/strand/internal/ops"
)

// State is the lifecycle state of a synchronizer
type State int

const (
	StateUninitialized State = iota
	StateHydrating
	StateConnecting
	StateLive
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHydrating:
		return "hydrating"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// listener runs one goroutine per live subscription and feeds every event
// to a handler
type listener struct {
	cancel context.CancelFunc
	subs   []*facade.Subscription
	wg     sync.WaitGroup
}

// listen opens a subscription per query. If any fails, the ones already
// opened are closed again.
func listen(ctx context.Context, store facade.EventStore, queries []facade.LiveQuery, handle func(context.Context, *nostr.Event), logger *ops.Logger) (*listener, error) {
	ctx, cancel := context.WithCancel(ctx)
	l := &listener{cancel: cancel}

	for _, q := range queries {
		sub, err := store.ListenToEvents(ctx, q)
		if err != nil {
			l.stop()
			return nil, err
		}
		l.subs = append(l.subs, sub)

		l.wg.Add(1)
		go func(sub *facade.Subscription, kind int) {
			defer l.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.LogPanic(r, string(debug.Stack()))
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-sub.Events():
					if !ok {
						logger.Debug("live subscription ended", "kind", kind)
						return
					}
					handle(ctx, ev)
				}
			}
		}(sub, q.Kind)
	}

	return l, nil
}

// stop closes every subscription and waits for the goroutines. It must not
// be called while holding a lock the handler takes.
func (l *listener) stop() {
	if l == nil {
		return
	}
	l.cancel()
	for _, sub := range l.subs {
		sub.Close()
	}
	l.wg.Wait()
}
