package nostr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/ops"
)

// Client provides a high-level interface for interacting with the configured relays
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
	logger      *ops.Logger

	mu     sync.Mutex
	relays map[string]*nostr.Relay
	closed bool

	caps *xsync.MapOf[string, *Capabilities]
}

// New creates a new relay client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays, logger *ops.Logger) *Client {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Client{
		pool:        nostr.NewSimplePool(ctx),
		relayConfig: relayConfig,
		logger:      logger.WithComponent("relay"),
		relays:      make(map[string]*nostr.Relay),
		caps:        xsync.NewMapOf[string, *Capabilities](),
	}
}

// Pool returns the underlying SimplePool for advanced operations
func (c *Client) Pool() *nostr.SimplePool {
	return c.pool
}

// URLs returns the configured relay endpoints
func (c *Client) URLs() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.URLs
}

// Connect dials every configured relay, retrying each with exponential
// backoff. It succeeds when at least one relay is connected.
func (c *Client) Connect(ctx context.Context) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("client closed")
	}

	urls := c.URLs()
	if len(urls) == 0 {
		return 0, fmt.Errorf("no relays configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.ConnectTimeout())
	defer cancel()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		connected int
		lastErr   error
	)

	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			relay, err := c.ensureRelay(ctx, url)
			c.logger.LogRelayConnection(url, err == nil, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return
			}
			connected++

			c.mu.Lock()
			c.relays[url] = relay
			c.mu.Unlock()
		}(url)
	}
	wg.Wait()

	if connected == 0 {
		return 0, fmt.Errorf("failed to connect to any relay: %w", lastErr)
	}
	return connected, nil
}

func (c *Client) ensureRelay(ctx context.Context, url string) (*nostr.Relay, error) {
	var relay *nostr.Relay

	operation := func() error {
		r, err := c.pool.EnsureRelay(url)
		if err != nil {
			return err
		}
		relay = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("relay connect retry", "relay", url, "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, c.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return relay, nil
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	if c.relayConfig != nil {
		if ms := c.relayConfig.Policy.BackoffMs; len(ms) > 0 {
			b.InitialInterval = time.Duration(ms[0]) * time.Millisecond
			if len(ms) > 1 {
				b.MaxInterval = time.Duration(ms[1]) * time.Millisecond
			}
		}
	}

	retries := 0
	if c.relayConfig != nil && c.relayConfig.Policy.MaxRetries > 0 {
		retries = c.relayConfig.Policy.MaxRetries
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Connected reports whether any relay connection is currently open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, relay := range c.relays {
		if relay.IsConnected() {
			return true
		}
	}
	return false
}

// Relays returns the currently connected relay handles
func (c *Client) Relays() []*nostr.Relay {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*nostr.Relay, 0, len(c.relays))
	for _, relay := range c.relays {
		if relay.IsConnected() {
			out = append(out, relay)
		}
	}
	return out
}

// FetchEvents fetches events matching the filter and waits for EOSE from every relay
func (c *Client) FetchEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.QueryTimeout())
	defer cancel()

	seen := make(map[string]bool)
	events := make([]*nostr.Event, 0)

	for relayEvent := range c.pool.SubManyEose(ctx, c.URLs(), nostr.Filters{filter}) {
		if relayEvent.Event == nil || seen[relayEvent.Event.ID] {
			continue
		}
		seen[relayEvent.Event.ID] = true
		events = append(events, relayEvent.Event)
	}

	return events, nil
}

// FetchEvent fetches a single event by ID. A miss returns nil with no error.
func (c *Client) FetchEvent(ctx context.Context, eventID string) (*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.QueryTimeout())
	defer cancel()

	result := c.pool.QuerySingle(ctx, c.URLs(), nostr.Filter{IDs: []string{eventID}})
	if result == nil || result.Event == nil {
		return nil, nil
	}

	return result.Event, nil
}

// PublishEvent publishes an event to every relay and succeeds if at least one accepts it
func (c *Client) PublishEvent(ctx context.Context, event *nostr.Event) error {
	ctx, cancel := context.WithTimeout(ctx, c.QueryTimeout())
	defer cancel()

	results := c.pool.PublishMany(ctx, c.URLs(), *event)

	var lastErr error
	successCount := 0

	for result := range results {
		if result.Error != nil {
			lastErr = result.Error
			c.logger.Debug("relay rejected event", "relay", result.RelayURL, "event_id", event.ID, "error", result.Error)
		} else {
			successCount++
		}
	}

	if successCount == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no relay acknowledged the event")
		}
		return fmt.Errorf("failed to publish to any relay: %w", lastErr)
	}

	return nil
}

// SubscribeEvents subscribes to events matching the filter on every relay.
// The returned channel is closed when ctx is cancelled.
func (c *Client) SubscribeEvents(ctx context.Context, filter nostr.Filter) <-chan *nostr.Event {
	eventChan := make(chan *nostr.Event, 100)

	go func() {
		defer close(eventChan)

		c.logger.Debug("subscription opened", "relays", len(c.URLs()), "kinds", filter.Kinds)

		received := 0
		for relayEvent := range c.pool.SubMany(ctx, c.URLs(), nostr.Filters{filter}) {
			if relayEvent.Event == nil {
				continue
			}
			received++

			select {
			case eventChan <- relayEvent.Event:
			case <-ctx.Done():
				c.logger.Debug("subscription closed", "received", received)
				return
			}
		}

		c.logger.Debug("subscription closed", "received", received)
	}()

	return eventChan
}

// Disconnect closes the open relay connections. The client can connect again afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for url, relay := range c.relays {
		// the pool would otherwise hand the closed relay back on reconnect
		c.pool.Relays.Delete(nostr.NormalizeURL(url))
		if err := relay.Close(); err != nil {
			c.logger.Debug("relay close failed", "relay", url, "error", err)
		}
		c.logger.LogRelayConnection(url, false, nil)
	}
	c.relays = make(map[string]*nostr.Relay)
}

// Close closes all relay connections permanently
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.relays = make(map[string]*nostr.Relay)
	c.mu.Unlock()

	c.pool.Close("client shutting down")
}

// ConnectTimeout returns the configured connect timeout
func (c *Client) ConnectTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.ConnectTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.ConnectTimeoutMs) * time.Millisecond
}

// QueryTimeout returns the configured per-query timeout
func (c *Client) QueryTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.QueryTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.QueryTimeoutMs) * time.Millisecond
}
