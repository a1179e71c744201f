package nostr

import (
	"context"
	"fmt"
	"strings"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip77"
)

// NegentropySync reconciles store with every connected relay that advertises
// NIP-77, pulling down events matching filter that store lacks. It returns
// false when no relay could be reconciled, so the caller falls back to REQ.
func (c *Client) NegentropySync(ctx context.Context, store eventstore.Store, filter nostr.Filter) (bool, error) {
	wrapper := &eventstore.RelayWrapper{Store: store}

	synced := 0
	var lastErr error

	for _, url := range c.URLs() {
		caps, err := c.GetRelayCapabilities(ctx, url)
		if err != nil {
			c.logger.Debug("capability check failed, using REQ", "relay", url, "error", err)
			continue
		}
		if !caps.SupportsNegentropy {
			continue
		}

		syncCtx, cancel := context.WithTimeout(ctx, c.QueryTimeout())
		err = nip77.NegentropySync(syncCtx, wrapper, url, filter, nip77.Down)
		cancel()

		if err != nil {
			if isNegentropyUnsupportedError(err) {
				c.logger.Info("relay rejected negentropy, using REQ", "relay", url, "error", err)
				c.markNegentropyUnsupported(url)
				continue
			}
			lastErr = fmt.Errorf("negentropy sync with %s failed: %w", url, err)
			continue
		}

		c.logger.Debug("negentropy sync complete", "relay", url)
		synced++
	}

	if synced == 0 && lastErr != nil {
		return false, lastErr
	}
	return synced > 0, nil
}

// isNegentropyUnsupportedError checks if an error indicates NIP-77 is not supported
func isNegentropyUnsupportedError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"unsupported", "unknown message", "neg-open", "neg-err", "invalid"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
