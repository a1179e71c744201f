package nostr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/ops"
)

// capabilityTTL is how long a NIP-11 lookup result is trusted
const capabilityTTL = 24 * time.Hour

// NIP11RelayInfo represents relay information document (NIP-11)
type NIP11RelayInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	PubKey        string `json:"pubkey"`
	Contact       string `json:"contact"`
	SupportedNIPs []int  `json:"supported_nips"`
	Software      string `json:"software"`
	Version       string `json:"version"`
}

// Capabilities records what a relay advertised
type Capabilities struct {
	URL                string
	SupportsNegentropy bool
	Software           string
	Version            string
	CheckedAt          time.Time
	Expiry             time.Time
}

// GetRelayCapabilities returns the capabilities of url, probing NIP-11 when
// nothing fresh is remembered
func (c *Client) GetRelayCapabilities(ctx context.Context, url string) (*Capabilities, error) {
	if caps, ok := c.caps.Load(url); ok && time.Now().Before(caps.Expiry) {
		return caps, nil
	}

	c.logger.Debug("checking relay capabilities", "relay", url)

	caps := &Capabilities{URL: url}
	info, err := c.fetchNIP11Info(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to detect capabilities: %w", err)
	}

	caps.Software = info.Software
	caps.Version = info.Version
	for _, nip := range info.SupportedNIPs {
		if nip == 77 {
			caps.SupportsNegentropy = true
			break
		}
	}

	caps.CheckedAt = time.Now()
	caps.Expiry = caps.CheckedAt.Add(capabilityTTL)
	c.caps.Store(url, caps)

	return caps, nil
}

// markNegentropyUnsupported remembers that url rejected a negentropy session
func (c *Client) markNegentropyUnsupported(url string) {
	now := time.Now()
	c.caps.Compute(url, func(old *Capabilities, loaded bool) (*Capabilities, bool) {
		caps := &Capabilities{URL: url}
		if loaded {
			copied := *old
			caps = &copied
		}
		caps.SupportsNegentropy = false
		caps.CheckedAt = now
		caps.Expiry = now.Add(capabilityTTL)
		return caps, false
	})
}

// fetchNIP11Info fetches relay information document (NIP-11)
func (c *Client) fetchNIP11Info(ctx context.Context, wsURL string) (*NIP11RelayInfo, error) {
	// Convert ws:// or wss:// to http:// or https://
	httpURL := strings.Replace(wsURL, "ws://", "http://", 1)
	httpURL = strings.Replace(httpURL, "wss://", "https://", 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/nostr+json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch NIP-11 info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NIP-11 request failed: status %d", resp.StatusCode)
	}

	var info NIP11RelayInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to parse NIP-11 response: %w", err)
	}

	return &info, nil
}

// InspectRelays reports connection state and advertised capabilities for
// every configured relay
func (c *Client) InspectRelays(ctx context.Context) []ops.RelayHealth {
	connected := make(map[string]bool)
	for _, relay := range c.Relays() {
		connected[nostr.NormalizeURL(relay.URL)] = true
	}

	urls := c.URLs()
	health := make([]ops.RelayHealth, 0, len(urls))
	for _, url := range urls {
		h := ops.RelayHealth{
			URL:       url,
			Connected: connected[nostr.NormalizeURL(url)],
		}
		caps, err := c.GetRelayCapabilities(ctx, url)
		if err != nil {
			h.InspectError = err.Error()
		} else {
			h.Software = caps.Software
			h.Version = caps.Version
			h.Negentropy = caps.SupportsNegentropy
		}
		health = append(health, h)
	}
	return health
}
