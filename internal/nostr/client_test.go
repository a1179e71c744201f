package nostr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/ops"
	"github.com/sandwichfarm/strand/internal/storage"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Relays{
		URLs: []string{"wss://relay.test"},
		Policy: config.RelayPolicy{
			ConnectTimeoutMs: 30000,
		},
	}

	client := New(ctx, cfg, nil)
	if client == nil {
		t.Fatal("Expected client, got nil")
	}

	if client.Pool() == nil {
		t.Error("Expected pool to be initialized")
	}

	defer client.Close()

	if client.Connected() {
		t.Error("Expected new client to be disconnected")
	}
}

func TestURLs(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Relays
		expected []string
	}{
		{
			name: "with relays",
			cfg: &config.Relays{
				URLs: []string{"wss://relay1.test", "wss://relay2.test"},
			},
			expected: []string{"wss://relay1.test", "wss://relay2.test"},
		},
		{
			name:     "nil config",
			cfg:      nil,
			expected: []string{},
		},
		{
			name:     "empty relays",
			cfg:      &config.Relays{URLs: []string{}},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			client := New(ctx, tt.cfg, ops.Discard())
			defer client.Close()

			relays := client.URLs()
			if len(relays) != len(tt.expected) {
				t.Errorf("Expected %d relays, got %d", len(tt.expected), len(relays))
			}
		})
	}
}

func TestTimeouts(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Relays
		connect time.Duration
		query   time.Duration
	}{
		{
			name: "with timeouts",
			cfg: &config.Relays{
				Policy: config.RelayPolicy{ConnectTimeoutMs: 60000, QueryTimeoutMs: 5000},
			},
			connect: 60 * time.Second,
			query:   5 * time.Second,
		},
		{
			name:    "nil config",
			cfg:     nil,
			connect: 30 * time.Second,
			query:   30 * time.Second,
		},
		{
			name: "zero timeout",
			cfg: &config.Relays{
				Policy: config.RelayPolicy{ConnectTimeoutMs: 0},
			},
			connect: 30 * time.Second,
			query:   30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			client := New(ctx, tt.cfg, nil)
			defer client.Close()

			if got := client.ConnectTimeout(); got != tt.connect {
				t.Errorf("Expected connect timeout %v, got %v", tt.connect, got)
			}
			if got := client.QueryTimeout(); got != tt.query {
				t.Errorf("Expected query timeout %v, got %v", tt.query, got)
			}
		})
	}
}

func TestConnectWithoutRelays(t *testing.T) {
	client := New(context.Background(), &config.Relays{}, nil)
	defer client.Close()

	if _, err := client.Connect(context.Background()); err == nil {
		t.Error("Expected error when no relays are configured")
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := &config.Relays{
		URLs: []string{"ws://127.0.0.1:1"},
		Policy: config.RelayPolicy{
			ConnectTimeoutMs: 2000,
			MaxRetries:       1,
			BackoffMs:        []int{10, 20},
		},
	}
	client := New(context.Background(), cfg, nil)
	defer client.Close()

	n, err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("Expected connect error for unreachable relay")
	}
	if n != 0 {
		t.Errorf("Expected 0 connected relays, got %d", n)
	}
	if client.Connected() {
		t.Error("Expected client to stay disconnected")
	}
}

func TestConnectAfterClose(t *testing.T) {
	client := New(context.Background(), &config.Relays{URLs: []string{"wss://relay.test"}}, nil)
	client.Close()
	client.Close()

	if _, err := client.Connect(context.Background()); err == nil {
		t.Error("Expected error connecting a closed client")
	}
}

func TestIsNegentropyUnsupportedError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("NEG-ERR: unsupported"), true},
		{errors.New("unknown message type"), true},
		{errors.New("connection reset by peer"), false},
	}

	for _, tt := range tests {
		if got := isNegentropyUnsupportedError(tt.err); got != tt.want {
			t.Errorf("isNegentropyUnsupportedError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGetRelayCapabilities(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Accept") != "application/nostr+json" {
			t.Errorf("Expected NIP-11 accept header, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/nostr+json")
		w.Write([]byte(`{"name":"test","software":"strfry","version":"1.0","supported_nips":[1,11,77]}`))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := New(context.Background(), &config.Relays{URLs: []string{url}}, nil)
	defer client.Close()

	caps, err := client.GetRelayCapabilities(context.Background(), url)
	if err != nil {
		t.Fatalf("GetRelayCapabilities() error = %v", err)
	}
	if !caps.SupportsNegentropy || caps.Software != "strfry" {
		t.Errorf("Unexpected capabilities: %+v", caps)
	}

	if _, err := client.GetRelayCapabilities(context.Background(), url); err != nil {
		t.Fatalf("GetRelayCapabilities() second call error = %v", err)
	}
	if requests.Load() != 1 {
		t.Errorf("Expected cached capabilities on second call, got %d requests", requests.Load())
	}

	client.markNegentropyUnsupported(url)
	caps, _ = client.GetRelayCapabilities(context.Background(), url)
	if caps.SupportsNegentropy {
		t.Error("Expected negentropy to be marked unsupported")
	}
	if caps.Software != "strfry" {
		t.Error("Expected marking to keep the advertised software")
	}
}

func TestInspectRelays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/nostr+json")
		w.Write([]byte(`{"software":"khatru","version":"0.19","supported_nips":[1,11]}`))
	}))
	defer srv.Close()

	good := "ws" + strings.TrimPrefix(srv.URL, "http")
	bad := "ws://127.0.0.1:1"
	client := New(context.Background(), &config.Relays{URLs: []string{good, bad}}, nil)
	defer client.Close()

	health := client.InspectRelays(context.Background())
	if len(health) != 2 {
		t.Fatalf("Expected 2 relays, got %d", len(health))
	}
	if health[0].Software != "khatru" || health[0].Negentropy || health[0].Connected {
		t.Errorf("Unexpected health for reachable relay: %+v", health[0])
	}
	if health[1].InspectError == "" {
		t.Error("Expected inspect error for unreachable relay")
	}
}

// startRelay serves a local khatru relay backed by a temporary SQLite store
func startRelay(t *testing.T) string {
	t.Helper()

	st, err := storage.New(context.Background(), &config.Storage{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "relay.db"),
		QueryLimit: 500,
	})
	if err != nil {
		t.Fatalf("Failed to create relay storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(st.Relay())
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPublishAndFetch(t *testing.T) {
	url := startRelay(t)

	ctx := context.Background()
	client := New(ctx, &config.Relays{
		URLs:   []string{url},
		Policy: config.RelayPolicy{ConnectTimeoutMs: 5000, QueryTimeoutMs: 5000},
	}, nil)
	defer client.Close()

	n, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if n != 1 || !client.Connected() {
		t.Fatalf("Expected one connected relay, got %d", n)
	}

	event := &nostr.Event{Kind: 1, Content: "hello relay", CreatedAt: nostr.Now(), Tags: nostr.Tags{}}
	if err := event.Sign(nostr.GeneratePrivateKey()); err != nil {
		t.Fatalf("Failed to sign event: %v", err)
	}

	if err := client.PublishEvent(ctx, event); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	events, err := client.FetchEvents(ctx, nostr.Filter{Kinds: []int{1}, Limit: 10})
	if err != nil {
		t.Fatalf("FetchEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].ID != event.ID {
		t.Fatalf("Expected the published event back, got %d events", len(events))
	}

	single, err := client.FetchEvent(ctx, event.ID)
	if err != nil || single == nil || single.ID != event.ID {
		t.Fatalf("FetchEvent() = %v, %v", single, err)
	}

	client.Disconnect()
	if client.Connected() {
		t.Error("Expected client to be disconnected")
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	url := startRelay(t)

	ctx := context.Background()
	client := New(ctx, &config.Relays{
		URLs:   []string{url},
		Policy: config.RelayPolicy{ConnectTimeoutMs: 5000, QueryTimeoutMs: 5000},
	}, nil)
	defer client.Close()

	if _, err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	first := client.Relays()[0]

	client.Disconnect()
	if client.Connected() {
		t.Fatal("Expected no connection after Disconnect")
	}

	if _, err := client.Connect(ctx); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if !client.Connected() {
		t.Fatal("Expected connection after reconnect")
	}
	if client.Relays()[0] == first {
		t.Error("Expected a fresh relay handle after reconnect")
	}
}
