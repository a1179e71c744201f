package ops

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sandwichfarm/strand/internal/storage"
)

// SystemStats contains process statistics
type SystemStats struct {
	Version string
	Commit  string

	GoVersion     string
	NumGoroutines int
	MemAllocMB    float64
	MemSysMB      float64
	NumGC         uint32
}

// CacheStats describes the local event cache
type CacheStats struct {
	Path            string
	TotalEvents     int64
	EventsByKind    []storage.KindCount
	DatabaseSizeMB  float64
	OldestEventTime *time.Time
	NewestEventTime *time.Time
}

// RelayHealth contains health information for a relay
type RelayHealth struct {
	URL        string
	Connected  bool
	Software   string
	Version    string
	Negentropy bool
	InspectError string
}

// SessionStats describes the live relay session
type SessionStats struct {
	State                string
	DroppedNotifications int64
}

// RelayInspector reports the health of every configured relay
type RelayInspector interface {
	InspectRelays(ctx context.Context) []RelayHealth
}

// DiagnosticsCollector collects system diagnostics
type DiagnosticsCollector struct {
	version string
	commit  string
	storage *storage.Storage
	relays  RelayInspector
	session func() SessionStats
}

// NewDiagnosticsCollector creates a new diagnostics collector. relays and
// session may be nil.
func NewDiagnosticsCollector(version, commit string, st *storage.Storage, relays RelayInspector, session func() SessionStats) *DiagnosticsCollector {
	return &DiagnosticsCollector{
		version: version,
		commit:  commit,
		storage: st,
		relays:  relays,
		session: session,
	}
}

// CollectSystemStats collects process statistics
func (d *DiagnosticsCollector) CollectSystemStats() *SystemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemStats{
		Version:       d.version,
		Commit:        d.commit,
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAllocMB:    float64(m.Alloc) / 1024 / 1024,
		MemSysMB:      float64(m.Sys) / 1024 / 1024,
		NumGC:         m.NumGC,
	}
}

// CollectCacheStats collects statistics about the event cache
func (d *DiagnosticsCollector) CollectCacheStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{Path: d.storage.Path()}

	kinds, err := d.storage.CountEventsByKind(ctx)
	if err != nil {
		return nil, err
	}
	stats.EventsByKind = kinds
	for _, k := range kinds {
		stats.TotalEvents += k.Count
	}

	if size, err := d.storage.DatabaseSize(); err == nil {
		stats.DatabaseSizeMB = float64(size) / 1024 / 1024
	}

	oldest, newest, err := d.storage.EventTimeRange(ctx)
	if err == nil {
		stats.OldestEventTime = oldest
		stats.NewestEventTime = newest
	}

	return stats, nil
}

// CollectAll collects all diagnostic information
func (d *DiagnosticsCollector) CollectAll(ctx context.Context) (*Diagnostics, error) {
	diag := &Diagnostics{
		CollectedAt: time.Now(),
		System:      d.CollectSystemStats(),
	}

	cacheStats, err := d.CollectCacheStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect cache stats: %w", err)
	}
	diag.Cache = cacheStats

	if d.relays != nil {
		diag.Relays = d.relays.InspectRelays(ctx)
	}
	if d.session != nil {
		s := d.session()
		diag.Session = &s
	}

	return diag, nil
}

// Diagnostics contains all diagnostic information
type Diagnostics struct {
	CollectedAt time.Time
	System      *SystemStats
	Cache       *CacheStats
	Relays      []RelayHealth
	Session     *SessionStats
}

// FormatAsText formats diagnostics as plain text
func (d *Diagnostics) FormatAsText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== strand status ===\n")
	fmt.Fprintf(&b, "Collected: %s\n\n", d.CollectedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "--- System ---\n")
	fmt.Fprintf(&b, "Version: %s (%s)\n", d.System.Version, d.System.Commit)
	fmt.Fprintf(&b, "Go Version: %s\n", d.System.GoVersion)
	fmt.Fprintf(&b, "Goroutines: %d\n", d.System.NumGoroutines)
	fmt.Fprintf(&b, "Memory: %.2f MB allocated, %.2f MB system\n\n", d.System.MemAllocMB, d.System.MemSysMB)

	fmt.Fprintf(&b, "--- Cache ---\n")
	fmt.Fprintf(&b, "Path: %s\n", d.Cache.Path)
	fmt.Fprintf(&b, "Total Events: %d\n", d.Cache.TotalEvents)
	fmt.Fprintf(&b, "Database Size: %.2f MB\n", d.Cache.DatabaseSizeMB)
	if d.Cache.OldestEventTime != nil {
		fmt.Fprintf(&b, "Oldest Event: %s\n", d.Cache.OldestEventTime.Format(time.RFC3339))
	}
	if d.Cache.NewestEventTime != nil {
		fmt.Fprintf(&b, "Newest Event: %s\n", d.Cache.NewestEventTime.Format(time.RFC3339))
	}
	if len(d.Cache.EventsByKind) > 0 {
		fmt.Fprintf(&b, "Events by Kind:\n")
		for _, k := range d.Cache.EventsByKind {
			fmt.Fprintf(&b, "  Kind %d: %d events\n", k.Kind, k.Count)
		}
	}
	b.WriteString("\n")

	if d.Session != nil {
		fmt.Fprintf(&b, "--- Session ---\n")
		fmt.Fprintf(&b, "State: %s\n", d.Session.State)
		fmt.Fprintf(&b, "Dropped Notifications: %d\n\n", d.Session.DroppedNotifications)
	}

	if len(d.Relays) > 0 {
		fmt.Fprintf(&b, "--- Relay Health ---\n")
		for _, relay := range d.Relays {
			status := "disconnected"
			if relay.Connected {
				status = "connected"
			}
			fmt.Fprintf(&b, "%s: %s\n", relay.URL, status)
			if relay.Software != "" {
				fmt.Fprintf(&b, "  Software: %s %s\n", relay.Software, relay.Version)
			}
			fmt.Fprintf(&b, "  Negentropy: %v\n", relay.Negentropy)
			if relay.InspectError != "" {
				fmt.Fprintf(&b, "  Inspect Error: %s\n", relay.InspectError)
			}
		}
	}

	return b.String()
}
