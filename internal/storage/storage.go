package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/fiatjaf/khatru"
	"github.com/jmoiron/sqlx"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/config"
)

// Storage is the local on-disk event cache
type Storage struct {
	relay   *khatru.Relay
	backend *sqlite3.SQLite3Backend
	db      *sqlx.DB
	config  *config.Storage
}

// New creates a new Storage instance with the given configuration
func New(ctx context.Context, cfg *config.Storage) (*Storage, error) {
	s := &Storage{
		config: cfg,
	}

	// Initialize the appropriate backend
	switch cfg.Driver {
	case "sqlite":
		if err := s.initSQLite(); err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	// Run migrations for custom tables
	if err := s.runMigrations(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Storage) initSQLite() error {
	if dir := filepath.Dir(s.config.SQLitePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	backend := &sqlite3.SQLite3Backend{
		DatabaseURL: s.config.SQLitePath,
		QueryLimit:  s.config.QueryLimit,
	}
	if err := backend.Init(); err != nil {
		return err
	}

	relay := khatru.NewRelay()
	relay.StoreEvent = append(relay.StoreEvent, backend.SaveEvent)
	relay.QueryEvents = append(relay.QueryEvents, backend.QueryEvents)
	relay.DeleteEvent = append(relay.DeleteEvent, backend.DeleteEvent)
	relay.ReplaceEvent = append(relay.ReplaceEvent, backend.ReplaceEvent)

	s.backend = backend
	s.relay = relay
	// The backend maps columns by json tags; the custom tables use db tags.
	s.db = sqlx.NewDb(backend.DB.DB, "sqlite3")
	return nil
}

// Relay returns the underlying Khatru relay instance
func (s *Storage) Relay() *khatru.Relay {
	return s.relay
}

// Store returns the eventstore backend (used for negentropy reconciliation)
func (s *Storage) Store() eventstore.Store {
	return s.backend
}

// DB returns the underlying database connection (for custom tables)
func (s *Storage) DB() *sqlx.DB {
	return s.db
}

// StoreEvent stores an event. Storing an event that is already cached is a
// successful no-op, so callers can upsert freely.
func (s *Storage) StoreEvent(ctx context.Context, event *nostr.Event) error {
	if s.relay == nil {
		return fmt.Errorf("relay not initialized")
	}

	// Call all StoreEvent handlers
	for _, handler := range s.relay.StoreEvent {
		if err := handler(ctx, event); err != nil {
			if errors.Is(err, eventstore.ErrDupEvent) {
				continue
			}
			return fmt.Errorf("failed to store event: %w", err)
		}
	}

	return nil
}

// EventExists checks if an event already exists in storage (for deduplication)
func (s *Storage) EventExists(ctx context.Context, eventID string) (bool, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	return event != nil, nil
}

// GetEvent returns the cached event with the given ID, or nil if absent
func (s *Storage) GetEvent(ctx context.Context, eventID string) (*nostr.Event, error) {
	filter := nostr.Filter{
		IDs:   []string{eventID},
		Limit: 1,
	}

	events, err := s.QueryEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	return events[0], nil
}

// DeleteEvent deletes an event by ID
func (s *Storage) DeleteEvent(ctx context.Context, eventID string) error {
	if s.relay == nil {
		return fmt.Errorf("relay not initialized")
	}

	// Query the event first (DeleteEvent handlers need the full event)
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to query event before delete: %w", err)
	}
	if event == nil {
		return nil // Event doesn't exist, nothing to delete
	}

	// Call all DeleteEvent handlers
	for _, handler := range s.relay.DeleteEvent {
		if err := handler(ctx, event); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
	}

	return nil
}

// QueryEvents queries events using Nostr filters. Results come back newest first.
func (s *Storage) QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if s.relay == nil {
		return nil, fmt.Errorf("relay not initialized")
	}

	// Use the first QueryEvents handler (eventstore)
	if len(s.relay.QueryEvents) == 0 {
		return nil, fmt.Errorf("no query handlers configured")
	}

	ch, err := s.relay.QueryEvents[0](ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	// Collect events from channel
	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}

	return events, nil
}

// Close closes the storage connections
func (s *Storage) Close() error {
	if s.backend != nil {
		s.backend.Close()
		s.backend = nil
		s.db = nil
	}
	return nil
}
