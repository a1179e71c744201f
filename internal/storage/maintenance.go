package storage

import (
	"context"
	"fmt"
	"os"
	"time"
)

// KindCount is the number of cached events of one kind
type KindCount struct {
	Kind  int   `db:"kind"`
	Count int64 `db:"count"`
}

// CountEventsByKind returns how many events of each kind are cached
func (s *Storage) CountEventsByKind(ctx context.Context) ([]KindCount, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var counts []KindCount
	err := s.db.SelectContext(ctx, &counts,
		`SELECT kind, COUNT(*) AS count FROM event GROUP BY kind ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	return counts, nil
}

// EventTimeRange returns the creation times of the oldest and newest cached
// events. Both are nil when the cache is empty.
func (s *Storage) EventTimeRange(ctx context.Context) (oldest, newest *time.Time, err error) {
	if s.db == nil {
		return nil, nil, fmt.Errorf("database not initialized")
	}

	var bounds struct {
		Oldest *int64 `db:"oldest"`
		Newest *int64 `db:"newest"`
	}
	if err := s.db.GetContext(ctx, &bounds,
		`SELECT MIN(created_at) AS oldest, MAX(created_at) AS newest FROM event`); err != nil {
		return nil, nil, fmt.Errorf("failed to read event time range: %w", err)
	}

	if bounds.Oldest != nil {
		t := time.Unix(*bounds.Oldest, 0)
		oldest = &t
	}
	if bounds.Newest != nil {
		t := time.Unix(*bounds.Newest, 0)
		newest = &t
	}
	return oldest, newest, nil
}

// DatabaseSize returns the size of the database file in bytes
func (s *Storage) DatabaseSize() (int64, error) {
	info, err := os.Stat(s.config.SQLitePath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.config.SQLitePath
}

// DeleteEventsBefore removes cached events created before cutoff. Events
// authored by any of keep survive.
func (s *Storage) DeleteEventsBefore(ctx context.Context, cutoff time.Time, keep ...string) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `DELETE FROM event WHERE created_at < ?`
	args := []any{cutoff.Unix()}
	for _, pubkey := range keep {
		query += ` AND pubkey != ?`
		args = append(args, pubkey)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return res.RowsAffected()
}

// Snapshot writes a consistent copy of the database to dest, which must not
// exist yet
func (s *Storage) Snapshot(ctx context.Context, dest string) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}
