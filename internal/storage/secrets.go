package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSecretNotFound is returned when no secret is stored under a name
var ErrSecretNotFound = errors.New("secret not found")

const secretsSchema = `
CREATE TABLE IF NOT EXISTS secrets (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// runMigrations creates the custom tables that live next to the event store
func (s *Storage) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, secretsSchema); err != nil {
		return fmt.Errorf("failed to create secrets table: %w", err)
	}
	return nil
}

// Secret is a named value in the shared secrets table
type Secret struct {
	Name      string `db:"name"`
	Value     string `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

// GetSecret returns the secret stored under name
func (s *Storage) GetSecret(ctx context.Context, name string) (*Secret, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var secret Secret
	err := s.db.GetContext(ctx, &secret, `SELECT name, value, updated_at FROM secrets WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	return &secret, nil
}

// PutSecret inserts or replaces the secret stored under name
func (s *Storage) PutSecret(ctx context.Context, name, value string) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	secret := Secret{Name: name, Value: value, UpdatedAt: time.Now().Unix()}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT OR REPLACE INTO secrets (name, value, updated_at) VALUES (:name, :value, :updated_at)`, secret)
	if err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}

	return nil
}

// DeleteSecret removes the secret stored under name
func (s *Storage) DeleteSecret(ctx context.Context, name string) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
