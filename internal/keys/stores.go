package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sandwichfarm/strand/internal/storage"
)

// SecretStore is the named secret table of the local database
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (*storage.Secret, error)
	PutSecret(ctx context.Context, name, value string) error
}

// SharedStore keeps a keypair in the local database under one name
type SharedStore struct {
	secrets SecretStore
	name    string
}

// Names of the secrets strand keeps
const (
	IdentitySecret = "identity"
	ClientSecret   = "client"
)

// NewSharedStore stores the key under name in secrets
func NewSharedStore(secrets SecretStore, name string) *SharedStore {
	return &SharedStore{secrets: secrets, name: name}
}

func (s *SharedStore) Load(ctx context.Context) (Keypair, error) {
	secret, err := s.secrets.GetSecret(ctx, s.name)
	if errors.Is(err, storage.ErrSecretNotFound) {
		return Keypair{}, ErrNoKey
	}
	if err != nil {
		return Keypair{}, err
	}

	kp, err := FromSecret(secret.Value)
	if err != nil {
		return Keypair{}, fmt.Errorf("stored %s key: %w", s.name, err)
	}
	return kp, nil
}

func (s *SharedStore) Save(ctx context.Context, kp Keypair) error {
	return s.secrets.PutSecret(ctx, s.name, kp.Secret)
}

// Memory is an in-process Store
type Memory struct {
	mu    sync.Mutex
	kp    Keypair
	saves int

	// LoadErr, when set, is returned by Load
	LoadErr error
}

// NewMemory returns a store holding kp; a zero kp means empty
func NewMemory(kp Keypair) *Memory {
	return &Memory{kp: kp}
}

func (m *Memory) Load(context.Context) (Keypair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LoadErr != nil {
		return Keypair{}, m.LoadErr
	}
	if m.kp.IsZero() {
		return Keypair{}, ErrNoKey
	}
	return m.kp, nil
}

func (m *Memory) Save(_ context.Context, kp Keypair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kp = kp
	m.saves++
	return nil
}

// Saves returns how many times Save was called
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
