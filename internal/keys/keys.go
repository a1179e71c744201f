// Package keys resolves the user's signing key once per start.
//
// A key is looked up in the shared store first. When absent there, a legacy
// encrypted backup is migrated into the shared store. When no backup exists
// either, a fresh key is generated and written to both places. Every branch
// may be re-run: a second Ensure finds the key in the shared store.
package keys

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/sandwichfarm/strand/internal/ops"
)

// ErrNoKey is returned by a Store that holds no key
var ErrNoKey = errors.New("no key stored")

// Keypair is a hex encoded secp256k1 secret key and its x-only public key
type Keypair struct {
	Secret string
	Public string
}

// Generate creates a new random keypair
func Generate() (Keypair, error) {
	return FromSecret(nostr.GeneratePrivateKey())
}

// FromSecret derives the keypair of a hex secret key
func FromSecret(secret string) (Keypair, error) {
	if b, err := hex.DecodeString(secret); err != nil || len(b) != 32 {
		return Keypair{}, fmt.Errorf("invalid secret key: expected 64 hex characters")
	}

	pub, err := nostr.GetPublicKey(secret)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	return Keypair{Secret: secret, Public: pub}, nil
}

// Npub returns the bech32 form of the public key
func (k Keypair) Npub() (string, error) {
	return nip19.EncodePublicKey(k.Public)
}

// IsZero reports whether k holds no key
func (k Keypair) IsZero() bool {
	return k.Secret == ""
}

// Store is a place a keypair can be kept
type Store interface {
	// Load returns ErrNoKey when nothing is stored
	Load(ctx context.Context) (Keypair, error)
	Save(ctx context.Context, kp Keypair) error
}

// Origin tells where Ensure found the key
type Origin int

const (
	OriginShared Origin = iota
	OriginMigrated
	OriginGenerated
)

func (o Origin) String() string {
	switch o {
	case OriginShared:
		return "shared"
	case OriginMigrated:
		return "migrated"
	case OriginGenerated:
		return "generated"
	default:
		return "unknown"
	}
}

// Lifecycle resolves the signing key from its backends
type Lifecycle struct {
	shared Store
	backup Store
	logger *ops.Logger

	mu     sync.Mutex
	ready  Keypair
	origin Origin
}

// NewLifecycle creates a lifecycle over shared storage and an optional
// legacy backup. backup may be nil.
func NewLifecycle(shared, backup Store, logger *ops.Logger) *Lifecycle {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Lifecycle{
		shared: shared,
		backup: backup,
		logger: logger.WithComponent("keys"),
	}
}

// Ensure returns the signing key, migrating or generating it when needed.
// A backup that exists but cannot be read is an error: a new key is never
// generated over it.
func (l *Lifecycle) Ensure(ctx context.Context) (Keypair, Origin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ready.IsZero() {
		return l.ready, l.origin, nil
	}

	kp, origin, err := l.resolve(ctx)
	if err != nil {
		l.logger.LogKeyLifecycle("", "", err)
		return Keypair{}, 0, err
	}

	l.ready, l.origin = kp, origin
	l.logger.LogKeyLifecycle(origin.String(), kp.Public, nil)
	return kp, origin, nil
}

func (l *Lifecycle) resolve(ctx context.Context) (Keypair, Origin, error) {
	kp, err := l.shared.Load(ctx)
	if err == nil {
		return kp, OriginShared, nil
	}
	if !errors.Is(err, ErrNoKey) {
		return Keypair{}, 0, fmt.Errorf("failed to read shared key: %w", err)
	}

	if l.backup != nil {
		kp, err := l.backup.Load(ctx)
		switch {
		case err == nil:
			if err := l.shared.Save(ctx, kp); err != nil {
				return Keypair{}, 0, fmt.Errorf("failed to migrate key to shared storage: %w", err)
			}
			return kp, OriginMigrated, nil
		case !errors.Is(err, ErrNoKey):
			return Keypair{}, 0, fmt.Errorf("failed to read key backup: %w", err)
		}
	}

	kp, err = Generate()
	if err != nil {
		return Keypair{}, 0, err
	}
	if err := l.shared.Save(ctx, kp); err != nil {
		return Keypair{}, 0, fmt.Errorf("failed to store generated key: %w", err)
	}
	if l.backup != nil {
		if err := l.backup.Save(ctx, kp); err != nil {
			return Keypair{}, 0, fmt.Errorf("failed to back up generated key: %w", err)
		}
	}
	return kp, OriginGenerated, nil
}

// Keypair returns the resolved key, or false before a successful Ensure
func (l *Lifecycle) Keypair() (Keypair, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready, !l.ready.IsZero()
}

// Forget drops the resolved key from memory. The stores are untouched.
func (l *Lifecycle) Forget() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready = Keypair{}
}
