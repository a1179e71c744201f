// Package identity signs outbound events with the user's key and attests
// them with the client's own key.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/keys"
	"github.com/sandwichfarm/strand/internal/tags"
)

// Signer produces signed events. The client key signs a digest of content,
// tags and timestamp, which lets readers tell which client wrote an event.
type Signer struct {
	client    *btcec.PrivateKey
	clientPub string
}

// NewSigner creates a signer attesting with the client keypair
func NewSigner(client keys.Keypair) (*Signer, error) {
	b, err := hex.DecodeString(client.Secret)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("invalid client key")
	}

	priv, pub := btcec.PrivKeyFromBytes(b)
	return &Signer{
		client:    priv,
		clientPub: hex.EncodeToString(schnorr.SerializePubKey(pub)),
	}, nil
}

// ClientKey returns the hex public key of the client
func (s *Signer) ClientKey() string {
	return s.clientPub
}

// Sign builds and signs an event of kind with the user keypair
func (s *Signer) Sign(content string, t nostr.Tags, kind int, createdAt nostr.Timestamp, kp keys.Keypair) (*nostr.Event, error) {
	ev := &nostr.Event{
		PubKey:    kp.Public,
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      t,
		Content:   content,
	}
	if err := ev.Sign(kp.Secret); err != nil {
		return nil, fmt.Errorf("failed to sign event: %w", err)
	}
	return ev, nil
}

// AddClientSignatureTag appends the client signature tag computed over
// content, the given tags and createdAt. The tag goes last.
func (s *Signer) AddClientSignatureTag(t nostr.Tags, content string, createdAt nostr.Timestamp) (nostr.Tags, error) {
	digest, err := clientDigest(t, content, createdAt)
	if err != nil {
		return nil, err
	}

	sig, err := schnorr.Sign(s.client, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign client digest: %w", err)
	}

	out := make(nostr.Tags, 0, len(t)+1)
	out = append(out, t...)
	return append(out, tags.ClientSignature(hex.EncodeToString(sig.Serialize()), s.clientPub).Encode()), nil
}

// VerifyClientSignature checks the client signature tag of ev. It returns
// the client key that signed, or false when the tag is missing or invalid.
func VerifyClientSignature(ev *nostr.Event) (string, bool) {
	var (
		rest  nostr.Tags
		found *tags.Tag
	)
	for _, raw := range ev.Tags {
		if t := tags.Decode(raw); t.Kind == tags.KindClientSignature && found == nil {
			found = &t
			continue
		}
		rest = append(rest, raw)
	}
	if found == nil {
		return "", false
	}

	sigBytes, err := hex.DecodeString(found.Value)
	if err != nil {
		return "", false
	}
	pubBytes, err := hex.DecodeString(found.Author)
	if err != nil {
		return "", false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return "", false
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return "", false
	}

	digest, err := clientDigest(rest, ev.Content, ev.CreatedAt)
	if err != nil {
		return "", false
	}
	if !sig.Verify(digest[:], pub) {
		return "", false
	}
	return found.Author, true
}

// clientDigest hashes the JSON array [content, tags, createdAt]
func clientDigest(t nostr.Tags, content string, createdAt nostr.Timestamp) ([32]byte, error) {
	if t == nil {
		t = nostr.Tags{}
	}
	payload, err := json.Marshal([]any{content, t, createdAt})
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to encode client digest: %w", err)
	}
	return sha256.Sum256(payload), nil
}
