package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/sandwichfarm/strand/internal/aggregates"
	"github.com/sandwichfarm/strand/internal/errs"
)

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := errs.FlattenHints(err); hint != "" {
		fmt.Fprintf(w, "  hint: %s\n", hint)
	}
}

// parseEventID accepts a hex ID, a note or an nevent
func parseEventID(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "nostr:")
	if isHexKey(s) {
		return strings.ToLower(s), nil
	}

	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return "", fmt.Errorf("invalid event id %q: %w", s, err)
	}

	switch v := value.(type) {
	case string:
		if prefix == "note" {
			return v, nil
		}
	case nostr.EventPointer:
		return v.ID, nil
	case *nostr.EventPointer:
		return v.ID, nil
	}
	return "", fmt.Errorf("invalid event id %q: unexpected %s", s, prefix)
}

// parsePubKey accepts a hex key, an npub or an nprofile
func parsePubKey(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "nostr:")
	if isHexKey(s) {
		return strings.ToLower(s), nil
	}

	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return "", fmt.Errorf("invalid public key %q: %w", s, err)
	}

	switch v := value.(type) {
	case string:
		if prefix == "npub" {
			return v, nil
		}
	case nostr.ProfilePointer:
		return v.PublicKey, nil
	case *nostr.ProfilePointer:
		return v.PublicKey, nil
	}
	return "", fmt.Errorf("invalid public key %q: unexpected %s", s, prefix)
}

// parseMentions turns name=key pairs into the username map
func parseMentions(pairs []string) (map[string]string, error) {
	mentions := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, key, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid mention %q: expected name=npub", pair)
		}
		pub, err := parsePubKey(key)
		if err != nil {
			return nil, err
		}
		mentions[strings.TrimPrefix(name, "@")] = pub
	}
	return mentions, nil
}

func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func noteID(id string) string {
	if note, err := nip19.EncodeNote(id); err == nil {
		return note
	}
	return id
}

func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:8] + "…" + key[len(key)-4:]
}

func printEvent(w io.Writer, ev *nostr.Event, indent string) {
	ts := time.Unix(int64(ev.CreatedAt), 0).Format("2006-01-02 15:04")
	fmt.Fprintf(w, "%s%s  %s  %s\n", indent, ts, shortKey(ev.PubKey), noteID(ev.ID))
	for _, line := range strings.Split(strings.TrimRight(ev.Content, "\n"), "\n") {
		fmt.Fprintf(w, "%s  %s\n", indent, line)
	}
}

func printSummary(w io.Writer, indent string, s aggregates.Summary) {
	liked := ""
	if s.Reacted {
		liked = " (you liked this)"
	}
	fmt.Fprintf(w, "%s  💬 %d  ♥ %d%s\n", indent, s.Comments, s.Reactions, liked)
}
