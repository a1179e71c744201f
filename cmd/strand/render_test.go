package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/sandwichfarm/strand/internal/errs"
)

const hexID = "5c83da77af1dec6d7289834998ad7aafbd9e2191396d75ec3cc27f5a77226f36"

func TestParseEventID(t *testing.T) {
	note, err := nip19.EncodeNote(hexID)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		in      string
		wantErr bool
	}{
		{in: hexID},
		{in: strings.ToUpper(hexID)},
		{in: note},
		{in: "nostr:" + note},
		{in: "not-an-id", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseEventID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseEventID(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseEventID(%q) error = %v", tt.in, err)
			continue
		}
		if got != hexID {
			t.Errorf("parseEventID(%q) = %q, want %q", tt.in, got, hexID)
		}
	}
}

func TestParseMentions(t *testing.T) {
	npub, err := nip19.EncodePublicKey(hexID)
	if err != nil {
		t.Fatal(err)
	}

	got, err := parseMentions([]string{"@alice=" + npub, "bob=" + hexID})
	if err != nil {
		t.Fatalf("parseMentions() error = %v", err)
	}
	if got["alice"] != hexID || got["bob"] != hexID {
		t.Errorf("parseMentions() = %v", got)
	}

	if _, err := parseMentions([]string{"alice"}); err == nil {
		t.Error("Expected error for mention without key")
	}
	if _, err := parseMentions([]string{"alice=" + "note1xyz"}); err == nil {
		t.Error("Expected error for invalid key")
	}
}

func TestPrintErrorIncludesHint(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errs.WithHint(errs.ErrNoRelayConfig, "add relays"))

	out := buf.String()
	if !strings.Contains(out, "no relay endpoint configured") || !strings.Contains(out, "hint: add relays") {
		t.Errorf("unexpected output: %q", out)
	}
}
