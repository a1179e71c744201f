package aggregates

import (
	"reflect"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestParseThreadInfo(t *testing.T) {
	tests := []struct {
		name     string
		tags     nostr.Tags
		root     string
		reply    string
		mentions []string
		nested   bool
	}{
		{
			name: "marked format",
			tags: nostr.Tags{
				{"e", "root-event-id", "", "root"},
				{"e", "parent-event-id", "", "reply"},
				{"e", "mention-event-id", "", "mention"},
			},
			root:     "root-event-id",
			reply:    "parent-event-id",
			mentions: []string{"mention-event-id"},
			nested:   true,
		},
		{
			name:  "lone reply marker",
			tags:  nostr.Tags{{"e", "root-id", "", "reply"}},
			root:  "root-id",
			reply: "root-id",
		},
		{
			name:  "positional one tag",
			tags:  nostr.Tags{{"e", "parent-id"}},
			root:  "parent-id",
			reply: "parent-id",
		},
		{
			name:   "positional two tags",
			tags:   nostr.Tags{{"e", "root-id"}, {"e", "parent-id"}},
			root:   "root-id",
			reply:  "parent-id",
			nested: true,
		},
		{
			name: "positional many tags",
			tags: nostr.Tags{
				{"e", "root-id"},
				{"e", "mention-1"},
				{"p", "someone"},
				{"e", "mention-2"},
				{"e", "parent-id"},
			},
			root:     "root-id",
			reply:    "parent-id",
			mentions: []string{"mention-1", "mention-2"},
			nested:   true,
		},
		{
			name: "top-level note",
			tags: nostr.Tags{{"t", "nostr"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseThreadInfo(&nostr.Event{Kind: 1, Tags: tt.tags})
			if err != nil {
				t.Fatalf("ParseThreadInfo() error = %v", err)
			}

			if info.RootEventID != tt.root {
				t.Errorf("RootEventID = %q, want %q", info.RootEventID, tt.root)
			}
			if info.ReplyToID != tt.reply {
				t.Errorf("ReplyToID = %q, want %q", info.ReplyToID, tt.reply)
			}
			if !reflect.DeepEqual(info.MentionedIDs, tt.mentions) {
				t.Errorf("MentionedIDs = %v, want %v", info.MentionedIDs, tt.mentions)
			}
			if info.IsNested() != tt.nested {
				t.Errorf("IsNested() = %v, want %v", info.IsNested(), tt.nested)
			}
			if info.IsReply() != (tt.reply != "") {
				t.Errorf("IsReply() = %v", info.IsReply())
			}
		})
	}
}

func TestParseThreadInfo_InvalidKind(t *testing.T) {
	if _, err := ParseThreadInfo(&nostr.Event{Kind: 7}); err == nil {
		t.Error("Expected error for kind 7")
	}
}

func TestGetRootOrSelf(t *testing.T) {
	root := &ThreadInfo{}
	if got := root.GetRootOrSelf("self"); got != "self" {
		t.Errorf("GetRootOrSelf() = %q, want self", got)
	}

	reply := &ThreadInfo{RootEventID: "root", ReplyToID: "root"}
	if got := reply.GetRootOrSelf("self"); got != "root" {
		t.Errorf("GetRootOrSelf() = %q, want root", got)
	}
}
