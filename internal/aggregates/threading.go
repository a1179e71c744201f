package aggregates

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/tags"
)

// ThreadInfo describes where a note sits in a conversation
type ThreadInfo struct {
	RootEventID  string   // The root event of the thread
	ReplyToID    string   // The direct parent event being replied to
	MentionedIDs []string // Other events mentioned in the thread
}

// ParseThreadInfo reads the event references of a note. Marked references
// ("root", "reply", "mention") are preferred; unmarked ones are read by
// position.
func ParseThreadInfo(event *nostr.Event) (*ThreadInfo, error) {
	if event.Kind != kindNote {
		return nil, fmt.Errorf("expected kind %d, got %d", kindNote, event.Kind)
	}

	var refs []tags.Tag
	for _, t := range tags.DecodeAll(event.Tags) {
		if t.Kind == tags.KindEvent {
			refs = append(refs, t)
		}
	}

	switch {
	case len(refs) == 0:
		return &ThreadInfo{}, nil
	case marked(refs):
		return fromMarkers(refs), nil
	default:
		return fromPositions(refs), nil
	}
}

func marked(refs []tags.Tag) bool {
	for _, ref := range refs {
		if ref.Marker != "" {
			return true
		}
	}
	return false
}

func fromMarkers(refs []tags.Tag) *ThreadInfo {
	info := &ThreadInfo{}
	for _, ref := range refs {
		switch ref.Marker {
		case "root":
			info.RootEventID = ref.Value
		case "reply":
			info.ReplyToID = ref.Value
		default:
			info.MentionedIDs = append(info.MentionedIDs, ref.Value)
		}
	}

	// A lone reply marker points at the root
	if info.RootEventID == "" {
		info.RootEventID = info.ReplyToID
	}
	return info
}

// fromPositions reads [root, mentions..., reply]; a single reference is
// both root and parent
func fromPositions(refs []tags.Tag) *ThreadInfo {
	info := &ThreadInfo{
		RootEventID: refs[0].Value,
		ReplyToID:   refs[len(refs)-1].Value,
	}
	for i := 1; i < len(refs)-1; i++ {
		info.MentionedIDs = append(info.MentionedIDs, refs[i].Value)
	}
	return info
}

// IsReply returns true if this event is a reply to another event
func (ti *ThreadInfo) IsReply() bool {
	return ti.ReplyToID != ""
}

// IsNested reports whether the note answers another comment rather than
// the thread root
func (ti *ThreadInfo) IsNested() bool {
	return ti.IsReply() && ti.ReplyToID != ti.RootEventID
}

// GetRootOrSelf returns the root event ID, or the event itself if it's a root
func (ti *ThreadInfo) GetRootOrSelf(eventID string) string {
	if ti.RootEventID != "" {
		return ti.RootEventID
	}
	return eventID
}
