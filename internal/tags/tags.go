// Package tags converts between typed tag values and the positional tag
// arrays carried on the wire, and composes the tag list of outbound events.
package tags

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Kind identifies the variant held by a Tag
type Kind int

const (
	KindUnknown Kind = iota
	KindEvent
	KindAuthor
	KindHashtag
	KindQuote
	KindURL
	KindUsername
	KindClientSignature
)

// Wire type markers
const (
	MarkerEvent           = "e"
	MarkerAuthor          = "p"
	MarkerHashtag         = "t"
	MarkerQuote           = "q"
	MarkerURL             = "r"
	MarkerUsername        = "u"
	MarkerClientSignature = "client_sig"
)

// Tag is one typed tag. Which fields are meaningful depends on Kind:
//
//	KindEvent            Value=event id, Relay, Marker ("reply", "root", "mention")
//	KindAuthor           Value=public key
//	KindHashtag          Value=hashtag without '#'
//	KindQuote            Value=event id, Relay, Author
//	KindURL              Value=url
//	KindUsername         Value=username
//	KindClientSignature  Value=hex signature, Author=client public key
//	KindUnknown          raw wire form kept as-is
type Tag struct {
	Kind   Kind
	Value  string
	Relay  string
	Marker string
	Author string

	raw nostr.Tag
}

func EventRef(id, relay, marker string) Tag {
	return Tag{Kind: KindEvent, Value: id, Relay: relay, Marker: marker}
}

func AuthorRef(key string) Tag {
	return Tag{Kind: KindAuthor, Value: key}
}

func HashtagRef(tag string) Tag {
	return Tag{Kind: KindHashtag, Value: tag}
}

func QuoteRef(id, relay, author string) Tag {
	return Tag{Kind: KindQuote, Value: id, Relay: relay, Author: author}
}

func URLRef(url string) Tag {
	return Tag{Kind: KindURL, Value: url}
}

func UsernameRef(name string) Tag {
	return Tag{Kind: KindUsername, Value: name}
}

func ClientSignature(sig, clientKey string) Tag {
	return Tag{Kind: KindClientSignature, Value: sig, Author: clientKey}
}

// Encode returns the positional wire form of t. Trailing empty optional
// positions are omitted, so EventRef(id, "", "") encodes as ["e", id].
func (t Tag) Encode() nostr.Tag {
	switch t.Kind {
	case KindEvent:
		return trimmed(MarkerEvent, t.Value, t.Relay, t.Marker)
	case KindAuthor:
		return nostr.Tag{MarkerAuthor, t.Value}
	case KindHashtag:
		return nostr.Tag{MarkerHashtag, t.Value}
	case KindQuote:
		return trimmed(MarkerQuote, t.Value, t.Relay, t.Author)
	case KindURL:
		return nostr.Tag{MarkerURL, t.Value}
	case KindUsername:
		return nostr.Tag{MarkerUsername, t.Value}
	case KindClientSignature:
		return trimmed(MarkerClientSignature, t.Value, t.Author)
	default:
		return t.raw
	}
}

func trimmed(marker string, values ...string) nostr.Tag {
	last := len(values)
	for last > 1 && values[last-1] == "" {
		last--
	}
	tag := make(nostr.Tag, 0, last+1)
	tag = append(tag, marker)
	return append(tag, values[:last]...)
}

// Decode parses one wire tag. Malformed or unrecognized tags decode to KindUnknown.
func Decode(raw nostr.Tag) Tag {
	if len(raw) < 2 {
		return Tag{Kind: KindUnknown, raw: raw}
	}

	at := func(i int) string {
		if i < len(raw) {
			return raw[i]
		}
		return ""
	}

	switch raw[0] {
	case MarkerEvent:
		return EventRef(raw[1], at(2), at(3))
	case MarkerAuthor:
		return AuthorRef(raw[1])
	case MarkerHashtag:
		return HashtagRef(raw[1])
	case MarkerQuote:
		return QuoteRef(raw[1], at(2), at(3))
	case MarkerURL:
		return URLRef(raw[1])
	case MarkerUsername:
		return UsernameRef(raw[1])
	case MarkerClientSignature:
		return ClientSignature(raw[1], at(2))
	default:
		return Tag{Kind: KindUnknown, raw: raw}
	}
}

// Encode converts typed tags to wire tags, preserving order
func Encode(ts []Tag) nostr.Tags {
	out := make(nostr.Tags, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Encode())
	}
	return out
}

// DecodeAll converts wire tags to typed tags, preserving order
func DecodeAll(raw nostr.Tags) []Tag {
	out := make([]Tag, 0, len(raw))
	for _, t := range raw {
		out = append(out, Decode(t))
	}
	return out
}

// FirstEventRef returns the id of the first "e" tag
func FirstEventRef(raw nostr.Tags) (string, bool) {
	for _, t := range raw {
		if len(t) >= 2 && t[0] == MarkerEvent {
			return t[1], true
		}
	}
	return "", false
}

// HasEventRef reports whether any "e" tag is present. Such notes are comments,
// never top-level posts.
func HasEventRef(raw nostr.Tags) bool {
	_, ok := FirstEventRef(raw)
	return ok
}

// Hashtags returns the case-folded values of all "t" tags
func Hashtags(raw nostr.Tags) []string {
	var out []string
	for _, t := range raw {
		if len(t) >= 2 && t[0] == MarkerHashtag {
			out = append(out, strings.ToLower(t[1]))
		}
	}
	return out
}

// MatchesHashtag reports whether an event carries the hashtag either as a
// "t" tag or as a literal #tag in its content. Comparison is case-folded.
func MatchesHashtag(content string, raw nostr.Tags, hashtag string) bool {
	hashtag = strings.ToLower(strings.TrimPrefix(hashtag, "#"))
	if hashtag == "" {
		return true
	}

	for _, t := range Hashtags(raw) {
		if t == hashtag {
			return true
		}
	}

	return strings.Contains(strings.ToLower(content), "#"+hashtag)
}
