package tags

import (
	"regexp"
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Reply links a comment to the post it answers
type Reply struct {
	RootID string
}

// Quote links a quote-post to the quoted event
type Quote struct {
	ID     string
	Relay  string
	Author string
}

// Reaction links a reaction to its target
type Reaction struct {
	TargetID     string
	TargetAuthor string
}

// Context carries everything besides content that shapes an event's tags.
// At most one of Reply, Quote and Reaction is expected to be set.
type Context struct {
	Reply    *Reply
	Quote    *Quote
	Reaction *Reaction

	// Mentions maps usernames to already resolved public keys
	Mentions map[string]string
}

var (
	hashtagRegex     = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_&/#])#([\p{L}\p{N}_]+)`)
	usernameRegex    = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])@([\p{L}\p{N}_.\-]+)`)
	nostrProfileURIs = regexp.MustCompile(`nostr:(npub1[a-z0-9]+|nprofile1[a-z0-9]+)`)

	linkParser = goldmark.New(goldmark.WithExtensions(extension.Linkify)).Parser()
)

// Compose derives the tag list of a new event. Order is fixed: structural
// tags, then URL, hashtag and mention tags. The client signature is appended
// later by the signer, once the final content and timestamp are known.
func Compose(content string, c Context) []Tag {
	var out []Tag

	switch {
	case c.Reply != nil:
		out = append(out, EventRef(c.Reply.RootID, "", "reply"))
	case c.Quote != nil:
		out = append(out, QuoteRef(c.Quote.ID, c.Quote.Relay, c.Quote.Author))
	case c.Reaction != nil:
		out = append(out, EventRef(c.Reaction.TargetID, "", ""))
		if c.Reaction.TargetAuthor != "" {
			out = append(out, AuthorRef(c.Reaction.TargetAuthor))
		}
	}

	links := scanLinks(content)
	for _, l := range links {
		out = append(out, URLRef(l.url))
	}

	for _, h := range ExtractHashtags(stripLinks(content, links)) {
		out = append(out, HashtagRef(h))
	}

	for _, key := range ExtractMentions(content, c.Mentions) {
		out = append(out, AuthorRef(key))
	}

	return out
}

type link struct {
	url  string
	text string // as written in the content
}

// scanLinks finds autolinked URLs and markdown link destinations, in order,
// without duplicates. URLs inside code spans and code blocks count too.
func scanLinks(content string) []link {
	src := []byte(content)
	doc := linkParser.Parse(text.NewReader(src))

	var links []link
	seen := make(map[string]bool)
	add := func(url, raw string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		links = append(links, link{url: url, text: raw})
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.AutoLink:
			if v.AutoLinkType == ast.AutoLinkURL {
				add(string(v.URL(src)), string(v.Label(src)))
			}
		case *ast.Link:
			dest := string(v.Destination)
			if strings.Contains(dest, "://") {
				add(dest, dest)
			}
		case *ast.CodeSpan:
			var code strings.Builder
			for c := v.FirstChild(); c != nil; c = c.NextSibling() {
				switch t := c.(type) {
				case *ast.Text:
					code.Write(t.Segment.Value(src))
				case *ast.String:
					code.Write(t.Value)
				}
			}
			for _, l := range scanLinks(code.String()) {
				add(l.url, l.text)
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			// linkify skips code, so code lines are scanned as plain text
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				for _, l := range scanLinks(strings.TrimSpace(string(seg.Value(src)))) {
					add(l.url, l.text)
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return links
}

// ExtractURLs returns every URL referenced in content
func ExtractURLs(content string) []string {
	links := scanLinks(content)
	urls := make([]string, 0, len(links))
	for _, l := range links {
		urls = append(urls, l.url)
	}
	return urls
}

func stripLinks(content string, links []link) string {
	for _, l := range links {
		content = strings.ReplaceAll(content, l.text, " ")
	}
	return content
}

// ExtractHashtags returns lowercased #word tokens in order of first appearance
func ExtractHashtags(content string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range hashtagRegex.FindAllStringSubmatch(content, -1) {
		h := strings.ToLower(m[1])
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// ExtractMentions returns the public keys to tag for content. Resolved
// usernames come first in order of their first @name appearance, then the
// remaining resolved usernames by name, then keys from nostr:npub and
// nostr:nprofile URIs. Keys are deduplicated.
func ExtractMentions(content string, resolved map[string]string) []string {
	var keys []string
	seen := make(map[string]bool)
	add := func(key string) {
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		keys = append(keys, key)
	}

	used := make(map[string]bool)
	for _, m := range usernameRegex.FindAllStringSubmatch(content, -1) {
		name := strings.TrimRight(m[1], ".-")
		if key, ok := resolved[name]; ok {
			used[name] = true
			add(key)
		}
	}

	rest := make([]string, 0, len(resolved))
	for name := range resolved {
		if !used[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(resolved[name])
	}

	for _, m := range nostrProfileURIs.FindAllStringSubmatch(content, -1) {
		prefix, decoded, err := nip19.Decode(m[1])
		if err != nil {
			continue
		}
		switch prefix {
		case "npub":
			add(decoded.(string))
		case "nprofile":
			add(decoded.(nostr.ProfilePointer).PublicKey)
		}
	}

	return keys
}
