// Package linkres turns a pasted share link into a one-shot fetch directive.
package linkres

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedLink is returned for links that are not a post, reel or story.
var ErrUnsupportedLink = errors.New("unsupported link")

// Kind tells which variant a Directive holds.
type Kind int

// Directive kinds.
const (
	SinglePost Kind = iota + 1
	StoryByOwner
)

func (k Kind) String() string {
	switch k {
	case SinglePost:
		return "single_post"
	case StoryByOwner:
		return "story_by_owner"
	default:
		return "unknown"
	}
}

// Directive describes exactly what to fetch for a link. Shortcode is set for
// SinglePost, Account for StoryByOwner.
type Directive struct {
	Kind      Kind
	Shortcode string
	Account   string
}

var hosts = map[string]bool{
	"instagram.com":     true,
	"www.instagram.com": true,
	"m.instagram.com":   true,
	"instagr.am":        true,
	"www.instagr.am":    true,
}

// Resolve parses raw. It does no I/O: the same input always yields the same
// result.
func Resolve(raw string) (Directive, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Directive{}, ErrUnsupportedLink
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return Directive{}, fmt.Errorf("%w: %v", ErrUnsupportedLink, err)
	}
	if !hosts[strings.ToLower(u.Hostname())] {
		return Directive{}, fmt.Errorf("%w: host %q", ErrUnsupportedLink, u.Hostname())
	}

	segs := splitPath(u.Path)
	// /<owner>/p/<code>/ and /<owner>/reel/<code>/ are share variants too
	if len(segs) >= 3 && isPostSegment(segs[1]) {
		segs = segs[1:]
	}
	if len(segs) < 2 {
		return Directive{}, fmt.Errorf("%w: %s", ErrUnsupportedLink, u.Path)
	}

	switch {
	case isPostSegment(segs[0]):
		if !validShortcode(segs[1]) {
			return Directive{}, fmt.Errorf("%w: bad shortcode %q", ErrUnsupportedLink, segs[1])
		}
		return Directive{Kind: SinglePost, Shortcode: segs[1]}, nil
	case segs[0] == "stories":
		owner := strings.ToLower(segs[1])
		if owner == "highlights" || !validAccount(owner) {
			return Directive{}, fmt.Errorf("%w: story owner %q", ErrUnsupportedLink, segs[1])
		}
		return Directive{Kind: StoryByOwner, Account: owner}, nil
	default:
		return Directive{}, fmt.Errorf("%w: %s", ErrUnsupportedLink, u.Path)
	}
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isPostSegment(s string) bool {
	switch s {
	case "p", "reel", "reels", "tv":
		return true
	}
	return false
}

func validShortcode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

func validAccount(s string) bool {
	if s == "" || len(s) > 30 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' || r == '_') {
			return false
		}
	}
	return true
}
