// Package feed implements provider.Client over an RSS bridge that renders
// account timelines as feeds. It serves posts only: bridges expose neither
// stories nor sessions.
package feed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"iter"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"instarelay/internal/model"
	"instarelay/internal/provider"
)

var shortcodeRe = regexp.MustCompile(`/(?:p|reel|reels|tv)/([A-Za-z0-9_-]+)`)

// Client reads account feeds from an RSS bridge.
type Client struct {
	client      provider.HTTPClient
	urlTemplate string
	timeout     time.Duration
}

// New creates a Client. urlTemplate must contain one %s that is replaced by
// the account name, e.g. "https://bridge.example.com/instagram/user/%s".
func New(client provider.HTTPClient, urlTemplate string, timeout time.Duration) (*Client, error) {
	if strings.Count(urlTemplate, "%s") != 1 {
		return nil, fmt.Errorf("feed url template %q must contain exactly one %%s", urlTemplate)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{client: client, urlTemplate: urlTemplate, timeout: timeout}, nil
}

// ResolveAccount checks that the bridge serves a feed for name.
func (c *Client) ResolveAccount(ctx context.Context, name string) (model.AccountHandle, error) {
	if _, err := c.fetch(ctx, name); err != nil {
		return model.AccountHandle{}, err
	}
	return model.AccountHandle{ID: name, Username: name}, nil
}

// ListPosts yields the feed items newest first. The bridge serves a single
// page, fetched when iteration starts.
func (c *Client) ListPosts(ctx context.Context, h model.AccountHandle) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		f, err := c.fetch(ctx, h.ID)
		if err != nil {
			yield(model.Item{}, err)
			return
		}
		for _, item := range Items(f.Items, h.Username) {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// ListStories is not served by RSS bridges.
func (c *Client) ListStories(context.Context, model.AccountHandle) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		yield(model.Item{}, provider.ErrNotSupported)
	}
}

// FetchSingle is not served by RSS bridges.
func (c *Client) FetchSingle(context.Context, string) (model.Item, error) {
	return model.Item{}, fmt.Errorf("%w: single item fetch", provider.ErrNotSupported)
}

// Authenticate always fails: bridges have no sessions.
func (c *Client) Authenticate(context.Context, provider.Credentials) error {
	return fmt.Errorf("%w: %w", provider.ErrAuth, provider.ErrNotSupported)
}

// IsAuthenticated is always false.
func (c *Client) IsAuthenticated() bool {
	return false
}

func (c *Client) fetch(ctx context.Context, account string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf(c.urlTemplate, account)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "instarelay/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %v", provider.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, account)
	case http.StatusTooManyRequests:
		return nil, provider.ErrRateLimited
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", provider.ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", provider.ErrUnavailable, err)
	}

	parser := gofeed.NewParser()
	f, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %v", provider.ErrUnavailable, err)
	}
	return f, nil
}

// Items converts feed entries into items sorted newest first. Entries
// without a publication date or without media are dropped.
func Items(entries []*gofeed.Item, owner string) []model.Item {
	var out []model.Item
	for _, e := range entries {
		if e.PublishedParsed == nil {
			continue
		}
		media := entryMedia(e)
		if len(media) == 0 {
			continue
		}
		out = append(out, model.Item{
			ID:        ItemGUID(e),
			Shortcode: shortcode(e.Link),
			Owner:     owner,
			Kind:      model.KindPost,
			TakenAt:   e.PublishedParsed.UTC(),
			Media:     media,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	return out
}

// ItemGUID returns the GUID for a feed entry.
// If the entry has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func entryMedia(e *gofeed.Item) []model.Media {
	var out []model.Media
	seen := make(map[string]bool)
	add := func(url string, video bool) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		out = append(out, model.Media{URL: url, Video: video})
	}
	for _, enc := range e.Enclosures {
		switch {
		case strings.HasPrefix(enc.Type, "video/"):
			add(enc.URL, true)
		case strings.HasPrefix(enc.Type, "image/"), enc.Type == "":
			add(enc.URL, false)
		}
	}
	if len(out) == 0 && e.Image != nil {
		add(e.Image.URL, false)
	}
	return out
}

func shortcode(link string) string {
	m := shortcodeRe.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}
