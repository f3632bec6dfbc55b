package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"instarelay/internal/model"
	"instarelay/internal/provider"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>alice on Instagram</title>
  <item>
    <title>older post</title>
    <link>https://www.instagram.com/p/AAA111/</link>
    <guid>AAA111</guid>
    <pubDate>Mon, 01 Jan 2024 00:00:00 GMT</pubDate>
    <enclosure url="https://cdn.example.com/a.jpg" type="image/jpeg" length="0"/>
  </item>
  <item>
    <title>newest reel</title>
    <link>https://www.instagram.com/reel/CCC333/</link>
    <guid>CCC333</guid>
    <pubDate>Wed, 03 Jan 2024 00:00:00 GMT</pubDate>
    <enclosure url="https://cdn.example.com/c.mp4" type="video/mp4" length="0"/>
  </item>
  <item>
    <title>text only, no media</title>
    <link>https://www.instagram.com/p/DDD444/</link>
    <pubDate>Thu, 04 Jan 2024 00:00:00 GMT</pubDate>
  </item>
  <item>
    <title>middle post</title>
    <link>https://www.instagram.com/p/BBB222/</link>
    <pubDate>Tue, 02 Jan 2024 00:00:00 GMT</pubDate>
    <enclosure url="https://cdn.example.com/b1.jpg" type="image/jpeg" length="0"/>
  </item>
</channel>
</rss>`

type mockTransport struct {
	body       string
	statusCode int
	err        error
	requested  []string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.requested = append(m.requested, req.URL.String())
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func newClient(t *testing.T, m *mockTransport) *Client {
	t.Helper()
	c, err := New(m, "https://bridge.example.com/instagram/user/%s", time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRejectsBadTemplate(t *testing.T) {
	for _, tmpl := range []string{"https://bridge.example.com/feed", "https://x/%s/%s"} {
		if _, err := New(&mockTransport{}, tmpl, time.Second); err == nil {
			t.Errorf("New(%q): expected error", tmpl)
		}
	}
}

func TestResolveAccount(t *testing.T) {
	tests := []struct {
		name      string
		transport *mockTransport
		wantErr   error
	}{
		{name: "ok", transport: &mockTransport{body: sampleFeed, statusCode: 200}},
		{name: "missing account", transport: &mockTransport{statusCode: 404}, wantErr: provider.ErrNotFound},
		{name: "rate limited", transport: &mockTransport{statusCode: 429}, wantErr: provider.ErrRateLimited},
		{name: "network error", transport: &mockTransport{err: io.ErrUnexpectedEOF}, wantErr: provider.ErrUnavailable},
		{name: "invalid xml", transport: &mockTransport{body: "not xml at all", statusCode: 200}, wantErr: provider.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, tt.transport)
			h, err := c.ResolveAccount(context.Background(), "alice")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(model.AccountHandle{ID: "alice", Username: "alice"}, h); diff != "" {
				t.Errorf("handle (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"https://bridge.example.com/instagram/user/alice"}, tt.transport.requested); diff != "" {
				t.Errorf("requested urls (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListPostsNewestFirst(t *testing.T) {
	c := newClient(t, &mockTransport{body: sampleFeed, statusCode: 200})

	var got []model.Item
	for item, err := range c.ListPosts(context.Background(), model.AccountHandle{ID: "alice", Username: "alice"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, item)
	}

	want := []model.Item{
		{ID: "CCC333", Shortcode: "CCC333", Owner: "alice", Kind: model.KindPost,
			TakenAt: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Media:   []model.Media{{URL: "https://cdn.example.com/c.mp4", Video: true}}},
		{ID: ItemGUID(&gofeed.Item{Title: "middle post", Link: "https://www.instagram.com/p/BBB222/"}), Shortcode: "BBB222", Owner: "alice", Kind: model.KindPost,
			TakenAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Media:   []model.Media{{URL: "https://cdn.example.com/b1.jpg"}}},
		{ID: "AAA111", Shortcode: "AAA111", Owner: "alice", Kind: model.KindPost,
			TakenAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Media:   []model.Media{{URL: "https://cdn.example.com/a.jpg"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	c := newClient(t, &mockTransport{statusCode: 200})
	ctx := context.Background()

	if c.IsAuthenticated() {
		t.Error("feed client must never be authenticated")
	}
	if err := c.Authenticate(ctx, provider.Credentials{SessionID: "x"}); !errors.Is(err, provider.ErrAuth) {
		t.Errorf("authenticate error = %v, want %v", err, provider.ErrAuth)
	}
	if _, err := c.FetchSingle(ctx, "ABC"); !errors.Is(err, provider.ErrNotSupported) {
		t.Errorf("fetch single error = %v, want %v", err, provider.ErrNotSupported)
	}
	for _, err := range c.ListStories(ctx, model.AccountHandle{ID: "alice"}) {
		if !errors.Is(err, provider.ErrNotSupported) {
			t.Errorf("stories error = %v, want %v", err, provider.ErrNotSupported)
		}
	}
}

func TestItemGUID(t *testing.T) {
	if diff := cmp.Diff("abc-123", ItemGUID(&gofeed.Item{GUID: "abc-123"})); diff != "" {
		t.Errorf("GUID mismatch (-want +got):\n%s", diff)
	}
	got := ItemGUID(&gofeed.Item{Title: "Post Without GUID", Link: "https://example.com/post-1"})
	if !strings.HasPrefix(got, "sha256:") {
		t.Errorf("expected sha256 prefix, got %q", got)
	}
}
