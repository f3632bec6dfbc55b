// Package instagram implements provider.Client on top of the Instagram web
// JSON API.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"instarelay/internal/model"
	"instarelay/internal/provider"
)

const (
	baseURL   = "https://www.instagram.com"
	webAppID  = "936619743392459"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	pageSize  = 12
	maxBody   = 8 * 1024 * 1024
)

// Session is the persisted login state.
type Session struct {
	Username  string    `json:"username"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Client talks to the Instagram web API.
type Client struct {
	http        provider.HTTPClient
	timeout     time.Duration
	sessionPath string

	mu      sync.RWMutex
	session *Session
}

// New creates a Client. A session previously saved at sessionPath is loaded;
// an unreadable session file leaves the client anonymous.
func New(client provider.HTTPClient, sessionPath string, timeout time.Duration) *Client {
	c := &Client{
		http:        client,
		timeout:     timeout,
		sessionPath: sessionPath,
	}
	if sess, err := loadSession(sessionPath); err == nil {
		c.session = sess
	}
	return c
}

// IsAuthenticated reports whether a session is active.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// Authenticate validates a session cookie and, on success, makes it the
// active session and writes it to the session file. On failure the previous
// session is kept.
func (c *Client) Authenticate(ctx context.Context, creds provider.Credentials) error {
	if creds.SessionID == "" {
		return fmt.Errorf("%w: session id is required", provider.ErrAuth)
	}
	candidate := &Session{Username: creds.Username, SessionID: creds.SessionID, CreatedAt: time.Now().UTC()}

	var resp currentUserResponse
	if err := c.getJSON(ctx, "/api/v1/accounts/current_user/?edit=true", candidate, &resp); err != nil {
		if errors.Is(err, provider.ErrLoginRequired) || errors.Is(err, provider.ErrNotFound) {
			return fmt.Errorf("%w: session rejected", provider.ErrAuth)
		}
		return err
	}
	if resp.User.Username == "" {
		return fmt.Errorf("%w: session rejected", provider.ErrAuth)
	}
	candidate.Username = resp.User.Username

	if c.sessionPath != "" {
		if err := saveSession(c.sessionPath, candidate); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	c.mu.Lock()
	c.session = candidate
	c.mu.Unlock()
	return nil
}

// ResolveAccount looks up an account by username.
func (c *Client) ResolveAccount(ctx context.Context, name string) (model.AccountHandle, error) {
	var resp profileResponse
	path := "/api/v1/users/web_profile_info/?username=" + url.QueryEscape(name)
	if err := c.getJSON(ctx, path, c.currentSession(), &resp); err != nil {
		return model.AccountHandle{}, err
	}
	if resp.Data.User == nil || resp.Data.User.ID == "" {
		return model.AccountHandle{}, fmt.Errorf("%w: %s", provider.ErrNotFound, name)
	}
	u := resp.Data.User
	if u.IsPrivate && !c.IsAuthenticated() {
		return model.AccountHandle{}, fmt.Errorf("%w: %s", provider.ErrPrivate, name)
	}
	return model.AccountHandle{ID: u.ID, Username: u.Username, Private: u.IsPrivate}, nil
}

// ListPosts yields timeline posts newest first, one page per request.
func (c *Client) ListPosts(ctx context.Context, h model.AccountHandle) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		maxID := ""
		for {
			path := fmt.Sprintf("/api/v1/feed/user/%s/?count=%d", url.PathEscape(h.ID), pageSize)
			if maxID != "" {
				path += "&max_id=" + url.QueryEscape(maxID)
			}
			var page feedResponse
			if err := c.getJSON(ctx, path, c.currentSession(), &page); err != nil {
				yield(model.Item{}, err)
				return
			}
			for _, m := range page.Items {
				if !yield(m.toItem(h.Username, model.KindPost), nil) {
					return
				}
			}
			if !page.MoreAvailable || page.NextMaxID == "" || len(page.Items) == 0 {
				return
			}
			maxID = page.NextMaxID
		}
	}
}

// ListStories yields the active story items of an account, oldest first as
// the API returns them. It needs an authenticated session.
func (c *Client) ListStories(ctx context.Context, h model.AccountHandle) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		sess := c.currentSession()
		if sess == nil {
			yield(model.Item{}, provider.ErrLoginRequired)
			return
		}
		var resp reelsResponse
		path := "/api/v1/feed/reels_media/?reel_ids=" + url.QueryEscape(h.ID)
		if err := c.getJSON(ctx, path, sess, &resp); err != nil {
			yield(model.Item{}, err)
			return
		}
		reel, ok := resp.Reels[h.ID]
		if !ok {
			return
		}
		for _, m := range reel.Items {
			if !yield(m.toItem(h.Username, model.KindStory), nil) {
				return
			}
		}
	}
}

// FetchSingle fetches one post or reel by its shortcode.
func (c *Client) FetchSingle(ctx context.Context, shortcode string) (model.Item, error) {
	id, err := MediaID(shortcode)
	if err != nil {
		return model.Item{}, fmt.Errorf("%w: %v", provider.ErrNotFound, err)
	}
	var resp feedResponse
	path := fmt.Sprintf("/api/v1/media/%d/info/", id)
	if err := c.getJSON(ctx, path, c.currentSession(), &resp); err != nil {
		return model.Item{}, err
	}
	if len(resp.Items) == 0 {
		return model.Item{}, fmt.Errorf("%w: media %s", provider.ErrNotFound, shortcode)
	}
	m := resp.Items[0]
	return m.toItem(m.User.Username, model.KindPost), nil
}

func (c *Client) currentSession() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) getJSON(ctx context.Context, path string, sess *Session, dst any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-IG-App-ID", webAppID)
	req.Header.Set("Accept", "application/json")
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: sess.SessionID})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http get: %v", provider.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp.StatusCode); err != nil {
		if sess != nil && errors.Is(err, provider.ErrLoginRequired) {
			c.expire(sess)
		}
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", provider.ErrUnavailable, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode response: %v", provider.ErrUnavailable, err)
	}
	return nil
}

// expire drops sess if it is still the active session. Instagram answers
// 401/403 once a session cookie has been revoked; stories stay off until the
// next login.
func (c *Client) expire(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == sess {
		c.session = nil
	}
}

func statusError(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return provider.ErrNotFound
	case code == http.StatusTooManyRequests:
		return provider.ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return provider.ErrLoginRequired
	default:
		return fmt.Errorf("%w: unexpected status %d", provider.ErrUnavailable, code)
	}
}

func loadSession(path string) (*Session, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-configured path
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.SessionID == "" {
		return nil, errors.New("session file has no session id")
	}
	return &s, nil
}

func saveSession(path string, s *Session) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// MediaID decodes a post shortcode into its numeric media id. Only the first
// 11 characters carry the id; longer private-link codes append a suffix.
func MediaID(shortcode string) (uint64, error) {
	if shortcode == "" {
		return 0, errors.New("empty shortcode")
	}
	if len(shortcode) > 11 {
		shortcode = shortcode[:11]
	}
	var id uint64
	for _, r := range shortcode {
		idx := -1
		for i, a := range shortcodeAlphabet {
			if a == r {
				idx = i
				break
			}
		}
		if idx < 0 {
			return 0, fmt.Errorf("invalid shortcode character %q", r)
		}
		if id > math.MaxUint64>>6 {
			return 0, fmt.Errorf("shortcode %q overflows a media id", shortcode)
		}
		id = id*64 + uint64(idx)
	}
	return id, nil
}

type currentUserResponse struct {
	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

type profileResponse struct {
	Data struct {
		User *struct {
			ID        string `json:"id"`
			Username  string `json:"username"`
			IsPrivate bool   `json:"is_private"`
		} `json:"user"`
	} `json:"data"`
}

type feedResponse struct {
	Items         []media `json:"items"`
	MoreAvailable bool    `json:"more_available"`
	NextMaxID     string  `json:"next_max_id"`
}

type reelsResponse struct {
	Reels map[string]struct {
		Items []media `json:"items"`
	} `json:"reels"`
}

type imageVersion struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type media struct {
	ID             flexString `json:"id"`
	Code           string     `json:"code"`
	TakenAt        int64      `json:"taken_at"`
	MediaType      int        `json:"media_type"`
	ImageVersions2 struct {
		Candidates []imageVersion `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions []imageVersion `json:"video_versions"`
	CarouselMedia []media        `json:"carousel_media"`
	User          struct {
		Username string `json:"username"`
	} `json:"user"`
}

func (m media) toItem(owner string, kind model.ItemKind) model.Item {
	item := model.Item{
		ID:        string(m.ID),
		Shortcode: m.Code,
		Owner:     owner,
		Kind:      kind,
		TakenAt:   time.Unix(m.TakenAt, 0).UTC(),
	}
	if len(m.CarouselMedia) > 0 {
		for _, child := range m.CarouselMedia {
			if f, ok := child.file(); ok {
				item.Media = append(item.Media, f)
			}
		}
		return item
	}
	if f, ok := m.file(); ok {
		item.Media = append(item.Media, f)
	}
	return item
}

// file picks the best rendition: the first video version, else the largest
// image candidate (the API lists it first).
func (m media) file() (model.Media, bool) {
	if len(m.VideoVersions) > 0 && m.VideoVersions[0].URL != "" {
		return model.Media{URL: m.VideoVersions[0].URL, Video: true}, true
	}
	if len(m.ImageVersions2.Candidates) > 0 && m.ImageVersions2.Candidates[0].URL != "" {
		return model.Media{URL: m.ImageVersions2.Candidates[0].URL}, true
	}
	return model.Media{}, false
}

// flexString accepts ids encoded either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("media id %s: %w", n, err)
	}
	*f = flexString(n.String())
	return nil
}
