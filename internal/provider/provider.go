// Package provider defines the content provider client consumed by the sync
// engine, and the error kinds it reports.
package provider

import (
	"context"
	"errors"
	"iter"
	"net/http"

	"instarelay/internal/model"
)

// Error kinds returned by provider clients. Callers match them with errors.Is.
var (
	ErrNotFound      = errors.New("account not found")
	ErrPrivate       = errors.New("account is private")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnavailable   = errors.New("provider unavailable")
	ErrAuth          = errors.New("authentication failed")
	ErrLoginRequired = errors.New("login required")
	ErrNotSupported  = errors.New("not supported by provider")
)

// Credentials authenticate a provider session.
type Credentials struct {
	Username  string
	SessionID string
}

// Client lists and fetches items from the remote platform.
type Client interface {
	ResolveAccount(ctx context.Context, name string) (model.AccountHandle, error)
	// ListPosts yields posts newest first, fetching pages lazily. Breaking
	// out of the loop stops pagination.
	ListPosts(ctx context.Context, h model.AccountHandle) iter.Seq2[model.Item, error]
	// ListStories yields the active story items of an account. It requires an
	// authenticated session.
	ListStories(ctx context.Context, h model.AccountHandle) iter.Seq2[model.Item, error]
	FetchSingle(ctx context.Context, shortcode string) (model.Item, error)
	Authenticate(ctx context.Context, creds Credentials) error
	IsAuthenticated() bool
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
