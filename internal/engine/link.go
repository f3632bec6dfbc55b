package engine

import (
	"context"
	"errors"
	"fmt"

	"instarelay/internal/linkres"
	"instarelay/internal/model"
	"instarelay/internal/provider"
)

// LinkStatus is the result of a one-off link fetch.
type LinkStatus string

// Link statuses. Only LinkProviderUnavailable and LinkSendFailed are
// failures; the rest are expected answers.
const (
	LinkDelivered           LinkStatus = "delivered"
	LinkUnsupported         LinkStatus = "unsupported_link"
	LinkLoginRequired       LinkStatus = "login_required"
	LinkNothingToDeliver    LinkStatus = "nothing_to_deliver"
	LinkProviderUnavailable LinkStatus = "provider_unavailable"
	LinkSendFailed          LinkStatus = "send_failed"
)

// LinkOutcome reports a link fetch. Delivered counts files sent, Failed
// counts items that could not be delivered.
type LinkOutcome struct {
	Status    LinkStatus
	Delivered int
	Failed    int
	Err       error
}

// FetchLink fetches everything d points at and sends it to chatID. No
// watermark is read or written.
func (e *Engine) FetchLink(ctx context.Context, chatID int64, d linkres.Directive) LinkOutcome {
	log := e.log.With("chat_id", chatID, "directive", d.Kind)

	var items []model.Item
	switch d.Kind {
	case linkres.SinglePost:
		item, err := e.provider.FetchSingle(ctx, d.Shortcode)
		if err != nil {
			log.Warn("fetch single failed", "shortcode", d.Shortcode, "error", err)
			return providerFailure(fmt.Errorf("fetch %s: %w", d.Shortcode, err))
		}
		items = append(items, item)
	case linkres.StoryByOwner:
		if !e.provider.IsAuthenticated() {
			return LinkOutcome{Status: LinkLoginRequired, Err: provider.ErrLoginRequired}
		}
		h, err := e.provider.ResolveAccount(ctx, d.Account)
		if err != nil {
			log.Warn("resolve story owner failed", "account", d.Account, "error", err)
			return providerFailure(fmt.Errorf("resolve account: %w", err))
		}
		for item, err := range e.provider.ListStories(ctx, h) {
			if err != nil {
				log.Warn("list stories failed", "account", d.Account, "error", err)
				return providerFailure(fmt.Errorf("list stories: %w", err))
			}
			items = append(items, item)
		}
	default:
		return LinkOutcome{Status: LinkUnsupported, Err: linkres.ErrUnsupportedLink}
	}

	dir := e.stager.NewSessionDir()
	defer e.stager.Release(dir)

	out := LinkOutcome{}
	var errs []error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := e.deliver(ctx, chatID, dir, item)
		if err != nil {
			out.Failed++
			errs = append(errs, err)
			continue
		}
		out.Delivered += n
	}
	out.Err = errors.Join(errs...)

	switch {
	case out.Delivered == 0 && out.Err != nil:
		out.Status = LinkSendFailed
	case out.Delivered == 0:
		out.Status = LinkNothingToDeliver
	default:
		out.Status = LinkDelivered
	}
	log.Info("link fetch finished", "status", out.Status, "files", out.Delivered, "failed", out.Failed)
	return out
}

func providerFailure(err error) LinkOutcome {
	if errors.Is(err, provider.ErrLoginRequired) {
		return LinkOutcome{Status: LinkLoginRequired, Err: err}
	}
	return LinkOutcome{Status: LinkProviderUnavailable, Err: err}
}
