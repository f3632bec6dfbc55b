// Package engine runs synchronization passes for watched accounts and
// one-off link fetches.
//
// A pass walks the provider's newest-first listing lazily and stops at the
// first item that is not newer than the watermark. The new items are then
// delivered oldest first. The watermark only advances across a contiguous run
// of delivered items starting at the old watermark, so an item that failed to
// send is picked up again on the next pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"instarelay/internal/dispatch"
	"instarelay/internal/model"
	"instarelay/internal/provider"
)

// Status is the terminal state of an account pass.
type Status string

// Pass statuses.
const (
	StatusCompleted           Status = "completed"
	StatusProviderUnavailable Status = "provider_unavailable"
	StatusCancelled           Status = "cancelled"
)

// Outcome reports one account pass. Delivered and Failed count items.
type Outcome struct {
	Account   string
	Status    Status
	Delivered int
	Failed    int
	Err       error
}

// Stager downloads item media into a named staging directory.
type Stager interface {
	Stage(ctx context.Context, dir string, item model.Item) ([]model.StagedItem, error)
	Release(dir string)
	NewSessionDir() string
}

// Dispatcher sends a staged file and removes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, item model.StagedItem, chatID int64) dispatch.Result
}

// Engine runs passes against a provider.
type Engine struct {
	provider   provider.Client
	stager     Stager
	dispatcher Dispatcher
	log        *slog.Logger
}

// New creates an Engine.
func New(p provider.Client, st Stager, d Dispatcher, log *slog.Logger) *Engine {
	return &Engine{provider: p, stager: st, dispatcher: d, log: log}
}

// SyncAccount runs one pass for key starting from wm and returns the
// watermark to persist. The caller must hold the account's lock.
func (e *Engine) SyncAccount(ctx context.Context, key model.AccountKey, wm model.Watermark) (model.Watermark, Outcome) {
	out := Outcome{Account: key.Account, Status: StatusCompleted}
	log := e.log.With("subscriber_id", key.SubscriberID, "account", key.Account)

	h, err := e.provider.ResolveAccount(ctx, key.Account)
	if err != nil {
		out.Status = StatusProviderUnavailable
		out.Err = fmt.Errorf("resolve account: %w", err)
		if ctx.Err() != nil {
			out.Status = StatusCancelled
		}
		log.Warn("resolve failed", "error", err)
		return wm, out
	}

	dir := stagingDir(key)
	defer e.stager.Release(dir)

	next := wm
	var errs []error

	posts := e.syncSeq(ctx, key.SubscriberID, dir, e.provider.ListPosts(ctx, h), wm.LastPostAt, true, log.With("kind", model.KindPost))
	next.LastPostAt = posts.mark
	out.Delivered += posts.delivered
	out.Failed += posts.failed
	errs = append(errs, posts.errs...)
	if posts.listErr != nil {
		out.Status = StatusProviderUnavailable
		errs = append(errs, fmt.Errorf("list posts: %w", posts.listErr))
	}

	if ctx.Err() == nil {
		if e.provider.IsAuthenticated() {
			// the reels endpoint returns stories oldest first, so older items are
			// skipped instead of ending the walk
			stories := e.syncSeq(ctx, key.SubscriberID, dir, e.provider.ListStories(ctx, h), wm.LastStoryAt, false, log.With("kind", model.KindStory))
			next.LastStoryAt = stories.mark
			out.Delivered += stories.delivered
			out.Failed += stories.failed
			errs = append(errs, stories.errs...)
			if stories.listErr != nil {
				out.Status = StatusProviderUnavailable
				errs = append(errs, fmt.Errorf("list stories: %w", stories.listErr))
			}
		} else {
			log.Debug("stories skipped, session not authenticated")
		}
	}

	if err := ctx.Err(); err != nil {
		out.Status = StatusCancelled
		errs = append(errs, err)
	}
	out.Err = errors.Join(errs...)

	log.Info("sync pass finished",
		"status", out.Status,
		"delivered", out.Delivered,
		"failed", out.Failed,
	)
	return next, out
}

type seqResult struct {
	mark      *time.Time
	delivered int
	failed    int
	errs      []error
	listErr   error
}

// syncSeq collects the items newer than mark and delivers them oldest first.
// With stopAtOld the walk ends at the first old item; otherwise old items are
// skipped. When the listing fails before the walk is done, the collected items
// are still delivered but mark stays put: unread pages may hold older new
// items.
func (e *Engine) syncSeq(ctx context.Context, chatID int64, dir string, seq iter.Seq2[model.Item, error], mark *time.Time, stopAtOld bool, log *slog.Logger) seqResult {
	res := seqResult{mark: mark}

	var fresh []model.Item
	for item, err := range seq {
		if err != nil {
			if ctx.Err() == nil {
				res.listErr = err
				log.Warn("listing stopped", "collected", len(fresh), "error", err)
			}
			break
		}
		if mark != nil && !item.TakenAt.After(*mark) {
			if stopAtOld {
				break
			}
			continue
		}
		fresh = append(fresh, item)
	}
	slices.SortStableFunc(fresh, func(a, b model.Item) int {
		return a.TakenAt.Compare(b.TakenAt)
	})

	contiguous := res.listErr == nil
	for _, item := range fresh {
		if ctx.Err() != nil {
			return res
		}
		if _, err := e.deliver(ctx, chatID, dir, item); err != nil {
			res.failed++
			res.errs = append(res.errs, err)
			contiguous = false
			log.Warn("item not delivered", "item_id", item.ID, "error", err)
			continue
		}
		res.delivered++
		if contiguous {
			t := item.TakenAt
			res.mark = &t
		}
	}
	return res
}

// deliver stages item and dispatches each of its files. It returns the number
// of files produced and an error if any file was not sent.
func (e *Engine) deliver(ctx context.Context, chatID int64, dir string, item model.Item) (int, error) {
	staged, err := e.stager.Stage(ctx, dir, item)
	if err != nil {
		return 0, fmt.Errorf("stage item %s: %w", item.ID, err)
	}
	var errs []error
	for _, s := range staged {
		if r := e.dispatcher.Dispatch(ctx, s, chatID); !r.Sent() {
			errs = append(errs, r.Err)
		}
	}
	if len(errs) > 0 {
		return len(staged), fmt.Errorf("send item %s: %w", item.ID, errors.Join(errs...))
	}
	return len(staged), nil
}

func stagingDir(key model.AccountKey) string {
	return fmt.Sprintf("%d_%s", key.SubscriberID, key.Account)
}
