package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"instarelay/internal/engine"
	"instarelay/internal/model"
	"instarelay/internal/provider"
)

const timeFormat = "2006-01-02 15:04 UTC"

// FormatOutcome formats the terminal status of one account pass.
func FormatOutcome(o engine.Outcome) string {
	switch o.Status {
	case engine.StatusProviderUnavailable:
		if o.Delivered > 0 {
			return fmt.Sprintf("@%s: %d new item(s) sent, then stopped: %s", o.Account, o.Delivered, describeProviderError(o.Err))
		}
		return fmt.Sprintf("❌ error in @%s: %s", o.Account, describeProviderError(o.Err))
	case engine.StatusCancelled:
		return fmt.Sprintf("@%s: check cancelled after %d item(s)", o.Account, o.Delivered)
	}

	switch {
	case o.Failed > 0:
		return fmt.Sprintf("@%s: %d new item(s) sent, %d failed and will be retried", o.Account, o.Delivered, o.Failed)
	case o.Delivered > 0:
		return fmt.Sprintf("@%s: %d new item(s) sent", o.Account, o.Delivered)
	default:
		return fmt.Sprintf("@%s: nothing new", o.Account)
	}
}

// FormatSummary formats the closing line of a manual check.
func FormatSummary(outcomes []engine.Outcome) string {
	var delivered, failed, errored int
	for _, o := range outcomes {
		delivered += o.Delivered
		failed += o.Failed
		if o.Status != engine.StatusCompleted {
			errored++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Done. %d new item(s) from %d account(s).", delivered, len(outcomes))
	if failed > 0 {
		fmt.Fprintf(&b, " %d item(s) failed to send.", failed)
	}
	if errored > 0 {
		fmt.Fprintf(&b, " %d account(s) could not be checked.", errored)
	}
	return b.String()
}

// FormatSyncReport formats the outcomes of a scheduled check as one message.
func FormatSyncReport(outcomes []engine.Outcome) string {
	var b strings.Builder
	b.WriteString("Scheduled check:\n")
	for _, o := range outcomes {
		b.WriteString("\n")
		b.WriteString(FormatOutcome(o))
	}
	b.WriteString("\n\n")
	b.WriteString(FormatSummary(outcomes))
	return b.String()
}

// FormatLinkOutcome formats the result of a link fetch.
func FormatLinkOutcome(o engine.LinkOutcome) string {
	switch o.Status {
	case engine.LinkDelivered:
		if o.Failed > 0 {
			return fmt.Sprintf("Done. %d file(s) sent, %d item(s) failed.", o.Delivered, o.Failed)
		}
		return fmt.Sprintf("Done. %d file(s) sent.", o.Delivered)
	case engine.LinkUnsupported:
		return "This link is not supported. Send a post, reel or story link."
	case engine.LinkLoginRequired:
		return "Stories need an Instagram login. Ask an admin to run /login."
	case engine.LinkNothingToDeliver:
		return "Nothing to send: the story has expired or the post has no media."
	case engine.LinkSendFailed:
		return "Could not send the media. Try again later."
	default:
		return fmt.Sprintf("Fetch failed: %s", describeProviderError(o.Err))
	}
}

// FormatAccountList formats the watched accounts of a subscriber.
func FormatAccountList(accounts []string) string {
	if len(accounts) == 0 {
		return "You have no accounts yet. Use /add <account> to add one."
	}
	var b strings.Builder
	b.WriteString("Your accounts:\n")
	for i, a := range accounts {
		fmt.Fprintf(&b, "\n%d. @%s", i+1, a)
	}
	return b.String()
}

// FormatWatermark formats the sync progress of an account.
func FormatWatermark(account string, wm model.Watermark, found, authenticated bool) string {
	if !found {
		return fmt.Sprintf("@%s has not been synced yet.", account)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "@%s\n", account)
	fmt.Fprintf(&b, "Last post: %s\n", formatTime(wm.LastPostAt))
	fmt.Fprintf(&b, "Last story: %s", formatTime(wm.LastStoryAt))
	if !authenticated {
		b.WriteString(" (stories off, no login)")
	}
	return b.String()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(timeFormat)
}

func describeProviderError(err error) string {
	switch {
	case err == nil:
		return "provider unavailable"
	case errors.Is(err, provider.ErrNotFound):
		return "account not found"
	case errors.Is(err, provider.ErrPrivate):
		return "account is private"
	case errors.Is(err, provider.ErrRateLimited):
		return "rate limited, try again later"
	case errors.Is(err, provider.ErrLoginRequired):
		return "login required"
	default:
		return "provider unavailable"
	}
}
