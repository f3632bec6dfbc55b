package bot

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"instarelay/internal/engine"
	"instarelay/internal/model"
	"instarelay/internal/provider"
)

func TestParseIDArg(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    int64
		wantErr bool
	}{
		{name: "valid", args: "42", want: 42},
		{name: "with spaces", args: "  7  ", want: 7},
		{name: "extra words", args: "5 spammer", want: 5},
		{name: "empty", args: "", wantErr: true},
		{name: "not a number", args: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIDArg(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseAccountArg(t *testing.T) {
	tests := map[string]string{
		"alice":        "alice",
		"@alice":       "alice",
		"  @bob extra": "bob",
		"":             "",
		"   ":          "",
	}
	for in, want := range tests {
		if diff := cmp.Diff(want, ParseAccountArg(in)); diff != "" {
			t.Errorf("ParseAccountArg(%q) (-want +got):\n%s", in, diff)
		}
	}
}

func TestParseLoginArgs(t *testing.T) {
	got, err := ParseLoginArgs(" relaybot  5512%3Aabc ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := provider.Credentials{Username: "relaybot", SessionID: "5512%3Aabc"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"", "relaybot", "a b c"} {
		if _, err := ParseLoginArgs(bad); err == nil {
			t.Errorf("ParseLoginArgs(%q) expected error", bad)
		}
	}
}

func TestLooksLikeLink(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"https://www.instagram.com/p/ABC/", true},
		{"instagram.com/stories/bob/", true},
		{"http://example.com", true},
		{"natgeo", false},
		{"hello there", false},
		{"look at https://instagram.com/p/x", false},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, LooksLikeLink(tt.text)); diff != "" {
			t.Errorf("LooksLikeLink(%q) (-want +got):\n%s", tt.text, diff)
		}
	}
}

func TestFormatOutcome(t *testing.T) {
	tests := []struct {
		name string
		o    engine.Outcome
		want string
	}{
		{
			name: "nothing new",
			o:    engine.Outcome{Account: "alice", Status: engine.StatusCompleted},
			want: "@alice: nothing new",
		},
		{
			name: "delivered",
			o:    engine.Outcome{Account: "alice", Status: engine.StatusCompleted, Delivered: 3},
			want: "@alice: 3 new item(s) sent",
		},
		{
			name: "partial failure",
			o:    engine.Outcome{Account: "alice", Status: engine.StatusCompleted, Delivered: 1, Failed: 1},
			want: "@alice: 1 new item(s) sent, 1 failed and will be retried",
		},
		{
			name: "not found",
			o:    engine.Outcome{Account: "ghost", Status: engine.StatusProviderUnavailable, Err: provider.ErrNotFound},
			want: "❌ error in @ghost: account not found",
		},
		{
			name: "rate limited mid pass",
			o:    engine.Outcome{Account: "alice", Status: engine.StatusProviderUnavailable, Delivered: 2, Err: provider.ErrRateLimited},
			want: "@alice: 2 new item(s) sent, then stopped: rate limited, try again later",
		},
		{
			name: "cancelled",
			o:    engine.Outcome{Account: "alice", Status: engine.StatusCancelled, Delivered: 1},
			want: "@alice: check cancelled after 1 item(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatOutcome(tt.o)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatSyncReport(t *testing.T) {
	outcomes := []engine.Outcome{
		{Account: "alice", Status: engine.StatusCompleted, Delivered: 2, Failed: 1},
		{Account: "bob", Status: engine.StatusCompleted},
	}
	want := "Scheduled check:\n" +
		"\n@alice: 2 new item(s) sent, 1 failed and will be retried" +
		"\n@bob: nothing new" +
		"\n\nDone. 2 new item(s) from 2 account(s). 1 item(s) failed to send."
	if diff := cmp.Diff(want, FormatSyncReport(outcomes)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatLinkOutcome(t *testing.T) {
	tests := []struct {
		o    engine.LinkOutcome
		want string
	}{
		{engine.LinkOutcome{Status: engine.LinkDelivered, Delivered: 2}, "Done. 2 file(s) sent."},
		{engine.LinkOutcome{Status: engine.LinkDelivered, Delivered: 1, Failed: 1}, "Done. 1 file(s) sent, 1 item(s) failed."},
		{engine.LinkOutcome{Status: engine.LinkUnsupported}, "This link is not supported. Send a post, reel or story link."},
		{engine.LinkOutcome{Status: engine.LinkLoginRequired}, "Stories need an Instagram login. Ask an admin to run /login."},
		{engine.LinkOutcome{Status: engine.LinkNothingToDeliver}, "Nothing to send: the story has expired or the post has no media."},
		{engine.LinkOutcome{Status: engine.LinkSendFailed}, "Could not send the media. Try again later."},
		{engine.LinkOutcome{Status: engine.LinkProviderUnavailable, Err: provider.ErrNotFound}, "Fetch failed: account not found"},
	}
	for _, tt := range tests {
		t.Run(string(tt.o.Status), func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatLinkOutcome(tt.o)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatAccountList(t *testing.T) {
	if diff := cmp.Diff("You have no accounts yet. Use /add <account> to add one.", FormatAccountList(nil)); diff != "" {
		t.Errorf("empty (-want +got):\n%s", diff)
	}
	want := "Your accounts:\n\n1. @alice\n2. @bob"
	if diff := cmp.Diff(want, FormatAccountList([]string{"alice", "bob"})); diff != "" {
		t.Errorf("list (-want +got):\n%s", diff)
	}
}

func TestFormatWatermark(t *testing.T) {
	post := time.Date(2024, 1, 3, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		wm     model.Watermark
		found  bool
		authed bool
		want   string
	}{
		{name: "never synced", want: "@alice has not been synced yet."},
		{
			name:   "post only, logged in",
			wm:     model.Watermark{LastPostAt: &post},
			found:  true,
			authed: true,
			want:   "@alice\nLast post: 2024-01-03 09:30 UTC\nLast story: never",
		},
		{
			name:  "no login",
			wm:    model.Watermark{LastPostAt: &post, LastStoryAt: &post},
			found: true,
			want:  "@alice\nLast post: 2024-01-03 09:30 UTC\nLast story: 2024-01-03 09:30 UTC (stories off, no login)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatWatermark("alice", tt.wm, tt.found, tt.authed)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDescribeProviderError(t *testing.T) {
	wrapped := errors.Join(errors.New("resolve account"), provider.ErrPrivate)
	if diff := cmp.Diff("account is private", describeProviderError(wrapped)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("provider unavailable", describeProviderError(errors.New("dial tcp: timeout"))); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
