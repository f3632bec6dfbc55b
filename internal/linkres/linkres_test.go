package linkres

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		link    string
		want    Directive
		wantErr bool
	}{
		{
			name: "post",
			link: "https://www.instagram.com/p/ABC123/",
			want: Directive{Kind: SinglePost, Shortcode: "ABC123"},
		},
		{
			name: "post with share query",
			link: "https://www.instagram.com/p/C_x-9z/?igsh=MWx0bG9",
			want: Directive{Kind: SinglePost, Shortcode: "C_x-9z"},
		},
		{
			name: "reel without scheme",
			link: "instagram.com/reel/Cz1aB2c3D4e",
			want: Directive{Kind: SinglePost, Shortcode: "Cz1aB2c3D4e"},
		},
		{
			name: "reels plural and tv",
			link: "https://instagram.com/tv/XYZ",
			want: Directive{Kind: SinglePost, Shortcode: "XYZ"},
		},
		{
			name: "owner prefixed post",
			link: "https://www.instagram.com/alice/p/ABC123/",
			want: Directive{Kind: SinglePost, Shortcode: "ABC123"},
		},
		{
			name: "story owner",
			link: "https://www.instagram.com/stories/bob/",
			want: Directive{Kind: StoryByOwner, Account: "bob"},
		},
		{
			name: "story item link",
			link: "https://www.instagram.com/stories/Bob.Smith/3281234567890123456/",
			want: Directive{Kind: StoryByOwner, Account: "bob.smith"},
		},
		{name: "profile link", link: "https://www.instagram.com/alice/", wantErr: true},
		{name: "highlights", link: "https://www.instagram.com/stories/highlights/17900000000000000/", wantErr: true},
		{name: "other host", link: "https://example.com/p/ABC123/", wantErr: true},
		{name: "lookalike host", link: "https://instagram.com.evil.io/p/ABC123/", wantErr: true},
		{name: "empty", link: "   ", wantErr: true},
		{name: "bad shortcode", link: "https://www.instagram.com/p/AB$C/", wantErr: true},
		{name: "plain text", link: "hello there", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.link)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedLink) {
					t.Fatalf("error = %v, want %v", err, ErrUnsupportedLink)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve(%q) mismatch (-want +got):\n%s", tt.link, diff)
			}

			// parsing is pure: a second call gives the same directive
			again, err := Resolve(tt.link)
			if err != nil || !cmp.Equal(got, again) {
				t.Errorf("second Resolve(%q) = %+v, %v", tt.link, again, err)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{SinglePost: "single_post", StoryByOwner: "story_by_owner", Kind(0): "unknown"} {
		if diff := cmp.Diff(want, k.String()); diff != "" {
			t.Errorf("Kind(%d).String() (-want +got):\n%s", k, diff)
		}
	}
}
