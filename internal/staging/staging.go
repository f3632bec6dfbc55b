// Package staging downloads item media into a local directory where it
// waits for dispatch.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"instarelay/internal/model"
	"instarelay/internal/provider"
)

// MaxFileSize is the largest file a Telegram bot may upload.
const MaxFileSize = 50 * 1024 * 1024

// ErrTooLarge is returned when a media file exceeds MaxFileSize.
var ErrTooLarge = errors.New("media file too large")

// ErrBadDir is returned for staging directory names that would escape the root.
var ErrBadDir = errors.New("invalid staging directory")

// Area is the root of all staging directories.
type Area struct {
	root   string
	client provider.HTTPClient
	log    *slog.Logger
}

// New creates an Area rooted at root, creating the directory if needed.
func New(root string, client provider.HTTPClient, log *slog.Logger) (*Area, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Area{root: root, client: client, log: log}, nil
}

// Root returns the staging root directory.
func (a *Area) Root() string {
	return a.root
}

// NewSessionDir returns a fresh directory name for a one-off link request.
func (a *Area) NewSessionDir() string {
	return "link-" + uuid.NewString()
}

// Stage downloads every media file of item into the staging directory dir
// and returns the staged files in media order. If any download fails, the
// files already written for this item are removed before returning.
func (a *Area) Stage(ctx context.Context, dir string, item model.Item) ([]model.StagedItem, error) {
	target, err := a.dirPath(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(target, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	staged := make([]model.StagedItem, 0, len(item.Media))
	for i, m := range item.Media {
		name := FileName(item, i, m)
		dst := filepath.Join(target, name)
		size, err := a.download(ctx, m.URL, dst)
		if err != nil {
			for _, s := range staged {
				_ = os.Remove(s.LocalPath)
			}
			return nil, fmt.Errorf("download %s: %w", name, err)
		}
		staged = append(staged, model.StagedItem{
			LocalPath:    dst,
			SizeBytes:    size,
			SourceItemID: item.ID,
			CapturedAt:   item.TakenAt,
			Video:        m.Video,
		})
	}
	return staged, nil
}

// Release removes dir if it is empty. A directory that still holds files is
// left alone and reported.
func (a *Area) Release(dir string) {
	target, err := a.dirPath(dir)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return
	}
	if len(entries) > 0 {
		a.log.Warn("staging dir not empty after pass", "dir", target, "files", len(entries))
		return
	}
	_ = os.Remove(target)
}

// Sweep removes everything under the staging root. Called at startup to drop
// files left behind by a crashed process.
func (a *Area) Sweep() error {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return fmt.Errorf("read staging root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(a.root, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	if len(entries) > 0 {
		a.log.Info("swept staging leftovers", "entries", len(entries))
	}
	return nil
}

func (a *Area) dirPath(dir string) (string, error) {
	if dir == "" || dir == "." || dir == ".." || strings.ContainsAny(dir, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrBadDir, dir)
	}
	return filepath.Join(a.root, dir), nil
}

func (a *Area) download(ctx context.Context, rawURL, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > MaxFileSize {
		return 0, ErrTooLarge
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // dst is built from a checked dir
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, MaxFileSize+1))
	closeErr := f.Close()
	if err == nil && n > MaxFileSize {
		err = ErrTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, err
	}
	return n, nil
}

// FileName builds the staged file name of the i-th media of item:
// "<taken_at UTC>_<shortcode or id>_<i>.<ext>".
func FileName(item model.Item, i int, m model.Media) string {
	code := item.Shortcode
	if code == "" {
		code = item.ID
	}
	code = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, code)
	return fmt.Sprintf("%s_%s_%d%s", item.TakenAt.UTC().Format("2006-01-02_15-04-05"), code, i+1, extension(m))
}

func extension(m model.Media) string {
	if u, err := url.Parse(m.URL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".jpg", ".jpeg", ".png", ".webp", ".heic", ".mp4", ".mov":
			return ext
		}
	}
	if m.Video {
		return ".mp4"
	}
	return ".jpg"
}
