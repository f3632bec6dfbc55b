package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/net/publicsuffix"

	"instarelay/internal/config"
	"instarelay/internal/dispatch"
	"instarelay/internal/engine"
	"instarelay/internal/provider"
	"instarelay/internal/provider/feed"
	"instarelay/internal/provider/instagram"
	"instarelay/internal/relay"
	"instarelay/internal/staging"
	"instarelay/internal/storage"
)

// getUpdates holds the connection open for up to this long.
const pollTimeout = 60 * time.Second

// app is the assembled process: stores, provider, Telegram client and the
// relay service on top of them.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.SQLite
	provider provider.Client
	api      *tgbotapi.BotAPI
	relay    *relay.Service
}

func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openStore(path string) (*storage.SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := storage.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func newProvider(cfg *config.Config) (provider.Client, error) {
	// keeps the csrftoken and mid cookies Instagram hands out between requests
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{Timeout: cfg.ProviderTimeout, Jar: jar}
	switch cfg.Provider {
	case config.ProviderFeed:
		fc, err := feed.New(client, cfg.FeedURLTemplate, cfg.ProviderTimeout)
		if err != nil {
			return nil, err
		}
		return fc, nil
	default:
		return instagram.New(client, cfg.SessionFile, cfg.ProviderTimeout), nil
	}
}

// newApp opens the stores and builds every component down to the relay
// service. The caller must call close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.LogLevel)

	store, err := openStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, store: store}

	registry, err := storage.OpenRegistry(ctx, store, cfg.AdminUsers)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open registry: %w", err)
	}
	watermarks, err := storage.OpenWatermarks(ctx, store)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open watermarks: %w", err)
	}

	a.provider, err = newProvider(cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create provider: %w", err)
	}

	area, err := staging.New(cfg.StagingDir, &http.Client{Timeout: cfg.SendTimeout}, log)
	if err != nil {
		a.close()
		return nil, err
	}
	// leftovers of an interrupted run
	if err := area.Sweep(); err != nil {
		log.Warn("sweep staging area", "path", area.Root(), "error", err)
	}

	a.api, err = tgbotapi.NewBotAPIWithClient(cfg.TelegramBotToken, tgbotapi.APIEndpoint,
		&http.Client{Timeout: cfg.SendTimeout + pollTimeout})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create telegram client: %w", err)
	}
	log.Info("authorized on telegram", "username", a.api.Self.UserName)

	eng := engine.New(a.provider, area, dispatch.New(a.api, log), log)
	a.relay = relay.New(eng, a.provider, registry, watermarks, cfg.SyncWorkers, log)
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}
