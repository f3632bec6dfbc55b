// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported content providers.
const (
	ProviderInstagram = "instagram"
	ProviderFeed      = "feed"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	StagingDir       string
	SessionFile      string
	LogLevel         string
	AllowedUsers     []int64
	AdminUsers       []int64
	Provider         string
	FeedURLTemplate  string
	SyncInterval     time.Duration
	SyncWorkers      int
	ProviderTimeout  time.Duration
	SendTimeout      time.Duration
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// fileConfig mirrors Config in the YAML file. Unset fields keep defaults.
type fileConfig struct {
	TelegramBotToken string    `yaml:"telegram_bot_token"`
	DatabasePath     string    `yaml:"database_path"`
	StagingDir       string    `yaml:"staging_dir"`
	SessionFile      string    `yaml:"session_file"`
	LogLevel         string    `yaml:"log_level"`
	AllowedUsers     []int64   `yaml:"allowed_users"`
	AdminUsers       []int64   `yaml:"admin_users"`
	Provider         string    `yaml:"provider"`
	FeedURLTemplate  string    `yaml:"feed_url_template"`
	SyncInterval     *Duration `yaml:"sync_interval"`
	SyncWorkers      int       `yaml:"sync_workers"`
	ProviderTimeout  *Duration `yaml:"provider_timeout"`
	SendTimeout      *Duration `yaml:"send_timeout"`
}

func defaults() *Config {
	return &Config{
		DatabasePath:    "./data/relay.db",
		StagingDir:      "./data/downloads",
		SessionFile:     "./data/session.json",
		LogLevel:        "info",
		Provider:        ProviderInstagram,
		SyncInterval:    30 * time.Minute,
		SyncWorkers:     4,
		ProviderTimeout: 30 * time.Second,
		SendTimeout:     60 * time.Second,
	}
}

// Load reads configuration from the file named by CONFIG_FILE, if any, and
// then from environment variables, which take precedence.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file.
func LoadFrom(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.TelegramBotToken, fc.TelegramBotToken)
	setString(&c.DatabasePath, fc.DatabasePath)
	setString(&c.StagingDir, fc.StagingDir)
	setString(&c.SessionFile, fc.SessionFile)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.Provider, fc.Provider)
	setString(&c.FeedURLTemplate, fc.FeedURLTemplate)
	if len(fc.AllowedUsers) > 0 {
		c.AllowedUsers = fc.AllowedUsers
	}
	if len(fc.AdminUsers) > 0 {
		c.AdminUsers = fc.AdminUsers
	}
	if fc.SyncWorkers != 0 {
		c.SyncWorkers = fc.SyncWorkers
	}
	if fc.SyncInterval != nil {
		c.SyncInterval = fc.SyncInterval.Duration
	}
	if fc.ProviderTimeout != nil {
		c.ProviderTimeout = fc.ProviderTimeout.Duration
	}
	if fc.SendTimeout != nil {
		c.SendTimeout = fc.SendTimeout.Duration
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.TelegramBotToken, os.Getenv("TELEGRAM_BOT_TOKEN"))
	setString(&c.DatabasePath, os.Getenv("DATABASE_PATH"))
	setString(&c.StagingDir, os.Getenv("STAGING_DIR"))
	setString(&c.SessionFile, os.Getenv("SESSION_FILE"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&c.Provider, os.Getenv("PROVIDER"))
	setString(&c.FeedURLTemplate, os.Getenv("FEED_URL_TEMPLATE"))

	var err error
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		if c.AllowedUsers, err = parseIDs("ALLOWED_USERS", raw); err != nil {
			return err
		}
	}
	if raw := os.Getenv("ADMIN_USERS"); raw != "" {
		if c.AdminUsers, err = parseIDs("ADMIN_USERS", raw); err != nil {
			return err
		}
	}
	if raw := os.Getenv("SYNC_WORKERS"); raw != "" {
		if c.SyncWorkers, err = strconv.Atoi(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("invalid SYNC_WORKERS %q: %w", raw, err)
		}
	}
	for key, dst := range map[string]*time.Duration{
		"SYNC_INTERVAL":    &c.SyncInterval,
		"PROVIDER_TIMEOUT": &c.ProviderTimeout,
		"SEND_TIMEOUT":     &c.SendTimeout,
	} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		*dst = d
	}
	return nil
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	switch c.Provider {
	case ProviderInstagram:
	case ProviderFeed:
		if strings.Count(c.FeedURLTemplate, "%s") != 1 {
			return errors.New("FEED_URL_TEMPLATE must contain exactly one %s when PROVIDER=feed")
		}
	default:
		return fmt.Errorf("unknown PROVIDER %q", c.Provider)
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", c.SyncWorkers)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must not be negative, got %s", c.SyncInterval)
	}
	if c.ProviderTimeout <= 0 || c.SendTimeout <= 0 {
		return errors.New("PROVIDER_TIMEOUT and SEND_TIMEOUT must be positive")
	}
	return nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
// Admins are always allowed.
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID) || c.IsAdmin(userID)
}

// IsAdmin reports whether userID is listed in ADMIN_USERS.
func (c *Config) IsAdmin(userID int64) bool {
	return slices.Contains(c.AdminUsers, userID)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseIDs(key, raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in %s: %w", s, key, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}
