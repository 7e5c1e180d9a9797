// Package config loads passvault client settings from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Environment overrides, applied after the file.
const (
	EnvAPIURL    = "PASSVAULT_API_URL"
	EnvLogLevel  = "PASSVAULT_LOG_LEVEL"
	EnvCachePath = "PASSVAULT_CACHE_PATH"
)

const (
	DefaultAPIURL       = "http://127.0.0.1:5000"
	DefaultTimeout      = 15
	DefaultRevealWindow = 30
)

// Config holds client settings.
type Config struct {
	// APIURL is the base URL of the password service.
	APIURL string `toml:"api_url"`

	// TimeoutSeconds bounds every HTTP request.
	TimeoutSeconds int `toml:"timeout_seconds"`

	// RevealWindowSeconds is how long a revealed password stays visible.
	RevealWindowSeconds int `toml:"reveal_window_seconds"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `toml:"log_format"`

	// CachePath is the bbolt file for the record metadata cache. Empty keeps
	// the cache in memory.
	CachePath string `toml:"cache_path"`

	// Cache enables the record metadata cache.
	Cache bool `toml:"cache"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIURL:              DefaultAPIURL,
		TimeoutSeconds:      DefaultTimeout,
		RevealWindowSeconds: DefaultRevealWindow,
		LogLevel:            "warn",
		LogFormat:           "text",
		Cache:               true,
	}
}

// DefaultPath returns the user config location, e.g.
// ~/.config/passvault/config.toml on Linux.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "passvault", "config.toml")
}

// Load reads path over the defaults and then applies environment
// overrides. A missing file is not an error. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.APIURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvCachePath); ok {
		c.CachePath = v
	}
}

// Validate checks the settings are usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url %q must be an absolute http or https URL", c.APIURL)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.RevealWindowSeconds <= 0 {
		return fmt.Errorf("reveal_window_seconds must be positive, got %d", c.RevealWindowSeconds)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q must be text or json", c.LogFormat)
	}
	return nil
}

// Timeout returns TimeoutSeconds as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RevealWindow returns RevealWindowSeconds as a duration.
func (c *Config) RevealWindow() time.Duration {
	return time.Duration(c.RevealWindowSeconds) * time.Second
}

// BaseURL returns APIURL without a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.APIURL, "/")
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level %q must be debug, info, warn or error", s)
	}
}

// NewLogger builds the process logger described by the config.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
