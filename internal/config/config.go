package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

func LoadConfig() (*Config, error) {
	// .env is optional; the real environment always wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", "err", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	cfg.JellyfinURL = strings.TrimRight(cfg.JellyfinURL, "/")
	cfg.CacheDir = filepath.Join(cfg.DataDir, "cache")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	_ = os.MkdirAll(cfg.DataDir, 0o755)
	_ = os.MkdirAll(cfg.CacheDir, 0o755)
	_ = os.MkdirAll(filepath.Join(cfg.CacheDir, "tmp"), 0o755)
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DiscordToken == "":
		return ErrConfig("DISCORD_TOKEN required")
	case c.JellyfinURL == "":
		return ErrConfig("JELLYFIN_URL required")
	case c.JellyfinAPIKey == "":
		return ErrConfig("JELLYFIN_API_KEY required")
	case c.Volume < 0 || c.Volume > 1:
		return ErrConfig("VOLUME must be between 0 and 1")
	case c.PrefillBytes < 0:
		return ErrConfig("PREFILL_BYTES must not be negative")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
