package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("JELLYFIN_URL", "http://jellyfin.local:8096/")
	t.Setenv("JELLYFIN_API_KEY", "key")
	t.Setenv("DATA_DIR", dir)
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://jellyfin.local:8096", cfg.JellyfinURL)
	assert.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)
	assert.InDelta(t, 0.3, cfg.Volume, 1e-9)
	assert.Equal(t, 4*1024*1024, cfg.PrefillBytes)
	assert.Equal(t, 20*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.ReconnectGrace)
	assert.Equal(t, time.Second, cfg.EndDelay)
	assert.Equal(t, time.Second, cfg.ErrorDelay)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.PrePlayGuard)
	assert.DirExists(t, filepath.Join(dir, "cache", "tmp"))
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PLAY_RETRY_DELAY", "3s")
	t.Setenv("VOLUME", "0.5")
	t.Setenv("REGISTER_COMMANDS_ON_BOT", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.RetryDelay)
	assert.InDelta(t, 0.5, cfg.Volume, 1e-9)
	assert.True(t, cfg.RegisterCommandsOnBot)
}

func TestLoadConfig_Missing(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		want  string
	}{
		{"token", "DISCORD_TOKEN", "DISCORD_TOKEN required"},
		{"url", "JELLYFIN_URL", "JELLYFIN_URL required"},
		{"key", "JELLYFIN_API_KEY", "JELLYFIN_API_KEY required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, "")

			_, err := LoadConfig()
			require.Error(t, err)
			var cerr ErrConfig
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.want, cerr.Error())
		})
	}
}

func TestLoadConfig_BadVolume(t *testing.T) {
	setRequired(t)
	t.Setenv("VOLUME", "1.5")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "DEBUG"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "warning"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: ""}).SlogLevel())
}
