package config

import "time"

type Config struct {
	DiscordToken          string `env:"DISCORD_TOKEN"`
	JellyfinURL           string `env:"JELLYFIN_URL"`
	JellyfinAPIKey        string `env:"JELLYFIN_API_KEY"`
	JellyfinUserID        string `env:"JELLYFIN_USER_ID"`
	DataDir               string `env:"DATA_DIR" envDefault:"./data"`
	CacheDir              string `env:"-"`
	CacheLimitBytes       int64  `env:"CACHE_LIMIT" envDefault:"268435456"` // 256MiB of artwork
	BotStatus             string `env:"BOT_STATUS" envDefault:"online"`     // online/dnd/idle
	BotActivity           string `env:"BOT_ACTIVITY" envDefault:"shuffle radio"`
	RegisterCommandsOnBot bool   `env:"REGISTER_COMMANDS_ON_BOT" envDefault:"false"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`

	// Playback tuning. Defaults are the empirically chosen values; keep them
	// configurable rather than guessing better ones.
	Volume         float64       `env:"VOLUME" envDefault:"0.3"`
	PrefillBytes   int           `env:"PREFILL_BYTES" envDefault:"4194304"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"20s"`
	ReconnectGrace time.Duration `env:"RECONNECT_GRACE" envDefault:"5s"`
	EndDelay       time.Duration `env:"PLAY_END_DELAY" envDefault:"1s"`
	ErrorDelay     time.Duration `env:"PLAY_ERROR_DELAY" envDefault:"1s"`
	RetryDelay     time.Duration `env:"PLAY_RETRY_DELAY" envDefault:"2s"`
	PrePlayGuard   time.Duration `env:"PRE_PLAY_GUARD" envDefault:"500ms"`
	CatalogRPS     float64       `env:"CATALOG_RPS" envDefault:"5"`
}
