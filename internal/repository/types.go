package repository

import (
	"database/sql"
	"time"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

// Settings are the per-guild preferences changed through /config.
type Settings struct {
	GuildID            string
	LeaveIfNoListeners bool
	AnnounceNowPlaying bool
	LastPlaylistID     string
}

// DefaultSettings mirrors the column defaults of a fresh guild row.
func DefaultSettings(guild string) Settings {
	return Settings{GuildID: guild, LeaveIfNoListeners: true, AnnounceNowPlaying: true}
}

type HistoryEntry struct {
	ID       int64
	GuildID  string
	ItemID   string
	Name     string
	Artist   string
	Album    string
	Duration time.Duration
	PlayedAt time.Time
}
