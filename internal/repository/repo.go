package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
)

const historyLimit = 200

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db, now: time.Now} }

func (r *Repo) UpsertSettings(ctx context.Context, guild string) (*Settings, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	); err != nil {
		return nil, err
	}
	return r.GetSettings(ctx, guild)
}

func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, leave_if_no_listeners, announce_now_playing, last_playlist_id
	FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	var b1, b2 int
	if err := row.Scan(&s.GuildID, &b1, &b2, &s.LastPlaylistID); err != nil {
		return nil, err
	}
	s.LeaveIfNoListeners = b1 != 0
	s.AnnounceNowPlaying = b2 != 0
	return &s, nil
}

// SettingsOrDefault never fails; a guild without a row, or a database
// error, yields the defaults.
func (r *Repo) SettingsOrDefault(ctx context.Context, guild string) Settings {
	s, err := r.GetSettings(ctx, guild)
	if err != nil {
		return DefaultSettings(guild)
	}
	return *s
}

func (r *Repo) UpdateSettings(ctx context.Context, s *Settings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings(guild_id, leave_if_no_listeners, announce_now_playing, last_playlist_id)
		VALUES (?,?,?,?)
		ON CONFLICT(guild_id) DO UPDATE SET
		  leave_if_no_listeners=excluded.leave_if_no_listeners,
		  announce_now_playing=excluded.announce_now_playing,
		  last_playlist_id=excluded.last_playlist_id`,
		s.GuildID, boolToInt(s.LeaveIfNoListeners), boolToInt(s.AnnounceNowPlaying), s.LastPlaylistID,
	)
	return err
}

// RecordPlay appends item to the guild's history and trims it to the most
// recent entries.
func (r *Repo) RecordPlay(ctx context.Context, guild string, item *catalog.MediaItem) error {
	if item == nil {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO play_history(guild_id, item_id, name, artist, album, duration_ms, played_at)
		VALUES (?,?,?,?,?,?,?)`,
		guild, item.ID, item.Name, item.Artist, item.Album,
		item.Duration.Milliseconds(), r.now().UnixMilli(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM play_history WHERE guild_id=? AND id NOT IN (
		  SELECT id FROM play_history WHERE guild_id=? ORDER BY played_at DESC, id DESC LIMIT ?
		)`, guild, guild, historyLimit,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentPlays lists the guild's history, newest first.
func (r *Repo) RecentPlays(ctx context.Context, guild string, limit int) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, guild_id, item_id, name, artist, album, duration_ms, played_at
		FROM play_history WHERE guild_id=? ORDER BY played_at DESC, id DESC LIMIT ?`, guild, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var durMs, playedMs int64
		if err := rows.Scan(&h.ID, &h.GuildID, &h.ItemID, &h.Name, &h.Artist, &h.Album, &durMs, &playedMs); err != nil {
			return nil, err
		}
		h.Duration = time.Duration(durMs) * time.Millisecond
		h.PlayedAt = time.UnixMilli(playedMs)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repo) CacheTouch(ctx context.Context, hash string, size int64, created bool) error {
	now := r.now().UnixNano()
	if created {
		_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO file_cache(hash,bytes,accessed_at,created_at) VALUES (?,?,?,COALESCE((SELECT created_at FROM file_cache WHERE hash=?),?))`,
			hash, size, now, hash, now)
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE file_cache SET accessed_at=? WHERE hash=?`, now, hash)
	return err
}

func (r *Repo) CacheRemove(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM file_cache WHERE hash=?`, hash)
	return err
}

func (r *Repo) CacheTotalBytes(ctx context.Context) (int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(bytes),0) FROM file_cache`)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// CacheOldest returns the least recently used entry, or "" when the index
// is empty.
func (r *Repo) CacheOldest(ctx context.Context) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT hash FROM file_cache ORDER BY accessed_at ASC LIMIT 1`)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
