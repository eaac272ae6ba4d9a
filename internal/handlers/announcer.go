package handlers

import (
	"context"
	"log/slog"
	"os"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/player"
	"github.com/sonroyaalmerol/jellyradio/internal/repository"
	"github.com/sonroyaalmerol/jellyradio/internal/ui"
)

// MessageSender is the part of *discordgo.Session used to post notices.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type SettingsSource interface {
	SettingsOrDefault(ctx context.Context, guild string) repository.Settings
}

// ArtworkFetcher returns a local path for an artwork URL.
type ArtworkFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Announcer posts the now-playing card into the channel a playlist was
// picked from.
type Announcer struct {
	sender   MessageSender
	settings SettingsSource
	artwork  ArtworkFetcher
	log      *slog.Logger
}

func NewAnnouncer(sender MessageSender, settings SettingsSource, artwork ArtworkFetcher, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{sender: sender, settings: settings, artwork: artwork, log: logger}
}

// NowPlaying never fails the play loop; problems are logged.
func (a *Announcer) NowPlaying(ctx context.Context, guildID, channelID string, item *catalog.MediaItem) {
	if item == nil || channelID == "" {
		return
	}
	if a.settings != nil && !a.settings.SettingsOrDefault(ctx, guildID).AnnounceNowPlaying {
		return
	}

	msg := &discordgo.MessageSend{
		Components: ui.Controls(player.StatusPlaying),
	}

	var artwork *os.File
	if a.artwork != nil && item.ArtworkURL != "" {
		if path, err := a.artwork.Fetch(ctx, item.ArtworkURL); err != nil {
			a.log.Debug("artwork unavailable", "guildID", guildID, "itemID", item.ID, "err", err)
		} else if f, err := os.Open(path); err == nil {
			artwork = f
			defer artwork.Close()
		}
	}

	msg.Embeds = []*discordgo.MessageEmbed{ui.NowPlayingEmbed(item, player.StatusPlaying, artwork != nil)}
	if artwork != nil {
		msg.Files = []*discordgo.File{{Name: ui.ArtworkFile, ContentType: "image/jpeg", Reader: artwork}}
	}

	if _, err := a.sender.ChannelMessageSendComplex(channelID, msg); err != nil {
		a.log.Warn("announce now playing", "guildID", guildID, "channelID", channelID, "err", err)
	}
}
