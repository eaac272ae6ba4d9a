package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/connection"
	"github.com/sonroyaalmerol/jellyradio/internal/playback"
	"github.com/sonroyaalmerol/jellyradio/internal/player"
	"github.com/sonroyaalmerol/jellyradio/internal/repository"
	"github.com/sonroyaalmerol/jellyradio/internal/ui"
)

const historyPageSize = 15

const genericFailure = "Something went wrong, try again in a moment."

type CommandHandler struct {
	catalog catalog.Catalog
	conns   *connection.Manager
	pb      *playback.Manager
	repo    *repository.Repo
	log     *slog.Logger
}

func NewCommandHandler(cat catalog.Catalog, conns *connection.Manager, pb *playback.Manager, repo *repository.Repo, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandHandler{catalog: cat, conns: conns, pb: pb, repo: repo, log: logger}
}

func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: "play", Description: "Pick a playlist to shuffle in your voice channel"},
		{Name: "stop", Description: "Stop playback and leave after the current track"},
		{Name: "skip", Description: "Skip to another random track"},
		{Name: "pause", Description: "Pause the current track"},
		{Name: "resume", Description: "Resume playback"},
		{Name: "leave", Description: "Leave the voice channel now"},
		{Name: "nowplaying", Description: "Show the current track"},
		{Name: "playlists", Description: "List the playlists on the server"},
		{Name: "history", Description: "Show recently played tracks"},
		{
			Name:        "config",
			Description: "Configure bot settings",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get", Description: "show settings"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-leave-if-no-listeners", Description: "leave when no listeners", Options: []*discordgo.ApplicationCommandOption{
					{Name: "value", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-announce", Description: "announce each track", Options: []*discordgo.ApplicationCommandOption{
					{Name: "value", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
				}},
			},
		},
	}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	start := time.Now()
	cmds := Commands()
	for _, c := range cmds {
		if _, err := s.ApplicationCommandCreate(appID, guildID, c); err != nil {
			h.log.Error("failed to create application command", "guildID", guildID, "command", c.Name, "err", err)
			return err
		}
		h.log.Debug("registered command", "guildID", guildID, "command", c.Name)
	}
	h.log.Info("finished registering commands", "guildID", guildID, "count", len(cmds), "took", time.Since(start))
	return nil
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		h.reply(s, i, "I only work inside a server", true)
		return
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.log.Debug("interaction: application command", "guildID", i.GuildID, "userID", userIDOf(i), "command", i.ApplicationCommandData().Name)
		h.handleChatCommand(s, i)
	case discordgo.InteractionMessageComponent:
		h.log.Debug("interaction: component", "guildID", i.GuildID, "userID", userIDOf(i), "customID", i.MessageComponentData().CustomID)
		h.handleComponent(s, i)
	default:
		h.log.Debug("interaction: ignored type", "type", i.Type, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) handleChatCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.ApplicationCommandData().Name {
	case "play":
		h.cmdPlay(s, i)
	case "stop":
		h.cmdStop(s, i)
	case "skip":
		h.cmdSkip(s, i)
	case "pause":
		h.cmdPause(s, i)
	case "resume":
		h.cmdResume(s, i)
	case "leave":
		h.cmdLeave(s, i)
	case "nowplaying":
		h.cmdNowPlaying(s, i)
	case "playlists":
		h.cmdPlaylists(s, i)
	case "history":
		h.cmdHistory(s, i)
	case "config":
		h.cmdConfig(s, i)
	default:
		h.log.Debug("unknown command", "name", i.ApplicationCommandData().Name, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	switch data.CustomID {
	case ui.PlaylistSelectID:
		if len(data.Values) == 0 {
			return
		}
		h.selectPlaylist(s, i, data.Values[0])
	case ui.ButtonPause:
		if err := h.pb.Pause(i.GuildID); err != nil {
			h.fail(s, i, err)
			return
		}
		h.updateControls(s, i, player.StatusPaused)
	case ui.ButtonResume:
		if err := h.pb.Resume(i.GuildID); err != nil {
			h.fail(s, i, err)
			return
		}
		h.updateControls(s, i, player.StatusPlaying)
	case ui.ButtonSkip:
		h.cmdSkip(s, i)
	case ui.ButtonStop:
		h.cmdStop(s, i)
	}
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	h.respond(s, i, &discordgo.InteractionResponseData{Content: content}, ephemeral)
}

func (h *CommandHandler) respond(s *discordgo.Session, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData, ephemeral bool) {
	if ephemeral {
		data.Flags |= discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		h.log.Warn("reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}); err != nil {
		h.log.Warn("defer reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		h.log.Warn("edit reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) updateControls(s *discordgo.Session, i *discordgo.InteractionCreate, status player.Status) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{Components: ui.Controls(status)},
	}); err != nil {
		h.log.Warn("update controls failed", "guildID", i.GuildID, "err", err)
	}
}

// fail answers with a short ephemeral notice. Errors the user can act on
// get their own wording; everything else is logged and reported generically.
func (h *CommandHandler) fail(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	msg, known := failureMessage(err)
	if !known {
		h.log.Warn("command failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
	h.reply(s, i, msg, true)
}

func failureMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, playback.ErrNothingPlaying), errors.Is(err, player.ErrNotPlaying):
		return "nothing is playing", true
	case errors.Is(err, player.ErrNotPaused):
		return "playback isn't paused", true
	case errors.Is(err, connection.ErrConnectTimeout):
		return "couldn't join the voice channel in time", true
	}
	return genericFailure, false
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	playlists, err := h.catalog.Playlists(ctx)
	if err != nil {
		h.fail(s, i, err)
		return
	}
	if len(playlists) == 0 {
		h.reply(s, i, "no playlists found on the server", true)
		return
	}

	selected := ""
	if set := h.repo.SettingsOrDefault(ctx, i.GuildID); set.LastPlaylistID != "" {
		selected = set.LastPlaylistID
	}
	h.respond(s, i, &discordgo.InteractionResponseData{
		Content:    "Pick a playlist",
		Components: ui.PlaylistSelect(playlists, selected),
	}, true)
}

func (h *CommandHandler) selectPlaylist(s *discordgo.Session, i *discordgo.InteractionCreate, playlistID string) {
	guildID := i.GuildID
	userID := userIDOf(i)

	chID, ok := userInVoice(s, guildID, userID)
	if !ok {
		h.log.Debug("user not in voice", "guildID", guildID, "userID", userID)
		h.reply(s, i, "gotta be in a voice channel", true)
		return
	}
	h.deferReply(s, i, true)

	ctx := context.Background()
	if _, err := h.conns.EnsureConnection(ctx, guildID, chID); err != nil {
		msg, known := failureMessage(err)
		if !known {
			h.log.Warn("join voice failed", "guildID", guildID, "channelID", chID, "err", err)
		}
		h.editReply(s, i, msg)
		return
	}

	pl := catalog.Playlist{ID: playlistID, Name: playlistID}
	if all, err := h.catalog.Playlists(ctx); err == nil {
		if found, ok := findPlaylist(all, playlistID); ok {
			pl = found
		}
	}

	h.pb.SetPlaylist(guildID, playlistID, i.ChannelID)
	set := h.repo.SettingsOrDefault(ctx, guildID)
	set.LastPlaylistID = playlistID
	if err := h.repo.UpdateSettings(ctx, &set); err != nil {
		h.log.Warn("remember playlist", "guildID", guildID, "err", err)
	}

	h.log.Info("playlist confirmed", "guildID", guildID, "userID", userID, "playlistID", playlistID, "channelID", chID)
	h.editReply(s, i, ui.SelectedNotice(pl))
	h.pb.Start(ctx, guildID)
}

func findPlaylist(all []catalog.Playlist, id string) (catalog.Playlist, bool) {
	for _, p := range all {
		if p.ID == id {
			return p, true
		}
	}
	return catalog.Playlist{}, false
}

func (h *CommandHandler) cmdStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if h.conns.Conn(i.GuildID) == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	h.pb.Stop(i.GuildID)
	h.log.Info("cmd stop", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "u betcha, stopped", false)
}

func (h *CommandHandler) cmdSkip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.pb.Skip(i.GuildID); err != nil {
		h.fail(s, i, err)
		return
	}
	h.log.Info("cmd skip", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "keep 'er movin'", false)
}

func (h *CommandHandler) cmdPause(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.pb.Pause(i.GuildID); err != nil {
		h.fail(s, i, err)
		return
	}
	h.log.Info("cmd pause", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "the stop-and-go light is now red", false)
}

func (h *CommandHandler) cmdResume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.pb.Resume(i.GuildID); err != nil {
		h.fail(s, i, err)
		return
	}
	h.log.Info("cmd resume", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "the stop-and-go light is now green", false)
}

func (h *CommandHandler) cmdLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if h.conns.Conn(i.GuildID) == nil {
		h.reply(s, i, "not connected", true)
		return
	}
	h.conns.Disconnect(i.GuildID)
	h.log.Info("cmd leave", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "u betcha, disconnected", false)
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	cur := h.pb.CurrentItem(i.GuildID)
	p := h.pb.Player(i.GuildID)
	if cur == nil || p == nil || p.Status() == player.StatusIdle {
		h.reply(s, i, "nothing is currently playing", true)
		return
	}
	status := p.Status()
	h.respond(s, i, &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{ui.NowPlayingEmbed(cur, status, false)},
		Components: ui.Controls(status),
	}, false)
}

func (h *CommandHandler) cmdPlaylists(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	playlists, err := h.catalog.Playlists(ctx)
	if err != nil {
		h.fail(s, i, err)
		return
	}
	h.respond(s, i, &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{ui.PlaylistsEmbed(playlists)},
	}, true)
}

func (h *CommandHandler) cmdHistory(s *discordgo.Session, i *discordgo.InteractionCreate) {
	entries, err := h.repo.RecentPlays(context.Background(), i.GuildID, historyPageSize)
	if err != nil {
		h.fail(s, i, err)
		return
	}
	h.respond(s, i, &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{ui.HistoryEmbed(entries, time.Now())},
	}, false)
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	set, err := h.repo.UpsertSettings(ctx, i.GuildID)
	if err != nil {
		h.fail(s, i, err)
		return
	}
	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "get":
		h.respond(s, i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{ui.SettingsEmbed(*set)},
		}, false)
		return
	case "set-leave-if-no-listeners":
		set.LeaveIfNoListeners = sub.Options[0].BoolValue()
	case "set-announce":
		set.AnnounceNowPlaying = sub.Options[0].BoolValue()
	default:
		return
	}
	if err := h.repo.UpdateSettings(ctx, set); err != nil {
		h.fail(s, i, err)
		return
	}
	h.log.Info("config updated", "guildID", i.GuildID, "key", sub.Name, "value", sub.Options[0].BoolValue())
	h.reply(s, i, "👍 setting updated", false)
}

func userIDOf(i *discordgo.InteractionCreate) string {
	switch {
	case i == nil:
		return ""
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}
