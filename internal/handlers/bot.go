package handlers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/config"
	"github.com/sonroyaalmerol/jellyradio/internal/connection"
	"github.com/sonroyaalmerol/jellyradio/internal/playback"
	"github.com/sonroyaalmerol/jellyradio/internal/repository"
	"github.com/sonroyaalmerol/jellyradio/internal/voice"
)

type Bot struct {
	cfg       *config.Config
	session   *discordgo.Session
	transport *voice.DiscordTransport
	conns     *connection.Manager
	repo      *repository.Repo
	cmd       *CommandHandler
	log       *slog.Logger
}

type Deps struct {
	Config      *config.Config
	Session     *discordgo.Session
	Transport   *voice.DiscordTransport
	Connections *connection.Manager
	Playback    *playback.Manager
	Catalog     catalog.Catalog
	Repo        *repository.Repo
	Logger      *slog.Logger
}

func NewBot(d Deps) *Bot {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Bot{
		cfg:       d.Config,
		session:   d.Session,
		transport: d.Transport,
		conns:     d.Connections,
		repo:      d.Repo,
		cmd:       NewCommandHandler(d.Catalog, d.Connections, d.Playback, d.Repo, d.Logger),
		log:       d.Logger,
	}
}

func (b *Bot) Run(ctx context.Context) error {
	dg := b.session
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	// On ready: register commands depending on configuration
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("connected", "user", s.State.User.Username)
		b.updateStatus(s)
		appID := s.State.User.ID

		if b.cfg.RegisterCommandsOnBot {
			if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
				b.log.Error("register global commands", "err", err)
			} else {
				b.log.Info("registered global application commands")
			}
			return
		}

		var wg sync.WaitGroup
		for _, g := range s.State.Guilds {
			wg.Add(1)
			go func(guildID string) {
				defer wg.Done()
				if err := b.cmd.RegisterCommands(s, appID, guildID); err != nil {
					b.log.Error("register guild commands", "guildID", guildID, "err", err)
				}
			}(g.ID)
		}
		wg.Wait()

		if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
			b.log.Error("clear global commands", "err", err)
		} else {
			b.log.Info("cleared global application commands")
		}
		b.log.Info("registered commands on all guilds")
	})

	// If registering per-guild, register on new guilds too
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot || s.State.User == nil {
			return
		}
		if err := b.cmd.RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
			b.log.Error("register guild commands on join", "guildID", g.ID, "err", err)
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)
	dg.AddHandler(b.onVoiceStateUpdate)

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	<-ctx.Done()
	b.log.Info("shutting down, leaving voice channels")
	b.conns.Close()
	return nil
}

func (b *Bot) updateStatus(s *discordgo.Session) {
	var activities []*discordgo.Activity
	if b.cfg.BotActivity != "" {
		activities = append(activities, &discordgo.Activity{Name: b.cfg.BotActivity, Type: discordgo.ActivityTypeListening})
	}
	if err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status:     b.cfg.BotStatus,
		Activities: activities,
	}); err != nil {
		b.log.Warn("update status", "err", err)
	}
}

// onVoiceStateUpdate keeps the voice transport informed about the bot's own
// state and leaves channels nobody is listening in.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	b.transport.HandleVoiceStateUpdate(s, vs)

	if s.State.User == nil || vs.UserID == s.State.User.ID {
		return
	}
	gid := vs.GuildID
	c := b.conns.Conn(gid)
	if c == nil {
		return
	}
	if !b.repo.SettingsOrDefault(context.Background(), gid).LeaveIfNoListeners {
		return
	}
	g, _ := s.State.Guild(gid)
	if listenerCount(g, c.ChannelID, s.State.User.ID, stateIsBot(s, gid)) > 0 {
		return
	}
	b.log.Info("no listeners left, leaving voice", "guildID", gid, "channelID", c.ChannelID)
	b.conns.Disconnect(gid)
}
