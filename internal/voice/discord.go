package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const defaultPollInterval = 250 * time.Millisecond

// DiscordTransport joins voice channels through a discordgo session and
// translates the connection's readiness into lifecycle states.
type DiscordTransport struct {
	Session      *discordgo.Session
	PollInterval time.Duration
	log          *slog.Logger

	mu    sync.Mutex
	links map[string]*discordLink
}

func NewDiscordTransport(s *discordgo.Session, logger *slog.Logger) *DiscordTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordTransport{
		Session:      s,
		PollInterval: defaultPollInterval,
		log:          logger,
		links:        make(map[string]*discordLink),
	}
}

type discordLink struct {
	t       *DiscordTransport
	guildID string
	vc      *discordgo.VoiceConnection
	report  func(State)

	mu       sync.Mutex
	lastSeen State
	stop     chan struct{}
	once     sync.Once
}

func (t *DiscordTransport) Dial(ctx context.Context, guildID, channelID string, report func(State)) (Link, error) {
	report(StateSignalling)

	vc, err := t.Session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("join voice channel %s: %w", channelID, err)
	}
	if err := ctx.Err(); err != nil {
		safeDisconnect(vc, guildID, t.log)
		return nil, err
	}

	l := &discordLink{
		t:        t,
		guildID:  guildID,
		vc:       vc,
		report:   report,
		lastSeen: StateSignalling,
		stop:     make(chan struct{}),
	}

	t.mu.Lock()
	if old, ok := t.links[guildID]; ok {
		close(old.stop)
	}
	t.links[guildID] = l
	t.mu.Unlock()

	l.poll()
	go l.watch(t.PollInterval)
	return l, nil
}

// HandleVoiceStateUpdate forwards the bot's own voice state. Leaving the
// channel (kick, manual disconnect) shows up as an empty ChannelID.
func (t *DiscordTransport) HandleVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil || vs.UserID != s.State.User.ID {
		return
	}
	t.mu.Lock()
	l := t.links[vs.GuildID]
	t.mu.Unlock()
	if l == nil {
		return
	}

	if vs.ChannelID == "" {
		l.set(StateDisconnected)
		return
	}
	// moved to another channel; the gateway renegotiates on its own
	l.mu.Lock()
	recovering := l.lastSeen == StateDisconnected
	l.mu.Unlock()
	if recovering {
		l.set(StateSignalling)
		l.poll()
	}
}

func (l *discordLink) set(st State) {
	l.mu.Lock()
	if l.lastSeen == st {
		l.mu.Unlock()
		return
	}
	l.lastSeen = st
	l.mu.Unlock()
	l.report(st)
}

func (l *discordLink) poll() {
	l.vc.RLock()
	ready := l.vc.Ready
	l.vc.RUnlock()

	l.mu.Lock()
	last := l.lastSeen
	l.mu.Unlock()

	switch {
	case ready && last != StateReady && last != StateDisconnected:
		l.set(StateReady)
	case !ready && last == StateReady:
		// discordgo is reconnecting the voice websocket
		l.set(StateConnecting)
	}
}

func (l *discordLink) watch(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.poll()
		}
	}
}

func (l *discordLink) OpusSend() chan<- []byte {
	l.vc.RLock()
	defer l.vc.RUnlock()
	return l.vc.OpusSend
}

func (l *discordLink) Speaking(on bool) error {
	return l.vc.Speaking(on)
}

func (l *discordLink) Close() error {
	l.once.Do(func() {
		l.t.mu.Lock()
		if cur, ok := l.t.links[l.guildID]; ok && cur == l {
			delete(l.t.links, l.guildID)
			close(l.stop)
		}
		l.t.mu.Unlock()
		safeDisconnect(l.vc, l.guildID, l.t.log)
	})
	return nil
}

func safeDisconnect(vc *discordgo.VoiceConnection, guildID string, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("voice disconnect panic recovered", "panic", r, "guildID", guildID)
		}
	}()

	_ = vc.Speaking(false)
	if err := vc.Disconnect(); err != nil {
		log.Warn("voice disconnect", "guildID", guildID, "err", err)
	}
}
