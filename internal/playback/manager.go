// Package playback runs the per-guild play loop: pick a random item from the
// selected playlist, buffer it, hand it to the guild's player and advance
// when it ends.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/guild"
	"github.com/sonroyaalmerol/jellyradio/internal/player"
)

// Loop defaults used when Options leaves a field unset.
const (
	DefaultVolume       = 0.3
	DefaultEndDelay     = time.Second
	DefaultErrorDelay   = time.Second
	DefaultRetryDelay   = 2 * time.Second
	DefaultPrePlayGuard = 500 * time.Millisecond
)

// ErrNothingPlaying is returned by the player controls when the guild has
// no track to act on.
var ErrNothingPlaying = errors.New("nothing is playing")

// Connections is the part of the connection manager the loop drives.
type Connections interface {
	Disconnect(guildID string)
}

// Announcer posts the now-playing notice for an item.
type Announcer interface {
	NowPlaying(ctx context.Context, guildID, channelID string, item *catalog.MediaItem)
}

// HistoryRecorder keeps a log of what each guild played.
type HistoryRecorder interface {
	RecordPlay(ctx context.Context, guildID string, item *catalog.MediaItem) error
}

// OpenFunc opens an item's stream URL, usually stream.Opener.OpenReader.
type OpenFunc func(ctx context.Context, url string) (io.ReadCloser, error)

// PlayerFactory builds the player for a guild on first use.
type PlayerFactory func(guildID string) player.Player

// Options tunes the loop's gain and delays.
type Options struct {
	Volume       float64
	EndDelay     time.Duration
	ErrorDelay   time.Duration
	RetryDelay   time.Duration
	PrePlayGuard time.Duration
}

func (o *Options) setDefaults() {
	if o.Volume <= 0 {
		o.Volume = DefaultVolume
	}
	if o.EndDelay <= 0 {
		o.EndDelay = DefaultEndDelay
	}
	if o.ErrorDelay <= 0 {
		o.ErrorDelay = DefaultErrorDelay
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.PrePlayGuard < 0 {
		o.PrePlayGuard = 0
	}
}

// Params are the collaborators of a Manager. NewPlayer, Announcer and
// History are optional.
type Params struct {
	Registry    *guild.Registry
	Catalog     catalog.Catalog
	Connections Connections
	Open        OpenFunc
	NewPlayer   PlayerFactory
	Announcer   Announcer
	History     HistoryRecorder
	Options     Options
	Logger      *slog.Logger
}

// Manager drives the play loop of every guild in the registry.
type Manager struct {
	reg       *guild.Registry
	catalog   catalog.Catalog
	conns     Connections
	open      OpenFunc
	newPlayer PlayerFactory
	announcer Announcer
	history   HistoryRecorder
	opts      Options
	log       *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	locks   map[string]*guildLock
	playing map[string]*player.Resource
}

// guildLock serialises a guild's iterations. refs counts holders and
// waiters so the entry can go once nobody needs it.
type guildLock struct {
	sync.Mutex
	refs int
}

func NewManager(p Params) *Manager {
	p.Options.setDefaults()
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.NewPlayer == nil {
		logger := p.Logger
		p.NewPlayer = func(guildID string) player.Player {
			return player.NewAudioPlayer(guildID, logger)
		}
	}
	return &Manager{
		reg:       p.Registry,
		catalog:   p.Catalog,
		conns:     p.Connections,
		open:      p.Open,
		newPlayer: p.NewPlayer,
		announcer: p.Announcer,
		history:   p.History,
		opts:      p.Options,
		log:       p.Logger,
		timers:    make(map[string]*time.Timer),
		locks:     make(map[string]*guildLock),
		playing:   make(map[string]*player.Resource),
	}
}

// SetPlaylist selects the playlist the loop draws from and where notices
// go. It does not start playback.
func (m *Manager) SetPlaylist(guildID, playlistID, outputChannelID string) {
	_ = m.reg.Update(guildID, func(s *guild.Session) error {
		s.PlaylistID = playlistID
		s.OutputChannelID = outputChannelID
		return nil
	})
	m.log.Info("playlist selected", "guildID", guildID, "playlistID", playlistID)
}

// RemovePlaylist clears the selection. The current track plays out and the
// loop then goes quiet.
func (m *Manager) RemovePlaylist(guildID string) {
	_ = m.reg.Modify(guildID, func(s *guild.Session) error {
		s.PlaylistID = ""
		return nil
	})
}

// Player returns the guild's player, or nil before the first track.
func (m *Manager) Player(guildID string) player.Player {
	s, _ := m.reg.Get(guildID)
	return s.Player
}

// CurrentItem returns the item most recently handed to the player.
func (m *Manager) CurrentItem(guildID string) *catalog.MediaItem {
	s, _ := m.reg.Get(guildID)
	return s.Current
}

// Start runs an iteration now, superseding any scheduled one.
func (m *Manager) Start(ctx context.Context, guildID string) {
	m.cancelScheduled(guildID)
	m.PlayNext(ctx, guildID)
}

// PlayNext is one loop iteration. It does nothing unless the guild has a
// playlist and a live connection; that check is how stop takes effect.
func (m *Manager) PlayNext(ctx context.Context, guildID string) {
	unlock := m.lockGuild(guildID)
	defer unlock()
	m.iterate(ctx, guildID)
}

// iterate is PlayNext's body; the caller holds the guild lock.
func (m *Manager) iterate(ctx context.Context, guildID string) {
	log := m.log.With("guildID", guildID, "iteration", uuid.NewString())

	s, ok := m.reg.Get(guildID)
	if !ok || !guild.ShouldIterate(s.HasPlaylist(), s.Live()) {
		log.Debug("play loop idle", "hasPlaylist", s.HasPlaylist(), "connected", s.Live())
		return
	}
	m.transition(guildID, guild.StateLoading)

	item, err := m.catalog.RandomItem(ctx, s.PlaylistID)
	if err != nil {
		log.Warn("pick next item", "playlistID", s.PlaylistID, "err", err)
		m.transition(guildID, guild.StateReady)
		m.schedule(guildID, m.opts.RetryDelay)
		return
	}
	if item == nil {
		log.Info("playlist has no playable items", "playlistID", s.PlaylistID)
		m.transition(guildID, guild.StateReady)
		return
	}

	if err := m.playItem(ctx, log, s, item); err != nil {
		log.Warn("play item", "itemID", item.ID, "name", item.Name, "err", err)
		m.transition(guildID, guild.StateReady)
		m.schedule(guildID, m.opts.RetryDelay)
	}
}

func (m *Manager) playItem(ctx context.Context, log *slog.Logger, s guild.Session, item *catalog.MediaItem) error {
	if err := m.reg.Modify(s.GuildID, func(gs *guild.Session) error {
		gs.Current = item
		return nil
	}); err != nil {
		return err
	}

	if m.announcer != nil && s.OutputChannelID != "" {
		m.announcer.NowPlaying(ctx, s.GuildID, s.OutputChannelID, item)
	}
	if m.history != nil {
		if err := m.history.RecordPlay(ctx, s.GuildID, item); err != nil {
			log.Warn("record play history", "err", err)
		}
	}

	body, err := m.open(ctx, item.StreamURL)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	p, err := m.ensurePlayer(s.GuildID)
	if err != nil {
		_ = body.Close()
		return err
	}

	if m.opts.PrePlayGuard > 0 {
		select {
		case <-ctx.Done():
			_ = body.Close()
			return ctx.Err()
		case <-time.After(m.opts.PrePlayGuard):
		}
	}

	// Events of the resource being replaced, and any iteration it
	// scheduled, are stale from here on.
	res := player.NewResource(item.Name, body, m.opts.Volume)
	m.setPlaying(s.GuildID, res)
	m.cancelScheduled(s.GuildID)
	if err := p.Play(res); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	m.transition(s.GuildID, guild.StatePlaying)
	log.Info("now playing", "itemID", item.ID, "name", item.Name, "artist", item.Artist)
	return nil
}

// ensurePlayer returns the guild's player, creating and subscribing it on
// first use.
func (m *Manager) ensurePlayer(guildID string) (player.Player, error) {
	s, ok := m.reg.Get(guildID)
	if !ok || !s.Live() {
		return nil, guild.ErrNoConnection
	}
	if s.Player != nil {
		return s.Player, nil
	}

	p := m.newPlayer(guildID)
	p.Subscribe(s.Conn)
	if err := m.reg.SetPlayer(guildID, p); err != nil {
		p.Close()
		return nil, err
	}
	go m.watch(guildID, p)
	return p, nil
}

// watch turns player events into loop decisions until the player closes.
func (m *Manager) watch(guildID string, p player.Player) {
	for ev := range p.Events() {
		switch ev.Kind {
		case player.EventIdle:
			m.onTrackEnd(guildID, p, ev.Resource)
		case player.EventError:
			m.onTrackError(guildID, p, ev.Resource, ev.Err)
		}
	}
}

// current reports whether res is still what p is playing for the guild.
func (m *Manager) current(guildID string, p player.Player, res *player.Resource) (guild.Session, bool) {
	s, ok := m.reg.Get(guildID)
	if !ok || s.Player != p || m.nowPlaying(guildID) != res {
		return s, false
	}
	return s, true
}

func (m *Manager) onTrackEnd(guildID string, p player.Player, res *player.Resource) {
	s, ok := m.current(guildID, p, res)
	if !ok {
		return
	}
	m.transition(guildID, guild.StateReady)
	m.follow(guildID, guild.OnTrackEnd(s.HasPlaylist()), m.opts.EndDelay)
}

func (m *Manager) onTrackError(guildID string, p player.Player, res *player.Resource, err error) {
	s, ok := m.current(guildID, p, res)
	if !ok {
		return
	}
	m.log.Warn("track failed", "guildID", guildID, "err", err)
	m.transition(guildID, guild.StateReady)
	m.follow(guildID, guild.OnTrackError(s.HasPlaylist()), m.opts.ErrorDelay)
}

func (m *Manager) follow(guildID string, action guild.Action, delay time.Duration) {
	switch action {
	case guild.ActionScheduleNext:
		m.schedule(guildID, delay)
	case guild.ActionLeave:
		m.log.Info("no playlist selected, leaving voice", "guildID", guildID)
		if m.conns != nil {
			m.conns.Disconnect(guildID)
		}
	}
}

// Cleanup drops everything the loop holds for the guild. The connection is
// left alone; it is the connection's teardown that calls this.
func (m *Manager) Cleanup(guildID string) {
	m.cancelScheduled(guildID)
	m.setPlaying(guildID, nil)

	var p player.Player
	_ = m.reg.Modify(guildID, func(s *guild.Session) error {
		p = s.Player
		s.Player = nil
		s.PlaylistID = ""
		s.Current = nil
		s.OutputChannelID = ""
		return nil
	})
	if p != nil {
		p.Close()
	}
	m.log.Debug("playback state cleared", "guildID", guildID)
}

// Pause holds the current track.
func (m *Manager) Pause(guildID string) error {
	p := m.Player(guildID)
	if p == nil {
		return ErrNothingPlaying
	}
	return p.Pause()
}

// Resume continues a paused track.
func (m *Manager) Resume(guildID string) error {
	p := m.Player(guildID)
	if p == nil {
		return ErrNothingPlaying
	}
	return p.Unpause()
}

// Skip ends the current track; the loop advances exactly as on a natural
// end.
func (m *Manager) Skip(guildID string) error {
	p := m.Player(guildID)
	if p == nil || p.Status() == player.StatusIdle {
		return ErrNothingPlaying
	}
	p.Stop()
	return nil
}

// Stop clears the playlist and ends the current track, after which the bot
// leaves the channel. Between tracks there is nothing to end, so it leaves
// right away.
func (m *Manager) Stop(guildID string) {
	m.RemovePlaylist(guildID)
	m.cancelScheduled(guildID)
	if p := m.Player(guildID); p != nil && p.Status() != player.StatusIdle {
		p.Stop()
		return
	}
	if m.conns != nil {
		m.conns.Disconnect(guildID)
	}
}

func (m *Manager) transition(guildID string, st guild.State) {
	if err := m.reg.Transition(guildID, st); err != nil {
		m.log.Debug("guild state", "guildID", guildID, "err", err)
	}
}

// lockGuild takes the guild's iteration lock and returns its release.
func (m *Manager) lockGuild(guildID string) (unlock func()) {
	m.mu.Lock()
	l, ok := m.locks[guildID]
	if !ok {
		l = &guildLock{}
		m.locks[guildID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, guildID)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) setPlaying(guildID string, res *player.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res == nil {
		delete(m.playing, guildID)
		return
	}
	m.playing[guildID] = res
}

func (m *Manager) nowPlaying(guildID string) *player.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing[guildID]
}

// schedule arms the guild's single pending iteration, replacing an earlier
// one. The iteration is dropped if another resource starts before it runs.
func (m *Manager) schedule(guildID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[guildID]; ok {
		t.Stop()
	}
	after := m.playing[guildID]
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		if m.timers[guildID] != t {
			m.mu.Unlock()
			return
		}
		delete(m.timers, guildID)
		m.mu.Unlock()

		unlock := m.lockGuild(guildID)
		defer unlock()
		if m.nowPlaying(guildID) != after {
			m.log.Debug("scheduled iteration superseded", "guildID", guildID)
			return
		}
		m.iterate(context.Background(), guildID)
	})
	m.timers[guildID] = t
}

func (m *Manager) cancelScheduled(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[guildID]; ok {
		t.Stop()
		delete(m.timers, guildID)
	}
}

func (m *Manager) scheduled(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[guildID]
	return ok
}
