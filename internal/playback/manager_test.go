package playback

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/connection"
	"github.com/sonroyaalmerol/jellyradio/internal/guild"
	"github.com/sonroyaalmerol/jellyradio/internal/player"
	"github.com/sonroyaalmerol/jellyradio/internal/stream"
	"github.com/sonroyaalmerol/jellyradio/internal/voice"
	"github.com/sonroyaalmerol/jellyradio/internal/voice/voicetest"
)

const (
	testEndDelay   = 30 * time.Millisecond
	testErrorDelay = 30 * time.Millisecond
	testRetryDelay = 60 * time.Millisecond
	waitFor        = 2 * time.Second
	tick           = 5 * time.Millisecond
)

type fakeCatalog struct {
	mu    sync.Mutex
	items []catalog.MediaItem
	err   error
	rng   *rand.Rand
	calls int

	// call number blockAt signals entered and waits for release
	blockAt int
	entered chan struct{}
	release chan struct{}
}

func (c *fakeCatalog) Playlists(context.Context) ([]catalog.Playlist, error) {
	return []catalog.Playlist{{ID: "P", Name: "Playlist"}}, nil
}

func (c *fakeCatalog) RandomItem(_ context.Context, _ string) (*catalog.MediaItem, error) {
	c.mu.Lock()
	c.calls++
	block := c.blockAt > 0 && c.calls == c.blockAt
	entered, release := c.entered, c.release
	c.mu.Unlock()
	if block {
		close(entered)
		<-release
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return catalog.PickRandom(c.items, c.rng), nil
}

func (c *fakeCatalog) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeCatalog) blockCall(n int) (entered, release chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockAt = n
	c.entered = make(chan struct{})
	c.release = make(chan struct{})
	return c.entered, c.release
}

func (c *fakeCatalog) set(items []catalog.MediaItem, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items, c.err = items, err
}

type fakePlayer struct {
	mu      sync.Mutex
	conn    *voice.Conn
	plays   []*player.Resource
	status  player.Status
	events  chan player.Event
	closed  bool
	playErr error
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{events: make(chan player.Event, 16)}
}

func (p *fakePlayer) Play(r *player.Resource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = r.Body.Close()
	if p.closed {
		return player.ErrClosed
	}
	if p.playErr != nil {
		return p.playErr
	}
	p.plays = append(p.plays, r)
	p.status = player.StatusPlaying
	return nil
}

func (p *fakePlayer) emitLocked(kind player.EventKind, err error) {
	if p.closed {
		return
	}
	var res *player.Resource
	if len(p.plays) > 0 {
		res = p.plays[len(p.plays)-1]
	}
	p.events <- player.Event{Kind: kind, Resource: res, Err: err}
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == player.StatusIdle {
		return
	}
	p.status = player.StatusIdle
	p.emitLocked(player.EventIdle, nil)
}

// end simulates the current track finishing on its own.
func (p *fakePlayer) end() { p.Stop() }

func (p *fakePlayer) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = player.StatusIdle
	p.emitLocked(player.EventError, err)
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != player.StatusPlaying {
		return player.ErrNotPlaying
	}
	p.status = player.StatusPaused
	return nil
}

func (p *fakePlayer) Unpause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != player.StatusPaused {
		return player.ErrNotPaused
	}
	p.status = player.StatusPlaying
	return nil
}

func (p *fakePlayer) Subscribe(c *voice.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = c
}

func (p *fakePlayer) Status() player.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePlayer) Events() <-chan player.Event { return p.events }

func (p *fakePlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.events)
}

func (p *fakePlayer) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

func (p *fakePlayer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	items []string
}

func (a *fakeAnnouncer) NowPlaying(_ context.Context, _, _ string, item *catalog.MediaItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, item.ID)
}

func (a *fakeAnnouncer) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

type fakeHistory struct {
	mu    sync.Mutex
	count int
}

func (h *fakeHistory) RecordPlay(context.Context, string, *catalog.MediaItem) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	return nil
}

type harness struct {
	reg       *guild.Registry
	conns     *connection.Manager
	transport *voicetest.Transport
	catalog   *fakeCatalog
	announcer *fakeAnnouncer
	history   *fakeHistory
	pm        *Manager

	mu      sync.Mutex
	players []*fakePlayer
	openErr error
	opens   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		reg:       guild.NewRegistry(),
		transport: voicetest.NewTransport(),
		catalog: &fakeCatalog{
			items: []catalog.MediaItem{{ID: "A", Name: "Alpha"}, {ID: "B", Name: "Beta"}},
			rng:   rand.New(rand.NewPCG(7, 11)),
		},
		announcer: &fakeAnnouncer{},
		history:   &fakeHistory{},
	}
	h.conns = connection.NewManager(h.reg, h.transport, connection.Options{
		ConnectTimeout: 200 * time.Millisecond,
		ReconnectGrace: 40 * time.Millisecond,
	}, nil)
	h.pm = NewManager(Params{
		Registry:    h.reg,
		Catalog:     h.catalog,
		Connections: h.conns,
		Open:        h.open,
		NewPlayer: func(string) player.Player {
			p := newFakePlayer()
			h.mu.Lock()
			h.players = append(h.players, p)
			h.mu.Unlock()
			return p
		},
		Announcer: h.announcer,
		History:   h.history,
		Options: Options{
			EndDelay:     testEndDelay,
			ErrorDelay:   testErrorDelay,
			RetryDelay:   testRetryDelay,
			PrePlayGuard: time.Millisecond,
		},
	})
	h.conns.OnCleanup(h.pm.Cleanup)
	t.Cleanup(h.conns.Close)
	return h
}

func (h *harness) open(_ context.Context, url string) (io.ReadCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opens++
	if h.openErr != nil {
		return nil, h.openErr
	}
	return io.NopCloser(strings.NewReader(url)), nil
}

func (h *harness) setOpenErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openErr = err
}

func (h *harness) player(t *testing.T) *fakePlayer {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.players, 1)
	return h.players[0]
}

func (h *harness) connect(t *testing.T) *voice.Conn {
	t.Helper()
	c, err := h.conns.EnsureConnection(context.Background(), "G", "voice")
	require.NoError(t, err)
	return c
}

// assertInvariant checks that a player never outlives the connection record.
func (h *harness) assertInvariant(t *testing.T) {
	t.Helper()
	s, ok := h.reg.Get("G")
	if ok && s.Player != nil {
		assert.NotNil(t, s.Conn)
	}
}

func TestStartPlaysOneItemAndAnnouncesOnce(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")

	h.pm.Start(context.Background(), "G")

	p := h.player(t)
	assert.Equal(t, 1, p.Plays())
	assert.Equal(t, 1, h.announcer.Count())
	assert.Equal(t, 1, h.catalog.Calls())
	assert.Same(t, p, h.pm.Player("G"))
	assert.Equal(t, 0.3, p.plays[0].Gain)

	cur := h.pm.CurrentItem("G")
	require.NotNil(t, cur)
	assert.Contains(t, []string{"A", "B"}, cur.ID)

	s, _ := h.reg.Get("G")
	assert.Equal(t, guild.StatePlaying, s.State)
	assert.Same(t, s.Conn, p.conn)
	h.assertInvariant(t)
}

func TestTrackEndSchedulesExactlyOneIteration(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	p := h.player(t)

	p.end()

	assert.Eventually(t, func() bool { return h.catalog.Calls() == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return h.catalog.Calls() > 2 }, 5*testEndDelay, tick)
	assert.Equal(t, 2, p.Plays())
	assert.Equal(t, 2, h.announcer.Count())
}

func TestSeededRandomReachesBothItems(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		h.pm.PlayNext(context.Background(), "G")
		seen[h.pm.CurrentItem("G").ID]++
	}
	assert.GreaterOrEqual(t, seen["A"], 1)
	assert.GreaterOrEqual(t, seen["B"], 1)
	assert.Equal(t, 200, h.announcer.Count())
}

func TestRemovePlaylistQuiescesAndLeaves(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	p := h.player(t)

	h.pm.RemovePlaylist("G")
	assert.Equal(t, player.StatusPlaying, p.Status(), "current track keeps playing")

	p.end()

	assert.Eventually(t, func() bool {
		_, ok := h.reg.Get("G")
		return !ok
	}, waitFor, tick)
	assert.Equal(t, voice.StateDestroyed, c.State())
	assert.True(t, p.isClosed())
	assert.Never(t, func() bool { return h.catalog.Calls() > 1 }, 5*testEndDelay, tick)
}

func TestStopEndsTrackAndLeaves(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")

	h.pm.Stop("G")

	assert.Eventually(t, func() bool { return c.State() == voice.StateDestroyed }, waitFor, tick)
	assert.Equal(t, 1, h.catalog.Calls())
}

func TestStopBetweenTracksLeaves(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	p := h.player(t)
	p.mu.Lock()
	p.status = player.StatusIdle
	p.mu.Unlock()

	h.pm.Stop("G")

	assert.Equal(t, voice.StateDestroyed, c.State())
	assert.True(t, p.isClosed())
	_, ok := h.reg.Get("G")
	assert.False(t, ok)
}

func TestSkipAdvances(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")

	assert.ErrorIs(t, h.pm.Skip("G"), ErrNothingPlaying)

	h.pm.Start(context.Background(), "G")
	p := h.player(t)
	require.NoError(t, h.pm.Skip("G"))

	assert.Eventually(t, func() bool { return p.Plays() == 2 }, waitFor, tick)
}

func TestStreamFetchErrorRetries(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.setOpenErr(&stream.FetchError{URL: "x", Status: 404})

	start := time.Now()
	h.pm.Start(context.Background(), "G")
	assert.Equal(t, 1, h.catalog.Calls())

	h.setOpenErr(nil)
	assert.Eventually(t, func() bool { return h.catalog.Calls() == 2 }, waitFor, tick)
	assert.GreaterOrEqual(t, time.Since(start), testRetryDelay)

	s, _ := h.reg.Get("G")
	assert.Equal(t, guild.StatePlaying, s.State)
}

func TestCatalogErrorRetries(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.catalog.set(h.catalog.items, &catalog.Error{Op: "list playlist items", Status: 500})

	h.pm.Start(context.Background(), "G")
	assert.True(t, h.pm.scheduled("G"))
	assert.Eventually(t, func() bool { return h.catalog.Calls() >= 2 }, waitFor, tick)
	assert.Equal(t, 0, h.announcer.Count())
}

func TestEmptyPlaylistStopsScheduling(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	items := h.catalog.items
	h.catalog.set(nil, nil)

	h.pm.Start(context.Background(), "G")
	assert.False(t, h.pm.scheduled("G"))
	assert.Never(t, func() bool { return h.catalog.Calls() > 1 }, 4*testRetryDelay, tick)

	h.catalog.set(items, nil)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	assert.Equal(t, 2, h.catalog.Calls())
	assert.Equal(t, 1, h.player(t).Plays())
}

func TestPlayerErrorSchedulesNext(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")

	h.player(t).fail(errors.New("decode failed"))
	assert.Eventually(t, func() bool { return h.catalog.Calls() == 2 }, waitFor, tick)
}

func TestPlayerErrorWithoutPlaylistLeaves(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	p := h.player(t)

	h.pm.RemovePlaylist("G")
	p.fail(errors.New("decode failed"))

	assert.Eventually(t, func() bool { return c.State() == voice.StateDestroyed }, waitFor, tick)
	assert.Eventually(t, func() bool {
		_, ok := h.reg.Get("G")
		return !ok
	}, waitFor, tick)
	assert.True(t, p.isClosed())
	assert.Equal(t, 1, h.catalog.Calls())
}

func TestTrackEndDuringStartKeepsNewTrack(t *testing.T) {
	for _, hold := range []time.Duration{0, 4 * testEndDelay} {
		t.Run(hold.String(), func(t *testing.T) {
			h := newHarness(t)
			h.connect(t)
			h.pm.SetPlaylist("G", "P", "text")
			h.pm.Start(context.Background(), "G")
			p := h.player(t)

			entered, release := h.catalog.blockCall(2)
			started := make(chan struct{})
			go func() {
				defer close(started)
				h.pm.Start(context.Background(), "G")
			}()
			<-entered

			// the old track ends while Start is still fetching
			p.end()
			time.Sleep(hold)
			close(release)
			<-started

			assert.Equal(t, 2, p.Plays())
			assert.Never(t, func() bool { return h.catalog.Calls() > 2 }, 5*testEndDelay, tick)
			assert.Equal(t, 2, p.Plays())
			assert.Equal(t, player.StatusPlaying, p.Status())
		})
	}
}

func TestLoopLocksAreReleased(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	h.pm.PlayNext(context.Background(), "other")

	h.pm.mu.Lock()
	n := len(h.pm.locks)
	h.pm.mu.Unlock()
	assert.Zero(t, n)

	h.conns.Disconnect("G")
	h.pm.mu.Lock()
	_, playing := h.pm.playing["G"]
	h.pm.mu.Unlock()
	assert.False(t, playing)
}

func TestPlayFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	p := h.player(t)

	p.mu.Lock()
	p.playErr = errors.New("busy")
	p.mu.Unlock()
	p.end()

	assert.Eventually(t, func() bool { return h.catalog.Calls() >= 3 }, waitFor, tick)
}

func TestStartWithoutConnectionIsNoop(t *testing.T) {
	h := newHarness(t)
	h.pm.SetPlaylist("G", "P", "text")

	h.pm.Start(context.Background(), "G")
	assert.Equal(t, 0, h.catalog.Calls())
	assert.Nil(t, h.pm.Player("G"))
	h.assertInvariant(t)
}

func TestStartWithoutPlaylistIsNoop(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.pm.Start(context.Background(), "G")
	assert.Equal(t, 0, h.catalog.Calls())
}

func TestDisconnectWhilePlaying(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	p := h.player(t)

	h.conns.Disconnect("G")

	_, ok := h.reg.Get("G")
	assert.False(t, ok)
	assert.Nil(t, h.pm.Player("G"))
	assert.Nil(t, h.pm.CurrentItem("G"))
	assert.True(t, p.isClosed())
	assert.Never(t, func() bool { return h.catalog.Calls() > 1 }, 4*testEndDelay, tick)
}

func TestDisconnectWithoutPlayer(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	assert.NotPanics(t, func() { h.conns.Disconnect("G") })
	_, ok := h.reg.Get("G")
	assert.False(t, ok)
}

func TestUnrecoveredDropClearsGuild(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	p := h.player(t)

	h.transport.Report("G", voice.StateDisconnected)

	assert.Eventually(t, func() bool {
		_, ok := h.reg.Get("G")
		return !ok
	}, waitFor, tick)
	assert.Equal(t, voice.StateDestroyed, c.State())
	assert.True(t, p.isClosed())
	assert.Nil(t, h.pm.Player("G"))
	assert.Never(t, func() bool { return h.catalog.Calls() > 1 }, 4*testEndDelay, tick)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.pm.Pause("G"), ErrNothingPlaying)
	assert.ErrorIs(t, h.pm.Resume("G"), ErrNothingPlaying)

	h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")

	require.NoError(t, h.pm.Pause("G"))
	assert.Equal(t, player.StatusPaused, h.pm.Player("G").Status())
	require.NoError(t, h.pm.Resume("G"))
	assert.Equal(t, player.StatusPlaying, h.pm.Player("G").Status())
}

func TestCleanupKeepsConnection(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	h.pm.SetPlaylist("G", "P", "text")
	h.pm.Start(context.Background(), "G")
	p := h.player(t)

	h.pm.Cleanup("G")

	s, ok := h.reg.Get("G")
	require.True(t, ok)
	assert.Same(t, c, s.Conn)
	assert.Nil(t, s.Player)
	assert.Empty(t, s.PlaylistID)
	assert.True(t, p.isClosed())
	assert.Equal(t, voice.StateReady, c.State())
	assert.Equal(t, 1, h.history.count)
}
