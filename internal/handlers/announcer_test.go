package handlers

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/repository"
	"github.com/sonroyaalmerol/jellyradio/internal/ui"
)

type sentMessage struct {
	channelID string
	msg       *discordgo.MessageSend
	file      []byte
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := sentMessage{channelID: channelID, msg: data}
	if len(data.Files) > 0 {
		m.file, _ = io.ReadAll(data.Files[0].Reader)
	}
	f.sent = append(f.sent, m)
	return &discordgo.Message{}, f.err
}

type fakeSettings map[string]repository.Settings

func (f fakeSettings) SettingsOrDefault(_ context.Context, guild string) repository.Settings {
	if s, ok := f[guild]; ok {
		return s
	}
	return repository.DefaultSettings(guild)
}

type fakeArtwork struct {
	path string
	err  error
}

func (f fakeArtwork) Fetch(context.Context, string) (string, error) { return f.path, f.err }

func TestAnnouncerSendsCard(t *testing.T) {
	sender := &fakeSender{}
	a := NewAnnouncer(sender, fakeSettings{}, nil, nil)

	a.NowPlaying(context.Background(), "g", "text", &catalog.MediaItem{ID: "1", Name: "Song"})

	require.Len(t, sender.sent, 1)
	got := sender.sent[0]
	assert.Equal(t, "text", got.channelID)
	require.Len(t, got.msg.Embeds, 1)
	assert.Equal(t, "Now Playing", got.msg.Embeds[0].Title)
	assert.Nil(t, got.msg.Embeds[0].Thumbnail)
	assert.Empty(t, got.msg.Files)
	assert.NotEmpty(t, got.msg.Components)
}

func TestAnnouncerAttachesArtwork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "art")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))

	sender := &fakeSender{}
	a := NewAnnouncer(sender, nil, fakeArtwork{path: path}, nil)
	a.NowPlaying(context.Background(), "g", "text", &catalog.MediaItem{ID: "1", Name: "Song", ArtworkURL: "http://art"})

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].msg
	require.Len(t, msg.Files, 1)
	assert.Equal(t, ui.ArtworkFile, msg.Files[0].Name)
	assert.Equal(t, []byte("jpeg"), sender.sent[0].file)
	require.NotNil(t, msg.Embeds[0].Thumbnail)
}

func TestAnnouncerArtworkFailureStillAnnounces(t *testing.T) {
	sender := &fakeSender{}
	a := NewAnnouncer(sender, nil, fakeArtwork{err: errors.New("404")}, nil)
	a.NowPlaying(context.Background(), "g", "text", &catalog.MediaItem{ID: "1", Name: "Song", ArtworkURL: "http://art"})

	require.Len(t, sender.sent, 1)
	assert.Empty(t, sender.sent[0].msg.Files)
}

func TestAnnouncerRespectsSetting(t *testing.T) {
	sender := &fakeSender{}
	a := NewAnnouncer(sender, fakeSettings{"g": {GuildID: "g", AnnounceNowPlaying: false}}, nil, nil)

	a.NowPlaying(context.Background(), "g", "text", &catalog.MediaItem{ID: "1"})
	a.NowPlaying(context.Background(), "other", "", &catalog.MediaItem{ID: "1"})
	a.NowPlaying(context.Background(), "other", "text", nil)
	assert.Empty(t, sender.sent)
}

func TestAnnouncerSendErrorIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("missing access")}
	a := NewAnnouncer(sender, nil, nil, nil)
	assert.NotPanics(t, func() {
		a.NowPlaying(context.Background(), "g", "text", &catalog.MediaItem{ID: "1"})
	})
}
