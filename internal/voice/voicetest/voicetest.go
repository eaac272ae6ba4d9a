// Package voicetest provides an in-memory voice transport for tests.
package voicetest

import (
	"context"
	"sync"

	"github.com/sonroyaalmerol/jellyradio/internal/voice"
)

// Link records what the player did with the connection.
type Link struct {
	Send chan []byte

	mu       sync.Mutex
	speaking []bool
	closed   int
}

func NewLink(buffer int) *Link {
	return &Link{Send: make(chan []byte, buffer)}
}

func (l *Link) OpusSend() chan<- []byte { return l.Send }

func (l *Link) Speaking(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.speaking = append(l.speaking, on)
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *Link) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) SpeakingCalls() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.speaking...)
}

// Transport dials instantly. Unless Hold is set the connection reports
// Signalling then Ready during Dial.
type Transport struct {
	Hold    bool
	DialErr error
	Buffer  int

	mu      sync.Mutex
	dials   int
	reports map[string]func(voice.State)
	links   map[string]*Link
}

func NewTransport() *Transport {
	return &Transport{
		Buffer:  1024,
		reports: make(map[string]func(voice.State)),
		links:   make(map[string]*Link),
	}
}

func (t *Transport) Dial(_ context.Context, guildID, _ string, report func(voice.State)) (voice.Link, error) {
	t.mu.Lock()
	t.dials++
	err := t.DialErr
	hold := t.Hold
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l := NewLink(t.Buffer)
	t.mu.Lock()
	t.reports[guildID] = report
	t.links[guildID] = l
	t.mu.Unlock()

	report(voice.StateSignalling)
	if !hold {
		report(voice.StateReady)
	}
	return l, nil
}

// Report injects a transport state for guildID.
func (t *Transport) Report(guildID string, st voice.State) {
	t.mu.Lock()
	report := t.reports[guildID]
	t.mu.Unlock()
	if report != nil {
		report(st)
	}
}

func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *Transport) Link(guildID string) *Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[guildID]
}
