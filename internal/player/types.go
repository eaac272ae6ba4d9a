package player

import (
	"errors"
	"io"

	"github.com/sonroyaalmerol/jellyradio/internal/voice"
)

type Status int

const (
	StatusIdle Status = iota
	StatusBuffering
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBuffering:
		return "buffering"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	}
	return "unknown"
}

type EventKind int

const (
	EventPlaying EventKind = iota
	EventPaused
	// EventIdle ends a resource that finished or was stopped.
	EventIdle
	// EventError ends a resource that failed to decode or send.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventIdle:
		return "idle"
	case EventError:
		return "error"
	}
	return "unknown"
}

type Event struct {
	Kind     EventKind
	Resource *Resource
	Err      error
}

var (
	ErrClosed        = errors.New("player closed")
	ErrNotSubscribed = errors.New("player has no voice connection")
	ErrNotPlaying    = errors.New("not playing")
	ErrNotPaused     = errors.New("not paused")
)

// Resource is one playable byte stream. The player owns Body once it is
// handed to Play.
type Resource struct {
	Title string
	Body  io.ReadCloser
	// Gain scales decoded samples; 1 is full scale.
	Gain float64
}

func NewResource(title string, body io.ReadCloser, gain float64) *Resource {
	return &Resource{Title: title, Body: body, Gain: gain}
}

// Player is the contract the play loop drives.
type Player interface {
	Play(r *Resource) error
	Stop()
	Pause() error
	Unpause() error
	Subscribe(c *voice.Conn)
	Status() Status
	Events() <-chan Event
	Close()
}
