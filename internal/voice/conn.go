package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// State mirrors the lifecycle of a voice transport connection.
type State int

const (
	StateConnecting State = iota
	StateSignalling
	StateReady
	StateDisconnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSignalling:
		return "signalling"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

var (
	ErrDestroyed = errors.New("voice connection destroyed")
	ErrNoLink    = errors.New("voice link not attached")
)

const eventBuffer = 64

// Link is the live transport side of a connection.
type Link interface {
	OpusSend() chan<- []byte
	Speaking(bool) error
	Close() error
}

// Transport joins voice channels. Dial reports lifecycle changes through
// report, before and after it returns.
type Transport interface {
	Dial(ctx context.Context, guildID, channelID string, report func(State)) (Link, error)
}

// Conn is the handle for one guild's voice connection. Once destroyed it
// never leaves StateDestroyed.
type Conn struct {
	GuildID   string
	ChannelID string

	log *slog.Logger

	mu      sync.Mutex
	state   State
	link    Link
	cause   error
	changed chan struct{}
	events  chan State
}

func NewConn(guildID, channelID string, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		GuildID:   guildID,
		ChannelID: channelID,
		log:       logger,
		state:     StateConnecting,
		changed:   make(chan struct{}),
		events:    make(chan State, eventBuffer),
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events delivers every transition in order. The channel is closed once
// the connection is destroyed, so ranging over it ends on destruction.
func (c *Conn) Events() <-chan State {
	return c.events
}

// Err returns the reason the connection was destroyed, if one was given.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// SetState records a transport transition. StateDestroyed is routed through
// Destroy so the link is always released.
func (c *Conn) SetState(st State) {
	if st == StateDestroyed {
		c.Destroy()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDestroyed || c.state == st {
		return
	}
	c.setLocked(st)
}

func (c *Conn) setLocked(st State) {
	c.log.Debug("voice state", "guildID", c.GuildID, "from", c.state, "to", st)
	c.state = st
	close(c.changed)
	c.changed = make(chan struct{})
	select {
	case c.events <- st:
	default:
		c.log.Warn("voice event dropped", "guildID", c.GuildID, "state", st)
	}
	if st == StateDestroyed {
		close(c.events)
	}
}

// Attach binds the dialed link. A link arriving after destruction is closed.
func (c *Conn) Attach(l Link) {
	c.mu.Lock()
	if c.state != StateDestroyed {
		c.link = l
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if err := l.Close(); err != nil {
		c.log.Warn("close late voice link", "guildID", c.GuildID, "err", err)
	}
}

// Fail destroys the connection and remembers why.
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	if c.state != StateDestroyed && c.cause == nil {
		c.cause = err
	}
	c.mu.Unlock()
	c.Destroy()
}

// Destroy is irreversible and safe to call more than once.
func (c *Conn) Destroy() {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	link := c.link
	c.link = nil
	c.setLocked(StateDestroyed)
	c.mu.Unlock()

	if link != nil {
		_ = link.Speaking(false)
		if err := link.Close(); err != nil {
			c.log.Warn("close voice link", "guildID", c.GuildID, "err", err)
		}
	}
}

// WaitFor blocks until the connection is in one of states. It fails with
// ErrDestroyed when the connection is destroyed first, unless StateDestroyed
// is one of the awaited states.
func (c *Conn) WaitFor(ctx context.Context, states ...State) error {
	for {
		c.mu.Lock()
		cur, changed := c.state, c.changed
		c.mu.Unlock()

		for _, st := range states {
			if cur == st {
				return nil
			}
		}
		if cur == StateDestroyed {
			return ErrDestroyed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// OpusSend returns nil until a link is attached or after destruction.
func (c *Conn) OpusSend() chan<- []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil
	}
	return c.link.OpusSend()
}

func (c *Conn) Speaking(on bool) error {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()
	if link == nil {
		return ErrNoLink
	}
	return link.Speaking(on)
}
