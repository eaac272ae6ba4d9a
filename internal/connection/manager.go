// Package connection owns each guild's voice connection: it dials, waits for
// readiness, watches for drops and tears the guild down when a connection
// is gone for good.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sonroyaalmerol/jellyradio/internal/guild"
	"github.com/sonroyaalmerol/jellyradio/internal/voice"
)

const (
	DefaultConnectTimeout = 20 * time.Second
	DefaultReconnectGrace = 5 * time.Second
)

var (
	ErrConnectTimeout = errors.New("voice connection not ready in time")
	ErrConnectFailed  = errors.New("voice connection failed")
	ErrNoTransport    = errors.New("no voice transport configured")
)

// CleanupFunc releases everything else a guild holds once its connection
// is destroyed. It must not touch the connection.
type CleanupFunc func(guildID string)

type Options struct {
	ConnectTimeout time.Duration
	ReconnectGrace time.Duration
}

type Manager struct {
	reg       *guild.Registry
	transport voice.Transport
	opts      Options
	log       *slog.Logger

	mu        sync.Mutex
	cleanup   CleanupFunc
	teardowns map[*voice.Conn]*sync.Once
}

func NewManager(reg *guild.Registry, transport voice.Transport, opts Options, logger *slog.Logger) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReconnectGrace <= 0 {
		opts.ReconnectGrace = DefaultReconnectGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		reg:       reg,
		transport: transport,
		opts:      opts,
		log:       logger,
		teardowns: make(map[*voice.Conn]*sync.Once),
	}
}

// OnCleanup registers the callback run exactly once per destroyed
// connection.
func (m *Manager) OnCleanup(fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanup = fn
}

// Conn returns the guild's live connection, if any.
func (m *Manager) Conn(guildID string) *voice.Conn {
	s, ok := m.reg.Get(guildID)
	if !ok || !s.Live() {
		return nil
	}
	return s.Conn
}

// EnsureConnection returns the guild's live connection, or dials channelID
// and waits for it to become ready. An existing connection is returned as
// is, even when it sits in another channel. On failure the half-open
// connection is destroyed and nil is returned with an error wrapping
// ErrConnectTimeout or ErrConnectFailed.
func (m *Manager) EnsureConnection(ctx context.Context, guildID, channelID string) (*voice.Conn, error) {
	if m.transport == nil {
		return nil, ErrNoTransport
	}

	// finish a teardown the monitor has not reached yet
	if s, ok := m.reg.Get(guildID); ok && s.Conn != nil && !s.Live() {
		m.teardown(s.Conn)
	}

	m.mu.Lock()
	if s, ok := m.reg.Get(guildID); ok && s.Live() {
		m.mu.Unlock()
		return s.Conn, nil
	}
	c := voice.NewConn(guildID, channelID, m.log)
	m.teardowns[c] = &sync.Once{}
	err := m.reg.Update(guildID, func(s *guild.Session) error {
		s.Conn = c
		s.State = guild.StateConnecting
		return nil
	})
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	go m.monitor(c)

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	dialed := make(chan error, 1)
	go func() {
		link, err := m.transport.Dial(dialCtx, guildID, channelID, c.SetState)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
			c.Fail(err)
			dialed <- err
			return
		}
		c.Attach(link)
		dialed <- nil
	}()

	select {
	case err = <-dialed:
	case <-dialCtx.Done():
		err = dialCtx.Err()
	}
	if err == nil {
		err = c.WaitFor(dialCtx, voice.StateReady)
	}
	if err != nil {
		c.Destroy()
		m.teardown(c)
		switch {
		case errors.Is(err, ErrConnectFailed):
		case errors.Is(err, context.DeadlineExceeded):
			err = fmt.Errorf("%w after %s", ErrConnectTimeout, m.opts.ConnectTimeout)
		default:
			if cause := c.Err(); cause != nil {
				err = cause
			} else {
				err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
			}
		}
		m.log.Warn("voice connect failed", "guildID", guildID, "channelID", channelID, "err", err)
		return nil, err
	}

	if err := m.reg.Transition(guildID, guild.StateReady); err != nil {
		m.log.Debug("guild state", "guildID", guildID, "err", err)
	}
	m.log.Info("voice connected", "guildID", guildID, "channelID", channelID)
	return c, nil
}

// Disconnect destroys the guild's connection and waits for its teardown.
// It is a no-op when the guild has no connection.
func (m *Manager) Disconnect(guildID string) {
	s, ok := m.reg.Get(guildID)
	if !ok || s.Conn == nil {
		return
	}
	s.Conn.Destroy()
	m.teardown(s.Conn)
}

// Close disconnects every guild.
func (m *Manager) Close() {
	for _, id := range m.reg.Guilds() {
		m.Disconnect(id)
	}
}

func (m *Manager) monitor(c *voice.Conn) {
	for st := range c.Events() {
		if st != voice.StateDisconnected {
			continue
		}
		if m.recovers(c) {
			m.log.Info("voice connection recovering", "guildID", c.GuildID)
			continue
		}
		m.log.Warn("voice connection lost", "guildID", c.GuildID, "grace", m.opts.ReconnectGrace)
		c.Destroy()
	}
	m.teardown(c)
}

// recovers waits the grace period for the transport to start reconnecting.
func (m *Manager) recovers(c *voice.Conn) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ReconnectGrace)
	defer cancel()
	return c.WaitFor(ctx, voice.StateSignalling, voice.StateConnecting, voice.StateReady) == nil
}

// teardown runs at most once per connection. It only clears the guild while
// c is still the guild's connection.
func (m *Manager) teardown(c *voice.Conn) {
	m.mu.Lock()
	once, ok := m.teardowns[c]
	cleanup := m.cleanup
	m.mu.Unlock()
	if !ok {
		return
	}

	once.Do(func() {
		s, ok := m.reg.Get(c.GuildID)
		if !ok || s.Conn != c {
			return
		}
		if err := m.reg.Transition(c.GuildID, guild.StateTearingDown); err != nil {
			m.log.Debug("guild state", "guildID", c.GuildID, "err", err)
		}
		if cleanup != nil {
			cleanup(c.GuildID)
		}
		m.reg.DeleteIfConn(c.GuildID, c)
		m.log.Info("voice connection torn down", "guildID", c.GuildID)
	})

	m.mu.Lock()
	delete(m.teardowns, c)
	m.mu.Unlock()
}
