package guild

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/player"
	"github.com/sonroyaalmerol/jellyradio/internal/voice"
)

var (
	ErrNoConnection      = errors.New("guild has no voice connection")
	ErrNoSession         = errors.New("guild has no session")
	ErrInvalidTransition = errors.New("invalid guild state transition")
)

// Session is the per-guild record. Values handed out by the registry are
// copies; mutate through Update.
type Session struct {
	GuildID         string
	State           State
	Conn            *voice.Conn
	Player          player.Player
	PlaylistID      string
	Current         *catalog.MediaItem
	OutputChannelID string
}

func (s Session) HasPlaylist() bool { return s.PlaylistID != "" }

// Live reports whether the session holds a connection that is not destroyed.
func (s Session) Live() bool {
	return s.Conn != nil && s.Conn.State() != voice.StateDestroyed
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Get(guildID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	if !ok {
		return Session{GuildID: guildID}, false
	}
	return *s, true
}

// Update applies fn to the guild's session, creating it if needed. The
// change is discarded when fn fails or would leave a player without a
// connection.
func (r *Registry) Update(guildID string, fn func(s *Session) error) error {
	return r.apply(guildID, true, fn)
}

// Modify is Update for a session that must already exist; a guild torn
// down in the meantime yields ErrNoSession instead of a fresh entry.
func (r *Registry) Modify(guildID string, fn func(s *Session) error) error {
	return r.apply(guildID, false, fn)
}

func (r *Registry) apply(guildID string, create bool, fn func(s *Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sessions[guildID]
	if !ok && !create {
		return ErrNoSession
	}
	next := Session{GuildID: guildID}
	if ok {
		next = *cur
	}
	if err := fn(&next); err != nil {
		return err
	}
	if next.Player != nil && next.Conn == nil {
		return ErrNoConnection
	}
	r.sessions[guildID] = &next
	return nil
}

// Transition moves the guild to st if the table allows it. Staying in the
// same state is a no-op.
func (r *Registry) Transition(guildID string, st State) error {
	return r.Modify(guildID, func(s *Session) error {
		if s.State == st {
			return nil
		}
		if !CanTransition(s.State, st) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, st)
		}
		s.State = st
		return nil
	})
}

func (r *Registry) SetConn(guildID string, c *voice.Conn) {
	_ = r.Update(guildID, func(s *Session) error {
		s.Conn = c
		return nil
	})
}

// SetPlayer rejects a player for a guild without a live connection.
func (r *Registry) SetPlayer(guildID string, p player.Player) error {
	err := r.Modify(guildID, func(s *Session) error {
		if !s.Live() {
			return ErrNoConnection
		}
		s.Player = p
		return nil
	})
	if errors.Is(err, ErrNoSession) {
		return ErrNoConnection
	}
	return err
}

func (r *Registry) Delete(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, guildID)
}

// DeleteIfConn removes the guild only while c is still its connection.
func (r *Registry) DeleteIfConn(guildID string, c *voice.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	if !ok || s.Conn != c {
		return false
	}
	delete(r.sessions, guildID)
	return true
}

func (r *Registry) Guilds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
