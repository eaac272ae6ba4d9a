package guild

import "fmt"

// State is the per-guild position in the connect/play lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateLoading
	StatePlaying
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateTearingDown:
		return "tearing_down"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	StateIdle:        {StateConnecting, StateTearingDown},
	StateConnecting:  {StateReady, StateIdle, StateTearingDown},
	StateReady:       {StateLoading, StateTearingDown},
	StateLoading:     {StatePlaying, StateReady, StateTearingDown},
	StatePlaying:     {StateLoading, StateReady, StateTearingDown},
	StateTearingDown: nil,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Action is what the play loop does next.
type Action int

const (
	ActionNone Action = iota
	ActionScheduleNext
	ActionLeave
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionScheduleNext:
		return "schedule_next"
	case ActionLeave:
		return "leave"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// OnTrackEnd decides what follows a track that ended or was stopped. With
// no playlist selected the output is idle on purpose, so the bot leaves.
func OnTrackEnd(hasPlaylist bool) Action {
	if hasPlaylist {
		return ActionScheduleNext
	}
	return ActionLeave
}

// OnTrackError moves on to another item. Without a playlist the output is
// idle with nothing queued, which is a stop like any other.
func OnTrackError(hasPlaylist bool) Action {
	if hasPlaylist {
		return ActionScheduleNext
	}
	return ActionLeave
}

// ShouldIterate is the guard at the top of every loop iteration.
func ShouldIterate(hasPlaylist, hasConn bool) bool {
	return hasPlaylist && hasConn
}
