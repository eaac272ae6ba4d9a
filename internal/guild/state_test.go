package guild

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateConnecting, true},
		{StateIdle, StatePlaying, false},
		{StateConnecting, StateReady, true},
		{StateConnecting, StateIdle, true},
		{StateReady, StateLoading, true},
		{StateReady, StatePlaying, false},
		{StateLoading, StatePlaying, true},
		{StateLoading, StateReady, true},
		{StatePlaying, StateLoading, true},
		{StatePlaying, StateReady, true},
		{StatePlaying, StateIdle, false},
		{StateTearingDown, StateReady, false},
		{StateTearingDown, StateIdle, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestEveryStateCanTearDown(t *testing.T) {
	for _, s := range []State{StateIdle, StateConnecting, StateReady, StateLoading, StatePlaying} {
		assert.True(t, CanTransition(s, StateTearingDown), s.String())
	}
}

func TestDecisions(t *testing.T) {
	assert.Equal(t, ActionScheduleNext, OnTrackEnd(true))
	assert.Equal(t, ActionLeave, OnTrackEnd(false))
	assert.Equal(t, ActionScheduleNext, OnTrackError(true))
	assert.Equal(t, ActionLeave, OnTrackError(false))

	assert.True(t, ShouldIterate(true, true))
	assert.False(t, ShouldIterate(false, true))
	assert.False(t, ShouldIterate(true, false))
	assert.False(t, ShouldIterate(false, false))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "tearing_down", StateTearingDown.String())
	assert.Equal(t, "state(99)", State(99).String())
	assert.Equal(t, "leave", ActionLeave.String())
}
