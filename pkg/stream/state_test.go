package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	valid := map[State][]State{
		StateClosed:     {StateConnecting},
		StateConnecting: {StateOpen, StateClosing, StateClosed},
		StateOpen:       {StateClosing, StateClosed},
		StateClosing:    {StateClosed},
	}
	all := []State{StateClosed, StateConnecting, StateOpen, StateClosing}

	for _, from := range all {
		for _, to := range all {
			err := from.validateTransitionTo(to)
			if contains(valid[from], to) {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.Error(t, err, "%s -> %s", from, to)
			}
		}
	}
}

func contains(states []State, s State) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "unknown(9)", State(9).String())
}
