package session

import (
	"github.com/lexiqai/salon-voice-gateway/internal/dialog"
)

// stateOrder is the forward order of the dialog.
var stateOrder = map[dialog.State]int{
	dialog.StateGreeting:   0,
	dialog.StateListening:  1,
	dialog.StateClarifying: 2,
	dialog.StateConfirming: 3,
	dialog.StateClosing:    4,
}

// transitionAllowed polices the dialog graph: forward moves and self-loops,
// the Clarifying to Listening back-edge, and a forced move to Closing from
// anywhere. Nothing leaves Closing.
func transitionAllowed(from, to dialog.State) bool {
	if from == dialog.StateClosing {
		return false
	}
	if to == dialog.StateClosing {
		return true
	}
	if from == dialog.StateClarifying && to == dialog.StateListening {
		return true
	}
	f, okFrom := stateOrder[from]
	t, okTo := stateOrder[to]
	if !okFrom || !okTo {
		return false
	}
	if to == dialog.StateGreeting {
		return false
	}
	return t >= f
}
