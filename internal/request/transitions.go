// ABOUTME: ChatRequest lifecycle state machine
// ABOUTME: open -> accepted -> closed, plus open -> closed (requester cancel); closed is terminal

package request

import (
	"github.com/mart-code/first-aid-app/internal/store"
)

// transitions maps each status to the statuses reachable from it. Status is
// monotonic; anything not listed here is invalid.
var transitions = map[store.Status][]store.Status{
	store.StatusOpen:     {store.StatusAccepted, store.StatusClosed},
	store.StatusAccepted: {store.StatusClosed},
	store.StatusClosed:   nil,
}

// CanTransition reports whether from -> to is a valid lifecycle step.
func CanTransition(from, to store.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist from s.
func IsTerminal(s store.Status) bool {
	return len(transitions[s]) == 0
}
