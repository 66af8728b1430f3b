package ledger

import "github.com/digkill/TGMediaGen/internal/models"

type holdAction int

const (
	actionCapture holdAction = iota
	actionRelease
)

// holdTransition encodes the HELD → CAPTURED | RELEASED state machine.
// Repeating the action that produced a terminal state is a no-op (the current
// state is returned unchanged); crossing over to the other terminal state is
// an error.
func holdTransition(state models.HoldState, action holdAction) (models.HoldState, error) {
	switch state {
	case models.HoldHeld:
		if action == actionCapture {
			return models.HoldCaptured, nil
		}
		return models.HoldReleased, nil
	case models.HoldCaptured:
		if action == actionCapture {
			return state, nil
		}
		return state, ErrAlreadyCaptured
	case models.HoldReleased:
		if action == actionRelease {
			return state, nil
		}
		return state, ErrAlreadyReleased
	default:
		return state, ErrHoldNotFound
	}
}
