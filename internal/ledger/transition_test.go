package ledger

import (
	"errors"
	"testing"

	"github.com/digkill/TGMediaGen/internal/models"
)

func TestHoldTransition(t *testing.T) {
	tests := []struct {
		name      string
		state     models.HoldState
		action    holdAction
		wantState models.HoldState
		wantErr   error
	}{
		{"held capture", models.HoldHeld, actionCapture, models.HoldCaptured, nil},
		{"held release", models.HoldHeld, actionRelease, models.HoldReleased, nil},
		{"captured capture is noop", models.HoldCaptured, actionCapture, models.HoldCaptured, nil},
		{"captured release fails", models.HoldCaptured, actionRelease, models.HoldCaptured, ErrAlreadyCaptured},
		{"released release is noop", models.HoldReleased, actionRelease, models.HoldReleased, nil},
		{"released capture fails", models.HoldReleased, actionCapture, models.HoldReleased, ErrAlreadyReleased},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := holdTransition(tt.state, tt.action)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.wantState {
				t.Errorf("state = %s, want %s", got, tt.wantState)
			}
		})
	}
}

func TestHoldTransition_TerminalStatesAreMonotonic(t *testing.T) {
	// No sequence of actions moves a terminal state anywhere else.
	for _, terminal := range []models.HoldState{models.HoldCaptured, models.HoldReleased} {
		for _, action := range []holdAction{actionCapture, actionRelease} {
			got, _ := holdTransition(terminal, action)
			if got != terminal {
				t.Errorf("terminal %s moved to %s on action %d", terminal, got, action)
			}
		}
	}
}
