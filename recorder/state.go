package recorder

import (
	"errors"
	"fmt"
)

// State is the recorder lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
)

// ErrInvalidState is matched by every lifecycle request made in a state
// that does not allow it.
var ErrInvalidState = errors.New("recorder: invalid state")

// StateError reports a rejected lifecycle request. It leaves the recorder
// untouched.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("recorder: cannot %s in state: %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// StateChange is the data of a stateChange event.
type StateChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// transition moves from one of the allowed states to next. It must be
// called with r.mu held.
func (r *Recorder) transition(op string, next State, allowed ...State) (StateChange, error) {
	for _, s := range allowed {
		if r.state == s {
			ch := StateChange{From: r.state, To: next}
			r.state = next
			return ch, nil
		}
	}
	return StateChange{}, &StateError{Op: op, State: r.state}
}
