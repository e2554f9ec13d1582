package registry

import "fmt"

// State is a task's lifecycle position. States only move forward.
type State int

const (
	StateRegistered State = iota
	StateInformed
	StateRunning
	StateStopped
)

var stateNames = [...]string{
	StateRegistered: "REGISTERED",
	StateInformed:   "INFORMED",
	StateRunning:    "RUNNING",
	StateStopped:    "STOPPED",
}

// States lists every state in forward order.
func States() []State {
	return []State{StateRegistered, StateInformed, StateRunning, StateStopped}
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}
