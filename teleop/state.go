package teleop

import (
	"fmt"
	"time"

	"go.viam.com/teleop/joints"
)

// State is the phase of a limb loop.
type State int32

// Loop states. A loop starts Calibrating, becomes Active once its frame locks, moves between
// Active and Stale as tracking comes and goes, and ends in Shutdown.
const (
	StateCalibrating State = iota
	StateActive
	StateStale
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateCalibrating:
		return "calibrating"
	case StateActive:
		return "active"
	case StateStale:
		return "stale"
	case StateShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText lets states print as names in logs and JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateCalibrating, StateActive, StateStale, StateShutdown} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// JointCommand is the only thing sent to the actuator. Every angle is within its joint range.
// Between two commands issued for the same limb, no joint moves further than its velocity limit
// times the difference of their IssuedAt times. A slow actuator is skipped ahead to the newest
// command, so consecutive commands it receives may be several periods apart; the bound still
// holds against IssuedAt.
type JointCommand struct {
	SessionID string      `json:"session_id"`
	Limb      joints.Limb `json:"limb"`
	Seq       uint64      `json:"seq"`
	Names     []string    `json:"names"`
	Angles    []float64   `json:"angles"`
	IssuedAt  time.Time   `json:"issued_at"`
	// Hold marks a command that repeats the previous angles.
	Hold bool `json:"hold"`
}

// JointState is the loop's record of what it last commanded.
type JointState struct {
	Angles          []float64
	LastCommandTime time.Time
}

func (js JointState) clone() JointState {
	angles := make([]float64, len(js.Angles))
	copy(angles, js.Angles)
	return JointState{Angles: angles, LastCommandTime: js.LastCommandTime}
}

// Listener observes loop activity. Calls are made from the loop goroutine and must not block.
type Listener interface {
	StateChanged(limb joints.Limb, from, to State)
	CommandIssued(cmd JointCommand)
}
