package teleop

import "github.com/pkg/errors"

var (
	// ErrTrackerStale is reported when a limb's tracker stops producing valid samples for longer
	// than the stale timeout. The loop holds its last command until tracking resumes.
	ErrTrackerStale = errors.New("tracker stale")
	// ErrActuationUnreachable wraps failures of the actuator to accept a command. It never stops
	// the loop.
	ErrActuationUnreachable = errors.New("actuation unreachable")
	// ErrShutdown is returned by operations on a loop that has stopped.
	ErrShutdown = errors.New("loop shut down")
)
