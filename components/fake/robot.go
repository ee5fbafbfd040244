// Package fake provides simulated robot and tracker components for running a session without
// hardware.
package fake

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/teleop"
	"go.viam.com/teleop/torso"
	"go.viam.com/teleop/utils"
)

// ErrOutOfRange is returned for commands that put a joint outside its limits.
var ErrOutOfRange = errors.New("joint command out of range")

type limbState struct {
	group   joints.Group
	current []float64
	target  []float64
	maxVel  []float64
}

// Robot is a simulated humanoid. Each joint moves toward its last commanded angle at its rated
// velocity. Positions only advance when UpdateForTime is called, either by the caller or by the
// background simulation started with SimulateTime.
type Robot struct {
	logger logging.Logger
	clock  clock.Clock

	mu          sync.Mutex
	limbs       map[joints.Limb]*limbState
	lastUpdated time.Time
	commands    int
	lastSeq     map[joints.Limb]uint64
	linear      r3.Vector
	angular     r3.Vector
	heading     float64
	position    r3.Vector

	workers *utils.StoppableWorkers
}

var (
	_ teleop.Actuator = (*Robot)(nil)
	_ torso.Base      = (*Robot)(nil)
)

// NewRobot returns a robot at home with every joint in table.
func NewRobot(table *joints.Table, clk clock.Clock, logger logging.Logger) (*Robot, error) {
	if table == nil || table.Len() == 0 {
		return nil, errors.New("robot needs a joint table")
	}
	r := &Robot{
		logger:      logger,
		clock:       clk,
		limbs:       map[joints.Limb]*limbState{},
		lastUpdated: clk.Now(),
		lastSeq:     map[joints.Limb]uint64{},
	}
	for _, limb := range joints.Limbs {
		group, err := table.Group(limb)
		if err != nil {
			// Limbs missing from the table are not simulated.
			continue
		}
		home := group.Home()
		r.limbs[limb] = &limbState{
			group:   group,
			current: home,
			target:  append([]float64(nil), home...),
			maxVel:  group.MaxVelocities(1),
		}
	}
	return r, nil
}

// SimulateTime advances the simulation every interval until Close.
func (r *Robot) SimulateTime(interval time.Duration) {
	r.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		ticker := r.clock.Ticker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.UpdateForTime(now)
			}
		}
	})
}

// SendCommand sets new joint targets for the command's limb.
func (r *Robot) SendCommand(ctx context.Context, cmd teleop.JointCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.limbs[cmd.Limb]
	if !ok {
		return errors.Errorf("robot has no %s", cmd.Limb)
	}
	if !slices.Equal(state.group.Names(), cmd.Names) || len(cmd.Angles) != len(cmd.Names) {
		return errors.Errorf("%s command names %v do not match joints %v", cmd.Limb, cmd.Names, state.group.Names())
	}
	if !state.group.Contains(cmd.Angles) {
		return errors.Wrapf(ErrOutOfRange, "%s command %d: %v", cmd.Limb, cmd.Seq, cmd.Angles)
	}
	if last, ok := r.lastSeq[cmd.Limb]; ok && cmd.Seq <= last {
		r.logger.Debugw("ignoring out of order command", "limb", cmd.Limb, "seq", cmd.Seq, "last", last)
		return nil
	}
	r.lastSeq[cmd.Limb] = cmd.Seq
	copy(state.target, cmd.Angles)
	r.commands++
	return nil
}

// SetVelocity sets the base velocity.
func (r *Robot) SetVelocity(ctx context.Context, linear, angular r3.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linear = linear
	r.angular = angular
	return nil
}

// UpdateForTime moves every joint toward its target by at most its rated velocity times the time
// since the last update, and integrates the base velocity.
func (r *Robot) UpdateForTime(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := now.Sub(r.lastUpdated).Seconds()
	r.lastUpdated = now
	if elapsed <= 0 {
		return
	}
	const epsilon = 1e-9
	for _, state := range r.limbs {
		for i := range state.current {
			diff := state.target[i] - state.current[i]
			travel := elapsed * state.maxVel[i]
			if travel > math.Abs(diff)-epsilon {
				state.current[i] = state.target[i]
				continue
			}
			state.current[i] += math.Copysign(travel, diff)
		}
	}

	// Velocities are in the base frame.
	r.heading = utils.WrapAngle(r.heading + r.angular.Z*elapsed)
	sin, cos := math.Sincos(r.heading)
	r.position = r.position.Add(r3.Vector{
		X: (r.linear.X*cos - r.linear.Y*sin) * elapsed,
		Y: (r.linear.X*sin + r.linear.Y*cos) * elapsed,
	})
}

// JointPositions returns the simulated angles of a limb's joints.
func (r *Robot) JointPositions(limb joints.Limb) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.limbs[limb]
	if !ok {
		return nil, errors.Errorf("robot has no %s", limb)
	}
	return append([]float64(nil), state.current...), nil
}

// IsMoving reports whether any joint has not reached its target.
func (r *Robot) IsMoving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.limbs {
		for i := range state.current {
			if state.current[i] != state.target[i] {
				return true
			}
		}
	}
	return false
}

// Commands returns how many commands have been accepted.
func (r *Robot) Commands() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commands
}

// Velocity returns the last base velocity.
func (r *Robot) Velocity() (linear, angular r3.Vector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linear, r.angular
}

// Odometry returns the base position and heading integrated from its velocities.
func (r *Robot) Odometry() (r3.Vector, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position, r.heading
}

// Close stops the time simulation.
func (r *Robot) Close() error {
	if r.workers != nil {
		r.workers.Stop()
	}
	return nil
}
