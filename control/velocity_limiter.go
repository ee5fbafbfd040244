// Package control bounds how fast commands and targets may change between control cycles.
package control

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/teleop/utils"
)

// VelocityLimiter caps each joint's change per cycle to its maximum velocity times the elapsed
// time. It holds no state and is safe for concurrent use.
type VelocityLimiter struct {
	maxVelocities []float64
}

// NewVelocityLimiter returns a limiter for joints with the given maximum velocities in rad/s.
func NewVelocityLimiter(maxVelocities []float64) (*VelocityLimiter, error) {
	for i, v := range maxVelocities {
		if !utils.IsFinite(v) || v <= 0 {
			return nil, errors.Errorf("max velocity for joint %d must be positive, got %v", i, v)
		}
	}
	out := make([]float64, len(maxVelocities))
	copy(out, maxVelocities)
	return &VelocityLimiter{maxVelocities: out}, nil
}

// MaxVelocities returns the per joint caps.
func (vl *VelocityLimiter) MaxVelocities() []float64 {
	out := make([]float64, len(vl.maxVelocities))
	copy(out, vl.maxVelocities)
	return out
}

// Limit moves each joint from previous toward proposed by at most maxVelocity*dt, keeping the
// sign of the change. A non-finite proposal or non-positive dt holds the previous angle.
func (vl *VelocityLimiter) Limit(previous, proposed []float64, dt time.Duration) ([]float64, error) {
	if len(previous) != len(vl.maxVelocities) || len(proposed) != len(vl.maxVelocities) {
		return nil, errors.Errorf("expected %d joints, got previous=%d proposed=%d",
			len(vl.maxVelocities), len(previous), len(proposed))
	}
	out := make([]float64, len(previous))
	seconds := dt.Seconds()
	for i := range previous {
		delta := proposed[i] - previous[i]
		if seconds <= 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
			out[i] = previous[i]
			continue
		}
		out[i] = previous[i] + utils.ClampMagnitude(delta, vl.maxVelocities[i]*seconds)
	}
	return out, nil
}
