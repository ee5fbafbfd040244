package control

import (
	"math"

	"github.com/pkg/errors"
)

// Deadband maps an input to [-1, 1]. Inputs within the band give 0, inputs at or past the
// saturation give ±1, and values between scale linearly.
type Deadband struct {
	Band       float64
	Saturation float64
}

// Validate checks the band is below the saturation.
func (d Deadband) Validate() error {
	if d.Band < 0 {
		return errors.Errorf("deadband %v must not be negative", d.Band)
	}
	if d.Saturation <= d.Band {
		return errors.Errorf("deadband %v must be smaller than saturation %v", d.Band, d.Saturation)
	}
	return nil
}

// Apply returns the normalized output for value.
func (d Deadband) Apply(value float64) float64 {
	if math.Abs(value) <= d.Band {
		return 0
	}
	value = math.Max(math.Min(value, d.Saturation), -d.Saturation)
	value -= math.Copysign(d.Band, value)
	return value / (d.Saturation - d.Band)
}
