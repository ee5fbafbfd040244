package calibration

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/spatialmath"
	"go.viam.com/teleop/utils"
)

// Config controls the calibration window.
type Config struct {
	// Window is how long samples are collected after the first valid one.
	Window time.Duration
	// MinSamples is the fewest valid samples that make a window usable.
	MinSamples int
	// YawOffset, if set, skips calibration and locks this offset immediately.
	YawOffset *float64
}

// state is either calibrating or locked.
type state interface {
	isState()
}

type calibrating struct {
	started   bool
	startedAt time.Time
	sin, cos  []float64
	reference quat.Number
}

type locked struct {
	frame Frame
}

func (*calibrating) isState() {}
func (*locked) isState() {}

// Calibrator collects headings over one window and then freezes the resulting frame. It is owned
// by a single limb loop and is not safe for concurrent use.
type Calibrator struct {
	cfg      Config
	logger   logging.Logger
	state    state
	failures int
}

// NewCalibrator returns a calibrator in its calibrating state, or already locked if cfg carries
// a yaw override.
func NewCalibrator(cfg Config, logger logging.Logger) *Calibrator {
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 1
	}
	c := &Calibrator{cfg: cfg, logger: logger, state: &calibrating{}}
	if cfg.YawOffset != nil {
		offset := *cfg.YawOffset
		c.state = &locked{frame: Frame{
			YawOffset:  offset,
			Reference:  spatialmath.QuatFromYawPitchRoll(-offset, 0, 0),
			Locked:     true,
			Overridden: true,
		}}
		logger.Infow("calibration skipped, using fixed yaw offset", "yaw_offset", offset)
	}
	return c
}

// Observe feeds one sample that reached the receiver at arrived. The window is timed on the
// receiver's clock; sample timestamps are never compared with arrived. Observe returns
// ErrInsufficientData if arrived closes a window that collected too few valid samples. Samples
// after the frame locks are ignored.
func (c *Calibrator) Observe(s pose.RawPoseSample, arrived time.Time) error {
	cal, ok := c.state.(*calibrating)
	if !ok {
		return nil
	}
	var err error
	if cal.started && !arrived.Before(cal.startedAt.Add(c.cfg.Window)) {
		if err = c.close(cal); err == nil {
			return nil
		}
		cal = c.state.(*calibrating)
	}
	if !s.Valid {
		return err
	}
	if !cal.started {
		cal.started = true
		cal.startedAt = arrived
		cal.reference = s.Orientation
		c.logger.Debugw("calibration window opened", "at", arrived)
	}
	yaw, _ := s.YawPitch()
	cal.sin = append(cal.sin, math.Sin(yaw))
	cal.cos = append(cal.cos, math.Cos(yaw))
	cal.reference = spatialmath.Slerp(cal.reference, s.Orientation, 1/float64(len(cal.sin)))
	return err
}

// Poll closes the window if now, on the same clock as the arrival times, is past its end, so
// the frame locks even when no more samples arrive.
func (c *Calibrator) Poll(now time.Time) error {
	cal, ok := c.state.(*calibrating)
	if !ok || !cal.started || now.Before(cal.startedAt.Add(c.cfg.Window)) {
		return nil
	}
	return c.close(cal)
}

func (c *Calibrator) close(cal *calibrating) error {
	end := cal.startedAt.Add(c.cfg.Window)
	if len(cal.sin) < c.cfg.MinSamples {
		c.failures++
		c.state = &calibrating{}
		c.logger.Warnw("calibration window closed without enough samples, retrying",
			"samples", len(cal.sin), "min_samples", c.cfg.MinSamples, "failures", c.failures)
		return errors.Wrapf(ErrInsufficientData, "%d of %d samples", len(cal.sin), c.cfg.MinSamples)
	}

	meanSin, err := stats.Mean(cal.sin)
	if err != nil {
		return err
	}
	meanCos, err := stats.Mean(cal.cos)
	if err != nil {
		return err
	}
	meanYaw := math.Atan2(meanSin, meanCos)

	deviations := make([]float64, len(cal.sin))
	for i := range cal.sin {
		deviations[i] = utils.WrapAngle(math.Atan2(cal.sin[i], cal.cos[i]) - meanYaw)
	}
	spread, err := stats.StandardDeviation(deviations)
	if err != nil {
		return err
	}

	frame := Frame{
		YawOffset:  -meanYaw,
		Reference:  spatialmath.Normalize(cal.reference),
		CapturedAt: end,
		Samples:    len(cal.sin),
		Locked:     true,
	}
	c.state = &locked{frame: frame}
	c.logger.Infow("calibration locked", "yaw_offset", frame.YawOffset, "samples", frame.Samples, "yaw_stddev", spread)
	return nil
}

// Frame returns the locked frame or ErrNotReady.
func (c *Calibrator) Frame() (Frame, error) {
	if l, ok := c.state.(*locked); ok {
		return l.frame, nil
	}
	return Frame{}, ErrNotReady
}

// Locked reports whether the frame is frozen.
func (c *Calibrator) Locked() bool {
	_, ok := c.state.(*locked)
	return ok
}

// Provisional returns the zero frame once at least one window has failed. Until then there is
// no frame to drive with.
func (c *Calibrator) Provisional() (Frame, bool) {
	if c.failures == 0 {
		return Frame{}, false
	}
	return ZeroFrame(), true
}

// Failures returns how many windows closed without enough data.
func (c *Calibrator) Failures() int {
	return c.failures
}
