package torso

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/teleop/calibration"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/spatialmath"
	"go.viam.com/teleop/utils"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

// skeleton builds a sample of an operator whose torso has the given orientation and whose
// shoulders are turned by turn radians.
func skeleton(ts time.Time, yaw, pitch, roll, turn float64) Sample {
	q := spatialmath.QuatFromYawPitchRoll(yaw, pitch, roll)
	half := spatialmath.RotateVector(spatialmath.QuatFromYawPitchRoll(turn, 0, 0), r3.Vector{Y: 0.2})
	center := r3.Vector{X: 2, Z: 1.4}
	left, right := center.Add(half), center.Sub(half)
	return Sample{
		Torso:         pose.RawPoseSample{Timestamp: ts, Orientation: q, Valid: true},
		LeftShoulder:  &left,
		RightShoulder: &right,
	}
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate("torso"), test.ShouldBeNil)

	cfg := DefaultConfig()
	cfg.DeadbandX = 0.5
	err := cfg.Validate("torso")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, utils.ErrConfigInvalid), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "deadband_x")

	cfg = DefaultConfig()
	cfg.DeadbandAngle = math.Pi / 4
	cfg.VelocityYMax = -1
	cfg.Period = 0
	err = cfg.Validate("torso")
	test.That(t, err.Error(), test.ShouldContainSubstring, "deadband_angle")
	test.That(t, err.Error(), test.ShouldContainSubstring, "velocity_y_max")
	test.That(t, err.Error(), test.ShouldContainSubstring, "period")

	_, err = NewJoystick(cfg)
	test.That(t, errors.Is(err, utils.ErrConfigInvalid), test.ShouldBeTrue)
}

func TestJoystickTwist(t *testing.T) {
	j, err := NewJoystick(DefaultConfig())
	test.That(t, err, test.ShouldBeNil)
	frame := calibration.ZeroFrame()

	t.Run("upright", func(t *testing.T) {
		test.That(t, j.Twist(frame, skeleton(t0, 0, 0, 0, 0)).IsZero(), test.ShouldBeTrue)
	})

	t.Run("small lean inside deadband", func(t *testing.T) {
		tw := j.Twist(frame, skeleton(t0, 0, 0.1, 0.1, 0.2))
		test.That(t, tw.IsZero(), test.ShouldBeTrue)
	})

	t.Run("lean forward", func(t *testing.T) {
		tw := j.Twist(frame, skeleton(t0, 0, 0.3, 0, 0))
		test.That(t, tw.Linear.X, test.ShouldAlmostEqual, 0.10457457, 1e-6)
		test.That(t, tw.Linear.Y, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, tw.Angular.Z, test.ShouldAlmostEqual, 0, 1e-9)
	})

	t.Run("saturates", func(t *testing.T) {
		tw := j.Twist(frame, skeleton(t0, 0, -0.9, -0.5, 0))
		test.That(t, tw.Linear.X, test.ShouldAlmostEqual, -0.2, 1e-9)
		test.That(t, tw.Linear.Y, test.ShouldAlmostEqual, 0.2, 1e-9)
	})

	t.Run("shoulder turn", func(t *testing.T) {
		tw := j.Twist(frame, skeleton(t0, 0, 0, 0, 0.6))
		test.That(t, tw.Linear.X, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, tw.Angular.Z, test.ShouldAlmostEqual, 0.41460184, 1e-6)

		tw = j.Twist(frame, skeleton(t0, 0, 0, 0, -2))
		test.That(t, tw.Angular.Z, test.ShouldAlmostEqual, -math.Pi/4, 1e-9)
	})

	t.Run("relative to reference", func(t *testing.T) {
		facing := calibration.Frame{Reference: spatialmath.QuatFromYawPitchRoll(1, 0, 0), Locked: true}
		test.That(t, j.Twist(facing, skeleton(t0, 1, 0, 0, 1)).IsZero(), test.ShouldBeTrue)

		tw := j.Twist(facing, skeleton(t0, 1, 0.5, 0, 1))
		test.That(t, tw.Linear.X, test.ShouldAlmostEqual, 0.2, 1e-9)
		test.That(t, tw.Linear.Y, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, tw.Angular.Z, test.ShouldAlmostEqual, 0, 1e-9)
	})

	t.Run("missing data", func(t *testing.T) {
		s := skeleton(t0, 0, 0.5, 0, 0.6)
		s.LeftShoulder = nil
		test.That(t, j.Twist(frame, s).IsZero(), test.ShouldBeTrue)

		s = skeleton(t0, 0, 0.5, 0, 0.6)
		s.Torso.Valid = false
		test.That(t, j.Twist(frame, s).IsZero(), test.ShouldBeTrue)
	})
}

type recordingBase struct {
	mu    sync.Mutex
	calls []Twist
	err   error
}

func (b *recordingBase) SetVelocity(ctx context.Context, linear, angular r3.Vector) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.calls = append(b.calls, Twist{Linear: linear, Angular: angular})
	return nil
}

func (b *recordingBase) Calls() []Twist {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Twist, len(b.calls))
	copy(out, b.calls)
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Period = 10 * time.Millisecond
	cfg.CalibrationTime = 100 * time.Millisecond
	return cfg
}

func TestNodeStep(t *testing.T) {
	logger := logging.NewTestLogger(t)
	n, err := NewNode(testConfig(), &recordingBase{}, logger)
	test.That(t, err, test.ShouldBeNil)

	_, ok := n.Step(t0)
	test.That(t, ok, test.ShouldBeFalse)

	// Calibrate facing yaw 0.4.
	for ms := 0; ms < 100; ms += 20 {
		n.Offer(skeleton(at(ms), 0.4, 0, 0, 0.4))
		_, ok = n.Step(at(ms))
		test.That(t, ok, test.ShouldBeFalse)
	}
	n.Offer(skeleton(at(120), 0.4, 0, 0, 0.4))
	tw, ok := n.Step(at(120))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, n.Calibrated(), test.ShouldBeTrue)
	test.That(t, tw.IsZero(), test.ShouldBeTrue)

	n.Offer(skeleton(at(200), 0.4, 0.5, 0, 0.4))
	tw, ok = n.Step(at(200))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tw.Linear.X, test.ShouldAlmostEqual, 0.2, 1e-6)
	test.That(t, tw.Linear.Y, test.ShouldAlmostEqual, 0, 1e-6)

	// A glitch is dropped and the last good sample keeps driving.
	n.Offer(skeleton(at(210), 2.5, 0, 0, 2.5))
	tw, _ = n.Step(at(210))
	test.That(t, tw.Linear.X, test.ShouldAlmostEqual, 0.2, 1e-6)

	// Tracking lost stops the base.
	tw, ok = n.Step(at(200).Add(time.Second))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tw.IsZero(), test.ShouldBeTrue)

	n.Recalibrate()
	_, ok = n.Step(at(1300))
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, n.Calibrated(), test.ShouldBeFalse)
}

func TestNodeSkewedTrackerClock(t *testing.T) {
	n, err := NewNode(testConfig(), &recordingBase{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	// Every sample is stamped a second behind the node's clock.
	lag := -time.Second
	for ms := 0; ms < 100; ms += 20 {
		n.Offer(skeleton(at(ms).Add(lag), 0.4, 0, 0, 0.4))
		_, ok := n.Step(at(ms))
		test.That(t, ok, test.ShouldBeFalse)
	}
	tw, ok := n.Step(at(100))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tw.IsZero(), test.ShouldBeTrue)

	for ms := 200; ms <= 400; ms += 20 {
		n.Offer(skeleton(at(ms).Add(lag), 0.4, 0.5, 0, 0.4))
		tw, ok = n.Step(at(ms))
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, tw.Linear.X, test.ShouldAlmostEqual, 0.2, 1e-6)
	}
}

func TestNodeRunStopsBase(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()
	mock.Set(t0)
	base := &recordingBase{}
	cfg := testConfig()
	cfg.Filter.MaxAngularRate = 0
	n, err := NewNode(cfg, base, logger, WithClock(mock))
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	for i := 0; i < 15; i++ {
		n.Offer(skeleton(mock.Now(), 0, 0, 0, 0))
		mock.Add(10 * time.Millisecond)
	}
	testutils.WaitForAssertionWithSleep(t, 10*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		n.Offer(skeleton(mock.Now(), 0, 0, 0, 0))
		mock.Add(10 * time.Millisecond)
		test.That(tb, n.Calibrated(), test.ShouldBeTrue)
	})
	testutils.WaitForAssertionWithSleep(t, 10*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		n.Offer(skeleton(mock.Now(), 0, 0.5, 0, 0))
		mock.Add(10 * time.Millisecond)
		calls := base.Calls()
		test.That(tb, len(calls), test.ShouldBeGreaterThan, 0)
		test.That(tb, calls[len(calls)-1].Linear.X, test.ShouldAlmostEqual, 0.2, 1e-6)
	})

	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("torso node did not stop")
	}
	calls := base.Calls()
	test.That(t, calls[len(calls)-1].IsZero(), test.ShouldBeTrue)
	test.That(t, n.Run(context.Background()), test.ShouldNotBeNil)
}

func TestNodeReportsBaseErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	base := &recordingBase{err: errors.New("bus off")}
	var mu sync.Mutex
	var reported []error
	n, err := NewNode(testConfig(), base, logger, WithErrorReporter(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	}))
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = n.Run(ctx)
	test.That(t, errors.Is(err, ErrBaseUnreachable), test.ShouldBeTrue)
	mu.Lock()
	defer mu.Unlock()
	test.That(t, reported, test.ShouldHaveLength, 1)

	_, err = NewNode(testConfig(), nil, logger)
	test.That(t, errors.Is(err, utils.ErrConfigInvalid), test.ShouldBeTrue)
}
