package teleop

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/spatialmath"
)

func fastSessionConfig(limbs ...joints.Limb) SessionConfig {
	cfg := DefaultLoopConfig()
	cfg.Period = 5 * time.Millisecond
	offset := 0.0
	cfg.Calibration.YawOffset = &offset
	cfg.Filter.StaleTimeout = time.Hour
	return SessionConfig{Limbs: limbs, Loop: cfg}
}

func TestSessionRunAndShutdown(t *testing.T) {
	logger := logging.NewTestLogger(t)
	actuator := newRecordingActuator()
	listener := &recordingListener{}
	session, err := NewSession(fastSessionConfig(joints.Head, joints.LeftArm), joints.HumanoidTable(), actuator, logger,
		WithSessionListener(listener))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, session.ID(), test.ShouldNotBeEmpty)
	test.That(t, len(session.Loops()), test.ShouldEqual, 2)

	tracker := newChanTracker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx, tracker) }()

	testutils.WaitForAssertionWithSleep(t, 10*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		now := time.Now()
		test.That(tb, tracker.publish(joints.Head, pose.NewOrientationSample(now, 0.1, 0, true)), test.ShouldBeTrue)
		test.That(tb, tracker.publish(joints.LeftArm,
			pose.NewPoseSample(now, spatialmath.NewPose(r3.Vector{X: 0.15, Y: 0.02}, spatialmath.IdentityQuat), true)),
			test.ShouldBeTrue)
		states := session.States()
		test.That(tb, states[joints.Head], test.ShouldEqual, StateActive)
		test.That(tb, states[joints.LeftArm], test.ShouldEqual, StateActive)
	})

	select {
	case cmd := <-actuator.sent:
		test.That(t, cmd.SessionID, test.ShouldEqual, session.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("no command sent")
	}

	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}

	for limb, state := range session.States() {
		test.That(t, state, test.ShouldEqual, StateShutdown)
		var last JointCommand
		for _, cmd := range actuator.Commands() {
			if cmd.Limb == limb {
				last = cmd
			}
		}
		test.That(t, last.Hold, test.ShouldBeTrue)
	}
	test.That(t, tracker.unsubscribed, test.ShouldEqual, 2)
	test.That(t, listener.Transitions(), test.ShouldContain, StateShutdown)

	err = session.Run(context.Background(), tracker)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSessionReportsActuationFailures(t *testing.T) {
	actuator := newRecordingActuator()
	actuator.err = errors.New("robot offline")
	session, err := NewSession(fastSessionConfig(joints.Head), joints.HumanoidTable(), actuator, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	tracker := newChanTracker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx, tracker) }()

	testutils.WaitForAssertionWithSleep(t, 10*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, tracker.publish(joints.Head, pose.NewOrientationSample(time.Now(), 0.1, 0, true)), test.ShouldBeTrue)
	})

	var reported []error
	for len(reported) < 2 {
		select {
		case err := <-session.Errors():
			reported = append(reported, err)
		case <-time.After(5 * time.Second):
			t.Fatal("no actuation error reported")
		}
	}
	for _, err := range reported {
		test.That(t, errors.Is(err, ErrActuationUnreachable), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "robot offline")
	}
	test.That(t, session.States()[joints.Head], test.ShouldEqual, StateActive)

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}

func TestSessionSharesHeadCalibration(t *testing.T) {
	cfg := fastSessionConfig(joints.RightArm, joints.Head)
	cfg.Loop.Calibration.YawOffset = nil
	session, err := NewSession(cfg, joints.HumanoidTable(), newRecordingActuator(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	loops := session.Loops()
	test.That(t, loops[0].Limb(), test.ShouldEqual, joints.Head)
	test.That(t, loops[1].Limb(), test.ShouldEqual, joints.RightArm)
	test.That(t, loops[0].cal, test.ShouldNotBeNil)
	test.That(t, loops[1].cal, test.ShouldBeNil)

	head, arm := loops[0], loops[1]
	for i := 0; i <= 50; i++ {
		head.Offer(pose.NewOrientationSample(at(20*i), 0.4, 0, true))
		head.Step(at(20 * i))
	}
	test.That(t, head.State(), test.ShouldEqual, StateActive)

	arm.Offer(pose.NewPoseSample(at(1000), spatialmath.NewPose(r3.Vector{X: 0.15}, spatialmath.IdentityQuat), true))
	_, ok := arm.Step(at(1000))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, arm.State(), test.ShouldEqual, StateActive)
	frame, err := arm.opts.frames.Frame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.YawOffset, test.ShouldAlmostEqual, -0.4, 1e-9)
}

func TestSessionValidation(t *testing.T) {
	table := joints.HumanoidTable()
	logger := logging.NewTestLogger(t)
	_, err := NewSession(SessionConfig{Loop: DefaultLoopConfig()}, table, newRecordingActuator(), logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSession(fastSessionConfig(joints.Head, joints.Head), table, newRecordingActuator(), logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSession(fastSessionConfig("tail"), table, newRecordingActuator(), logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSession(fastSessionConfig(joints.Head), table, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	session, err := NewSession(fastSessionConfig(joints.Head, joints.LeftArm), table, newRecordingActuator(), logger)
	test.That(t, err, test.ShouldBeNil)
	tracker := newChanTracker()
	tracker.failLimb = joints.LeftArm
	err = session.Run(context.Background(), tracker)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "subscribing left_arm")
	test.That(t, tracker.unsubscribed, test.ShouldEqual, 1)
}

func TestSessionLoggerRegistry(t *testing.T) {
	registry := logging.NewRegistry(logging.INFO)
	session, err := NewSession(fastSessionConfig(joints.Head, joints.LeftArm), joints.HumanoidTable(), newRecordingActuator(),
		logging.NewBlankLogger("teleop"), WithLoggerRegistry(registry))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, registry.UpdateConfig([]logging.LoggerPatternConfig{{Pattern: "teleop.left_arm", Level: "error"}}), test.ShouldBeNil)
	test.That(t, session.Loops()[1].logger.GetLevel(), test.ShouldEqual, logging.ERROR)
	test.That(t, session.Loops()[0].logger.GetLevel(), test.ShouldEqual, logging.INFO)
}

func TestLoopRunWithMockClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(at(0))
	offset := 0.0
	cfg := testLoopConfig(joints.Head)
	cfg.Calibration.YawOffset = &offset
	cfg.Filter.StaleTimeout = time.Hour
	actuator := newRecordingActuator()
	loop, err := NewLimbLoop(cfg, joints.HumanoidTable(), actuator, logging.NewTestLogger(t), WithClock(mock))
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	loop.Offer(pose.NewOrientationSample(at(0), 0.5, 0, true))
	testutils.WaitForAssertionWithSleep(t, 10*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		mock.Add(cfg.Period)
		test.That(tb, len(actuator.Commands()), test.ShouldBeGreaterThan, 0)
	})
	cancel()
	test.That(t, <-done, test.ShouldBeNil)
	test.That(t, loop.State(), test.ShouldEqual, StateShutdown)

	cmds := actuator.Commands()
	test.That(t, cmds[len(cmds)-1].Hold, test.ShouldBeTrue)
	test.That(t, loop.Run(context.Background()), test.ShouldBeError, ErrShutdown)

	// Samples offered after shutdown are ignored.
	loop.Offer(pose.NewOrientationSample(at(5000), 0.5, 0, true))
	_, ok := loop.inbox.Take()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestEmitterDropsStaleCommandsForSlowActuator(t *testing.T) {
	actuator := newRecordingActuator()
	actuator.block = true
	var reported []error
	reportCh := make(chan error, 8)
	e := newEmitter(actuator, 20*time.Millisecond, logging.NewTestLogger(t), func(err error) { reportCh <- err })
	e.start()

	start := time.Now()
	for i := 1; i <= 100; i++ {
		e.enqueue(JointCommand{Limb: joints.Head, Seq: uint64(i)})
	}
	// Enqueueing never waits on the actuator.
	test.That(t, time.Since(start), test.ShouldBeLessThan, time.Second)

	select {
	case err := <-reportCh:
		reported = append(reported, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout not reported")
	}
	test.That(t, errors.Is(reported[0], ErrActuationUnreachable), test.ShouldBeTrue)
	e.stop()
}

// gatedActuator holds every send until release is closed.
type gatedActuator struct {
	*recordingActuator
	release chan struct{}
}

func (a *gatedActuator) SendCommand(ctx context.Context, cmd JointCommand) error {
	select {
	case <-a.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.recordingActuator.SendCommand(ctx, cmd)
}

func TestSlowActuatorSkipsToNewestCommand(t *testing.T) {
	offset := 0.0
	cfg := testLoopConfig(joints.Head)
	cfg.Calibration.YawOffset = &offset
	cfg.ActuationTimeout = time.Minute
	actuator := &gatedActuator{recordingActuator: newRecordingActuator(), release: make(chan struct{})}
	loop, err := NewLimbLoop(cfg, joints.HumanoidTable(), actuator, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	group, err := joints.HumanoidTable().Group(joints.Head)
	test.That(t, err, test.ShouldBeNil)
	maxVel := group.MaxVelocities(cfg.SpeedFraction)

	loop.emitter.start()
	const steps = 50
	for i := 0; i < steps; i++ {
		ts := at(i * periodMs)
		loop.Offer(pose.NewOrientationSample(ts, 0.02*float64(i), 0, true))
		_, ok := loop.Step(ts)
		test.That(t, ok, test.ShouldBeTrue)
	}
	close(actuator.release)
	testutils.WaitForAssertionWithSleep(t, 10*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		cmds := actuator.Commands()
		test.That(tb, cmds, test.ShouldNotBeEmpty)
		test.That(tb, cmds[len(cmds)-1].Seq, test.ShouldEqual, uint64(steps))
	})
	loop.emitter.stop()

	// Delivered commands skip ahead, but each stays within the velocity bound measured from the
	// IssuedAt of the one before it.
	delivered := actuator.Commands()
	test.That(t, len(delivered), test.ShouldBeLessThan, steps)
	for i := 1; i < len(delivered); i++ {
		test.That(t, delivered[i].Seq, test.ShouldBeGreaterThan, delivered[i-1].Seq)
		checkCommand(t, group, maxVel, &delivered[i-1], delivered[i])
	}
}
