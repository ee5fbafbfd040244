package fake

import (
	"context"
	"math"
	"sync/atomic"
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
	"go.viam.com/teleop/teleop"
	"go.viam.com/teleop/torso"
)

func headCommand(seq uint64, yaw, pitch float64) teleop.JointCommand {
	return teleop.JointCommand{
		Limb:   joints.Head,
		Seq:    seq,
		Names:  []string{joints.HeadYaw, joints.HeadPitch},
		Angles: []float64{yaw, pitch},
	}
}

func TestRobotFollowsCommands(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	robot, err := NewRobot(joints.HumanoidTable(), clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	home, err := robot.JointPositions(joints.Head)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, home, test.ShouldResemble, []float64{0, 0})
	left, err := robot.JointPositions(joints.LeftArm)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left[1], test.ShouldEqual, 0.0087)
	test.That(t, robot.IsMoving(), test.ShouldBeFalse)

	test.That(t, robot.SendCommand(ctx, headCommand(1, 1.0, 0.4)), test.ShouldBeNil)
	test.That(t, robot.IsMoving(), test.ShouldBeTrue)

	// Each joint moves at its own rated velocity.
	robot.UpdateForTime(clk.Now().Add(100 * time.Millisecond))
	pos, err := robot.JointPositions(joints.Head)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos[0], test.ShouldAlmostEqual, 0.826797, 1e-9)
	test.That(t, pos[1], test.ShouldEqual, 0.4)

	robot.UpdateForTime(clk.Now().Add(200 * time.Millisecond))
	pos, err = robot.JointPositions(joints.Head)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldResemble, []float64{1.0, 0.4})
	test.That(t, robot.IsMoving(), test.ShouldBeFalse)

	err = robot.SendCommand(ctx, headCommand(2, 3.0, 0))
	test.That(t, errors.Is(err, ErrOutOfRange), test.ShouldBeTrue)

	wrong := headCommand(3, 0, 0)
	wrong.Names = []string{joints.HeadPitch, joints.HeadYaw}
	test.That(t, robot.SendCommand(ctx, wrong), test.ShouldNotBeNil)

	// A replayed sequence number is ignored.
	test.That(t, robot.SendCommand(ctx, headCommand(1, -1.0, 0)), test.ShouldBeNil)
	test.That(t, robot.IsMoving(), test.ShouldBeFalse)
	test.That(t, robot.Commands(), test.ShouldEqual, 1)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	test.That(t, robot.SendCommand(canceled, headCommand(4, 0, 0)), test.ShouldNotBeNil)
}

func TestRobotWithoutLimb(t *testing.T) {
	table, err := joints.NewTable(joints.HumanoidSpecs[:2])
	test.That(t, err, test.ShouldBeNil)
	robot, err := NewRobot(table, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	_, err = robot.JointPositions(joints.LeftArm)
	test.That(t, err, test.ShouldNotBeNil)
	err = robot.SendCommand(context.Background(), teleop.JointCommand{Limb: joints.LeftArm, Seq: 1})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewRobot(nil, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRobotBaseOdometry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	robot, err := NewRobot(joints.HumanoidTable(), clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, robot.SetVelocity(ctx, r3.Vector{X: 0.2}, r3.Vector{}), test.ShouldBeNil)
	clk.Add(time.Second)
	robot.UpdateForTime(clk.Now())

	test.That(t, robot.SetVelocity(ctx, r3.Vector{X: 0.2}, r3.Vector{Z: math.Pi / 2}), test.ShouldBeNil)
	clk.Add(time.Second)
	robot.UpdateForTime(clk.Now())

	position, heading := robot.Odometry()
	test.That(t, heading, test.ShouldAlmostEqual, math.Pi/2, 1e-9)
	test.That(t, position.X, test.ShouldAlmostEqual, 0.2, 1e-9)
	test.That(t, position.Y, test.ShouldAlmostEqual, 0.2, 1e-9)

	linear, angular := robot.Velocity()
	test.That(t, linear.X, test.ShouldEqual, 0.2)
	test.That(t, angular.Z, test.ShouldEqual, math.Pi/2)
}

func TestTrackerSubscriptions(t *testing.T) {
	clk := clock.NewMock()
	tracker := NewTracker(DefaultTrackerConfig(), clk)

	_, err := tracker.Subscribe(joints.Limb("tail"), func(pose.RawPoseSample) {})
	test.That(t, err, test.ShouldNotBeNil)

	var heads, lefts, rights []pose.RawPoseSample
	unsubscribe, err := tracker.Subscribe(joints.Head, func(s pose.RawPoseSample) { heads = append(heads, s) })
	test.That(t, err, test.ShouldBeNil)
	_, err = tracker.Subscribe(joints.LeftArm, func(s pose.RawPoseSample) { lefts = append(lefts, s) })
	test.That(t, err, test.ShouldBeNil)
	_, err = tracker.Subscribe(joints.RightArm, func(s pose.RawPoseSample) { rights = append(rights, s) })
	test.That(t, err, test.ShouldBeNil)
	var skeletons []torso.Sample
	_, err = tracker.SubscribeSkeleton(func(s torso.Sample) { skeletons = append(skeletons, s) })
	test.That(t, err, test.ShouldBeNil)

	tracker.emit(clk.Now(), 0)
	test.That(t, heads, test.ShouldHaveLength, 1)
	yaw, pitch := heads[0].YawPitch()
	test.That(t, yaw, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, pitch, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, lefts[0].Position.X, test.ShouldAlmostEqual, 0.28, 1e-9)
	test.That(t, lefts[0].Position.Y, test.ShouldAlmostEqual, 0.05, 1e-9)
	test.That(t, rights[0].Position.Y, test.ShouldAlmostEqual, -0.05, 1e-9)
	test.That(t, skeletons, test.ShouldHaveLength, 1)
	test.That(t, skeletons[0].LeftShoulder.Y, test.ShouldEqual, 0.2)

	// A quarter period into the sway the head is turned fully left.
	cfg := DefaultTrackerConfig()
	tracker.emit(clk.Now(), cfg.Settle+cfg.Period/4)
	yaw, _ = heads[1].YawPitch()
	test.That(t, yaw, test.ShouldAlmostEqual, cfg.HeadAmplitude, 1e-9)

	unsubscribe()
	tracker.Publish(joints.Head, pose.NewOrientationSample(clk.Now(), 0, 0, true))
	test.That(t, heads, test.ShouldHaveLength, 2)
}

func TestTrackerRun(t *testing.T) {
	clk := clock.NewMock()
	tracker := NewTracker(DefaultTrackerConfig(), clk)
	var received atomic.Int32
	_, err := tracker.Subscribe(joints.Head, func(pose.RawPoseSample) { received.Add(1) })
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		clk.Add(DefaultTrackerConfig().Rate)
		test.That(tb, received.Load(), test.ShouldBeGreaterThan, 0)
	})
	cancel()
	test.That(t, <-done, test.ShouldBeNil)

	bad := NewTracker(TrackerConfig{}, clk)
	test.That(t, bad.Run(context.Background()), test.ShouldNotBeNil)
}

func TestSessionDrivesRobot(t *testing.T) {
	logger := logging.NewTestLogger(t)
	clk := clock.New()
	robot, err := NewRobot(joints.HumanoidTable(), clk, logger)
	test.That(t, err, test.ShouldBeNil)
	robot.SimulateTime(5 * time.Millisecond)
	defer func() {
		test.That(t, robot.Close(), test.ShouldBeNil)
	}()

	trackerCfg := DefaultTrackerConfig()
	trackerCfg.Settle = 200 * time.Millisecond
	trackerCfg.Period = 2 * time.Second
	tracker := NewTracker(trackerCfg, clk)

	loopCfg := teleop.DefaultLoopConfig()
	loopCfg.Period = 10 * time.Millisecond
	loopCfg.Calibration.Window = 100 * time.Millisecond
	session, err := teleop.NewSession(teleop.SessionConfig{Limbs: joints.Limbs, Loop: loopCfg},
		joints.HumanoidTable(), robot, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trackerDone := make(chan error, 1)
	go func() { trackerDone <- tracker.Run(ctx) }()
	sessionDone := make(chan error, 1)
	go func() { sessionDone <- session.Run(ctx, tracker) }()

	testutils.WaitForAssertionWithSleep(t, 20*time.Millisecond, 250, func(tb testing.TB) {
		states := session.States()
		for _, limb := range joints.Limbs {
			test.That(tb, states[limb], test.ShouldEqual, teleop.StateActive)
		}
		pos, err := robot.JointPositions(joints.Head)
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, pos[0], test.ShouldBeGreaterThan, 0.05)
	})

	cancel()
	test.That(t, <-sessionDone, test.ShouldBeNil)
	test.That(t, <-trackerDone, test.ShouldBeNil)
	test.That(t, robot.Commands(), test.ShouldBeGreaterThan, 10)
}
