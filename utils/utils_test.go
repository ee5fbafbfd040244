package utils

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestMailboxLatestWins(t *testing.T) {
	mb := NewMailbox[int]()
	_, ok := mb.Take()
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, mb.Put(1), test.ShouldBeFalse)
	test.That(t, mb.Put(2), test.ShouldBeTrue)
	test.That(t, mb.Put(3), test.ShouldBeTrue)

	<-mb.Ready()
	v, ok := mb.Take()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 3)
	_, ok = mb.Take()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestClampAndWrap(t *testing.T) {
	test.That(t, Clamp(2.0, 0.0087, 1.562), test.ShouldEqual, 1.562)
	test.That(t, Clamp(-1, 0.0087, 1.562), test.ShouldEqual, 0.0087)
	test.That(t, Clamp(0.5, 0, 1), test.ShouldEqual, 0.5)
	test.That(t, ClampMagnitude(-3, 0.02), test.ShouldEqual, -0.02)

	test.That(t, WrapAngle(math.Pi), test.ShouldAlmostEqual, math.Pi)
	test.That(t, WrapAngle(-math.Pi), test.ShouldAlmostEqual, math.Pi)
	test.That(t, WrapAngle(3*math.Pi/2), test.ShouldAlmostEqual, -math.Pi/2)
	test.That(t, WrapAngle(0.3), test.ShouldAlmostEqual, 0.3)

	test.That(t, IsFinite(1, 2, 3), test.ShouldBeTrue)
	test.That(t, IsFinite(1, math.NaN()), test.ShouldBeFalse)
	test.That(t, IsFinite(math.Inf(-1)), test.ShouldBeFalse)
}

func TestConfigValidationError(t *testing.T) {
	err := NewConfigValidationFieldRequiredError("limbs.head", "frequency_hz")
	test.That(t, errors.Is(err, ErrConfigInvalid), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"frequency_hz" is required`)

	inner := errors.New("min must be less than max")
	err = NewConfigValidationError("joint_limits.head_yaw", inner)
	test.That(t, errors.Is(err, inner), test.ShouldBeTrue)
}

func TestStoppableWorkers(t *testing.T) {
	var count atomic.Int32
	sw := NewStoppableWorkers(func(ctx context.Context) {
		<-ctx.Done()
		count.Add(1)
	})
	sw.AddWorkers(func(ctx context.Context) {
		<-ctx.Done()
		count.Add(1)
	})
	sw.Stop()
	test.That(t, count.Load(), test.ShouldEqual, int32(2))

	sw.AddWorkers(func(ctx context.Context) { count.Add(1) })
	sw.Stop()
	test.That(t, count.Load(), test.ShouldEqual, int32(2))
	test.That(t, sw.Context().Err(), test.ShouldNotBeNil)
}

func TestStoppableWorkersRecoverPanics(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	sw := NewStoppableWorkersWithContext(parent,
		func(context.Context) { panic("worker failed") },
		func(ctx context.Context) {
			<-ctx.Done()
			ran.Store(true)
		},
	)
	cancel()
	sw.Stop()
	test.That(t, ran.Load(), test.ShouldBeTrue)
}
