package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/spatialmath"
	"go.viam.com/teleop/teleop"
	"go.viam.com/teleop/torso"
)

// TrackerConfig shapes the synthetic operator motion.
type TrackerConfig struct {
	// Rate is how often samples are published.
	Rate time.Duration
	// Settle is how long the operator holds still before moving, so calibration sees a steady
	// pose.
	Settle time.Duration
	// Period of the slow sway of the head and hands.
	Period time.Duration
	// Amplitude of the head sway in radians.
	HeadAmplitude float64
	// Amplitude of the hand sway in meters.
	HandAmplitude float64
}

// DefaultTrackerConfig returns a gentle 100 Hz sway.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Rate:          10 * time.Millisecond,
		Settle:        2 * time.Second,
		Period:        8 * time.Second,
		HeadAmplitude: 0.4,
		HandAmplitude: 0.08,
	}
}

// Tracker publishes a synthetic operator: the head sways left and right while both hands trace
// slow circles in front of the shoulders. Samples can also be injected directly with Publish.
type Tracker struct {
	cfg   TrackerConfig
	clock clock.Clock

	mu          sync.Mutex
	subscribers map[joints.Limb]map[string]func(pose.RawPoseSample)
	skeleton    map[string]func(torso.Sample)
}

var _ teleop.Tracker = (*Tracker)(nil)

// NewTracker returns a tracker with no subscribers.
func NewTracker(cfg TrackerConfig, clk clock.Clock) *Tracker {
	return &Tracker{
		cfg:         cfg,
		clock:       clk,
		subscribers: map[joints.Limb]map[string]func(pose.RawPoseSample){},
		skeleton:    map[string]func(torso.Sample){},
	}
}

// Subscribe registers fn for samples of limb.
func (t *Tracker) Subscribe(limb joints.Limb, fn func(pose.RawPoseSample)) (func(), error) {
	if !limb.Valid() {
		return nil, errors.Errorf("unknown limb %q", limb)
	}
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribers[limb] == nil {
		t.subscribers[limb] = map[string]func(pose.RawPoseSample){}
	}
	t.subscribers[limb][id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers[limb], id)
	}, nil
}

// SubscribeSkeleton registers fn for torso samples.
func (t *Tracker) SubscribeSkeleton(fn func(torso.Sample)) (func(), error) {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skeleton[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.skeleton, id)
	}, nil
}

// Publish delivers s to every subscriber of limb.
func (t *Tracker) Publish(limb joints.Limb, s pose.RawPoseSample) {
	t.mu.Lock()
	fns := make([]func(pose.RawPoseSample), 0, len(t.subscribers[limb]))
	for _, fn := range t.subscribers[limb] {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// PublishSkeleton delivers s to every skeleton subscriber.
func (t *Tracker) PublishSkeleton(s torso.Sample) {
	t.mu.Lock()
	fns := make([]func(torso.Sample), 0, len(t.skeleton))
	for _, fn := range t.skeleton {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Run publishes synthetic samples every Rate until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) error {
	if t.cfg.Rate <= 0 || t.cfg.Period <= 0 {
		return errors.New("tracker rate and period must be positive")
	}
	start := t.clock.Now()
	ticker := t.clock.Ticker(t.cfg.Rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		now := t.clock.Now()
		t.emit(now, now.Sub(start))
	}
}

// phase returns the sine and cosine of the sway angle at elapsed. The angle is zero while
// settling.
func (t *Tracker) phase(elapsed time.Duration) (float64, float64) {
	moving := elapsed - t.cfg.Settle
	if moving <= 0 {
		return 0, 1
	}
	return math.Sincos(2 * math.Pi * moving.Seconds() / t.cfg.Period.Seconds())
}

func (t *Tracker) emit(now time.Time, elapsed time.Duration) {
	sin, cos := t.phase(elapsed)

	t.Publish(joints.Head, pose.NewOrientationSample(now, t.cfg.HeadAmplitude*sin, 0.1*t.cfg.HeadAmplitude*(1-cos), true))

	a := t.cfg.HandAmplitude
	for _, hand := range []struct {
		limb joints.Limb
		side float64
	}{{joints.LeftArm, 1}, {joints.RightArm, -1}} {
		// Hands are relative to the shoulder: forward and slightly below.
		pt := r3.Vector{X: 0.2 + a*cos, Y: hand.side * (0.05 + a*sin), Z: -0.1 + a*sin}
		t.Publish(hand.limb, pose.NewPoseSample(now, spatialmath.NewPose(pt, spatialmath.IdentityQuat), true))
	}

	left := r3.Vector{Y: 0.2}
	right := r3.Vector{Y: -0.2}
	t.PublishSkeleton(torso.Sample{
		Torso:         pose.NewOrientationSample(now, 0, 0, true),
		LeftShoulder:  &left,
		RightShoulder: &right,
	})
}
