// Package teleop runs the per-limb control loops that turn tracked operator motion into bounded
// joint commands.
package teleop

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/teleop/calibration"
	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/pose"
)

// Tracker delivers operator samples for a limb. The callback must be cheap; loops only store
// the sample.
type Tracker interface {
	Subscribe(limb joints.Limb, fn func(pose.RawPoseSample)) (unsubscribe func(), err error)
}

// SessionConfig selects the limbs to drive and the settings shared by their loops.
type SessionConfig struct {
	Limbs []joints.Limb
	Loop  LoopConfig
}

// Session runs one loop per limb. Loops share only the immutable joint table and, for the arms,
// the frame calibrated by the head loop.
type Session struct {
	id       string
	logger   logging.Logger
	loops    []*LimbLoop
	errs     chan error
	mu       sync.Mutex
	running  bool
	registry *logging.Registry
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	clock    clock.Clock
	listener Listener
	registry *logging.Registry
}

// WithSessionClock sets the clock for every loop.
func WithSessionClock(clk clock.Clock) SessionOption {
	return func(o *sessionOptions) { o.clock = clk }
}

// WithSessionListener registers a listener on every loop.
func WithSessionListener(l Listener) SessionOption {
	return func(o *sessionOptions) { o.listener = l }
}

// WithLoggerRegistry registers each loop's logger so configured level patterns apply to it.
func WithLoggerRegistry(r *logging.Registry) SessionOption {
	return func(o *sessionOptions) { o.registry = r }
}

// NewSession builds a loop for each configured limb. When the head is driven and no fixed yaw
// offset is configured, the arms wait for the head's calibration instead of calibrating from
// the hand controllers.
func NewSession(cfg SessionConfig, table *joints.Table, actuator Actuator, logger logging.Logger, opts ...SessionOption) (*Session, error) {
	if len(cfg.Limbs) == 0 {
		return nil, errors.New("no limbs configured")
	}
	if dups := lo.FindDuplicates(cfg.Limbs); len(dups) > 0 {
		return nil, errors.Errorf("limbs listed more than once: %v", dups)
	}
	if actuator == nil {
		return nil, errors.New("actuator is required")
	}
	o := sessionOptions{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	logger = loggerOrBlank(logger, "teleop")

	s := &Session{
		id:       uuid.NewString(),
		logger:   logger,
		errs:     make(chan error, 16),
		registry: o.registry,
	}

	var latch *calibration.Latch
	shareHead := lo.Contains(cfg.Limbs, joints.Head) && cfg.Loop.Calibration.YawOffset == nil
	if shareHead {
		latch = calibration.NewLatch()
	}

	// Build the head first so it is the one publishing.
	ordered := lo.Filter(joints.Limbs, func(limb joints.Limb, _ int) bool { return lo.Contains(cfg.Limbs, limb) })
	for _, limb := range cfg.Limbs {
		if !limb.Valid() {
			return nil, errors.Errorf("unknown limb %q", limb)
		}
	}
	for _, limb := range ordered {
		loopCfg := cfg.Loop
		loopCfg.Limb = limb
		loopOpts := []LoopOption{
			WithClock(o.clock),
			WithSessionID(s.id),
			WithErrorReporter(s.report),
		}
		if o.listener != nil {
			loopOpts = append(loopOpts, WithListener(o.listener))
		}
		if shareHead {
			if limb == joints.Head {
				loopOpts = append(loopOpts, WithPublishedFrame(latch))
			} else {
				loopOpts = append(loopOpts, WithFrameSource(latch))
			}
		}
		loopLogger := logger.Sublogger(string(limb))
		if s.registry != nil {
			loopLogger = s.registry.Register(loopLogger)
		}
		loop, err := NewLimbLoop(loopCfg, table, actuator, loopLogger, loopOpts...)
		if err != nil {
			return nil, errors.Wrapf(err, "building %s loop", limb)
		}
		s.loops = append(s.loops, loop)
	}
	return s, nil
}

// ID identifies the session on every command it issues.
func (s *Session) ID() string {
	return s.id
}

// Loops returns the loops in limb order.
func (s *Session) Loops() []*LimbLoop {
	return s.loops
}

// States returns each loop's current phase.
func (s *Session) States() map[joints.Limb]State {
	out := make(map[joints.Limb]State, len(s.loops))
	for _, l := range s.loops {
		out[l.Limb()] = l.State()
	}
	return out
}

// Errors carries errors reported upward by the loops: actuation failures and tracker
// staleness. Errors are dropped if nobody reads them.
func (s *Session) Errors() <-chan error {
	return s.errs
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Run subscribes each loop to the tracker and runs the loops until ctx is canceled. Each loop
// emits a final hold command before Run returns. A session can only be run once.
func (s *Session) Run(ctx context.Context, tracker Tracker) (err error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("session already running")
	}
	s.running = true
	s.mu.Unlock()

	var unsubscribers []func()
	defer func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}()
	for _, l := range s.loops {
		unsubscribe, subErr := tracker.Subscribe(l.Limb(), l.Offer)
		if subErr != nil {
			err = multierr.Append(err, errors.Wrapf(subErr, "subscribing %s", l.Limb()))
			continue
		}
		unsubscribers = append(unsubscribers, unsubscribe)
	}
	if err != nil {
		return err
	}

	s.logger.Infow("session started", "id", s.id, "limbs", lo.Map(s.loops, func(l *LimbLoop, _ int) joints.Limb { return l.Limb() }))
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		l := l
		g.Go(func() error { return l.Run(gctx) })
	}
	err = g.Wait()
	s.logger.Infow("session stopped", "id", s.id)
	return err
}
