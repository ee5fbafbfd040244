package torso

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"go.viam.com/teleop/calibration"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/utils"
)

// ErrBaseUnreachable wraps failed or timed out velocity commands.
var ErrBaseUnreachable = errors.New("base unreachable")

// Base accepts velocity commands.
type Base interface {
	SetVelocity(ctx context.Context, linear, angular r3.Vector) error
}

// Option configures a Node.
type Option func(*Node)

// WithClock sets the clock driving the node.
func WithClock(clk clock.Clock) Option {
	return func(n *Node) { n.clock = clk }
}

// WithErrorReporter receives failed base commands.
func WithErrorReporter(f func(error)) Option {
	return func(n *Node) { n.reportErr = f }
}

// Node calibrates the torso reference and then sends one twist per period. It stops the base
// when tracking goes stale and on shutdown.
type Node struct {
	cfg       Config
	base      Base
	logger    logging.Logger
	clock     clock.Clock
	reportErr func(error)
	joystick  *Joystick
	inbox     *utils.Mailbox[Sample]

	filter *pose.Filter
	cal    *calibration.Calibrator
	latest Sample
	has    bool
	last   Twist

	recalibrate atomic.Bool
	calibrated  atomic.Bool
	running     atomic.Bool
	sendMu      sync.Mutex
	warn        rate.Sometimes
}

// NewNode returns a node in its calibrating state.
func NewNode(cfg Config, base Base, logger logging.Logger, opts ...Option) (*Node, error) {
	joystick, err := NewJoystick(cfg)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, utils.NewConfigValidationFieldRequiredError("torso", "base")
	}
	n := &Node{
		cfg:       cfg,
		base:      base,
		logger:    logger,
		clock:     clock.New(),
		reportErr: func(error) {},
		joystick:  joystick,
		inbox:     utils.NewMailbox[Sample](),
		filter:    pose.NewFilter(cfg.Filter),
		warn:      rate.Sometimes{Interval: time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.cal = n.newCalibrator()
	return n, nil
}

func (n *Node) newCalibrator() *calibration.Calibrator {
	return calibration.NewCalibrator(
		calibration.Config{Window: n.cfg.CalibrationTime, MinSamples: 1},
		n.logger.Sublogger("calibration"),
	)
}

// Offer hands the node the newest skeleton sample. It never blocks.
func (n *Node) Offer(s Sample) {
	n.inbox.Put(s)
}

// Recalibrate discards the reference and starts a new calibration window on the next cycle.
func (n *Node) Recalibrate() {
	n.recalibrate.Store(true)
}

// Calibrated reports whether the joystick reference is locked.
func (n *Node) Calibrated() bool {
	return n.calibrated.Load()
}

// ingest takes the newest sample, which counts as arrived at now on the node's clock.
func (n *Node) ingest(now time.Time) {
	s, ok := n.inbox.Take()
	if !ok {
		return
	}
	if err := n.cal.Observe(s.Torso, now); err != nil {
		n.logger.Debugw("calibration retry", "error", err)
	}
	if _, err := n.filter.Push(s.Torso, now); err != nil {
		n.logger.Debugw("dropped torso sample", "error", err)
		return
	}
	n.latest = s
	n.has = true
}

// Step runs one cycle at now and returns the twist to send. It returns false while
// calibrating. Step must not be called concurrently with Run.
func (n *Node) Step(now time.Time) (Twist, bool) {
	if n.recalibrate.CompareAndSwap(true, false) {
		n.logger.Info("recalibrating torso reference")
		n.cal = n.newCalibrator()
	}
	n.ingest(now)
	if err := n.cal.Poll(now); err != nil {
		n.logger.Debugw("calibration retry", "error", err)
	}
	frame, err := n.cal.Frame()
	n.calibrated.Store(err == nil)
	if err != nil {
		return Twist{}, false
	}

	twist := Twist{}
	if n.has && !n.filter.Stale(now) {
		twist = n.joystick.Twist(frame, n.latest)
	} else if !n.last.IsZero() {
		n.logger.Warn("torso tracking lost, stopping base")
	}
	n.last = twist
	return twist, true
}

// Run sends a twist every period until ctx is canceled, then sends a zero twist.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return errors.New("torso node already running")
	}
	ticker := n.clock.Ticker(n.cfg.Period)
	defer ticker.Stop()

	n.logger.Infow("torso node started", "period", n.cfg.Period, "calibration_time", n.cfg.CalibrationTime)
	for {
		if ctx.Err() != nil {
			return n.stop()
		}
		select {
		case <-ctx.Done():
			return n.stop()
		case now := <-ticker.C:
			if twist, ok := n.Step(now); ok {
				if err := n.send(ctx, twist); err != nil && ctx.Err() == nil {
					n.reportErr(err)
					n.warn.Do(func() { n.logger.Warnw("failed to send velocity", "error", err) })
				}
			}
		}
	}
}

func (n *Node) send(ctx context.Context, twist Twist) error {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.ActuationTimeout)
	defer cancel()
	if err := n.base.SetVelocity(sendCtx, twist.Linear, twist.Angular); err != nil {
		return errors.Wrapf(ErrBaseUnreachable, "%v", err)
	}
	return nil
}

func (n *Node) stop() error {
	n.logger.Info("shutting down torso node, sending zero velocity")
	n.last = Twist{}
	if err := n.send(context.Background(), Twist{}); err != nil {
		n.reportErr(err)
		return err
	}
	return nil
}
