package teleop

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"go.viam.com/teleop/calibration"
	"go.viam.com/teleop/control"
	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/kinematics"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/utils"
)

// LimbLoop is the control loop for one limb group. Its joint state, filter and calibrator are
// owned by the goroutine running it; only Offer, State and Errors are safe to call from
// elsewhere.
type LimbLoop struct {
	cfg     LoopConfig
	opts    loopOptions
	logger  logging.Logger
	group   joints.Group
	filter  *pose.Filter
	cal     *calibration.Calibrator
	limiter *control.VelocityLimiter
	mapper  mapper
	inbox   *utils.Mailbox[pose.RawPoseSample]
	emitter *emitter

	state       atomic.Int32
	joint       JointState
	seq         uint64
	activeSince time.Time
	shutdown    atomic.Bool

	rejectLog   rate.Sometimes
	solverLog   rate.Sometimes
	calibrating rate.Sometimes
}

// NewLimbLoop builds the loop for cfg.Limb. Unless WithFrameSource is given, the loop runs its
// own calibrator.
func NewLimbLoop(
	cfg LoopConfig,
	table *joints.Table,
	actuator Actuator,
	logger logging.Logger,
	opts ...LoopOption,
) (*LimbLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	group, err := table.Group(cfg.Limb)
	if err != nil {
		return nil, err
	}
	limiter, err := control.NewVelocityLimiter(group.MaxVelocities(cfg.SpeedFraction))
	if err != nil {
		return nil, err
	}
	logger = loggerOrBlank(logger, string(cfg.Limb))

	var m mapper
	switch {
	case cfg.Limb == joints.Head:
		if group.Len() != 2 {
			return nil, errors.Errorf("head needs 2 joints, table has %d", group.Len())
		}
		m = headMapper{}
	case cfg.Limb.IsArm():
		if m, err = newArmMapper(cfg, group); err != nil {
			return nil, err
		}
	}

	o := newLoopOptions(opts)
	l := &LimbLoop{
		cfg:         cfg,
		opts:        o,
		logger:      logger,
		group:       group,
		filter:      pose.NewFilter(cfg.Filter),
		limiter:     limiter,
		mapper:      m,
		inbox:       utils.NewMailbox[pose.RawPoseSample](),
		rejectLog:   rate.Sometimes{Interval: time.Second},
		solverLog:   rate.Sometimes{Interval: time.Second},
		calibrating: rate.Sometimes{Interval: time.Second},
	}
	if o.frames == nil {
		l.cal = calibration.NewCalibrator(cfg.Calibration, logger.Sublogger("calibration"))
	}
	l.joint = JointState{Angles: group.Home()}
	l.emitter = newEmitter(actuator, cfg.ActuationTimeout, logger.Sublogger("emitter"), o.reportErr)
	l.state.Store(int32(StateCalibrating))
	return l, nil
}

// Limb returns the limb the loop drives.
func (l *LimbLoop) Limb() joints.Limb {
	return l.cfg.Limb
}

// State returns the current phase.
func (l *LimbLoop) State() State {
	return State(l.state.Load())
}

// JointState returns a copy of the last commanded state. Only call it from the loop goroutine
// or after Run returns.
func (l *LimbLoop) JointState() JointState {
	return l.joint.clone()
}

// Offer hands a tracker sample to the loop. It never blocks; an unprocessed older sample is
// replaced.
func (l *LimbLoop) Offer(s pose.RawPoseSample) {
	if l.shutdown.Load() {
		return
	}
	l.inbox.Put(s)
}

func (l *LimbLoop) setState(to State) {
	from := State(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	l.logger.Infow("state changed", "from", from, "to", to)
	if l.opts.listener != nil {
		l.opts.listener.StateChanged(l.cfg.Limb, from, to)
	}
}

// ingest moves the newest sample, if any, through the filter and, while calibrating, the
// calibrator. The sample counts as arrived at now, the loop's own clock.
func (l *LimbLoop) ingest(now time.Time) {
	s, ok := l.inbox.Take()
	if !ok {
		return
	}
	if _, err := l.filter.Push(s, now); err != nil {
		l.rejectLog.Do(func() { l.logger.Debugw("sample dropped", "error", err) })
		if l.cal != nil && !s.Valid {
			// Invalid samples still advance the calibration window.
			l.observe(s, now)
		}
		return
	}
	if l.cal != nil {
		l.observe(s, now)
	}
}

func (l *LimbLoop) observe(s pose.RawPoseSample, now time.Time) {
	if err := l.cal.Observe(s, now); err != nil {
		l.logger.Warnw("calibration failed", "error", err)
	}
}

// frame returns the frame to drive with and whether it is locked.
func (l *LimbLoop) frame(now time.Time) (calibration.Frame, bool, bool) {
	if l.cal == nil {
		frame, err := l.opts.frames.Frame()
		return frame, err == nil, err == nil
	}
	if err := l.cal.Poll(now); err != nil {
		l.logger.Warnw("calibration failed", "error", err)
	}
	if frame, err := l.cal.Frame(); err == nil {
		if l.opts.publish != nil && l.opts.publish.Publish(frame) {
			l.logger.Debug("published calibration frame")
		}
		return frame, true, true
	}
	if frame, ok := l.cal.Provisional(); ok {
		return frame, false, true
	}
	return calibration.Frame{}, false, false
}

// Step runs one control cycle at now and returns the command it issued, if any. Run calls it on
// every tick; tests call it directly.
func (l *LimbLoop) Step(now time.Time) (JointCommand, bool) {
	if l.State() == StateShutdown {
		return JointCommand{}, false
	}
	l.ingest(now)

	frame, locked, usable := l.frame(now)
	if l.State() == StateCalibrating {
		if locked {
			l.activeSince = now
			l.setState(StateActive)
		} else if !usable {
			l.calibrating.Do(func() { l.logger.Debug("waiting for calibration") })
			return JointCommand{}, false
		}
	}

	if l.filter.Stale(now) {
		_, seen := l.filter.Latest()
		waited := now.Sub(l.activeSince) > l.cfg.Filter.StaleTimeout
		if l.State() == StateActive && (seen || waited) {
			l.logger.Warnw("holding last command", "error", ErrTrackerStale, "last_sample", l.filter.LastArrival())
			l.opts.reportErr(errors.Wrapf(ErrTrackerStale, "%s", l.cfg.Limb))
			l.setState(StateStale)
		}
		return JointCommand{}, false
	}
	if l.State() == StateStale {
		l.setState(StateActive)
	}

	sample, _ := l.filter.Latest()
	dt := l.cfg.Period
	if !l.joint.LastCommandTime.IsZero() {
		if elapsed := now.Sub(l.joint.LastCommandTime); elapsed < dt {
			dt = elapsed
		}
	}

	hold := false
	proposed, err := l.mapper.propose(sample, frame, l.joint.Angles, dt)
	if err != nil {
		if errors.Is(err, kinematics.ErrSingular) || errors.Is(err, errNoPosition) {
			l.solverLog.Do(func() { l.logger.Warnw("holding previous angles", "error", err) })
		} else {
			l.logger.Errorw("failed to compute joint angles", "error", err)
		}
		proposed = l.joint.Angles
		hold = true
	}

	limited, err := l.limiter.Limit(l.joint.Angles, proposed, dt)
	if err != nil {
		l.logger.Errorw("failed to limit joint angles", "error", err)
		limited = l.joint.Angles
		hold = true
	}
	cmd := l.issue(l.group.Clamp(limited), now, hold)
	l.emitter.enqueue(cmd)
	return cmd, true
}

// issue records angles as the new joint state and builds the command for them.
func (l *LimbLoop) issue(angles []float64, now time.Time, hold bool) JointCommand {
	l.seq++
	l.joint = JointState{Angles: angles, LastCommandTime: now}
	out := make([]float64, len(angles))
	copy(out, angles)
	cmd := JointCommand{
		SessionID: l.opts.sessionID,
		Limb:      l.cfg.Limb,
		Seq:       l.seq,
		Names:     l.group.Names(),
		Angles:    out,
		IssuedAt:  now,
		Hold:      hold,
	}
	if l.opts.listener != nil {
		l.opts.listener.CommandIssued(cmd)
	}
	return cmd
}

// Run drives the loop on a ticker until ctx is canceled. On the way out it emits one final hold
// command synchronously and returns nil.
func (l *LimbLoop) Run(ctx context.Context) error {
	if l.shutdown.Load() {
		return ErrShutdown
	}
	l.emitter.start()
	ticker := l.opts.clock.Ticker(l.cfg.Period)
	defer ticker.Stop()

	l.logger.Infow("limb loop started", "period", l.cfg.Period, "joints", l.group.Names())
	for {
		if ctx.Err() != nil {
			return l.stop()
		}
		select {
		case <-ctx.Done():
			return l.stop()
		case now := <-ticker.C:
			l.Step(now)
		}
	}
}

func (l *LimbLoop) stop() error {
	l.shutdown.Store(true)
	l.emitter.stop()
	prev := l.State()
	l.setState(StateShutdown)
	if prev == StateCalibrating && l.seq == 0 {
		l.logger.Info("stopped before any command was issued")
		return nil
	}

	cmd := l.issue(l.joint.Angles, l.opts.clock.Now(), true)
	if err := l.emitter.send(context.Background(), cmd); err != nil {
		l.opts.reportErr(err)
		l.logger.Warnw("final hold command failed", "error", err)
	}
	l.logger.Info("limb loop stopped")
	return nil
}
