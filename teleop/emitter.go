package teleop

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/utils"
)

// Actuator accepts joint commands. Implementations should honor ctx cancellation.
type Actuator interface {
	SendCommand(ctx context.Context, cmd JointCommand) error
}

// emitter sends commands off the control path. Only the newest pending command is kept, so a
// slow actuator skips intermediate commands instead of stalling tracking.
type emitter struct {
	actuator  Actuator
	timeout   time.Duration
	logger    logging.Logger
	reportErr func(error)
	pending   *utils.Mailbox[JointCommand]
	workers   *utils.StoppableWorkers
	warn      rate.Sometimes
}

func newEmitter(actuator Actuator, timeout time.Duration, logger logging.Logger, reportErr func(error)) *emitter {
	return &emitter{
		actuator:  actuator,
		timeout:   timeout,
		logger:    logger,
		reportErr: reportErr,
		pending:   utils.NewMailbox[JointCommand](),
		warn:      rate.Sometimes{Interval: time.Second},
	}
}

// start launches the send goroutine.
func (e *emitter) start() {
	e.workers = utils.NewStoppableWorkers(e.run)
}

// enqueue replaces any command not yet sent.
func (e *emitter) enqueue(cmd JointCommand) {
	if e.pending.Put(cmd) {
		e.logger.Debugw("actuator behind, dropped pending command", "limb", cmd.Limb)
	}
}

func (e *emitter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.pending.Ready():
		}
		cmd, ok := e.pending.Take()
		if !ok {
			continue
		}
		if err := e.send(ctx, cmd); err != nil && ctx.Err() == nil {
			e.report(err)
		}
	}
}

// send delivers cmd within the actuation timeout.
func (e *emitter) send(ctx context.Context, cmd JointCommand) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.actuator.SendCommand(sendCtx, cmd); err != nil {
		return errors.Wrapf(ErrActuationUnreachable, "%s command %d: %v", cmd.Limb, cmd.Seq, err)
	}
	return nil
}

func (e *emitter) report(err error) {
	e.reportErr(err)
	e.warn.Do(func() { e.logger.Warnw("failed to send command", "error", err) })
}

// stop waits for the send goroutine. Pending commands are discarded.
func (e *emitter) stop() {
	if e.workers != nil {
		e.workers.Stop()
	}
}
