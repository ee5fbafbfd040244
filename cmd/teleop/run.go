package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/teleop/capture"
	"go.viam.com/teleop/components/fake"
	"go.viam.com/teleop/config"
	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/teleop"
	"go.viam.com/teleop/torso"
	"go.viam.com/teleop/transport/mqttbridge"
	"go.viam.com/teleop/web"
)

const (
	logFileMaxSizeMB = 32
	simulationStep   = 10 * time.Millisecond
)

// endpoints are where tracking comes from and where commands go.
type endpoints struct {
	tracker   teleop.Tracker
	actuator  teleop.Actuator
	base      torso.Base
	skeleton  func(func(torso.Sample)) (func(), error)
	calibrate func(func()) (func(), error)
	// run is started alongside the session when set.
	run func(context.Context) error
}

// runner owns everything a session needs and closes it in reverse order.
type runner struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *logging.Registry
	clock    clock.Clock
	closers  []func() error
}

func (r *runner) onClose(f func() error) {
	r.closers = append(r.closers, f)
}

func (r *runner) close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	return err
}

func runAction(c *cli.Context) (err error) {
	logger := newLogger(c)
	path := c.String(flagConfig)
	cfg, err := loadConfig(path, logger)
	if err != nil {
		return err
	}
	if cfg.LogFile != "" {
		appender := logging.NewFileAppender(cfg.LogFile, logFileMaxSizeMB)
		logger.AddAppender(appender)
		defer func() {
			err = multierr.Append(err, appender.Close())
		}()
	}
	defer goutils.UncheckedErrorFunc(logger.Sync)
	registry := logging.NewRegistry(logger.GetLevel())
	registry.Register(logger)
	if err := registry.UpdateConfig(cfg.LogLevels); err != nil {
		return err
	}

	ctx := c.Context
	if d := c.Duration(flagDuration); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	r := &runner{cfg: cfg, logger: logger, registry: registry, clock: clock.New()}
	defer func() {
		err = multierr.Append(err, r.close())
	}()
	return r.run(ctx, path, c.Bool(flagFake))
}

func (r *runner) run(ctx context.Context, path string, forceFake bool) error {
	table, err := r.cfg.JointTable()
	if err != nil {
		return err
	}
	r.logger.Debugf("joint limits:\n%s", table.String())

	var ep endpoints
	if r.cfg.MQTT != nil && !forceFake {
		ep, err = r.connect(ctx)
	} else {
		ep, err = r.simulate(table)
	}
	if err != nil {
		return err
	}

	if r.cfg.CapturePath != "" {
		store, err := capture.Open(r.cfg.CapturePath)
		if err != nil {
			return err
		}
		r.onClose(store.Close)
		ep.actuator = capture.NewActuator(store, ep.actuator, r.logger.Sublogger("capture"))
		ep.base = capture.NewBase(store, ep.base, r.clock, r.logger.Sublogger("capture"))
		r.logger.Infow("capturing commands", "path", r.cfg.CapturePath)
	}

	sessionOpts := []teleop.SessionOption{teleop.WithLoggerRegistry(r.registry), teleop.WithSessionClock(r.clock)}
	if r.cfg.MonitorAddr != "" {
		monitor := web.NewMonitor(r.logger.Sublogger("monitor"))
		if _, err := monitor.Start(r.cfg.MonitorAddr); err != nil {
			return err
		}
		r.onClose(monitor.Close)
		sessionOpts = append(sessionOpts, teleop.WithSessionListener(monitor))
		ep.base = monitor.WatchBase(ep.base)
	}

	session, err := teleop.NewSession(r.cfg.SessionConfig(), table, ep.actuator, r.logger, sessionOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if ep.run != nil {
		g.Go(func() error { return ep.run(gctx) })
	}
	g.Go(func() error { return session.Run(gctx, ep.tracker) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-session.Errors():
				r.logger.Warnw("session error", "error", err)
			}
		}
	})
	if r.cfg.Torso != nil {
		if err := r.startTorso(gctx, g, ep); err != nil {
			cancel()
			return multierr.Combine(err, g.Wait())
		}
	}
	if path != "" {
		if err := r.watchConfig(gctx, g, path); err != nil {
			r.logger.Warnw("not watching config for changes", "error", err)
		}
	}
	return g.Wait()
}

// connect uses the broker for both tracking and commands.
func (r *runner) connect(ctx context.Context) (endpoints, error) {
	bridge, err := mqttbridge.Connect(ctx, r.cfg.MQTTSettings(), r.logger.Sublogger("mqtt"))
	if err != nil {
		return endpoints{}, err
	}
	r.onClose(bridge.Close)
	return endpoints{
		tracker:   bridge,
		actuator:  bridge,
		base:      bridge,
		skeleton:  bridge.SubscribeSkeleton,
		calibrate: bridge.SubscribeCalibrate,
	}, nil
}

// simulate drives the simulated robot from a synthetic operator.
func (r *runner) simulate(table *joints.Table) (endpoints, error) {
	robot, err := fake.NewRobot(table, r.clock, r.logger.Sublogger("robot"))
	if err != nil {
		return endpoints{}, err
	}
	robot.SimulateTime(simulationStep)
	r.onClose(robot.Close)
	tracker := fake.NewTracker(fake.DefaultTrackerConfig(), r.clock)
	r.logger.Info("running against the simulated robot")
	return endpoints{
		tracker:  tracker,
		actuator: robot,
		base:     robot,
		skeleton: tracker.SubscribeSkeleton,
		run:      tracker.Run,
	}, nil
}

func (r *runner) startTorso(ctx context.Context, g *errgroup.Group, ep endpoints) error {
	node, err := torso.NewNode(r.cfg.TorsoSettings(), ep.base, r.registry.Register(r.logger.Sublogger("torso")),
		torso.WithClock(r.clock))
	if err != nil {
		return err
	}
	if ep.skeleton == nil {
		return errors.New("torso needs a skeleton source")
	}
	unsubscribe, err := ep.skeleton(node.Offer)
	if err != nil {
		return err
	}
	r.onClose(func() error {
		unsubscribe()
		return nil
	})
	if ep.calibrate != nil {
		unsubscribe, err := ep.calibrate(node.Recalibrate)
		if err != nil {
			return err
		}
		r.onClose(func() error {
			unsubscribe()
			return nil
		})
	}
	g.Go(func() error { return node.Run(ctx) })
	return nil
}

// watchConfig applies log level changes from config edits. Other changes need a restart.
func (r *runner) watchConfig(ctx context.Context, g *errgroup.Group, path string) error {
	watcher, err := config.NewWatcher(ctx, path, r.logger)
	if err != nil {
		return err
	}
	r.onClose(watcher.Close)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-watcher.Config():
				if err := r.registry.UpdateConfig(cfg.LogLevels); err != nil {
					r.logger.Warnw("failed to apply log levels", "error", err)
					continue
				}
				r.logger.Infow("applied log level changes; restart to apply anything else", "path", path)
			}
		}
	})
	return nil
}
