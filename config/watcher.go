package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/utils"
)

// A Watcher is responsible for delivering new configs as the file changes.
type Watcher interface {
	Config() <-chan *Config
	Close() error
}

type fsConfigWatcher struct {
	fsWatcher *fsnotify.Watcher
	configCh  chan *Config
	workers   *utils.StoppableWorkers
}

// NewWatcher watches the config file at path. Every write that yields a valid config is
// delivered; invalid edits are logged and skipped.
func NewWatcher(ctx context.Context, path string, logger logging.Logger) (Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so editors that replace the file are seen.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		return nil, closeWatcher(err, fsWatcher)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, closeWatcher(err, fsWatcher)
	}

	w := &fsConfigWatcher{fsWatcher: fsWatcher, configCh: make(chan *Config)}
	w.workers = utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				logger.Warnw("config watcher error", "error", err)
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if eventPath, err := filepath.Abs(event.Name); err != nil || eventPath != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Read(path, logger)
				if err != nil {
					logger.Warnw("ignoring invalid config update", "path", path, "error", err)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case w.configCh <- cfg:
				}
			}
		}
	})
	return w, nil
}

func closeWatcher(err error, fsWatcher *fsnotify.Watcher) error {
	if closeErr := fsWatcher.Close(); closeErr != nil {
		return errors.Wrapf(err, "also failed to close watcher: %v", closeErr)
	}
	return err
}

func (w *fsConfigWatcher) Config() <-chan *Config {
	return w.configCh
}

func (w *fsConfigWatcher) Close() error {
	w.workers.Stop()
	return w.fsWatcher.Close()
}
