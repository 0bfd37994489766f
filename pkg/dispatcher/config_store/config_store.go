package config_store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type ConfigOp int32

const (
	ConfigCreate ConfigOp = iota
	ConfigUpdate
	ConfigDelete
)

const DefaultSettleDelay = 100 * time.Millisecond

// ConfigStore reads a single configuration document from disk and reports
// changes to it. The containing directory is watched so that editors which
// replace the file by rename are noticed as well.
type ConfigStore struct {
	path         string
	logger       *zap.Logger
	settle       time.Duration
	watcher      *fsnotify.Watcher
	eventHandler func(ConfigOp, string, []byte)
}

func NewConfigStore(opts ...func(*ConfigStore)) *ConfigStore {

	cs := &ConfigStore{
		logger:       zap.NewNop(),
		settle:       DefaultSettleDelay,
		eventHandler: func(ConfigOp, string, []byte) {},
	}

	for _, opt := range opts {
		opt(cs)
	}

	return cs
}

func WithPath(path string) func(*ConfigStore) {
	return func(cs *ConfigStore) {
		cs.path = path
	}
}

func WithLogger(l *zap.Logger) func(*ConfigStore) {
	return func(cs *ConfigStore) {
		cs.logger = l
	}
}

func WithSettleDelay(d time.Duration) func(*ConfigStore) {
	return func(cs *ConfigStore) {
		cs.settle = d
	}
}

func WithEventHandler(fn func(ConfigOp, string, []byte)) func(*ConfigStore) {
	return func(cs *ConfigStore) {
		cs.eventHandler = fn
	}
}

func (cs *ConfigStore) Name() string {
	return cs.path
}

func (cs *ConfigStore) Load() ([]byte, error) {

	if len(cs.path) == 0 {
		return nil, fmt.Errorf("config store has no path")
	}

	return os.ReadFile(cs.path)
}

// Watch reports changes of the document until ctx is done.
func (cs *ConfigStore) Watch(ctx context.Context) error {

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(cs.path)
	err = watcher.Add(dir)
	if err != nil {
		watcher.Close()
		return err
	}

	cs.watcher = watcher

	cs.logger.Info("Watching config document",
		zap.String("path", cs.path),
	)

	go cs.run(ctx)

	return nil
}

func (cs *ConfigStore) run(ctx context.Context) {

	defer cs.watcher.Close()

	target := filepath.Clean(cs.path)

	// Editors usually emit several events per save, they are merged into one
	var timer *time.Timer
	var timerC <-chan time.Time
	pending := ConfigUpdate

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case err, ok := <-cs.watcher.Errors:
			if !ok {
				return
			}

			cs.logger.Warn("Config watcher error",
				zap.String("path", cs.path),
				zap.Error(err),
			)
		case ev, ok := <-cs.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				pending = ConfigDelete
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending = ConfigUpdate
			default:
				continue
			}

			if timer == nil {
				timer = time.NewTimer(cs.settle)
			} else {
				timer.Reset(cs.settle)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			cs.emit(pending)
		}
	}
}

func (cs *ConfigStore) emit(op ConfigOp) {

	data, err := cs.Load()
	if err != nil {
		// A rename is usually followed by a create of the new file
		if os.IsNotExist(err) {
			cs.eventHandler(ConfigDelete, cs.path, nil)
			return
		}

		cs.logger.Warn("Failed to read config document",
			zap.String("path", cs.path),
			zap.Error(err),
		)
		return
	}

	if op == ConfigDelete {
		op = ConfigUpdate
	}

	cs.eventHandler(op, cs.path, data)
}
