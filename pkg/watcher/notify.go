package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type NotifyWatcher struct {
	coalesce   time.Duration
	bufferSize int
	logger     *zap.Logger
}

func NewNotifyWatcher(opts ...func(*NotifyWatcher)) *NotifyWatcher {

	w := &NotifyWatcher{
		coalesce:   DefaultCoalesce,
		bufferSize: DefaultBufferSize,
		logger:     zap.NewNop(),
	}

	for _, o := range opts {
		o(w)
	}

	return w
}

func WithCoalesce(d time.Duration) func(*NotifyWatcher) {
	return func(w *NotifyWatcher) {
		if d > 0 {
			w.coalesce = d
		}
	}
}

func WithNotifyLogger(l *zap.Logger) func(*NotifyWatcher) {
	return func(w *NotifyWatcher) {
		w.logger = l
	}
}

func (w *NotifyWatcher) Subscribe(ctx context.Context, dir string, filter Filter) (<-chan Event, error) {

	err := checkDir(dir)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &WatchSetupError{Dir: dir, Err: err}
	}

	err = fw.Add(dir)
	if err != nil {
		fw.Close()
		return nil, &WatchSetupError{Dir: dir, Err: err}
	}

	w.logger.Info("Watching directory",
		zap.String("dir", dir),
		zap.Strings("extensions", filter.Extensions),
		zap.Duration("coalesce", w.coalesce),
	)

	out := make(chan Event, w.bufferSize)

	go w.run(ctx, fw, filter, out)

	return out, nil
}

func (w *NotifyWatcher) run(ctx context.Context, fw *fsnotify.Watcher, filter Filter, out chan<- Event) {

	defer close(out)
	defer fw.Close()

	pending := make(map[string]EventKind)
	order := make([]string, 0)

	ticker := time.NewTicker(w.coalesce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("Directory watcher error",
				zap.Error(err),
			)
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}

			if !filter.Match(ev.Name) {
				continue
			}

			var kind EventKind
			switch {
			case ev.Op&fsnotify.Create != 0:
				kind = EventCreated
			case ev.Op&fsnotify.Write != 0:
				kind = EventModified
			default:
				// Removal and rename are noticed by the reader itself
				continue
			}

			path := filepath.Clean(ev.Name)
			prev, ok := pending[path]
			if !ok {
				order = append(order, path)
				pending[path] = kind
				continue
			}

			// Never downgrade a creation
			if prev == EventCreated {
				continue
			}

			pending[path] = kind
		case <-ticker.C:
			for _, path := range order {
				select {
				case out <- Event{Path: path, Kind: pending[path]}:
				case <-ctx.Done():
					return
				}
			}

			pending = make(map[string]EventKind)
			order = order[:0]
		}
	}
}
