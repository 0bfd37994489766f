package watcher

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
)

type PollWatcher struct {
	interval   time.Duration
	bufferSize int
	logger     *zap.Logger
}

func NewPollWatcher(opts ...func(*PollWatcher)) *PollWatcher {

	w := &PollWatcher{
		interval:   DefaultPollInterval,
		bufferSize: DefaultBufferSize,
		logger:     zap.NewNop(),
	}

	for _, o := range opts {
		o(w)
	}

	return w
}

func WithPollInterval(d time.Duration) func(*PollWatcher) {
	return func(w *PollWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithPollLogger(l *zap.Logger) func(*PollWatcher) {
	return func(w *PollWatcher) {
		w.logger = l
	}
}

type fileState struct {
	info os.FileInfo
}

func (w *PollWatcher) Subscribe(ctx context.Context, dir string, filter Filter) (<-chan Event, error) {

	err := checkDir(dir)
	if err != nil {
		return nil, err
	}

	// Baseline, files already present are not reported until they change
	states, err := w.scan(dir, filter)
	if err != nil {
		return nil, &WatchSetupError{Dir: dir, Err: err}
	}

	w.logger.Info("Polling directory",
		zap.String("dir", dir),
		zap.Strings("extensions", filter.Extensions),
		zap.Duration("interval", w.interval),
	)

	out := make(chan Event, w.bufferSize)

	go w.run(ctx, dir, filter, states, out)

	return out, nil
}

func (w *PollWatcher) scan(dir string, filter Filter) (map[string]fileState, error) {

	files, err := Scan(dir, filter)
	if err != nil {
		return nil, err
	}

	states := make(map[string]fileState, len(files))
	for _, path := range files {

		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		states[path] = fileState{info: info}
	}

	return states, nil
}

func (w *PollWatcher) run(ctx context.Context, dir string, filter Filter, states map[string]fileState, out chan<- Event) {

	defer close(out)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := w.scan(dir, filter)
		if err != nil {
			w.logger.Warn("Failed to scan directory",
				zap.String("dir", dir),
				zap.Error(err),
			)
			continue
		}

		for path, state := range current {

			var ev *Event

			prev, ok := states[path]
			switch {
			case !ok, !os.SameFile(prev.info, state.info):
				ev = &Event{Path: path, Kind: EventCreated}
			case prev.info.Size() != state.info.Size(), !prev.info.ModTime().Equal(state.info.ModTime()):
				ev = &Event{Path: path, Kind: EventModified}
			}

			if ev == nil {
				continue
			}

			select {
			case out <- *ev:
			case <-ctx.Done():
				return
			}
		}

		states = current
	}
}
