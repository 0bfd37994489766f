package watchdog

import (
	"context"
	"errors"
	"time"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/tail"
	"go.uber.org/zap"
)

// fileTask owns the reader of one tailed file. Nothing else touches its
// offset.
type fileTask struct {
	path         string
	reader       *tail.Reader
	pokes        chan struct{}
	lastActivity time.Time

	// published copy of the reader position, guarded by Watchdog.mu
	position tail.Position

	// last item seen in this file, applied to matches without their own
	itemID string
	name   string

	truncations int
	rotations   int
}

func newFileTask(path string, pos tail.Position, now time.Time) *fileTask {
	return &fileTask{
		path:         path,
		reader:       tail.Open(path, pos),
		pokes:        make(chan struct{}, 1),
		lastActivity: now,
		position:     pos,
	}
}

func (t *fileTask) poke() {
	select {
	case t.pokes <- struct{}{}:
	default:
	}
}

func (w *Watchdog) runFile(ctx context.Context, task *fileTask) {

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {

		if !w.readFile(ctx, task) {
			return
		}

		// More bytes than one batch were available
		if task.reader.Pending() {
			select {
			case <-ctx.Done():
				w.dropFile(task, true)
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			w.dropFile(task, true)
			return
		case <-task.pokes:
		case <-ticker.C:
			if w.now().Sub(task.lastActivity) < w.inactivity {
				continue
			}

			if w.expireFile(task) {
				return
			}
		}
	}
}

// readFile delivers new lines of the file in order. It returns false once the
// file has been dropped.
func (w *Watchdog) readFile(ctx context.Context, task *fileTask) bool {

	before := task.reader.Position().Offset

	lines, err := task.reader.ReadNew()
	w.publish(task)

	// Lines left in a file that went away are delivered before it is dropped
	for _, line := range lines {
		w.handleLine(ctx, task, line)
	}

	if err != nil {
		var ferr *tail.FileAccessError
		if errors.As(err, &ferr) {
			w.logger.Warn("FileDropped",
				zap.String("file", ferr.Path),
				zap.String("op", ferr.Op),
				zap.Error(ferr.Err),
			)
		} else {
			w.logger.Error("FileDropped",
				zap.String("file", task.path),
				zap.Error(err),
			)
		}

		w.metrics.FileErrors.Inc()
		w.dropFile(task, false)
		return false
	}

	w.trackResets(task)

	if len(lines) > 0 || task.reader.Position().Offset != before {
		task.lastActivity = w.now()
	}

	return true
}

// publish makes the reader position visible to track, together with the
// final position of a file rotated away.
func (w *Watchdog) publish(task *fileTask) {

	w.mu.Lock()
	defer w.mu.Unlock()

	if pos, ok := task.reader.Retired(); ok {
		w.retire(task, pos)
	}

	task.position = task.reader.Position()
}

func (w *Watchdog) trackResets(task *fileTask) {

	if n := task.reader.Truncations(); n != task.truncations {
		w.logger.Info("FileTruncated", zap.String("file", task.path))
		w.metrics.TailResets.WithLabelValues("truncation").Add(float64(n - task.truncations))
		task.truncations = n
	}

	if n := task.reader.Rotations(); n != task.rotations {
		w.logger.Info("FileRotated", zap.String("file", task.path))
		w.metrics.TailResets.WithLabelValues("rotation").Add(float64(n - task.rotations))
		task.rotations = n
	}
}

// expireFile drops an idle file unless an event arrived for it meanwhile.
func (w *Watchdog) expireFile(task *fileTask) bool {

	w.mu.Lock()

	select {
	case <-task.pokes:
		w.mu.Unlock()
		return false
	default:
	}

	delete(w.files, task.path)
	w.remembered.Add(task.path, task.reader.Position())
	w.mu.Unlock()

	w.logger.Info("WatchTimeout",
		zap.String("file", task.path),
		zap.Int64("offset", task.reader.Position().Offset),
		zap.Duration("idle", w.now().Sub(task.lastActivity)),
	)

	w.metrics.FilesActive.Dec()

	return true
}

func (w *Watchdog) dropFile(task *fileTask, remember bool) {

	w.mu.Lock()
	if w.files[task.path] == task {
		delete(w.files, task.path)
	}

	if remember {
		w.remembered.Add(task.path, task.reader.Position())
	} else {
		w.remembered.Remove(task.path)
	}
	w.mu.Unlock()

	w.metrics.FilesActive.Dec()
}
