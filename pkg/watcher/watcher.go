// Package watcher reports files that appear or grow in a log directory.
//
// Two implementations share the Watcher interface: NotifyWatcher relies on
// filesystem notifications, PollWatcher scans the directory periodically.
// Bursts of changes on one file are coalesced, but a change is never dropped
// entirely: after the last write to a file at least one event is delivered.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"go.uber.org/zap"
)

type EventKind int32

const (
	EventCreated EventKind = iota
	EventModified
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	}

	return "unknown"
}

type Event struct {
	Path string
	Kind EventKind
}

// Filter selects the files of interest by name.
type Filter struct {
	Extensions []string
	Excludes   []string
}

func (f Filter) Match(name string) bool {

	base := filepath.Base(name)

	for _, ex := range f.Excludes {
		if len(ex) > 0 && strings.Contains(base, ex) {
			return false
		}
	}

	lower := strings.ToLower(base)
	for _, ext := range f.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}

	return false
}

type Watcher interface {
	// Subscribe starts watching dir. The returned channel is closed once
	// ctx is done.
	Subscribe(ctx context.Context, dir string, filter Filter) (<-chan Event, error)
}

// WatchSetupError is returned when the directory cannot be watched at all.
type WatchSetupError struct {
	Dir string
	Err error
}

func (e *WatchSetupError) Error() string {
	return fmt.Sprintf("cannot watch directory %s: %v", e.Dir, e.Err)
}

func (e *WatchSetupError) Unwrap() error {
	return e.Err
}

const (
	ModeNotify = "notify"
	ModePoll   = "poll"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultCoalesce     = 200 * time.Millisecond
	DefaultBufferSize   = 256
)

// New builds the watcher selected by the watch mode.
func New(config configs.WatchConfig, l *zap.Logger) (Watcher, error) {

	switch config.Mode {
	case ModeNotify, "":
		return NewNotifyWatcher(
			WithCoalesce(config.Coalesce),
			WithNotifyLogger(l),
		), nil
	case ModePoll:
		return NewPollWatcher(
			WithPollInterval(config.PollInterval),
			WithPollLogger(l),
		), nil
	}

	return nil, fmt.Errorf("unknown watch mode %q", config.Mode)
}

func checkDir(dir string) error {

	info, err := os.Stat(dir)
	if err != nil {
		return &WatchSetupError{Dir: dir, Err: err}
	}

	if !info.IsDir() {
		return &WatchSetupError{Dir: dir, Err: fmt.Errorf("not a directory")}
	}

	f, err := os.Open(dir)
	if err != nil {
		return &WatchSetupError{Dir: dir, Err: err}
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if err != nil && !errors.Is(err, io.EOF) {
		return &WatchSetupError{Dir: dir, Err: err}
	}

	return nil
}

// Scan lists the matching regular files currently in dir.
func Scan(dir string, filter Filter) ([]string, error) {

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {

		if entry.IsDir() || !filter.Match(entry.Name()) {
			continue
		}

		files = append(files, filepath.Join(dir, entry.Name()))
	}

	return files, nil
}
