// Package watchdog tails a log directory, matches lines against the active
// rule set and hands throttled matches to the dispatcher.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher/config_store"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher/rule_manager"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/ratelimit"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/tail"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/watcher"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Watchdog struct {
	config     *configs.Config
	logger     *zap.Logger
	now        func() time.Time
	registry   prometheus.Registerer
	metrics    *Metrics
	watcher    watcher.Watcher
	filter     watcher.Filter
	source     rule_manager.Source
	rules      *config_store.ConfigStore
	store      *rule_manager.RuleStore
	engine     *rule_manager.Engine
	limiter    *ratelimit.Limiter
	dispatcher *dispatcher.Dispatcher
	pool       *dispatcher.Pool

	pollInterval time.Duration
	inactivity   time.Duration

	mu         sync.Mutex
	files      map[string]*fileTask
	remembered *lru.Cache[string, tail.Position]
	retired    uint64

	reload  chan struct{}
	cancel  context.CancelFunc
	group   *errgroup.Group
	tasks   sync.WaitGroup
	started bool
}

func NewWatchdog(config *configs.Config, d *dispatcher.Dispatcher, opts ...func(*Watchdog)) (*Watchdog, error) {

	w := &Watchdog{
		config:     config,
		logger:     zap.NewNop(),
		now:        time.Now,
		dispatcher: d,
		files:      make(map[string]*fileTask),
		reload:     make(chan struct{}, 1),
		filter: watcher.Filter{
			Extensions: config.Watch.Extensions,
			Excludes:   config.Watch.Excludes,
		},
	}

	for _, o := range opts {
		o(w)
	}

	w.pollInterval = config.Watch.PollInterval
	if w.pollInterval <= 0 {
		w.pollInterval = configs.DefaultPollInterval
	}

	w.inactivity = config.Watch.InactivityTimeout
	if w.inactivity <= 0 {
		w.inactivity = configs.DefaultInactivityTimeout
	}

	w.metrics = NewMetrics(w.registry)

	if w.watcher == nil {
		wt, err := watcher.New(config.Watch, w.logger.Named("Watcher"))
		if err != nil {
			return nil, err
		}
		w.watcher = wt
	}

	// Rule document on disk, unless a source was supplied
	if w.source == nil {
		w.rules = config_store.NewConfigStore(
			config_store.WithPath(config.Rules.Path),
			config_store.WithLogger(w.logger.Named("ConfigStore")),
			config_store.WithEventHandler(w.rulesChanged),
		)
		w.source = w.rules
	}

	w.store = rule_manager.NewRuleStore(w.source,
		rule_manager.WithLogger(w.logger.Named("RuleStore")),
	)
	w.engine = rule_manager.NewEngine()

	limiter, err := ratelimit.New(config.RateLimit.MaxEntries)
	if err != nil {
		return nil, err
	}
	w.limiter = limiter

	size := config.Watch.RememberedFiles
	if size <= 0 {
		size = configs.DefaultRememberedFiles
	}

	remembered, err := lru.New[string, tail.Position](size)
	if err != nil {
		return nil, err
	}
	w.remembered = remembered

	w.pool = dispatcher.NewPool(
		config.Dispatcher.Workers,
		config.Dispatcher.QueueSize,
		d.Dispatch,
		dispatcher.WithOutcomeHandler(w.recordOutcome),
	)

	return w, nil
}

func WithLogger(l *zap.Logger) func(*Watchdog) {
	return func(w *Watchdog) {
		w.logger = l.Named("Watchdog")
	}
}

func WithClock(now func() time.Time) func(*Watchdog) {
	return func(w *Watchdog) {
		w.now = now
	}
}

func WithRegistry(reg prometheus.Registerer) func(*Watchdog) {
	return func(w *Watchdog) {
		w.registry = reg
	}
}

func WithWatcher(wt watcher.Watcher) func(*Watchdog) {
	return func(w *Watchdog) {
		w.watcher = wt
	}
}

func WithRuleSource(source rule_manager.Source) func(*Watchdog) {
	return func(w *Watchdog) {
		w.source = source
	}
}

func (w *Watchdog) Rules() *rule_manager.RuleStore {
	return w.store
}

func (w *Watchdog) Limiter() *ratelimit.Limiter {
	return w.limiter
}

func (w *Watchdog) Metrics() *Metrics {
	return w.metrics
}

// Start brings the pipeline up. Only a watch setup failure is fatal.
func (w *Watchdog) Start(ctx context.Context) error {

	runCtx, cancel := context.WithCancel(context.Background())

	err := w.store.Reload()
	if err != nil {
		w.metrics.RuleReloads.WithLabelValues("error").Inc()
		w.logger.Warn("Starting without rules", zap.Error(err))
	} else {
		w.metrics.RuleReloads.WithLabelValues("ok").Inc()
	}
	w.metrics.RulesActive.Set(float64(w.store.Current().Len()))

	if w.rules != nil && w.config.Rules.Watch {
		err := w.rules.Watch(runCtx)
		if err != nil {
			w.logger.Warn("Rule file changes will only be seen on the reload interval", zap.Error(err))
		}
	}

	events, err := w.watcher.Subscribe(runCtx, w.config.Watch.Dir, w.filter)
	if err != nil {
		cancel()
		return err
	}

	if !w.config.Watch.FromBeginning {
		w.baseline()
	}

	w.pool.Start()

	w.cancel = cancel
	w.group, runCtx = errgroup.WithContext(runCtx)
	w.group.Go(func() error {
		return w.watchEvents(runCtx, events)
	})
	w.group.Go(func() error {
		return w.reloadRules(runCtx)
	})

	w.started = true

	w.logger.Info("WatchStart",
		zap.String("dir", w.config.Watch.Dir),
		zap.Strings("extensions", w.filter.Extensions),
		zap.String("mode", w.config.Watch.Mode),
		zap.Int("rules", w.store.Current().Len()),
	)

	return nil
}

// baseline remembers the current end of every existing file so that only
// lines written after start are evaluated.
func (w *Watchdog) baseline() {

	files, err := watcher.Scan(w.config.Watch.Dir, w.filter)
	if err != nil {
		w.logger.Warn("Failed to scan existing files", zap.Error(err))
		return
	}

	for _, path := range files {

		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		w.remembered.Add(path, tail.Position{
			Offset: info.Size(),
			Info:   info,
		})
	}

	w.logger.Debug("Existing files skipped to their end", zap.Int("count", len(files)))
}

// Stop shuts the pipeline down. Queued dispatches get the configured grace
// period before in-flight calls are cancelled.
func (w *Watchdog) Stop(ctx context.Context) error {

	if !w.started {
		return nil
	}
	w.started = false

	w.cancel()
	w.group.Wait()
	w.tasks.Wait()

	grace := w.config.Dispatcher.ShutdownGrace
	if grace <= 0 {
		grace = configs.DefaultDispatcherGrace
	}

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	err := w.pool.Stop(graceCtx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		w.logger.Warn("In-flight dispatches cancelled after grace period",
			zap.Duration("grace", grace),
		)
		return nil
	}

	return err
}

func (w *Watchdog) watchEvents(ctx context.Context, events <-chan watcher.Event) error {

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			w.track(ctx, ev)
		}
	}
}

// track hands the event to the file's task, starting one if needed.
func (w *Watchdog) track(ctx context.Context, ev watcher.Event) {

	w.mu.Lock()
	defer w.mu.Unlock()

	if task, ok := w.files[ev.Path]; ok {
		task.poke()
		return
	}

	pos, owner := w.resume(ev.Path)
	if owner != nil {
		w.logger.Debug("Rotated file still read by its previous task",
			zap.String("file", ev.Path),
			zap.String("task", owner.path),
		)
		owner.poke()
		return
	}

	task := newFileTask(ev.Path, pos, w.now())
	w.files[ev.Path] = task
	w.metrics.FilesActive.Inc()

	w.logger.Info("NewFileDetected",
		zap.String("file", ev.Path),
		zap.String("event", ev.Kind.String()),
		zap.Int64("offset", pos.Offset),
	)

	w.tasks.Add(1)
	go func() {
		defer w.tasks.Done()
		w.runFile(ctx, task)
	}()
}

// resume finds where reading of path left off. Positions are looked up by
// path first and then by file identity, so a file renamed by rotation is
// continued rather than read again. When a live task still holds the file
// under its previous name, that task is returned instead. Callers hold mu.
func (w *Watchdog) resume(path string) (tail.Position, *fileTask) {

	pos, ok := w.remembered.Get(path)
	w.remembered.Remove(path)

	info, err := os.Stat(path)
	if err != nil {
		return pos, nil
	}

	if ok && pos.SameFile(info) {
		return pos, nil
	}

	for _, task := range w.files {
		if task.position.SameFile(info) {
			return tail.Position{}, task
		}
	}

	for _, key := range w.remembered.Keys() {
		candidate, ok := w.remembered.Peek(key)
		if ok && candidate.SameFile(info) && candidate.Offset <= info.Size() {
			w.remembered.Remove(key)
			return candidate, nil
		}
	}

	return tail.Position{}, nil
}

// retire remembers the final position of a file rotated away from task's
// path until the renamed file shows up. Callers hold mu.
func (w *Watchdog) retire(task *fileTask, pos tail.Position) {

	for _, other := range w.files {
		if other != task && other.position.SameFile(pos.Info) {
			return
		}
	}

	w.retired++
	w.remembered.Add(fmt.Sprintf("%s\x00%d", task.path, w.retired), pos)
}

func (w *Watchdog) rulesChanged(op config_store.ConfigOp, name string, data []byte) {

	if op == config_store.ConfigDelete {
		w.logger.Warn("Rule file removed, keeping active rules", zap.String("source", name))
		return
	}

	select {
	case w.reload <- struct{}{}:
	default:
	}
}

func (w *Watchdog) reloadRules(ctx context.Context) error {

	interval := w.reloadInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.reload:
		}

		w.Reload()

		if next := w.reloadInterval(); next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

func (w *Watchdog) reloadInterval() time.Duration {

	interval := w.store.Current().ReloadInterval
	if interval <= 0 {
		return rule_manager.DefaultReloadSeconds * time.Second
	}

	return interval
}

// Reload re-reads the rule document and sweeps expired rate limit entries.
// On error the previous rules stay active.
func (w *Watchdog) Reload() error {

	err := w.store.Reload()
	if err != nil {
		w.metrics.RuleReloads.WithLabelValues("error").Inc()
	} else {
		w.metrics.RuleReloads.WithLabelValues("ok").Inc()
	}

	rs := w.store.Current()
	w.metrics.RulesActive.Set(float64(rs.Len()))

	removed := w.limiter.Sweep(w.now(), func(name string) (time.Duration, bool) {
		rule := rs.Get(name)
		if rule == nil {
			return 0, false
		}
		return rule.RateLimit, true
	})

	if removed > 0 {
		w.logger.Debug("Rate limit entries expired", zap.Int("count", removed))
	}

	return err
}
