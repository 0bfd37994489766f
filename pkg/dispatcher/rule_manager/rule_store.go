package rule_manager

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Source provides the raw rule document.
type Source interface {
	Name() string
	Load() ([]byte, error)
}

// RuleStore holds the active rule set. Readers always get a complete
// snapshot; a failed reload keeps the previous one.
type RuleStore struct {
	source  Source
	logger  *zap.Logger
	current atomic.Pointer[RuleSet]

	// serializes reloads, never taken by readers
	reloadMu sync.Mutex
	loaded   bool
}

func NewRuleStore(source Source, opts ...func(*RuleStore)) *RuleStore {

	rs := &RuleStore{
		source: source,
		logger: zap.NewNop(),
	}

	for _, o := range opts {
		o(rs)
	}

	rs.current.Store(NewRuleSet())

	return rs
}

func WithLogger(l *zap.Logger) func(*RuleStore) {
	return func(rs *RuleStore) {
		rs.logger = l
	}
}

func (rs *RuleStore) Current() *RuleSet {
	return rs.current.Load()
}

// Loaded reports whether at least one document was applied successfully.
func (rs *RuleStore) Loaded() bool {

	rs.reloadMu.Lock()
	defer rs.reloadMu.Unlock()

	return rs.loaded
}

func (rs *RuleStore) Reload() error {

	data, err := rs.source.Load()
	if err != nil {
		perr := &RuleParseError{
			Source: rs.source.Name(),
			Err:    err,
		}

		rs.logger.Error("RulesLoadError",
			zap.String("source", rs.source.Name()),
			zap.Error(err),
		)

		return perr
	}

	return rs.Apply(data)
}

// Apply replaces the active rule set with the given document.
func (rs *RuleStore) Apply(data []byte) error {

	rs.reloadMu.Lock()
	defer rs.reloadMu.Unlock()

	name := "<inline>"
	if rs.source != nil {
		name = rs.source.Name()
	}

	set, err := ParseRuleSet(data)
	if err != nil {

		rs.logger.Warn("RulesLoadError",
			zap.String("source", name),
			zap.Int("retained", rs.current.Load().Len()),
			zap.Error(err),
		)

		return &RuleParseError{
			Source: name,
			Err:    err,
		}
	}

	rs.current.Store(set)
	rs.loaded = true

	rs.logger.Info("RulesLoaded",
		zap.String("source", name),
		zap.Int("count", set.Len()),
		zap.Bool("stop_on_first_action", set.StopOnFirstAction),
		zap.Duration("reload_interval", set.ReloadInterval),
	)

	return nil
}
