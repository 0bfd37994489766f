package watchdog

import (
	"context"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher/rule_manager"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/ratelimit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var levels = map[rule_manager.Level]zapcore.Level{
	rule_manager.LevelInfo:  zapcore.InfoLevel,
	rule_manager.LevelWarn:  zapcore.WarnLevel,
	rule_manager.LevelError: zapcore.ErrorLevel,
}

func (w *Watchdog) handleLine(ctx context.Context, task *fileTask, line string) {

	w.metrics.Lines.Inc()

	if id := w.engine.ExtractItem(line); len(id) > 0 {
		task.itemID = id
	}

	if name := w.engine.ExtractName(line); len(name) > 0 {
		task.name = name
	}

	now := w.now()
	events := w.engine.Evaluate(task.path, line, w.store.Current(), now)

	for _, ev := range events {

		if len(ev.ItemID) == 0 {
			ev.ItemID = task.itemID
		}

		if len(ev.Name) == 0 {
			ev.Name = task.name
		}

		w.metrics.Matches.WithLabelValues(ev.Rule.Name).Inc()
		w.logMatch(ev)

		key := ratelimit.Key{
			Item: ev.ItemID,
			Rule: ev.Rule.Name,
		}

		cancel, ok := w.limiter.Reserve(key, now, ev.Rule.RateLimit)
		if !ok {
			w.metrics.Throttled.WithLabelValues(ev.Rule.Name).Inc()
			w.logger.Info("ActionSkippedTTL",
				zap.String("rule", ev.Rule.Name),
				zap.String("item_id", ev.ItemID),
				zap.String("file", ev.Source),
				zap.Duration("wait_left", w.limiter.Remaining(key, now, ev.Rule.RateLimit)),
			)
			continue
		}

		// Only a queued dispatch starts the window
		err := w.pool.Submit(ctx, dispatcher.NewJob(ev))
		if err != nil {
			cancel()
			w.logger.Warn("Dispatch not queued",
				zap.String("rule", ev.Rule.Name),
				zap.String("item_id", ev.ItemID),
				zap.Error(err),
			)
		}
	}
}

func (w *Watchdog) logMatch(ev *rule_manager.MatchEvent) {

	level, ok := levels[ev.Rule.Level]
	if !ok {
		level = zapcore.WarnLevel
	}

	ce := w.logger.Check(level, "RuleMatched")
	if ce == nil {
		return
	}

	ce.Write(
		zap.String("rule", ev.Rule.Name),
		zap.String("item_id", ev.ItemID),
		zap.String("name", ev.Name),
		zap.String("file", ev.Source),
		zap.String("line", ev.Line),
	)
}

func (w *Watchdog) recordOutcome(job *dispatcher.Job, outcome dispatcher.Outcome) {
	w.metrics.Dispatches.WithLabelValues(job.Event.Rule.Name, outcome.Status.String()).Inc()
}
