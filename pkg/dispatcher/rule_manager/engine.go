package rule_manager

import (
	"time"
)

// MatchEvent is produced for every rule that fires on a line.
type MatchEvent struct {
	Source    string
	Line      string
	Rule      *Rule
	ItemID    string
	Name      string
	Timestamp time.Time
}

type Engine struct {
	itemExtractor Extractor
	nameExtractor Extractor
}

func NewEngine(opts ...func(*Engine)) *Engine {

	e := &Engine{
		itemExtractor: MustRegexExtractor(DefaultItemPattern),
		nameExtractor: MustRegexExtractor(DefaultNamePattern),
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

func WithItemExtractor(extractor Extractor) func(*Engine) {
	return func(e *Engine) {
		e.itemExtractor = extractor
	}
}

// ExtractItem applies the engine-wide item extractor.
func (e *Engine) ExtractItem(line string) string {

	if e.itemExtractor == nil {
		return ""
	}

	return e.itemExtractor.Extract(line)
}

// ExtractName applies the engine-wide name extractor.
func (e *Engine) ExtractName(line string) string {

	if e.nameExtractor == nil {
		return ""
	}

	return e.nameExtractor.Extract(line)
}

// Evaluate tests the line against every rule in priority order. With
// StopOnFirstAction only the first matching rule produces an event.
func (e *Engine) Evaluate(source string, line string, rs *RuleSet, now time.Time) []*MatchEvent {

	if rs == nil || len(rs.Rules) == 0 {
		return nil
	}

	var events []*MatchEvent
	var fallbackItem string
	var name string
	extracted := false

	for _, rule := range rs.Rules {

		if !rule.Pattern.MatchString(line) {
			continue
		}

		if !extracted {
			fallbackItem = e.ExtractItem(line)
			name = e.ExtractName(line)
			extracted = true
		}

		ev := &MatchEvent{
			Source:    source,
			Line:      line,
			Rule:      rule,
			Name:      name,
			Timestamp: now,
		}

		if rule.Extractor != nil {
			ev.ItemID = rule.Extractor.Extract(line)
		}

		if len(ev.ItemID) == 0 {
			ev.ItemID = fallbackItem
		}

		events = append(events, ev)

		if rs.StopOnFirstAction {
			break
		}
	}

	return events
}
