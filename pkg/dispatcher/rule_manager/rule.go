package rule_manager

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Action string

const (
	ActionRefreshMetadata Action = "refresh_metadata"
)

var Actions = map[string]Action{
	"refresh_metadata": ActionRefreshMetadata,
}

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var Levels = map[string]Level{
	"INFO":    LevelInfo,
	"WARN":    LevelWarn,
	"WARNING": LevelWarn,
	"ERROR":   LevelError,
}

const (
	DefaultAction           = ActionRefreshMetadata
	DefaultLevel            = LevelWarn
	DefaultRateLimitSeconds = 300
)

// RuleConfig is a rule as written in the rule document.
type RuleConfig struct {
	Name             string `json:"name"`
	Pattern          string `json:"pattern"`
	Action           string `json:"action,omitempty"`
	RateLimitSeconds *int   `json:"rate_limit_seconds,omitempty"`
	Level            string `json:"level,omitempty"`
	ItemPattern      string `json:"item_pattern,omitempty"`
}

// Rule is immutable once compiled.
type Rule struct {
	Name      string
	Pattern   *regexp.Regexp
	Action    Action
	RateLimit time.Duration
	Level     Level
	Extractor Extractor
}

func NewRule(config *RuleConfig) (*Rule, error) {

	if config == nil {
		return nil, fmt.Errorf("empty rule")
	}

	if len(config.Name) == 0 {
		return nil, fmt.Errorf("rule name is required")
	}

	if len(config.Pattern) == 0 {
		return nil, fmt.Errorf("rule %s: pattern is required", config.Name)
	}

	pattern, err := regexp.Compile(config.Pattern)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", config.Name, err)
	}

	r := &Rule{
		Name:      config.Name,
		Pattern:   pattern,
		Action:    DefaultAction,
		RateLimit: DefaultRateLimitSeconds * time.Second,
		Level:     DefaultLevel,
	}

	if len(config.Action) > 0 {
		action, ok := Actions[strings.ToLower(config.Action)]
		if !ok {
			return nil, fmt.Errorf("rule %s: unknown action %q", config.Name, config.Action)
		}

		r.Action = action
	}

	if config.RateLimitSeconds != nil {
		if *config.RateLimitSeconds < 0 {
			return nil, fmt.Errorf("rule %s: rate_limit_seconds must not be negative", config.Name)
		}

		r.RateLimit = time.Duration(*config.RateLimitSeconds) * time.Second
	}

	if len(config.Level) > 0 {
		level, ok := Levels[strings.ToUpper(config.Level)]
		if !ok {
			return nil, fmt.Errorf("rule %s: unknown level %q", config.Name, config.Level)
		}

		r.Level = level
	}

	// The rule pattern itself may carry the item identifier
	if pattern.SubexpIndex(ItemGroupName) >= 0 {
		r.Extractor = &RegexExtractor{re: pattern}
	}

	if len(config.ItemPattern) > 0 {
		extractor, err := NewRegexExtractor(config.ItemPattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: item_pattern: %w", config.Name, err)
		}

		if r.Extractor == nil {
			r.Extractor = extractor
		} else {
			r.Extractor = ChainExtractor{r.Extractor, extractor}
		}
	}

	return r, nil
}
