package rule_manager

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultStopOnFirstAction = true
	DefaultReloadSeconds     = 60
)

type GlobalConfig struct {
	StopOnFirstAction *bool `json:"stop_on_first_action,omitempty"`
	RuleReloadSeconds *int  `json:"rule_reload_seconds,omitempty"`
}

// Document is the on-disk rule document.
type Document struct {
	Global *GlobalConfig `json:"global,omitempty"`
	Rules  []*RuleConfig `json:"rules"`
}

// RuleSet is an immutable snapshot. Rule order defines match priority.
type RuleSet struct {
	StopOnFirstAction bool
	ReloadInterval    time.Duration
	Rules             []*Rule

	byName map[string]*Rule
}

func NewRuleSet() *RuleSet {
	return &RuleSet{
		StopOnFirstAction: DefaultStopOnFirstAction,
		ReloadInterval:    DefaultReloadSeconds * time.Second,
		Rules:             make([]*Rule, 0),
		byName:            make(map[string]*Rule),
	}
}

// ParseRuleSet decodes and compiles a rule document. Any invalid rule rejects
// the whole document.
func ParseRuleSet(data []byte) (*RuleSet, error) {

	var doc Document
	err := json.Unmarshal(data, &doc)
	if err != nil {
		return nil, err
	}

	rs := NewRuleSet()

	if doc.Global != nil {
		if doc.Global.StopOnFirstAction != nil {
			rs.StopOnFirstAction = *doc.Global.StopOnFirstAction
		}

		if doc.Global.RuleReloadSeconds != nil {
			if *doc.Global.RuleReloadSeconds <= 0 {
				return nil, fmt.Errorf("rule_reload_seconds must be positive")
			}

			rs.ReloadInterval = time.Duration(*doc.Global.RuleReloadSeconds) * time.Second
		}
	}

	for i, rc := range doc.Rules {

		rule, err := NewRule(rc)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}

		if _, ok := rs.byName[rule.Name]; ok {
			return nil, fmt.Errorf("rules[%d]: duplicate rule name %s", i, rule.Name)
		}

		rs.Rules = append(rs.Rules, rule)
		rs.byName[rule.Name] = rule
	}

	return rs, nil
}

func (rs *RuleSet) Get(name string) *Rule {

	if v, ok := rs.byName[name]; ok {
		return v
	}

	return nil
}

func (rs *RuleSet) List() []*Rule {
	return rs.Rules
}

func (rs *RuleSet) Len() int {
	return len(rs.Rules)
}
