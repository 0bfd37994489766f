package rule_manager

import "fmt"

// RuleParseError reports a rule document that could not be applied. The
// previously loaded rule set stays in effect.
type RuleParseError struct {
	Source string
	Err    error
}

func (e *RuleParseError) Error() string {
	return fmt.Sprintf("failed to parse rules from %s: %v", e.Source, e.Err)
}

func (e *RuleParseError) Unwrap() error {
	return e.Err
}
