package rule_manager

import "regexp"

const ItemGroupName = "id"

var (
	DefaultItemPattern = `"ItemId"\s*:\s*"?(?P<id>\d+)"?`
	DefaultNamePattern = `"Name"\s*:\s*"(?P<name>[^"]+)"`
)

// Extractor pulls an identifier out of a log line. An empty result means
// nothing was found.
type Extractor interface {
	Extract(line string) string
}

// RegexExtractor returns the named group "id" when the expression has one,
// otherwise the first capture group, otherwise the whole match.
type RegexExtractor struct {
	re *regexp.Regexp
}

func NewRegexExtractor(pattern string) (*RegexExtractor, error) {

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return &RegexExtractor{re: re}, nil
}

func MustRegexExtractor(pattern string) *RegexExtractor {

	e, err := NewRegexExtractor(pattern)
	if err != nil {
		panic(err)
	}

	return e
}

func (e *RegexExtractor) Extract(line string) string {

	parts := e.re.FindStringSubmatch(line)
	if parts == nil {
		return ""
	}

	if idx := e.re.SubexpIndex(ItemGroupName); idx >= 0 {
		return parts[idx]
	}

	if len(parts) > 1 {
		return parts[1]
	}

	return parts[0]
}

// ChainExtractor returns the first non-empty result.
type ChainExtractor []Extractor

func (c ChainExtractor) Extract(line string) string {

	for _, e := range c {
		if v := e.Extract(line); len(v) > 0 {
			return v
		}
	}

	return ""
}
