package ingest

import (
	"fmt"
	"regexp"
)

// Filter decides whether a raw message is worth queueing. Producers call it
// before Enqueue; the queue itself never filters.
type Filter interface {
	Accept(msg string) bool
}

// FilterFunc adapts an ordinary function to Filter.
type FilterFunc func(msg string) bool

func (f FilterFunc) Accept(msg string) bool { return f(msg) }

// AcceptAll accepts every message.
var AcceptAll Filter = FilterFunc(func(string) bool { return true })

// PatternFilter accepts messages matching a regular expression.
type PatternFilter struct {
	re *regexp.Regexp
}

// NewPatternFilter compiles pattern into a Filter.
func NewPatternFilter(pattern string) (*PatternFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile accept pattern %q: %w", pattern, err)
	}
	return &PatternFilter{re: re}, nil
}

func (f *PatternFilter) Accept(msg string) bool {
	return f.re.MatchString(msg)
}

// OrAcceptAll returns f, or AcceptAll when f is nil.
func OrAcceptAll(f Filter) Filter {
	if f == nil {
		return AcceptAll
	}
	return f
}
