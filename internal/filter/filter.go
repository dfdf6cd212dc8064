// Package filter implements the streaming filter and search engine
// (component C3): a polymorphic line predicate plus the scanners that
// apply it to a file-backed or stream-backed source.
package filter

import (
	"bytes"
	"regexp"

	"github.com/standardbeagle/lazytail/internal/errors"
)

// Kind discriminates the Filter variants.
type Kind int

const (
	KindPlain Kind = iota
	KindRegex
	KindQuery
)

// Filter is the polymorphic predicate described in spec 4.3.1. Exactly one
// of the variant-specific fields is populated, selected by Kind.
type Filter struct {
	Kind Kind

	// Plain / Regex
	Pattern       string
	CaseSensitive bool
	compiled      *regexp.Regexp

	// Query
	Query *Query
}

// NewPlain builds a substring filter.
func NewPlain(pattern string, caseSensitive bool) Filter {
	return Filter{Kind: KindPlain, Pattern: pattern, CaseSensitive: caseSensitive}
}

// NewRegex compiles pattern and returns a regex filter, or an
// *errors.FilterError (KindInvalidInput) if it fails to compile — per spec
// 7, a bad regex must not clear existing results, which the FilterError's
// IsInvalidInput distinguishes from a transient scan failure.
func NewRegex(pattern string, caseSensitive bool) (Filter, error) {
	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Filter{}, errors.NewInvalidFilterError(pattern, err)
	}
	return Filter{Kind: KindRegex, Pattern: pattern, CaseSensitive: caseSensitive, compiled: re}, nil
}

// NewQuery wraps a structured query as a filter.
func NewQuery(q *Query) Filter {
	return Filter{Kind: KindQuery, Query: q}
}

// Matches reports whether line satisfies the filter.
func (f Filter) Matches(line []byte) bool {
	switch f.Kind {
	case KindPlain:
		return f.matchesPlain(line)
	case KindRegex:
		return f.compiled.Match(line)
	case KindQuery:
		return f.Query.Evaluate(line)
	default:
		return false
	}
}

func (f Filter) matchesPlain(line []byte) bool {
	if f.CaseSensitive {
		return bytes.Contains(line, []byte(f.Pattern))
	}
	return bytes.Contains(bytes.ToLower(line), bytes.ToLower([]byte(f.Pattern)))
}

// IsPlainCaseSensitiveNoQuery reports whether dispatch may use the
// grep-style scanner (spec 4.3.2, path 2): plain text, case-sensitive, and
// not a structured query.
func (f Filter) IsPlainCaseSensitiveNoQuery() bool {
	return f.Kind == KindPlain && f.CaseSensitive
}

// IndexMask delegates to the wrapped query, if any (spec 4.3.1:
// "index_mask() -> Option<(mask,want)>").
func (f Filter) IndexMask() (mask, want uint32, ok bool) {
	if f.Kind != KindQuery || f.Query == nil {
		return 0, 0, false
	}
	return f.Query.IndexMask()
}
