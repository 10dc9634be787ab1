// Package filter selects records by glob patterns on their names.
//
// By default (invert set) the patterns are an exclude list: records matching
// none of them are kept. With invert unset they are an include list: records
// matching at least one of them are kept.
package filter

import (
	"errors"
	"fmt"

	"github.com/evanofslack/cf-ddns-sync/internal/provider"
	"github.com/gobwas/glob"
)

var (
	ErrInvalidPattern = errors.New("invalid pattern")
	ErrAllFiltered    = errors.New("all records were filtered")
)

type Filter struct {
	patterns []string
	matchers []glob.Glob
	invert   bool
	active   bool
}

// Result is the selection plus the numbers needed to report it.
type Result struct {
	Selected []provider.Record
	Total    int
	Excluded int
}

// New compiles every pattern before any record is looked at. A nil patterns
// list means no filter at all. An empty but present list is still a filter:
// as an exclude list it keeps everything, as an include list nothing.
func New(patterns []string, invert bool) (*Filter, error) {
	f := &Filter{patterns: patterns, invert: invert, active: patterns != nil}
	for _, p := range patterns {
		if err := checkSyntax(p); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
		}
		f.matchers = append(f.matchers, g)
	}
	return f, nil
}

// checkSyntax rejects what glob.Compile lets through: unbalanced
// alternate groups and a trailing escape.
func checkSyntax(p string) error {
	depth := 0
	inClass := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '\\':
			if i == len(p)-1 {
				return errors.New("dangling escape")
			}
			i++
		case c == '[':
			inClass = true
		case c == '{':
			depth++
		case c == '}':
			if depth == 0 {
				return errors.New("unopened alternate group")
			}
			depth--
		}
	}
	if depth > 0 {
		return errors.New("unclosed alternate group")
	}
	return nil
}

func (f *Filter) Active() bool {
	return f.active
}

func (f *Filter) Keep(name string) bool {
	if !f.Active() {
		return true
	}
	return f.matches(name) != f.invert
}

func (f *Filter) matches(name string) bool {
	for _, m := range f.matchers {
		if m.Match(name) {
			return true
		}
	}
	return false
}

// Apply keeps records in their input order and never alters them. It fails
// with ErrAllFiltered when records were given but none survived.
func (f *Filter) Apply(records []provider.Record) (Result, error) {
	res := Result{Total: len(records)}
	if !f.Active() {
		res.Selected = records
		return res, nil
	}

	res.Selected = make([]provider.Record, 0, len(records))
	for _, r := range records {
		if f.Keep(r.Name) {
			res.Selected = append(res.Selected, r)
		}
	}
	res.Excluded = res.Total - len(res.Selected)

	if res.Total > 0 && len(res.Selected) == 0 {
		return res, ErrAllFiltered
	}
	return res, nil
}
