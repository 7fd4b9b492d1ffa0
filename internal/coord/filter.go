package coord

import (
	"fmt"
	"path"
	"strings"
)

// Filter is an inclusion predicate over coordinates.
type Filter interface {
	Accept(c Coordinate) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(c Coordinate) bool

func (f FilterFunc) Accept(c Coordinate) bool { return f(c) }

// All accepts every coordinate.
func All() Filter { return FilterFunc(func(Coordinate) bool { return true }) }

// None rejects every coordinate.
func None() Filter { return FilterFunc(func(Coordinate) bool { return false }) }

// And accepts a coordinate when every filter does. Nil filters are skipped.
func And(filters ...Filter) Filter {
	return FilterFunc(func(c Coordinate) bool {
		for _, f := range filters {
			if f != nil && !f.Accept(c) {
				return false
			}
		}
		return true
	})
}

// Or accepts a coordinate when any filter does.
func Or(filters ...Filter) Filter {
	return FilterFunc(func(c Coordinate) bool {
		for _, f := range filters {
			if f != nil && f.Accept(c) {
				return true
			}
		}
		return false
	})
}

// Not inverts f.
func Not(f Filter) Filter {
	return FilterFunc(func(c Coordinate) bool { return !f.Accept(c) })
}

// SetFilter accepts exactly the coordinates it holds.
type SetFilter struct {
	set map[Coordinate]struct{}
}

// NewSetFilter builds a set filter from cs.
func NewSetFilter(cs ...Coordinate) *SetFilter {
	s := &SetFilter{set: make(map[Coordinate]struct{}, len(cs))}
	for _, c := range cs {
		s.set[c.Normalize()] = struct{}{}
	}
	return s
}

func (s *SetFilter) Accept(c Coordinate) bool {
	_, ok := s.set[c.Normalize()]
	return ok
}

// Len reports the number of coordinates in the set.
func (s *SetFilter) Len() int { return len(s.set) }

// PatternFilter matches coordinates against include and exclude patterns.
// Excludes always win; an empty include list includes everything not excluded.
type PatternFilter struct {
	includes []pattern
	excludes []pattern
}

// NewPatternFilter compiles include and exclude patterns. A pattern has the
// shape group[:name[:version]], group:name:type:version or
// group:name:type:classifier:version. Segments may use * and ? globs; the
// version segment also accepts ranges such as [1.0,2.0) or >=1.2 <2.
func NewPatternFilter(includes, excludes []string) (*PatternFilter, error) {
	f := &PatternFilter{}
	for _, raw := range includes {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		f.includes = append(f.includes, p)
	}
	for _, raw := range excludes {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		f.excludes = append(f.excludes, p)
	}
	return f, nil
}

// MustPatternFilter panics on invalid patterns.
func MustPatternFilter(includes, excludes []string) *PatternFilter {
	f, err := NewPatternFilter(includes, excludes)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *PatternFilter) Accept(c Coordinate) bool {
	c = c.Normalize()
	for _, p := range f.excludes {
		if p.match(c) {
			return false
		}
	}
	if len(f.includes) == 0 {
		return true
	}
	for _, p := range f.includes {
		if p.match(c) {
			return true
		}
	}
	return false
}

type pattern struct {
	raw        string
	group      string
	name       string
	typ        string
	classifier string
	version    versionMatcher
}

func compilePattern(raw string) (pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pattern{}, fmt.Errorf("empty coordinate pattern")
	}
	parts := strings.Split(raw, ":")
	p := pattern{raw: raw}
	var version string
	switch len(parts) {
	case 1:
		p.group = parts[0]
	case 2:
		p.group, p.name = parts[0], parts[1]
	case 3:
		p.group, p.name, version = parts[0], parts[1], parts[2]
	case 4:
		p.group, p.name, p.typ, version = parts[0], parts[1], parts[2], parts[3]
	case 5:
		p.group, p.name, p.typ, p.classifier, version = parts[0], parts[1], parts[2], parts[3], parts[4]
	default:
		return pattern{}, fmt.Errorf("invalid coordinate pattern %q", raw)
	}
	for _, seg := range []string{p.group, p.name, p.typ, p.classifier} {
		if _, err := path.Match(seg, ""); err != nil {
			return pattern{}, fmt.Errorf("invalid coordinate pattern %q: %w", raw, err)
		}
	}
	vm, err := compileVersion(version)
	if err != nil {
		return pattern{}, fmt.Errorf("invalid coordinate pattern %q: %w", raw, err)
	}
	p.version = vm
	return p, nil
}

func (p pattern) match(c Coordinate) bool {
	return globMatch(p.group, c.Group) &&
		globMatch(p.name, c.Name) &&
		globMatch(p.typ, c.Type) &&
		globMatch(p.classifier, c.Classifier) &&
		p.version.match(c.Version)
}

// globMatch treats an empty pattern as a wildcard.
func globMatch(pat, s string) bool {
	if pat == "" || pat == "*" {
		return true
	}
	ok, err := path.Match(pat, s)
	return err == nil && ok
}
