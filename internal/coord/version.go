package coord

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// versionMatcher matches the version segment of a pattern: a glob, a
// Maven-style range or a semver constraint.
type versionMatcher struct {
	glob       string
	constraint *semver.Constraints
}

func compileVersion(raw string) (versionMatcher, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return versionMatcher{}, nil
	case raw[0] == '[' || raw[0] == '(':
		expr, err := rangeToConstraint(raw)
		if err != nil {
			return versionMatcher{}, err
		}
		c, err := semver.NewConstraint(expr)
		if err != nil {
			return versionMatcher{}, fmt.Errorf("version range %q: %w", raw, err)
		}
		return versionMatcher{constraint: c}, nil
	case strings.ContainsAny(raw, "<>=~^ ,|"):
		c, err := semver.NewConstraint(raw)
		if err != nil {
			return versionMatcher{}, fmt.Errorf("version constraint %q: %w", raw, err)
		}
		return versionMatcher{constraint: c}, nil
	default:
		return versionMatcher{glob: raw}, nil
	}
}

func (m versionMatcher) match(version string) bool {
	if m.constraint == nil {
		return globMatch(m.glob, version)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return m.constraint.Check(v)
}

// rangeToConstraint converts Maven range syntax to a semver constraint.
// "[1.0,2.0)" becomes ">= 1.0, < 2.0"; "[1.2]" becomes "= 1.2"; several
// ranges "[1,2),[3,)" are OR-ed.
func rangeToConstraint(raw string) (string, error) {
	var alts []string
	rest := strings.TrimSpace(raw)
	for rest != "" {
		if rest[0] != '[' && rest[0] != '(' {
			return "", fmt.Errorf("version range %q: expected [ or (", raw)
		}
		end := strings.IndexAny(rest, "])")
		if end < 0 {
			return "", fmt.Errorf("version range %q: unterminated", raw)
		}
		alt, err := boundsToConstraint(rest[0], rest[1:end], rest[end])
		if err != nil {
			return "", fmt.Errorf("version range %q: %w", raw, err)
		}
		alts = append(alts, alt)
		rest = strings.TrimLeft(rest[end+1:], ", ")
	}
	if len(alts) == 0 {
		return "", fmt.Errorf("version range %q: empty", raw)
	}
	return strings.Join(alts, " || "), nil
}

func boundsToConstraint(open byte, body string, closing byte) (string, error) {
	lo, hi, hasComma := strings.Cut(body, ",")
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if !hasComma {
		if open != '[' || closing != ']' || lo == "" {
			return "", fmt.Errorf("single version must be written [x]")
		}
		return "= " + lo, nil
	}
	var parts []string
	if lo != "" {
		op := ">"
		if open == '[' {
			op = ">="
		}
		parts = append(parts, op+" "+lo)
	}
	if hi != "" {
		op := "<"
		if closing == ']' {
			op = "<="
		}
		parts = append(parts, op+" "+hi)
	}
	if len(parts) == 0 {
		return "*", nil
	}
	return strings.Join(parts, ", "), nil
}
