package calendar

import (
	"fmt"

	"github.com/rustyhorde/barto/barrors"
)

// fieldKind is the shape of a single numeric field within an Expression.
type fieldKind int

const (
	kindWildcard fieldKind = iota
	kindSingle
	kindRange
	kindList
	kindRandom
)

// field is one parsed field_spec: `*`, an integer, `a..b`, a comma list, or `R`.
type field struct {
	kind   fieldKind
	single int
	lo, hi int
	list   []int
}

func wildcardField() field { return field{kind: kindWildcard} }

// allows reports whether v is permitted by the field within [domainMin, domainMax].
// A kindRandom field must be resolved to kindSingle before allows is ever called;
// calling allows on an unresolved random field is a programmer error.
func (f field) allows(v, domainMin, domainMax int) bool {
	if v < domainMin || v > domainMax {
		return false
	}
	switch f.kind {
	case kindWildcard:
		return true
	case kindSingle:
		return v == f.single
	case kindRange:
		return v >= f.lo && v <= f.hi
	case kindList:
		for _, x := range f.list {
			if v == x {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// nextAllowed returns the smallest value >= current that the field allows within
// [domainMin, domainMax], or ok=false if none exists.
func (f field) nextAllowed(current, domainMin, domainMax int) (value int, ok bool) {
	if current < domainMin {
		current = domainMin
	}
	for v := current; v <= domainMax; v++ {
		if f.allows(v, domainMin, domainMax) {
			return v, true
		}
	}
	return 0, false
}

// parseField parses one field_spec token against [domainMin, domainMax]. Braces
// around a list, as used by the quarterly shortcut ("{01,04,07,10}"), are
// stripped before parsing; they are accepted as an alternate list spelling, not
// a distinct grammar production.
func parseField(tok string, domainMin, domainMax int) (field, error) {
	tok = stripBraces(tok)
	if tok == "*" {
		return wildcardField(), nil
	}
	if tok == "R" {
		return field{kind: kindRandom}, nil
	}
	if lo, hi, ok := splitRange(tok); ok {
		loN, err := parseInt(lo, domainMin, domainMax)
		if err != nil {
			return field{}, err
		}
		hiN, err := parseInt(hi, domainMin, domainMax)
		if err != nil {
			return field{}, err
		}
		if loN > hiN {
			return field{}, fmt.Errorf("%w: inverted range %q", barrors.ParseError, tok)
		}
		return field{kind: kindRange, lo: loN, hi: hiN}, nil
	}
	if parts, ok := splitList(tok); ok {
		vals := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := parseInt(p, domainMin, domainMax)
			if err != nil {
				return field{}, err
			}
			vals = append(vals, n)
		}
		if len(vals) == 0 {
			return field{}, fmt.Errorf("%w: empty list %q", barrors.ParseError, tok)
		}
		return field{kind: kindList, list: vals}, nil
	}
	n, err := parseInt(tok, domainMin, domainMax)
	if err != nil {
		return field{}, err
	}
	return field{kind: kindSingle, single: n}, nil
}

func stripBraces(s string) string {
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
		return s[1 : len(s)-1]
	}
	return s
}

func splitRange(s string) (lo, hi string, ok bool) {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			return s[:i], s[i+2:], true
		}
	}
	return "", "", false
}

func splitList(s string) ([]string, bool) {
	if !contains(s, ',') {
		return nil, false
	}
	return splitOn(s, ','), true
}

func contains(s string, b byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}

func splitOn(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func parseInt(s string, domainMin, domainMax int) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty numeric field", barrors.ParseError)
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: invalid integer %q", barrors.ParseError, s)
		}
		n = n*10 + int(c-'0')
	}
	if n < domainMin || n > domainMax {
		return 0, fmt.Errorf("%w: %d out of range [%d,%d]", barrors.ParseError, n, domainMin, domainMax)
	}
	return n, nil
}
