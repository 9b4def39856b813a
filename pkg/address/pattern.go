// Package address implements CLASP hierarchical addresses and glob-style
// subscription patterns: "*" matches exactly one segment, "**" matches zero
// or more trailing segments.
package address

import (
	"fmt"
	"strings"
)

// segmentKind tags how a compiled pattern segment matches.
type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segSingle               // "*"
	segMulti                // "**"
)

type segment struct {
	kind segmentKind
	lit  string
}

// Pattern is a compiled subscription pattern. Compiling once and reusing the
// result keeps matching at O(|address| + |pattern|): no re-splitting per
// match call.
type Pattern struct {
	raw      string
	segments []segment
}

// Compile validates and compiles a pattern string. As the final segment "**"
// matches everything at or below that point. A "**" followed by more
// segments is not rejected: Matches treats what follows as a fixed tail
// compared against the remaining address segments (so "/a/**/b" compiles
// and matches /a/x/b).
func Compile(pattern string) (*Pattern, error) {
	segs, err := splitAddress(pattern)
	if err != nil {
		return nil, err
	}

	compiled := make([]segment, 0, len(segs))
	for i, s := range segs {
		switch s {
		case "**":
			if i != len(segs)-1 {
				// "**" not in terminal position: legal only when what
				// follows is treated as a fixed suffix to match against
				// the tail of the remaining address segments.
				compiled = append(compiled, segment{kind: segMulti})
				continue
			}
			compiled = append(compiled, segment{kind: segMulti})
		case "*":
			compiled = append(compiled, segment{kind: segSingle})
		default:
			compiled = append(compiled, segment{kind: segLiteral, lit: s})
		}
	}

	return &Pattern{raw: normalizeTrailingSlash(pattern), segments: compiled}, nil
}

// String returns the original (trailing-slash-normalized) pattern text.
func (p *Pattern) String() string { return p.raw }

// Matches reports whether address matches the compiled pattern.
func (p *Pattern) Matches(addr string) bool {
	addrSegs, err := splitAddress(addr)
	if err != nil {
		return false
	}
	return matchSegments(p.segments, addrSegs)
}

// matchSegments walks pattern and address segments in lockstep. A "**" at
// position i either matches the rest of the address (if terminal) or, if
// more pattern segments follow, tries every possible split point so the
// remaining pattern can match as a suffix.
func matchSegments(pat []segment, addr []string) bool {
	if len(pat) == 0 {
		return len(addr) == 0
	}

	head := pat[0]
	switch head.kind {
	case segMulti:
		if len(pat) == 1 {
			return true // terminal "**" matches everything remaining
		}
		// Try consuming 0..len(addr) segments as the multi-match, then
		// require the rest of the pattern to match the remaining suffix.
		for take := 0; take <= len(addr); take++ {
			if matchSegments(pat[1:], addr[take:]) {
				return true
			}
		}
		return false
	case segSingle:
		if len(addr) == 0 {
			return false // "*" never matches an empty/missing segment
		}
		return matchSegments(pat[1:], addr[1:])
	default: // segLiteral
		if len(addr) == 0 || addr[0] != head.lit {
			return false
		}
		return matchSegments(pat[1:], addr[1:])
	}
}

// splitAddress validates and splits an address (or pattern) string on "/"
// after the mandatory leading slash. A bare "/" or empty string is invalid;
// a trailing slash is normalized away before splitting.
func splitAddress(s string) ([]string, error) {
	if s == "" || s[0] != '/' {
		return nil, fmt.Errorf("clasp: invalid address %q: must begin with /", s)
	}
	s = normalizeTrailingSlash(s)
	if s == "" {
		return nil, fmt.Errorf("clasp: invalid address %q: empty after leading slash", s)
	}
	parts := strings.Split(s[1:], "/")
	return parts, nil
}

func normalizeTrailingSlash(s string) string {
	if len(s) > 1 && strings.HasSuffix(s, "/") {
		return strings.TrimRight(s, "/")
	}
	if s == "/" {
		return ""
	}
	return s
}

// ValidAddress reports whether s is a well-formed concrete address (no
// wildcards required, but "*"/"**" segments are tolerated as opaque literals
// since Address segments are defined as opaque strings).
func ValidAddress(s string) bool {
	_, err := splitAddress(s)
	return err == nil
}
