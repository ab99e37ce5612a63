package kind

import "strings"

// Kind represents a hierarchical event kind using dot notation.
// Examples: "counter.changed", "config.reloaded", "service.worker.started"
type Kind string

// Wildcard constants for pattern matching.
const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"

	// Separator separates kind segments.
	Separator = "."
)

// String returns the kind as a string.
func (k Kind) String() string {
	return string(k)
}

// Segments returns the kind split by the separator.
func (k Kind) Segments() []string {
	if k == "" {
		return nil
	}
	return strings.Split(string(k), Separator)
}

// IsPattern returns true if the kind contains any wildcard segment.
func (k Kind) IsPattern() bool {
	for _, seg := range k.Segments() {
		if seg == WildcardSingle || seg == WildcardMulti {
			return true
		}
	}
	return false
}

// IsValid returns true if the kind is well-formed: non-empty, no leading,
// trailing, or doubled separators.
func (k Kind) IsValid() bool {
	s := string(k)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, Separator) || strings.HasSuffix(s, Separator) {
		return false
	}
	return !strings.Contains(s, Separator+Separator)
}

// Matches returns true if this concrete kind matches the given pattern.
func (k Kind) Matches(pattern Kind) bool {
	return matchSegments(k.Segments(), pattern.Segments())
}

// matchSegments performs recursive wildcard matching on kind segments.
func matchSegments(kind, pattern []string) bool {
	ki, pi := 0, 0

	for pi < len(pattern) {
		if pattern[pi] == WildcardMulti {
			// ** matches zero or more segments; try each split point.
			for ki <= len(kind) {
				if matchSegments(kind[ki:], pattern[pi+1:]) {
					return true
				}
				ki++
			}
			return false
		}

		if ki >= len(kind) {
			return false
		}

		if pattern[pi] != WildcardSingle && pattern[pi] != kind[ki] {
			return false
		}
		ki++
		pi++
	}

	return ki == len(kind)
}

// Join joins segments into a kind.
func Join(segments ...string) Kind {
	return Kind(strings.Join(segments, Separator))
}
