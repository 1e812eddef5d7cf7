package eventbus

import "strings"

// MatchPattern reports whether a dot-segment pattern selects an event type.
//
// Each pattern segment is either an exact literal or "*", which matches
// exactly one segment. Segment counts must line up, with one exception:
// a trailing "**" matches any remainder (zero or more segments), which is
// what the global catch-all subscription uses.
//
// Matching is case-sensitive. Empty patterns and empty event types never
// match.
func MatchPattern(pattern, eventType string) bool {
	if pattern == "" || eventType == "" {
		return false
	}

	ps := strings.Split(pattern, ".")
	es := strings.Split(eventType, ".")

	multi := ps[len(ps)-1] == "**"
	if multi {
		ps = ps[:len(ps)-1]
		if len(es) < len(ps) {
			return false
		}
	} else if len(ps) != len(es) {
		return false
	}

	for i, seg := range ps {
		if seg == "*" {
			continue
		}
		if seg != es[i] {
			return false
		}
	}
	return true
}

// validEventType rejects event types with empty segments ("a..b", ".a",
// trailing dots); those would make wildcard matching ambiguous.
func validEventType(eventType string) bool {
	if eventType == "" {
		return false
	}
	for _, seg := range strings.Split(eventType, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}
