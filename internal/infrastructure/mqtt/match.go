package mqtt

import (
	"fmt"
	"strings"
)

// Topic wildcard segments.
const (
	// WildcardSingle matches exactly one topic segment.
	WildcardSingle = "+"

	// WildcardMulti matches the remaining topic segments. It is only
	// meaningful as the final segment of a pattern.
	WildcardMulti = "#"

	topicSeparator = "/"
)

// Match reports whether a subscription pattern matches a concrete topic.
//
// Both strings are split on "/" and walked segment by segment:
//   - "+" matches exactly one non-empty segment
//   - "#" matches the rest of the topic, but only when it is the last
//     pattern segment. A "#" anywhere else ends the walk with false.
//   - any other segment must equal the topic segment exactly
//
// Without a "#" the segment counts must be equal. Empty segments on both
// sides at the same index are skipped.
//
// The mid-pattern "#" rule deliberately differs from the MQTT topic filter
// grammar. Registered handlers depend on it, so it must not be "fixed".
//
// Examples:
//
//	Match("a/+/c", "a/b/c")   // true
//	Match("a/+/c", "a/b/b/c") // false
//	Match("a/#", "a/b/c")     // true
//	Match("a/#", "a")         // true, "#" also matches zero segments
//	Match("a/#/b", "a/x/b")   // false, "#" is not last
func Match(pattern, topic string) bool {
	patternSegments := strings.Split(pattern, topicSeparator)
	topicSegments := strings.Split(topic, topicSeparator)
	lastIndex := len(patternSegments) - 1

	for i, current := range patternSegments {
		var segment string
		if i < len(topicSegments) {
			segment = topicSegments[i]
		}

		if segment == "" && current == "" {
			continue
		}
		if segment == "" && current != WildcardMulti {
			return false
		}
		if current == WildcardMulti {
			return i == lastIndex
		}
		if current != WildcardSingle && current != segment {
			return false
		}
	}

	return len(patternSegments) == len(topicSegments)
}

// ValidateTopic checks that a topic is usable as a publish destination.
// Publish topics must be non-empty and must not contain wildcards.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, WildcardSingle+WildcardMulti) {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription pattern against the MQTT topic filter
// grammar. It never changes how Match behaves; callers use it to warn about
// patterns the broker may reject.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: filter cannot be empty", ErrInvalidTopic)
	}

	segments := strings.Split(filter, topicSeparator)
	for i, segment := range segments {
		switch {
		case segment == WildcardMulti && i != len(segments)-1:
			return fmt.Errorf("%w: %q must be the last segment in %q", ErrInvalidTopic, WildcardMulti, filter)
		case segment != WildcardSingle && segment != WildcardMulti &&
			strings.ContainsAny(segment, WildcardSingle+WildcardMulti):
			return fmt.Errorf("%w: wildcard must occupy a whole segment in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}
