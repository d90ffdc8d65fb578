package subscriptions

import "slices"

// Match reports whether event satisfies pattern
func Match(event Event, pattern Pattern) bool {
	if len(pattern.EventTypes) > 0 && !slices.Contains(pattern.EventTypes, event.Type) {
		return false
	}

	// Source filters only apply to events that carry a source
	if len(pattern.Sources) > 0 && event.Source != "" && !slices.Contains(pattern.Sources, event.Source) {
		return false
	}
	return true
}
