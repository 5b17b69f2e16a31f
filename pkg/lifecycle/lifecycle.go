package lifecycle

import "time"

// DefaultGrace keeps a just-ended event reported as ongoing for display purposes
const DefaultGrace = time.Hour

// State is the lifecycle classification of an event relative to now
type State string

const (
	StateUnknown  State = "unknown"
	StateUpcoming State = "upcoming"
	StateOngoing  State = "ongoing"
	StateEnded    State = "ended"
)

// Classify classifies an event by its end time. A nil end is indeterminate and
// is never reported as ongoing.
func Classify(end *int64, now int64, grace int64) State {
	if end == nil {
		return StateUnknown
	}
	if grace < 0 {
		grace = 0
	}
	if *end > now {
		return StateOngoing
	}
	if *end > now-grace {
		return StateOngoing
	}
	return StateEnded
}

// ClassifyWindow is Classify plus the upcoming state for events whose start is still ahead.
// Rows whose end precedes their start are treated as malformed.
func ClassifyWindow(start, end *int64, now int64, grace int64) State {
	if start != nil && end != nil && *end < *start {
		return StateUnknown
	}
	if start != nil && *start > now {
		return StateUpcoming
	}
	return Classify(end, now, grace)
}

// IsActive reports whether the event has strictly not ended yet, ignoring any grace window
func IsActive(end *int64, now time.Time) bool {
	if end == nil {
		return false
	}
	return now.Unix() < *end
}

// InGrace reports whether the event has ended but is still inside the grace window
func InGrace(end *int64, now int64, grace int64) bool {
	if end == nil {
		return false
	}
	return *end <= now && *end > now-grace
}
