package recurrence

import (
	"time"
)

// RecurrenceInfo contains all recurrence-related information for an event
type RecurrenceInfo struct {
	RRULE  string      // The RRULE string (without "RRULE:" prefix)
	RDATE  []time.Time // Additional recurrence dates
	EXDATE []time.Time // Exception dates (excluded occurrences)
	// AllDay is set when the series starts on a DATE value.
	AllDay bool
}

// IsRecurring reports whether the info describes more than one occurrence.
func (r RecurrenceInfo) IsRecurring() bool {
	return r.RRULE != "" || len(r.RDATE) > 0
}
