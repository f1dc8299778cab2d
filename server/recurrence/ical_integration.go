package recurrence

import (
	"fmt"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
)

// ExtractRecurrenceInfoFromComponent extracts recurrence information from an iCal component
func ExtractRecurrenceInfoFromComponent(comp *ical.Component) (RecurrenceInfo, error) {
	info := RecurrenceInfo{AllDay: storage.IsAllDay(comp)}

	if rruleProp := comp.Props.Get(ical.PropRecurrenceRule); rruleProp != nil && rruleProp.Value != "" {
		info.RRULE = rruleProp.Value
	}

	rdates, err := storage.RecurrenceDates(comp)
	if err != nil {
		return info, fmt.Errorf("failed to parse RDATE: %w", err)
	}
	info.RDATE = rdates

	exdates, err := storage.ExceptionDates(comp)
	if err != nil {
		return info, fmt.Errorf("failed to parse EXDATE: %w", err)
	}
	info.EXDATE = exdates

	return info, nil
}

// MasterStart returns the start of the first occurrence: DTSTART, or DUE for tasks
// without a start.
func MasterStart(comp *ical.Component) (time.Time, error) {
	for _, name := range []string{ical.PropDateTimeStart, ical.PropDue} {
		if comp.Props.Get(name) == nil {
			continue
		}
		start, err := comp.Props.DateTime(name, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		return start, nil
	}
	return time.Time{}, fmt.Errorf("component %s has no start", comp.Name)
}
