package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Engine provides recurrence expansion and occurrence checks
type Engine struct {
	// MaxOccurrences bounds the expansion done by Occurrences.
	MaxOccurrences int
}

// NewEngine creates a new recurrence engine instance
func NewEngine() *Engine {
	return &Engine{MaxOccurrences: DefaultMaxOccurrences}
}

// DefaultMaxOccurrences is a reasonable limit to prevent infinite expansion.
const DefaultMaxOccurrences = 1000

// IsOccurrence reports whether position is an instance of the series starting at
// masterStart. EXDATEs in recurrence are ignored: an excluded date is still a
// position of the rule.
func (e *Engine) IsOccurrence(masterStart time.Time, recurrence RecurrenceInfo, position time.Time) (bool, error) {
	if samePosition(masterStart, position, recurrence.AllDay) {
		return true, nil
	}
	for _, rdate := range recurrence.RDATE {
		if samePosition(rdate, position, recurrence.AllDay) {
			return true, nil
		}
	}
	if recurrence.RRULE == "" {
		return false, nil
	}

	set, err := e.ruleSet(masterStart, recurrence.RRULE)
	if err != nil {
		return false, err
	}
	// widen the window by a day so date-only positions match any time of day
	for _, occurrence := range set.Between(position.Add(-24*time.Hour), position.Add(24*time.Hour), true) {
		if samePosition(occurrence, position, recurrence.AllDay) {
			return true, nil
		}
	}
	return false, nil
}

// Occurrences expands the series within [rangeStart, rangeEnd), excluded dates removed.
func (e *Engine) Occurrences(masterStart time.Time, recurrence RecurrenceInfo, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	var out []time.Time
	add := func(t time.Time) {
		if !t.Before(rangeStart) && t.Before(rangeEnd) && !e.isExcluded(t, recurrence.EXDATE) {
			out = append(out, t)
		}
	}

	add(masterStart)
	for _, rdate := range recurrence.RDATE {
		add(rdate)
	}
	if recurrence.RRULE != "" {
		set, err := e.ruleSet(masterStart, recurrence.RRULE)
		if err != nil {
			return nil, err
		}
		next := set.Iterator()
		for n := 0; e.MaxOccurrences <= 0 || n < e.MaxOccurrences; n++ {
			t, ok := next()
			if !ok || !t.Before(rangeEnd) {
				break
			}
			if !t.Equal(masterStart) {
				add(t)
			}
		}
	}
	return out, nil
}

// ruleSet builds the rule in the location of masterStart so wall-clock times stay
// stable across DST changes.
func (e *Engine) ruleSet(masterStart time.Time, rruleStr string) (*rrule.Set, error) {
	opt, err := rrule.StrToROptionInLocation(rruleStr, masterStart.Location())
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE '%s': %w", rruleStr, err)
	}
	opt.Dtstart = masterStart
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build RRULE '%s': %w", rruleStr, err)
	}
	set := &rrule.Set{}
	set.RRule(rule)
	return set, nil
}

// isExcluded checks if a given time is in the EXDATE list
func (e *Engine) isExcluded(t time.Time, exdates []time.Time) bool {
	for _, exdate := range exdates {
		if t.Equal(exdate) {
			return true
		}

		// date-only exceptions are stored as midnight UTC
		if exdate.Hour() == 0 && exdate.Minute() == 0 && exdate.Second() == 0 && exdate.Location() == time.UTC {
			occurrenceAtMidnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			if occurrenceAtMidnight.Equal(exdate) {
				return true
			}
		}
	}
	return false
}

func samePosition(a, b time.Time, allDay bool) bool {
	if a.Equal(b) {
		return true
	}
	if !allDay {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
