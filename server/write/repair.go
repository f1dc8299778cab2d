package write

import (
	"strings"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
)

// Patch replaces the value of one text property. Applying it never mutates its input.
type Patch struct {
	Field string
	Value string
}

// Apply returns a copy of obj with the patch applied.
func (p Patch) Apply(obj storage.CalendarObject) storage.CalendarObject {
	out := obj.Clone()
	if out.Component == nil {
		return out
	}
	props := out.Component.Props[p.Field]
	if len(props) == 0 {
		out.Component.Props.SetText(p.Field, p.Value)
		return out
	}
	if p.Field == ical.PropCategories {
		// a list value, escaped per item
		props[0].Value = p.Value
	} else {
		props[0].SetText(p.Value)
	}
	return out
}

// RepairStrategy proposes a patch for a validation failure.
type RepairStrategy interface {
	TryRepair(failure *storage.ValidationError, draft storage.CalendarObject) (Patch, bool)
}

// DefaultRepairStrategy truncates over-long text fields and strips characters the
// backend cannot store. Every other failure is left to the caller.
type DefaultRepairStrategy struct{}

func (DefaultRepairStrategy) TryRepair(failure *storage.ValidationError, draft storage.CalendarObject) (Patch, bool) {
	if failure == nil || draft.Component == nil {
		return Patch{}, false
	}
	switch failure.Reason {
	case storage.ReasonTooLong:
		if failure.Field == "" || failure.MaxLength <= 0 {
			return Patch{}, false
		}
		return changed(draft, failure.Field, truncateRunes(storage.TextValue(draft.Component, failure.Field), failure.MaxLength))
	case storage.ReasonInvalidCharacters:
		fields := storage.TextFields
		if failure.Field != "" {
			fields = []string{failure.Field}
		}
		for _, field := range fields {
			if p, ok := changed(draft, field, stripUnstorable(storage.TextValue(draft.Component, field))); ok {
				return p, true
			}
		}
	}
	return Patch{}, false
}

// changed only proposes patches that make progress.
func changed(draft storage.CalendarObject, field, value string) (Patch, bool) {
	if storage.TextValue(draft.Component, field) == value {
		return Patch{}, false
	}
	return Patch{Field: field, Value: value}, true
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func stripUnstorable(s string) string {
	return strings.Map(func(r rune) rune {
		if storage.IsUnstorableRune(r) {
			return -1
		}
		return r
	}, s)
}
