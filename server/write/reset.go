package write

import (
	"sort"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
)

// resetDefaults are written instead of clearing the property.
var resetDefaults = map[string]string{
	ical.PropPriority:     "0",
	ical.PropClass:        "PUBLIC",
	ical.PropTransparency: "OPAQUE",
}

// keptOnOmission are never reset: most clients omit them routinely, or the
// server maintains them.
var keptOnOmission = map[string]bool{
	ical.PropPercentComplete: true,
	ical.PropUID:             true,
	ical.PropDateTimeStamp:   true,
	ical.PropCreated:         true,
	ical.PropLastModified:    true,
	ical.PropRecurrenceID:    true,
	ical.PropExceptionDates:  true,
	ical.PropSequence:        true,
}

// DetectResets treats every property stored has and draft omits as an explicit
// removal. It returns a new draft carrying the field defaults and ClearedFields.
// A stored alarm the draft omits is cleared, which is the "no alarm" state.
func DetectResets(stored, draft storage.CalendarObject) storage.CalendarObject {
	out := draft.Clone()
	if stored.Component == nil || out.Component == nil {
		return out
	}

	for name := range stored.Component.Props {
		if keptOnOmission[name] || len(out.Component.Props[name]) > 0 {
			continue
		}
		if def, ok := resetDefaults[name]; ok {
			out.Component.Props.SetText(name, def)
			continue
		}
		out.ClearedFields = appendOnce(out.ClearedFields, name)
	}

	if hasChild(stored.Component, ical.CompAlarm) && !hasChild(out.Component, ical.CompAlarm) {
		out.ClearedFields = appendOnce(out.ClearedFields, ical.CompAlarm)
	}
	sort.Strings(out.ClearedFields)
	return out
}

func hasChild(comp *ical.Component, name string) bool {
	for _, child := range comp.Children {
		if child.Name == name {
			return true
		}
	}
	return false
}

func appendOnce(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}
