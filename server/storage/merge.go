package storage

import (
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-ical"
)

// TextFields are the free-text properties backends validate for length and characters.
var TextFields = []string{
	ical.PropSummary,
	ical.PropLocation,
	ical.PropDescription,
	ical.PropCategories,
	ical.PropComment,
}

// MergeComponent applies a partial update to a stored component: properties and child
// components present in draft replace the stored ones, names listed in cleared are
// removed, everything else is kept.
func MergeComponent(stored, draft *ical.Component, cleared []string) *ical.Component {
	merged := CloneComponent(stored)
	if merged == nil {
		merged = ical.NewComponent(draft.Name)
	}
	if draft != nil {
		src := CloneComponent(draft)
		for name, props := range src.Props {
			merged.Props[name] = props
		}
		replaced := make(map[string]bool)
		for _, child := range src.Children {
			if !replaced[child.Name] {
				merged.Children = withoutChildren(merged.Children, child.Name)
				replaced[child.Name] = true
			}
			merged.Children = append(merged.Children, child)
		}
	}
	for _, name := range cleared {
		if isComponentName(name) {
			merged.Children = withoutChildren(merged.Children, name)
			continue
		}
		merged.Props.Del(name)
	}
	return merged
}

func isComponentName(name string) bool {
	switch name {
	case ical.CompAlarm, ical.CompTimezone:
		return true
	}
	return false
}

func withoutChildren(children []*ical.Component, name string) []*ical.Component {
	out := children[:0:0]
	for _, c := range children {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

// TextValue returns the raw value of a text property, or "" when absent.
func TextValue(comp *ical.Component, name string) string {
	if comp == nil {
		return ""
	}
	p := comp.Props.Get(name)
	if p == nil {
		return ""
	}
	if name == ical.PropCategories {
		return p.Value
	}
	v, err := p.Text()
	if err != nil {
		return p.Value
	}
	return v
}

// ValidateText checks text fields against per-field maximum lengths (in characters) and
// rejects characters a typical groupware database cannot store.
func ValidateText(comp *ical.Component, limits map[string]int) error {
	if comp == nil {
		return nil
	}
	for _, field := range TextFields {
		v := TextValue(comp, field)
		if v == "" {
			continue
		}
		if limit, ok := limits[field]; ok && limit > 0 && utf8.RuneCountInString(v) > limit {
			return &ValidationError{Field: field, Reason: ReasonTooLong, MaxLength: limit}
		}
		if strings.IndexFunc(v, IsUnstorableRune) >= 0 {
			return &ValidationError{Field: field, Reason: ReasonInvalidCharacters}
		}
	}
	return nil
}

// IsUnstorableRune reports control and non-character code points.
func IsUnstorableRune(r rune) bool {
	switch {
	case r == '\t', r == '\n', r == '\r':
		return false
	case r < 0x20, r == 0x7f:
		return true
	case r == utf8.RuneError, r == 0xfffe, r == 0xffff:
		return true
	}
	return false
}
