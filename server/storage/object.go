package storage

import (
	"sort"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// CalendarObject is an appointment or task as the groupware backend stores it.
type CalendarObject struct {
	// UID is the client visible identity, shared by a series master and its exceptions.
	UID string
	// ObjectID is the backend identity, unique per folder.
	ObjectID string
	// RecurrenceID equals ObjectID for a series master, holds the master's ObjectID for a
	// change exception and is empty for a single, non-recurring object.
	RecurrenceID string
	// RecurrencePosition is the original start of the occurrence a change exception
	// overrides. Zero for masters and single objects.
	RecurrencePosition time.Time
	FolderID           string
	Kind               Kind
	Created            time.Time
	LastModified       time.Time
	// Filename overrides the resource name. Falls back to UID.
	Filename string
	// DeleteExceptions are the dates already excluded from a master's recurrence rule.
	DeleteExceptions []time.Time
	// ClearedFields lists properties an update must reset to their defaults.
	ClearedFields []string
	// Component holds the VEVENT or VTODO data.
	Component *ical.Component
}

// IsMaster reports whether the object is a series master.
func (o *CalendarObject) IsMaster() bool {
	return o.ObjectID != "" && o.RecurrenceID == o.ObjectID
}

// IsException reports whether the object is a change exception of a series.
func (o *CalendarObject) IsException() bool {
	return o.RecurrenceID != "" && o.RecurrenceID != o.ObjectID
}

// ResourceName returns the name of the CalDAV resource holding the object.
func (o *CalendarObject) ResourceName() string {
	name := o.Filename
	if name == "" {
		name = o.UID
	}
	return name + ".ics"
}

// Clone returns a deep copy of the object, including its component tree.
func (o CalendarObject) Clone() CalendarObject {
	c := o
	c.DeleteExceptions = append([]time.Time(nil), o.DeleteExceptions...)
	c.ClearedFields = append([]string(nil), o.ClearedFields...)
	c.Component = CloneComponent(o.Component)
	return c
}

// CloneComponent deep-copies an iCalendar component.
func CloneComponent(comp *ical.Component) *ical.Component {
	if comp == nil {
		return nil
	}
	c := ical.NewComponent(comp.Name)
	for name, props := range comp.Props {
		cp := make([]ical.Prop, len(props))
		for i, p := range props {
			cp[i] = ical.Prop{Name: p.Name, Value: p.Value, Params: make(ical.Params, len(p.Params))}
			for k, v := range p.Params {
				cp[i].Params[k] = append([]string(nil), v...)
			}
		}
		c.Props[name] = cp
	}
	for _, child := range comp.Children {
		c.Children = append(c.Children, CloneComponent(child))
	}
	return c
}

// Series is a stored series: its master (absent when only occurrences are visible)
// and its change exceptions.
type Series struct {
	Master     mo.Option[CalendarObject]
	Exceptions []CalendarObject
}

// Primary returns the object representing the series: the master, or the
// earliest exception when no master is visible.
func (s Series) Primary() (CalendarObject, bool) {
	if m, ok := s.Master.Get(); ok {
		return m, true
	}
	if len(s.Exceptions) == 0 {
		return CalendarObject{}, false
	}
	return s.Exceptions[0], true
}

// LastModified returns the newest timestamp of all objects of the series.
func (s Series) LastModified() time.Time {
	var latest time.Time
	if m, ok := s.Master.Get(); ok {
		latest = m.LastModified
	}
	for _, e := range s.Exceptions {
		if e.LastModified.After(latest) {
			latest = e.LastModified
		}
	}
	return latest
}

// Objects flattens the series, master first.
func (s Series) Objects() []CalendarObject {
	var out []CalendarObject
	if m, ok := s.Master.Get(); ok {
		out = append(out, m)
	}
	return append(out, s.Exceptions...)
}

// GroupSeries groups objects by UID into series. Exceptions are sorted by position.
func GroupSeries(objects []CalendarObject) map[string]*Series {
	groups := make(map[string]*Series)
	for _, obj := range objects {
		s, ok := groups[obj.UID]
		if !ok {
			s = &Series{}
			groups[obj.UID] = s
		}
		if obj.IsException() {
			s.Exceptions = append(s.Exceptions, obj)
		} else {
			s.Master = mo.Some(obj)
		}
	}
	for _, s := range groups {
		SortByPosition(s.Exceptions)
	}
	return groups
}

// ExceptionSet is what a client submitted for one series.
type ExceptionSet struct {
	Master           mo.Option[CalendarObject]
	ChangeExceptions []CalendarObject
	DeleteExceptions []time.Time
}

// UID returns the UID shared by the set.
func (s ExceptionSet) UID() string {
	if m, ok := s.Master.Get(); ok {
		return m.UID
	}
	if len(s.ChangeExceptions) > 0 {
		return s.ChangeExceptions[0].UID
	}
	return ""
}

// PositionKey normalizes a recurrence date position for matching.
func PositionKey(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// SamePosition reports whether two recurrence date positions denote the same occurrence.
func SamePosition(a, b time.Time) bool {
	return a.UTC().Equal(b.UTC())
}

// SortByPosition sorts objects by their recurrence date position.
func SortByPosition(objects []CalendarObject) {
	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].RecurrencePosition.Before(objects[j].RecurrencePosition)
	})
}

// Millis truncates a timestamp to the millisecond precision used for watermarks.
func Millis(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.UnixMilli(t.UnixMilli()).UTC()
}
