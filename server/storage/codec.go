package storage

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// ErrInvalidCalendarData is returned when a client payload is not a usable series.
var ErrInvalidCalendarData = errors.New("invalid calendar data")

const defaultProductID = "-//Caldora//Go Calendar//EN"

// Codec converts between series and iCalendar payloads.
type Codec struct {
	ProductID string
	// Now stamps DTSTAMP when a component lacks one. Defaults to time.Now.
	Now func() time.Time
}

// Serialize encodes a stored series as a VCALENDAR. Known delete exceptions of the
// master are written as EXDATE, change exceptions get a RECURRENCE-ID.
func (c Codec) Serialize(series Series) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, c.productID())

	if master, ok := series.Master.Get(); ok {
		comp := CloneComponent(master.Component)
		if comp == nil {
			return nil, fmt.Errorf("master %s has no component", master.ObjectID)
		}
		comp.Props.Del(ical.PropExceptionDates)
		allDay := IsAllDay(comp)
		for _, d := range master.DeleteExceptions {
			prop := ical.NewProp(ical.PropExceptionDates)
			if allDay {
				prop.SetDate(d)
			} else {
				prop.SetDateTime(d)
			}
			comp.Props.Add(prop)
		}
		c.ensureIdentity(comp, master.UID)
		cal.Children = append(cal.Children, comp)
	}

	for _, exc := range series.Exceptions {
		comp := CloneComponent(exc.Component)
		if comp == nil {
			return nil, fmt.Errorf("exception %s has no component", exc.ObjectID)
		}
		if comp.Props.Get(ical.PropRecurrenceID) == nil && !exc.RecurrencePosition.IsZero() {
			if IsAllDay(comp) {
				comp.Props.SetDate(ical.PropRecurrenceID, exc.RecurrencePosition)
			} else {
				comp.Props.SetDateTime(ical.PropRecurrenceID, exc.RecurrencePosition)
			}
		}
		c.ensureIdentity(comp, exc.UID)
		cal.Children = append(cal.Children, comp)
	}

	if len(cal.Children) == 0 {
		return nil, fmt.Errorf("empty series")
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a client payload into an ExceptionSet. The payload must describe
// exactly one series: every VEVENT/VTODO shares one UID, at most one has no RECURRENCE-ID.
// EXDATE values of the master become DeleteExceptions and are removed from its component.
func (c Codec) Deserialize(data []byte) (ExceptionSet, error) {
	var set ExceptionSet

	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return set, fmt.Errorf("%w: failed to decode calendar: %v", ErrInvalidCalendarData, err)
	}

	uid := ""
	for _, child := range cal.Children {
		kind, ok := KindForComponent(child.Name)
		if !ok {
			// VTIMEZONE and friends travel with the components that reference them
			continue
		}
		childUID, err := child.Props.Text(ical.PropUID)
		if err != nil || childUID == "" {
			return set, fmt.Errorf("%w: %s without UID", ErrInvalidCalendarData, child.Name)
		}
		if uid == "" {
			uid = childUID
		} else if uid != childUID {
			return set, fmt.Errorf("%w: multiple UIDs in one resource", ErrInvalidCalendarData)
		}

		obj := CalendarObject{UID: childUID, Kind: kind, Component: CloneComponent(child)}
		if rid := child.Props.Get(ical.PropRecurrenceID); rid != nil {
			pos, err := rid.DateTime(time.UTC)
			if err != nil {
				return set, fmt.Errorf("%w: bad RECURRENCE-ID: %v", ErrInvalidCalendarData, err)
			}
			obj.RecurrencePosition = pos.UTC()
			set.ChangeExceptions = append(set.ChangeExceptions, obj)
			continue
		}

		if set.Master.IsPresent() {
			return set, fmt.Errorf("%w: multiple series masters", ErrInvalidCalendarData)
		}
		dates, err := ExceptionDates(obj.Component)
		if err != nil {
			return set, fmt.Errorf("%w: bad EXDATE: %v", ErrInvalidCalendarData, err)
		}
		set.DeleteExceptions = dates
		obj.Component.Props.Del(ical.PropExceptionDates)
		set.Master = mo.Some(obj)
	}

	if uid == "" {
		return set, fmt.Errorf("%w: no supported component", ErrInvalidCalendarData)
	}
	return set, nil
}

// ExceptionDates returns every EXDATE value of a component.
func ExceptionDates(comp *ical.Component) ([]time.Time, error) {
	return dateList(comp, ical.PropExceptionDates)
}

// RecurrenceDates returns every RDATE value of a component.
func RecurrenceDates(comp *ical.Component) ([]time.Time, error) {
	return dateList(comp, ical.PropRecurrenceDates)
}

func dateList(comp *ical.Component, name string) ([]time.Time, error) {
	var out []time.Time
	for _, prop := range comp.Props[name] {
		for _, v := range strings.Split(prop.Value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			single := ical.Prop{Name: prop.Name, Params: prop.Params, Value: v}
			t, err := single.DateTime(time.UTC)
			if err != nil {
				return nil, err
			}
			out = append(out, t.UTC())
		}
	}
	return out, nil
}

// IsAllDay reports whether the component starts (or is due) on a date without time.
func IsAllDay(comp *ical.Component) bool {
	for _, name := range []string{ical.PropDateTimeStart, ical.PropDue} {
		if p := comp.Props.Get(name); p != nil {
			return p.ValueType() == ical.ValueDate
		}
	}
	return false
}

func (c Codec) ensureIdentity(comp *ical.Component, uid string) {
	if comp.Props.Get(ical.PropUID) == nil && uid != "" {
		comp.Props.SetText(ical.PropUID, uid)
	}
	// Ensure DTSTAMP is present
	if comp.Props.Get(ical.PropDateTimeStamp) == nil {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		comp.Props.SetDateTime(ical.PropDateTimeStamp, now().UTC())
	}
}

func (c Codec) productID() string {
	if c.ProductID != "" {
		return c.ProductID
	}
	return defaultProductID
}
