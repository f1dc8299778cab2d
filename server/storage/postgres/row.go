package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
)

const (
	productID    = "-//Caldora//PostgreSQL Store//EN"
	positionForm = "20060102T150405Z"
)

// objectRow is a calendar_objects row. The iCalendar text is authoritative; the text
// columns are copies the schema constrains.
type objectRow struct {
	FolderID           string
	ObjectID           string
	UID                string
	RecurrenceID       string
	RecurrencePosition sql.NullTime
	Kind               string
	Filename           string
	Summary            string
	Location           string
	Description        string
	Categories         string
	DeleteExceptions   string
	ICal               string
	Created            time.Time
	LastModified       time.Time
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (objectRow, error) {
	var r objectRow
	err := s.Scan(
		&r.FolderID,
		&r.ObjectID,
		&r.UID,
		&r.RecurrenceID,
		&r.RecurrencePosition,
		&r.Kind,
		&r.Filename,
		&r.DeleteExceptions,
		&r.ICal,
		&r.Created,
		&r.LastModified,
	)
	return r, err
}

func rowFromObject(obj storage.CalendarObject) (objectRow, error) {
	text, err := encodeComponent(obj.Component, obj.LastModified)
	if err != nil {
		return objectRow{}, err
	}
	r := objectRow{
		FolderID:         obj.FolderID,
		ObjectID:         obj.ObjectID,
		UID:              obj.UID,
		RecurrenceID:     obj.RecurrenceID,
		Kind:             string(obj.Kind),
		Filename:         obj.Filename,
		Summary:          storage.TextValue(obj.Component, ical.PropSummary),
		Location:         storage.TextValue(obj.Component, ical.PropLocation),
		Description:      storage.TextValue(obj.Component, ical.PropDescription),
		Categories:       storage.TextValue(obj.Component, ical.PropCategories),
		DeleteExceptions: joinDates(obj.DeleteExceptions),
		ICal:             text,
		Created:          obj.Created.UTC(),
		LastModified:     obj.LastModified.UTC(),
	}
	if !obj.RecurrencePosition.IsZero() {
		r.RecurrencePosition = sql.NullTime{Time: obj.RecurrencePosition.UTC(), Valid: true}
	}
	return r, nil
}

func (r objectRow) object() (storage.CalendarObject, error) {
	comp, err := decodeComponent(r.ICal)
	if err != nil {
		return storage.CalendarObject{}, fmt.Errorf("object %s: %w", r.ObjectID, err)
	}
	dates, err := splitDates(r.DeleteExceptions)
	if err != nil {
		return storage.CalendarObject{}, fmt.Errorf("object %s: %w", r.ObjectID, err)
	}
	obj := storage.CalendarObject{
		UID:              r.UID,
		ObjectID:         r.ObjectID,
		RecurrenceID:     r.RecurrenceID,
		FolderID:         r.FolderID,
		Kind:             storage.Kind(r.Kind),
		Created:          storage.Millis(r.Created),
		LastModified:     storage.Millis(r.LastModified),
		Filename:         r.Filename,
		DeleteExceptions: dates,
		Component:        comp,
	}
	if r.RecurrencePosition.Valid {
		obj.RecurrencePosition = r.RecurrencePosition.Time.UTC()
	}
	return obj, nil
}

func encodeComponent(comp *ical.Component, stamp time.Time) (string, error) {
	if comp == nil {
		return "", fmt.Errorf("missing component")
	}
	comp = storage.CloneComponent(comp)
	if comp.Props.Get(ical.PropDateTimeStamp) == nil {
		if stamp.IsZero() {
			stamp = time.Now()
		}
		comp.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = []*ical.Component{comp}

	var sb strings.Builder
	if err := ical.NewEncoder(&sb).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode component: %w", err)
	}
	return sb.String(), nil
}

func decodeComponent(text string) (*ical.Component, error) {
	cal, err := ical.NewDecoder(strings.NewReader(text)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode component: %w", err)
	}
	for _, child := range cal.Children {
		if _, ok := storage.KindForComponent(child.Name); ok {
			return child, nil
		}
	}
	return nil, fmt.Errorf("no calendar component stored")
}

func joinDates(dates []time.Time) string {
	parts := make([]string, 0, len(dates))
	for _, d := range dates {
		parts = append(parts, d.UTC().Format(positionForm))
	}
	return strings.Join(parts, ",")
}

func splitDates(s string) ([]time.Time, error) {
	if s == "" {
		return nil, nil
	}
	var out []time.Time
	for _, part := range strings.Split(s, ",") {
		t, err := time.Parse(positionForm, part)
		if err != nil {
			return nil, fmt.Errorf("bad delete exception %q: %w", part, err)
		}
		out = append(out, t.UTC())
	}
	return out, nil
}
