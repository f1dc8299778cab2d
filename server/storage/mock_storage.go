package storage

import (
	"context"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/mock"
)

// MockStore implements the Store interface for testing
type MockStore struct {
	mock.Mock
}

// GetModified implements the ChangeSource interface
func (m *MockStore) GetModified(ctx context.Context, folderID string, since time.Time, limit int) (Page, error) {
	args := m.Called(ctx, folderID, since, limit)
	return args.Get(0).(Page), args.Error(1)
}

// GetDeleted implements the ChangeSource interface
func (m *MockStore) GetDeleted(ctx context.Context, folderID string, since time.Time, limit int) (Page, error) {
	args := m.Called(ctx, folderID, since, limit)
	return args.Get(0).(Page), args.Error(1)
}

// GetAll implements the ChangeSource interface
func (m *MockStore) GetAll(ctx context.Context, folderID string) ([]CalendarObject, error) {
	args := m.Called(ctx, folderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]CalendarObject), args.Error(1)
}

func (m *MockStore) GetByID(ctx context.Context, folderID, objectID string) (*CalendarObject, error) {
	args := m.Called(ctx, folderID, objectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CalendarObject), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, obj CalendarObject) (*CalendarObject, error) {
	args := m.Called(ctx, obj)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CalendarObject), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, obj CalendarObject, folderID string, expected time.Time) (*CalendarObject, error) {
	args := m.Called(ctx, obj, folderID, expected)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CalendarObject), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, obj CalendarObject, folderID string, expected time.Time) (time.Time, error) {
	args := m.Called(ctx, obj, folderID, expected)
	return args.Get(0).(time.Time), args.Error(1)
}

// --- Helper methods for creating test data ---

// NewMockEvent creates a single VEVENT object
func NewMockEvent(folderID, objectID, uid, summary string, start time.Time, modified time.Time) CalendarObject {
	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, summary)
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(time.Hour))

	return CalendarObject{
		UID:          uid,
		ObjectID:     objectID,
		FolderID:     folderID,
		Kind:         KindAppointment,
		Created:      modified,
		LastModified: modified,
		Component:    event,
	}
}

// NewMockSeries creates a daily recurring VEVENT master
func NewMockSeries(folderID, objectID, uid, summary string, start time.Time, modified time.Time) CalendarObject {
	obj := NewMockEvent(folderID, objectID, uid, summary, start, modified)
	obj.RecurrenceID = objectID
	rrule := ical.NewProp(ical.PropRecurrenceRule)
	rrule.Value = "FREQ=DAILY;COUNT=400"
	obj.Component.Props.Set(rrule)
	return obj
}

// NewMockException creates a change exception of master at position
func NewMockException(master CalendarObject, objectID, summary string, position time.Time, modified time.Time) CalendarObject {
	obj := NewMockEvent(master.FolderID, objectID, master.UID, summary, position, modified)
	obj.RecurrenceID = master.ObjectID
	obj.RecurrencePosition = position
	obj.Component.Props.SetDateTime(ical.PropRecurrenceID, position)
	return obj
}

// NewMockTodo creates a test VTODO calendar object
func NewMockTodo(folderID, objectID, uid, summary string, due time.Time, modified time.Time) CalendarObject {
	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetText(ical.PropUID, uid)
	todo.Props.SetText(ical.PropSummary, summary)
	todo.Props.SetDateTime(ical.PropDue, due)

	return CalendarObject{
		UID:          uid,
		ObjectID:     objectID,
		FolderID:     folderID,
		Kind:         KindTask,
		Created:      modified,
		LastModified: modified,
		Component:    todo,
	}
}
