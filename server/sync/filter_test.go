package sync

import (
	"testing"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/stretchr/testify/assert"
)

func TestObjectFilter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	event := storage.NewMockEvent("f", "e1", "uid-e1", "Event", now, now)
	todo := storage.NewMockTodo("f", "t1", "uid-t1", "Todo", now, now)
	master := storage.NewMockSeries("f", "m1", "uid-m1", "Series", now, now)
	exc := storage.NewMockException(master, "x1", "Moved", now.AddDate(0, 0, 1), now)
	positionless := exc
	positionless.ObjectID = "x2"
	positionless.RecurrencePosition = time.Time{}
	taskException := storage.NewMockException(todo, "x3", "Todo occurrence", now, now)
	taskException.Kind = storage.KindTask

	appointments := NewObjectFilter(storage.KindAppointment)
	assert.True(t, appointments.Accept(&event))
	assert.True(t, appointments.Accept(&master))
	assert.True(t, appointments.Accept(&exc))
	assert.False(t, appointments.Accept(&todo))
	assert.False(t, appointments.Accept(&positionless))

	tasks := NewObjectFilter(storage.KindTask)
	assert.True(t, tasks.Accept(&todo))
	assert.False(t, tasks.Accept(&event))
	assert.False(t, tasks.Accept(&taskException), "tasks are never exposed per occurrence")
}

func TestObjectFilter_ApplyKeepsNewestDuplicate(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	old := storage.NewMockEvent("f", "e1", "uid", "Old", t0, t0)
	newer := storage.NewMockEvent("f", "e1", "uid", "New", t0, t0.Add(time.Minute))
	other := storage.NewMockEvent("f", "e2", "uid2", "Other", t0, t0.Add(time.Second))
	todo := storage.NewMockTodo("f", "t1", "uid3", "Todo", t0, t0)

	got := NewObjectFilter(storage.KindAppointment).Apply([]storage.CalendarObject{old, other, newer, todo})
	if assert.Len(t, got, 2) {
		assert.Equal(t, "e2", got[0].ObjectID)
		assert.Equal(t, "e1", got[1].ObjectID)
		assert.Equal(t, "New", storage.TextValue(got[1].Component, "SUMMARY"))
	}
}
