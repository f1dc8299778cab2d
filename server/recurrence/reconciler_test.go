package recurrence

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 9, 0, 0, 0, time.UTC)
}

func monthlyMaster() storage.CalendarObject {
	m := storage.NewMockSeries("work", "m1", "board", "Board meeting", day(time.January, 10), day(time.January, 1))
	rrule := ical.NewProp(ical.PropRecurrenceRule)
	rrule.Value = "FREQ=MONTHLY;BYMONTHDAY=10"
	m.Component.Props.Set(rrule)
	return m
}

func incomingException(uid, summary string, position time.Time) storage.CalendarObject {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, uid)
	comp.Props.SetText(ical.PropSummary, summary)
	comp.Props.SetDateTime(ical.PropRecurrenceID, position)
	return storage.CalendarObject{UID: uid, Kind: storage.KindAppointment, RecurrencePosition: position, Component: comp}
}

func kinds(ops []Operation) []OpKind {
	out := make([]OpKind, len(ops))
	for i, op := range ops {
		out[i] = op.Kind
	}
	return out
}

func TestReconcile_Determinism(t *testing.T) {
	master := monthlyMaster()
	stored := storage.NewMockException(master, "x1", "Board meeting", day(time.January, 10), day(time.January, 2))

	incoming := storage.ExceptionSet{
		ChangeExceptions: []storage.CalendarObject{
			incomingException("board", "New date", day(time.February, 10)),
			incomingException("board", "Moved room", day(time.January, 10)),
		},
		DeleteExceptions: []time.Time{day(time.March, 10)},
	}

	r := NewReconciler(nil)
	for i := 0; i < 3; i++ {
		ops, err := r.Reconcile(mo.Some(master), []storage.CalendarObject{stored}, incoming)
		require.NoError(t, err)
		require.Equal(t, []OpKind{OpUpdateException, OpCreateException, OpDeleteOccurrence}, kinds(ops))

		assert.Equal(t, "x1", ops[0].Draft.ObjectID)
		assert.Equal(t, "m1", ops[0].Draft.RecurrenceID)
		assert.Equal(t, "Moved room", storage.TextValue(ops[0].Draft.Component, ical.PropSummary))

		assert.Empty(t, ops[1].Draft.ObjectID)
		assert.Equal(t, "m1", ops[1].Draft.RecurrenceID)
		assert.True(t, ops[1].Position.Equal(day(time.February, 10)))

		assert.Equal(t, "m1", ops[2].Draft.ObjectID)
		assert.True(t, ops[2].Draft.RecurrencePosition.Equal(day(time.March, 10)))
	}

	// with a master in the incoming set the master step comes first
	incoming.Master = mo.Some(monthlyMaster())
	ops, err := r.Reconcile(mo.Some(master), []storage.CalendarObject{stored}, incoming)
	require.NoError(t, err)
	assert.Equal(t, []OpKind{OpUpdateMaster, OpUpdateException, OpCreateException, OpDeleteOccurrence}, kinds(ops))
}

func TestReconcile_Contradiction(t *testing.T) {
	incoming := storage.ExceptionSet{
		Master:           mo.Some(monthlyMaster()),
		ChangeExceptions: []storage.CalendarObject{incomingException("board", "x", day(time.February, 10))},
		DeleteExceptions: []time.Time{day(time.February, 10).In(time.FixedZone("CET", 3600))},
	}
	ops, err := NewReconciler(nil).Reconcile(mo.None[storage.CalendarObject](), nil, incoming)
	assert.ErrorIs(t, err, ErrContradictorySeries)
	assert.Nil(t, ops)
}

func TestReconcile_DuplicatePosition(t *testing.T) {
	incoming := storage.ExceptionSet{
		ChangeExceptions: []storage.CalendarObject{
			incomingException("board", "a", day(time.February, 10)),
			incomingException("board", "b", day(time.February, 10)),
		},
	}
	_, err := NewReconciler(nil).Reconcile(mo.Some(monthlyMaster()), nil, incoming)
	assert.ErrorIs(t, err, ErrDuplicatePosition)
}

func TestReconcile_Deletes(t *testing.T) {
	master := monthlyMaster()
	master.DeleteExceptions = []time.Time{day(time.April, 10)}
	stored := storage.NewMockException(master, "x1", "Board meeting", day(time.May, 10), day(time.January, 2))

	incoming := storage.ExceptionSet{
		DeleteExceptions: []time.Time{
			day(time.June, 10),
			day(time.April, 10),  // already excluded
			day(time.May, 10),    // materialized exception
			day(time.June, 11),   // never produced by the rule
			day(time.June, 10),   // repeated
		},
	}

	ops, err := NewReconciler(nil).Reconcile(mo.Some(master), []storage.CalendarObject{stored}, incoming)
	require.NoError(t, err)
	require.Equal(t, []OpKind{OpDeleteException, OpDeleteOccurrence}, kinds(ops))
	assert.Equal(t, "x1", ops[0].Target.MustGet().ObjectID)
	assert.True(t, ops[1].Position.Equal(day(time.June, 10)))
}

func TestReconcile_DroppedDeletionIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	incoming := storage.ExceptionSet{DeleteExceptions: []time.Time{day(time.June, 11)}}
	ops, err := NewReconciler(logger).Reconcile(mo.Some(monthlyMaster()), nil, incoming)
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "dropping deletion of a date the rule never produces")
	assert.Contains(t, buf.String(), "uid=board")
}

func TestReconcile_CreateSeries(t *testing.T) {
	in := monthlyMaster()
	in.ObjectID = "client-supplied"
	in.RecurrenceID = "client-supplied"

	incoming := storage.ExceptionSet{
		Master:           mo.Some(in),
		ChangeExceptions: []storage.CalendarObject{incomingException("board", "Special", day(time.February, 10))},
		DeleteExceptions: []time.Time{day(time.March, 10)},
	}

	ops, err := NewReconciler(nil).Reconcile(mo.None[storage.CalendarObject](), nil, incoming)
	require.NoError(t, err)
	require.Equal(t, []OpKind{OpCreateMaster, OpCreateException, OpDeleteOccurrence}, kinds(ops))
	assert.Empty(t, ops[0].Draft.ObjectID)
	assert.Empty(t, ops[0].Draft.RecurrenceID)
	assert.Empty(t, ops[1].Draft.RecurrenceID, "master identity is assigned by the backend")
	assert.False(t, ops[2].Target.IsPresent())
}

func TestReconcile_LeavesUnmentionedExceptions(t *testing.T) {
	master := monthlyMaster()
	stored := storage.NewMockException(master, "x1", "Board meeting", day(time.May, 10), day(time.January, 2))

	ops, err := NewReconciler(nil).Reconcile(mo.Some(master), []storage.CalendarObject{stored}, storage.ExceptionSet{Master: mo.Some(monthlyMaster())})
	require.NoError(t, err)
	assert.Equal(t, []OpKind{OpUpdateMaster}, kinds(ops))
}
