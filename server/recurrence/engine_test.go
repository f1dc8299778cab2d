package recurrence

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_IsOccurrence(t *testing.T) {
	engine := NewEngine()

	// Base event: monthly meeting at 9 AM on the 10th, starting Jan 10, 2024
	masterStart := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		recurrence RecurrenceInfo
		position   time.Time
		expected   bool
	}{
		{
			name:       "Master start is always an occurrence",
			recurrence: RecurrenceInfo{RRULE: "FREQ=MONTHLY;BYMONTHDAY=10"},
			position:   masterStart,
			expected:   true,
		},
		{
			name:       "Rule occurrence",
			recurrence: RecurrenceInfo{RRULE: "FREQ=MONTHLY;BYMONTHDAY=10"},
			position:   time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
			expected:   true,
		},
		{
			name:       "Wrong time of day",
			recurrence: RecurrenceInfo{RRULE: "FREQ=MONTHLY;BYMONTHDAY=10"},
			position:   time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
			expected:   false,
		},
		{
			name:       "After COUNT is exhausted",
			recurrence: RecurrenceInfo{RRULE: "FREQ=MONTHLY;COUNT=2"},
			position:   time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
			expected:   false,
		},
		{
			name:       "RDATE",
			recurrence: RecurrenceInfo{RDATE: []time.Time{time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC)}},
			position:   time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC),
			expected:   true,
		},
		{
			name:       "Non-recurring event",
			recurrence: RecurrenceInfo{},
			position:   time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC),
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.IsOccurrence(masterStart, tt.recurrence, tt.position)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEngine_IsOccurrenceAllDay(t *testing.T) {
	engine := NewEngine()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	info := RecurrenceInfo{RRULE: "FREQ=WEEKLY", AllDay: true}

	ok, err := engine.IsOccurrence(start, info, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.IsOccurrence(start, info, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_IsOccurrenceInvalidRule(t *testing.T) {
	_, err := NewEngine().IsOccurrence(time.Now(), RecurrenceInfo{RRULE: "FREQ=SOMETIMES"}, time.Now().Add(time.Hour))
	assert.Error(t, err)
}

func TestEngine_Occurrences(t *testing.T) {
	engine := NewEngine()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	info := RecurrenceInfo{
		RRULE:  "FREQ=DAILY;COUNT=5",
		EXDATE: []time.Time{time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)},
	}

	got, err := engine.Occurrences(start, info, start, start.AddDate(0, 0, 4))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		start,
		start.AddDate(0, 0, 1),
		start.AddDate(0, 0, 3),
	}, got)
}

func TestExtractRecurrenceInfoFromComponent(t *testing.T) {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetDateTime(ical.PropDateTimeStart, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))

	info, err := ExtractRecurrenceInfoFromComponent(comp)
	require.NoError(t, err)
	assert.Equal(t, "", info.RRULE)
	assert.Empty(t, info.RDATE)
	assert.Empty(t, info.EXDATE)
	assert.False(t, info.IsRecurring())

	rrule := ical.NewProp(ical.PropRecurrenceRule)
	rrule.Value = "FREQ=WEEKLY"
	comp.Props.Set(rrule)
	exdate := ical.NewProp(ical.PropExceptionDates)
	exdate.Value = "20240108T090000Z,20240115T090000Z"
	comp.Props.Add(exdate)

	info, err = ExtractRecurrenceInfoFromComponent(comp)
	require.NoError(t, err)
	assert.Equal(t, "FREQ=WEEKLY", info.RRULE)
	assert.Len(t, info.EXDATE, 2)
	assert.True(t, info.IsRecurring())

	start, err := MasterStart(comp)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), start)

	_, err = MasterStart(ical.NewComponent(ical.CompEvent))
	assert.Error(t, err)
}
