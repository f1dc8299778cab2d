package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_buildChangesQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		deleted   bool
		limit     int
		wantLimit string
	}{
		{name: "live objects", limit: 11, wantLimit: "LIMIT 11"},
		{name: "tombstones", deleted: true, limit: 3, wantLimit: "LIMIT 3"},
		{name: "no limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildChangesQuery("work", since, tt.deleted, tt.limit)
			require.NoError(t, err)

			q := strings.ToLower(query)
			assert.Contains(t, q, "from calendar_objects")
			assert.Contains(t, q, "last_modified > $3")
			assert.Contains(t, q, "order by last_modified, object_id")
			if tt.wantLimit != "" {
				assert.True(t, strings.HasSuffix(query, tt.wantLimit), query)
			} else {
				assert.NotContains(t, q, "limit")
			}

			require.Len(t, args, 3)
			assert.Equal(t, tt.deleted, args[0])
			assert.Equal(t, "work", args[1])
			assert.Equal(t, since, args[2])
		})
	}
}

func Test_buildUIDQuery(t *testing.T) {
	query, args, err := buildUIDQuery("work", "uid-1", time.Time{})
	require.NoError(t, err)
	assert.Contains(t, query, "recurrence_position IS NULL")
	assert.Equal(t, []any{false, "work", "uid-1"}, args)

	position := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	query, args, err = buildUIDQuery("work", "uid-1", position)
	require.NoError(t, err)
	assert.Contains(t, query, "recurrence_position = $3")
	assert.Equal(t, []any{false, "work", position, "uid-1"}, args)
}

func Test_buildByIDQuery_Locks(t *testing.T) {
	query, _, err := buildByIDQuery("work", "o1", true)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(query, "FOR UPDATE"))

	query, _, err = buildByIDQuery("work", "o1", false)
	require.NoError(t, err)
	assert.NotContains(t, query, "FOR UPDATE")
}

func Test_buildTombstoneQuery(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args, err := buildTombstoneQuery("work", []string{"a", "b"}, ts)
	require.NoError(t, err)
	assert.Contains(t, query, "SET deleted = $1, last_modified = $2")
	assert.Contains(t, query, "object_id IN ($5,$6)")
	assert.Equal(t, []any{true, ts, false, "work", "a", "b"}, args)
}

func Test_buildInsertQuery_CarriesTextColumns(t *testing.T) {
	obj := storage.NewMockEvent("work", "o1", "uid", "Planning", time.Now(), time.Now())
	r, err := rowFromObject(obj)
	require.NoError(t, err)

	query, args, err := buildInsertQuery(r)
	require.NoError(t, err)
	assert.Contains(t, query, "INSERT INTO calendar_objects")
	assert.Contains(t, args, "Planning")
	assert.Len(t, args, 15)
}

func TestRowRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	master := storage.NewMockSeries("work", "m1", "standup", "Daily, with commas; and semicolons", start, start)
	master.DeleteExceptions = []time.Time{start.AddDate(0, 0, 1), start.AddDate(0, 0, 4)}

	r, err := rowFromObject(master)
	require.NoError(t, err)
	assert.Equal(t, "20240102T090000Z,20240105T090000Z", r.DeleteExceptions)
	assert.False(t, r.RecurrencePosition.Valid)

	got, err := r.object()
	require.NoError(t, err)
	assert.Equal(t, master.DeleteExceptions, got.DeleteExceptions)
	assert.Equal(t, "Daily, with commas; and semicolons", storage.TextValue(got.Component, "SUMMARY"))
	assert.True(t, got.IsMaster())
}

func Test_buildFolderQueries(t *testing.T) {
	query, args, err := buildFolderLockQuery("work")
	require.NoError(t, err)
	assert.Equal(t, "SELECT pg_advisory_xact_lock(hashtext($1))", query)
	assert.Equal(t, []any{"work"}, args)

	query, args, err = buildFolderFloorQuery("work")
	require.NoError(t, err)
	assert.Equal(t, "SELECT MAX(last_modified) FROM calendar_objects WHERE folder_id = $1", query)
	assert.NotContains(t, strings.ToLower(query), "deleted", "tombstones raise the floor too")
	assert.Equal(t, []any{"work"}, args)

	query, args, err = buildSeriesOfQuery("work", "invite")
	require.NoError(t, err)
	assert.Contains(t, query, "recurrence_id <> $4")
	assert.True(t, strings.HasSuffix(query, "LIMIT 1"), query)
	assert.Equal(t, []any{false, "work", "invite", ""}, args)
}
