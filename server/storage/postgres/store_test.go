package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0  = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newTestStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newTestDB(t)
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(db, opts...), mock
}

func objectRows(t *testing.T, objects ...storage.CalendarObject) *sqlmock.Rows {
	t.Helper()
	rows := sqlmock.NewRows(objectColumns)
	for _, obj := range objects {
		r, err := rowFromObject(obj)
		require.NoError(t, err)
		var position driver.Value
		if r.RecurrencePosition.Valid {
			position = r.RecurrencePosition.Time
		}
		rows.AddRow(r.FolderID, r.ObjectID, r.UID, r.RecurrenceID, position, r.Kind, r.Filename,
			r.DeleteExceptions, r.ICal, r.Created, r.LastModified)
	}
	return rows
}

func expectFolderLock(mock sqlmock.Sqlmock, folderID string, floor driver.Value) {
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs(folderID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT MAX\(last_modified\) FROM calendar_objects WHERE folder_id = \$1`).
		WithArgs(folderID).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(floor))
}

func TestGetModified_Truncated(t *testing.T) {
	s, mock := newTestStore(t, WithResultCap(2))

	mock.ExpectQuery(`SELECT (.+) FROM calendar_objects WHERE (.+) ORDER BY last_modified, object_id LIMIT 3`).
		WillReturnRows(objectRows(t,
			storage.NewMockEvent("work", "a", "uid-a", "A", t0, t0),
			storage.NewMockEvent("work", "b", "uid-b", "B", t0, t0.Add(time.Second)),
			storage.NewMockEvent("work", "c", "uid-c", "C", t0, t0.Add(2*time.Second)),
		))

	page, err := s.GetModified(context.Background(), "work", time.Time{}, 0)
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	require.Len(t, page.Objects, 2)
	assert.Equal(t, "a", page.Objects[0].ObjectID)
	assert.Equal(t, "A", storage.TextValue(page.Objects[0].Component, ical.PropSummary))
	assert.Equal(t, t0.Add(time.Second), page.Objects[1].LastModified)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetModified_ClientLimitBelowCap(t *testing.T) {
	s, mock := newTestStore(t, WithResultCap(100))

	mock.ExpectQuery(`LIMIT 2$`).
		WillReturnRows(objectRows(t, storage.NewMockEvent("work", "a", "uid-a", "A", t0, t0)))

	page, err := s.GetModified(context.Background(), "work", t0.Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.False(t, page.Truncated)
	assert.Len(t, page.Objects, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeleted_QueryFails(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM calendar_objects`).
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})

	_, err := s.GetDeleted(context.Background(), "work", t0, 0)
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
}

func TestGetByID(t *testing.T) {
	s, mock := newTestStore(t)

	master := storage.NewMockSeries("work", "m1", "standup", "Daily", t0, t0)
	master.DeleteExceptions = []time.Time{t0.AddDate(0, 0, 2)}
	mock.ExpectQuery(`SELECT (.+) FROM calendar_objects WHERE`).
		WithArgs(false, "work", "m1").
		WillReturnRows(objectRows(t, master))
	mock.ExpectQuery(`SELECT (.+) FROM calendar_objects WHERE`).
		WillReturnRows(sqlmock.NewRows(objectColumns))

	got, err := s.GetByID(context.Background(), "work", "m1")
	require.NoError(t, err)
	assert.True(t, got.IsMaster())
	assert.Equal(t, "standup", got.UID)
	require.Len(t, got.DeleteExceptions, 1)
	assert.True(t, got.DeleteExceptions[0].Equal(t0.AddDate(0, 0, 2)))
	assert.NotNil(t, got.Component.Props.Get(ical.PropRecurrenceRule))

	_, err = s.GetByID(context.Background(), "work", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	expectFolderLock(mock, "work", t0)
	mock.ExpectQuery(`SELECT object_id FROM calendar_objects`).
		WillReturnRows(sqlmock.NewRows([]string{"object_id"}))
	mock.ExpectExec(`INSERT INTO calendar_objects`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	obj := storage.NewMockSeries("work", "", "standup", "Daily", t0, time.Time{})
	obj.Component.Props.SetDateTime(ical.PropExceptionDates, t0.AddDate(0, 0, 1))

	created, err := s.Create(context.Background(), obj)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ObjectID)
	assert.Equal(t, created.ObjectID, created.RecurrenceID)
	assert.Equal(t, now, created.LastModified)
	assert.Equal(t, now, created.Created)
	assert.Len(t, created.DeleteExceptions, 1)
	assert.Nil(t, created.Component.Props.Get(ical.PropExceptionDates))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_OrphanJoinsStoredSeries(t *testing.T) {
	s, mock := newTestStore(t)
	position := t0.AddDate(0, 0, 3)

	mock.ExpectBegin()
	expectFolderLock(mock, "shared", nil)
	mock.ExpectQuery(`SELECT object_id FROM calendar_objects`).
		WillReturnRows(sqlmock.NewRows([]string{"object_id"}))
	mock.ExpectQuery(`SELECT recurrence_id FROM calendar_objects WHERE (.+) LIMIT 1`).
		WithArgs(false, "shared", "invite", "").
		WillReturnRows(sqlmock.NewRows([]string{"recurrence_id"}).AddRow("series-1"))
	mock.ExpectExec(`INSERT INTO calendar_objects`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	obj := storage.NewMockEvent("shared", "", "invite", "Meeting", position, time.Time{})
	obj.RecurrencePosition = position
	obj.Component.Props.SetDateTime(ical.PropRecurrenceID, position)

	created, err := s.Create(context.Background(), obj)
	require.NoError(t, err)
	assert.True(t, created.IsException())
	assert.Equal(t, "series-1", created.RecurrenceID)
	assert.Equal(t, now, created.LastModified)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DuplicateUID(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	expectFolderLock(mock, "work", t0)
	mock.ExpectQuery(`SELECT object_id FROM calendar_objects`).
		WillReturnRows(sqlmock.NewRows([]string{"object_id"}).AddRow("existing"))
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), storage.NewMockEvent("work", "", "dup", "x", t0, time.Time{}))
	verr, ok := storage.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, storage.ReasonDuplicateUID, verr.Reason)
	assert.Equal(t, "existing", verr.ConflictingObjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ColumnTooLong(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	expectFolderLock(mock, "work", t0)
	mock.ExpectQuery(`SELECT object_id FROM calendar_objects`).
		WillReturnRows(sqlmock.NewRows([]string{"object_id"}))
	mock.ExpectExec(`INSERT INTO calendar_objects`).
		WillReturnError(&pgconn.PgError{Code: "22001", Message: "value too long for type character varying(255)"})
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), storage.NewMockEvent("work", "", "long", strings.Repeat("s", 300), t0, time.Time{}))
	verr, ok := storage.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, storage.ReasonTooLong, verr.Reason)
	assert.Equal(t, ical.PropSummary, verr.Field)
	assert.Equal(t, 255, verr.MaxLength)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_InvalidCharactersNeverReachTheDatabase(t *testing.T) {
	s, mock := newTestStore(t)

	_, err := s.Create(context.Background(), storage.NewMockEvent("work", "", "uid", "bad\x00byte", t0, time.Time{}))
	verr, ok := storage.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, storage.ReasonInvalidCharacters, verr.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	s, mock := newTestStore(t)
	stored := storage.NewMockEvent("work", "o1", "uid", "Old", t0, t0)

	mock.ExpectBegin()
	expectFolderLock(mock, "work", t0)
	mock.ExpectQuery(`SELECT (.+) FROM calendar_objects WHERE (.+) FOR UPDATE`).
		WillReturnRows(objectRows(t, stored))
	mock.ExpectExec(`UPDATE calendar_objects SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	draft := storage.NewMockEvent("", "o1", "uid", "New", t0, time.Time{})
	updated, err := s.Update(context.Background(), draft, "work", t0)
	require.NoError(t, err)
	assert.Equal(t, "New", storage.TextValue(updated.Component, ical.PropSummary))
	assert.Equal(t, now, updated.LastModified)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_StampsAfterFolderFloor(t *testing.T) {
	s, mock := newTestStore(t)
	stored := storage.NewMockEvent("work", "o1", "uid", "Old", t0, t0)
	// another row of the folder carries a stamp ahead of this node's clock
	floor := now.Add(time.Hour)

	mock.ExpectBegin()
	expectFolderLock(mock, "work", floor)
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(objectRows(t, stored))
	mock.ExpectExec(`UPDATE calendar_objects SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := s.Update(context.Background(), storage.NewMockEvent("", "o1", "uid", "New", t0, time.Time{}), "work", t0)
	require.NoError(t, err)
	assert.Equal(t, floor.Add(time.Millisecond), updated.LastModified)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_LockFails(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnError(errors.New("canceling statement due to lock timeout"))
	mock.ExpectRollback()

	_, err := s.Update(context.Background(), storage.NewMockEvent("", "o1", "uid", "x", t0, time.Time{}), "work", t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error locking folder")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_Conflict(t *testing.T) {
	s, mock := newTestStore(t)
	stored := storage.NewMockEvent("work", "o1", "uid", "Old", t0, t0.Add(time.Minute))

	mock.ExpectBegin()
	expectFolderLock(mock, "work", t0)
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(objectRows(t, stored))
	mock.ExpectRollback()

	_, err := s.Update(context.Background(), storage.NewMockEvent("", "o1", "uid", "New", t0, time.Time{}), "work", t0)
	assert.ErrorIs(t, err, storage.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_CreatesException(t *testing.T) {
	s, mock := newTestStore(t)
	master := storage.NewMockSeries("work", "m1", "standup", "Daily", t0, t0)
	position := t0.AddDate(0, 0, 3)

	mock.ExpectBegin()
	expectFolderLock(mock, "work", t0)
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(objectRows(t, master))
	mock.ExpectExec(`UPDATE calendar_objects SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`recurrence_position = (.+) FOR UPDATE`).WillReturnRows(sqlmock.NewRows(objectColumns))
	mock.ExpectExec(`INSERT INTO calendar_objects`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	draft := storage.NewMockEvent("", "m1", "standup", "Moved", position.Add(time.Hour), time.Time{})
	draft.RecurrencePosition = position

	exc, err := s.Update(context.Background(), draft, "work", t0)
	require.NoError(t, err)
	assert.True(t, exc.IsException())
	assert.Equal(t, "m1", exc.RecurrenceID)
	assert.True(t, exc.RecurrencePosition.Equal(position))
	assert.Nil(t, exc.Component.Props.Get(ical.PropRecurrenceRule))
	assert.NotNil(t, exc.Component.Props.Get(ical.PropRecurrenceID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_MasterTombstonesSeries(t *testing.T) {
	s, mock := newTestStore(t)
	master := storage.NewMockSeries("work", "m1", "standup", "Daily", t0, t0)

	mock.ExpectBegin()
	expectFolderLock(mock, "work", t0)
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(objectRows(t, master))
	mock.ExpectExec(`UPDATE calendar_objects SET deleted = (.+), last_modified = (.+) WHERE`).
		WithArgs(true, now, false, "work", "m1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	ts, err := s.Delete(context.Background(), master, "work", t0)
	require.NoError(t, err)
	assert.Equal(t, now, ts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_Stale(t *testing.T) {
	s, mock := newTestStore(t)
	stored := storage.NewMockEvent("work", "o1", "uid", "x", t0, t0.Add(time.Second))

	mock.ExpectBegin()
	expectFolderLock(mock, "work", t0)
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(objectRows(t, stored))
	mock.ExpectRollback()

	_, err := s.Delete(context.Background(), stored, "work", t0)
	assert.ErrorIs(t, err, storage.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStampIsStrictlyAfterFloor(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, now, s.stamp(t0))
	assert.Equal(t, now.Add(time.Millisecond), s.stamp(now))
	assert.Equal(t, now.Add(time.Hour+time.Millisecond), s.stamp(now.Add(time.Hour)))
}

func TestBeginFails(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := s.Update(context.Background(), storage.NewMockEvent("", "o1", "uid", "x", t0, time.Time{}), "work", t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error starting transaction")
}
