// Package postgres implements storage.Store on PostgreSQL. Deleted objects are kept
// as tombstone rows so GetDeleted can report them.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/storage/postgres/migrations"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DefaultResultCap bounds GetModified and GetDeleted pages.
const DefaultResultCap = 500

// Store is a PostgreSQL backed storage.Store.
type Store struct {
	db        *sql.DB
	now       func() time.Time
	resultCap int
	logger    *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for stamping modifications.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithResultCap sets the page cap. n <= 0 disables it.
func WithResultCap(n int) Option {
	return func(s *Store) { s.resultCap = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps an open database. The schema is expected to be migrated.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:        db,
		now:       time.Now,
		resultCap: DefaultResultCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Open connects to dsn, migrates the schema and returns the store.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("error occured during database connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting database (ping): %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := New(db, opts...)
	s.logger.Info("connected to database successfully")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// stamp returns the millisecond modification time of a write, strictly after floor.
func (s *Store) stamp(floor time.Time) time.Time {
	t := storage.Millis(s.now())
	if !t.After(floor) {
		t = storage.Millis(floor).Add(time.Millisecond)
	}
	return t
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

// inFolderTx runs fn holding the folder's write lock. floor is the newest stamp the
// folder has handed out, tombstones included; every stamp of fn must be after it.
// Writers of a folder commit in stamp order, so no sync reads a watermark past a
// row that is not yet visible.
func (s *Store) inFolderTx(ctx context.Context, folderID string, fn func(tx *sql.Tx, floor time.Time) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		query, args, err := buildFolderLockQuery(folderID)
		if err != nil {
			return fmt.Errorf("error building lock query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("error locking folder: %w", err)
		}

		query, args, err = buildFolderFloorQuery(folderID)
		if err != nil {
			return fmt.Errorf("error building query: %w", err)
		}
		var floor sql.NullTime
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&floor); err != nil {
			return err
		}
		return fn(tx, floor.Time.UTC())
	})
}

// ChangeSource

func (s *Store) GetModified(ctx context.Context, folderID string, since time.Time, limit int) (storage.Page, error) {
	return s.changes(ctx, folderID, since, limit, false)
}

func (s *Store) GetDeleted(ctx context.Context, folderID string, since time.Time, limit int) (storage.Page, error) {
	return s.changes(ctx, folderID, since, limit, true)
}

// changes reads one row past the cap to learn whether the page is truncated.
func (s *Store) changes(ctx context.Context, folderID string, since time.Time, limit int, deleted bool) (storage.Page, error) {
	n := s.resultCap
	if limit > 0 && (n <= 0 || limit < n) {
		n = limit
	}
	fetch := 0
	if n > 0 {
		fetch = n + 1
	}

	query, args, err := buildChangesQuery(folderID, since.UTC(), deleted, fetch)
	if err != nil {
		return storage.Page{}, fmt.Errorf("error building changes query: %w", err)
	}
	objects, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return storage.Page{}, mapError(err, storage.CalendarObject{})
	}
	if n > 0 && len(objects) > n {
		return storage.Page{Objects: objects[:n], Truncated: true}, nil
	}
	return storage.Page{Objects: objects}, nil
}

func (s *Store) GetAll(ctx context.Context, folderID string) ([]storage.CalendarObject, error) {
	query, args, err := buildAllQuery(folderID)
	if err != nil {
		return nil, fmt.Errorf("error building query: %w", err)
	}
	objects, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, mapError(err, storage.CalendarObject{})
	}
	return objects, nil
}

func (s *Store) GetByID(ctx context.Context, folderID, objectID string) (*storage.CalendarObject, error) {
	obj, err := s.load(ctx, s.db, folderID, objectID, false)
	if err != nil {
		return nil, mapError(err, storage.CalendarObject{})
	}
	return &obj, nil
}

func (s *Store) query(ctx context.Context, q querier, query string, args ...any) ([]storage.CalendarObject, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing sql query: %w", err)
	}
	defer rows.Close()

	var out []storage.CalendarObject
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar object row: %w", err)
		}
		obj, err := r.object()
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func (s *Store) load(ctx context.Context, q querier, folderID, objectID string, forUpdate bool) (storage.CalendarObject, error) {
	query, args, err := buildByIDQuery(folderID, objectID, forUpdate)
	if err != nil {
		return storage.CalendarObject{}, fmt.Errorf("error building query: %w", err)
	}
	r, err := scanRow(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return storage.CalendarObject{}, err
	}
	return r.object()
}

// BackendWriter

func (s *Store) Create(ctx context.Context, obj storage.CalendarObject) (*storage.CalendarObject, error) {
	if err := validate(obj); err != nil {
		return nil, err
	}

	var created storage.CalendarObject
	err := s.inFolderTx(ctx, obj.FolderID, func(tx *sql.Tx, floor time.Time) error {
		conflict, err := s.findByUID(ctx, tx, obj.FolderID, obj.UID, obj.RecurrencePosition)
		if err != nil {
			return err
		}
		if conflict != "" {
			return &storage.ValidationError{
				Field:               ical.PropUID,
				Reason:              storage.ReasonDuplicateUID,
				ConflictingObjectID: conflict,
				Message:             "uid already exists in folder",
			}
		}

		created = obj.Clone()
		created.ObjectID = uuid.NewString()
		created.ClearedFields = nil
		switch {
		case created.Component.Props.Get(ical.PropRecurrenceRule) != nil:
			created.RecurrenceID = created.ObjectID
			dates, err := storage.ExceptionDates(created.Component)
			if err != nil {
				return &storage.ValidationError{Field: ical.PropExceptionDates, Reason: storage.ReasonUnsupported, Message: err.Error()}
			}
			created.DeleteExceptions = append(created.DeleteExceptions, dates...)
			created.Component.Props.Del(ical.PropExceptionDates)
		case !created.RecurrencePosition.IsZero():
			// an occurrence whose series master is not visible here joins the
			// occurrences of its UID already stored
			id, err := s.seriesOf(ctx, tx, obj.FolderID, obj.UID)
			if err != nil {
				return err
			}
			switch {
			case id != "":
				created.RecurrenceID = id
			case obj.RecurrenceID != "":
				created.RecurrenceID = obj.RecurrenceID
			default:
				created.RecurrenceID = uuid.NewString()
			}
		default:
			created.RecurrenceID = ""
		}
		created.Created = s.stamp(floor)
		created.LastModified = created.Created

		return s.insert(ctx, tx, created)
	})
	if err != nil {
		return nil, mapError(err, obj)
	}
	return &created, nil
}

func (s *Store) Update(ctx context.Context, obj storage.CalendarObject, folderID string, expected time.Time) (*storage.CalendarObject, error) {
	var out storage.CalendarObject
	err := s.inFolderTx(ctx, folderID, func(tx *sql.Tx, floor time.Time) error {
		target, err := s.load(ctx, tx, folderID, obj.ObjectID, true)
		if err != nil {
			return err
		}
		if expected.Before(target.LastModified) {
			return storage.ErrConflict
		}
		obj.Kind = target.Kind
		if err := validate(obj); err != nil {
			return err
		}

		if !obj.RecurrencePosition.IsZero() && target.IsMaster() {
			out, err = s.upsertException(ctx, tx, target, obj, later(floor, target.LastModified))
			return err
		}

		target.Component = storage.MergeComponent(target.Component, obj.Component, obj.ClearedFields)
		target.Component.Props.Del(ical.PropExceptionDates)
		if target.RecurrenceID == "" && target.Component.Props.Get(ical.PropRecurrenceRule) != nil {
			// a single object that gained a rule becomes a series master
			target.RecurrenceID = target.ObjectID
		}
		if obj.Filename != "" {
			target.Filename = obj.Filename
		}
		target.LastModified = s.stamp(later(floor, target.LastModified))
		out = target
		return s.save(ctx, tx, target)
	})
	if err != nil {
		return nil, mapError(err, obj)
	}
	return &out, nil
}

func (s *Store) upsertException(ctx context.Context, tx *sql.Tx, master, draft storage.CalendarObject, floor time.Time) (storage.CalendarObject, error) {
	ts := s.stamp(floor)
	master.LastModified = ts
	master.DeleteExceptions = withoutDate(master.DeleteExceptions, draft.RecurrencePosition)
	if err := s.save(ctx, tx, master); err != nil {
		return storage.CalendarObject{}, err
	}

	existing, found, err := s.exceptionAt(ctx, tx, master, draft.RecurrencePosition)
	if err != nil {
		return storage.CalendarObject{}, err
	}
	if found {
		existing.Component = storage.MergeComponent(existing.Component, draft.Component, draft.ClearedFields)
		existing.LastModified = ts
		return existing, s.save(ctx, tx, existing)
	}

	base := storage.CloneComponent(master.Component)
	for _, name := range []string{ical.PropRecurrenceRule, ical.PropRecurrenceDates, ical.PropExceptionDates} {
		base.Props.Del(name)
	}
	comp := storage.MergeComponent(base, draft.Component, draft.ClearedFields)
	comp.Props.SetDateTime(ical.PropRecurrenceID, draft.RecurrencePosition)

	exc := storage.CalendarObject{
		UID:                master.UID,
		ObjectID:           uuid.NewString(),
		RecurrenceID:       master.ObjectID,
		RecurrencePosition: draft.RecurrencePosition.UTC(),
		FolderID:           master.FolderID,
		Kind:               master.Kind,
		Created:            ts,
		LastModified:       ts,
		Filename:           master.Filename,
		Component:          comp,
	}
	return exc, s.insert(ctx, tx, exc)
}

func (s *Store) Delete(ctx context.Context, obj storage.CalendarObject, folderID string, expected time.Time) (time.Time, error) {
	var ts time.Time
	err := s.inFolderTx(ctx, folderID, func(tx *sql.Tx, floor time.Time) error {
		target, err := s.load(ctx, tx, folderID, obj.ObjectID, true)
		if err != nil {
			return err
		}
		if expected.Before(target.LastModified) {
			return storage.ErrConflict
		}
		ts = s.stamp(later(floor, target.LastModified))

		switch {
		case !obj.RecurrencePosition.IsZero() && target.IsMaster():
			exc, found, err := s.exceptionAt(ctx, tx, target, obj.RecurrencePosition)
			if err != nil {
				return err
			}
			if found {
				if err := s.tombstone(ctx, tx, folderID, ts, exc.ObjectID); err != nil {
					return err
				}
			}
			target.DeleteExceptions = withDate(target.DeleteExceptions, obj.RecurrencePosition)
			target.LastModified = ts
			return s.save(ctx, tx, target)
		case target.IsMaster():
			query, args, err := buildSeriesTombstoneQuery(folderID, target.ObjectID, ts)
			if err != nil {
				return fmt.Errorf("error building query: %w", err)
			}
			_, err = tx.ExecContext(ctx, query, args...)
			return err
		case target.IsException():
			master, err := s.load(ctx, tx, folderID, target.RecurrenceID, true)
			switch {
			case err == nil:
				if !ts.After(master.LastModified) {
					ts = s.stamp(master.LastModified)
				}
				master.DeleteExceptions = withDate(master.DeleteExceptions, target.RecurrencePosition)
				master.LastModified = ts
				if err := s.save(ctx, tx, master); err != nil {
					return err
				}
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}
		return s.tombstone(ctx, tx, folderID, ts, target.ObjectID)
	})
	if err != nil {
		return time.Time{}, mapError(err, obj)
	}
	return ts, nil
}

func (s *Store) insert(ctx context.Context, q querier, obj storage.CalendarObject) error {
	r, err := rowFromObject(obj)
	if err != nil {
		return err
	}
	query, args, err := buildInsertQuery(r)
	if err != nil {
		return fmt.Errorf("error building insert query: %w", err)
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) save(ctx context.Context, q querier, obj storage.CalendarObject) error {
	r, err := rowFromObject(obj)
	if err != nil {
		return err
	}
	query, args, err := buildUpdateQuery(r)
	if err != nil {
		return fmt.Errorf("error building update query: %w", err)
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) tombstone(ctx context.Context, q querier, folderID string, ts time.Time, objectIDs ...string) error {
	query, args, err := buildTombstoneQuery(folderID, objectIDs, ts)
	if err != nil {
		return fmt.Errorf("error building query: %w", err)
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) findByUID(ctx context.Context, q querier, folderID, uid string, position time.Time) (string, error) {
	query, args, err := buildUIDQuery(folderID, uid, position)
	if err != nil {
		return "", fmt.Errorf("error building query: %w", err)
	}
	var objectID string
	err = q.QueryRowContext(ctx, query, args...).Scan(&objectID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return objectID, err
}

// seriesOf returns the recurrence ID the stored objects of uid share, if any.
func (s *Store) seriesOf(ctx context.Context, q querier, folderID, uid string) (string, error) {
	query, args, err := buildSeriesOfQuery(folderID, uid)
	if err != nil {
		return "", fmt.Errorf("error building query: %w", err)
	}
	var id string
	err = q.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

func (s *Store) exceptionAt(ctx context.Context, q querier, master storage.CalendarObject, position time.Time) (storage.CalendarObject, bool, error) {
	query, args, err := buildExceptionQuery(master.FolderID, master.ObjectID, position)
	if err != nil {
		return storage.CalendarObject{}, false, fmt.Errorf("error building query: %w", err)
	}
	r, err := scanRow(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return storage.CalendarObject{}, false, nil
	}
	if err != nil {
		return storage.CalendarObject{}, false, err
	}
	obj, err := r.object()
	return obj, err == nil, err
}

// validate rejects components of the wrong kind and characters text columns refuse.
// Lengths are left to the column constraints.
func validate(obj storage.CalendarObject) error {
	if obj.Component == nil {
		return &storage.ValidationError{Reason: storage.ReasonUnsupported, Message: "missing component"}
	}
	if want := obj.Kind.Capability().Component; want != "" && obj.Component.Name != want {
		return &storage.ValidationError{
			Reason:  storage.ReasonUnsupported,
			Message: obj.Component.Name + " cannot be stored as " + string(obj.Kind),
		}
	}
	return storage.ValidateText(obj.Component, nil)
}

func withDate(dates []time.Time, d time.Time) []time.Time {
	for _, existing := range dates {
		if storage.SamePosition(existing, d) {
			return dates
		}
	}
	return append(dates, d.UTC())
}

func withoutDate(dates []time.Time, d time.Time) []time.Time {
	out := dates[:0:0]
	for _, existing := range dates {
		if !storage.SamePosition(existing, d) {
			out = append(out, existing)
		}
	}
	return out
}
