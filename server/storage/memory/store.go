// memory based implementation for testing purposes
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

// DefaultFieldLimits mirrors the column sizes of a typical groupware schema.
var DefaultFieldLimits = map[string]int{
	ical.PropSummary:     255,
	ical.PropLocation:    255,
	ical.PropCategories:  1024,
	ical.PropDescription: 10000,
}

// Store implements storage.Store using in-memory maps
type Store struct {
	mu         sync.RWMutex
	objects    map[string]*storage.CalendarObject // key: folderID/objectID
	tombstones []storage.CalendarObject
	limits     map[string]int
	resultCap  int
	now        func() time.Time
	last       time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFieldLimits overrides the maximum field lengths.
func WithFieldLimits(limits map[string]int) Option {
	return func(s *Store) { s.limits = limits }
}

// WithResultCap caps every GetModified/GetDeleted page, like a server-side query limit.
func WithResultCap(n int) Option {
	return func(s *Store) { s.resultCap = n }
}

// New creates a new in-memory storage
func New(opts ...Option) *Store {
	s := &Store{
		objects: make(map[string]*storage.CalendarObject),
		limits:  DefaultFieldLimits,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func objectKey(folderID, objectID string) string {
	return folderID + "/" + objectID
}

// stamp returns a strictly increasing millisecond timestamp. Callers hold the lock.
func (s *Store) stamp() time.Time {
	t := storage.Millis(s.now())
	if !t.After(s.last) {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return t
}

// ChangeSource

func (s *Store) GetModified(_ context.Context, folderID string, since time.Time, limit int) (storage.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.CalendarObject
	for _, obj := range s.objects {
		if obj.FolderID == folderID && obj.LastModified.After(since) {
			out = append(out, obj.Clone())
		}
	}
	return s.page(out, limit), nil
}

func (s *Store) GetDeleted(_ context.Context, folderID string, since time.Time, limit int) (storage.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.CalendarObject
	for _, obj := range s.tombstones {
		if obj.FolderID == folderID && obj.LastModified.After(since) {
			out = append(out, obj.Clone())
		}
	}
	return s.page(out, limit), nil
}

func (s *Store) page(objects []storage.CalendarObject, limit int) storage.Page {
	sort.Slice(objects, func(i, j int) bool {
		if objects[i].LastModified.Equal(objects[j].LastModified) {
			return objects[i].ObjectID < objects[j].ObjectID
		}
		return objects[i].LastModified.Before(objects[j].LastModified)
	})
	n := s.resultCap
	if limit > 0 && (n <= 0 || limit < n) {
		n = limit
	}
	if n > 0 && len(objects) > n {
		return storage.Page{Objects: objects[:n], Truncated: true}
	}
	return storage.Page{Objects: objects}
}

func (s *Store) GetAll(_ context.Context, folderID string) ([]storage.CalendarObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.CalendarObject
	for _, obj := range s.objects {
		if obj.FolderID == folderID {
			out = append(out, obj.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectID < out[j].ObjectID })
	return out, nil
}

func (s *Store) GetByID(_ context.Context, folderID, objectID string) (*storage.CalendarObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[objectKey(folderID, objectID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := obj.Clone()
	return &c, nil
}

// BackendWriter

func (s *Store) Create(_ context.Context, obj storage.CalendarObject) (*storage.CalendarObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(&obj); err != nil {
		return nil, err
	}

	if conflict := s.findByUID(obj.FolderID, obj.UID, obj.RecurrencePosition); conflict != nil {
		return nil, &storage.ValidationError{
			Field:               ical.PropUID,
			Reason:              storage.ReasonDuplicateUID,
			ConflictingObjectID: conflict.ObjectID,
			Message:             "uid already exists in folder",
		}
	}

	created := obj.Clone()
	created.ObjectID = uuid.NewString()
	created.ClearedFields = nil
	switch {
	case created.Component.Props.Get(ical.PropRecurrenceRule) != nil:
		created.RecurrenceID = created.ObjectID
		dates, err := storage.ExceptionDates(created.Component)
		if err != nil {
			return nil, &storage.ValidationError{Field: ical.PropExceptionDates, Reason: storage.ReasonUnsupported, Message: err.Error()}
		}
		created.DeleteExceptions = append(created.DeleteExceptions, dates...)
		created.Component.Props.Del(ical.PropExceptionDates)
	case !created.RecurrencePosition.IsZero():
		// an occurrence whose series master is not visible here joins the
		// occurrences of its UID already stored
		created.RecurrenceID = s.seriesOf(obj.FolderID, obj.UID, obj.RecurrenceID)
	default:
		created.RecurrenceID = ""
	}
	created.Created = s.stamp()
	created.LastModified = created.Created

	s.objects[objectKey(created.FolderID, created.ObjectID)] = &created
	out := created.Clone()
	return &out, nil
}

func (s *Store) Update(_ context.Context, obj storage.CalendarObject, folderID string, expected time.Time) (*storage.CalendarObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.objects[objectKey(folderID, obj.ObjectID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if expected.Before(target.LastModified) {
		return nil, storage.ErrConflict
	}
	obj.Kind = target.Kind
	if err := s.validate(&obj); err != nil {
		return nil, err
	}

	if !obj.RecurrencePosition.IsZero() && target.IsMaster() {
		return s.upsertException(target, obj)
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
	target.LastModified = s.stamp()
	out := target.Clone()
	return &out, nil
}

// upsertException creates or updates the change exception of master at the draft's position.
func (s *Store) upsertException(master *storage.CalendarObject, draft storage.CalendarObject) (*storage.CalendarObject, error) {
	ts := s.stamp()
	master.LastModified = ts
	master.DeleteExceptions = withoutDate(master.DeleteExceptions, draft.RecurrencePosition)

	if existing := s.exceptionAt(master, draft.RecurrencePosition); existing != nil {
		existing.Component = storage.MergeComponent(existing.Component, draft.Component, draft.ClearedFields)
		existing.LastModified = ts
		out := existing.Clone()
		return &out, nil
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
		RecurrencePosition: draft.RecurrencePosition,
		FolderID:           master.FolderID,
		Kind:               master.Kind,
		Created:            ts,
		LastModified:       ts,
		Filename:           master.Filename,
		Component:          comp,
	}
	s.objects[objectKey(exc.FolderID, exc.ObjectID)] = &exc
	out := exc.Clone()
	return &out, nil
}

func (s *Store) Delete(_ context.Context, obj storage.CalendarObject, folderID string, expected time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.objects[objectKey(folderID, obj.ObjectID)]
	if !ok {
		return time.Time{}, storage.ErrNotFound
	}
	if expected.Before(target.LastModified) {
		return time.Time{}, storage.ErrConflict
	}

	ts := s.stamp()

	if !obj.RecurrencePosition.IsZero() && target.IsMaster() {
		if exc := s.exceptionAt(target, obj.RecurrencePosition); exc != nil {
			s.remove(exc, ts)
		}
		target.DeleteExceptions = withDate(target.DeleteExceptions, obj.RecurrencePosition)
		target.LastModified = ts
		return ts, nil
	}

	if target.IsMaster() {
		for _, other := range s.objects {
			if other.FolderID == folderID && other.RecurrenceID == target.ObjectID && other.IsException() {
				s.remove(other, ts)
			}
		}
	}
	if target.IsException() {
		if master, ok := s.objects[objectKey(folderID, target.RecurrenceID)]; ok {
			master.DeleteExceptions = withDate(master.DeleteExceptions, target.RecurrencePosition)
			master.LastModified = ts
		}
	}
	s.remove(target, ts)
	return ts, nil
}

// Move relocates a series to another folder, the way a groupware client would: the
// source folder gets tombstones and the destination new objects with the same UID.
func (s *Store) Move(_ context.Context, folderID, objectID, destFolderID string) (*storage.CalendarObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.objects[objectKey(folderID, objectID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	ts := s.stamp()

	moved := target.Clone()
	moved.FolderID = destFolderID
	moved.ObjectID = uuid.NewString()
	if target.IsMaster() {
		moved.RecurrenceID = moved.ObjectID
	}
	moved.Created = ts
	moved.LastModified = ts

	if target.IsMaster() {
		for _, other := range s.objects {
			if other.FolderID == folderID && other.RecurrenceID == target.ObjectID && other.IsException() {
				exc := other.Clone()
				exc.FolderID = destFolderID
				exc.ObjectID = uuid.NewString()
				exc.RecurrenceID = moved.ObjectID
				exc.Created = ts
				exc.LastModified = ts
				s.objects[objectKey(destFolderID, exc.ObjectID)] = &exc
				s.remove(other, ts)
			}
		}
	}
	s.remove(target, ts)
	s.objects[objectKey(destFolderID, moved.ObjectID)] = &moved

	out := moved.Clone()
	return &out, nil
}

func (s *Store) remove(obj *storage.CalendarObject, ts time.Time) {
	delete(s.objects, objectKey(obj.FolderID, obj.ObjectID))
	tomb := obj.Clone()
	tomb.LastModified = ts
	s.tombstones = append(s.tombstones, tomb)
}

func (s *Store) validate(obj *storage.CalendarObject) error {
	if obj.Component == nil {
		return &storage.ValidationError{Reason: storage.ReasonUnsupported, Message: "missing component"}
	}
	if want := obj.Kind.Capability().Component; want != "" && obj.Component.Name != want {
		return &storage.ValidationError{
			Reason:  storage.ReasonUnsupported,
			Message: obj.Component.Name + " cannot be stored as " + string(obj.Kind),
		}
	}
	return storage.ValidateText(obj.Component, s.limits)
}

func (s *Store) findByUID(folderID, uid string, position time.Time) *storage.CalendarObject {
	for _, obj := range s.objects {
		if obj.FolderID != folderID || obj.UID != uid {
			continue
		}
		if position.IsZero() && !obj.IsException() {
			return obj
		}
		if !position.IsZero() && obj.IsException() && storage.SamePosition(obj.RecurrencePosition, position) {
			return obj
		}
	}
	return nil
}

// seriesOf returns the recurrence ID shared by the stored objects of uid, falling
// back to fallback or a fresh ID.
func (s *Store) seriesOf(folderID, uid, fallback string) string {
	for _, obj := range s.objects {
		if obj.FolderID == folderID && obj.UID == uid && obj.RecurrenceID != "" {
			return obj.RecurrenceID
		}
	}
	if fallback != "" {
		return fallback
	}
	return uuid.NewString()
}

func (s *Store) exceptionAt(master *storage.CalendarObject, position time.Time) *storage.CalendarObject {
	for _, obj := range s.objects {
		if obj.FolderID == master.FolderID && obj.RecurrenceID == master.ObjectID && obj.IsException() &&
			storage.SamePosition(obj.RecurrencePosition, position) {
			return obj
		}
	}
	return nil
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
