package recurrence

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/samber/mo"
)

var (
	// ErrContradictorySeries is returned when one date is both changed and deleted.
	ErrContradictorySeries = errors.New("recurrence date is both changed and deleted")
	// ErrDuplicatePosition is returned when two change exceptions override the same date.
	ErrDuplicatePosition = errors.New("duplicate recurrence position")
)

// OpKind is the backend call an Operation stands for.
type OpKind int

const (
	// OpCreateMaster creates the series master, or the single object.
	OpCreateMaster OpKind = iota
	// OpUpdateMaster updates the stored master.
	OpUpdateMaster
	// OpUpdateException updates a stored change exception.
	OpUpdateException
	// OpCreateException materializes an occurrence as a change exception of the master.
	OpCreateException
	// OpDeleteException deletes a stored change exception object.
	OpDeleteException
	// OpDeleteOccurrence excludes a date from the master's recurrence.
	OpDeleteOccurrence
)

func (k OpKind) String() string {
	switch k {
	case OpCreateMaster:
		return "create-master"
	case OpUpdateMaster:
		return "update-master"
	case OpUpdateException:
		return "update-exception"
	case OpCreateException:
		return "create-exception"
	case OpDeleteException:
		return "delete-exception"
	case OpDeleteOccurrence:
		return "delete-occurrence"
	default:
		return "unknown"
	}
}

// Operation is one backend write of a reconciled series.
type Operation struct {
	Kind OpKind
	// Draft carries the fields to write. For exception operations RecurrenceID holds
	// the master's ObjectID when it is already known.
	Draft storage.CalendarObject
	// Target is the stored object the operation updates or deletes.
	Target mo.Option[storage.CalendarObject]
	// Position is the recurrence date of exception and delete operations.
	Position time.Time
}

// Reconciler turns an incoming series into the ordered backend operations that make
// the stored series match it.
type Reconciler struct {
	Engine *Engine
	Logger *slog.Logger
}

// NewReconciler creates a reconciler with the default engine.
func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{Engine: NewEngine(), Logger: logger}
}

// Reconcile matches incoming change exceptions to stored ones by recurrence position.
// Operations are ordered master first, then change exceptions, then deletions, each
// group by position. Contradictory input is rejected before anything is produced.
// Stored exceptions the incoming set does not mention are left alone.
func (r *Reconciler) Reconcile(
	storedMaster mo.Option[storage.CalendarObject],
	storedExceptions []storage.CalendarObject,
	incoming storage.ExceptionSet,
) ([]Operation, error) {
	if err := Validate(incoming); err != nil {
		return nil, err
	}

	var ops []Operation
	masterID := ""
	if m, ok := storedMaster.Get(); ok {
		masterID = m.ObjectID
	}

	if in, ok := incoming.Master.Get(); ok {
		draft := in.Clone()
		if m, ok := storedMaster.Get(); ok {
			draft.ObjectID = m.ObjectID
			draft.RecurrenceID = m.RecurrenceID
			draft.FolderID = m.FolderID
			ops = append(ops, Operation{Kind: OpUpdateMaster, Draft: draft, Target: mo.Some(m)})
		} else {
			draft.ObjectID = ""
			draft.RecurrenceID = ""
			ops = append(ops, Operation{Kind: OpCreateMaster, Draft: draft})
		}
	}

	changes := append([]storage.CalendarObject(nil), incoming.ChangeExceptions...)
	storage.SortByPosition(changes)
	for _, in := range changes {
		draft := in.Clone()
		if stored, ok := findAt(storedExceptions, in.RecurrencePosition); ok {
			draft.ObjectID = stored.ObjectID
			draft.RecurrenceID = stored.RecurrenceID
			draft.FolderID = stored.FolderID
			ops = append(ops, Operation{Kind: OpUpdateException, Draft: draft, Target: mo.Some(stored), Position: in.RecurrencePosition})
			continue
		}
		draft.ObjectID = ""
		draft.RecurrenceID = masterID
		ops = append(ops, Operation{Kind: OpCreateException, Draft: draft, Position: in.RecurrencePosition})
	}

	for _, date := range sortedDates(incoming.DeleteExceptions) {
		if stored, ok := findAt(storedExceptions, date); ok {
			ops = append(ops, Operation{Kind: OpDeleteException, Draft: stored.Clone(), Target: mo.Some(stored), Position: date})
			continue
		}
		if m, ok := storedMaster.Get(); ok && containsDate(m.DeleteExceptions, date) {
			continue
		}
		master, ok := r.effectiveMaster(storedMaster, incoming)
		if !ok {
			// no master to exclude the date from and no object to delete
			continue
		}
		if !r.isOccurrence(master, date) {
			r.Logger.Info("dropping deletion of a date the rule never produces",
				"uid", master.UID,
				"date", date)
			continue
		}
		draft := storage.CalendarObject{
			UID:                master.UID,
			ObjectID:           masterID,
			RecurrenceID:       masterID,
			RecurrencePosition: date,
			FolderID:           master.FolderID,
			Kind:               master.Kind,
		}
		ops = append(ops, Operation{Kind: OpDeleteOccurrence, Draft: draft, Target: storedMaster, Position: date})
	}

	return ops, nil
}

// effectiveMaster is the master as it will look once the master step ran.
func (r *Reconciler) effectiveMaster(stored mo.Option[storage.CalendarObject], incoming storage.ExceptionSet) (storage.CalendarObject, bool) {
	if m, ok := incoming.Master.Get(); ok {
		return m, true
	}
	return stored.Get()
}

// isOccurrence errs on the side of keeping the deletion when the rule is unreadable.
func (r *Reconciler) isOccurrence(master storage.CalendarObject, date time.Time) bool {
	if master.Component == nil {
		return true
	}
	info, err := ExtractRecurrenceInfoFromComponent(master.Component)
	if err != nil {
		r.Logger.Warn("failed to read recurrence of master", "uid", master.UID, "error", err)
		return true
	}
	start, err := MasterStart(master.Component)
	if err != nil {
		r.Logger.Warn("failed to read start of master", "uid", master.UID, "error", err)
		return true
	}
	ok, err := r.Engine.IsOccurrence(start, info, date)
	if err != nil {
		r.Logger.Warn("failed to expand recurrence of master", "uid", master.UID, "error", err)
		return true
	}
	return ok
}

// Validate rejects a series that overrides one date twice or both changes and
// deletes it.
func Validate(incoming storage.ExceptionSet) error {
	seen := make(map[string]bool, len(incoming.ChangeExceptions))
	for _, exc := range incoming.ChangeExceptions {
		key := storage.PositionKey(exc.RecurrencePosition)
		if seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicatePosition, key)
		}
		seen[key] = true
	}
	for _, date := range incoming.DeleteExceptions {
		if key := storage.PositionKey(date); seen[key] {
			return fmt.Errorf("%w: %s", ErrContradictorySeries, key)
		}
	}
	return nil
}

func findAt(objects []storage.CalendarObject, position time.Time) (storage.CalendarObject, bool) {
	for _, obj := range objects {
		if storage.SamePosition(obj.RecurrencePosition, position) {
			return obj, true
		}
	}
	return storage.CalendarObject{}, false
}

func containsDate(dates []time.Time, d time.Time) bool {
	for _, existing := range dates {
		if storage.SamePosition(existing, d) {
			return true
		}
	}
	return false
}

func sortedDates(dates []time.Time) []time.Time {
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if !containsDate(out, d) {
			out = append(out, d.UTC())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
