package write

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cyp0633/caldora/internal/metrics"
	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/samber/mo"
)

// DefaultMaxRetries bounds the repair-and-retry loop of a single backend call.
const DefaultMaxRetries = 3

// Pipeline writes client-submitted series to a backend.
type Pipeline struct {
	Store      storage.Store
	Reconciler *recurrence.Reconciler
	Repair     RepairStrategy
	MaxRetries int
	Logger     *slog.Logger
}

// NewPipeline creates a pipeline with the default repair strategy and retry budget.
func NewPipeline(store storage.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		Store:      store,
		Reconciler: recurrence.NewReconciler(logger),
		Repair:     DefaultRepairStrategy{},
		MaxRetries: DefaultMaxRetries,
		Logger:     logger,
	}
}

// Committed describes a written series.
type Committed struct {
	// MasterID identifies the series master, or the single object.
	MasterID string
	// Objects holds what the backend returned for each create or update, in write order.
	Objects []storage.CalendarObject
	// LastModified is the newest timestamp of the write.
	LastModified time.Time
}

// ETag returns the entity tag of the written resource.
func (c *Committed) ETag() string {
	return storage.ETag(c.MasterID, c.LastModified)
}

// Create stores a new series in folderID. Identities supplied by the client are
// dropped. If the backend already holds the UID the write is retried once as an
// update of that series, so replaying a create whose response got lost does not
// duplicate it.
func (p *Pipeline) Create(ctx context.Context, folderID string, set storage.ExceptionSet) (*Committed, error) {
	start := time.Now()
	c, err := p.create(ctx, folderID, set)
	metrics.RecordWrite("create", resultLabel(err), time.Since(start))
	return c, err
}

// Update writes set over the stored series. expected is the modification time the
// client last saw; an older value than the stored one is rejected as stale.
func (p *Pipeline) Update(ctx context.Context, existing storage.Series, expected time.Time, set storage.ExceptionSet) (*Committed, error) {
	start := time.Now()
	c, err := p.update(ctx, existing, expected, set)
	metrics.RecordWrite("update", resultLabel(err), time.Since(start))
	return c, err
}

// Delete removes a stored object. Deleting a master removes its whole series.
func (p *Pipeline) Delete(ctx context.Context, existing storage.CalendarObject, expected time.Time) error {
	start := time.Now()
	err := p.delete(ctx, existing, expected)
	metrics.RecordWrite("delete", resultLabel(err), time.Since(start))
	return err
}

func (p *Pipeline) create(ctx context.Context, folderID string, set storage.ExceptionSet) (*Committed, error) {
	set = withoutIdentity(set)
	ops, err := p.Reconciler.Reconcile(mo.None[storage.CalendarObject](), nil, set)
	if err != nil {
		return nil, newError("reconcile", time.Time{}, err)
	}

	c, err := p.execute(ctx, folderID, "", "", time.Time{}, ops)
	if err == nil {
		p.Logger.Info("series created",
			"folder_id", folderID,
			"uid", set.UID(),
			"object_id", c.MasterID,
			"operations", len(ops))
		return c, nil
	}

	verr, ok := storage.AsValidationError(err)
	if !ok || verr.Reason != storage.ReasonDuplicateUID || verr.ConflictingObjectID == "" || len(c.Objects) > 0 {
		return nil, err
	}

	p.Logger.Info("uid already stored, retrying create as update",
		"folder_id", folderID,
		"uid", set.UID(),
		"object_id", verr.ConflictingObjectID)
	metrics.RecordUIDRecovery()

	existing, err := p.loadSeries(ctx, folderID, verr.ConflictingObjectID)
	if err != nil {
		return nil, newError("load", time.Time{}, err)
	}
	return p.update(ctx, existing, existing.LastModified(), set)
}

func (p *Pipeline) update(ctx context.Context, existing storage.Series, expected time.Time, set storage.ExceptionSet) (*Committed, error) {
	primary, ok := existing.Primary()
	if !ok {
		return nil, newError("update", time.Time{}, storage.ErrNotFound)
	}
	if err := recurrence.Validate(set); err != nil {
		return nil, newError("reconcile", time.Time{}, err)
	}
	if uid := set.UID(); uid != "" && uid != primary.UID {
		return nil, &Error{
			Kind: KindValidation,
			Op:   "update",
			Err:  fmt.Errorf("%w: UID %q does not match stored %q", storage.ErrInvalidCalendarData, uid, primary.UID),
		}
	}

	folderID := primary.FolderID
	current, err := p.Store.GetByID(ctx, folderID, primary.ObjectID)
	if err != nil {
		return nil, newError("load", time.Time{}, err)
	}
	latest := current.LastModified
	for _, exc := range existing.Exceptions {
		if exc.LastModified.After(latest) {
			latest = exc.LastModified
		}
	}
	if expected.Before(latest) {
		return nil, &Error{Kind: KindStale, Op: "update", Err: storage.ErrConflict}
	}

	// a series the collection holds only occurrences of has no master row; new
	// occurrences join it through its recurrence ID
	storedMaster := mo.None[storage.CalendarObject]()
	masterID, seriesID := "", current.RecurrenceID
	if !current.IsException() {
		storedMaster = mo.Some(*current)
		masterID, seriesID = current.ObjectID, ""
	}

	ops, err := p.Reconciler.Reconcile(storedMaster, existing.Exceptions, set)
	if err != nil {
		return nil, newError("reconcile", time.Time{}, err)
	}
	for i, op := range ops {
		if target, ok := op.Target.Get(); ok && (op.Kind == recurrence.OpUpdateMaster || op.Kind == recurrence.OpUpdateException) {
			ops[i].Draft = DetectResets(target, op.Draft)
		}
	}

	c, err := p.execute(ctx, folderID, masterID, seriesID, latest, ops)
	if err != nil {
		return nil, err
	}
	p.Logger.Info("series updated",
		"folder_id", folderID,
		"uid", primary.UID,
		"object_id", c.MasterID,
		"operations", len(ops))
	return c, nil
}

func (p *Pipeline) delete(ctx context.Context, existing storage.CalendarObject, expected time.Time) error {
	current, err := p.Store.GetByID(ctx, existing.FolderID, existing.ObjectID)
	if err != nil {
		return newError("delete", time.Time{}, err)
	}
	if expected.Before(current.LastModified) {
		return &Error{Kind: KindStale, Op: "delete", Err: storage.ErrConflict}
	}

	_, err = p.withRetry(ctx, "delete", *current, func(ctx context.Context, draft storage.CalendarObject) attempt {
		ts, err := p.Store.Delete(ctx, draft, draft.FolderID, current.LastModified)
		return resultOf(nil, ts, err)
	})
	if err != nil {
		return newError("delete", time.Time{}, err)
	}
	p.Logger.Info("object deleted",
		"folder_id", existing.FolderID,
		"uid", current.UID,
		"object_id", current.ObjectID)
	return nil
}

// execute runs reconciled operations in order. Each call uses the newest timestamp
// seen so far as its expected value, so steps never conflict with their predecessors.
// The returned Committed holds the progress made even when an error is returned.
// Without a master row, seriesID names the series new occurrences are created in.
func (p *Pipeline) execute(ctx context.Context, folderID, masterID, seriesID string, baseline time.Time, ops []recurrence.Operation) (*Committed, error) {
	c := &Committed{MasterID: masterID, LastModified: baseline}
	if masterID == "" {
		c.MasterID = seriesID
	}
	for _, op := range ops {
		draft := op.Draft
		draft.FolderID = folderID
		name := op.Kind.String()

		var call func(ctx context.Context, d storage.CalendarObject) attempt
		switch op.Kind {
		case recurrence.OpCreateMaster:
			call = p.createCall
		case recurrence.OpUpdateMaster, recurrence.OpUpdateException:
			call = p.updateCall(folderID, c.LastModified)
		case recurrence.OpCreateException:
			if masterID == "" {
				draft.RecurrenceID = seriesID
				call = p.createCall
				break
			}
			draft.ObjectID = masterID
			draft.RecurrenceID = masterID
			call = p.updateCall(folderID, c.LastModified)
		case recurrence.OpDeleteException:
			call = p.deleteCall(folderID, c.LastModified)
		case recurrence.OpDeleteOccurrence:
			if masterID == "" {
				continue
			}
			draft.ObjectID = masterID
			call = p.deleteCall(folderID, c.LastModified)
		default:
			return c, newError(name, time.Time{}, fmt.Errorf("unknown operation %d", op.Kind))
		}

		res, err := p.withRetry(ctx, name, draft, call)
		if err != nil {
			var done time.Time
			if len(c.Objects) > 0 || c.LastModified.After(baseline) {
				done = c.LastModified
			}
			werr := newError(name, done, err)
			if !done.IsZero() && werr.MasterID == "" {
				werr.MasterID = c.MasterID
			}
			return c, werr
		}

		if res.object != nil {
			switch {
			case op.Kind == recurrence.OpCreateMaster:
				masterID = res.object.ObjectID
				c.MasterID = masterID
			case op.Kind == recurrence.OpCreateException && masterID == "":
				seriesID = res.object.RecurrenceID
				c.MasterID = seriesID
			}
			c.Objects = append(c.Objects, *res.object)
		}
		if res.stamp.After(c.LastModified) {
			c.LastModified = res.stamp
		}
	}
	return c, nil
}

func (p *Pipeline) createCall(ctx context.Context, d storage.CalendarObject) attempt {
	obj, err := p.Store.Create(ctx, d)
	return resultOf(obj, time.Time{}, err)
}

func (p *Pipeline) updateCall(folderID string, expected time.Time) func(context.Context, storage.CalendarObject) attempt {
	return func(ctx context.Context, d storage.CalendarObject) attempt {
		obj, err := p.Store.Update(ctx, d, folderID, expected)
		return resultOf(obj, time.Time{}, err)
	}
}

func (p *Pipeline) deleteCall(folderID string, expected time.Time) func(context.Context, storage.CalendarObject) attempt {
	return func(ctx context.Context, d storage.CalendarObject) attempt {
		ts, err := p.Store.Delete(ctx, d, folderID, expected)
		return resultOf(nil, ts, err)
	}
}

// withRetry calls the backend until it commits, fails fatally or the retry budget is
// spent. Each repair produces a new draft; the caller's draft is never modified.
func (p *Pipeline) withRetry(ctx context.Context, op string, draft storage.CalendarObject, call func(context.Context, storage.CalendarObject) attempt) (attempt, error) {
	for retries := 0; ; retries++ {
		res := call(ctx, draft)
		switch res.outcome {
		case committed:
			return res, nil
		case fatal:
			return res, res.err
		}

		if retries >= p.MaxRetries {
			p.Logger.Warn("giving up after repeated validation failures",
				"op", op,
				"uid", draft.UID,
				"retries", retries,
				"error", res.err)
			return res, fmt.Errorf("retries exhausted: %w", res.err)
		}
		patch, ok := p.Repair.TryRepair(res.failure, draft)
		if !ok {
			return res, res.err
		}
		p.Logger.Info("repairing rejected field",
			"op", op,
			"uid", draft.UID,
			"field", patch.Field,
			"reason", res.failure.Reason,
			"attempt", retries+1)
		metrics.RecordRepair(string(res.failure.Reason))
		draft = patch.Apply(draft)
	}
}

// loadSeries loads the series an object belongs to.
func (p *Pipeline) loadSeries(ctx context.Context, folderID, objectID string) (storage.Series, error) {
	obj, err := p.Store.GetByID(ctx, folderID, objectID)
	if err != nil {
		return storage.Series{}, err
	}
	masterID := obj.ObjectID
	if obj.IsException() {
		masterID = obj.RecurrenceID
	}

	all, err := p.Store.GetAll(ctx, folderID)
	if err != nil {
		return storage.Series{}, err
	}
	var series storage.Series
	for _, o := range all {
		switch {
		case o.ObjectID == masterID:
			series.Master = mo.Some(o)
		case o.IsException() && o.RecurrenceID == masterID:
			series.Exceptions = append(series.Exceptions, o)
		}
	}
	storage.SortByPosition(series.Exceptions)
	if _, ok := series.Primary(); !ok {
		return storage.Series{}, storage.ErrNotFound
	}
	return series, nil
}

func withoutIdentity(set storage.ExceptionSet) storage.ExceptionSet {
	out := storage.ExceptionSet{DeleteExceptions: set.DeleteExceptions}
	if m, ok := set.Master.Get(); ok {
		m = m.Clone()
		m.ObjectID, m.RecurrenceID = "", ""
		out.Master = mo.Some(m)
	}
	for _, exc := range set.ChangeExceptions {
		exc = exc.Clone()
		exc.ObjectID, exc.RecurrenceID = "", ""
		out.ChangeExceptions = append(out.ChangeExceptions, exc)
	}
	return out
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}
