package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Entry is one changed resource of a sync-collection report.
type Entry struct {
	// Name is the resource name inside the collection.
	Name     string
	UID      string
	ObjectID string
	// Status is http.StatusCreated, http.StatusOK or http.StatusNotFound.
	Status       int
	ETag         string
	LastModified time.Time
	// Series holds the stored state of the whole resource. The master is
	// synthesized only when the collection exposes none.
	Series  storage.Series
	Phantom bool
}

// Deleted reports whether the entry is a removal.
func (e Entry) Deleted() bool {
	return e.Status == http.StatusNotFound
}

// Report is the change-set of a collection since a token.
type Report struct {
	Entries   []Entry
	NextToken string
	// Truncated is set when the change-set is incomplete. The client gets all
	// remaining changes by syncing again with NextToken.
	Truncated bool
}

// Synchronizer computes change-sets from a ChangeSource.
type Synchronizer struct {
	Source storage.ChangeSource
	Filter ObjectFilter
	Tokens TokenCodec
	Logger *slog.Logger
}

// NewSynchronizer creates a synchronizer for collections of the given kind.
func NewSynchronizer(source storage.ChangeSource, kind storage.Kind, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Synchronizer{
		Source: source,
		Filter: NewObjectFilter(kind),
		Logger: logger,
	}
}

// Synchronize returns every change of the folder after token. A limit > 0 caps the
// number of entries; the report is then marked truncated and cut between two
// distinct timestamps so the next call resumes without gaps or repeats.
func (s *Synchronizer) Synchronize(ctx context.Context, folderID, token string, limit int) (*Report, error) {
	since, err := s.Tokens.Decode(token)
	if err != nil {
		return nil, err
	}
	w := since.Watermark

	modified, err := s.Source.GetModified(ctx, folderID, w.Time(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch modified objects of %s: %w", folderID, err)
	}

	var deleted storage.Page
	if !since.Initial() {
		deleted, err = s.Source.GetDeleted(ctx, folderID, w.Time(), limit)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch deleted objects of %s: %w", folderID, err)
		}
	}

	// a capped page may have lost the rest of its newest timestamp group
	bound := mo.None[time.Time]()
	bound = tighter(bound, cutOf(modified))
	bound = tighter(bound, cutOf(deleted))
	if b, ok := bound.Get(); ok && !hasBefore(modified.Objects, b) && !hasBefore(deleted.Objects, b) {
		// nothing older to report, so the group at the cut is reported as returned
		s.Logger.Warn("backend page starts at its cut timestamp",
			"folder_id", folderID,
			"timestamp", b)
		bound = mo.Some(b.Add(time.Millisecond))
	}
	mods := before(modified.Objects, bound)
	dels := before(deleted.Objects, bound)

	truncated := modified.Truncated || deleted.Truncated
	if limit > 0 {
		if b, ok := limitCut(mods, dels, limit).Get(); ok {
			mods = before(mods, mo.Some(b))
			dels = before(dels, mo.Some(b))
			truncated = true
		}
	}

	next := w
	for _, obj := range mods {
		next = next.Max(WatermarkOf(obj.LastModified))
	}
	for _, obj := range dels {
		next = next.Max(WatermarkOf(obj.LastModified))
	}

	report := &Report{Truncated: truncated}
	present := make(map[string]bool)
	changed := storage.GroupSeries(s.Filter.Apply(mods))
	var stored map[string]*storage.Series
	if len(changed) > 0 {
		// a page holds only the rows that moved; an edited exception leaves its
		// master behind
		objs, err := NewCache(s.Source, s.Filter).Objects(ctx, folderID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve changed series of %s: %w", folderID, err)
		}
		stored = storage.GroupSeries(objs)
	}
	for uid, series := range changed {
		present[uid] = true
		full := *series
		if cur, ok := stored[uid]; ok {
			full = *cur
		}
		e := changedEntry(full, w)
		e.LastModified = series.LastModified()
		report.Entries = append(report.Entries, e)
	}

	if !since.Initial() {
		for uid, series := range storage.GroupSeries(s.Filter.Apply(dels)) {
			// a move within the window is reported as the create only
			if present[uid] {
				continue
			}
			report.Entries = append(report.Entries, deletedEntry(*series))
		}
	}

	sort.Slice(report.Entries, func(i, j int) bool {
		a, b := report.Entries[i], report.Entries[j]
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.Before(b.LastModified)
		}
		return a.Name < b.Name
	})

	report.NextToken = s.Tokens.Encode(Token{Watermark: next, Truncated: truncated})

	s.Logger.Debug("change-set computed",
		"folder_id", folderID,
		"since", int64(w),
		"next", int64(next),
		"entries", len(report.Entries),
		"truncated", truncated)

	return report, nil
}

func changedEntry(series storage.Series, w Watermark) Entry {
	phantom := false
	if _, ok := series.Master.Get(); !ok {
		series.Master = mo.Some(phantomMaster(series.Exceptions))
		phantom = true
	}
	master := series.Master.MustGet()

	status := http.StatusOK
	if WatermarkOf(master.Created) > w {
		status = http.StatusCreated
	}

	return Entry{
		Name:         master.ResourceName(),
		UID:          master.UID,
		ObjectID:     master.ObjectID,
		Status:       status,
		ETag:         storage.SeriesETag(series),
		LastModified: series.LastModified(),
		Series:       series,
		Phantom:      phantom,
	}
}

func deletedEntry(series storage.Series) Entry {
	primary, _ := series.Primary()
	id := primary.ObjectID
	if primary.IsException() {
		id = primary.RecurrenceID
	}
	return Entry{
		Name:         primary.ResourceName(),
		UID:          primary.UID,
		ObjectID:     id,
		Status:       http.StatusNotFound,
		LastModified: series.LastModified(),
		Series:       series,
	}
}

// phantomMaster stands in for a master the collection does not expose, built from
// the earliest visible occurrence.
func phantomMaster(exceptions []storage.CalendarObject) storage.CalendarObject {
	first := exceptions[0]
	m := first.Clone()
	m.ObjectID = first.RecurrenceID
	m.RecurrencePosition = time.Time{}
	m.Created = first.Created
	m.LastModified = first.LastModified
	for _, exc := range exceptions[1:] {
		if exc.Created.Before(m.Created) {
			m.Created = exc.Created
		}
		if exc.LastModified.After(m.LastModified) {
			m.LastModified = exc.LastModified
		}
	}
	if m.Component != nil {
		m.Component.Props.Del(ical.PropRecurrenceID)
	}
	return m
}

// cutOf returns the newest timestamp of a capped page. Objects at that timestamp
// may be incomplete and must wait for the next call.
func cutOf(p storage.Page) mo.Option[time.Time] {
	if !p.Truncated || len(p.Objects) == 0 {
		return mo.None[time.Time]()
	}
	return mo.Some(p.Objects[len(p.Objects)-1].LastModified)
}

func tighter(a, b mo.Option[time.Time]) mo.Option[time.Time] {
	av, aok := a.Get()
	bv, bok := b.Get()
	switch {
	case !aok:
		return b
	case !bok:
		return a
	case bv.Before(av):
		return b
	}
	return a
}

func hasBefore(objects []storage.CalendarObject, t time.Time) bool {
	for _, obj := range objects {
		if obj.LastModified.Before(t) {
			return true
		}
	}
	return false
}

func before(objects []storage.CalendarObject, bound mo.Option[time.Time]) []storage.CalendarObject {
	b, ok := bound.Get()
	if !ok {
		return objects
	}
	out := objects[:0:0]
	for _, obj := range objects {
		if obj.LastModified.Before(b) {
			out = append(out, obj)
		}
	}
	return out
}

// limitCut returns the first timestamp whose changes would push the number of
// distinct resources over limit. Whole timestamp groups are kept together and the
// first group is always kept.
func limitCut(mods, dels []storage.CalendarObject, limit int) mo.Option[time.Time] {
	all := make([]storage.CalendarObject, 0, len(mods)+len(dels))
	all = append(all, mods...)
	all = append(all, dels...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].LastModified.Before(all[j].LastModified) })

	seen := make(map[string]bool)
	for i := 0; i < len(all); {
		ts := all[i].LastModified
		group := make(map[string]bool)
		j := i
		for ; j < len(all) && all[j].LastModified.Equal(ts); j++ {
			if !seen[all[j].UID] {
				group[all[j].UID] = true
			}
		}
		if len(seen) > 0 && len(seen)+len(group) > limit {
			return mo.Some(ts)
		}
		for uid := range group {
			seen[uid] = true
		}
		i = j
	}
	return mo.None[time.Time]()
}
