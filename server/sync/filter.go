package sync

import (
	"github.com/cyp0633/caldora/server/storage"
)

// ObjectFilter decides which backend objects belong to a collection of one kind.
type ObjectFilter struct {
	Kind storage.Kind
}

// NewObjectFilter returns the filter for collections of the given kind.
func NewObjectFilter(kind storage.Kind) ObjectFilter {
	return ObjectFilter{Kind: kind}
}

// Accept reports whether a single object is visible in the collection.
func (f ObjectFilter) Accept(obj *storage.CalendarObject) bool {
	if !f.Kind.Supports(obj) {
		return false
	}
	// an occurrence without its position cannot be matched to anything
	if obj.IsException() && obj.RecurrencePosition.IsZero() {
		return false
	}
	return obj.UID != ""
}

// Apply returns the accepted objects in their original order. When a backend returns
// the same ObjectID more than once only the newest row is kept.
func (f ObjectFilter) Apply(objects []storage.CalendarObject) []storage.CalendarObject {
	newest := make(map[string]int, len(objects))
	for i := range objects {
		if !f.Accept(&objects[i]) {
			continue
		}
		if j, ok := newest[objects[i].ObjectID]; ok && objects[j].LastModified.After(objects[i].LastModified) {
			continue
		}
		newest[objects[i].ObjectID] = i
	}

	out := make([]storage.CalendarObject, 0, len(newest))
	for i, obj := range objects {
		if j, ok := newest[obj.ObjectID]; ok && j == i {
			out = append(out, obj)
		}
	}
	return out
}
