package write

import (
	"time"

	"github.com/cyp0633/caldora/server/storage"
)

// outcome is how a single backend call ended.
type outcome int

const (
	committed outcome = iota
	// repairable failures may succeed after a Patch.
	repairable
	fatal
)

// attempt is the result of one backend call.
type attempt struct {
	outcome outcome
	// object is set by create and update calls.
	object *storage.CalendarObject
	// stamp is the LastModified the backend assigned.
	stamp   time.Time
	failure *storage.ValidationError
	err     error
}

func resultOf(obj *storage.CalendarObject, stamp time.Time, err error) attempt {
	if err == nil {
		if obj != nil && stamp.IsZero() {
			stamp = obj.LastModified
		}
		return attempt{outcome: committed, object: obj, stamp: stamp}
	}
	if verr, ok := storage.AsValidationError(err); ok {
		switch verr.Reason {
		case storage.ReasonTooLong, storage.ReasonInvalidCharacters:
			return attempt{outcome: repairable, failure: verr, err: err}
		}
		return attempt{outcome: fatal, failure: verr, err: err}
	}
	return attempt{outcome: fatal, err: err}
}
