package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChangeSource is the read side of the groupware backend. It is the only place the
// synchronizer learns about changes, so implementations must order Page objects by
// LastModified ascending: a page capped at limit is then a prefix of the full history.
type ChangeSource interface {
	// GetModified returns objects of a folder whose LastModified is strictly after since.
	// A limit <= 0 means no client limit; the backend may still cap and report Truncated.
	GetModified(ctx context.Context, folderID string, since time.Time, limit int) (Page, error)
	// GetDeleted returns tombstones of a folder whose LastModified is strictly after since.
	GetDeleted(ctx context.Context, folderID string, since time.Time, limit int) (Page, error)
	// GetAll returns every live object of a folder, masters and change exceptions alike.
	GetAll(ctx context.Context, folderID string) ([]CalendarObject, error)
	// GetByID loads one object. Returns ErrNotFound if it does not exist.
	GetByID(ctx context.Context, folderID, objectID string) (*CalendarObject, error)
}

// BackendWriter is the write side of the groupware backend.
//
// Besides plain objects it understands two recurrence conventions:
//   - Update of a draft whose ObjectID is a series master and whose RecurrencePosition is
//     set creates (or updates) the change exception at that position.
//   - Delete of an object whose ObjectID is a series master and whose RecurrencePosition is
//     set excludes that date from the recurrence rule.
//
// Update applies the fields present in the draft and resets the ones listed in
// ClearedFields; everything else keeps its stored value.
type BackendWriter interface {
	Create(ctx context.Context, obj CalendarObject) (*CalendarObject, error)
	Update(ctx context.Context, obj CalendarObject, folderID string, expected time.Time) (*CalendarObject, error)
	Delete(ctx context.Context, obj CalendarObject, folderID string, expected time.Time) (time.Time, error)
}

// Store is a complete groupware backend.
type Store interface {
	ChangeSource
	BackendWriter
}

// Page is a batch of objects returned by a ChangeSource.
type Page struct {
	Objects []CalendarObject
	// Truncated is set when the backend capped the result.
	Truncated bool
}

var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("resource not found")
	// ErrPermissionDenied is returned when the operation is not allowed
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConflict is returned when the stored object changed after the expected timestamp
	ErrConflict = errors.New("resource conflict")
	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationReason classifies a ValidationError.
type ValidationReason string

const (
	ReasonTooLong           ValidationReason = "too-long"
	ReasonInvalidCharacters ValidationReason = "invalid-characters"
	ReasonDuplicateUID      ValidationReason = "duplicate-uid"
	ReasonUnsupported       ValidationReason = "unsupported"
)

// ValidationError is returned by a BackendWriter when the backend refused to store a value.
type ValidationError struct {
	// Field is the iCalendar property name the backend complained about. Empty when the
	// backend could not attribute the failure to a single field.
	Field  string
	Reason ValidationReason
	// MaxLength is the maximum number of characters the field accepts (ReasonTooLong).
	MaxLength int
	// ConflictingObjectID identifies the object already holding the UID (ReasonDuplicateUID).
	ConflictingObjectID string
	Message             string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation failed: %s", e.Reason)
	if e.Field != "" {
		msg += " on " + e.Field
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
