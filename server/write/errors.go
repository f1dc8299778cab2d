// Package write persists client-submitted series through a BackendWriter, repairing
// what the backend refuses to store.
package write

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/storage"
)

// ErrorKind classifies a failed write for the transport.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	// KindStale means the client's version is older than the stored one.
	KindStale
	// KindConflict means the backend detected a concurrent change during the write.
	KindConflict
	// KindValidation is a data problem the pipeline could not repair.
	KindValidation
	// KindPolicy is a change the backend does not allow, such as a UID clash.
	KindPolicy
	KindPermission
	KindNotFound
	// KindContradiction is a series that changes and deletes the same date.
	KindContradiction
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindStale:
		return "stale"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindContradiction:
		return "contradiction"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus returns the response status for the kind.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindStale:
		return http.StatusPreconditionFailed
	case KindConflict:
		return http.StatusConflict
	case KindValidation, KindContradiction:
		return http.StatusBadRequest
	case KindPolicy, KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Pipeline operation.
type Error struct {
	Kind ErrorKind
	// Op names the failed step, e.g. "create-master" or "delete".
	Op string
	// Committed is the newest timestamp a preceding step of the same series write
	// committed. Zero when nothing was written.
	Committed time.Time
	// MasterID identifies the series the committed steps wrote to.
	MasterID string
	Err      error
}

// ETag returns the entity tag of the partially written resource, or "" when
// nothing was committed.
func (e *Error) ETag() string {
	if e.Committed.IsZero() || e.MasterID == "" {
		return ""
	}
	return storage.ETag(e.MasterID, e.Committed)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
	if !e.Committed.IsZero() {
		msg += fmt.Sprintf(" after committing up to %d", e.Committed.UnixMilli())
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a pipeline error, KindInternal for anything else.
func KindOf(err error) ErrorKind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return KindInternal
}

// StatusOf maps a pipeline error to an HTTP status.
func StatusOf(err error) int {
	return KindOf(err).HTTPStatus()
}

func newError(op string, committed time.Time, err error) *Error {
	var werr *Error
	if errors.As(err, &werr) {
		if werr.Committed.IsZero() {
			werr.Committed = committed
		}
		return werr
	}
	return &Error{Kind: classify(err), Op: op, Committed: committed, Err: err}
}

func classify(err error) ErrorKind {
	if verr, ok := storage.AsValidationError(err); ok {
		switch verr.Reason {
		case storage.ReasonTooLong, storage.ReasonInvalidCharacters:
			return KindValidation
		default:
			return KindPolicy
		}
	}
	switch {
	case errors.Is(err, storage.ErrConflict):
		return KindConflict
	case errors.Is(err, storage.ErrNotFound):
		return KindNotFound
	case errors.Is(err, storage.ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, recurrence.ErrContradictorySeries), errors.Is(err, recurrence.ErrDuplicatePosition):
		return KindContradiction
	case errors.Is(err, storage.ErrInvalidCalendarData):
		return KindValidation
	case errors.Is(err, storage.ErrStorageUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	}
	return KindInternal
}
