package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var varcharLimit = regexp.MustCompile(`character varying\((\d+)\)`)

func postgresError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError translates driver errors into the storage error vocabulary. obj is the
// draft being written, used to attribute length violations to a field.
func mapError(err error, obj storage.CalendarObject) error {
	if err == nil {
		return nil
	}
	pgErr, ok := postgresError(err)
	if !ok {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return storage.ErrNotFound
		case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
			return fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
		}
		return err
	}

	switch pgErr.Code {
	case pgerrcode.StringDataRightTruncationDataException:
		limit := 0
		if m := varcharLimit.FindStringSubmatch(pgErr.Message); m != nil {
			limit, _ = strconv.Atoi(m[1])
		}
		return &storage.ValidationError{
			Field:     fieldOver(obj, limit),
			Reason:    storage.ReasonTooLong,
			MaxLength: limit,
			Message:   pgErr.Message,
		}
	case pgerrcode.CharacterNotInRepertoire, pgerrcode.UntranslatableCharacter:
		return &storage.ValidationError{Reason: storage.ReasonInvalidCharacters, Message: pgErr.Message}
	case pgerrcode.UniqueViolation:
		return &storage.ValidationError{Reason: storage.ReasonDuplicateUID, Message: pgErr.Message}
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: %s", storage.ErrConflict, pgErr.Message)
	case pgerrcode.InsufficientPrivilege:
		return fmt.Errorf("%w: %s", storage.ErrPermissionDenied, pgErr.Message)
	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.AdminShutdown:
		return fmt.Errorf("%w: %s", storage.ErrStorageUnavailable, pgErr.Message)
	}
	return fmt.Errorf("unexpected DB error: %w", err)
}

// fieldOver returns the first text field of obj longer than limit characters.
func fieldOver(obj storage.CalendarObject, limit int) string {
	if limit <= 0 {
		return ""
	}
	for _, field := range storage.TextFields {
		if utf8.RuneCountInString(storage.TextValue(obj.Component, field)) > limit {
			return field
		}
	}
	return ""
}
