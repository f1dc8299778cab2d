package storage

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidETag is returned by ParseETag for values this server did not issue.
var ErrInvalidETag = errors.New("invalid etag")

// ETag returns the entity tag of a resource: the object identity and its
// modification time in milliseconds.
func ETag(objectID string, lastModified time.Time) string {
	return `"` + objectID + "-" + strconv.FormatInt(lastModified.UnixMilli(), 10) + `"`
}

// SeriesETag returns the entity tag of the resource holding a series.
func SeriesETag(s Series) string {
	primary, ok := s.Primary()
	if !ok {
		return ""
	}
	id := primary.ObjectID
	if primary.IsException() {
		id = primary.RecurrenceID
	}
	return ETag(id, s.LastModified())
}

// ParseETag extracts the modification time from an entity tag issued by ETag.
func ParseETag(etag string) (objectID string, lastModified time.Time, err error) {
	etag = strings.TrimPrefix(strings.TrimSpace(etag), "W/")
	if len(etag) < 2 || etag[0] != '"' || etag[len(etag)-1] != '"' {
		return "", time.Time{}, ErrInvalidETag
	}
	etag = etag[1 : len(etag)-1]
	i := strings.LastIndexByte(etag, '-')
	if i <= 0 {
		return "", time.Time{}, ErrInvalidETag
	}
	millis, err := strconv.ParseInt(etag[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, ErrInvalidETag
	}
	return etag[:i], time.UnixMilli(millis).UTC(), nil
}
