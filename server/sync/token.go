// Package sync computes change-sets of a collection for the sync-collection report.
package sync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSyncToken is returned for tokens this server did not issue.
var ErrInvalidSyncToken = errors.New("invalid sync token")

const tokenPrefix = "urn:caldora:sync:"

const truncatedSuffix = ":truncated"

// Watermark is a change cursor in milliseconds since the epoch. A change is newer
// than the watermark iff its timestamp is strictly greater.
type Watermark int64

// WatermarkOf converts a timestamp into a watermark.
func WatermarkOf(t time.Time) Watermark {
	if t.IsZero() {
		return 0
	}
	return Watermark(t.UnixMilli())
}

// Time returns the watermark as a timestamp. The initial watermark is the zero time.
func (w Watermark) Time() time.Time {
	if w == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(w)).UTC()
}

// Max returns the larger of both watermarks.
func (w Watermark) Max(o Watermark) Watermark {
	if o > w {
		return o
	}
	return w
}

// Token is the decoded form of a sync token.
type Token struct {
	Watermark Watermark
	// Truncated marks a token issued for an incomplete change-set.
	Truncated bool
}

// Initial reports whether the token requests a full resync.
func (t Token) Initial() bool {
	return t.Watermark == 0
}

// TokenCodec converts between tokens and their opaque URI form.
type TokenCodec struct{}

// Encode returns the URI form of the token.
func (TokenCodec) Encode(t Token) string {
	s := tokenPrefix + strconv.FormatInt(int64(t.Watermark), 10)
	if t.Truncated {
		s += truncatedSuffix
	}
	return s
}

// Decode parses a token. The empty string and "0" decode to the initial token, bare
// millisecond values are accepted for clients that strip the URI.
func (TokenCodec) Decode(s string) (Token, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Token{}, nil
	}

	var t Token
	raw := s
	if strings.HasPrefix(s, tokenPrefix) {
		raw = strings.TrimPrefix(s, tokenPrefix)
		if strings.HasSuffix(raw, truncatedSuffix) {
			raw = strings.TrimSuffix(raw, truncatedSuffix)
			t.Truncated = true
		}
	}

	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || millis < 0 {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidSyncToken, s)
	}
	t.Watermark = Watermark(millis)
	return t, nil
}
