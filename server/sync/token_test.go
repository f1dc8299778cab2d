package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCodec_Decode(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    Token
		wantErr bool
	}{
		{name: "empty is initial", token: "", want: Token{}},
		{name: "zero is initial", token: "0", want: Token{}},
		{name: "bare millis", token: "1704067200000", want: Token{Watermark: 1704067200000}},
		{name: "uri", token: "urn:caldora:sync:1704067200000", want: Token{Watermark: 1704067200000}},
		{name: "truncated uri", token: "urn:caldora:sync:42:truncated", want: Token{Watermark: 42, Truncated: true}},
		{name: "whitespace", token: "  urn:caldora:sync:7\n", want: Token{Watermark: 7}},
		{name: "negative", token: "-5", wantErr: true},
		{name: "foreign uri", token: "http://example.com/sync/1", wantErr: true},
		{name: "garbage suffix", token: "urn:caldora:sync:12:bogus", wantErr: true},
	}

	var codec TokenCodec
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Decode(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSyncToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	var codec TokenCodec
	for _, tok := range []Token{{}, {Watermark: 1}, {Watermark: 1704067200123, Truncated: true}} {
		got, err := codec.Decode(codec.Encode(tok))
		require.NoError(t, err)
		assert.Equal(t, tok, got)
	}
	assert.Equal(t, "urn:caldora:sync:0", codec.Encode(Token{}))
}

func TestWatermark(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.UTC)
	w := WatermarkOf(ts)
	assert.Equal(t, Watermark(1704067200123), w)
	assert.Equal(t, ts.Truncate(time.Millisecond), w.Time())

	assert.Equal(t, Watermark(0), WatermarkOf(time.Time{}))
	assert.True(t, Watermark(0).Time().IsZero())
	assert.Equal(t, Watermark(9), Watermark(3).Max(9))
	assert.Equal(t, Watermark(9), Watermark(9).Max(3))
}
