// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrBadTimestamp is returned for values that are neither RFC 3339 nor unix
// milliseconds.
var ErrBadTimestamp = errors.New("timestamp must be RFC 3339 or unix milliseconds")

// Millis normalizes t to UTC at millisecond precision, the resolution at
// which timestamps are stored and compared.
func Millis(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ParseTimestamp accepts an RFC 3339 timestamp (fractional seconds
// optional) or an integer count of unix milliseconds. The result is
// normalized with Millis.
//
// Example:
//
//	t, _ := utils.ParseTimestamp("2025-03-01T10:00:00.250Z")
//	t, _ = utils.ParseTimestamp("1740823200250") // same instant
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrBadTimestamp
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Millis(time.UnixMilli(ms)), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, ErrBadTimestamp
	}
	return Millis(t), nil
}

// FormatTimestamp renders t as RFC 3339 in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return Millis(t).Format("2006-01-02T15:04:05.000Z07:00")
}

// Timestamp is a time.Time that decodes from either a JSON string in
// RFC 3339 form or a JSON number of unix milliseconds, and encodes as
// RFC 3339 (UTC, milliseconds).
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler. JSON null leaves t unchanged.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return ErrBadTimestamp
		}
		s = unq
	} else if strings.ContainsAny(s, ".eE") {
		return ErrBadTimestamp
	}
	v, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(FormatTimestamp(t.Time))), nil
}
