// Package domain contains the core domain models for the keydash license
// dashboard. These types serve as the Single Source of Truth (SSOT) for all
// layers of the application.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// LicenseRecord represents one issued key exactly as the license backend
// reports it. The backend owns every field; the dashboard treats records as
// read-only and reconciles by refetching after each successful mutation.
type LicenseRecord struct {
	ID         string        `json:"id" validate:"required"`
	Status     LicenseStatus `json:"status" validate:"required,oneof=active paused"`
	Hwid       *string       `json:"hwid,omitempty"`
	ExpireTime *Timestamp    `json:"expire_time,omitempty"`
}

// IsBound reports whether the record is bound to a hardware id.
func (r LicenseRecord) IsBound() bool {
	return r.Hwid != nil && *r.Hwid != ""
}

// LicenseStatus represents the two-valued state of a license key
type LicenseStatus string

const (
	LicenseStatusActive LicenseStatus = "active"
	LicenseStatusPaused LicenseStatus = "paused"
)

// Toggled returns the opposite status. The backend performs the actual flip;
// this mirror exists for display and for test fakes.
func (s LicenseStatus) Toggled() LicenseStatus {
	if s == LicenseStatusActive {
		return LicenseStatusPaused
	}
	return LicenseStatusActive
}

// Valid reports whether the status is one of the two known values.
func (s LicenseStatus) Valid() bool {
	return s == LicenseStatusActive || s == LicenseStatusPaused
}

// Timestamp carries a license expiry instant as the backend serializes it:
// either an RFC3339 string or a document-store object of the form
// {"_seconds": 1735689600, "_nanoseconds": 0}. A present but unparsable
// value is retained as invalid rather than failing the surrounding decode,
// so one malformed record cannot sink an entire list response; display
// logic renders such values as its error placeholder.
type Timestamp struct {
	instant time.Time
	valid   bool
}

// NewTimestamp wraps a concrete instant.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{instant: t.UTC(), valid: true}
}

// Time returns the normalized instant. Only meaningful when Valid is true.
func (t *Timestamp) Time() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.instant
}

// Valid reports whether the carried value parsed to an instant.
func (t *Timestamp) Valid() bool {
	return t != nil && t.valid
}

// UnmarshalJSON accepts every timestamp shape the backend emits. Parse
// failures leave the Timestamp invalid instead of erroring, per the decode
// contract above.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	instant, err := ToInstant(data)
	if err != nil {
		*t = Timestamp{}
		return nil
	}
	*t = Timestamp{instant: instant, valid: true}
	return nil
}

// MarshalJSON emits RFC3339 for valid instants and null otherwise.
func (t *Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(t.instant.Format(time.RFC3339))
}

// ErrUnparsableTimestamp reports a timestamp value in none of the accepted
// shapes.
var ErrUnparsableTimestamp = errors.New("unparsable timestamp value")

// backendTimestamp is the document-store serialization of an instant. The
// underscore-prefixed keys are what the backend emits; the bare variants are
// accepted for tolerance.
type backendTimestamp struct {
	Seconds     *int64 `json:"_seconds"`
	Nanoseconds int64  `json:"_nanoseconds"`
	AltSeconds  *int64 `json:"seconds"`
	AltNanos    int64  `json:"nanoseconds"`
}

// ToInstant normalizes a raw timestamp value to a single UTC instant. It is
// the one place timestamp decoding happens: RFC3339 strings (with a
// date-only fallback) and {"_seconds","_nanoseconds"} objects are accepted,
// everything else is an error.
func ToInstant(raw []byte) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrUnparsableTimestamp)
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrUnparsableTimestamp, err)
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC(), nil
		}
		if ts, err := time.Parse("2006-01-02", s); err == nil {
			return ts.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsableTimestamp, s)
	case '{':
		var bt backendTimestamp
		if err := json.Unmarshal(raw, &bt); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrUnparsableTimestamp, err)
		}
		sec, nanos := bt.Seconds, bt.Nanoseconds
		if sec == nil {
			sec, nanos = bt.AltSeconds, bt.AltNanos
		}
		if sec == nil {
			return time.Time{}, fmt.Errorf("%w: timestamp object without seconds", ErrUnparsableTimestamp)
		}
		return time.Unix(*sec, nanos).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnparsableTimestamp, string(raw))
	}
}
