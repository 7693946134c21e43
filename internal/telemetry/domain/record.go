// Package telemetry holds the vehicle stat record model, the JSON value type
// snapshots are parsed into, and the destination ports.
package telemetry

import (
	"fmt"
	"time"
)

// TelemetryRecord is one flattened vehicle stat written to storage.
type TelemetryRecord struct {
	Timestamp time.Time
	VehicleID *string
	Code      string
	Kind      string
	Payload   []byte
}

// NaturalKey identifies an observation for deduplication.
type NaturalKey struct {
	Timestamp time.Time
	VehicleID string
	HasID     bool
	Code      string
	Kind      string
	Payload   string
}

// Key returns the natural key of the record.
func (r TelemetryRecord) Key() NaturalKey {
	key := NaturalKey{
		Timestamp: r.Timestamp.UTC(),
		Code:      r.Code,
		Kind:      r.Kind,
		Payload:   string(r.Payload),
	}
	if r.VehicleID != nil {
		key.VehicleID = *r.VehicleID
		key.HasID = true
	}
	return key
}

// Validate checks the fields the sink relies on.
func (r TelemetryRecord) Validate() error {
	if r.Code == "" {
		return ErrEmptyCode
	}
	if r.Kind == "" {
		return ErrEmptyKind
	}
	if r.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// String renders the key for diagnostics.
func (k NaturalKey) String() string {
	id := "<none>"
	if k.HasID {
		id = k.VehicleID
	}
	return fmt.Sprintf("(%s, %s, %s, %s, %s)", k.Timestamp.Format(time.RFC3339Nano), id, k.Code, k.Kind, k.Payload)
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
