package application

import (
	"context"
	"iter"
	"time"

	telemetry "fleet-ingest/internal/telemetry/domain"
)

const (
	codeField      = "name"
	vehicleIDField = "id"
	timeField      = "time"
)

// timeLayouts are the accepted ISO-8601 instant forms, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

// Clock provides the processing instant used for timestamp substitution.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Normalizer flattens vehicle stat snapshots into telemetry records.
type Normalizer struct {
	clock    Clock
	reporter Reporter
}

// NewNormalizer constructs a normalizer. Nil collaborators fall back to defaults.
func NewNormalizer(clock Clock, reporter Reporter) *Normalizer {
	if clock == nil {
		clock = SystemClock{}
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Normalizer{clock: clock, reporter: reporter}
}

// Normalize yields one record per nested-object field of the snapshot.
// A snapshot without a vehicle code yields nothing and is reported.
func (n *Normalizer) Normalize(ctx context.Context, snapshot telemetry.Value) iter.Seq[telemetry.TelemetryRecord] {
	return func(yield func(telemetry.TelemetryRecord) bool) {
		if !snapshot.IsObject() {
			evt := NewEvent(ctx, EventMalformedSnapshot)
			evt.Raw = snapshot.Raw()
			evt.Err = telemetry.ErrNotAnObject
			n.reporter.Report(ctx, evt)
			return
		}

		code, presence := snapshot.StringField(codeField)
		if presence != telemetry.Present || code == "" {
			evt := NewEvent(ctx, EventMissingCode)
			if id, ok := snapshot.StringField(vehicleIDField); ok == telemetry.Present {
				evt.Raw = id
			}
			n.reporter.Report(ctx, evt)
			return
		}
		vehicleID, idPresence := snapshot.StringField(vehicleIDField)

		for _, kind := range snapshot.Keys() {
			stat, _ := snapshot.Field(kind)
			if !stat.IsObject() {
				continue
			}
			record, ok := n.buildRecord(ctx, code, kind, stat)
			if !ok {
				continue
			}
			if idPresence == telemetry.Present {
				record.VehicleID = telemetry.StringPtr(vehicleID)
			}
			if !yield(record) {
				return
			}
		}
	}
}

// NormalizeBatch normalizes every snapshot independently and concatenates the results.
func (n *Normalizer) NormalizeBatch(ctx context.Context, snapshots []telemetry.Value) []telemetry.TelemetryRecord {
	var records []telemetry.TelemetryRecord
	for _, snapshot := range snapshots {
		for record := range n.Normalize(ctx, snapshot) {
			records = append(records, record)
		}
	}
	return records
}

func (n *Normalizer) buildRecord(ctx context.Context, code, kind string, stat telemetry.Value) (telemetry.TelemetryRecord, bool) {
	payload, err := stat.Without(timeField).MarshalJSON()
	if err != nil {
		evt := NewEvent(ctx, EventMalformedSnapshot)
		evt.Code = code
		evt.StatKind = kind
		evt.Err = err
		n.reporter.Report(ctx, evt)
		return telemetry.TelemetryRecord{}, false
	}
	return telemetry.TelemetryRecord{
		Timestamp: n.timestamp(ctx, code, kind, stat),
		Code:      code,
		Kind:      kind,
		Payload:   payload,
	}, true
}

func (n *Normalizer) timestamp(ctx context.Context, code, kind string, stat telemetry.Value) time.Time {
	raw, ok := stat.Field(timeField)
	if !ok || raw.Kind() == telemetry.KindNull {
		evt := NewEvent(ctx, EventTimestampMissing)
		evt.Code = code
		evt.StatKind = kind
		n.reporter.Report(ctx, evt)
		return n.clock.Now().UTC()
	}

	text, isString := raw.Str()
	if isString {
		parsed, err := parseInstant(text)
		if err == nil {
			return parsed.UTC()
		}
		evt := NewEvent(ctx, EventTimestampUnparsable)
		evt.Code = code
		evt.StatKind = kind
		evt.Raw = text
		evt.Err = err
		n.reporter.Report(ctx, evt)
		return n.clock.Now().UTC()
	}

	evt := NewEvent(ctx, EventTimestampUnparsable)
	evt.Code = code
	evt.StatKind = kind
	evt.Raw = raw.Raw()
	n.reporter.Report(ctx, evt)
	return n.clock.Now().UTC()
}

func parseInstant(text string) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, text)
		if err == nil {
			return parsed, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
