package application

import (
	"context"

	telemetry "fleet-ingest/internal/telemetry/domain"
)

// Severity is the level attached to a diagnostic event.
type Severity uint8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind names a reportable pipeline event.
type EventKind string

const (
	EventSnapshotReceived    EventKind = "snapshot_received"
	EventMalformedSnapshot   EventKind = "malformed_snapshot"
	EventMissingCode         EventKind = "missing_code"
	EventTimestampMissing    EventKind = "timestamp_missing"
	EventTimestampUnparsable EventKind = "timestamp_unparsable"
	EventFetchFailed         EventKind = "fetch_failed"
	EventConnectFailed       EventKind = "connect_failed"
	EventPrepareFailed       EventKind = "prepare_failed"
	EventWriteFailed         EventKind = "write_failed"
	EventQueueTruncated      EventKind = "queue_truncated"
	EventCycleCompleted      EventKind = "cycle_completed"
	EventSpillRestored       EventKind = "spill_restored"
	EventSpillFailed         EventKind = "spill_failed"
)

// Severity returns the default severity of the event kind.
func (k EventKind) Severity() Severity {
	switch k {
	case EventSnapshotReceived:
		return SeverityDebug
	case EventTimestampMissing, EventQueueTruncated, EventCycleCompleted, EventSpillRestored:
		return SeverityInfo
	case EventWriteFailed:
		return SeverityWarn
	default:
		return SeverityError
	}
}

// Event is one diagnostic report.
type Event struct {
	Kind     EventKind
	Severity Severity
	CycleID  string
	Code     string
	StatKind string
	Raw      string
	Key      *telemetry.NaturalKey
	Count    int
	Err      error
}

// NewEvent builds an event with the kind's default severity and the cycle id carried by ctx.
func NewEvent(ctx context.Context, kind EventKind) Event {
	return Event{Kind: kind, Severity: kind.Severity(), CycleID: CycleIDFromContext(ctx)}
}

// Reporter accepts leveled diagnostic events.
type Reporter interface {
	Report(ctx context.Context, event Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, event Event)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, event Event) {
	f(ctx, event)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, Event) {}

type cycleIDKey struct{}

// WithCycleID tags ctx with a cycle correlation id.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

// CycleIDFromContext returns the cycle id, or "" when absent.
func CycleIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(cycleIDKey{}).(string); ok {
		return id
	}
	return ""
}
