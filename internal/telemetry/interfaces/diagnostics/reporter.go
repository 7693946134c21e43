package diagnostics

import (
	"context"

	"github.com/rs/zerolog"

	"fleet-ingest/internal/observability/metrics"
	"fleet-ingest/internal/telemetry/application"
)

var messages = map[application.EventKind]string{
	application.EventSnapshotReceived:    "vehicle stats snapshot",
	application.EventMalformedSnapshot:   "snapshot is not an object",
	application.EventMissingCode:         "snapshot has no vehicle name, skipped",
	application.EventTimestampMissing:    "stat has no time, using now",
	application.EventTimestampUnparsable: "stat time unparsable, using now",
	application.EventFetchFailed:         "vehicle stats fetch failed",
	application.EventConnectFailed:       "database connect failed, queue kept",
	application.EventPrepareFailed:       "insert prepare failed, queue kept",
	application.EventWriteFailed:         "record write failed, requeued",
	application.EventQueueTruncated:      "pending queue over capacity, oldest dropped",
	application.EventCycleCompleted:      "cycle completed",
	application.EventSpillRestored:       "pending queue restored from spill",
	application.EventSpillFailed:         "spill store failed",
}

// Reporter logs pipeline events through zerolog and counts them.
type Reporter struct {
	logger zerolog.Logger
}

// NewReporter constructs a Reporter.
func NewReporter(logger zerolog.Logger) *Reporter {
	return &Reporter{logger: logger}
}

// Report implements application.Reporter.
func (r *Reporter) Report(_ context.Context, event application.Event) {
	metrics.IncEvent(string(event.Kind), event.Severity.String())

	e := r.logger.WithLevel(level(event.Severity))
	if e == nil {
		return
	}
	e = e.Str("event", string(event.Kind))
	if event.CycleID != "" {
		e = e.Str("cycle_id", event.CycleID)
	}
	if event.Code != "" {
		e = e.Str("code", event.Code)
	}
	if event.StatKind != "" {
		e = e.Str("kind", event.StatKind)
	}
	if event.Key != nil {
		e = e.Stringer("natural_key", event.Key)
	}
	if event.Count != 0 {
		e = e.Int("count", event.Count)
	}
	if event.Raw != "" {
		e = e.Str("raw", event.Raw)
	}
	if event.Err != nil {
		e = e.Err(event.Err)
	}
	msg, ok := messages[event.Kind]
	if !ok {
		msg = string(event.Kind)
	}
	e.Msg(msg)
}

func level(s application.Severity) zerolog.Level {
	switch s {
	case application.SeverityDebug:
		return zerolog.DebugLevel
	case application.SeverityInfo:
		return zerolog.InfoLevel
	case application.SeverityWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
