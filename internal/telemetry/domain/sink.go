package telemetry

import "context"

// Connector opens sessions to the destination store.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is an exclusive connection to the destination store.
type Session interface {
	// Prepare establishes the reusable write plan for a batch.
	Prepare(ctx context.Context) (WritePlan, error)
	Close() error
}

// WritePlan writes single records idempotently. A duplicate natural key is a success.
type WritePlan interface {
	Write(ctx context.Context, record TelemetryRecord) error
	Close() error
}

// SnapshotSource fetches raw per-vehicle snapshots for the requested stat kinds.
type SnapshotSource interface {
	FetchSnapshots(ctx context.Context, kinds []string) ([]Value, error)
}
