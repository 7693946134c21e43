package application

import (
	"context"
	"errors"
	"sync"
	"time"

	telemetry "fleet-ingest/internal/telemetry/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type recordingReporter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingReporter) Report(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingReporter) Kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recordingReporter) Count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recordingReporter) First(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

// stubStore is an in-memory destination keyed by natural key.
type stubStore struct {
	mu         sync.Mutex
	rows       map[telemetry.NaturalKey]telemetry.TelemetryRecord
	connectErr error
	prepareErr error
	failCodes  map[string]bool
	writes     int
	cancelOn   int
	cancel     context.CancelFunc
	closed     int
}

func newStubStore() *stubStore {
	return &stubStore{rows: map[telemetry.NaturalKey]telemetry.TelemetryRecord{}, failCodes: map[string]bool{}}
}

func (s *stubStore) Connect(ctx context.Context) (telemetry.Session, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return stubSession{store: s}, nil
}

func (s *stubStore) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type stubSession struct {
	store *stubStore
}

func (s stubSession) Prepare(ctx context.Context) (telemetry.WritePlan, error) {
	if s.store.prepareErr != nil {
		return nil, s.store.prepareErr
	}
	return stubPlan{store: s.store}, nil
}

func (s stubSession) Close() error {
	s.store.mu.Lock()
	s.store.closed++
	s.store.mu.Unlock()
	return nil
}

type stubPlan struct {
	store *stubStore
}

var errStubWrite = errors.New("stub: write failed")

func (p stubPlan) Write(ctx context.Context, record telemetry.TelemetryRecord) error {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.cancel != nil && s.writes == s.cancelOn {
		s.cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failCodes[record.Code] {
		return errStubWrite
	}
	s.rows[record.Key()] = record
	return nil
}

func (p stubPlan) Close() error {
	return nil
}

type stubSource struct {
	snapshots []telemetry.Value
	err       error
	kinds     []string
}

func (s *stubSource) FetchSnapshots(_ context.Context, kinds []string) ([]telemetry.Value, error) {
	s.kinds = kinds
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshots, nil
}
