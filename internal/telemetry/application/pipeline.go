package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-ingest/internal/observability/metrics"
	telemetry "fleet-ingest/internal/telemetry/domain"
)

// DefaultStatKinds are requested from the source when none are configured.
var DefaultStatKinds = []string{"gps", "engineStates", "obdOdometerMeters"}

// Spill persists the pending queue between process runs.
type Spill interface {
	Load(ctx context.Context) ([]telemetry.TelemetryRecord, error)
	Save(ctx context.Context, records []telemetry.TelemetryRecord) error
}

// PipelineResult is the outcome of one fetch-normalize-deliver cycle.
type PipelineResult struct {
	CycleReport
	Snapshots  int    `json:"snapshots"`
	Records    int    `json:"records"`
	FetchError string `json:"fetch_error,omitempty"`

	FetchErr error `json:"-"`
	Err      error `json:"-"`
}

// Unsuccessful reports whether the cycle should count as a failed run: the
// destination was unreachable, or the fetch failed and nothing was delivered.
func (r PipelineResult) Unsuccessful() bool {
	if errors.Is(r.Err, ErrConnect) || errors.Is(r.Err, ErrPrepare) {
		return true
	}
	return r.FetchErr != nil && r.Delivered == 0
}

// Pipeline wires source, normalizer and coordinator into one cycle.
type Pipeline struct {
	source      telemetry.SnapshotSource
	normalizer  *Normalizer
	coordinator *Coordinator
	reporter    Reporter
	kinds       []string
	spill       Spill

	mu   sync.Mutex
	last *PipelineResult
}

// PipelineOption configures the pipeline.
type PipelineOption func(*Pipeline)

// WithSpill enables queue persistence across runs.
func WithSpill(spill Spill) PipelineOption {
	return func(p *Pipeline) {
		p.spill = spill
	}
}

// WithStatKinds overrides the stat kinds requested from the source.
func WithStatKinds(kinds []string) PipelineOption {
	return func(p *Pipeline) {
		if len(kinds) > 0 {
			p.kinds = append([]string(nil), kinds...)
		}
	}
}

// WithPipelineReporter sets the diagnostics sink for fetch and spill events.
func WithPipelineReporter(reporter Reporter) PipelineOption {
	return func(p *Pipeline) {
		if reporter != nil {
			p.reporter = reporter
		}
	}
}

// NewPipeline constructs a Pipeline.
func NewPipeline(source telemetry.SnapshotSource, normalizer *Normalizer, coordinator *Coordinator, opts ...PipelineOption) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("pipeline: nil source")
	}
	if normalizer == nil {
		return nil, errors.New("pipeline: nil normalizer")
	}
	if coordinator == nil {
		return nil, errors.New("pipeline: nil coordinator")
	}
	p := &Pipeline{
		source:      source,
		normalizer:  normalizer,
		coordinator: coordinator,
		reporter:    nopReporter{},
		kinds:       append([]string(nil), DefaultStatKinds...),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// RestoreSpill loads a previously saved queue. It must run before the first cycle.
func (p *Pipeline) RestoreSpill(ctx context.Context) (int, error) {
	if p.spill == nil {
		return 0, nil
	}
	records, err := p.spill.Load(ctx)
	if err != nil {
		evt := NewEvent(ctx, EventSpillFailed)
		evt.Err = err
		p.reporter.Report(ctx, evt)
		return 0, err
	}
	queue := p.coordinator.Queue()
	queue.Restore(records)
	dropped := queue.Truncate()
	if len(records) > 0 {
		evt := NewEvent(ctx, EventSpillRestored)
		evt.Count = len(records) - dropped
		p.reporter.Report(ctx, evt)
	}
	metrics.SetQueueLength(queue.Len())
	return len(records) - dropped, nil
}

// SaveSpill persists the current queue contents, oldest first.
func (p *Pipeline) SaveSpill(ctx context.Context) error {
	if p.spill == nil {
		return nil
	}
	if err := p.spill.Save(ctx, p.coordinator.Queue().Oldest()); err != nil {
		evt := NewEvent(ctx, EventSpillFailed)
		evt.Err = err
		p.reporter.Report(ctx, evt)
		return err
	}
	return nil
}

// RunOnce fetches snapshots, normalizes them and runs one delivery cycle.
// A failed fetch is reported and treated as zero snapshots so queued
// records still get their delivery attempt.
func (p *Pipeline) RunOnce(ctx context.Context) (PipelineResult, error) {
	ctx = WithCycleID(ctx, uuid.NewString())

	snapshots, fetchErr := p.fetch(ctx)
	for _, snapshot := range snapshots {
		evt := NewEvent(ctx, EventSnapshotReceived)
		evt.Raw = snapshot.Raw()
		p.reporter.Report(ctx, evt)
	}

	records := p.normalizer.NormalizeBatch(ctx, snapshots)
	metrics.AddRecordsNormalized(len(records))

	report, err := p.coordinator.RunCycle(ctx, records)
	result := PipelineResult{
		CycleReport: report,
		Snapshots:   len(snapshots),
		Records:     len(records),
		FetchErr:    fetchErr,
		Err:         err,
	}
	if fetchErr != nil {
		result.FetchError = fetchErr.Error()
	}

	p.mu.Lock()
	p.last = &result
	p.mu.Unlock()
	return result, err
}

// LastResult returns the most recent cycle outcome.
func (p *Pipeline) LastResult() (PipelineResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return PipelineResult{}, false
	}
	return *p.last, true
}

func (p *Pipeline) fetch(ctx context.Context) ([]telemetry.Value, error) {
	start := time.Now()
	snapshots, err := p.source.FetchSnapshots(ctx, p.kinds)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveFetch(result, time.Since(start))
	if err != nil {
		evt := NewEvent(ctx, EventFetchFailed)
		evt.Err = err
		p.reporter.Report(ctx, evt)
		return nil, err
	}
	return snapshots, nil
}
