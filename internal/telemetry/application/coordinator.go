package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleet-ingest/internal/observability/metrics"
	telemetry "fleet-ingest/internal/telemetry/domain"
)

var (
	// ErrConnect marks a cycle stopped because no destination session could be acquired.
	ErrConnect = errors.New("delivery: connect failed")
	// ErrPrepare marks a cycle stopped because the write plan could not be established.
	ErrPrepare = errors.New("delivery: prepare failed")
)

// CycleStage is a state of the delivery cycle.
type CycleStage uint8

const (
	StageIdle CycleStage = iota
	StageMerging
	StageConnecting
	StagePreparing
	StageDraining
	StageMergingRetries
)

func (s CycleStage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageMerging:
		return "merging"
	case StageConnecting:
		return "connecting"
	case StagePreparing:
		return "preparing"
	case StageDraining:
		return "draining"
	case StageMergingRetries:
		return "merging_retries"
	default:
		return "unknown"
	}
}

// CycleReport summarizes one delivery cycle.
type CycleReport struct {
	CycleID    string     `json:"cycle_id"`
	Stage      CycleStage `json:"-"`
	StageName  string     `json:"stage"`
	Fresh      int        `json:"fresh"`
	Truncated  int        `json:"truncated"`
	Attempted  int        `json:"attempted"`
	Delivered  int        `json:"delivered"`
	Failed     int        `json:"failed"`
	Pending    int        `json:"pending"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Error      string     `json:"error,omitempty"`
}

// Coordinator runs delivery cycles against a pending queue it exclusively owns.
type Coordinator struct {
	queue     *PendingQueue
	connector telemetry.Connector
	reporter  Reporter
	clock     Clock
}

// CoordinatorOption configures the coordinator.
type CoordinatorOption func(*Coordinator)

// WithReporter sets the diagnostics sink.
func WithReporter(reporter Reporter) CoordinatorOption {
	return func(c *Coordinator) {
		if reporter != nil {
			c.reporter = reporter
		}
	}
}

// WithClock overrides the clock used for cycle timing.
func WithClock(clock Clock) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(queue *PendingQueue, connector telemetry.Connector, opts ...CoordinatorOption) (*Coordinator, error) {
	if queue == nil {
		return nil, errors.New("delivery: nil queue")
	}
	if connector == nil {
		return nil, errors.New("delivery: nil connector")
	}
	c := &Coordinator{
		queue:     queue,
		connector: connector,
		reporter:  nopReporter{},
		clock:     SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Queue returns the owned pending queue.
func (c *Coordinator) Queue() *PendingQueue {
	return c.queue
}

// RunCycle merges fresh records into the queue and drains it into the sink.
// On connect or prepare failure the queue is left exactly as merged.
func (c *Coordinator) RunCycle(ctx context.Context, fresh []telemetry.TelemetryRecord) (CycleReport, error) {
	report := CycleReport{
		CycleID:   CycleIDFromContext(ctx),
		Fresh:     len(fresh),
		StartedAt: c.clock.Now(),
	}
	err := c.run(ctx, fresh, &report)

	report.Pending = c.queue.Len()
	report.FinishedAt = c.clock.Now()
	report.StageName = report.Stage.String()
	result := metrics.ResultSuccess
	if err != nil {
		report.Error = err.Error()
		result = metrics.ResultError
	}
	metrics.ObserveCycle(result, report.FinishedAt.Sub(report.StartedAt))
	metrics.SetQueueLength(report.Pending)

	if err == nil {
		evt := NewEvent(ctx, EventCycleCompleted)
		evt.Count = report.Delivered
		c.reporter.Report(ctx, evt)
	}
	return report, err
}

func (c *Coordinator) run(ctx context.Context, fresh []telemetry.TelemetryRecord, report *CycleReport) error {
	report.Stage = StageMerging
	c.queue.PushFresh(fresh...)
	report.Truncated += c.truncate(ctx)
	if c.queue.Len() == 0 {
		report.Stage = StageIdle
		return nil
	}

	report.Stage = StageConnecting
	session, err := c.connector.Connect(ctx)
	if err != nil {
		evt := NewEvent(ctx, EventConnectFailed)
		evt.Count = c.queue.Len()
		evt.Err = err
		c.reporter.Report(ctx, evt)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer session.Close()

	report.Stage = StagePreparing
	plan, err := session.Prepare(ctx)
	if err != nil {
		evt := NewEvent(ctx, EventPrepareFailed)
		evt.Count = c.queue.Len()
		evt.Err = err
		c.reporter.Report(ctx, evt)
		return fmt.Errorf("%w: %w", ErrPrepare, err)
	}
	defer plan.Close()

	report.Stage = StageDraining
	retries := c.drain(ctx, plan, report)

	report.Stage = StageMergingRetries
	c.queue.PushRetries(retries...)
	report.Truncated += c.truncate(ctx)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delivery: drain interrupted: %w", err)
	}
	report.Stage = StageIdle
	return nil
}

// drain attempts every queued record once, oldest first, and returns the failures.
// Cancellation stops the drain; records not yet attempted stay queued.
func (c *Coordinator) drain(ctx context.Context, plan telemetry.WritePlan, report *CycleReport) []telemetry.TelemetryRecord {
	var retries []telemetry.TelemetryRecord
	for ctx.Err() == nil {
		record, ok := c.queue.PopOldest()
		if !ok {
			break
		}
		report.Attempted++
		if err := plan.Write(ctx, record); err != nil {
			report.Failed++
			retries = append(retries, record)
			key := record.Key()
			evt := NewEvent(ctx, EventWriteFailed)
			evt.Code = record.Code
			evt.StatKind = record.Kind
			evt.Key = &key
			evt.Err = err
			c.reporter.Report(ctx, evt)
			continue
		}
		report.Delivered++
	}
	metrics.AddRecordsWritten(report.Delivered)
	metrics.AddWriteFailures(report.Failed)
	return retries
}

func (c *Coordinator) truncate(ctx context.Context) int {
	dropped := c.queue.Truncate()
	if dropped > 0 {
		metrics.AddQueueTruncated(dropped)
		evt := NewEvent(ctx, EventQueueTruncated)
		evt.Count = dropped
		c.reporter.Report(ctx, evt)
	}
	return dropped
}
