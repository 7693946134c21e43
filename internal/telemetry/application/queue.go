package application

import telemetry "fleet-ingest/internal/telemetry/domain"

// DefaultQueueCapacity bounds the undelivered telemetry held in memory.
const DefaultQueueCapacity = 1_000_000

// PendingQueue is a bounded buffer of records awaiting delivery.
//
// Records enter at the insert end and are drained from the opposite end, so the
// oldest buffered record is attempted first. When the capacity is exceeded the
// oldest records are discarded rather than blocking the producer.
//
// A PendingQueue is owned by one delivery cycle at a time and is not safe for
// concurrent use.
type PendingQueue struct {
	items    []telemetry.TelemetryRecord
	head     int
	capacity int
}

// NewPendingQueue constructs an empty queue. Non-positive capacity uses DefaultQueueCapacity.
func NewPendingQueue(capacity int) *PendingQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &PendingQueue{capacity: capacity}
}

// Capacity returns the configured bound.
func (q *PendingQueue) Capacity() int {
	return q.capacity
}

// Len returns the number of buffered records.
func (q *PendingQueue) Len() int {
	return len(q.items) - q.head
}

// PushFresh inserts newly normalized records at the insert end, oldest first.
func (q *PendingQueue) PushFresh(records ...telemetry.TelemetryRecord) {
	q.push(records)
}

// PushRetries inserts records whose delivery failed at the insert end.
// They are attempted again only after everything already buffered.
func (q *PendingQueue) PushRetries(records ...telemetry.TelemetryRecord) {
	q.push(records)
}

// Restore reloads previously buffered records, oldest first.
func (q *PendingQueue) Restore(records []telemetry.TelemetryRecord) {
	q.push(records)
}

// Truncate discards the oldest records until the capacity bound holds and
// returns how many were discarded.
func (q *PendingQueue) Truncate() int {
	excess := q.Len() - q.capacity
	if excess <= 0 {
		return 0
	}
	for i := q.head; i < q.head+excess; i++ {
		q.items[i] = telemetry.TelemetryRecord{}
	}
	q.head += excess
	q.compact()
	return excess
}

// PopOldest removes and returns the record at the drain end.
func (q *PendingQueue) PopOldest() (telemetry.TelemetryRecord, bool) {
	if q.Len() == 0 {
		return telemetry.TelemetryRecord{}, false
	}
	record := q.items[q.head]
	q.items[q.head] = telemetry.TelemetryRecord{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return record, true
}

// Snapshot lists the buffered records from the insert end to the drain end.
func (q *PendingQueue) Snapshot() []telemetry.TelemetryRecord {
	out := make([]telemetry.TelemetryRecord, 0, q.Len())
	for i := len(q.items) - 1; i >= q.head; i-- {
		out = append(out, q.items[i])
	}
	return out
}

// Oldest lists the buffered records in drain order.
func (q *PendingQueue) Oldest() []telemetry.TelemetryRecord {
	out := make([]telemetry.TelemetryRecord, q.Len())
	copy(out, q.items[q.head:])
	return out
}

func (q *PendingQueue) push(records []telemetry.TelemetryRecord) {
	if len(records) == 0 {
		return
	}
	q.compact()
	q.items = append(q.items, records...)
}

// compact reclaims the drained prefix once it dominates the backing array.
func (q *PendingQueue) compact() {
	if q.head == 0 || q.head < len(q.items)/2 {
		return
	}
	n := copy(q.items, q.items[q.head:])
	for i := n; i < len(q.items); i++ {
		q.items[i] = telemetry.TelemetryRecord{}
	}
	q.items = q.items[:n]
	q.head = 0
}
