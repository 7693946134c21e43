package spill

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	telemetry "fleet-ingest/internal/telemetry/domain"
)

func spillRecord(i int) telemetry.TelemetryRecord {
	r := telemetry.TelemetryRecord{
		Timestamp: time.Date(2021, 7, 14, 2, 13, i, 0, time.UTC),
		Code:      fmt.Sprintf("v%d", i),
		Kind:      "gps",
		Payload:   []byte(fmt.Sprintf(`{"seq":%d}`, i)),
	}
	if i%2 == 0 {
		r.VehicleID = telemetry.StringPtr(fmt.Sprintf("id-%d", i))
	}
	return r
}

func TestBadgerStoreRoundTripKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var records []telemetry.TelemetryRecord
	for i := 0; i < 12; i++ {
		records = append(records, spillRecord(i))
	}
	if err := store.Save(context.Background(), records); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(loaded))
	}
	for i := range records {
		if loaded[i].Key() != records[i].Key() {
			t.Fatalf("record %d: expected %s, got %s", i, records[i].Key(), loaded[i].Key())
		}
	}
}

func TestBadgerStoreSaveReplaces(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, []telemetry.TelemetryRecord{spillRecord(1), spillRecord(2), spillRecord(3)}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.Save(ctx, []telemetry.TelemetryRecord{spillRecord(9)}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Code != "v9" {
		t.Fatalf("expected only latest save, got %+v", loaded)
	}

	if err := store.Save(ctx, nil); err != nil {
		t.Fatalf("empty save: %v", err)
	}
	if loaded, _ := store.Load(ctx); len(loaded) != 0 {
		t.Fatalf("expected empty spill, got %d", len(loaded))
	}
}

func TestBadgerStoreClosed(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = store.Close()
	if _, err := store.Load(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty directory")
	}
}

func TestBadgerStoreCancelledSaveKeepsPrevious(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.Save(context.Background(), []telemetry.TelemetryRecord{spillRecord(1), spillRecord(2)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Save(ctx, []telemetry.TelemetryRecord{spillRecord(7)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Code != "v1" || loaded[1].Code != "v2" {
		t.Fatalf("expected previous save to survive, got %+v", loaded)
	}
}

func TestBadgerStoreIgnoresUnswitchedGeneration(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save(context.Background(), []telemetry.TelemetryRecord{spillRecord(3)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A save killed after writing its records but before moving the pointer.
	if err := store.writeGeneration(context.Background(), 42, []telemetry.TelemetryRecord{spillRecord(8), spillRecord(9)}); err != nil {
		t.Fatalf("write generation: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	loaded, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Code != "v3" {
		t.Fatalf("expected only the committed save, got %+v", loaded)
	}

	if err := reopened.Save(context.Background(), []telemetry.TelemetryRecord{spillRecord(4)}); err != nil {
		t.Fatalf("save after restart: %v", err)
	}
	if loaded, _ := reopened.Load(context.Background()); len(loaded) != 1 || loaded[0].Code != "v4" {
		t.Fatalf("expected latest save, got %+v", loaded)
	}
}
