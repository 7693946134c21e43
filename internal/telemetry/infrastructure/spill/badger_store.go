package spill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	telemetry "fleet-ingest/internal/telemetry/domain"
)

const (
	currentKey       = "pending/current"
	generationPrefix = "pending/gen/"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("spill: store closed")

type entry struct {
	Timestamp time.Time `json:"ts"`
	VehicleID *string   `json:"vehicle_id,omitempty"`
	Code      string    `json:"code"`
	Kind      string    `json:"kind"`
	Payload   []byte    `json:"payload"`
}

// BadgerStore keeps the pending queue on local disk between runs.
//
// Every Save writes a new generation of keys and then moves the
// pending/current pointer to it in a single transaction. Load only reads
// the generation the pointer names, so a save that fails or is killed
// part way leaves the previous contents in place.
type BadgerStore struct {
	db *badger.DB
}

// Open opens (or creates) the spill directory.
func Open(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, errors.New("spill: empty directory")
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("spill: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Load returns the spilled records, oldest first.
func (s *BadgerStore) Load(ctx context.Context) ([]telemetry.TelemetryRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var records []telemetry.TelemetryRecord
	err := s.db.View(func(txn *badger.Txn) error {
		gen, ok, err := currentGeneration(txn)
		if err != nil || !ok {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := generationKeyPrefix(gen)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, telemetry.TelemetryRecord{
				Timestamp: e.Timestamp.UTC(),
				VehicleID: e.VehicleID,
				Code:      e.Code,
				Kind:      e.Kind,
				Payload:   e.Payload,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("spill: load: %w", err)
	}
	return records, nil
}

// Save replaces the spilled queue with records, given oldest first.
// On error the previously saved contents are still returned by Load.
func (s *BadgerStore) Save(ctx context.Context, records []telemetry.TelemetryRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var previous uint64
	var hasPrevious bool
	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		previous, hasPrevious, err = currentGeneration(txn)
		return err
	}); err != nil {
		return fmt.Errorf("spill: read generation: %w", err)
	}
	next := previous + 1

	if err := s.writeGeneration(ctx, next, records); err != nil {
		_ = s.db.DropPrefix(generationKeyPrefix(next))
		return err
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(currentKey), []byte(strconv.FormatUint(next, 10)))
	}); err != nil {
		_ = s.db.DropPrefix(generationKeyPrefix(next))
		return fmt.Errorf("spill: switch generation: %w", err)
	}

	if hasPrevious {
		if err := s.db.DropPrefix(generationKeyPrefix(previous)); err != nil {
			return fmt.Errorf("spill: drop generation %d: %w", previous, err)
		}
	}
	return nil
}

// Close releases the badger handle.
func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) writeGeneration(ctx context.Context, gen uint64, records []telemetry.TelemetryRecord) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(entry{
			Timestamp: record.Timestamp,
			VehicleID: record.VehicleID,
			Code:      record.Code,
			Kind:      record.Kind,
			Payload:   record.Payload,
		})
		if err != nil {
			return fmt.Errorf("spill: encode: %w", err)
		}
		if err := wb.Set(recordKey(gen, i), data); err != nil {
			return fmt.Errorf("spill: write: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("spill: flush: %w", err)
	}
	return nil
}

func currentGeneration(txn *badger.Txn) (uint64, bool, error) {
	item, err := txn.Get([]byte(currentKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var gen uint64
	err = item.Value(func(val []byte) error {
		var perr error
		gen, perr = strconv.ParseUint(string(val), 10, 64)
		return perr
	})
	if err != nil {
		return 0, false, fmt.Errorf("decode %s: %w", currentKey, err)
	}
	return gen, true, nil
}

func generationKeyPrefix(gen uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", generationPrefix, gen))
}

func recordKey(gen uint64, i int) []byte {
	return append(generationKeyPrefix(gen), fmt.Sprintf("%020d", i)...)
}
