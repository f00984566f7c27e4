package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerKeyPrefix = "settlement/"

	// badgerMaxAttempts bounds retries of transactions that lost a write race
	badgerMaxAttempts = 5
)

// BadgerStore persists records in an embedded badger database
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a badger database at path.
// An empty path opens an in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction committed a conflicting write first.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < badgerMaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readRecord(txn *badger.Txn, id string) (*Record, error) {
	item, err := txn.Get(badgerKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	var record Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode settlement record %s: %w", id, err)
	}
	return &record, nil
}

func writeRecord(txn *badger.Txn, record *Record) error {
	val, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return txn.Set(badgerKey(record.ID), val)
}

func (s *BadgerStore) Save(ctx context.Context, record *Record) error {
	if err := checkNewRecord(record); err != nil {
		return err
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		_, err := readRecord(txn, record.ID)
		if err == nil {
			return ErrRecordExists
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		return writeRecord(txn, record)
	})
	if err != nil && !errors.Is(err, ErrRecordExists) {
		return fmt.Errorf("failed to save settlement record: %w", err)
	}
	return err
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Record, error) {
	var record *Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		record, err = readRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *BadgerStore) UpdateStatus(ctx context.Context, id string, status Status, txHash string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		record, err := readRecord(txn, id)
		if err != nil {
			return err
		}
		if err := checkTransition(record.Status, status, txHash); err != nil {
			return err
		}
		record.Status = status
		record.TxHash = txHash
		return writeRecord(txn, record)
	})
}

func (s *BadgerStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var record Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			if record.Expired(now) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan settlement records: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range expired {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete expired settlement records: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to delete expired settlement records: %w", err)
	}
	return len(expired), nil
}

// Close flushes and closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
