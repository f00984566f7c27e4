package settlement

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
//
// Suitable for single-instance deployments and tests. Records do not survive
// a restart, so a restarted facilitator may broadcast a payment twice; use a
// durable backend in production.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (s *MemoryStore) Save(_ context.Context, record *Record) error {
	if err := checkNewRecord(record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return ErrRecordExists
	}
	s.records[record.ID] = cloneRecord(record)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(record), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return ErrRecordNotFound
	}
	if err := checkTransition(record.Status, status, txHash); err != nil {
		return err
	}
	record.Status = status
	record.TxHash = txHash
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, record := range s.records {
		if record.Expired(now) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
