package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a settlement record
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var (
	// ErrRecordExists is returned by Save when a record with the same ID is already stored
	ErrRecordExists = errors.New("settlement record already exists")
	// ErrRecordNotFound is returned when no record has the requested ID
	ErrRecordNotFound = errors.New("settlement record not found")
	// ErrInvalidTransition is returned for status updates that do not start from pending
	ErrInvalidTransition = errors.New("invalid settlement status transition")
)

// Record tracks one payment's progress toward the ledger.
//
// A record is created pending and moves at most once, to completed or failed.
// TxHash is set if and only if the record is completed.
type Record struct {
	ID          string    `json:"id"`
	Signature   string    `json:"signature"`
	Payer       string    `json:"payer"`
	Status      Status    `json:"status"`
	TxHash      string    `json:"txHash,omitempty"`
	ValidBefore *int64    `json:"validBefore,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RecordID derives the record identity from the raw payer signature
func RecordID(signature []byte) string {
	sum := sha256.Sum256(signature)
	return hex.EncodeToString(sum[:])
}

// NewPendingRecord builds the record written before a payment is broadcast
func NewPendingRecord(signature []byte, payer string, validBefore *int64, now time.Time) *Record {
	var vb *int64
	if validBefore != nil {
		v := *validBefore
		vb = &v
	}
	return &Record{
		ID:          RecordID(signature),
		Signature:   hex.EncodeToString(signature),
		Payer:       payer,
		Status:      StatusPending,
		ValidBefore: vb,
		CreatedAt:   now.UTC(),
	}
}

// Expired reports whether the record's acceptance window closed before now
func (r *Record) Expired(now time.Time) bool {
	return r.ValidBefore != nil && *r.ValidBefore < now.Unix()
}

// Store persists settlement records. Implementations must be safe for concurrent use
// and Save must be an atomic insert-if-absent: when two callers race on one ID,
// exactly one succeeds and the other gets ErrRecordExists.
type Store interface {
	// Save inserts a new pending record
	Save(ctx context.Context, record *Record) error

	// Get returns the record with the given ID or ErrRecordNotFound
	Get(ctx context.Context, id string) (*Record, error)

	// UpdateStatus moves a pending record to completed (with txHash) or failed (without)
	UpdateStatus(ctx context.Context, id string, status Status, txHash string) error

	// DeleteExpired removes records whose validBefore is set and earlier than now.
	// It returns the number of records removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// checkNewRecord validates a record passed to Save
func checkNewRecord(r *Record) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("settlement record requires an id")
	}
	if r.Status != StatusPending {
		return fmt.Errorf("%w: records are created pending, got %s", ErrInvalidTransition, r.Status)
	}
	if r.TxHash != "" {
		return fmt.Errorf("%w: pending record cannot carry a transaction hash", ErrInvalidTransition)
	}
	return nil
}

// checkTransition validates the target of an UpdateStatus call
func checkTransition(from, to Status, txHash string) error {
	if from != StatusPending {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	switch to {
	case StatusCompleted:
		if txHash == "" {
			return fmt.Errorf("%w: completed requires a transaction hash", ErrInvalidTransition)
		}
	case StatusFailed:
		if txHash != "" {
			return fmt.Errorf("%w: failed cannot carry a transaction hash", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: cannot move to %s", ErrInvalidTransition, to)
	}
	return nil
}

func cloneRecord(r *Record) *Record {
	c := *r
	if r.ValidBefore != nil {
		v := *r.ValidBefore
		c.ValidBefore = &v
	}
	return &c
}
