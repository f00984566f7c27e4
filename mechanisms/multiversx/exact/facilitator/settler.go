package facilitator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	x402 "github.com/x402-foundation/x402-multiversx"
	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx"
	"github.com/x402-foundation/x402-multiversx/settlement"
)

// SettleResult describes a settled payment
type SettleResult struct {
	TxHash string
	Payer  string
	Mode   BroadcastMode
	// Replayed is true when the payment had already been settled and the
	// stored transaction hash was returned without touching the ledger.
	Replayed bool
}

// Settler broadcasts verified payments so that each signature reaches the ledger at most once.
//
// Every payment gets a settlement record keyed by the hash of its signature.
// The record is created pending before broadcasting and moves to completed or
// failed afterwards. A payment whose record already exists is never broadcast again.
type Settler struct {
	store           settlement.Store
	strategy        BroadcastStrategy
	clock           func() time.Time
	dispatchTimeout time.Duration
	logger          *zap.Logger
}

// DefaultDispatchTimeout bounds a single broadcast when the caller sets no earlier deadline
const DefaultDispatchTimeout = 30 * time.Second

// SettlerOption configures a Settler
type SettlerOption func(*Settler)

// WithSettlerClock overrides the time source for record creation
func WithSettlerClock(clock func() time.Time) SettlerOption {
	return func(s *Settler) {
		s.clock = clock
	}
}

// WithDispatchTimeout bounds how long a broadcast may take once dispatched
func WithDispatchTimeout(timeout time.Duration) SettlerOption {
	return func(s *Settler) {
		if timeout > 0 {
			s.dispatchTimeout = timeout
		}
	}
}

// WithSettlerLogger sets the logger
func WithSettlerLogger(logger *zap.Logger) SettlerOption {
	return func(s *Settler) {
		s.logger = logger
	}
}

// NewSettler creates a settler. The broadcast strategy is fixed for its lifetime.
func NewSettler(store settlement.Store, strategy BroadcastStrategy, opts ...SettlerOption) *Settler {
	s := &Settler{
		store:           store,
		strategy:        strategy,
		clock:           time.Now,
		dispatchTimeout: DefaultDispatchTimeout,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the broadcast mode in use
func (s *Settler) Mode() BroadcastMode {
	return s.strategy.Mode()
}

// Settle broadcasts payload unless a settlement for the same signature already exists.
// The payload is expected to have passed verification.
func (s *Settler) Settle(ctx context.Context, payload x402.PaymentPayload) (*SettleResult, error) {
	payer := payload.Sender

	sig, err := payload.SignatureBytes()
	if err != nil {
		return nil, &x402.SettleError{Reason: ErrInvalidPayload, Payer: payer, Message: err.Error(), Err: err}
	}
	tx, err := multiversx.TransactionFromPayload(payload)
	if err != nil {
		return nil, &x402.SettleError{Reason: ErrInvalidPayload, Payer: payer, Message: err.Error(), Err: err}
	}

	// Nothing has been written yet, so a cancelled request leaves no trace.
	if err := ctx.Err(); err != nil {
		return nil, &x402.SettleError{Reason: ErrSettlementCancelled, Payer: payer, Message: err.Error(), Err: err}
	}

	record := settlement.NewPendingRecord(sig, payer, payload.ValidBefore, s.clock())
	logger := s.logger.With(zap.String("settlementId", record.ID), zap.String("payer", payer))

	if err := s.store.Save(ctx, record); err != nil {
		if errors.Is(err, settlement.ErrRecordExists) {
			return s.existing(ctx, record.ID, payer, logger)
		}
		return nil, storeError(payer, "failed to create settlement record", err)
	}

	dispatchCtx, cancel := s.dispatchContext(ctx)
	defer cancel()

	txHash, err := s.strategy.Broadcast(dispatchCtx, tx)
	if err != nil {
		return nil, s.broadcastFailed(dispatchCtx, record.ID, payer, err, logger)
	}

	// The payment is on its way; record it even if the caller has gone away.
	if err := s.store.UpdateStatus(context.WithoutCancel(ctx), record.ID, settlement.StatusCompleted, txHash); err != nil {
		logger.Error("broadcast succeeded but settlement record could not be completed",
			zap.String("txHash", txHash),
			zap.Error(err),
		)
	}

	logger.Info("payment settled",
		zap.String("txHash", txHash),
		zap.String("mode", string(s.strategy.Mode())),
		zap.String("value", multiversx.FormatAmount(payload.Value)),
	)
	return &SettleResult{TxHash: txHash, Payer: payer, Mode: s.strategy.Mode()}, nil
}

// dispatchContext detaches the broadcast from caller cancellation once the record
// exists. The caller's deadline still applies when it is earlier than the dispatch timeout.
func (s *Settler) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < s.dispatchTimeout {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithTimeout(detached, s.dispatchTimeout)
}

// existing resolves a settle call for a payment that already has a record
func (s *Settler) existing(ctx context.Context, id, payer string, logger *zap.Logger) (*SettleResult, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(payer, "failed to load settlement record", err)
	}

	switch record.Status {
	case settlement.StatusCompleted:
		logger.Info("payment already settled", zap.String("txHash", record.TxHash))
		return &SettleResult{TxHash: record.TxHash, Payer: payer, Mode: s.strategy.Mode(), Replayed: true}, nil
	case settlement.StatusPending:
		return nil, x402.NewSettleError(ErrAlreadyInProgress, payer, "", "", "settlement already in progress")
	case settlement.StatusFailed:
		return nil, x402.NewSettleError(ErrPreviouslyFailed, payer, "", "", "settlement previously failed")
	}
	return nil, storeError(payer, "unexpected settlement status", fmt.Errorf("status %q", record.Status))
}

// broadcastFailed records the outcome of a failed broadcast and builds the error.
//
// If the dispatch deadline passed the transaction may still have reached the ledger,
// so the record stays pending and blocks any further attempt.
func (s *Settler) broadcastFailed(ctx context.Context, id, payer string, cause error, logger *zap.Logger) error {
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		logger.Warn("broadcast interrupted, settlement outcome unknown", zap.Error(cause))
		return &x402.SettleError{
			Reason:  ErrSettlementOutcomeUnknown,
			Payer:   payer,
			Message: fmt.Sprintf("settlement outcome unknown: %s", cause),
			Err:     cause,
		}
	}

	if err := s.store.UpdateStatus(context.WithoutCancel(ctx), id, settlement.StatusFailed, ""); err != nil {
		logger.Error("failed to mark settlement record failed", zap.Error(err))
	}
	logger.Warn("broadcast failed", zap.Error(cause))

	return &x402.SettleError{
		Reason:  ErrSettlementFailed,
		Payer:   payer,
		Message: fmt.Sprintf("settlement failed: %s", cause),
		Err:     cause,
	}
}

func storeError(payer, msg string, err error) error {
	return &x402.SettleError{
		Reason:  ErrStoreUnavailable,
		Payer:   payer,
		Message: fmt.Sprintf("%s: %s", msg, err),
		Err:     err,
	}
}
