package x402

import (
	"context"
	"time"
)

// HookPayment is the payment a lifecycle hook observes.
// It is a copy: changing it does not affect the payment being processed.
type HookPayment struct {
	Ctx                 context.Context
	PaymentPayload      PaymentPayload
	PaymentRequirements PaymentRequirements
	// Network is resolved from the requirements or, when they omit it, the payload chain ID
	Network   Network
	StartedAt time.Time
}

// Payer is the address that signed the payment
func (p HookPayment) Payer() string {
	return p.PaymentPayload.Sender
}

// FacilitatorVerifyContext is passed to hooks that run before verification
type FacilitatorVerifyContext struct {
	HookPayment
}

// FacilitatorVerifyResultContext carries a valid verification
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// FacilitatorVerifyFailureContext carries the first failed check.
// Error is usually a *VerifyError; use ReasonOf to read its reason.
type FacilitatorVerifyFailureContext struct {
	FacilitatorVerifyContext
	Error    error
	Duration time.Duration
}

// FacilitatorSettleContext is passed to hooks that run before settlement.
// Nothing has been recorded or broadcast at that point.
type FacilitatorSettleContext struct {
	HookPayment
}

// FacilitatorSettleResultContext carries a settled payment.
// Result.TxHash is also set when the payment had been settled by an earlier call.
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result   SettleResponse
	Duration time.Duration
}

// FacilitatorSettleFailureContext carries a settlement that did not complete.
// The reason tells whether the payment may still reach the ledger (settlement_outcome_unknown)
// or was never broadcast by this call (already_in_progress, previously_failed, store_unavailable).
type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Error    error
	Duration time.Duration
}

// FacilitatorBeforeHookResult lets a before hook reject a payment with its own reason
type FacilitatorBeforeHookResult struct {
	Abort  bool
	Reason string
}

// FacilitatorVerifyFailureHookResult replaces a failed verification with Result when Recovered is set
type FacilitatorVerifyFailureHookResult struct {
	Recovered bool
	Result    VerifyResponse
}

// FacilitatorBeforeVerifyHook runs before any check. Returning an error or
// Abort stops verification; the first hook to do so wins.
type FacilitatorBeforeVerifyHook func(FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterVerifyHook observes a valid payment. Its error is dropped.
type FacilitatorAfterVerifyHook func(FacilitatorVerifyResultContext) error

// FacilitatorOnVerifyFailureHook observes a rejected payment and may recover it.
// Hooks run in registration order until one recovers.
type FacilitatorOnVerifyFailureHook func(FacilitatorVerifyFailureContext) (*FacilitatorVerifyFailureHookResult, error)

// FacilitatorBeforeSettleHook runs before the settlement record is created,
// so aborting here never leaves a record behind.
type FacilitatorBeforeSettleHook func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterSettleHook observes a settled payment, replays included. Its error is dropped.
type FacilitatorAfterSettleHook func(FacilitatorSettleResultContext) error

// FacilitatorOnSettleFailureHook observes a settlement that did not complete.
// There is no recovery: a broadcast either happened or it did not, and the
// settlement record already reflects which.
type FacilitatorOnSettleFailureHook func(FacilitatorSettleFailureContext) error
