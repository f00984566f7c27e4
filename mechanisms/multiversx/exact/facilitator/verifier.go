package facilitator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	x402 "github.com/x402-foundation/x402-multiversx"
	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx"
)

// Verifier decides whether a signed payment satisfies a set of requirements.
// It never writes settlement state.
type Verifier struct {
	sigVerifier multiversx.SignatureVerifier
	simulator   multiversx.Simulator
	clock       func() time.Time
	logger      *zap.Logger
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithClock overrides the time source used for validity windows
func WithClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.clock = clock
	}
}

// WithVerifierLogger sets the logger
func WithVerifierLogger(logger *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// NewVerifier creates a verifier. simulator may be nil, in which case
// payments are not dry-run against the ledger.
func NewVerifier(sigVerifier multiversx.SignatureVerifier, simulator multiversx.Simulator, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		sigVerifier: sigVerifier,
		simulator:   simulator,
		clock:       time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the checks in order and stops at the first failure.
// On success it returns the payer address.
func (v *Verifier) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (string, error) {
	payer := payload.Sender

	if err := v.checkWindow(payload); err != nil {
		return "", err
	}
	if err := v.checkSignature(ctx, payload); err != nil {
		return "", err
	}
	if err := checkRequirements(payload, requirements); err != nil {
		return "", err
	}
	if err := v.simulate(ctx, payload); err != nil {
		return "", err
	}

	v.logger.Debug("payment verified",
		zap.String("payer", payer),
		zap.String("receiver", payload.Receiver),
		zap.String("asset", requirements.Asset),
		zap.String("value", multiversx.FormatAmount(payload.Value)),
	)
	return payer, nil
}

func (v *Verifier) checkWindow(payload x402.PaymentPayload) error {
	now := v.clock().Unix()
	if payload.ValidAfter != nil && now < *payload.ValidAfter {
		return x402.NewVerifyError(ErrNotYetValid, payload.Sender,
			fmt.Sprintf("payment valid after %d, now %d", *payload.ValidAfter, now))
	}
	if payload.ValidBefore != nil && now > *payload.ValidBefore {
		return x402.NewVerifyError(ErrExpired, payload.Sender,
			fmt.Sprintf("payment expired at %d, now %d", *payload.ValidBefore, now))
	}
	return nil
}

func (v *Verifier) checkSignature(ctx context.Context, payload x402.PaymentPayload) error {
	sig, err := payload.SignatureBytes()
	if err != nil {
		return x402.NewVerifyError(ErrInvalidSignature, payload.Sender, err.Error())
	}

	ok, err := v.sigVerifier.VerifySignature(ctx, payload.Sender, multiversx.CanonicalMessage(payload), sig)
	if err != nil {
		return &x402.VerifyError{Reason: ErrInvalidSignature, Payer: payload.Sender, Message: err.Error(), Err: err}
	}
	if !ok {
		return x402.NewVerifyError(ErrInvalidSignature, payload.Sender, "signature does not match sender")
	}
	return nil
}

func checkRequirements(payload x402.PaymentPayload, requirements x402.PaymentRequirements) error {
	payer := payload.Sender

	if requirements.Network != "" && requirements.Network != x402.NetworkForChain(payload.ChainID) {
		return x402.NewVerifyError(ErrNetworkMismatch, payer,
			fmt.Sprintf("payment chain %s does not match network %s", payload.ChainID, requirements.Network))
	}

	if payload.Receiver != requirements.PayTo {
		return x402.NewVerifyError(ErrReceiverMismatch, payer,
			fmt.Sprintf("receiver %s does not match payTo %s", payload.Receiver, requirements.PayTo))
	}

	required, ok := multiversx.ParseAmount(requirements.Amount)
	if !ok {
		return x402.NewVerifyError(ErrInvalidAmount, payer, fmt.Sprintf("invalid required amount %q", requirements.Amount))
	}

	if multiversx.IsNativeAsset(requirements.Asset) {
		value, ok := multiversx.ParseAmount(payload.Value)
		if !ok {
			return x402.NewVerifyError(ErrInvalidAmount, payer, fmt.Sprintf("invalid value %q", payload.Value))
		}
		if value.Cmp(required) < 0 {
			return x402.NewVerifyError(ErrInsufficientAmount, payer,
				fmt.Sprintf("value %s is below required %s", value, required))
		}
		return nil
	}

	transfer, err := multiversx.ParseTransferData(payload.Data)
	if err != nil {
		return &x402.VerifyError{Reason: ErrNotATokenTransfer, Payer: payer, Message: err.Error(), Err: err}
	}
	if transfer.Destination != "" && transfer.Destination != requirements.PayTo {
		return x402.NewVerifyError(ErrReceiverMismatch, payer,
			fmt.Sprintf("transfer destination %s does not match payTo %s", transfer.Destination, requirements.PayTo))
	}
	token, found := transfer.Find(requirements.Asset)
	if !found {
		return x402.NewVerifyError(ErrTokenMismatch, payer,
			fmt.Sprintf("data does not transfer %s", requirements.Asset))
	}
	if token.Amount.Cmp(required) < 0 {
		return x402.NewVerifyError(ErrInsufficientAmount, payer,
			fmt.Sprintf("%s amount %s is below required %s", token.Token, token.Amount, required))
	}
	return nil
}

func (v *Verifier) simulate(ctx context.Context, payload x402.PaymentPayload) error {
	if v.simulator == nil {
		return nil
	}

	tx, err := multiversx.TransactionFromPayload(payload)
	if err != nil {
		return &x402.VerifyError{Reason: ErrInvalidPayload, Payer: payload.Sender, Message: err.Error(), Err: err}
	}

	result, err := v.simulator.Simulate(ctx, tx)
	if err != nil {
		return &x402.VerifyError{
			Reason:  ErrSimulationFailed,
			Payer:   payload.Sender,
			Message: fmt.Sprintf("simulation error: %s", err),
			Err:     err,
		}
	}
	if !result.Success() {
		reason := result.FailReason
		if reason == "" {
			reason = "unknown error"
		}
		return &x402.VerifyError{
			Reason:  ErrSimulationFailed,
			Payer:   payload.Sender,
			Message: fmt.Sprintf("simulation failed: %s", reason),
			Err:     errors.New(reason),
		}
	}
	return nil
}
