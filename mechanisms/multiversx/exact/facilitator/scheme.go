package facilitator

import (
	"context"
	"errors"

	x402 "github.com/x402-foundation/x402-multiversx"
	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx"
)

// ExactMultiversXScheme is the facilitator side of the exact scheme on MultiversX
type ExactMultiversXScheme struct {
	verifier *Verifier
	settler  *Settler
	relayer  string
}

// NewExactMultiversXScheme combines a verifier and a settler into a scheme.
// The relayer address is advertised when the settler broadcasts relayed transactions.
func NewExactMultiversXScheme(verifier *Verifier, settler *Settler) *ExactMultiversXScheme {
	s := &ExactMultiversXScheme{
		verifier: verifier,
		settler:  settler,
	}
	if relayed, ok := settler.strategy.(*RelayedBroadcast); ok {
		s.relayer = relayed.Relayer()
	}
	return s
}

func (f *ExactMultiversXScheme) Scheme() string {
	return multiversx.SchemeExact
}

func (f *ExactMultiversXScheme) CaipFamily() string {
	return multiversx.CaipFamily
}

// Mode reports how settled payments reach the ledger
func (f *ExactMultiversXScheme) Mode() BroadcastMode {
	return f.settler.Mode()
}

func (f *ExactMultiversXScheme) GetExtra(network x402.Network) map[string]interface{} {
	if f.relayer == "" {
		return nil
	}
	return map[string]interface{}{
		"relayer": f.relayer,
	}
}

func (f *ExactMultiversXScheme) GetSigners(network x402.Network) []string {
	if f.relayer == "" {
		return []string{}
	}
	return []string{f.relayer}
}

func (f *ExactMultiversXScheme) Verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	payer, err := f.verifier.Verify(ctx, payload, requirements)
	if err != nil {
		return &x402.VerifyResponse{IsValid: false, Payer: payload.Sender}, err
	}
	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle re-verifies the payment and then settles it
func (f *ExactMultiversXScheme) Settle(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.SettleResponse, error) {
	if _, err := f.verifier.Verify(ctx, payload, requirements); err != nil {
		return &x402.SettleResponse{Success: false, Payer: payload.Sender, Network: requirements.Network}, err
	}

	result, err := f.settler.Settle(ctx, payload)
	if err != nil {
		var settleErr *x402.SettleError
		if errors.As(err, &settleErr) && settleErr.Network == "" {
			settleErr.Network = requirements.Network
		}
		return &x402.SettleResponse{Success: false, Payer: payload.Sender, Network: requirements.Network}, err
	}

	return &x402.SettleResponse{
		Success: true,
		TxHash:  result.TxHash,
		Payer:   result.Payer,
		Network: requirements.Network,
	}, nil
}
