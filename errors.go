package x402

import (
	"errors"
	"fmt"
)

// Common error codes
const (
	ErrCodeInvalidRequest     = "invalid_request"
	ErrCodeNetworkMismatch    = "network_mismatch"
	ErrCodeUnsupportedScheme  = "unsupported_scheme"
	ErrCodeUnsupportedNetwork = "unsupported_network"
	ErrCodeSettlementFailed   = "settlement_failed"
	ErrCodeInternal           = "internal_error"
)

// VerifyError is returned when a payment fails verification.
// Reason is a stable machine-readable code, Message is for humans.
type VerifyError struct {
	Reason  string `json:"invalidReason"`
	Payer   string `json:"payer,omitempty"`
	Message string `json:"invalidMessage,omitempty"`
	Err     error  `json:"-"`
}

func (e *VerifyError) Error() string {
	if e.Message == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// NewVerifyError creates a new verification error
func NewVerifyError(reason, payer, message string) *VerifyError {
	return &VerifyError{
		Reason:  reason,
		Payer:   payer,
		Message: message,
	}
}

// SettleError is returned when a verified payment could not be settled
type SettleError struct {
	Reason      string  `json:"errorReason"`
	Payer       string  `json:"payer,omitempty"`
	Network     Network `json:"network,omitempty"`
	Transaction string  `json:"transaction,omitempty"`
	Message     string  `json:"errorMessage,omitempty"`
	Err         error   `json:"-"`
}

func (e *SettleError) Error() string {
	if e.Message == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *SettleError) Unwrap() error {
	return e.Err
}

// NewSettleError creates a new settlement error
func NewSettleError(reason, payer string, network Network, transaction, message string) *SettleError {
	return &SettleError{
		Reason:      reason,
		Payer:       payer,
		Network:     network,
		Transaction: transaction,
		Message:     message,
	}
}

// ReasonOf extracts the reason code from a verify or settle error.
// Errors that carry no reason (infrastructure failures) yield "".
func ReasonOf(err error) string {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	var se *SettleError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}
