package facilitator

// Facilitator error constants for the exact MultiversX scheme
const (
	// Verify errors
	ErrNotYetValid        = "not_yet_valid"
	ErrExpired            = "expired"
	ErrInvalidSignature   = "invalid_signature"
	ErrReceiverMismatch   = "receiver_mismatch"
	ErrInsufficientAmount = "insufficient_amount"
	ErrNotATokenTransfer  = "not_a_token_transfer"
	ErrTokenMismatch      = "token_mismatch"
	ErrInvalidAmount      = "invalid_amount"
	ErrSimulationFailed   = "simulation_failed"
	ErrNetworkMismatch    = "network_mismatch"
	ErrInvalidPayload     = "invalid_payload"

	// Settle errors
	ErrAlreadyInProgress        = "already_in_progress"
	ErrPreviouslyFailed         = "previously_failed"
	ErrSettlementFailed         = "settlement_failed"
	ErrSettlementOutcomeUnknown = "settlement_outcome_unknown"
	ErrSettlementCancelled      = "settlement_cancelled"
	ErrStoreUnavailable         = "store_unavailable"
)
