package x402

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Network represents a ledger network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "multiversx:1" for MultiversX mainnet)
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "multiversx:D" matches "multiversx:*" and "multiversx:*" matches "multiversx:D"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// PaymentPayload is the off-chain signed transfer intent supplied by the payer's wallet.
// It is treated as immutable once decoded.
type PaymentPayload struct {
	Nonce       uint64 `json:"nonce"`
	Value       string `json:"value"`
	Receiver    string `json:"receiver"`
	Sender      string `json:"sender"`
	GasPrice    uint64 `json:"gasPrice"`
	GasLimit    uint64 `json:"gasLimit"`
	Data        string `json:"data,omitempty"`
	ChainID     string `json:"chainID"`
	Version     uint32 `json:"version"`
	Options     uint32 `json:"options"`
	Signature   string `json:"signature"`
	ValidAfter  *int64 `json:"validAfter,omitempty"`
	ValidBefore *int64 `json:"validBefore,omitempty"`
}

// SignatureBytes decodes the hex signature. A leading 0x is tolerated.
func (p PaymentPayload) SignatureBytes() ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(p.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("empty signature")
	}
	return sig, nil
}

// PaymentRequirements defines what payment is acceptable for a resource
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme,omitempty"`
	Network           Network                `json:"network,omitempty"`
	PayTo             string                 `json:"payTo"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// VerifyRequest contains the payment to verify
type VerifyRequest struct {
	Payload      PaymentPayload      `json:"payload"`
	Requirements PaymentRequirements `json:"requirements"`
}

// VerifyResponse contains the verification result
type VerifyResponse struct {
	IsValid bool   `json:"isValid"`
	Payer   string `json:"payer,omitempty"`
}

// SettleRequest contains the payment to settle
type SettleRequest struct {
	Payload      PaymentPayload      `json:"payload"`
	Requirements PaymentRequirements `json:"requirements"`
}

// SettleResponse contains the settlement result
type SettleResponse struct {
	Success bool    `json:"success"`
	TxHash  string  `json:"txHash,omitempty"`
	Payer   string  `json:"payer,omitempty"`
	Network Network `json:"network,omitempty"`
}

// ErrorResponse is returned for every rejected request
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// SupportedKind represents a single supported payment configuration
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse describes what payment kinds a facilitator supports
type SupportedResponse struct {
	Kinds   []SupportedKind     `json:"kinds"`
	Signers map[string][]string `json:"signers,omitempty"`
}
