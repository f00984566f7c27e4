package multiversx

import (
	"context"
)

const (
	SchemeExact = "exact"

	// CaipFamily groups every MultiversX network in the supported response
	CaipFamily = "multiversx:*"

	NetworkMainnet = "multiversx:1"
	NetworkDevnet  = "multiversx:D"
	NetworkTestnet = "multiversx:T"

	// NativeAsset is the asset marker for EGLD payments
	NativeAsset = "EGLD"

	// AddressHRP is the bech32 human readable part of account addresses
	AddressHRP = "erd"

	// RelayedGasOverhead is added to the payer's gas limit for relayed v3 transactions
	RelayedGasOverhead uint64 = 50_000

	EGLDDecimals = 18
)

// SimulationStatusSuccess is the gateway status of a transaction that would execute
const SimulationStatusSuccess = "success"

// SignatureMode selects what the payer's wallet actually signed
type SignatureMode string

const (
	// SignatureModeRaw verifies the ed25519 signature over the canonical message bytes
	SignatureModeRaw SignatureMode = "raw"
	// SignatureModeMessage verifies over the wallet "signed message" digest of the canonical message
	SignatureModeMessage SignatureMode = "message"
)

// Transaction is the ledger transaction submitted to the gateway.
// Data is marshalled as base64, signatures as hex.
type Transaction struct {
	Nonce            uint64 `json:"nonce"`
	Value            string `json:"value"`
	Receiver         string `json:"receiver"`
	Sender           string `json:"sender"`
	GasPrice         uint64 `json:"gasPrice"`
	GasLimit         uint64 `json:"gasLimit"`
	Data             []byte `json:"data,omitempty"`
	Signature        string `json:"signature,omitempty"`
	ChainID          string `json:"chainID"`
	Version          uint32 `json:"version"`
	Options          uint32 `json:"options,omitempty"`
	Relayer          string `json:"relayer,omitempty"`
	RelayerSignature string `json:"relayerSignature,omitempty"`
}

// SimulationResult is the outcome of a gateway dry run
type SimulationResult struct {
	Status     string
	FailReason string
	Hash       string
}

// Success reports whether the simulated transaction would execute
func (r *SimulationResult) Success() bool {
	return r != nil && r.Status == SimulationStatusSuccess
}

// SignatureVerifier checks a signature against the public key behind a bech32 address
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, address string, message, signature []byte) (bool, error)
}

// Simulator dry-runs a transaction against current ledger state
type Simulator interface {
	Simulate(ctx context.Context, tx *Transaction) (*SimulationResult, error)
}

// Broadcaster submits a signed transaction and returns its hash
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *Transaction) (string, error)
}

// RelayerSigner co-signs relayed transactions and pays their gas
type RelayerSigner interface {
	Address() string
	Sign(message []byte) ([]byte, error)
}
