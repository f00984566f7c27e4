package facilitator

import (
	"context"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx"
)

// BroadcastMode names how a payment reaches the ledger
type BroadcastMode string

const (
	// BroadcastDirect submits the payer-signed transaction as is; the payer pays gas
	BroadcastDirect BroadcastMode = "direct"
	// BroadcastRelayed adds a relayer co-signature (relayed v3); the relayer pays gas
	BroadcastRelayed BroadcastMode = "relayed"
)

// BroadcastStrategy submits a payer-signed transaction to the ledger
type BroadcastStrategy interface {
	Mode() BroadcastMode
	Broadcast(ctx context.Context, tx *multiversx.Transaction) (string, error)
}

// BroadcastOption configures a broadcast strategy
type BroadcastOption func(*broadcaster)

// WithBroadcastLogger sets the logger
func WithBroadcastLogger(logger *zap.Logger) BroadcastOption {
	return func(b *broadcaster) {
		b.logger = logger
	}
}

type broadcaster struct {
	client multiversx.Broadcaster
	logger *zap.Logger
}

func newBroadcaster(client multiversx.Broadcaster, opts []BroadcastOption) broadcaster {
	b := broadcaster{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// send submits tx and cross-checks the returned hash with the locally computed one.
// A mismatch is logged only; the gateway's hash is authoritative.
func (b *broadcaster) send(ctx context.Context, tx *multiversx.Transaction) (string, error) {
	txHash, err := b.client.Broadcast(ctx, tx)
	if err != nil {
		return "", err
	}

	if local, err := tx.Hash(); err != nil {
		b.logger.Warn("could not compute local transaction hash", zap.Error(err))
	} else if local != txHash {
		b.logger.Warn("gateway transaction hash differs from local hash",
			zap.String("txHash", txHash),
			zap.String("localHash", local),
		)
	}
	return txHash, nil
}

// DirectBroadcast sends the payer's transaction unchanged
type DirectBroadcast struct {
	broadcaster
}

// NewDirectBroadcast creates a direct broadcast strategy
func NewDirectBroadcast(client multiversx.Broadcaster, opts ...BroadcastOption) *DirectBroadcast {
	return &DirectBroadcast{broadcaster: newBroadcaster(client, opts)}
}

func (d *DirectBroadcast) Mode() BroadcastMode {
	return BroadcastDirect
}

func (d *DirectBroadcast) Broadcast(ctx context.Context, tx *multiversx.Transaction) (string, error) {
	return d.send(ctx, tx)
}

// RelayedBroadcast wraps the payer's transaction as relayed v3 and co-signs it
type RelayedBroadcast struct {
	broadcaster
	relayer multiversx.RelayerSigner
}

// NewRelayedBroadcast creates a relayed broadcast strategy
func NewRelayedBroadcast(client multiversx.Broadcaster, relayer multiversx.RelayerSigner, opts ...BroadcastOption) *RelayedBroadcast {
	return &RelayedBroadcast{broadcaster: newBroadcaster(client, opts), relayer: relayer}
}

func (r *RelayedBroadcast) Mode() BroadcastMode {
	return BroadcastRelayed
}

// Relayer returns the address paying gas for relayed payments
func (r *RelayedBroadcast) Relayer() string {
	return r.relayer.Address()
}

func (r *RelayedBroadcast) Broadcast(ctx context.Context, tx *multiversx.Transaction) (string, error) {
	relayed, err := r.prepare(tx)
	if err != nil {
		return "", err
	}
	return r.send(ctx, relayed)
}

// prepare returns a copy of tx with the relayer set, the gas limit raised
// by the relayed overhead and the relayer signature attached.
func (r *RelayedBroadcast) prepare(tx *multiversx.Transaction) (*multiversx.Transaction, error) {
	relayed := tx.Clone()
	relayed.Relayer = r.relayer.Address()
	relayed.GasLimit += multiversx.RelayedGasOverhead

	signingBytes, err := relayed.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize relayed transaction: %w", err)
	}
	sig, err := r.relayer.Sign(signingBytes)
	if err != nil {
		return nil, fmt.Errorf("relayer failed to sign: %w", err)
	}
	relayed.RelayerSignature = hex.EncodeToString(sig)
	return relayed, nil
}
