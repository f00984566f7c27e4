package multiversx

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/blake2b"
	"google.golang.org/protobuf/encoding/protowire"

	x402 "github.com/x402-foundation/x402-multiversx"
)

// TransactionFromPayload builds the ledger transaction carrying the payer's signature
func TransactionFromPayload(p x402.PaymentPayload) (*Transaction, error) {
	if _, ok := ParseAmount(p.Value); !ok {
		return nil, fmt.Errorf("invalid value %q", p.Value)
	}
	sig, err := p.SignatureBytes()
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Nonce:     p.Nonce,
		Value:     p.Value,
		Receiver:  p.Receiver,
		Sender:    p.Sender,
		GasPrice:  p.GasPrice,
		GasLimit:  p.GasLimit,
		Signature: hex.EncodeToString(sig),
		ChainID:   p.ChainID,
		Version:   p.Version,
		Options:   p.Options,
	}
	if p.Data != "" {
		tx.Data = []byte(p.Data)
	}
	return tx, nil
}

// Clone returns a copy that can be mutated independently
func (tx *Transaction) Clone() *Transaction {
	c := *tx
	if tx.Data != nil {
		c.Data = append([]byte(nil), tx.Data...)
	}
	return &c
}

// signingFields mirrors the gateway's serialization for signing.
// Field order is significant.
type signingFields struct {
	Nonce    uint64 `json:"nonce"`
	Value    string `json:"value"`
	Receiver string `json:"receiver"`
	Sender   string `json:"sender"`
	GasPrice uint64 `json:"gasPrice"`
	GasLimit uint64 `json:"gasLimit"`
	Data     []byte `json:"data,omitempty"`
	ChainID  string `json:"chainID"`
	Version  uint32 `json:"version"`
	Options  uint32 `json:"options,omitempty"`
	Relayer  string `json:"relayer,omitempty"`
}

// SigningBytes returns the bytes a sender or relayer signs for this transaction
func (tx *Transaction) SigningBytes() ([]byte, error) {
	return json.Marshal(signingFields{
		Nonce:    tx.Nonce,
		Value:    tx.Value,
		Receiver: tx.Receiver,
		Sender:   tx.Sender,
		GasPrice: tx.GasPrice,
		GasLimit: tx.GasLimit,
		Data:     tx.Data,
		ChainID:  tx.ChainID,
		Version:  tx.Version,
		Options:  tx.Options,
		Relayer:  tx.Relayer,
	})
}

// Hash computes the transaction hash the ledger assigns to tx
func (tx *Transaction) Hash() (string, error) {
	encoded, err := tx.protoBytes()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// protoBytes encodes tx the way nodes serialize it before hashing.
// Zero valued scalars are omitted, as in proto3.
func (tx *Transaction) protoBytes() ([]byte, error) {
	value, ok := ParseAmount(tx.Value)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", tx.Value)
	}
	receiver, err := DecodeAddress(tx.Receiver)
	if err != nil {
		return nil, err
	}
	sender, err := DecodeAddress(tx.Sender)
	if err != nil {
		return nil, err
	}
	signature, err := hex.DecodeString(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	var b []byte
	appendVarint := func(num protowire.Number, v uint64) {
		if v == 0 {
			return
		}
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	appendBytes := func(num protowire.Number, v []byte) {
		if len(v) == 0 {
			return
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}

	appendVarint(1, tx.Nonce)
	appendBytes(2, signedMagnitude(value))
	appendBytes(3, receiver)
	appendBytes(5, sender)
	appendVarint(7, tx.GasPrice)
	appendVarint(8, tx.GasLimit)
	appendBytes(9, tx.Data)
	appendBytes(10, []byte(tx.ChainID))
	appendVarint(11, uint64(tx.Version))
	appendBytes(12, signature)
	appendVarint(13, uint64(tx.Options))

	if tx.Relayer != "" {
		relayer, err := DecodeAddress(tx.Relayer)
		if err != nil {
			return nil, err
		}
		relayerSig, err := hex.DecodeString(tx.RelayerSignature)
		if err != nil {
			return nil, fmt.Errorf("invalid relayer signature: %w", err)
		}
		appendBytes(16, relayer)
		appendBytes(17, relayerSig)
	}
	return b, nil
}

// signedMagnitude is the sign byte plus big endian magnitude used for ledger big integers
func signedMagnitude(v *big.Int) []byte {
	if v.Sign() == 0 {
		return []byte{0, 0}
	}
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	return append([]byte{sign}, v.Bytes()...)
}

// ParseAmount parses a non-negative base 10 integer of arbitrary size
func ParseAmount(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
