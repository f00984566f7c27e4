package multiversx

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/x402-foundation/x402-multiversx"
)

// MessageDelimiter separates the fields of the canonical payment message
const MessageDelimiter = "|"

// signedMessagePrefix is prepended by wallets when signing arbitrary messages
const signedMessagePrefix = "\x17Elrond Signed Message:\n"

// CanonicalMessage serializes the signed fields of a payment in their fixed order:
// nonce|value|receiver|sender|gasPrice|gasLimit|data|chainID|version|options
//
// Integers are rendered in base 10 and an absent data field is the empty string.
// The result must match the bytes the payer's wallet signed exactly.
func CanonicalMessage(p x402.PaymentPayload) []byte {
	parts := []string{
		strconv.FormatUint(p.Nonce, 10),
		p.Value,
		p.Receiver,
		p.Sender,
		strconv.FormatUint(p.GasPrice, 10),
		strconv.FormatUint(p.GasLimit, 10),
		p.Data,
		p.ChainID,
		strconv.FormatUint(uint64(p.Version), 10),
		strconv.FormatUint(uint64(p.Options), 10),
	}
	return []byte(strings.Join(parts, MessageDelimiter))
}

// SignedMessageDigest returns the digest a wallet signs for signMessage requests
func SignedMessageDigest(message []byte) []byte {
	prefixed := make([]byte, 0, len(signedMessagePrefix)+len(message)+8)
	prefixed = append(prefixed, signedMessagePrefix...)
	prefixed = strconv.AppendInt(prefixed, int64(len(message)), 10)
	prefixed = append(prefixed, message...)
	return crypto.Keccak256(prefixed)
}
