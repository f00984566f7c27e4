package multiversx

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// Ed25519Verifier checks account signatures locally, without a gateway round trip
type Ed25519Verifier struct {
	mode SignatureMode
}

// NewEd25519Verifier creates a verifier for the given signature mode.
// An empty mode means SignatureModeRaw.
func NewEd25519Verifier(mode SignatureMode) (*Ed25519Verifier, error) {
	switch mode {
	case "":
		mode = SignatureModeRaw
	case SignatureModeRaw, SignatureModeMessage:
	default:
		return nil, fmt.Errorf("unsupported signature mode %q", mode)
	}
	return &Ed25519Verifier{mode: mode}, nil
}

// VerifySignature reports whether signature is valid for message under address's key.
// A malformed address is an error, a wrong signature is not.
func (v *Ed25519Verifier) VerifySignature(_ context.Context, address string, message, signature []byte) (bool, error) {
	pubKey, err := DecodeAddress(address)
	if err != nil {
		return false, err
	}
	if len(signature) != ed25519.SignatureSize {
		return false, nil
	}
	if v.mode == SignatureModeMessage {
		message = SignedMessageDigest(message)
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), message, signature), nil
}

// Ed25519Signer signs with a local account key
type Ed25519Signer struct {
	key     ed25519.PrivateKey
	address string
}

// NewEd25519Signer creates a signer from a 32 byte seed
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid secret key length %d", len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	address, err := EncodeAddress(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{key: key, address: address}, nil
}

// NewEd25519SignerFromHex accepts a hex seed, or seed followed by public key
func NewEd25519SignerFromHex(secret string) (*Ed25519Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(secret), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return NewEd25519Signer(raw)
	case ed25519.PrivateKeySize:
		signer, err := NewEd25519Signer(raw[:ed25519.SeedSize])
		if err != nil {
			return nil, err
		}
		if !ed25519.PublicKey(raw[ed25519.SeedSize:]).Equal(signer.key.Public()) {
			return nil, fmt.Errorf("secret key does not match its public key")
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("invalid secret key length %d", len(raw))
	}
}

// NewEd25519SignerFromPEM parses a wallet PEM block ("PRIVATE KEY for erd1...").
// The block body is the hex text of seed and public key.
func NewEd25519SignerFromPEM(data []byte) (*Ed25519Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if !strings.HasPrefix(block.Type, "PRIVATE KEY") {
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
	signer, err := NewEd25519SignerFromHex(string(block.Bytes))
	if err != nil {
		return nil, err
	}
	if label := strings.TrimSpace(strings.TrimPrefix(block.Type, "PRIVATE KEY for")); label != "" && label != block.Type && label != signer.address {
		return nil, fmt.Errorf("PEM label %s does not match key address %s", label, signer.address)
	}
	return signer, nil
}

// LoadEd25519SignerPEM reads a wallet PEM file
func LoadEd25519SignerPEM(path string) (*Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PEM file: %w", err)
	}
	return NewEd25519SignerFromPEM(data)
}

func (s *Ed25519Signer) Address() string {
	return s.address
}

func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.key, message), nil
}
