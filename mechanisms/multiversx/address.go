package multiversx

import (
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// DecodeAddress returns the 32 byte public key behind a bech32 account address
func DecodeAddress(address string) ([]byte, error) {
	hrp, data, err := bech32.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if hrp != AddressHRP {
		return nil, fmt.Errorf("invalid address %q: unexpected prefix %q", address, hrp)
	}

	pubKey, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid address %q: expected %d bytes, got %d", address, ed25519.PublicKeySize, len(pubKey))
	}
	return pubKey, nil
}

// EncodeAddress returns the bech32 account address of a public key
func EncodeAddress(pubKey []byte) (string, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid public key length %d", len(pubKey))
	}
	data, err := bech32.ConvertBits(pubKey, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(AddressHRP, data)
}

// IsValidAddress reports whether address is a well formed account address
func IsValidAddress(address string) bool {
	_, err := DecodeAddress(address)
	return err == nil
}
