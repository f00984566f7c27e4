package multiversx

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatEGLD renders an amount of the smallest denomination as EGLD, e.g. "0.05"
func FormatEGLD(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -EGLDDecimals).String()
}

// FormatAmount renders a decimal string value as EGLD, falling back to the raw input
func FormatAmount(value string) string {
	v, ok := ParseAmount(value)
	if !ok {
		return value
	}
	return FormatEGLD(v)
}

// IsNativeAsset reports whether asset names the chain's native currency
func IsNativeAsset(asset string) bool {
	return asset == NativeAsset
}
