package multiversx

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	FunctionESDTTransfer      = "ESDTTransfer"
	FunctionMultiESDTTransfer = "MultiESDTNFTTransfer"

	dataSeparator = "@"
)

// ErrNotATokenTransfer is returned for data fields that do not encode a token transfer
var ErrNotATokenTransfer = errors.New("not a token transfer")

// TokenTransfer is one token movement encoded in a transaction data field
type TokenTransfer struct {
	Token  string
	Nonce  uint64
	Amount *big.Int
}

// TransferData is the decoded form of a token transfer data field
type TransferData struct {
	Function string
	// Destination is only set for multi transfers, where the transaction
	// receiver is not the one receiving the tokens.
	Destination string
	Transfers   []TokenTransfer
}

// Find returns the fungible transfer of token, if present
func (d *TransferData) Find(token string) (TokenTransfer, bool) {
	for _, t := range d.Transfers {
		if t.Token == token && t.Nonce == 0 {
			return t, true
		}
	}
	return TokenTransfer{}, false
}

// ParseTransferData decodes ESDTTransfer and MultiESDTNFTTransfer data fields:
//
//	ESDTTransfer@<token>@<amount>[@...]
//	MultiESDTNFTTransfer@<destination>@<count>(@<token>@<nonce>@<amount>){count}[@...]
//
// Arguments are hex encoded. Trailing smart contract call arguments are ignored.
func ParseTransferData(data string) (*TransferData, error) {
	if data == "" {
		return nil, ErrNotATokenTransfer
	}
	args := strings.Split(data, dataSeparator)

	switch args[0] {
	case FunctionESDTTransfer:
		if len(args) < 3 {
			return nil, fmt.Errorf("%w: %s expects token and amount", ErrNotATokenTransfer, args[0])
		}
		token, err := decodeToken(args[1])
		if err != nil {
			return nil, err
		}
		amount, err := decodeBigInt(args[2])
		if err != nil {
			return nil, err
		}
		return &TransferData{
			Function:  args[0],
			Transfers: []TokenTransfer{{Token: token, Amount: amount}},
		}, nil

	case FunctionMultiESDTTransfer:
		if len(args) < 3 {
			return nil, fmt.Errorf("%w: %s expects destination and count", ErrNotATokenTransfer, args[0])
		}
		destBytes, err := hex.DecodeString(args[1])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid destination", ErrNotATokenTransfer)
		}
		destination, err := EncodeAddress(destBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid destination: %v", ErrNotATokenTransfer, err)
		}
		count, err := decodeBigInt(args[2])
		if err != nil {
			return nil, err
		}
		available := big.NewInt(int64((len(args) - 3) / 3))
		if count.Sign() == 0 || count.Cmp(available) > 0 {
			return nil, fmt.Errorf("%w: transfer count does not match arguments", ErrNotATokenTransfer)
		}

		n := int(count.Int64())
		transfers := make([]TokenTransfer, 0, n)
		for i := 0; i < n; i++ {
			base := 3 + 3*i
			token, err := decodeToken(args[base])
			if err != nil {
				return nil, err
			}
			nonce, err := decodeBigInt(args[base+1])
			if err != nil {
				return nil, err
			}
			if !nonce.IsUint64() {
				return nil, fmt.Errorf("%w: nonce out of range", ErrNotATokenTransfer)
			}
			amount, err := decodeBigInt(args[base+2])
			if err != nil {
				return nil, err
			}
			transfers = append(transfers, TokenTransfer{Token: token, Nonce: nonce.Uint64(), Amount: amount})
		}
		return &TransferData{
			Function:    args[0],
			Destination: destination,
			Transfers:   transfers,
		}, nil
	}

	return nil, ErrNotATokenTransfer
}

func decodeToken(arg string) (string, error) {
	raw, err := hex.DecodeString(arg)
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("%w: invalid token identifier", ErrNotATokenTransfer)
	}
	for _, c := range raw {
		if c < 0x21 || c > 0x7e {
			return "", fmt.Errorf("%w: invalid token identifier", ErrNotATokenTransfer)
		}
	}
	return string(raw), nil
}

// decodeBigInt decodes an unsigned big endian hex argument; the empty argument is zero
func decodeBigInt(arg string) (*big.Int, error) {
	raw, err := hex.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid numeric argument %q", ErrNotATokenTransfer, arg)
	}
	return new(big.Int).SetBytes(raw), nil
}

// EncodeESDTTransfer builds an ESDTTransfer data field
func EncodeESDTTransfer(token string, amount *big.Int) string {
	return strings.Join([]string{
		FunctionESDTTransfer,
		hex.EncodeToString([]byte(token)),
		encodeBigInt(amount),
	}, dataSeparator)
}

// EncodeMultiESDTTransfer builds a MultiESDTNFTTransfer data field
func EncodeMultiESDTTransfer(destination string, transfers []TokenTransfer) (string, error) {
	dest, err := DecodeAddress(destination)
	if err != nil {
		return "", err
	}
	args := []string{
		FunctionMultiESDTTransfer,
		hex.EncodeToString(dest),
		encodeBigInt(big.NewInt(int64(len(transfers)))),
	}
	for _, t := range transfers {
		args = append(args,
			hex.EncodeToString([]byte(t.Token)),
			encodeBigInt(new(big.Int).SetUint64(t.Nonce)),
			encodeBigInt(t.Amount),
		)
	}
	return strings.Join(args, dataSeparator), nil
}

func encodeBigInt(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return ""
	}
	s := v.Text(16)
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return s
}
