// Package codec derives chain deal identifiers from ledger contract ids and
// converts between decimal prices and the token's fixed-point units.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed-point scale of the escrow token.
const TokenDecimals = 6

// ErrAmountOverflow reports a price that does not fit the chain's uint256
// amount after scaling.
var ErrAmountOverflow = errors.New("amount overflows chain units")

// DealID maps a ledger contract id to the 32-byte deal id used on chain.
// Both the create and the release paths re-derive it independently, so it
// must stay a pure function of the contract id.
func DealID(contractID string) common.Hash {
	return crypto.Keccak256Hash([]byte(contractID))
}

// DealIDHex renders the deal id the way it is keyed in the mapping store and
// printed in logs: 0x-prefixed lowercase hex.
func DealIDHex(contractID string) string {
	return DealID(contractID).Hex()
}

// ParseDealID parses a 0x-prefixed 64-char hex deal id.
func ParseDealID(s string) (common.Hash, error) {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("invalid deal id %q", s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid deal id %q: %w", s, err)
	}
	return common.BytesToHash(raw), nil
}

// ToChainUnits scales price by 10^decimals and truncates toward zero.
// Negative prices and results wider than 256 bits are rejected.
func ToChainUnits(price decimal.Decimal, decimals int) (*big.Int, error) {
	if price.Sign() < 0 {
		return nil, fmt.Errorf("negative price %s: %w", price, ErrAmountOverflow)
	}
	units := price.Shift(int32(decimals)).Truncate(0).BigInt()
	if units.BitLen() > 256 {
		return nil, fmt.Errorf("price %s: %w", price, ErrAmountOverflow)
	}
	return units, nil
}

// FromChainUnits reverses ToChainUnits up to the precision the scale keeps.
func FromChainUnits(units *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(units, 0).Shift(int32(-decimals))
}
