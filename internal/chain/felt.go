package chain

import (
	"fmt"
	"math/big"
	"strings"
)

// NormalizeAddress canonicalizes a felt-encoded chain address so differently
// padded representations of the same address compare equal: lowercase hex,
// 0x prefix, redundant leading zero nibbles stripped. The zero address
// normalizes to "0x0". Normalization is idempotent.
func NormalizeAddress(address string) string {
	s := strings.TrimSpace(strings.ToLower(address))
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0x0"
	}
	return "0x" + s
}

// ParseFelt parses a 0x-prefixed (or bare) hex felt into a big integer.
func ParseFelt(felt string) (*big.Int, error) {
	s := strings.TrimSpace(strings.ToLower(felt))
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, fmt.Errorf("empty felt")
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid felt %q", felt)
	}
	return n, nil
}

// CombineUint128Pair reassembles a u256 from its on-chain felt pair as
// low + (high << 128). The packing mirrors the Cairo u256 layout and must
// stay bit-exact.
func CombineUint128Pair(low, high *big.Int) *big.Int {
	result := new(big.Int).Lsh(high, 128)
	return result.Add(result, low)
}

// ParseUint128Pair parses two consecutive felts as a u256 (low, high) pair.
func ParseUint128Pair(lowFelt, highFelt string) (*big.Int, error) {
	low, err := ParseFelt(lowFelt)
	if err != nil {
		return nil, fmt.Errorf("parse low word: %w", err)
	}
	high, err := ParseFelt(highFelt)
	if err != nil {
		return nil, fmt.Errorf("parse high word: %w", err)
	}
	return CombineUint128Pair(low, high), nil
}
