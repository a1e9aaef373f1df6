// Package units converts between human decimal amounts and integer smallest units.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the decimals of every EVM native coin.
const NativeDecimals = 18

// ParseAmount reads a non-negative base-10 human amount such as "0.01". Scale it with
// FromDecimal once the asset's decimals are known.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", s)
	}
	return d, nil
}

// FromDecimal scales d by 10^decimals and truncates toward zero.
func FromDecimal(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

// ToDecimal is the inverse of FromDecimal.
func ToDecimal(x *big.Int, decimals int32) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, -decimals)
}

// Format renders x (smallest units) as a trimmed decimal string, e.g. 1_000_000_000_000 at
// 18 decimals -> "0.000001".
func Format(x *big.Int, decimals int32) string {
	if x == nil {
		return "0"
	}
	return ToDecimal(x, decimals).String()
}
