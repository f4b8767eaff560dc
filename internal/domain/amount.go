package domain

import (
	"fmt"
	"math/big"
	"strings"
)

var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseToken converts a decimal token amount ("1.5") to wei.
func ParseToken(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("invalid token amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerToken))
	if !r.IsInt() {
		return nil, fmt.Errorf("token amount %q has more than 18 decimals", s)
	}
	return new(big.Int).Set(r.Num()), nil
}

// TokenFloat converts wei to a float token amount for display and sorting.
func TokenFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(wei, weiPerToken).Float64()
	return f
}

// TokenSymbol is the native token the contract settles in.
const TokenSymbol = "CORE"

// FormatToken renders wei with two decimals and a K/M suffix, followed by
// the token symbol.
func FormatToken(wei *big.Int) string {
	v := TokenFloat(wei)
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%.2fM %s", v/1_000_000, TokenSymbol)
	case v >= 1_000:
		return fmt.Sprintf("%.2fK %s", v/1_000, TokenSymbol)
	default:
		return fmt.Sprintf("%.2f %s", v, TokenSymbol)
	}
}
