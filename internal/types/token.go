package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// SafeMultiplier is the 18-decimal fixed-point base used for all USD values
// and ratios throughout the system.
var SafeMultiplier = sdkmath.NewInt(1e18)

// BasisPointsDivisor is the denominator for slippage and threshold
// parameters expressed in basis points.
var BasisPointsDivisor = sdkmath.NewInt(10000)

// Token describes one asset the vault touches.
type Token struct {
	Symbol   string `json:"symbol"`
	Denom    string `json:"denom"`    // ledger denomination (e.g. "uatom")
	Decimals int    `json:"decimals"` // native precision, 0..18
}

// Validate performs zero-tolerance validation of the token configuration.
func (t Token) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidTokenConfig)
	}
	if t.Denom == "" {
		return fmt.Errorf("%w: token %s has empty denom", ErrInvalidTokenConfig, t.Symbol)
	}
	if t.Decimals < 0 || t.Decimals > 18 {
		return fmt.Errorf("%w: token %s has invalid decimals %d", ErrInvalidTokenConfig, t.Symbol, t.Decimals)
	}
	return nil
}

// NormalizeAmt scales a raw token amount up to the 18-decimal base used by
// the accounting layer.
func (t Token) NormalizeAmt(amt sdkmath.Int) sdkmath.Int {
	if t.Decimals == 18 {
		return amt
	}
	return amt.Mul(pow10(18 - t.Decimals))
}

// DenormalizeAmt scales an 18-decimal amount back down to the token's native
// precision, truncating dust.
func (t Token) DenormalizeAmt(amt sdkmath.Int) sdkmath.Int {
	if t.Decimals == 18 {
		return amt
	}
	return amt.Quo(pow10(18 - t.Decimals))
}

func pow10(n int) sdkmath.Int {
	out := sdkmath.OneInt()
	ten := sdkmath.NewInt(10)
	for i := 0; i < n; i++ {
		out = out.Mul(ten)
	}
	return out
}
