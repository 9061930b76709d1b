/*

This file contains the default risk parameters for the vault.

These defaults target a 3x delta-neutral vault over a volatile/stable pair.
Operators override them per deployment; the defaults are deliberately
conservative.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/lvm/internal/types"
)

// DefaultRiskParameters provides a baseline parameter set used when no
// per-deployment overrides are supplied.
var DefaultRiskParameters = types.RiskParameters{
	// 3x leverage: every $1 of equity carries $3 of position.
	Leverage:      sdkmath.NewInt(3).Mul(types.SafeMultiplier),
	DeltaStrategy: types.DeltaStrategyNeutral,

	// A single deposit or withdraw may move the debt ratio by at most 3%
	// relative. Larger moves indicate a mispriced settlement.
	DebtRatioStepThreshold: sdkmath.NewInt(300),

	// At 3x leverage the steady-state debt ratio is 2/3. The band leaves
	// room for ordinary price drift before a rebalance triggers.
	DebtRatioUpperLimit: sdkmath.NewInt(75).Mul(types.SafeMultiplier).QuoRaw(100), // 0.75
	DebtRatioLowerLimit: sdkmath.NewInt(58).Mul(types.SafeMultiplier).QuoRaw(100), // 0.58

	// Delta band: +/- 5% of equity in volatile exposure.
	DeltaUpperLimit: types.SafeMultiplier.QuoRaw(20),
	DeltaLowerLimit: types.SafeMultiplier.QuoRaw(20).Neg(),

	// Callers must tolerate at least 0.1% slippage; internal swaps are
	// bounded at 1%.
	MinVaultSlippage: sdkmath.NewInt(10),
	SwapSlippage:     sdkmath.NewInt(100),

	// Per-operation value bounds: $10 to $100k. The floor keeps dust
	// operations from rounding to zero shares; the ceiling bounds the market
	// impact of a single settlement.
	MinAssetValue: sdkmath.NewInt(10).Mul(types.SafeMultiplier),
	MaxAssetValue: sdkmath.NewInt(100_000).Mul(types.SafeMultiplier),

	// 2% annual management fee, accrued linearly per second:
	// 0.02 * 1e18 / 31536000.
	FeePerSecond: sdkmath.NewInt(634_195_839),

	Treasury: "treasury",
}
