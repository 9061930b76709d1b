package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// RiskParameters holds all tunable limits and thresholds governing the
// vault's leverage, exposure and per-operation market impact. Bounds are
// validated once at configuration time, not per call.
type RiskParameters struct {
	// Leverage is the target asset/equity ratio, 1e18 scaled (3x = 3e18).
	Leverage sdkmath.Int `json:"leverage"`
	// DeltaStrategy selects which borrow legs the vault carries.
	DeltaStrategy DeltaStrategy `json:"delta_strategy"`

	// DebtRatioStepThreshold bounds how far the debt ratio may move within a
	// single deposit or withdraw, relative, in basis points.
	DebtRatioStepThreshold sdkmath.Int `json:"debt_ratio_step_threshold"`

	// Post-rebalance bands, 1e18 scaled. Upper must be >= lower.
	DebtRatioUpperLimit sdkmath.Int `json:"debt_ratio_upper_limit"`
	DebtRatioLowerLimit sdkmath.Int `json:"debt_ratio_lower_limit"`
	DeltaUpperLimit     sdkmath.Int `json:"delta_upper_limit"` // signed
	DeltaLowerLimit     sdkmath.Int `json:"delta_lower_limit"` // signed

	// MinVaultSlippage is the floor for caller-supplied slippage, basis points.
	MinVaultSlippage sdkmath.Int `json:"min_vault_slippage"`
	// SwapSlippage is the default bound applied to internal swaps, basis points.
	SwapSlippage sdkmath.Int `json:"swap_slippage"`

	// Per-operation USD value bounds, 1e18 scaled.
	MinAssetValue sdkmath.Int `json:"min_asset_value"`
	MaxAssetValue sdkmath.Int `json:"max_asset_value"`

	// FeePerSecond is the linear management fee accrual rate, 1e18 scaled.
	FeePerSecond sdkmath.Int `json:"fee_per_second"`
	// Treasury receives minted fee shares.
	Treasury string `json:"treasury"`
}

// Validate performs configuration-time validation of all parameter bounds.
func (p RiskParameters) Validate() error {
	if p.Leverage.IsNil() || p.Leverage.LTE(SafeMultiplier) {
		return fmt.Errorf("%w: leverage must exceed 1e18", ErrInvalidRiskParameters)
	}
	switch p.DeltaStrategy {
	case DeltaStrategyNeutral, DeltaStrategyLong, DeltaStrategyShort:
	default:
		return fmt.Errorf("%w: unknown delta strategy %q", ErrInvalidRiskParameters, p.DeltaStrategy)
	}
	if p.DebtRatioStepThreshold.IsNil() || p.DebtRatioStepThreshold.IsNegative() {
		return fmt.Errorf("%w: debt ratio step threshold is negative", ErrInvalidRiskParameters)
	}
	if p.DebtRatioUpperLimit.IsNil() || p.DebtRatioLowerLimit.IsNil() ||
		p.DebtRatioUpperLimit.LT(p.DebtRatioLowerLimit) {
		return fmt.Errorf("%w: debt ratio upper limit below lower limit", ErrInvalidRiskParameters)
	}
	if p.DeltaUpperLimit.IsNil() || p.DeltaLowerLimit.IsNil() ||
		p.DeltaUpperLimit.LT(p.DeltaLowerLimit) {
		return fmt.Errorf("%w: delta upper limit below lower limit", ErrInvalidRiskParameters)
	}
	if p.MinVaultSlippage.IsNil() || p.MinVaultSlippage.IsNegative() ||
		p.MinVaultSlippage.GT(BasisPointsDivisor) {
		return fmt.Errorf("%w: min vault slippage out of range", ErrInvalidRiskParameters)
	}
	if p.SwapSlippage.IsNil() || p.SwapSlippage.IsNegative() ||
		p.SwapSlippage.GT(BasisPointsDivisor) {
		return fmt.Errorf("%w: swap slippage out of range", ErrInvalidRiskParameters)
	}
	if p.MinAssetValue.IsNil() || p.MinAssetValue.IsNegative() {
		return fmt.Errorf("%w: min asset value is negative", ErrInvalidRiskParameters)
	}
	if p.MaxAssetValue.IsNil() || p.MaxAssetValue.LT(p.MinAssetValue) {
		return fmt.Errorf("%w: max asset value below min asset value", ErrInvalidRiskParameters)
	}
	if p.FeePerSecond.IsNil() || p.FeePerSecond.IsNegative() {
		return fmt.Errorf("%w: fee per second is negative", ErrInvalidRiskParameters)
	}
	if p.Treasury == "" {
		return fmt.Errorf("%w: treasury account is empty", ErrInvalidRiskParameters)
	}
	return nil
}
