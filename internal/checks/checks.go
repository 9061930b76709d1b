/*

This file contains the guard layer: precondition and postcondition
predicates gating every mutating operation. Guards return a distinct
sentinel error per failure condition and never mutate state. Postcondition
guards run over the before/after health snapshots captured by the vault.

*/

package checks

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/lvm/internal/reader"
	"github.com/parallax-fi/lvm/internal/types"
)

// Checker evaluates the state machine's legality rules over a Store.
type Checker struct {
	store  *types.Store
	reader *reader.Reader
}

// New creates a Checker.
func New(store *types.Store, r *reader.Reader) *Checker {
	return &Checker{store: store, reader: r}
}

// RequireStatus fails unless the current status is one of the allowed set.
func (c *Checker) RequireStatus(allowed ...types.Status) error {
	for _, s := range allowed {
		if c.store.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: status is %s", types.ErrNotAllowedInCurrentStatus, c.store.Status)
}

// RequireCallback fails unless the vault is in the expected in-flight status
// and the callback's request key matches the stored correlation key. Stale
// callbacks for superseded operations are rejected, never misapplied.
func (c *Checker) RequireCallback(expected types.Status, storedKey, callbackKey string) error {
	if c.store.Status != expected {
		return fmt.Errorf("%w: status is %s, expected %s", types.ErrInvalidCallbackStatus, c.store.Status, expected)
	}
	if storedKey == "" || storedKey != callbackKey {
		return fmt.Errorf("%w: stored %q, received %q", types.ErrStaleCallback, storedKey, callbackKey)
	}
	return nil
}

// BeforeDeposit validates a deposit before any value moves.
func (c *Checker) BeforeDeposit(ctx context.Context, cache types.DepositCache) error {
	if err := c.RequireStatus(types.StatusOpen); err != nil {
		return err
	}
	if cache.DepositAmt.IsNil() || cache.DepositAmt.IsZero() {
		return types.ErrEmptyDepositAmount
	}
	if cache.Slippage.LT(c.store.Params.MinVaultSlippage) {
		return fmt.Errorf("%w: %s < %s", types.ErrInvalidSlippage, cache.Slippage, c.store.Params.MinVaultSlippage)
	}
	if cache.DepositValue.LT(c.store.Params.MinAssetValue) {
		return fmt.Errorf("%w: %s < %s", types.ErrInsufficientDepositValue, cache.DepositValue, c.store.Params.MinAssetValue)
	}
	if cache.DepositValue.GT(c.store.Params.MaxAssetValue) {
		return fmt.Errorf("%w: %s > %s", types.ErrExcessiveDepositValue, cache.DepositValue, c.store.Params.MaxAssetValue)
	}
	additionalCapacity, err := c.reader.AdditionalCapacity(ctx)
	if err != nil {
		return err
	}
	if cache.DepositValue.GT(additionalCapacity) {
		return fmt.Errorf("%w: %s > %s", types.ErrInsufficientCapacity, cache.DepositValue, additionalCapacity)
	}
	return nil
}

// AfterDeposit validates the settled deposit: position and equity must have
// strictly increased, the debt ratio must be within the step-change bound,
// and the shares minted must meet the user's slippage floor.
func (c *Checker) AfterDeposit(health types.HealthParams, sharesToUser, minSharesAmt sdkmath.Int) error {
	if !health.LpAmtAfter.GT(health.LpAmtBefore) {
		return fmt.Errorf("%w: lp amount %s -> %s", types.ErrInvalidLpAmountChange, health.LpAmtBefore, health.LpAmtAfter)
	}
	if !health.EquityAfter.GT(health.EquityBefore) {
		return fmt.Errorf("%w: equity %s -> %s", types.ErrInvalidEquityChange, health.EquityBefore, health.EquityAfter)
	}
	if err := c.isWithinStepChange(health.DebtRatioBefore, health.DebtRatioAfter); err != nil {
		return err
	}
	if sharesToUser.LT(minSharesAmt) {
		return fmt.Errorf("%w: %s < %s", types.ErrInsufficientSharesMinted, sharesToUser, minSharesAmt)
	}
	return nil
}

// BeforeWithdraw validates a withdrawal before shares are burned.
func (c *Checker) BeforeWithdraw(cache types.WithdrawCache) error {
	if err := c.RequireStatus(types.StatusOpen); err != nil {
		return err
	}
	if cache.ShareAmt.IsNil() || cache.ShareAmt.IsZero() {
		return types.ErrEmptyShareAmount
	}
	if c.store.ShareBalance(cache.User).LT(cache.ShareAmt) {
		return fmt.Errorf("%w: balance %s, requested %s", types.ErrInsufficientShareBalance,
			c.store.ShareBalance(cache.User), cache.ShareAmt)
	}
	if cache.Slippage.LT(c.store.Params.MinVaultSlippage) {
		return fmt.Errorf("%w: %s < %s", types.ErrInvalidSlippage, cache.Slippage, c.store.Params.MinVaultSlippage)
	}
	if cache.WithdrawValue.LT(c.store.Params.MinAssetValue) {
		return fmt.Errorf("%w: %s < %s", types.ErrInsufficientWithdrawValue, cache.WithdrawValue, c.store.Params.MinAssetValue)
	}
	if cache.WithdrawValue.GT(c.store.Params.MaxAssetValue) {
		return fmt.Errorf("%w: %s > %s", types.ErrExcessiveWithdrawValue, cache.WithdrawValue, c.store.Params.MaxAssetValue)
	}
	return nil
}

// AfterWithdraw validates the settled withdrawal: position and equity must
// have strictly decreased, the debt ratio must be within the step-change
// bound, and the assets paid out must meet the user's slippage floor.
func (c *Checker) AfterWithdraw(health types.HealthParams, assetsToUser, minAssetsAmt sdkmath.Int) error {
	if !health.LpAmtAfter.LT(health.LpAmtBefore) {
		return fmt.Errorf("%w: lp amount %s -> %s", types.ErrInvalidLpAmountChange, health.LpAmtBefore, health.LpAmtAfter)
	}
	if !health.EquityAfter.LT(health.EquityBefore) {
		return fmt.Errorf("%w: equity %s -> %s", types.ErrInvalidEquityChange, health.EquityBefore, health.EquityAfter)
	}
	if err := c.isWithinStepChange(health.DebtRatioBefore, health.DebtRatioAfter); err != nil {
		return err
	}
	if assetsToUser.LT(minAssetsAmt) {
		return fmt.Errorf("%w: %s < %s", types.ErrInsufficientAssetsReceived, assetsToUser, minAssetsAmt)
	}
	return nil
}

// BeforeRebalance fails when rebalancing is not needed: a rebalance is only
// legal when delta (Neutral strategy) or the debt ratio is outside its
// configured band — the inverse of the deposit/withdraw guards.
func (c *Checker) BeforeRebalance(debtRatio, delta sdkmath.Int) error {
	if err := c.RequireStatus(types.StatusOpen, types.StatusRebalanceOpen); err != nil {
		return err
	}
	debtRatioOutOfBand := debtRatio.LT(c.store.Params.DebtRatioLowerLimit) ||
		debtRatio.GT(c.store.Params.DebtRatioUpperLimit)
	deltaOutOfBand := false
	if c.store.Params.DeltaStrategy == types.DeltaStrategyNeutral {
		deltaOutOfBand = delta.LT(c.store.Params.DeltaLowerLimit) ||
			delta.GT(c.store.Params.DeltaUpperLimit)
	}
	if !debtRatioOutOfBand && !deltaOutOfBand {
		return fmt.Errorf("%w: debt ratio %s, delta %s", types.ErrRebalanceNotNeeded, debtRatio, delta)
	}
	return nil
}

// AfterRebalance requires the relevant metrics back inside their bands: the
// debt ratio always, delta only for the Neutral strategy.
func (c *Checker) AfterRebalance(health types.HealthParams) error {
	if health.DebtRatioAfter.LT(c.store.Params.DebtRatioLowerLimit) ||
		health.DebtRatioAfter.GT(c.store.Params.DebtRatioUpperLimit) {
		return fmt.Errorf("%w: %s not in [%s, %s]", types.ErrDebtRatioOutOfRange,
			health.DebtRatioAfter, c.store.Params.DebtRatioLowerLimit, c.store.Params.DebtRatioUpperLimit)
	}
	if c.store.Params.DeltaStrategy == types.DeltaStrategyNeutral {
		if health.DeltaAfter.LT(c.store.Params.DeltaLowerLimit) ||
			health.DeltaAfter.GT(c.store.Params.DeltaUpperLimit) {
			return fmt.Errorf("%w: %s not in [%s, %s]", types.ErrDeltaOutOfRange,
				health.DeltaAfter, c.store.Params.DeltaLowerLimit, c.store.Params.DeltaUpperLimit)
		}
	}
	return nil
}

// BeforeCompound validates a compound.
func (c *Checker) BeforeCompound(cache types.CompoundCache) error {
	if err := c.RequireStatus(types.StatusOpen); err != nil {
		return err
	}
	if cache.DepositValue.IsNil() || cache.DepositValue.IsZero() {
		return types.ErrEmptyDepositAmount
	}
	return nil
}

// BeforeFeeCollection refuses fee collection while the vault is paused or
// closed.
func (c *Checker) BeforeFeeCollection() error {
	if c.store.Status == types.StatusPaused || c.store.Status == types.StatusClosed {
		return types.ErrFeeCollectionPaused
	}
	return nil
}

// BeforeEmergencyWithdraw validates a per-user emergency withdrawal against
// a permanently closed vault.
func (c *Checker) BeforeEmergencyWithdraw(user string, shareAmt sdkmath.Int) error {
	if c.store.Status != types.StatusClosed {
		return fmt.Errorf("%w: status is %s", types.ErrVaultNotClosed, c.store.Status)
	}
	if shareAmt.IsNil() || shareAmt.IsZero() {
		return types.ErrEmptyShareAmount
	}
	if c.store.ShareBalance(user).LT(shareAmt) {
		return fmt.Errorf("%w: balance %s, requested %s", types.ErrInsufficientShareBalance,
			c.store.ShareBalance(user), shareAmt)
	}
	return nil
}

// isWithinStepChange bounds single-operation market impact: the debt ratio
// after a deposit or withdraw must stay within +/- the step threshold
// (relative, basis points) of its pre-operation value. The bootstrap case
// (ratio zero before) always passes.
func (c *Checker) isWithinStepChange(before, after sdkmath.Int) error {
	if before.IsZero() {
		return nil
	}
	threshold := c.store.Params.DebtRatioStepThreshold
	lower := before.Mul(types.BasisPointsDivisor.Sub(threshold)).Quo(types.BasisPointsDivisor)
	upper := before.Mul(types.BasisPointsDivisor.Add(threshold)).Quo(types.BasisPointsDivisor)
	if after.LT(lower) || after.GT(upper) {
		return fmt.Errorf("%w: %s -> %s, threshold %s bps", types.ErrExcessiveDebtRatioChange, before, after, threshold)
	}
	return nil
}
