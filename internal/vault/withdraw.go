/*

This file contains the withdrawal workflow. Shares are burned up front — the
request phase removes the proportional position slice from the venue; the
settlement phase repays the proportional debt, converts the remainder to the
requested payout token and runs the post-commit health checks. A failed
post-commit check parks the vault in WithdrawFailed until the recovery
sub-flow restores the removed position and re-mints the burned shares.

*/

package vault

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/lvm/internal/metrics"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/venue"
)

// Withdraw burns shareAmt of the user's shares and pays out the
// corresponding equity slice in withdrawDenom (a constituent token or the
// native token, which is unwrapped on payout). minAssetsAmt is the user's
// slippage floor on the payout; slippage is the operation tolerance in
// basis points.
func (v *Vault) Withdraw(ctx context.Context, user string, shareAmt sdkmath.Int, withdrawDenom string, minAssetsAmt, slippage sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.withdrawToken(withdrawDenom); err != nil {
		return err
	}

	// Fee accrual must be settled before the share ratio is computed, or the
	// withdrawer would skip their share of the pending fee.
	if err := v.checker.BeforeFeeCollection(); err != nil {
		return err
	}
	v.mintFee()

	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}

	if v.store.TotalShares.IsZero() {
		return types.ErrZeroShareSupply
	}
	shareRatio := shareAmt.Mul(types.SafeMultiplier).Quo(v.store.TotalShares)
	lpAmtToRemove := v.store.LpAmt.Mul(shareRatio).Quo(types.SafeMultiplier)
	withdrawValue := snap.Equity.Mul(shareRatio).Quo(types.SafeMultiplier)

	cache := types.WithdrawCache{
		User:           user,
		ShareAmt:       shareAmt,
		ShareRatio:     shareRatio,
		LpAmtToRemove:  lpAmtToRemove,
		WithdrawValue:  withdrawValue,
		WithdrawDenom:  withdrawDenom,
		MinAssetsAmt:   minAssetsAmt,
		Slippage:       slippage,
		TokenAReceived: sdkmath.ZeroInt(),
		TokenBReceived: sdkmath.ZeroInt(),
		RepayTokenAAmt: sdkmath.ZeroInt(),
		RepayTokenBAmt: sdkmath.ZeroInt(),
		AssetsToUser:   sdkmath.ZeroInt(),
		Health:         healthBefore(snap),
	}

	if err := v.checker.BeforeWithdraw(cache); err != nil {
		return err
	}
	if err := v.store.BurnShares(user, shareAmt); err != nil {
		return err
	}

	minA, minB, err := v.minConstituentsOut(ctx, lpAmtToRemove, slippage)
	if err != nil {
		v.store.MintShares(user, shareAmt)
		return err
	}

	if v.asyncVenue != nil {
		requestKey, err := v.asyncVenue.RequestRemoveLiquidity(ctx, v.account, lpAmtToRemove, minA, minB)
		if err != nil {
			v.store.MintShares(user, shareAmt)
			return err
		}
		cache.RequestKey = requestKey
		v.store.WithdrawCache = cache
		v.store.Status = types.StatusWithdraw
		v.record("withdraw", metrics.OutcomeAccepted, types.StatusOpen, types.StatusWithdraw,
			requestKey, user, withdrawValue.String(), cache.Health)
		v.log.Info().
			Str("user", user).
			Str("shares", shareAmt.String()).
			Str("requestKey", requestKey).
			Msg("Withdrawal submitted")
		return nil
	}

	amtA, amtB, err := v.syncVenue.RemoveLiquidity(ctx, v.account, lpAmtToRemove, minA, minB)
	if err != nil {
		v.store.MintShares(user, shareAmt)
		return err
	}
	v.store.WithdrawCache = cache
	v.store.Status = types.StatusWithdraw
	return v.settleWithdraw(ctx, amtA, amtB)
}

// withdrawToken resolves a payout denom to its token definition.
func (v *Vault) withdrawToken(denom string) (types.Token, error) {
	switch denom {
	case v.store.TokenA.Denom:
		return v.store.TokenA, nil
	case v.store.TokenB.Denom:
		return v.store.TokenB, nil
	case v.store.NativeToken.Denom:
		return v.store.NativeToken, nil
	default:
		return types.Token{}, fmt.Errorf("%w: %s", types.ErrInvalidDepositToken, denom)
	}
}

// ProcessWithdrawSettlement is the venue's remove-liquidity settlement
// callback for an in-flight withdrawal.
func (v *Vault) ProcessWithdrawSettlement(ctx context.Context, settlement venue.RemoveSettlement) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusWithdraw, v.store.WithdrawCache.RequestKey, settlement.RequestKey); err != nil {
		return err
	}
	return v.settleWithdraw(ctx, settlement.TokenAAmt, settlement.TokenBAmt)
}

// settleWithdraw runs the settlement phase: repay the proportional debt from
// the removed constituents, convert the remainder to the payout token and
// verify vault health. A post-commit check failure parks the vault in
// WithdrawFailed and consumes the callback without error.
func (v *Vault) settleWithdraw(ctx context.Context, amtA, amtB sdkmath.Int) error {
	cache := v.store.WithdrawCache
	cache.TokenAReceived = amtA
	cache.TokenBReceived = amtB

	v.store.LpAmt = v.store.LpAmt.Sub(cache.LpAmtToRemove)

	repayA, repayB, err := v.manager.CalcRepay(ctx, cache.ShareRatio)
	if err != nil {
		return err
	}
	if err := v.coverDeficit(ctx, v.store.TokenA, v.store.TokenB, repayA); err != nil {
		return err
	}
	if err := v.coverDeficit(ctx, v.store.TokenB, v.store.TokenA, repayB); err != nil {
		return err
	}
	if err := v.manager.Repay(ctx, repayA, repayB); err != nil {
		return err
	}
	cache.RepayTokenAAmt = repayA
	cache.RepayTokenBAmt = repayB

	assetsToUser, err := v.consolidatePayout(ctx, cache, amtA, amtB)
	if err != nil {
		return err
	}
	cache.AssetsToUser = assetsToUser

	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}
	fillHealthAfter(&cache.Health, snap)
	v.store.WithdrawCache = cache

	if err := v.checker.AfterWithdraw(cache.Health, assetsToUser, cache.MinAssetsAmt); err != nil {
		v.store.Status = types.StatusWithdrawFailed
		v.record("withdraw", metrics.OutcomeFailed, types.StatusWithdraw, types.StatusWithdrawFailed,
			cache.RequestKey, cache.User, err.Error(), cache.Health)
		v.log.Error().Err(err).Str("requestKey", cache.RequestKey).Msg("Withdrawal failed post-commit checks")
		return nil
	}

	if err := v.payOut(cache.User, cache.WithdrawDenom, assetsToUser); err != nil {
		return err
	}
	v.finishOperation()
	v.record("withdraw", metrics.OutcomeSettled, types.StatusWithdraw, v.store.Status,
		cache.RequestKey, cache.User, assetsToUser.String(), cache.Health)
	v.log.Info().
		Str("user", cache.User).
		Str("assets", assetsToUser.String()).
		Str("denom", cache.WithdrawDenom).
		Msg("Withdrawal settled")
	return nil
}

// consolidatePayout converts the constituents left after debt repayment into
// the requested payout token. Native payouts accumulate in the wrapped leg
// and are unwrapped at transfer time.
func (v *Vault) consolidatePayout(ctx context.Context, cache types.WithdrawCache, amtA, amtB sdkmath.Int) (sdkmath.Int, error) {
	target, err := v.withdrawToken(cache.WithdrawDenom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if target.Denom == v.store.NativeToken.Denom {
		wrapped, ok := v.wrappedNativeToken()
		if !ok {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: no constituent wraps %s",
				types.ErrInvalidDepositToken, v.store.NativeToken.Symbol)
		}
		target = wrapped
	}

	leftoverA := amtA.Sub(cache.RepayTokenAAmt)
	leftoverB := amtB.Sub(cache.RepayTokenBAmt)
	// Deficit swaps during repayment may have consumed part of a leftover
	// leg; custody is the ground truth.
	if held := v.custodyBalance(v.store.TokenA.Denom); held.LT(leftoverA) {
		leftoverA = held
	}
	if held := v.custodyBalance(v.store.TokenB.Denom); held.LT(leftoverB) {
		leftoverB = held
	}
	if leftoverA.IsNegative() {
		leftoverA = sdkmath.ZeroInt()
	}
	if leftoverB.IsNegative() {
		leftoverB = sdkmath.ZeroInt()
	}

	total := sdkmath.ZeroInt()
	if target.Denom == v.store.TokenA.Denom {
		out, err := v.manager.SwapExactTokensForTokens(ctx, v.store.TokenB, v.store.TokenA, leftoverB)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		total = leftoverA.Add(out)
	} else {
		out, err := v.manager.SwapExactTokensForTokens(ctx, v.store.TokenA, v.store.TokenB, leftoverA)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		total = leftoverB.Add(out)
	}
	return total, nil
}

// payOut transfers the consolidated assets to the user, unwrapping to the
// native token when requested.
func (v *Vault) payOut(user, denom string, amt sdkmath.Int) error {
	if !amt.IsPositive() {
		return nil
	}
	if denom != v.store.NativeToken.Denom {
		return v.ledger.Transfer(v.account, user, custodyCoin(denom, amt))
	}
	wrapped, ok := v.wrappedNativeToken()
	if !ok {
		return fmt.Errorf("%w: no constituent wraps %s", types.ErrInvalidDepositToken, v.store.NativeToken.Symbol)
	}
	if err := v.ledger.Burn(v.account, custodyCoin(wrapped.Denom, amt)); err != nil {
		// Unwrapping can fail on a chain halt; fall back to paying the
		// wrapped leg rather than stranding the withdrawal.
		return v.ledger.Transfer(v.account, user, custodyCoin(wrapped.Denom, amt))
	}
	if err := v.ledger.Mint(user, custodyCoin(v.store.NativeToken.Denom, amt)); err != nil {
		return err
	}
	return nil
}

// ProcessWithdrawCancellation is the venue's cancellation callback: the
// position units are back in custody, so the burned shares are re-minted.
func (v *Vault) ProcessWithdrawCancellation(ctx context.Context, requestKey string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusWithdraw, v.store.WithdrawCache.RequestKey, requestKey); err != nil {
		return err
	}
	cache := v.store.WithdrawCache

	v.store.MintShares(cache.User, cache.ShareAmt)
	from := v.store.Status
	v.finishOperation()
	v.record("withdraw", metrics.OutcomeCancelled, from, v.store.Status,
		requestKey, cache.User, "venue cancelled", cache.Health)
	v.log.Warn().Str("requestKey", requestKey).Msg("Withdrawal cancelled by venue")
	return nil
}

// RecoverFailedWithdraw starts the WithdrawFailed recovery sub-flow: the
// repaid debt is re-borrowed and the removed position restored so the vault
// can return to its pre-withdrawal state.
func (v *Vault) RecoverFailedWithdraw(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireStatus(types.StatusWithdrawFailed); err != nil {
		return err
	}
	cache := v.store.WithdrawCache

	if err := v.manager.Borrow(ctx, cache.RepayTokenAAmt, cache.RepayTokenBAmt); err != nil {
		return err
	}

	// Restore the position from everything the unwind left in custody plus
	// the re-borrowed legs.
	restoreA := v.custodyBalance(v.store.TokenA.Denom)
	restoreB := v.custodyBalance(v.store.TokenB.Denom)
	minLpAmt, err := v.minPositionOut(restoreA, restoreB, cache.Slippage)
	if err != nil {
		return err
	}

	if v.asyncVenue != nil {
		requestKey, err := v.asyncVenue.RequestAddLiquidity(ctx, v.account, restoreA, restoreB, minLpAmt)
		if err != nil {
			return err
		}
		v.store.WithdrawCache.RequestKey = requestKey
		v.log.Info().Str("requestKey", requestKey).Msg("Withdrawal recovery submitted")
		return nil
	}

	lpAmt, err := v.syncVenue.AddLiquidity(ctx, v.account, restoreA, restoreB, minLpAmt)
	if err != nil {
		return err
	}
	return v.settleWithdrawRecovery(ctx, lpAmt)
}

// ProcessWithdrawRecoverySettlement is the venue's add-liquidity callback
// for the WithdrawFailed recovery leg.
func (v *Vault) ProcessWithdrawRecoverySettlement(ctx context.Context, settlement venue.AddSettlement) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusWithdrawFailed, v.store.WithdrawCache.RequestKey, settlement.RequestKey); err != nil {
		return err
	}
	return v.settleWithdrawRecovery(ctx, settlement.LpAmt)
}

// settleWithdrawRecovery credits the restored position, re-mints the burned
// shares and reopens the vault.
func (v *Vault) settleWithdrawRecovery(ctx context.Context, lpAmt sdkmath.Int) error {
	cache := v.store.WithdrawCache

	v.store.LpAmt = v.store.LpAmt.Add(lpAmt)
	v.store.MintShares(cache.User, cache.ShareAmt)

	v.finishOperation()
	v.record("withdraw", metrics.OutcomeRecovered, types.StatusWithdrawFailed, v.store.Status,
		cache.RequestKey, cache.User, lpAmt.String(), cache.Health)
	v.log.Info().
		Str("user", cache.User).
		Str("lpRestored", lpAmt.String()).
		Msg("Failed withdrawal recovered")
	return nil
}
