/*

This file contains the deposit workflow. A deposit is a two-phase saga: the
request phase values the deposit, borrows the leverage legs and submits the
constituents to the venue; the settlement phase prices the received position,
mints shares and runs the post-commit health checks. A failed post-commit
check parks the vault in DepositFailed until the recovery sub-flow unwinds
the added position.

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

// Deposit accepts user funds in one of the vault's constituent tokens or the
// position token itself, levers them up and submits the position change to
// the venue. minSharesAmt is the user's slippage floor on the shares minted
// at settlement; slippage is the operation tolerance in basis points.
//
// Asynchronous variant: returns once the venue accepts the request; the
// vault is left in the Deposit status until the settlement callback arrives.
// Synchronous variant: settles inline and returns with the vault Open again.
func (v *Vault) Deposit(ctx context.Context, user string, denom string, amt, minSharesAmt, slippage sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deposit(ctx, user, denom, amt, minSharesAmt, slippage)
}

// DepositNative wraps the chain's native token into its wrapped constituent
// leg and deposits the result. The wrapped leg is whichever constituent
// carries the W-prefixed native symbol.
func (v *Vault) DepositNative(ctx context.Context, user string, amt, minSharesAmt, slippage sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	wrapped, ok := v.wrappedNativeToken()
	if !ok {
		return fmt.Errorf("%w: no constituent wraps %s", types.ErrInvalidDepositToken, v.store.NativeToken.Symbol)
	}
	if err := v.ledger.Burn(user, custodyCoin(v.store.NativeToken.Denom, amt)); err != nil {
		return err
	}
	if err := v.ledger.Mint(user, custodyCoin(wrapped.Denom, amt)); err != nil {
		return err
	}
	return v.deposit(ctx, user, wrapped.Denom, amt, minSharesAmt, slippage)
}

// wrappedNativeToken returns the constituent leg that wraps the native
// token, if any.
func (v *Vault) wrappedNativeToken() (types.Token, bool) {
	wrappedSymbol := "W" + v.store.NativeToken.Symbol
	if v.store.TokenA.Symbol == wrappedSymbol {
		return v.store.TokenA, true
	}
	if v.store.TokenB.Symbol == wrappedSymbol {
		return v.store.TokenB, true
	}
	return types.Token{}, false
}

// depositToken resolves a deposit denom to its token definition.
func (v *Vault) depositToken(denom string) (types.Token, error) {
	switch denom {
	case v.store.TokenA.Denom:
		return v.store.TokenA, nil
	case v.store.TokenB.Denom:
		return v.store.TokenB, nil
	case v.store.PositionToken.Denom:
		return v.store.PositionToken, nil
	default:
		return types.Token{}, fmt.Errorf("%w: %s", types.ErrInvalidDepositToken, denom)
	}
}

func (v *Vault) deposit(ctx context.Context, user string, denom string, amt, minSharesAmt, slippage sdkmath.Int) error {
	token, err := v.depositToken(denom)
	if err != nil {
		return err
	}
	depositValue, err := v.reader.TokenValue(token, amt)
	if err != nil {
		return err
	}
	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}

	cache := types.DepositCache{
		User:            user,
		DepositDenom:    denom,
		DepositAmt:      amt,
		DepositValue:    depositValue,
		MinSharesAmt:    minSharesAmt,
		Slippage:        slippage,
		BorrowTokenAAmt: sdkmath.ZeroInt(),
		BorrowTokenBAmt: sdkmath.ZeroInt(),
		TokenAAmt:       sdkmath.ZeroInt(),
		TokenBAmt:       sdkmath.ZeroInt(),
		LpAmtReceived:   sdkmath.ZeroInt(),
		Health:          healthBefore(snap),
	}

	if err := v.checker.BeforeDeposit(ctx, cache); err != nil {
		return err
	}
	if err := v.ledger.Transfer(user, v.account, custodyCoin(denom, amt)); err != nil {
		return err
	}

	borrowA, borrowB, err := v.manager.CalcBorrow(ctx, depositValue)
	if err != nil {
		return v.refundDeposit(err, cache)
	}
	if err := v.manager.Borrow(ctx, borrowA, borrowB); err != nil {
		return v.refundDeposit(err, cache)
	}
	cache.BorrowTokenAAmt = borrowA
	cache.BorrowTokenBAmt = borrowB

	// Constituents for the venue: the borrowed legs plus the deposit itself
	// when it arrived as a constituent. Position-unit deposits are credited
	// directly at settlement instead.
	cache.TokenAAmt = borrowA
	cache.TokenBAmt = borrowB
	if denom == v.store.TokenA.Denom {
		cache.TokenAAmt = cache.TokenAAmt.Add(amt)
	}
	if denom == v.store.TokenB.Denom {
		cache.TokenBAmt = cache.TokenBAmt.Add(amt)
	}

	minLpAmt, err := v.minPositionOut(cache.TokenAAmt, cache.TokenBAmt, slippage)
	if err != nil {
		return v.unwindDepositRequest(ctx, err, cache)
	}

	if v.asyncVenue != nil {
		requestKey, err := v.asyncVenue.RequestAddLiquidity(ctx, v.account, cache.TokenAAmt, cache.TokenBAmt, minLpAmt)
		if err != nil {
			return v.unwindDepositRequest(ctx, err, cache)
		}
		cache.RequestKey = requestKey
		v.store.DepositCache = cache
		v.store.Status = types.StatusDeposit
		v.record("deposit", metrics.OutcomeAccepted, types.StatusOpen, types.StatusDeposit,
			requestKey, user, depositValue.String(), cache.Health)
		v.log.Info().
			Str("user", user).
			Str("denom", denom).
			Str("amt", amt.String()).
			Str("requestKey", requestKey).
			Msg("Deposit submitted")
		return nil
	}

	lpAmt, err := v.syncVenue.AddLiquidity(ctx, v.account, cache.TokenAAmt, cache.TokenBAmt, minLpAmt)
	if err != nil {
		return v.unwindDepositRequest(ctx, err, cache)
	}
	v.store.DepositCache = cache
	v.store.Status = types.StatusDeposit
	return v.settleDeposit(ctx, lpAmt)
}

// refundDeposit returns the user's funds after a pre-borrow failure.
func (v *Vault) refundDeposit(cause error, cache types.DepositCache) error {
	if err := v.ledger.Transfer(v.account, cache.User, custodyCoin(cache.DepositDenom, cache.DepositAmt)); err != nil {
		return fmt.Errorf("refund after failed deposit: %w", err)
	}
	return cause
}

// unwindDepositRequest repays the borrowed legs and refunds the user after a
// failure between borrowing and venue acceptance.
func (v *Vault) unwindDepositRequest(ctx context.Context, cause error, cache types.DepositCache) error {
	if err := v.manager.Repay(ctx, cache.BorrowTokenAAmt, cache.BorrowTokenBAmt); err != nil {
		return fmt.Errorf("unwind after failed deposit: %w", err)
	}
	return v.refundDeposit(cause, cache)
}

// ProcessDepositSettlement is the venue's add-liquidity settlement callback
// for an in-flight deposit.
func (v *Vault) ProcessDepositSettlement(ctx context.Context, settlement venue.AddSettlement) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusDeposit, v.store.DepositCache.RequestKey, settlement.RequestKey); err != nil {
		return err
	}
	return v.settleDeposit(ctx, settlement.LpAmt)
}

// settleDeposit runs the settlement phase: credit the position, mint the
// accrued fee, price and mint the user's shares, and verify vault health.
// A post-commit check failure parks the vault in DepositFailed and consumes
// the callback without error.
func (v *Vault) settleDeposit(ctx context.Context, lpReceived sdkmath.Int) error {
	cache := v.store.DepositCache
	cache.LpAmtReceived = lpReceived

	v.store.LpAmt = v.store.LpAmt.Add(lpReceived)
	if cache.DepositDenom == v.store.PositionToken.Denom {
		v.store.LpAmt = v.store.LpAmt.Add(cache.DepositAmt)
	}

	// Fee shares dilute at the pre-deposit rate; mint them before pricing
	// the depositor's shares.
	v.mintFee()

	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}
	fillHealthAfter(&cache.Health, snap)
	v.store.DepositCache = cache

	equityGain := cache.Health.EquityAfter.Sub(cache.Health.EquityBefore)
	sharesToUser := sdkmath.ZeroInt()
	if equityGain.IsPositive() {
		sharesToUser = v.reader.ValueToShares(equityGain, cache.Health.EquityBefore, v.now())
	}

	if err := v.checker.AfterDeposit(cache.Health, sharesToUser, cache.MinSharesAmt); err != nil {
		v.store.Status = types.StatusDepositFailed
		v.record("deposit", metrics.OutcomeFailed, types.StatusDeposit, types.StatusDepositFailed,
			cache.RequestKey, cache.User, err.Error(), cache.Health)
		v.log.Error().Err(err).Str("requestKey", cache.RequestKey).Msg("Deposit failed post-commit checks")
		return nil
	}

	v.store.MintShares(cache.User, sharesToUser)
	v.finishOperation()
	v.record("deposit", metrics.OutcomeSettled, types.StatusDeposit, v.store.Status,
		cache.RequestKey, cache.User, sharesToUser.String(), cache.Health)
	v.log.Info().
		Str("user", cache.User).
		Str("shares", sharesToUser.String()).
		Str("lpReceived", lpReceived.String()).
		Msg("Deposit settled")
	return nil
}

// ProcessDepositCancellation is the venue's cancellation callback: the
// constituents are back in custody, so the borrow is repaid and the user
// refunded in full.
func (v *Vault) ProcessDepositCancellation(ctx context.Context, requestKey string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusDeposit, v.store.DepositCache.RequestKey, requestKey); err != nil {
		return err
	}
	cache := v.store.DepositCache

	if err := v.manager.Repay(ctx, cache.BorrowTokenAAmt, cache.BorrowTokenBAmt); err != nil {
		return err
	}
	if err := v.ledger.Transfer(v.account, cache.User, custodyCoin(cache.DepositDenom, cache.DepositAmt)); err != nil {
		return err
	}

	from := v.store.Status
	v.finishOperation()
	v.record("deposit", metrics.OutcomeCancelled, from, v.store.Status,
		requestKey, cache.User, "venue cancelled", cache.Health)
	v.log.Warn().Str("requestKey", requestKey).Msg("Deposit cancelled by venue")
	return nil
}

// RecoverFailedDeposit starts the DepositFailed recovery sub-flow: the
// position added by the failed deposit is withdrawn from the venue so the
// borrow can be repaid and the user refunded.
func (v *Vault) RecoverFailedDeposit(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireStatus(types.StatusDepositFailed); err != nil {
		return err
	}
	cache := v.store.DepositCache

	minA, minB, err := v.minConstituentsOut(ctx, cache.LpAmtReceived, cache.Slippage)
	if err != nil {
		return err
	}

	if v.asyncVenue != nil {
		requestKey, err := v.asyncVenue.RequestRemoveLiquidity(ctx, v.account, cache.LpAmtReceived, minA, minB)
		if err != nil {
			return err
		}
		// The vault stays in DepositFailed; only the correlation key moves on
		// to the recovery leg.
		v.store.DepositCache.RequestKey = requestKey
		v.log.Info().Str("requestKey", requestKey).Msg("Deposit recovery submitted")
		return nil
	}

	amtA, amtB, err := v.syncVenue.RemoveLiquidity(ctx, v.account, cache.LpAmtReceived, minA, minB)
	if err != nil {
		return err
	}
	return v.settleDepositRecovery(ctx, amtA, amtB)
}

// ProcessDepositRecoverySettlement is the venue's remove-liquidity callback
// for the DepositFailed recovery leg.
func (v *Vault) ProcessDepositRecoverySettlement(ctx context.Context, settlement venue.RemoveSettlement) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusDepositFailed, v.store.DepositCache.RequestKey, settlement.RequestKey); err != nil {
		return err
	}
	return v.settleDepositRecovery(ctx, settlement.TokenAAmt, settlement.TokenBAmt)
}

// settleDepositRecovery repays the failed deposit's borrow from the removed
// constituents, covering any per-leg deficit from the other leg, refunds the
// user and reopens the vault.
func (v *Vault) settleDepositRecovery(ctx context.Context, amtA, amtB sdkmath.Int) error {
	cache := v.store.DepositCache

	if err := v.coverDeficit(ctx, v.store.TokenA, v.store.TokenB, cache.BorrowTokenAAmt); err != nil {
		return err
	}
	if err := v.coverDeficit(ctx, v.store.TokenB, v.store.TokenA, cache.BorrowTokenBAmt); err != nil {
		return err
	}
	if err := v.manager.Repay(ctx, cache.BorrowTokenAAmt, cache.BorrowTokenBAmt); err != nil {
		return err
	}

	// Reverse the settlement credit: the received position, plus the deposit
	// itself when it was credited as position units.
	v.store.LpAmt = v.store.LpAmt.Sub(cache.LpAmtReceived)
	if cache.DepositDenom == v.store.PositionToken.Denom {
		v.store.LpAmt = v.store.LpAmt.Sub(cache.DepositAmt)
	}

	// Refund what custody can cover; swap losses on the unwind come out of
	// the refund, never out of vault equity.
	refund := cache.DepositAmt
	if held := v.custodyBalance(cache.DepositDenom); held.LT(refund) {
		refund = held
	}
	if refund.IsPositive() {
		if err := v.ledger.Transfer(v.account, cache.User, custodyCoin(cache.DepositDenom, refund)); err != nil {
			return err
		}
	}

	v.finishOperation()
	v.record("deposit", metrics.OutcomeRecovered, types.StatusDepositFailed, v.store.Status,
		cache.RequestKey, cache.User, refund.String(), cache.Health)
	v.log.Info().
		Str("user", cache.User).
		Str("refund", refund.String()).
		Str("amtA", amtA.String()).
		Str("amtB", amtB.String()).
		Msg("Failed deposit recovered")
	return nil
}
