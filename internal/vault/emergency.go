/*

This file contains the emergency sub-machine. Pausing halts new operations —
immediately when the vault is idle, or queued for application at settlement
when an operation is in flight. From Paused the operator can unwind the
whole position and debt (Repay -> Repaid), re-lever (Borrow -> Paused),
restore the position (Resume -> Open), or shut the vault down permanently
(Close -> Closed). A closed vault only supports pro-rata custody withdrawal.

*/

package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/parallax-fi/lvm/internal/metrics"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/venue"
)

// EmergencyPause halts the vault. With an operation in flight the pause is
// queued and applied when the operation settles; otherwise it takes effect
// immediately.
func (v *Vault) EmergencyPause(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.store.Status.InFlight() {
		if v.store.QueuedPause {
			return types.ErrPauseAlreadyQueued
		}
		v.store.QueuedPause = true
		v.log.Warn().Str("status", v.store.Status.String()).Msg("Pause queued behind in-flight operation")
		return nil
	}

	if err := v.checker.RequireStatus(types.StatusOpen, types.StatusRebalanceOpen,
		types.StatusDepositFailed, types.StatusWithdrawFailed); err != nil {
		return err
	}
	from := v.store.Status
	v.store.Status = types.StatusPaused
	v.recordEmergency(ctx, "emergency_pause", metrics.OutcomeSettled, from)
	v.log.Warn().Msg("Vault paused")
	return nil
}

// EmergencyRepay unwinds the entire venue position so the debt can be
// repaid. Paused only.
func (v *Vault) EmergencyRepay(ctx context.Context, slippage sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireStatus(types.StatusPaused); err != nil {
		return err
	}

	lpAmt := v.store.LpAmt
	minA, minB, err := v.minConstituentsOut(ctx, lpAmt, slippage)
	if err != nil {
		return err
	}

	cache := types.EmergencyCache{
		LpAmtRemoved:    lpAmt,
		RepaidTokenAAmt: sdkmath.ZeroInt(),
		RepaidTokenBAmt: sdkmath.ZeroInt(),
	}

	if v.asyncVenue != nil {
		requestKey, err := v.asyncVenue.RequestRemoveLiquidity(ctx, v.account, lpAmt, minA, minB)
		if err != nil {
			return err
		}
		cache.RequestKey = requestKey
		v.store.EmergencyCache = cache
		v.store.Status = types.StatusRepay
		v.recordEmergency(ctx, "emergency_repay", metrics.OutcomeAccepted, types.StatusPaused)
		v.log.Warn().Str("requestKey", requestKey).Msg("Emergency repay submitted")
		return nil
	}

	amtA, amtB, err := v.syncVenue.RemoveLiquidity(ctx, v.account, lpAmt, minA, minB)
	if err != nil {
		return err
	}
	v.store.EmergencyCache = cache
	v.store.Status = types.StatusRepay
	return v.settleEmergencyRepay(ctx, amtA, amtB)
}

// ProcessEmergencyRepaySettlement is the venue's remove-liquidity settlement
// callback for an emergency repay.
func (v *Vault) ProcessEmergencyRepaySettlement(ctx context.Context, settlement venue.RemoveSettlement) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusRepay, v.store.EmergencyCache.RequestKey, settlement.RequestKey); err != nil {
		return err
	}
	return v.settleEmergencyRepay(ctx, settlement.TokenAAmt, settlement.TokenBAmt)
}

// settleEmergencyRepay repays the vault's entire debt from the removed
// constituents, swapping between legs to cover any per-leg deficit, and
// records the repaid amounts so EmergencyBorrow can restore the book.
func (v *Vault) settleEmergencyRepay(ctx context.Context, amtA, amtB sdkmath.Int) error {
	cache := v.store.EmergencyCache
	v.store.LpAmt = v.store.LpAmt.Sub(cache.LpAmtRemoved)

	debtA, debtB, err := v.reader.DebtAmts(ctx)
	if err != nil {
		return err
	}
	if err := v.coverDeficit(ctx, v.store.TokenA, v.store.TokenB, debtA); err != nil {
		return err
	}
	if err := v.coverDeficit(ctx, v.store.TokenB, v.store.TokenA, debtB); err != nil {
		return err
	}
	if err := v.manager.Repay(ctx, debtA, debtB); err != nil {
		return err
	}
	cache.RepaidTokenAAmt = debtA
	cache.RepaidTokenBAmt = debtB
	v.store.EmergencyCache = cache

	v.store.Status = types.StatusRepaid
	v.recordEmergency(ctx, "emergency_repay", metrics.OutcomeSettled, types.StatusRepay)
	v.log.Warn().
		Str("repaidA", debtA.String()).
		Str("repaidB", debtB.String()).
		Str("amtA", amtA.String()).
		Str("amtB", amtB.String()).
		Msg("Emergency repay settled")
	return nil
}

// EmergencyBorrow re-borrows the legs repaid by the emergency repay,
// returning the vault to Paused with its debt restored. Repaid only.
func (v *Vault) EmergencyBorrow(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireStatus(types.StatusRepaid); err != nil {
		return err
	}
	cache := v.store.EmergencyCache
	if err := v.manager.Borrow(ctx, cache.RepaidTokenAAmt, cache.RepaidTokenBAmt); err != nil {
		return err
	}
	v.store.Status = types.StatusPaused
	v.recordEmergency(ctx, "emergency_borrow", metrics.OutcomeSettled, types.StatusRepaid)
	v.log.Warn().Msg("Emergency borrow settled, debt restored")
	return nil
}

// EmergencyResume restores the venue position from the full constituent
// custody. Paused only.
func (v *Vault) EmergencyResume(ctx context.Context, slippage sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireStatus(types.StatusPaused); err != nil {
		return err
	}

	tokenAAmt := v.custodyBalance(v.store.TokenA.Denom)
	tokenBAmt := v.custodyBalance(v.store.TokenB.Denom)
	minLpAmt, err := v.minPositionOut(tokenAAmt, tokenBAmt, slippage)
	if err != nil {
		return err
	}

	if v.asyncVenue != nil {
		requestKey, err := v.asyncVenue.RequestAddLiquidity(ctx, v.account, tokenAAmt, tokenBAmt, minLpAmt)
		if err != nil {
			return err
		}
		v.store.EmergencyCache.RequestKey = requestKey
		v.store.Status = types.StatusResume
		v.recordEmergency(ctx, "emergency_resume", metrics.OutcomeAccepted, types.StatusPaused)
		v.log.Warn().Str("requestKey", requestKey).Msg("Emergency resume submitted")
		return nil
	}

	lpAmt, err := v.syncVenue.AddLiquidity(ctx, v.account, tokenAAmt, tokenBAmt, minLpAmt)
	if err != nil {
		return err
	}
	v.store.Status = types.StatusResume
	return v.settleEmergencyResume(ctx, lpAmt)
}

// ProcessEmergencyResumeSettlement is the venue's add-liquidity settlement
// callback for an emergency resume.
func (v *Vault) ProcessEmergencyResumeSettlement(ctx context.Context, settlement venue.AddSettlement) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusResume, v.store.EmergencyCache.RequestKey, settlement.RequestKey); err != nil {
		return err
	}
	return v.settleEmergencyResume(ctx, settlement.LpAmt)
}

func (v *Vault) settleEmergencyResume(ctx context.Context, lpAmt sdkmath.Int) error {
	v.store.LpAmt = v.store.LpAmt.Add(lpAmt)
	v.store.Status = types.StatusOpen
	v.recordEmergency(ctx, "emergency_resume", metrics.OutcomeSettled, types.StatusResume)
	v.log.Warn().Str("lpAmt", lpAmt.String()).Msg("Emergency resume settled, vault open")
	return nil
}

// EmergencyClose permanently shuts the vault down. Repaid only — the debt
// must be cleared before closing. Closed is terminal.
func (v *Vault) EmergencyClose(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireStatus(types.StatusRepaid); err != nil {
		return err
	}
	v.store.Status = types.StatusClosed
	v.recordEmergency(ctx, "emergency_close", metrics.OutcomeSettled, types.StatusRepaid)
	v.log.Warn().Msg("Vault closed")
	return nil
}

// EmergencyWithdraw pays a holder of a closed vault their pro-rata slice of
// every custody balance. No valuation is involved; custody is divided by
// share ratio, token by token.
func (v *Vault) EmergencyWithdraw(ctx context.Context, user string, shareAmt sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.BeforeEmergencyWithdraw(user, shareAmt); err != nil {
		return err
	}

	shareRatio := shareAmt.Mul(types.SafeMultiplier).Quo(v.store.TotalShares)
	if err := v.store.BurnShares(user, shareAmt); err != nil {
		return err
	}

	var payout sdk.Coins
	for _, coin := range v.ledger.Balances(v.account) {
		slice := coin.Amount.Mul(shareRatio).Quo(types.SafeMultiplier)
		if slice.IsPositive() {
			payout = payout.Add(custodyCoin(coin.Denom, slice))
		}
	}
	if !payout.IsZero() {
		if err := v.ledger.Transfer(v.account, user, payout...); err != nil {
			return err
		}
	}

	v.recordEmergency(ctx, "emergency_withdraw", metrics.OutcomeSettled, types.StatusClosed)
	v.log.Info().
		Str("user", user).
		Str("shares", shareAmt.String()).
		Str("payout", payout.String()).
		Msg("Emergency withdrawal paid")
	return nil
}

// EmergencyStatusChange releases a vault stuck in a failure or paused status
// back to Open without running a recovery flow. Operator escape hatch for
// book states that were reconciled out of band.
func (v *Vault) EmergencyStatusChange(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireStatus(types.StatusDepositFailed, types.StatusWithdrawFailed,
		types.StatusPaused); err != nil {
		return err
	}
	from := v.store.Status
	v.store.Status = types.StatusOpen
	v.recordEmergency(ctx, "emergency_status_change", metrics.OutcomeSettled, from)
	v.log.Warn().Str("from", from.String()).Msg("Status forced back to Open")
	return nil
}

// recordEmergency journals an emergency transition with a best-effort
// health snapshot. Emergencies proceed even when the snapshot fails — a
// broken oracle is a likely reason to be here in the first place.
func (v *Vault) recordEmergency(ctx context.Context, operation, outcome string, from types.Status) {
	health := types.HealthParams{}
	if snap, err := v.snapshot(ctx); err == nil {
		health = healthBefore(snap)
		fillHealthAfter(&health, snap)
	}
	v.record(operation, outcome, from, v.store.Status, v.store.EmergencyCache.RequestKey, "", "", health)
}
