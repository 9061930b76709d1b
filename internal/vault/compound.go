/*

This file contains the compound workflow: reward tokens claimed from the
venue and constituent dust left behind by earlier operations are converted
and folded back into the position. Compounding mints no shares — the added
position accrues to all holders through the share value.

*/

package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/lvm/internal/metrics"
	"github.com/parallax-fi/lvm/internal/oracle"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/venue"
)

// Compound converts the custody reward balance to the stable leg and folds
// it, together with any constituent dust, back into the venue position.
func (v *Vault) Compound(ctx context.Context, slippage sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}

	rewardAmt := v.custodyBalance(v.store.RewardToken.Denom)
	if _, err := v.manager.SwapExactTokensForTokens(ctx, v.store.RewardToken, v.store.TokenB, rewardAmt); err != nil {
		return err
	}

	tokenAAmt := v.custodyBalance(v.store.TokenA.Denom)
	tokenBAmt := v.custodyBalance(v.store.TokenB.Denom)
	valueA, err := oracle.TokenValue(v.oracle, v.store.TokenA, tokenAAmt)
	if err != nil {
		return err
	}
	valueB, err := oracle.TokenValue(v.oracle, v.store.TokenB, tokenBAmt)
	if err != nil {
		return err
	}

	cache := types.CompoundCache{
		DepositValue: valueA.Add(valueB),
		TokenAAmt:    tokenAAmt,
		TokenBAmt:    tokenBAmt,
		Health:       healthBefore(snap),
	}
	if err := v.checker.BeforeCompound(cache); err != nil {
		return err
	}

	minLpAmt, err := v.minPositionOut(tokenAAmt, tokenBAmt, slippage)
	if err != nil {
		return err
	}

	if v.asyncVenue != nil {
		requestKey, err := v.asyncVenue.RequestAddLiquidity(ctx, v.account, tokenAAmt, tokenBAmt, minLpAmt)
		if err != nil {
			return err
		}
		cache.RequestKey = requestKey
		v.store.CompoundCache = cache
		v.store.Status = types.StatusCompound
		v.record("compound", metrics.OutcomeAccepted, types.StatusOpen, types.StatusCompound,
			requestKey, "", cache.DepositValue.String(), cache.Health)
		v.log.Info().
			Str("value", cache.DepositValue.String()).
			Str("requestKey", requestKey).
			Msg("Compound submitted")
		return nil
	}

	lpAmt, err := v.syncVenue.AddLiquidity(ctx, v.account, tokenAAmt, tokenBAmt, minLpAmt)
	if err != nil {
		return err
	}
	v.store.CompoundCache = cache
	v.store.Status = types.StatusCompound
	return v.settleCompound(ctx, lpAmt)
}

// ProcessCompoundSettlement is the venue's add-liquidity settlement callback
// for an in-flight compound.
func (v *Vault) ProcessCompoundSettlement(ctx context.Context, settlement venue.AddSettlement) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusCompound, v.store.CompoundCache.RequestKey, settlement.RequestKey); err != nil {
		return err
	}
	return v.settleCompound(ctx, settlement.LpAmt)
}

func (v *Vault) settleCompound(ctx context.Context, lpAmt sdkmath.Int) error {
	cache := v.store.CompoundCache
	v.store.LpAmt = v.store.LpAmt.Add(lpAmt)

	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}
	fillHealthAfter(&cache.Health, snap)
	v.store.CompoundCache = cache

	from := v.store.Status
	v.finishOperation()
	v.record("compound", metrics.OutcomeSettled, from, v.store.Status,
		cache.RequestKey, "", lpAmt.String(), cache.Health)
	v.log.Info().Str("lpAmt", lpAmt.String()).Msg("Compound settled")
	return nil
}

// ProcessCompoundCancellation is the venue's cancellation callback: the
// constituents are back in custody and will be picked up by the next
// compound.
func (v *Vault) ProcessCompoundCancellation(ctx context.Context, requestKey string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusCompound, v.store.CompoundCache.RequestKey, requestKey); err != nil {
		return err
	}
	cache := v.store.CompoundCache
	from := v.store.Status
	v.finishOperation()
	v.record("compound", metrics.OutcomeCancelled, from, v.store.Status,
		requestKey, "", "venue cancelled", cache.Health)
	v.log.Warn().Str("requestKey", requestKey).Msg("Compound cancelled by venue")
	return nil
}

// CompoundPositionUnits reconciles the tracked position quantity against
// custody: position units that arrived outside an operation (venue reward
// distributions paid in position units) are folded in by raising LpAmt to
// the custody balance. Downward drift is never reconciled here; losing
// custody of tracked position is an emergency, not a compound.
func (v *Vault) CompoundPositionUnits(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireStatus(types.StatusOpen); err != nil {
		return err
	}
	held := v.custodyBalance(v.store.PositionToken.Denom)
	if !held.GT(v.store.LpAmt) {
		return nil
	}
	gained := held.Sub(v.store.LpAmt)
	v.store.LpAmt = held
	v.log.Info().Str("lpAmt", gained.String()).Msg("Folded in position units received out of band")
	return nil
}
