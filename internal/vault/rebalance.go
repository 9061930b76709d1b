/*

This file contains the rebalance workflows. A rebalance is only legal when
the debt ratio (or, for the Neutral strategy, delta) has drifted outside its
configured band. Two directions exist: the add leg borrows more and grows
the position, the remove leg unwinds position and repays debt. A rebalance
whose post-settlement metrics are still out of band parks the vault in
RebalanceOpen so the next correction can be issued without re-running the
out-of-band precondition against a half-corrected book.

*/

package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/lvm/internal/metrics"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/venue"
)

// AddParams sizes a position-growing rebalance.
type AddParams struct {
	RebalanceType   types.RebalanceType
	BorrowTokenAAmt sdkmath.Int
	BorrowTokenBAmt sdkmath.Int
	Slippage        sdkmath.Int // basis points
}

// RemoveParams sizes a position-shrinking rebalance.
type RemoveParams struct {
	RebalanceType types.RebalanceType
	LpAmtToRemove sdkmath.Int
	Slippage      sdkmath.Int // basis points
}

// RebalanceAdd borrows the given legs and adds them to the venue position.
func (v *Vault) RebalanceAdd(ctx context.Context, params AddParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := v.checker.BeforeRebalance(snap.DebtRatio, snap.Delta); err != nil {
		return err
	}

	cache := types.RebalanceCache{
		RebalanceType:   params.RebalanceType,
		BorrowTokenAAmt: params.BorrowTokenAAmt,
		BorrowTokenBAmt: params.BorrowTokenBAmt,
		LpAmtToRemove:   sdkmath.ZeroInt(),
		Health:          healthBefore(snap),
	}

	if err := v.manager.Borrow(ctx, params.BorrowTokenAAmt, params.BorrowTokenBAmt); err != nil {
		return err
	}
	minLpAmt, err := v.minPositionOut(params.BorrowTokenAAmt, params.BorrowTokenBAmt, params.Slippage)
	if err != nil {
		return v.unwindRebalanceAdd(ctx, err, cache)
	}

	from := v.store.Status
	if v.asyncVenue != nil {
		requestKey, err := v.asyncVenue.RequestAddLiquidity(ctx, v.account,
			params.BorrowTokenAAmt, params.BorrowTokenBAmt, minLpAmt)
		if err != nil {
			return v.unwindRebalanceAdd(ctx, err, cache)
		}
		cache.RequestKey = requestKey
		v.store.RebalanceCache = cache
		v.store.Status = types.StatusRebalanceAdd
		v.record("rebalance_add", metrics.OutcomeAccepted, from, types.StatusRebalanceAdd,
			requestKey, "", string(params.RebalanceType), cache.Health)
		v.log.Info().
			Str("type", string(params.RebalanceType)).
			Str("borrowA", params.BorrowTokenAAmt.String()).
			Str("borrowB", params.BorrowTokenBAmt.String()).
			Str("requestKey", requestKey).
			Msg("Rebalance add submitted")
		return nil
	}

	lpAmt, err := v.syncVenue.AddLiquidity(ctx, v.account,
		params.BorrowTokenAAmt, params.BorrowTokenBAmt, minLpAmt)
	if err != nil {
		return v.unwindRebalanceAdd(ctx, err, cache)
	}
	v.store.RebalanceCache = cache
	v.store.Status = types.StatusRebalanceAdd
	return v.settleRebalanceAdd(ctx, lpAmt)
}

func (v *Vault) unwindRebalanceAdd(ctx context.Context, cause error, cache types.RebalanceCache) error {
	if err := v.manager.Repay(ctx, cache.BorrowTokenAAmt, cache.BorrowTokenBAmt); err != nil {
		return err
	}
	return cause
}

// ProcessRebalanceAddSettlement is the venue's add-liquidity settlement
// callback for an in-flight rebalance.
func (v *Vault) ProcessRebalanceAddSettlement(ctx context.Context, settlement venue.AddSettlement) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusRebalanceAdd, v.store.RebalanceCache.RequestKey, settlement.RequestKey); err != nil {
		return err
	}
	return v.settleRebalanceAdd(ctx, settlement.LpAmt)
}

func (v *Vault) settleRebalanceAdd(ctx context.Context, lpAmt sdkmath.Int) error {
	cache := v.store.RebalanceCache
	v.store.LpAmt = v.store.LpAmt.Add(lpAmt)
	return v.finishRebalance(ctx, "rebalance_add", cache)
}

// ProcessRebalanceAddCancellation is the venue's cancellation callback: the
// constituents are back in custody, so the extra borrow is repaid.
func (v *Vault) ProcessRebalanceAddCancellation(ctx context.Context, requestKey string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusRebalanceAdd, v.store.RebalanceCache.RequestKey, requestKey); err != nil {
		return err
	}
	cache := v.store.RebalanceCache
	if err := v.manager.Repay(ctx, cache.BorrowTokenAAmt, cache.BorrowTokenBAmt); err != nil {
		return err
	}
	from := v.store.Status
	v.finishOperation()
	v.record("rebalance_add", metrics.OutcomeCancelled, from, v.store.Status,
		requestKey, "", "venue cancelled", cache.Health)
	v.log.Warn().Str("requestKey", requestKey).Msg("Rebalance add cancelled by venue")
	return nil
}

// RebalanceRemove unwinds part of the venue position and repays debt with
// the proceeds.
func (v *Vault) RebalanceRemove(ctx context.Context, params RemoveParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := v.checker.BeforeRebalance(snap.DebtRatio, snap.Delta); err != nil {
		return err
	}

	cache := types.RebalanceCache{
		RebalanceType:   params.RebalanceType,
		BorrowTokenAAmt: sdkmath.ZeroInt(),
		BorrowTokenBAmt: sdkmath.ZeroInt(),
		LpAmtToRemove:   params.LpAmtToRemove,
		Health:          healthBefore(snap),
	}

	minA, minB, err := v.minConstituentsOut(ctx, params.LpAmtToRemove, params.Slippage)
	if err != nil {
		return err
	}

	from := v.store.Status
	if v.asyncVenue != nil {
		requestKey, err := v.asyncVenue.RequestRemoveLiquidity(ctx, v.account, params.LpAmtToRemove, minA, minB)
		if err != nil {
			return err
		}
		cache.RequestKey = requestKey
		v.store.RebalanceCache = cache
		v.store.Status = types.StatusRebalanceRemove
		v.record("rebalance_remove", metrics.OutcomeAccepted, from, types.StatusRebalanceRemove,
			requestKey, "", string(params.RebalanceType), cache.Health)
		v.log.Info().
			Str("type", string(params.RebalanceType)).
			Str("lpAmt", params.LpAmtToRemove.String()).
			Str("requestKey", requestKey).
			Msg("Rebalance remove submitted")
		return nil
	}

	amtA, amtB, err := v.syncVenue.RemoveLiquidity(ctx, v.account, params.LpAmtToRemove, minA, minB)
	if err != nil {
		return err
	}
	v.store.RebalanceCache = cache
	v.store.Status = types.StatusRebalanceRemove
	return v.settleRebalanceRemove(ctx, amtA, amtB)
}

// ProcessRebalanceRemoveSettlement is the venue's remove-liquidity
// settlement callback for an in-flight rebalance.
func (v *Vault) ProcessRebalanceRemoveSettlement(ctx context.Context, settlement venue.RemoveSettlement) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusRebalanceRemove, v.store.RebalanceCache.RequestKey, settlement.RequestKey); err != nil {
		return err
	}
	return v.settleRebalanceRemove(ctx, settlement.TokenAAmt, settlement.TokenBAmt)
}

func (v *Vault) settleRebalanceRemove(ctx context.Context, amtA, amtB sdkmath.Int) error {
	cache := v.store.RebalanceCache
	v.store.LpAmt = v.store.LpAmt.Sub(cache.LpAmtToRemove)

	// Repay as much of each leg's debt as the proceeds cover; leftovers stay
	// in custody and are swept by the next compound.
	debtA, debtB, err := v.reader.DebtAmts(ctx)
	if err != nil {
		return err
	}
	repayA := sdkmath.MinInt(amtA, debtA)
	repayB := sdkmath.MinInt(amtB, debtB)
	if err := v.manager.Repay(ctx, repayA, repayB); err != nil {
		return err
	}

	return v.finishRebalance(ctx, "rebalance_remove", cache)
}

// ProcessRebalanceRemoveCancellation is the venue's cancellation callback
// for the remove leg. The position units are back in custody; nothing else
// moved yet.
func (v *Vault) ProcessRebalanceRemoveCancellation(ctx context.Context, requestKey string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireCallback(types.StatusRebalanceRemove, v.store.RebalanceCache.RequestKey, requestKey); err != nil {
		return err
	}
	cache := v.store.RebalanceCache
	from := v.store.Status
	v.finishOperation()
	v.record("rebalance_remove", metrics.OutcomeCancelled, from, v.store.Status,
		requestKey, "", "venue cancelled", cache.Health)
	v.log.Warn().Str("requestKey", requestKey).Msg("Rebalance remove cancelled by venue")
	return nil
}

// finishRebalance runs the post-settlement band check. Metrics back in band
// reopen the vault; metrics still out of band transition to RebalanceOpen so
// a follow-up correction can run immediately.
func (v *Vault) finishRebalance(ctx context.Context, operation string, cache types.RebalanceCache) error {
	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}
	fillHealthAfter(&cache.Health, snap)
	v.store.RebalanceCache = cache

	from := v.store.Status
	if err := v.checker.AfterRebalance(cache.Health); err != nil {
		if v.store.QueuedPause {
			v.store.QueuedPause = false
			v.store.Status = types.StatusPaused
		} else {
			v.store.Status = types.StatusRebalanceOpen
		}
		v.record(operation, metrics.OutcomeFailed, from, v.store.Status,
			cache.RequestKey, "", err.Error(), cache.Health)
		v.log.Warn().Err(err).Msg("Rebalance settled but metrics remain out of band")
		return nil
	}

	v.finishOperation()
	v.record(operation, metrics.OutcomeSettled, from, v.store.Status,
		cache.RequestKey, "", string(cache.RebalanceType), cache.Health)
	v.log.Info().
		Str("type", string(cache.RebalanceType)).
		Str("debtRatio", snap.DebtRatio.String()).
		Str("delta", snap.Delta.String()).
		Msg("Rebalance settled")
	return nil
}

// CloseRebalance is the operator's forced exit from RebalanceOpen back to
// Open. It does not require the metrics to be back in band: the status exists
// for partial corrections (lending liquidity exhausted, band still breached),
// and the operator may decide to accept the residual exposure rather than
// keep the vault parked. The health snapshot is journaled for the record.
func (v *Vault) CloseRebalance(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.RequireStatus(types.StatusRebalanceOpen); err != nil {
		return err
	}
	snap, err := v.snapshot(ctx)
	if err != nil {
		return err
	}
	health := healthBefore(snap)
	fillHealthAfter(&health, snap)
	from := v.store.Status
	v.finishOperation()
	v.record("rebalance_close", metrics.OutcomeSettled, from, v.store.Status, "", "", "", health)
	v.log.Info().
		Str("debtRatio", snap.DebtRatio.String()).
		Str("delta", snap.Delta.String()).
		Msg("Rebalance closed by operator")
	return nil
}
