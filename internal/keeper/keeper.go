/*

This file contains the keeper: the autonomous maintenance loop that runs
beside the vault. Each cycle it snapshots vault health, publishes it to the
metrics gauges and the journal, collects the management fee, drives recovery
of parked failure statuses, sizes and submits rebalances when the book has
drifted out of band, and compounds accumulated rewards.

The keeper only ever calls the vault's public entry points; every invariant
stays enforced inside the vault.

*/

package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parallax-fi/lvm/internal/logger"
	"github.com/parallax-fi/lvm/internal/metrics"
	"github.com/parallax-fi/lvm/internal/oracle"
	"github.com/parallax-fi/lvm/internal/reader"
	"github.com/parallax-fi/lvm/internal/state"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/utils"
	"github.com/parallax-fi/lvm/internal/vault"
)

// Keeper drives periodic vault maintenance.
type Keeper struct {
	log zerolog.Logger

	vault    *vault.Vault
	oracle   oracle.Oracle
	tokenA   types.Token
	tokenB   types.Token
	recorder state.Recorder
	now      func() time.Time

	cycleCount int
}

// Config holds the configuration for creating a new Keeper instance.
type Config struct {
	Vault    *vault.Vault
	Oracle   oracle.Oracle
	TokenA   types.Token
	TokenB   types.Token
	Recorder state.Recorder
	Now      func() time.Time
}

// New creates a Keeper with dependency validation.
func New(cfg Config) (*Keeper, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault cannot be nil")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("oracle cannot be nil")
	}
	if cfg.Recorder == nil {
		cfg.Recorder = state.NoopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Keeper{
		log:      logger.GetForComponent("keeper"),
		vault:    cfg.Vault,
		oracle:   cfg.Oracle,
		tokenA:   cfg.TokenA,
		tokenB:   cfg.TokenB,
		recorder: cfg.Recorder,
		now:      cfg.Now,
	}, nil
}

// RunLoop runs keeper cycles until the context is cancelled. The first cycle
// runs immediately.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.log.Info().Dur("interval", interval).Msg("Starting keeper loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	k.cycleCount++
	k.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			k.log.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.cycleCount++
			k.RunCycle(ctx)
		}
	}
}

// RunCycle executes one maintenance cycle. Individual step failures are
// logged and the cycle continues; a failed snapshot aborts the cycle since
// every later step depends on it.
func (k *Keeper) RunCycle(ctx context.Context) {
	cycleID := uuid.New().String()
	cycleLogger := k.log.With().Str("cycle_id", cycleID).Int("cycle", k.cycleCount).Logger()
	cycleLogger.Info().Msg("--- Starting keeper cycle ---")

	snap, err := k.vault.Reader().Snapshot(ctx, k.now())
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: failed to snapshot vault health")
		return
	}
	k.publishHealth(snap)

	if err := k.vault.CollectManagementFee(ctx); err != nil &&
		!errors.Is(err, types.ErrFeeCollectionPaused) {
		cycleLogger.Error().Err(err).Msg("Fee collection failed")
	}

	status := k.vault.Status()
	switch status {
	case types.StatusDepositFailed:
		if err := k.vault.RecoverFailedDeposit(ctx); err != nil {
			cycleLogger.Error().Err(err).Msg("Deposit recovery failed")
		}
		return
	case types.StatusWithdrawFailed:
		if err := k.vault.RecoverFailedWithdraw(ctx); err != nil {
			cycleLogger.Error().Err(err).Msg("Withdrawal recovery failed")
		}
		return
	case types.StatusOpen, types.StatusRebalanceOpen:
	default:
		cycleLogger.Info().Str("status", status.String()).Msg("Vault busy, skipping maintenance")
		return
	}

	if status == types.StatusRebalanceOpen {
		if err := k.vault.CloseRebalance(ctx); err == nil {
			cycleLogger.Info().Msg("Rebalance window closed, metrics back in band")
			status = k.vault.Status()
		}
	}

	rebalanced, err := k.maybeRebalance(ctx, cycleLogger, snap)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Rebalance submission failed")
		return
	}
	if rebalanced {
		return
	}

	if err := k.vault.Compound(ctx, k.vault.Params().SwapSlippage); err != nil &&
		!errors.Is(err, types.ErrEmptyDepositAmount) &&
		!errors.Is(err, types.ErrNotAllowedInCurrentStatus) {
		cycleLogger.Error().Err(err).Msg("Compound failed")
	}

	cycleLogger.Info().Msg("--- Keeper cycle completed ---")
}

// publishHealth pushes the snapshot to the Prometheus gauges and the
// journal.
func (k *Keeper) publishHealth(snap reader.HealthSnapshot) {
	metrics.VaultEquity.Set(gaugeValue(snap.Equity))
	metrics.VaultDebtRatio.Set(gaugeValue(snap.DebtRatio))
	metrics.VaultDelta.Set(gaugeValue(snap.Delta))
	metrics.VaultShareValue.Set(gaugeValue(snap.SvTokenValue))
	if snap.DebtRatio.LT(types.SafeMultiplier) {
		leverage := types.SafeMultiplier.Mul(types.SafeMultiplier).
			Quo(types.SafeMultiplier.Sub(snap.DebtRatio))
		metrics.VaultLeverage.Set(gaugeValue(leverage))
	}

	if err := k.recorder.RecordHealth(state.HealthRecord{
		Equity:     snap.Equity,
		DebtRatio:  snap.DebtRatio,
		Delta:      snap.Delta,
		LpAmt:      snap.LpAmt,
		ShareValue: snap.SvTokenValue,
		Timestamp:  k.now(),
	}); err != nil {
		k.log.Error().Err(err).Msg("Failed to journal health snapshot")
	}
}

// maybeRebalance sizes and submits a correction when the debt ratio or
// delta has left its band. Returns true when a rebalance was submitted.
func (k *Keeper) maybeRebalance(ctx context.Context, log zerolog.Logger, snap reader.HealthSnapshot) (bool, error) {
	params := k.vault.Params()

	if snap.DebtRatio.GT(params.DebtRatioUpperLimit) {
		lpAmt, err := k.sizeDebtRemove(snap, params)
		if err != nil {
			return false, err
		}
		log.Warn().
			Str("debtRatio", snap.DebtRatio.String()).
			Str("lpAmt", lpAmt.String()).
			Msg("Debt ratio above band, submitting remove rebalance")
		return true, k.vault.RebalanceRemove(ctx, vault.RemoveParams{
			RebalanceType: types.RebalanceTypeDebt,
			LpAmtToRemove: lpAmt,
			Slippage:      params.SwapSlippage,
		})
	}

	if snap.DebtRatio.LT(params.DebtRatioLowerLimit) && snap.Equity.IsPositive() {
		borrowA, borrowB, err := k.sizeDebtAdd(ctx, snap, params)
		if err != nil {
			return false, err
		}
		log.Warn().
			Str("debtRatio", snap.DebtRatio.String()).
			Msg("Debt ratio below band, submitting add rebalance")
		return true, k.vault.RebalanceAdd(ctx, vault.AddParams{
			RebalanceType:   types.RebalanceTypeDebt,
			BorrowTokenAAmt: borrowA,
			BorrowTokenBAmt: borrowB,
			Slippage:        params.SwapSlippage,
		})
	}

	if params.DeltaStrategy != types.DeltaStrategyNeutral {
		return false, nil
	}

	if snap.Delta.GT(params.DeltaUpperLimit) {
		// Too much volatile exposure: borrow the volatile leg and fold it in
		// so the extra debt offsets the exposure.
		deltaValue := snap.Delta.Mul(snap.Equity).Quo(types.SafeMultiplier)
		borrowA, err := k.valueToUnits(k.tokenA, deltaValue)
		if err != nil {
			return false, err
		}
		log.Warn().Str("delta", snap.Delta.String()).Msg("Delta above band, submitting add rebalance")
		return true, k.vault.RebalanceAdd(ctx, vault.AddParams{
			RebalanceType:   types.RebalanceTypeDelta,
			BorrowTokenAAmt: borrowA,
			BorrowTokenBAmt: sdkmath.ZeroInt(),
			Slippage:        params.SwapSlippage,
		})
	}

	if snap.Delta.LT(params.DeltaLowerLimit) {
		// Over-hedged: unwind position worth the exposure gap so the repay
		// reduces the volatile debt.
		deltaValue := snap.Delta.Neg().Mul(snap.Equity).Quo(types.SafeMultiplier)
		assetValue, err := k.vault.Reader().AssetValue(ctx)
		if err != nil {
			return false, err
		}
		if !assetValue.IsPositive() {
			return false, nil
		}
		lpAmt := snap.LpAmt.Mul(deltaValue).Quo(assetValue)
		log.Warn().Str("delta", snap.Delta.String()).Msg("Delta below band, submitting remove rebalance")
		return true, k.vault.RebalanceRemove(ctx, vault.RemoveParams{
			RebalanceType: types.RebalanceTypeDelta,
			LpAmtToRemove: lpAmt,
			Slippage:      params.SwapSlippage,
		})
	}

	return false, nil
}

// sizeDebtRemove sizes the position value R to unwind so that repaying R of
// debt lands the ratio on the band midpoint: R = (D - t*A) / (1 - t).
func (k *Keeper) sizeDebtRemove(snap reader.HealthSnapshot, params types.RiskParameters) (sdkmath.Int, error) {
	target := params.DebtRatioUpperLimit.Add(params.DebtRatioLowerLimit).QuoRaw(2)
	assetValue, debtValue := bookFromSnapshot(snap)
	if !assetValue.IsPositive() {
		return sdkmath.ZeroInt(), types.ErrZeroEquity
	}
	removeValue := debtValue.Sub(target.Mul(assetValue).Quo(types.SafeMultiplier)).
		Mul(types.SafeMultiplier).Quo(types.SafeMultiplier.Sub(target))
	if !removeValue.IsPositive() {
		return sdkmath.ZeroInt(), types.ErrRebalanceNotNeeded
	}
	return snap.LpAmt.Mul(removeValue).Quo(assetValue), nil
}

// sizeDebtAdd sizes the extra borrow B so that adding it to both sides of
// the book lands the ratio on the band midpoint: B = (t*A - D) / (1 - t),
// split across the legs by the venue weights for the Neutral strategy.
func (k *Keeper) sizeDebtAdd(ctx context.Context, snap reader.HealthSnapshot, params types.RiskParameters) (borrowA, borrowB sdkmath.Int, err error) {
	target := params.DebtRatioUpperLimit.Add(params.DebtRatioLowerLimit).QuoRaw(2)
	assetValue, debtValue := bookFromSnapshot(snap)
	borrowValue := target.Mul(assetValue).Quo(types.SafeMultiplier).Sub(debtValue).
		Mul(types.SafeMultiplier).Quo(types.SafeMultiplier.Sub(target))
	if !borrowValue.IsPositive() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), types.ErrRebalanceNotNeeded
	}

	switch params.DeltaStrategy {
	case types.DeltaStrategyLong:
		borrowB, err = k.valueToUnits(k.tokenB, borrowValue)
		return sdkmath.ZeroInt(), borrowB, err
	case types.DeltaStrategyShort:
		borrowA, err = k.valueToUnits(k.tokenA, borrowValue)
		return borrowA, sdkmath.ZeroInt(), err
	default:
		weightA, _, err := k.vault.Reader().TokenWeights(ctx)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
		valueA := borrowValue.Mul(weightA).Quo(types.SafeMultiplier)
		borrowA, err = k.valueToUnits(k.tokenA, valueA)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
		borrowB, err = k.valueToUnits(k.tokenB, borrowValue.Sub(valueA))
		return borrowA, borrowB, err
	}
}

// bookFromSnapshot reconstructs asset and debt values from equity and the
// debt ratio: A = E / (1 - dr), D = A - E.
func bookFromSnapshot(snap reader.HealthSnapshot) (assetValue, debtValue sdkmath.Int) {
	if snap.DebtRatio.GTE(types.SafeMultiplier) {
		return snap.Equity, sdkmath.ZeroInt()
	}
	assetValue = snap.Equity.Mul(types.SafeMultiplier).Quo(types.SafeMultiplier.Sub(snap.DebtRatio))
	return assetValue, assetValue.Sub(snap.Equity)
}

// gaugeValue converts a 1e18-scaled value for the Prometheus gauges.
// Values too large for a float64 report zero rather than failing the cycle.
func gaugeValue(v sdkmath.Int) float64 {
	f, err := utils.ValueToFloat64(v)
	if err != nil {
		return 0
	}
	return f
}

func (k *Keeper) valueToUnits(token types.Token, value sdkmath.Int) (sdkmath.Int, error) {
	if !value.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	price18, err := k.oracle.ConsultIn18Decimals(token.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return token.DenormalizeAmt(value.Mul(types.SafeMultiplier).Quo(price18)), nil
}
