/*

This file contains the Reader: pure computation of derived accounting
metrics from the current store state. No method here mutates anything; the
Vault captures snapshots through the Reader before and after every
operation.

All USD values and ratios are 1e18-scaled sdkmath.Int; token amounts are
normalized to 18 decimals internally.

*/

package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/lvm/internal/lending"
	"github.com/parallax-fi/lvm/internal/oracle"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/venue"
)

// Error definitions for zero-tolerance error handling
var (
	ErrMissingLendingPool = errors.New("lending pool reference is missing for configured strategy")
)

// Reader computes derived values over a Store. It holds references to the
// external collaborators the derivations need but performs no side effects
// through them.
type Reader struct {
	store   *types.Store
	oracle  oracle.Oracle
	poolA   lending.Pool // volatile leg; nil for Long strategy
	poolB   lending.Pool // stable leg; nil for Short strategy
	venue   venue.Venue
	account string // the vault's custody account, i.e. the borrower identity
}

// New creates a Reader and validates the pool references against the
// configured strategy.
func New(store *types.Store, o oracle.Oracle, poolA, poolB lending.Pool, vn venue.Venue, account string) (*Reader, error) {
	switch store.Params.DeltaStrategy {
	case types.DeltaStrategyNeutral:
		if poolA == nil || poolB == nil {
			return nil, fmt.Errorf("%w: neutral strategy borrows both tokens", ErrMissingLendingPool)
		}
	case types.DeltaStrategyLong:
		if poolB == nil {
			return nil, fmt.Errorf("%w: long strategy borrows the stable token", ErrMissingLendingPool)
		}
	case types.DeltaStrategyShort:
		if poolA == nil {
			return nil, fmt.Errorf("%w: short strategy borrows the volatile token", ErrMissingLendingPool)
		}
	}
	return &Reader{
		store:   store,
		oracle:  o,
		poolA:   poolA,
		poolB:   poolB,
		venue:   vn,
		account: account,
	}, nil
}

// TokenValue converts a raw amount of one of the vault's tokens to USD.
func (r *Reader) TokenValue(token types.Token, amt sdkmath.Int) (sdkmath.Int, error) {
	return oracle.TokenValue(r.oracle, token, amt)
}

// AssetValue is the USD value of the tracked position quantity.
func (r *Reader) AssetValue(ctx context.Context) (sdkmath.Int, error) {
	if r.store.LpAmt.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	price18, err := r.oracle.ConsultIn18Decimals(r.store.PositionToken.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return r.store.PositionToken.NormalizeAmt(r.store.LpAmt).Mul(price18).Quo(types.SafeMultiplier), nil
}

// DebtAmts returns the outstanding debt per borrow leg, raw units. Legs the
// strategy does not borrow are zero.
func (r *Reader) DebtAmts(ctx context.Context) (tokenADebt, tokenBDebt sdkmath.Int, err error) {
	tokenADebt, tokenBDebt = sdkmath.ZeroInt(), sdkmath.ZeroInt()
	if r.poolA != nil {
		tokenADebt, err = r.poolA.MaxRepay(ctx, r.account)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
	}
	if r.poolB != nil {
		tokenBDebt, err = r.poolB.MaxRepay(ctx, r.account)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
	}
	return tokenADebt, tokenBDebt, nil
}

// DebtValue is the combined USD value of all outstanding debt.
func (r *Reader) DebtValue(ctx context.Context) (sdkmath.Int, error) {
	debtA, debtB, err := r.DebtAmts(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	valueA, err := r.TokenValue(r.store.TokenA, debtA)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	valueB, err := r.TokenValue(r.store.TokenB, debtB)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return valueA.Add(valueB), nil
}

// EquityValue is assetValue - debtValue, clamped at zero. Equity is never
// negative.
func (r *Reader) EquityValue(ctx context.Context) (sdkmath.Int, error) {
	assetValue, err := r.AssetValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	debtValue, err := r.DebtValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if assetValue.LT(debtValue) {
		return sdkmath.ZeroInt(), nil
	}
	return assetValue.Sub(debtValue), nil
}

// DebtRatio is debtValue / assetValue, 1e18 scaled. Zero when there is no
// asset.
func (r *Reader) DebtRatio(ctx context.Context) (sdkmath.Int, error) {
	assetValue, err := r.AssetValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if assetValue.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	debtValue, err := r.DebtValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return debtValue.Mul(types.SafeMultiplier).Quo(assetValue), nil
}

// Leverage is assetValue / equityValue, 1e18 scaled. Zero when equity is
// zero.
func (r *Reader) Leverage(ctx context.Context) (sdkmath.Int, error) {
	equity, err := r.EquityValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if equity.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	assetValue, err := r.AssetValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return assetValue.Mul(types.SafeMultiplier).Quo(equity), nil
}

// TokenWeights returns each constituent's share of the venue's reserve
// value, 1e18 scaled.
func (r *Reader) TokenWeights(ctx context.Context) (weightA, weightB sdkmath.Int, err error) {
	reserveA, reserveB, err := r.venue.Reserves(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	valueA, err := r.TokenValue(r.store.TokenA, reserveA)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	valueB, err := r.TokenValue(r.store.TokenB, reserveB)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	total := valueA.Add(valueB)
	if total.IsZero() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), nil
	}
	weightA = valueA.Mul(types.SafeMultiplier).Quo(total)
	return weightA, types.SafeMultiplier.Sub(weightA), nil
}

// AssetAmt returns the vault's exposure to the volatile token implied by the
// position, 18-decimal units.
func (r *Reader) AssetAmt(ctx context.Context) (sdkmath.Int, error) {
	assetValue, err := r.AssetValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if assetValue.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	weightA, _, err := r.TokenWeights(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	priceA, err := r.oracle.ConsultIn18Decimals(r.store.TokenA.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return assetValue.Mul(weightA).Quo(priceA), nil
}

// Delta is the signed directional exposure to the volatile token relative to
// equity: (assetAmt - debtAmt) * price / equity. Zero when equity is zero or
// both amounts are zero.
func (r *Reader) Delta(ctx context.Context) (sdkmath.Int, error) {
	equity, err := r.EquityValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if equity.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	assetAmt, err := r.AssetAmt(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	debtARaw, _, err := r.DebtAmts(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	debtAmt := r.store.TokenA.NormalizeAmt(debtARaw)
	if assetAmt.IsZero() && debtAmt.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	priceA, err := r.oracle.ConsultIn18Decimals(r.store.TokenA.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return assetAmt.Sub(debtAmt).Mul(priceA).Quo(equity), nil
}

// PendingFee is the management fee accrued since the last collection,
// denominated in shares.
func (r *Reader) PendingFee(now time.Time) sdkmath.Int {
	if r.store.TotalShares.IsZero() {
		return sdkmath.ZeroInt()
	}
	elapsed := now.Sub(r.store.LastFeeCollected)
	if elapsed <= 0 {
		return sdkmath.ZeroInt()
	}
	seconds := sdkmath.NewInt(int64(elapsed / time.Second))
	return r.store.TotalShares.Mul(r.store.Params.FeePerSecond).Mul(seconds).Quo(types.SafeMultiplier)
}

// SvTokenValue is equity per share: equity * 1e18 / (totalShares +
// pendingFee). Fails when the denominator is zero; that only happens before
// the first deposit, where callers take the bootstrap path instead.
func (r *Reader) SvTokenValue(ctx context.Context, now time.Time) (sdkmath.Int, error) {
	supply := r.store.TotalShares.Add(r.PendingFee(now))
	if supply.IsZero() {
		return sdkmath.ZeroInt(), types.ErrZeroShareSupply
	}
	equity, err := r.EquityValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return equity.Mul(types.SafeMultiplier).Quo(supply), nil
}

// ValueToShares converts a USD value to shares at the current equity. The
// bootstrap case (no supply or no equity) converts 1:1.
func (r *Reader) ValueToShares(value, currentEquity sdkmath.Int, now time.Time) sdkmath.Int {
	supply := r.store.TotalShares.Add(r.PendingFee(now))
	if supply.IsZero() || currentEquity.IsZero() {
		return value
	}
	return value.Mul(supply).Quo(currentEquity)
}

// AdditionalCapacity is the USD value of deposits the vault can still accept
// before exhausting lending liquidity.
//
// Single-borrow strategies: availableLiquidityValue * 1e18 / (leverage - 1e18).
//
// Neutral dual-borrow strategy: the binding constraint is the smaller of the
// two tokens' max-lendable values, each derived from the token's weight in
// the pool and the target leverage. The stable-leg denominator
// leverage*(1-weightA) - 1e18 underflows when the volatile weight is too
// high for the configured leverage; that combination is an operator
// misconfiguration and surfaces as ErrCapacityWeightUnderflow rather than
// being clamped.
func (r *Reader) AdditionalCapacity(ctx context.Context) (sdkmath.Int, error) {
	leverage := r.store.Params.Leverage

	switch r.store.Params.DeltaStrategy {
	case types.DeltaStrategyLong:
		liquidityValue, err := r.poolLiquidityValue(ctx, r.poolB, r.store.TokenB)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		return liquidityValue.Mul(types.SafeMultiplier).Quo(leverage.Sub(types.SafeMultiplier)), nil

	case types.DeltaStrategyShort:
		liquidityValue, err := r.poolLiquidityValue(ctx, r.poolA, r.store.TokenA)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		return liquidityValue.Mul(types.SafeMultiplier).Quo(leverage.Sub(types.SafeMultiplier)), nil

	default: // Neutral
		weightA, weightB, err := r.TokenWeights(ctx)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		liquidityValueA, err := r.poolLiquidityValue(ctx, r.poolA, r.store.TokenA)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		liquidityValueB, err := r.poolLiquidityValue(ctx, r.poolB, r.store.TokenB)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}

		denomA := leverage.Mul(weightA).Quo(types.SafeMultiplier)
		denomB := leverage.Mul(weightB).Quo(types.SafeMultiplier).Sub(types.SafeMultiplier)
		if !denomA.IsPositive() || !denomB.IsPositive() {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: leverage %s, volatile weight %s",
				types.ErrCapacityWeightUnderflow, leverage, weightA)
		}

		maxTokenALending := liquidityValueA.Mul(types.SafeMultiplier).Quo(denomA)
		maxTokenBLending := liquidityValueB.Mul(types.SafeMultiplier).Quo(denomB)
		if maxTokenALending.LT(maxTokenBLending) {
			return maxTokenALending, nil
		}
		return maxTokenBLending, nil
	}
}

// Capacity is the total USD value the vault can hold: current equity plus
// additional capacity.
func (r *Reader) Capacity(ctx context.Context) (sdkmath.Int, error) {
	additional, err := r.AdditionalCapacity(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	equity, err := r.EquityValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return additional.Add(equity), nil
}

// HealthSnapshot is the set of metrics captured before and after every
// operation.
type HealthSnapshot struct {
	Equity       sdkmath.Int
	DebtRatio    sdkmath.Int
	Delta        sdkmath.Int
	LpAmt        sdkmath.Int
	SvTokenValue sdkmath.Int
}

// Snapshot captures all health metrics at once. SvTokenValue is zero before
// the first deposit instead of an error so snapshots work in the bootstrap
// state.
func (r *Reader) Snapshot(ctx context.Context, now time.Time) (HealthSnapshot, error) {
	equity, err := r.EquityValue(ctx)
	if err != nil {
		return HealthSnapshot{}, err
	}
	debtRatio, err := r.DebtRatio(ctx)
	if err != nil {
		return HealthSnapshot{}, err
	}
	delta, err := r.Delta(ctx)
	if err != nil {
		return HealthSnapshot{}, err
	}
	svTokenValue, err := r.SvTokenValue(ctx, now)
	if err != nil {
		if !errors.Is(err, types.ErrZeroShareSupply) {
			return HealthSnapshot{}, err
		}
		svTokenValue = sdkmath.ZeroInt()
	}
	return HealthSnapshot{
		Equity:       equity,
		DebtRatio:    debtRatio,
		Delta:        delta,
		LpAmt:        r.store.LpAmt,
		SvTokenValue: svTokenValue,
	}, nil
}

func (r *Reader) poolLiquidityValue(ctx context.Context, pool lending.Pool, token types.Token) (sdkmath.Int, error) {
	if pool == nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrMissingLendingPool, token.Symbol)
	}
	available, err := pool.TotalAvailableAsset(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return r.TokenValue(token, available)
}
