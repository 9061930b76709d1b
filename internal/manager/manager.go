/*

This file contains the Manager: mid-level operational primitives sitting
between the operation modules and the external collaborators. It computes
borrow/repay amounts and executes borrows, repays and swaps with derived
bounds. Zero-amount calls are deliberate no-ops so callers can always
"attempt" a leg unconditionally.

*/

package manager

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/parallax-fi/lvm/internal/lending"
	"github.com/parallax-fi/lvm/internal/logger"
	"github.com/parallax-fi/lvm/internal/oracle"
	"github.com/parallax-fi/lvm/internal/reader"
	"github.com/parallax-fi/lvm/internal/swap"
	"github.com/parallax-fi/lvm/internal/types"
)

// swapDeadline bounds how long a submitted swap may stay executable.
const swapDeadline = 2 * time.Minute

// Manager executes the vault's borrow, repay and swap legs.
type Manager struct {
	log     zerolog.Logger
	store   *types.Store
	reader  *reader.Reader
	oracle  oracle.Oracle
	router  swap.Router
	poolA   lending.Pool
	poolB   lending.Pool
	account string
	now     func() time.Time
}

// New creates a Manager. Pool references may be nil for legs the strategy
// never borrows.
func New(store *types.Store, r *reader.Reader, o oracle.Oracle, router swap.Router, poolA, poolB lending.Pool, account string, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		log:     logger.GetForComponent("manager"),
		store:   store,
		reader:  r,
		oracle:  o,
		router:  router,
		poolA:   poolA,
		poolB:   poolB,
		account: account,
		now:     now,
	}
}

// CalcBorrow computes the raw borrow amounts needed to lever a deposit up to
// the target leverage:
//
//	positionValue = depositValue * leverage / 1e18
//	borrowValue   = positionValue - depositValue
//
// Long borrows the stable leg only, Short the volatile leg only. Neutral
// borrows the entire volatile side of the position (so debtA matches assetA)
// and funds the remainder of the borrow in the stable token.
func (m *Manager) CalcBorrow(ctx context.Context, depositValue sdkmath.Int) (tokenAAmt, tokenBAmt sdkmath.Int, err error) {
	tokenAAmt, tokenBAmt = sdkmath.ZeroInt(), sdkmath.ZeroInt()

	positionValue := depositValue.Mul(m.store.Params.Leverage).Quo(types.SafeMultiplier)
	borrowValue := positionValue.Sub(depositValue)
	if !borrowValue.IsPositive() {
		return tokenAAmt, tokenBAmt, nil
	}

	switch m.store.Params.DeltaStrategy {
	case types.DeltaStrategyLong:
		tokenBAmt, err = m.valueToAmt(m.store.TokenB, borrowValue)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}

	case types.DeltaStrategyShort:
		tokenAAmt, err = m.valueToAmt(m.store.TokenA, borrowValue)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}

	default: // Neutral
		weightA, _, werr := m.reader.TokenWeights(ctx)
		if werr != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), werr
		}
		tokenAValue := positionValue.Mul(weightA).Quo(types.SafeMultiplier)
		tokenAAmt, err = m.valueToAmt(m.store.TokenA, tokenAValue)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
		tokenBValue := borrowValue.Sub(tokenAValue)
		if tokenBValue.IsNegative() {
			tokenBValue = sdkmath.ZeroInt()
		}
		tokenBAmt, err = m.valueToAmt(m.store.TokenB, tokenBValue)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
	}

	m.log.Debug().
		Str("depositValue", depositValue.String()).
		Str("borrowValue", borrowValue.String()).
		Str("tokenAAmt", tokenAAmt.String()).
		Str("tokenBAmt", tokenBAmt.String()).
		Msg("Calculated borrow amounts")

	return tokenAAmt, tokenBAmt, nil
}

// CalcRepay computes the raw repay amounts matching a proportional unwind:
// debtAmt * shareRatio / 1e18 per leg.
func (m *Manager) CalcRepay(ctx context.Context, shareRatio sdkmath.Int) (tokenAAmt, tokenBAmt sdkmath.Int, err error) {
	debtA, debtB, err := m.reader.DebtAmts(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	return debtA.Mul(shareRatio).Quo(types.SafeMultiplier),
		debtB.Mul(shareRatio).Quo(types.SafeMultiplier), nil
}

// CalcAmountInMaximum converts the desired amountOut to a USD value,
// re-converts it to input-token units, and inflates the result by the
// configured swap slippage as a swap-for-exact-out upper bound.
func (m *Manager) CalcAmountInMaximum(tokenIn, tokenOut types.Token, amountOut sdkmath.Int) (sdkmath.Int, error) {
	value, err := oracle.TokenValue(m.oracle, tokenOut, amountOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amountIn, err := m.valueToAmt(tokenIn, value)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return amountIn.Mul(types.BasisPointsDivisor.Add(m.store.Params.SwapSlippage)).
		Quo(types.BasisPointsDivisor), nil
}

// Borrow draws both legs from their lending pools. Zero legs are skipped.
func (m *Manager) Borrow(ctx context.Context, tokenAAmt, tokenBAmt sdkmath.Int) error {
	if m.poolA != nil && tokenAAmt.IsPositive() {
		if err := m.poolA.Borrow(ctx, m.account, tokenAAmt); err != nil {
			return err
		}
		m.log.Info().Str("token", m.store.TokenA.Symbol).Str("amt", tokenAAmt.String()).Msg("Borrowed")
	}
	if m.poolB != nil && tokenBAmt.IsPositive() {
		if err := m.poolB.Borrow(ctx, m.account, tokenBAmt); err != nil {
			return err
		}
		m.log.Info().Str("token", m.store.TokenB.Symbol).Str("amt", tokenBAmt.String()).Msg("Borrowed")
	}
	return nil
}

// Repay returns both legs to their lending pools. Zero legs are skipped.
func (m *Manager) Repay(ctx context.Context, tokenAAmt, tokenBAmt sdkmath.Int) error {
	if m.poolA != nil && tokenAAmt.IsPositive() {
		if err := m.poolA.Repay(ctx, m.account, tokenAAmt); err != nil {
			return err
		}
		m.log.Info().Str("token", m.store.TokenA.Symbol).Str("amt", tokenAAmt.String()).Msg("Repaid")
	}
	if m.poolB != nil && tokenBAmt.IsPositive() {
		if err := m.poolB.Repay(ctx, m.account, tokenBAmt); err != nil {
			return err
		}
		m.log.Info().Str("token", m.store.TokenB.Symbol).Str("amt", tokenBAmt.String()).Msg("Repaid")
	}
	return nil
}

// RepayAll repays the vault's entire outstanding debt on both legs.
func (m *Manager) RepayAll(ctx context.Context) error {
	debtA, debtB, err := m.reader.DebtAmts(ctx)
	if err != nil {
		return err
	}
	return m.Repay(ctx, debtA, debtB)
}

// SwapExactTokensForTokens swaps amountIn of tokenIn for tokenOut with a
// minimum derived from the oracle value less the configured swap slippage.
// A zero amountIn is a no-op returning 0; callers rely on this to attempt
// swaps unconditionally.
func (m *Manager) SwapExactTokensForTokens(ctx context.Context, tokenIn, tokenOut types.Token, amountIn sdkmath.Int) (sdkmath.Int, error) {
	if amountIn.IsNil() || amountIn.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	value, err := oracle.TokenValue(m.oracle, tokenIn, amountIn)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	expectedOut, err := m.valueToAmt(tokenOut, value)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	minAmountOut := expectedOut.Mul(types.BasisPointsDivisor.Sub(m.store.Params.SwapSlippage)).
		Quo(types.BasisPointsDivisor)

	amountOut, err := m.router.SwapExactIn(ctx, m.account, tokenIn.Denom, tokenOut.Denom,
		amountIn, minAmountOut, m.now().Add(swapDeadline))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	m.log.Debug().
		Str("tokenIn", tokenIn.Symbol).
		Str("tokenOut", tokenOut.Symbol).
		Str("amountIn", amountIn.String()).
		Str("amountOut", amountOut.String()).
		Msg("Swapped exact in")

	return amountOut, nil
}

// SwapTokensForExactTokens swaps tokenIn for exactly amountOut of tokenOut,
// bounded by CalcAmountInMaximum. A zero amountOut is a no-op returning 0.
func (m *Manager) SwapTokensForExactTokens(ctx context.Context, tokenIn, tokenOut types.Token, amountOut sdkmath.Int) (sdkmath.Int, error) {
	if amountOut.IsNil() || amountOut.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	maxAmountIn, err := m.CalcAmountInMaximum(tokenIn, tokenOut, amountOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amountIn, err := m.router.SwapExactOut(ctx, m.account, tokenIn.Denom, tokenOut.Denom,
		amountOut, maxAmountIn, m.now().Add(swapDeadline))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	m.log.Debug().
		Str("tokenIn", tokenIn.Symbol).
		Str("tokenOut", tokenOut.Symbol).
		Str("amountOut", amountOut.String()).
		Str("amountIn", amountIn.String()).
		Msg("Swapped exact out")

	return amountIn, nil
}

// valueToAmt converts a 1e18 USD value to raw token units at the oracle
// price, adjusting for tokens with fewer than 18 decimals.
func (m *Manager) valueToAmt(token types.Token, value sdkmath.Int) (sdkmath.Int, error) {
	if value.IsNil() || value.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	price18, err := m.oracle.ConsultIn18Decimals(token.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return token.DenormalizeAmt(value.Mul(types.SafeMultiplier).Quo(price18)), nil
}
