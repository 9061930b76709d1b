package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/parallax-fi/lvm/internal/ledger"
	"github.com/parallax-fi/lvm/internal/oracle"
	"github.com/parallax-fi/lvm/internal/swap"
	"github.com/parallax-fi/lvm/internal/types"
)

// Router is an in-memory swap.Router that executes at the oracle price less
// a fixed fee, against its own custody account. Any pair of registered
// tokens is swappable.
type Router struct {
	mu sync.Mutex

	ledger  *ledger.Ledger
	oracle  oracle.Oracle
	account string // the router's own custody account
	feeBps  sdkmath.Int
	now     func() time.Time

	tokens map[string]types.Token
}

// NewRouter creates a router. Seed its inventory by minting tokens to its
// custody account; register every swappable token with RegisterToken.
func NewRouter(l *ledger.Ledger, o oracle.Oracle, account string, feeBps sdkmath.Int, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{
		ledger:  l,
		oracle:  o,
		account: account,
		feeBps:  feeBps,
		now:     now,
		tokens:  make(map[string]types.Token),
	}
}

// RegisterToken makes a token swappable.
func (r *Router) RegisterToken(token types.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.Denom] = token
}

// SwapExactIn implements swap.Router.
func (r *Router) SwapExactIn(ctx context.Context, account, denomIn, denomOut string, amountIn, minAmountOut sdkmath.Int, deadline time.Time) (sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokenIn, tokenOut, err := r.pair(denomIn, denomOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if r.now().After(deadline) {
		return sdkmath.ZeroInt(), swap.ErrDeadlineExceeded
	}

	value, err := oracle.TokenValue(r.oracle, tokenIn, amountIn)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amountOut, err := r.valueToUnits(tokenOut, value)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amountOut = amountOut.Mul(types.BasisPointsDivisor.Sub(r.feeBps)).Quo(types.BasisPointsDivisor)
	if amountOut.LT(minAmountOut) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s < %s", swap.ErrSlippageExceeded, amountOut, minAmountOut)
	}

	if err := r.execute(account, tokenIn, tokenOut, amountIn, amountOut); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return amountOut, nil
}

// SwapExactOut implements swap.Router.
func (r *Router) SwapExactOut(ctx context.Context, account, denomIn, denomOut string, amountOut, maxAmountIn sdkmath.Int, deadline time.Time) (sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokenIn, tokenOut, err := r.pair(denomIn, denomOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if r.now().After(deadline) {
		return sdkmath.ZeroInt(), swap.ErrDeadlineExceeded
	}

	value, err := oracle.TokenValue(r.oracle, tokenOut, amountOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amountIn, err := r.valueToUnits(tokenIn, value)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amountIn = amountIn.Mul(types.BasisPointsDivisor.Add(r.feeBps)).Quo(types.BasisPointsDivisor)
	if amountIn.GT(maxAmountIn) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s > %s", swap.ErrExcessiveInput, amountIn, maxAmountIn)
	}

	if err := r.execute(account, tokenIn, tokenOut, amountIn, amountOut); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return amountIn, nil
}

func (r *Router) pair(denomIn, denomOut string) (types.Token, types.Token, error) {
	tokenIn, ok := r.tokens[denomIn]
	if !ok {
		return types.Token{}, types.Token{}, fmt.Errorf("%w: %s", swap.ErrUnsupportedPair, denomIn)
	}
	tokenOut, ok := r.tokens[denomOut]
	if !ok {
		return types.Token{}, types.Token{}, fmt.Errorf("%w: %s", swap.ErrUnsupportedPair, denomOut)
	}
	if denomIn == denomOut {
		return types.Token{}, types.Token{}, fmt.Errorf("%w: identical denoms", swap.ErrUnsupportedPair)
	}
	return tokenIn, tokenOut, nil
}

func (r *Router) execute(account string, tokenIn, tokenOut types.Token, amountIn, amountOut sdkmath.Int) error {
	if amountIn.IsPositive() {
		if err := r.ledger.Transfer(account, r.account, sdk.Coin{Denom: tokenIn.Denom, Amount: amountIn}); err != nil {
			return err
		}
	}
	if amountOut.IsPositive() {
		if err := r.ledger.Transfer(r.account, account, sdk.Coin{Denom: tokenOut.Denom, Amount: amountOut}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) valueToUnits(token types.Token, value sdkmath.Int) (sdkmath.Int, error) {
	if !value.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	price18, err := r.oracle.ConsultIn18Decimals(token.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return token.DenormalizeAmt(value.Mul(types.SafeMultiplier).Quo(price18)), nil
}
