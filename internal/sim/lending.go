package sim

import (
	"context"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/parallax-fi/lvm/internal/ledger"
	"github.com/parallax-fi/lvm/internal/lending"
	"github.com/parallax-fi/lvm/internal/types"
)

// LendingPool is an in-memory lending.Pool with simple per-borrow interest:
// every outstanding debt is inflated by interestBps at each AccrueInterest
// call, which the simulator invokes once per cycle.
type LendingPool struct {
	mu sync.Mutex

	ledger      *ledger.Ledger
	token       types.Token
	account     string // the pool's own custody account
	interestBps sdkmath.Int

	debts map[string]sdkmath.Int
}

// NewLendingPool creates a pool for one token. Seed its liquidity by minting
// to its custody account.
func NewLendingPool(l *ledger.Ledger, token types.Token, account string, interestBps sdkmath.Int) *LendingPool {
	return &LendingPool{
		ledger:      l,
		token:       token,
		account:     account,
		interestBps: interestBps,
		debts:       make(map[string]sdkmath.Int),
	}
}

// Denom implements lending.Pool.
func (p *LendingPool) Denom() string {
	return p.token.Denom
}

// Borrow implements lending.Pool.
func (p *LendingPool) Borrow(ctx context.Context, borrower string, amt sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !amt.IsPositive() {
		return nil
	}
	if p.ledger.Balance(p.account, p.token.Denom).LT(amt) {
		return fmt.Errorf("%w: %s %s", lending.ErrInsufficientLiquidity, p.token.Symbol, amt)
	}
	if err := p.ledger.Transfer(p.account, borrower, sdk.Coin{Denom: p.token.Denom, Amount: amt}); err != nil {
		return err
	}
	p.debts[borrower] = p.debt(borrower).Add(amt)
	return nil
}

// Repay implements lending.Pool.
func (p *LendingPool) Repay(ctx context.Context, borrower string, amt sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !amt.IsPositive() {
		return nil
	}
	debt := p.debt(borrower)
	if amt.GT(debt) {
		return fmt.Errorf("%w: debt %s, repay %s", lending.ErrRepayExceedsDebt, debt, amt)
	}
	if err := p.ledger.Transfer(borrower, p.account, sdk.Coin{Denom: p.token.Denom, Amount: amt}); err != nil {
		return err
	}
	p.debts[borrower] = debt.Sub(amt)
	return nil
}

// MaxRepay implements lending.Pool.
func (p *LendingPool) MaxRepay(ctx context.Context, borrower string) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debt(borrower), nil
}

// TotalAvailableAsset implements lending.Pool.
func (p *LendingPool) TotalAvailableAsset(ctx context.Context) (sdkmath.Int, error) {
	return p.ledger.Balance(p.account, p.token.Denom), nil
}

// AccrueInterest inflates every outstanding debt by the pool's interest
// rate. The simulator calls this once per cycle.
func (p *LendingPool) AccrueInterest() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for borrower, debt := range p.debts {
		p.debts[borrower] = debt.Mul(types.BasisPointsDivisor.Add(p.interestBps)).Quo(types.BasisPointsDivisor)
	}
}

func (p *LendingPool) debt(borrower string) sdkmath.Int {
	debt, ok := p.debts[borrower]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return debt
}
