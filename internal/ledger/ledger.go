/*

This file contains an in-process account ledger. The vault, lending pools,
swap router and liquidity venue all settle against it, so custody invariants
(refunds, monotonic position changes, pro-rata emergency withdrawals) are
observable balances rather than implied bookkeeping.

*/

package ledger

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAccount      = errors.New("account is invalid")
	ErrInvalidCoin         = errors.New("coin is invalid")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Ledger maps accounts to coin balances. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]sdk.Coins
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[string]sdk.Coins)}
}

// Balance returns the balance of one denom for an account.
func (l *Ledger) Balance(account, denom string) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account].AmountOf(denom)
}

// Balances returns a copy of all balances held by an account.
func (l *Ledger) Balances(account string) sdk.Coins {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := sdk.NewCoins()
	for _, c := range l.balances[account] {
		out = out.Add(c)
	}
	return out
}

// Mint credits newly created coins to an account.
func (l *Ledger) Mint(account string, coins ...sdk.Coin) error {
	if account == "" {
		return ErrInvalidAccount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range coins {
		if err := validateCoin(c); err != nil {
			return err
		}
		l.balances[account] = l.balances[account].Add(c)
	}
	return nil
}

// Burn destroys coins held by an account.
func (l *Ledger) Burn(account string, coins ...sdk.Coin) error {
	if account == "" {
		return ErrInvalidAccount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range coins {
		if err := validateCoin(c); err != nil {
			return err
		}
		held := l.balances[account].AmountOf(c.Denom)
		if held.LT(c.Amount) {
			return fmt.Errorf("%w: account %s holds %s%s, burning %s", ErrInsufficientBalance, account, held, c.Denom, c)
		}
		l.balances[account] = l.balances[account].Sub(c)
	}
	return nil
}

// Transfer moves coins between accounts.
func (l *Ledger) Transfer(from, to string, coins ...sdk.Coin) error {
	if from == "" || to == "" {
		return ErrInvalidAccount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range coins {
		if err := validateCoin(c); err != nil {
			return err
		}
		if c.Amount.IsZero() {
			continue
		}
		held := l.balances[from].AmountOf(c.Denom)
		if held.LT(c.Amount) {
			return fmt.Errorf("%w: account %s holds %s%s, sending %s", ErrInsufficientBalance, from, held, c.Denom, c)
		}
		l.balances[from] = l.balances[from].Sub(c)
		l.balances[to] = l.balances[to].Add(c)
	}
	return nil
}

func validateCoin(c sdk.Coin) error {
	if c.Denom == "" {
		return fmt.Errorf("%w: empty denom", ErrInvalidCoin)
	}
	if c.Amount.IsNil() || c.Amount.IsNegative() {
		return fmt.Errorf("%w: %s amount is nil or negative", ErrInvalidCoin, c.Denom)
	}
	return nil
}
