/*

This file contains the Store, the single mutable aggregate owned by a vault
instance. Reader, Checks and Manager operate on it by reference; the Vault
serializes all mutation behind its own lock.

*/

package types

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

// Store holds every piece of persistent vault state. Derived metrics
// (equity, debt ratio, delta, ...) are never stored; they are computed on
// demand by the reader.
type Store struct {
	Status Status `json:"status"`

	// LpAmt is the tracked quantity of the yield-bearing position unit,
	// 18-decimal units. Must track actual custody of the position token;
	// resynced defensively in emergency and compound paths.
	LpAmt sdkmath.Int `json:"lp_amt"`

	// Share accounting for the vault's own fungible token.
	TotalShares sdkmath.Int            `json:"total_shares"`
	Shares      map[string]sdkmath.Int `json:"shares"`

	// Management fee accrual state.
	LastFeeCollected time.Time `json:"last_fee_collected"`

	Params RiskParameters `json:"params"`

	// Token set. TokenA is the volatile borrow leg, TokenB the stable one.
	TokenA        Token `json:"token_a"`
	TokenB        Token `json:"token_b"`
	PositionToken Token `json:"position_token"`
	NativeToken   Token `json:"native_token"`
	RewardToken   Token `json:"reward_token"`

	// QueuedPause defers an emergency pause requested while an operation is
	// in flight; it is applied when the operation settles.
	QueuedPause bool `json:"queued_pause"`

	// Operation caches: one live record per operation kind.
	DepositCache   DepositCache   `json:"deposit_cache"`
	WithdrawCache  WithdrawCache  `json:"withdraw_cache"`
	RebalanceCache RebalanceCache `json:"rebalance_cache"`
	CompoundCache  CompoundCache  `json:"compound_cache"`
	EmergencyCache EmergencyCache `json:"emergency_cache"`
}

// NewStore builds an empty Store in the Open status after validating the
// token set and risk parameters.
func NewStore(params RiskParameters, tokenA, tokenB, positionToken, nativeToken, rewardToken Token, now time.Time) (*Store, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	for _, t := range []Token{tokenA, tokenB, positionToken, nativeToken, rewardToken} {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	if tokenA.Denom == tokenB.Denom {
		return nil, fmt.Errorf("%w: borrow tokens share denom %s", ErrInvalidTokenConfig, tokenA.Denom)
	}
	return &Store{
		Status:           StatusOpen,
		LpAmt:            sdkmath.ZeroInt(),
		TotalShares:      sdkmath.ZeroInt(),
		Shares:           make(map[string]sdkmath.Int),
		LastFeeCollected: now,
		Params:           params,
		TokenA:           tokenA,
		TokenB:           tokenB,
		PositionToken:    positionToken,
		NativeToken:      nativeToken,
		RewardToken:      rewardToken,
	}, nil
}

// ShareBalance returns the share balance of one account.
func (s *Store) ShareBalance(account string) sdkmath.Int {
	bal, ok := s.Shares[account]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

// MintShares credits newly minted shares to an account.
func (s *Store) MintShares(account string, amt sdkmath.Int) {
	if amt.IsNil() || !amt.IsPositive() {
		return
	}
	s.Shares[account] = s.ShareBalance(account).Add(amt)
	s.TotalShares = s.TotalShares.Add(amt)
}

// BurnShares removes shares from an account. The caller must have verified
// the balance beforehand; burning more than held is a programming error.
func (s *Store) BurnShares(account string, amt sdkmath.Int) error {
	if amt.IsNil() || !amt.IsPositive() {
		return nil
	}
	bal := s.ShareBalance(account)
	if bal.LT(amt) {
		return fmt.Errorf("%w: balance %s, burn %s", ErrInsufficientShareBalance, bal, amt)
	}
	s.Shares[account] = bal.Sub(amt)
	s.TotalShares = s.TotalShares.Sub(amt)
	return nil
}
