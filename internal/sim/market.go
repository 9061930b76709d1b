/*

This file contains the simulated liquidity venue. It prices everything off
the shared oracle so the vault's derived metrics and the venue's settlement
math stay consistent, and supports both settlement modes: synchronous
(settle inline) and asynchronous (accept a keyed request now, settle or
cancel it later through SettleAdd / SettleRemove / Cancel). The simulator
drives the async mode on a delay ticker; tests drive it directly.

*/

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parallax-fi/lvm/internal/ledger"
	"github.com/parallax-fi/lvm/internal/logger"
	"github.com/parallax-fi/lvm/internal/oracle"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/venue"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoPendingRequests = errors.New("no pending requests")
)

type requestKind int

const (
	requestAdd requestKind = iota
	requestRemove
)

type pendingRequest struct {
	kind    requestKind
	account string

	// add leg
	tokenAAmt sdkmath.Int
	tokenBAmt sdkmath.Int
	minLpAmt  sdkmath.Int

	// remove leg
	lpAmt        sdkmath.Int
	minTokenAAmt sdkmath.Int
	minTokenBAmt sdkmath.Int
}

// Market is the simulated venue. It implements both venue.SyncVenue and
// venue.AsyncVenue.
type Market struct {
	log zerolog.Logger
	mu  sync.Mutex

	ledger   *ledger.Ledger
	oracle   oracle.Oracle
	tokenA   types.Token
	tokenB   types.Token
	position types.Token
	account  string // the venue's own custody account

	// feeBps is taken off every settlement output.
	feeBps sdkmath.Int

	pending map[string]pendingRequest
	order   []string // FIFO settlement order for the simulator loop
}

// NewMarket creates a simulated venue custodied at account. Seed its
// reserves by minting constituents to that account on the shared ledger.
func NewMarket(l *ledger.Ledger, o oracle.Oracle, tokenA, tokenB, position types.Token, account string, feeBps sdkmath.Int) *Market {
	return &Market{
		log:      logger.GetForComponent("sim_market"),
		ledger:   l,
		oracle:   o,
		tokenA:   tokenA,
		tokenB:   tokenB,
		position: position,
		account:  account,
		feeBps:   feeBps,
		pending:  make(map[string]pendingRequest),
	}
}

// Reserves implements venue.Venue.
func (m *Market) Reserves(ctx context.Context) (sdkmath.Int, sdkmath.Int, error) {
	return m.ledger.Balance(m.account, m.tokenA.Denom), m.ledger.Balance(m.account, m.tokenB.Denom), nil
}

// AddLiquidity implements venue.SyncVenue.
func (m *Market) AddLiquidity(ctx context.Context, account string, tokenAAmt, tokenBAmt, minLpAmt sdkmath.Int) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeConstituents(account, tokenAAmt, tokenBAmt); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return m.settleAdd(account, tokenAAmt, tokenBAmt, minLpAmt)
}

// RemoveLiquidity implements venue.SyncVenue.
func (m *Market) RemoveLiquidity(ctx context.Context, account string, lpAmt, minTokenAAmt, minTokenBAmt sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takePosition(account, lpAmt); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	return m.settleRemove(account, lpAmt, minTokenAAmt, minTokenBAmt)
}

// RequestAddLiquidity implements venue.AsyncVenue. The constituents leave
// the caller's custody immediately.
func (m *Market) RequestAddLiquidity(ctx context.Context, account string, tokenAAmt, tokenBAmt, minLpAmt sdkmath.Int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeConstituents(account, tokenAAmt, tokenBAmt); err != nil {
		return "", err
	}
	key := uuid.NewString()
	m.pending[key] = pendingRequest{
		kind:      requestAdd,
		account:   account,
		tokenAAmt: tokenAAmt,
		tokenBAmt: tokenBAmt,
		minLpAmt:  minLpAmt,
	}
	m.order = append(m.order, key)
	m.log.Debug().Str("requestKey", key).Msg("Add-liquidity request accepted")
	return key, nil
}

// RequestRemoveLiquidity implements venue.AsyncVenue. The position units
// leave the caller's custody immediately.
func (m *Market) RequestRemoveLiquidity(ctx context.Context, account string, lpAmt, minTokenAAmt, minTokenBAmt sdkmath.Int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takePosition(account, lpAmt); err != nil {
		return "", err
	}
	key := uuid.NewString()
	m.pending[key] = pendingRequest{
		kind:         requestRemove,
		account:      account,
		lpAmt:        lpAmt,
		minTokenAAmt: minTokenAAmt,
		minTokenBAmt: minTokenBAmt,
	}
	m.order = append(m.order, key)
	m.log.Debug().Str("requestKey", key).Msg("Remove-liquidity request accepted")
	return key, nil
}

// SettleAdd settles one pending add-liquidity request and returns the
// callback payload to deliver to the vault.
func (m *Market) SettleAdd(requestKey string) (venue.AddSettlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, err := m.pop(requestKey, requestAdd)
	if err != nil {
		return venue.AddSettlement{}, err
	}
	lpAmt, err := m.settleAdd(req.account, req.tokenAAmt, req.tokenBAmt, req.minLpAmt)
	if err != nil {
		// Settlement below the floor turns into a cancellation: return the
		// constituents and let the vault unwind.
		if refundErr := m.refund(req); refundErr != nil {
			return venue.AddSettlement{}, refundErr
		}
		return venue.AddSettlement{}, err
	}
	return venue.AddSettlement{RequestKey: requestKey, LpAmt: lpAmt}, nil
}

// SettleRemove settles one pending remove-liquidity request and returns the
// callback payload to deliver to the vault.
func (m *Market) SettleRemove(requestKey string) (venue.RemoveSettlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, err := m.pop(requestKey, requestRemove)
	if err != nil {
		return venue.RemoveSettlement{}, err
	}
	amtA, amtB, err := m.settleRemove(req.account, req.lpAmt, req.minTokenAAmt, req.minTokenBAmt)
	if err != nil {
		if refundErr := m.refund(req); refundErr != nil {
			return venue.RemoveSettlement{}, refundErr
		}
		return venue.RemoveSettlement{}, err
	}
	return venue.RemoveSettlement{RequestKey: requestKey, TokenAAmt: amtA, TokenBAmt: amtB}, nil
}

// Cancel aborts one pending request, returning the escrowed value to the
// requester. The vault must still be told through its cancellation callback.
func (m *Market) Cancel(requestKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.pending[requestKey]
	if !ok {
		return fmt.Errorf("%w: %s", venue.ErrUnknownRequest, requestKey)
	}
	m.drop(requestKey)
	return m.refund(req)
}

// NextPending returns the oldest pending request key, for the simulator's
// settlement ticker.
func (m *Market) NextPending() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return "", false
	}
	return m.order[0], true
}

// PendingKind reports whether a pending request is an add (true) or a
// remove (false).
func (m *Market) PendingKind(requestKey string) (add bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.pending[requestKey]
	if !ok {
		return false, fmt.Errorf("%w: %s", venue.ErrUnknownRequest, requestKey)
	}
	return req.kind == requestAdd, nil
}

func (m *Market) pop(requestKey string, kind requestKind) (pendingRequest, error) {
	req, ok := m.pending[requestKey]
	if !ok {
		return pendingRequest{}, fmt.Errorf("%w: %s", venue.ErrUnknownRequest, requestKey)
	}
	if req.kind != kind {
		return pendingRequest{}, fmt.Errorf("%w: %s", venue.ErrRequestNotPending, requestKey)
	}
	m.drop(requestKey)
	return req, nil
}

func (m *Market) drop(requestKey string) {
	delete(m.pending, requestKey)
	for i, k := range m.order {
		if k == requestKey {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Market) refund(req pendingRequest) error {
	if req.kind == requestAdd {
		var coins []sdk.Coin
		if req.tokenAAmt.IsPositive() {
			coins = append(coins, sdk.Coin{Denom: m.tokenA.Denom, Amount: req.tokenAAmt})
		}
		if req.tokenBAmt.IsPositive() {
			coins = append(coins, sdk.Coin{Denom: m.tokenB.Denom, Amount: req.tokenBAmt})
		}
		if len(coins) == 0 {
			return nil
		}
		return m.ledger.Transfer(m.account, req.account, coins...)
	}
	if !req.lpAmt.IsPositive() {
		return nil
	}
	return m.ledger.Mint(req.account, sdk.Coin{Denom: m.position.Denom, Amount: req.lpAmt})
}

// takeConstituents escrows the constituents in the venue account.
func (m *Market) takeConstituents(account string, tokenAAmt, tokenBAmt sdkmath.Int) error {
	var coins []sdk.Coin
	if tokenAAmt.IsPositive() {
		coins = append(coins, sdk.Coin{Denom: m.tokenA.Denom, Amount: tokenAAmt})
	}
	if tokenBAmt.IsPositive() {
		coins = append(coins, sdk.Coin{Denom: m.tokenB.Denom, Amount: tokenBAmt})
	}
	if len(coins) == 0 {
		return nil
	}
	return m.ledger.Transfer(account, m.account, coins...)
}

// takePosition burns escrowed position units from the requester.
func (m *Market) takePosition(account string, lpAmt sdkmath.Int) error {
	if !lpAmt.IsPositive() {
		return nil
	}
	return m.ledger.Burn(account, sdk.Coin{Denom: m.position.Denom, Amount: lpAmt})
}

// settleAdd mints position units worth the constituents' oracle value, less
// the venue fee. Callers hold the lock and have already escrowed the
// constituents.
func (m *Market) settleAdd(account string, tokenAAmt, tokenBAmt, minLpAmt sdkmath.Int) (sdkmath.Int, error) {
	valueA, err := oracle.TokenValue(m.oracle, m.tokenA, tokenAAmt)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	valueB, err := oracle.TokenValue(m.oracle, m.tokenB, tokenBAmt)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	lpAmt, err := m.valueToUnits(m.position, valueA.Add(valueB))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	lpAmt = lpAmt.Mul(types.BasisPointsDivisor.Sub(m.feeBps)).Quo(types.BasisPointsDivisor)
	if lpAmt.LT(minLpAmt) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s < %s", venue.ErrSlippageExceeded, lpAmt, minLpAmt)
	}
	if err := m.ledger.Mint(account, sdk.Coin{Denom: m.position.Denom, Amount: lpAmt}); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return lpAmt, nil
}

// settleRemove pays out constituents worth the position's oracle value,
// split by the current reserve weights, less the venue fee. Callers hold
// the lock and have already burned the position units.
func (m *Market) settleRemove(account string, lpAmt, minTokenAAmt, minTokenBAmt sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	value, err := oracle.TokenValue(m.oracle, m.position, lpAmt)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	weightA, weightB, err := m.reserveWeights()
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	amtA, err := m.valueToUnits(m.tokenA, value.Mul(weightA).Quo(types.SafeMultiplier))
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	amtB, err := m.valueToUnits(m.tokenB, value.Mul(weightB).Quo(types.SafeMultiplier))
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	fee := types.BasisPointsDivisor.Sub(m.feeBps)
	amtA = amtA.Mul(fee).Quo(types.BasisPointsDivisor)
	amtB = amtB.Mul(fee).Quo(types.BasisPointsDivisor)
	if amtA.LT(minTokenAAmt) || amtB.LT(minTokenBAmt) {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: (%s, %s) < (%s, %s)",
			venue.ErrSlippageExceeded, amtA, amtB, minTokenAAmt, minTokenBAmt)
	}
	var coins []sdk.Coin
	if amtA.IsPositive() {
		coins = append(coins, sdk.Coin{Denom: m.tokenA.Denom, Amount: amtA})
	}
	if amtB.IsPositive() {
		coins = append(coins, sdk.Coin{Denom: m.tokenB.Denom, Amount: amtB})
	}
	if len(coins) > 0 {
		if err := m.ledger.Transfer(m.account, account, coins...); err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
	}
	return amtA, amtB, nil
}

// reserveWeights returns each constituent's share of the reserve value,
// 1e18-scaled. An empty venue splits evenly.
func (m *Market) reserveWeights() (sdkmath.Int, sdkmath.Int, error) {
	valueA, err := oracle.TokenValue(m.oracle, m.tokenA, m.ledger.Balance(m.account, m.tokenA.Denom))
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	valueB, err := oracle.TokenValue(m.oracle, m.tokenB, m.ledger.Balance(m.account, m.tokenB.Denom))
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	total := valueA.Add(valueB)
	if total.IsZero() {
		half := types.SafeMultiplier.QuoRaw(2)
		return half, half, nil
	}
	weightA := valueA.Mul(types.SafeMultiplier).Quo(total)
	return weightA, types.SafeMultiplier.Sub(weightA), nil
}

func (m *Market) valueToUnits(token types.Token, value sdkmath.Int) (sdkmath.Int, error) {
	if !value.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	price18, err := m.oracle.ConsultIn18Decimals(token.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return token.DenormalizeAmt(value.Mul(types.SafeMultiplier).Quo(price18)), nil
}
