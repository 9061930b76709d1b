package oracle

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/lvm/internal/types"
)

// Feed is one price observation with its freshness window.
type Feed struct {
	Price18   sdkmath.Int // price per whole token, 1e18 scaled
	UpdatedAt time.Time
	MaxDelay  time.Duration // zero means never stale
}

// FeedOracle serves prices from externally pushed feeds and enforces
// staleness. It backs paper mode and the test suite; production deployments
// substitute a chain-backed implementation of the Oracle interface.
type FeedOracle struct {
	mu    sync.Mutex
	feeds map[string]Feed
	now   func() time.Time
}

// NewFeedOracle creates an empty feed oracle using the supplied clock.
func NewFeedOracle(now func() time.Time) *FeedOracle {
	if now == nil {
		now = time.Now
	}
	return &FeedOracle{
		feeds: make(map[string]Feed),
		now:   now,
	}
}

// SetPrice pushes a fresh observation for a denom.
func (o *FeedOracle) SetPrice(denom string, price18 sdkmath.Int, maxDelay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feeds[denom] = Feed{
		Price18:   price18,
		UpdatedAt: o.now(),
		MaxDelay:  maxDelay,
	}
}

// Consult implements Oracle.
func (o *FeedOracle) Consult(denom string) (sdkmath.Int, int, error) {
	price18, err := o.ConsultIn18Decimals(denom)
	if err != nil {
		return sdkmath.ZeroInt(), 0, err
	}
	return price18, 18, nil
}

// ConsultIn18Decimals implements Oracle.
func (o *FeedOracle) ConsultIn18Decimals(denom string) (sdkmath.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	feed, ok := o.feeds[denom]
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrNoPriceFeed, denom)
	}
	if feed.Price18.IsNil() || !feed.Price18.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s price %s", ErrBrokenFeed, denom, feed.Price18)
	}
	if feed.MaxDelay > 0 && o.now().Sub(feed.UpdatedAt) > feed.MaxDelay {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s last updated %s", ErrStaleFeed, denom, feed.UpdatedAt)
	}
	return feed.Price18, nil
}

// TokenValue converts a raw token amount into its USD value (1e18 scaled)
// using the oracle price for the token's denom.
func TokenValue(o Oracle, token types.Token, amt sdkmath.Int) (sdkmath.Int, error) {
	if amt.IsNil() || amt.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	price18, err := o.ConsultIn18Decimals(token.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return token.NormalizeAmt(amt).Mul(price18).Quo(types.SafeMultiplier), nil
}
