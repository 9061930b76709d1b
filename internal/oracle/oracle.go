package oracle

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling. The core propagates
// these as hard failures; it never falls back to a cached or guessed price.
var (
	ErrNoPriceFeed = errors.New("no price feed configured for token")
	ErrStaleFeed   = errors.New("price feed is stale")
	ErrBrokenFeed  = errors.New("price feed returned an invalid answer")
)

// Oracle converts token quantities to USD-denominated values. Implementations
// are external collaborators; the core only depends on this contract.
type Oracle interface {
	// Consult returns the current price of one whole token together with the
	// number of decimals the price is scaled by.
	Consult(denom string) (price sdkmath.Int, decimals int, err error)

	// ConsultIn18Decimals returns the current price normalized to the
	// 18-decimal accounting base.
	ConsultIn18Decimals(denom string) (sdkmath.Int, error)
}
