package venue

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownRequest    = errors.New("request key is unknown to the venue")
	ErrRequestNotPending = errors.New("request is no longer pending")
	ErrSlippageExceeded  = errors.New("venue output is below the requested minimum")
)

// Venue is the external liquidity venue holding the vault's yield-bearing
// position. Reserves exposes the pool composition used for weight math.
type Venue interface {
	// Reserves returns the venue's current holdings of the two constituent
	// tokens, raw units.
	Reserves(ctx context.Context) (tokenAAmt, tokenBAmt sdkmath.Int, err error)
}

// SyncVenue settles liquidity changes within the calling operation. Used by
// the synchronous vault variant.
type SyncVenue interface {
	Venue

	// AddLiquidity deposits the given constituent amounts from the account's
	// custody and returns the position units received.
	AddLiquidity(ctx context.Context, account string, tokenAAmt, tokenBAmt, minLpAmt sdkmath.Int) (lpAmt sdkmath.Int, err error)

	// RemoveLiquidity burns lpAmt position units from the account's custody
	// and returns the constituent amounts received.
	RemoveLiquidity(ctx context.Context, account string, lpAmt, minTokenAAmt, minTokenBAmt sdkmath.Int) (tokenAAmt, tokenBAmt sdkmath.Int, err error)
}

// AsyncVenue settles liquidity changes asynchronously: a request is accepted
// and keyed, value leaves custody immediately, and settlement or cancellation
// arrives later through an out-of-band callback carrying the request key.
// Used by the asynchronous vault variant.
type AsyncVenue interface {
	Venue

	// RequestAddLiquidity submits an add-liquidity request and returns its
	// correlation key. The constituents leave the account's custody now.
	RequestAddLiquidity(ctx context.Context, account string, tokenAAmt, tokenBAmt, minLpAmt sdkmath.Int) (requestKey string, err error)

	// RequestRemoveLiquidity submits a remove-liquidity request and returns
	// its correlation key. The position units leave custody now.
	RequestRemoveLiquidity(ctx context.Context, account string, lpAmt, minTokenAAmt, minTokenBAmt sdkmath.Int) (requestKey string, err error)
}

// AddSettlement is the payload of an add-liquidity settlement callback.
type AddSettlement struct {
	RequestKey string
	LpAmt      sdkmath.Int
}

// RemoveSettlement is the payload of a remove-liquidity settlement callback.
type RemoveSettlement struct {
	RequestKey string
	TokenAAmt  sdkmath.Int
	TokenBAmt  sdkmath.Int
}
