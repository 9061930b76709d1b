package swap

import (
	"context"
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrSlippageExceeded = errors.New("swap output is below the requested minimum")
	ErrExcessiveInput   = errors.New("swap input exceeds the permitted maximum")
	ErrDeadlineExceeded = errors.New("swap deadline has passed")
	ErrUnsupportedPair  = errors.New("swap pair is not supported")
)

// Router executes swaps against an external venue on behalf of an account.
// Unused input is returned to the account. Pool-specific routing logic lives
// behind this interface and is out of scope for the core.
type Router interface {
	// SwapExactIn swaps exactly amountIn of denomIn, failing if fewer than
	// minAmountOut units of denomOut would be received.
	SwapExactIn(ctx context.Context, account, denomIn, denomOut string, amountIn, minAmountOut sdkmath.Int, deadline time.Time) (amountOut sdkmath.Int, err error)

	// SwapExactOut swaps for exactly amountOut of denomOut, failing if more
	// than maxAmountIn units of denomIn would be consumed.
	SwapExactOut(ctx context.Context, account, denomIn, denomOut string, amountOut, maxAmountIn sdkmath.Int, deadline time.Time) (amountIn sdkmath.Int, err error)
}
