package lending

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInsufficientLiquidity = errors.New("lending pool has insufficient available liquidity")
	ErrRepayExceedsDebt      = errors.New("repay amount exceeds outstanding debt")
)

// Pool is the lending-side collaborator for one borrow token. Interest
// accrual is the pool's own concern; the core computes debt exclusively from
// MaxRepay.
type Pool interface {
	// Denom returns the denom this pool lends.
	Denom() string

	// Borrow draws amt from the pool into the borrower's custody.
	Borrow(ctx context.Context, borrower string, amt sdkmath.Int) error

	// Repay returns amt from the borrower's custody to the pool.
	Repay(ctx context.Context, borrower string, amt sdkmath.Int) error

	// MaxRepay returns the borrower's current outstanding debt, interest
	// included.
	MaxRepay(ctx context.Context, borrower string) (sdkmath.Int, error)

	// TotalAvailableAsset returns the liquidity still available to borrow.
	TotalAvailableAsset(ctx context.Context) (sdkmath.Int, error)
}
