package types

import "errors"

// Error definitions for zero-tolerance error handling. Every guard failure
// is a distinct condition so off-system tooling can react deterministically.
var (
	// Configuration
	ErrInvalidTokenConfig    = errors.New("token configuration is invalid")
	ErrInvalidRiskParameters = errors.New("risk parameters are invalid")

	// Status machine
	ErrNotAllowedInCurrentStatus = errors.New("operation not allowed in current vault status")
	ErrStaleCallback             = errors.New("callback request key does not match pending operation")
	ErrInvalidCallbackStatus     = errors.New("callback not expected in current vault status")

	// Deposit guards
	ErrInvalidDepositToken      = errors.New("deposit token is not accepted by this vault")
	ErrEmptyDepositAmount       = errors.New("deposit amount is zero")
	ErrInsufficientDepositValue = errors.New("deposit value is below the vault minimum")
	ErrExcessiveDepositValue    = errors.New("deposit value is above the vault maximum")
	ErrInsufficientCapacity     = errors.New("deposit value exceeds additional lending capacity")
	ErrInsufficientSharesMinted = errors.New("shares minted are below the requested minimum")

	// Withdraw guards
	ErrEmptyShareAmount           = errors.New("share amount is zero")
	ErrInsufficientShareBalance   = errors.New("share amount exceeds caller balance")
	ErrInsufficientWithdrawValue  = errors.New("withdraw value is below the vault minimum")
	ErrExcessiveWithdrawValue     = errors.New("withdraw value is above the vault maximum")
	ErrInsufficientAssetsReceived = errors.New("assets received are below the requested minimum")

	// Shared guards
	ErrInvalidSlippage          = errors.New("slippage is below the vault slippage floor")
	ErrInvalidLpAmountChange    = errors.New("position quantity did not move in the required direction")
	ErrInvalidEquityChange      = errors.New("equity did not move in the required direction")
	ErrExcessiveDebtRatioChange = errors.New("debt ratio moved beyond the step-change threshold")

	// Rebalance guards
	ErrRebalanceNotNeeded  = errors.New("rebalance preconditions not met: metrics are within limits")
	ErrDebtRatioOutOfRange = errors.New("debt ratio is outside the configured limits")
	ErrDeltaOutOfRange     = errors.New("delta is outside the configured limits")

	// Reader arithmetic
	ErrZeroShareSupply         = errors.New("share supply plus pending fee is zero")
	ErrCapacityWeightUnderflow = errors.New("pool weight too low for configured leverage: capacity denominator underflows")
	ErrZeroEquity              = errors.New("equity value is zero")

	// Emergency
	ErrPauseAlreadyQueued  = errors.New("pause is already queued for the in-flight operation")
	ErrVaultNotClosed      = errors.New("emergency withdrawals require a closed vault")
	ErrFeeCollectionPaused = errors.New("fee collection is not allowed while paused or closed")
)
