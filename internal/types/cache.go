package types

import (
	sdkmath "cosmossdk.io/math"
)

// HealthParams is a snapshot of the accounting metrics taken once at
// operation start ("before") and once at settlement ("after"). The before
// snapshot is captured exactly once and never recomputed mid-flow.
type HealthParams struct {
	EquityBefore       sdkmath.Int `json:"equity_before"`
	EquityAfter        sdkmath.Int `json:"equity_after"`
	DebtRatioBefore    sdkmath.Int `json:"debt_ratio_before"`
	DebtRatioAfter     sdkmath.Int `json:"debt_ratio_after"`
	DeltaBefore        sdkmath.Int `json:"delta_before"`
	DeltaAfter         sdkmath.Int `json:"delta_after"`
	LpAmtBefore        sdkmath.Int `json:"lp_amt_before"`
	LpAmtAfter         sdkmath.Int `json:"lp_amt_after"`
	SvTokenValueBefore sdkmath.Int `json:"sv_token_value_before"`
	SvTokenValueAfter  sdkmath.Int `json:"sv_token_value_after"`
}

// DepositCache is the scratch record for an in-flight deposit. Only one is
// live at a time; it is overwritten at the start of the next deposit.
type DepositCache struct {
	User         string      `json:"user"`
	DepositDenom string      `json:"deposit_denom"`
	DepositAmt   sdkmath.Int `json:"deposit_amt"`   // raw units of DepositDenom
	DepositValue sdkmath.Int `json:"deposit_value"` // USD, 1e18
	MinSharesAmt sdkmath.Int `json:"min_shares_amt"`
	Slippage     sdkmath.Int `json:"slippage"` // basis points

	// Amounts borrowed for this deposit, raw units, needed for rollback.
	BorrowTokenAAmt sdkmath.Int `json:"borrow_token_a_amt"`
	BorrowTokenBAmt sdkmath.Int `json:"borrow_token_b_amt"`

	// Amounts of each constituent sent to the venue.
	TokenAAmt sdkmath.Int `json:"token_a_amt"`
	TokenBAmt sdkmath.Int `json:"token_b_amt"`

	// LpAmtReceived is recorded at settlement so the failure path knows how
	// much position to unwind.
	LpAmtReceived sdkmath.Int `json:"lp_amt_received"`

	RequestKey string       `json:"request_key"`
	Health     HealthParams `json:"health"`
}

// WithdrawCache is the scratch record for an in-flight withdrawal.
type WithdrawCache struct {
	User          string      `json:"user"`
	ShareAmt      sdkmath.Int `json:"share_amt"`
	ShareRatio    sdkmath.Int `json:"share_ratio"` // 1e18
	LpAmtToRemove sdkmath.Int `json:"lp_amt_to_remove"`
	WithdrawValue sdkmath.Int `json:"withdraw_value"` // USD, 1e18
	WithdrawDenom string      `json:"withdraw_denom"`
	MinAssetsAmt  sdkmath.Int `json:"min_assets_amt"` // raw units of WithdrawDenom
	Slippage      sdkmath.Int `json:"slippage"`       // basis points

	// Settlement proceeds from the venue, raw units.
	TokenAReceived sdkmath.Int `json:"token_a_received"`
	TokenBReceived sdkmath.Int `json:"token_b_received"`
	// Repay legs executed at settlement, needed by the failure path to
	// re-borrow when the forward action has to be unwound.
	RepayTokenAAmt sdkmath.Int `json:"repay_token_a_amt"`
	RepayTokenBAmt sdkmath.Int `json:"repay_token_b_amt"`
	// AssetsToUser is what the user was (or will be) paid out.
	AssetsToUser sdkmath.Int `json:"assets_to_user"`

	RequestKey string       `json:"request_key"`
	Health     HealthParams `json:"health"`
}

// RebalanceCache is the scratch record for an in-flight rebalance.
type RebalanceCache struct {
	RebalanceType RebalanceType `json:"rebalance_type"`

	// Add leg: amounts borrowed and sent to the venue.
	BorrowTokenAAmt sdkmath.Int `json:"borrow_token_a_amt"`
	BorrowTokenBAmt sdkmath.Int `json:"borrow_token_b_amt"`
	// Remove leg: position quantity being unwound.
	LpAmtToRemove sdkmath.Int `json:"lp_amt_to_remove"`

	RequestKey string       `json:"request_key"`
	Health     HealthParams `json:"health"`
}

// EmergencyCache is the scratch record for the emergency recovery
// sub-machine (repay / resume legs).
type EmergencyCache struct {
	LpAmtRemoved    sdkmath.Int `json:"lp_amt_removed"`
	RepaidTokenAAmt sdkmath.Int `json:"repaid_token_a_amt"`
	RepaidTokenBAmt sdkmath.Int `json:"repaid_token_b_amt"`

	RequestKey string `json:"request_key"`
}

// CompoundCache is the scratch record for an in-flight compound.
type CompoundCache struct {
	DepositValue sdkmath.Int `json:"deposit_value"` // USD, 1e18
	TokenAAmt    sdkmath.Int `json:"token_a_amt"`
	TokenBAmt    sdkmath.Int `json:"token_b_amt"`

	RequestKey string       `json:"request_key"`
	Health     HealthParams `json:"health"`
}
