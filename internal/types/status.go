package types

// Status is the lifecycle phase of a vault. Every mutating operation is
// gated on the current status; Open is the only status from which a new
// top-level operation may begin.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusDeposit         Status = "DEPOSIT"
	StatusDepositFailed   Status = "DEPOSIT_FAILED"
	StatusWithdraw        Status = "WITHDRAW"
	StatusWithdrawFailed  Status = "WITHDRAW_FAILED"
	StatusRebalanceAdd    Status = "REBALANCE_ADD"
	StatusRebalanceRemove Status = "REBALANCE_REMOVE"
	StatusRebalanceOpen   Status = "REBALANCE_OPEN"
	StatusCompound        Status = "COMPOUND"
	StatusPaused          Status = "PAUSED"
	StatusRepay           Status = "REPAY"
	StatusRepaid          Status = "REPAID"
	StatusResume          Status = "RESUME"
	StatusClosed          Status = "CLOSED"
)

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// InFlight reports whether an asynchronous operation is currently awaiting
// settlement from the external venue. A pause requested while in flight is
// queued and applied when the operation completes.
func (s Status) InFlight() bool {
	switch s {
	case StatusDeposit, StatusWithdraw, StatusRebalanceAdd, StatusRebalanceRemove,
		StatusCompound, StatusRepay, StatusResume:
		return true
	}
	return false
}

// RebalanceType selects which out-of-band metric a rebalance is correcting.
type RebalanceType string

const (
	RebalanceTypeDelta RebalanceType = "DELTA"
	RebalanceTypeDebt  RebalanceType = "DEBT"
)

// DeltaStrategy is the vault's directional exposure target.
type DeltaStrategy string

const (
	DeltaStrategyNeutral DeltaStrategy = "NEUTRAL"
	DeltaStrategyLong    DeltaStrategy = "LONG"
	DeltaStrategyShort   DeltaStrategy = "SHORT"
)
