package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcomes for the operations counter.
const (
	OutcomeAccepted  = "accepted"
	OutcomeSettled   = "settled"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeRecovered = "recovered"
)

var (
	// OperationsTotal counts vault operations by kind and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lvm_operations_total",
		Help: "Vault operations by operation kind and outcome.",
	}, []string{"operation", "outcome"})

	// VaultEquity is the current equity value in USD.
	VaultEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lvm_vault_equity_usd",
		Help: "Current vault equity value, USD.",
	})

	// VaultDebtRatio is the current debt ratio.
	VaultDebtRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lvm_vault_debt_ratio",
		Help: "Current vault debt ratio.",
	})

	// VaultDelta is the current signed delta exposure.
	VaultDelta = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lvm_vault_delta",
		Help: "Current vault delta exposure.",
	})

	// VaultLeverage is the current effective leverage.
	VaultLeverage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lvm_vault_leverage",
		Help: "Current vault leverage.",
	})

	// VaultShareValue is the current equity per share.
	VaultShareValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lvm_vault_share_value_usd",
		Help: "Current vault share value, USD.",
	})
)
