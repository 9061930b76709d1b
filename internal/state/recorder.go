/*

This file contains the operation journal: one row per state-machine
transition plus periodic health snapshots. The journal is advisory — the
vault logs recording failures but never fails an operation over them.

*/

package state

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/lvm/internal/logger"
)

// OperationRecord describes one state-machine transition.
type OperationRecord struct {
	OperationID     string // uuid grouping all transitions of one saga
	Operation       string // deposit / withdraw / rebalance / compound / emergency
	StatusFrom      string
	StatusTo        string
	RequestKey      string
	Account         string
	Detail          string
	EquityBefore    sdkmath.Int
	EquityAfter     sdkmath.Int
	DebtRatioBefore sdkmath.Int
	DebtRatioAfter  sdkmath.Int
	Timestamp       time.Time
}

// HealthRecord is a periodic snapshot of the derived accounting metrics.
type HealthRecord struct {
	Equity     sdkmath.Int
	DebtRatio  sdkmath.Int
	Delta      sdkmath.Int
	LpAmt      sdkmath.Int
	ShareValue sdkmath.Int
	Timestamp  time.Time
}

// Recorder persists operations and health snapshots.
type Recorder interface {
	RecordOperation(rec OperationRecord) error
	RecordHealth(rec HealthRecord) error
}

// PostgresRecorder writes to the global DB pool.
type PostgresRecorder struct{}

// NewPostgresRecorder requires InitDB and EnsureSchema to have run.
func NewPostgresRecorder() (*PostgresRecorder, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return &PostgresRecorder{}, nil
}

// RecordOperation implements Recorder.
func (p *PostgresRecorder) RecordOperation(rec OperationRecord) error {
	_, err := DB.Exec(`
		INSERT INTO operation_journal
			(operation_id, operation, status_from, status_to, request_key, account, detail,
			 equity_before, equity_after, debt_ratio_before, debt_ratio_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.OperationID, rec.Operation, rec.StatusFrom, rec.StatusTo, rec.RequestKey,
		rec.Account, rec.Detail,
		intOrNil(rec.EquityBefore), intOrNil(rec.EquityAfter),
		intOrNil(rec.DebtRatioBefore), intOrNil(rec.DebtRatioAfter),
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation record: %w", err)
	}
	return nil
}

// RecordHealth implements Recorder.
func (p *PostgresRecorder) RecordHealth(rec HealthRecord) error {
	_, err := DB.Exec(`
		INSERT INTO health_snapshots (equity, debt_ratio, delta, lp_amt, share_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		intOrNil(rec.Equity), intOrNil(rec.DebtRatio), intOrNil(rec.Delta),
		intOrNil(rec.LpAmt), intOrNil(rec.ShareValue), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert health snapshot: %w", err)
	}
	return nil
}

// NoopRecorder discards all records; used in tests and paper mode without a
// database.
type NoopRecorder struct{}

// RecordOperation implements Recorder.
func (NoopRecorder) RecordOperation(OperationRecord) error { return nil }

// RecordHealth implements Recorder.
func (NoopRecorder) RecordHealth(HealthRecord) error { return nil }

// LoggingRecorder mirrors records into the structured log; useful stacked in
// front of NoopRecorder when running without postgres.
type LoggingRecorder struct{}

// RecordOperation implements Recorder.
func (LoggingRecorder) RecordOperation(rec OperationRecord) error {
	lg := logger.GetForComponent("journal")
	lg.Info().
		Str("operationId", rec.OperationID).
		Str("operation", rec.Operation).
		Str("statusFrom", rec.StatusFrom).
		Str("statusTo", rec.StatusTo).
		Str("requestKey", rec.RequestKey).
		Str("account", rec.Account).
		Str("detail", rec.Detail).
		Msg("Operation transition")
	return nil
}

// RecordHealth implements Recorder.
func (LoggingRecorder) RecordHealth(rec HealthRecord) error {
	lg := logger.GetForComponent("journal")
	lg.Debug().
		Str("equity", rec.Equity.String()).
		Str("debtRatio", rec.DebtRatio.String()).
		Msg("Health snapshot")
	return nil
}

func intOrNil(v sdkmath.Int) interface{} {
	if v.IsNil() {
		return nil
	}
	return v.String()
}
