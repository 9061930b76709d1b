/*

This file contains the Vault aggregate: it owns the Store, enforces
single-writer mutual exclusion across every mutating entry point, and routes
settlement callbacks from the external venue into the correct operation
continuation. The operation workflows themselves live in deposit.go,
withdraw.go, rebalance.go, compound.go and emergency.go.

*/

package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parallax-fi/lvm/internal/checks"
	"github.com/parallax-fi/lvm/internal/ledger"
	"github.com/parallax-fi/lvm/internal/lending"
	"github.com/parallax-fi/lvm/internal/logger"
	"github.com/parallax-fi/lvm/internal/manager"
	"github.com/parallax-fi/lvm/internal/metrics"
	"github.com/parallax-fi/lvm/internal/oracle"
	"github.com/parallax-fi/lvm/internal/reader"
	"github.com/parallax-fi/lvm/internal/state"
	"github.com/parallax-fi/lvm/internal/swap"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/venue"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidVaultConfig = errors.New("vault configuration is invalid")
	ErrNoVenue            = errors.New("exactly one of SyncVenue or AsyncVenue must be set")
)

// Config holds everything needed to construct a Vault.
type Config struct {
	Store   *types.Store
	Ledger  *ledger.Ledger
	Oracle  oracle.Oracle
	Router  swap.Router
	PoolA   lending.Pool // volatile leg; nil for Long strategy
	PoolB   lending.Pool // stable leg; nil for Short strategy
	Account string       // the vault's custody account on the ledger

	// Exactly one venue must be set; it selects the vault variant.
	SyncVenue  venue.SyncVenue
	AsyncVenue venue.AsyncVenue

	Recorder state.Recorder
	Now      func() time.Time
}

// Vault is one leveraged-yield vault instance.
type Vault struct {
	log zerolog.Logger

	// mu serializes every mutating entry point, callbacks included. The
	// operation caches are singletons; concurrent writers would clobber the
	// in-flight record.
	mu sync.Mutex

	store   *types.Store
	reader  *reader.Reader
	checker *checks.Checker
	manager *manager.Manager
	ledger  *ledger.Ledger
	oracle  oracle.Oracle
	account string

	syncVenue  venue.SyncVenue
	asyncVenue venue.AsyncVenue

	recorder state.Recorder
	now      func() time.Time
}

// New creates a Vault with comprehensive configuration validation.
func New(cfg Config) (*Vault, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidVaultConfig)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: ledger is nil", ErrInvalidVaultConfig)
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("%w: oracle is nil", ErrInvalidVaultConfig)
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("%w: swap router is nil", ErrInvalidVaultConfig)
	}
	if cfg.Account == "" {
		return nil, fmt.Errorf("%w: custody account is empty", ErrInvalidVaultConfig)
	}
	if (cfg.SyncVenue == nil) == (cfg.AsyncVenue == nil) {
		return nil, ErrNoVenue
	}
	if cfg.Recorder == nil {
		cfg.Recorder = state.NoopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var vn venue.Venue
	if cfg.SyncVenue != nil {
		vn = cfg.SyncVenue
	} else {
		vn = cfg.AsyncVenue
	}

	rd, err := reader.New(cfg.Store, cfg.Oracle, cfg.PoolA, cfg.PoolB, vn, cfg.Account)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		log:        logger.GetForComponent("vault"),
		store:      cfg.Store,
		reader:     rd,
		checker:    checks.New(cfg.Store, rd),
		manager:    manager.New(cfg.Store, rd, cfg.Oracle, cfg.Router, cfg.PoolA, cfg.PoolB, cfg.Account, cfg.Now),
		ledger:     cfg.Ledger,
		oracle:     cfg.Oracle,
		account:    cfg.Account,
		syncVenue:  cfg.SyncVenue,
		asyncVenue: cfg.AsyncVenue,
		recorder:   cfg.Recorder,
		now:        cfg.Now,
	}

	v.log.Info().
		Str("account", v.account).
		Str("strategy", string(cfg.Store.Params.DeltaStrategy)).
		Bool("async", cfg.AsyncVenue != nil).
		Msg("Vault initialized")

	return v, nil
}

// Reader exposes the derived-metrics reader for the web layer and keeper.
func (v *Vault) Reader() *reader.Reader {
	return v.reader
}

// Params returns a copy of the vault's risk parameters.
func (v *Vault) Params() types.RiskParameters {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.Params
}

// Status returns the current lifecycle status.
func (v *Vault) Status() types.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.Status
}

// ShareBalance returns the share balance of one account.
func (v *Vault) ShareBalance(account string) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.ShareBalance(account)
}

// TotalShares returns the current total share supply.
func (v *Vault) TotalShares() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.TotalShares
}

// CollectManagementFee mints the accrued management fee to the treasury.
// Refused while the vault is paused or closed.
func (v *Vault) CollectManagementFee(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checker.BeforeFeeCollection(); err != nil {
		return err
	}
	v.mintFee()
	return nil
}

// mintFee mints the pending management fee to the treasury and restarts the
// accrual window. Callers hold the lock.
func (v *Vault) mintFee() {
	now := v.now()
	pending := v.reader.PendingFee(now)
	if pending.IsPositive() {
		v.store.MintShares(v.store.Params.Treasury, pending)
		v.log.Debug().Str("fee", pending.String()).Msg("Minted management fee")
	}
	v.store.LastFeeCollected = now
}

// snapshot captures the current health metrics. Callers hold the lock.
func (v *Vault) snapshot(ctx context.Context) (reader.HealthSnapshot, error) {
	return v.reader.Snapshot(ctx, v.now())
}

// healthBefore seeds a HealthParams record from the pre-operation snapshot.
func healthBefore(snap reader.HealthSnapshot) types.HealthParams {
	return types.HealthParams{
		EquityBefore:       snap.Equity,
		DebtRatioBefore:    snap.DebtRatio,
		DeltaBefore:        snap.Delta,
		LpAmtBefore:        snap.LpAmt,
		SvTokenValueBefore: snap.SvTokenValue,
		EquityAfter:        sdkmath.ZeroInt(),
		DebtRatioAfter:     sdkmath.ZeroInt(),
		DeltaAfter:         sdkmath.ZeroInt(),
		LpAmtAfter:         sdkmath.ZeroInt(),
		SvTokenValueAfter:  sdkmath.ZeroInt(),
	}
}

// fillHealthAfter completes a HealthParams record with the post-settlement
// snapshot.
func fillHealthAfter(health *types.HealthParams, snap reader.HealthSnapshot) {
	health.EquityAfter = snap.Equity
	health.DebtRatioAfter = snap.DebtRatio
	health.DeltaAfter = snap.Delta
	health.LpAmtAfter = snap.LpAmt
	health.SvTokenValueAfter = snap.SvTokenValue
}

// finishOperation returns the vault to Open, or applies a pause that was
// queued while the operation was in flight. Callers hold the lock.
func (v *Vault) finishOperation() {
	if v.store.QueuedPause {
		v.store.QueuedPause = false
		v.store.Status = types.StatusPaused
		v.log.Warn().Msg("Applied queued pause after operation settled")
		return
	}
	v.store.Status = types.StatusOpen
}

// record writes one journal row; journal failures are logged, never fatal.
func (v *Vault) record(operation, outcome string, from, to types.Status, requestKey, account, detail string, health types.HealthParams) {
	metrics.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	err := v.recorder.RecordOperation(state.OperationRecord{
		OperationID:     uuid.NewString(),
		Operation:       operation,
		StatusFrom:      from.String(),
		StatusTo:        to.String(),
		RequestKey:      requestKey,
		Account:         account,
		Detail:          detail,
		EquityBefore:    health.EquityBefore,
		EquityAfter:     health.EquityAfter,
		DebtRatioBefore: health.DebtRatioBefore,
		DebtRatioAfter:  health.DebtRatioAfter,
		Timestamp:       v.now(),
	})
	if err != nil {
		v.log.Error().Err(err).Str("operation", operation).Msg("Failed to journal operation")
	}
}

// valueToUnits converts a 1e18 USD value into raw units of one token at the
// current oracle price.
func (v *Vault) valueToUnits(token types.Token, value sdkmath.Int) (sdkmath.Int, error) {
	if value.IsNil() || !value.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	price18, err := v.oracle.ConsultIn18Decimals(token.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return token.DenormalizeAmt(value.Mul(types.SafeMultiplier).Quo(price18)), nil
}

// applySlippageFloor reduces an expected output by a basis-point tolerance.
func applySlippageFloor(expected, slippageBps sdkmath.Int) sdkmath.Int {
	return expected.Mul(types.BasisPointsDivisor.Sub(slippageBps)).Quo(types.BasisPointsDivisor)
}

// minPositionOut computes the venue add-liquidity floor: the oracle value of
// the constituents converted to position units, less the operation slippage.
func (v *Vault) minPositionOut(tokenAAmt, tokenBAmt, slippageBps sdkmath.Int) (sdkmath.Int, error) {
	valueA, err := oracle.TokenValue(v.oracle, v.store.TokenA, tokenAAmt)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	valueB, err := oracle.TokenValue(v.oracle, v.store.TokenB, tokenBAmt)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	expected, err := v.valueToUnits(v.store.PositionToken, valueA.Add(valueB))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return applySlippageFloor(expected, slippageBps), nil
}

// minConstituentsOut computes the venue remove-liquidity floors: the oracle
// value of the position split by the current pool weights, less slippage.
func (v *Vault) minConstituentsOut(ctx context.Context, lpAmt, slippageBps sdkmath.Int) (minA, minB sdkmath.Int, err error) {
	value, err := oracle.TokenValue(v.oracle, v.store.PositionToken, lpAmt)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	weightA, weightB, err := v.reader.TokenWeights(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	expectedA, err := v.valueToUnits(v.store.TokenA, value.Mul(weightA).Quo(types.SafeMultiplier))
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	expectedB, err := v.valueToUnits(v.store.TokenB, value.Mul(weightB).Quo(types.SafeMultiplier))
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	return applySlippageFloor(expectedA, slippageBps), applySlippageFloor(expectedB, slippageBps), nil
}

// coverDeficit tops custody of token up to needed by swapping from the other
// constituent leg. No-op when custody already suffices.
func (v *Vault) coverDeficit(ctx context.Context, token, other types.Token, needed sdkmath.Int) error {
	held := v.custodyBalance(token.Denom)
	if held.GTE(needed) {
		return nil
	}
	deficit := needed.Sub(held)
	_, err := v.manager.SwapTokensForExactTokens(ctx, other, token, deficit)
	return err
}

// custodyCoin is a convenience constructor for ledger transfers.
func custodyCoin(denom string, amt sdkmath.Int) sdk.Coin {
	return sdk.Coin{Denom: denom, Amount: amt}
}

// custodyBalance returns the vault's own balance of one denom.
func (v *Vault) custodyBalance(denom string) sdkmath.Int {
	return v.ledger.Balance(v.account, denom)
}
