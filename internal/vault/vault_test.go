package vault_test

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/parallax-fi/lvm/internal/ledger"
	"github.com/parallax-fi/lvm/internal/oracle"
	"github.com/parallax-fi/lvm/internal/sim"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/vault"
	"github.com/parallax-fi/lvm/internal/venue"
)

var (
	tokenA        = types.Token{Symbol: "WATOM", Denom: "uwatom", Decimals: 6}
	tokenB        = types.Token{Symbol: "USDC", Denom: "uusdc", Decimals: 6}
	positionToken = types.Token{Symbol: "LVLP", Denom: "ulvlp", Decimals: 18}
	nativeToken   = types.Token{Symbol: "ATOM", Denom: "uatom", Decimals: 6}
	rewardToken   = types.Token{Symbol: "REW", Denom: "urew", Decimals: 6}
)

const (
	userAccount     = "user1"
	vaultAccount    = "vault"
	treasuryAccount = "treasury"
	marketAccount   = "sim_market"
	routerAccount   = "sim_router"
	poolAAccount    = "sim_pool_a"
	poolBAccount    = "sim_pool_b"
)

// Prices: WATOM $10, USDC $1, LVLP $1, ATOM $10, REW $0.10. All venue and
// router fees are zero so settlement arithmetic is exact.
func setPrices(feed *oracle.FeedOracle) {
	feed.SetPrice(tokenA.Denom, sdkmath.NewInt(10).Mul(types.SafeMultiplier), 24*time.Hour)
	feed.SetPrice(tokenB.Denom, types.SafeMultiplier, 24*time.Hour)
	feed.SetPrice(positionToken.Denom, types.SafeMultiplier, 24*time.Hour)
	feed.SetPrice(nativeToken.Denom, sdkmath.NewInt(10).Mul(types.SafeMultiplier), 24*time.Hour)
	feed.SetPrice(rewardToken.Denom, types.SafeMultiplier.QuoRaw(10), 24*time.Hour)
}

func testParams(strategy types.DeltaStrategy) types.RiskParameters {
	return types.RiskParameters{
		Leverage:               sdkmath.NewInt(3).Mul(types.SafeMultiplier),
		DeltaStrategy:          strategy,
		DebtRatioStepThreshold: sdkmath.NewInt(300),
		DebtRatioUpperLimit:    sdkmath.NewInt(75).Mul(types.SafeMultiplier).QuoRaw(100),
		DebtRatioLowerLimit:    sdkmath.NewInt(58).Mul(types.SafeMultiplier).QuoRaw(100),
		DeltaUpperLimit:        types.SafeMultiplier.QuoRaw(20),
		DeltaLowerLimit:        types.SafeMultiplier.QuoRaw(20).Neg(),
		MinVaultSlippage:       sdkmath.NewInt(10),
		SwapSlippage:           sdkmath.NewInt(100),
		MinAssetValue:          sdkmath.NewInt(10).Mul(types.SafeMultiplier),
		MaxAssetValue:          sdkmath.NewInt(100_000).Mul(types.SafeMultiplier),
		FeePerSecond:           sdkmath.ZeroInt(),
		Treasury:               treasuryAccount,
	}
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	ledger *ledger.Ledger
	feed   *oracle.FeedOracle
	market *sim.Market
	poolA  *sim.LendingPool
	poolB  *sim.LendingPool
	vault  *vault.Vault
	driver *sim.Driver
	now    time.Time
}

func newFixture(t *testing.T, strategy types.DeltaStrategy, async bool, mutate func(*types.RiskParameters)) *fixture {
	t.Helper()

	f := &fixture{
		t:   t,
		ctx: context.Background(),
		now: time.Unix(1_700_000_000, 0),
	}
	nowFn := func() time.Time { return f.now }

	f.ledger = ledger.New()
	f.feed = oracle.NewFeedOracle(nowFn)
	setPrices(f.feed)

	router := sim.NewRouter(f.ledger, f.feed, routerAccount, sdkmath.ZeroInt(), nowFn)
	for _, tok := range []types.Token{tokenA, tokenB, rewardToken} {
		router.RegisterToken(tok)
	}

	f.market = sim.NewMarket(f.ledger, f.feed, tokenA, tokenB, positionToken, marketAccount, sdkmath.ZeroInt())

	var poolA, poolB *sim.LendingPool
	switch strategy {
	case types.DeltaStrategyLong:
		poolB = sim.NewLendingPool(f.ledger, tokenB, poolBAccount, sdkmath.ZeroInt())
	case types.DeltaStrategyShort:
		poolA = sim.NewLendingPool(f.ledger, tokenA, poolAAccount, sdkmath.ZeroInt())
	default:
		poolA = sim.NewLendingPool(f.ledger, tokenA, poolAAccount, sdkmath.ZeroInt())
		poolB = sim.NewLendingPool(f.ledger, tokenB, poolBAccount, sdkmath.ZeroInt())
	}
	f.poolA = poolA
	f.poolB = poolB

	// Seed balances: $1M of each reserve leg in the venue (equal value so
	// the token weights divide evenly), $10M of lending liquidity per leg,
	// deep router inventory, and a funded user.
	seed := func(account, denom string, amt int64) {
		require.NoError(t, f.ledger.Mint(account, sdk.Coin{Denom: denom, Amount: sdkmath.NewInt(amt)}))
	}
	if strategy != types.DeltaStrategyLong {
		seed(marketAccount, tokenA.Denom, 100_000_000_000) // 100k WATOM
	}
	if strategy != types.DeltaStrategyShort {
		seed(marketAccount, tokenB.Denom, 1_000_000_000_000) // 1M USDC
	}
	if poolA != nil {
		seed(poolAAccount, tokenA.Denom, 1_000_000_000_000) // 1M WATOM
	}
	if poolB != nil {
		seed(poolBAccount, tokenB.Denom, 10_000_000_000_000) // 10M USDC
	}
	seed(routerAccount, tokenA.Denom, 1_000_000_000_000)
	seed(routerAccount, tokenB.Denom, 10_000_000_000_000)
	seed(userAccount, tokenB.Denom, 1_000_000_000_000)
	seed(userAccount, tokenA.Denom, 100_000_000_000)
	seed(userAccount, nativeToken.Denom, 100_000_000_000)

	params := testParams(strategy)
	if mutate != nil {
		mutate(&params)
	}
	store, err := types.NewStore(params, tokenA, tokenB, positionToken, nativeToken, rewardToken, f.now)
	require.NoError(t, err)

	cfg := vault.Config{
		Store:   store,
		Ledger:  f.ledger,
		Oracle:  f.feed,
		Router:  router,
		Account: vaultAccount,
		Now:     nowFn,
	}
	if poolA != nil {
		cfg.PoolA = poolA
	}
	if poolB != nil {
		cfg.PoolB = poolB
	}
	if async {
		cfg.AsyncVenue = f.market
	} else {
		cfg.SyncVenue = f.market
	}

	f.vault, err = vault.New(cfg)
	require.NoError(t, err)
	if async {
		f.driver = sim.NewDriver(f.market, f.vault)
	}
	return f
}

// settle delivers the oldest pending venue settlement to the vault.
func (f *fixture) settle() {
	f.t.Helper()
	require.NoError(f.t, f.driver.Tick(f.ctx))
}

func (f *fixture) pendingKey() string {
	f.t.Helper()
	key, ok := f.market.NextPending()
	require.True(f.t, ok, "expected a pending venue request")
	return key
}

func (f *fixture) balance(account, denom string) sdkmath.Int {
	return f.ledger.Balance(account, denom)
}

func (f *fixture) snapshot() vaultSnapshot {
	f.t.Helper()
	snap, err := f.vault.Reader().Snapshot(f.ctx, f.now)
	require.NoError(f.t, err)
	return vaultSnapshot{snap.Equity, snap.DebtRatio, snap.Delta, snap.LpAmt, snap.SvTokenValue}
}

type vaultSnapshot struct {
	Equity       sdkmath.Int
	DebtRatio    sdkmath.Int
	Delta        sdkmath.Int
	LpAmt        sdkmath.Int
	SvTokenValue sdkmath.Int
}

// deposit runs a $1000 USDC deposit with loose bounds.
func (f *fixture) deposit() {
	f.t.Helper()
	err := f.vault.Deposit(f.ctx, userAccount, tokenB.Denom,
		sdkmath.NewInt(1_000_000_000), sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.NoError(f.t, err)
}

func usd(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(types.SafeMultiplier)
}

func TestDepositLifecycle(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)

	f.deposit()
	require.Equal(t, types.StatusDeposit, f.vault.Status())

	// The deposit and the borrowed legs are escrowed: the user parted with
	// $1000 USDC, the vault borrowed 150 WATOM and 500 USDC.
	require.Equal(t, sdkmath.NewInt(999_000_000_000), f.balance(userAccount, tokenB.Denom))
	debtA, err := f.poolA.MaxRepay(f.ctx, vaultAccount)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(150_000_000), debtA)
	debtB, err := f.poolB.MaxRepay(f.ctx, vaultAccount)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(500_000_000), debtB)

	f.settle()
	require.Equal(t, types.StatusOpen, f.vault.Status())

	// $3000 position at $1/unit, $2000 debt, $1000 equity.
	snap := f.snapshot()
	require.Equal(t, usd(1000), snap.Equity)
	require.Equal(t, sdkmath.NewInt(666_666_666_666_666_666), snap.DebtRatio)
	require.True(t, snap.Delta.IsZero())
	require.Equal(t, usd(3000), snap.LpAmt)
	require.Equal(t, types.SafeMultiplier, snap.SvTokenValue)

	// Bootstrap deposit mints shares 1:1 with contributed equity.
	require.Equal(t, usd(1000), f.vault.ShareBalance(userAccount))
	require.Equal(t, usd(1000), f.vault.TotalShares())

	leverage, err := f.vault.Reader().Leverage(f.ctx)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(3).Mul(types.SafeMultiplier), leverage)
}

func TestSecondDepositPreservesShareValue(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)

	f.deposit()
	f.settle()
	f.deposit()
	f.settle()

	require.Equal(t, types.StatusOpen, f.vault.Status())
	require.Equal(t, usd(2000), f.vault.ShareBalance(userAccount))

	snap := f.snapshot()
	require.Equal(t, usd(2000), snap.Equity)
	require.Equal(t, types.SafeMultiplier, snap.SvTokenValue)
	require.Equal(t, usd(6000), snap.LpAmt)
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)

	err := f.vault.Deposit(f.ctx, userAccount, "ufoo", sdkmath.NewInt(1_000_000),
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrInvalidDepositToken)

	err = f.vault.Deposit(f.ctx, userAccount, tokenB.Denom, sdkmath.ZeroInt(),
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrEmptyDepositAmount)

	// $1 is below the $10 floor.
	err = f.vault.Deposit(f.ctx, userAccount, tokenB.Denom, sdkmath.NewInt(1_000_000),
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrInsufficientDepositValue)

	// Slippage below the configured floor.
	err = f.vault.Deposit(f.ctx, userAccount, tokenB.Denom, sdkmath.NewInt(1_000_000_000),
		sdkmath.ZeroInt(), sdkmath.NewInt(1))
	require.ErrorIs(t, err, types.ErrInvalidSlippage)

	// A second operation while one is in flight is refused.
	f.deposit()
	err = f.vault.Deposit(f.ctx, userAccount, tokenB.Denom, sdkmath.NewInt(1_000_000_000),
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrNotAllowedInCurrentStatus)
}

func TestDepositNative(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)

	// 100 ATOM at $10 wraps into the WATOM leg as a $1000 deposit.
	err := f.vault.DepositNative(f.ctx, userAccount, sdkmath.NewInt(100_000_000),
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(99_900_000_000), f.balance(userAccount, nativeToken.Denom))

	f.settle()
	require.Equal(t, types.StatusOpen, f.vault.Status())

	snap := f.snapshot()
	require.Equal(t, usd(1000), snap.Equity)
	require.Equal(t, usd(3000), snap.LpAmt)
	require.Equal(t, usd(1000), f.vault.ShareBalance(userAccount))
}

func TestDepositPositionToken(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	require.NoError(t, f.ledger.Mint(userAccount,
		sdk.Coin{Denom: positionToken.Denom, Amount: usd(100)}))

	err := f.vault.Deposit(f.ctx, userAccount, positionToken.Denom, usd(100),
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.NoError(t, err)
	f.settle()

	// $100 of position units levered 3x: $200 added via the venue plus the
	// deposited units themselves.
	snap := f.snapshot()
	require.Equal(t, usd(300), snap.LpAmt)
	require.Equal(t, usd(100), snap.Equity)
	require.Equal(t, usd(100), f.vault.ShareBalance(userAccount))
}

func TestDepositCancellationRollsBackEverything(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)

	f.deposit()
	key := f.pendingKey()
	require.NoError(t, f.market.Cancel(key))
	require.NoError(t, f.vault.ProcessDepositCancellation(f.ctx, key))

	require.Equal(t, types.StatusOpen, f.vault.Status())
	require.Equal(t, sdkmath.NewInt(1_000_000_000_000), f.balance(userAccount, tokenB.Denom))
	require.True(t, f.vault.TotalShares().IsZero())

	debtA, err := f.poolA.MaxRepay(f.ctx, vaultAccount)
	require.NoError(t, err)
	require.True(t, debtA.IsZero())
	debtB, err := f.poolB.MaxRepay(f.ctx, vaultAccount)
	require.NoError(t, err)
	require.True(t, debtB.IsZero())
}

func TestDepositPostCheckFailureAndRecovery(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)

	// Demand more shares than the settlement can mint.
	err := f.vault.Deposit(f.ctx, userAccount, tokenB.Denom,
		sdkmath.NewInt(1_000_000_000), usd(2000), sdkmath.NewInt(100))
	require.NoError(t, err)

	f.settle()
	require.Equal(t, types.StatusDepositFailed, f.vault.Status())
	require.True(t, f.vault.TotalShares().IsZero())

	// Recovery unwinds the added position, repays the borrow and refunds the
	// user in full (zero-fee venue).
	require.NoError(t, f.vault.RecoverFailedDeposit(f.ctx))
	f.settle()

	require.Equal(t, types.StatusOpen, f.vault.Status())
	require.Equal(t, sdkmath.NewInt(1_000_000_000_000), f.balance(userAccount, tokenB.Denom))

	snap := f.snapshot()
	require.True(t, snap.LpAmt.IsZero())
	require.True(t, snap.Equity.IsZero())
	debtA, err := f.poolA.MaxRepay(f.ctx, vaultAccount)
	require.NoError(t, err)
	require.True(t, debtA.IsZero())
}

func TestDepositPositionTokenFailureAndRecovery(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	require.NoError(t, f.ledger.Mint(userAccount,
		sdk.Coin{Denom: positionToken.Denom, Amount: usd(100)}))
	err := f.vault.Deposit(f.ctx, userAccount, positionToken.Denom, usd(100),
		usd(2000), sdkmath.NewInt(100))
	require.NoError(t, err)
	f.settle()
	require.Equal(t, types.StatusDepositFailed, f.vault.Status())

	require.NoError(t, f.vault.RecoverFailedDeposit(f.ctx))
	f.settle()

	require.Equal(t, types.StatusOpen, f.vault.Status())
	require.Equal(t, usd(100), f.balance(userAccount, positionToken.Denom))

	// Reversing the settlement must drop both the received position and the
	// deposited units, or tracked LpAmt drifts above custody and inflates
	// equity for every later depositor.
	snap := f.snapshot()
	require.Equal(t, usd(3000), snap.LpAmt)
	require.Equal(t, snap.LpAmt, f.balance(vaultAccount, positionToken.Denom))
	require.Equal(t, usd(1000), snap.Equity)
	require.Equal(t, usd(1000), f.vault.TotalShares())
}

func TestStaleAndMismatchedCallbacks(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)

	f.deposit()

	// Wrong correlation key while in flight.
	err := f.vault.ProcessDepositSettlement(f.ctx, venue.AddSettlement{
		RequestKey: "bogus", LpAmt: usd(3000),
	})
	require.ErrorIs(t, err, types.ErrStaleCallback)

	key := f.pendingKey()
	f.settle()

	// Replaying a consumed settlement is refused by status.
	err = f.vault.ProcessDepositSettlement(f.ctx, venue.AddSettlement{
		RequestKey: key, LpAmt: usd(3000),
	})
	require.ErrorIs(t, err, types.ErrInvalidCallbackStatus)

	// A withdraw-shaped callback against a deposit is also refused.
	err = f.vault.ProcessWithdrawSettlement(f.ctx, venue.RemoveSettlement{
		RequestKey: key, TokenAAmt: sdkmath.ZeroInt(), TokenBAmt: sdkmath.ZeroInt(),
	})
	require.ErrorIs(t, err, types.ErrInvalidCallbackStatus)
}

func TestWithdrawLifecycle(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	err := f.vault.Withdraw(f.ctx, userAccount, usd(500), tokenB.Denom,
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, types.StatusWithdraw, f.vault.Status())
	require.Equal(t, usd(500), f.vault.TotalShares())

	f.settle()
	require.Equal(t, types.StatusOpen, f.vault.Status())

	// Half the book: $1500 position, $1000 debt, $500 equity, $500 paid out.
	snap := f.snapshot()
	require.Equal(t, usd(500), snap.Equity)
	require.Equal(t, usd(1500), snap.LpAmt)
	require.Equal(t, sdkmath.NewInt(666_666_666_666_666_666), snap.DebtRatio)
	require.Equal(t, types.SafeMultiplier, snap.SvTokenValue)
	require.Equal(t, sdkmath.NewInt(999_500_000_000), f.balance(userAccount, tokenB.Denom))
}

func TestWithdrawNativePayout(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	before := f.balance(userAccount, nativeToken.Denom)
	err := f.vault.Withdraw(f.ctx, userAccount, usd(500), nativeToken.Denom,
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.NoError(t, err)
	f.settle()

	require.Equal(t, types.StatusOpen, f.vault.Status())
	// $500 of equity at $10/ATOM unwraps to 50 ATOM.
	require.Equal(t, before.Add(sdkmath.NewInt(50_000_000)), f.balance(userAccount, nativeToken.Denom))
}

func TestWithdrawValidation(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	err := f.vault.Withdraw(f.ctx, userAccount, sdkmath.ZeroInt(), tokenB.Denom,
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrEmptyShareAmount)

	err = f.vault.Withdraw(f.ctx, userAccount, usd(5000), tokenB.Denom,
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrInsufficientShareBalance)

	err = f.vault.Withdraw(f.ctx, userAccount, usd(500), "ufoo",
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrInvalidDepositToken)
}

func TestWithdrawCancellationRestoresShares(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	err := f.vault.Withdraw(f.ctx, userAccount, usd(500), tokenB.Denom,
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, usd(500), f.vault.TotalShares())

	key := f.pendingKey()
	require.NoError(t, f.market.Cancel(key))
	require.NoError(t, f.vault.ProcessWithdrawCancellation(f.ctx, key))

	require.Equal(t, types.StatusOpen, f.vault.Status())
	require.Equal(t, usd(1000), f.vault.ShareBalance(userAccount))
	require.Equal(t, usd(3000), f.snapshot().LpAmt)
}

func TestWithdrawPostCheckFailureAndRecovery(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	// Demand more payout than $500 of equity yields.
	err := f.vault.Withdraw(f.ctx, userAccount, usd(500), tokenB.Denom,
		sdkmath.NewInt(900_000_000), sdkmath.NewInt(100))
	require.NoError(t, err)
	f.settle()
	require.Equal(t, types.StatusWithdrawFailed, f.vault.Status())
	require.Equal(t, usd(500), f.vault.TotalShares())

	// Recovery re-borrows the repaid legs and restores the position and the
	// burned shares.
	require.NoError(t, f.vault.RecoverFailedWithdraw(f.ctx))
	f.settle()

	require.Equal(t, types.StatusOpen, f.vault.Status())
	require.Equal(t, usd(1000), f.vault.ShareBalance(userAccount))

	snap := f.snapshot()
	require.Equal(t, usd(3000), snap.LpAmt)
	require.Equal(t, usd(1000), snap.Equity)
}

func TestQueuedPauseAppliedAtSettlement(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)

	f.deposit()
	require.NoError(t, f.vault.EmergencyPause(f.ctx))
	require.Equal(t, types.StatusDeposit, f.vault.Status())
	require.ErrorIs(t, f.vault.EmergencyPause(f.ctx), types.ErrPauseAlreadyQueued)

	f.settle()
	require.Equal(t, types.StatusPaused, f.vault.Status())
	// The deposit itself still settled.
	require.Equal(t, usd(1000), f.vault.ShareBalance(userAccount))

	require.NoError(t, f.vault.EmergencyStatusChange(f.ctx))
	require.Equal(t, types.StatusOpen, f.vault.Status())
}

func TestFeeCollectionRefusedWhilePaused(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	require.NoError(t, f.vault.EmergencyPause(f.ctx))
	require.ErrorIs(t, f.vault.CollectManagementFee(f.ctx), types.ErrFeeCollectionPaused)
}

func TestManagementFeeAccrual(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, func(p *types.RiskParameters) {
		p.FeePerSecond = sdkmath.NewInt(1_000_000_000_000) // 1e12
	})
	f.deposit()
	f.settle()
	require.True(t, f.vault.ShareBalance(treasuryAccount).IsZero())

	// 1000e18 shares * 1e12/s * 1000s / 1e18 = 1e18 fee shares.
	f.now = f.now.Add(1000 * time.Second)
	require.NoError(t, f.vault.CollectManagementFee(f.ctx))
	require.Equal(t, sdkmath.NewInt(1).Mul(types.SafeMultiplier),
		f.vault.ShareBalance(treasuryAccount))
}

func TestRebalanceRemoveReturnsDebtRatioToBand(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyLong, true, nil)
	f.deposit()
	f.settle()

	// In band: rebalancing is refused.
	err := f.vault.RebalanceRemove(f.ctx, vault.RemoveParams{
		RebalanceType: types.RebalanceTypeDebt,
		LpAmtToRemove: usd(100),
		Slippage:      sdkmath.NewInt(100),
	})
	require.ErrorIs(t, err, types.ErrRebalanceNotNeeded)

	// Position token drops to $0.80: asset $2400, debt $2000, ratio 0.833.
	f.feed.SetPrice(positionToken.Denom, sdkmath.NewInt(8).Mul(types.SafeMultiplier).QuoRaw(10), 24*time.Hour)

	snap := f.snapshot()
	params := f.vault.Params()
	require.True(t, snap.DebtRatio.GT(params.DebtRatioUpperLimit))

	// Size the unwind onto the band midpoint: R = (D - t*A) / (1 - t).
	target := params.DebtRatioUpperLimit.Add(params.DebtRatioLowerLimit).QuoRaw(2)
	assetValue := snap.Equity.Mul(types.SafeMultiplier).Quo(types.SafeMultiplier.Sub(snap.DebtRatio))
	debtValue := assetValue.Sub(snap.Equity)
	removeValue := debtValue.Sub(target.Mul(assetValue).Quo(types.SafeMultiplier)).
		Mul(types.SafeMultiplier).Quo(types.SafeMultiplier.Sub(target))
	lpToRemove := snap.LpAmt.Mul(removeValue).Quo(assetValue)

	err = f.vault.RebalanceRemove(f.ctx, vault.RemoveParams{
		RebalanceType: types.RebalanceTypeDebt,
		LpAmtToRemove: lpToRemove,
		Slippage:      sdkmath.NewInt(100),
	})
	require.NoError(t, err)
	require.Equal(t, types.StatusRebalanceRemove, f.vault.Status())

	f.settle()
	require.Equal(t, types.StatusOpen, f.vault.Status())

	after := f.snapshot()
	require.True(t, after.DebtRatio.LTE(params.DebtRatioUpperLimit))
	require.True(t, after.DebtRatio.GTE(params.DebtRatioLowerLimit))
}

func TestRebalanceAddReturnsDebtRatioToBand(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyLong, true, nil)
	f.deposit()
	f.settle()

	// Position token rises to $1.25: asset $3750, debt $2000, ratio 0.533.
	f.feed.SetPrice(positionToken.Denom, sdkmath.NewInt(125).Mul(types.SafeMultiplier).QuoRaw(100), 24*time.Hour)

	snap := f.snapshot()
	params := f.vault.Params()
	require.True(t, snap.DebtRatio.LT(params.DebtRatioLowerLimit))

	// Size the extra borrow onto the band midpoint: B = (t*A - D) / (1 - t).
	target := params.DebtRatioUpperLimit.Add(params.DebtRatioLowerLimit).QuoRaw(2)
	assetValue := snap.Equity.Mul(types.SafeMultiplier).Quo(types.SafeMultiplier.Sub(snap.DebtRatio))
	debtValue := assetValue.Sub(snap.Equity)
	borrowValue := target.Mul(assetValue).Quo(types.SafeMultiplier).Sub(debtValue).
		Mul(types.SafeMultiplier).Quo(types.SafeMultiplier.Sub(target))
	borrowB := tokenB.DenormalizeAmt(borrowValue) // USDC is $1

	err := f.vault.RebalanceAdd(f.ctx, vault.AddParams{
		RebalanceType:   types.RebalanceTypeDebt,
		BorrowTokenAAmt: sdkmath.ZeroInt(),
		BorrowTokenBAmt: borrowB,
		Slippage:        sdkmath.NewInt(100),
	})
	require.NoError(t, err)
	require.Equal(t, types.StatusRebalanceAdd, f.vault.Status())

	f.settle()
	require.Equal(t, types.StatusOpen, f.vault.Status())

	after := f.snapshot()
	require.True(t, after.DebtRatio.LTE(params.DebtRatioUpperLimit))
	require.True(t, after.DebtRatio.GTE(params.DebtRatioLowerLimit))
}

func TestCloseRebalanceForcesOpenWhileOutOfBand(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyLong, true, nil)
	f.deposit()
	f.settle()

	require.ErrorIs(t, f.vault.CloseRebalance(f.ctx), types.ErrNotAllowedInCurrentStatus)

	// Position token drops to $0.80: asset $2400, debt $2000, ratio 0.833.
	f.feed.SetPrice(positionToken.Denom, sdkmath.NewInt(8).Mul(types.SafeMultiplier).QuoRaw(10), 24*time.Hour)

	// A partial unwind leaves the ratio out of band; the vault parks in
	// RebalanceOpen.
	err := f.vault.RebalanceRemove(f.ctx, vault.RemoveParams{
		RebalanceType: types.RebalanceTypeDebt,
		LpAmtToRemove: usd(100),
		Slippage:      sdkmath.NewInt(100),
	})
	require.NoError(t, err)
	f.settle()
	require.Equal(t, types.StatusRebalanceOpen, f.vault.Status())

	snap := f.snapshot()
	params := f.vault.Params()
	require.True(t, snap.DebtRatio.GT(params.DebtRatioUpperLimit))

	// The operator may accept the residual exposure instead of waiting for a
	// further correction.
	require.NoError(t, f.vault.CloseRebalance(f.ctx))
	require.Equal(t, types.StatusOpen, f.vault.Status())
}

func TestCompoundFoldsRewardsIntoPosition(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	// $100 of reward tokens arrive in custody.
	require.NoError(t, f.ledger.Mint(vaultAccount,
		sdk.Coin{Denom: rewardToken.Denom, Amount: sdkmath.NewInt(1_000_000_000)}))

	require.NoError(t, f.vault.Compound(f.ctx, sdkmath.NewInt(100)))
	require.Equal(t, types.StatusCompound, f.vault.Status())
	f.settle()
	require.Equal(t, types.StatusOpen, f.vault.Status())

	// Equity grows by the reward value, shares do not: the share value rises.
	snap := f.snapshot()
	require.Equal(t, usd(1100), snap.Equity)
	require.Equal(t, usd(3100), snap.LpAmt)
	require.Equal(t, usd(1000), f.vault.TotalShares())
	require.Equal(t, sdkmath.NewInt(1_100_000_000_000_000_000), snap.SvTokenValue)
}

func TestCompoundPositionUnits(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	// Position units airdropped outside an operation.
	require.NoError(t, f.ledger.Mint(vaultAccount,
		sdk.Coin{Denom: positionToken.Denom, Amount: usd(50)}))

	require.NoError(t, f.vault.CompoundPositionUnits(f.ctx))
	require.Equal(t, usd(3050), f.snapshot().LpAmt)
}

func TestEmergencyRepayBorrowResumeCycle(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	require.NoError(t, f.vault.EmergencyPause(f.ctx))
	require.Equal(t, types.StatusPaused, f.vault.Status())

	require.NoError(t, f.vault.EmergencyRepay(f.ctx, sdkmath.NewInt(100)))
	require.Equal(t, types.StatusRepay, f.vault.Status())
	f.settle()
	require.Equal(t, types.StatusRepaid, f.vault.Status())

	// All debt is cleared.
	debtA, err := f.poolA.MaxRepay(f.ctx, vaultAccount)
	require.NoError(t, err)
	require.True(t, debtA.IsZero())
	debtB, err := f.poolB.MaxRepay(f.ctx, vaultAccount)
	require.NoError(t, err)
	require.True(t, debtB.IsZero())
	require.True(t, f.snapshot().LpAmt.IsZero())

	// Restore the debt and the position.
	require.NoError(t, f.vault.EmergencyBorrow(f.ctx))
	require.Equal(t, types.StatusPaused, f.vault.Status())

	require.NoError(t, f.vault.EmergencyResume(f.ctx, sdkmath.NewInt(100)))
	require.Equal(t, types.StatusResume, f.vault.Status())
	f.settle()
	require.Equal(t, types.StatusOpen, f.vault.Status())

	snap := f.snapshot()
	require.Equal(t, usd(3000), snap.LpAmt)
	require.Equal(t, usd(1000), snap.Equity)
}

func TestEmergencyCloseAndProRataWithdraw(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	require.NoError(t, f.vault.EmergencyPause(f.ctx))
	require.NoError(t, f.vault.EmergencyRepay(f.ctx, sdkmath.NewInt(100)))
	f.settle()
	require.NoError(t, f.vault.EmergencyClose(f.ctx))
	require.Equal(t, types.StatusClosed, f.vault.Status())

	// Only emergency withdrawal works against a closed vault.
	err := f.vault.Deposit(f.ctx, userAccount, tokenB.Denom,
		sdkmath.NewInt(1_000_000_000), sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.ErrorIs(t, err, types.ErrNotAllowedInCurrentStatus)
	require.ErrorIs(t, f.vault.CollectManagementFee(f.ctx), types.ErrFeeCollectionPaused)

	// Half the shares claim half the remaining custody ($1000 USDC).
	before := f.balance(userAccount, tokenB.Denom)
	require.NoError(t, f.vault.EmergencyWithdraw(f.ctx, userAccount, usd(500)))
	require.Equal(t, before.Add(sdkmath.NewInt(500_000_000)), f.balance(userAccount, tokenB.Denom))
	require.Equal(t, usd(500), f.vault.TotalShares())

	// And the rest claims the rest.
	require.NoError(t, f.vault.EmergencyWithdraw(f.ctx, userAccount, usd(500)))
	require.Equal(t, before.Add(sdkmath.NewInt(1_000_000_000)), f.balance(userAccount, tokenB.Denom))
	require.True(t, f.vault.TotalShares().IsZero())

	require.ErrorIs(t, f.vault.EmergencyWithdraw(f.ctx, userAccount, usd(1)),
		types.ErrInsufficientShareBalance)
}

func TestEmergencyWithdrawRequiresClosedVault(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, true, nil)
	f.deposit()
	f.settle()

	err := f.vault.EmergencyWithdraw(f.ctx, userAccount, usd(500))
	require.ErrorIs(t, err, types.ErrVaultNotClosed)
}

func TestSyncVariantSettlesInline(t *testing.T) {
	f := newFixture(t, types.DeltaStrategyNeutral, false, nil)

	f.deposit()
	require.Equal(t, types.StatusOpen, f.vault.Status())
	require.Equal(t, usd(1000), f.vault.ShareBalance(userAccount))

	snap := f.snapshot()
	require.Equal(t, usd(3000), snap.LpAmt)
	require.Equal(t, sdkmath.NewInt(666_666_666_666_666_666), snap.DebtRatio)

	err := f.vault.Withdraw(f.ctx, userAccount, usd(500), tokenB.Denom,
		sdkmath.ZeroInt(), sdkmath.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, types.StatusOpen, f.vault.Status())
	require.Equal(t, usd(500), f.vault.TotalShares())
	require.Equal(t, sdkmath.NewInt(999_500_000_000), f.balance(userAccount, tokenB.Denom))
}
