package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/parallax-fi/lvm/internal/config"
	"github.com/parallax-fi/lvm/internal/keeper"
	"github.com/parallax-fi/lvm/internal/ledger"
	"github.com/parallax-fi/lvm/internal/logger"
	"github.com/parallax-fi/lvm/internal/oracle"
	"github.com/parallax-fi/lvm/internal/sim"
	"github.com/parallax-fi/lvm/internal/state"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/vault"
	"github.com/parallax-fi/lvm/internal/web"
)

const SETTLEMENT_DELAY = 5 * time.Second

// Default simulated token set: a wrapped-native volatile leg against a
// stablecoin, with an 18-decimal position unit.
var (
	nativeToken   = types.Token{Symbol: "ATOM", Denom: "uatom", Decimals: 6}
	tokenA        = types.Token{Symbol: "WATOM", Denom: "uwatom", Decimals: 6}
	tokenB        = types.Token{Symbol: "USDC", Denom: "uusdc", Decimals: 6}
	positionToken = types.Token{Symbol: "LVLP", Denom: "ulvlp", Decimals: 18}
	rewardToken   = types.Token{Symbol: "REW", Denom: "urew", Decimals: 6}
)

// main is the entry point for the leveraged vault manager.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("LVM Core Logic Starting...")

	// Initialize the operation journal.
	var recorder state.Recorder = state.LoggingRecorder{}
	if config.EnableDatabase {
		dbCfg := state.DBConfig{
			Host: config.DBHost, Port: config.DBPort,
			User: config.DBUser, Password: config.DBPassword,
			DBName: config.DBName, SSLMode: config.DBSSLMode,
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		pg, err := state.NewPostgresRecorder()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create postgres recorder")
		}
		recorder = pg
	}

	// --- 2. World Initialization (with Safety Switch) ---
	lvmMode := os.Getenv("LVM_MODE")
	if lvmMode != "sim" {
		log.Fatal().Msg("LVM_MODE is not set to 'sim'. Live venue adapters are not wired in this build; set LVM_MODE=sim to run against the simulated venue.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	world, err := buildSimWorld(recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulated world")
	}

	// --- 3. Web Server ---
	webServer := web.NewWebServer(config.ListenAddr, world.vault)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Settlement Driver (async variant only) ---
	if world.driver != nil {
		go world.driver.Run(ctx, SETTLEMENT_DELAY)
	}

	// --- 5. Keeper Loop ---
	keeperInstance, err := keeper.New(keeper.Config{
		Vault:    world.vault,
		Oracle:   world.oracle,
		TokenA:   tokenA,
		TokenB:   tokenB,
		Recorder: recorder,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper")
	}

	keeperInstance.RunLoop(ctx, config.KeeperInterval)
	log.Info().Msg("LVM shut down cleanly")
}

// simWorld bundles the simulated collaborators main wires together.
type simWorld struct {
	vault  *vault.Vault
	oracle oracle.Oracle
	driver *sim.Driver
}

// buildSimWorld stands up the in-memory ledger, oracle, venue, lending
// pools and router, seeds them with liquidity, and constructs the vault.
func buildSimWorld(recorder state.Recorder) (*simWorld, error) {
	lgr := ledger.New()
	feed := oracle.NewFeedOracle(time.Now)
	feed.SetPrice(nativeToken.Denom, sdkmath.NewInt(10).Mul(types.SafeMultiplier), time.Hour)
	feed.SetPrice(tokenA.Denom, sdkmath.NewInt(10).Mul(types.SafeMultiplier), time.Hour)
	feed.SetPrice(tokenB.Denom, types.SafeMultiplier, time.Hour)
	feed.SetPrice(positionToken.Denom, types.SafeMultiplier, time.Hour)
	feed.SetPrice(rewardToken.Denom, types.SafeMultiplier.QuoRaw(10), time.Hour)

	router := sim.NewRouter(lgr, feed, "sim_router", sdkmath.NewInt(5), time.Now)
	for _, t := range []types.Token{tokenA, tokenB, rewardToken} {
		router.RegisterToken(t)
	}

	poolA := sim.NewLendingPool(lgr, tokenA, "sim_pool_a", sdkmath.NewInt(1))
	poolB := sim.NewLendingPool(lgr, tokenB, "sim_pool_b", sdkmath.NewInt(1))
	market := sim.NewMarket(lgr, feed, tokenA, tokenB, positionToken, "sim_market", sdkmath.NewInt(5))

	// Seed liquidity: router inventory, lending liquidity and venue reserves.
	million := sdkmath.NewInt(1_000_000_000_000) // 1M units at 6 decimals
	seeds := []struct {
		account string
		coin    sdk.Coin
	}{
		{"sim_router", sdk.Coin{Denom: tokenA.Denom, Amount: million}},
		{"sim_router", sdk.Coin{Denom: tokenB.Denom, Amount: million.MulRaw(10)}},
		{"sim_pool_a", sdk.Coin{Denom: tokenA.Denom, Amount: million}},
		{"sim_pool_b", sdk.Coin{Denom: tokenB.Denom, Amount: million.MulRaw(10)}},
		{"sim_market", sdk.Coin{Denom: tokenA.Denom, Amount: million}},
		{"sim_market", sdk.Coin{Denom: tokenB.Denom, Amount: million.MulRaw(10)}},
	}
	for _, s := range seeds {
		if err := lgr.Mint(s.account, s.coin); err != nil {
			return nil, err
		}
	}

	store, err := types.NewStore(defaultParams(), tokenA, tokenB, positionToken, nativeToken, rewardToken, time.Now())
	if err != nil {
		return nil, err
	}

	cfg := vault.Config{
		Store:    store,
		Ledger:   lgr,
		Oracle:   feed,
		Router:   router,
		PoolA:    poolA,
		PoolB:    poolB,
		Account:  config.VaultAccount,
		Recorder: recorder,
	}
	var driver *sim.Driver
	if config.AsyncSettlement {
		cfg.AsyncVenue = market
	} else {
		cfg.SyncVenue = market
	}

	v, err := vault.New(cfg)
	if err != nil {
		return nil, err
	}
	if config.AsyncSettlement {
		driver = sim.NewDriver(market, v)
	}

	return &simWorld{vault: v, oracle: feed, driver: driver}, nil
}

func defaultParams() types.RiskParameters {
	params := config.DefaultRiskParameters
	params.Treasury = config.TreasuryAccount
	return params
}
