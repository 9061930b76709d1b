package types

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func validParams() RiskParameters {
	return RiskParameters{
		Leverage:               sdkmath.NewInt(3).Mul(SafeMultiplier),
		DeltaStrategy:          DeltaStrategyNeutral,
		DebtRatioStepThreshold: sdkmath.NewInt(300),
		DebtRatioUpperLimit:    sdkmath.NewInt(75).Mul(SafeMultiplier).QuoRaw(100),
		DebtRatioLowerLimit:    sdkmath.NewInt(58).Mul(SafeMultiplier).QuoRaw(100),
		DeltaUpperLimit:        SafeMultiplier.QuoRaw(20),
		DeltaLowerLimit:        SafeMultiplier.QuoRaw(20).Neg(),
		MinVaultSlippage:       sdkmath.NewInt(10),
		SwapSlippage:           sdkmath.NewInt(100),
		MinAssetValue:          sdkmath.NewInt(10).Mul(SafeMultiplier),
		MaxAssetValue:          sdkmath.NewInt(100_000).Mul(SafeMultiplier),
		FeePerSecond:           sdkmath.ZeroInt(),
		Treasury:               "treasury",
	}
}

func validTokens() (Token, Token, Token, Token, Token) {
	return Token{Symbol: "WATOM", Denom: "uwatom", Decimals: 6},
		Token{Symbol: "USDC", Denom: "uusdc", Decimals: 6},
		Token{Symbol: "LVLP", Denom: "ulvlp", Decimals: 18},
		Token{Symbol: "ATOM", Denom: "uatom", Decimals: 6},
		Token{Symbol: "REW", Denom: "urew", Decimals: 6}
}

func TestRiskParametersValidate(t *testing.T) {
	require.NoError(t, validParams().Validate())

	cases := []struct {
		name   string
		mutate func(*RiskParameters)
	}{
		{"leverage at one", func(p *RiskParameters) { p.Leverage = SafeMultiplier }},
		{"unknown strategy", func(p *RiskParameters) { p.DeltaStrategy = "SIDEWAYS" }},
		{"negative step threshold", func(p *RiskParameters) { p.DebtRatioStepThreshold = sdkmath.NewInt(-1) }},
		{"inverted debt ratio band", func(p *RiskParameters) {
			p.DebtRatioLowerLimit = p.DebtRatioUpperLimit.AddRaw(1)
		}},
		{"inverted delta band", func(p *RiskParameters) {
			p.DeltaLowerLimit = p.DeltaUpperLimit.AddRaw(1)
		}},
		{"slippage above divisor", func(p *RiskParameters) { p.MinVaultSlippage = BasisPointsDivisor.AddRaw(1) }},
		{"max below min asset value", func(p *RiskParameters) { p.MaxAssetValue = p.MinAssetValue.SubRaw(1) }},
		{"negative fee", func(p *RiskParameters) { p.FeePerSecond = sdkmath.NewInt(-1) }},
		{"empty treasury", func(p *RiskParameters) { p.Treasury = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			require.ErrorIs(t, p.Validate(), ErrInvalidRiskParameters)
		})
	}
}

func TestNewStoreRejectsSharedBorrowDenom(t *testing.T) {
	a, _, pos, native, rew := validTokens()
	_, err := NewStore(validParams(), a, a, pos, native, rew, time.Now())
	require.ErrorIs(t, err, ErrInvalidTokenConfig)
}

func TestShareAccounting(t *testing.T) {
	a, b, pos, native, rew := validTokens()
	s, err := NewStore(validParams(), a, b, pos, native, rew, time.Now())
	require.NoError(t, err)
	require.Equal(t, StatusOpen, s.Status)

	s.MintShares("alice", sdkmath.NewInt(1000))
	s.MintShares("bob", sdkmath.NewInt(500))
	require.Equal(t, sdkmath.NewInt(1500), s.TotalShares)
	require.Equal(t, sdkmath.NewInt(1000), s.ShareBalance("alice"))

	// Zero and negative mints are ignored.
	s.MintShares("alice", sdkmath.ZeroInt())
	s.MintShares("alice", sdkmath.NewInt(-5))
	require.Equal(t, sdkmath.NewInt(1000), s.ShareBalance("alice"))

	require.NoError(t, s.BurnShares("bob", sdkmath.NewInt(500)))
	require.True(t, s.ShareBalance("bob").IsZero())
	require.Equal(t, sdkmath.NewInt(1000), s.TotalShares)

	err = s.BurnShares("alice", sdkmath.NewInt(1001))
	require.ErrorIs(t, err, ErrInsufficientShareBalance)
	require.Equal(t, sdkmath.NewInt(1000), s.TotalShares)
}

func TestTokenNormalization(t *testing.T) {
	usdc := Token{Symbol: "USDC", Denom: "uusdc", Decimals: 6}
	lp := Token{Symbol: "LVLP", Denom: "ulvlp", Decimals: 18}

	require.Equal(t, sdkmath.NewInt(1_500_000).Mul(sdkmath.NewInt(1_000_000_000_000)),
		usdc.NormalizeAmt(sdkmath.NewInt(1_500_000)))
	require.Equal(t, sdkmath.NewInt(1_500_000),
		usdc.DenormalizeAmt(usdc.NormalizeAmt(sdkmath.NewInt(1_500_000))))

	// 18-decimal tokens pass through untouched.
	amt := sdkmath.NewInt(123_456_789)
	require.Equal(t, amt, lp.NormalizeAmt(amt))
	require.Equal(t, amt, lp.DenormalizeAmt(amt))
}

func TestStatusInFlight(t *testing.T) {
	inFlight := []Status{
		StatusDeposit, StatusWithdraw, StatusRebalanceAdd,
		StatusRebalanceRemove, StatusCompound, StatusRepay, StatusResume,
	}
	for _, s := range inFlight {
		require.True(t, s.InFlight(), "status %s", s)
	}
	settled := []Status{
		StatusOpen, StatusDepositFailed, StatusWithdrawFailed,
		StatusRebalanceOpen, StatusPaused, StatusRepaid, StatusClosed,
	}
	for _, s := range settled {
		require.False(t, s.InFlight(), "status %s", s)
	}
}
