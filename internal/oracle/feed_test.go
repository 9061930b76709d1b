package oracle

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/parallax-fi/lvm/internal/types"
)

func TestFeedOracleConsult(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := NewFeedOracle(func() time.Time { return now })

	_, err := feed.ConsultIn18Decimals("uwatom")
	require.ErrorIs(t, err, ErrNoPriceFeed)

	feed.SetPrice("uwatom", sdkmath.NewInt(10).Mul(types.SafeMultiplier), time.Hour)

	price18, err := feed.ConsultIn18Decimals("uwatom")
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10).Mul(types.SafeMultiplier), price18)

	price, decimals, err := feed.Consult("uwatom")
	require.NoError(t, err)
	require.Equal(t, 18, decimals)
	require.Equal(t, price18, price)
}

func TestFeedOracleStaleness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := NewFeedOracle(func() time.Time { return now })
	feed.SetPrice("uusdc", types.SafeMultiplier, time.Hour)

	now = now.Add(time.Hour)
	_, err := feed.ConsultIn18Decimals("uusdc")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = feed.ConsultIn18Decimals("uusdc")
	require.ErrorIs(t, err, ErrStaleFeed)
}

func TestFeedOracleNeverStaleWithZeroDelay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := NewFeedOracle(func() time.Time { return now })
	feed.SetPrice("uusdc", types.SafeMultiplier, 0)

	now = now.Add(24 * 365 * time.Hour)
	_, err := feed.ConsultIn18Decimals("uusdc")
	require.NoError(t, err)
}

func TestFeedOracleBrokenFeed(t *testing.T) {
	feed := NewFeedOracle(nil)

	feed.SetPrice("uwatom", sdkmath.ZeroInt(), 0)
	_, err := feed.ConsultIn18Decimals("uwatom")
	require.ErrorIs(t, err, ErrBrokenFeed)

	feed.SetPrice("uwatom", sdkmath.NewInt(-1), 0)
	_, err = feed.ConsultIn18Decimals("uwatom")
	require.ErrorIs(t, err, ErrBrokenFeed)

	feed.SetPrice("uwatom", sdkmath.Int{}, 0)
	_, err = feed.ConsultIn18Decimals("uwatom")
	require.ErrorIs(t, err, ErrBrokenFeed)
}

func TestTokenValue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := NewFeedOracle(func() time.Time { return now })
	feed.SetPrice("uwatom", sdkmath.NewInt(10).Mul(types.SafeMultiplier), 0)

	watom := types.Token{Symbol: "WATOM", Denom: "uwatom", Decimals: 6}

	// 150 WATOM at $10 is $1500.
	value, err := TokenValue(feed, watom, sdkmath.NewInt(150_000_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1500).Mul(types.SafeMultiplier), value)

	// Zero and nil amounts are worth zero without consulting the feed.
	value, err = TokenValue(feed, watom, sdkmath.ZeroInt())
	require.NoError(t, err)
	require.True(t, value.IsZero())

	value, err = TokenValue(feed, watom, sdkmath.Int{})
	require.NoError(t, err)
	require.True(t, value.IsZero())

	unknown := types.Token{Symbol: "XXX", Denom: "uxxx", Decimals: 6}
	_, err = TokenValue(feed, unknown, sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrNoPriceFeed)
}
