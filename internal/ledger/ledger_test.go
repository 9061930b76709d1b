package ledger

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"
)

func coin(denom string, amt int64) sdk.Coin {
	return sdk.Coin{Denom: denom, Amount: sdkmath.NewInt(amt)}
}

func TestMintBurnTransfer(t *testing.T) {
	l := New()

	require.NoError(t, l.Mint("alice", coin("uusdc", 1000)))
	require.Equal(t, sdkmath.NewInt(1000), l.Balance("alice", "uusdc"))

	require.NoError(t, l.Transfer("alice", "bob", coin("uusdc", 400)))
	require.Equal(t, sdkmath.NewInt(600), l.Balance("alice", "uusdc"))
	require.Equal(t, sdkmath.NewInt(400), l.Balance("bob", "uusdc"))

	require.NoError(t, l.Burn("bob", coin("uusdc", 400)))
	require.True(t, l.Balance("bob", "uusdc").IsZero())
}

func TestOverdraftsRejected(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint("alice", coin("uusdc", 100)))

	err := l.Transfer("alice", "bob", coin("uusdc", 101))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	err = l.Burn("alice", coin("uusdc", 101))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// Failed calls leave balances untouched.
	require.Equal(t, sdkmath.NewInt(100), l.Balance("alice", "uusdc"))
	require.True(t, l.Balance("bob", "uusdc").IsZero())
}

func TestValidation(t *testing.T) {
	l := New()

	require.ErrorIs(t, l.Mint("", coin("uusdc", 1)), ErrInvalidAccount)
	require.ErrorIs(t, l.Transfer("alice", "", coin("uusdc", 1)), ErrInvalidAccount)
	require.ErrorIs(t, l.Mint("alice", sdk.Coin{Denom: "", Amount: sdkmath.OneInt()}), ErrInvalidCoin)
	require.ErrorIs(t, l.Mint("alice", sdk.Coin{Denom: "uusdc", Amount: sdkmath.NewInt(-1)}), ErrInvalidCoin)

	// Zero-amount transfers are a no-op, not an error.
	require.NoError(t, l.Mint("alice", coin("uusdc", 10)))
	require.NoError(t, l.Transfer("alice", "bob", coin("uusdc", 0)))
	require.Equal(t, sdkmath.NewInt(10), l.Balance("alice", "uusdc"))
}

func TestBalancesReturnsCopy(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint("alice", coin("uusdc", 10), coin("uwatom", 20)))

	coins := l.Balances("alice")
	require.Equal(t, sdkmath.NewInt(10), coins.AmountOf("uusdc"))
	require.Equal(t, sdkmath.NewInt(20), coins.AmountOf("uwatom"))

	// Mutating the copy must not leak back into the ledger.
	_ = coins.Add(coin("uusdc", 999))
	require.Equal(t, sdkmath.NewInt(10), l.Balance("alice", "uusdc"))
}
