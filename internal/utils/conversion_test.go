package utils

import (
	"math"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestIntToFloat64(t *testing.T) {
	got, err := IntToFloat64(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	require.InDelta(t, 1.5, got, 1e-12)

	got, err = IntToFloat64(sdkmath.NewInt(-2_000_000), 6)
	require.NoError(t, err)
	require.InDelta(t, -2.0, got, 1e-12)

	got, err = IntToFloat64(sdkmath.NewInt(42), 0)
	require.NoError(t, err)
	require.InDelta(t, 42.0, got, 1e-12)

	_, err = IntToFloat64(sdkmath.NewInt(1), -1)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = IntToFloat64(sdkmath.NewInt(1), 19)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = IntToFloat64(sdkmath.Int{}, 6)
	require.ErrorIs(t, err, ErrAmountNil)
}

func TestValueToFloat64(t *testing.T) {
	base := sdkmath.NewIntWithDecimal(1, 18)
	got, err := ValueToFloat64(sdkmath.NewInt(1500).Mul(base))
	require.NoError(t, err)
	require.InDelta(t, 1500.0, got, 1e-9)

	// Signed ratios pass through.
	got, err = ValueToFloat64(base.QuoRaw(2).Neg())
	require.NoError(t, err)
	require.InDelta(t, -0.5, got, 1e-12)
}

func TestFloat64ToInt(t *testing.T) {
	got, err := Float64ToInt(1.5, 6)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_500_000), got)

	got, err = Float64ToInt(0, 6)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	_, err = Float64ToInt(1, -1)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = Float64ToInt(math.NaN(), 6)
	require.ErrorIs(t, err, ErrNotFinite)

	_, err = Float64ToInt(math.Inf(1), 6)
	require.ErrorIs(t, err, ErrNotFinite)
}

func TestFloatIntRoundTrip(t *testing.T) {
	orig := sdkmath.NewInt(123_456_789)
	f, err := IntToFloat64(orig, 6)
	require.NoError(t, err)
	back, err := Float64ToInt(f, 6)
	require.NoError(t, err)
	require.Equal(t, orig, back)
}
