// Package utils converts sdkmath fixed-point values into display floats for
// gauges and logs. Core accounting never round-trips through float64.
package utils

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// IntToFloat64 interprets amount as a fixed-point number with the given
// number of fractional decimals and returns its float64 value. Negative
// amounts are allowed (delta is signed).
func IntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > sdkmath.LegacyPrecision {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}

	f, err := sdkmath.LegacyNewDecFromIntWithPrec(amount, int64(precision)).Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, f)
	}
	return f, nil
}

// ValueToFloat64 converts a 1e18-scaled USD value or ratio to float64.
func ValueToFloat64(value sdkmath.Int) (float64, error) {
	return IntToFloat64(value, sdkmath.LegacyPrecision)
}

// Float64ToInt scales amount up by precision decimals and truncates to an
// Int. The float is rendered to a decimal string first so binary
// representation error beyond the requested precision never leaks in.
func Float64ToInt(amount float64, precision int) (sdkmath.Int, error) {
	if precision < 0 || precision > sdkmath.LegacyPrecision {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: amount is %f", ErrNotFinite, amount)
	}
	if amount == 0 {
		return sdkmath.ZeroInt(), nil
	}

	dec, err := sdkmath.LegacyNewDecFromStr(strconv.FormatFloat(amount, 'f', precision, 64))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	shift := sdkmath.LegacyNewDec(10).Power(uint64(precision))
	return dec.Mul(shift).TruncateInt(), nil
}
