/*
This file contains common utility functions for converting between different types,
particularly for SDK math operations, basis points and precision handling.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10000

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// ScaledIntToDec converts an integer with a fixed number of decimals (e.g. an oracle answer
// with 8 decimals) into a decimal value.
func ScaledIntToDec(amount sdkmath.Int, precision int) (sdkmath.LegacyDec, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return sdkmath.LegacyZeroDec(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.LegacyZeroDec(), ErrAmountNegative
	}
	return sdkmath.LegacyNewDecFromIntWithPrec(amount, int64(precision)), nil
}

// DecToFloat64 converts a decimal to float64 for scoring and metrics.
// Ledger arithmetic never goes through float64.
func DecToFloat64(amount sdkmath.LegacyDec) (float64, error) {
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	f, err := amount.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, f)
	}
	return f, nil
}

// MustDecToFloat64 is DecToFloat64 for values already known to be valid; it returns 0 on failure.
func MustDecToFloat64(amount sdkmath.LegacyDec) float64 {
	f, err := DecToFloat64(amount)
	if err != nil {
		return 0
	}
	return f
}

// Float64ToDec converts a float64 to a decimal using its shortest string form.
func Float64ToDec(value float64) (sdkmath.LegacyDec, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: value is %f", ErrNotFinite, value)
	}
	str := strconv.FormatFloat(value, 'f', -1, 64)
	if idx := strings.IndexByte(str, '.'); idx >= 0 && len(str)-idx-1 > sdkmath.LegacyPrecision {
		str = str[:idx+1+sdkmath.LegacyPrecision]
	}
	dec, err := sdkmath.LegacyNewDecFromStr(str)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: failed to create decimal from string: %w", ErrConversionFailed, err)
	}
	return dec, nil
}

// BpsToDec converts basis points into a fraction (5000 -> 0.5).
func BpsToDec(bps uint32) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDec(int64(bps)).QuoInt64(BpsDenominator)
}

// MulBps returns amount * bps / 10000.
func MulBps(amount sdkmath.LegacyDec, bps uint32) sdkmath.LegacyDec {
	return amount.MulInt64(int64(bps)).QuoInt64(BpsDenominator)
}

// ZeroIfNil guards against the nil zero value of LegacyDec.
func ZeroIfNil(amount sdkmath.LegacyDec) sdkmath.LegacyDec {
	if amount.IsNil() {
		return sdkmath.LegacyZeroDec()
	}
	return amount
}

// FloorZero clamps negative values to zero.
func FloorZero(amount sdkmath.LegacyDec) sdkmath.LegacyDec {
	if amount.IsNil() || amount.IsNegative() {
		return sdkmath.LegacyZeroDec()
	}
	return amount
}
