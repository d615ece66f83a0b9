// Package amount converts token amounts between the human decimal form typed by
// users and integer minor units (planck, wei) the chain works with.
//
// All arithmetic happens on the exact decimal representation, so the conversion
// stays lossless for 12-18 decimal tokens where float64 would already round.
package amount

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// maxExponent bounds scientific notation input such as "1e100000000".
const maxExponent = 1 << 10

// ErrInvalidAmount is returned for input that is not a finite non-negative number.
var ErrInvalidAmount = errors.New("invalid amount")

// ToMinorUnits parses human and returns round(human * 10^decimals) in minor units.
func ToMinorUnits(human string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, errors.Wrapf(ErrInvalidAmount, "negative decimals %d", decimals)
	}

	s := strings.TrimSpace(human)
	if s == "" {
		return nil, errors.Wrap(ErrInvalidAmount, "empty amount")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAmount, "parse %q", human)
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return nil, errors.Wrapf(ErrInvalidAmount, "exponent out of range in %q", human)
	}
	if d.IsNegative() {
		return nil, errors.Wrapf(ErrInvalidAmount, "negative amount %q", human)
	}

	return d.Shift(int32(decimals)).Round(0).BigInt(), nil
}

// ToHuman renders minor units as a decimal string with trailing zeros trimmed.
func ToHuman(minor *big.Int, decimals int) string {
	if minor == nil {
		return "0"
	}
	if decimals < 0 {
		decimals = 0
	}

	return decimal.NewFromBigInt(minor, -int32(decimals)).String()
}

// ToHumanFixed renders minor units with exactly places fractional digits,
// truncating extra precision. Intended for display only.
func ToHumanFixed(minor *big.Int, decimals, places int) string {
	if minor == nil {
		minor = new(big.Int)
	}
	if decimals < 0 {
		decimals = 0
	}
	if places < 0 {
		places = 0
	}

	return decimal.NewFromBigInt(minor, -int32(decimals)).Truncate(int32(places)).StringFixed(int32(places))
}

// ParseMinor parses a canonical base-10 integer such as the ones stored in
// balance snapshots.
func ParseMinor(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidAmount, "parse minor units %q", s)
	}
	if v.Sign() < 0 {
		return nil, errors.Wrapf(ErrInvalidAmount, "negative minor units %q", s)
	}

	return v, nil
}
