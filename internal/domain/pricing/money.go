// Package pricing prices medical services against insurance coverage.
//
// Amounts are decimal.Decimal values held to two minor-unit digits and
// coverage percentages are decimal.Decimal values in [0, 100]. Zero is always
// a real amount; optional inputs are pointers so "absent" never collapses
// into zero.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places every stored amount carries.
const MinorUnits = 2

var (
	ErrInvalidCoverage = errors.New("invalid coverage percentage")
	ErrInvalidPrice    = errors.New("invalid base price")
	ErrUnknownService  = errors.New("unknown service code")
	ErrMissingService  = errors.New("service_code is required")
)

var (
	hundred    = decimal.NewFromInt(100)
	FullCover  = hundred
	NoCoverage = decimal.Zero
)

// RoundMoney rounds half away from zero to MinorUnits places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

// PercentagePlaces is the precision coverage percentages are stored with.
const PercentagePlaces = 2

// ValidatePercentage rejects percentages outside [0, 100] or finer than
// PercentagePlaces, so a stored percentage always reproduces its split.
func ValidatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s is outside [0,100]", ErrInvalidCoverage, pct.String())
	}
	if !pct.Equal(pct.Round(PercentagePlaces)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidCoverage, pct.String(), PercentagePlaces)
	}
	return nil
}
