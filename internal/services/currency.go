package services

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// ReferenceCurrency is the common currency all local amounts are converted
// into for comparison and displayed totals.
const ReferenceCurrency = "EUR"

// conversionRates is the static lookup table for converting a local currency
// into the reference currency. Rates are fixed; there is no live fetching.
var conversionRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromFloat(0.85),
	"GBP": decimal.NewFromFloat(1.15),
	"EUR": decimal.NewFromInt(1),
	"CAD": decimal.NewFromFloat(0.65),
	"AUD": decimal.NewFromFloat(0.60),
	"JPY": decimal.NewFromFloat(0.0065),
}

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidCurrencyCode reports whether code is shaped like a 3-letter ISO code.
// A well-formed but unknown code is still accepted by ToReference; a
// malformed one is a caller validation error.
func ValidCurrencyCode(code string) bool {
	return currencyCodePattern.MatchString(code)
}

// ToReference converts amount from the given currency into the reference
// currency, rounded half-up to 2 decimal places.
//
// Unknown currency codes fall back to rate 1.00, i.e. the amount is treated
// as already being in the reference currency. This is a deliberate lenient
// default so that a rate-table gap never blocks a salary submission; it is
// not a claim that the conversion is correct for that code.
func ToReference(amount decimal.Decimal, currencyCode string) decimal.Decimal {
	rate, ok := conversionRates[currencyCode]
	if !ok {
		rate = decimal.NewFromInt(1)
	}
	return amount.Mul(rate).Round(2)
}

// DisplayedTotal is the headline figure shown to admins: the converted
// reference amount plus the commission, rounded to 2 decimal places.
func DisplayedTotal(referenceAmount, commission decimal.Decimal) decimal.Decimal {
	return referenceAmount.Add(commission).Round(2)
}
