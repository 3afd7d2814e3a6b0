package amount

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists currencies with no fractional subunit. Amounts in these
// currencies are sent to the processor as-is instead of in hundredths.
var zeroDecimal = map[string]struct{}{
	"BIF": {},
	"CLP": {},
	"DJF": {},
	"GNF": {},
	"JPY": {},
	"KMF": {},
	"KRW": {},
	"MGA": {},
	"PYG": {},
	"RWF": {},
	"UGX": {},
	"VND": {},
	"VUV": {},
	"XAF": {},
	"XOF": {},
	"XPF": {},
}

var hundred = decimal.NewFromInt(100)

// IsZeroDecimal reports whether currency has no fractional subunit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimal[strings.ToUpper(currency)]
	return ok
}

// Encode converts a decimal currency amount to the processor's minor-unit
// integer representation, rounding to the nearest unit.
func Encode(amt decimal.Decimal, currency string) int64 {
	if IsZeroDecimal(currency) {
		return amt.Round(0).IntPart()
	}
	return amt.Mul(hundred).Round(0).IntPart()
}

// Decode converts a processor minor-unit integer back to a decimal amount.
func Decode(minor int64, currency string) decimal.Decimal {
	d := decimal.NewFromInt(minor)
	if IsZeroDecimal(currency) {
		return d
	}
	return d.Div(hundred)
}
