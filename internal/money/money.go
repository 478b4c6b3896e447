// Package money carries every cash-affecting computation in fixed-point
// decimal rather than float64, so ledger reconciliation lands on the cent
// rather than drifting with accumulated binary rounding error.
package money

import "github.com/shopspring/decimal"

// Amount is a dollar-and-cents value rounded to 2 decimal places on every
// operation that could introduce more precision than that (multiplication,
// division). Addition and subtraction are exact.
type Amount = decimal.Decimal

var (
	Zero      = decimal.Zero
	centsUnit = decimal.NewFromInt(100)
)

// FromFloat builds an Amount from a float64 price or quantity. Used only at
// the boundary where data arrives as float64 (bar prices from the market
// data provider); once inside money, everything stays decimal.
func FromFloat(f float64) Amount {
	return decimal.NewFromFloat(f)
}

// FromCents builds an exact Amount from an integer number of cents.
func FromCents(cents int64) Amount {
	return decimal.NewFromInt(cents).Div(centsUnit)
}

// Round rounds an Amount to 2 decimal places (cent precision), the
// convention used for every persisted cash figure.
func Round(a Amount) Amount {
	return a.Round(2)
}

// Mul multiplies two Amounts and rounds the result to cent precision. Used
// for price*qty notional and percentage-of-equity sizing.
func Mul(a, b Amount) Amount {
	return Round(a.Mul(b))
}

// MulInt multiplies an Amount by an integer quantity without intermediate
// rounding (exact for integer multiplicands), rounding the final result.
func MulInt(a Amount, qty int) Amount {
	return Round(a.Mul(decimal.NewFromInt(int64(qty))))
}

// LessThan, GreaterThanOrEqual etc. are thin wrappers kept here so callers
// never need to import shopspring/decimal directly outside this package.
func LessThan(a, b Amount) bool           { return a.LessThan(b) }
func LessOrEqual(a, b Amount) bool        { return a.LessThanOrEqual(b) }
func GreaterThan(a, b Amount) bool        { return a.GreaterThan(b) }
func GreaterOrEqual(a, b Amount) bool     { return a.GreaterThanOrEqual(b) }
func Abs(a Amount) Amount                 { return a.Abs() }
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// WithinTolerance reports whether |a-b| <= tolerance, the shape every
// reconciliation check in internal/audit needs.
func WithinTolerance(a, b, tolerance Amount) bool {
	return Abs(a.Sub(b)).LessThanOrEqual(tolerance)
}

// PennyTolerance is the $0.01 band ledger reconciliation is specified to.
var PennyTolerance = FromCents(1)
