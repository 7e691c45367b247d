// Package money does currency arithmetic on float64 amounts through
// decimal values so sums and splits round to whole cents.
package money

import (
	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance used when comparing settled amounts against
// pending ones.
const Epsilon = 0.05

var epsilon = decimal.NewFromFloat(Epsilon)

func dec(x float64) decimal.Decimal { return decimal.NewFromFloat(x) }

func float(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// Round rounds x to cents.
func Round(x float64) float64 { return float(dec(x)) }

// Add sums amounts.
func Add(xs ...float64) float64 {
	total := decimal.Zero
	for _, x := range xs {
		total = total.Add(dec(x))
	}
	return float(total)
}

// Sub returns a - b.
func Sub(a, b float64) float64 { return float(dec(a).Sub(dec(b))) }

// Half returns half of x rounded to cents.
func Half(x float64) float64 { return float(dec(x).Div(decimal.NewFromInt(2))) }

// Positive reports whether x is strictly greater than zero.
func Positive(x float64) bool { return dec(x).IsPositive() }

// Exceeds reports whether a is larger than b by more than Epsilon.
func Exceeds(a, b float64) bool { return dec(a).GreaterThan(dec(b).Add(epsilon)) }

// LessBeyond reports whether a is smaller than b by more than Epsilon.
func LessBeyond(a, b float64) bool { return dec(a).LessThan(dec(b).Sub(epsilon)) }

// Greater reports whether a > b exactly, at cent precision.
func Greater(a, b float64) bool { return dec(a).Round(2).GreaterThan(dec(b).Round(2)) }

// AtLeast reports whether a >= b at cent precision.
func AtLeast(a, b float64) bool { return dec(a).Round(2).GreaterThanOrEqual(dec(b).Round(2)) }

// Mul returns a*b rounded to cents.
func Mul(a, b float64) float64 { return float(dec(a).Mul(dec(b))) }

// Between reports whether low <= x <= high, compared at cent precision.
func Between(x, low, high float64) bool {
	v := dec(x).Round(2)
	return v.GreaterThanOrEqual(dec(low).Round(2)) && v.LessThanOrEqual(dec(high).Round(2))
}
