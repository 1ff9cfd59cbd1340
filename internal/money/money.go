// Package money rounds dollar figures the way the ATO worksheets do:
// half away from zero at the cent.
package money

import "github.com/shopspring/decimal"

// Round2 rounds v to cents.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// RoundTo rounds v to places decimal places. Used for rates.
func RoundTo(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Sum adds amounts without accumulating float drift.
func Sum(amounts ...float64) float64 {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromFloat(a))
	}
	return total.InexactFloat64()
}

// Mul multiplies two figures in decimal and rounds to cents.
func Mul(a, b float64) float64 {
	return decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

// Abs is the magnitude of a signed amount.
func Abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
