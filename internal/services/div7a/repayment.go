package div7a

import (
	"math"
	"time"

	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/money"
)

// Amortize is the level annual repayment P x [r(1+r)^n] / [(1+r)^n - 1].
func Amortize(principal, rate float64, termYears int) float64 {
	if principal <= 0 || termYears <= 0 {
		return 0
	}
	n := float64(termYears)
	if rate == 0 {
		return principal / n
	}
	growth := math.Pow(1+rate, n)
	return principal * (rate * growth) / (growth - 1)
}

// CalculateMinimumRepayment returns the minimum yearly repayment (s 109E).
// When loanStart falls inside fy the amount is prorated by the days from the
// loan date to 30 June inclusive over 365.
func CalculateMinimumRepayment(principal, rate float64, termYears int, loanStart time.Time, fy string) MinimumRepayment {
	mr := MinimumRepayment{Principal: money.Round2(principal), Rate: rate, TermYears: termYears}
	if principal <= 0 || termYears <= 0 {
		return mr
	}
	mr.FullYearAmount = money.Round2(Amortize(principal, rate, termYears))
	mr.Amount = mr.FullYearAmount

	from, _, ok := fiscal.FinancialYearBounds(fy)
	end, _ := fiscal.FYEndDate(fy)
	if ok && !loanStart.IsZero() && !loanStart.Before(from) && !loanStart.After(end) {
		days := fiscal.DaysInclusive(loanStart, end)
		mr.Prorated = true
		mr.DaysRemaining = days
		mr.Amount = money.Round2(mr.FullYearAmount * float64(days) / 365)
	}
	return mr
}
