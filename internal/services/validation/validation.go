// Package validation re-checks engine outputs for arithmetic and logical
// consistency before they are shown to an accountant.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"ato-tax-optimizer-backend/internal/money"
	"ato-tax-optimizer-backend/internal/services/div7a"
	"ato-tax-optimizer-backend/internal/services/losses"
	"ato-tax-optimizer-backend/internal/services/rnd"
)

// Tolerance is the largest rounding difference accepted between a reported
// figure and its recomputation.
const Tolerance = 0.02

// LowProjectConfidence is the project confidence below which a warning is raised.
const LowProjectConfidence = 60

// Result is the outcome of one validation run.
type Result struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

func newResult() *Result {
	return &Result{Issues: []string{}, Warnings: []string{}}
}

func (r *Result) issuef(format string, args ...any) {
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) done() Result {
	r.Valid = len(r.Issues) == 0
	return *r
}

func differs(a, b float64) bool {
	return math.Abs(a-b) > Tolerance+1e-9
}

// Div7A checks balances, benchmark interest and compliance flags per loan.
func Div7A(s *div7a.Summary) Result {
	r := newResult()
	if s == nil {
		return r.done()
	}
	for _, loan := range s.Loans {
		name := loan.Shareholder
		expected := math.Max(0, money.Sum(loan.OpeningBalance.Amount, loan.Advances, -loan.Repayments))
		if differs(loan.ClosingBalance, expected) {
			r.issuef("%s: closing balance $%.2f does not equal opening $%.2f + advances $%.2f - repayments $%.2f", name, loan.ClosingBalance, loan.OpeningBalance.Amount, loan.Advances, loan.Repayments)
		}
		if want := money.Mul(loan.ClosingBalance, loan.BenchmarkRate); differs(loan.BenchmarkInterestRequired, want) {
			r.issuef("%s: benchmark interest $%.2f does not equal $%.2f x %.2f%% = $%.2f", name, loan.BenchmarkInterestRequired, loan.ClosingBalance, loan.BenchmarkRate*100, want)
		}
		if loan.InterestCharged+Tolerance < loan.BenchmarkInterestRequired {
			r.warnf("%s: interest charged $%.2f is below the benchmark $%.2f", name, loan.InterestCharged, loan.BenchmarkInterestRequired)
		}
		if loan.IsCompliant {
			if loan.InterestShortfall > 0 {
				r.issuef("%s: marked compliant with an interest shortfall of $%.2f", name, loan.InterestShortfall)
			}
			if loan.WrittenAgreement.Known && !loan.WrittenAgreement.Value {
				r.issuef("%s: marked compliant without a written agreement", name)
			}
		}
		if m := loan.MinimumRepayment; m.Amount > m.Principal+Tolerance {
			r.issuef("%s: minimum repayment $%.2f exceeds the loan balance $%.2f", name, m.Amount, m.Principal)
		}
		if loan.DeemedDividendRisk < 0 {
			r.issuef("%s: deemed dividend risk cannot be negative", name)
		}
		if !loan.WrittenAgreement.Known {
			r.warnf("%s: written agreement status is unknown", name)
		}
	}
	return r.done()
}

// Losses checks the loss roll-forward and the future tax value.
func Losses(s *losses.Summary) Result {
	r := newResult()
	if s == nil {
		return r.done()
	}
	for _, y := range s.Years {
		expected := money.Sum(y.OpeningRevenueLosses, y.RevenueLossGenerated, -y.RevenueLossesUtilised)
		if differs(y.ClosingRevenueLosses, expected) {
			r.issuef("%s: closing losses $%.2f does not equal opening $%.2f + generated $%.2f - utilised $%.2f", y.FinancialYear, y.ClosingRevenueLosses, y.OpeningRevenueLosses, y.RevenueLossGenerated, y.RevenueLossesUtilised)
		}
		if y.RevenueLossesUtilised < 0 {
			r.issuef("%s: losses utilised cannot be negative", y.FinancialYear)
		}
		if available := money.Sum(y.OpeningRevenueLosses, y.RevenueLossGenerated); y.RevenueLossesUtilised > available+Tolerance {
			r.issuef("%s: utilised $%.2f exceeds available losses $%.2f", y.FinancialYear, y.RevenueLossesUtilised, available)
		}
		if y.CapitalLossesUtilised > y.CapitalGains+Tolerance {
			r.issuef("%s: capital losses utilised $%.2f exceed capital gains $%.2f", y.FinancialYear, y.CapitalLossesUtilised, y.CapitalGains)
		}
	}
	at25 := money.Mul(s.ClosingRevenueLosses, 0.25)
	at30 := money.Mul(s.ClosingRevenueLosses, 0.30)
	if differs(s.FutureTaxValue, at25) && differs(s.FutureTaxValue, at30) {
		r.issuef("future tax value $%.2f is neither $%.2f x 25%% ($%.2f) nor x 30%% ($%.2f)", s.FutureTaxValue, s.ClosingRevenueLosses, at25, at30)
	}
	a := s.CotSbtAnalysis
	if s.EntityType == losses.EntityTrust && (a.COTConfidence != 0 || a.SBTConfidence != 0 || a.TrustLossRule != losses.TrustRuleDivision266) {
		r.issuef("trust losses must be tested under Schedule 2F with no COT/SBT confidence")
	}
	if a.SBTRequired && a.SBTConfidence < 50 && s.ClosingRevenueLosses > 0 {
		r.warnf("continuity of ownership failed and same business evidence is weak; carried-forward losses may not be available")
	}
	return r.done()
}

// Rnd checks the four-element results behind each project.
func Rnd(s *rnd.Summary) Result {
	r := newResult()
	if s == nil {
		return r.done()
	}
	checkElements := func(project string, el rnd.FourElementTest) {
		for _, e := range rnd.Elements {
			res := el.Result(e)
			if res.Confidence < 0 || res.Confidence > 100 {
				r.issuef("%s: %s confidence %d is outside 0-100", project, e, res.Confidence)
			}
			if res.Met && len(res.Evidence) == 0 {
				r.warnf("%s: %s is marked met without supporting evidence", project, e)
			}
		}
	}
	for _, p := range s.Projects {
		checkElements(p.Name, p.Elements)
		if p.Eligible != p.Elements.AllMet() {
			r.issuef("%s: eligible is %t but the four-element test says %t", p.Name, p.Eligible, p.Elements.AllMet())
		}
		if p.Confidence < 0 || p.Confidence > 100 {
			r.issuef("%s: confidence %d is outside 0-100", p.Name, p.Confidence)
		} else if p.Confidence < LowProjectConfidence {
			r.warnf("%s: confidence %d%% is below %d%%", p.Name, p.Confidence, LowProjectConfidence)
		}
	}
	for _, p := range s.ExcludedProjects {
		checkElements(p.Name, p.Elements)
		if p.Elements.AllMet() {
			r.issuef("%s: excluded although all four elements are met", p.Name)
		}
	}
	return r.done()
}

var fyLabel = regexp.MustCompile(`^FY(\d{4})-(\d{2})$`)

// FinancialYear checks a label's format, that its years are consecutive, and
// that it falls in a plausible range as of now.
func FinancialYear(fy string, now time.Time) Result {
	r := newResult()
	m := fyLabel.FindStringSubmatch(fy)
	if m == nil {
		r.issuef("invalid financial year format %q; expected FY2024-25", fy)
		return r.done()
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	if end != (start+1)%100 {
		r.issuef("financial year %q must span consecutive years", fy)
	}
	if start < 2000 || start > now.Year()+2 {
		r.warnf("financial year %q is outside the plausible range 2000-%d", fy, now.Year()+2)
	}
	return r.done()
}
