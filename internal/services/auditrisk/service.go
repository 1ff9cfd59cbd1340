// Package auditrisk describes how a tenant's figures compare with industry
// benchmarks and common ATO review triggers. Output is descriptive only.
package auditrisk

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/money"
)

// BenchmarkDisclaimer accompanies every deviation-based finding.
const BenchmarkDisclaimer = "ATO small business benchmarks describe typical ranges for an industry. Falling outside a benchmark is not unlawful and does not require any change to how the business operates; it only means the ATO may ask for records that explain the difference."

const Disclaimer = "This assessment estimates the likelihood of ATO review from transaction patterns. It is general information, not a prediction of any ATO action."

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Benchmark is an industry expense profile.
type Benchmark struct {
	Industry         string  `json:"industry"`
	ExpenseRatioLow  float64 `json:"expense_ratio_low"`
	ExpenseRatioHigh float64 `json:"expense_ratio_high"`
	// MotorVehicleShare is the typical ceiling of motor vehicle costs as a share of expenses.
	MotorVehicleShare float64 `json:"motor_vehicle_share"`
}

var DefaultBenchmark = Benchmark{Industry: "default", ExpenseRatioLow: 0.60, ExpenseRatioHigh: 0.85, MotorVehicleShare: 0.05}

var Benchmarks = map[string]Benchmark{
	"construction":          {Industry: "construction", ExpenseRatioLow: 0.75, ExpenseRatioHigh: 0.92, MotorVehicleShare: 0.08},
	"retail":                {Industry: "retail", ExpenseRatioLow: 0.70, ExpenseRatioHigh: 0.90, MotorVehicleShare: 0.03},
	"hospitality":           {Industry: "hospitality", ExpenseRatioLow: 0.75, ExpenseRatioHigh: 0.93, MotorVehicleShare: 0.02},
	"professional_services": {Industry: "professional_services", ExpenseRatioLow: 0.50, ExpenseRatioHigh: 0.80, MotorVehicleShare: 0.04},
	"technology":            {Industry: "technology", ExpenseRatioLow: 0.55, ExpenseRatioHigh: 0.85, MotorVehicleShare: 0.02},
	"transport":             {Industry: "transport", ExpenseRatioLow: 0.75, ExpenseRatioHigh: 0.93, MotorVehicleShare: 0.15},
}

// Policy holds the red-flag thresholds, factor weights and tier bands.
type Policy struct {
	CashProportion       float64
	EntertainmentLimit   float64
	TravelLimit          float64
	HighDeviationPercent float64

	DeviationHighWeight   int
	DeviationMediumWeight int
	CashWeight            int
	EntertainmentWeight   int
	TravelWeight          int
	MotorVehicleWeight    int

	MediumScore int
	HighScore   int
}

var DefaultPolicy = Policy{
	CashProportion:        0.50,
	EntertainmentLimit:    5000,
	TravelLimit:           10000,
	HighDeviationPercent:  25,
	DeviationHighWeight:   30,
	DeviationMediumWeight: 15,
	CashWeight:            25,
	EntertainmentWeight:   15,
	TravelWeight:          15,
	MotorVehicleWeight:    15,
	MediumScore:           30,
	HighScore:             50,
}

var (
	cashKeywords          = []string{"cash", "atm", "withdrawal"}
	entertainmentKeywords = []string{"entertainment", "restaurant", "dining", "catering", "function", "wine", "bar tab"}
	travelKeywords        = []string{"travel", "flight", "airfare", "qantas", "virgin australia", "jetstar", "hotel", "accommodation", "airbnb"}
	motorVehicleKeywords  = []string{"motor vehicle", "fuel", "petrol", "diesel", "car service", "tyre", "rego", "toll"}
)

type Options struct {
	FinancialYear string `json:"financial_year"`
	Industry      string `json:"industry"`
}

// RiskFactor is one weighted contributor to the score.
type RiskFactor struct {
	Category     string   `json:"category"`
	Severity     Severity `json:"severity"`
	Weight       int      `json:"weight"`
	AtoFocusArea string   `json:"ato_focus_area"`
	Description  string   `json:"description"`
	Note         string   `json:"note"`
	Amount       float64  `json:"amount"`
	// DeviationBased factors carry BenchmarkDisclaimer.
	DeviationBased bool `json:"deviation_based"`
}

type BenchmarkComparison struct {
	Benchmark          Benchmark `json:"benchmark"`
	ActualExpenseRatio float64   `json:"actual_expense_ratio"`
	WithinRange        bool      `json:"within_range"`
	DeviationPercent   float64   `json:"deviation_percent"`
}

type Summary struct {
	TenantID              string              `json:"tenant_id"`
	FinancialYear         string              `json:"financial_year"`
	TotalIncome           float64             `json:"total_income"`
	TotalExpenses         float64             `json:"total_expenses"`
	TransactionCount      int                 `json:"transaction_count"`
	CashTransactionCount  int                 `json:"cash_transaction_count"`
	CashProportion        float64             `json:"cash_proportion"`
	EntertainmentSpend    float64             `json:"entertainment_spend"`
	TravelSpend           float64             `json:"travel_spend"`
	MotorVehicleSpend     float64             `json:"motor_vehicle_spend"`
	Comparison            BenchmarkComparison `json:"benchmark_comparison"`
	RiskFactors           []RiskFactor        `json:"risk_factors"`
	RiskScore             int                 `json:"risk_score"`
	RiskLevel             analysis.RiskLevel  `json:"risk_level"`
	BenchmarkDisclaimer   string              `json:"benchmark_disclaimer,omitempty"`
	Disclaimer            string              `json:"disclaimer"`
	Warnings              []string            `json:"warnings"`
	Recommendations       []string            `json:"recommendations"`
	LegislativeReferences []string            `json:"legislative_references"`
}

type Service struct {
	store  analysis.TransactionStore
	policy Policy
	log    zerolog.Logger
}

func NewService(store analysis.TransactionStore, log zerolog.Logger) *Service {
	return &Service{store: store, policy: DefaultPolicy, log: log.With().Str("engine", "audit_risk").Logger()}
}

// WithPolicy replaces the thresholds and weights.
func (s *Service) WithPolicy(p Policy) *Service {
	c := *s
	c.policy = p
	return &c
}

// BenchmarkFor returns the benchmark for industry and whether it was known.
func BenchmarkFor(industry string) (Benchmark, bool) {
	key := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(industry, " ", "_")))
	if b, ok := Benchmarks[key]; ok {
		return b, true
	}
	return DefaultBenchmark, false
}

// AssessRisk scores audit likelihood for one financial year.
func (s *Service) AssessRisk(ctx context.Context, tenantID string, opts Options) (*Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, analysis.ErrInvalidTenant
	}
	fy := opts.FinancialYear
	if fy == "" {
		fy = fiscal.CurrentFinancialYear()
	}
	bench, known := BenchmarkFor(opts.Industry)
	summary := &Summary{
		TenantID:        tenantID,
		FinancialYear:   fy,
		Comparison:      BenchmarkComparison{Benchmark: bench, WithinRange: true},
		RiskFactors:     []RiskFactor{},
		RiskLevel:       analysis.RiskLow,
		Disclaimer:      Disclaimer,
		Warnings:        []string{},
		Recommendations: []string{},
		LegislativeReferences: []string{
			"TAA 1953 Sch 1 s 355-25 (ATO access to records)",
			"ITAA 1936 s 262A (record keeping)",
		},
	}
	if _, ok := fiscal.ParseFinancialYear(fy); !ok {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Invalid financial year %q; expected a label like FY2024-25.", fy))
		return summary, nil
	}
	if !known && opts.Industry != "" {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("No benchmark for industry %q; the default range has been used.", opts.Industry))
	}

	txs, err := s.store.FetchTransactions(ctx, tenantID, analysis.TransactionFilter{FromYear: fy, ToYear: fy})
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Str("financial_year", fy).Msg("audit risk fetch failed")
		return nil, fmt.Errorf("failed to fetch audit risk transactions: %w", err)
	}

	var income, expenses, entertainment, travel, motor []float64
	for _, tx := range txs {
		amt := math.Abs(tx.Amount)
		text := analysis.Text(tx)
		if analysis.ContainsAny(text, cashKeywords) {
			summary.CashTransactionCount++
		}
		switch {
		case analysis.IsIncome(tx):
			income = append(income, amt)
		case analysis.IsExpense(tx):
			expenses = append(expenses, amt)
			switch {
			case analysis.ContainsAny(text, entertainmentKeywords):
				entertainment = append(entertainment, amt)
			case analysis.ContainsAny(text, travelKeywords):
				travel = append(travel, amt)
			case analysis.ContainsAny(text, motorVehicleKeywords):
				motor = append(motor, amt)
			}
		}
	}
	summary.TransactionCount = len(txs)
	summary.TotalIncome = money.Sum(income...)
	summary.TotalExpenses = money.Sum(expenses...)
	summary.EntertainmentSpend = money.Sum(entertainment...)
	summary.TravelSpend = money.Sum(travel...)
	summary.MotorVehicleSpend = money.Sum(motor...)
	if summary.TransactionCount > 0 {
		summary.CashProportion = money.RoundTo(float64(summary.CashTransactionCount)/float64(summary.TransactionCount), 4)
	}

	s.compareBenchmark(summary)
	s.redFlags(summary)
	s.tier(summary)
	summary.Recommendations = recommendations(summary)
	return summary, nil
}

func (s *Service) compareBenchmark(sum *Summary) {
	if sum.TotalIncome <= 0 {
		if sum.TotalExpenses > 0 {
			sum.Warnings = append(sum.Warnings, "No income recorded for the year; the expense ratio cannot be compared with the benchmark.")
		}
		return
	}
	b := sum.Comparison.Benchmark
	ratio := sum.TotalExpenses / sum.TotalIncome
	sum.Comparison.ActualExpenseRatio = money.RoundTo(ratio, 4)
	if ratio <= b.ExpenseRatioHigh {
		return
	}
	dev := money.Round2((ratio - b.ExpenseRatioHigh) / b.ExpenseRatioHigh * 100)
	sum.Comparison.WithinRange = false
	sum.Comparison.DeviationPercent = dev

	f := RiskFactor{
		Category:       "expense_ratio",
		Severity:       SeverityMedium,
		Weight:         s.policy.DeviationMediumWeight,
		AtoFocusArea:   "Small business benchmarks",
		Description:    fmt.Sprintf("Expenses are %.1f%% of income, %.1f%% above the upper end of the %s benchmark range (%.0f%%-%.0f%%).", ratio*100, dev, b.Industry, b.ExpenseRatioLow*100, b.ExpenseRatioHigh*100),
		Note:           BenchmarkDisclaimer,
		Amount:         sum.TotalExpenses,
		DeviationBased: true,
	}
	if dev > s.policy.HighDeviationPercent {
		f.Severity = SeverityHigh
		f.Weight = s.policy.DeviationHighWeight
	}
	sum.RiskFactors = append(sum.RiskFactors, f)
}

func (s *Service) redFlags(sum *Summary) {
	p := s.policy
	if sum.TransactionCount > 0 && sum.CashProportion > p.CashProportion {
		sum.RiskFactors = append(sum.RiskFactors, RiskFactor{
			Category:     "cash_transactions",
			Severity:     SeverityHigh,
			Weight:       p.CashWeight,
			AtoFocusArea: "Cash economy",
			Description:  fmt.Sprintf("%.0f%% of transactions (%d of %d) are cash.", sum.CashProportion*100, sum.CashTransactionCount, sum.TransactionCount),
			Note:         "Cash-heavy businesses are a standing ATO focus; complete cash records support reported figures.",
		})
	}
	if sum.EntertainmentSpend > p.EntertainmentLimit {
		sum.RiskFactors = append(sum.RiskFactors, RiskFactor{
			Category:     "entertainment",
			Severity:     SeverityMedium,
			Weight:       p.EntertainmentWeight,
			AtoFocusArea: "Entertainment and FBT",
			Description:  fmt.Sprintf("Entertainment spend of $%.2f exceeds $%.0f.", sum.EntertainmentSpend, p.EntertainmentLimit),
			Note:         "Entertainment is generally non-deductible (ITAA 1997 Div 32) unless FBT applies.",
			Amount:       sum.EntertainmentSpend,
		})
	}
	if sum.TravelSpend > p.TravelLimit {
		sum.RiskFactors = append(sum.RiskFactors, RiskFactor{
			Category:     "travel",
			Severity:     SeverityMedium,
			Weight:       p.TravelWeight,
			AtoFocusArea: "Travel expenses",
			Description:  fmt.Sprintf("Travel spend of $%.2f exceeds $%.0f.", sum.TravelSpend, p.TravelLimit),
			Note:         "Travel claims are reviewed for private apportionment; travel diaries apply to trips of 6 nights or more.",
			Amount:       sum.TravelSpend,
		})
	}
	if sum.TotalExpenses > 0 {
		share := sum.MotorVehicleSpend / sum.TotalExpenses
		limit := sum.Comparison.Benchmark.MotorVehicleShare
		if share > limit {
			sum.RiskFactors = append(sum.RiskFactors, RiskFactor{
				Category:       "motor_vehicle",
				Severity:       SeverityMedium,
				Weight:         p.MotorVehicleWeight,
				AtoFocusArea:   "Motor vehicle expenses",
				Description:    fmt.Sprintf("Motor vehicle costs are %.1f%% of expenses against a typical %.0f%%.", share*100, limit*100),
				Note:           BenchmarkDisclaimer,
				Amount:         sum.MotorVehicleSpend,
				DeviationBased: true,
			})
		}
	}
}

func (s *Service) tier(sum *Summary) {
	score, high := 0, 0
	for _, f := range sum.RiskFactors {
		score += f.Weight
		if f.Severity == SeverityHigh {
			high++
		}
		if f.DeviationBased {
			sum.BenchmarkDisclaimer = BenchmarkDisclaimer
		}
	}
	if score > 100 {
		score = 100
	}
	sum.RiskScore = score
	switch {
	case high >= 2:
		sum.RiskLevel = analysis.RiskVeryHigh
	case score >= s.policy.HighScore && high >= 1:
		sum.RiskLevel = analysis.RiskHigh
	case score >= s.policy.MediumScore:
		sum.RiskLevel = analysis.RiskMedium
	default:
		sum.RiskLevel = analysis.RiskLow
	}
}

// recommendations only ever ask for records and explanations.
func recommendations(s *Summary) []string {
	recs := []string{}
	for _, f := range s.RiskFactors {
		switch f.Category {
		case "expense_ratio":
			recs = append(recs, "Keep documentation that explains the expense profile for the year (invoices, contracts and notes on one-off costs) so it is ready if the ATO asks about the benchmark difference.")
		case "cash_transactions":
			recs = append(recs, "Keep complete records of cash takings and cash payments, including daily reconciliations of the till or cash book.")
		case "entertainment":
			recs = append(recs, "Record the attendees and business purpose for each entertainment expense and confirm its deductibility and FBT treatment.")
		case "travel":
			recs = append(recs, "Keep itineraries, receipts and travel diaries, and document any private portion of business trips.")
		case "motor_vehicle":
			recs = append(recs, "Keep a logbook or a record of the method used to claim motor vehicle costs and the business-use percentage.")
		}
		if f.DeviationBased {
			recs = append(recs, BenchmarkDisclaimer)
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "No audit risk indicators were found; continue keeping records as usual.")
	}
	return dedupe(recs)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
