// Package payg compares PAYG instalment methods (TAA 1953 Div 45) against the
// estimated annual liability and recommends method switches or variations.
package payg

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/money"
	"ato-tax-optimizer-backend/internal/rates"
)

type Method string

const (
	MethodRate   Method = "rate"
	MethodAmount Method = "amount"
)

// Policy holds the comparison thresholds.
type Policy struct {
	// SwitchThreshold is the overpayment ratio above which the rate method is recommended.
	SwitchThreshold float64
	// VariationThreshold is the ratio at which instalments materially exceed liability.
	VariationThreshold float64
	// SafeHarbourRatio of the estimated liability is the recommended varied amount.
	SafeHarbourRatio float64
}

var DefaultPolicy = Policy{SwitchThreshold: 1.2, VariationThreshold: 1.2, SafeHarbourRatio: 0.85}

const PenaltyWarning = "Varying instalments below 85% of the actual liability may attract the General Interest Charge under s 45-235 TAA 1953. Only vary if confident the estimate is reliable."

type Options struct {
	FinancialYear         string   `json:"financial_year"`
	Method                Method   `json:"method"`
	NotifiedRate          *float64 `json:"notified_rate"`
	NotifiedAnnualAmount  *float64 `json:"notified_annual_amount"`
	VariedAnnualAmount    *float64 `json:"varied_annual_amount"`
	EstimatedTaxLiability *float64 `json:"estimated_tax_liability"`
	BaseRateEntity        bool     `json:"base_rate_entity"`
}

type Quarter struct {
	Quarter                string  `json:"quarter"`
	Period                 string  `json:"period"`
	Start                  string  `json:"start"`
	End                    string  `json:"end"`
	DueDate                string  `json:"due_date"`
	InstalmentIncome       float64 `json:"instalment_income"`
	RateMethodInstalment   float64 `json:"rate_method_instalment"`
	AmountMethodInstalment float64 `json:"amount_method_instalment"`
	Instalment             float64 `json:"instalment"`
}

type CashflowImpact struct {
	Saving             float64 `json:"saving"`
	OptimisedQuarterly float64 `json:"optimised_quarterly"`
}

type Summary struct {
	TenantID                string                 `json:"tenant_id"`
	FinancialYear           string                 `json:"financial_year"`
	CurrentMethod           Method                 `json:"current_method"`
	NotifiedRate            analysis.Fact[float64] `json:"notified_rate"`
	Quarters                []Quarter              `json:"quarters"`
	TotalIncome             float64                `json:"total_income"`
	TotalExpenses           float64                `json:"total_expenses"`
	CorporateTaxRate        float64                `json:"corporate_tax_rate"`
	EstimatedTaxLiability   float64                `json:"estimated_tax_liability"`
	LiabilitySource         string                 `json:"liability_source"`
	AnnualInstalmentsRate   float64                `json:"annual_instalments_rate_method"`
	AnnualInstalmentsAmount float64                `json:"annual_instalments_amount_method"`
	AnnualInstalments       float64                `json:"annual_instalments"`
	Overpayment             float64                `json:"overpayment"`
	RecommendedMethod       Method                 `json:"recommended_method"`
	MethodRecommendation    string                 `json:"method_recommendation"`
	VariationRecommended    bool                   `json:"variation_recommended"`
	VariationAmount         float64                `json:"variation_amount"`
	PenaltyWarning          string                 `json:"penalty_warning,omitempty"`
	CashflowImpact          CashflowImpact         `json:"cashflow_impact"`
	Warnings                []string               `json:"warnings"`
	Recommendations         []string               `json:"recommendations"`
	LegislativeReferences   []string               `json:"legislative_references"`
	analysis.Provenance
}

type Service struct {
	store  analysis.TransactionStore
	rates  *rates.Resolver
	policy Policy
	log    zerolog.Logger
}

func NewService(store analysis.TransactionStore, resolver *rates.Resolver, log zerolog.Logger) *Service {
	return &Service{store: store, rates: resolver, policy: DefaultPolicy, log: log.With().Str("engine", "payg").Logger()}
}

// quarterWindow is a fixed instalment quarter and its due month.
type quarterWindow struct {
	name       string
	period     string
	startMonth time.Month
	dueMonth   time.Month
	dueNextCal bool
}

var quarterWindows = []quarterWindow{
	{"Q1", "Jul-Sep", time.July, time.October, false},
	{"Q2", "Oct-Dec", time.October, time.February, true},
	{"Q3", "Jan-Mar", time.January, time.April, true},
	{"Q4", "Apr-Jun", time.April, time.August, true},
}

// Quarters returns the instalment quarters of fy with their due dates.
func Quarters(fy string) ([]Quarter, bool) {
	start, ok := fiscal.ParseFinancialYear(fy)
	if !ok {
		return nil, false
	}
	out := make([]Quarter, 0, 4)
	for i, w := range quarterWindows {
		year := start
		if i >= 2 {
			year = start + 1
		}
		from := time.Date(year, w.startMonth, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, 3, -1)
		dueYear := start
		if w.dueNextCal {
			dueYear = start + 1
		}
		out = append(out, Quarter{
			Quarter: w.name,
			Period:  w.period,
			Start:   analysis.ISODate(from),
			End:     analysis.ISODate(to),
			DueDate: analysis.ISODate(time.Date(dueYear, w.dueMonth, 28, 0, 0, 0, 0, time.UTC)),
		})
	}
	return out, true
}

func quarterIndex(t time.Time) int {
	switch t.Month() {
	case time.July, time.August, time.September:
		return 0
	case time.October, time.November, time.December:
		return 1
	case time.January, time.February, time.March:
		return 2
	default:
		return 3
	}
}

// AnalyzeInstalments compares the instalment methods for one financial year.
func (s *Service) AnalyzeInstalments(ctx context.Context, tenantID string, opts Options) (*Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, analysis.ErrInvalidTenant
	}
	fy := opts.FinancialYear
	if fy == "" {
		fy = fiscal.CurrentFinancialYear()
	}
	summary := &Summary{
		TenantID:              tenantID,
		FinancialYear:         fy,
		NotifiedRate:          analysis.FactFromPtr(opts.NotifiedRate, "No instalment rate notified by the ATO was supplied."),
		Quarters:              []Quarter{},
		Warnings:              []string{},
		Recommendations:       []string{},
		LegislativeReferences: []string{"TAA 1953 Sch 1 Division 45", "TAA 1953 Sch 1 s 45-112 (instalment amount method)", "TAA 1953 Sch 1 s 45-235 (GIC on varied instalments)"},
	}
	quarters, ok := Quarters(fy)
	if !ok {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Invalid financial year %q; expected a label like FY2024-25.", fy))
		summary.Provenance = analysis.Provenance{TaxRateSource: rates.SourceFallback}
		return summary, nil
	}

	txs, err := s.store.FetchTransactions(ctx, tenantID, analysis.TransactionFilter{FromYear: fy, ToYear: fy})
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Str("financial_year", fy).Msg("PAYG income fetch failed")
		return nil, fmt.Errorf("failed to fetch PAYG income data: %w", err)
	}

	rateName := rates.CorporateTaxRate
	if opts.BaseRateEntity {
		rateName = rates.BaseRateEntityTaxRate
	}
	corp := s.rates.Resolve(ctx, rateName, fy)
	summary.Provenance = analysis.ProvenanceOf(corp)
	summary.CorporateTaxRate = corp.Value

	var income, expenses []float64
	quarterIncome := make([][]float64, 4)
	for _, tx := range txs {
		amt := math.Abs(tx.Amount)
		switch {
		case analysis.IsIncome(tx) && tx.Status != models.StatusVoided:
			income = append(income, amt)
			q := quarterIndex(tx.TransactionDate)
			quarterIncome[q] = append(quarterIncome[q], amt)
		case analysis.IsExpense(tx) && tx.Status != models.StatusVoided:
			expenses = append(expenses, amt)
		}
	}
	summary.TotalIncome = money.Sum(income...)
	summary.TotalExpenses = money.Sum(expenses...)

	if opts.EstimatedTaxLiability != nil {
		summary.EstimatedTaxLiability = money.Round2(*opts.EstimatedTaxLiability)
		summary.LiabilitySource = "supplied"
	} else {
		summary.EstimatedTaxLiability = money.Mul(math.Max(0, summary.TotalIncome-summary.TotalExpenses), corp.Value)
		summary.LiabilitySource = "estimated_from_transactions"
	}

	rate := 0.0
	switch {
	case opts.NotifiedRate != nil:
		rate = *opts.NotifiedRate
	case summary.TotalIncome > 0:
		rate = summary.EstimatedTaxLiability / summary.TotalIncome
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("No notified instalment rate supplied; an implied rate of %.2f%% (estimated liability over income) has been used for the rate method.", rate*100))
	}

	annualAmount := 0.0
	amountKnown := false
	switch {
	case opts.VariedAnnualAmount != nil:
		annualAmount, amountKnown = *opts.VariedAnnualAmount, true
	case opts.NotifiedAnnualAmount != nil:
		annualAmount, amountKnown = *opts.NotifiedAnnualAmount, true
	}

	summary.CurrentMethod = opts.Method
	if summary.CurrentMethod == "" {
		summary.CurrentMethod = MethodRate
		if amountKnown {
			summary.CurrentMethod = MethodAmount
		}
	}
	if summary.CurrentMethod == MethodAmount && !amountKnown {
		summary.Warnings = append(summary.Warnings, "Amount method selected but no notified or varied annual amount was supplied; the rate method has been used.")
		summary.CurrentMethod = MethodRate
	}

	var rateTotal, amountTotal []float64
	for i := range quarters {
		q := &quarters[i]
		q.InstalmentIncome = money.Sum(quarterIncome[i]...)
		q.RateMethodInstalment = money.Mul(q.InstalmentIncome, rate)
		if amountKnown {
			q.AmountMethodInstalment = money.Round2(annualAmount / 4)
		}
		q.Instalment = q.RateMethodInstalment
		if summary.CurrentMethod == MethodAmount {
			q.Instalment = q.AmountMethodInstalment
		}
		rateTotal = append(rateTotal, q.RateMethodInstalment)
		amountTotal = append(amountTotal, q.AmountMethodInstalment)
	}
	summary.Quarters = quarters
	summary.AnnualInstalmentsRate = money.Sum(rateTotal...)
	summary.AnnualInstalmentsAmount = money.Sum(amountTotal...)
	summary.AnnualInstalments = summary.AnnualInstalmentsRate
	if summary.CurrentMethod == MethodAmount {
		summary.AnnualInstalments = summary.AnnualInstalmentsAmount
	}

	s.compare(summary)
	summary.Recommendations = recommendations(summary)
	return summary, nil
}

// compare sets the method recommendation, variation advice and cashflow impact.
func (s *Service) compare(sum *Summary) {
	liability := sum.EstimatedTaxLiability
	sum.Overpayment = money.Round2(sum.AnnualInstalments - liability)
	sum.CashflowImpact = CashflowImpact{
		Saving:             money.Round2(math.Max(0, sum.AnnualInstalments-liability)),
		OptimisedQuarterly: money.Round2(liability / 4),
	}

	sum.RecommendedMethod = sum.CurrentMethod
	sum.MethodRecommendation = "Retain the current instalment method."
	if sum.CurrentMethod == MethodAmount && sum.AnnualInstalmentsAmount > liability*s.policy.SwitchThreshold {
		sum.RecommendedMethod = MethodRate
		sum.MethodRecommendation = fmt.Sprintf("Switch to the rate method: amount-method instalments ($%.2f) exceed estimated liability ($%.2f) by more than %.0f%%.",
			sum.AnnualInstalmentsAmount, liability, (s.policy.SwitchThreshold-1)*100)
	}

	if sum.AnnualInstalments > liability*s.policy.VariationThreshold {
		sum.VariationRecommended = true
		sum.VariationAmount = money.Mul(liability, s.policy.SafeHarbourRatio)
		sum.PenaltyWarning = PenaltyWarning
	}
}

func recommendations(s *Summary) []string {
	recs := []string{}
	if s.RecommendedMethod != s.CurrentMethod {
		recs = append(recs, s.MethodRecommendation)
	}
	if s.VariationRecommended {
		recs = append(recs, fmt.Sprintf("Consider varying instalments to $%.2f for the year (85%% of estimated liability) on the next activity statement.", s.VariationAmount))
		recs = append(recs, s.PenaltyWarning)
	}
	if s.CashflowImpact.Saving > 0 {
		recs = append(recs, fmt.Sprintf("Aligning instalments with estimated liability would free $%.2f of cash flow this year ($%.2f per quarter).", s.CashflowImpact.Saving, s.CashflowImpact.OptimisedQuarterly))
	}
	if s.AnnualInstalments < s.EstimatedTaxLiability {
		recs = append(recs, fmt.Sprintf("Instalments are $%.2f below estimated liability; provision for the balance due on assessment.", money.Round2(s.EstimatedTaxLiability-s.AnnualInstalments)))
	}
	if len(recs) == 0 {
		recs = append(recs, "Instalments are in line with estimated liability; no change recommended.")
	}
	return recs
}
