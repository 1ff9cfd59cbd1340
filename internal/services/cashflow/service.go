// Package cashflow projects monthly cash positions with scheduled tax
// obligations, based on the trailing twelve months of transactions.
package cashflow

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/money"
	"ato-tax-optimizer-backend/internal/rates"
)

const (
	DefaultHorizonMonths = 12
	MaxHorizonMonths     = 36
	historyMonths        = 12
	reserveMonths        = 3
)

const Disclaimer = "This forecast is an estimate based on historical transactions and assumed tax obligations. It is general information only and not financial product advice under the Corporations Act 2001 (see ASIC RG 234). Actual results will differ."

type ObligationType string

const (
	ObligationIncomeTax ObligationType = "income_tax_provision"
	ObligationGST       ObligationType = "gst"
	ObligationPAYG      ObligationType = "payg_instalment"
	ObligationFBT       ObligationType = "fbt_instalment"
	ObligationSuper     ObligationType = "superannuation_guarantee"
)

// Due months per obligation; payments fall on the 28th.
var dueMonths = map[ObligationType][]time.Month{
	ObligationGST:   {time.October, time.February, time.April, time.July},
	ObligationPAYG:  {time.October, time.February, time.April, time.August},
	ObligationFBT:   {time.October, time.February, time.April, time.July},
	ObligationSuper: {time.October, time.January, time.April, time.July},
}

var wageKeywords = []string{"wage", "salary", "salaries", "payroll"}

type Options struct {
	// StartMonth is "YYYY-MM"; defaults to the month after today.
	StartMonth          string   `json:"start_month"`
	HorizonMonths       int      `json:"horizon_months"`
	OpeningBalance      *float64 `json:"opening_balance"`
	MonthlyGrowthRate   float64  `json:"monthly_growth_rate"`
	BaseRateEntity      bool     `json:"base_rate_entity"`
	AnnualFBTLiability  *float64 `json:"annual_fbt_liability"`
	QuarterlyPAYGAmount *float64 `json:"quarterly_payg_amount"`
}

type Obligation struct {
	Type    ObligationType `json:"type"`
	DueDate string         `json:"due_date"`
	Amount  float64        `json:"amount"`
}

type Period struct {
	Month          string       `json:"month"`
	OpeningBalance float64      `json:"opening_balance"`
	Income         float64      `json:"income"`
	Expenses       float64      `json:"expenses"`
	Obligations    []Obligation `json:"obligations"`
	TaxObligations float64      `json:"tax_obligations"`
	NetCashflow    float64      `json:"net_cashflow"`
	ClosingBalance float64      `json:"closing_balance"`
	Negative       bool         `json:"negative"`
}

type ObligationTotal struct {
	Type   ObligationType `json:"type"`
	Amount float64        `json:"amount"`
}

type Summary struct {
	TenantID               string                 `json:"tenant_id"`
	StartMonth             string                 `json:"start_month"`
	HorizonMonths          int                    `json:"horizon_months"`
	HistoryFrom            string                 `json:"history_from"`
	HistoryTo              string                 `json:"history_to"`
	OpeningBalance         analysis.Fact[float64] `json:"opening_balance"`
	AverageMonthlyIncome   float64                `json:"average_monthly_income"`
	AverageMonthlyExpenses float64                `json:"average_monthly_expenses"`
	AverageMonthlyWages    float64                `json:"average_monthly_wages"`
	EstimatedAnnualTax     float64                `json:"estimated_annual_tax"`
	Periods                []Period               `json:"periods"`
	ObligationTotals       []ObligationTotal      `json:"obligation_totals"`
	TotalTaxObligations    float64                `json:"total_tax_obligations"`
	AverageMonthlyTax      float64                `json:"average_monthly_tax"`
	RecommendedReserve     float64                `json:"recommended_reserve"`
	LowestClosingBalance   float64                `json:"lowest_closing_balance"`
	LowestClosingMonth     string                 `json:"lowest_closing_month"`
	NegativePeriods        int                    `json:"negative_periods"`
	Alerts                 []string               `json:"alerts"`
	Warnings               []string               `json:"warnings"`
	Recommendations        []string               `json:"recommendations"`
	Disclaimer             string                 `json:"disclaimer"`
	analysis.Provenance
}

type Service struct {
	store analysis.TransactionStore
	rates *rates.Resolver
	log   zerolog.Logger
}

func NewService(store analysis.TransactionStore, resolver *rates.Resolver, log zerolog.Logger) *Service {
	return &Service{store: store, rates: resolver, log: log.With().Str("engine", "cashflow").Logger()}
}

// monthlyBase is the recurring position the projection starts from.
type monthlyBase struct {
	income, expenses, wages, gstNet float64
}

// Forecast projects cash positions over the requested horizon.
func (s *Service) Forecast(ctx context.Context, tenantID string, opts Options) (*Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, analysis.ErrInvalidTenant
	}
	horizon := opts.HorizonMonths
	if horizon <= 0 {
		horizon = DefaultHorizonMonths
	}
	if horizon > MaxHorizonMonths {
		horizon = MaxHorizonMonths
	}
	start, err := startMonth(opts.StartMonth)
	if err != nil {
		return nil, err
	}
	histFrom := start.AddDate(0, -historyMonths, 0)
	histTo := start.Add(-time.Second)

	summary := &Summary{
		TenantID:         tenantID,
		StartMonth:       start.Format("2006-01"),
		HorizonMonths:    horizon,
		HistoryFrom:      analysis.ISODate(histFrom),
		HistoryTo:        analysis.ISODate(histTo),
		OpeningBalance:   analysis.FactFromPtr(opts.OpeningBalance, "No opening cash balance supplied; projection starts from $0."),
		Periods:          []Period{},
		ObligationTotals: []ObligationTotal{},
		Alerts:           []string{},
		Warnings:         []string{},
		Recommendations:  []string{},
		Disclaimer:       Disclaimer,
	}

	txs, err := s.store.FetchTransactions(ctx, tenantID, analysis.TransactionFilter{StartDate: &histFrom, EndDate: &histTo})
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Msg("cash flow history fetch failed")
		return nil, fmt.Errorf("failed to fetch cash flow history: %w", err)
	}
	if len(txs) == 0 {
		summary.Warnings = append(summary.Warnings, "No transactions in the trailing twelve months; income and expense averages are zero.")
	}
	if !summary.OpeningBalance.Known {
		summary.Warnings = append(summary.Warnings, summary.OpeningBalance.Note)
	}

	fy := fiscal.FinancialYearForDate(start)
	corpName := rates.CorporateTaxRate
	if opts.BaseRateEntity {
		corpName = rates.BaseRateEntityTaxRate
	}
	corp := s.rates.Resolve(ctx, corpName, fy)
	sg := s.rates.Resolve(ctx, rates.SuperGuaranteeRate, fy)
	resolved := []rates.Resolved{corp, sg}

	var base monthlyBase
	var fbtFlagged []float64
	for _, tx := range txs {
		amt := math.Abs(tx.Amount)
		switch {
		case analysis.IsIncome(tx):
			base.income += amt
		case analysis.IsExpense(tx):
			base.expenses += amt
			if analysis.ContainsAny(analysis.Text(tx), wageKeywords) {
				base.wages += amt
			}
		}
		if tx.FbtImplications {
			fbtFlagged = append(fbtFlagged, amt)
		}
	}
	base.income /= historyMonths
	base.expenses /= historyMonths
	base.wages /= historyMonths
	base.gstNet = math.Max(0, (base.income-base.expenses)/11)
	summary.AverageMonthlyIncome = money.Round2(base.income)
	summary.AverageMonthlyExpenses = money.Round2(base.expenses)
	summary.AverageMonthlyWages = money.Round2(base.wages)

	summary.EstimatedAnnualTax = money.Mul(math.Max(0, base.income-base.expenses)*12, corp.Value)
	paygQuarterly := summary.EstimatedAnnualTax / 4
	if opts.QuarterlyPAYGAmount != nil {
		paygQuarterly = *opts.QuarterlyPAYGAmount
	}
	provisionMonthly := math.Max(0, summary.EstimatedAnnualTax-4*paygQuarterly) / 12

	var fbtAnnual float64
	switch {
	case opts.AnnualFBTLiability != nil:
		fbtAnnual = *opts.AnnualFBTLiability
	case len(fbtFlagged) > 0:
		fbtYear := fiscal.FBTYearForDate(start)
		fbtRate := s.rates.Resolve(ctx, rates.FBTRate, fbtYear)
		grossUp := s.rates.Resolve(ctx, rates.FBTType1GrossUp, fbtYear)
		resolved = append(resolved, fbtRate, grossUp)
		fbtAnnual = money.Sum(fbtFlagged...) * grossUp.Value * fbtRate.Value
		summary.Warnings = append(summary.Warnings, "FBT instalments estimated from FBT-flagged transactions at the Type 1 gross-up rate; supply the annual FBT liability for accuracy.")
	}
	summary.Provenance = analysis.ProvenanceOf(resolved...)

	totals := map[ObligationType]float64{}
	opening := 0.0
	if summary.OpeningBalance.Known {
		opening = summary.OpeningBalance.Value
	}
	for i := 0; i < horizon; i++ {
		month := start.AddDate(0, i, 0)
		growth := math.Pow(1+opts.MonthlyGrowthRate, float64(i))
		p := Period{
			Month:          month.Format("2006-01"),
			OpeningBalance: money.Round2(opening),
			Income:         money.Round2(base.income * growth),
			Expenses:       money.Round2(base.expenses),
			Obligations:    []Obligation{},
		}
		add := func(t ObligationType, amount float64) {
			amount = money.Round2(amount)
			if amount <= 0 {
				return
			}
			due := time.Date(month.Year(), month.Month(), 28, 0, 0, 0, 0, time.UTC)
			p.Obligations = append(p.Obligations, Obligation{Type: t, DueDate: analysis.ISODate(due), Amount: amount})
			totals[t] = money.Sum(totals[t], amount)
		}
		add(ObligationIncomeTax, provisionMonthly)
		if isDue(ObligationGST, month) {
			add(ObligationGST, base.gstNet*3)
		}
		if isDue(ObligationPAYG, month) {
			add(ObligationPAYG, paygQuarterly)
		}
		if isDue(ObligationFBT, month) {
			add(ObligationFBT, fbtAnnual/4)
		}
		if isDue(ObligationSuper, month) {
			add(ObligationSuper, base.wages*3*sg.Value)
		}

		for _, o := range p.Obligations {
			p.TaxObligations = money.Sum(p.TaxObligations, o.Amount)
		}
		p.NetCashflow = money.Round2(p.Income - p.Expenses - p.TaxObligations)
		p.ClosingBalance = money.Sum(p.OpeningBalance, p.NetCashflow)
		p.Negative = p.ClosingBalance < 0
		if p.Negative {
			summary.NegativePeriods++
			summary.Alerts = append(summary.Alerts, fmt.Sprintf("Projected cash position is negative ($%.2f) at the end of %s.", p.ClosingBalance, p.Month))
		}
		if i == 0 || p.ClosingBalance < summary.LowestClosingBalance {
			summary.LowestClosingBalance = p.ClosingBalance
			summary.LowestClosingMonth = p.Month
		}
		summary.TotalTaxObligations = money.Sum(summary.TotalTaxObligations, p.TaxObligations)
		summary.Periods = append(summary.Periods, p)
		opening = p.ClosingBalance
	}

	for _, t := range []ObligationType{ObligationIncomeTax, ObligationGST, ObligationPAYG, ObligationFBT, ObligationSuper} {
		if v, ok := totals[t]; ok {
			summary.ObligationTotals = append(summary.ObligationTotals, ObligationTotal{Type: t, Amount: v})
		}
	}
	summary.AverageMonthlyTax = money.Round2(summary.TotalTaxObligations / float64(horizon))
	summary.RecommendedReserve = money.Round2(summary.AverageMonthlyTax * reserveMonths)
	summary.Recommendations = recommendations(summary)
	return summary, nil
}

func isDue(t ObligationType, month time.Time) bool {
	for _, m := range dueMonths[t] {
		if month.Month() == m {
			return true
		}
	}
	return false
}

func startMonth(raw string) (time.Time, error) {
	if raw == "" {
		now := fiscal.Now().UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0), nil
	}
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start month %q must be YYYY-MM", analysis.ErrInvalidOptions, raw)
	}
	return t, nil
}

func recommendations(s *Summary) []string {
	recs := []string{}
	if s.RecommendedReserve > 0 {
		recs = append(recs, fmt.Sprintf("Hold a cash reserve of at least $%.2f (three months of average tax obligations).", s.RecommendedReserve))
	}
	if s.NegativePeriods > 0 {
		recs = append(recs, fmt.Sprintf("Cash is projected to go negative in %d month(s), lowest $%.2f in %s; arrange funding or timing changes ahead of these dates.",
			s.NegativePeriods, s.LowestClosingBalance, s.LowestClosingMonth))
	}
	if !s.OpeningBalance.Known {
		recs = append(recs, "Supply the current bank balance to make projected positions meaningful.")
	}
	if len(recs) == 0 {
		recs = append(recs, "No cash shortfalls projected over the forecast horizon.")
	}
	return recs
}
