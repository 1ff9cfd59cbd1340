// Package losses tracks revenue and capital loss balances across financial
// years, applies them oldest first, and assesses recoupment eligibility.
//
// Companies are tested under ITAA 1997 Division 165 (COT, then SBT). Trusts
// are tested under Schedule 2F ITAA 1936 (Divisions 266/267); Division 165
// never applies to them. Capital losses only ever offset capital gains.
package losses

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/money"
	"ato-tax-optimizer-backend/internal/rates"
)

type EntityType string

const (
	EntityCompany EntityType = "company"
	EntityTrust   EntityType = "trust"
)

const (
	LossRevenue = "revenue"
	LossCapital = "capital"

	TrustRuleDivision266   = "division_266"
	TrustRuleNotApplicable = "not_applicable"
)

// Policy holds the recoupment-test calibration.
type Policy struct {
	// DefaultYears is how many years back the analysis reaches when no range is given.
	DefaultYears int
	// SBTConfidenceCap bounds the overlap-derived SBT confidence; overlap is
	// supporting evidence only.
	SBTConfidenceCap     int
	COTKnownConfidence   int
	COTUnknownConfidence int
}

var DefaultPolicy = Policy{DefaultYears: 5, SBTConfidenceCap: 80, COTKnownConfidence: 90, COTUnknownConfidence: 50}

type Options struct {
	FromYear   string     `json:"from_year"`
	ToYear     string     `json:"to_year"`
	EntityType EntityType `json:"entity_type"`
	// OwnershipContinuity is whether more than 50% of ownership was
	// maintained across the test period, when known.
	OwnershipContinuity *bool `json:"ownership_continuity"`
	// CapitalLosses and CapitalGains are keyed by financial year and come from
	// a CGT classification; transactions are never treated as capital here.
	CapitalLosses  map[string]float64 `json:"capital_losses"`
	CapitalGains   map[string]float64 `json:"capital_gains"`
	BaseRateEntity bool               `json:"base_rate_entity"`
}

// Utilisation is one application of a prior loss.
type Utilisation struct {
	LossYear    string  `json:"loss_year"`
	AppliedIn   string  `json:"applied_in"`
	Amount      float64 `json:"amount"`
	Kind        string  `json:"kind"`
	AgainstWhat string  `json:"against"`
}

type LossYear struct {
	FinancialYear         string  `json:"financial_year"`
	Income                float64 `json:"income"`
	Expenses              float64 `json:"expenses"`
	NetResult             float64 `json:"net_result"`
	OpeningRevenueLosses  float64 `json:"opening_revenue_losses"`
	RevenueLossGenerated  float64 `json:"revenue_loss_generated"`
	RevenueLossesUtilised float64 `json:"revenue_losses_utilised"`
	ClosingRevenueLosses  float64 `json:"closing_revenue_losses"`
	TaxableIncome         float64 `json:"taxable_income_after_losses"`
	OpeningCapitalLosses  float64 `json:"opening_capital_losses"`
	CapitalLossGenerated  float64 `json:"capital_loss_generated"`
	CapitalGains          float64 `json:"capital_gains"`
	CapitalLossesUtilised float64 `json:"capital_losses_utilised"`
	ClosingCapitalLosses  float64 `json:"closing_capital_losses"`
	NetCapitalGain        float64 `json:"net_capital_gain"`
	AmendmentWarning      string  `json:"amendment_warning,omitempty"`
}

// YearOverlap compares the expense categories and suppliers of two consecutive years.
type YearOverlap struct {
	FromYear        string  `json:"from_year"`
	ToYear          string  `json:"to_year"`
	CategoryOverlap float64 `json:"category_overlap"`
	SupplierOverlap float64 `json:"supplier_overlap"`
}

type CotSbtAnalysis struct {
	EntityType     EntityType          `json:"entity_type"`
	RecoupmentTest string              `json:"recoupment_test"`
	TrustLossRule  string              `json:"trust_loss_rule"`
	COTSatisfied   analysis.Fact[bool] `json:"cot_satisfied"`
	COTConfidence  int                 `json:"cot_confidence"`
	SBTRequired    bool                `json:"sbt_required"`
	SBTConfidence  int                 `json:"sbt_confidence"`
	SBTEvidence    []YearOverlap       `json:"sbt_evidence"`
	Notes          []string            `json:"notes"`
}

type Summary struct {
	TenantID                   string             `json:"tenant_id"`
	FromYear                   string             `json:"from_year"`
	ToYear                     string             `json:"to_year"`
	EntityType                 EntityType         `json:"entity_type"`
	Years                      []LossYear         `json:"years"`
	Utilisations               []Utilisation      `json:"utilisations"`
	TotalRevenueLossGenerated  float64            `json:"total_revenue_loss_generated"`
	TotalRevenueLossesUtilised float64            `json:"total_revenue_losses_utilised"`
	ClosingRevenueLosses       float64            `json:"closing_revenue_losses"`
	ClosingCapitalLosses       float64            `json:"closing_capital_losses"`
	CorporateTaxRate           float64            `json:"corporate_tax_rate"`
	FutureTaxValue             float64            `json:"future_tax_value"`
	CotSbtAnalysis             CotSbtAnalysis     `json:"cot_sbt_analysis"`
	RiskLevel                  analysis.RiskLevel `json:"risk_level"`
	ProfessionalReviewRequired bool               `json:"professional_review_required"`
	Warnings                   []string           `json:"warnings"`
	Recommendations            []string           `json:"recommendations"`
	LegislativeReferences      []string           `json:"legislative_references"`
	analysis.Provenance
}

type Service struct {
	store  analysis.TransactionStore
	rates  *rates.Resolver
	policy Policy
	log    zerolog.Logger
}

func NewService(store analysis.TransactionStore, resolver *rates.Resolver, log zerolog.Logger) *Service {
	return &Service{store: store, rates: resolver, policy: DefaultPolicy, log: log.With().Str("engine", "losses").Logger()}
}

// WithPolicy replaces the recoupment-test calibration.
func (s *Service) WithPolicy(p Policy) *Service {
	c := *s
	c.policy = p
	return &c
}

// vintage is the unused remainder of one year's loss.
type vintage struct {
	year      string
	remaining float64
}

// applyOldestFirst consumes pool against amount and returns what was used.
func applyOldestFirst(pool []vintage, amount float64, appliedIn, kind, against string) ([]vintage, float64, []Utilisation) {
	var used float64
	var uses []Utilisation
	for i := range pool {
		if amount <= 0 {
			break
		}
		if pool[i].remaining <= 0 {
			continue
		}
		take := math.Min(pool[i].remaining, amount)
		take = money.Round2(take)
		pool[i].remaining = money.Sum(pool[i].remaining, -take)
		amount = money.Sum(amount, -take)
		used = money.Sum(used, take)
		uses = append(uses, Utilisation{LossYear: pool[i].year, AppliedIn: appliedIn, Amount: take, Kind: kind, AgainstWhat: against})
	}
	return pool, used, uses
}

func poolTotal(pool []vintage) float64 {
	total := 0.0
	for _, v := range pool {
		total = money.Sum(total, v.remaining)
	}
	return total
}

// AnalyzeLosses walks the year range oldest first, carrying losses forward.
func (s *Service) AnalyzeLosses(ctx context.Context, tenantID string, opts Options) (*Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, analysis.ErrInvalidTenant
	}
	entity := EntityType(strings.ToLower(string(opts.EntityType)))
	if entity == "" {
		entity = EntityCompany
	}
	if entity != EntityCompany && entity != EntityTrust {
		return nil, fmt.Errorf("%w: unsupported entity type %q", analysis.ErrInvalidOptions, opts.EntityType)
	}
	to := opts.ToYear
	if to == "" {
		to = fiscal.CurrentFinancialYear()
	}
	from := opts.FromYear
	if from == "" {
		from = to
		for i := 1; i < s.policy.DefaultYears; i++ {
			if prev, ok := fiscal.PriorFinancialYear(from); ok {
				from = prev
			}
		}
	}

	summary := &Summary{
		TenantID:        tenantID,
		FromYear:        from,
		ToYear:          to,
		EntityType:      entity,
		Years:           []LossYear{},
		Utilisations:    []Utilisation{},
		RiskLevel:       analysis.RiskLow,
		Warnings:        []string{},
		Recommendations: []string{},
	}
	summary.CotSbtAnalysis = CotSbtAnalysis{EntityType: entity, SBTEvidence: []YearOverlap{}, Notes: []string{}}
	summary.LegislativeReferences = legislativeReferences(entity)

	years := fiscal.FinancialYearsBetween(from, to)
	if years == nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Invalid financial year range %q to %q.", from, to))
		summary.Provenance = analysis.Provenance{TaxRateSource: rates.SourceFallback}
		return summary, nil
	}

	txs, err := s.store.FetchTransactions(ctx, tenantID, analysis.TransactionFilter{FromYear: from, ToYear: to})
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Str("from_year", from).Str("to_year", to).Msg("loss history fetch failed")
		return nil, fmt.Errorf("failed to fetch loss history: %w", err)
	}

	byYear := make(map[string][]models.Transaction, len(years))
	for _, tx := range txs {
		byYear[tx.FinancialYear] = append(byYear[tx.FinancialYear], tx)
	}

	var revenuePool, capitalPool []vintage
	asOf := fiscal.Now()
	for _, fy := range years {
		y := LossYear{FinancialYear: fy}
		var income, expenses []float64
		for _, tx := range byYear[fy] {
			if tx.Status == models.StatusVoided {
				continue
			}
			amt := math.Abs(tx.Amount)
			switch {
			case analysis.IsIncome(tx):
				income = append(income, amt)
			case analysis.IsExpense(tx):
				expenses = append(expenses, amt)
			}
		}
		y.Income = money.Sum(income...)
		y.Expenses = money.Sum(expenses...)
		y.NetResult = money.Sum(y.Income, -y.Expenses)

		y.OpeningRevenueLosses = poolTotal(revenuePool)
		if y.NetResult < 0 {
			y.RevenueLossGenerated = -y.NetResult
		} else if y.NetResult > 0 {
			var uses []Utilisation
			revenuePool, y.RevenueLossesUtilised, uses = applyOldestFirst(revenuePool, y.NetResult, fy, LossRevenue, "assessable income")
			summary.Utilisations = append(summary.Utilisations, uses...)
			y.TaxableIncome = money.Sum(y.NetResult, -y.RevenueLossesUtilised)
		}
		if y.RevenueLossGenerated > 0 {
			revenuePool = append(revenuePool, vintage{year: fy, remaining: y.RevenueLossGenerated})
		}
		y.ClosingRevenueLosses = poolTotal(revenuePool)

		// Capital losses net against capital gains only: current-year losses
		// first, then prior losses oldest first.
		y.OpeningCapitalLosses = poolTotal(capitalPool)
		y.CapitalLossGenerated = money.Round2(math.Abs(opts.CapitalLosses[fy]))
		y.CapitalGains = money.Round2(math.Abs(opts.CapitalGains[fy]))
		gains := y.CapitalGains
		current := math.Min(gains, y.CapitalLossGenerated)
		gains = money.Sum(gains, -current)
		var uses []Utilisation
		capitalPool, y.CapitalLossesUtilised, uses = applyOldestFirst(capitalPool, gains, fy, LossCapital, "capital gains")
		summary.Utilisations = append(summary.Utilisations, uses...)
		if left := money.Sum(y.CapitalLossGenerated, -current); left > 0 {
			capitalPool = append(capitalPool, vintage{year: fy, remaining: left})
		}
		y.CapitalLossesUtilised = money.Sum(y.CapitalLossesUtilised, current)
		y.NetCapitalGain = money.Sum(y.CapitalGains, -y.CapitalLossesUtilised)
		y.ClosingCapitalLosses = poolTotal(capitalPool)

		y.AmendmentWarning = fiscal.AmendmentWarning(fy, asOf)
		summary.TotalRevenueLossGenerated = money.Sum(summary.TotalRevenueLossGenerated, y.RevenueLossGenerated)
		summary.TotalRevenueLossesUtilised = money.Sum(summary.TotalRevenueLossesUtilised, y.RevenueLossesUtilised)
		summary.Years = append(summary.Years, y)
	}
	summary.ClosingRevenueLosses = poolTotal(revenuePool)
	summary.ClosingCapitalLosses = poolTotal(capitalPool)

	rateName := rates.CorporateTaxRate
	if opts.BaseRateEntity {
		rateName = rates.BaseRateEntityTaxRate
	}
	corp := s.rates.Resolve(ctx, rateName, to)
	summary.Provenance = analysis.ProvenanceOf(corp)
	summary.CorporateTaxRate = corp.Value
	summary.FutureTaxValue = money.Mul(summary.ClosingRevenueLosses, corp.Value)

	s.recoupmentTest(summary, opts, years, byYear)
	summary.Recommendations = recommendations(summary)
	return summary, nil
}

func legislativeReferences(entity EntityType) []string {
	refs := []string{"ITAA 1997 Division 36 (tax losses)", "ITAA 1997 s 102-10 (capital losses offset capital gains only)", "TAA 1953 s 170 (amendment period)"}
	if entity == EntityTrust {
		return append(refs, "ITAA 1936 Schedule 2F Division 266 (trust loss tests)", "ITAA 1936 Schedule 2F Division 267 (income injection test)")
	}
	return append(refs, "ITAA 1997 s 165-12 (continuity of ownership test)", "ITAA 1997 s 165-13 (business continuity test)")
}

// recoupmentTest fills the COT/SBT analysis and the overall risk.
func (s *Service) recoupmentTest(sum *Summary, opts Options, years []string, byYear map[string][]models.Transaction) {
	a := &sum.CotSbtAnalysis
	a.SBTEvidence = sbtEvidence(years, byYear)

	if sum.EntityType == EntityTrust {
		a.RecoupmentTest = "schedule_2f"
		a.TrustLossRule = TrustRuleDivision266
		a.COTSatisfied = analysis.UnknownFact[bool]("The company continuity of ownership test does not apply to trusts.")
		a.COTConfidence = 0
		a.SBTConfidence = 0
		a.Notes = append(a.Notes,
			"Trust losses are tested under Schedule 2F ITAA 1936 (Divisions 266 and 267), not Division 165.",
			"Whether the trust is a fixed or non-fixed trust, and any family trust election, decide which tests apply; this needs a review of the trust deed.")
		sum.RiskLevel = analysis.RiskHigh
		sum.ProfessionalReviewRequired = true
		return
	}

	a.RecoupmentTest = "division_165"
	a.TrustLossRule = TrustRuleNotApplicable
	a.COTSatisfied = analysis.FactFromPtr(opts.OwnershipContinuity, "Ownership continuity was not supplied; share register history is needed to confirm the continuity of ownership test.")
	switch {
	case !a.COTSatisfied.Known:
		a.COTConfidence = s.policy.COTUnknownConfidence
	case a.COTSatisfied.Value:
		a.COTConfidence = s.policy.COTKnownConfidence
	default:
		a.COTConfidence = 0
		a.SBTRequired = true
		a.Notes = append(a.Notes, "Continuity of ownership failed; losses are only available if the same (or similar) business test is passed.")
	}
	a.SBTConfidence = s.sbtConfidence(a.SBTEvidence)
	if len(a.SBTEvidence) > 0 {
		a.Notes = append(a.Notes, "Category and supplier overlap between years supports, but does not establish, business continuity.")
	}

	hasLosses := sum.ClosingRevenueLosses > 0 || sum.TotalRevenueLossesUtilised > 0
	switch {
	case !hasLosses:
		sum.RiskLevel = analysis.RiskLow
	case a.SBTRequired && a.SBTConfidence < 50:
		sum.RiskLevel = analysis.RiskHigh
		sum.ProfessionalReviewRequired = true
	case a.SBTRequired || !a.COTSatisfied.Known:
		sum.RiskLevel = analysis.RiskMedium
	default:
		sum.RiskLevel = analysis.RiskLow
	}
}

func (s *Service) sbtConfidence(evidence []YearOverlap) int {
	if len(evidence) == 0 {
		return 0
	}
	total := 0.0
	for _, e := range evidence {
		total += (e.CategoryOverlap + e.SupplierOverlap) / 2
	}
	c := int(math.Round(total / float64(len(evidence)) * 100))
	if c > s.policy.SBTConfidenceCap {
		c = s.policy.SBTConfidenceCap
	}
	return c
}

// sbtEvidence computes Jaccard overlap of expense categories and suppliers
// between each pair of consecutive years that both have expenses.
func sbtEvidence(years []string, byYear map[string][]models.Transaction) []YearOverlap {
	out := []YearOverlap{}
	var prevYear string
	var prevCats, prevSups map[string]bool
	for _, fy := range years {
		cats, sups := map[string]bool{}, map[string]bool{}
		for _, tx := range byYear[fy] {
			if !analysis.IsExpense(tx) {
				continue
			}
			if c := category(tx); c != "" {
				cats[c] = true
			}
			if n := analysis.NormalizeName(tx.Counterparty()); n != "" {
				sups[n] = true
			}
		}
		if len(cats) == 0 && len(sups) == 0 {
			continue
		}
		if prevCats != nil {
			out = append(out, YearOverlap{
				FromYear:        prevYear,
				ToYear:          fy,
				CategoryOverlap: jaccard(prevCats, cats),
				SupplierOverlap: jaccard(prevSups, sups),
			})
		}
		prevYear, prevCats, prevSups = fy, cats, sups
	}
	return out
}

func category(tx models.Transaction) string {
	switch {
	case tx.PrimaryCategory != "":
		return strings.ToLower(tx.PrimaryCategory)
	case tx.AccountCode != "":
		return tx.AccountCode
	}
	return strings.ToLower(tx.AccountName)
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return money.RoundTo(float64(inter)/float64(union), 4)
}

func recommendations(s *Summary) []string {
	recs := []string{}
	if s.EntityType == EntityTrust && (s.ClosingRevenueLosses > 0 || s.TotalRevenueLossesUtilised > 0) {
		recs = append(recs, "Have the trust deed and any family trust election reviewed to confirm which Schedule 2F tests apply before relying on carried-forward trust losses.")
	}
	if s.CotSbtAnalysis.SBTRequired {
		recs = append(recs, "Document that the same business (or a similar business) has been carried on since the change in ownership to support the business continuity test.")
	} else if s.EntityType == EntityCompany && !s.CotSbtAnalysis.COTSatisfied.Known && s.ClosingRevenueLosses > 0 {
		recs = append(recs, "Confirm from the share register that more than 50% of voting, dividend and capital rights were held by the same persons since each loss year.")
	}
	if s.ClosingRevenueLosses > 0 {
		recs = append(recs, fmt.Sprintf("Carried-forward revenue losses of $%.2f have a future tax value of $%.2f at the %.0f%% rate.", s.ClosingRevenueLosses, s.FutureTaxValue, s.CorporateTaxRate*100))
	}
	if s.ClosingCapitalLosses > 0 {
		recs = append(recs, fmt.Sprintf("Net capital losses of $%.2f are carried forward and can only be applied against future capital gains.", s.ClosingCapitalLosses))
	}
	for _, y := range s.Years {
		if y.AmendmentWarning != "" && (y.RevenueLossGenerated > 0 || y.RevenueLossesUtilised > 0 || y.CapitalLossGenerated > 0) {
			recs = append(recs, y.AmendmentWarning)
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "No tax losses were generated or carried forward in the period.")
	}
	return recs
}
