// Package rnd assesses expenditure against the Division 355 R&D tax incentive:
// the four-element core activity test and the tiered offset.
package rnd

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/money"
	"ato-tax-optimizer-backend/internal/rates"
)

const unassignedProject = "Unassigned R&D activity"

var legislativeReferences = []string{
	"ITAA 1997 Division 355",
	"ITAA 1997 s 355-25 (core R&D activities)",
	"ITAA 1997 s 355-100 (offset rates and refundable cap)",
	"ITAA 1997 s 355-450 (clawback of offset for recoupments)",
	"Industry Research and Development Act 1986 s 27A (registration)",
}

type Options struct {
	FinancialYear string `json:"financial_year"`
	// AggregatedTurnover decides the refundable or non-refundable tier.
	AggregatedTurnover *float64 `json:"aggregated_turnover"`
	// BaseRateEntity selects the 25% company rate.
	BaseRateEntity   bool     `json:"base_rate_entity"`
	CorporateTaxRate *float64 `json:"corporate_tax_rate"`
}

type TransactionAssessment struct {
	TransactionID string          `json:"transaction_id"`
	Date          string          `json:"date"`
	Description   string          `json:"description"`
	Amount        float64         `json:"amount"`
	Elements      FourElementTest `json:"elements"`
	Eligible      bool            `json:"eligible"`
	Confidence    int             `json:"confidence"`
}

type Project struct {
	Name             string                  `json:"name"`
	TransactionCount int                     `json:"transaction_count"`
	Expenditure      float64                 `json:"expenditure"`
	Elements         FourElementTest         `json:"elements"`
	Eligible         bool                    `json:"eligible"`
	Confidence       int                     `json:"confidence"`
	EstimatedOffset  float64                 `json:"estimated_offset"`
	ClawbackWarning  string                  `json:"clawback_warning,omitempty"`
	Warnings         []string                `json:"warnings"`
	Transactions     []TransactionAssessment `json:"transactions"`
}

// ExcludedProject failed at least one element. It is reported, never dropped.
type ExcludedProject struct {
	Name           string          `json:"name"`
	Expenditure    float64         `json:"expenditure"`
	Confidence     int             `json:"confidence"`
	FailedElements []string        `json:"failed_elements"`
	Elements       FourElementTest `json:"elements"`
	Reason         string          `json:"reason"`
}

// OffsetCalculation is the tiered offset for the year.
type OffsetCalculation struct {
	EligibleExpenditure     float64 `json:"eligible_expenditure"`
	CorporateTaxRate        float64 `json:"corporate_tax_rate"`
	Premium                 float64 `json:"premium"`
	OffsetRate              float64 `json:"offset_rate"`
	IsLargeEntity           bool    `json:"is_large_entity"`
	TotalOffset             float64 `json:"total_offset"`
	RefundableOffset        float64 `json:"refundable_offset"`
	NonRefundableOffset     float64 `json:"non_refundable_offset"`
	RefundableCapApplicable bool    `json:"refundable_cap_applicable"`
	RefundableCapApplied    bool    `json:"refundable_cap_applied"`
}

type Summary struct {
	TenantID                 string                 `json:"tenant_id"`
	FinancialYear            string                 `json:"financial_year"`
	Projects                 []Project              `json:"projects"`
	ExcludedProjects         []ExcludedProject      `json:"excluded_projects"`
	TotalCandidates          int                    `json:"total_candidates"`
	TotalEligibleExpenditure float64                `json:"total_eligible_expenditure"`
	AggregatedTurnover       analysis.Fact[float64] `json:"aggregated_turnover"`
	Offset                   OffsetCalculation      `json:"offset"`
	AverageConfidence        int                    `json:"average_confidence"`
	ClawbackWarning          string                 `json:"clawback_warning,omitempty"`
	RegistrationDeadline     string                 `json:"registration_deadline"`
	MinimumExpenditureNotice string                 `json:"minimum_expenditure_notice,omitempty"`
	Warnings                 []string               `json:"warnings"`
	Recommendations          []string               `json:"recommendations"`
	LegislativeReferences    []string               `json:"legislative_references"`
	analysis.Provenance
}

type Service struct {
	store  analysis.TransactionStore
	rates  *rates.Resolver
	policy Policy
	log    zerolog.Logger
}

func NewService(store analysis.TransactionStore, resolver *rates.Resolver, log zerolog.Logger) *Service {
	return &Service{store: store, rates: resolver, policy: DefaultPolicy, log: log.With().Str("engine", "rnd").Logger()}
}

func (s *Service) WithPolicy(p Policy) *Service {
	c := *s
	c.policy = p
	return &c
}

// AnalyzeExpenditure finds eligible R&D projects for the year and computes the offset.
func (s *Service) AnalyzeExpenditure(ctx context.Context, tenantID string, opts Options) (*Summary, error) {
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
		Projects:              []Project{},
		ExcludedProjects:      []ExcludedProject{},
		Warnings:              []string{},
		Recommendations:       []string{},
		LegislativeReferences: legislativeReferences,
		AggregatedTurnover:    analysis.FactFromPtr(opts.AggregatedTurnover, "Aggregated turnover not supplied."),
	}
	end, ok := fiscal.FYEndDate(fy)
	if !ok {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Invalid financial year %q; expected a label like FY2024-25.", fy))
		summary.Provenance = analysis.Provenance{TaxRateSource: rates.SourceFallback}
		return summary, nil
	}
	summary.RegistrationDeadline = analysis.ISODate(end.AddDate(0, s.policy.RegistrationMonthsAfterFY, 0))

	txs, err := s.store.FetchTransactions(ctx, tenantID, analysis.TransactionFilter{FromYear: fy, ToYear: fy, Flag: analysis.FlagRndCandidate})
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Str("financial_year", fy).Msg("R&D candidate fetch failed")
		return nil, fmt.Errorf("failed to fetch R&D candidates: %w", err)
	}
	summary.TotalCandidates = len(txs)

	offset, resolved := s.offsetRates(ctx, fy, opts)
	summary.Provenance = analysis.ProvenanceOf(resolved...)
	if !summary.AggregatedTurnover.Known {
		summary.Warnings = append(summary.Warnings, "Aggregated turnover not supplied; the refundable (under $20M) tier has been assumed. Confirm turnover before lodging.")
	}

	var confidences []int
	for _, name := range projectOrder(txs) {
		project := s.assessProject(name, projectTransactions(txs, name))
		if !project.Eligible {
			failed := project.Elements.Failed()
			summary.ExcludedProjects = append(summary.ExcludedProjects, ExcludedProject{
				Name:           project.Name,
				Expenditure:    project.Expenditure,
				Confidence:     project.Confidence,
				FailedElements: failed,
				Elements:       project.Elements,
				Reason:         "Failed the four-element test: " + strings.Join(failed, ", ") + " not met.",
			})
			continue
		}
		project.EstimatedOffset = money.Mul(project.Expenditure, offset.OffsetRate)
		if project.Expenditure > s.policy.ClawbackThreshold {
			project.ClawbackWarning = fmt.Sprintf("Expenditure of $%.2f exceeds $%.0f: any government grant or recoupment for this project triggers clawback of the offset (s 355-450).",
				project.Expenditure, s.policy.ClawbackThreshold)
		}
		if project.Confidence < s.policy.LowConfidenceThreshold {
			project.Warnings = append(project.Warnings, fmt.Sprintf("Project confidence %d%% is below %d%%; obtain technical documentation before claiming.", project.Confidence, s.policy.LowConfidenceThreshold))
		}
		confidences = append(confidences, project.Confidence)
		summary.TotalEligibleExpenditure = money.Sum(summary.TotalEligibleExpenditure, project.Expenditure)
		summary.Projects = append(summary.Projects, project)
	}

	for _, p := range summary.Projects {
		if p.ClawbackWarning != "" {
			summary.ClawbackWarning = "One or more eligible projects exceed $20,000 of expenditure; offsets are subject to clawback where the activity is funded by grants or recoupments (s 355-450)."
			break
		}
	}
	if len(confidences) > 0 {
		total := 0
		for _, c := range confidences {
			total += c
		}
		summary.AverageConfidence = int(math.Round(float64(total) / float64(len(confidences))))
	}

	summary.Offset = s.calculateOffset(offset, summary.TotalEligibleExpenditure)
	if summary.TotalEligibleExpenditure > 0 && summary.TotalEligibleExpenditure < s.policy.MinimumExpenditure {
		summary.MinimumExpenditureNotice = fmt.Sprintf("Eligible expenditure of $%.2f is below the $%.0f minimum; the offset is generally only available above this unless the work is performed by a registered research service provider (s 355-100(1)).",
			summary.TotalEligibleExpenditure, s.policy.MinimumExpenditure)
	}
	summary.Recommendations = s.recommendations(summary)
	return summary, nil
}

func (s *Service) assessProject(name string, txs []models.Transaction) Project {
	project := Project{Name: name, TransactionCount: len(txs), Warnings: []string{}, Transactions: []TransactionAssessment{}}
	assessed := make([]FourElementTest, 0, len(txs))
	weights := make([]float64, 0, len(txs))
	var amounts []float64
	for _, tx := range txs {
		amt := math.Abs(tx.Amount)
		el := s.policy.AssessTransaction(tx)
		assessed = append(assessed, el)
		weights = append(weights, amt)
		amounts = append(amounts, amt)
		project.Transactions = append(project.Transactions, TransactionAssessment{
			TransactionID: tx.TransactionID,
			Date:          analysis.ISODate(tx.TransactionDate),
			Description:   tx.Description,
			Amount:        money.Round2(amt),
			Elements:      el,
			Eligible:      el.AllMet(),
			Confidence:    el.Confidence(),
		})
	}
	project.Expenditure = money.Sum(amounts...)
	project.Elements = s.policy.combine(assessed, weights)
	project.Eligible = project.Elements.AllMet()
	project.Confidence = project.Elements.Confidence()
	return project
}

type offsetRates struct {
	CorporateTaxRate float64
	Premium          float64
	OffsetRate       float64
	IsLargeEntity    bool
}

func (s *Service) offsetRates(ctx context.Context, fy string, opts Options) (offsetRates, []rates.Resolved) {
	var o offsetRates
	var resolved []rates.Resolved
	o.IsLargeEntity = opts.AggregatedTurnover != nil && *opts.AggregatedTurnover >= s.policy.TurnoverThreshold

	switch {
	case opts.CorporateTaxRate != nil:
		o.CorporateTaxRate = *opts.CorporateTaxRate
	case opts.BaseRateEntity:
		r := s.rates.Resolve(ctx, rates.BaseRateEntityTaxRate, fy)
		o.CorporateTaxRate = r.Value
		resolved = append(resolved, r)
	default:
		r := s.rates.Resolve(ctx, rates.CorporateTaxRate, fy)
		o.CorporateTaxRate = r.Value
		resolved = append(resolved, r)
	}

	premium := rates.RndPremiumSmall
	if o.IsLargeEntity {
		premium = rates.RndPremiumLarge
	}
	r := s.rates.Resolve(ctx, premium, fy)
	resolved = append(resolved, r)
	o.Premium = r.Value
	o.OffsetRate = money.RoundTo(o.CorporateTaxRate+o.Premium, 4)
	return o, resolved
}

// calculateOffset applies the s 355-100(3) refundable cap. Large entities get
// a non-refundable offset only and the cap does not apply to them.
func (s *Service) calculateOffset(o offsetRates, expenditure float64) OffsetCalculation {
	calc := OffsetCalculation{
		EligibleExpenditure: money.Round2(expenditure),
		CorporateTaxRate:    o.CorporateTaxRate,
		Premium:             o.Premium,
		OffsetRate:          o.OffsetRate,
		IsLargeEntity:       o.IsLargeEntity,
		TotalOffset:         money.Mul(expenditure, o.OffsetRate),
	}
	if o.IsLargeEntity {
		calc.NonRefundableOffset = calc.TotalOffset
		return calc
	}
	calc.RefundableCapApplicable = true
	calc.RefundableOffset = math.Min(calc.TotalOffset, s.policy.RefundableCap)
	calc.NonRefundableOffset = money.Round2(calc.TotalOffset - calc.RefundableOffset)
	calc.RefundableCapApplied = calc.TotalOffset > s.policy.RefundableCap
	return calc
}

func (s *Service) recommendations(sum *Summary) []string {
	recs := []string{}
	if sum.TotalCandidates == 0 {
		return append(recs, "No R&D candidate transactions were found for "+sum.FinancialYear+".")
	}
	if len(sum.Projects) > 0 {
		recs = append(recs, fmt.Sprintf("Register R&D activities with AusIndustry by %s before claiming the offset.", sum.RegistrationDeadline))
		recs = append(recs, "Keep contemporaneous records for each project: hypotheses, experiment design, results and conclusions.")
	}
	if len(sum.ExcludedProjects) > 0 {
		recs = append(recs, fmt.Sprintf("%d project(s) did not meet all four elements; review whether supporting evidence exists before excluding them.", len(sum.ExcludedProjects)))
	}
	if sum.Offset.RefundableCapApplied {
		recs = append(recs, fmt.Sprintf("The refundable offset is capped at $%.0f; $%.2f carries forward as a non-refundable offset.", s.policy.RefundableCap, sum.Offset.NonRefundableOffset))
	}
	if sum.AverageConfidence > 0 && sum.AverageConfidence < s.policy.LowConfidenceThreshold {
		recs = append(recs, "Average eligibility confidence is low; obtain a specialist R&D review before lodging.")
	}
	return recs
}

func projectName(tx models.Transaction) string {
	if name := strings.TrimSpace(tx.TrackingCategory); name != "" {
		return name
	}
	return unassignedProject
}

func projectOrder(txs []models.Transaction) []string {
	seen := map[string]bool{}
	var names []string
	for _, tx := range txs {
		n := projectName(tx)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func projectTransactions(txs []models.Transaction, name string) []models.Transaction {
	var out []models.Transaction
	for _, tx := range txs {
		if projectName(tx) == name {
			out = append(out, tx)
		}
	}
	return out
}
