// Package div7a checks shareholder and associate loans from a private company
// against Division 7A ITAA 1936: benchmark interest, minimum yearly repayments,
// written agreements and deemed-dividend exposure.
package div7a

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/money"
	"ato-tax-optimizer-backend/internal/rates"
)

const unidentifiedCounterparty = "Unidentified counterparty"

var legislativeReferences = []string{
	"ITAA 1936 Division 7A",
	"ITAA 1936 s 109D (loans treated as dividends)",
	"ITAA 1936 s 109E (minimum yearly repayments)",
	"ITAA 1936 s 109N (written loan agreement requirements)",
	"ITAA 1936 s 109Y (distributable surplus cap)",
	"ITAA 1936 s 109RB (Commissioner's discretion)",
}

type Service struct {
	store  analysis.TransactionStore
	rates  *rates.Resolver
	policy Policy
	log    zerolog.Logger
}

func NewService(store analysis.TransactionStore, resolver *rates.Resolver, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		rates:  resolver,
		policy: DefaultPolicy,
		log:    log.With().Str("engine", "div7a").Logger(),
	}
}

// WithPolicy returns a copy of the service using p.
func (s *Service) WithPolicy(p Policy) *Service {
	c := *s
	c.policy = p
	return &c
}

// AnalyzeCompliance runs the Division 7A review for one financial year.
func (s *Service) AnalyzeCompliance(ctx context.Context, tenantID string, opts Options) (*Summary, error) {
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
		Loans:                 []LoanAnalysis{},
		Warnings:              []string{},
		Recommendations:       []string{},
		LegislativeReferences: legislativeReferences,
	}
	if _, ok := fiscal.ParseFinancialYear(fy); !ok {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Invalid financial year %q; expected a label like FY2024-25.", fy))
		summary.DistributableSurplus = analysis.UnknownFact[float64]("financial year could not be parsed")
		summary.Provenance = analysis.Provenance{TaxRateSource: rates.SourceFallback}
		return summary, nil
	}

	txs, err := s.store.FetchTransactions(ctx, tenantID, analysis.TransactionFilter{FromYear: fy, ToYear: fy})
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Str("financial_year", fy).Msg("candidate fetch failed")
		return nil, fmt.Errorf("failed to fetch Division 7A candidates: %w", err)
	}

	rate := s.rates.Resolve(ctx, rates.Division7ABenchmark, fy)
	summary.BenchmarkRate = rate.Value
	summary.Provenance = analysis.ProvenanceOf(rate)

	groups, order := s.groupLoans(txs)
	for _, name := range order {
		summary.Loans = append(summary.Loans, s.analyzeLoan(ctx, tenantID, fy, name, groups[name], rate.Value, opts))
	}
	flagAmalgamation(summary.Loans)

	for _, loan := range summary.Loans {
		summary.TotalLoans++
		if loan.IsCompliant {
			summary.CompliantLoans++
		} else {
			summary.NonCompliantLoans++
		}
		summary.TotalOutstanding = money.Sum(summary.TotalOutstanding, loan.ClosingBalance)
		summary.TotalInterestShortfall = money.Sum(summary.TotalInterestShortfall, loan.InterestShortfall)
		summary.TotalDeemedDividendRiskUncapped = money.Sum(summary.TotalDeemedDividendRiskUncapped, loan.DeemedDividendRisk)
	}

	summary.DistributableSurplus = s.distributableSurplus(txs, opts)
	summary.TotalDeemedDividendRisk = summary.TotalDeemedDividendRiskUncapped
	if summary.DistributableSurplus.Known {
		if summary.TotalDeemedDividendRiskUncapped > summary.DistributableSurplus.Value {
			summary.TotalDeemedDividendRisk = money.Round2(summary.DistributableSurplus.Value)
			summary.SurplusCapApplied = true
		}
	} else if summary.TotalDeemedDividendRiskUncapped > 0 {
		summary.Warnings = append(summary.Warnings,
			"Distributable surplus is unknown, so total deemed dividend risk is uncapped and may be overstated (s 109Y limits deemed dividends to the company's distributable surplus).")
	}

	summary.Recommendations = recommendations(summary)
	return summary, nil
}

// groupLoans keys transactions by trimmed counterparty name and keeps only the
// loan-like ones. Names are returned sorted.
func (s *Service) groupLoans(txs []models.Transaction) (map[string][]models.Transaction, []string) {
	groups := map[string][]models.Transaction{}
	for _, tx := range txs {
		if !s.policy.isLoanLike(tx) {
			continue
		}
		name := strings.TrimSpace(tx.Counterparty())
		if name == "" {
			name = unidentifiedCounterparty
		}
		groups[name] = append(groups[name], tx)
	}
	order := make([]string, 0, len(groups))
	for name := range groups {
		order = append(order, name)
	}
	sort.Strings(order)
	return groups, order
}

func (s *Service) analyzeLoan(ctx context.Context, tenantID, fy, name string, txs []models.Transaction, rate float64, opts Options) LoanAnalysis {
	classification := s.policy.ClassifyLoan(name, txs)
	loan := LoanAnalysis{
		Shareholder:              name,
		TransactionCount:         len(txs),
		ClassificationConfidence: classification.Score,
		ClassificationSignals:    classification.Signals,
		BenchmarkRate:            rate,
		Secured:                  lookupFold(opts.SecuredLoans, name),
		WrittenAgreement:         agreementFact(opts.WrittenAgreements, name),
		ComplianceIssues:         []string{},
		PossibleExclusions:       []PossibleExclusion{},
		Warnings:                 []string{},
		RiskLevel:                analysis.RiskLow,
	}
	if classification.Score < s.policy.LowConfidenceThreshold {
		loan.Warnings = append(loan.Warnings, fmt.Sprintf(LowConfidenceWarning, s.policy.LowConfidenceThreshold, classification.Score))
	}

	var prior []models.Transaction
	if priorFY, ok := fiscal.PriorFinancialYear(fy); ok && name != unidentifiedCounterparty {
		fetched, err := s.store.FetchTransactions(ctx, tenantID, analysis.TransactionFilter{FromYear: priorFY, ToYear: priorFY, Counterparty: name})
		if err != nil {
			s.log.Warn().Err(err).Str("tenant_id", tenantID).Str("financial_year", priorFY).Msg("prior-year loan history fetch failed, returning default analysis")
			return degradedLoan(loan, err)
		}
		for _, tx := range fetched {
			if s.policy.isLoanLike(tx) {
				prior = append(prior, tx)
			}
		}
	}
	loan.OpeningBalance = openingBalance(prior, fy)

	var advances, repayments, interest []float64
	for _, tx := range txs {
		amt := math.Abs(tx.Amount)
		switch classifyMovement(tx) {
		case movementInterest:
			interest = append(interest, amt)
		case movementRepayment:
			repayments = append(repayments, amt)
		default:
			advances = append(advances, amt)
		}
		if kw := analysis.MatchKeywords(strings.ToLower(tx.Description+" "+tx.AccountName), s.policy.ExclusionWords); len(kw) > 0 {
			loan.PossibleExclusions = append(loan.PossibleExclusions, PossibleExclusion{
				TransactionID: tx.TransactionID,
				Date:          analysis.ISODate(tx.TransactionDate),
				Amount:        money.Round2(amt),
				Keyword:       kw[0],
			})
		}
	}
	loan.Advances = money.Sum(advances...)
	loan.Repayments = money.Sum(repayments...)
	loan.InterestCharged = money.Sum(interest...)
	loan.ClosingBalance = money.Round2(math.Max(0, money.Sum(loan.OpeningBalance.Amount, loan.Advances, -loan.Repayments)))

	loan.BenchmarkInterestRequired = money.Mul(loan.ClosingBalance, rate)
	loan.InterestShortfall = money.Round2(math.Max(0, loan.BenchmarkInterestRequired-loan.InterestCharged))

	start := earliest(prior, txs)
	loan.LoanStartDate = analysis.ISODate(start)
	principal := loan.OpeningBalance.Amount
	if principal <= 0 {
		principal = loan.ClosingBalance
	}
	term := s.policy.UnsecuredTermYears
	if loan.Secured {
		term = s.policy.SecuredTermYears
	}
	loan.MinimumRepayment = CalculateMinimumRepayment(principal, rate, term, start, fy)
	loan.RepaymentShortfall = money.Round2(math.Max(0, loan.MinimumRepayment.Amount-loan.Repayments))

	var termIssues []string
	if loan.InterestShortfall > 0 {
		termIssues = append(termIssues, fmt.Sprintf("Interest charged ($%.2f) is below the benchmark interest required ($%.2f at %.2f%%).",
			loan.InterestCharged, loan.BenchmarkInterestRequired, rate*100))
	}
	if loan.MinimumRepayment.Amount > 0 && loan.Repayments < loan.MinimumRepayment.Amount {
		termIssues = append(termIssues, fmt.Sprintf("Repayments ($%.2f) are below the minimum yearly repayment ($%.2f, s 109E).",
			loan.Repayments, loan.MinimumRepayment.Amount))
	}
	loan.ComplianceIssues = append(loan.ComplianceIssues, termIssues...)
	switch {
	case loan.WrittenAgreement.Known && !loan.WrittenAgreement.Value:
		loan.ComplianceIssues = append(loan.ComplianceIssues, "No written loan agreement in place before the company's lodgement day (s 109N).")
	case !loan.WrittenAgreement.Known:
		loan.Warnings = append(loan.Warnings, "Written agreement status is unknown; both agreement scenarios are reported. Confirm a s 109N compliant agreement exists.")
	}

	loan.IsCompliant = len(loan.ComplianceIssues) == 0 && loan.WrittenAgreement.Known && loan.WrittenAgreement.Value
	if !loan.IsCompliant {
		loan.DeemedDividendRisk = loan.ClosingBalance
	}
	loan.Scenarios = scenarios(loan.ClosingBalance, termIssues)
	loan.RiskLevel = s.policy.riskLevel(len(loan.ComplianceIssues), loan.DeemedDividendRisk)

	if loan.OpeningBalance.Source == BalanceUnknown {
		loan.Warnings = append(loan.Warnings, loan.OpeningBalance.Note)
	}
	if len(loan.PossibleExclusions) > 0 {
		loan.Warnings = append(loan.Warnings, fmt.Sprintf("%d transaction(s) may be excluded from deemed dividend treatment (e.g. salary or dividends under s 109J/109L); review before relying on the balance.", len(loan.PossibleExclusions)))
	}
	return loan
}

// degradedLoan is returned when one loan's history could not be loaded. The
// rest of the batch is unaffected.
func degradedLoan(loan LoanAnalysis, err error) LoanAnalysis {
	loan.Degraded = true
	loan.RiskLevel = analysis.RiskMedium
	loan.OpeningBalance = OpeningBalance{Source: BalanceUnknown, Note: "Prior-year history could not be loaded."}
	loan.Warnings = append(loan.Warnings, "Loan analysis unavailable: prior-year history could not be loaded ("+err.Error()+"). Re-run the analysis or review this loan manually.")
	return loan
}

func openingBalance(prior []models.Transaction, fy string) OpeningBalance {
	if len(prior) == 0 {
		priorFY, _ := fiscal.PriorFinancialYear(fy)
		return OpeningBalance{
			Source: BalanceUnknown,
			Note:   fmt.Sprintf("No %s loan transactions found; opening balance could not be derived and is shown as $0. Confirm the balance carried forward from earlier years.", priorFY),
		}
	}
	var adv, rep []float64
	for _, tx := range prior {
		switch classifyMovement(tx) {
		case movementAdvance:
			adv = append(adv, math.Abs(tx.Amount))
		case movementRepayment:
			rep = append(rep, math.Abs(tx.Amount))
		}
	}
	return OpeningBalance{
		Amount: money.Round2(math.Max(0, money.Sum(adv...)-money.Sum(rep...))),
		Source: BalanceFromPriorYear,
	}
}

func scenarios(closing float64, termIssues []string) Scenarios {
	with := Scenario{
		Assumption: "A s 109N compliant written agreement was in place by the lodgement day",
		Compliant:  len(termIssues) == 0,
		Notes:      append([]string{}, termIssues...),
	}
	if !with.Compliant {
		with.DeemedDividend = closing
	} else {
		with.Notes = append(with.Notes, "Loan terms meet benchmark interest and minimum repayment requirements.")
	}
	without := Scenario{
		Assumption:     "No written agreement was in place by the lodgement day",
		Compliant:      false,
		DeemedDividend: closing,
		Notes:          []string{"Without a written agreement the outstanding balance is treated as an unfranked dividend (s 109D)."},
	}
	return Scenarios{WithAgreement: with, WithoutAgreement: without}
}

func (p Policy) riskLevel(issues int, risk float64) analysis.RiskLevel {
	switch {
	case issues >= 2 && risk > p.CriticalRiskAmount:
		return analysis.RiskCritical
	case issues >= 2 || risk > p.HighRiskAmount:
		return analysis.RiskHigh
	case issues == 1:
		return analysis.RiskMedium
	default:
		return analysis.RiskLow
	}
}

// flagAmalgamation warns on loans whose names differ only by case.
func flagAmalgamation(loans []LoanAnalysis) {
	byKey := map[string][]int{}
	for i, l := range loans {
		key := strings.ToLower(l.Shareholder)
		byKey[key] = append(byKey[key], i)
	}
	for _, idx := range byKey {
		if len(idx) < 2 {
			continue
		}
		var combined float64
		for _, i := range idx {
			combined = money.Sum(combined, loans[i].ClosingBalance)
		}
		for _, i := range idx {
			loans[i].Warnings = append(loans[i].Warnings, fmt.Sprintf(
				"%d loans appear to be with the same borrower (combined balance $%.2f); they may need to be amalgamated for minimum repayment purposes (s 109E(8)).",
				len(idx), combined))
		}
	}
}

// distributableSurplus prefers the caller's figure, then an estimate from
// equity account movements.
func (s *Service) distributableSurplus(txs []models.Transaction, opts Options) analysis.Fact[float64] {
	if opts.DistributableSurplus != nil {
		return analysis.KnownFact(money.Round2(*opts.DistributableSurplus))
	}
	var in, out []float64
	for _, tx := range txs {
		if !strings.EqualFold(tx.AccountType, "EQUITY") || s.policy.isLoanLike(tx) {
			continue
		}
		if analysis.IsMoneyIn(tx.Type) {
			in = append(in, math.Abs(tx.Amount))
		} else {
			out = append(out, math.Abs(tx.Amount))
		}
	}
	if len(in)+len(out) == 0 {
		return analysis.UnknownFact[float64]("No distributable surplus supplied and no equity transactions to estimate from.")
	}
	f := analysis.KnownFact(money.Round2(math.Max(0, money.Sum(in...)-money.Sum(out...))))
	f.Note = "Estimated from equity account transactions; confirm against the balance sheet."
	return f
}

func recommendations(s *Summary) []string {
	recs := []string{}
	if s.TotalLoans == 0 {
		return append(recs, "No shareholder or associate loans were identified for "+s.FinancialYear+".")
	}
	var unknownAgreements, shortfalls, repaymentGaps int
	for _, l := range s.Loans {
		if !l.WrittenAgreement.Known {
			unknownAgreements++
		}
		if l.InterestShortfall > 0 {
			shortfalls++
		}
		if l.RepaymentShortfall > 0 {
			repaymentGaps++
		}
	}
	if unknownAgreements > 0 {
		recs = append(recs, fmt.Sprintf("Confirm written loan agreements exist for %d loan(s) before the company's lodgement day (s 109N).", unknownAgreements))
	}
	if shortfalls > 0 {
		recs = append(recs, fmt.Sprintf("Charge benchmark interest of at least %.2f%%; total shortfall is $%.2f.", s.BenchmarkRate*100, s.TotalInterestShortfall))
	}
	if repaymentGaps > 0 {
		recs = append(recs, fmt.Sprintf("Make minimum yearly repayments before 30 June on %d loan(s) to avoid a deemed dividend (s 109E).", repaymentGaps))
	}
	if s.NonCompliantLoans > 0 {
		recs = append(recs, "Where a breach has already occurred, consider requesting the Commissioner's discretion under s 109RB.")
	}
	if s.TaxRateSource != rates.SourceLive {
		recs = append(recs, "Benchmark rate was not sourced live; verify it against the ATO published rate for "+s.FinancialYear+".")
	}
	return recs
}

func lookupFold(m map[string]bool, name string) bool {
	for k, v := range m {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return v
		}
	}
	return false
}

func agreementFact(m map[string]bool, name string) analysis.Fact[bool] {
	for k, v := range m {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return analysis.KnownFact(v)
		}
	}
	return analysis.UnknownFact[bool]("No written agreement status supplied for " + name + ".")
}

func earliest(sets ...[]models.Transaction) time.Time {
	var first time.Time
	for _, set := range sets {
		for _, tx := range set {
			if first.IsZero() || tx.TransactionDate.Before(first) {
				first = tx.TransactionDate
			}
		}
	}
	return first
}
