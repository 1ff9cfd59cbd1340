package div7a

import (
	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/scoring"
)

// Options are the caller-supplied facts for one analysis.
type Options struct {
	FinancialYear string `json:"financial_year"`
	// WrittenAgreements maps a shareholder name (case-insensitive) to whether a
	// compliant written agreement exists. Absent names are unknown.
	WrittenAgreements map[string]bool `json:"written_agreements"`
	// SecuredLoans marks loans secured by a registered mortgage (25-year term).
	SecuredLoans         map[string]bool `json:"secured_loans"`
	DistributableSurplus *float64        `json:"distributable_surplus"`
}

// BalanceSource says how an opening balance was established.
type BalanceSource string

const (
	BalanceFromPriorYear BalanceSource = "prior_year_calculated"
	BalanceUnknown       BalanceSource = "unknown"
)

type OpeningBalance struct {
	Amount float64       `json:"amount"`
	Source BalanceSource `json:"source"`
	Note   string        `json:"note,omitempty"`
}

// MinimumRepayment holds both the full-year and the (possibly prorated) figure.
type MinimumRepayment struct {
	Principal      float64 `json:"principal"`
	Rate           float64 `json:"rate"`
	TermYears      int     `json:"term_years"`
	FullYearAmount float64 `json:"full_year_amount"`
	Amount         float64 `json:"amount"`
	Prorated       bool    `json:"prorated"`
	DaysRemaining  int     `json:"days_remaining,omitempty"`
}

// PossibleExclusion is a payment that may fall outside deemed-dividend
// treatment. It is flagged, never excluded automatically.
type PossibleExclusion struct {
	TransactionID string  `json:"transaction_id"`
	Date          string  `json:"date"`
	Amount        float64 `json:"amount"`
	Keyword       string  `json:"keyword"`
}

// Scenario models one assumption about the written agreement.
type Scenario struct {
	Assumption     string   `json:"assumption"`
	Compliant      bool     `json:"compliant"`
	DeemedDividend float64  `json:"deemed_dividend"`
	Notes          []string `json:"notes"`
}

type Scenarios struct {
	WithAgreement    Scenario `json:"with_agreement"`
	WithoutAgreement Scenario `json:"without_agreement"`
}

// LoanAnalysis is the result for one shareholder or associate.
type LoanAnalysis struct {
	Shareholder               string              `json:"shareholder"`
	TransactionCount          int                 `json:"transaction_count"`
	LoanStartDate             string              `json:"loan_start_date"`
	ClassificationConfidence  int                 `json:"classification_confidence"`
	ClassificationSignals     []scoring.Signal    `json:"classification_signals"`
	OpeningBalance            OpeningBalance      `json:"opening_balance"`
	Advances                  float64             `json:"advances"`
	Repayments                float64             `json:"repayments"`
	ClosingBalance            float64             `json:"closing_balance"`
	BenchmarkRate             float64             `json:"benchmark_rate"`
	BenchmarkInterestRequired float64             `json:"benchmark_interest_required"`
	InterestCharged           float64             `json:"interest_charged"`
	InterestShortfall         float64             `json:"interest_shortfall"`
	MinimumRepayment          MinimumRepayment    `json:"minimum_repayment"`
	RepaymentShortfall        float64             `json:"repayment_shortfall"`
	Secured                   bool                `json:"secured"`
	WrittenAgreement          analysis.Fact[bool] `json:"written_agreement"`
	Scenarios                 Scenarios           `json:"scenarios"`
	IsCompliant               bool                `json:"is_compliant"`
	ComplianceIssues          []string            `json:"compliance_issues"`
	DeemedDividendRisk        float64             `json:"deemed_dividend_risk"`
	RiskLevel                 analysis.RiskLevel  `json:"risk_level"`
	PossibleExclusions        []PossibleExclusion `json:"possible_exclusions"`
	Warnings                  []string            `json:"warnings"`
	Degraded                  bool                `json:"degraded"`
}

// Summary is the engine output.
type Summary struct {
	TenantID                        string                 `json:"tenant_id"`
	FinancialYear                   string                 `json:"financial_year"`
	BenchmarkRate                   float64                `json:"benchmark_rate"`
	Loans                           []LoanAnalysis         `json:"loans"`
	TotalLoans                      int                    `json:"total_loans"`
	CompliantLoans                  int                    `json:"compliant_loans"`
	NonCompliantLoans               int                    `json:"non_compliant_loans"`
	TotalOutstanding                float64                `json:"total_outstanding"`
	TotalInterestShortfall          float64                `json:"total_interest_shortfall"`
	TotalDeemedDividendRiskUncapped float64                `json:"total_deemed_dividend_risk_uncapped"`
	TotalDeemedDividendRisk         float64                `json:"total_deemed_dividend_risk"`
	DistributableSurplus            analysis.Fact[float64] `json:"distributable_surplus"`
	SurplusCapApplied               bool                   `json:"surplus_cap_applied"`
	Warnings                        []string               `json:"warnings"`
	Recommendations                 []string               `json:"recommendations"`
	LegislativeReferences           []string               `json:"legislative_references"`
	analysis.Provenance
}
