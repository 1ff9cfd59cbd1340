package div7a

import (
	"fmt"
	"math"
	"strings"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/scoring"
)

// Policy holds the calibrated constants of the engine. The values were
// observed in production and should only be revised by a tax specialist.
type Policy struct {
	PreFilterWeight        int
	AccountCodeWeight      int
	KeywordWeightPerHit    int
	KeywordWeightMax       int
	RoundNumberWeight      int
	RecurringAmountWeight  int
	AccountNameWeight      int
	LowConfidenceThreshold int

	LoanAccountCodes []string
	LoanKeywords     []string
	AccountHints     []string
	ExclusionWords   []string

	RoundNumberUnit    float64
	RecurringMinCount  int
	UnsecuredTermYears int
	SecuredTermYears   int

	HighRiskAmount     float64
	CriticalRiskAmount float64
}

// DefaultPolicy is the production calibration.
var DefaultPolicy = Policy{
	PreFilterWeight:        30,
	AccountCodeWeight:      25,
	KeywordWeightPerHit:    10,
	KeywordWeightMax:       20,
	RoundNumberWeight:      10,
	RecurringAmountWeight:  10,
	AccountNameWeight:      15,
	LowConfidenceThreshold: 60,

	LoanAccountCodes: []string{"835", "880", "881", "895", "896", "1800"},
	LoanKeywords:     []string{"loan", "director", "shareholder", "advance", "drawings", "related party", "beneficiary"},
	AccountHints:     []string{"loan", "director", "shareholder", "drawings"},
	ExclusionWords:   []string{"salary", "wage", "dividend", "superannuation", "bonus", "director fee", "directors fee", "reimbursement"},

	RoundNumberUnit:    500,
	RecurringMinCount:  3,
	UnsecuredTermYears: 7,
	SecuredTermYears:   25,

	HighRiskAmount:     20000,
	CriticalRiskAmount: 50000,
}

// LowConfidenceWarning is attached to every loan scored under the threshold.
const LowConfidenceWarning = "Loan classification confidence is below %d%% (%d%%). Manual verification required: confirm this counterparty is a shareholder or associate and the transactions are loans before relying on this analysis."

// loanGroup is the set of transactions with one counterparty.
type loanGroup struct {
	name string
	txs  []models.Transaction
}

func (p Policy) classificationRules() []scoring.Rule[loanGroup] {
	return []scoring.Rule[loanGroup]{
		scoring.Fixed("pre_filter_flag", p.PreFilterWeight, "Upstream classifier flagged Division 7A risk",
			func(g loanGroup) bool {
				for _, tx := range g.txs {
					if tx.Division7aRisk {
						return true
					}
				}
				return false
			}),
		scoring.Fixed("loan_account_code", p.AccountCodeWeight, "Posted to a loan-type account code",
			func(g loanGroup) bool {
				for _, tx := range g.txs {
					if p.isLoanAccountCode(tx.AccountCode) {
						return true
					}
				}
				return false
			}),
		{
			Name:      "loan_keywords",
			MaxPoints: p.KeywordWeightMax,
			Eval: func(g loanGroup) (int, string) {
				seen := map[string]bool{}
				var hits []string
				for _, tx := range g.txs {
					for _, k := range analysis.MatchKeywords(strings.ToLower(tx.Description+" "+tx.Reference), p.LoanKeywords) {
						if !seen[k] {
							seen[k] = true
							hits = append(hits, k)
						}
					}
				}
				if len(hits) == 0 {
					return 0, ""
				}
				return len(hits) * p.KeywordWeightPerHit, "Loan keywords in descriptions: " + strings.Join(hits, ", ")
			},
		},
		scoring.Fixed("round_number_pattern", p.RoundNumberWeight, fmt.Sprintf("Most amounts are round multiples of $%.0f", p.RoundNumberUnit),
			func(g loanGroup) bool {
				round := 0
				for _, tx := range g.txs {
					amt := math.Abs(tx.Amount)
					if amt > 0 && math.Mod(amt, p.RoundNumberUnit) == 0 {
						round++
					}
				}
				return len(g.txs) > 0 && round*2 >= len(g.txs)
			}),
		scoring.Fixed("recurring_amount_pattern", p.RecurringAmountWeight, fmt.Sprintf("Same amount recurs at least %d times", p.RecurringMinCount),
			func(g loanGroup) bool {
				counts := map[int64]int{}
				for _, tx := range g.txs {
					cents := int64(math.Round(math.Abs(tx.Amount) * 100))
					counts[cents]++
					if cents > 0 && counts[cents] >= p.RecurringMinCount {
						return true
					}
				}
				return false
			}),
		scoring.Fixed("account_name_hint", p.AccountNameWeight, "Account name indicates a shareholder or director loan",
			func(g loanGroup) bool {
				for _, tx := range g.txs {
					if analysis.ContainsAny(strings.ToLower(tx.AccountName), p.AccountHints) {
						return true
					}
				}
				return false
			}),
	}
}

func (p Policy) isLoanAccountCode(code string) bool {
	for _, c := range p.LoanAccountCodes {
		if c == code {
			return true
		}
	}
	return false
}

// isLoanLike decides whether a transaction seeds a loan group at all.
func (p Policy) isLoanLike(tx models.Transaction) bool {
	if tx.Division7aRisk || p.isLoanAccountCode(tx.AccountCode) {
		return true
	}
	if analysis.ContainsAny(strings.ToLower(tx.AccountName), p.AccountHints) {
		return true
	}
	return analysis.ContainsAny(strings.ToLower(tx.Description), []string{"loan", "shareholder", "director advance", "drawings"})
}

// ClassifyLoan scores how likely a counterparty's transactions are a Division 7A loan.
func (p Policy) ClassifyLoan(name string, txs []models.Transaction) scoring.Result {
	return scoring.Evaluate(p.classificationRules(), loanGroup{name: name, txs: txs})
}

type movement int

const (
	movementAdvance movement = iota
	movementRepayment
	movementInterest
)

// classifyMovement infers direction from the transaction type and keywords.
func classifyMovement(tx models.Transaction) movement {
	text := strings.ToLower(tx.Description + " " + tx.Reference)
	in := analysis.IsMoneyIn(tx.Type)
	switch {
	case in && strings.Contains(text, "interest"):
		return movementInterest
	case in, strings.Contains(text, "repayment"), strings.Contains(text, "repaid"):
		return movementRepayment
	default:
		return movementAdvance
	}
}
