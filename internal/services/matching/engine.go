// Package matching scores how well a bank-side transaction corresponds to an
// invoice. Scores are built from independent weighted signals.
package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/scoring"
)

// Weights are the signal points and the surfacing threshold.
type Weights struct {
	ExactAmount     int
	NearAmount      int
	SameContact     int
	SimilarContact  int
	CloseDate       int
	NearDate        int
	Reference       int
	Threshold       int
	AmountTolerance float64
	SimilarityFloor float64
	CloseDays       int
	NearDays        int
}

var DefaultWeights = Weights{
	ExactAmount:     40,
	NearAmount:      20,
	SameContact:     30,
	SimilarContact:  20,
	CloseDate:       20,
	NearDate:        10,
	Reference:       10,
	Threshold:       50,
	AmountTolerance: 0.01,
	SimilarityFloor: 0.8,
	CloseDays:       7,
	NearDays:        30,
}

type pair struct {
	bank, invoice models.Transaction
}

// Result is one scored bank/invoice pair.
type Result struct {
	Score            int      `json:"score"`
	Reasons          []string `json:"reasons"`
	AmountDifference float64  `json:"amount_difference"`
	NameSimilarity   float64  `json:"name_similarity"`
	DaysApart        int      `json:"days_apart"`
}

func (w Weights) rules() []scoring.Rule[pair] {
	return []scoring.Rule[pair]{
		{
			Name:      "amount",
			MaxPoints: w.ExactAmount,
			Eval: func(p pair) (int, string) {
				a, b := math.Abs(p.bank.Amount), math.Abs(p.invoice.Amount)
				diff := math.Abs(a - b)
				switch {
				case diff < 0.005:
					return w.ExactAmount, "Exact amount match"
				case b > 0 && diff/b <= w.AmountTolerance:
					return w.NearAmount, fmt.Sprintf("Amount within %.0f%% ($%.2f difference)", w.AmountTolerance*100, diff)
				}
				return 0, ""
			},
		},
		{
			Name:      "contact",
			MaxPoints: w.SameContact,
			Eval: func(p pair) (int, string) {
				a, b := analysis.NormalizeName(p.bank.Counterparty()), analysis.NormalizeName(p.invoice.Counterparty())
				if a == "" || b == "" {
					return 0, ""
				}
				if a == b {
					return w.SameContact, "Same contact"
				}
				if sim := NameSimilarity(a, b); sim >= w.SimilarityFloor {
					return w.SimilarContact, fmt.Sprintf("Similar contact name (%.0f%%)", sim*100)
				}
				return 0, ""
			},
		},
		{
			Name:      "date",
			MaxPoints: w.CloseDate,
			Eval: func(p pair) (int, string) {
				days := daysApart(p.bank, p.invoice)
				switch {
				case days <= w.CloseDays:
					return w.CloseDate, fmt.Sprintf("Dates within %d days", days)
				case days <= w.NearDays:
					return w.NearDate, fmt.Sprintf("Dates within %d days", days)
				}
				return 0, ""
			},
		},
		scoring.Fixed("reference", w.Reference, "Matching reference", func(p pair) bool {
			a, b := strings.TrimSpace(strings.ToUpper(p.bank.Reference)), strings.TrimSpace(strings.ToUpper(p.invoice.Reference))
			return a != "" && b != "" && (a == b || strings.Contains(a, b) || strings.Contains(b, a))
		}),
	}
}

// Score rates one pair. Direction-incompatible pairs score zero.
func (w Weights) Score(bank, invoice models.Transaction) Result {
	res := Result{
		AmountDifference: math.Round((math.Abs(bank.Amount)-math.Abs(invoice.Amount))*100) / 100,
		NameSimilarity:   NameSimilarity(bank.Counterparty(), invoice.Counterparty()),
		DaysApart:        daysApart(bank, invoice),
		Reasons:          []string{},
	}
	if !Compatible(bank, invoice) {
		return res
	}
	scored := scoring.Evaluate(w.rules(), pair{bank: bank, invoice: invoice})
	res.Score = scored.Score
	res.Reasons = scored.Evidence()
	return res
}

// Best picks the highest scoring invoice for bank, if any clears the threshold.
// Ties keep the earlier invoice.
func (w Weights) Best(bank models.Transaction, invoices []models.Transaction) (models.Transaction, Result, bool) {
	type candidate struct {
		invoice models.Transaction
		result  Result
	}
	var best *candidate
	for _, inv := range invoices {
		r := w.Score(bank, inv)
		if r.Score < w.Threshold {
			continue
		}
		if best == nil || r.Score > best.result.Score {
			best = &candidate{invoice: inv, result: r}
		}
	}
	if best == nil {
		return models.Transaction{}, Result{}, false
	}
	return best.invoice, best.result, true
}

// Compatible reports whether money moves the same way on both sides:
// receipts settle receivables and payments settle payables.
func Compatible(bank, invoice models.Transaction) bool {
	switch strings.ToUpper(invoice.Type) {
	case models.TypeAccRec:
		return analysis.IsMoneyIn(bank.Type)
	case models.TypeAccPay:
		return !analysis.IsMoneyIn(bank.Type)
	}
	return false
}

// NameSimilarity compares names token by token: each token of the shorter
// name takes its best edit-distance similarity in the other. 0..1.
func NameSimilarity(a, b string) float64 {
	aTokens := strings.Fields(analysis.NormalizeName(a))
	bTokens := strings.Fields(analysis.NormalizeName(b))
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}
	if len(aTokens) > len(bTokens) {
		aTokens, bTokens = bTokens, aTokens
	}
	total := 0.0
	for _, at := range aTokens {
		best := 0.0
		for _, bt := range bTokens {
			dist := levenshtein.ComputeDistance(at, bt)
			maxLen := math.Max(float64(len(at)), float64(len(bt)))
			if sim := 1 - float64(dist)/maxLen; sim > best {
				best = sim
			}
		}
		total += best
	}
	return total / float64(len(aTokens))
}

func daysApart(a, b models.Transaction) int {
	if a.TransactionDate.After(b.TransactionDate) {
		a, b = b, a
	}
	return fiscal.DaysInclusive(a.TransactionDate, b.TransactionDate) - 1
}
