package report

import (
	"encoding/csv"
	"math"
	"sort"
	"strconv"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/money"
	"ato-tax-optimizer-backend/internal/services/fbt"
)

// HighValueThreshold is the claimable amount above which a deduction is
// listed for priority review.
const HighValueThreshold = 500.0

// Deduction types as printed in the exports.
const (
	DeductionGeneral       = "General deduction (ITAA 1997 s 8-1)"
	DeductionRnd           = "R&D expenditure (ITAA 1997 Div 355)"
	DeductionEntertainment = "Entertainment, non-deductible (ITAA 1997 s 32-5)"
	DeductionDiv7ALoan     = "Not deductible (Division 7A loan movement)"
)

// Deduction is the claimable view of one transaction.
type Deduction struct {
	Type                  string
	Claimable             float64
	FullyDeductible       bool
	RequiresDocumentation bool
}

// ClaimableDeduction projects a transaction onto its claimable amount. Income,
// transfers and voided items claim nothing and carry no type.
func ClaimableDeduction(tx models.Transaction) Deduction {
	if !analysis.IsExpense(tx) || tx.Type == models.TypeSpendTransfer || tx.Status == models.StatusVoided {
		return Deduction{}
	}
	amt := money.Round2(math.Abs(tx.Amount))
	switch {
	case tx.Division7aRisk:
		return Deduction{Type: DeductionDiv7ALoan, RequiresDocumentation: true}
	case tx.IsRndCandidate:
		return Deduction{Type: DeductionRnd, Claimable: amt, FullyDeductible: true, RequiresDocumentation: true}
	case tx.FbtImplications:
		if cat, _, _ := fbt.Classify(tx); cat == fbt.CategoryMealEntertainment {
			return Deduction{Type: DeductionEntertainment, RequiresDocumentation: true}
		}
		return Deduction{Type: DeductionGeneral, Claimable: amt, FullyDeductible: true, RequiresDocumentation: true}
	}
	return Deduction{Type: DeductionGeneral, Claimable: amt, FullyDeductible: true, RequiresDocumentation: amt > HighValueThreshold}
}

func writeHighValue(w *csv.Writer, txs []models.Transaction) (int, error) {
	type row struct {
		tx models.Transaction
		d  Deduction
	}
	var rows []row
	for _, tx := range txs {
		if d := ClaimableDeduction(tx); d.Claimable > HighValueThreshold {
			rows = append(rows, row{tx, d})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].d.Claimable > rows[j].d.Claimable })

	if err := w.Write([]string{
		"Priority", "Financial Year", "Date", "Supplier", "Amount", "Claimable", "Deduction Type",
		"Category", "Category Confidence", "Transaction ID", "Documentation Required",
	}); err != nil {
		return 0, err
	}
	for i, r := range rows {
		if err := w.Write([]string{
			strconv.Itoa(i + 1),
			r.tx.FinancialYear,
			analysis.ISODate(r.tx.TransactionDate),
			r.tx.Counterparty(),
			amount(r.tx.Amount),
			amount(r.d.Claimable),
			r.d.Type,
			r.tx.PrimaryCategory,
			strconv.FormatFloat(r.tx.CategoryConfidence, 'f', -1, 64),
			r.tx.TransactionID,
			yesNo(r.d.RequiresDocumentation),
		}); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

type group struct {
	key       string
	count     int
	total     []float64
	claimable []float64
	rnd       int
	fbt       int
	div7a     int
}

func groupBy(txs []models.Transaction, key func(models.Transaction) string) []*group {
	index := map[string]*group{}
	var out []*group
	for _, tx := range txs {
		k := key(tx)
		g, ok := index[k]
		if !ok {
			g = &group{key: k}
			index[k] = g
			out = append(out, g)
		}
		g.count++
		g.total = append(g.total, math.Abs(tx.Amount))
		g.claimable = append(g.claimable, ClaimableDeduction(tx).Claimable)
		if tx.IsRndCandidate {
			g.rnd++
		}
		if tx.FbtImplications {
			g.fbt++
		}
		if tx.Division7aRisk {
			g.div7a++
		}
	}
	return out
}

func writeByFY(w *csv.Writer, txs []models.Transaction) (int, error) {
	groups := groupBy(txs, func(tx models.Transaction) string {
		if tx.FinancialYear == "" {
			return "Unknown"
		}
		return tx.FinancialYear
	})
	sort.Slice(groups, func(i, j int) bool { return groups[i].key < groups[j].key })

	if err := w.Write([]string{
		"Financial Year", "Transaction Count", "Total Amount", "Claimable Amount", "R&D Candidates", "FBT Issues", "Div7A Issues",
	}); err != nil {
		return 0, err
	}
	for _, g := range groups {
		if err := w.Write([]string{
			g.key,
			strconv.Itoa(g.count),
			amount(money.Sum(g.total...)),
			amount(money.Sum(g.claimable...)),
			strconv.Itoa(g.rnd),
			strconv.Itoa(g.fbt),
			strconv.Itoa(g.div7a),
		}); err != nil {
			return 0, err
		}
	}
	return len(groups), nil
}

func writeByCategory(w *csv.Writer, txs []models.Transaction) (int, error) {
	groups := groupBy(txs, func(tx models.Transaction) string {
		if tx.PrimaryCategory == "" {
			return "Uncategorised"
		}
		return tx.PrimaryCategory
	})
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := money.Sum(groups[i].claimable...), money.Sum(groups[j].claimable...)
		if a != b {
			return a > b
		}
		return groups[i].key < groups[j].key
	})

	if err := w.Write([]string{"Category", "Transaction Count", "Total Amount", "Claimable Amount"}); err != nil {
		return 0, err
	}
	for _, g := range groups {
		if err := w.Write([]string{
			g.key,
			strconv.Itoa(g.count),
			amount(money.Sum(g.total...)),
			amount(money.Sum(g.claimable...)),
		}); err != nil {
			return 0, err
		}
	}
	return len(groups), nil
}
