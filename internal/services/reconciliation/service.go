// Package reconciliation cross-references bank movements against invoices:
// unreconciled items, suggested matches, duplicates and missing bank entries.
package reconciliation

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
	"ato-tax-optimizer-backend/internal/services/matching"
)

const (
	StatusUnreconciled = "UNRECONCILED"
	StatusDraft        = "DRAFT"
	StatusUnknown      = "UNKNOWN"

	ExpectedBankReceipt = "bank_receipt"
	ExpectedBankPayment = "bank_payment"

	ClassificationExact  = "exact"
	ClassificationLikely = "likely"

	exactDuplicateConfidence  = 95
	likelyDuplicateConfidence = 75
	missingEntryAgeDays       = 30
)

type Options struct {
	FromYear string `json:"from_year"`
	ToYear   string `json:"to_year"`
}

type UnreconciledItem struct {
	TransactionID string  `json:"transaction_id"`
	Date          string  `json:"date"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	Contact       string  `json:"contact"`
	Reference     string  `json:"reference"`
	AccountCode   string  `json:"account_code"`
	FinancialYear string  `json:"financial_year"`
	Status        string  `json:"status"`
	Reason        string  `json:"reason"`
}

type SuggestedMatch struct {
	BankTransactionID string   `json:"bank_transaction_id"`
	InvoiceID         string   `json:"invoice_id"`
	InvoiceReference  string   `json:"invoice_reference"`
	BankAmount        float64  `json:"bank_amount"`
	InvoiceAmount     float64  `json:"invoice_amount"`
	AmountDifference  float64  `json:"amount_difference"`
	Score             int      `json:"score"`
	Reasons           []string `json:"reasons"`
	DaysApart         int      `json:"days_apart"`
}

type DuplicateGroup struct {
	Kind           string   `json:"kind"`
	Amount         float64  `json:"amount"`
	Date           string   `json:"date"`
	Contact        string   `json:"contact"`
	TransactionIDs []string `json:"transaction_ids"`
	Count          int      `json:"count"`
	Classification string   `json:"classification"`
	Confidence     int      `json:"confidence"`
	Exposure       float64  `json:"exposure"`
}

type MissingEntry struct {
	InvoiceID     string  `json:"invoice_id"`
	InvoiceType   string  `json:"invoice_type"`
	ExpectedType  string  `json:"expected_type"`
	Amount        float64 `json:"amount"`
	Contact       string  `json:"contact"`
	Reference     string  `json:"reference"`
	PaidDate      string  `json:"paid_date"`
	DaysSincePaid int     `json:"days_since_paid"`
	Reason        string  `json:"reason"`
}

// Breakdown aggregates bank movements by one key.
type Breakdown struct {
	Key                string  `json:"key"`
	Count              int     `json:"count"`
	Amount             float64 `json:"amount"`
	UnreconciledCount  int     `json:"unreconciled_count"`
	UnreconciledAmount float64 `json:"unreconciled_amount"`
}

type Summary struct {
	TenantID             string             `json:"tenant_id"`
	FromYear             string             `json:"from_year"`
	ToYear               string             `json:"to_year"`
	BankTransactionCount int                `json:"bank_transaction_count"`
	InvoiceCount         int                `json:"invoice_count"`
	Unreconciled         []UnreconciledItem `json:"unreconciled"`
	UnreconciledCount    int                `json:"unreconciled_count"`
	UnreconciledAmount   float64            `json:"unreconciled_amount"`
	UnknownStatusCount   int                `json:"unknown_status_count"`
	SuggestedMatches     []SuggestedMatch   `json:"suggested_matches"`
	Duplicates           []DuplicateGroup   `json:"duplicates"`
	DuplicateCount       int                `json:"duplicate_count"`
	DuplicateExposure    float64            `json:"duplicate_exposure"`
	MissingEntries       []MissingEntry     `json:"missing_entries"`
	MissingEntryAmount   float64            `json:"missing_entry_amount"`
	ByAccountCode        []Breakdown        `json:"by_account_code"`
	ByFinancialYear      []Breakdown        `json:"by_financial_year"`
	Warnings             []string           `json:"warnings"`
	Recommendations      []string           `json:"recommendations"`
}

type Service struct {
	store   analysis.TransactionStore
	weights matching.Weights
	log     zerolog.Logger
}

func NewService(store analysis.TransactionStore, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		weights: matching.DefaultWeights,
		log:     log.With().Str("engine", "reconciliation").Logger(),
	}
}

// Analyze reconciles bank movements against invoices over a year range.
func (s *Service) Analyze(ctx context.Context, tenantID string, opts Options) (*Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, analysis.ErrInvalidTenant
	}
	from, to := opts.FromYear, opts.ToYear
	if from == "" && to == "" {
		from = fiscal.CurrentFinancialYear()
	}
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}
	summary := &Summary{
		TenantID:         tenantID,
		FromYear:         from,
		ToYear:           to,
		Unreconciled:     []UnreconciledItem{},
		SuggestedMatches: []SuggestedMatch{},
		Duplicates:       []DuplicateGroup{},
		MissingEntries:   []MissingEntry{},
		ByAccountCode:    []Breakdown{},
		ByFinancialYear:  []Breakdown{},
		Warnings:         []string{},
		Recommendations:  []string{},
	}
	if fiscal.FinancialYearsBetween(from, to) == nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Invalid financial year range %q to %q.", from, to))
		return summary, nil
	}

	txs, err := s.store.FetchTransactions(ctx, tenantID, analysis.TransactionFilter{FromYear: from, ToYear: to})
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Msg("reconciliation fetch failed")
		return nil, fmt.Errorf("failed to fetch reconciliation transactions: %w", err)
	}

	var bank, invoices []models.Transaction
	for _, tx := range txs {
		switch {
		case analysis.IsBankType(tx.Type):
			bank = append(bank, tx)
		case analysis.IsInvoiceType(tx.Type):
			invoices = append(invoices, tx)
		}
	}
	summary.BankTransactionCount = len(bank)
	summary.InvoiceCount = len(invoices)

	openInvoices := make([]models.Transaction, 0, len(invoices))
	for _, inv := range invoices {
		if !strings.EqualFold(inv.Status, models.StatusPaid) && !strings.EqualFold(inv.Status, models.StatusVoided) {
			openInvoices = append(openInvoices, inv)
		}
	}

	byAccount := map[string]*Breakdown{}
	byYear := map[string]*Breakdown{}
	for _, tx := range bank {
		amt := math.Abs(tx.Amount)
		status, reason := reconciliationStatus(tx)
		unreconciled := status != ""
		accumulate(byAccount, accountKey(tx), amt, unreconciled)
		accumulate(byYear, tx.FinancialYear, amt, unreconciled)
		if !unreconciled {
			continue
		}
		summary.Unreconciled = append(summary.Unreconciled, UnreconciledItem{
			TransactionID: tx.TransactionID,
			Date:          analysis.ISODate(tx.TransactionDate),
			Type:          tx.Type,
			Amount:        money.Round2(amt),
			Contact:       tx.Counterparty(),
			Reference:     tx.Reference,
			AccountCode:   tx.AccountCode,
			FinancialYear: tx.FinancialYear,
			Status:        status,
			Reason:        reason,
		})
		summary.UnreconciledAmount = money.Sum(summary.UnreconciledAmount, amt)
		if status == StatusUnknown {
			summary.UnknownStatusCount++
		}

		if inv, res, ok := s.weights.Best(tx, openInvoices); ok {
			summary.SuggestedMatches = append(summary.SuggestedMatches, SuggestedMatch{
				BankTransactionID: tx.TransactionID,
				InvoiceID:         inv.TransactionID,
				InvoiceReference:  inv.Reference,
				BankAmount:        money.Round2(amt),
				InvoiceAmount:     money.Round2(math.Abs(inv.Amount)),
				AmountDifference:  res.AmountDifference,
				Score:             res.Score,
				Reasons:           res.Reasons,
				DaysApart:         res.DaysApart,
			})
		}
	}
	summary.UnreconciledCount = len(summary.Unreconciled)
	summary.ByAccountCode = flatten(byAccount)
	summary.ByFinancialYear = flatten(byYear)

	summary.Duplicates = findDuplicates(txs)
	summary.DuplicateCount = len(summary.Duplicates)
	for _, d := range summary.Duplicates {
		summary.DuplicateExposure = money.Sum(summary.DuplicateExposure, d.Exposure)
	}

	summary.MissingEntries = s.findMissingEntries(invoices, bank, fiscal.Now())
	for _, m := range summary.MissingEntries {
		summary.MissingEntryAmount = money.Sum(summary.MissingEntryAmount, m.Amount)
	}

	if summary.UnknownStatusCount > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("%d bank transaction(s) have no source detail and are treated as UNKNOWN rather than reconciled; re-sync them from the ledger.", summary.UnknownStatusCount))
	}
	summary.Recommendations = recommendations(summary)
	return summary, nil
}

// reconciliationStatus returns "" for a reconciled bank movement.
func reconciliationStatus(tx models.Transaction) (string, string) {
	switch {
	case len(tx.RawDetail) == 0 || string(tx.RawDetail) == "null":
		return StatusUnknown, "Source transaction detail is missing; reconciliation state cannot be confirmed."
	case strings.EqualFold(tx.Status, models.StatusDraft):
		return StatusDraft, "Transaction is still in draft."
	case !tx.IsReconciled:
		return StatusUnreconciled, "Not reconciled against a bank statement line."
	}
	return "", ""
}

func accountKey(tx models.Transaction) string {
	if tx.AccountCode == "" {
		return "uncoded"
	}
	return tx.AccountCode
}

func accumulate(m map[string]*Breakdown, key string, amount float64, unreconciled bool) {
	if key == "" {
		key = "unknown"
	}
	b, ok := m[key]
	if !ok {
		b = &Breakdown{Key: key}
		m[key] = b
	}
	b.Count++
	b.Amount = money.Sum(b.Amount, amount)
	if unreconciled {
		b.UnreconciledCount++
		b.UnreconciledAmount = money.Sum(b.UnreconciledAmount, amount)
	}
}

func flatten(m map[string]*Breakdown) []Breakdown {
	out := make([]Breakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// findDuplicates groups transactions of the same kind sharing amount, date and
// contact. One instance per group is assumed legitimate.
func findDuplicates(txs []models.Transaction) []DuplicateGroup {
	type key struct {
		kind    string
		cents   int64
		date    string
		contact string
	}
	groups := map[key][]models.Transaction{}
	var order []key
	for _, tx := range txs {
		kind := "bank"
		if analysis.IsInvoiceType(tx.Type) {
			kind = "invoice"
		} else if !analysis.IsBankType(tx.Type) {
			continue
		}
		k := key{
			kind:    kind,
			cents:   int64(math.Round(math.Abs(tx.Amount) * 100)),
			date:    analysis.ISODate(tx.TransactionDate),
			contact: analysis.NormalizeName(tx.Counterparty()),
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], tx)
	}

	out := []DuplicateGroup{}
	for _, k := range order {
		members := groups[k]
		if len(members) < 2 {
			continue
		}
		amount := float64(k.cents) / 100
		g := DuplicateGroup{
			Kind:           k.kind,
			Amount:         amount,
			Date:           k.date,
			Contact:        members[0].Counterparty(),
			Count:          len(members),
			Classification: ClassificationLikely,
			Confidence:     likelyDuplicateConfidence,
			Exposure:       money.Mul(float64(len(members)-1), amount),
		}
		sameRef := true
		for _, m := range members {
			g.TransactionIDs = append(g.TransactionIDs, m.TransactionID)
			if !strings.EqualFold(strings.TrimSpace(m.Reference), strings.TrimSpace(members[0].Reference)) {
				sameRef = false
			}
		}
		if sameRef {
			g.Classification = ClassificationExact
			g.Confidence = exactDuplicateConfidence
		}
		out = append(out, g)
	}
	return out
}

// findMissingEntries flags paid invoices older than 30 days with no bank
// movement that could have settled them.
func (s *Service) findMissingEntries(invoices, bank []models.Transaction, asOf time.Time) []MissingEntry {
	out := []MissingEntry{}
	for _, inv := range invoices {
		if !strings.EqualFold(inv.Status, models.StatusPaid) {
			continue
		}
		paid := inv.TransactionDate
		if inv.PaidAt != nil {
			paid = *inv.PaidAt
		}
		age := fiscal.DaysInclusive(paid, asOf) - 1
		if age <= missingEntryAgeDays {
			continue
		}
		if hasBankCounterpart(inv, paid, bank, s.weights) {
			continue
		}
		expected := ExpectedBankPayment
		if strings.EqualFold(inv.Type, models.TypeAccRec) {
			expected = ExpectedBankReceipt
		}
		out = append(out, MissingEntry{
			InvoiceID:     inv.TransactionID,
			InvoiceType:   strings.ToUpper(inv.Type),
			ExpectedType:  expected,
			Amount:        money.Round2(math.Abs(inv.Amount)),
			Contact:       inv.Counterparty(),
			Reference:     inv.Reference,
			PaidDate:      analysis.ISODate(paid),
			DaysSincePaid: age,
			Reason:        fmt.Sprintf("Invoice marked paid %d days ago but no matching %s was found.", age, strings.ReplaceAll(expected, "_", " ")),
		})
	}
	return out
}

func hasBankCounterpart(inv models.Transaction, paid time.Time, bank []models.Transaction, w matching.Weights) bool {
	cents := int64(math.Round(math.Abs(inv.Amount) * 100))
	for _, b := range bank {
		if int64(math.Round(math.Abs(b.Amount)*100)) != cents || !matching.Compatible(b, inv) {
			continue
		}
		if inv.Reference != "" && strings.EqualFold(strings.TrimSpace(b.Reference), strings.TrimSpace(inv.Reference)) {
			return true
		}
		if matching.NameSimilarity(b.Counterparty(), inv.Counterparty()) >= w.SimilarityFloor {
			return true
		}
		if b.Counterparty() == "" || inv.Counterparty() == "" {
			from, to := paid, b.TransactionDate
			if from.After(to) {
				from, to = to, from
			}
			if fiscal.DaysInclusive(from, to)-1 <= w.NearDays {
				return true
			}
		}
	}
	return false
}

func recommendations(s *Summary) []string {
	recs := []string{}
	if s.UnreconciledCount > 0 {
		recs = append(recs, fmt.Sprintf("Reconcile %d bank transaction(s) totalling $%.2f before relying on year-end figures.", s.UnreconciledCount, s.UnreconciledAmount))
	}
	if len(s.SuggestedMatches) > 0 {
		recs = append(recs, fmt.Sprintf("Review %d suggested invoice match(es); each lists the matching reasons.", len(s.SuggestedMatches)))
	}
	if s.DuplicateCount > 0 {
		recs = append(recs, fmt.Sprintf("Investigate %d possible duplicate group(s) with $%.2f of exposure; remove or void confirmed duplicates.", s.DuplicateCount, s.DuplicateExposure))
	}
	if len(s.MissingEntries) > 0 {
		recs = append(recs, fmt.Sprintf("Record the bank side of %d paid invoice(s) ($%.2f) or correct their paid status.", len(s.MissingEntries), s.MissingEntryAmount))
	}
	if len(recs) == 0 {
		recs = append(recs, "No reconciliation issues found.")
	}
	return recs
}
