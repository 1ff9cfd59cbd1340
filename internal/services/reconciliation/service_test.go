package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/repository"
)

var detail = datatypes.JSON(`{"source":"ledger"}`)

func date(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func tx(id, typ string, amount float64, contact string, when time.Time) models.Transaction {
	return models.Transaction{
		TenantID:        "t1",
		TransactionID:   id,
		Type:            typ,
		Amount:          amount,
		ContactName:     contact,
		TransactionDate: when,
		FinancialYear:   "FY2024-25",
		IsReconciled:    true,
		RawDetail:       detail,
		Status:          models.StatusAuthorised,
	}
}

func fixture() *repository.MemoryTransactionStore {
	acme := tx("bank-acme", models.TypeReceive, 1500, "Acme Pty Ltd", date(time.September, 12))
	acme.IsReconciled = false
	acme.AccountCode = "090"

	cafe := tx("bank-cafe", models.TypeSpend, -250, "Corner Cafe", date(time.October, 3))
	cafe.RawDetail = nil
	cafe.AccountCode = "420"

	var dups []models.Transaction
	for _, id := range []string{"dup-1", "dup-2", "dup-3"} {
		d := tx(id, models.TypeSpend, -1500, "Dup Supplier", date(time.November, 4))
		d.Reference = "PO-77"
		d.AccountCode = "310"
		dups = append(dups, d)
	}

	invoice := tx("inv-acme", models.TypeAccRec, 1500, "ACME PTY. LTD.", date(time.September, 10))

	paidAt := date(time.August, 1)
	widget := tx("inv-widget", models.TypeAccPay, 800, "Widget Co", date(time.July, 20))
	widget.Status = models.StatusPaid
	widget.PaidAt = &paidAt

	beta := tx("inv-beta", models.TypeAccRec, 400, "Beta", date(time.July, 5))
	beta.Status = models.StatusPaid
	betaBank := tx("bank-beta", models.TypeReceive, 400, "Beta Pty", date(time.July, 9))

	all := append([]models.Transaction{acme, cafe, invoice, widget, beta, betaBank}, dups...)
	return repository.NewMemoryTransactionStore(all...)
}

func withNow(t *testing.T, now time.Time) {
	prev := fiscal.Now
	fiscal.Now = func() time.Time { return now }
	t.Cleanup(func() { fiscal.Now = prev })
}

func TestAnalyzeReconciliation(t *testing.T) {
	withNow(t, date(time.December, 1))

	summary, err := NewService(fixture(), zerolog.Nop()).Analyze(context.Background(), "t1", Options{FromYear: "FY2024-25"})
	require.NoError(t, err)

	assert.Equal(t, 6, summary.BankTransactionCount)
	assert.Equal(t, 3, summary.InvoiceCount)

	require.Len(t, summary.Unreconciled, 2)
	assert.Equal(t, 2, summary.UnreconciledCount)
	assert.Equal(t, 1750.0, summary.UnreconciledAmount)
	assert.Equal(t, 1, summary.UnknownStatusCount)
	assert.Equal(t, StatusUnreconciled, summary.Unreconciled[0].Status)
	assert.Equal(t, StatusUnknown, summary.Unreconciled[1].Status)
	assert.NotEmpty(t, summary.Warnings)

	require.Len(t, summary.SuggestedMatches, 1)
	m := summary.SuggestedMatches[0]
	assert.Equal(t, "bank-acme", m.BankTransactionID)
	assert.Equal(t, "inv-acme", m.InvoiceID)
	assert.Equal(t, 90, m.Score)
	assert.Equal(t, 0.0, m.AmountDifference)

	require.Len(t, summary.Duplicates, 1)
	assert.Equal(t, 1, summary.DuplicateCount)
	dup := summary.Duplicates[0]
	assert.Equal(t, 3, dup.Count)
	assert.Equal(t, 3000.0, dup.Exposure)
	assert.Equal(t, ClassificationExact, dup.Classification)
	assert.Equal(t, 95, dup.Confidence)
	assert.Equal(t, 3000.0, summary.DuplicateExposure)

	require.Len(t, summary.MissingEntries, 1)
	missing := summary.MissingEntries[0]
	assert.Equal(t, "inv-widget", missing.InvoiceID)
	assert.Equal(t, ExpectedBankPayment, missing.ExpectedType)
	assert.Equal(t, 122, missing.DaysSincePaid)
	assert.Equal(t, "2024-08-01", missing.PaidDate)
	assert.Equal(t, 800.0, summary.MissingEntryAmount)

	require.Len(t, summary.ByFinancialYear, 1)
	assert.Equal(t, 6, summary.ByFinancialYear[0].Count)
	assert.Equal(t, 2, summary.ByFinancialYear[0].UnreconciledCount)
	for _, b := range summary.ByAccountCode {
		if b.Key == "310" {
			assert.Equal(t, 4500.0, b.Amount)
		}
	}
	assert.Len(t, summary.Recommendations, 4)
}

func TestDuplicatesWithDifferentReferencesAreLikely(t *testing.T) {
	a := tx("a", models.TypeSpend, -99.95, "Telstra", date(time.August, 2))
	b := tx("b", models.TypeSpend, -99.95, "TELSTRA", date(time.August, 2))
	a.Reference, b.Reference = "bill 1", "bill 2"
	c := tx("c", models.TypeSpend, -99.95, "Telstra", date(time.August, 3))

	groups := findDuplicates([]models.Transaction{a, b, c})
	require.Len(t, groups, 1)
	assert.Equal(t, ClassificationLikely, groups[0].Classification)
	assert.Equal(t, 75, groups[0].Confidence)
	assert.Equal(t, 99.95, groups[0].Exposure)
	assert.Equal(t, []string{"a", "b"}, groups[0].TransactionIDs)
}

func TestRecentPaidInvoiceIsNotMissing(t *testing.T) {
	withNow(t, date(time.August, 20))
	paidAt := date(time.August, 1)
	inv := tx("inv", models.TypeAccPay, 800, "Widget Co", date(time.July, 20))
	inv.Status = models.StatusPaid
	inv.PaidAt = &paidAt

	summary, err := NewService(repository.NewMemoryTransactionStore(inv), zerolog.Nop()).Analyze(context.Background(), "t1", Options{FromYear: "FY2024-25"})
	require.NoError(t, err)
	assert.Empty(t, summary.MissingEntries)
	assert.Equal(t, []string{"No reconciliation issues found."}, summary.Recommendations)
}

func TestAnalyzeErrors(t *testing.T) {
	svc := NewService(fixture(), zerolog.Nop())
	_, err := svc.Analyze(context.Background(), " ", Options{})
	assert.ErrorIs(t, err, analysis.ErrInvalidTenant)

	summary, err := svc.Analyze(context.Background(), "t1", Options{FromYear: "FY2025-26", ToYear: "FY2024-25"})
	require.NoError(t, err)
	assert.Empty(t, summary.Unreconciled)
	assert.NotEmpty(t, summary.Warnings)

	store := repository.NewMemoryTransactionStore()
	store.Err = errors.New("timeout")
	_, err = NewService(store, zerolog.Nop()).Analyze(context.Background(), "t1", Options{FromYear: "FY2024-25"})
	assert.EqualError(t, err, "failed to fetch reconciliation transactions: timeout")
}

func TestPaidStatusIsCaseInsensitive(t *testing.T) {
	withNow(t, date(time.September, 20))
	bank := tx("bank-acme", models.TypeReceive, 1500, "Acme Pty Ltd", date(time.September, 12))
	bank.IsReconciled = false
	inv := tx("inv-acme", models.TypeAccRec, 1500, "ACME PTY. LTD.", date(time.September, 10))
	inv.Status = "paid"

	summary, err := NewService(repository.NewMemoryTransactionStore(bank, inv), zerolog.Nop()).Analyze(context.Background(), "t1", Options{FromYear: "FY2024-25"})
	require.NoError(t, err)
	assert.Empty(t, summary.SuggestedMatches)
	assert.Empty(t, summary.MissingEntries)
}
