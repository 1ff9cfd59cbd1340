package payg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/rates"
	"ato-tax-optimizer-backend/internal/repository"
)

func ptr(v float64) *float64 { return &v }

func newService(store analysis.TransactionStore) *Service {
	return NewService(store, rates.NewResolver(nil, 0, zerolog.Nop()), zerolog.Nop())
}

func TestQuarterDueDates(t *testing.T) {
	qs, ok := Quarters("FY2024-25")
	require.True(t, ok)
	require.Len(t, qs, 4)
	assert.Equal(t, []string{"2024-10-28", "2025-02-28", "2025-04-28", "2025-08-28"},
		[]string{qs[0].DueDate, qs[1].DueDate, qs[2].DueDate, qs[3].DueDate})
	assert.Equal(t, "2025-01-01", qs[2].Start)
	assert.Equal(t, "2025-03-31", qs[2].End)
	assert.Equal(t, "2024-12-31", qs[1].End)

	_, ok = Quarters("FY24")
	assert.False(t, ok)
}

func TestAmountMethodOverpayment(t *testing.T) {
	summary, err := newService(repository.NewMemoryTransactionStore()).AnalyzeInstalments(context.Background(), "tenant-1", Options{
		FinancialYear:         "FY2024-25",
		NotifiedAnnualAmount:  ptr(40000),
		EstimatedTaxLiability: ptr(25000),
	})
	require.NoError(t, err)

	assert.Equal(t, MethodAmount, summary.CurrentMethod)
	assert.Equal(t, 10000.0, summary.Quarters[0].Instalment)
	assert.Equal(t, 40000.0, summary.AnnualInstalments)
	assert.Equal(t, MethodRate, summary.RecommendedMethod)
	assert.True(t, summary.VariationRecommended)
	assert.Equal(t, 21250.0, summary.VariationAmount)
	assert.Contains(t, summary.PenaltyWarning, "General Interest Charge")
	assert.Equal(t, 15000.0, summary.CashflowImpact.Saving)
	assert.Equal(t, 6250.0, summary.CashflowImpact.OptimisedQuarterly)
	assert.Contains(t, summary.Recommendations, PenaltyWarning)
}

func TestRateMethodFromTransactions(t *testing.T) {
	d := func(y int, m time.Month) time.Time { return time.Date(y, m, 15, 0, 0, 0, 0, time.UTC) }
	store := repository.NewMemoryTransactionStore(
		models.Transaction{TenantID: "tenant-1", TransactionID: "i1", FinancialYear: "FY2024-25", TransactionDate: d(2024, time.August), Amount: 100000, Type: models.TypeReceive},
		models.Transaction{TenantID: "tenant-1", TransactionID: "i2", FinancialYear: "FY2024-25", TransactionDate: d(2025, time.January), Amount: 50000, Type: models.TypeReceive},
		models.Transaction{TenantID: "tenant-1", TransactionID: "e1", FinancialYear: "FY2024-25", TransactionDate: d(2024, time.September), Amount: -30000, Type: models.TypeSpend},
	)
	summary, err := newService(store).AnalyzeInstalments(context.Background(), "tenant-1", Options{FinancialYear: "FY2024-25", NotifiedRate: ptr(0.05)})
	require.NoError(t, err)

	assert.Equal(t, MethodRate, summary.CurrentMethod)
	assert.Equal(t, 150000.0, summary.TotalIncome)
	assert.Equal(t, 30000.0, summary.TotalExpenses)
	assert.Equal(t, 36000.0, summary.EstimatedTaxLiability)
	assert.Equal(t, "estimated_from_transactions", summary.LiabilitySource)
	assert.Equal(t, 5000.0, summary.Quarters[0].RateMethodInstalment)
	assert.Equal(t, 0.0, summary.Quarters[1].RateMethodInstalment)
	assert.Equal(t, 2500.0, summary.Quarters[2].RateMethodInstalment)
	assert.Equal(t, 7500.0, summary.AnnualInstalments)
	assert.False(t, summary.VariationRecommended)
	assert.Equal(t, 0.0, summary.CashflowImpact.Saving)
	assert.True(t, summary.NotifiedRate.Known)
	assert.Equal(t, rates.SourceFallback, summary.TaxRateSource)
}

func TestAmountMethodWithoutAmountFallsBack(t *testing.T) {
	summary, err := newService(repository.NewMemoryTransactionStore()).AnalyzeInstalments(context.Background(), "tenant-1", Options{FinancialYear: "FY2024-25", Method: MethodAmount})
	require.NoError(t, err)
	assert.Equal(t, MethodRate, summary.CurrentMethod)
	assert.NotEmpty(t, summary.Warnings)
}

func TestFetchFailure(t *testing.T) {
	store := repository.NewMemoryTransactionStore()
	store.Err = errors.New("closed")
	_, err := newService(store).AnalyzeInstalments(context.Background(), "tenant-1", Options{FinancialYear: "FY2024-25"})
	assert.EqualError(t, err, "failed to fetch PAYG income data: closed")
}

func TestVoidedIncomeIsIgnored(t *testing.T) {
	d := time.Date(2024, time.August, 15, 0, 0, 0, 0, time.UTC)
	store := repository.NewMemoryTransactionStore(
		models.Transaction{TenantID: "tenant-1", TransactionID: "i1", FinancialYear: "FY2024-25", TransactionDate: d, Amount: 100000, Type: models.TypeReceive},
		models.Transaction{TenantID: "tenant-1", TransactionID: "v1", FinancialYear: "FY2024-25", TransactionDate: d, Amount: 10000, Type: models.TypeAccRec, Status: models.StatusVoided},
	)
	summary, err := newService(store).AnalyzeInstalments(context.Background(), "tenant-1", Options{FinancialYear: "FY2024-25", NotifiedRate: ptr(0.05)})
	require.NoError(t, err)

	assert.Equal(t, 100000.0, summary.TotalIncome)
	assert.Equal(t, 5000.0, summary.Quarters[0].RateMethodInstalment)
}
