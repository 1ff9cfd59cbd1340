package auditrisk

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/repository"
)

func tx(id, typ string, amount float64, desc string) models.Transaction {
	return models.Transaction{
		TenantID:        "t1",
		TransactionID:   id,
		Type:            typ,
		Amount:          amount,
		Description:     desc,
		TransactionDate: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		FinancialYear:   "FY2024-25",
	}
}

var prescriptive = []string{"reduce", "cut ", "lower your", "decrease", "align with", "bring expenses", "in line with the benchmark", "match the benchmark"}

func assertDescriptive(t *testing.T, recs []string) {
	t.Helper()
	for _, r := range recs {
		lower := strings.ToLower(r)
		for _, p := range prescriptive {
			assert.NotContains(t, lower, p, r)
		}
	}
}

func TestAssessRiskRedFlags(t *testing.T) {
	store := repository.NewMemoryTransactionStore(
		tx("sales", models.TypeReceive, 100000, "Sales"),
		tx("ent", models.TypeSpend, -6000, "Client dinner restaurant"),
		tx("travel", models.TypeSpend, -12000, "Qantas flights"),
		tx("fuel", models.TypeSpend, -9000, "Fuel card"),
		tx("stock", models.TypeSpend, -73000, "Supplies"),
	)
	summary, err := NewService(store, zerolog.Nop()).AssessRisk(context.Background(), "t1", Options{FinancialYear: "FY2024-25"})
	require.NoError(t, err)

	assert.Equal(t, 100000.0, summary.TotalIncome)
	assert.Equal(t, 100000.0, summary.TotalExpenses)
	assert.Equal(t, 1.0, summary.Comparison.ActualExpenseRatio)
	assert.False(t, summary.Comparison.WithinRange)
	assert.Equal(t, 17.65, summary.Comparison.DeviationPercent)

	categories := make([]string, 0, len(summary.RiskFactors))
	for _, f := range summary.RiskFactors {
		categories = append(categories, f.Category)
	}
	assert.Equal(t, []string{"expense_ratio", "entertainment", "travel", "motor_vehicle"}, categories)
	assert.Equal(t, 60, summary.RiskScore)
	// Score clears the high band but no factor is high severity.
	assert.Equal(t, analysis.RiskMedium, summary.RiskLevel)

	assert.Equal(t, BenchmarkDisclaimer, summary.BenchmarkDisclaimer)
	assert.Contains(t, summary.Recommendations, BenchmarkDisclaimer)
	assertDescriptive(t, summary.Recommendations)
}

func TestAssessRiskVeryHighWithTwoHighFactors(t *testing.T) {
	store := repository.NewMemoryTransactionStore(
		tx("c1", models.TypeReceive, 1000, "Cash sale"),
		tx("c2", models.TypeReceive, 1000, "Cash sale"),
		tx("c3", models.TypeReceive, 1000, "Cash sale"),
		tx("stock", models.TypeSpend, -5000, "Stock purchase"),
	)
	summary, err := NewService(store, zerolog.Nop()).AssessRisk(context.Background(), "t1", Options{FinancialYear: "FY2024-25", Industry: "Retail"})
	require.NoError(t, err)

	assert.Equal(t, "retail", summary.Comparison.Benchmark.Industry)
	assert.Equal(t, 0.75, summary.CashProportion)
	require.Len(t, summary.RiskFactors, 2)
	assert.Equal(t, SeverityHigh, summary.RiskFactors[0].Severity)
	assert.Equal(t, SeverityHigh, summary.RiskFactors[1].Severity)
	assert.Equal(t, 55, summary.RiskScore)
	assert.Equal(t, analysis.RiskVeryHigh, summary.RiskLevel)
	assertDescriptive(t, summary.Recommendations)
}

func TestAssessRiskClean(t *testing.T) {
	store := repository.NewMemoryTransactionStore(
		tx("sales", models.TypeReceive, 100000, "Sales"),
		tx("rent", models.TypeSpend, -40000, "Office rent"),
	)
	summary, err := NewService(store, zerolog.Nop()).AssessRisk(context.Background(), "t1", Options{FinancialYear: "FY2024-25", Industry: "mining"})
	require.NoError(t, err)
	assert.Equal(t, analysis.RiskLow, summary.RiskLevel)
	assert.Empty(t, summary.RiskFactors)
	assert.Empty(t, summary.BenchmarkDisclaimer)
	assert.True(t, summary.Comparison.WithinRange)
	assert.Len(t, summary.Warnings, 1)
	assert.Equal(t, []string{"No audit risk indicators were found; continue keeping records as usual."}, summary.Recommendations)
}

func TestAssessRiskErrors(t *testing.T) {
	svc := NewService(repository.NewMemoryTransactionStore(), zerolog.Nop())
	_, err := svc.AssessRisk(context.Background(), "", Options{})
	assert.ErrorIs(t, err, analysis.ErrInvalidTenant)

	summary, err := svc.AssessRisk(context.Background(), "t1", Options{FinancialYear: "2024"})
	require.NoError(t, err)
	assert.Equal(t, analysis.RiskLow, summary.RiskLevel)
	assert.NotEmpty(t, summary.Warnings)

	store := repository.NewMemoryTransactionStore()
	store.Err = errors.New("down")
	_, err = NewService(store, zerolog.Nop()).AssessRisk(context.Background(), "t1", Options{FinancialYear: "FY2024-25"})
	assert.EqualError(t, err, "failed to fetch audit risk transactions: down")
}

func TestWithPolicyLeavesOriginalUntouched(t *testing.T) {
	base := NewService(repository.NewMemoryTransactionStore(), zerolog.Nop())
	strict := DefaultPolicy
	strict.EntertainmentLimit = 100

	tuned := base.WithPolicy(strict)
	assert.NotSame(t, base, tuned)
	assert.Equal(t, DefaultPolicy.EntertainmentLimit, base.policy.EntertainmentLimit)
	assert.Equal(t, 100.0, tuned.policy.EntertainmentLimit)
}
