package rnd

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

const strongDescription = "Prototype experiment: hypothesis testing of a novel algorithm with lab analysis"

func candidate(id, project, desc string, amount float64) models.Transaction {
	return models.Transaction{
		TenantID:         "tenant-1",
		TransactionID:    id,
		FinancialYear:    "FY2024-25",
		TransactionDate:  time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		Amount:           -amount,
		Type:             models.TypeSpend,
		Description:      desc,
		TrackingCategory: project,
		IsRndCandidate:   true,
	}
}

func newService(store analysis.TransactionStore) *Service {
	return NewService(store, rates.NewResolver(nil, 0, zerolog.Nop()), zerolog.Nop())
}

func ptr(v float64) *float64 { return &v }

func TestOffsetTiering(t *testing.T) {
	s := newService(repository.NewMemoryTransactionStore())
	cases := []struct {
		name       string
		turnover   float64
		corp       float64
		wantRate   float64
		refundable bool
	}{
		{"base rate entity", 10_000_000, 0.25, 0.435, true},
		{"standard rate entity", 10_000_000, 0.30, 0.485, true},
		{"large entity", 25_000_000, 0.30, 0.385, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, _ := s.offsetRates(context.Background(), "FY2024-25", Options{AggregatedTurnover: ptr(tc.turnover), CorporateTaxRate: ptr(tc.corp)})
			assert.InDelta(t, tc.wantRate, o.OffsetRate, 1e-9)
			calc := s.calculateOffset(o, 100_000)
			assert.Equal(t, tc.refundable, calc.RefundableCapApplicable)
			if !tc.refundable {
				assert.Equal(t, 0.0, calc.RefundableOffset)
				assert.Equal(t, calc.TotalOffset, calc.NonRefundableOffset)
			}
		})
	}
}

func TestRefundableCap(t *testing.T) {
	store := repository.NewMemoryTransactionStore(candidate("big", "Engine", strongDescription, 10_000_000))
	summary, err := newService(store).AnalyzeExpenditure(context.Background(), "tenant-1", Options{
		FinancialYear:      "FY2024-25",
		AggregatedTurnover: ptr(10_000_000),
		CorporateTaxRate:   ptr(0.25),
	})
	require.NoError(t, err)
	require.Len(t, summary.Projects, 1)
	assert.Equal(t, 4_350_000.0, summary.Offset.TotalOffset)
	assert.True(t, summary.Offset.RefundableCapApplied)
	assert.Equal(t, 4_000_000.0, summary.Offset.RefundableOffset)
	assert.Equal(t, 350_000.0, summary.Offset.NonRefundableOffset)
	assert.NotEmpty(t, summary.Projects[0].ClawbackWarning)
	assert.NotEmpty(t, summary.ClawbackWarning)
	assert.Equal(t, "2026-04-30", summary.RegistrationDeadline)
}

func TestFourElementExclusion(t *testing.T) {
	store := repository.NewMemoryTransactionStore(
		candidate("a", "Engine", strongDescription, 5000),
		candidate("b", "Hosting", "Cloud hosting subscription", 1200),
	)
	summary, err := newService(store).AnalyzeExpenditure(context.Background(), "tenant-1", Options{FinancialYear: "FY2024-25"})
	require.NoError(t, err)

	require.Len(t, summary.Projects, 1)
	assert.Equal(t, "Engine", summary.Projects[0].Name)
	assert.True(t, summary.Projects[0].Elements.AllMet())
	assert.Empty(t, summary.Projects[0].ClawbackWarning)

	require.Len(t, summary.ExcludedProjects, 1)
	excluded := summary.ExcludedProjects[0]
	assert.Equal(t, "Hosting", excluded.Name)
	assert.Len(t, excluded.FailedElements, 4)
	assert.Contains(t, excluded.Reason, "outcome_unknown")

	assert.Equal(t, 5000.0, summary.TotalEligibleExpenditure)
	assert.NotEmpty(t, summary.MinimumExpenditureNotice)
	assert.Equal(t, summary.Projects[0].Confidence, summary.AverageConfidence)
	assert.False(t, summary.AggregatedTurnover.Known)
	assert.Equal(t, rates.SourceFallback, summary.TaxRateSource)
}

func TestAssessTransaction(t *testing.T) {
	el := DefaultPolicy.AssessTransaction(candidate("a", "", strongDescription, 100))
	assert.True(t, el.AllMet())
	assert.Equal(t, 80, el.OutcomeUnknown.Confidence)
	assert.Equal(t, 55, el.SystematicApproach.Confidence)

	weak := DefaultPolicy.AssessTransaction(candidate("b", "", "Consulting", 100))
	assert.Equal(t, []string{"outcome_unknown", "systematic_approach", "new_knowledge", "scientific_method"}, weak.Failed())
	assert.Equal(t, 30, weak.Confidence())
}

func TestFetchFailure(t *testing.T) {
	store := repository.NewMemoryTransactionStore()
	store.Err = errors.New("timeout")
	_, err := newService(store).AnalyzeExpenditure(context.Background(), "tenant-1", Options{FinancialYear: "FY2024-25"})
	assert.EqualError(t, err, "failed to fetch R&D candidates: timeout")
}
