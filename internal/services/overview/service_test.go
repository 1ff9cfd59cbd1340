package overview

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
	"ato-tax-optimizer-backend/internal/services/cashflow"
)

func cashflowStart() cashflow.Options {
	return cashflow.Options{StartMonth: "2025-07"}
}

func newService(store analysis.TransactionStore) *Service {
	log := zerolog.Nop()
	return NewService(NewEngines(store, rates.NewResolver(nil, 0, log), log), log)
}

func TestRunAllEngines(t *testing.T) {
	store := repository.NewMemoryTransactionStore(
		models.Transaction{TenantID: "t1", TransactionID: "s", FinancialYear: "FY2024-25", TransactionDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), Type: models.TypeReceive, Amount: 50000, Description: "Sales"},
		models.Transaction{TenantID: "t1", TransactionID: "e", FinancialYear: "FY2024-25", TransactionDate: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), Type: models.TypeSpend, Amount: -20000, Description: "Rent"},
	)
	sum, err := newService(store).Run(context.Background(), "t1", Options{FinancialYear: "FY2024-25", Cashflow: cashflowStart()})
	require.NoError(t, err)

	assert.Empty(t, sum.Errors)
	assert.NotNil(t, sum.Div7A)
	assert.NotNil(t, sum.Rnd)
	assert.NotNil(t, sum.FBT)
	assert.NotNil(t, sum.PAYG)
	assert.NotNil(t, sum.Cashflow)
	assert.NotNil(t, sum.Reconciliation)
	assert.NotNil(t, sum.AuditRisk)
	require.NotNil(t, sum.Losses)
	assert.Len(t, sum.DurationsMs, 8)

	assert.Equal(t, "FY2024-25", sum.PAYG.FinancialYear)
	assert.Equal(t, "FY2024-25", sum.FBT.FBTYear)
	assert.Equal(t, "FY2024-25", sum.Losses.ToYear)
	assert.Equal(t, 50000.0, sum.AuditRisk.TotalIncome)

	assert.True(t, sum.Validation.FinancialYear.Valid)
	require.NotNil(t, sum.Validation.Losses)
	assert.True(t, sum.Validation.Losses.Valid, sum.Validation.Losses.Issues)
}

func TestRunReportsEngineFailuresIndividually(t *testing.T) {
	store := repository.NewMemoryTransactionStore()
	store.Err = errors.New("db down")

	sum, err := newService(store).Run(context.Background(), "t1", Options{FinancialYear: "FY2024-25", Cashflow: cashflowStart()})
	require.NoError(t, err)
	assert.Len(t, sum.Errors, 8)
	assert.Equal(t, "failed to fetch Division 7A candidates: db down", sum.Errors[EngineDiv7A])
	assert.Nil(t, sum.Div7A)
	assert.Nil(t, sum.Validation.Div7A)
	assert.True(t, sum.Validation.FinancialYear.Valid)
}

func TestRunRequiresTenant(t *testing.T) {
	_, err := newService(repository.NewMemoryTransactionStore()).Run(context.Background(), "", Options{})
	assert.ErrorIs(t, err, analysis.ErrInvalidTenant)
}
