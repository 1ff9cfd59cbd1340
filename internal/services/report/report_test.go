package report

import (
	"bytes"
	"context"
	"encoding/csv"
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

func fixture() *repository.MemoryTransactionStore {
	d := func(m time.Month, day int) time.Time { return time.Date(2024, m, day, 0, 0, 0, 0, time.UTC) }
	return repository.NewMemoryTransactionStore(
		models.Transaction{TenantID: "t1", TransactionID: "a", FinancialYear: "FY2024-25", TransactionDate: d(time.August, 2), Type: models.TypeSpend, Amount: -4400, ContactName: "Lab Supplies", Description: "Prototype testing experiment", IsRndCandidate: true, TrackingCategory: "Sensor"},
		models.Transaction{TenantID: "t1", TransactionID: "b", FinancialYear: "FY2024-25", TransactionDate: d(time.July, 9), Type: models.TypeSpend, Amount: -180, ContactName: "Bistro", Description: "Team dinner, restaurant", FbtImplications: true},
		models.Transaction{TenantID: "t1", TransactionID: "c", FinancialYear: "FY2024-25", TransactionDate: d(time.September, 1), Type: models.TypeSpend, Amount: -25000, ContactName: "Jane Director", Description: "Director loan", Division7aRisk: true},
		models.Transaction{TenantID: "t1", TransactionID: "old", FinancialYear: "FY2022-23", TransactionDate: time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC), Type: models.TypeSpend, Amount: -1},
	)
}

func export(t *testing.T, kind Kind) [][]string {
	t.Helper()
	var buf bytes.Buffer
	n, err := NewService(fixture(), zerolog.Nop()).Export(context.Background(), "t1", kind, Options{FromYear: "FY2024-25"}, &buf)
	require.NoError(t, err)
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, n+1)
	return rows
}

func TestExportTransactions(t *testing.T) {
	rows := export(t, KindTransactions)
	require.Len(t, rows, 4)
	assert.Equal(t, "Financial Year", rows[0][0])
	assert.Equal(t, "b", rows[1][2])
	assert.Equal(t, "2024-07-09", rows[1][1])
	assert.Equal(t, "-180.00", rows[1][6])
	assert.Equal(t, "YES - REVIEW", rows[1][13])
	assert.Equal(t, "YES - REVIEW", rows[3][14])
}

func TestExportReviewLists(t *testing.T) {
	rnd := export(t, KindRnd)
	require.Len(t, rnd, 2)
	assert.Equal(t, "Sensor", rnd[1][4])
	assert.Equal(t, "4400.00", rnd[1][3])

	fbtRows := export(t, KindFBT)
	require.Len(t, fbtRows, 2)
	assert.Equal(t, "FY2024-25", fbtRows[1][0])
	assert.Equal(t, "meal_entertainment", fbtRows[1][4])

	div7a := export(t, KindDiv7A)
	require.Len(t, div7a, 2)
	assert.Equal(t, "Jane Director", div7a[1][2])
	assert.Equal(t, "Paid to associate", div7a[1][4])
}

func TestExportErrors(t *testing.T) {
	svc := NewService(fixture(), zerolog.Nop())
	_, err := svc.Export(context.Background(), "t1", "payroll", Options{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, analysis.ErrInvalidOptions)

	_, err = svc.Export(context.Background(), "", KindRnd, Options{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, analysis.ErrInvalidTenant)

	store := repository.NewMemoryTransactionStore()
	store.Err = errors.New("nope")
	_, err = NewService(store, zerolog.Nop()).Export(context.Background(), "t1", KindFBT, Options{FromYear: "FY2024-25"}, &bytes.Buffer{})
	assert.EqualError(t, err, "failed to fetch report transactions: nope")
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "RnD_Candidates_FY2024-25.csv", Filename(KindRnd, Options{FromYear: "FY2024-25"}))
	assert.True(t, strings.HasSuffix(Filename(KindDiv7A, Options{FromYear: "FY2022-23", ToYear: "FY2024-25"}), "FY2022-23_FY2024-25.csv"))
}

func column(t *testing.T, header []string, name string) int {
	t.Helper()
	for i, h := range header {
		if h == name {
			return i
		}
	}
	t.Fatalf("column %q not found in %v", name, header)
	return -1
}

func TestClaimableDeduction(t *testing.T) {
	lunch := models.Transaction{Type: models.TypeSpend, Amount: -180, Description: "Team dinner, restaurant", FbtImplications: true}
	assert.Equal(t, Deduction{Type: DeductionEntertainment, RequiresDocumentation: true}, ClaimableDeduction(lunch))

	loan := models.Transaction{Type: models.TypeSpend, Amount: -25000, Division7aRisk: true}
	assert.Zero(t, ClaimableDeduction(loan).Claimable)
	assert.Equal(t, DeductionDiv7ALoan, ClaimableDeduction(loan).Type)

	small := ClaimableDeduction(models.Transaction{Type: models.TypeSpend, Amount: -120.456})
	assert.Equal(t, 120.46, small.Claimable)
	assert.True(t, small.FullyDeductible)
	assert.False(t, small.RequiresDocumentation)

	assert.Equal(t, Deduction{}, ClaimableDeduction(models.Transaction{Type: models.TypeReceive, Amount: 900}))
	assert.Equal(t, Deduction{}, ClaimableDeduction(models.Transaction{Type: models.TypeSpendTransfer, Amount: -900}))
	assert.Equal(t, Deduction{}, ClaimableDeduction(models.Transaction{Type: models.TypeSpend, Amount: -900, Status: models.StatusVoided}))
}

func TestExportTransactionsClaimableColumns(t *testing.T) {
	rows := export(t, KindTransactions)
	claim := column(t, rows[0], "Claimable Amount")
	typ := column(t, rows[0], "Deduction Type")
	assert.Equal(t, "0.00", rows[1][claim])
	assert.Equal(t, DeductionEntertainment, rows[1][typ])
	assert.Equal(t, "4400.00", rows[2][claim])
	assert.Equal(t, DeductionRnd, rows[2][typ])
}

func TestExportHighValue(t *testing.T) {
	rows := export(t, KindHighValue)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "Lab Supplies", rows[1][3])
	assert.Equal(t, "4400.00", rows[1][5])
	assert.Equal(t, DeductionRnd, rows[1][6])
	assert.Equal(t, "a", rows[1][9])
	assert.Equal(t, "Yes", rows[1][10])
}

func TestExportSummaryByFY(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewService(fixture(), zerolog.Nop()).Export(context.Background(), "t1", KindByFY, Options{FromYear: "FY2022-23", ToYear: "FY2024-25"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"FY2022-23", "1", "1.00", "1.00", "0", "0", "0"}, rows[1])
	assert.Equal(t, []string{"FY2024-25", "3", "29580.00", "4400.00", "1", "1", "1"}, rows[2])
}

func TestExportByCategory(t *testing.T) {
	store := repository.NewMemoryTransactionStore(
		models.Transaction{TenantID: "t1", TransactionID: "1", FinancialYear: "FY2024-25", Type: models.TypeSpend, Amount: -300, PrimaryCategory: "Software"},
		models.Transaction{TenantID: "t1", TransactionID: "2", FinancialYear: "FY2024-25", Type: models.TypeSpend, Amount: -450, PrimaryCategory: "Software"},
		models.Transaction{TenantID: "t1", TransactionID: "3", FinancialYear: "FY2024-25", Type: models.TypeSpend, Amount: -2000, PrimaryCategory: "Travel"},
		models.Transaction{TenantID: "t1", TransactionID: "4", FinancialYear: "FY2024-25", Type: models.TypeReceive, Amount: 5000},
	)
	var buf bytes.Buffer
	n, err := NewService(store, zerolog.Nop()).Export(context.Background(), "t1", KindByCategory, Options{FromYear: "FY2024-25"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Travel", "1", "2000.00", "2000.00"}, rows[1])
	assert.Equal(t, []string{"Software", "2", "750.00", "750.00"}, rows[2])
	assert.Equal(t, []string{"Uncategorised", "1", "5000.00", "0.00"}, rows[3])
}

func TestFilenameNewKinds(t *testing.T) {
	opts := Options{FromYear: "FY2024-25"}
	assert.Equal(t, "High_Value_Deductions_FY2024-25.csv", Filename(KindHighValue, opts))
	assert.Equal(t, "Summary_By_FY_FY2024-25.csv", Filename(KindByFY, opts))
	assert.Equal(t, "By_Category_FY2024-25.csv", Filename(KindByCategory, opts))
	assert.Len(t, Kinds, 7)
}
