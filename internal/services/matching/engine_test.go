package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ato-tax-optimizer-backend/internal/models"
)

func day(d int) time.Time { return time.Date(2024, 9, d, 0, 0, 0, 0, time.UTC) }

func TestScoreSignals(t *testing.T) {
	bank := models.Transaction{TransactionID: "b1", Type: models.TypeReceive, Amount: 1500, ContactName: "Acme Pty Ltd", Reference: "INV-001", TransactionDate: day(10)}
	cases := []struct {
		name    string
		invoice models.Transaction
		want    int
	}{
		{"all signals", models.Transaction{Type: models.TypeAccRec, Amount: 1500, ContactName: "ACME PTY. LTD.", Reference: "INV-001", TransactionDate: day(5)}, 100},
		{"near amount similar name", models.Transaction{Type: models.TypeAccRec, Amount: 1510, ContactName: "Acme Pty Limted", TransactionDate: day(1)}, 20 + 20 + 10},
		{"amount only", models.Transaction{Type: models.TypeAccRec, Amount: 1500, ContactName: "Other Co", TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, 40},
		{"wrong direction", models.Transaction{Type: models.TypeAccPay, Amount: 1500, ContactName: "Acme Pty Ltd", TransactionDate: day(10)}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultWeights.Score(bank, tc.invoice).Score)
		})
	}
}

func TestBestRespectsThreshold(t *testing.T) {
	bank := models.Transaction{Type: models.TypeSpend, Amount: -220, ContactName: "Office Supplies", TransactionDate: day(10)}
	weak := models.Transaction{TransactionID: "weak", Type: models.TypeAccPay, Amount: 220, ContactName: "Someone Else", TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	strong := models.Transaction{TransactionID: "strong", Type: models.TypeAccPay, Amount: 220, ContactName: "Office Supplies", TransactionDate: day(8)}

	_, _, ok := DefaultWeights.Best(bank, []models.Transaction{weak})
	assert.False(t, ok)

	inv, res, ok := DefaultWeights.Best(bank, []models.Transaction{weak, strong})
	require.True(t, ok)
	assert.Equal(t, "strong", inv.TransactionID)
	assert.Equal(t, 90, res.Score)
	assert.Equal(t, 2, res.DaysApart)
	assert.Contains(t, res.Reasons, "Exact amount match")
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("Acme Pty Ltd", "ACME PTY. LTD"))
	assert.Greater(t, NameSimilarity("Jon Smith", "John Smith"), 0.8)
	assert.Less(t, NameSimilarity("Jon Smith", "Telstra"), 0.5)
	assert.Equal(t, 0.0, NameSimilarity("", "x"))
}
