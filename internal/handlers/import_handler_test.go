package handler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ato-tax-optimizer-backend/internal/models"
)

func TestParseTransactionsTabSeparated(t *testing.T) {
	in := "transaction_id\tdate\ttype\tamount\tpaid_at\tis_reconciled\tgst_creditable\traw_detail\n" +
		"a1\t15-05-2025\taccpay\t1,250.00\t2025-06-01\tyes\tno\t{\"IsReconciled\":true}\n"
	txs, total, rowErrors, err := ParseTransactions("t1", strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Empty(t, rowErrors)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, "t1", tx.TenantID)
	assert.Equal(t, models.TypeAccPay, tx.Type)
	assert.Equal(t, 1250.0, tx.Amount)
	assert.Equal(t, "FY2024-25", tx.FinancialYear)
	assert.True(t, tx.IsReconciled)
	require.NotNil(t, tx.PaidAt)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *tx.PaidAt)
	require.NotNil(t, tx.GSTCreditable)
	assert.False(t, *tx.GSTCreditable)
	assert.JSONEq(t, `{"IsReconciled":true}`, string(tx.RawDetail))
}

func TestParseTransactionsRowErrors(t *testing.T) {
	in := "transaction_id,date,type,amount\n" +
		",2024-08-01,SPEND,-1\n" +
		"b,2024-08-01,JOURNAL,-1\n" +
		"c,2024-08-01,SPEND,abc\n" +
		",,,\n" +
		"d,2024-08-01,SPEND,-3\n"
	txs, total, rowErrors, err := ParseTransactions("t1", strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, txs, 1)
	require.Len(t, rowErrors, 3)
	assert.Equal(t, "transaction_id empty", rowErrors[0].Reason)
	assert.Contains(t, rowErrors[1].Reason, "unknown type")
	assert.Equal(t, 4, rowErrors[2].Row)
}

func TestParseTransactionsMissingColumn(t *testing.T) {
	_, _, _, err := ParseTransactions("t1", strings.NewReader("transaction_id,date,amount\n"))
	assert.EqualError(t, err, `missing required column "type"`)
}
