package analysis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/rates"
)

func TestFactJSON(t *testing.T) {
	known, err := json.Marshal(KnownFact(false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"known","value":false}`, string(known))

	unknown, err := json.Marshal(UnknownFact[bool]("no agreement on file"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"unknown","note":"no agreement on file"}`, string(unknown))

	var back Fact[float64]
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"known","value":12.5}`), &back))
	assert.True(t, back.Known)
	assert.Equal(t, 12.5, back.Value)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"maybe"}`), &back))
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"known"}`), &back))
}

func TestFactFromPtr(t *testing.T) {
	v := true
	assert.Equal(t, KnownFact(true), FactFromPtr(&v, "ignored"))
	f := FactFromPtr[bool](nil, "not supplied")
	assert.False(t, f.Known)
	assert.Equal(t, "not supplied", f.Note)
}

func TestProvenanceOfWeakestWins(t *testing.T) {
	verified := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	p := ProvenanceOf(
		rates.Resolved{Name: rates.FBTRate, Source: rates.SourceLive, VerifiedAt: &verified},
		rates.Resolved{Name: rates.FBTType1GrossUp, Source: rates.SourceFallback, Note: "Hardcoded fallback rate used."},
	)
	assert.Equal(t, rates.SourceFallback, p.TaxRateSource)
	assert.Nil(t, p.TaxRateVerifiedAt)
	assert.Contains(t, p.TaxRateNote, "fbt_type1_gross_up")

	p = ProvenanceOf(rates.Resolved{Name: rates.FBTRate, Source: rates.SourceLive, VerifiedAt: &verified})
	assert.Equal(t, rates.SourceLive, p.TaxRateSource)
	require.NotNil(t, p.TaxRateVerifiedAt)
}

func TestClassification(t *testing.T) {
	assert.True(t, IsBankType("receive"))
	assert.True(t, IsInvoiceType("ACCPAY"))
	assert.False(t, IsBankType("ACCPAY"))

	assert.True(t, IsIncome(models.Transaction{Type: models.TypeReceive}))
	assert.False(t, IsIncome(models.Transaction{Type: models.TypeReceive, AccountType: "EQUITY"}))
	assert.True(t, IsExpense(models.Transaction{Type: models.TypeSpend}))
	assert.True(t, IsExpense(models.Transaction{Type: models.TypeReceive, AccountType: "OVERHEADS"}))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "ACME PTY LTD", NormalizeName(" Acme  Pty. Ltd, "))
	assert.Equal(t, []string{"loan", "director"}, MatchKeywords("director loan advance", []string{"loan", "director", "shareholder"}))
}
