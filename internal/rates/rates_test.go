package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ato-tax-optimizer-backend/internal/fiscal"
)

type stubProvider struct {
	params *ParameterSet
	err    error
	delay  time.Duration
}

func (s stubProvider) CurrentTaxRates(ctx context.Context) (*ParameterSet, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.params, s.err
}

func TestResolveLiveHistory(t *testing.T) {
	fetched := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	r := NewResolver(stubProvider{params: &ParameterSet{
		SourceID:  "ato-rates-cache",
		FetchedAt: fetched,
		History:   map[Name]map[string]float64{Division7ABenchmark: {"FY2024-25": 0.0877}},
	}}, time.Second, zerolog.Nop())

	res := r.Resolve(context.Background(), Division7ABenchmark, "FY2024-25")
	assert.Equal(t, SourceLive, res.Source)
	assert.Equal(t, 0.0877, res.Value)
	assert.Equal(t, "ato-rates-cache", res.SourceID)
	require.NotNil(t, res.VerifiedAt)
	assert.Equal(t, fetched, *res.VerifiedAt)
}

func TestResolveLiveCurrentYearOnly(t *testing.T) {
	r := NewResolver(stubProvider{params: &ParameterSet{
		Current: map[Name]float64{CorporateTaxRate: 0.30},
	}}, time.Second, zerolog.Nop())

	res := r.Resolve(context.Background(), CorporateTaxRate, fiscal.CurrentFinancialYear())
	assert.Equal(t, SourceLive, res.Source)

	// A past year is not answered by a current value.
	res = r.Resolve(context.Background(), CorporateTaxRate, "FY2010-11")
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, 0.30, res.Value)
}

func TestResolveFallsBackOnError(t *testing.T) {
	r := NewResolver(stubProvider{err: errors.New("connection refused")}, time.Second, zerolog.Nop())

	res := r.Resolve(context.Background(), Division7ABenchmark, "FY2023-24")
	assert.Equal(t, SourceHistorical, res.Source)
	assert.Equal(t, 0.0827, res.Value)
	assert.Contains(t, res.Note, "connection refused")
	assert.Nil(t, res.VerifiedAt)
}

func TestResolveMostRecentHistorical(t *testing.T) {
	r := NewResolver(nil, 0, zerolog.Nop())

	res := r.Resolve(context.Background(), Division7ABenchmark, "FY2040-41")
	assert.Equal(t, SourceHistorical, res.Source)
	assert.Equal(t, 0.0837, res.Value)
	assert.Contains(t, res.Note, "most recent entry (FY2025-26)")
}

func TestResolveHardcodedFallback(t *testing.T) {
	r := NewResolver(nil, 0, zerolog.Nop())

	res := r.Resolve(context.Background(), BaseRateEntityTaxRate, "FY2024-25")
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, 0.25, res.Value)
}

func TestResolveTimeout(t *testing.T) {
	r := NewResolver(stubProvider{delay: time.Second, params: &ParameterSet{}}, 10*time.Millisecond, zerolog.Nop())

	start := time.Now()
	res := r.Resolve(context.Background(), FBTRate, "FY2024-25")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, SourceHistorical, res.Source)
	assert.Equal(t, 0.47, res.Value)
	assert.Contains(t, res.Note, "timed out")
}
