// Package rates resolves named tax rates for a financial year through a
// fallback chain: the live rate source, then the built-in historical table,
// then a hardcoded constant. Every resolution records which link supplied the
// value so it can be surfaced as taxRateSource.
package rates

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/fiscal"
)

// Name identifies a rate.
type Name string

const (
	Division7ABenchmark   Name = "division7a_benchmark_rate"
	CorporateTaxRate      Name = "corporate_tax_rate"
	BaseRateEntityTaxRate Name = "base_rate_entity_tax_rate"
	FBTRate               Name = "fbt_rate"
	FBTType1GrossUp       Name = "fbt_type1_gross_up"
	FBTType2GrossUp       Name = "fbt_type2_gross_up"
	SuperGuaranteeRate    Name = "super_guarantee_rate"
	RndPremiumSmall       Name = "rnd_premium_small_entity"
	RndPremiumLarge       Name = "rnd_premium_large_entity"
)

// Source says which link of the chain supplied a value.
type Source string

const (
	SourceLive       Source = "live"
	SourceHistorical Source = "historical_table"
	SourceFallback   Source = "hardcoded_fallback"
)

// ParameterSet is what a live provider returns. Current holds values for the
// current year; History holds per-year values keyed by "FYyyyy-yy".
type ParameterSet struct {
	SourceID  string
	FetchedAt time.Time
	Current   map[Name]float64
	History   map[Name]map[string]float64
}

// LiveProvider fetches the current parameter set. Implementations may fail;
// the resolver never propagates that failure.
type LiveProvider interface {
	CurrentTaxRates(ctx context.Context) (*ParameterSet, error)
}

// Resolved is one rate value with its provenance.
type Resolved struct {
	Name          Name       `json:"name"`
	Value         float64    `json:"value"`
	FinancialYear string     `json:"financial_year"`
	Source        Source     `json:"source"`
	SourceID      string     `json:"source_id,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	Note          string     `json:"note,omitempty"`
}

// Resolver walks the fallback chain. The zero value is not usable; build one
// with NewResolver.
type Resolver struct {
	live       LiveProvider
	historical map[Name]map[string]float64
	fallback   map[Name]float64
	timeout    time.Duration
	log        zerolog.Logger
}

// NewResolver builds a resolver over the built-in tables. live may be nil.
func NewResolver(live LiveProvider, timeout time.Duration, log zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Resolver{
		live:       live,
		historical: HistoricalRates,
		fallback:   FallbackRates,
		timeout:    timeout,
		log:        log,
	}
}

// Resolve returns the value of name for fy. An empty fy means the current
// financial year. It never fails: the worst case is the hardcoded fallback.
func (r *Resolver) Resolve(ctx context.Context, name Name, fy string) Resolved {
	if fy == "" {
		fy = fiscal.CurrentFinancialYear()
	}
	res := Resolved{Name: name, FinancialYear: fy}

	if r.live != nil {
		params, err := r.fetchLive(ctx)
		if err != nil {
			r.log.Warn().Err(err).Str("rate", string(name)).Str("financial_year", fy).Msg("live tax rate lookup failed, falling back")
			res.Note = "Live rate source unavailable: " + err.Error() + "."
		} else if v, ok := liveValue(params, name, fy); ok {
			fetched := params.FetchedAt
			res.Value = v
			res.Source = SourceLive
			res.SourceID = params.SourceID
			res.VerifiedAt = &fetched
			return res
		}
	}

	if byYear, ok := r.historical[name]; ok {
		if v, ok := byYear[fy]; ok {
			res.Value = v
			res.Source = SourceHistorical
			res.Note = joinNote(res.Note, fmt.Sprintf("Historical table value for %s used.", fy))
			return res
		}
		if latestFY, v, ok := latest(byYear); ok {
			res.Value = v
			res.Source = SourceHistorical
			res.Note = joinNote(res.Note, fmt.Sprintf("No table entry for %s; most recent entry (%s) used.", fy, latestFY))
			return res
		}
	}

	res.Value = r.fallback[name]
	res.Source = SourceFallback
	res.Note = joinNote(res.Note, "Hardcoded fallback rate used; verify against current ATO publications.")
	return res
}

func (r *Resolver) fetchLive(ctx context.Context) (*ParameterSet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		params *ParameterSet
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := r.live.CurrentTaxRates(ctx)
		ch <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("rate lookup timed out: %w", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("rate lookup timed out: %w", res.err)
			}
			return nil, res.err
		}
		if res.params == nil {
			return nil, fmt.Errorf("rate source returned no parameters")
		}
		return res.params, nil
	}
}

func liveValue(p *ParameterSet, name Name, fy string) (float64, bool) {
	if byYear, ok := p.History[name]; ok {
		if v, ok := byYear[fy]; ok {
			return v, true
		}
	}
	if fy == fiscal.CurrentFinancialYear() {
		v, ok := p.Current[name]
		return v, ok
	}
	return 0, false
}

func latest(byYear map[string]float64) (string, float64, bool) {
	if len(byYear) == 0 {
		return "", 0, false
	}
	years := make([]string, 0, len(byYear))
	for fy := range byYear {
		years = append(years, fy)
	}
	sort.Strings(years)
	last := years[len(years)-1]
	return last, byYear[last], true
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
