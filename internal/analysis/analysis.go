// Package analysis holds the types shared by every tax analysis engine: the
// transaction store contract, explicit known/unknown facts, risk levels and
// rate provenance.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/rates"
)

// ErrInvalidTenant is returned when an engine is called without a tenant.
var ErrInvalidTenant = errors.New("tenant id is required")

// ErrInvalidOptions wraps caller-supplied options an engine cannot use.
var ErrInvalidOptions = errors.New("invalid analysis options")

// CategoryFlag selects transactions pre-flagged by the upstream classifier.
type CategoryFlag string

const (
	FlagNone           CategoryFlag = ""
	FlagRndCandidate   CategoryFlag = "rnd_candidate"
	FlagDivision7aRisk CategoryFlag = "division7a_risk"
	FlagFBT            CategoryFlag = "fbt_implications"
)

// TransactionFilter narrows a fetch. Zero fields do not filter.
type TransactionFilter struct {
	FromYear     string
	ToYear       string
	StartDate    *time.Time
	EndDate      *time.Time
	Flag         CategoryFlag
	Counterparty string
	Types        []string
}

// TransactionStore is the data-layer contract the engines read through.
type TransactionStore interface {
	FetchTransactions(ctx context.Context, tenantID string, filter TransactionFilter) ([]models.Transaction, error)
}

// RiskLevel grades a finding.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
	RiskCritical RiskLevel = "critical"
)

// Provenance records where the rates behind a summary came from.
type Provenance struct {
	TaxRateSource     rates.Source `json:"tax_rate_source"`
	TaxRateVerifiedAt *time.Time   `json:"tax_rate_verified_at"`
	TaxRateNote       string       `json:"tax_rate_note,omitempty"`
}

// RateSource reports the weakest rate source behind a summary.
func (p Provenance) RateSource() rates.Source {
	return p.TaxRateSource
}

// ProvenanceOf folds several resolutions into one. The weakest source wins,
// so a summary that used any fallback says so.
func ProvenanceOf(resolved ...rates.Resolved) Provenance {
	var p Provenance
	rank := map[rates.Source]int{rates.SourceLive: 0, rates.SourceHistorical: 1, rates.SourceFallback: 2}
	worst := -1
	for _, r := range resolved {
		if rank[r.Source] > worst {
			worst = rank[r.Source]
			p.TaxRateSource = r.Source
		}
		if r.VerifiedAt != nil && (p.TaxRateVerifiedAt == nil || r.VerifiedAt.Before(*p.TaxRateVerifiedAt)) {
			v := *r.VerifiedAt
			p.TaxRateVerifiedAt = &v
		}
		if r.Note != "" && r.Source != rates.SourceLive {
			if p.TaxRateNote != "" {
				p.TaxRateNote += " "
			}
			p.TaxRateNote += string(r.Name) + ": " + r.Note
		}
	}
	if p.TaxRateSource != rates.SourceLive {
		p.TaxRateVerifiedAt = nil
	}
	return p
}

// Fact is a value that may be unknown. It serialises as a tagged union:
// {"kind":"known","value":v} or {"kind":"unknown","note":"..."}.
type Fact[T any] struct {
	Known bool
	Value T
	Note  string
}

// KnownFact wraps a known value.
func KnownFact[T any](v T) Fact[T] {
	return Fact[T]{Known: true, Value: v}
}

// UnknownFact records that the value could not be established.
func UnknownFact[T any](note string) Fact[T] {
	return Fact[T]{Note: note}
}

// FactFromPtr maps nil to unknown.
func FactFromPtr[T any](v *T, note string) Fact[T] {
	if v == nil {
		return UnknownFact[T](note)
	}
	return KnownFact(*v)
}

type factJSON[T any] struct {
	Kind  string `json:"kind"`
	Value *T     `json:"value,omitempty"`
	Note  string `json:"note,omitempty"`
}

func (f Fact[T]) MarshalJSON() ([]byte, error) {
	if f.Known {
		v := f.Value
		return json.Marshal(factJSON[T]{Kind: "known", Value: &v, Note: f.Note})
	}
	return json.Marshal(factJSON[T]{Kind: "unknown", Note: f.Note})
}

func (f *Fact[T]) UnmarshalJSON(data []byte) error {
	var raw factJSON[T]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "known":
		if raw.Value == nil {
			return errors.New("known fact without value")
		}
		*f = Fact[T]{Known: true, Value: *raw.Value, Note: raw.Note}
	case "unknown":
		*f = Fact[T]{Note: raw.Note}
	default:
		return errors.New("fact kind must be known or unknown")
	}
	return nil
}

// ISODate formats a date for summaries.
func ISODate(t time.Time) string {
	return t.Format("2006-01-02")
}
