// Package overview runs every analysis engine for a tenant concurrently and
// attaches the consistency checks to the results.
package overview

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/rates"
	"ato-tax-optimizer-backend/internal/services/auditrisk"
	"ato-tax-optimizer-backend/internal/services/cashflow"
	"ato-tax-optimizer-backend/internal/services/div7a"
	"ato-tax-optimizer-backend/internal/services/fbt"
	"ato-tax-optimizer-backend/internal/services/losses"
	"ato-tax-optimizer-backend/internal/services/payg"
	"ato-tax-optimizer-backend/internal/services/reconciliation"
	"ato-tax-optimizer-backend/internal/services/rnd"
	"ato-tax-optimizer-backend/internal/services/validation"
)

// Engine names as used in routes, audit records and error maps.
const (
	EngineDiv7A          = "div7a"
	EngineRnd            = "rnd"
	EngineFBT            = "fbt"
	EnginePAYG           = "payg"
	EngineCashflow       = "cashflow"
	EngineReconciliation = "reconciliation"
	EngineAuditRisk      = "audit_risk"
	EngineLosses         = "losses"
)

// Engines bundles one instance of every engine.
type Engines struct {
	Div7A          *div7a.Service
	Rnd            *rnd.Service
	FBT            *fbt.Service
	PAYG           *payg.Service
	Cashflow       *cashflow.Service
	Reconciliation *reconciliation.Service
	AuditRisk      *auditrisk.Service
	Losses         *losses.Service
}

func NewEngines(store analysis.TransactionStore, resolver *rates.Resolver, log zerolog.Logger) *Engines {
	return &Engines{
		Div7A:          div7a.NewService(store, resolver, log),
		Rnd:            rnd.NewService(store, resolver, log),
		FBT:            fbt.NewService(store, resolver, log),
		PAYG:           payg.NewService(store, resolver, log),
		Cashflow:       cashflow.NewService(store, resolver, log),
		Reconciliation: reconciliation.NewService(store, log),
		AuditRisk:      auditrisk.NewService(store, log),
		Losses:         losses.NewService(store, resolver, log),
	}
}

// Options carries the shared financial year and any per-engine options.
// Per-engine options override the shared year when they set their own.
type Options struct {
	FinancialYear  string                 `json:"financial_year"`
	Div7A          div7a.Options          `json:"div7a"`
	Rnd            rnd.Options            `json:"rnd"`
	FBT            fbt.Options            `json:"fbt"`
	PAYG           payg.Options           `json:"payg"`
	Cashflow       cashflow.Options       `json:"cashflow"`
	Reconciliation reconciliation.Options `json:"reconciliation"`
	AuditRisk      auditrisk.Options      `json:"audit_risk"`
	Losses         losses.Options         `json:"losses"`
}

type Validations struct {
	FinancialYear validation.Result  `json:"financial_year"`
	Div7A         *validation.Result `json:"div7a,omitempty"`
	Rnd           *validation.Result `json:"rnd,omitempty"`
	Losses        *validation.Result `json:"losses,omitempty"`
}

type Summary struct {
	TenantID       string                  `json:"tenant_id"`
	FinancialYear  string                  `json:"financial_year"`
	Div7A          *div7a.Summary          `json:"div7a,omitempty"`
	Rnd            *rnd.Summary            `json:"rnd,omitempty"`
	FBT            *fbt.Summary            `json:"fbt,omitempty"`
	PAYG           *payg.Summary           `json:"payg,omitempty"`
	Cashflow       *cashflow.Summary       `json:"cashflow,omitempty"`
	Reconciliation *reconciliation.Summary `json:"reconciliation,omitempty"`
	AuditRisk      *auditrisk.Summary      `json:"audit_risk,omitempty"`
	Losses         *losses.Summary         `json:"losses,omitempty"`
	// Errors maps an engine name to its failure. Other engines still report.
	Errors      map[string]string `json:"errors"`
	Validation  Validations       `json:"validation"`
	DurationsMs map[string]int64  `json:"durations_ms"`
}

type Service struct {
	engines *Engines
	limit   int
	log     zerolog.Logger
}

func NewService(engines *Engines, log zerolog.Logger) *Service {
	return &Service{engines: engines, limit: 4, log: log.With().Str("component", "overview").Logger()}
}

// Run executes every engine concurrently. Only an invalid tenant fails the
// whole run.
func (s *Service) Run(ctx context.Context, tenantID string, opts Options) (*Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, analysis.ErrInvalidTenant
	}
	fy := opts.FinancialYear
	if fy == "" {
		fy = fiscal.CurrentFinancialYear()
	}
	applyYear(&opts, fy)

	sum := &Summary{
		TenantID:      tenantID,
		FinancialYear: fy,
		Errors:        map[string]string{},
		DurationsMs:   map[string]int64{},
	}
	var mu sync.Mutex
	record := func(name string, started time.Time, err error) {
		mu.Lock()
		defer mu.Unlock()
		sum.DurationsMs[name] = time.Since(started).Milliseconds()
		if err != nil {
			sum.Errors[name] = err.Error()
			s.log.Warn().Err(err).Str("tenant_id", tenantID).Str("engine", name).Msg("engine failed in overview")
		}
	}
	run := func(g *errgroup.Group, name string, fn func() error) {
		g.Go(func() error {
			started := time.Now()
			record(name, started, fn())
			return nil
		})
	}

	var g errgroup.Group
	g.SetLimit(s.limit)
	e := s.engines
	run(&g, EngineDiv7A, func() (err error) { sum.Div7A, err = e.Div7A.AnalyzeCompliance(ctx, tenantID, opts.Div7A); return })
	run(&g, EngineRnd, func() (err error) { sum.Rnd, err = e.Rnd.AnalyzeExpenditure(ctx, tenantID, opts.Rnd); return })
	run(&g, EngineFBT, func() (err error) { sum.FBT, err = e.FBT.AnalyzeBenefits(ctx, tenantID, opts.FBT); return })
	run(&g, EnginePAYG, func() (err error) { sum.PAYG, err = e.PAYG.AnalyzeInstalments(ctx, tenantID, opts.PAYG); return })
	run(&g, EngineCashflow, func() (err error) { sum.Cashflow, err = e.Cashflow.Forecast(ctx, tenantID, opts.Cashflow); return })
	run(&g, EngineReconciliation, func() (err error) {
		sum.Reconciliation, err = e.Reconciliation.Analyze(ctx, tenantID, opts.Reconciliation)
		return
	})
	run(&g, EngineAuditRisk, func() (err error) { sum.AuditRisk, err = e.AuditRisk.AssessRisk(ctx, tenantID, opts.AuditRisk); return })
	run(&g, EngineLosses, func() (err error) { sum.Losses, err = e.Losses.AnalyzeLosses(ctx, tenantID, opts.Losses); return })
	_ = g.Wait()

	sum.Validation.FinancialYear = validation.FinancialYear(fy, fiscal.Now())
	if sum.Div7A != nil {
		r := validation.Div7A(sum.Div7A)
		sum.Validation.Div7A = &r
	}
	if sum.Rnd != nil {
		r := validation.Rnd(sum.Rnd)
		sum.Validation.Rnd = &r
	}
	if sum.Losses != nil {
		r := validation.Losses(sum.Losses)
		sum.Validation.Losses = &r
	}
	return sum, nil
}

func applyYear(o *Options, fy string) {
	if o.Div7A.FinancialYear == "" {
		o.Div7A.FinancialYear = fy
	}
	if o.Rnd.FinancialYear == "" {
		o.Rnd.FinancialYear = fy
	}
	// The FBT year sharing the label ends 31 March inside the income year.
	if o.FBT.FBTYear == "" {
		o.FBT.FBTYear = fy
	}
	if o.PAYG.FinancialYear == "" {
		o.PAYG.FinancialYear = fy
	}
	if o.Reconciliation.FromYear == "" && o.Reconciliation.ToYear == "" {
		o.Reconciliation.FromYear = fy
	}
	if o.AuditRisk.FinancialYear == "" {
		o.AuditRisk.FinancialYear = fy
	}
	if o.Losses.ToYear == "" {
		o.Losses.ToYear = fy
	}
}
