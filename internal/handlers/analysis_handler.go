package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/logger"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/rates"
	"ato-tax-optimizer-backend/internal/services/auditrisk"
	"ato-tax-optimizer-backend/internal/services/cashflow"
	"ato-tax-optimizer-backend/internal/services/div7a"
	"ato-tax-optimizer-backend/internal/services/fbt"
	"ato-tax-optimizer-backend/internal/services/losses"
	"ato-tax-optimizer-backend/internal/services/overview"
	"ato-tax-optimizer-backend/internal/services/payg"
	"ato-tax-optimizer-backend/internal/services/reconciliation"
	"ato-tax-optimizer-backend/internal/services/rnd"
)

// AuditRecorder stores one row per engine run. Nil disables auditing.
type AuditRecorder interface {
	Record(ctx context.Context, entry models.AnalysisAuditLog) error
}

type AnalysisHandler struct {
	engines      *overview.Engines
	overview     *overview.Service
	audit        AuditRecorder
	fetchTimeout time.Duration
	log          zerolog.Logger
}

func NewAnalysisHandler(engines *overview.Engines, audit AuditRecorder, fetchTimeout time.Duration, log zerolog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		engines:      engines,
		overview:     overview.NewService(engines, log),
		audit:        audit,
		fetchTimeout: fetchTimeout,
		log:          log.With().Str("component", "analysis_handler").Logger(),
	}
}

type rateSourced interface {
	RateSource() rates.Source
}

// engineFunc is the shape every engine entry point shares.
type engineFunc[O, R any] func(ctx context.Context, tenantID string, opts O) (*R, error)

// serve binds the options body, runs the engine and writes the result.
func serve[O, R any](h *AnalysisHandler, engine string, call engineFunc[O, R], year func(O) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var opts O
		if !bindOptions(c, &opts) {
			return
		}
		tenantID := c.Param("tenantId")
		ctx, cancel := h.withTimeout(c.Request.Context())
		defer cancel()

		started := time.Now()
		res, err := call(ctx, tenantID, opts)

		var source rates.Source
		if rs, ok := any(res).(rateSourced); res != nil && ok {
			source = rs.RateSource()
		}
		h.record(c, tenantID, engine, year(opts), source, time.Since(started), err)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": res})
	}
}

func (h *AnalysisHandler) Div7A() gin.HandlerFunc {
	return serve(h, overview.EngineDiv7A, h.engines.Div7A.AnalyzeCompliance, func(o div7a.Options) string { return o.FinancialYear })
}

func (h *AnalysisHandler) Rnd() gin.HandlerFunc {
	return serve(h, overview.EngineRnd, h.engines.Rnd.AnalyzeExpenditure, func(o rnd.Options) string { return o.FinancialYear })
}

func (h *AnalysisHandler) FBT() gin.HandlerFunc {
	return serve(h, overview.EngineFBT, h.engines.FBT.AnalyzeBenefits, func(o fbt.Options) string { return o.FBTYear })
}

func (h *AnalysisHandler) PAYG() gin.HandlerFunc {
	return serve(h, overview.EnginePAYG, h.engines.PAYG.AnalyzeInstalments, func(o payg.Options) string { return o.FinancialYear })
}

func (h *AnalysisHandler) Cashflow() gin.HandlerFunc {
	return serve(h, overview.EngineCashflow, h.engines.Cashflow.Forecast, func(o cashflow.Options) string { return o.StartMonth })
}

func (h *AnalysisHandler) Reconciliation() gin.HandlerFunc {
	return serve(h, overview.EngineReconciliation, h.engines.Reconciliation.Analyze, func(o reconciliation.Options) string { return o.FromYear })
}

func (h *AnalysisHandler) AuditRisk() gin.HandlerFunc {
	return serve(h, overview.EngineAuditRisk, h.engines.AuditRisk.AssessRisk, func(o auditrisk.Options) string { return o.FinancialYear })
}

func (h *AnalysisHandler) Losses() gin.HandlerFunc {
	return serve(h, overview.EngineLosses, h.engines.Losses.AnalyzeLosses, func(o losses.Options) string { return o.ToYear })
}

// Full runs every engine and records one audit row per engine.
func (h *AnalysisHandler) Full(c *gin.Context) {
	var opts overview.Options
	if !bindOptions(c, &opts) {
		return
	}
	tenantID := c.Param("tenantId")
	ctx, cancel := h.withTimeout(c.Request.Context())
	defer cancel()

	sum, err := h.overview.Run(ctx, tenantID, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	for engine, ms := range sum.DurationsMs {
		var engineErr error
		if msg, failed := sum.Errors[engine]; failed {
			engineErr = errors.New(msg)
		}
		h.record(c, tenantID, engine, sum.FinancialYear, overviewSource(sum, engine), time.Duration(ms)*time.Millisecond, engineErr)
	}
	c.JSON(http.StatusOK, gin.H{"data": sum})
}

func overviewSource(sum *overview.Summary, engine string) rates.Source {
	switch {
	case engine == overview.EngineDiv7A && sum.Div7A != nil:
		return sum.Div7A.RateSource()
	case engine == overview.EngineRnd && sum.Rnd != nil:
		return sum.Rnd.RateSource()
	case engine == overview.EngineFBT && sum.FBT != nil:
		return sum.FBT.RateSource()
	case engine == overview.EnginePAYG && sum.PAYG != nil:
		return sum.PAYG.RateSource()
	case engine == overview.EngineCashflow && sum.Cashflow != nil:
		return sum.Cashflow.RateSource()
	case engine == overview.EngineLosses && sum.Losses != nil:
		return sum.Losses.RateSource()
	}
	return ""
}

func (h *AnalysisHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.fetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.fetchTimeout)
}

func (h *AnalysisHandler) record(c *gin.Context, tenantID, engine, fy string, source rates.Source, took time.Duration, err error) {
	log := logger.FromContext(c.Request.Context())
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("tenant_id", tenantID).Str("engine", engine).Str("tax_rate_source", string(source)).
		Int64("duration_ms", took.Milliseconds()).Msg("analysis run")

	if h.audit == nil || tenantID == "" {
		return
	}
	entry := models.AnalysisAuditLog{
		TenantID:      tenantID,
		Engine:        engine,
		FinancialYear: fy,
		TaxRateSource: string(source),
		DurationMs:    took.Milliseconds(),
		Succeeded:     err == nil,
		RequestID:     c.GetString(requestIDKey),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if err := h.audit.Record(c.Request.Context(), entry); err != nil {
		h.log.Warn().Err(err).Str("engine", engine).Msg("failed to record analysis audit log")
	}
}

// bindOptions decodes an optional JSON body. An empty body means defaults.
func bindOptions(c *gin.Context, opts any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(opts); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid options: " + err.Error()})
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, analysis.ErrInvalidTenant), errors.Is(err, analysis.ErrInvalidOptions):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
