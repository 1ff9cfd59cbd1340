package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	handler "ato-tax-optimizer-backend/internal/handlers"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/rates"
	"ato-tax-optimizer-backend/internal/services/overview"
	"ato-tax-optimizer-backend/internal/services/report"
)

// Store is what the API needs from the transaction store.
type Store interface {
	analysis.TransactionStore
	Upsert(ctx context.Context, txs []models.Transaction) (int64, error)
}

// Deps wires the handlers. Audit and Batches may be nil when running
// without a database.
type Deps struct {
	Store        Store
	Rates        *rates.Resolver
	Audit        handler.AuditRecorder
	Batches      handler.BatchRecorder
	FetchTimeout time.Duration
	Log          zerolog.Logger
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	engines := overview.NewEngines(d.Store, d.Rates, d.Log)

	analysisHandler := handler.NewAnalysisHandler(engines, d.Audit, d.FetchTimeout, d.Log)
	importHandler := handler.NewImportHandler(d.Store, d.Batches, d.Log)
	reportHandler := handler.NewReportHandler(report.NewService(d.Store, d.Log), d.Log)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api.GET("/fiscal/current", handler.Fiscal)

	tenant := api.Group("/tenants/:tenantId")

	// Analysis engines
	run := tenant.Group("/analysis")
	run.POST("/div7a", analysisHandler.Div7A())
	run.POST("/rnd", analysisHandler.Rnd())
	run.POST("/fbt", analysisHandler.FBT())
	run.POST("/payg", analysisHandler.PAYG())
	run.POST("/cashflow", analysisHandler.Cashflow())
	run.POST("/reconciliation", analysisHandler.Reconciliation())
	run.POST("/audit-risk", analysisHandler.AuditRisk())
	run.POST("/losses", analysisHandler.Losses())
	run.POST("/full", analysisHandler.Full)

	tenant.POST("/transactions/import", importHandler.Import)
	tenant.GET("/reports/:report", reportHandler.Export)
}
