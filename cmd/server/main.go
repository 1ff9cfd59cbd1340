package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"ato-tax-optimizer-backend/internal/config"
	handler "ato-tax-optimizer-backend/internal/handlers"
	"ato-tax-optimizer-backend/internal/logger"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/rates"
	"ato-tax-optimizer-backend/internal/repository"
	"ato-tax-optimizer-backend/internal/routes"
)

func main() {
	// Load .env
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		log.Debug().Msg("no .env file found, relying on system env")
	}

	deps := routes.Deps{FetchTimeout: cfg.Analysis.FetchTimeout, Log: log}
	var live rates.LiveProvider

	switch strings.ToLower(cfg.Database.Driver) {
	case "memory":
		log.Warn().Msg("using in-memory transaction store; data is lost on restart")
		deps.Store = repository.NewMemoryTransactionStore()
	default:
		db, err := config.InitDB(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(
				&models.Transaction{},
				&models.ImportBatch{},
				&models.AnalysisAuditLog{},
				&models.TaxRate{},
			); err != nil {
				log.Fatal().Err(err).Msg("auto migrate failed")
			}
		}
		deps.Store = repository.NewTransactionRepository(db)
		deps.Audit = repository.NewAuditLogRepository(db)
		deps.Batches = repository.NewImportBatchRepository(db)
		live = repository.NewTaxRateRepository(db)
	}
	deps.Rates = rates.NewResolver(live, cfg.Rates.LookupTimeout, log)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(log))
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().Str("addr", addr).Str("db_driver", cfg.Database.Driver).Msg("server starting")
	if err := r.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
