package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisAuditLog records that an engine ran for a tenant and which rate
// source fed it. The engine output itself is never stored.
type AnalysisAuditLog struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      string    `gorm:"index"`
	Engine        string    `gorm:"index"`
	FinancialYear string
	TaxRateSource string
	DurationMs    int64
	Succeeded     bool
	Error         string
	RequestID     string
	CreatedAt     time.Time
}
