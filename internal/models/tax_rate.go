package models

import (
	"time"

	"github.com/google/uuid"
)

// TaxRate is one row of the externally maintained tax-rate cache. An empty
// FinancialYear marks the current value for the rate.
type TaxRate struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name          string    `gorm:"index:idx_rate_name_fy,unique"`
	FinancialYear string    `gorm:"index:idx_rate_name_fy,unique"`
	Value         float64
	SourceID      string
	FetchedAt     time.Time
	CreatedAt     time.Time
}
