package models

import (
	"time"

	"github.com/google/uuid"
)

type ImportBatch struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      string    `gorm:"index"`
	Filename      string
	TotalRows     int
	ImportedCount int
	SkippedCount  int
	Status        string
	StartedAt     time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}
