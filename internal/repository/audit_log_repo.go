package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ato-tax-optimizer-backend/internal/models"
)

type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Record stores one engine run.
func (r *AuditLogRepository) Record(ctx context.Context, entry models.AnalysisAuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

// ListByTenant returns the latest runs for a tenant.
func (r *AuditLogRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]models.AnalysisAuditLog, error) {
	var logs []models.AnalysisAuditLog
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
