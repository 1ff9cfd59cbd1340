package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ato-tax-optimizer-backend/internal/models"
)

type ImportBatchRepository struct {
	db *gorm.DB
}

func NewImportBatchRepository(db *gorm.DB) *ImportBatchRepository {
	return &ImportBatchRepository{db: db}
}

// Create starts a batch in processing state.
func (r *ImportBatchRepository) Create(ctx context.Context, tenantID, filename string) (*models.ImportBatch, error) {
	batch := &models.ImportBatch{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Filename:  filename,
		Status:    "processing",
		StartedAt: time.Now(),
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// MarkCompleted sets final counts and status
func (r *ImportBatchRepository) MarkCompleted(ctx context.Context, batchID uuid.UUID, total, imported, skipped int) error {
	return r.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"total_rows":     total,
			"imported_count": imported,
			"skipped_count":  skipped,
			"status":         "completed",
			"completed_at":   time.Now(),
		}).Error
}

func (r *ImportBatchRepository) Get(ctx context.Context, batchID uuid.UUID) (*models.ImportBatch, error) {
	var batch models.ImportBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", batchID).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}
