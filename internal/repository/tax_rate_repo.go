package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/rates"
)

// TaxRateRepository reads the tax-rate cache table maintained by the rate
// cache manager. It is the live link of the rate fallback chain.
type TaxRateRepository struct {
	db *gorm.DB
}

func NewTaxRateRepository(db *gorm.DB) *TaxRateRepository {
	return &TaxRateRepository{db: db}
}

// CurrentTaxRates loads every cached rate into a parameter set.
func (r *TaxRateRepository) CurrentTaxRates(ctx context.Context) (*rates.ParameterSet, error) {
	var rows []models.TaxRate
	if err := r.db.WithContext(ctx).Order("fetched_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load tax rate cache: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("tax rate cache is empty")
	}
	return parameterSetFromRows(rows), nil
}

func parameterSetFromRows(rows []models.TaxRate) *rates.ParameterSet {
	set := &rates.ParameterSet{
		Current: make(map[rates.Name]float64),
		History: make(map[rates.Name]map[string]float64),
	}
	var oldest time.Time
	for _, row := range rows {
		name := rates.Name(row.Name)
		if row.FinancialYear == "" {
			set.Current[name] = row.Value
		} else {
			if set.History[name] == nil {
				set.History[name] = make(map[string]float64)
			}
			set.History[name][row.FinancialYear] = row.Value
		}
		// The set is only as fresh as its stalest row.
		if oldest.IsZero() || row.FetchedAt.Before(oldest) {
			oldest = row.FetchedAt
			set.SourceID = row.SourceID
		}
	}
	set.FetchedAt = oldest
	return set
}
