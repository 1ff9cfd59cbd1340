package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/models"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// FetchTransactions returns a tenant's transactions narrowed by filter, oldest first.
func (r *TransactionRepository) FetchTransactions(ctx context.Context, tenantID string, filter analysis.TransactionFilter) ([]models.Transaction, error) {
	var txs []models.Transaction

	query := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("tenant_id = ?", tenantID)

	if filter.FromYear != "" || filter.ToYear != "" {
		years, err := yearRange(filter.FromYear, filter.ToYear)
		if err != nil {
			return nil, err
		}
		query = query.Where("financial_year IN ?", years)
	}
	if filter.StartDate != nil {
		query = query.Where("transaction_date >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("transaction_date <= ?", *filter.EndDate)
	}
	switch filter.Flag {
	case analysis.FlagRndCandidate:
		query = query.Where("is_rnd_candidate = ?", true)
	case analysis.FlagDivision7aRisk:
		query = query.Where("division7a_risk = ?", true)
	case analysis.FlagFBT:
		query = query.Where("fbt_implications = ?", true)
	}
	if filter.Counterparty != "" {
		name := strings.ToLower(filter.Counterparty)
		query = query.Where("LOWER(contact_name) = ? OR (contact_name = '' AND LOWER(supplier_name) = ?)", name, name)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}

	err := query.Order("transaction_date ASC").Order("transaction_id ASC").Find(&txs).Error
	return txs, err
}

// Upsert inserts transactions, ignoring rows already present for the tenant.
func (r *TransactionRepository) Upsert(ctx context.Context, txs []models.Transaction) (int64, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "transaction_id"}},
			DoNothing: true,
		}).
		CreateInBatches(txs, 500)
	return result.RowsAffected, result.Error
}

// yearRange expands an FY range into labels. A single open bound means that year only.
func yearRange(from, to string) ([]string, error) {
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}
	years := fiscal.FinancialYearsBetween(from, to)
	if years == nil {
		return nil, fmt.Errorf("invalid financial year range %q..%q", from, to)
	}
	return years, nil
}
