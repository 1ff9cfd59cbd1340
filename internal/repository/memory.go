package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/models"
)

// MemoryTransactionStore keeps transactions in process. It applies the same
// filter semantics as TransactionRepository and backs local development and tests.
type MemoryTransactionStore struct {
	mu  sync.RWMutex
	txs map[string][]models.Transaction
	// Err, when set, is returned by every fetch.
	Err error
}

func NewMemoryTransactionStore(txs ...models.Transaction) *MemoryTransactionStore {
	s := &MemoryTransactionStore{txs: make(map[string][]models.Transaction)}
	s.Add(txs...)
	return s
}

// Add appends transactions, skipping ids already held for the tenant.
func (s *MemoryTransactionStore) Add(txs ...models.Transaction) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, tx := range txs {
		exists := false
		for _, have := range s.txs[tx.TenantID] {
			if have.TransactionID == tx.TransactionID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		s.txs[tx.TenantID] = append(s.txs[tx.TenantID], tx)
		added++
	}
	return added
}

// Upsert mirrors TransactionRepository.Upsert.
func (s *MemoryTransactionStore) Upsert(_ context.Context, txs []models.Transaction) (int64, error) {
	return int64(s.Add(txs...)), nil
}

func (s *MemoryTransactionStore) FetchTransactions(ctx context.Context, tenantID string, filter analysis.TransactionFilter) ([]models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	var years map[string]bool
	if filter.FromYear != "" || filter.ToYear != "" {
		list, err := yearRange(filter.FromYear, filter.ToYear)
		if err != nil {
			return nil, err
		}
		years = make(map[string]bool, len(list))
		for _, y := range list {
			years[y] = true
		}
	}
	types := make(map[string]bool, len(filter.Types))
	for _, t := range filter.Types {
		types[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Transaction
	for _, tx := range s.txs[tenantID] {
		if years != nil && !years[tx.FinancialYear] {
			continue
		}
		if filter.StartDate != nil && tx.TransactionDate.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && tx.TransactionDate.After(*filter.EndDate) {
			continue
		}
		if !flagMatches(tx, filter.Flag) {
			continue
		}
		if filter.Counterparty != "" && !strings.EqualFold(tx.Counterparty(), filter.Counterparty) {
			continue
		}
		if len(types) > 0 && !types[tx.Type] {
			continue
		}
		out = append(out, tx)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out, nil
}

func flagMatches(tx models.Transaction, flag analysis.CategoryFlag) bool {
	switch flag {
	case analysis.FlagRndCandidate:
		return tx.IsRndCandidate
	case analysis.FlagDivision7aRisk:
		return tx.Division7aRisk
	case analysis.FlagFBT:
		return tx.FbtImplications
	default:
		return true
	}
}
