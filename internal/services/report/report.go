// Package report writes accountant-facing CSV exports of a tenant's
// transactions and review lists.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/services/fbt"
	"ato-tax-optimizer-backend/internal/services/rnd"
)

type Kind string

const (
	KindTransactions Kind = "transactions"
	KindRnd          Kind = "rnd"
	KindFBT          Kind = "fbt"
	KindDiv7A        Kind = "div7a"
	KindHighValue    Kind = "high_value"
	KindByFY         Kind = "by_fy"
	KindByCategory   Kind = "by_category"
)

// Kinds lists the exports in menu order.
var Kinds = []Kind{KindTransactions, KindHighValue, KindRnd, KindFBT, KindDiv7A, KindByFY, KindByCategory}

type Options struct {
	FromYear string
	ToYear   string
}

type Service struct {
	store analysis.TransactionStore
	rnd   rnd.Policy
	log   zerolog.Logger
}

func NewService(store analysis.TransactionStore, log zerolog.Logger) *Service {
	return &Service{store: store, rnd: rnd.DefaultPolicy, log: log.With().Str("component", "report").Logger()}
}

// Filename is the download name for an export.
func Filename(kind Kind, opts Options) string {
	span := opts.FromYear
	if opts.ToYear != "" && opts.ToYear != opts.FromYear {
		span += "_" + opts.ToYear
	}
	names := map[Kind]string{
		KindTransactions: "All_Transactions",
		KindRnd:          "RnD_Candidates",
		KindFBT:          "FBT_Review_Required",
		KindDiv7A:        "Division7A_Review",
		KindHighValue:    "High_Value_Deductions",
		KindByFY:         "Summary_By_FY",
		KindByCategory:   "By_Category",
	}
	return fmt.Sprintf("%s_%s.csv", names[kind], span)
}

// Export writes one report and returns the number of data rows.
func (s *Service) Export(ctx context.Context, tenantID string, kind Kind, opts Options, w io.Writer) (int, error) {
	if strings.TrimSpace(tenantID) == "" {
		return 0, analysis.ErrInvalidTenant
	}
	filter := analysis.TransactionFilter{FromYear: opts.FromYear, ToYear: opts.ToYear}
	if filter.FromYear == "" && filter.ToYear == "" {
		filter.FromYear = fiscal.CurrentFinancialYear()
	}
	var write func(*csv.Writer, []models.Transaction) (int, error)
	switch kind {
	case KindTransactions:
		write = writeTransactions
	case KindRnd:
		filter.Flag = analysis.FlagRndCandidate
		write = s.writeRnd
	case KindFBT:
		filter.Flag = analysis.FlagFBT
		write = writeFBT
	case KindDiv7A:
		filter.Flag = analysis.FlagDivision7aRisk
		write = writeDiv7A
	case KindHighValue:
		write = writeHighValue
	case KindByFY:
		write = writeByFY
	case KindByCategory:
		write = writeByCategory
	default:
		return 0, fmt.Errorf("%w: unknown report %q", analysis.ErrInvalidOptions, kind)
	}

	txs, err := s.store.FetchTransactions(ctx, tenantID, filter)
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Str("report", string(kind)).Msg("report fetch failed")
		return 0, fmt.Errorf("failed to fetch report transactions: %w", err)
	}

	cw := csv.NewWriter(w)
	rows, err := write(cw, txs)
	if err != nil {
		return 0, fmt.Errorf("write %s report: %w", kind, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("write %s report: %w", kind, err)
	}
	return rows, nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func review(b bool) string {
	if b {
		return "YES - REVIEW"
	}
	return "No"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func byDate(txs []models.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].TransactionDate.Before(txs[j].TransactionDate) })
}

func writeTransactions(w *csv.Writer, txs []models.Transaction) (int, error) {
	byDate(txs)
	if err := w.Write([]string{
		"Financial Year", "Date", "Transaction ID", "Type", "Status", "Contact", "Amount",
		"Description", "Account Code", "Account Name", "Category", "Category Confidence",
		"R&D Candidate", "FBT Risk", "Div7A Risk", "Reconciled", "Deduction Type", "Claimable Amount", "Fully Deductible",
	}); err != nil {
		return 0, err
	}
	for _, tx := range txs {
		d := ClaimableDeduction(tx)
		if err := w.Write([]string{
			tx.FinancialYear,
			analysis.ISODate(tx.TransactionDate),
			tx.TransactionID,
			tx.Type,
			tx.Status,
			tx.Counterparty(),
			amount(tx.Amount),
			truncate(tx.Description, 100),
			tx.AccountCode,
			tx.AccountName,
			tx.PrimaryCategory,
			strconv.FormatFloat(tx.CategoryConfidence, 'f', -1, 64),
			yesNo(tx.IsRndCandidate),
			review(tx.FbtImplications),
			review(tx.Division7aRisk),
			yesNo(tx.IsReconciled),
			d.Type,
			amount(d.Claimable),
			yesNo(d.FullyDeductible),
		}); err != nil {
			return 0, err
		}
	}
	return len(txs), nil
}

func (s *Service) writeRnd(w *csv.Writer, txs []models.Transaction) (int, error) {
	sort.SliceStable(txs, func(i, j int) bool { return math.Abs(txs[i].Amount) > math.Abs(txs[j].Amount) })
	if err := w.Write([]string{
		"Financial Year", "Date", "Supplier", "Amount", "Project", "R&D Confidence", "Meets Div355",
		"Outcome Unknown", "Systematic", "New Knowledge", "Scientific Method", "Evidence", "Transaction ID",
	}); err != nil {
		return 0, err
	}
	for _, tx := range txs {
		el := s.rnd.AssessTransaction(tx)
		var evidence []string
		for _, e := range rnd.Elements {
			evidence = append(evidence, el.Result(e).Evidence...)
		}
		project := tx.TrackingCategory
		if project == "" {
			project = "Unassigned"
		}
		if err := w.Write([]string{
			tx.FinancialYear,
			analysis.ISODate(tx.TransactionDate),
			tx.Counterparty(),
			amount(math.Abs(tx.Amount)),
			project,
			strconv.Itoa(el.Confidence()),
			yesNo(el.AllMet()),
			yesNo(el.OutcomeUnknown.Met),
			yesNo(el.SystematicApproach.Met),
			yesNo(el.NewKnowledge.Met),
			yesNo(el.ScientificMethod.Met),
			truncate(strings.Join(evidence, "; "), 200),
			tx.TransactionID,
		}); err != nil {
			return 0, err
		}
	}
	return len(txs), nil
}

func writeFBT(w *csv.Writer, txs []models.Transaction) (int, error) {
	byDate(txs)
	if err := w.Write([]string{
		"FBT Year", "Date", "Supplier", "Amount", "Benefit Category", "Legislation", "Description", "Transaction ID",
	}); err != nil {
		return 0, err
	}
	for _, tx := range txs {
		cat, ref, _ := fbt.Classify(tx)
		if err := w.Write([]string{
			fiscal.FBTYearForDate(tx.TransactionDate),
			analysis.ISODate(tx.TransactionDate),
			tx.Counterparty(),
			amount(math.Abs(tx.Amount)),
			string(cat),
			ref,
			truncate(tx.Description, 100),
			tx.TransactionID,
		}); err != nil {
			return 0, err
		}
	}
	return len(txs), nil
}

func writeDiv7A(w *csv.Writer, txs []models.Transaction) (int, error) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := strings.ToUpper(txs[i].Counterparty()), strings.ToUpper(txs[j].Counterparty())
		if a != b {
			return a < b
		}
		return txs[i].TransactionDate.Before(txs[j].TransactionDate)
	})
	if err := w.Write([]string{
		"Financial Year", "Date", "Shareholder / Associate", "Amount", "Direction", "Account Code", "Account Name", "Description", "Transaction ID",
	}); err != nil {
		return 0, err
	}
	for _, tx := range txs {
		direction := "Paid to associate"
		if analysis.IsMoneyIn(tx.Type) {
			direction = "Received from associate"
		}
		if err := w.Write([]string{
			tx.FinancialYear,
			analysis.ISODate(tx.TransactionDate),
			tx.Counterparty(),
			amount(math.Abs(tx.Amount)),
			direction,
			tx.AccountCode,
			tx.AccountName,
			truncate(tx.Description, 100),
			tx.TransactionID,
		}); err != nil {
			return 0, err
		}
	}
	return len(txs), nil
}
