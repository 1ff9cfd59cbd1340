package handler

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/logger"
	"ato-tax-optimizer-backend/internal/models"
)

// TransactionWriter persists imported rows, ignoring ones already stored.
type TransactionWriter interface {
	Upsert(ctx context.Context, txs []models.Transaction) (int64, error)
}

// BatchRecorder tracks import batches. Nil keeps batches in the response only.
type BatchRecorder interface {
	Create(ctx context.Context, tenantID, filename string) (*models.ImportBatch, error)
	MarkCompleted(ctx context.Context, batchID uuid.UUID, total, imported, skipped int) error
}

type ImportHandler struct {
	writer  TransactionWriter
	batches BatchRecorder
	log     zerolog.Logger
}

func NewImportHandler(writer TransactionWriter, batches BatchRecorder, log zerolog.Logger) *ImportHandler {
	return &ImportHandler{writer: writer, batches: batches, log: log.With().Str("component", "import_handler").Logger()}
}

// RowError explains why a row was skipped.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Import loads a CSV of normalized transactions for a tenant. Re-importing
// the same file adds nothing.
func (h *ImportHandler) Import(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenantId"))
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant id required"})
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	log.Info().Str("tenant_id", tenantID).Str("file", header.Filename).Int64("size", header.Size).Msg("import received")

	batch := &models.ImportBatch{ID: uuid.New(), TenantID: tenantID, Filename: header.Filename, Status: "processing", StartedAt: time.Now()}
	if h.batches != nil {
		if batch, err = h.batches.Create(ctx, tenantID, header.Filename); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create import batch: " + err.Error()})
			return
		}
	}

	txs, total, rowErrors, err := ParseTransactions(tenantID, file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	imported, err := h.writer.Upsert(ctx, txs)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("import upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store transactions: " + err.Error()})
		return
	}
	skipped := total - int(imported)
	if h.batches != nil {
		if err := h.batches.MarkCompleted(ctx, batch.ID, total, int(imported), skipped); err != nil {
			h.log.Warn().Err(err).Str("batch_id", batch.ID.String()).Msg("failed to complete import batch")
		}
	}
	log.Info().Str("tenant_id", tenantID).Int("rows", total).Int64("imported", imported).Int("skipped", skipped).Msg("import completed")

	c.JSON(http.StatusOK, gin.H{
		"batch_id":       batch.ID.String(),
		"file":           header.Filename,
		"total_rows":     total,
		"imported_count": imported,
		"skipped_count":  skipped,
		"row_errors":     rowErrors,
	})
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02-01-2006", "02/01/2006"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true
	}
	return false
}

// ParseTransactions reads a header-led CSV (comma or tab separated). Columns
// are matched by name; transaction_id, date, type and amount are required.
// It returns the parsed rows, the number of data rows seen and the rows it
// had to skip.
func ParseTransactions(tenantID string, r io.Reader) ([]models.Transaction, int, []RowError, error) {
	br := bufio.NewReader(r)
	sample, _ := br.Peek(1024)
	headerLine, _, _ := strings.Cut(string(sample), "\n")

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if !strings.Contains(headerLine, ",") && strings.Contains(headerLine, "\t") {
		reader.Comma = '\t'
	}

	headerRow, err := reader.Read()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("cannot read CSV header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range headerRow {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{"transaction_id", "date", "type", "amount"} {
		if _, ok := cols[required]; !ok {
			return nil, 0, nil, fmt.Errorf("missing required column %q", required)
		}
	}

	txs := []models.Transaction{}
	rowErrors := []RowError{}
	total := 0
	for rowNum := 2; ; rowNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			total++
			rowErrors = append(rowErrors, RowError{Row: rowNum, Reason: err.Error()})
			continue
		}
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}
		total++
		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		tx, reason := buildTransaction(tenantID, get)
		if reason != "" {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Reason: reason})
			continue
		}
		txs = append(txs, tx)
	}
	return txs, total, rowErrors, nil
}

func buildTransaction(tenantID string, get func(string) string) (models.Transaction, string) {
	id := get("transaction_id")
	if id == "" {
		return models.Transaction{}, "transaction_id empty"
	}
	date, err := parseDate(get("date"))
	if err != nil {
		return models.Transaction{}, err.Error()
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(get("amount"), ",", ""), 64)
	if err != nil {
		return models.Transaction{}, fmt.Sprintf("invalid amount %q", get("amount"))
	}
	txType := strings.ToUpper(get("type"))
	switch txType {
	case models.TypeAccRec, models.TypeAccPay, models.TypeReceive, models.TypeSpend,
		models.TypeReceiveTransfer, models.TypeSpendTransfer:
	default:
		return models.Transaction{}, fmt.Sprintf("unknown type %q", get("type"))
	}

	tx := models.Transaction{
		ID:               uuid.New(),
		TenantID:         tenantID,
		TransactionID:    id,
		TransactionDate:  date,
		FinancialYear:    get("financial_year"),
		Amount:           amount,
		Type:             txType,
		Status:           strings.ToUpper(get("status")),
		Description:      get("description"),
		ContactName:      get("contact_name"),
		SupplierName:     get("supplier_name"),
		Reference:        get("reference"),
		AccountCode:      get("account_code"),
		AccountName:      get("account_name"),
		AccountType:      get("account_type"),
		TrackingCategory: get("tracking_category"),
		IsReconciled:     parseBool(get("is_reconciled")),
		PrimaryCategory:  get("primary_category"),
		IsRndCandidate:   parseBool(get("is_rnd_candidate")),
		Division7aRisk:   parseBool(get("division7a_risk")),
		FbtImplications:  parseBool(get("fbt_implications")),
		CreatedAt:        time.Now(),
	}
	if tx.FinancialYear == "" {
		tx.FinancialYear = fiscal.FinancialYearForDate(date)
	}
	if v := get("category_confidence"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			tx.CategoryConfidence = f
		}
	}
	if v := get("paid_at"); v != "" {
		paid, err := parseDate(v)
		if err != nil {
			return models.Transaction{}, "paid_at: " + err.Error()
		}
		tx.PaidAt = &paid
	}
	if v := get("gst_creditable"); v != "" {
		b := parseBool(v)
		tx.GSTCreditable = &b
	}
	if v := get("raw_detail"); v != "" {
		tx.RawDetail = datatypes.JSON(v)
	}
	return tx, ""
}
