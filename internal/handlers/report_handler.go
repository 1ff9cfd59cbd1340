package handler

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/services/report"
)

type ReportHandler struct {
	reports *report.Service
	log     zerolog.Logger
}

func NewReportHandler(reports *report.Service, log zerolog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, log: log}
}

// Export streams one CSV report. ?from=FY2023-24&to=FY2024-25 narrows the range.
func (h *ReportHandler) Export(c *gin.Context) {
	kind := report.Kind(c.Param("report"))
	opts := report.Options{FromYear: c.Query("from"), ToYear: c.Query("to")}
	if opts.FromYear == "" && opts.ToYear == "" {
		opts.FromYear = fiscal.CurrentFinancialYear()
	}

	var buf bytes.Buffer
	rows, err := h.reports.Export(c.Request.Context(), c.Param("tenantId"), kind, opts, &buf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(kind, opts)))
	c.Header("X-Row-Count", fmt.Sprint(rows))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
