package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ato-tax-optimizer-backend/internal/fiscal"
)

// Fiscal describes the current years and, given ?fy=, that year's dates.
func Fiscal(c *gin.Context) {
	now := fiscal.Now()
	fy := c.DefaultQuery("fy", fiscal.CurrentFinancialYear())
	start, end, ok := fiscal.FinancialYearBounds(fy)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid financial year %q", fy)})
		return
	}
	deadline, _ := fiscal.AmendmentDeadline(fy)
	c.JSON(http.StatusOK, gin.H{
		"current_financial_year": fiscal.CurrentFinancialYear(),
		"current_fbt_year":       fiscal.FBTYearForDate(now),
		"financial_year":         fy,
		"start_date":             start.Format(time.DateOnly),
		"end_date":               end.Format(time.DateOnly),
		"amendment_deadline":     deadline.Format(time.DateOnly),
		"amendment_warning":      fiscal.AmendmentWarning(fy, now),
	})
}
