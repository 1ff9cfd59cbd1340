// Package fiscal holds the Australian income-year and FBT-year date math.
//
// Income years run 1 July to 30 June and are labelled "FY2024-25". FBT years
// run 1 April to 31 March; the same label form is used, so "FY2024-25" as an
// FBT year covers 1 April 2024 to 31 March 2025. Malformed labels never panic:
// every parser reports ok=false instead.
package fiscal

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// AmendmentPeriodYears is the standard amendment window (s 170 TAA 1953).
const AmendmentPeriodYears = 4

var fyPattern = regexp.MustCompile(`^FY(\d{4})-(\d{2})$`)

// Now is swapped in tests.
var Now = time.Now

// FinancialYearForDate returns the income-year label containing t.
func FinancialYearForDate(t time.Time) string {
	start := t.Year()
	if t.Month() < time.July {
		start--
	}
	return Label(start)
}

// CurrentFinancialYear returns the income year containing today.
func CurrentFinancialYear() string {
	return FinancialYearForDate(Now())
}

// Label formats the year starting 1 July of startYear.
func Label(startYear int) string {
	return fmt.Sprintf("FY%d-%02d", startYear, (startYear+1)%100)
}

// ParseFinancialYear returns the calendar year in which the labelled year starts.
func ParseFinancialYear(fy string) (int, bool) {
	m := fyPattern.FindStringSubmatch(fy)
	if m == nil {
		return 0, false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	end, err := strconv.Atoi(m[2])
	if err != nil || end != (start+1)%100 {
		return 0, false
	}
	return start, true
}

// PriorFinancialYear returns the label of the year before fy.
func PriorFinancialYear(fy string) (string, bool) {
	start, ok := ParseFinancialYear(fy)
	if !ok {
		return "", false
	}
	return Label(start - 1), true
}

// NextFinancialYear returns the label of the year after fy.
func NextFinancialYear(fy string) (string, bool) {
	start, ok := ParseFinancialYear(fy)
	if !ok {
		return "", false
	}
	return Label(start + 1), true
}

// FinancialYearBounds returns 1 July and 30 June (end of day) for fy.
func FinancialYearBounds(fy string) (time.Time, time.Time, bool) {
	start, ok := ParseFinancialYear(fy)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	from := time.Date(start, time.July, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(start+1, time.June, 30, 23, 59, 59, 0, time.UTC)
	return from, to, true
}

// FYEndDate returns 30 June (midnight UTC) of fy.
func FYEndDate(fy string) (time.Time, bool) {
	start, ok := ParseFinancialYear(fy)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(start+1, time.June, 30, 0, 0, 0, 0, time.UTC), true
}

// FinancialYearsBetween lists every label from..to inclusive. A malformed
// bound or an inverted range yields nil.
func FinancialYearsBetween(from, to string) []string {
	a, ok := ParseFinancialYear(from)
	if !ok {
		return nil
	}
	b, ok := ParseFinancialYear(to)
	if !ok || b < a {
		return nil
	}
	years := make([]string, 0, b-a+1)
	for y := a; y <= b; y++ {
		years = append(years, Label(y))
	}
	return years
}

// FBTYearForDate returns the FBT-year label containing t.
func FBTYearForDate(t time.Time) string {
	start := t.Year()
	if t.Month() < time.April {
		start--
	}
	return Label(start)
}

// FBTYearBounds returns 1 April and 31 March (end of day) for the FBT year.
func FBTYearBounds(fy string) (time.Time, time.Time, bool) {
	start, ok := ParseFinancialYear(fy)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	from := time.Date(start, time.April, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(start+1, time.March, 31, 23, 59, 59, 0, time.UTC)
	return from, to, true
}

// AmendmentDeadline is the last day an assessment for fy can ordinarily be amended.
func AmendmentDeadline(fy string) (time.Time, bool) {
	end, ok := FYEndDate(fy)
	if !ok {
		return time.Time{}, false
	}
	return end.AddDate(AmendmentPeriodYears, 0, 0), true
}

// AmendmentWarning returns a warning when fy is outside, or within six months
// of leaving, the amendment window as of asOf. Empty when no warning applies.
func AmendmentWarning(fy string, asOf time.Time) string {
	deadline, ok := AmendmentDeadline(fy)
	if !ok {
		return ""
	}
	switch {
	case asOf.After(deadline):
		return fmt.Sprintf("%s is outside the standard %d-year amendment period (s 170 TAA 1953, closed %s); amendments generally require an ATO-initiated review or fraud/evasion exception.",
			fy, AmendmentPeriodYears, deadline.Format("2006-01-02"))
	case deadline.Sub(asOf) <= 183*24*time.Hour:
		return fmt.Sprintf("%s amendment period closes on %s; lodge any amendment before then.",
			fy, deadline.Format("2006-01-02"))
	default:
		return ""
	}
}

// DaysInclusive counts calendar days from a to b, both included.
func DaysInclusive(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	if b.Before(a) {
		return 0
	}
	return int(b.Sub(a).Hours()/24) + 1
}
