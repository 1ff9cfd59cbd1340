package fiscal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFinancialYearForDate(t *testing.T) {
	tests := []struct {
		date time.Time
		want string
	}{
		{date(2024, time.July, 1), "FY2024-25"},
		{date(2025, time.June, 30), "FY2024-25"},
		{date(2025, time.January, 15), "FY2024-25"},
		{date(1999, time.December, 31), "FY1999-00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FinancialYearForDate(tt.date), tt.date.String())
	}
}

func TestCurrentFinancialYear(t *testing.T) {
	orig := Now
	defer func() { Now = orig }()
	Now = func() time.Time { return date(2026, time.October, 18) }

	assert.Equal(t, "FY2026-27", CurrentFinancialYear())
}

func TestParseFinancialYear(t *testing.T) {
	start, ok := ParseFinancialYear("FY2023-24")
	require.True(t, ok)
	assert.Equal(t, 2023, start)

	for _, bad := range []string{"", "2023-24", "FY2023-25", "FY23-24", "FY2023-2024", "fy2023-24"} {
		_, ok := ParseFinancialYear(bad)
		assert.False(t, ok, bad)
	}
}

func TestPriorFinancialYear(t *testing.T) {
	prior, ok := PriorFinancialYear("FY2000-01")
	require.True(t, ok)
	assert.Equal(t, "FY1999-00", prior)

	_, ok = PriorFinancialYear("garbage")
	assert.False(t, ok)
}

func TestFinancialYearBounds(t *testing.T) {
	from, to, ok := FinancialYearBounds("FY2024-25")
	require.True(t, ok)
	assert.Equal(t, date(2024, time.July, 1), from)
	assert.Equal(t, time.Date(2025, time.June, 30, 23, 59, 59, 0, time.UTC), to)

	end, ok := FYEndDate("FY2024-25")
	require.True(t, ok)
	assert.Equal(t, date(2025, time.June, 30), end)
}

func TestFBTYear(t *testing.T) {
	assert.Equal(t, "FY2024-25", FBTYearForDate(date(2025, time.March, 31)))
	assert.Equal(t, "FY2025-26", FBTYearForDate(date(2025, time.April, 1)))

	from, to, ok := FBTYearBounds("FY2024-25")
	require.True(t, ok)
	assert.Equal(t, date(2024, time.April, 1), from)
	assert.Equal(t, time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC), to)

	_, _, ok = FBTYearBounds("FBT2025")
	assert.False(t, ok)
}

func TestFinancialYearsBetween(t *testing.T) {
	assert.Equal(t, []string{"FY2021-22", "FY2022-23", "FY2023-24"}, FinancialYearsBetween("FY2021-22", "FY2023-24"))
	assert.Nil(t, FinancialYearsBetween("FY2023-24", "FY2021-22"))
	assert.Nil(t, FinancialYearsBetween("bad", "FY2021-22"))
}

func TestAmendmentWarning(t *testing.T) {
	deadline, ok := AmendmentDeadline("FY2019-20")
	require.True(t, ok)
	assert.Equal(t, date(2024, time.June, 30), deadline)

	assert.Contains(t, AmendmentWarning("FY2019-20", date(2026, time.October, 18)), "outside the standard 4-year amendment period")
	assert.Contains(t, AmendmentWarning("FY2022-23", date(2027, time.March, 1)), "closes on 2027-06-30")
	assert.Empty(t, AmendmentWarning("FY2024-25", date(2026, time.October, 18)))
	assert.Empty(t, AmendmentWarning("nonsense", date(2026, time.October, 18)))
}

func TestDaysInclusive(t *testing.T) {
	assert.Equal(t, 1, DaysInclusive(date(2025, time.June, 30), date(2025, time.June, 30)))
	assert.Equal(t, 365, DaysInclusive(date(2024, time.July, 1), date(2025, time.June, 30)))
	assert.Equal(t, 0, DaysInclusive(date(2025, time.July, 1), date(2025, time.June, 30)))
}
