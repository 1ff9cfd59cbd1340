package rates

// HistoricalRates are the published per-year values.
// Source: ATO Division 7A benchmark interest rates, SG rate schedule, FBT rates and thresholds.
var HistoricalRates = map[Name]map[string]float64{
	Division7ABenchmark: {
		"FY2018-19": 0.0520,
		"FY2019-20": 0.0537,
		"FY2020-21": 0.0452,
		"FY2021-22": 0.0452,
		"FY2022-23": 0.0477,
		"FY2023-24": 0.0827,
		"FY2024-25": 0.0877,
		"FY2025-26": 0.0837,
	},
	SuperGuaranteeRate: {
		"FY2020-21": 0.095,
		"FY2021-22": 0.10,
		"FY2022-23": 0.105,
		"FY2023-24": 0.11,
		"FY2024-25": 0.115,
		"FY2025-26": 0.12,
	},
	// FBT years are keyed by the label of the year starting 1 April.
	FBTRate: {
		"FY2020-21": 0.47,
		"FY2021-22": 0.47,
		"FY2022-23": 0.47,
		"FY2023-24": 0.47,
		"FY2024-25": 0.47,
		"FY2025-26": 0.47,
	},
	FBTType1GrossUp: {
		"FY2023-24": 2.0802,
		"FY2024-25": 2.0802,
		"FY2025-26": 2.0802,
	},
	FBTType2GrossUp: {
		"FY2023-24": 1.8868,
		"FY2024-25": 1.8868,
		"FY2025-26": 1.8868,
	},
}

// FallbackRates are used when neither the live source nor the table has a value.
var FallbackRates = map[Name]float64{
	Division7ABenchmark:   0.0877,
	CorporateTaxRate:      0.30,
	BaseRateEntityTaxRate: 0.25,
	FBTRate:               0.47,
	FBTType1GrossUp:       2.0802,
	FBTType2GrossUp:       1.8868,
	SuperGuaranteeRate:    0.12,
	RndPremiumSmall:       0.185,
	RndPremiumLarge:       0.085,
}
