package fbt

import (
	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/models"
)

// Category is an FBT benefit type.
type Category string

const (
	CategoryCar                 Category = "car"
	CategoryLoan                Category = "loan"
	CategoryExpensePayment      Category = "expense_payment"
	CategoryHousing             Category = "housing"
	CategoryMealEntertainment   Category = "meal_entertainment"
	CategoryOtherwiseDeductible Category = "otherwise_deductible"
	CategoryResidual            Category = "residual_fringe_benefit"
)

type categoryRule struct {
	category  Category
	reference string
	keywords  []string
}

// categoryRules are tried in order; the first match wins.
var categoryRules = []categoryRule{
	{CategoryCar, "FBTAA 1986 Division 2 (car fringe benefits)",
		[]string{"car lease", "novated", "motor vehicle", "vehicle", "fuel", "petrol", "car ", "rego", "toll"}},
	{CategoryLoan, "FBTAA 1986 Division 4 (loan fringe benefits)",
		[]string{"employee loan", "staff loan", "loan to employee", "salary advance"}},
	{CategoryExpensePayment, "FBTAA 1986 Division 5 (expense payment fringe benefits)",
		[]string{"reimburse", "school fees", "gym", "membership", "personal", "private expense", "utility bill"}},
	{CategoryHousing, "FBTAA 1986 Division 6 (housing fringe benefits)",
		[]string{"housing", "rent ", "rental property", "residential", "accommodation for employee"}},
	{CategoryMealEntertainment, "FBTAA 1986 Division 9A (meal entertainment)",
		[]string{"entertainment", "restaurant", "dinner", "lunch", "catering", "christmas party", "drinks", "function"}},
	{CategoryOtherwiseDeductible, "FBTAA 1986 s 24 (otherwise deductible rule)",
		[]string{"training", "conference", "seminar", "course fee", "professional development"}},
}

const residualReference = "FBTAA 1986 Division 12 (residual fringe benefits)"

// Classify returns the benefit category and its legislative reference.
// Unmatched transactions are residual benefits.
func Classify(tx models.Transaction) (Category, string, []string) {
	text := analysis.Text(tx) + " "
	for _, r := range categoryRules {
		if hits := analysis.MatchKeywords(text, r.keywords); len(hits) > 0 {
			return r.category, r.reference, hits
		}
	}
	return CategoryResidual, residualReference, nil
}

// CategoryOrder fixes the breakdown order.
var CategoryOrder = []Category{
	CategoryCar, CategoryLoan, CategoryExpensePayment, CategoryHousing,
	CategoryMealEntertainment, CategoryOtherwiseDeductible, CategoryResidual,
}

// Exemption names why an item carries no FBT.
type Exemption string

const (
	ExemptionNone                Exemption = ""
	ExemptionMinorBenefit        Exemption = "minor_benefit"
	ExemptionWorkRelated         Exemption = "work_related_item"
	ExemptionOtherwiseDeductible Exemption = "otherwise_deductible"
)

var workRelatedKeywords = []string{"laptop", "notebook computer", "mobile phone", "phone", "tablet", "ipad",
	"protective clothing", "briefcase", "calculator", "tools of trade", "software"}

// GrossUpType selects the gross-up rate.
type GrossUpType string

const (
	Type1 GrossUpType = "type_1"
	Type2 GrossUpType = "type_2"
)

// grossUpType defaults to Type 1 when the GST position is unknown, the
// conservative choice. Meal entertainment, housing and loans are Type 2.
func grossUpType(c Category, tx models.Transaction) GrossUpType {
	switch c {
	case CategoryMealEntertainment, CategoryHousing, CategoryLoan:
		return Type2
	}
	if tx.GSTCreditable != nil && !*tx.GSTCreditable {
		return Type2
	}
	return Type1
}
