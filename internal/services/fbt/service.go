// Package fbt classifies fringe benefits for an FBT year (1 April to 31 March),
// applies exemptions and gross-up rates, and estimates the FBT liability.
package fbt

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/fiscal"
	"ato-tax-optimizer-backend/internal/money"
	"ato-tax-optimizer-backend/internal/rates"
)

const (
	MinorBenefitThreshold    = 300.0
	ProfessionalReviewAmount = 10000.0
)

type Options struct {
	// FBTYear is the label of the year starting 1 April, e.g. FY2024-25 for
	// 1 April 2024 to 31 March 2025.
	FBTYear string `json:"fbt_year"`
}

type BenefitItem struct {
	TransactionID      string      `json:"transaction_id"`
	Date               string      `json:"date"`
	Description        string      `json:"description"`
	Amount             float64     `json:"amount"`
	Category           Category    `json:"category"`
	LegislativeRef     string      `json:"legislative_reference"`
	MatchedKeywords    []string    `json:"matched_keywords"`
	Exempt             bool        `json:"exempt"`
	Exemption          Exemption   `json:"exemption,omitempty"`
	ExemptionReference string      `json:"exemption_reference,omitempty"`
	GrossUpType        GrossUpType `json:"gross_up_type"`
	GrossUpRate        float64     `json:"gross_up_rate"`
	GSTCreditAssumed   bool        `json:"gst_credit_assumed"`
	GSTCredit          float64     `json:"gst_credit"`
	TaxableValue       float64     `json:"taxable_value"`
	GrossedUpValue     float64     `json:"grossed_up_value"`
	Liability          float64     `json:"liability"`
}

type CategoryTotal struct {
	Category       Category `json:"category"`
	Count          int      `json:"count"`
	TaxableValue   float64  `json:"taxable_value"`
	GrossedUpValue float64  `json:"grossed_up_value"`
	Liability      float64  `json:"liability"`
}

type Summary struct {
	TenantID                   string          `json:"tenant_id"`
	FBTYear                    string          `json:"fbt_year"`
	FBTYearStart               string          `json:"fbt_year_start"`
	FBTYearEnd                 string          `json:"fbt_year_end"`
	Items                      []BenefitItem   `json:"items"`
	ByCategory                 []CategoryTotal `json:"by_category"`
	ExemptCount                int             `json:"exempt_count"`
	Type1TaxableValue          float64         `json:"type1_taxable_value"`
	Type2TaxableValue          float64         `json:"type2_taxable_value"`
	Type1Aggregate             float64         `json:"type1_aggregate"`
	Type2Aggregate             float64         `json:"type2_aggregate"`
	TotalGrossedUpValue        float64         `json:"total_grossed_up_value"`
	FBTRate                    float64         `json:"fbt_rate"`
	Type1GrossUpRate           float64         `json:"type1_gross_up_rate"`
	Type2GrossUpRate           float64         `json:"type2_gross_up_rate"`
	TotalLiability             float64         `json:"total_liability"`
	TotalGSTCredits            float64         `json:"total_gst_credits"`
	LodgementDeadline          string          `json:"lodgement_deadline"`
	ProfessionalReviewRequired bool            `json:"professional_review_required"`
	Warnings                   []string        `json:"warnings"`
	Recommendations            []string        `json:"recommendations"`
	LegislativeReferences      []string        `json:"legislative_references"`
	analysis.Provenance
}

type Service struct {
	store analysis.TransactionStore
	rates *rates.Resolver
	log   zerolog.Logger
}

func NewService(store analysis.TransactionStore, resolver *rates.Resolver, log zerolog.Logger) *Service {
	return &Service{store: store, rates: resolver, log: log.With().Str("engine", "fbt").Logger()}
}

// AnalyzeBenefits classifies the FBT-flagged transactions of one FBT year.
func (s *Service) AnalyzeBenefits(ctx context.Context, tenantID string, opts Options) (*Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, analysis.ErrInvalidTenant
	}
	year := opts.FBTYear
	if year == "" {
		year = fiscal.FBTYearForDate(fiscal.Now())
	}
	summary := &Summary{
		TenantID:              tenantID,
		FBTYear:               year,
		Items:                 []BenefitItem{},
		ByCategory:            []CategoryTotal{},
		Warnings:              []string{},
		Recommendations:       []string{},
		LegislativeReferences: []string{"Fringe Benefits Tax Assessment Act 1986", "FBTAA 1986 s 5B (gross-up rates)"},
	}
	from, to, ok := fiscal.FBTYearBounds(year)
	if !ok {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Invalid FBT year %q; expected a label like FY2024-25 (1 April 2024 to 31 March 2025).", year))
		summary.Provenance = analysis.Provenance{TaxRateSource: rates.SourceFallback}
		return summary, nil
	}
	summary.FBTYearStart = analysis.ISODate(from)
	summary.FBTYearEnd = analysis.ISODate(to)
	summary.LodgementDeadline = analysis.ISODate(time.Date(to.Year(), time.May, 21, 0, 0, 0, 0, time.UTC))

	txs, err := s.store.FetchTransactions(ctx, tenantID, analysis.TransactionFilter{StartDate: &from, EndDate: &to, Flag: analysis.FlagFBT})
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Str("fbt_year", year).Msg("FBT transaction fetch failed")
		return nil, fmt.Errorf("failed to fetch FBT transactions: %w", err)
	}

	fbtRate := s.rates.Resolve(ctx, rates.FBTRate, year)
	type1 := s.rates.Resolve(ctx, rates.FBTType1GrossUp, year)
	type2 := s.rates.Resolve(ctx, rates.FBTType2GrossUp, year)
	summary.Provenance = analysis.ProvenanceOf(fbtRate, type1, type2)
	summary.FBTRate = fbtRate.Value
	summary.Type1GrossUpRate = type1.Value
	summary.Type2GrossUpRate = type2.Value

	totals := map[Category]*CategoryTotal{}
	seenRefs := map[string]bool{}
	for _, tx := range txs {
		amount := money.Round2(math.Abs(tx.Amount))
		category, ref, hits := Classify(tx)
		item := BenefitItem{
			TransactionID:   tx.TransactionID,
			Date:            analysis.ISODate(tx.TransactionDate),
			Description:     tx.Description,
			Amount:          amount,
			Category:        category,
			LegislativeRef:  ref,
			MatchedKeywords: hits,
			GrossUpType:     grossUpType(category, tx),
		}
		if item.MatchedKeywords == nil {
			item.MatchedKeywords = []string{}
		}
		if !seenRefs[ref] {
			seenRefs[ref] = true
			summary.LegislativeReferences = append(summary.LegislativeReferences, ref)
		}

		switch {
		case amount < MinorBenefitThreshold:
			item.Exemption, item.ExemptionReference = ExemptionMinorBenefit, "FBTAA 1986 s 58P (minor benefits under $300)"
		case analysis.ContainsAny(analysis.Text(tx), workRelatedKeywords):
			item.Exemption, item.ExemptionReference = ExemptionWorkRelated, "FBTAA 1986 s 58X (work-related items)"
		case category == CategoryOtherwiseDeductible:
			item.Exemption, item.ExemptionReference = ExemptionOtherwiseDeductible, "FBTAA 1986 s 24 (otherwise deductible rule)"
		}
		item.Exempt = item.Exemption != ExemptionNone

		if item.GrossUpType == Type1 {
			item.GrossUpRate = type1.Value
			item.GSTCreditAssumed = tx.GSTCreditable == nil
			item.GSTCredit = money.Round2(amount / 11)
		} else {
			item.GrossUpRate = type2.Value
		}
		if item.Exempt {
			summary.ExemptCount++
		} else {
			item.TaxableValue = amount
			item.GrossedUpValue = money.Mul(amount, item.GrossUpRate)
			item.Liability = money.Mul(item.GrossedUpValue, fbtRate.Value)
			if item.GrossUpType == Type1 {
				summary.Type1TaxableValue = money.Sum(summary.Type1TaxableValue, item.TaxableValue)
				summary.Type1Aggregate = money.Sum(summary.Type1Aggregate, item.GrossedUpValue)
				summary.TotalGSTCredits = money.Sum(summary.TotalGSTCredits, item.GSTCredit)
			} else {
				summary.Type2TaxableValue = money.Sum(summary.Type2TaxableValue, item.TaxableValue)
				summary.Type2Aggregate = money.Sum(summary.Type2Aggregate, item.GrossedUpValue)
			}
		}

		ct, ok := totals[category]
		if !ok {
			ct = &CategoryTotal{Category: category}
			totals[category] = ct
		}
		ct.Count++
		ct.TaxableValue = money.Sum(ct.TaxableValue, item.TaxableValue)
		ct.GrossedUpValue = money.Sum(ct.GrossedUpValue, item.GrossedUpValue)
		ct.Liability = money.Sum(ct.Liability, item.Liability)
		summary.Items = append(summary.Items, item)
	}
	for _, c := range CategoryOrder {
		if ct, ok := totals[c]; ok {
			summary.ByCategory = append(summary.ByCategory, *ct)
		}
	}

	summary.TotalGrossedUpValue = money.Sum(summary.Type1Aggregate, summary.Type2Aggregate)
	summary.TotalLiability = money.Mul(summary.TotalGrossedUpValue, fbtRate.Value)
	summary.ProfessionalReviewRequired = summary.TotalLiability > ProfessionalReviewAmount

	for _, item := range summary.Items {
		if item.GSTCreditAssumed && !item.Exempt {
			summary.Warnings = append(summary.Warnings, "GST status unknown for some benefits; Type 1 gross-up (the higher rate) has been applied. Confirm GST credits to refine.")
			break
		}
	}
	summary.Recommendations = recommendations(summary)
	return summary, nil
}

func recommendations(s *Summary) []string {
	recs := []string{}
	if len(s.Items) == 0 {
		return append(recs, "No FBT-flagged transactions were found for the FBT year "+s.FBTYearStart+" to "+s.FBTYearEnd+".")
	}
	if s.TotalLiability > 0 {
		recs = append(recs, fmt.Sprintf("Lodge the FBT return and pay $%.2f by %s (self-lodgers).", s.TotalLiability, s.LodgementDeadline))
	}
	if s.ProfessionalReviewRequired {
		recs = append(recs, "Estimated FBT liability exceeds $10,000; have a tax agent review benefit valuations and available reductions.")
	}
	if s.ExemptCount > 0 {
		recs = append(recs, fmt.Sprintf("%d benefit(s) were treated as exempt; retain records supporting each exemption.", s.ExemptCount))
	}
	for _, c := range s.ByCategory {
		if c.Category == CategoryMealEntertainment && c.Liability > 0 {
			recs = append(recs, "Consider the 50/50 split or 12-week register method for meal entertainment (Division 9A).")
		}
		if c.Category == CategoryCar && c.Liability > 0 {
			recs = append(recs, "Compare the statutory formula and operating cost methods for car benefits, and check the electric vehicle exemption.")
		}
	}
	return recs
}
