package rnd

import (
	"math"
	"sort"
	"strings"

	"ato-tax-optimizer-backend/internal/analysis"
	"ato-tax-optimizer-backend/internal/models"
	"ato-tax-optimizer-backend/internal/scoring"
)

// Element is one limb of the s 355-25 core R&D test.
type Element string

const (
	OutcomeUnknown     Element = "outcome_unknown"
	SystematicApproach Element = "systematic_approach"
	NewKnowledge       Element = "new_knowledge"
	ScientificMethod   Element = "scientific_method"
)

// Elements lists the four elements in reporting order.
var Elements = []Element{OutcomeUnknown, SystematicApproach, NewKnowledge, ScientificMethod}

// ElementResult is the assessment of one element.
type ElementResult struct {
	Met        bool     `json:"met"`
	Confidence int      `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// FourElementTest holds all four results. Every element must be met.
type FourElementTest struct {
	OutcomeUnknown     ElementResult `json:"outcome_unknown"`
	SystematicApproach ElementResult `json:"systematic_approach"`
	NewKnowledge       ElementResult `json:"new_knowledge"`
	ScientificMethod   ElementResult `json:"scientific_method"`
}

func (f *FourElementTest) get(e Element) *ElementResult {
	switch e {
	case OutcomeUnknown:
		return &f.OutcomeUnknown
	case SystematicApproach:
		return &f.SystematicApproach
	case NewKnowledge:
		return &f.NewKnowledge
	default:
		return &f.ScientificMethod
	}
}

// Result returns the outcome for one element.
func (f FourElementTest) Result(e Element) ElementResult {
	return *f.get(e)
}

// AllMet reports whether every element passed.
func (f FourElementTest) AllMet() bool {
	return len(f.Failed()) == 0
}

// Failed names the elements that did not pass.
func (f FourElementTest) Failed() []string {
	var failed []string
	for _, e := range Elements {
		if !f.get(e).Met {
			failed = append(failed, string(e))
		}
	}
	return failed
}

// Confidence is the mean of the element confidences.
func (f FourElementTest) Confidence() int {
	total := 0
	for _, e := range Elements {
		total += f.get(e).Confidence
	}
	return int(math.Round(float64(total) / float64(len(Elements))))
}

// Policy holds the element scoring weights and the offset thresholds.
type Policy struct {
	FlagWeight          int
	KeywordWeightPerHit int
	KeywordWeightMax    int
	AccountHintWeight   int
	ElementThreshold    int

	ElementKeywords map[Element][]string
	AccountHints    []string

	TurnoverThreshold         float64
	RefundableCap             float64
	ClawbackThreshold         float64
	MinimumExpenditure        float64
	LowConfidenceThreshold    int
	RegistrationMonthsAfterFY int
}

var DefaultPolicy = Policy{
	FlagWeight:          30,
	KeywordWeightPerHit: 25,
	KeywordWeightMax:    50,
	AccountHintWeight:   15,
	ElementThreshold:    50,

	ElementKeywords: map[Element][]string{
		OutcomeUnknown:     {"experiment", "prototype", "trial", "uncertain", "feasibility", "proof of concept", "unknown"},
		SystematicApproach: {"testing", "test plan", "iteration", "design", "methodology", "development", "evaluation"},
		NewKnowledge:       {"research", "novel", "innovation", "new technology", "algorithm", "invent", "patent"},
		ScientificMethod:   {"hypothesis", "experiment", "laboratory", "lab ", "measurement", "analysis", "scientific"},
	},
	AccountHints: []string{"research", "r&d", "development"},

	TurnoverThreshold:         20_000_000,
	RefundableCap:             4_000_000,
	ClawbackThreshold:         20_000,
	MinimumExpenditure:        20_000,
	LowConfidenceThreshold:    60,
	RegistrationMonthsAfterFY: 10,
}

func (p Policy) elementRules(e Element) []scoring.Rule[models.Transaction] {
	keywords := p.ElementKeywords[e]
	return []scoring.Rule[models.Transaction]{
		scoring.Fixed("rnd_flag", p.FlagWeight, "Flagged as an R&D candidate",
			func(tx models.Transaction) bool { return tx.IsRndCandidate }),
		{
			Name:      "keywords",
			MaxPoints: p.KeywordWeightMax,
			Eval: func(tx models.Transaction) (int, string) {
				hits := analysis.MatchKeywords(analysis.Text(tx)+" ", keywords)
				if len(hits) == 0 {
					return 0, ""
				}
				for i := range hits {
					hits[i] = strings.TrimSpace(hits[i])
				}
				return len(hits) * p.KeywordWeightPerHit, "Description mentions: " + strings.Join(hits, ", ")
			},
		},
		scoring.Fixed("account_hint", p.AccountHintWeight, "Posted to a research and development account",
			func(tx models.Transaction) bool {
				return analysis.ContainsAny(strings.ToLower(tx.AccountName), p.AccountHints)
			}),
	}
}

// AssessTransaction runs the four-element test on one transaction.
func (p Policy) AssessTransaction(tx models.Transaction) FourElementTest {
	var f FourElementTest
	for _, e := range Elements {
		res := scoring.Evaluate(p.elementRules(e), tx)
		r := f.get(e)
		r.Confidence = res.Score
		r.Met = res.Score >= p.ElementThreshold
		r.Evidence = res.Evidence()
	}
	return f
}

// combine weights each transaction's element confidence by its expenditure.
func (p Policy) combine(assessed []FourElementTest, weights []float64) FourElementTest {
	var f FourElementTest
	var total float64
	for _, w := range weights {
		total += w
	}
	for _, e := range Elements {
		var weighted float64
		seen := map[string]bool{}
		evidence := []string{}
		for i, a := range assessed {
			r := a.get(e)
			w := weights[i]
			if total == 0 {
				w = 1
			}
			weighted += float64(r.Confidence) * w
			for _, ev := range r.Evidence {
				if !seen[ev] {
					seen[ev] = true
					evidence = append(evidence, ev)
				}
			}
		}
		denom := total
		if total == 0 {
			denom = float64(len(assessed))
		}
		r := f.get(e)
		if denom > 0 {
			r.Confidence = int(math.Round(weighted / denom))
		}
		r.Met = r.Confidence >= p.ElementThreshold
		sort.Strings(evidence)
		r.Evidence = evidence
	}
	return f
}
