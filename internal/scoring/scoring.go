// Package scoring evaluates ordered lists of independent confidence rules.
//
// Each rule inspects the subject and awards points with a line of evidence.
// Points are summed and capped at 100, and every rule that fired is kept as a
// signal so callers can show exactly why a score came out the way it did.
package scoring

// MaxScore caps every confidence score.
const MaxScore = 100

// Rule awards up to MaxPoints for a subject of type T. Eval returns the points
// awarded (0 when the rule did not fire) and the evidence text.
type Rule[T any] struct {
	Name      string
	MaxPoints int
	Eval      func(T) (int, string)
}

// Signal is one rule that fired.
type Signal struct {
	Rule     string `json:"rule"`
	Points   int    `json:"points"`
	Evidence string `json:"evidence"`
}

// Result is the capped score with the signals behind it.
type Result struct {
	Score   int      `json:"score"`
	Signals []Signal `json:"signals"`
}

// Evidence returns the evidence lines in rule order.
func (r Result) Evidence() []string {
	out := make([]string, 0, len(r.Signals))
	for _, s := range r.Signals {
		out = append(out, s.Evidence)
	}
	return out
}

// Fired reports whether the named rule contributed.
func (r Result) Fired(name string) bool {
	for _, s := range r.Signals {
		if s.Rule == name {
			return true
		}
	}
	return false
}

// Evaluate runs every rule against subject in order.
func Evaluate[T any](rules []Rule[T], subject T) Result {
	res := Result{Signals: []Signal{}}
	total := 0
	for _, rule := range rules {
		points, evidence := rule.Eval(subject)
		if points <= 0 {
			continue
		}
		if rule.MaxPoints > 0 && points > rule.MaxPoints {
			points = rule.MaxPoints
		}
		total += points
		res.Signals = append(res.Signals, Signal{Rule: rule.Name, Points: points, Evidence: evidence})
	}
	if total > MaxScore {
		total = MaxScore
	}
	res.Score = total
	return res
}

// Fixed builds a rule that awards weight whenever pred holds.
func Fixed[T any](name string, weight int, evidence string, pred func(T) bool) Rule[T] {
	return Rule[T]{
		Name:      name,
		MaxPoints: weight,
		Eval: func(s T) (int, string) {
			if pred(s) {
				return weight, evidence
			}
			return 0, ""
		},
	}
}
