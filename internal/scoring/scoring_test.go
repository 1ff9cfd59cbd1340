package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	rules := []Rule[int]{
		Fixed("positive", 30, "value is positive", func(v int) bool { return v > 0 }),
		Fixed("large", 50, "value is large", func(v int) bool { return v > 100 }),
		{Name: "scaled", MaxPoints: 40, Eval: func(v int) (int, string) { return v / 10, "scaled by value" }},
	}

	t.Run("no rules fire", func(t *testing.T) {
		res := Evaluate(rules, -5)
		assert.Equal(t, 0, res.Score)
		assert.Empty(t, res.Signals)
	})

	t.Run("points summed in order", func(t *testing.T) {
		res := Evaluate(rules, 50)
		assert.Equal(t, 35, res.Score)
		assert.Equal(t, []string{"value is positive", "scaled by value"}, res.Evidence())
		assert.True(t, res.Fired("scaled"))
		assert.False(t, res.Fired("large"))
	})

	t.Run("per-rule max and overall cap", func(t *testing.T) {
		res := Evaluate(rules, 1000)
		assert.Equal(t, 100, res.Score)
		assert.Equal(t, 40, res.Signals[2].Points)
	})
}
