package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound2(t *testing.T) {
	assert.Equal(t, 5262.0, Round2(60000*0.0877))
	assert.Equal(t, 1.01, Round2(1.005))
	assert.Equal(t, -1.01, Round2(-1.005))
	assert.Equal(t, 0.0, Round2(0))
}

func TestMul(t *testing.T) {
	assert.Equal(t, 2080.2, Mul(1000, 2.0802))
	assert.Equal(t, 943.4, Mul(500, 1.8868))
	assert.Equal(t, 4350000.0, Mul(10_000_000, 0.435))
}

func TestSum(t *testing.T) {
	assert.Equal(t, 0.3, Sum(0.1, 0.2))
	assert.Equal(t, 0.0, Sum())
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 0.435, RoundTo(0.25+0.185, 4))
}
