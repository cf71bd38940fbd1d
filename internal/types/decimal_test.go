package types

import "testing"

import "github.com/stretchr/testify/assert"

func TestDecimalArithmetic(t *testing.T) {
	a, err := ParseAmount("1.5")
	assert.NoError(t, err)
	b, err := ParseAmount("0.5")
	assert.NoError(t, err)

	assert.Equal(t, "2.000000000000000000", a.Add(b).String())
	assert.Equal(t, "1.000000000000000000", a.Sub(b).String())
	assert.True(t, a.GreaterThan(b))
	assert.True(t, b.LessThan(a))
}

func TestDecimalMinMax(t *testing.T) {
	a, _ := ParseAmount("2")
	b, _ := ParseAmount("3")
	assert.True(t, Min(a, b).Equal(a))
	assert.True(t, Max(a, b).Equal(b))
}

func TestDecimalDivRound(t *testing.T) {
	a, _ := ParseAmount("10")
	b, _ := ParseAmount("3")
	got := a.DivRound(b, 2, RoundHalfUp)
	assert.Equal(t, "3.33", got.String())

	gotUp := a.DivRound(b, 2, RoundUp)
	assert.Equal(t, "3.34", gotUp.String())

	gotDown := a.DivRound(b, 2, RoundDown)
	assert.Equal(t, "3.33", gotDown.String())
}

func TestParseAmountRejectsGarbage(t *testing.T) {
	_, err := ParseAmount("not-a-number")
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestParsePairRoundTrip(t *testing.T) {
	p, err := ParsePair("eth/usdc")
	assert.NoError(t, err)
	assert.Equal(t, "ETH/USDC", p.String())

	_, err = ParsePair("bad")
	assert.ErrorIs(t, err, ErrInvalidPair)
}
