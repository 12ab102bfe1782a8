package decimalmath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_InvalidInput(t *testing.T) {
	_, err := Parse("not-a-number")
	require.Error(t, err)

	var invalid *InvalidDecimal
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "not-a-number", invalid.Input)
}

func TestParse_ValidInput(t *testing.T) {
	d, err := Parse("123.456")
	require.NoError(t, err)
	assert.Equal(t, "123.456", d.String())
}

func TestArithmeticHelpers(t *testing.T) {
	a := MustParse("10.5")
	b := MustParse("3")

	assert.Equal(t, "13.5", Add(a, b).String())
	assert.Equal(t, "7.5", Sub(a, b).String())
	assert.Equal(t, "31.5", Mul(a, b).String())

	div, err := Div(a, b, 4)
	require.NoError(t, err)
	assert.Equal(t, "3.5000", div.StringFixed(4))

	_, err = Div(a, Zero, 4)
	require.Error(t, err)
}

func TestComparisons(t *testing.T) {
	a := MustParse("5")
	b := MustParse("7")

	assert.True(t, Lt(a, b))
	assert.True(t, Lte(a, a))
	assert.True(t, Gt(b, a))
	assert.True(t, Gte(b, b))
	assert.True(t, Eq(a, MustParse("5")))
	assert.Equal(t, "5", Abs(MustParse("-5")).String())
}
