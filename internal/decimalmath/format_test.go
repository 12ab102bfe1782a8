package decimalmath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPrice_RoundsHalfAwayFromZero(t *testing.T) {
	tickSize := MustParse("0.01")

	price, err := FormatPrice(MustParse("98"), tickSize, 2)
	require.NoError(t, err)
	assert.Equal(t, "98.00", price.StringFixed(2))

	// 100.005 is exactly halfway between two ticks at 0.01: rounds away from zero to 100.01.
	price, err = FormatPrice(MustParse("100.005"), tickSize, 2)
	require.NoError(t, err)
	assert.Equal(t, "100.01", price.StringFixed(2))
}

func TestFormatPrice_RejectsNonPositiveTick(t *testing.T) {
	_, err := FormatPrice(MustParse("100"), MustParse("0"), 2)
	require.Error(t, err)
}

func TestFormatQuantity_TruncatesTowardZero(t *testing.T) {
	lotStep := MustParse("0.001")

	qty, err := FormatQuantity(MustParse("0.15625"), lotStep, 3)
	require.NoError(t, err)
	assert.Equal(t, "0.156", qty.StringFixed(3))
}

func TestFormatQuantity_NeverOverSizes(t *testing.T) {
	lotStep := MustParse("0.01")

	// 0.0299999 truncates down to 0.02, never up to 0.03.
	qty, err := FormatQuantity(MustParse("0.0299999"), lotStep, 2)
	require.NoError(t, err)
	assert.Equal(t, "0.02", qty.StringFixed(2))
}
