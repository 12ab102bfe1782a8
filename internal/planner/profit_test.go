package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martingalian/ladder-engine/internal/decimalmath"
)

// TestStopLossPrice_Scenario1 matches "SL computed from L4 anchor:
// 92×(1−0.08)=84.64".
func TestStopLossPrice_Scenario1(t *testing.T) {
	sl, err := StopLossPrice(Long, decimalmath.MustParse("92"), decimalmath.MustParse("8"))
	require.NoError(t, err)
	assert.Equal(t, "84.64", sl.StringFixed(2))
}

func TestStopLossPrice_Short(t *testing.T) {
	sl, err := StopLossPrice(Short, decimalmath.MustParse("92"), decimalmath.MustParse("8"))
	require.NoError(t, err)
	assert.Equal(t, "99.36", sl.StringFixed(2))
}

func TestProfitPrice_ReAnchorsToMarkWhenWrongSide(t *testing.T) {
	wap := decimalmath.MustParse("100")
	mark := decimalmath.MustParse("105") // already past the naive TP for a LONG

	tp, err := ProfitPrice(Long, wap, decimalmath.MustParse("0.36"), &mark, decimalmath.Zero, decimalmath.Zero)
	require.NoError(t, err)
	assert.True(t, tp.GreaterThan(mark))
}

func TestProfitPrice_ClampsToSymbolBounds(t *testing.T) {
	wap := decimalmath.MustParse("100")
	maxPrice := decimalmath.MustParse("100.1")

	tp, err := ProfitPrice(Long, wap, decimalmath.MustParse("5"), nil, decimalmath.Zero, maxPrice)
	require.NoError(t, err)
	assert.True(t, tp.Equal(maxPrice))
}

func TestProfitPrice_RejectsNonPositiveWAP(t *testing.T) {
	_, err := ProfitPrice(Long, decimalmath.Zero, decimalmath.MustParse("1"), nil, decimalmath.Zero, decimalmath.Zero)
	require.Error(t, err)
}
