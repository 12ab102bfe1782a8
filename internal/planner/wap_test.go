package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martingalian/ladder-engine/internal/decimalmath"
)

// TestWAP_Scenario2 matches "Limit fill triggers WAP": MARKET fills 0.156 @
// 100, L1 fills 0.312 @ 98; wap ≈ 98.667.
func TestWAP_Scenario2(t *testing.T) {
	wap, err := WAP([]Fill{
		{Price: decimalmath.MustParse("100"), Quantity: decimalmath.MustParse("0.156")},
		{Price: decimalmath.MustParse("98"), Quantity: decimalmath.MustParse("0.312")},
	})
	require.NoError(t, err)
	assert.Equal(t, "98.6667", wap.StringFixed(4))

	tp, err := ProfitPrice(Long, wap, decimalmath.MustParse("0.36"), nil, decimalmath.Zero, decimalmath.Zero)
	require.NoError(t, err)
	assert.Equal(t, "99.0219", tp.StringFixed(4))
}

func TestWAP_RejectsEmptyFills(t *testing.T) {
	_, err := WAP(nil)
	require.Error(t, err)
}

func TestWAP_RejectsNonPositiveFill(t *testing.T) {
	_, err := WAP([]Fill{{Price: decimalmath.MustParse("-1"), Quantity: decimalmath.MustParse("1")}})
	require.Error(t, err)
}

func TestPnL_LongAndShort(t *testing.T) {
	wap := decimalmath.MustParse("100")
	mark := decimalmath.MustParse("110")
	qty := decimalmath.MustParse("2")

	assert.Equal(t, "20", PnL(Long, wap, mark, qty).String())
	assert.Equal(t, "-20", PnL(Short, wap, mark, qty).String())
}
