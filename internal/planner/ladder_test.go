package planner

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martingalian/ladder-engine/internal/decimalmath"
)

func freshSymbol() SymbolParams {
	return SymbolParams{
		TickSize:           decimalmath.MustParse("0.01"),
		LotStep:            decimalmath.MustParse("0.001"),
		PricePrecision:     2,
		QuantityPrecision:  3,
		MinPrice:           decimal.Zero,
		MaxPrice:           decimal.Zero,
		PercentageGapLong:  decimalmath.MustParse("2"),
		PercentageGapShort: decimalmath.MustParse("2"),
	}
}

func defaultMultipliers() []decimal.Decimal {
	two := decimalmath.MustParse("2")
	return []decimal.Decimal{two, two, two, two}
}

// TestCalculateLimitOrdersData_Scenario1 matches "Open LONG on fresh symbol"
// from the test suite: balance=1000, max_position_percentage=5, leverage=10.
func TestCalculateLimitOrdersData_Scenario1(t *testing.T) {
	result, err := CalculateLimitOrdersData(LadderInput{
		Rungs:          4,
		Direction:      Long,
		ReferencePrice: decimalmath.MustParse("100"),
		TotalNotional:  decimalmath.MustParse("500"), // margin 50 × leverage 10
		Multipliers:    defaultMultipliers(),
		Symbol:         freshSymbol(),
	})
	require.NoError(t, err)

	assert.Equal(t, "0.156", result.Market.Quantity.StringFixed(3))
	require.Len(t, result.Rungs, 4)

	assert.Equal(t, "98.00", result.Rungs[0].Price.StringFixed(2))
	assert.Equal(t, "0.312", result.Rungs[0].Quantity.StringFixed(3))

	assert.Equal(t, "96.00", result.Rungs[1].Price.StringFixed(2))
	assert.Equal(t, "0.624", result.Rungs[1].Quantity.StringFixed(3))

	assert.Equal(t, "94.00", result.Rungs[2].Price.StringFixed(2))
	assert.Equal(t, "1.248", result.Rungs[2].Quantity.StringFixed(3))

	assert.Equal(t, "92.00", result.Rungs[3].Price.StringFixed(2))
	assert.Equal(t, "2.496", result.Rungs[3].Quantity.StringFixed(3))

	assert.Empty(t, result.Warnings)
}

func TestCalculateLimitOrdersData_ShortDirectionRaisesPrices(t *testing.T) {
	result, err := CalculateLimitOrdersData(LadderInput{
		Rungs:          2,
		Direction:      Short,
		ReferencePrice: decimalmath.MustParse("100"),
		TotalNotional:  decimalmath.MustParse("100"),
		Multipliers:    []decimal.Decimal{decimalmath.MustParse("2")},
		Symbol:         freshSymbol(),
	})
	require.NoError(t, err)
	require.Len(t, result.Rungs, 2)
	assert.True(t, result.Rungs[0].Price.GreaterThan(decimalmath.MustParse("100")))
	assert.True(t, result.Rungs[1].Price.GreaterThan(result.Rungs[0].Price))
}

func TestCalculateLimitOrdersData_ClampsToBounds(t *testing.T) {
	symbol := freshSymbol()
	symbol.MinPrice = decimalmath.MustParse("95")

	result, err := CalculateLimitOrdersData(LadderInput{
		Rungs:          4,
		Direction:      Long,
		ReferencePrice: decimalmath.MustParse("100"),
		TotalNotional:  decimalmath.MustParse("500"),
		Multipliers:    defaultMultipliers(),
		Symbol:         symbol,
	})
	require.NoError(t, err)

	assert.Contains(t, result.Warnings, WarnPriceClamped)
	for _, r := range result.Rungs {
		assert.True(t, r.Price.GreaterThanOrEqual(symbol.MinPrice))
	}
}

func TestCalculateLimitOrdersData_DropsZeroQuantityRungs(t *testing.T) {
	symbol := freshSymbol()
	symbol.LotStep = decimalmath.MustParse("100") // forces every raw quantity below one lot to round to zero

	result, err := CalculateLimitOrdersData(LadderInput{
		Rungs:          2,
		Direction:      Long,
		ReferencePrice: decimalmath.MustParse("100"),
		TotalNotional:  decimalmath.MustParse("10"),
		Multipliers:    []decimal.Decimal{decimalmath.MustParse("2")},
		Symbol:         symbol,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Rungs)
	assert.Contains(t, result.Warnings, WarnRungDroppedZeroQty)
}

func TestCalculateLimitOrdersData_RejectsNonPositiveMultiplier(t *testing.T) {
	_, err := CalculateLimitOrdersData(LadderInput{
		Rungs:          1,
		Direction:      Long,
		ReferencePrice: decimalmath.MustParse("100"),
		TotalNotional:  decimalmath.MustParse("100"),
		Multipliers:    []decimal.Decimal{decimalmath.MustParse("0")},
		Symbol:         freshSymbol(),
	})
	require.Error(t, err)
	var invalid *InvalidInput
	require.ErrorAs(t, err, &invalid)
}

func TestCalculateLimitOrdersData_Deterministic(t *testing.T) {
	build := func() (*LadderResult, error) {
		return CalculateLimitOrdersData(LadderInput{
			Rungs:          4,
			Direction:      Long,
			ReferencePrice: decimalmath.MustParse("100"),
			TotalNotional:  decimalmath.MustParse("500"),
			Multipliers:    defaultMultipliers(),
			Symbol:         freshSymbol(),
		})
	}

	a, err := build()
	require.NoError(t, err)
	b, err := build()
	require.NoError(t, err)

	require.Len(t, a.Rungs, len(b.Rungs))
	for i := range a.Rungs {
		assert.True(t, a.Rungs[i].Price.Equal(b.Rungs[i].Price))
		assert.True(t, a.Rungs[i].Quantity.Equal(b.Rungs[i].Quantity))
	}
}
