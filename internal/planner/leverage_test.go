package planner

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martingalian/ladder-engine/internal/decimalmath"
)

func bracketedSymbol() SymbolParams {
	s := freshSymbol()
	s.LeverageBrackets = []LeverageBracket{
		{Bracket: 1, InitialLeverage: 20, NotionalFloor: decimalmath.MustParse("0"), NotionalCap: decimalmath.MustParse("50000")},
		{Bracket: 2, InitialLeverage: 10, NotionalFloor: decimalmath.MustParse("50000"), NotionalCap: decimalmath.MustParse("250000")},
	}
	return s
}

func TestPlanUnboundedPosition_SelectsHighestFeasibleBracket(t *testing.T) {
	plan, err := PlanUnboundedPosition(
		decimalmath.MustParse("50"),
		Long,
		decimalmath.MustParse("100"),
		bracketedSymbol(),
		defaultMultipliers(),
		4,
		10,
		DefaultHeadroomPercent,
	)
	require.NoError(t, err)
	assert.True(t, plan.Feasible)
	assert.GreaterOrEqual(t, plan.Leverage, 1)
	assert.LessOrEqual(t, plan.Leverage, 10)
}

func TestPlanUnboundedPosition_FallsBackWhenNoBracketFits(t *testing.T) {
	s := freshSymbol()
	s.LeverageBrackets = []LeverageBracket{
		{Bracket: 1, InitialLeverage: 20, NotionalFloor: decimalmath.MustParse("1000000"), NotionalCap: decimalmath.MustParse("2000000")},
	}

	plan, err := PlanUnboundedPosition(
		decimalmath.MustParse("50"),
		Long,
		decimalmath.MustParse("100"),
		s,
		defaultMultipliers(),
		4,
		10,
		DefaultHeadroomPercent,
	)
	require.NoError(t, err)
	assert.False(t, plan.Feasible)
	assert.Equal(t, 1, plan.Leverage)
	assert.Equal(t, "no_feasible", plan.Reason)
}

func TestPlanUnboundedPosition_RejectsNonPositiveMargin(t *testing.T) {
	_, err := PlanUnboundedPosition(decimal.Zero, Long, decimalmath.MustParse("100"), bracketedSymbol(), defaultMultipliers(), 4, 10, DefaultHeadroomPercent)
	require.Error(t, err)
}
