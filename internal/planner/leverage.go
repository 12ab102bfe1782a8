package planner

import (
	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/decimalmath"
	"github.com/martingalian/ladder-engine/internal/planner/stats"
)

// DefaultHeadroomPercent is the safety margin added on top of the
// unit-leverage worst-case sum before searching leverage brackets for
// feasibility, matching the teacher's conservative-by-default numeric style.
var DefaultHeadroomPercent = decimalmath.MustParse("0.3") // percent, i.e. 0.3%

// LeveragePlan is the result of PlanUnboundedPosition.
type LeveragePlan struct {
	Leverage   int
	Bracket    LeverageBracket
	K          decimal.Decimal // unit-leverage worst-case sum, with headroom applied
	Feasible   bool
	Reason     string // "" when feasible, "no_feasible" otherwise

	// BracketCeilingMean/Spread/Total are diagnostic statistics over the
	// per-bracket feasible-leverage ceilings the search considered, not
	// inputs to the decision itself; DetermineLeverageJob logs them so an
	// operator can see how tight or slack the feasibility search was.
	BracketCeilingMean   float64
	BracketCeilingSpread float64
	BracketCeilingTotal  float64
}

// PlanUnboundedPosition searches the ordered leverage bracket table for the
// highest feasible leverage such that the worst-case capital commitment
// (market leg + every rung, computed at leverage=1) fits within the
// bracket's notional range, honoring requestedCap.
func PlanUnboundedPosition(margin decimal.Decimal, direction Direction, referencePrice decimal.Decimal, symbol SymbolParams, multipliers []decimal.Decimal, rungs int, requestedCap int, headroomPercent decimal.Decimal) (*LeveragePlan, error) {
	if margin.Sign() <= 0 {
		return nil, &InvalidInput{Field: "margin", Reason: "must be positive"}
	}
	if requestedCap < 1 {
		return nil, &InvalidInput{Field: "requestedCap", Reason: "must be at least 1"}
	}

	// Worst-case sum at leverage=1: TotalNotional equals margin itself, so
	// the ladder is built once against margin to derive unit-leverage rung
	// notionals, then summed.
	ladder, err := CalculateLimitOrdersData(LadderInput{
		Rungs:          rungs,
		Direction:      direction,
		ReferencePrice: referencePrice,
		TotalNotional:  margin,
		Multipliers:    multipliers,
		Symbol:         symbol,
	})
	if err != nil {
		return nil, err
	}

	k := ladder.Market.Notional
	for _, r := range ladder.Rungs {
		k = k.Add(r.Notional)
	}
	headroomFactor := decimal.NewFromInt(1).Add(headroomPercent.Div(decimal.NewFromInt(100)))
	k = k.Mul(headroomFactor)

	var ratios []float64
	best := &LeveragePlan{Leverage: 1, Reason: "no_feasible", K: k}
	for _, bracket := range symbol.LeverageBrackets {
		lMin := ceilDiv(bracket.NotionalFloor, k)
		lMax := floorDiv(bracket.NotionalCap, k)
		if lMax > bracket.InitialLeverage {
			lMax = bracket.InitialLeverage
		}
		if lMax > requestedCap {
			lMax = requestedCap
		}
		if lMin < 1 {
			lMin = 1
		}
		ratios = append(ratios, float64(lMax))
		if lMax >= lMin && lMax > best.Leverage {
			best = &LeveragePlan{Leverage: lMax, Bracket: bracket, K: k, Feasible: true}
		}
	}

	if !best.Feasible {
		best.Leverage = 1
	}

	best.BracketCeilingMean, best.BracketCeilingSpread = stats.UtilizationSpread(ratios)
	best.BracketCeilingTotal = stats.Sum(ratios)

	return best, nil
}

// ceilDiv returns ceil(a/b) as an int, for positive a and b.
func ceilDiv(a, b decimal.Decimal) int {
	if b.Sign() <= 0 {
		return 0
	}
	q := a.DivRound(b, 18)
	ceiled := q.Ceil()
	return int(ceiled.IntPart())
}

// floorDiv returns floor(a/b) as an int, for positive a and b.
func floorDiv(a, b decimal.Decimal) int {
	if b.Sign() <= 0 {
		return 0
	}
	q := a.DivRound(b, 18)
	floored := q.Floor()
	return int(floored.IntPart())
}
