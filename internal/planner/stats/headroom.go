// Package stats provides diagnostic numeric helpers over leverage-bracket
// search results. Nothing here sits on the decision path: the planner
// selects leverage with exact decimal arithmetic, and these statistics are
// surfaced only for operator-facing logging of how tight a feasibility
// search was.
package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// UtilizationSpread returns the mean and standard deviation of a set of
// per-bracket feasible-leverage ceilings. An empty input returns (0, 0).
func UtilizationSpread(ceilings []float64) (mean, stdDev float64) {
	if len(ceilings) == 0 {
		return 0, 0
	}
	mean = stat.Mean(ceilings, nil)
	if len(ceilings) == 1 {
		return mean, 0
	}
	variance := stat.Variance(ceilings, nil)
	return mean, math.Sqrt(variance)
}

// Sum exposes gonum's pairwise-summation Sum for callers that need the
// total capital ceiling across every bracket (used by PlanUnboundedPosition
// for LeveragePlan.BracketCeilingTotal).
func Sum(values []float64) float64 {
	return floats.Sum(values)
}
