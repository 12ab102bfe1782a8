// Package planner is the numeric core of the martingale ladder strategy: it
// turns an account's balance, direction, and an exchange symbol's tick/lot
// grid into a feasible leverage, a market leg, and an unbounded limit ladder
// with price clamping and zero-quantity rung elimination.
package planner

import "github.com/shopspring/decimal"

// Direction is the position side the ladder is being built for.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// LeverageBracket mirrors one entry of an exchange's ordered leverage
// bracket table, as surfaced by the adapter's leverageBrackets operation.
type LeverageBracket struct {
	Bracket         int
	InitialLeverage int
	NotionalFloor   decimal.Decimal
	NotionalCap     decimal.Decimal
	MaintMarginRate decimal.Decimal
}

// SymbolParams carries the subset of ExchangeSymbol fields the planner
// needs. Callers (internal/symbol, internal/workflows) build this from their
// own entity type; the planner never imports internal/symbol, avoiding an
// import cycle.
type SymbolParams struct {
	TickSize          decimal.Decimal
	LotStep           decimal.Decimal
	PricePrecision    int32
	QuantityPrecision int32
	MinPrice          decimal.Decimal
	MaxPrice          decimal.Decimal
	MinNotional       decimal.Decimal
	PercentageGapLong  decimal.Decimal // e.g. "2" for 2%
	PercentageGapShort decimal.Decimal
	LeverageBrackets  []LeverageBracket
}

// LadderInput is the input to CalculateLimitOrdersData.
type LadderInput struct {
	Rungs           int
	Direction       Direction
	ReferencePrice  decimal.Decimal
	TotalNotional   decimal.Decimal // margin × leverage, split between the market leg and the ladder
	Multipliers     []decimal.Decimal
	GapOverride     *decimal.Decimal // overrides SymbolParams.PercentageGap{Long,Short} when set
	Symbol          SymbolParams
}

// MarketLeg is the MARKET entry computed alongside the ladder.
type MarketLeg struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Notional decimal.Decimal
}

// Rung is one LIMIT order in the ladder.
type Rung struct {
	Index    int
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Notional decimal.Decimal
}

// LadderResult is the full output of CalculateLimitOrdersData.
type LadderResult struct {
	Market   MarketLeg
	Rungs    []Rung
	Warnings []string
}

// Warning string constants, stable across calls for test assertions.
const (
	WarnPriceClamped     = "price_clamped"
	WarnRungDroppedZeroQty = "rung_dropped_zero_qty"
)
