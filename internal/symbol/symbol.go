// Package symbol models the ExchangeSymbol entity (SPEC_FULL §3): a
// tradable contract's static and slow-changing parameters (tick/lot grid,
// leverage brackets, ladder gap/multiplier configuration, pump-cooldown
// tunables).
package symbol

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/planner"
)

// Symbol is one tradable contract on one exchange.
type Symbol struct {
	ID                      int64
	Exchange                string
	Token                   string
	Quote                   string
	ParsedTradingPair       string
	TickSize                decimal.Decimal
	LotStep                 decimal.Decimal
	PricePrecision          int32
	QuantityPrecision       int32
	MinNotional             decimal.Decimal
	MinPrice                decimal.Decimal
	MaxPrice                decimal.Decimal
	LeverageBrackets        []planner.LeverageBracket
	LimitQuantityMultipliers []decimal.Decimal
	PercentageGapLong       decimal.Decimal
	PercentageGapShort      decimal.Decimal
	DisableOnPriceSpikePct  decimal.Decimal
	PriceSpikeCooldownHours int
	TotalLimitOrders        int
	TradeableAt             time.Time
	MarkPrice               decimal.Decimal
	MarkPriceSyncedAt       time.Time
	HasStalePrice           bool
	UpdatedAt               time.Time
}

// Wire returns the canonical exchange.Symbol used by adapter calls.
func (s *Symbol) Wire() exchange.Symbol {
	return exchange.Symbol{Base: s.Token, Quote: s.Quote}
}

// PlannerParams projects onto the subset of fields internal/planner needs,
// keeping planner free of an upward dependency on this package.
func (s *Symbol) PlannerParams() planner.SymbolParams {
	return planner.SymbolParams{
		TickSize:           s.TickSize,
		LotStep:            s.LotStep,
		PricePrecision:     s.PricePrecision,
		QuantityPrecision:  s.QuantityPrecision,
		MinPrice:           s.MinPrice,
		MaxPrice:           s.MaxPrice,
		MinNotional:        s.MinNotional,
		PercentageGapLong:  s.PercentageGapLong,
		PercentageGapShort: s.PercentageGapShort,
		LeverageBrackets:   s.LeverageBrackets,
	}
}

// IsTradeable reports whether the symbol's advisory pump-cooldown
// (tradeable_at) has elapsed. Advisory per SPEC_FULL §5: opening a position
// re-checks it atomically rather than relying on a cached read.
func (s *Symbol) IsTradeable(now time.Time) bool {
	return !now.Before(s.TradeableAt)
}

type bracketsJSON = []planner.LeverageBracket

func marshalBrackets(b []planner.LeverageBracket) (string, error) {
	raw, err := json.Marshal(b)
	return string(raw), err
}

func unmarshalBrackets(raw string) ([]planner.LeverageBracket, error) {
	var b bracketsJSON
	if raw == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, err
	}
	return b, nil
}

func marshalMultipliers(m []decimal.Decimal) (string, error) {
	strs := make([]string, len(m))
	for i, d := range m {
		strs[i] = d.String()
	}
	raw, err := json.Marshal(strs)
	return string(raw), err
}

func unmarshalMultipliers(raw string) ([]decimal.Decimal, error) {
	var strs []string
	if raw == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &strs); err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, len(strs))
	for i, s := range strs {
		out[i] = decimal.RequireFromString(s)
	}
	return out, nil
}
