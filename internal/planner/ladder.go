package planner

import (
	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/decimalmath"
)

// multiplierAt returns the i-th multiplier (1-indexed), repeating the last
// entry when i exceeds len(multipliers). The caller has already verified
// every entry is strictly positive.
func multiplierAt(multipliers []decimal.Decimal, i int) decimal.Decimal {
	if i <= len(multipliers) {
		return multipliers[i-1]
	}
	return multipliers[len(multipliers)-1]
}

func gapFor(in LadderInput) decimal.Decimal {
	if in.GapOverride != nil {
		return *in.GapOverride
	}
	if in.Direction == Long {
		return in.Symbol.PercentageGapLong
	}
	return in.Symbol.PercentageGapShort
}

func clamp(price, min, max decimal.Decimal) (decimal.Decimal, bool) {
	if !min.IsZero() && price.LessThan(min) {
		return min, true
	}
	if !max.IsZero() && price.GreaterThan(max) {
		return max, true
	}
	return price, false
}

// CalculateLimitOrdersData builds the MARKET leg and the N-rung LIMIT ladder
// for a position. See package doc and SPEC_FULL §4.2 for the algorithm.
func CalculateLimitOrdersData(in LadderInput) (*LadderResult, error) {
	if in.Rungs < 1 {
		return nil, &InvalidInput{Field: "Rungs", Reason: "must be at least 1"}
	}
	if in.ReferencePrice.Sign() <= 0 {
		return nil, &InvalidInput{Field: "ReferencePrice", Reason: "must be positive"}
	}
	if in.TotalNotional.Sign() <= 0 {
		return nil, &InvalidInput{Field: "TotalNotional", Reason: "must be positive"}
	}
	if len(in.Multipliers) == 0 {
		return nil, &InvalidInput{Field: "Multipliers", Reason: "must supply at least one multiplier"}
	}
	for i, m := range in.Multipliers {
		if m.Sign() <= 0 {
			return nil, &InvalidInput{Field: "Multipliers", Reason: "all multipliers must be strictly positive"}
		}
		_ = i
	}

	gap := gapFor(in).Div(decimal.NewFromInt(100))

	// weight_N is the cumulative product of multipliers across every rung;
	// the market leg's notional is TotalNotional divided by twice weight_N.
	weight := decimal.NewFromInt(1)
	for i := 1; i <= in.Rungs; i++ {
		weight = weight.Mul(multiplierAt(in.Multipliers, i))
	}
	divider := weight.Mul(decimal.NewFromInt(2))

	result := &LadderResult{}

	marketNotional := in.TotalNotional.DivRound(divider, 18)
	marketQtyRaw := marketNotional.DivRound(in.ReferencePrice, 18)
	marketQty, err := decimalmath.FormatQuantity(marketQtyRaw, in.Symbol.LotStep, in.Symbol.QuantityPrecision)
	if err != nil {
		return nil, err
	}
	result.Market = MarketLeg{
		Price:    in.ReferencePrice,
		Quantity: marketQty,
		Notional: in.ReferencePrice.Mul(marketQty),
	}

	// Quantities chain from the previous rung's *formatted* quantity (not the
	// raw running product): each rung is sized relative to what the exchange
	// actually accepted for the prior rung, so precision loss never silently
	// compounds across the ladder.
	prevQty := marketQty
	for i := 1; i <= in.Rungs; i++ {
		m := multiplierAt(in.Multipliers, i)
		rawQty := prevQty.Mul(m)

		var rawPrice decimal.Decimal
		if in.Direction == Long {
			rawPrice = in.ReferencePrice.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(i)).Mul(gap)))
		} else {
			rawPrice = in.ReferencePrice.Mul(decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(i)).Mul(gap)))
		}

		clampedPrice, wasClamped := clamp(rawPrice, in.Symbol.MinPrice, in.Symbol.MaxPrice)
		if wasClamped {
			result.Warnings = appendUnique(result.Warnings, WarnPriceClamped)
		}

		price, err := decimalmath.FormatPrice(clampedPrice, in.Symbol.TickSize, in.Symbol.PricePrecision)
		if err != nil {
			return nil, err
		}

		qty, err := decimalmath.FormatQuantity(rawQty, in.Symbol.LotStep, in.Symbol.QuantityPrecision)
		if err != nil {
			return nil, err
		}

		if qty.Sign() <= 0 {
			result.Warnings = appendUnique(result.Warnings, WarnRungDroppedZeroQty)
			prevQty = rawQty
			continue
		}
		prevQty = qty

		// Notional from raw price × formatted quantity, never vice-versa,
		// to avoid compounding rounding error.
		notional := clampedPrice.Mul(qty)

		result.Rungs = append(result.Rungs, Rung{
			Index:    i,
			Price:    price,
			Quantity: qty,
			Notional: notional,
		})
	}

	return result, nil
}

func appendUnique(warnings []string, w string) []string {
	for _, existing := range warnings {
		if existing == w {
			return warnings
		}
	}
	return append(warnings, w)
}
