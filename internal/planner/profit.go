package planner

import "github.com/shopspring/decimal"

// ProfitPrice computes the take-profit price from the weighted average
// price: LONG → wap×(1+p), SHORT → wap×(1−p), with p = profitPercent/100.
// When mark is non-nil and the computed TP already sits on the wrong side of
// it (e.g. a LONG TP below the current mark), the result is re-anchored to
// mark before clamping to the symbol's price bounds.
func ProfitPrice(direction Direction, wap decimal.Decimal, profitPercent decimal.Decimal, mark *decimal.Decimal, minPrice, maxPrice decimal.Decimal) (decimal.Decimal, error) {
	if wap.Sign() <= 0 {
		return decimal.Decimal{}, &InvalidInput{Field: "wap", Reason: "must be positive"}
	}
	p := profitPercent.Div(decimal.NewFromInt(100))

	var tp decimal.Decimal
	if direction == Long {
		tp = wap.Mul(decimal.NewFromInt(1).Add(p))
	} else {
		tp = wap.Mul(decimal.NewFromInt(1).Sub(p))
	}

	if mark != nil {
		wrongSide := (direction == Long && tp.LessThanOrEqual(*mark)) || (direction == Short && tp.GreaterThanOrEqual(*mark))
		if wrongSide {
			if direction == Long {
				tp = mark.Mul(decimal.NewFromInt(1).Add(p))
			} else {
				tp = mark.Mul(decimal.NewFromInt(1).Sub(p))
			}
		}
	}

	tp, _ = clamp(tp, minPrice, maxPrice)
	return tp, nil
}

// StopLossPrice computes the stop-loss price from the ladder's last-rung
// anchor price: LONG → anchor×(1−s), SHORT → anchor×(1+s).
func StopLossPrice(direction Direction, anchor decimal.Decimal, stopPercent decimal.Decimal) (decimal.Decimal, error) {
	if anchor.Sign() <= 0 {
		return decimal.Decimal{}, &InvalidInput{Field: "anchor", Reason: "must be positive"}
	}
	s := stopPercent.Div(decimal.NewFromInt(100))
	if direction == Long {
		return anchor.Mul(decimal.NewFromInt(1).Sub(s)), nil
	}
	return anchor.Mul(decimal.NewFromInt(1).Add(s)), nil
}
