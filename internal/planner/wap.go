package planner

import "github.com/shopspring/decimal"

// Fill is one filled leg (MARKET or LIMIT) contributing to the weighted
// average price.
type Fill struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// WAP computes the cumulative weighted average price over every filled leg:
// Σ(price_i × qty_i) / Σ(qty_i).
func WAP(fills []Fill) (decimal.Decimal, error) {
	if len(fills) == 0 {
		return decimal.Decimal{}, &NoBasisPrice{Symbol: ""}
	}
	totalQty := decimal.Zero
	weighted := decimal.Zero
	for _, f := range fills {
		if f.Quantity.Sign() <= 0 || f.Price.Sign() <= 0 {
			return decimal.Decimal{}, &InvalidInput{Field: "fill", Reason: "price and quantity must be positive"}
		}
		totalQty = totalQty.Add(f.Quantity)
		weighted = weighted.Add(f.Price.Mul(f.Quantity))
	}
	if totalQty.Sign() <= 0 {
		return decimal.Decimal{}, &InvalidInput{Field: "fills", Reason: "total quantity must be positive"}
	}
	return weighted.DivRound(totalQty, 18), nil
}

// PnL computes unrealized profit/loss at mark price m over total filled
// quantity qty: LONG → (m−wap)·qty, SHORT → (wap−m)·qty.
func PnL(direction Direction, wap, mark, qty decimal.Decimal) decimal.Decimal {
	if direction == Long {
		return mark.Sub(wap).Mul(qty)
	}
	return wap.Sub(mark).Mul(qty)
}
