package decimalmath

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// workingScale is the intermediate division scale used before a price or
// quantity is snapped to its final tick/lot grid. It must comfortably
// outrun any tick_size/lot_step precision seen on a real exchange.
const workingScale = 18

// FormatPrice rounds raw to the nearest multiple of tickSize using
// half-away-from-zero rounding, then truncates to pricePrecision decimal
// places. tickSize must be strictly positive.
func FormatPrice(raw, tickSize decimal.Decimal, pricePrecision int32) (decimal.Decimal, error) {
	if tickSize.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("tick size must be positive, got %s", tickSize)
	}
	ratio := raw.DivRound(tickSize, workingScale)
	rounded := ratio.Round(0)
	price := rounded.Mul(tickSize)
	return price.Truncate(pricePrecision), nil
}

// FormatQuantity truncates raw toward zero to the nearest multiple of
// lotStep, then truncates to quantityPrecision decimal places. Truncation
// (never rounding up) ensures a position is never over-sized relative to
// the computed margin. lotStep must be strictly positive.
func FormatQuantity(raw, lotStep decimal.Decimal, quantityPrecision int32) (decimal.Decimal, error) {
	if lotStep.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("lot step must be positive, got %s", lotStep)
	}
	ratio := raw.DivRound(lotStep, workingScale).Truncate(0)
	qty := ratio.Mul(lotStep)
	return qty.Truncate(quantityPrecision), nil
}
