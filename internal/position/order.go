package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
)

// Order is one exchange order bound to a position (SPEC_FULL §3). Price,
// Quantity, FilledQuantity, and Status are the current observed values;
// ReferencePrice/ReferenceQuantity/ReferenceStatus are the immutable
// shadow columns recording the last values the system intended — the
// OrderChangeEvaluator's sole basis for drift detection (SPEC_FULL §4.7).
type Order struct {
	ID              int64
	PositionID      int64
	ExchangeOrderID string
	ClientOrderID   string
	Rung            int // 1..N for LIMIT ladder rungs; 0 for MARKET/PROFIT-LIMIT/STOP-MARKET
	Kind            exchange.OrderType
	Side            exchange.Side
	PositionSide    exchange.PositionSide
	IsAlgo          bool
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	Status          exchange.OrderStatus

	ReferencePrice    decimal.Decimal
	ReferenceQuantity decimal.Decimal
	ReferenceStatus   exchange.OrderStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasReference reports whether reference values have been captured yet —
// the placing job captures them right after the exchange accepts the order
// (CommitIntendedChange); before that, the observer has nothing to compare
// against.
func (o *Order) HasReference() bool {
	return o.ReferenceStatus != ""
}

// Drifted reports whether the order's current values diverge from its
// reference values in a way the observer must classify.
func (o *Order) Drifted() bool {
	if !o.HasReference() {
		return false
	}
	return o.Price.Cmp(o.ReferencePrice) != 0 ||
		o.Quantity.Cmp(o.ReferenceQuantity) != 0 ||
		o.Status != o.ReferenceStatus
}
