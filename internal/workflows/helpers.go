package workflows

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/planner"
	"github.com/martingalian/ladder-engine/internal/position"
)

// entrySide is the side that opens/adds to a position: BUY for long, SELL
// for short.
func entrySide(dir planner.Direction) exchange.Side {
	if dir == planner.Long {
		return exchange.Buy
	}
	return exchange.Sell
}

// exitSide is the side that reduces/closes a position: the opposite of
// entrySide.
func exitSide(dir planner.Direction) exchange.Side {
	if dir == planner.Long {
		return exchange.Sell
	}
	return exchange.Buy
}

// recordPlacement is the standard "just placed" commit every PlaceX job
// uses: ApplySync captures the exchange_order_id and current values, then
// CommitIntendedChange aligns the reference columns to match — the
// reference-column idempotence trick applied at the moment of intentional
// placement (SPEC_FULL §9).
func (d *Deps) recordPlacement(orderID int64, exchangeOrderID string, price, quantity decimal.Decimal, status exchange.OrderStatus) error {
	if err := d.Orders.ApplySync(orderID, exchangeOrderID, price, quantity, decimal.Zero, status); err != nil {
		return err
	}
	return d.Orders.CommitIntendedChange(orderID, price, quantity, status)
}

// cachedLadder is the msgpack-safe projection of planner.LadderResult:
// decimal.Decimal fields are carried as strings since shopspring/decimal's
// msgpack encoding isn't something this codebase otherwise exercises.
type cachedLadder struct {
	MarketPrice    string
	MarketQuantity string
	MarketNotional string
	Rungs          []cachedRung
}

type cachedRung struct {
	Index    int
	Price    string
	Quantity string
	Notional string
}

func toCachedLadder(l *planner.LadderResult) cachedLadder {
	out := cachedLadder{
		MarketPrice:    l.Market.Price.String(),
		MarketQuantity: l.Market.Quantity.String(),
		MarketNotional: l.Market.Notional.String(),
	}
	for _, r := range l.Rungs {
		out.Rungs = append(out.Rungs, cachedRung{
			Index: r.Index, Price: r.Price.String(), Quantity: r.Quantity.String(), Notional: r.Notional.String(),
		})
	}
	return out
}

func (c cachedLadder) toLadder() *planner.LadderResult {
	out := &planner.LadderResult{
		Market: planner.MarketLeg{
			Price:    decimal.RequireFromString(c.MarketPrice),
			Quantity: decimal.RequireFromString(c.MarketQuantity),
			Notional: decimal.RequireFromString(c.MarketNotional),
		},
	}
	for _, r := range c.Rungs {
		out.Rungs = append(out.Rungs, planner.Rung{
			Index: r.Index, Price: decimal.RequireFromString(r.Price),
			Quantity: decimal.RequireFromString(r.Quantity), Notional: decimal.RequireFromString(r.Notional),
		})
	}
	return out
}

// buildLadder recomputes the martingale ladder for l's current margin,
// leverage, and mark price.
func buildLadder(l *loaded) (*planner.LadderResult, error) {
	return planner.CalculateLimitOrdersData(planner.LadderInput{
		Rungs:          l.Symbol.TotalLimitOrders,
		Direction:      l.Position.Direction,
		ReferencePrice: l.Symbol.MarkPrice,
		TotalNotional:  l.Position.Margin.Mul(decimal.NewFromInt(int64(l.Position.Leverage))),
		Multipliers:    l.Symbol.LimitQuantityMultipliers,
		Symbol:         l.Symbol.PlannerParams(),
	})
}

// loadOrRebuildLadder reads the ladder PlaceMarket cached for this position,
// falling back to a fresh recompute if the cache entry is gone. The 10
// minute TTL set at cache time is the freshness guard here — unlike
// cross-workflow reads (account balance, open positions), this is an
// intra-workflow handoff between steps of the same OpenPosition block, so a
// zero requiredAfter (accept anything still unexpired) is sufficient.
func (d *Deps) loadOrRebuildLadder(ctx context.Context, l *loaded) (*planner.LadderResult, error) {
	var cached cachedLadder
	if err := d.Cache.Get(l.Account.ID, ladderCacheKey(l.Position.ID), time.Time{}, &cached); err == nil {
		return cached.toLadder(), nil
	}
	return buildLadder(l)
}

func ladderTotalQuantity(l *planner.LadderResult) decimal.Decimal {
	total := l.Market.Quantity
	for _, r := range l.Rungs {
		total = total.Add(r.Quantity)
	}
	return total
}

// replacementResult is what placeReplacementOrder returns: both the
// correction-family RecreateCancelledOrderJob and the SmartReplace family's
// RecreateMissingOrdersJob place a fresh order at previously-known values
// and commit it the same way.
type replacementResult struct {
	Result *exchange.OrderResult
	Price  decimal.Decimal
	Qty    decimal.Decimal
}

// placeReplacementOrder rebuilds o's live order at price/qty, the shared
// core of every "this order vanished, put it back" job.
func placeReplacementOrder(ctx context.Context, l *loaded, o *position.Order, price, qty decimal.Decimal) (*replacementResult, error) {
	req := exchange.PlaceOrderRequest{
		Symbol: l.Symbol.Wire(), Side: o.Side, PositionSide: o.PositionSide,
		Quantity: qty, ClientOrderID: o.ClientOrderID, ReduceOnly: o.IsAlgo,
	}
	switch o.Kind {
	case exchange.StopMarket:
		req.Type = exchange.StopMarket
		req.StopPrice = price
	default:
		req.Type = exchange.Limit
		req.Price = price
	}

	res, err := l.Adapter.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	return &replacementResult{Result: res, Price: price, Qty: qty}, nil
}
