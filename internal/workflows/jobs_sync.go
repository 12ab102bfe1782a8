package workflows

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/jobrun"
	"github.com/martingalian/ladder-engine/internal/planner"
	"github.com/martingalian/ladder-engine/internal/position"
	"github.com/martingalian/ladder-engine/internal/stepengine"
)

// SyncOrderJob re-queries one order's live state from the exchange, records
// it via ApplySync, and — as the commit that may have produced drift —
// hands the refreshed row to the OrderChangeEvaluator (SPEC_FULL §4.7 "the
// observer is fired after the commit that caused the change").
type SyncOrderJob struct {
	deps       *Deps
	positionID int64
	orderID    int64
}

func NewSyncOrderJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a orderArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &SyncOrderJob{deps: deps, positionID: a.PositionID, orderID: a.OrderID}, nil
}

func (j *SyncOrderJob) Name() string { return ClassSyncOrder }

func (j *SyncOrderJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status.IsOpened(), nil
}

func (j *SyncOrderJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return nil, err
	}
	if o.ExchangeOrderID == "" {
		return nil, jobrun.Classify(j.Name(), jobrun.NonNotifiable, fmt.Errorf("order %d never placed, nothing to sync", j.orderID))
	}
	snap, err := l.Adapter.QueryOrder(ctx, l.Symbol.Wire(), o.ExchangeOrderID, o.IsAlgo)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return snap, nil
}

func (j *SyncOrderJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) { return true, nil }

func (j *SyncOrderJob) Complete(ctx context.Context, result interface{}) error {
	snap := result.(*exchange.OrderSnapshot)
	if err := j.deps.Orders.ApplySync(j.orderID, snap.ExchangeOrderID, snap.Price, snap.Quantity, snap.FilledQuantity, snap.Status); err != nil {
		return err
	}
	after, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return err
	}
	return j.deps.Evaluator.Evaluate(ctx, after)
}

func (j *SyncOrderJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// VerifyIfTPIsFilledJob is the race guard at the top of the WAP-recalc
// sequence (SPEC_FULL §4.7): a LIMIT fill and a PROFIT-LIMIT fill can be
// observed in the same sync pass, and a stale TP must not be recalculated
// out from under a position that is actually already closing. If the
// PROFIT-LIMIT has filled, the position is bounced back to active so the
// close-detection path (ActionClose) owns it instead.
type VerifyIfTPIsFilledJob struct {
	deps       *Deps
	positionID int64
}

func NewVerifyIfTPIsFilledJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &VerifyIfTPIsFilledJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *VerifyIfTPIsFilledJob) Name() string { return ClassVerifyIfTPIsFilled }

func (j *VerifyIfTPIsFilledJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusWaping, nil
}

func (j *VerifyIfTPIsFilledJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	tpOrder, err := findOrder(j.deps, j.positionID, exchange.ProfitLimit)
	if err != nil {
		return nil, err
	}
	snap, err := l.Adapter.QueryOrder(ctx, l.Symbol.Wire(), tpOrder.ExchangeOrderID, false)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return snap.Status == exchange.StatusFilled, nil
}

func (j *VerifyIfTPIsFilledJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *VerifyIfTPIsFilledJob) Complete(ctx context.Context, result interface{}) error {
	tpFilled := result.(bool)
	if !tpFilled {
		return nil
	}
	return j.deps.Positions.Transition(j.positionID, position.StatusWaping, position.StatusActive, nil)
}

func (j *VerifyIfTPIsFilledJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

type wapResult struct {
	WAP             decimal.Decimal
	TakeProfit      decimal.Decimal
	Quantity        decimal.Decimal
	TPOrderID       int64
	ExchangeOrderID string
}

// CalculateWapAndModifyProfitOrderJob recomputes the weighted average price
// over every filled leg (MARKET + each filled LIMIT rung), derives a new
// take-profit price from it, and pushes the change to the live PROFIT-LIMIT
// order in place (SPEC_FULL §4.7 "CalculateWapAndModifyProfitOrder").
type CalculateWapAndModifyProfitOrderJob struct {
	deps       *Deps
	positionID int64
}

func NewCalculateWapAndModifyProfitOrderJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &CalculateWapAndModifyProfitOrderJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *CalculateWapAndModifyProfitOrderJob) Name() string {
	return ClassCalculateWapAndModifyProfitOrder
}

func (j *CalculateWapAndModifyProfitOrderJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusWaping, nil
}

func (j *CalculateWapAndModifyProfitOrderJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	orders, err := j.deps.Orders.ListByPosition(j.positionID)
	if err != nil {
		return nil, err
	}

	var fills []planner.Fill
	var tpOrder *position.Order
	for _, o := range orders {
		switch o.Kind {
		case exchange.Market:
			fills = append(fills, planner.Fill{Price: o.Price, Quantity: o.FilledQuantity})
		case exchange.Limit:
			if o.Status == exchange.StatusFilled || o.Status == exchange.StatusPartiallyFilled {
				fills = append(fills, planner.Fill{Price: o.Price, Quantity: o.FilledQuantity})
			}
		case exchange.ProfitLimit:
			tpOrder = o
		}
	}
	if tpOrder == nil {
		return nil, jobrun.Classify(j.Name(), jobrun.Fatal, fmt.Errorf("position %d has no PROFIT-LIMIT order", j.positionID))
	}

	wap, err := planner.WAP(fills)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	mark := l.Symbol.MarkPrice
	tp, err := planner.ProfitPrice(l.Position.Direction, wap, l.Position.ProfitPercentage, &mark, l.Symbol.MinPrice, l.Symbol.MaxPrice)
	if err != nil {
		return nil, classify(j.Name(), err)
	}

	totalQty := decimal.Zero
	for _, f := range fills {
		totalQty = totalQty.Add(f.Quantity)
	}

	res, err := l.Adapter.ModifyOrder(ctx, l.Symbol.Wire(), tpOrder.ExchangeOrderID, totalQty, tp)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return &wapResult{WAP: wap, TakeProfit: tp, Quantity: totalQty, TPOrderID: tpOrder.ID, ExchangeOrderID: res.ExchangeOrderID}, nil
}

func (j *CalculateWapAndModifyProfitOrderJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	r := result.(*wapResult)
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return false, err
	}
	snap, err := l.Adapter.QueryOrder(ctx, l.Symbol.Wire(), r.ExchangeOrderID, false)
	if err != nil {
		return false, classify(j.Name(), err)
	}
	return snap.Status == exchange.StatusNew || snap.Status == exchange.StatusPartiallyFilled, nil
}

func (j *CalculateWapAndModifyProfitOrderJob) Complete(ctx context.Context, result interface{}) error {
	r := result.(*wapResult)
	if err := j.deps.Positions.UpdateWAP(j.positionID, r.WAP, r.TakeProfit, r.Quantity, j.deps.now()); err != nil {
		return err
	}
	if err := j.deps.Orders.CommitIntendedChange(r.TPOrderID, r.TakeProfit, r.Quantity, exchange.StatusNew); err != nil {
		return err
	}
	return j.deps.Positions.Transition(j.positionID, position.StatusWaping, position.StatusActive, nil)
}

func (j *CalculateWapAndModifyProfitOrderJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// findOrder returns the single order of kind on positionID, failing Fatal
// if none exists (every active position carries exactly one TP and one SL).
func findOrder(deps *Deps, positionID int64, kind exchange.OrderType) (*position.Order, error) {
	orders, err := deps.Orders.ListByPosition(positionID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Kind == kind {
			return o, nil
		}
	}
	return nil, jobrun.Classify("find-order", jobrun.Fatal, fmt.Errorf("position %d has no %s order", positionID, kind))
}
