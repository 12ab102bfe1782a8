package workflows

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/jobrun"
	"github.com/martingalian/ladder-engine/internal/stepengine"
)

// CorrectModifiedOrderJob handles ActionCorrectModified: a non-algo order
// still NEW/PARTIALLY_FILLED whose price or quantity drifted from what the
// engine last intended. Non-algo orders can be modified in place, so this
// pushes the reference values back onto the live order rather than
// cancelling it (SPEC_FULL §4.7).
type CorrectModifiedOrderJob struct {
	deps       *Deps
	positionID int64
	orderID    int64
}

func NewCorrectModifiedOrderJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a orderArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &CorrectModifiedOrderJob{deps: deps, positionID: a.PositionID, orderID: a.OrderID}, nil
}

func (j *CorrectModifiedOrderJob) Name() string { return ClassCorrectModifiedOrder }

func (j *CorrectModifiedOrderJob) StartOrFail(ctx context.Context) (bool, error) {
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return false, err
	}
	return o.Drifted() && !o.IsAlgo, nil
}

func (j *CorrectModifiedOrderJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return nil, err
	}
	res, err := l.Adapter.ModifyOrder(ctx, l.Symbol.Wire(), o.ExchangeOrderID, o.ReferenceQuantity, o.ReferencePrice)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return res, nil
}

func (j *CorrectModifiedOrderJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	res := result.(*exchange.OrderResult)
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return false, err
	}
	snap, err := l.Adapter.QueryOrder(ctx, l.Symbol.Wire(), res.ExchangeOrderID, false)
	if err != nil {
		return false, classify(j.Name(), err)
	}
	return snap.Status == exchange.StatusNew || snap.Status == exchange.StatusPartiallyFilled, nil
}

func (j *CorrectModifiedOrderJob) Complete(ctx context.Context, result interface{}) error {
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return err
	}
	return j.deps.Orders.CommitIntendedChange(j.orderID, o.ReferencePrice, o.ReferenceQuantity, exchange.StatusNew)
}

func (j *CorrectModifiedOrderJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// CancelSingleAlgoOrderJob is the first half of ActionCancelRecreateAlgo:
// algo orders (STOP-MARKET) can't be modified in place, so the correction
// cancels the live order, and RecreateCancelledOrderJob places a fresh
// one from the captured pre-cancellation values (SPEC_FULL §4.7).
// ActionRecreateCancelled, for an order the exchange already cancelled,
// runs RecreateCancelledOrderJob alone.
type CancelSingleAlgoOrderJob struct {
	deps       *Deps
	positionID int64
	orderID    int64
}

func NewCancelSingleAlgoOrderJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a orderArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &CancelSingleAlgoOrderJob{deps: deps, positionID: a.PositionID, orderID: a.OrderID}, nil
}

func (j *CancelSingleAlgoOrderJob) Name() string { return ClassCancelSingleAlgoOrder }

func (j *CancelSingleAlgoOrderJob) StartOrFail(ctx context.Context) (bool, error) {
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return false, err
	}
	return o.Status != exchange.StatusCancelled, nil
}

func (j *CancelSingleAlgoOrderJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return nil, err
	}
	res, err := l.Adapter.CancelOrder(ctx, l.Symbol.Wire(), o.ExchangeOrderID, o.IsAlgo)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return res, nil
}

func (j *CancelSingleAlgoOrderJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *CancelSingleAlgoOrderJob) Complete(ctx context.Context, result interface{}) error {
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return err
	}
	return j.deps.Orders.CommitIntendedChange(j.orderID, o.Price, o.Quantity, exchange.StatusCancelled)
}

func (j *CancelSingleAlgoOrderJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// RecreateCancelledOrderJob places a replacement order at the values
// captured before the order was cancelled — OriginalPrice/OriginalQty
// are carried in the step arguments rather than read back off the order
// row, since under ActionCancelRecreateAlgo that row's reference columns
// were just overwritten to CANCELLED by CancelSingleAlgoOrderJob's Complete.
type RecreateCancelledOrderJob struct {
	deps          *Deps
	positionID    int64
	orderID       int64
	originalPrice string
	originalQty   string
}

func NewRecreateCancelledOrderJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a recreateArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &RecreateCancelledOrderJob{
		deps: deps, positionID: a.PositionID, orderID: a.OrderID,
		originalPrice: a.OriginalPrice, originalQty: a.OriginalQty,
	}, nil
}

func (j *RecreateCancelledOrderJob) Name() string { return ClassRecreateCancelledOrder }

func (j *RecreateCancelledOrderJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status.IsActive(), nil
}

func (j *RecreateCancelledOrderJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return nil, err
	}

	price := decimal.RequireFromString(j.originalPrice)
	qty := decimal.RequireFromString(j.originalQty)

	res, err := placeReplacementOrder(ctx, l, o, price, qty)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return res, nil
}

func (j *RecreateCancelledOrderJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *RecreateCancelledOrderJob) Complete(ctx context.Context, result interface{}) error {
	r := result.(*replacementResult)
	return j.deps.recordPlacement(j.orderID, r.Result.ExchangeOrderID, r.Price, r.Qty, r.Result.Status)
}

func (j *RecreateCancelledOrderJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}
