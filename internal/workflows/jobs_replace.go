package workflows

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/jobrun"
	"github.com/martingalian/ladder-engine/internal/stepengine"
)

// VerifyPositionExistsOnExchangeJob is SmartReplace's reconciliation sweep
// (SPEC_FULL §4.8): unlike SyncOrderJob/the observer, which only catch
// drift on an order the system already holds a reference for, this job
// diffs the position's whole expected order set against what the exchange
// currently reports open, and fans out one RecreateMissingOrdersJob per
// order that should be live but isn't — the same dynamic child-block
// pattern DispatchLimitsJob uses, for the same reason: the number of
// missing orders isn't known until the exchange is queried.
type VerifyPositionExistsOnExchangeJob struct {
	deps           *Deps
	positionID     int64
	childBlockUUID string
}

func NewVerifyPositionExistsOnExchangeJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	if step.ChildBlockUUID == "" {
		return nil, fmt.Errorf("verify-position-exists step %d missing child_block_uuid", step.ID)
	}
	return &VerifyPositionExistsOnExchangeJob{deps: deps, positionID: a.PositionID, childBlockUUID: step.ChildBlockUUID}, nil
}

func (j *VerifyPositionExistsOnExchangeJob) Name() string { return ClassVerifyPositionExistsOnExchange }

func (j *VerifyPositionExistsOnExchangeJob) StartOrFail(ctx context.Context) (bool, error) {
	existing, err := j.deps.Steps.ListBlock(j.childBlockUUID)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status.IsOpened(), nil
}

func (j *VerifyPositionExistsOnExchangeJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	orders, err := j.deps.Orders.ListByPosition(j.positionID)
	if err != nil {
		return nil, err
	}
	live, err := l.Adapter.OpenOrders(ctx, l.Symbol.Wire())
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	liveIDs := make(map[string]bool, len(live))
	for _, snap := range live {
		liveIDs[snap.ExchangeOrderID] = true
	}

	b := stepengine.NewChildBuilder(j.childBlockUUID)
	var specs []stepengine.StepSpec
	for _, o := range orders {
		if o.Status != exchange.StatusNew && o.Status != exchange.StatusPartiallyFilled {
			continue
		}
		if o.ExchangeOrderID != "" && liveIDs[o.ExchangeOrderID] {
			continue
		}
		specs = append(specs, stepengine.StepSpec{
			Class: ClassRecreateMissingOrders,
			Arguments: encodeArgs(recreateArgs{
				PositionID: j.positionID, OrderID: o.ID,
				OriginalPrice: o.ReferencePrice.String(), OriginalQty: o.ReferenceQuantity.String(),
			}),
		})
	}
	if len(specs) == 0 {
		return 0, nil
	}
	b.Parallel(specs...)
	if err := j.deps.Steps.CreateBlock(b.Steps()); err != nil {
		return nil, err
	}
	return len(specs), nil
}

func (j *VerifyPositionExistsOnExchangeJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}
func (j *VerifyPositionExistsOnExchangeJob) Complete(ctx context.Context, result interface{}) error { return nil }

func (j *VerifyPositionExistsOnExchangeJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// RecreateMissingOrdersJob places a replacement for one order
// VerifyPositionExistsOnExchangeJob found missing from the exchange's open
// orders, at the last values the system intended for it.
type RecreateMissingOrdersJob struct {
	deps          *Deps
	positionID    int64
	orderID       int64
	originalPrice string
	originalQty   string
}

func NewRecreateMissingOrdersJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a recreateArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &RecreateMissingOrdersJob{
		deps: deps, positionID: a.PositionID, orderID: a.OrderID,
		originalPrice: a.OriginalPrice, originalQty: a.OriginalQty,
	}, nil
}

func (j *RecreateMissingOrdersJob) Name() string { return ClassRecreateMissingOrders }

func (j *RecreateMissingOrdersJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status.IsOpened(), nil
}

func (j *RecreateMissingOrdersJob) Compute(ctx context.Context) (interface{}, error) {
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
	if price.Sign() <= 0 {
		price = o.Price
	}
	if qty.Sign() <= 0 {
		qty = o.Quantity
	}

	res, err := placeReplacementOrder(ctx, l, o, price, qty)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return res, nil
}

func (j *RecreateMissingOrdersJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *RecreateMissingOrdersJob) Complete(ctx context.Context, result interface{}) error {
	r := result.(*replacementResult)
	return j.deps.recordPlacement(j.orderID, r.Result.ExchangeOrderID, r.Price, r.Qty, r.Result.Status)
}

func (j *RecreateMissingOrdersJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}
