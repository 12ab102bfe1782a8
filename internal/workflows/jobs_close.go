package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/events"
	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/jobrun"
	"github.com/martingalian/ladder-engine/internal/planner"
	"github.com/martingalian/ladder-engine/internal/position"
	"github.com/martingalian/ladder-engine/internal/stepengine"
)

// fastTradeThreshold is how soon after opening a position must close to
// count as "fast traded" for reporting (SPEC_FULL §4.9); a close this
// quick almost always means TP hit before any ladder rung ever filled.
const fastTradeThreshold = 5 * time.Minute

// PumpCooldownCheckJob is the Close workflow's first step: before
// unwinding the orders, check whether the symbol is in the middle of a
// sharp price move, and if so push its tradeable_at cooldown forward so
// the engine doesn't immediately reopen into the same spike (SPEC_FULL
// §4.2 pump cooldown, mirrored here on the way out).
type PumpCooldownCheckJob struct {
	deps       *Deps
	positionID int64
}

func NewPumpCooldownCheckJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &PumpCooldownCheckJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *PumpCooldownCheckJob) Name() string { return ClassPumpCooldownCheck }

func (j *PumpCooldownCheckJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusClosing, nil
}

func (j *PumpCooldownCheckJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	if l.Symbol.DisableOnPriceSpikePct.Sign() <= 0 {
		return time.Time{}, nil
	}
	klines, err := l.Adapter.Klines(ctx, l.Symbol.Wire(), "1m", 2)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	if len(klines) == 0 {
		return time.Time{}, nil
	}
	low, high := klines[0].Low, klines[0].High
	for _, k := range klines[1:] {
		if k.Low.LessThan(low) {
			low = k.Low
		}
		if k.High.GreaterThan(high) {
			high = k.High
		}
	}
	if low.Sign() <= 0 {
		return time.Time{}, nil
	}
	movePct := high.Sub(low).DivRound(low, 8).Mul(decimal.NewFromInt(100))
	if movePct.LessThan(l.Symbol.DisableOnPriceSpikePct) {
		return time.Time{}, nil
	}
	return j.deps.now().Add(time.Duration(l.Symbol.PriceSpikeCooldownHours) * time.Hour), nil
}

func (j *PumpCooldownCheckJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *PumpCooldownCheckJob) Complete(ctx context.Context, result interface{}) error {
	cooldownUntil := result.(time.Time)
	if cooldownUntil.IsZero() {
		return nil
	}
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return err
	}
	if err := j.deps.Symbols.SetTradeableAt(l.Symbol.ID, cooldownUntil); err != nil {
		return err
	}
	// Scenario 6: a pump cooldown firing on the way out is an admin-visible
	// event — the symbol just went quiet for a reason the operator should
	// know about, not a silent bookkeeping update.
	msg := fmt.Sprintf("symbol %s pump cooldown until %s (position %d closing)",
		l.Symbol.ParsedTradingPair, cooldownUntil.Format(time.RFC3339), j.positionID)
	_ = j.deps.Notify.Alert(ctx, "pump_cooldown", msg)
	return nil
}

func (j *PumpCooldownCheckJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// CancelPositionOpenOrdersJob cancels every non-algo (LIMIT) order still
// NEW/PARTIALLY_FILLED — the unfilled ladder rungs — as step two of Close.
type CancelPositionOpenOrdersJob struct {
	deps       *Deps
	positionID int64
}

func NewCancelPositionOpenOrdersJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &CancelPositionOpenOrdersJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *CancelPositionOpenOrdersJob) Name() string { return ClassCancelPositionOpenOrders }

func (j *CancelPositionOpenOrdersJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusClosing, nil
}

func (j *CancelPositionOpenOrdersJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	orders, err := j.deps.Orders.ListByPosition(j.positionID)
	if err != nil {
		return nil, err
	}

	var cancelled []int64
	for _, o := range orders {
		if o.IsAlgo || o.Kind != exchange.Limit {
			continue
		}
		if o.Status != exchange.StatusNew && o.Status != exchange.StatusPartiallyFilled {
			continue
		}
		if _, err := l.Adapter.CancelOrder(ctx, l.Symbol.Wire(), o.ExchangeOrderID, false); err != nil {
			return nil, classify(j.Name(), err)
		}
		cancelled = append(cancelled, o.ID)
	}
	return cancelled, nil
}

func (j *CancelPositionOpenOrdersJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *CancelPositionOpenOrdersJob) Complete(ctx context.Context, result interface{}) error {
	for _, orderID := range result.([]int64) {
		o, err := j.deps.Orders.Get(orderID)
		if err != nil {
			return err
		}
		if err := j.deps.Orders.CommitIntendedChange(orderID, o.Price, o.Quantity, exchange.StatusCancelled); err != nil {
			return err
		}
	}
	return nil
}

func (j *CancelPositionOpenOrdersJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// CancelAlgoOpenOrdersJob cancels the PROFIT-LIMIT order and the algo
// orders (STOP-MARKET) as step three of Close, so neither fires while the
// flattening MARKET order is in flight.
type CancelAlgoOpenOrdersJob struct {
	deps       *Deps
	positionID int64
}

func NewCancelAlgoOpenOrdersJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &CancelAlgoOpenOrdersJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *CancelAlgoOpenOrdersJob) Name() string { return ClassCancelAlgoOpenOrders }

func (j *CancelAlgoOpenOrdersJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusClosing, nil
}

func (j *CancelAlgoOpenOrdersJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	orders, err := j.deps.Orders.ListByPosition(j.positionID)
	if err != nil {
		return nil, err
	}

	var cancelled []int64
	for _, o := range orders {
		if !o.IsAlgo && o.Kind != exchange.ProfitLimit {
			continue
		}
		if o.Status != exchange.StatusNew && o.Status != exchange.StatusPartiallyFilled {
			continue
		}
		if _, err := l.Adapter.CancelOrder(ctx, l.Symbol.Wire(), o.ExchangeOrderID, o.IsAlgo); err != nil {
			return nil, classify(j.Name(), err)
		}
		cancelled = append(cancelled, o.ID)
	}
	return cancelled, nil
}

func (j *CancelAlgoOpenOrdersJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *CancelAlgoOpenOrdersJob) Complete(ctx context.Context, result interface{}) error {
	for _, orderID := range result.([]int64) {
		o, err := j.deps.Orders.Get(orderID)
		if err != nil {
			return err
		}
		if err := j.deps.Orders.CommitIntendedChange(orderID, o.Price, o.Quantity, exchange.StatusCancelled); err != nil {
			return err
		}
	}
	return nil
}

func (j *CancelAlgoOpenOrdersJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

type closeAtomicResult struct {
	ResidualQty     decimal.Decimal
	ExchangeOrderID string
	FillPrice       decimal.Decimal
}

// ClosePositionAtomicallyJob reads the position's true residual size
// straight off the exchange (internal bookkeeping may have drifted from
// partial ladder fills) and flattens it with a single reduce-only MARKET
// order, step four of Close.
type ClosePositionAtomicallyJob struct {
	deps       *Deps
	positionID int64
}

func NewClosePositionAtomicallyJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &ClosePositionAtomicallyJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *ClosePositionAtomicallyJob) Name() string { return ClassClosePositionAtomically }

func (j *ClosePositionAtomicallyJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusClosing, nil
}

func (j *ClosePositionAtomicallyJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	snapshots, err := l.Adapter.Positions(ctx)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	key := exchange.PositionKey(l.Symbol.ParsedTradingPair, exchange.PositionBoth)
	snap, ok := snapshots[key]
	residual := decimal.Zero
	if ok {
		residual = snap.PositionAmt.Abs()
	}
	if residual.Sign() <= 0 {
		return &closeAtomicResult{ResidualQty: decimal.Zero}, nil
	}

	req := exchange.PlaceOrderRequest{
		Symbol: l.Symbol.Wire(), Side: exitSide(l.Position.Direction), PositionSide: exchange.PositionBoth,
		Type: exchange.Market, Quantity: residual, ClientOrderID: closeClientOrderID(j.positionID), ReduceOnly: true,
	}
	res, err := l.Adapter.PlaceOrder(ctx, req)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return &closeAtomicResult{ResidualQty: residual, ExchangeOrderID: res.ExchangeOrderID}, nil
}

func (j *ClosePositionAtomicallyJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	r := result.(*closeAtomicResult)
	if r.ResidualQty.Sign() <= 0 {
		return true, nil
	}
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return false, err
	}
	snap, err := l.Adapter.QueryOrder(ctx, l.Symbol.Wire(), r.ExchangeOrderID, false)
	if err != nil {
		return false, classify(j.Name(), err)
	}
	if snap.Status != exchange.StatusFilled {
		return false, nil
	}
	r.FillPrice = snap.Price
	return true, nil
}

func (j *ClosePositionAtomicallyJob) Complete(ctx context.Context, result interface{}) error {
	r := result.(*closeAtomicResult)
	if r.ResidualQty.Sign() <= 0 {
		return nil
	}
	o := &position.Order{
		PositionID: j.positionID, ClientOrderID: closeClientOrderID(j.positionID), Kind: exchange.Market,
		Quantity: r.ResidualQty, Price: r.FillPrice, Status: exchange.StatusFilled,
	}
	orderID, err := j.deps.Orders.Create(o)
	if err != nil {
		return err
	}
	return j.deps.recordPlacement(orderID, r.ExchangeOrderID, r.FillPrice, r.ResidualQty, exchange.StatusFilled)
}

func (j *ClosePositionAtomicallyJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// VerifyPositionResidualAmountJob re-reads the exchange position after the
// flattening order to confirm nothing is left open — step five of Close.
type VerifyPositionResidualAmountJob struct {
	deps       *Deps
	positionID int64
}

func NewVerifyPositionResidualAmountJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &VerifyPositionResidualAmountJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *VerifyPositionResidualAmountJob) Name() string { return ClassVerifyPositionResidual }

func (j *VerifyPositionResidualAmountJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusClosing, nil
}

func (j *VerifyPositionResidualAmountJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	snapshots, err := l.Adapter.Positions(ctx)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	key := exchange.PositionKey(l.Symbol.ParsedTradingPair, exchange.PositionBoth)
	snap, ok := snapshots[key]
	if !ok {
		return decimal.Zero, nil
	}
	if snap.PositionAmt.Abs().GreaterThan(l.Symbol.LotStep) {
		return snap.PositionAmt.Abs(), nil
	}
	return decimal.Zero, nil
}

func (j *VerifyPositionResidualAmountJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

// Complete surfaces a leftover residual as an admin alert rather than
// failing the step: SPEC_FULL §4.9 is explicit that a residual amount on
// the exchange after closing is not a failure, just something an operator
// needs to see and clean up by hand.
func (j *VerifyPositionResidualAmountJob) Complete(ctx context.Context, result interface{}) error {
	residual := result.(decimal.Decimal)
	if residual.Sign() <= 0 {
		return nil
	}
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("position %d: residual %s %s still open on exchange after close",
		j.positionID, residual.String(), l.Symbol.ParsedTradingPair)
	return j.deps.Notify.Alert(ctx, "residual_amount", msg)
}

func (j *VerifyPositionResidualAmountJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// UpdateRemainingClosingDataJob is Close's final step: realized PnL,
// was_fast_traded, closed_at, and order bookkeeping, then the
// closing -> closed terminal transition (SPEC_FULL §4.9).
type UpdateRemainingClosingDataJob struct {
	deps       *Deps
	positionID int64
}

func NewUpdateRemainingClosingDataJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &UpdateRemainingClosingDataJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *UpdateRemainingClosingDataJob) Name() string { return ClassUpdateRemainingClosingData }

func (j *UpdateRemainingClosingDataJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusClosing, nil
}

func (j *UpdateRemainingClosingDataJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	closingPrice := l.Symbol.MarkPrice
	orders, err := j.deps.Orders.ListByPosition(j.positionID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Kind == exchange.Market && o.ClientOrderID == closeClientOrderID(j.positionID) && o.Price.Sign() > 0 {
			closingPrice = o.Price
		}
	}
	realized := planner.PnL(l.Position.Direction, l.Position.WAP, closingPrice, l.Position.Quantity)
	wasFastTraded := l.Position.OpenedAt != nil && j.deps.now().Sub(*l.Position.OpenedAt) < fastTradeThreshold

	filledLimits := 0
	for _, o := range orders {
		if !o.IsAlgo && o.Kind == exchange.Limit && o.Status == exchange.StatusFilled {
			filledLimits++
		}
	}

	return struct {
		ClosingPrice decimal.Decimal
		Realized     decimal.Decimal
		FastTraded   bool
		FilledLimits int
	}{closingPrice, realized, wasFastTraded, filledLimits}, nil
}

func (j *UpdateRemainingClosingDataJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *UpdateRemainingClosingDataJob) Complete(ctx context.Context, result interface{}) error {
	r := result.(struct {
		ClosingPrice decimal.Decimal
		Realized     decimal.Decimal
		FastTraded   bool
		FilledLimits int
	})
	orders, err := j.deps.Orders.ListByPosition(j.positionID)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if err := j.deps.Orders.AlignReferenceStatus(o.ID, o.Status); err != nil {
			return err
		}
	}
	if err := j.deps.Positions.SetClosingData(j.positionID, r.ClosingPrice, r.Realized, r.FastTraded, j.deps.now()); err != nil {
		return err
	}
	if err := j.deps.Positions.Transition(j.positionID, position.StatusClosing, position.StatusClosed, nil); err != nil {
		return err
	}

	// SPEC_FULL §4.9 / scenario 5: a ladder that filled enough rungs to meet
	// the account's threshold before closing gets flagged to the operator as
	// a high-profit close, even though the close itself is routine.
	if pos, pErr := j.deps.Positions.Get(j.positionID); pErr == nil {
		if acc, aErr := j.deps.Accounts.Get(pos.AccountID); aErr == nil {
			if threshold := acc.TotalLimitOrdersToNotify; threshold > 0 && r.FilledLimits >= threshold {
				msg := fmt.Sprintf("position %d closed with %d filled limit orders (>= threshold %d), realized pnl %s",
					j.positionID, r.FilledLimits, threshold, r.Realized.String())
				_ = j.deps.Notify.Alert(ctx, "high_profit", msg)
			}
		}
	}

	j.deps.emit(&events.PositionClosedData{
		PositionID:  j.positionID,
		Reason:      "manual",
		RealizedPnL: r.Realized.String(),
	})
	return nil
}

func (j *UpdateRemainingClosingDataJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}
