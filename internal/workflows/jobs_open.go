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
	"github.com/martingalian/ladder-engine/internal/snapshotcache"
	"github.com/martingalian/ladder-engine/internal/stepengine"
)

// balanceSnapshot is the msgpack-safe projection of exchange.Balance cached
// under snapshotcache.KeyAccountBalance.
type balanceSnapshot struct {
	Wallet    string
	Available string
}

// PrepareJob validates the symbol is tradeable, fetches a fresh mark price
// and account balance, and moves the position new -> opening (SPEC_FULL
// §4.2 OpenPosition step 1).
type PrepareJob struct {
	deps       *Deps
	positionID int64
}

func NewPrepareJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &PrepareJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *PrepareJob) Name() string { return ClassPrepare }

func (j *PrepareJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusNew, nil
}

func (j *PrepareJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	if !l.Symbol.IsTradeable(j.deps.now()) {
		return nil, jobrun.Classify(j.Name(), jobrun.NonNotifiable,
			fmt.Errorf("symbol %d in pump cooldown until %s", l.Symbol.ID, l.Symbol.TradeableAt))
	}

	mark, err := l.Adapter.MarkPrice(ctx, l.Symbol.Wire())
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	bal, err := l.Adapter.Balance(ctx)
	if err != nil {
		return nil, classify(j.Name(), err)
	}

	if err := j.deps.Symbols.UpdateMarkPrice(l.Symbol.ID, mark, j.deps.now()); err != nil {
		return nil, err
	}
	_ = j.deps.Cache.Set(l.Account.ID, snapshotcache.KeyAccountBalance,
		balanceSnapshot{Wallet: bal.Wallet.String(), Available: bal.Available.String()}, 0)

	return bal, nil
}

func (j *PrepareJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) { return true, nil }

func (j *PrepareJob) Complete(ctx context.Context, result interface{}) error {
	return j.deps.Positions.Transition(j.positionID, position.StatusNew, position.StatusOpening, nil)
}

func (j *PrepareJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// VerifyNotionalJob is the cheap solvency pre-filter run before the engine
// commits to the more expensive margin-mode/leverage/placement calls: the
// margin this position would commit (account.MaxPositionPercentage of
// available balance) must be positive and, at the account's leverage cap,
// capable of clearing the symbol's minimum notional.
type VerifyNotionalJob struct {
	deps       *Deps
	positionID int64
}

func NewVerifyNotionalJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &VerifyNotionalJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *VerifyNotionalJob) Name() string { return ClassVerifyNotional }

func (j *VerifyNotionalJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusOpening && pos.Margin.Sign() == 0, nil
}

func (j *VerifyNotionalJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}

	var bal balanceSnapshot
	if err := j.deps.Cache.Get(l.Account.ID, snapshotcache.KeyAccountBalance, time.Time{}, &bal); err != nil {
		return nil, classify(j.Name(), err)
	}
	available := decimal.RequireFromString(bal.Available)

	margin := available.Mul(l.Account.MaxPositionPercentage).Div(decimal.NewFromInt(100))
	if margin.Sign() <= 0 {
		return nil, jobrun.Classify(j.Name(), jobrun.Fatal, fmt.Errorf("account %d has no available balance to size a position", l.Account.ID))
	}

	leverageCap := l.Account.LeverageCapFor(l.Position.Direction == planner.Long)
	bestCaseNotional := margin.Mul(decimal.NewFromInt(int64(leverageCap)))
	if bestCaseNotional.LessThan(l.Symbol.MinNotional) {
		return nil, jobrun.Classify(j.Name(), jobrun.Fatal,
			fmt.Errorf("margin %s at %dx cannot clear min notional %s", margin, leverageCap, l.Symbol.MinNotional))
	}

	return margin, nil
}

func (j *VerifyNotionalJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *VerifyNotionalJob) Complete(ctx context.Context, result interface{}) error {
	margin := result.(decimal.Decimal)
	return j.deps.Positions.SetMargin(j.positionID, margin)
}

func (j *VerifyNotionalJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// SetMarginModeJob pushes the account's configured margin mode to the
// exchange for this symbol before any order is placed.
type SetMarginModeJob struct {
	deps       *Deps
	positionID int64
}

func NewSetMarginModeJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &SetMarginModeJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *SetMarginModeJob) Name() string { return ClassSetMarginMode }

func (j *SetMarginModeJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusOpening, nil
}

func (j *SetMarginModeJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	if err := l.Adapter.SetMarginMode(ctx, l.Symbol.Wire(), l.Account.MarginMode); err != nil {
		return nil, classify(j.Name(), err)
	}
	return nil, nil
}

func (j *SetMarginModeJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *SetMarginModeJob) Complete(ctx context.Context, result interface{}) error { return nil }

func (j *SetMarginModeJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// DetermineLeverageJob selects the highest feasible leverage for this
// position's margin via planner.PlanUnboundedPosition.
type DetermineLeverageJob struct {
	deps       *Deps
	positionID int64
}

func NewDetermineLeverageJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &DetermineLeverageJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *DetermineLeverageJob) Name() string { return ClassDetermineLeverage }

func (j *DetermineLeverageJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusOpening && pos.Leverage == 0, nil
}

func (j *DetermineLeverageJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	leverageCap := l.Account.LeverageCapFor(l.Position.Direction == planner.Long)
	plan, err := planner.PlanUnboundedPosition(l.Position.Margin, l.Position.Direction, l.Symbol.MarkPrice,
		l.Symbol.PlannerParams(), l.Symbol.LimitQuantityMultipliers, l.Symbol.TotalLimitOrders, leverageCap, l.Account.HeadroomPct)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	if !plan.Feasible {
		return nil, jobrun.Classify(j.Name(), jobrun.Fatal, fmt.Errorf("no feasible leverage bracket for position %d (k=%s)", j.positionID, plan.K))
	}
	j.deps.Log.Debug().Int64("position_id", j.positionID).Int("leverage", plan.Leverage).
		Float64("bracket_ceiling_mean", plan.BracketCeilingMean).
		Float64("bracket_ceiling_spread", plan.BracketCeilingSpread).
		Float64("bracket_ceiling_total", plan.BracketCeilingTotal).
		Msg("leverage bracket search")
	return plan, nil
}

func (j *DetermineLeverageJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}

func (j *DetermineLeverageJob) Complete(ctx context.Context, result interface{}) error {
	plan := result.(*planner.LeveragePlan)
	return j.deps.Positions.SetLeverage(j.positionID, plan.Leverage)
}

func (j *DetermineLeverageJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// SetLeverageJob pushes the selected leverage to the exchange.
type SetLeverageJob struct {
	deps       *Deps
	positionID int64
}

func NewSetLeverageJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &SetLeverageJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *SetLeverageJob) Name() string { return ClassSetLeverage }

func (j *SetLeverageJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusOpening && pos.Leverage > 0, nil
}

func (j *SetLeverageJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	if err := l.Adapter.SetLeverage(ctx, l.Symbol.Wire(), l.Position.Leverage, l.Account.MarginMode); err != nil {
		return nil, classify(j.Name(), err)
	}
	return nil, nil
}

func (j *SetLeverageJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) { return true, nil }
func (j *SetLeverageJob) Complete(ctx context.Context, result interface{}) error            { return nil }

func (j *SetLeverageJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

type placeMarketResult struct {
	ExchangeOrderID string
	Snapshot        *exchange.OrderSnapshot
}

// PlaceMarketJob builds the martingale ladder for this position and places
// the MARKET entry leg, caching the ladder for DispatchLimits/PlaceStopLoss
// to reuse without recomputing it.
type PlaceMarketJob struct {
	deps       *Deps
	positionID int64
}

func NewPlaceMarketJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &PlaceMarketJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *PlaceMarketJob) Name() string { return ClassPlaceMarket }

func (j *PlaceMarketJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusOpening && pos.OpenedAt == nil, nil
}

func (j *PlaceMarketJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}

	ladder, err := buildLadder(l)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	_ = j.deps.Cache.Set(l.Account.ID, ladderCacheKey(j.positionID), toCachedLadder(ladder), 10*time.Minute)

	req := exchange.PlaceOrderRequest{
		Symbol: l.Symbol.Wire(), Side: entrySide(l.Position.Direction), PositionSide: exchange.PositionBoth,
		Type: exchange.Market, Quantity: ladder.Market.Quantity, ClientOrderID: marketClientOrderID(j.positionID),
	}
	res, err := l.Adapter.PlaceOrder(ctx, req)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return &placeMarketResult{ExchangeOrderID: res.ExchangeOrderID}, nil
}

func (j *PlaceMarketJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	r := result.(*placeMarketResult)
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return false, err
	}
	snap, err := l.Adapter.QueryOrder(ctx, l.Symbol.Wire(), r.ExchangeOrderID, false)
	if err != nil {
		return false, classify(j.Name(), err)
	}
	r.Snapshot = snap
	return snap.Status == exchange.StatusFilled, nil
}

func (j *PlaceMarketJob) Complete(ctx context.Context, result interface{}) error {
	r := result.(*placeMarketResult)
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return err
	}

	o := &position.Order{
		PositionID: j.positionID, ClientOrderID: marketClientOrderID(j.positionID), Kind: exchange.Market,
		Side: entrySide(l.Position.Direction), PositionSide: exchange.PositionBoth,
		Price: r.Snapshot.Price, Quantity: r.Snapshot.Quantity, FilledQuantity: r.Snapshot.FilledQuantity,
		Status: r.Snapshot.Status,
	}
	orderID, err := j.deps.Orders.Create(o)
	if err != nil {
		return err
	}
	if err := j.deps.recordPlacement(orderID, r.ExchangeOrderID, r.Snapshot.Price, r.Snapshot.Quantity, r.Snapshot.Status); err != nil {
		return err
	}
	return j.deps.Positions.SetOpeningData(j.positionID, r.Snapshot.Price, r.Snapshot.FilledQuantity, j.deps.now())
}

func (j *PlaceMarketJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// DispatchLimitsJob fans out the ladder's N LIMIT rungs into a child block
// of parallel PlaceLimitRung steps (SPEC_FULL §4.2 "DispatchLimits"). It is
// itself replay-safe: if its child block already has steps, it's a no-op.
type DispatchLimitsJob struct {
	deps           *Deps
	positionID     int64
	childBlockUUID string
}

func NewDispatchLimitsJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	if step.ChildBlockUUID == "" {
		return nil, fmt.Errorf("dispatch-limits step %d missing child_block_uuid", step.ID)
	}
	return &DispatchLimitsJob{deps: deps, positionID: a.PositionID, childBlockUUID: step.ChildBlockUUID}, nil
}

func (j *DispatchLimitsJob) Name() string { return ClassDispatchLimits }

func (j *DispatchLimitsJob) StartOrFail(ctx context.Context) (bool, error) {
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
	return pos.Status == position.StatusOpening, nil
}

func (j *DispatchLimitsJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	ladder, err := j.deps.loadOrRebuildLadder(ctx, l)
	if err != nil {
		return nil, classify(j.Name(), err)
	}

	b := stepengine.NewChildBuilder(j.childBlockUUID)
	var specs []stepengine.StepSpec
	for _, rung := range ladder.Rungs {
		o := &position.Order{
			PositionID: j.positionID, ClientOrderID: limitClientOrderID(j.positionID, rung.Index),
			Rung: rung.Index, Kind: exchange.Limit, Side: entrySide(l.Position.Direction),
			PositionSide: exchange.PositionBoth, Price: rung.Price, Quantity: rung.Quantity, Status: exchange.StatusNew,
		}
		orderID, err := j.deps.Orders.Create(o)
		if err != nil {
			return nil, err
		}
		specs = append(specs, stepengine.StepSpec{
			Class:     ClassPlaceLimitRung,
			Arguments: encodeArgs(orderArgs{PositionID: j.positionID, OrderID: orderID}),
		})
	}
	b.Parallel(specs...)
	if err := j.deps.Steps.CreateBlock(b.Steps()); err != nil {
		return nil, err
	}
	return len(specs), nil
}

func (j *DispatchLimitsJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}
func (j *DispatchLimitsJob) Complete(ctx context.Context, result interface{}) error { return nil }

func (j *DispatchLimitsJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// PlaceLimitRungJob places one already-persisted LIMIT rung order.
type PlaceLimitRungJob struct {
	deps       *Deps
	positionID int64
	orderID    int64
}

func NewPlaceLimitRungJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a orderArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &PlaceLimitRungJob{deps: deps, positionID: a.PositionID, orderID: a.OrderID}, nil
}

func (j *PlaceLimitRungJob) Name() string { return ClassPlaceLimitRung }

func (j *PlaceLimitRungJob) StartOrFail(ctx context.Context) (bool, error) {
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return false, err
	}
	return o.ExchangeOrderID == "", nil
}

func (j *PlaceLimitRungJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return nil, err
	}
	req := exchange.PlaceOrderRequest{
		Symbol: l.Symbol.Wire(), Side: o.Side, PositionSide: o.PositionSide,
		Type: exchange.Limit, Quantity: o.Quantity, Price: o.Price, ClientOrderID: o.ClientOrderID,
	}
	res, err := l.Adapter.PlaceOrder(ctx, req)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return res, nil
}

func (j *PlaceLimitRungJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	res := result.(*exchange.OrderResult)
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return false, err
	}
	snap, err := l.Adapter.QueryOrder(ctx, l.Symbol.Wire(), res.ExchangeOrderID, false)
	if err != nil {
		return false, classify(j.Name(), err)
	}
	switch snap.Status {
	case exchange.StatusNew, exchange.StatusPartiallyFilled, exchange.StatusFilled:
		return true, nil
	default:
		return false, nil
	}
}

func (j *PlaceLimitRungJob) Complete(ctx context.Context, result interface{}) error {
	res := result.(*exchange.OrderResult)
	o, err := j.deps.Orders.Get(j.orderID)
	if err != nil {
		return err
	}
	return j.deps.recordPlacement(j.orderID, res.ExchangeOrderID, o.Price, o.Quantity, res.Status)
}

func (j *PlaceLimitRungJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

type placeProfitResult struct {
	TakeProfit      decimal.Decimal
	ExchangeOrderID string
}

// PlaceProfitJob computes and places the PROFIT-LIMIT order sized to the
// quantity filled so far (the MARKET leg at this point in OpenPosition).
type PlaceProfitJob struct {
	deps       *Deps
	positionID int64
}

func NewPlaceProfitJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &PlaceProfitJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *PlaceProfitJob) Name() string { return ClassPlaceProfit }

func (j *PlaceProfitJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusOpening && pos.TakeProfitPrice.Sign() == 0, nil
}

func (j *PlaceProfitJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	mark := l.Symbol.MarkPrice
	tp, err := planner.ProfitPrice(l.Position.Direction, l.Position.OpeningPrice, l.Position.ProfitPercentage, &mark, l.Symbol.MinPrice, l.Symbol.MaxPrice)
	if err != nil {
		return nil, classify(j.Name(), err)
	}

	req := exchange.PlaceOrderRequest{
		Symbol: l.Symbol.Wire(), Side: exitSide(l.Position.Direction), PositionSide: exchange.PositionBoth,
		Type: exchange.ProfitLimit, Quantity: l.Position.Quantity, Price: tp, ClientOrderID: profitClientOrderID(j.positionID),
		ReduceOnly: true,
	}
	res, err := l.Adapter.PlaceOrder(ctx, req)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return &placeProfitResult{TakeProfit: tp, ExchangeOrderID: res.ExchangeOrderID}, nil
}

func (j *PlaceProfitJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	r := result.(*placeProfitResult)
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

func (j *PlaceProfitJob) Complete(ctx context.Context, result interface{}) error {
	r := result.(*placeProfitResult)
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return err
	}
	o := &position.Order{
		PositionID: j.positionID, ClientOrderID: profitClientOrderID(j.positionID), Kind: exchange.ProfitLimit,
		Side: exitSide(l.Position.Direction), PositionSide: exchange.PositionBoth,
		Price: r.TakeProfit, Quantity: l.Position.Quantity, Status: exchange.StatusNew,
	}
	orderID, err := j.deps.Orders.Create(o)
	if err != nil {
		return err
	}
	if err := j.deps.recordPlacement(orderID, r.ExchangeOrderID, r.TakeProfit, l.Position.Quantity, exchange.StatusNew); err != nil {
		return err
	}
	return j.deps.Positions.SetTakeProfit(j.positionID, r.TakeProfit, true)
}

func (j *PlaceProfitJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

type placeStopLossResult struct {
	StopLoss        decimal.Decimal
	Quantity        decimal.Decimal
	ExchangeOrderID string
}

// PlaceStopLossJob computes and places the STOP-MARKET order sized to cover
// the position's full worst-case quantity (market leg + every ladder rung),
// anchored off the ladder's last rung price.
type PlaceStopLossJob struct {
	deps       *Deps
	positionID int64
}

func NewPlaceStopLossJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &PlaceStopLossJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *PlaceStopLossJob) Name() string { return ClassPlaceStopLoss }

func (j *PlaceStopLossJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusOpening && pos.StopLossPrice.Sign() == 0, nil
}

func (j *PlaceStopLossJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	ladder, err := j.deps.loadOrRebuildLadder(ctx, l)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	if len(ladder.Rungs) == 0 {
		return nil, jobrun.Classify(j.Name(), jobrun.Fatal, fmt.Errorf("position %d has an empty ladder, cannot anchor stop loss", j.positionID))
	}
	anchor := ladder.Rungs[len(ladder.Rungs)-1].Price
	sl, err := planner.StopLossPrice(l.Position.Direction, anchor, l.Account.StopMarketInitialPercentage)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	qty := ladderTotalQuantity(ladder)

	req := exchange.PlaceOrderRequest{
		Symbol: l.Symbol.Wire(), Side: exitSide(l.Position.Direction), PositionSide: exchange.PositionBoth,
		Type: exchange.StopMarket, Quantity: qty, StopPrice: sl, ClientOrderID: stopLossClientOrderID(j.positionID),
		ReduceOnly: true,
	}
	res, err := l.Adapter.PlaceOrder(ctx, req)
	if err != nil {
		return nil, classify(j.Name(), err)
	}
	return &placeStopLossResult{StopLoss: sl, Quantity: qty, ExchangeOrderID: res.ExchangeOrderID}, nil
}

func (j *PlaceStopLossJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	r := result.(*placeStopLossResult)
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return false, err
	}
	snap, err := l.Adapter.QueryOrder(ctx, l.Symbol.Wire(), r.ExchangeOrderID, true)
	if err != nil {
		return false, classify(j.Name(), err)
	}
	return snap.Status == exchange.StatusNew || snap.Status == exchange.StatusPartiallyFilled, nil
}

func (j *PlaceStopLossJob) Complete(ctx context.Context, result interface{}) error {
	r := result.(*placeStopLossResult)
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return err
	}
	o := &position.Order{
		PositionID: j.positionID, ClientOrderID: stopLossClientOrderID(j.positionID), Kind: exchange.StopMarket,
		Side: exitSide(l.Position.Direction), PositionSide: exchange.PositionBoth, IsAlgo: true,
		Price: r.StopLoss, Quantity: r.Quantity, Status: exchange.StatusNew,
	}
	orderID, err := j.deps.Orders.Create(o)
	if err != nil {
		return err
	}
	if err := j.deps.recordPlacement(orderID, r.ExchangeOrderID, r.StopLoss, r.Quantity, exchange.StatusNew); err != nil {
		return err
	}
	return j.deps.Positions.SetStopLoss(j.positionID, r.StopLoss)
}

func (j *PlaceStopLossJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}

// ActivateJob is OpenPosition's final gate: every expected order (1 MARKET
// + N LIMIT + 1 PROFIT-LIMIT + 1 STOP-MARKET) must be live on the exchange
// before the position is allowed into "active" (SPEC_FULL §4.2 invariant 3).
type ActivateJob struct {
	deps       *Deps
	positionID int64
}

func NewActivateJob(deps *Deps, step *stepengine.Step) (jobrun.Job, error) {
	var a positionArgs
	if err := decodeArgs(step.Arguments, &a); err != nil {
		return nil, err
	}
	return &ActivateJob{deps: deps, positionID: a.PositionID}, nil
}

func (j *ActivateJob) Name() string { return ClassActivate }

func (j *ActivateJob) StartOrFail(ctx context.Context) (bool, error) {
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return false, err
	}
	return pos.Status == position.StatusOpening, nil
}

func (j *ActivateJob) Compute(ctx context.Context) (interface{}, error) {
	l, err := j.deps.load(ctx, j.positionID)
	if err != nil {
		return nil, err
	}
	pos := l.Position
	orders, err := j.deps.Orders.ListByPosition(j.positionID)
	if err != nil {
		return nil, err
	}
	if len(orders) != pos.ExpectedOrderCount() {
		return nil, jobrun.Classify(j.Name(), jobrun.JustResolve,
			fmt.Errorf("position %d has %d orders, expected %d", j.positionID, len(orders), pos.ExpectedOrderCount()))
	}

	// SPEC_FULL §4.8: the full activation check is a type breakdown (exactly
	// 1 MARKET + N LIMIT + 1 PROFIT-LIMIT + 1 STOP-MARKET), the MARKET leg
	// filled, and every order's observed price/quantity matching what the
	// engine intended to place — not just "present on the exchange".
	positionAttachedTPSL := l.Adapter.Capability().PositionAttachedTPSL
	var marketCount, limitCount, profitCount, stopCount int
	for _, o := range orders {
		if o.ExchangeOrderID == "" || o.Status == exchange.StatusNotFound || o.Status == exchange.StatusRejected {
			return nil, jobrun.Classify(j.Name(), jobrun.JustResolve,
				fmt.Errorf("order %d not live (status %s)", o.ID, o.Status))
		}

		switch o.Kind {
		case exchange.Market:
			marketCount++
			if o.Status != exchange.StatusFilled {
				return nil, jobrun.Classify(j.Name(), jobrun.JustResolve,
					fmt.Errorf("position %d MARKET order %d not filled (status %s)", j.positionID, o.ID, o.Status))
			}
		case exchange.Limit:
			limitCount++
		case exchange.ProfitLimit:
			profitCount++
		case exchange.StopMarket:
			stopCount++
		}

		// A zero reference quantity is the exemption for a position-attached
		// TP/SL leg (e.g. BitGet), which carries no independent order size.
		zeroQtyExempt := positionAttachedTPSL && o.IsAlgo && o.ReferenceQuantity.Sign() == 0
		if zeroQtyExempt {
			continue
		}
		if o.ReferencePrice.Cmp(o.Price) != 0 || o.ReferenceQuantity.Cmp(o.Quantity) != 0 {
			return nil, jobrun.Classify(j.Name(), jobrun.JustResolve,
				fmt.Errorf("order %d drifted from reference before activation (price %s/%s, qty %s/%s)",
					o.ID, o.ReferencePrice, o.Price, o.ReferenceQuantity, o.Quantity))
		}
	}

	if marketCount != 1 || limitCount != pos.TotalLimitOrders || profitCount != 1 || stopCount != 1 {
		return nil, jobrun.Classify(j.Name(), jobrun.JustResolve,
			fmt.Errorf("position %d order type breakdown wrong: market=%d limit=%d(want %d) profit=%d stop=%d",
				j.positionID, marketCount, limitCount, pos.TotalLimitOrders, profitCount, stopCount))
	}
	return nil, nil
}

func (j *ActivateJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) { return true, nil }

func (j *ActivateJob) Complete(ctx context.Context, result interface{}) error {
	if err := j.deps.Positions.Transition(j.positionID, position.StatusOpening, position.StatusActive, nil); err != nil {
		return err
	}
	pos, err := j.deps.Positions.Get(j.positionID)
	if err != nil {
		return err
	}
	j.deps.emit(&events.PositionActivatedData{
		PositionID: j.positionID,
		WAP:        pos.WAP.String(),
		Quantity:   pos.Quantity.String(),
	})
	return nil
}

func (j *ActivateJob) ResolveException(ctx context.Context, err error) error {
	return j.deps.resolve(j.Name(), j.positionID, err)
}
