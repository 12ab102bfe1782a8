package position

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/martingalian/ladder-engine/internal/exchange"
)

// Action identifies the correction workflow an observed order change calls
// for (SPEC_FULL §4.7). Workflow wiring (internal/workflows) owns turning
// an Action into an actual step block; this package only classifies.
type Action string

const (
	// ActionWapRecalc fires when a LIMIT fills: VerifyIfTPIsFilled ->
	// CalculateWapAndModifyProfitOrder, after the position moves to waping.
	ActionWapRecalc Action = "wap_recalc"
	// ActionClose fires when the PROFIT-LIMIT or STOP-MARKET fills.
	ActionClose Action = "close"
	// ActionRecreateCancelled fires when a non-terminal order is found
	// CANCELLED/EXPIRED while its reference says it should still be NEW.
	ActionRecreateCancelled Action = "recreate_cancelled"
	// ActionCorrectModified fires on price/quantity drift for a
	// non-algo order still NEW/PARTIALLY_FILLED.
	ActionCorrectModified Action = "correct_modified"
	// ActionCancelRecreateAlgo is ActionCorrectModified's algo-order
	// equivalent: algo orders can't be modified in place.
	ActionCancelRecreateAlgo Action = "cancel_recreate_algo"
)

// CorrectionEvent is the single output of Evaluate: one order, one action.
type CorrectionEvent struct {
	PositionID int64
	OrderID    int64
	Action     Action
}

// Enqueuer is implemented by the workflow layer; OrderChangeEvaluator is
// the only code path allowed to call it (SPEC_FULL §9 "every write path
// that could trigger a workflow calls a single OrderChangeEvaluator... no
// implicit listeners").
type Enqueuer interface {
	Enqueue(ctx context.Context, event CorrectionEvent) error
}

// OrderChangeEvaluator compares an order's current values against its
// reference values after every save and dispatches the right correction
// workflow. It never mutates the order itself — the reference-column
// idempotence trick is the caller's responsibility via
// OrderRepository.CommitIntendedChange (SPEC_FULL §9).
type OrderChangeEvaluator struct {
	enqueuer Enqueuer
	log      zerolog.Logger
}

// NewOrderChangeEvaluator builds an OrderChangeEvaluator bound to enqueuer.
func NewOrderChangeEvaluator(enqueuer Enqueuer, log zerolog.Logger) *OrderChangeEvaluator {
	return &OrderChangeEvaluator{enqueuer: enqueuer, log: log.With().Str("component", "order-observer").Logger()}
}

// Evaluate classifies before/after and, if a correction is warranted,
// enqueues it. Called after the commit that produced `after` (SPEC_FULL §5
// "The observer is fired after the commit that caused the change").
//
// A duplicate fire on an already-resolved order is a no-op: once a
// correction's completing job runs CommitIntendedChange, current and
// reference values match again and Classify returns "".
func (e *OrderChangeEvaluator) Evaluate(ctx context.Context, after *Order) error {
	action := Classify(after)
	if action == "" {
		return nil
	}

	event := CorrectionEvent{PositionID: after.PositionID, OrderID: after.ID, Action: action}
	e.log.Info().Int64("position_id", after.PositionID).Int64("order_id", after.ID).
		Str("action", string(action)).Msg("order drift detected, enqueuing correction")
	return e.enqueuer.Enqueue(ctx, event)
}

// Classify is the pure decision function SPEC_FULL §4.7 describes; split
// out from Evaluate so tests can assert classification without a fake
// Enqueuer.
func Classify(o *Order) Action {
	if !o.HasReference() {
		return ""
	}

	limitFilled := o.ReferenceStatus == exchange.StatusNew && o.Status == exchange.StatusFilled
	if limitFilled {
		switch o.Kind {
		case exchange.Limit:
			return ActionWapRecalc
		case exchange.ProfitLimit, exchange.StopMarket:
			return ActionClose
		}
	}

	cancelledAway := (o.Status == exchange.StatusCancelled || o.Status == exchange.StatusExpired) && o.ReferenceStatus == exchange.StatusNew
	if cancelledAway {
		return ActionRecreateCancelled
	}

	priceOrQtyDrifted := o.Price.Cmp(o.ReferencePrice) != 0 || o.Quantity.Cmp(o.ReferenceQuantity) != 0
	inFlight := o.Status == exchange.StatusNew || o.Status == exchange.StatusPartiallyFilled
	if priceOrQtyDrifted && inFlight {
		if o.IsAlgo {
			return ActionCancelRecreateAlgo
		}
		return ActionCorrectModified
	}

	return ""
}
