package workflows

import (
	"context"
	"fmt"

	"github.com/martingalian/ladder-engine/internal/position"
	"github.com/martingalian/ladder-engine/internal/stepengine"
)

// Enqueuer implements position.Enqueuer: OrderChangeEvaluator.Evaluate is
// the only caller, and it calls Enqueue synchronously from inside the
// commit path (e.g. SyncOrderJob.Complete) that produced the drift. Rather
// than run the correction block inline — which would nest a whole
// stepengine.Engine.RunBlock call inside another job's Complete — Enqueue
// only persists the block (SPEC_FULL §9 "durable queue, not a callback"):
// the dispatcher discovers it on its next tick via
// stepengine.Repository.ListPendingRootBlocks and drives it through
// RunBlock like any other workflow. This keeps every workflow entry point
// going through the same replay-safe path, correction or not.
type Enqueuer struct {
	deps *Deps
}

// NewEnqueuer builds an Enqueuer bound to deps. It is wired into
// position.NewOrderChangeEvaluator at startup (internal/di).
func NewEnqueuer(deps *Deps) *Enqueuer {
	return &Enqueuer{deps: deps}
}

func (e *Enqueuer) Enqueue(ctx context.Context, event position.CorrectionEvent) error {
	switch event.Action {
	case position.ActionWapRecalc:
		return e.enqueueWapRecalc(event)
	case position.ActionClose:
		return e.enqueueClose(event)
	case position.ActionCorrectModified:
		return e.persist(BuildCorrectModifiedBlock(event.PositionID, event.OrderID))
	case position.ActionRecreateCancelled:
		return e.enqueueRecreateCancelled(event)
	case position.ActionCancelRecreateAlgo:
		return e.enqueueCancelRecreateAlgo(event)
	default:
		return fmt.Errorf("workflows: unknown correction action %q", event.Action)
	}
}

func (e *Enqueuer) enqueueWapRecalc(event position.CorrectionEvent) error {
	pos, err := e.deps.Positions.Get(event.PositionID)
	if err != nil {
		return err
	}
	if pos.Status != position.StatusWaping {
		if err := e.deps.Positions.Transition(event.PositionID, pos.Status, position.StatusWaping, nil); err != nil {
			return err
		}
	}
	return e.persist(BuildWapRecalcBlock(event.PositionID))
}

func (e *Enqueuer) enqueueClose(event position.CorrectionEvent) error {
	pos, err := e.deps.Positions.Get(event.PositionID)
	if err != nil {
		return err
	}
	if pos.Status != position.StatusClosing {
		if err := e.deps.Positions.Transition(event.PositionID, pos.Status, position.StatusClosing, nil); err != nil {
			return err
		}
	}
	return e.persist(BuildCloseBlock(event.PositionID))
}

// enqueueRecreateCancelled captures the order's reference price/quantity —
// the values the engine intended before the exchange cancelled it — before
// building the block. Nothing mutates those columns between here and
// RecreateCancelledOrderJob's own Compute, but carrying them as step
// arguments (rather than re-reading the order row at run time) keeps the
// block's inputs frozen at the moment drift was detected.
func (e *Enqueuer) enqueueRecreateCancelled(event position.CorrectionEvent) error {
	o, err := e.deps.Orders.Get(event.OrderID)
	if err != nil {
		return err
	}
	return e.persist(BuildRecreateCancelledBlock(event.PositionID, event.OrderID, o.ReferencePrice.String(), o.ReferenceQuantity.String()))
}

func (e *Enqueuer) enqueueCancelRecreateAlgo(event position.CorrectionEvent) error {
	o, err := e.deps.Orders.Get(event.OrderID)
	if err != nil {
		return err
	}
	return e.persist(BuildCancelRecreateAlgoBlock(event.PositionID, event.OrderID, o.ReferencePrice.String(), o.ReferenceQuantity.String()))
}

func (e *Enqueuer) persist(b *stepengine.Builder) error {
	return e.deps.Steps.CreateBlock(b.Steps())
}
