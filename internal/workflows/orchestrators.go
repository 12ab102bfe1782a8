package workflows

import (
	"github.com/martingalian/ladder-engine/internal/stepengine"
)

// BuildOpenPositionBlock assembles the OpenPosition workflow (SPEC_FULL
// §4.2): prepare and verify-notional run first so a dead symbol or
// undersized margin fails before anything touches the exchange, then
// margin mode and leverage are set, the MARKET entry is placed, the limit
// ladder fans out dynamically (DispatchLimitsJob doesn't know the rung
// count until PlaceMarket's ladder is on hand), and profit/stop-loss/
// activate close the sequence once every rung step is settled.
//
// The ladder fan-out's child block is built here (empty — DispatchLimitsJob
// populates it at runtime) and wired to the dispatch step via
// ThenFanOut, mirroring the parent/child relationship SPEC_FULL §4.5
// describes for dynamic step counts.
func BuildOpenPositionBlock(positionID int64) *stepengine.Builder {
	args := encodeArgs(positionArgs{PositionID: positionID})
	childBlockUUID := stepengine.NewBlockUUID()

	b := stepengine.NewBuilder()
	b.Then(ClassPrepare, args)
	b.Then(ClassVerifyNotional, args)
	b.Then(ClassSetMarginMode, args)
	b.Then(ClassDetermineLeverage, args)
	b.Then(ClassSetLeverage, args)
	b.Then(ClassPlaceMarket, args)
	b.ThenFanOut(ClassDispatchLimits, args, childBlockUUID)
	b.Then(ClassPlaceProfit, args)
	b.Then(ClassPlaceStopLoss, args)
	b.Then(ClassActivate, args)
	return b
}

// BuildSyncPositionOrdersBlock assembles the per-position sync sweep
// (SPEC_FULL §4.7): one SyncOrderJob per tracked order, run concurrently
// since none of them depend on another's result. The dispatcher calls this
// once per active position on every tick.
func BuildSyncPositionOrdersBlock(positionID int64, orderIDs []int64) *stepengine.Builder {
	b := stepengine.NewBuilder()
	specs := make([]stepengine.StepSpec, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		specs = append(specs, stepengine.StepSpec{
			Class:     ClassSyncOrder,
			Arguments: encodeArgs(orderArgs{PositionID: positionID, OrderID: orderID}),
		})
	}
	if len(specs) > 0 {
		b.Parallel(specs...)
	}
	return b
}

// BuildWapRecalcBlock assembles the two-step sequence ActionWapRecalc
// triggers (SPEC_FULL §4.7): confirm the TP hasn't also filled before
// recalculating over it.
func BuildWapRecalcBlock(positionID int64) *stepengine.Builder {
	args := encodeArgs(positionArgs{PositionID: positionID})
	b := stepengine.NewBuilder()
	b.Then(ClassVerifyIfTPIsFilled, args)
	b.Then(ClassCalculateWapAndModifyProfitOrder, args)
	return b
}

// BuildCloseBlock assembles the Close workflow (SPEC_FULL §4.9): cooldown
// check, then cancel every resting order (non-algo and algo run
// concurrently since neither depends on the other), flatten the residual,
// verify it's gone, and record the final numbers.
func BuildCloseBlock(positionID int64) *stepengine.Builder {
	args := encodeArgs(positionArgs{PositionID: positionID})
	b := stepengine.NewBuilder()
	b.Then(ClassPumpCooldownCheck, args)
	b.Parallel(
		stepengine.StepSpec{Class: ClassCancelPositionOpenOrders, Arguments: args},
		stepengine.StepSpec{Class: ClassCancelAlgoOpenOrders, Arguments: args},
	)
	b.Then(ClassClosePositionAtomically, args)
	b.Then(ClassVerifyPositionResidual, args)
	b.Then(ClassUpdateRemainingClosingData, args)
	return b
}

// BuildCorrectModifiedBlock is ActionCorrectModified's single-step
// correction: the order can be modified in place, no cancel/recreate
// round-trip needed.
func BuildCorrectModifiedBlock(positionID, orderID int64) *stepengine.Builder {
	b := stepengine.NewBuilder()
	b.Then(ClassCorrectModifiedOrder, encodeArgs(orderArgs{PositionID: positionID, OrderID: orderID}))
	return b
}

// BuildRecreateCancelledBlock is ActionRecreateCancelled's single-step
// correction: the exchange already cancelled the order, so there's nothing
// to cancel — only a fresh one to place at the last values the system
// intended.
func BuildRecreateCancelledBlock(positionID, orderID int64, originalPrice, originalQty string) *stepengine.Builder {
	b := stepengine.NewBuilder()
	b.Then(ClassRecreateCancelledOrder, encodeArgs(recreateArgs{
		PositionID: positionID, OrderID: orderID,
		OriginalPrice: originalPrice, OriginalQty: originalQty,
	}))
	return b
}

// BuildCancelRecreateAlgoBlock is ActionCancelRecreateAlgo's two-step
// correction: algo orders can't be modified in place, so cancel first and
// recreate at the values captured before the cancel overwrote them.
func BuildCancelRecreateAlgoBlock(positionID, orderID int64, originalPrice, originalQty string) *stepengine.Builder {
	b := stepengine.NewBuilder()
	b.Then(ClassCancelSingleAlgoOrder, encodeArgs(orderArgs{PositionID: positionID, OrderID: orderID}))
	b.Then(ClassRecreateCancelledOrder, encodeArgs(recreateArgs{
		PositionID: positionID, OrderID: orderID,
		OriginalPrice: originalPrice, OriginalQty: originalQty,
	}))
	return b
}

// BuildCancelBlock assembles the Cancel workflow (SPEC_FULL §2 component H,
// spec.md §6 operator command "position cancel <id>"): cancel every resting
// order — non-algo and algo concurrently, same as Close's first step — with
// no market-reduce, since a position an operator cancels may never have
// accumulated exchange exposure. The caller transitions the position from
// cancelling to cancelled once this block completes; no atomic job is
// needed for that bookkeeping move since it makes no exchange call.
func BuildCancelBlock(positionID int64) *stepengine.Builder {
	args := encodeArgs(positionArgs{PositionID: positionID})
	b := stepengine.NewBuilder()
	b.Parallel(
		stepengine.StepSpec{Class: ClassCancelPositionOpenOrders, Arguments: args},
		stepengine.StepSpec{Class: ClassCancelAlgoOpenOrders, Arguments: args},
	)
	return b
}

// BuildSmartReplaceBlock assembles the SmartReplace sweep (SPEC_FULL
// §4.8): a single fan-out step whose child block VerifyPositionExistsOnExchangeJob
// populates at runtime with one RecreateMissingOrdersJob per order the
// exchange no longer shows.
func BuildSmartReplaceBlock(positionID int64) *stepengine.Builder {
	args := encodeArgs(positionArgs{PositionID: positionID})
	childBlockUUID := stepengine.NewBlockUUID()
	b := stepengine.NewBuilder()
	b.ThenFanOut(ClassVerifyPositionExistsOnExchange, args, childBlockUUID)
	return b
}
