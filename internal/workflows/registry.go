package workflows

import (
	"github.com/martingalian/ladder-engine/internal/jobrun"
	"github.com/martingalian/ladder-engine/internal/stepengine"
)

// Register binds every atomic job class this package defines to its
// factory on engine, closing each one over deps (SPEC_FULL §4.5 "the
// registry is the only place a step class name resolves to code"). Called
// once at startup (internal/di) after deps is fully constructed.
func Register(engine *stepengine.Engine, deps *Deps) {
	bind := func(class string, factory func(*Deps, *stepengine.Step) (jobrun.Job, error)) {
		engine.Register(class, func(step *stepengine.Step) (jobrun.Job, error) {
			return factory(deps, step)
		})
	}

	bind(ClassPrepare, NewPrepareJob)
	bind(ClassVerifyNotional, NewVerifyNotionalJob)
	bind(ClassSetMarginMode, NewSetMarginModeJob)
	bind(ClassDetermineLeverage, NewDetermineLeverageJob)
	bind(ClassSetLeverage, NewSetLeverageJob)
	bind(ClassPlaceMarket, NewPlaceMarketJob)
	bind(ClassDispatchLimits, NewDispatchLimitsJob)
	bind(ClassPlaceLimitRung, NewPlaceLimitRungJob)
	bind(ClassPlaceProfit, NewPlaceProfitJob)
	bind(ClassPlaceStopLoss, NewPlaceStopLossJob)
	bind(ClassActivate, NewActivateJob)

	bind(ClassSyncOrder, NewSyncOrderJob)
	bind(ClassVerifyIfTPIsFilled, NewVerifyIfTPIsFilledJob)
	bind(ClassCalculateWapAndModifyProfitOrder, NewCalculateWapAndModifyProfitOrderJob)

	bind(ClassCorrectModifiedOrder, NewCorrectModifiedOrderJob)
	bind(ClassCancelSingleAlgoOrder, NewCancelSingleAlgoOrderJob)
	bind(ClassRecreateCancelledOrder, NewRecreateCancelledOrderJob)

	bind(ClassPumpCooldownCheck, NewPumpCooldownCheckJob)
	bind(ClassCancelPositionOpenOrders, NewCancelPositionOpenOrdersJob)
	bind(ClassCancelAlgoOpenOrders, NewCancelAlgoOpenOrdersJob)
	bind(ClassClosePositionAtomically, NewClosePositionAtomicallyJob)
	bind(ClassVerifyPositionResidual, NewVerifyPositionResidualAmountJob)
	bind(ClassUpdateRemainingClosingData, NewUpdateRemainingClosingDataJob)

	bind(ClassVerifyPositionExistsOnExchange, NewVerifyPositionExistsOnExchangeJob)
	bind(ClassRecreateMissingOrders, NewRecreateMissingOrdersJob)
}
