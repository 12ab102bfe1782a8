package workflows

// Step class identifiers. These are the values stored in steps.class and
// looked up in the Engine's job-factory registry (SPEC_FULL §4.5/§4.6).
const (
	ClassPrepare           = "prepare"
	ClassVerifyNotional    = "verify-notional"
	ClassSetMarginMode     = "set-margin-mode"
	ClassDetermineLeverage = "determine-leverage"
	ClassSetLeverage       = "set-leverage"
	ClassPlaceMarket       = "place-market"
	ClassDispatchLimits    = "dispatch-limits"
	ClassPlaceLimitRung    = "place-limit-rung"
	ClassPlaceProfit       = "place-profit"
	ClassPlaceStopLoss     = "place-stop-loss"
	ClassActivate          = "activate"

	ClassSyncOrder                        = "sync-order"
	ClassVerifyIfTPIsFilled                = "verify-tp-filled"
	ClassCalculateWapAndModifyProfitOrder = "calculate-wap-modify-profit"

	ClassCorrectModifiedOrder   = "correct-modified-order"
	ClassCancelSingleAlgoOrder  = "cancel-single-algo-order"
	ClassRecreateCancelledOrder = "recreate-cancelled-order"

	ClassPumpCooldownCheck          = "pump-cooldown-check"
	ClassCancelPositionOpenOrders   = "cancel-position-open-orders"
	ClassCancelAlgoOpenOrders       = "cancel-algo-open-orders"
	ClassClosePositionAtomically    = "close-position-atomically"
	ClassVerifyPositionResidual     = "verify-position-residual-amount"
	ClassUpdateRemainingClosingData = "update-remaining-closing-data"

	ClassVerifyPositionExistsOnExchange = "verify-position-exists-on-exchange"
	ClassRecreateMissingOrders          = "recreate-missing-orders"
)
