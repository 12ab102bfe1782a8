package testing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/account"
	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/planner"
	"github.com/martingalian/ladder-engine/internal/position"
	"github.com/martingalian/ladder-engine/internal/symbol"
)

// NewAccount builds a fully-populated Account fixture with sane defaults;
// callers mutate the returned pointer for the fields their test cares about.
func NewAccount() *account.Account {
	return &account.Account{
		ID:                          1,
		Name:                        "test-account",
		Exchange:                    "binance",
		APIKeyEnc:                   "enc:key",
		APISecretEnc:                "enc:secret",
		APIPassphraseEnc:            "",
		TradingQuote:                "USDT",
		MaxPositionPercentage:       decimal.NewFromInt(5),
		PositionLeverageLong:        20,
		PositionLeverageShort:       20,
		MarginMode:                  exchange.Isolated,
		StopMarketInitialPercentage: decimal.NewFromInt(10),
		ProfitPercentage:            decimal.NewFromFloat(1.5),
		TotalLimitOrdersToNotify:    2,
		HeadroomPct:                 decimal.NewFromInt(10),
		MaxConcurrency:              3,
		CanTrade:                    true,
		KillSwitch:                  false,
		Enabled:                     true,
		CreatedAt:                   time.Unix(0, 0).UTC(),
		UpdatedAt:                   time.Unix(0, 0).UTC(),
	}
}

// NewSymbol builds a fully-populated Symbol fixture for "binance BTCUSDT"
// with a simple two-bracket leverage table and a 4-rung ladder.
func NewSymbol() *symbol.Symbol {
	return &symbol.Symbol{
		ID:                1,
		Exchange:          "binance",
		Token:             "BTC",
		Quote:             "USDT",
		ParsedTradingPair: "BTCUSDT",
		TickSize:          decimal.NewFromFloat(0.1),
		LotStep:           decimal.NewFromFloat(0.001),
		PricePrecision:    1,
		QuantityPrecision: 3,
		MinNotional:       decimal.NewFromInt(5),
		MinPrice:          decimal.NewFromFloat(0.1),
		MaxPrice:          decimal.NewFromInt(1000000),
		LeverageBrackets: []planner.LeverageBracket{
			{Bracket: 1, InitialLeverage: 125, NotionalFloor: decimal.Zero, NotionalCap: decimal.NewFromInt(50000), MaintMarginRate: decimal.NewFromFloat(0.004)},
			{Bracket: 2, InitialLeverage: 100, NotionalFloor: decimal.NewFromInt(50000), NotionalCap: decimal.NewFromInt(250000), MaintMarginRate: decimal.NewFromFloat(0.005)},
		},
		LimitQuantityMultipliers: []decimal.Decimal{
			decimal.NewFromInt(2), decimal.NewFromInt(2), decimal.NewFromInt(2), decimal.NewFromInt(2),
		},
		PercentageGapLong:       decimal.NewFromInt(2),
		PercentageGapShort:      decimal.NewFromInt(2),
		DisableOnPriceSpikePct:  decimal.NewFromInt(10),
		PriceSpikeCooldownHours: 4,
		TotalLimitOrders:        4,
		TradeableAt:             time.Unix(0, 0).UTC(),
		MarkPrice:               decimal.NewFromInt(60000),
		MarkPriceSyncedAt:       time.Unix(0, 0).UTC(),
		HasStalePrice:           false,
		UpdatedAt:               time.Unix(0, 0).UTC(),
	}
}

// NewPosition builds a Position fixture in StatusNew for a LONG direction,
// ready to carry an account/symbol ID pair from the caller's test fixtures.
func NewPosition(accountID, symbolID int64) *position.Position {
	return &position.Position{
		AccountID:        accountID,
		SymbolID:         symbolID,
		Direction:        planner.Long,
		Status:           position.StatusNew,
		Margin:           decimal.NewFromInt(50),
		WAP:              decimal.Zero,
		Quantity:         decimal.Zero,
		Leverage:         10,
		OpeningPrice:     decimal.Zero,
		ClosingPrice:     decimal.Zero,
		TakeProfitPrice:  decimal.Zero,
		FirstProfitPrice: decimal.Zero,
		StopLossPrice:    decimal.Zero,
		ProfitPercentage: decimal.NewFromFloat(0.36),
		TotalLimitOrders: 4,
		RealizedPnL:      decimal.Zero,
	}
}

// NewOrder builds an Order fixture bound to positionID, with no reference
// values yet captured (HasReference() == false) — the state before the
// placing job commits reference values.
func NewOrder(positionID int64, kind exchange.OrderType, rung int, price, quantity decimal.Decimal) *position.Order {
	return &position.Order{
		PositionID:    positionID,
		ClientOrderID: "test-client-order-id",
		Rung:          rung,
		Kind:          kind,
		Side:          exchange.Buy,
		PositionSide:  exchange.PositionBoth,
		IsAlgo:        kind == exchange.StopMarket,
		Price:         price,
		Quantity:      quantity,
		Status:        exchange.StatusNew,
	}
}
