// Package exchange defines the canonical, broker-agnostic contract every
// supported venue (Binance, Bybit, BitGet, KuCoin, Kraken) is adapted to.
// The core engine (planner, workflows, position store) only ever speaks
// these canonical shapes; each subpackage (binance, bybit, ...) owns the
// wire-format translation in and out of them.
package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the canonical order type vocabulary.
type OrderType string

const (
	Market      OrderType = "MARKET"
	Limit       OrderType = "LIMIT"
	ProfitLimit OrderType = "PROFIT-LIMIT"
	StopMarket  OrderType = "STOP-MARKET"
)

// Side is the canonical order side.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// PositionSide distinguishes hedge-mode legs; Both is used on exchanges
// without hedge mode.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionBoth  PositionSide = "BOTH"
)

// MarginMode is the canonical margin-mode vocabulary; adapters map it to
// exchange-specific wire values.
type MarginMode string

const (
	Isolated MarginMode = "isolated"
	Crossed  MarginMode = "crossed"
)

// Symbol is the canonical internal representation of a tradable pair.
type Symbol struct {
	Base  string // e.g. "BTC"
	Quote string // e.g. "USDT"
}

// String renders the canonical "BASEQUOTE" form used for logging and keys.
func (s Symbol) String() string { return s.Base + s.Quote }

// PositionKey returns the "<PARSED_PAIR>:<DIRECTION>" key used to address a
// position. The direction is always part of the key, also on exchanges
// without hedge mode, where it is not part of the wire request.
func PositionKey(parsedPair string, side PositionSide) string {
	return parsedPair + ":" + string(side)
}

// LeverageBracket mirrors planner.LeverageBracket; kept as its own type here
// so internal/exchange never imports internal/planner (leaf package, no
// upward dependencies).
type LeverageBracket struct {
	Bracket         int
	InitialLeverage int
	NotionalFloor   decimal.Decimal
	NotionalCap     decimal.Decimal
	MaintMarginRate decimal.Decimal
}

// PlaceOrderRequest is the canonical input to Adapter.PlaceOrder.
type PlaceOrderRequest struct {
	Symbol        Symbol
	Side          Side
	PositionSide  PositionSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // zero for MARKET
	StopPrice     decimal.Decimal // set for STOP-MARKET
	ClientOrderID string
	ReduceOnly    bool
}

// OrderResult is the canonical result of PlaceOrder/CancelOrder/ModifyOrder.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	IsAlgo          bool
}

// OrderSnapshot is the canonical result of QueryOrder.
type OrderSnapshot struct {
	ExchangeOrderID string
	Status          OrderStatus
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	IsAlgo          bool
}

// PositionSnapshot is one entry of the openPositions map, keyed by
// PositionKey.
type PositionSnapshot struct {
	Symbol       Symbol
	PositionAmt  decimal.Decimal // signed: positive long, negative short
	EntryPrice   decimal.Decimal
	Leverage     int
	MarginMode   MarginMode
}

// Balance is the canonical result of Adapter.Balance.
type Balance struct {
	Wallet              decimal.Decimal
	Available           decimal.Decimal
	CrossWallet         decimal.Decimal
	CrossUnrealizedPnL  decimal.Decimal
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Trade is one executed trade entry from tradeHistory.
type Trade struct {
	ExchangeOrderID string
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	Time            time.Time
	Side            Side
}

// ExchangeInfoEntry carries the static, slow-changing parameters of one
// symbol (tick size, precision, notional floor) as reported by the venue.
type ExchangeInfoEntry struct {
	Symbol            Symbol
	ParsedTradingPair string
	TickSize          decimal.Decimal
	LotStep           decimal.Decimal
	PricePrecision    int32
	QuantityPrecision int32
	MinPrice          decimal.Decimal
	MaxPrice          decimal.Decimal
	MinNotional       decimal.Decimal
}

// Capability flags isolate per-exchange divergences as data rather than as
// branches inside otherwise-generic workflow code (SPEC_FULL §9).
type Capability struct {
	SupportsCancelAllBySymbol bool
	PositionAttachedTPSL      bool
	AlgoOrdersNeedSeparateAPI bool
}
