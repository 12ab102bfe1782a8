package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Adapter is the uniform contract the engine depends on. Each supported
// venue (binance, bybit, bitget, kucoin, kraken) provides one implementation
// that builds signed requests (the "prepare*" half) and parses responses
// into the canonical shapes above (the "resolve*" half); callers never see
// the wire format.
type Adapter interface {
	Name() string
	Capability() Capability

	ServerTime(ctx context.Context) (int64, error)
	ExchangeInfo(ctx context.Context, symbol Symbol) (*ExchangeInfoEntry, error)
	MarkPrice(ctx context.Context, symbol Symbol) (decimal.Decimal, error)
	Klines(ctx context.Context, symbol Symbol, interval string, limit int) ([]Kline, error)
	LeverageBrackets(ctx context.Context, symbol Symbol) ([]LeverageBracket, error)

	Balance(ctx context.Context) (*Balance, error)
	Positions(ctx context.Context) (map[string]PositionSnapshot, error)
	OpenOrders(ctx context.Context, symbol Symbol) ([]OrderSnapshot, error)

	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol Symbol, exchangeOrderID string, isAlgo bool) (*OrderResult, error)
	ModifyOrder(ctx context.Context, symbol Symbol, exchangeOrderID string, quantity, price decimal.Decimal) (*OrderResult, error)
	QueryOrder(ctx context.Context, symbol Symbol, exchangeOrderID string, isAlgo bool) (*OrderSnapshot, error)
	CancelAllOrders(ctx context.Context, symbol Symbol) error

	SetLeverage(ctx context.Context, symbol Symbol, leverage int, marginMode MarginMode) error
	SetMarginMode(ctx context.Context, symbol Symbol, marginMode MarginMode) error

	TradeHistory(ctx context.Context, symbol Symbol, since int64) ([]Trade, error)
}

// Credentials bundles the per-account secret material an adapter needs to
// sign requests. KuCoin and BitGet also use Passphrase; Kraken's "Secret" is
// its base64 private key.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}
