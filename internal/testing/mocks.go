package testing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
)

// MockAdapter is a scriptable exchange.Adapter double. Every method delegates
// to an optional function field; unset fields return zero values and a nil
// error, so a test only wires the calls it cares about.
type MockAdapter struct {
	NameFn             func() string
	CapabilityFn       func() exchange.Capability
	ServerTimeFn       func(ctx context.Context) (int64, error)
	ExchangeInfoFn     func(ctx context.Context, symbol exchange.Symbol) (*exchange.ExchangeInfoEntry, error)
	MarkPriceFn        func(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error)
	KlinesFn           func(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error)
	LeverageBracketsFn func(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error)
	BalanceFn          func(ctx context.Context) (*exchange.Balance, error)
	PositionsFn        func(ctx context.Context) (map[string]exchange.PositionSnapshot, error)
	OpenOrdersFn       func(ctx context.Context, symbol exchange.Symbol) ([]exchange.OrderSnapshot, error)
	PlaceOrderFn       func(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderResult, error)
	CancelOrderFn      func(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderResult, error)
	ModifyOrderFn      func(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, quantity, price decimal.Decimal) (*exchange.OrderResult, error)
	QueryOrderFn       func(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderSnapshot, error)
	CancelAllOrdersFn  func(ctx context.Context, symbol exchange.Symbol) error
	SetLeverageFn      func(ctx context.Context, symbol exchange.Symbol, leverage int, marginMode exchange.MarginMode) error
	SetMarginModeFn    func(ctx context.Context, symbol exchange.Symbol, marginMode exchange.MarginMode) error
	TradeHistoryFn     func(ctx context.Context, symbol exchange.Symbol, since int64) ([]exchange.Trade, error)
}

var _ exchange.Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) Name() string {
	if m.NameFn != nil {
		return m.NameFn()
	}
	return "mock"
}

func (m *MockAdapter) Capability() exchange.Capability {
	if m.CapabilityFn != nil {
		return m.CapabilityFn()
	}
	return exchange.Capability{SupportsCancelAllBySymbol: true}
}

func (m *MockAdapter) ServerTime(ctx context.Context) (int64, error) {
	if m.ServerTimeFn != nil {
		return m.ServerTimeFn(ctx)
	}
	return 0, nil
}

func (m *MockAdapter) ExchangeInfo(ctx context.Context, symbol exchange.Symbol) (*exchange.ExchangeInfoEntry, error) {
	if m.ExchangeInfoFn != nil {
		return m.ExchangeInfoFn(ctx, symbol)
	}
	return &exchange.ExchangeInfoEntry{Symbol: symbol}, nil
}

func (m *MockAdapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	if m.MarkPriceFn != nil {
		return m.MarkPriceFn(ctx, symbol)
	}
	return decimal.Zero, nil
}

func (m *MockAdapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	if m.KlinesFn != nil {
		return m.KlinesFn(ctx, symbol, interval, limit)
	}
	return nil, nil
}

func (m *MockAdapter) LeverageBrackets(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error) {
	if m.LeverageBracketsFn != nil {
		return m.LeverageBracketsFn(ctx, symbol)
	}
	return nil, nil
}

func (m *MockAdapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	if m.BalanceFn != nil {
		return m.BalanceFn(ctx)
	}
	return &exchange.Balance{}, nil
}

func (m *MockAdapter) Positions(ctx context.Context) (map[string]exchange.PositionSnapshot, error) {
	if m.PositionsFn != nil {
		return m.PositionsFn(ctx)
	}
	return map[string]exchange.PositionSnapshot{}, nil
}

func (m *MockAdapter) OpenOrders(ctx context.Context, symbol exchange.Symbol) ([]exchange.OrderSnapshot, error) {
	if m.OpenOrdersFn != nil {
		return m.OpenOrdersFn(ctx, symbol)
	}
	return nil, nil
}

func (m *MockAdapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderResult, error) {
	if m.PlaceOrderFn != nil {
		return m.PlaceOrderFn(ctx, req)
	}
	return &exchange.OrderResult{Status: exchange.StatusNew}, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderResult, error) {
	if m.CancelOrderFn != nil {
		return m.CancelOrderFn(ctx, symbol, exchangeOrderID, isAlgo)
	}
	return &exchange.OrderResult{Status: exchange.StatusCancelled}, nil
}

func (m *MockAdapter) ModifyOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, quantity, price decimal.Decimal) (*exchange.OrderResult, error) {
	if m.ModifyOrderFn != nil {
		return m.ModifyOrderFn(ctx, symbol, exchangeOrderID, quantity, price)
	}
	return &exchange.OrderResult{Status: exchange.StatusNew}, nil
}

func (m *MockAdapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderSnapshot, error) {
	if m.QueryOrderFn != nil {
		return m.QueryOrderFn(ctx, symbol, exchangeOrderID, isAlgo)
	}
	return &exchange.OrderSnapshot{ExchangeOrderID: exchangeOrderID, Status: exchange.StatusNotFound}, nil
}

func (m *MockAdapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	if m.CancelAllOrdersFn != nil {
		return m.CancelAllOrdersFn(ctx, symbol)
	}
	return nil
}

func (m *MockAdapter) SetLeverage(ctx context.Context, symbol exchange.Symbol, leverage int, marginMode exchange.MarginMode) error {
	if m.SetLeverageFn != nil {
		return m.SetLeverageFn(ctx, symbol, leverage, marginMode)
	}
	return nil
}

func (m *MockAdapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, marginMode exchange.MarginMode) error {
	if m.SetMarginModeFn != nil {
		return m.SetMarginModeFn(ctx, symbol, marginMode)
	}
	return nil
}

func (m *MockAdapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, since int64) ([]exchange.Trade, error) {
	if m.TradeHistoryFn != nil {
		return m.TradeHistoryFn(ctx, symbol, since)
	}
	return nil, nil
}
