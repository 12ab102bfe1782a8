// Package kucoin adapts KuCoin Futures to the canonical exchange.Adapter
// contract. Like BitGet, KuCoin requires a passphrase header alongside the
// API key/secret; unlike BitGet it does support a native cancel-all-by-symbol
// endpoint and places TP/SL as independent reduce-only stop orders rather
// than attaching them to the position.
package kucoin

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/exchange/httpx"
	"github.com/martingalian/ladder-engine/internal/exchange/ratelimit"
)

const baseURL = "https://api-futures.kucoin.com"

type Adapter struct {
	http       *httpx.Client
	limiter    *ratelimit.Limiter
	account    int64
	passphrase string
}

func New(creds exchange.Credentials, limiter *ratelimit.Limiter, account int64) *Adapter {
	return &Adapter{
		http:       httpx.New(baseURL, creds.APIKey, creds.APISecret, 10*time.Second),
		limiter:    limiter,
		account:    account,
		passphrase: creds.Passphrase,
	}
}

func (a *Adapter) Name() string { return "kucoin" }

func (a *Adapter) Capability() exchange.Capability {
	return exchange.Capability{
		SupportsCancelAllBySymbol: true,
		PositionAttachedTPSL:      false,
		AlgoOrdersNeedSeparateAPI: false,
	}
}

func (a *Adapter) wait(ctx context.Context, weight int) error {
	return a.limiter.Wait(ctx, a.account, weight)
}

func (a *Adapter) do(req httpx.Request, out interface{}) error {
	if req.ExtraHeader == nil {
		req.ExtraHeader = map[string]string{}
	}
	req.ExtraHeader["KC-API-PASSPHRASE"] = a.passphrase
	resp, err := a.http.Do(req, out)
	return classify(a.Name(), req.Path, resp, err)
}

func (a *Adapter) ServerTime(ctx context.Context) (int64, error) {
	if err := a.wait(ctx, 1); err != nil {
		return 0, err
	}
	var out struct {
		Data int64 `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/timestamp"}, &out); err != nil {
		return 0, err
	}
	return out.Data, nil
}

func (a *Adapter) ExchangeInfo(ctx context.Context, symbol exchange.Symbol) (*exchange.ExchangeInfoEntry, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			Symbol         string `json:"symbol"`
			TickSize       string `json:"tickSize"`
			LotSize        string `json:"lotSize"`
			PricePrecision int32  `json:"pricePrecision"`
			MultiplierStr  string `json:"multiplier"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/contracts/" + symbol.String()}, &out); err != nil {
		return nil, err
	}
	if out.Data.Symbol == "" {
		return nil, fmt.Errorf("kucoin: symbol %s not found", symbol.String())
	}
	tick := decimal.RequireFromString(out.Data.TickSize)
	lot := decimal.RequireFromString(out.Data.LotSize)
	return &exchange.ExchangeInfoEntry{
		Symbol:            symbol,
		ParsedTradingPair: out.Data.Symbol,
		TickSize:          tick,
		LotStep:           lot,
		PricePrecision:    out.Data.PricePrecision,
		QuantityPrecision: int32(lot.Exponent() * -1),
	}, nil
}

func (a *Adapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	if err := a.wait(ctx, 1); err != nil {
		return decimal.Zero, err
	}
	var out struct {
		Data struct {
			MarkPrice string `json:"markPrice"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/mark-price/" + symbol.String() + "/current"}, &out); err != nil {
		return decimal.Zero, err
	}
	return decimal.RequireFromString(out.Data.MarkPrice), nil
}

func (a *Adapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out struct {
		Data [][]float64 `json:"data"`
	}
	params := url.Values{"symbol": {symbol.String()}, "granularity": {interval}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/kline/query", Params: params}, &out); err != nil {
		return nil, err
	}
	n := len(out.Data)
	if n > limit {
		out.Data = out.Data[n-limit:]
	}
	klines := make([]exchange.Kline, 0, len(out.Data))
	for _, row := range out.Data {
		if len(row) < 6 {
			continue
		}
		klines = append(klines, exchange.Kline{
			OpenTime: time.UnixMilli(int64(row[0])),
			Open:     decimal.NewFromFloat(row[1]),
			High:     decimal.NewFromFloat(row[2]),
			Low:      decimal.NewFromFloat(row[3]),
			Close:    decimal.NewFromFloat(row[4]),
			Volume:   decimal.NewFromFloat(row[5]),
		})
	}
	return klines, nil
}

func (a *Adapter) LeverageBrackets(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			Level        int    `json:"level"`
			MaxRiskLimit int64  `json:"maxRiskLimit"`
			MinRiskLimit int64  `json:"minRiskLimit"`
			MaxLeverage  int    `json:"maxLeverage"`
			InitialMargin string `json:"initialMargin"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/contracts/risk-limit/" + symbol.String()}, &out); err != nil {
		return nil, err
	}
	brackets := make([]exchange.LeverageBracket, 0, len(out.Data))
	for _, l := range out.Data {
		brackets = append(brackets, exchange.LeverageBracket{
			Bracket:         l.Level,
			InitialLeverage: l.MaxLeverage,
			NotionalFloor:   decimal.NewFromInt(l.MinRiskLimit),
			NotionalCap:     decimal.NewFromInt(l.MaxRiskLimit),
			MaintMarginRate: decimal.RequireFromString(l.InitialMargin),
		})
	}
	return brackets, nil
}

func (a *Adapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			AccountEquity   float64 `json:"accountEquity"`
			AvailableBalance float64 `json:"availableBalance"`
			UnrealisedPNL   float64 `json:"unrealisedPNL"`
		} `json:"data"`
	}
	params := url.Values{"currency": {"USDT"}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/account-overview", Params: params}, &out); err != nil {
		return nil, err
	}
	return &exchange.Balance{
		Wallet:             decimal.NewFromFloat(out.Data.AccountEquity),
		Available:          decimal.NewFromFloat(out.Data.AvailableBalance),
		CrossWallet:        decimal.NewFromFloat(out.Data.AccountEquity),
		CrossUnrealizedPnL: decimal.NewFromFloat(out.Data.UnrealisedPNL),
	}, nil
}

func (a *Adapter) Positions(ctx context.Context) (map[string]exchange.PositionSnapshot, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			Symbol       string  `json:"symbol"`
			CurrentQty   float64 `json:"currentQty"`
			AvgEntryPrice float64 `json:"avgEntryPrice"`
			RealLeverage float64 `json:"realLeverage"`
			CrossMode    bool    `json:"crossMode"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/positions"}, &out); err != nil {
		return nil, err
	}
	result := make(map[string]exchange.PositionSnapshot)
	for _, p := range out.Data {
		if p.CurrentQty == 0 {
			continue
		}
		side := exchange.PositionLong
		if p.CurrentQty < 0 {
			side = exchange.PositionShort
		}
		margin := exchange.Isolated
		if p.CrossMode {
			margin = exchange.Crossed
		}
		key := exchange.PositionKey(p.Symbol, side)
		result[key] = exchange.PositionSnapshot{
			Symbol:      exchange.Symbol{Base: p.Symbol},
			PositionAmt: decimal.NewFromFloat(p.CurrentQty),
			EntryPrice:  decimal.NewFromFloat(p.AvgEntryPrice),
			Leverage:    int(p.RealLeverage),
			MarginMode:  margin,
		}
	}
	return result, nil
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol exchange.Symbol) ([]exchange.OrderSnapshot, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			Items []struct {
				Id         string  `json:"id"`
				Status     string  `json:"status"`
				Price      string  `json:"price"`
				Size       float64 `json:"size"`
				FilledSize float64 `json:"filledSize"`
			} `json:"items"`
		} `json:"data"`
	}
	params := url.Values{"symbol": {symbol.String()}, "status": {"active"}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/orders", Params: params}, &out); err != nil {
		return nil, err
	}
	snapshots := make([]exchange.OrderSnapshot, 0, len(out.Data.Items))
	for _, o := range out.Data.Items {
		snapshots = append(snapshots, exchange.OrderSnapshot{
			ExchangeOrderID: o.Id,
			Status:          exchange.CanonicalizeStatus(o.Status),
			Price:           decimal.RequireFromString(o.Price),
			Quantity:        decimal.NewFromFloat(o.Size),
			FilledQuantity:  decimal.NewFromFloat(o.FilledSize),
		})
	}
	return snapshots, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	params := url.Values{
		"symbol":    {req.Symbol.String()},
		"side":      {kucoinSide(req.Side)},
		"type":      {kucoinOrderType(req.Type)},
		"size":      {req.Quantity.String()},
		"clientOid": {req.ClientOrderID},
		"leverage":  {"1"},
	}
	if req.Type == exchange.Limit || req.Type == exchange.ProfitLimit {
		params.Set("price", req.Price.String())
	}
	if req.Type == exchange.StopMarket {
		params.Set("stop", "down")
		params.Set("stopPrice", req.StopPrice.String())
		params.Set("stopPriceType", "MP")
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	var out struct {
		Data struct {
			OrderId string `json:"orderId"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "POST", Path: "/api/v1/orders", Params: params}, &out); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: out.Data.OrderId, Status: exchange.StatusNew}, nil
}

func kucoinSide(s exchange.Side) string {
	if s == exchange.Sell {
		return "sell"
	}
	return "buy"
}

func kucoinOrderType(t exchange.OrderType) string {
	if t == exchange.Market || t == exchange.StopMarket {
		return "market"
	}
	return "limit"
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			CancelledOrderIds []string `json:"cancelledOrderIds"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "DELETE", Path: "/api/v1/orders/" + exchangeOrderID}, &out); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: exchangeOrderID, Status: exchange.StatusCancelled}, nil
}

// ModifyOrder has no native amend on KuCoin Futures; it returns a
// JustResolve APIError, and no workflow falls back to cancel-and-re-place.
func (a *Adapter) ModifyOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, quantity, price decimal.Decimal) (*exchange.OrderResult, error) {
	return nil, &exchange.APIError{
		Exchange:       a.Name(),
		Op:             "modifyOrder",
		Classification: exchange.JustResolve,
		Err:            fmt.Errorf("kucoin futures has no order-amend endpoint, cancel and replace"),
	}
}

func (a *Adapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderSnapshot, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			Id         string  `json:"id"`
			Status     string  `json:"status"`
			Price      string  `json:"price"`
			Size       float64 `json:"size"`
			FilledSize float64 `json:"filledSize"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/orders/" + exchangeOrderID}, &out); err != nil {
		return nil, err
	}
	return &exchange.OrderSnapshot{
		ExchangeOrderID: out.Data.Id,
		Status:          exchange.CanonicalizeStatus(out.Data.Status),
		Price:           decimal.RequireFromString(out.Data.Price),
		Quantity:        decimal.NewFromFloat(out.Data.Size),
		FilledQuantity:  decimal.NewFromFloat(out.Data.FilledSize),
	}, nil
}

func (a *Adapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	params := url.Values{"symbol": {symbol.String()}}
	return a.do(httpx.Request{Method: "DELETE", Path: "/api/v1/orders", Params: params}, nil)
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol exchange.Symbol, leverage int, marginMode exchange.MarginMode) error {
	// KuCoin Futures takes leverage per-order rather than as a standing
	// account setting; PlaceOrder already sets it. Nothing to persist here.
	return nil
}

func (a *Adapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, marginMode exchange.MarginMode) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	wire := "CROSS"
	if marginMode == exchange.Isolated {
		wire = "ISOLATED"
	}
	params := url.Values{"symbol": {symbol.String()}, "marginMode": {wire}}
	return a.do(httpx.Request{Method: "POST", Path: "/api/v2/position/changeMarginMode", Params: params}, nil)
}

func (a *Adapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, since int64) ([]exchange.Trade, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			Items []struct {
				OrderId string  `json:"orderId"`
				Price   string  `json:"price"`
				Size    float64 `json:"size"`
				TradeTime int64 `json:"tradeTime"`
				Side    string  `json:"side"`
			} `json:"items"`
		} `json:"data"`
	}
	params := url.Values{"symbol": {symbol.String()}, "startAt": {strconv.FormatInt(since, 10)}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v1/fills", Params: params}, &out); err != nil {
		return nil, err
	}
	trades := make([]exchange.Trade, 0, len(out.Data.Items))
	for _, t := range out.Data.Items {
		trades = append(trades, exchange.Trade{
			ExchangeOrderID: t.OrderId,
			Price:           decimal.RequireFromString(t.Price),
			Quantity:        decimal.NewFromFloat(t.Size),
			Time:            time.Unix(0, t.TradeTime),
			Side:            exchange.Side(t.Side),
		})
	}
	return trades, nil
}
