// Package binance adapts Binance USDS-M futures to the canonical
// exchange.Adapter contract. Binance is the reference venue: hedge-mode
// positionSide, query-string HMAC signing, and (since Dec 2025) algo orders
// (STOP-MARKET, take-profit) routed through a separate /fapi/v1/algoOrder
// family rather than the plain order endpoint.
package binance

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

const baseURL = "https://fapi.binance.com"

// Adapter implements exchange.Adapter for Binance USDS-M futures.
type Adapter struct {
	http    *httpx.Client
	limiter *ratelimit.Limiter
	account int64
}

// New builds a Binance adapter bound to one account's credentials.
func New(creds exchange.Credentials, limiter *ratelimit.Limiter, account int64) *Adapter {
	return &Adapter{
		http:    httpx.New(baseURL, creds.APIKey, creds.APISecret, 10*time.Second),
		limiter: limiter,
		account: account,
	}
}

func (a *Adapter) Name() string { return "binance" }

// Capability reports the reference capability set: every divergence flag
// defaults false/true in the direction Binance actually behaves, so other
// adapters only need to override what differs.
func (a *Adapter) Capability() exchange.Capability {
	return exchange.Capability{
		SupportsCancelAllBySymbol: true,
		PositionAttachedTPSL:      false,
		AlgoOrdersNeedSeparateAPI: true,
	}
}

func (a *Adapter) wait(ctx context.Context, weight int) error {
	return a.limiter.Wait(ctx, a.account, weight)
}

func (a *Adapter) ServerTime(ctx context.Context) (int64, error) {
	if err := a.wait(ctx, 1); err != nil {
		return 0, err
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/fapi/v1/time"}, &out)
	if err := classify(a.Name(), "serverTime", resp, err); err != nil {
		return 0, err
	}
	return out.ServerTime, nil
}

func (a *Adapter) ExchangeInfo(ctx context.Context, symbol exchange.Symbol) (*exchange.ExchangeInfoEntry, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			PricePrec  int32  `json:"pricePrecision"`
			QtyPrec    int32  `json:"quantityPrecision"`
			Filters    []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				MinNotional string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/fapi/v1/exchangeInfo"}, &out)
	if err := classify(a.Name(), "exchangeInfo", resp, err); err != nil {
		return nil, err
	}

	want := symbol.String()
	for _, s := range out.Symbols {
		if s.Symbol != want {
			continue
		}
		entry := &exchange.ExchangeInfoEntry{
			Symbol:            symbol,
			ParsedTradingPair: s.Symbol,
			PricePrecision:    s.PricePrec,
			QuantityPrecision: s.QtyPrec,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				entry.TickSize = decimal.RequireFromString(f.TickSize)
			case "LOT_SIZE":
				entry.LotStep = decimal.RequireFromString(f.StepSize)
			case "MIN_NOTIONAL":
				entry.MinNotional = decimal.RequireFromString(f.MinNotional)
			}
		}
		return entry, nil
	}
	return nil, fmt.Errorf("binance: symbol %s not found in exchangeInfo", want)
}

func (a *Adapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	if err := a.wait(ctx, 1); err != nil {
		return decimal.Zero, err
	}
	var out struct {
		MarkPrice string `json:"markPrice"`
	}
	params := url.Values{"symbol": {symbol.String()}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/fapi/v1/premiumIndex", Params: params}, &out)
	if err := classify(a.Name(), "markPrice", resp, err); err != nil {
		return decimal.Zero, err
	}
	return decimal.RequireFromString(out.MarkPrice), nil
}

func (a *Adapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var raw [][]interface{}
	params := url.Values{
		"symbol":   {symbol.String()},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/fapi/v1/klines", Params: params}, &raw)
	if err := classify(a.Name(), "klines", resp, err); err != nil {
		return nil, err
	}

	klines := make([]exchange.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openMs, _ := row[0].(float64)
		klines = append(klines, exchange.Kline{
			OpenTime: time.UnixMilli(int64(openMs)),
			Open:     decimal.RequireFromString(fmt.Sprint(row[1])),
			High:     decimal.RequireFromString(fmt.Sprint(row[2])),
			Low:      decimal.RequireFromString(fmt.Sprint(row[3])),
			Close:    decimal.RequireFromString(fmt.Sprint(row[4])),
			Volume:   decimal.RequireFromString(fmt.Sprint(row[5])),
		})
	}
	return klines, nil
}

func (a *Adapter) LeverageBrackets(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out []struct {
		Symbol   string `json:"symbol"`
		Brackets []struct {
			Bracket         int    `json:"bracket"`
			InitialLeverage int    `json:"initialLeverage"`
			NotionalFloor   int64  `json:"notionalFloor"`
			NotionalCap     int64  `json:"notionalCap"`
			MaintMarginRate string `json:"maintMarginRatio"`
		} `json:"brackets"`
	}
	params := url.Values{"symbol": {symbol.String()}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/fapi/v1/leverageBracket", Params: params}, &out)
	if err := classify(a.Name(), "leverageBrackets", resp, err); err != nil {
		return nil, err
	}

	for _, s := range out {
		if s.Symbol != symbol.String() {
			continue
		}
		brackets := make([]exchange.LeverageBracket, 0, len(s.Brackets))
		for _, b := range s.Brackets {
			brackets = append(brackets, exchange.LeverageBracket{
				Bracket:         b.Bracket,
				InitialLeverage: b.InitialLeverage,
				NotionalFloor:   decimal.NewFromInt(b.NotionalFloor),
				NotionalCap:     decimal.NewFromInt(b.NotionalCap),
				MaintMarginRate: decimal.RequireFromString(b.MaintMarginRate),
			})
		}
		return brackets, nil
	}
	return nil, fmt.Errorf("binance: no brackets for %s", symbol.String())
}

func (a *Adapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out []struct {
		Asset              string `json:"asset"`
		Balance            string `json:"balance"`
		AvailableBalance   string `json:"availableBalance"`
		CrossWalletBalance string `json:"crossWalletBalance"`
		CrossUnPnl         string `json:"crossUnPnl"`
	}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/fapi/v2/balance"}, &out)
	if err := classify(a.Name(), "balance", resp, err); err != nil {
		return nil, err
	}
	for _, b := range out {
		if b.Asset != "USDT" {
			continue
		}
		return &exchange.Balance{
			Wallet:             decimal.RequireFromString(b.Balance),
			Available:          decimal.RequireFromString(b.AvailableBalance),
			CrossWallet:        decimal.RequireFromString(b.CrossWalletBalance),
			CrossUnrealizedPnL: decimal.RequireFromString(b.CrossUnPnl),
		}, nil
	}
	return &exchange.Balance{}, nil
}

func (a *Adapter) Positions(ctx context.Context) (map[string]exchange.PositionSnapshot, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		Leverage         string `json:"leverage"`
		MarginType       string `json:"marginType"`
		PositionSide     string `json:"positionSide"`
	}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/fapi/v2/positionRisk"}, &out)
	if err := classify(a.Name(), "positions", resp, err); err != nil {
		return nil, err
	}

	result := make(map[string]exchange.PositionSnapshot)
	for _, p := range out {
		amt := decimal.RequireFromString(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := exchange.PositionLong
		if amt.IsNegative() {
			side = exchange.PositionShort
		}
		lev, _ := strconv.Atoi(p.Leverage)
		margin := exchange.Crossed
		if p.MarginType == "isolated" {
			margin = exchange.Isolated
		}
		key := exchange.PositionKey(p.Symbol, side)
		result[key] = exchange.PositionSnapshot{
			Symbol:      exchange.Symbol{Base: p.Symbol},
			PositionAmt: amt,
			EntryPrice:  decimal.RequireFromString(p.EntryPrice),
			Leverage:    lev,
			MarginMode:  margin,
		}
	}
	return result, nil
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol exchange.Symbol) ([]exchange.OrderSnapshot, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out []struct {
		OrderID       int64  `json:"orderId"`
		Status        string `json:"status"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
	}
	params := url.Values{"symbol": {symbol.String()}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/fapi/v1/openOrders", Params: params}, &out)
	if err := classify(a.Name(), "openOrders", resp, err); err != nil {
		return nil, err
	}

	snapshots := make([]exchange.OrderSnapshot, 0, len(out))
	for _, o := range out {
		snapshots = append(snapshots, exchange.OrderSnapshot{
			ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
			Status:          exchange.CanonicalizeStatus(o.Status),
			Price:           decimal.RequireFromString(o.Price),
			Quantity:        decimal.RequireFromString(o.OrigQty),
			FilledQuantity:  decimal.RequireFromString(o.ExecutedQty),
		})
	}
	return snapshots, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}

	isAlgo := req.Type == exchange.ProfitLimit || req.Type == exchange.StopMarket
	path := "/fapi/v1/order"
	if isAlgo {
		path = "/fapi/v1/algoOrder"
	}

	params := url.Values{
		"symbol":           {req.Symbol.String()},
		"side":             {string(req.Side)},
		"type":             {binanceOrderType(req.Type)},
		"quantity":         {req.Quantity.String()},
		"newClientOrderId": {req.ClientOrderID},
	}
	if req.PositionSide != "" {
		params.Set("positionSide", string(req.PositionSide))
	}
	if req.Type == exchange.Limit || req.Type == exchange.ProfitLimit {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.Type == exchange.StopMarket {
		params.Set("stopPrice", req.StopPrice.String())
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	var out struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	resp, err := a.http.Do(httpx.Request{Method: "POST", Path: path, Params: params}, &out)
	if err := classify(a.Name(), "placeOrder", resp, err); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{
		ExchangeOrderID: strconv.FormatInt(out.OrderID, 10),
		Status:          exchange.CanonicalizeStatus(out.Status),
		IsAlgo:          isAlgo,
	}, nil
}

func binanceOrderType(t exchange.OrderType) string {
	switch t {
	case exchange.Market:
		return "MARKET"
	case exchange.StopMarket:
		return "STOP_MARKET"
	case exchange.ProfitLimit:
		return "TAKE_PROFIT"
	default:
		return "LIMIT"
	}
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	path := "/fapi/v1/order"
	if isAlgo {
		path = "/fapi/v1/algoOrder"
	}
	params := url.Values{"symbol": {symbol.String()}, "orderId": {exchangeOrderID}}
	var out struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	resp, err := a.http.Do(httpx.Request{Method: "DELETE", Path: path, Params: params}, &out)
	if err := classify(a.Name(), "cancelOrder", resp, err); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: exchangeOrderID, Status: exchange.CanonicalizeStatus(out.Status), IsAlgo: isAlgo}, nil
}

func (a *Adapter) ModifyOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, quantity, price decimal.Decimal) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	params := url.Values{
		"symbol":   {symbol.String()},
		"orderId":  {exchangeOrderID},
		"quantity": {quantity.String()},
		"price":    {price.String()},
	}
	var out struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	resp, err := a.http.Do(httpx.Request{Method: "PUT", Path: "/fapi/v1/order", Params: params}, &out)
	if err := classify(a.Name(), "modifyOrder", resp, err); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: strconv.FormatInt(out.OrderID, 10), Status: exchange.CanonicalizeStatus(out.Status)}, nil
}

func (a *Adapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderSnapshot, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	path := "/fapi/v1/order"
	if isAlgo {
		path = "/fapi/v1/algoOrder"
	}
	params := url.Values{"symbol": {symbol.String()}, "orderId": {exchangeOrderID}}
	var out struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		Price       string `json:"price"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
	}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: path, Params: params}, &out)
	if err := classify(a.Name(), "queryOrder", resp, err); err != nil {
		return nil, err
	}
	return &exchange.OrderSnapshot{
		ExchangeOrderID: strconv.FormatInt(out.OrderID, 10),
		Status:          exchange.CanonicalizeStatus(out.Status),
		Price:           decimal.RequireFromString(out.Price),
		Quantity:        decimal.RequireFromString(out.OrigQty),
		FilledQuantity:  decimal.RequireFromString(out.ExecutedQty),
		IsAlgo:          isAlgo,
	}, nil
}

func (a *Adapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	params := url.Values{"symbol": {symbol.String()}}
	resp, err := a.http.Do(httpx.Request{Method: "DELETE", Path: "/fapi/v1/allOpenOrders", Params: params}, nil)
	return classify(a.Name(), "cancelAllOrders", resp, err)
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol exchange.Symbol, leverage int, marginMode exchange.MarginMode) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	params := url.Values{"symbol": {symbol.String()}, "leverage": {strconv.Itoa(leverage)}}
	resp, err := a.http.Do(httpx.Request{Method: "POST", Path: "/fapi/v1/leverage", Params: params}, nil)
	return classify(a.Name(), "setLeverage", resp, err)
}

func (a *Adapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, marginMode exchange.MarginMode) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	wire := "CROSSED"
	if marginMode == exchange.Isolated {
		wire = "ISOLATED"
	}
	params := url.Values{"symbol": {symbol.String()}, "marginType": {wire}}
	resp, err := a.http.Do(httpx.Request{Method: "POST", Path: "/fapi/v1/marginType", Params: params}, nil)
	return classify(a.Name(), "setMarginMode", resp, err)
}

func (a *Adapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, since int64) ([]exchange.Trade, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out []struct {
		OrderID  int64  `json:"orderId"`
		Price    string `json:"price"`
		Qty      string `json:"qty"`
		Time     int64  `json:"time"`
		Side     string `json:"side"`
	}
	params := url.Values{"symbol": {symbol.String()}, "startTime": {strconv.FormatInt(since, 10)}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/fapi/v1/userTrades", Params: params}, &out)
	if err := classify(a.Name(), "tradeHistory", resp, err); err != nil {
		return nil, err
	}
	trades := make([]exchange.Trade, 0, len(out))
	for _, t := range out {
		trades = append(trades, exchange.Trade{
			ExchangeOrderID: strconv.FormatInt(t.OrderID, 10),
			Price:           decimal.RequireFromString(t.Price),
			Quantity:        decimal.RequireFromString(t.Qty),
			Time:            time.UnixMilli(t.Time),
			Side:            exchange.Side(t.Side),
		})
	}
	return trades, nil
}
