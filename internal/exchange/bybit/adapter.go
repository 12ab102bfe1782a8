// Package bybit adapts Bybit's v5 unified-account API to the canonical
// exchange.Adapter contract. Bybit signs the same way Binance does
// (HMAC-SHA256 over a canonical query string) but nests most response
// payloads one level deeper under a "result" envelope, and has no hedge-mode
// positionSide on the wire for one-way accounts.
package bybit

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

const baseURL = "https://api.bybit.com"

// Adapter implements exchange.Adapter for Bybit USDT perpetuals (linear
// category) under the unified trading account.
type Adapter struct {
	http    *httpx.Client
	limiter *ratelimit.Limiter
	account int64
}

func New(creds exchange.Credentials, limiter *ratelimit.Limiter, account int64) *Adapter {
	return &Adapter{
		http:    httpx.New(baseURL, creds.APIKey, creds.APISecret, 10*time.Second),
		limiter: limiter,
		account: account,
	}
}

func (a *Adapter) Name() string { return "bybit" }

func (a *Adapter) Capability() exchange.Capability {
	return exchange.Capability{
		SupportsCancelAllBySymbol: true,
		PositionAttachedTPSL:      true,
		AlgoOrdersNeedSeparateAPI: false,
	}
}

func (a *Adapter) wait(ctx context.Context, weight int) error {
	return a.limiter.Wait(ctx, a.account, weight)
}

type envelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

func (a *Adapter) ServerTime(ctx context.Context) (int64, error) {
	if err := a.wait(ctx, 1); err != nil {
		return 0, err
	}
	var out envelope[struct {
		TimeSecond string `json:"timeSecond"`
	}]
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/market/time"}, &out)
	if err := classify(a.Name(), "serverTime", resp, err, out.RetCode, out.RetMsg); err != nil {
		return 0, err
	}
	sec, _ := strconv.ParseInt(out.Result.TimeSecond, 10, 64)
	return sec * 1000, nil
}

func (a *Adapter) ExchangeInfo(ctx context.Context, symbol exchange.Symbol) (*exchange.ExchangeInfoEntry, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out envelope[struct {
		List []struct {
			Symbol        string `json:"symbol"`
			PriceFilter   struct{ TickSize string `json:"tickSize"` } `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinNotional string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
			PriceScale string `json:"priceScale"`
		} `json:"list"`
	}]
	params := url.Values{"category": {"linear"}, "symbol": {symbol.String()}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/market/instruments-info", Params: params}, &out)
	if err := classify(a.Name(), "exchangeInfo", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	if len(out.Result.List) == 0 {
		return nil, fmt.Errorf("bybit: symbol %s not found", symbol.String())
	}
	s := out.Result.List[0]
	priceScale, _ := strconv.Atoi(s.PriceScale)
	tick := decimal.RequireFromString(s.PriceFilter.TickSize)
	step := decimal.RequireFromString(s.LotSizeFilter.QtyStep)
	return &exchange.ExchangeInfoEntry{
		Symbol:            symbol,
		ParsedTradingPair: s.Symbol,
		TickSize:          tick,
		LotStep:           step,
		PricePrecision:    int32(priceScale),
		QuantityPrecision: decimalPlaces(step),
		MinNotional:       decimal.RequireFromString(s.LotSizeFilter.MinNotional),
	}, nil
}

func decimalPlaces(d decimal.Decimal) int32 {
	return int32(d.Exponent() * -1)
}

func (a *Adapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	if err := a.wait(ctx, 1); err != nil {
		return decimal.Zero, err
	}
	var out envelope[struct {
		List []struct {
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}]
	params := url.Values{"category": {"linear"}, "symbol": {symbol.String()}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/market/tickers", Params: params}, &out)
	if err := classify(a.Name(), "markPrice", resp, err, out.RetCode, out.RetMsg); err != nil {
		return decimal.Zero, err
	}
	if len(out.Result.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit: no ticker for %s", symbol.String())
	}
	return decimal.RequireFromString(out.Result.List[0].MarkPrice), nil
}

func (a *Adapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out envelope[struct {
		List [][]string `json:"list"`
	}]
	params := url.Values{
		"category": {"linear"},
		"symbol":   {symbol.String()},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/market/kline", Params: params}, &out)
	if err := classify(a.Name(), "klines", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	klines := make([]exchange.Kline, 0, len(out.Result.List))
	for _, row := range out.Result.List {
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		klines = append(klines, exchange.Kline{
			OpenTime: time.UnixMilli(ms),
			Open:     decimal.RequireFromString(row[1]),
			High:     decimal.RequireFromString(row[2]),
			Low:      decimal.RequireFromString(row[3]),
			Close:    decimal.RequireFromString(row[4]),
			Volume:   decimal.RequireFromString(row[5]),
		})
	}
	return klines, nil
}

func (a *Adapter) LeverageBrackets(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out envelope[struct {
		List []struct {
			Symbol           string `json:"symbol"`
			RiskLimitValue   string `json:"riskLimitValue"`
			MaxLeverage      string `json:"maxLeverage"`
			MaintainMargin   string `json:"maintainMargin"`
			Id               int    `json:"id"`
		} `json:"list"`
	}]
	params := url.Values{"category": {"linear"}, "symbol": {symbol.String()}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/market/risk-limit", Params: params}, &out)
	if err := classify(a.Name(), "leverageBrackets", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	brackets := make([]exchange.LeverageBracket, 0, len(out.Result.List))
	var floor decimal.Decimal
	for _, r := range out.Result.List {
		lev, _ := strconv.ParseFloat(r.MaxLeverage, 64)
		notionalCap := decimal.RequireFromString(r.RiskLimitValue)
		brackets = append(brackets, exchange.LeverageBracket{
			Bracket:         r.Id,
			InitialLeverage: int(lev),
			NotionalFloor:   floor,
			NotionalCap:     notionalCap,
			MaintMarginRate: decimal.RequireFromString(r.MaintainMargin),
		})
		floor = notionalCap
	}
	return brackets, nil
}

func (a *Adapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out envelope[struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
				UnrealisedPnl       string `json:"unrealisedPnl"`
			} `json:"coin"`
		} `json:"list"`
	}]
	params := url.Values{"accountType": {"UNIFIED"}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/account/wallet-balance", Params: params}, &out)
	if err := classify(a.Name(), "balance", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	for _, acct := range out.Result.List {
		for _, c := range acct.Coin {
			if c.Coin != "USDT" {
				continue
			}
			return &exchange.Balance{
				Wallet:             decimal.RequireFromString(c.WalletBalance),
				Available:          decimal.RequireFromString(c.AvailableToWithdraw),
				CrossWallet:        decimal.RequireFromString(c.WalletBalance),
				CrossUnrealizedPnL: decimal.RequireFromString(c.UnrealisedPnl),
			}, nil
		}
	}
	return &exchange.Balance{}, nil
}

func (a *Adapter) Positions(ctx context.Context) (map[string]exchange.PositionSnapshot, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out envelope[struct {
		List []struct {
			Symbol     string `json:"symbol"`
			Side       string `json:"side"`
			Size       string `json:"size"`
			EntryPrice string `json:"avgPrice"`
			Leverage   string `json:"leverage"`
			TradeMode  int    `json:"tradeMode"`
		} `json:"list"`
	}]
	params := url.Values{"category": {"linear"}, "settleCoin": {"USDT"}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/position/list", Params: params}, &out)
	if err := classify(a.Name(), "positions", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	result := make(map[string]exchange.PositionSnapshot)
	for _, p := range out.Result.List {
		size := decimal.RequireFromString(p.Size)
		if size.IsZero() {
			continue
		}
		side := exchange.PositionLong
		amt := size
		if p.Side == "Sell" {
			side = exchange.PositionShort
			amt = size.Neg()
		}
		lev, _ := strconv.Atoi(p.Leverage)
		margin := exchange.Crossed
		if p.TradeMode == 1 {
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
	var out envelope[struct {
		List []struct {
			OrderId     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			CumExecQty  string `json:"cumExecQty"`
		} `json:"list"`
	}]
	params := url.Values{"category": {"linear"}, "symbol": {symbol.String()}}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/order/realtime", Params: params}, &out)
	if err := classify(a.Name(), "openOrders", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	snapshots := make([]exchange.OrderSnapshot, 0, len(out.Result.List))
	for _, o := range out.Result.List {
		snapshots = append(snapshots, exchange.OrderSnapshot{
			ExchangeOrderID: o.OrderId,
			Status:          exchange.CanonicalizeStatus(o.OrderStatus),
			Price:           decimal.RequireFromString(o.Price),
			Quantity:        decimal.RequireFromString(o.Qty),
			FilledQuantity:  decimal.RequireFromString(o.CumExecQty),
		})
	}
	return snapshots, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	params := url.Values{
		"category":    {"linear"},
		"symbol":      {req.Symbol.String()},
		"side":        {bybitSide(req.Side)},
		"orderType":   {bybitOrderType(req.Type)},
		"qty":         {req.Quantity.String()},
		"orderLinkId": {req.ClientOrderID},
	}
	if req.Type == exchange.Limit || req.Type == exchange.ProfitLimit {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.Type == exchange.ProfitLimit {
		params.Set("takeProfit", req.Price.String())
	}
	if req.Type == exchange.StopMarket {
		params.Set("triggerPrice", req.StopPrice.String())
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	var out envelope[struct {
		OrderId string `json:"orderId"`
	}]
	resp, err := a.http.Do(httpx.Request{Method: "POST", Path: "/v5/order/create", Params: params}, &out)
	if err := classify(a.Name(), "placeOrder", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: out.Result.OrderId, Status: exchange.StatusNew}, nil
}

func bybitSide(s exchange.Side) string {
	if s == exchange.Sell {
		return "Sell"
	}
	return "Buy"
}

func bybitOrderType(t exchange.OrderType) string {
	if t == exchange.Market || t == exchange.StopMarket {
		return "Market"
	}
	return "Limit"
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	params := url.Values{"category": {"linear"}, "symbol": {symbol.String()}, "orderId": {exchangeOrderID}}
	var out envelope[struct {
		OrderId string `json:"orderId"`
	}]
	resp, err := a.http.Do(httpx.Request{Method: "POST", Path: "/v5/order/cancel", Params: params}, &out)
	if err := classify(a.Name(), "cancelOrder", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: exchangeOrderID, Status: exchange.StatusCancelled}, nil
}

func (a *Adapter) ModifyOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, quantity, price decimal.Decimal) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	params := url.Values{
		"category": {"linear"},
		"symbol":   {symbol.String()},
		"orderId":  {exchangeOrderID},
		"qty":      {quantity.String()},
		"price":    {price.String()},
	}
	var out envelope[struct {
		OrderId string `json:"orderId"`
	}]
	resp, err := a.http.Do(httpx.Request{Method: "POST", Path: "/v5/order/amend", Params: params}, &out)
	if err := classify(a.Name(), "modifyOrder", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: out.Result.OrderId}, nil
}

func (a *Adapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderSnapshot, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	params := url.Values{"category": {"linear"}, "symbol": {symbol.String()}, "orderId": {exchangeOrderID}}
	var out envelope[struct {
		List []struct {
			OrderId     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			CumExecQty  string `json:"cumExecQty"`
		} `json:"list"`
	}]
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/order/realtime", Params: params}, &out)
	if err := classify(a.Name(), "queryOrder", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	if len(out.Result.List) == 0 {
		return &exchange.OrderSnapshot{ExchangeOrderID: exchangeOrderID, Status: exchange.StatusNotFound}, nil
	}
	o := out.Result.List[0]
	return &exchange.OrderSnapshot{
		ExchangeOrderID: o.OrderId,
		Status:          exchange.CanonicalizeStatus(o.OrderStatus),
		Price:           decimal.RequireFromString(o.Price),
		Quantity:        decimal.RequireFromString(o.Qty),
		FilledQuantity:  decimal.RequireFromString(o.CumExecQty),
	}, nil
}

func (a *Adapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	params := url.Values{"category": {"linear"}, "symbol": {symbol.String()}}
	var out envelope[struct{}]
	resp, err := a.http.Do(httpx.Request{Method: "POST", Path: "/v5/order/cancel-all", Params: params}, &out)
	return classify(a.Name(), "cancelAllOrders", resp, err, out.RetCode, out.RetMsg)
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol exchange.Symbol, leverage int, marginMode exchange.MarginMode) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	params := url.Values{
		"category":     {"linear"},
		"symbol":       {symbol.String()},
		"buyLeverage":  {strconv.Itoa(leverage)},
		"sellLeverage": {strconv.Itoa(leverage)},
	}
	var out envelope[struct{}]
	resp, err := a.http.Do(httpx.Request{Method: "POST", Path: "/v5/position/set-leverage", Params: params}, &out)
	return classify(a.Name(), "setLeverage", resp, err, out.RetCode, out.RetMsg)
}

func (a *Adapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, marginMode exchange.MarginMode) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	mode := "0"
	if marginMode == exchange.Isolated {
		mode = "1"
	}
	params := url.Values{"category": {"linear"}, "symbol": {symbol.String()}, "tradeMode": {mode}}
	var out envelope[struct{}]
	resp, err := a.http.Do(httpx.Request{Method: "POST", Path: "/v5/position/switch-isolated", Params: params}, &out)
	return classify(a.Name(), "setMarginMode", resp, err, out.RetCode, out.RetMsg)
}

func (a *Adapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, since int64) ([]exchange.Trade, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out envelope[struct {
		List []struct {
			OrderId string `json:"orderId"`
			Price   string `json:"execPrice"`
			Qty     string `json:"execQty"`
			Time    string `json:"execTime"`
			Side    string `json:"side"`
		} `json:"list"`
	}]
	params := url.Values{
		"category":  {"linear"},
		"symbol":    {symbol.String()},
		"startTime": {strconv.FormatInt(since, 10)},
	}
	resp, err := a.http.Do(httpx.Request{Method: "GET", Path: "/v5/execution/list", Params: params}, &out)
	if err := classify(a.Name(), "tradeHistory", resp, err, out.RetCode, out.RetMsg); err != nil {
		return nil, err
	}
	trades := make([]exchange.Trade, 0, len(out.Result.List))
	for _, t := range out.Result.List {
		ms, _ := strconv.ParseInt(t.Time, 10, 64)
		trades = append(trades, exchange.Trade{
			ExchangeOrderID: t.OrderId,
			Price:           decimal.RequireFromString(t.Price),
			Quantity:        decimal.RequireFromString(t.Qty),
			Time:            time.UnixMilli(ms),
			Side:            exchange.Side(t.Side),
		})
	}
	return trades, nil
}
