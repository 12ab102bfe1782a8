// Package bitget adapts BitGet USDT-M futures to the canonical
// exchange.Adapter contract. BitGet diverges from the Binance/Bybit shape in
// two ways the rest of the engine must treat as data, not code branches
// (SPEC_FULL §9): it has no cancel-all-by-symbol endpoint (CancelAllOrders
// iterates OpenOrders and cancels individually), and take-profit/stop-loss
// are attached to the position rather than placed as independent orders.
package bitget

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

const baseURL = "https://api.bitget.com"

type Adapter struct {
	http        *httpx.Client
	limiter     *ratelimit.Limiter
	account     int64
	passphrase  string
}

func New(creds exchange.Credentials, limiter *ratelimit.Limiter, account int64) *Adapter {
	return &Adapter{
		http:       httpx.New(baseURL, creds.APIKey, creds.APISecret, 10*time.Second),
		limiter:    limiter,
		account:    account,
		passphrase: creds.Passphrase,
	}
}

func (a *Adapter) Name() string { return "bitget" }

func (a *Adapter) Capability() exchange.Capability {
	return exchange.Capability{
		SupportsCancelAllBySymbol: false,
		PositionAttachedTPSL:      true,
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
	req.ExtraHeader["ACCESS-PASSPHRASE"] = a.passphrase
	resp, err := a.http.Do(req, out)
	return classify(a.Name(), req.Path, resp, err)
}

func (a *Adapter) ServerTime(ctx context.Context) (int64, error) {
	if err := a.wait(ctx, 1); err != nil {
		return 0, err
	}
	var out struct {
		Data string `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/public/time"}, &out); err != nil {
		return 0, err
	}
	ms, _ := strconv.ParseInt(out.Data, 10, 64)
	return ms, nil
}

func (a *Adapter) ExchangeInfo(ctx context.Context, symbol exchange.Symbol) (*exchange.ExchangeInfoEntry, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			Symbol            string `json:"symbol"`
			PricePlace        string `json:"pricePlace"`
			VolumePlace       string `json:"volumePlace"`
			PriceEndStep      string `json:"priceEndStep"`
			MinTradeNum       string `json:"minTradeNum"`
			SizeMultiplier    string `json:"sizeMultiplier"`
		} `json:"data"`
	}
	params := url.Values{"symbol": {symbol.String()}, "productType": {"USDT-FUTURES"}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/mix/market/contracts", Params: params}, &out); err != nil {
		return nil, err
	}
	for _, s := range out.Data {
		if s.Symbol != symbol.String() {
			continue
		}
		pricePlace, _ := strconv.Atoi(s.PricePlace)
		volumePlace, _ := strconv.Atoi(s.VolumePlace)
		priceEndStep, _ := strconv.ParseInt(s.PriceEndStep, 10, 64)
		tick := decimal.NewFromInt(priceEndStep).Shift(-int32(pricePlace))
		step := decimal.RequireFromString(s.SizeMultiplier)
		return &exchange.ExchangeInfoEntry{
			Symbol:            symbol,
			ParsedTradingPair: s.Symbol,
			TickSize:          tick,
			LotStep:           step,
			PricePrecision:    int32(pricePlace),
			QuantityPrecision: int32(volumePlace),
			MinNotional:       decimal.RequireFromString(s.MinTradeNum),
		}, nil
	}
	return nil, fmt.Errorf("bitget: symbol %s not found", symbol.String())
}

func (a *Adapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	if err := a.wait(ctx, 1); err != nil {
		return decimal.Zero, err
	}
	var out struct {
		Data []struct {
			MarkPrice string `json:"markPrice"`
		} `json:"data"`
	}
	params := url.Values{"symbol": {symbol.String()}, "productType": {"USDT-FUTURES"}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/mix/market/ticker", Params: params}, &out); err != nil {
		return decimal.Zero, err
	}
	if len(out.Data) == 0 {
		return decimal.Zero, fmt.Errorf("bitget: no ticker for %s", symbol.String())
	}
	return decimal.RequireFromString(out.Data[0].MarkPrice), nil
}

func (a *Adapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	var out struct {
		Data [][]string `json:"data"`
	}
	params := url.Values{
		"symbol":      {symbol.String()},
		"granularity": {interval},
		"limit":       {strconv.Itoa(limit)},
		"productType": {"USDT-FUTURES"},
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/mix/market/candles", Params: params}, &out); err != nil {
		return nil, err
	}
	klines := make([]exchange.Kline, 0, len(out.Data))
	for _, row := range out.Data {
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
	var out struct {
		Data []struct {
			Level           string `json:"level"`
			StartValue      string `json:"startValue"`
			EndValue        string `json:"endValue"`
			MaxLeverage     string `json:"maxLever"`
			MaintainMargin  string `json:"keepMarginRate"`
		} `json:"data"`
	}
	params := url.Values{"symbol": {symbol.String()}, "productType": {"USDT-FUTURES"}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/mix/market/query-position-lever", Params: params}, &out); err != nil {
		return nil, err
	}
	brackets := make([]exchange.LeverageBracket, 0, len(out.Data))
	for _, l := range out.Data {
		level, _ := strconv.Atoi(l.Level)
		lev, _ := strconv.Atoi(l.MaxLeverage)
		brackets = append(brackets, exchange.LeverageBracket{
			Bracket:         level,
			InitialLeverage: lev,
			NotionalFloor:   decimal.RequireFromString(l.StartValue),
			NotionalCap:     decimal.RequireFromString(l.EndValue),
			MaintMarginRate: decimal.RequireFromString(l.MaintainMargin),
		})
	}
	return brackets, nil
}

func (a *Adapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			Available      string `json:"available"`
			Equity         string `json:"accountEquity"`
			UnrealizedPnl  string `json:"unrealizedPL"`
		} `json:"data"`
	}
	params := url.Values{"productType": {"USDT-FUTURES"}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/mix/account/accounts", Params: params}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return &exchange.Balance{}, nil
	}
	b := out.Data[0]
	return &exchange.Balance{
		Wallet:             decimal.RequireFromString(b.Equity),
		Available:          decimal.RequireFromString(b.Available),
		CrossWallet:        decimal.RequireFromString(b.Equity),
		CrossUnrealizedPnL: decimal.RequireFromString(b.UnrealizedPnl),
	}, nil
}

func (a *Adapter) Positions(ctx context.Context) (map[string]exchange.PositionSnapshot, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			Symbol       string `json:"symbol"`
			HoldSide     string `json:"holdSide"`
			Total        string `json:"total"`
			OpenPriceAvg string `json:"openPriceAvg"`
			Leverage     string `json:"leverage"`
			MarginMode   string `json:"marginMode"`
		} `json:"data"`
	}
	params := url.Values{"productType": {"USDT-FUTURES"}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/mix/position/all-position", Params: params}, &out); err != nil {
		return nil, err
	}
	result := make(map[string]exchange.PositionSnapshot)
	for _, p := range out.Data {
		amt := decimal.RequireFromString(p.Total)
		if amt.IsZero() {
			continue
		}
		side := exchange.PositionLong
		if p.HoldSide == "short" {
			side = exchange.PositionShort
			amt = amt.Neg()
		}
		lev, _ := strconv.Atoi(p.Leverage)
		margin := exchange.Crossed
		if p.MarginMode == "isolated" {
			margin = exchange.Isolated
		}
		key := exchange.PositionKey(p.Symbol, side)
		result[key] = exchange.PositionSnapshot{
			Symbol:      exchange.Symbol{Base: p.Symbol},
			PositionAmt: amt,
			EntryPrice:  decimal.RequireFromString(p.OpenPriceAvg),
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
	var out struct {
		Data struct {
			EntrustedList []struct {
				OrderId     string `json:"orderId"`
				Status      string `json:"status"`
				Price       string `json:"price"`
				Size        string `json:"size"`
				BaseVolume  string `json:"baseVolume"`
			} `json:"entrustedList"`
		} `json:"data"`
	}
	params := url.Values{"symbol": {symbol.String()}, "productType": {"USDT-FUTURES"}}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/mix/order/orders-pending", Params: params}, &out); err != nil {
		return nil, err
	}
	snapshots := make([]exchange.OrderSnapshot, 0, len(out.Data.EntrustedList))
	for _, o := range out.Data.EntrustedList {
		snapshots = append(snapshots, exchange.OrderSnapshot{
			ExchangeOrderID: o.OrderId,
			Status:          exchange.CanonicalizeStatus(o.Status),
			Price:           decimal.RequireFromString(o.Price),
			Quantity:        decimal.RequireFromString(o.Size),
			FilledQuantity:  decimal.RequireFromString(o.BaseVolume),
		})
	}
	return snapshots, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	params := url.Values{
		"symbol":      {req.Symbol.String()},
		"productType": {"USDT-FUTURES"},
		"marginCoin":  {"USDT"},
		"side":        {bitgetSide(req.Side)},
		"orderType":   {bitgetOrderType(req.Type)},
		"size":        {req.Quantity.String()},
		"clientOid":   {req.ClientOrderID},
	}
	if req.Type == exchange.Limit || req.Type == exchange.ProfitLimit {
		params.Set("price", req.Price.String())
		params.Set("force", "gtc")
	}
	if req.Type == exchange.ProfitLimit {
		params.Set("presetStopSurplusPrice", req.Price.String())
	}
	if req.Type == exchange.StopMarket {
		params.Set("presetStopLossPrice", req.StopPrice.String())
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "YES")
	}
	var out struct {
		Data struct {
			OrderId string `json:"orderId"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "POST", Path: "/api/v2/mix/order/place-order", Params: params}, &out); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: out.Data.OrderId, Status: exchange.StatusNew}, nil
}

func bitgetSide(s exchange.Side) string {
	if s == exchange.Sell {
		return "sell"
	}
	return "buy"
}

func bitgetOrderType(t exchange.OrderType) string {
	if t == exchange.Market || t == exchange.StopMarket {
		return "market"
	}
	return "limit"
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	params := url.Values{"symbol": {symbol.String()}, "productType": {"USDT-FUTURES"}, "orderId": {exchangeOrderID}}
	var out struct {
		Data struct {
			OrderId string `json:"orderId"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "POST", Path: "/api/v2/mix/order/cancel-order", Params: params}, &out); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: exchangeOrderID, Status: exchange.StatusCancelled}, nil
}

func (a *Adapter) ModifyOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, quantity, price decimal.Decimal) (*exchange.OrderResult, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	params := url.Values{
		"symbol":      {symbol.String()},
		"productType": {"USDT-FUTURES"},
		"orderId":     {exchangeOrderID},
		"newSize":     {quantity.String()},
		"newPrice":    {price.String()},
	}
	var out struct {
		Data struct {
			OrderId string `json:"orderId"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "POST", Path: "/api/v2/mix/order/modify-order", Params: params}, &out); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{ExchangeOrderID: out.Data.OrderId}, nil
}

func (a *Adapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderSnapshot, error) {
	if err := a.wait(ctx, 1); err != nil {
		return nil, err
	}
	params := url.Values{"symbol": {symbol.String()}, "productType": {"USDT-FUTURES"}, "orderId": {exchangeOrderID}}
	var out struct {
		Data struct {
			OrderId     string `json:"orderId"`
			State       string `json:"state"`
			Price       string `json:"price"`
			Size        string `json:"size"`
			BaseVolume  string `json:"baseVolume"`
		} `json:"data"`
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/mix/order/detail", Params: params}, &out); err != nil {
		return nil, err
	}
	return &exchange.OrderSnapshot{
		ExchangeOrderID: out.Data.OrderId,
		Status:          exchange.CanonicalizeStatus(out.Data.State),
		Price:           decimal.RequireFromString(out.Data.Price),
		Quantity:        decimal.RequireFromString(out.Data.Size),
		FilledQuantity:  decimal.RequireFromString(out.Data.BaseVolume),
	}, nil
}

// CancelAllOrders has no native cancel-all-by-symbol endpoint on BitGet
// (Capability.SupportsCancelAllBySymbol is false); it falls back to
// iterating OpenOrders and cancelling each individually.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	open, err := a.OpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	for _, o := range open {
		if _, err := a.CancelOrder(ctx, symbol, o.ExchangeOrderID, o.IsAlgo); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol exchange.Symbol, leverage int, marginMode exchange.MarginMode) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	params := url.Values{
		"symbol":      {symbol.String()},
		"productType": {"USDT-FUTURES"},
		"marginCoin":  {"USDT"},
		"leverage":    {strconv.Itoa(leverage)},
	}
	return a.do(httpx.Request{Method: "POST", Path: "/api/v2/mix/account/set-leverage", Params: params}, nil)
}

func (a *Adapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, marginMode exchange.MarginMode) error {
	if err := a.wait(ctx, 1); err != nil {
		return err
	}
	wire := "crossed"
	if marginMode == exchange.Isolated {
		wire = "isolated"
	}
	params := url.Values{
		"symbol":      {symbol.String()},
		"productType": {"USDT-FUTURES"},
		"marginCoin":  {"USDT"},
		"marginMode":  {wire},
	}
	return a.do(httpx.Request{Method: "POST", Path: "/api/v2/mix/account/set-margin-mode", Params: params}, nil)
}

func (a *Adapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, since int64) ([]exchange.Trade, error) {
	if err := a.wait(ctx, 5); err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			FillList []struct {
				OrderId string `json:"orderId"`
				Price   string `json:"price"`
				BaseVolume string `json:"baseVolume"`
				CTime   string `json:"cTime"`
				Side    string `json:"side"`
			} `json:"fillList"`
		} `json:"data"`
	}
	params := url.Values{
		"symbol":      {symbol.String()},
		"productType": {"USDT-FUTURES"},
		"startTime":   {strconv.FormatInt(since, 10)},
	}
	if err := a.do(httpx.Request{Method: "GET", Path: "/api/v2/mix/order/fills", Params: params}, &out); err != nil {
		return nil, err
	}
	trades := make([]exchange.Trade, 0, len(out.Data.FillList))
	for _, t := range out.Data.FillList {
		ms, _ := strconv.ParseInt(t.CTime, 10, 64)
		trades = append(trades, exchange.Trade{
			ExchangeOrderID: t.OrderId,
			Price:           decimal.RequireFromString(t.Price),
			Quantity:        decimal.RequireFromString(t.BaseVolume),
			Time:            time.UnixMilli(ms),
			Side:            exchange.Side(t.Side),
		})
	}
	return trades, nil
}
