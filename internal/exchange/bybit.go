package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fundingarb/pkg/ratelimit"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
)

// Bybit реализует интерфейс Gateway для биржи Bybit (API v5, linear perpetuals)
type Bybit struct {
	apiKey    string
	secretKey string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter

	connected bool
}

// NewBybit создает новый экземпляр Bybit
// Использует глобальный HTTP клиент с connection pooling
func NewBybit() *Bybit {
	return &Bybit{
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    ratelimit.NewRateLimiter(10, 20),
	}
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp string, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bybit API
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		if reqBody != "" {
			reqURL = bybitBaseURL + endpoint + "?" + reqBody
		} else {
			reqURL = bybitBaseURL + endpoint
		}
	} else {
		reqURL = bybitBaseURL + endpoint
		if len(params) > 0 {
			jsonBytes, _ := json.Marshal(params)
			reqBody = string(jsonBytes)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := b.sign(timestamp, reqBody)

		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", signature)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Проверяем базовый ответ
	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}

	if baseResp.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(baseResp.RetCode),
			Message:  baseResp.RetMsg,
		}
	}

	return body, nil
}

func (b *Bybit) Connect(apiKey, secret string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	// Проверяем подключение через получение баланса
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := b.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Bybit: %w", err)
	}

	b.connected = true
	return nil
}

func (b *Bybit) GetName() string {
	return "bybit"
}

func (b *Bybit) GetBalance(ctx context.Context) (float64, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        CoinUSDT,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin   string `json:"coin"`
					Equity string `json:"equity"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	if len(resp.Result.List) > 0 {
		for _, coin := range resp.Result.List[0].Coin {
			if coin.Coin == CoinUSDT {
				equity, _ := strconv.ParseFloat(coin.Equity, 64)
				return equity, nil
			}
		}
	}

	return 0, nil
}

func (b *Bybit) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol    string `json:"symbol"`
				MarkPrice string `json:"markPrice"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("ticker not found for %s", symbol)
	}

	t := resp.Result.List[0]
	markPrice, _ := strconv.ParseFloat(t.MarkPrice, 64)
	if markPrice == 0 {
		markPrice, _ = strconv.ParseFloat(t.LastPrice, 64)
	}
	return markPrice, nil
}

func (b *Bybit) OpenPosition(ctx context.Context, symbol, side string, qty float64, leverage int) (*Order, error) {
	if leverage > 0 {
		if err := b.setLeverage(ctx, symbol, leverage); err != nil {
			return nil, err
		}
	}

	bybitSide := "Buy"
	if side == SideSell || side == SideShort {
		bybitSide = "Sell"
	}

	return b.placeMarketOrder(ctx, symbol, bybitSide, qty, false)
}

func (b *Bybit) ClosePosition(ctx context.Context, symbol, side string, qty float64) (*Order, error) {
	// Для закрытия позиции размещаем встречный reduce-only ордер
	closeSide := "Buy"
	if side == SideLong || side == SideBuy {
		closeSide = "Sell"
	}

	return b.placeMarketOrder(ctx, symbol, closeSide, qty, true)
}

// setLeverage устанавливает плечо для символа
// Код 110043 означает что плечо уже установлено, это не ошибка
func (b *Bybit) setLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	params := map[string]string{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/position/set-leverage", params, true)
	if err != nil {
		var exErr *ExchangeError
		if errors.As(err, &exErr) && exErr.Code == "110043" {
			return nil
		}
		return err
	}
	return nil
}

// placeMarketOrder размещает рыночный ордер и запрашивает детали исполнения
func (b *Bybit) placeMarketOrder(ctx context.Context, symbol, bybitSide string, qty float64, reduceOnly bool) (*Order, error) {
	params := map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"side":        bybitSide,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"timeInForce": "IOC",
	}
	if reduceOnly {
		params["reduceOnly"] = "true"
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderId string `json:"orderId"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	side := SideBuy
	if bybitSide == "Sell" {
		side = SideSell
	}

	order := &Order{
		ID:        resp.Result.OrderId,
		Symbol:    symbol,
		Side:      side,
		Type:      "market",
		Quantity:  qty,
		Status:    OrderStatusFilled,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	// Получаем информацию об исполнении
	filledQty, avgPrice, err := b.getOrderExecution(ctx, symbol, resp.Result.OrderId)
	if err == nil {
		order.FilledQty = filledQty
		order.AvgFillPrice = avgPrice
	} else {
		order.FilledQty = qty
	}

	return order, nil
}

// getOrderExecution получает информацию об исполнении ордера
func (b *Bybit) getOrderExecution(ctx context.Context, symbol, orderId string) (float64, float64, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderId,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				CumExecQty string `json:"cumExecQty"`
				AvgPrice   string `json:"avgPrice"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, err
	}

	if len(resp.Result.List) == 0 {
		return 0, 0, fmt.Errorf("order not found")
	}

	o := resp.Result.List[0]
	filledQty, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avgPrice, _ := strconv.ParseFloat(o.AvgPrice, 64)
	return filledQty, avgPrice, nil
}

func (b *Bybit) GetPositions(ctx context.Context) ([]*PositionInfo, error) {
	params := map[string]string{
		"category":   "linear",
		"settleCoin": CoinUSDT,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				LiqPrice      string `json:"liqPrice"`
				PositionIM    string `json:"positionIM"`
				Leverage      string `json:"leverage"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				UpdatedTime   string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]*PositionInfo, 0)
	for _, p := range resp.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}

		entryPrice, _ := strconv.ParseFloat(p.AvgPrice, 64)
		markPrice, _ := strconv.ParseFloat(p.MarkPrice, 64)
		liqPrice, _ := strconv.ParseFloat(p.LiqPrice, 64)
		margin, _ := strconv.ParseFloat(p.PositionIM, 64)
		leverage, _ := strconv.Atoi(p.Leverage)
		unrealizedPnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		updatedTime, _ := strconv.ParseInt(p.UpdatedTime, 10, 64)

		side := SideLong
		if p.Side == "Sell" {
			side = SideShort
		}

		positions = append(positions, &PositionInfo{
			Symbol:           p.Symbol,
			Side:             side,
			Size:             size,
			EntryPrice:       entryPrice,
			MarkPrice:        markPrice,
			LiquidationPrice: liqPrice,
			Margin:           margin,
			Leverage:         leverage,
			UnrealizedPnl:    unrealizedPnl,
			UpdatedAt:        time.UnixMilli(updatedTime),
		})
	}

	return positions, nil
}

func (b *Bybit) AdjustPositionMargin(ctx context.Context, symbol string, amount float64) error {
	// Bybit принимает знаковую величину: положительная добавляет маржу,
	// отрицательная снимает
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"margin":   strconv.FormatFloat(amount, 'f', 4, 64),
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/position/add-margin", params, true)
	return err
}

func (b *Bybit) Withdraw(ctx context.Context, coin string, amount float64, address string) (string, error) {
	params := map[string]string{
		"coin":        coin,
		"chain":       "SOL",
		"address":     address,
		"amount":      strconv.FormatFloat(amount, 'f', 4, 64),
		"timestamp":   strconv.FormatInt(time.Now().UnixMilli(), 10),
		"accountType": "FUND",
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/asset/withdraw/create", params, true)
	if err != nil {
		return "", err
	}

	var resp struct {
		Result struct {
			Id string `json:"id"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}

	return resp.Result.Id, nil
}

func (b *Bybit) Close() error {
	b.connected = false
	return nil
}
