package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fundingarb/pkg/ratelimit"
)

const (
	bitmexBaseURL = "https://www.bitmex.com"
	bitmexAPIPath = "/api/v1"

	// bitmexUSDtScale - BitMEX ведёт учёт USDt в микроединицах
	bitmexUSDtScale = 1e6
)

// Bitmex реализует интерфейс Gateway для биржи BitMEX (linear perpetuals)
//
// Особенности нормализации:
//   - размер позиции приходит знаковым (currentQty < 0 для short)
//   - маржа и PNL приходят в микроединицах USDt
type Bitmex struct {
	apiKey    string
	secretKey string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter

	connected bool
}

// NewBitmex создает новый экземпляр Bitmex
func NewBitmex() *Bitmex {
	return &Bitmex{
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    ratelimit.NewRateLimiter(10, 20),
	}
}

// sign создает подпись запроса: HMAC-SHA256(secret, verb + path + expires + body)
func (m *Bitmex) sign(verb, path, expires, body string) string {
	message := verb + path + expires + body
	h := hmac.New(sha256.New, []byte(m.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к BitMEX API
func (m *Bitmex) doRequest(ctx context.Context, method, endpoint string, query url.Values, bodyParams map[string]interface{}, signed bool) ([]byte, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	path := bitmexAPIPath + endpoint
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var reqBody string
	if len(bodyParams) > 0 {
		jsonBytes, _ := json.Marshal(bodyParams)
		reqBody = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, bitmexBaseURL+path, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if signed {
		expires := strconv.FormatInt(time.Now().Unix()+60, 10)
		req.Header.Set("api-expires", expires)
		req.Header.Set("api-key", m.apiKey)
		req.Header.Set("api-signature", m.sign(method, path, expires, reqBody))
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{Exchange: "bitmex", Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		// BitMEX возвращает ошибку объектом {"error": {"message", "name"}}
		var errResp struct {
			Error struct {
				Message string `json:"message"`
				Name    string `json:"name"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return nil, &ExchangeError{
				Exchange: "bitmex",
				Code:     errResp.Error.Name,
				Message:  errResp.Error.Message,
			}
		}
		return nil, &ExchangeError{
			Exchange: "bitmex",
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  http.StatusText(resp.StatusCode),
		}
	}

	return body, nil
}

func (m *Bitmex) Connect(apiKey, secret string) error {
	m.apiKey = apiKey
	m.secretKey = secret

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := m.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to BitMEX: %w", err)
	}

	m.connected = true
	return nil
}

func (m *Bitmex) GetName() string {
	return "bitmex"
}

func (m *Bitmex) GetBalance(ctx context.Context) (float64, error) {
	query := url.Values{}
	query.Set("currency", "USDt")

	body, err := m.doRequest(ctx, http.MethodGet, "/user/margin", query, nil, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		MarginBalance float64 `json:"marginBalance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	return resp.MarginBalance / bitmexUSDtScale, nil
}

func (m *Bitmex) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	body, err := m.doRequest(ctx, http.MethodGet, "/instrument", query, nil, false)
	if err != nil {
		return 0, err
	}

	var resp []struct {
		Symbol    string  `json:"symbol"`
		MarkPrice float64 `json:"markPrice"`
		LastPrice float64 `json:"lastPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	if len(resp) == 0 {
		return 0, fmt.Errorf("instrument not found for %s", symbol)
	}

	if resp[0].MarkPrice > 0 {
		return resp[0].MarkPrice, nil
	}
	return resp[0].LastPrice, nil
}

func (m *Bitmex) OpenPosition(ctx context.Context, symbol, side string, qty float64, leverage int) (*Order, error) {
	if leverage > 0 {
		if err := m.setLeverage(ctx, symbol, leverage); err != nil {
			return nil, err
		}
	}

	bitmexSide := "Buy"
	if side == SideSell || side == SideShort {
		bitmexSide = "Sell"
	}

	return m.placeMarketOrder(ctx, symbol, bitmexSide, qty, false)
}

func (m *Bitmex) ClosePosition(ctx context.Context, symbol, side string, qty float64) (*Order, error) {
	closeSide := "Buy"
	if side == SideLong || side == SideBuy {
		closeSide = "Sell"
	}

	return m.placeMarketOrder(ctx, symbol, closeSide, qty, true)
}

func (m *Bitmex) setLeverage(ctx context.Context, symbol string, leverage int) error {
	params := map[string]interface{}{
		"symbol":   symbol,
		"leverage": leverage,
	}

	_, err := m.doRequest(ctx, http.MethodPost, "/position/leverage", nil, params, true)
	return err
}

func (m *Bitmex) placeMarketOrder(ctx context.Context, symbol, bitmexSide string, qty float64, reduceOnly bool) (*Order, error) {
	params := map[string]interface{}{
		"symbol":   symbol,
		"side":     bitmexSide,
		"orderQty": qty,
		"ordType":  "Market",
	}
	if reduceOnly {
		params["execInst"] = "ReduceOnly"
	}

	body, err := m.doRequest(ctx, http.MethodPost, "/order", nil, params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderID   string  `json:"orderID"`
		OrderQty  float64 `json:"orderQty"`
		CumQty    float64 `json:"cumQty"`
		AvgPx     float64 `json:"avgPx"`
		OrdStatus string  `json:"ordStatus"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	side := SideBuy
	if bitmexSide == "Sell" {
		side = SideSell
	}

	status := OrderStatusFilled
	switch resp.OrdStatus {
	case "PartiallyFilled":
		status = OrderStatusPartial
	case "Canceled":
		status = OrderStatusCancelled
	case "Rejected":
		status = OrderStatusRejected
	}

	filled := resp.CumQty
	if filled == 0 {
		filled = qty
	}

	return &Order{
		ID:           resp.OrderID,
		Symbol:       symbol,
		Side:         side,
		Type:         "market",
		Quantity:     qty,
		FilledQty:    filled,
		AvgFillPrice: resp.AvgPx,
		Status:       status,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}, nil
}

func (m *Bitmex) GetPositions(ctx context.Context) ([]*PositionInfo, error) {
	query := url.Values{}
	query.Set("filter", `{"isOpen":true}`)

	body, err := m.doRequest(ctx, http.MethodGet, "/position", query, nil, true)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		Symbol           string    `json:"symbol"`
		CurrentQty       float64   `json:"currentQty"`
		AvgEntryPrice    float64   `json:"avgEntryPrice"`
		MarkPrice        float64   `json:"markPrice"`
		LiquidationPrice float64   `json:"liquidationPrice"`
		PosMargin        float64   `json:"posMargin"`
		Leverage         float64   `json:"leverage"`
		UnrealisedPnl    float64   `json:"unrealisedPnl"`
		Timestamp        time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]*PositionInfo, 0, len(resp))
	for _, p := range resp {
		if p.CurrentQty == 0 {
			continue
		}

		// Знак currentQty кодирует направление позиции
		side := SideLong
		if p.CurrentQty < 0 {
			side = SideShort
		}

		positions = append(positions, &PositionInfo{
			Symbol:           p.Symbol,
			Side:             side,
			Size:             math.Abs(p.CurrentQty),
			EntryPrice:       p.AvgEntryPrice,
			MarkPrice:        p.MarkPrice,
			LiquidationPrice: p.LiquidationPrice,
			Margin:           p.PosMargin / bitmexUSDtScale,
			Leverage:         int(p.Leverage),
			UnrealizedPnl:    p.UnrealisedPnl / bitmexUSDtScale,
			UpdatedAt:        p.Timestamp,
		})
	}

	return positions, nil
}

func (m *Bitmex) AdjustPositionMargin(ctx context.Context, symbol string, amount float64) error {
	params := map[string]interface{}{
		"symbol": symbol,
		"amount": int64(amount * bitmexUSDtScale),
	}

	_, err := m.doRequest(ctx, http.MethodPost, "/position/transferMargin", nil, params, true)
	return err
}

func (m *Bitmex) Withdraw(ctx context.Context, coin string, amount float64, address string) (string, error) {
	currency := coin
	if coin == CoinUSDT {
		currency = "USDt"
	}

	params := map[string]interface{}{
		"currency": currency,
		"amount":   int64(amount * bitmexUSDtScale),
		"address":  address,
		"network":  "sol",
	}

	body, err := m.doRequest(ctx, http.MethodPost, "/user/requestWithdrawal", nil, params, true)
	if err != nil {
		return "", err
	}

	var resp struct {
		TransactID string `json:"transactID"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}

	return resp.TransactID, nil
}

func (m *Bitmex) Close() error {
	m.connected = false
	return nil
}
