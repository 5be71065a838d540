package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"fundingarb/internal/api/middleware"
	"fundingarb/internal/exchange"
	"fundingarb/internal/service"
	"fundingarb/pkg/utils"
)

// ConnectExchangeRequest - тело запроса для подключения биржи
type ConnectExchangeRequest struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// ExchangeResponse - ответ с информацией о бирже
type ExchangeResponse struct {
	Name      string  `json:"name"`
	Connected bool    `json:"connected"`
	Balance   float64 `json:"balance"`
	LastError string  `json:"last_error,omitempty"`
}

// BalanceResponse - ответ с балансом биржи
type BalanceResponse struct {
	Exchange string  `json:"exchange"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// ExchangeHandler отвечает за управление биржевыми аккаунтами
//
// Endpoints:
// - GET /api/v1/exchanges - список бирж пользователя и их статусы
// - POST /api/v1/exchanges/{name}/connect - подключение биржи
// - DELETE /api/v1/exchanges/{name}/connect - отключение биржи
// - GET /api/v1/exchanges/{name}/balance - обновление баланса биржи
type ExchangeHandler struct {
	exchangeService service.ExchangeServiceInterface
}

// NewExchangeHandler создает новый ExchangeHandler
func NewExchangeHandler(exchangeService service.ExchangeServiceInterface) *ExchangeHandler {
	return &ExchangeHandler{
		exchangeService: exchangeService,
	}
}

// ConnectExchange подключает биржу с API ключами
// POST /api/v1/exchanges/{name}/connect
//
// Тело запроса:
//
//	{
//	  "api_key": "your-api-key",
//	  "secret_key": "your-secret-key"
//	}
//
// Ответы:
// - 200 OK: биржа успешно подключена
// - 400 Bad Request: некорректные данные
// - 401 Unauthorized: неверные API ключи
// - 502 Bad Gateway: биржа недоступна
func (h *ExchangeHandler) ConnectExchange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exchangeName := strings.ToLower(vars["name"])
	userID := middleware.UserID(r)

	if !exchange.IsSupported(exchangeName) {
		h.respondWithError(w, http.StatusBadRequest, "Unsupported exchange", "Supported exchanges: "+strings.Join(exchange.SupportedExchanges, ", "))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req ConnectExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if err := utils.ValidateAPIKey(req.APIKey); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid API key", err.Error())
		return
	}
	if req.SecretKey == "" {
		h.respondWithError(w, http.StatusBadRequest, "Secret key is required", "")
		return
	}

	account, err := h.exchangeService.ConnectExchange(r.Context(), userID, exchangeName, req.APIKey, req.SecretKey)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExchangeNotSupported):
			h.respondWithError(w, http.StatusBadRequest, "Exchange not supported", err.Error())
		case errors.Is(err, service.ErrInvalidCredentials):
			h.respondWithError(w, http.StatusUnauthorized, "Invalid API credentials", err.Error())
		case errors.Is(err, service.ErrConnectionFailed):
			h.respondWithError(w, http.StatusBadGateway, "Failed to connect to exchange", err.Error())
		default:
			h.respondWithError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, ExchangeResponse{
		Name:      account.Name,
		Connected: account.Connected,
		Balance:   account.Balance,
		LastError: account.LastError,
	})
}

// DisconnectExchange отключает биржу (удаляет API ключи)
// DELETE /api/v1/exchanges/{name}/connect
//
// Ответы:
// - 200 OK: биржа отключена
// - 400 Bad Request: биржа не поддерживается
// - 404 Not Found: биржа не подключена
func (h *ExchangeHandler) DisconnectExchange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exchangeName := strings.ToLower(vars["name"])
	userID := middleware.UserID(r)

	if !exchange.IsSupported(exchangeName) {
		h.respondWithError(w, http.StatusBadRequest, "Unsupported exchange", "Supported exchanges: "+strings.Join(exchange.SupportedExchanges, ", "))
		return
	}

	if err := h.exchangeService.DisconnectExchange(r.Context(), userID, exchangeName); err != nil {
		switch {
		case errors.Is(err, service.ErrExchangeNotConnected):
			h.respondWithError(w, http.StatusNotFound, "Exchange is not connected", "")
		default:
			h.respondWithError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Exchange disconnected successfully",
		"name":      exchangeName,
		"connected": false,
	})
}

// GetExchanges возвращает список бирж пользователя с их статусами
// GET /api/v1/exchanges
//
// Ответ:
//
//	[
//	  {
//	    "name": "bybit",
//	    "connected": true,
//	    "balance": 1500.00
//	  },
//	  ...
//	]
func (h *ExchangeHandler) GetExchanges(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.exchangeService.GetExchanges(r.Context(), middleware.UserID(r))
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get exchanges", err.Error())
		return
	}

	response := make([]ExchangeResponse, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, ExchangeResponse{
			Name:      account.Name,
			Connected: account.Connected,
			Balance:   account.Balance,
			LastError: account.LastError,
		})
	}

	h.respondWithJSON(w, http.StatusOK, response)
}

// GetExchangeBalance обновляет и возвращает баланс конкретной биржи
// GET /api/v1/exchanges/{name}/balance
//
// Ответ:
//
//	{
//	  "exchange": "bybit",
//	  "balance": 1500.00,
//	  "currency": "USDT"
//	}
func (h *ExchangeHandler) GetExchangeBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exchangeName := strings.ToLower(vars["name"])
	userID := middleware.UserID(r)

	if !exchange.IsSupported(exchangeName) {
		h.respondWithError(w, http.StatusBadRequest, "Unsupported exchange", "Supported exchanges: "+strings.Join(exchange.SupportedExchanges, ", "))
		return
	}

	balance, err := h.exchangeService.RefreshBalance(r.Context(), userID, exchangeName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExchangeNotConnected):
			h.respondWithError(w, http.StatusNotFound, "Exchange is not connected", "Connect the exchange first")
		default:
			h.respondWithError(w, http.StatusBadGateway, "Failed to get balance from exchange", err.Error())
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, BalanceResponse{
		Exchange: exchangeName,
		Balance:  balance,
		Currency: "USDT",
	})
}

// respondWithJSON отправляет JSON ответ
func (h *ExchangeHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	writeJSON(w, code, payload)
}

// respondWithError отправляет JSON ответ с ошибкой
func (h *ExchangeHandler) respondWithError(w http.ResponseWriter, code int, message string, details string) {
	writeJSON(w, code, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
