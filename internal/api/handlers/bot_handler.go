package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"fundingarb/internal/api/middleware"
	"fundingarb/internal/bot"
	"fundingarb/internal/models"
	"fundingarb/internal/repository"
	"fundingarb/internal/service"
)

// StartBotRequest - тело запроса для запуска бота
type StartBotRequest struct {
	ConfigName string `json:"config_name,omitempty"` // пустое значение = "default"
}

// BotHandler отвечает за управление торговыми ботами
//
// Endpoints:
// - POST /api/v1/bot/start - запуск бота
// - POST /api/v1/bot/stop - остановка бота
// - GET /api/v1/bot/status - статус бота и открытые позиции
// - GET /api/v1/bot/configs - список конфигураций
// - POST /api/v1/bot/configs - создание конфигурации
// - PUT /api/v1/bot/configs/{name} - обновление конфигурации
// - DELETE /api/v1/bot/configs/{name} - удаление конфигурации
// - GET /api/v1/bot/history - история закрытых позиций
// - GET /api/v1/bot/risk-events - журнал событий риска
// - GET /api/v1/bot/margin-logs - журнал балансировок маржи
type BotHandler struct {
	botService service.BotServiceInterface
}

// NewBotHandler создает новый BotHandler
func NewBotHandler(botService service.BotServiceInterface) *BotHandler {
	return &BotHandler{
		botService: botService,
	}
}

// StartBot запускает бота пользователя
// POST /api/v1/bot/start
//
// Тело запроса:
//
//	{
//	  "config_name": "default"
//	}
//
// Ответы:
// - 200 OK: бот запущен, позиции открыты
// - 409 Conflict: бот уже запущен
// - 422 Unprocessable Entity: предстартовая проверка не прошла
//   (недостаточно капитала, пара уже открыта, биржа недоступна)
func (h *BotHandler) StartBot(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req StartBotRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
	}

	inst, err := h.botService.StartBot(r.Context(), userID, req.ConfigName)
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrBotAlreadyRunning):
			h.respondWithError(w, http.StatusConflict, "Bot is already running", "Stop the bot first")
		case errors.Is(err, bot.ErrInsufficientCapital):
			h.respondWithError(w, http.StatusUnprocessableEntity, "Insufficient capital", err.Error())
		case errors.Is(err, bot.ErrPairAlreadyOpen):
			h.respondWithError(w, http.StatusUnprocessableEntity, "Position pair is already open", err.Error())
		default:
			h.respondWithError(w, http.StatusUnprocessableEntity, "Failed to start bot", err.Error())
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, inst)
}

// StopBot останавливает бота пользователя
// POST /api/v1/bot/stop
//
// Открытые позиции не закрываются.
//
// Ответы:
// - 200 OK: бот остановлен
// - 404 Not Found: бот не запущен
func (h *BotHandler) StopBot(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	if err := h.botService.StopBot(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, bot.ErrBotNotRunning):
			h.respondWithError(w, http.StatusNotFound, "Bot is not running", "")
		default:
			h.respondWithError(w, http.StatusInternalServerError, "Failed to stop bot", err.Error())
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Bot stopped"})
}

// GetStatus возвращает статус бота с открытыми позициями
// GET /api/v1/bot/status
//
// Ответ:
//
//	{
//	  "instance": {...},
//	  "state": "MONITORING",
//	  "positions": [...],
//	  "total_pnl": 12.5
//	}
func (h *BotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.botService.GetStatus(r.Context(), middleware.UserID(r))
	if err != nil {
		if errors.Is(err, repository.ErrBotInstanceNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Bot was never started", "")
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get bot status", err.Error())
		return
	}

	h.respondWithJSON(w, http.StatusOK, status)
}

// GetConfigs возвращает конфигурации пользователя
// GET /api/v1/bot/configs
func (h *BotHandler) GetConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.botService.GetConfigs(r.Context(), middleware.UserID(r))
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get configs", err.Error())
		return
	}

	if configs == nil {
		configs = []*models.BotConfig{}
	}
	h.respondWithJSON(w, http.StatusOK, configs)
}

// CreateConfig создает новую конфигурацию
// POST /api/v1/bot/configs
//
// Тело запроса:
//
//	{
//	  "config_name": "default",
//	  "symbol": "SOLUSDT",
//	  "amount": 100,
//	  "long_exchange": "bybit",
//	  "short_exchange": "bitmex",
//	  "leverage": 3,
//	  "max_risk_level": 80,
//	  "liquidation_buffer": 20,
//	  "margin_threshold": 20
//	}
//
// Ответы:
// - 201 Created: конфигурация создана
// - 400 Bad Request: ошибка валидации
// - 409 Conflict: конфигурация с таким именем уже существует
func (h *BotHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var cfg models.BotConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	cfg.UserID = userID

	if err := h.botService.SaveConfig(r.Context(), &cfg); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidConfig):
			h.respondWithError(w, http.StatusBadRequest, "Invalid configuration", err.Error())
		case errors.Is(err, repository.ErrBotConfigExists):
			h.respondWithError(w, http.StatusConflict, "Configuration already exists", "Use PUT to update")
		default:
			h.respondWithError(w, http.StatusInternalServerError, "Failed to save configuration", err.Error())
		}
		return
	}

	h.respondWithJSON(w, http.StatusCreated, cfg)
}

// UpdateConfig обновляет существующую конфигурацию
// PUT /api/v1/bot/configs/{name}
//
// Запущенный бот продолжает работать со старой конфигурацией
// до перезапуска.
func (h *BotHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := middleware.UserID(r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var cfg models.BotConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	cfg.UserID = userID
	cfg.ConfigName = vars["name"]

	if err := h.botService.UpdateConfig(r.Context(), &cfg); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidConfig):
			h.respondWithError(w, http.StatusBadRequest, "Invalid configuration", err.Error())
		case errors.Is(err, repository.ErrBotConfigNotFound):
			h.respondWithError(w, http.StatusNotFound, "Configuration not found", "")
		default:
			h.respondWithError(w, http.StatusInternalServerError, "Failed to update configuration", err.Error())
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, cfg)
}

// DeleteConfig удаляет конфигурацию
// DELETE /api/v1/bot/configs/{name}
func (h *BotHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.botService.DeleteConfig(r.Context(), middleware.UserID(r), vars["name"]); err != nil {
		if errors.Is(err, repository.ErrBotConfigNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Configuration not found", "")
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, "Failed to delete configuration", err.Error())
		return
	}

	h.respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Configuration deleted"})
}

// GetHistory возвращает историю закрытых позиций
// GET /api/v1/bot/history?limit=100
func (h *BotHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.botService.GetPositionHistory(r.Context(), middleware.UserID(r), queryLimit(r))
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get position history", err.Error())
		return
	}

	if history.Positions == nil {
		history.Positions = []*models.Position{}
	}
	h.respondWithJSON(w, http.StatusOK, history)
}

// GetRiskEvents возвращает журнал событий риска
// GET /api/v1/bot/risk-events?limit=100
func (h *BotHandler) GetRiskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.botService.GetRiskEvents(r.Context(), middleware.UserID(r), queryLimit(r))
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get risk events", err.Error())
		return
	}

	if events == nil {
		events = []*models.RiskEvent{}
	}
	h.respondWithJSON(w, http.StatusOK, events)
}

// GetMarginLogs возвращает журнал балансировок маржи
// GET /api/v1/bot/margin-logs?limit=100
func (h *BotHandler) GetMarginLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.botService.GetMarginLogs(r.Context(), middleware.UserID(r), queryLimit(r))
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get margin logs", err.Error())
		return
	}

	if logs == nil {
		logs = []*models.MarginBalanceLog{}
	}
	h.respondWithJSON(w, http.StatusOK, logs)
}

// queryLimit читает параметр ?limit=, 0 означает дефолт сервиса
func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// respondWithJSON отправляет JSON ответ
func (h *BotHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	writeJSON(w, code, payload)
}

// respondWithError отправляет JSON ответ с ошибкой
func (h *BotHandler) respondWithError(w http.ResponseWriter, code int, message, details string) {
	writeJSON(w, code, ErrorResponse{Error: message, Details: details})
}
