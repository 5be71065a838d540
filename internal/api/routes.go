package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fundingarb/internal/api/handlers"
	"fundingarb/internal/api/middleware"
	"fundingarb/internal/service"
	"fundingarb/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	BotService          service.BotServiceInterface
	ExchangeService     service.ExchangeServiceInterface
	NotificationService service.NotificationServiceInterface

	Hub *websocket.Hub

	// Параметры аутентификации из config.SecurityConfig
	JWTSecret      string
	PasswordHash   string
	SessionTimeout time.Duration

	Logger *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Назначение:
// Центральное место для определения всех API endpoints.
// Регистрирует handlers для каждого маршрута.
// Применяет middleware к группам маршрутов.
// Организует версионирование API (v1).
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /auth/
//	│   └── POST /login - получить токен доступа
//	├── /bot/
//	│   ├── POST /start - запустить бота
//	│   ├── POST /stop - остановить бота
//	│   ├── GET /status - статус бота и открытые позиции
//	│   ├── GET /configs - список конфигураций
//	│   ├── POST /configs - создать конфигурацию
//	│   ├── PUT /configs/{name} - обновить конфигурацию
//	│   ├── DELETE /configs/{name} - удалить конфигурацию
//	│   ├── GET /history - история закрытых позиций
//	│   ├── GET /risk-events - журнал событий риска
//	│   └── GET /margin-logs - журнал балансировок маржи
//	├── /exchanges/
//	│   ├── GET / - список бирж
//	│   ├── POST /{name}/connect - подключить биржу
//	│   ├── DELETE /{name}/connect - отключить биржу
//	│   └── GET /{name}/balance - обновить и получить баланс
//	└── /notifications/
//	    └── GET / - получить уведомления
//
// /ws/
//
//	└── /stream - WebSocket для real-time обновлений (?token=)
//
// /metrics - Prometheus метрики (за DebugAuth)
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (для всех /api/v1 кроме /auth/login)
func SetupRoutes(deps *Dependencies) *mux.Router {
	logger := zap.NewNop()
	if deps != nil && deps.Logger != nil {
		logger = deps.Logger
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS)

	if deps == nil {
		registerHealth(router)
		return router
	}

	// Создание handlers с внедрением зависимостей
	authHandler := handlers.NewAuthHandler(deps.JWTSecret, deps.PasswordHash, deps.SessionTimeout)

	var botHandler *handlers.BotHandler
	if deps.BotService != nil {
		botHandler = handlers.NewBotHandler(deps.BotService)
	}

	var exchangeHandler *handlers.ExchangeHandler
	if deps.ExchangeService != nil {
		exchangeHandler = handlers.NewExchangeHandler(deps.ExchangeService)
	}

	var notificationHandler *handlers.NotificationHandler
	if deps.NotificationService != nil {
		notificationHandler = handlers.NewNotificationHandler(deps.NotificationService)
	}

	// Auth route (без auth middleware)
	router.HandleFunc("/api/v1/auth/login", authHandler.Login).Methods("POST")

	// API v1 routes (защищены токеном)
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.JWTSecret))

	// Bot routes
	if botHandler != nil {
		api.HandleFunc("/bot/start", botHandler.StartBot).Methods("POST")
		api.HandleFunc("/bot/stop", botHandler.StopBot).Methods("POST")
		api.HandleFunc("/bot/status", botHandler.GetStatus).Methods("GET")
		api.HandleFunc("/bot/configs", botHandler.GetConfigs).Methods("GET")
		api.HandleFunc("/bot/configs", botHandler.CreateConfig).Methods("POST")
		api.HandleFunc("/bot/configs/{name}", botHandler.UpdateConfig).Methods("PUT")
		api.HandleFunc("/bot/configs/{name}", botHandler.DeleteConfig).Methods("DELETE")
		api.HandleFunc("/bot/history", botHandler.GetHistory).Methods("GET")
		api.HandleFunc("/bot/risk-events", botHandler.GetRiskEvents).Methods("GET")
		api.HandleFunc("/bot/margin-logs", botHandler.GetMarginLogs).Methods("GET")
	}

	// Exchange routes
	if exchangeHandler != nil {
		api.HandleFunc("/exchanges", exchangeHandler.GetExchanges).Methods("GET")
		api.HandleFunc("/exchanges/{name}/connect", exchangeHandler.ConnectExchange).Methods("POST")
		api.HandleFunc("/exchanges/{name}/connect", exchangeHandler.DisconnectExchange).Methods("DELETE")
		api.HandleFunc("/exchanges/{name}/balance", exchangeHandler.GetExchangeBalance).Methods("GET")
	}

	// Notification routes
	if notificationHandler != nil {
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
	}

	// WebSocket route
	// Браузерный клиент передает токен через query параметр
	if deps.Hub != nil {
		router.Handle("/ws/stream",
			middleware.AuthWS(deps.JWTSecret)(http.HandlerFunc(deps.Hub.ServeWS)))
	}

	// Prometheus метрики за Basic auth
	router.Handle("/metrics", middleware.DebugAuth(promhttp.Handler())).Methods("GET")

	registerHealth(router)

	return router
}

func registerHealth(router *mux.Router) {
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
}
