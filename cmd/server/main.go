package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"fundingarb/internal/api"
	"fundingarb/internal/bot"
	"fundingarb/internal/config"
	"fundingarb/internal/repository"
	"fundingarb/internal/service"
	"fundingarb/internal/websocket"
	"fundingarb/pkg/utils"
)

// notificationRetention определяет срок хранения уведомлений в БД
const notificationRetention = 30 * 24 * time.Hour

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.MustInitLogger(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("не удалось подключиться к базе данных",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()),
			zap.Error(err))
	}
	defer db.Close()

	logger.Info("подключение к базе данных установлено",
		zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация репозиториев
	exchangeRepo := repository.NewExchangeRepository(db)
	botRepo := repository.NewBotRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	riskEventRepo := repository.NewRiskEventRepository(db)
	marginLogRepo := repository.NewMarginLogRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// WebSocket hub для real-time обновлений
	hub := websocket.NewHub(logger)
	go hub.Run()

	// Сервис бирж также служит фабрикой шлюзов для движка ботов
	exchangeService := service.NewExchangeService(
		exchangeRepo,
		cfg.Security.EncryptionKey,
		logger,
	)
	exchangeService.SetWebSocketHub(hub)

	// Движок ботов
	engine := bot.NewEngine(
		cfg,
		exchangeService,
		botRepo,
		positionRepo,
		riskEventRepo,
		marginLogRepo,
		notificationRepo,
		hub,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Восстанавливаем ботов, работавших до рестарта
	if err := engine.LoadActiveBots(ctx); err != nil {
		logger.Error("не удалось восстановить активных ботов", zap.Error(err))
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("движок ботов завершился с ошибкой", zap.Error(err))
		}
	}()

	// Планировщик балансировки маржи (00:00 и 12:00 UTC)
	scheduler, err := bot.NewMarginScheduler(engine, cfg.Margin, logger)
	if err != nil {
		logger.Fatal("не удалось создать планировщик балансировки", zap.Error(err))
	}
	go scheduler.Run(ctx)

	// Инициализация сервисов
	botService := service.NewBotService(
		engine,
		botRepo,
		positionRepo,
		riskEventRepo,
		marginLogRepo,
		logger,
	)

	notificationService := service.NewNotificationService(notificationRepo)
	notificationService.SetWebSocketHub(hub)

	// Периодическая очистка старых уведомлений
	go notificationCleanupLoop(ctx, notificationService, logger)

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		BotService:          botService,
		ExchangeService:     exchangeService,
		NotificationService: notificationService,
		Hub:                 hub,
		JWTSecret:           cfg.Security.JWTSecret,
		PasswordHash:        cfg.Security.PasswordHash,
		SessionTimeout:      time.Duration(cfg.Security.SessionTimeout) * time.Second,
		Logger:              logger,
	}

	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("запуск сервера", zap.String("addr", server.Addr), zap.Bool("https", cfg.Server.UseHTTPS))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("сервер завершился с ошибкой", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("сервер завершился с ошибкой", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("остановка сервера")

	// Останавливаем движок, планировщик и фоновые циклы.
	// Engine.Run останавливает всех запущенных ботов до возврата.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("принудительное завершение сервера", zap.Error(err))
	}

	// Дожидаемся завершения движка: StopAll мог отправлять последние
	// ордера через шлюзы, закрывать их раньше нельзя
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		logger.Error("движок не завершился за время graceful shutdown")
	}

	// Закрываем WebSocket соединения и соединения с биржами
	hub.Stop()
	if err := exchangeService.Close(); err != nil {
		logger.Error("ошибка закрытия соединений с биржами", zap.Error(err))
	}

	logger.Info("сервер остановлен")
}

// notificationCleanupLoop раз в сутки удаляет старые уведомления
func notificationCleanupLoop(ctx context.Context, svc *service.NotificationService, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := svc.CleanupOld(ctx, notificationRetention)
			if err != nil {
				logger.Error("ошибка очистки уведомлений", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Info("удалены старые уведомления", zap.Int64("deleted", deleted))
			}
		}
	}
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
