package service

import (
	"context"
	"time"

	"fundingarb/internal/models"
	"fundingarb/internal/repository"
)

// ExchangeRepositoryInterface определяет интерфейс репозитория бирж
type ExchangeRepositoryInterface interface {
	Create(ctx context.Context, acc *models.ExchangeAccount) error
	GetByUserAndName(ctx context.Context, userID, name string) (*models.ExchangeAccount, error)
	GetByUser(ctx context.Context, userID string) ([]*models.ExchangeAccount, error)
	UpdateKeys(ctx context.Context, userID, name, apiKey, secretKey string) error
	UpdateBalance(ctx context.Context, userID, name string, balance float64) error
	SetConnected(ctx context.Context, userID, name string, connected bool) error
	SetLastError(ctx context.Context, userID, name, lastError string) error
	Delete(ctx context.Context, userID, name string) error
}

// BotRepositoryInterface определяет интерфейс репозитория ботов
type BotRepositoryInterface interface {
	GetInstance(ctx context.Context, userID string) (*models.BotInstance, error)
	SaveInstance(ctx context.Context, inst *models.BotInstance) error
	UpdateInstance(ctx context.Context, inst *models.BotInstance) error
	ListRunning(ctx context.Context) ([]*models.BotInstance, error)
	GetConfig(ctx context.Context, userID, configName string) (*models.BotConfig, error)
	ListConfigs(ctx context.Context, userID string) ([]*models.BotConfig, error)
	SaveConfig(ctx context.Context, cfg *models.BotConfig) error
	UpdateConfig(ctx context.Context, cfg *models.BotConfig) error
	DeleteConfig(ctx context.Context, userID, configName string) error
}

// PositionRepositoryInterface определяет интерфейс репозитория позиций
type PositionRepositoryInterface interface {
	Create(ctx context.Context, p *models.Position) error
	GetByID(ctx context.Context, positionID string) (*models.Position, error)
	GetOpenByUser(ctx context.Context, userID string) ([]*models.Position, error)
	GetHistoryByUser(ctx context.Context, userID string, limit int) ([]*models.Position, error)
	UpdateRisk(ctx context.Context, positionID string, currentPrice, liquidationPrice, riskLevel float64) error
	Close(ctx context.Context, positionID string, exitPrice, realizedPnl float64) error
	TotalPnlByUser(ctx context.Context, userID string) (float64, error)
}

// RiskEventRepositoryInterface определяет интерфейс журнала событий риска
type RiskEventRepositoryInterface interface {
	Create(ctx context.Context, ev *models.RiskEvent) error
	GetRecentByUser(ctx context.Context, userID string, limit int) ([]*models.RiskEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MarginLogRepositoryInterface определяет интерфейс журнала балансировок маржи
type MarginLogRepositoryInterface interface {
	Create(ctx context.Context, entry *models.MarginBalanceLog) error
	GetRecentByUser(ctx context.Context, userID string, limit int) ([]*models.MarginBalanceLog, error)
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.Notification) error
	GetRecentByUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ ExchangeRepositoryInterface = (*repository.ExchangeRepository)(nil)
var _ BotRepositoryInterface = (*repository.BotRepository)(nil)
var _ PositionRepositoryInterface = (*repository.PositionRepository)(nil)
var _ RiskEventRepositoryInterface = (*repository.RiskEventRepository)(nil)
var _ MarginLogRepositoryInterface = (*repository.MarginLogRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// BotServiceInterface определяет интерфейс сервиса управления ботами
type BotServiceInterface interface {
	StartBot(ctx context.Context, userID, configName string) (*models.BotInstance, error)
	StopBot(ctx context.Context, userID string) error
	GetStatus(ctx context.Context, userID string) (*BotStatusResponse, error)
	GetConfigs(ctx context.Context, userID string) ([]*models.BotConfig, error)
	SaveConfig(ctx context.Context, cfg *models.BotConfig) error
	UpdateConfig(ctx context.Context, cfg *models.BotConfig) error
	DeleteConfig(ctx context.Context, userID, configName string) error
	GetPositionHistory(ctx context.Context, userID string, limit int) (*PositionHistoryResponse, error)
	GetRiskEvents(ctx context.Context, userID string, limit int) ([]*models.RiskEvent, error)
	GetMarginLogs(ctx context.Context, userID string, limit int) ([]*models.MarginBalanceLog, error)
}

// ExchangeServiceInterface определяет интерфейс сервиса бирж
type ExchangeServiceInterface interface {
	ConnectExchange(ctx context.Context, userID, name, apiKey, secretKey string) (*models.ExchangeAccount, error)
	DisconnectExchange(ctx context.Context, userID, name string) error
	GetExchanges(ctx context.Context, userID string) ([]*models.ExchangeAccount, error)
	RefreshBalance(ctx context.Context, userID, name string) (float64, error)
}

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ BotServiceInterface = (*BotService)(nil)
var _ ExchangeServiceInterface = (*ExchangeService)(nil)
var _ NotificationServiceInterface = (*NotificationService)(nil)
