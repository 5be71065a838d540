package bot

import (
	"context"

	"fundingarb/internal/exchange"
	"fundingarb/internal/models"
)

// ============================================================
// Зависимости торгового ядра
// ============================================================
//
// Ядро не знает про SQL и HTTP: персистентность и шлюзы бирж
// передаются через узкие интерфейсы. Реализации живут в
// internal/repository и internal/service.

// GatewayProvider выдает подключенный шлюз биржи для пользователя.
//
// Реализуется ExchangeService: шлюзы создаются при подключении
// аккаунта (API ключи расшифровываются из БД) и кешируются.
type GatewayProvider interface {
	Gateway(ctx context.Context, userID, exchangeName string) (exchange.Gateway, error)
}

// PositionStore - персистентность позиций
type PositionStore interface {
	Create(ctx context.Context, p *models.Position) error
	GetOpenByUser(ctx context.Context, userID string) ([]*models.Position, error)

	// UpdateRisk обновляет риск-поля позиции после тика мониторинга
	UpdateRisk(ctx context.Context, positionID string, currentPrice, liquidationPrice, riskLevel float64) error

	// Close переводит позицию в closed с фиксацией цены выхода и PNL
	Close(ctx context.Context, positionID string, exitPrice, realizedPnl float64) error
}

// BotStore - персистентность экземпляров бота и конфигураций
type BotStore interface {
	GetInstance(ctx context.Context, userID string) (*models.BotInstance, error)
	SaveInstance(ctx context.Context, inst *models.BotInstance) error
	UpdateInstance(ctx context.Context, inst *models.BotInstance) error
	ListRunning(ctx context.Context) ([]*models.BotInstance, error)
	GetConfig(ctx context.Context, userID, configName string) (*models.BotConfig, error)
}

// RiskEventStore - журнал событий риска (append-only)
type RiskEventStore interface {
	Create(ctx context.Context, ev *models.RiskEvent) error
}

// MarginLogStore - журнал балансировок маржи (append-only)
type MarginLogStore interface {
	Create(ctx context.Context, entry *models.MarginBalanceLog) error
}

// NotificationStore - персистентность ленты уведомлений
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}
