package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fundingarb/internal/config"
	"fundingarb/internal/exchange"
	"fundingarb/internal/models"
	"fundingarb/pkg/utils"
)

// Минимальный шаг количества в монетах для рыночных ордеров
const defaultLotSize = 0.01

// EntryManager открывает захеджированную пару позиций
//
// Порядок ног фиксирован: сначала LONG на exchanges[0], затем SHORT
// на exchanges[1]. Если вторая нога не открылась, первая откатывается
// встречным ордером. Неудавшийся откат - худший исход входа, он
// возвращается как PartialEntryError и никогда не гасится молча.
type EntryManager struct {
	gateways      GatewayProvider
	positions     PositionStore
	notifications chan<- *models.Notification
	logger        *zap.Logger

	capitalBuffer float64       // множитель запаса капитала для входа
	orderTimeout  time.Duration // таймаут одного ордера
}

// NewEntryManager создает менеджер входа
func NewEntryManager(
	gateways GatewayProvider,
	positions PositionStore,
	notifications chan<- *models.Notification,
	cfg config.BotConfig,
	logger *zap.Logger,
) *EntryManager {
	return &EntryManager{
		gateways:      gateways,
		positions:     positions,
		notifications: notifications,
		logger:        logger.Named("entry"),
		capitalBuffer: cfg.CapitalBuffer,
		orderTimeout:  cfg.OrderTimeout,
	}
}

// CanEnter проверяет предусловия входа
//
// Условия ровно два:
//  1. нет открытой пары по символу (ни в хранилище, ни на биржах)
//  2. доступный USDT на обеих биржах >= amount * capital buffer
//
// Funding rate и рыночные условия НЕ проверяются.
// Возвращает nil если вход возможен, иначе ErrPairAlreadyOpen или
// ErrInsufficientCapital с деталями.
func (em *EntryManager) CanEnter(ctx context.Context, userID string, cfg *models.BotConfig) error {
	open, err := em.positions.GetOpenByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("проверка открытых позиций: %w", err)
	}
	for _, p := range open {
		if p.Symbol == cfg.Symbol {
			return fmt.Errorf("%w: %s на %s", ErrPairAlreadyOpen, p.Symbol, p.Exchange)
		}
	}

	required := cfg.Amount * em.capitalBuffer
	for _, exchangeName := range cfg.Exchanges() {
		gw, err := em.gateways.Gateway(ctx, userID, exchangeName)
		if err != nil {
			return fmt.Errorf("шлюз %s: %w", exchangeName, err)
		}

		balance, err := gw.GetBalance(ctx)
		if err != nil {
			return fmt.Errorf("баланс %s: %w", exchangeName, err)
		}
		if balance < required {
			return fmt.Errorf("%w: %s %.2f USDT < %.2f USDT",
				ErrInsufficientCapital, exchangeName, balance, required)
		}

		infos, err := gw.GetPositions(ctx)
		if err != nil {
			return fmt.Errorf("позиции %s: %w", exchangeName, err)
		}
		for _, info := range infos {
			if info.Symbol == cfg.Symbol && info.Size > 0 {
				return fmt.Errorf("%w: %s уже открыта на бирже %s",
					ErrPairAlreadyOpen, cfg.Symbol, exchangeName)
			}
		}
	}

	return nil
}

// Enter открывает пару позиций: LONG на exchanges[0], SHORT на exchanges[1]
//
// Возвращает обе персистированные позиции. При ошибке второй ноги
// первая откатывается; если и откат не удался, возвращается
// PartialEntryError.
func (em *EntryManager) Enter(ctx context.Context, inst *models.BotInstance, cfg *models.BotConfig) ([]*models.Position, error) {
	start := time.Now()

	longGw, err := em.gateways.Gateway(ctx, inst.UserID, cfg.LongExchange)
	if err != nil {
		return nil, fmt.Errorf("шлюз %s: %w", cfg.LongExchange, err)
	}
	shortGw, err := em.gateways.Gateway(ctx, inst.UserID, cfg.ShortExchange)
	if err != nil {
		return nil, fmt.Errorf("шлюз %s: %w", cfg.ShortExchange, err)
	}

	markPrice, err := longGw.GetMarkPrice(ctx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("mark price %s: %w", cfg.Symbol, err)
	}
	qty := utils.RoundToLotSize(cfg.Amount/markPrice, defaultLotSize)
	if qty <= 0 {
		return nil, fmt.Errorf("размер позиции %.2f USDT меньше минимального лота при цене %.4f", cfg.Amount, markPrice)
	}

	// Нога 1: LONG
	longOrder, err := em.openLeg(ctx, longGw, cfg.Symbol, exchange.SideLong, qty, cfg.Leverage)
	if err != nil {
		em.notifyEntryError(inst, cfg, cfg.LongExchange, err)
		return nil, fmt.Errorf("открытие long на %s: %w", cfg.LongExchange, err)
	}

	// Нога 2: SHORT
	shortOrder, err := em.openLeg(ctx, shortGw, cfg.Symbol, exchange.SideShort, qty, cfg.Leverage)
	if err != nil {
		return nil, em.rollbackLong(ctx, inst, cfg, longGw, longOrder, err)
	}

	now := time.Now().UTC()
	pair := []*models.Position{
		em.buildPosition(inst, cfg, cfg.LongExchange, models.SideLong, longOrder, now),
		em.buildPosition(inst, cfg, cfg.ShortExchange, models.SideShort, shortOrder, now),
	}

	for _, p := range pair {
		if err := em.positions.Create(ctx, p); err != nil {
			// Позиция уже открыта на бирже: ошибку БД не превращаем
			// в откат, монитор риска досчитает позицию по данным биржи
			em.logger.Error("не удалось сохранить позицию",
				zap.String("position_id", p.PositionID),
				zap.String("exchange", p.Exchange),
				zap.Error(err))
		}
	}

	EntryLatency.WithLabelValues(cfg.Symbol).Observe(float64(time.Since(start).Milliseconds()))
	em.notifyOpen(inst, cfg, pair)

	em.logger.Info("арбитражная пара открыта",
		zap.String("user_id", inst.UserID),
		zap.String("bot_id", inst.BotID),
		zap.String("symbol", cfg.Symbol),
		zap.Float64("qty", qty),
		zap.Float64("long_entry", longOrder.AvgFillPrice),
		zap.Float64("short_entry", shortOrder.AvgFillPrice))

	return pair, nil
}

// openLeg открывает одну ногу с таймаутом ордера
func (em *EntryManager) openLeg(ctx context.Context, gw exchange.Gateway, symbol, side string, qty float64, leverage int) (*exchange.Order, error) {
	orderCtx, cancel := context.WithTimeout(ctx, em.orderTimeout)
	defer cancel()

	start := time.Now()
	order, err := gw.OpenPosition(orderCtx, symbol, side, qty, leverage)
	OrderExecutionLatency.WithLabelValues(gw.GetName(), side).
		Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, err
	}
	if order.FilledQty <= 0 {
		return nil, fmt.Errorf("ордер %s не исполнен (статус %s)", order.ID, order.Status)
	}
	return order, nil
}

// rollbackLong откатывает LONG ногу после ошибки открытия SHORT
func (em *EntryManager) rollbackLong(ctx context.Context, inst *models.BotInstance, cfg *models.BotConfig, longGw exchange.Gateway, longOrder *exchange.Order, openErr error) error {
	em.logger.Warn("short нога не открылась, откат long",
		zap.String("user_id", inst.UserID),
		zap.String("symbol", cfg.Symbol),
		zap.String("long_exchange", cfg.LongExchange),
		zap.Error(openErr))

	rollbackCtx, cancel := context.WithTimeout(ctx, em.orderTimeout)
	defer cancel()

	_, rollbackErr := longGw.ClosePosition(rollbackCtx, cfg.Symbol, exchange.SideLong, longOrder.FilledQty)
	if rollbackErr != nil {
		partial := &PartialEntryError{
			Symbol:       cfg.Symbol,
			LongExchange: cfg.LongExchange,
			OpenErr:      openErr,
			RollbackErr:  rollbackErr,
		}
		em.notifyPartialEntry(inst, cfg, partial)
		RecordTrade(cfg.Symbol, "failed", 0)
		return partial
	}

	em.notifySecondLegFail(inst, cfg, openErr)
	RecordTrade(cfg.Symbol, "rollback", 0)
	return fmt.Errorf("открытие short на %s: %w", cfg.ShortExchange, openErr)
}

func (em *EntryManager) buildPosition(inst *models.BotInstance, cfg *models.BotConfig, exchangeName, side string, order *exchange.Order, now time.Time) *models.Position {
	entryPrice := order.AvgFillPrice
	return &models.Position{
		PositionID:       uuid.NewString(),
		UserID:           inst.UserID,
		BotID:            inst.BotID,
		Exchange:         exchangeName,
		Symbol:           cfg.Symbol,
		Side:             side,
		Size:             order.FilledQty,
		EntryPrice:       entryPrice,
		LiquidationPrice: FallbackLiquidationPrice(side, entryPrice), // уточняется первым тиком мониторинга
		CurrentPrice:     entryPrice,
		RiskLevel:        0,
		Margin:           cfg.Amount / float64(cfg.Leverage),
		Leverage:         cfg.Leverage,
		Status:           models.PositionStatusOpen,
		OpenedAt:         now,
		LastUpdated:      now,
	}
}

// ============ Уведомления ============

func (em *EntryManager) notifyOpen(inst *models.BotInstance, cfg *models.BotConfig, pair []*models.Position) {
	tryEnqueueNotification(em.notifications, &models.Notification{
		UserID:    inst.UserID,
		BotID:     inst.BotID,
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeOpen,
		Severity:  models.SeverityInfo,
		Message: fmt.Sprintf("📈 Открыта пара %s: LONG %s @ %.4f / SHORT %s @ %.4f",
			cfg.Symbol, cfg.LongExchange, pair[0].EntryPrice, cfg.ShortExchange, pair[1].EntryPrice),
		Meta: map[string]interface{}{
			"symbol":         cfg.Symbol,
			"long_exchange":  cfg.LongExchange,
			"short_exchange": cfg.ShortExchange,
			"size":           pair[0].Size,
			"amount_usdt":    cfg.Amount,
			"leverage":       cfg.Leverage,
		},
	})
}

func (em *EntryManager) notifyEntryError(inst *models.BotInstance, cfg *models.BotConfig, exchangeName string, err error) {
	tryEnqueueNotification(em.notifications, &models.Notification{
		UserID:    inst.UserID,
		BotID:     inst.BotID,
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeError,
		Severity:  models.SeverityWarn,
		Message:   fmt.Sprintf("❌ Не удалось открыть первую ногу %s на %s: %v", cfg.Symbol, exchangeName, err),
		Meta: map[string]interface{}{
			"symbol":   cfg.Symbol,
			"exchange": exchangeName,
			"error":    err.Error(),
		},
	})
}

func (em *EntryManager) notifySecondLegFail(inst *models.BotInstance, cfg *models.BotConfig, openErr error) {
	tryEnqueueNotification(em.notifications, &models.Notification{
		UserID:    inst.UserID,
		BotID:     inst.BotID,
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeSecondLegFail,
		Severity:  models.SeverityWarn,
		Message: fmt.Sprintf("↩️ SHORT %s на %s не открылся, LONG откатан: %v",
			cfg.Symbol, cfg.ShortExchange, openErr),
		Meta: map[string]interface{}{
			"symbol":         cfg.Symbol,
			"short_exchange": cfg.ShortExchange,
			"error":          openErr.Error(),
			"rolled_back":    true,
		},
	})
}

func (em *EntryManager) notifyPartialEntry(inst *models.BotInstance, cfg *models.BotConfig, partial *PartialEntryError) {
	tryEnqueueNotification(em.notifications, &models.Notification{
		UserID:    inst.UserID,
		BotID:     inst.BotID,
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypePartialEntry,
		Severity:  models.SeverityError,
		Message: fmt.Sprintf("🚨 ЧАСТИЧНЫЙ ВХОД %s: на %s осталась непокрытая LONG позиция! Требуется ручное закрытие",
			partial.Symbol, partial.LongExchange),
		Meta: map[string]interface{}{
			"symbol":         partial.Symbol,
			"long_exchange":  partial.LongExchange,
			"open_error":     partial.OpenErr.Error(),
			"rollback_error": partial.RollbackErr.Error(),
		},
	})
}
