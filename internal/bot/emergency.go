package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fundingarb/internal/config"
	"fundingarb/internal/exchange"
	"fundingarb/internal/models"
	"fundingarb/pkg/retry"
)

// legKey группирует позиции для закрытия одним вызовом биржи
type legKey struct {
	Exchange string
	Symbol   string
}

// CloseResult - результат экстренного закрытия
type CloseResult struct {
	Success     bool               `json:"success"` // все рискованные позиции закрыты
	ClosedCount int                `json:"closed_count"`
	FailedCount int                `json:"failed_count"`
	Closed      []*models.Position `json:"closed"`
	Failed      []*models.Position `json:"failed"`
}

// EmergencyCloser закрывает позиции с риском ликвидации
//
// Закрытие - последний рубеж перед ликвидацией, поэтому каждая нога
// закрывается с агрессивным retry профилем. Позиции группируются по
// (биржа, символ): один рыночный ордер на группу, ошибка шлюза
// помечает все позиции группы как failed.
type EmergencyCloser struct {
	gateways      GatewayProvider
	positions     PositionStore
	events        RiskEventStore
	notifications chan<- *models.Notification
	logger        *zap.Logger

	maxCloseRetries int
	orderTimeout    time.Duration
}

// NewEmergencyCloser создает механизм экстренного закрытия
func NewEmergencyCloser(
	gateways GatewayProvider,
	positions PositionStore,
	events RiskEventStore,
	notifications chan<- *models.Notification,
	cfg config.BotConfig,
	logger *zap.Logger,
) *EmergencyCloser {
	return &EmergencyCloser{
		gateways:        gateways,
		positions:       positions,
		events:          events,
		notifications:   notifications,
		logger:          logger.Named("emergency"),
		maxCloseRetries: cfg.MaxCloseRetries,
		orderTimeout:    cfg.OrderTimeout,
	}
}

// CloseRisky закрывает позиции из снимка риска
//
// risky - все ноги приговоренной пары: риск одной ноги закрывает пару
// целиком, включая ноги со stale оценкой. Триггером закрытия stale
// нога быть не может (исключается из Risky монитором), но из закрытия
// пары она не исключается: оставить ногу без хеджа хуже, чем закрыть
// её по устаревшей оценке.
// PNL фиксируется по фактической цене закрытия: (exit-entry)*size для
// long, (entry-exit)*size для short. Для каждого символа пишется один
// RiskEvent с причиной liquidation_risk и действием emergency_close.
func (ec *EmergencyCloser) CloseRisky(ctx context.Context, userID string, risky []*PositionRisk) *CloseResult {
	result := &CloseResult{Success: true}
	if len(risky) == 0 {
		return result
	}

	groups := make(map[legKey][]*PositionRisk)
	for _, r := range risky {
		key := legKey{Exchange: r.Position.Exchange, Symbol: r.Position.Symbol}
		groups[key] = append(groups[key], r)
	}

	for key, group := range groups {
		closed, err := ec.closeGroup(ctx, userID, key, group)
		if err != nil {
			ec.logger.Error("не удалось экстренно закрыть группу позиций",
				zap.String("user_id", userID),
				zap.String("exchange", key.Exchange),
				zap.String("symbol", key.Symbol),
				zap.Int("positions", len(group)),
				zap.Error(err))
			for _, r := range group {
				result.Failed = append(result.Failed, r.Position)
				RecordEmergencyClose(key.Symbol, false)
			}
			ec.notifyCloseFailed(userID, key, group, err)
			continue
		}
		result.Closed = append(result.Closed, closed...)
		for range closed {
			RecordEmergencyClose(key.Symbol, true)
		}
	}

	result.ClosedCount = len(result.Closed)
	result.FailedCount = len(result.Failed)
	result.Success = result.FailedCount == 0

	ec.recordEvents(ctx, userID, risky, result)
	if len(result.Closed) > 0 {
		ec.notifyClosed(userID, result)
	}

	return result
}

// closeGroup закрывает все позиции одной группы одним ордером
func (ec *EmergencyCloser) closeGroup(ctx context.Context, userID string, key legKey, group []*PositionRisk) ([]*models.Position, error) {
	gw, err := ec.gateways.Gateway(ctx, userID, key.Exchange)
	if err != nil {
		return nil, fmt.Errorf("шлюз %s: %w", key.Exchange, err)
	}

	// В рамках группы все позиции одной стороны (пара разнесена по биржам)
	side := group[0].Position.Side
	totalQty := 0.0
	for _, r := range group {
		totalQty += r.Position.Size
	}

	order, err := ec.closeLeg(ctx, gw, key.Symbol, side, totalQty)
	if err != nil {
		return nil, err
	}

	exitPrice := order.AvgFillPrice
	closed := make([]*models.Position, 0, len(group))
	for _, r := range group {
		p := r.Position
		pnl := p.PnlAt(exitPrice)
		if err := ec.positions.Close(ctx, p.PositionID, exitPrice, pnl); err != nil {
			ec.logger.Error("позиция закрыта на бирже, но не сохранена",
				zap.String("position_id", p.PositionID),
				zap.Error(err))
		}
		now := time.Now().UTC()
		p.Status = models.PositionStatusClosed
		p.ExitPrice = exitPrice
		p.RealizedPnl = pnl
		p.ClosedAt = &now
		closed = append(closed, p)
		RecordTrade(p.Symbol, "success", pnl)
	}

	ec.logger.Info("группа позиций экстренно закрыта",
		zap.String("user_id", userID),
		zap.String("exchange", key.Exchange),
		zap.String("symbol", key.Symbol),
		zap.String("side", side),
		zap.Float64("qty", totalQty),
		zap.Float64("exit_price", exitPrice))

	return closed, nil
}

// closeLeg закрывает ногу с агрессивным retry
func (ec *EmergencyCloser) closeLeg(ctx context.Context, gw exchange.Gateway, symbol, side string, qty float64) (*exchange.Order, error) {
	cfg := retry.AggressiveConfig()
	cfg.MaxRetries = ec.maxCloseRetries
	cfg.RetryIf = retry.RetryIfNotContext
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		ec.logger.Warn("повтор экстренного закрытия",
			zap.String("exchange", gw.GetName()),
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return retry.DoWithResult(ctx, func() (*exchange.Order, error) {
		orderCtx, cancel := context.WithTimeout(ctx, ec.orderTimeout)
		defer cancel()
		return gw.ClosePosition(orderCtx, symbol, side, qty)
	}, cfg)
}

// recordEvents пишет по одному RiskEvent на символ
func (ec *EmergencyCloser) recordEvents(ctx context.Context, userID string, risky []*PositionRisk, result *CloseResult) {
	bySymbol := make(map[string][]*PositionRisk)
	for _, r := range risky {
		bySymbol[r.Position.Symbol] = append(bySymbol[r.Position.Symbol], r)
	}

	for symbol, group := range bySymbol {
		sum := 0.0
		maxLevel := 0.0
		for _, r := range group {
			sum += r.Level
			if r.Level > maxLevel {
				maxLevel = r.Level
			}
		}
		avg := sum / float64(len(group))
		severity := models.RiskSeverityFor(maxLevel)

		ev := &models.RiskEvent{
			UserID:    userID,
			EventType: models.RiskEventLiquidationRisk,
			Severity:  severity,
			Data: map[string]interface{}{
				"symbol":          symbol,
				"positions_count": len(group),
				"avg_risk_level":  avg,
				"reason":          "liquidation_risk",
				"action":          "emergency_close",
				"closed_count":    result.ClosedCount,
				"failed_count":    result.FailedCount,
			},
			Timestamp: time.Now().UTC(),
		}
		if err := ec.events.Create(ctx, ev); err != nil {
			ec.logger.Error("не удалось записать risk event",
				zap.String("user_id", userID),
				zap.String("symbol", symbol),
				zap.Error(err))
		}
		RecordRiskEvent(ev.EventType, ev.Severity)
	}
}

// ============ Уведомления ============

func (ec *EmergencyCloser) notifyClosed(userID string, result *CloseResult) {
	totalPnl := 0.0
	symbols := make([]string, 0, len(result.Closed))
	for _, p := range result.Closed {
		totalPnl += p.RealizedPnl
		symbols = append(symbols, p.Exchange+":"+p.Symbol)
	}

	tryEnqueueNotification(ec.notifications, &models.Notification{
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeEmergencyClose,
		Severity:  models.SeverityWarn,
		Message: fmt.Sprintf("⚠️ Экстренное закрытие: %d позиций закрыто, PNL %.2f USDT",
			result.ClosedCount, totalPnl),
		Meta: map[string]interface{}{
			"closed_count": result.ClosedCount,
			"failed_count": result.FailedCount,
			"positions":    symbols,
			"total_pnl":    totalPnl,
		},
	})
}

func (ec *EmergencyCloser) notifyCloseFailed(userID string, key legKey, group []*PositionRisk, err error) {
	tryEnqueueNotification(ec.notifications, &models.Notification{
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeError,
		Severity:  models.SeverityError,
		Message: fmt.Sprintf("🚨 НЕ УДАЛОСЬ закрыть %s на %s после %d попыток: %v",
			key.Symbol, key.Exchange, ec.maxCloseRetries, err),
		Meta: map[string]interface{}{
			"exchange":        key.Exchange,
			"symbol":          key.Symbol,
			"positions_count": len(group),
			"error":           err.Error(),
		},
	})
}
