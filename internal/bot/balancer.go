package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fundingarb/internal/config"
	"fundingarb/internal/exchange"
	"fundingarb/internal/models"
	"fundingarb/pkg/utils"
)

// MarginBalancer выравнивает маржу между биржами
//
// Длинная и короткая ноги двигаются в противофазе: на одной бирже
// маржа растет, на другой тает, и отстающая нога приближается к
// ликвидации. Дважды в сутки маржа перераспределяется в три шага:
//
//	1. снять amount маржи с позиции на бирже-доноре
//	2. перевести средства на биржу-получатель
//	3. добавить amount маржи к позиции на бирже-получателе
//
// Перевод между биржами не атомарен. Ошибка шага 2 возвращает
// снятую маржу на донора; после шага 2 отката нет - средства уже
// ушли, и следующий плановый запуск работает от фактического
// состояния. Каждая попытка перевода фиксируется в MarginBalanceLog
// с точкой отказа.
type MarginBalancer struct {
	gateways      GatewayProvider
	marginLogs    MarginLogStore
	notifications chan<- *models.Notification
	logger        *zap.Logger

	threshold        float64 // порог дисбаланса (%), сработка строго выше
	depositAddresses map[string]string
}

// NewMarginBalancer создает балансировщик маржи
func NewMarginBalancer(
	gateways GatewayProvider,
	marginLogs MarginLogStore,
	notifications chan<- *models.Notification,
	cfg config.MarginConfig,
	logger *zap.Logger,
) *MarginBalancer {
	return &MarginBalancer{
		gateways:         gateways,
		marginLogs:       marginLogs,
		notifications:    notifications,
		logger:           logger.Named("balancer"),
		threshold:        cfg.Threshold,
		depositAddresses: cfg.DepositAddresses,
	}
}

// marginSide - маржа одной стороны пары
type marginSide struct {
	Exchange string
	Gateway  exchange.Gateway
	Margin   float64
}

// Rebalance проверяет дисбаланс маржи пользователя и при превышении
// порога выполняет перевод
//
// Сумма перевода выравнивает маржу точно пополам:
// target = (max+min)/2, amount = max-target.
// Пример: $600/$400 -> перевод $100 -> $500/$500.
func (mb *MarginBalancer) Rebalance(ctx context.Context, inst *models.BotInstance, cfg *models.BotConfig) error {
	threshold := cfg.MarginThreshold
	if threshold <= 0 {
		threshold = mb.threshold
	}

	sides, err := mb.collectMargins(ctx, inst.UserID, cfg)
	if err != nil {
		RecordRebalance("failed")
		return err
	}

	src, dst := sides[0], sides[1]
	if dst.Margin > src.Margin {
		src, dst = dst, src
	}
	if src.Margin <= 0 {
		RecordRebalance("skipped")
		return nil
	}

	imbalance := utils.ImbalancePct(src.Margin, dst.Margin)
	if imbalance <= threshold {
		mb.logger.Debug("дисбаланс маржи в пределах порога",
			zap.String("user_id", inst.UserID),
			zap.Float64("imbalance_pct", imbalance),
			zap.Float64("threshold", threshold))
		RecordRebalance("skipped")
		return nil
	}

	target := (src.Margin + dst.Margin) / 2
	amount := src.Margin - target

	mb.logger.Info("запуск балансировки маржи",
		zap.String("user_id", inst.UserID),
		zap.String("from", src.Exchange),
		zap.String("to", dst.Exchange),
		zap.Float64("from_margin", src.Margin),
		zap.Float64("to_margin", dst.Margin),
		zap.Float64("imbalance_pct", imbalance),
		zap.Float64("amount", amount))

	entry := &models.MarginBalanceLog{
		UserID:       inst.UserID,
		FromExchange: src.Exchange,
		ToExchange:   dst.Exchange,
		Amount:       amount,
		SourceMargin: src.Margin,
		TargetMargin: dst.Margin,
		Timestamp:    time.Now().UTC(),
	}

	err = mb.transfer(ctx, cfg.Symbol, src, dst, amount, entry)
	entry.Success = err == nil

	if logErr := mb.marginLogs.Create(ctx, entry); logErr != nil {
		mb.logger.Error("не удалось записать журнал балансировки",
			zap.String("user_id", inst.UserID),
			zap.Error(logErr))
	}

	if err != nil {
		RecordRebalance("failed")
		mb.notifyFailed(inst, entry, err)
		return err
	}

	RecordRebalance("success")
	mb.notifySuccess(inst, entry)
	return nil
}

// transfer выполняет три шага перевода, заполняя точку отказа в entry
func (mb *MarginBalancer) transfer(ctx context.Context, symbol string, src, dst marginSide, amount float64, entry *models.MarginBalanceLog) error {
	// Шаг 1: снять маржу с донора
	if err := src.Gateway.AdjustPositionMargin(ctx, symbol, -amount); err != nil {
		entry.StepFailed = models.MarginStepRemove
		entry.Error = err.Error()
		return fmt.Errorf("снятие маржи на %s: %w", src.Exchange, err)
	}

	// Шаг 2: перевод средств между биржами
	address := mb.depositAddresses[dst.Exchange]
	if address == "" {
		restoreErr := src.Gateway.AdjustPositionMargin(ctx, symbol, amount)
		err := fmt.Errorf("не задан адрес депозита для %s", dst.Exchange)
		entry.StepFailed = models.MarginStepTransfer
		entry.Error = mb.transferError(err, restoreErr)
		return err
	}
	if _, err := src.Gateway.Withdraw(ctx, exchange.CoinUSDT, amount, address); err != nil {
		// Возвращаем снятую маржу, позиция донора не должна остаться
		// с урезанным запасом до ликвидации
		restoreErr := src.Gateway.AdjustPositionMargin(ctx, symbol, amount)
		entry.StepFailed = models.MarginStepTransfer
		entry.Error = mb.transferError(err, restoreErr)
		return fmt.Errorf("перевод %s -> %s: %w", src.Exchange, dst.Exchange, err)
	}

	// Шаг 3: добавить маржу получателю. Отката нет: средства уже
	// на бирже-получателе, повтор доведет дело на следующем запуске
	if err := dst.Gateway.AdjustPositionMargin(ctx, symbol, amount); err != nil {
		entry.StepFailed = models.MarginStepAdd
		entry.Error = err.Error()
		return fmt.Errorf("добавление маржи на %s: %w", dst.Exchange, err)
	}

	return nil
}

// transferError объединяет ошибку перевода с результатом отката
func (mb *MarginBalancer) transferError(err, restoreErr error) string {
	if restoreErr != nil {
		return fmt.Sprintf("%v; откат маржи не удался: %v", err, restoreErr)
	}
	return fmt.Sprintf("%v; снятая маржа возвращена", err)
}

// collectMargins суммирует маржу позиций на обеих биржах пары
func (mb *MarginBalancer) collectMargins(ctx context.Context, userID string, cfg *models.BotConfig) ([2]marginSide, error) {
	var sides [2]marginSide
	for i, exchangeName := range cfg.Exchanges() {
		gw, err := mb.gateways.Gateway(ctx, userID, exchangeName)
		if err != nil {
			return sides, fmt.Errorf("шлюз %s: %w", exchangeName, err)
		}
		infos, err := gw.GetPositions(ctx)
		if err != nil {
			return sides, fmt.Errorf("позиции %s: %w", exchangeName, err)
		}
		total := 0.0
		for _, info := range infos {
			if info.Symbol == cfg.Symbol {
				total += info.Margin
			}
		}
		sides[i] = marginSide{Exchange: exchangeName, Gateway: gw, Margin: total}
	}
	return sides, nil
}

// ============ Уведомления ============

func (mb *MarginBalancer) notifySuccess(inst *models.BotInstance, entry *models.MarginBalanceLog) {
	tryEnqueueNotification(mb.notifications, &models.Notification{
		UserID:    inst.UserID,
		BotID:     inst.BotID,
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeMargin,
		Severity:  models.SeverityInfo,
		Message: fmt.Sprintf("⚖️ Маржа сбалансирована: %.2f USDT %s → %s",
			entry.Amount, entry.FromExchange, entry.ToExchange),
		Meta: map[string]interface{}{
			"from_exchange": entry.FromExchange,
			"to_exchange":   entry.ToExchange,
			"amount":        entry.Amount,
			"source_margin": entry.SourceMargin,
			"target_margin": entry.TargetMargin,
		},
	})
}

func (mb *MarginBalancer) notifyFailed(inst *models.BotInstance, entry *models.MarginBalanceLog, err error) {
	tryEnqueueNotification(mb.notifications, &models.Notification{
		UserID:    inst.UserID,
		BotID:     inst.BotID,
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeMargin,
		Severity:  models.SeverityError,
		Message: fmt.Sprintf("⚠️ Балансировка маржи не удалась на шаге %s: %v",
			entry.StepFailed, err),
		Meta: map[string]interface{}{
			"from_exchange": entry.FromExchange,
			"to_exchange":   entry.ToExchange,
			"amount":        entry.Amount,
			"step_failed":   entry.StepFailed,
			"error":         entry.Error,
		},
	})
}
