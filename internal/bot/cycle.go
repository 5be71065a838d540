package bot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fundingarb/internal/config"
	"fundingarb/internal/models"
)

// CycleManager управляет жизненным циклом позиций одного бота
//
// Цикл: ENTERING → MONITORING → CLOSING → (cooling) → ENTERING.
// После экстренного закрытия бот НЕ останавливается: выжидается
// cooling период и позиции переоткрываются. Если предусловия входа
// не выполняются, цикл уходит в SUSPENDED и повторяет попытку на
// каждом тике. STOPPED достижим только явной остановкой.
type CycleManager struct {
	entry     *EntryManager
	monitor   *RiskMonitor
	closer    *EmergencyCloser
	positions PositionStore
	events    RiskEventStore
	logger    *zap.Logger

	cooling time.Duration
}

// NewCycleManager создает менеджер цикла
func NewCycleManager(
	entry *EntryManager,
	monitor *RiskMonitor,
	closer *EmergencyCloser,
	positions PositionStore,
	events RiskEventStore,
	cfg config.BotConfig,
	logger *zap.Logger,
) *CycleManager {
	return &CycleManager{
		entry:     entry,
		monitor:   monitor,
		closer:    closer,
		positions: positions,
		events:    events,
		logger:    logger.Named("cycle"),
		cooling:   cfg.CoolingPeriod,
	}
}

// Tick выполняет один шаг цикла
//
// Вызывается движком каждые 10 секунд под локом экземпляра.
// Ошибки внутри тика не останавливают бот: следующий тик
// повторяет работу от текущего состояния.
func (cm *CycleManager) Tick(ctx context.Context, inst *models.BotInstance, cfg *models.BotConfig, rt *models.CycleRuntime) {
	switch rt.State {
	case models.StateEntering:
		cm.tryEnter(ctx, inst, cfg, rt, false)
	case models.StateSuspended:
		if err := TryTransition(rt, models.StateEntering); err != nil {
			cm.logger.Error("переход из suspended не удался", zap.Error(err))
			return
		}
		cm.tryEnter(ctx, inst, cfg, rt, rt.CyclesCount > 0)
	case models.StateMonitoring, models.StateClosing:
		cm.monitorAndClose(ctx, inst, cfg, rt)
	case models.StateStopped:
		// явная остановка, тики больше не приходят
	default:
		cm.logger.Error("неизвестное состояние цикла",
			zap.String("bot_id", rt.BotID),
			zap.String("state", rt.State))
	}
}

// tryEnter пытается открыть пару позиций
//
// reopen: вход выполняется после экстренного закрытия (переоткрытие),
// успех и неудача фиксируются событием position_cycle.
func (cm *CycleManager) tryEnter(ctx context.Context, inst *models.BotInstance, cfg *models.BotConfig, rt *models.CycleRuntime, reopen bool) {
	if time.Now().Before(rt.CoolingUntil) {
		return
	}

	if err := cm.entry.CanEnter(ctx, inst.UserID, cfg); err != nil {
		if errors.Is(err, ErrPairAlreadyOpen) {
			// Позиции уже есть (восстановление после рестарта)
			cm.logger.Info("пара уже открыта, переход к мониторингу",
				zap.String("bot_id", inst.BotID),
				zap.String("symbol", cfg.Symbol))
			cm.toMonitoring(rt)
			return
		}
		cm.suspend(rt, err)
		if reopen {
			cm.recordCycleEvent(ctx, inst, cfg, rt, false, err)
		}
		return
	}

	if _, err := cm.entry.Enter(ctx, inst, cfg); err != nil {
		cm.suspend(rt, err)
		if reopen {
			cm.recordCycleEvent(ctx, inst, cfg, rt, false, err)
		}
		return
	}

	cm.toMonitoring(rt)
	if reopen {
		rt.CyclesCount++
		cm.recordCycleEvent(ctx, inst, cfg, rt, true, nil)
	}
}

// monitorAndClose выполняет тик мониторинга риска и при необходимости
// экстренное закрытие с последующим переоткрытием
func (cm *CycleManager) monitorAndClose(ctx context.Context, inst *models.BotInstance, cfg *models.BotConfig, rt *models.CycleRuntime) {
	open, err := cm.positions.GetOpenByUser(ctx, inst.UserID)
	if err != nil {
		cm.logger.Error("не удалось получить открытые позиции",
			zap.String("user_id", inst.UserID),
			zap.Error(err))
		return
	}

	if len(open) == 0 {
		// Позиций нет: закрыты вручную или ликвидированы.
		// Suspended вернет цикл ко входу на следующем тике.
		cm.logger.Warn("открытых позиций нет, цикл переоткроется",
			zap.String("bot_id", inst.BotID))
		cm.suspend(rt, errors.New("нет открытых позиций"))
		return
	}

	snapshot := cm.monitor.Check(ctx, inst.UserID, open, cfg.MaxRiskLevel)
	rt.LastRiskCheck = snapshot.CheckedAt

	// Риск одной ноги приговаривает всю пару: оставить вторую ногу
	// без хеджа нельзя, а переоткрытие требует полного закрытия.
	// В CLOSING закрытие повторяется даже если риск опустился ниже порога.
	if len(snapshot.Risky) == 0 && rt.State != models.StateClosing {
		return
	}

	if rt.State == models.StateMonitoring {
		if err := TryTransition(rt, models.StateClosing); err != nil {
			cm.logger.Error("переход к закрытию не удался", zap.Error(err))
			return
		}
	}

	result := cm.closer.CloseRisky(ctx, inst.UserID, snapshot.Positions)
	if !result.Success {
		// Незакрытые ноги остались открытыми, состояние CLOSING
		// сохраняется и закрытие повторится на следующем тике
		cm.logger.Error("экстренное закрытие завершилось частично",
			zap.String("bot_id", inst.BotID),
			zap.Int("closed", result.ClosedCount),
			zap.Int("failed", result.FailedCount))
		return
	}

	// Пара закрыта: cooling, затем переоткрытие в рамках этого же тика
	rt.CoolingUntil = time.Now().Add(cm.cooling)
	select {
	case <-time.After(cm.cooling):
	case <-ctx.Done():
		return
	}

	if err := TryTransition(rt, models.StateEntering); err != nil {
		cm.logger.Error("переход к переоткрытию не удался", zap.Error(err))
		return
	}
	cm.tryEnter(ctx, inst, cfg, rt, true)
}

// toMonitoring переводит цикл в мониторинг
func (cm *CycleManager) toMonitoring(rt *models.CycleRuntime) {
	rt.SuspendReason = ""
	if err := TryTransition(rt, models.StateMonitoring); err != nil {
		cm.logger.Error("переход к мониторингу не удался", zap.Error(err))
	}
}

// suspend переводит цикл в SUSPENDED с причиной
func (cm *CycleManager) suspend(rt *models.CycleRuntime, reason error) {
	rt.SuspendReason = reason.Error()
	if rt.State == models.StateSuspended {
		rt.LastUpdate = time.Now().UTC()
		return
	}
	if err := TryTransition(rt, models.StateSuspended); err != nil {
		cm.logger.Error("переход в suspended не удался", zap.Error(err))
	}
}

// recordCycleEvent пишет событие переоткрытия цикла
func (cm *CycleManager) recordCycleEvent(ctx context.Context, inst *models.BotInstance, cfg *models.BotConfig, rt *models.CycleRuntime, success bool, cause error) {
	severity := models.RiskSeverityInfo
	action := "reopen"
	data := map[string]interface{}{
		"symbol":       cfg.Symbol,
		"reason":       "position_cycle",
		"action":       action,
		"cycles_count": rt.CyclesCount,
	}
	if !success {
		severity = models.RiskSeverityError
		data["error"] = cause.Error()
	}

	ev := &models.RiskEvent{
		UserID:    inst.UserID,
		EventType: models.RiskEventPositionCycle,
		Severity:  severity,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if err := cm.events.Create(ctx, ev); err != nil {
		cm.logger.Error("не удалось записать событие цикла",
			zap.String("bot_id", inst.BotID),
			zap.Error(err))
	}
	RecordRiskEvent(ev.EventType, ev.Severity)
}
