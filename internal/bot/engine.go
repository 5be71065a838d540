package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fundingarb/internal/config"
	"fundingarb/internal/models"
)

// WebSocketHub - интерфейс для отправки данных клиентам
//
// Реализуется пакетом internal/websocket/Hub
// Используется для real-time обновления UI:
// - botUpdate: статус бота при изменениях
// - riskUpdate: риск открытых позиций каждый тик
// - notification: события торговли
// - balanceUpdate: балансы бирж
type WebSocketHub interface {
	// BroadcastBotUpdate отправляет обновление статуса бота
	BroadcastBotUpdate(userID string, inst *models.BotInstance)

	// BroadcastRiskUpdate отправляет риск открытых позиций
	// Вызывается после каждого тика мониторинга
	BroadcastRiskUpdate(userID string, positions []*models.Position)

	// BroadcastNotification отправляет уведомление о событии
	// Вызывается при OPEN, CLOSE, EMERGENCY_CLOSE, MARGIN и др.
	BroadcastNotification(notif *models.Notification)

	// BroadcastBalanceUpdate отправляет обновление баланса биржи
	BroadcastBalanceUpdate(userID, exchangeName string, balance float64)
}

// BotStatus - снимок состояния бота для API и UI
type BotStatus struct {
	Instance      *models.BotInstance `json:"instance"`
	State         string              `json:"state"`
	StateInfo     string              `json:"state_info"`
	SuspendReason string              `json:"suspend_reason,omitempty"`
	Positions     []*models.Position  `json:"positions"`
	LastRiskCheck time.Time           `json:"last_risk_check"`
}

// instanceState - runtime состояние одного запущенного бота
type instanceState struct {
	inst    *models.BotInstance
	cfg     *models.BotConfig
	runtime *models.CycleRuntime

	cancel context.CancelFunc
	done   chan struct{}

	// Сериализует тик мониторинга и балансировку маржи одного
	// пользователя: снятие маржи не может перемежаться с экстренным
	// закрытием той же позиции. Разные пользователи независимы.
	mu sync.Mutex
}

// Engine - реестр запущенных ботов
//
// На пользователя не более одного работающего экземпляра. Каждый
// экземпляр обслуживается собственной горутиной с 10-секундным
// тикером; остановка наблюдается на границе тика.
type Engine struct {
	cfg *config.Config

	gateways      GatewayProvider
	bots          BotStore
	positions     PositionStore
	notifStore    NotificationStore
	notifications chan *models.Notification

	entry    *EntryManager
	monitor  *RiskMonitor
	closer   *EmergencyCloser
	cycle    *CycleManager
	balancer *MarginBalancer

	instances map[string]*instanceState // ключ: userID
	mu        sync.RWMutex

	wsHub  WebSocketHub
	logger *zap.Logger
}

// NewEngine создает движок со всеми компонентами торгового цикла
func NewEngine(
	cfg *config.Config,
	gateways GatewayProvider,
	bots BotStore,
	positions PositionStore,
	events RiskEventStore,
	marginLogs MarginLogStore,
	notifStore NotificationStore,
	wsHub WebSocketHub,
	logger *zap.Logger,
) *Engine {
	logger = logger.Named("engine")
	notifications := make(chan *models.Notification, 256)

	entry := NewEntryManager(gateways, positions, notifications, cfg.Bot, logger)
	monitor := NewRiskMonitor(gateways, positions, logger)
	closer := NewEmergencyCloser(gateways, positions, events, notifications, cfg.Bot, logger)
	cycle := NewCycleManager(entry, monitor, closer, positions, events, cfg.Bot, logger)
	balancer := NewMarginBalancer(gateways, marginLogs, notifications, cfg.Margin, logger)

	return &Engine{
		cfg:           cfg,
		gateways:      gateways,
		bots:          bots,
		positions:     positions,
		notifStore:    notifStore,
		notifications: notifications,
		entry:         entry,
		monitor:       monitor,
		closer:        closer,
		cycle:         cycle,
		balancer:      balancer,
		instances:     make(map[string]*instanceState),
		wsHub:         wsHub,
		logger:        logger,
	}
}

// Run блокируется до отмены контекста, обслуживая уведомления.
// При завершении останавливает все запущенные боты.
func (e *Engine) Run(ctx context.Context) error {
	go e.notificationLoop(ctx)

	<-ctx.Done()
	e.StopAll()
	return ctx.Err()
}

// Start запускает бота пользователя
//
// Отклоняет повторный запуск, проверяет предусловия (шлюзы, балансы),
// выполняет первичный вход и запускает цикл мониторинга.
func (e *Engine) Start(ctx context.Context, userID, configName string) (*models.BotInstance, error) {
	e.mu.Lock()
	if _, running := e.instances[userID]; running {
		e.mu.Unlock()
		return nil, ErrBotAlreadyRunning
	}
	// Резервируем слот до завершения входа, чтобы параллельный Start
	// того же пользователя не открыл вторую пару
	e.instances[userID] = nil
	e.mu.Unlock()

	inst, err := e.startLocked(ctx, userID, configName)
	if err != nil {
		e.mu.Lock()
		delete(e.instances, userID)
		e.mu.Unlock()
		return nil, err
	}
	return inst, nil
}

func (e *Engine) startLocked(ctx context.Context, userID, configName string) (*models.BotInstance, error) {
	cfg := e.loadConfig(ctx, userID, configName)

	// Предусловия: шлюзы подключены, капитала достаточно, пары нет
	if err := e.entry.CanEnter(ctx, userID, cfg); err != nil {
		return nil, fmt.Errorf("предстартовая проверка: %w", err)
	}

	now := time.Now().UTC()
	inst := &models.BotInstance{
		BotID:        "bot_" + uuid.NewString(),
		UserID:       userID,
		ConfigName:   cfg.ConfigName,
		Status:       models.BotStatusRunning,
		LastActivity: now,
		StartedAt:    now,
	}
	if err := e.bots.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("сохранение экземпляра: %w", err)
	}

	// Первичный вход: неудача отменяет запуск
	pair, err := e.entry.Enter(ctx, inst, cfg)
	if err != nil {
		e.markStopped(ctx, inst)
		return nil, err
	}
	inst.PositionsCount = len(pair)

	rt := &models.CycleRuntime{
		BotID:      inst.BotID,
		State:      models.StateMonitoring,
		LastUpdate: now,
	}
	e.register(inst, cfg, rt)

	e.logger.Info("бот запущен",
		zap.String("user_id", userID),
		zap.String("bot_id", inst.BotID),
		zap.String("config", cfg.ConfigName),
		zap.String("symbol", cfg.Symbol))

	e.wsHub.BroadcastBotUpdate(userID, inst)
	return inst, nil
}

// Stop останавливает бота пользователя
//
// Отмена наблюдается на границе тика: текущий тик довершается,
// новый цикл не начинается. Открытые позиции НЕ закрываются.
func (e *Engine) Stop(ctx context.Context, userID string) error {
	e.mu.Lock()
	st, ok := e.instances[userID]
	if !ok || st == nil {
		e.mu.Unlock()
		return ErrBotNotRunning
	}
	delete(e.instances, userID)
	e.mu.Unlock()

	st.cancel()
	<-st.done

	st.mu.Lock()
	ForceTransition(st.runtime, models.StateStopped)
	e.markStopped(ctx, st.inst)
	st.mu.Unlock()

	UpdateActiveBots(e.runningCount())
	e.wsHub.BroadcastBotUpdate(userID, st.inst)

	e.logger.Info("бот остановлен",
		zap.String("user_id", userID),
		zap.String("bot_id", st.inst.BotID))
	return nil
}

// StopAll останавливает все запущенные боты (graceful shutdown)
func (e *Engine) StopAll() {
	e.mu.Lock()
	states := make([]*instanceState, 0, len(e.instances))
	for userID, st := range e.instances {
		if st != nil {
			states = append(states, st)
		}
		delete(e.instances, userID)
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, st := range states {
		st.cancel()
		<-st.done
		st.mu.Lock()
		ForceTransition(st.runtime, models.StateStopped)
		e.markStopped(ctx, st.inst)
		st.mu.Unlock()
	}
	UpdateActiveBots(0)
}

// Status возвращает снимок состояния бота пользователя
func (e *Engine) Status(ctx context.Context, userID string) (*BotStatus, error) {
	e.mu.RLock()
	st, running := e.instances[userID]
	e.mu.RUnlock()

	if running && st != nil {
		st.mu.Lock()
		status := &BotStatus{
			Instance:      st.inst,
			State:         st.runtime.State,
			StateInfo:     StateInfo(st.runtime.State),
			SuspendReason: st.runtime.SuspendReason,
			LastRiskCheck: st.runtime.LastRiskCheck,
		}
		st.mu.Unlock()

		open, err := e.positions.GetOpenByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		status.Positions = open
		return status, nil
	}

	inst, err := e.bots.GetInstance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BotStatus{
		Instance:  inst,
		State:     models.StateStopped,
		StateInfo: StateInfo(models.StateStopped),
	}, nil
}

// LoadActiveBots восстанавливает запущенные боты после рестарта процесса
//
// Вход не выполняется заново: если пара открыта, цикл продолжает
// мониторинг; если позиций нет, цикл сам уйдет на вход.
func (e *Engine) LoadActiveBots(ctx context.Context) error {
	running, err := e.bots.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("список запущенных ботов: %w", err)
	}

	restored := 0
	for _, inst := range running {
		cfg := e.loadConfig(ctx, inst.UserID, inst.ConfigName)

		// Шлюзы должны быть доступны, иначе бот переводится в stopped
		ok := true
		for _, exchangeName := range cfg.Exchanges() {
			if _, err := e.gateways.Gateway(ctx, inst.UserID, exchangeName); err != nil {
				e.logger.Error("шлюз недоступен, бот не восстановлен",
					zap.String("user_id", inst.UserID),
					zap.String("bot_id", inst.BotID),
					zap.String("exchange", exchangeName),
					zap.Error(err))
				e.markStopped(ctx, inst)
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		open, err := e.positions.GetOpenByUser(ctx, inst.UserID)
		if err != nil {
			e.logger.Error("не удалось получить позиции при восстановлении",
				zap.String("user_id", inst.UserID),
				zap.Error(err))
			continue
		}

		state := models.StateEntering
		if len(open) > 0 {
			state = models.StateMonitoring
		}
		rt := &models.CycleRuntime{
			BotID:      inst.BotID,
			State:      state,
			LastUpdate: time.Now().UTC(),
		}
		inst.PositionsCount = len(open)

		e.mu.Lock()
		if _, exists := e.instances[inst.UserID]; exists {
			e.mu.Unlock()
			continue
		}
		e.instances[inst.UserID] = nil
		e.mu.Unlock()

		e.register(inst, cfg, rt)
		restored++
	}

	e.logger.Info("восстановление ботов завершено",
		zap.Int("found", len(running)),
		zap.Int("restored", restored))
	return nil
}

// RebalanceAll выполняет балансировку маржи всех запущенных ботов
//
// Вызывается планировщиком в запланированные моменты. Лок экземпляра
// исключает пересечение с тиком мониторинга того же пользователя.
func (e *Engine) RebalanceAll(ctx context.Context) {
	e.mu.RLock()
	states := make([]*instanceState, 0, len(e.instances))
	for _, st := range e.instances {
		if st != nil {
			states = append(states, st)
		}
	}
	e.mu.RUnlock()

	e.logger.Info("плановая балансировка маржи", zap.Int("bots", len(states)))

	for _, st := range states {
		st.mu.Lock()
		if err := e.balancer.Rebalance(ctx, st.inst, st.cfg); err != nil {
			e.logger.Error("балансировка маржи не удалась",
				zap.String("user_id", st.inst.UserID),
				zap.Error(err))
		}
		st.mu.Unlock()
	}
}

// ============ Внутреннее ============

// register создает запись реестра и запускает цикл мониторинга
func (e *Engine) register(inst *models.BotInstance, cfg *models.BotConfig, rt *models.CycleRuntime) {
	loopCtx, cancel := context.WithCancel(context.Background())
	st := &instanceState{
		inst:    inst,
		cfg:     cfg,
		runtime: rt,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.instances[inst.UserID] = st
	e.mu.Unlock()
	UpdateActiveBots(e.runningCount())

	go e.runLoop(loopCtx, st)
}

// runLoop - 10-секундный цикл одного бота
func (e *Engine) runLoop(ctx context.Context, st *instanceState) {
	defer close(st.done)

	ticker := time.NewTicker(e.cfg.Bot.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.mu.Lock()
			e.cycle.Tick(ctx, st.inst, st.cfg, st.runtime)
			st.inst.LastActivity = time.Now().UTC()
			e.afterTick(ctx, st)
			st.mu.Unlock()
		}
	}
}

// afterTick персистит активность и рассылает обновления UI.
// Вызывается под локом экземпляра.
func (e *Engine) afterTick(ctx context.Context, st *instanceState) {
	open, err := e.positions.GetOpenByUser(ctx, st.inst.UserID)
	if err != nil {
		e.logger.Error("не удалось получить позиции после тика",
			zap.String("user_id", st.inst.UserID),
			zap.Error(err))
		return
	}
	st.inst.PositionsCount = len(open)

	if err := e.bots.UpdateInstance(ctx, st.inst); err != nil {
		e.logger.Error("не удалось обновить экземпляр бота",
			zap.String("bot_id", st.inst.BotID),
			zap.Error(err))
	}

	e.wsHub.BroadcastRiskUpdate(st.inst.UserID, open)
	e.wsHub.BroadcastBotUpdate(st.inst.UserID, st.inst)
}

// notificationLoop персистит и рассылает уведомления из канала ядра
func (e *Engine) notificationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-e.notifications:
			if e.notifStore != nil {
				if err := e.notifStore.Create(ctx, notif); err != nil {
					e.logger.Error("не удалось сохранить уведомление",
						zap.String("type", notif.Type),
						zap.Error(err))
				}
			}
			e.wsHub.BroadcastNotification(notif)
		}
	}
}

// loadConfig возвращает конфигурацию пользователя или дефолтную
func (e *Engine) loadConfig(ctx context.Context, userID, configName string) *models.BotConfig {
	if configName == "" {
		configName = "default"
	}
	cfg, err := e.bots.GetConfig(ctx, userID, configName)
	if err != nil {
		e.logger.Warn("конфигурация не найдена, используется дефолтная",
			zap.String("user_id", userID),
			zap.String("config", configName),
			zap.Error(err))
		cfg = models.DefaultBotConfig(userID)
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = e.cfg.Bot.DefaultLeverage
	}
	if cfg.MaxRiskLevel <= 0 {
		cfg.MaxRiskLevel = e.cfg.Bot.MaxRiskLevel
	}
	return cfg
}

// markStopped персистит остановленный статус
func (e *Engine) markStopped(ctx context.Context, inst *models.BotInstance) {
	now := time.Now().UTC()
	inst.Status = models.BotStatusStopped
	inst.StoppedAt = &now
	if err := e.bots.UpdateInstance(ctx, inst); err != nil {
		e.logger.Error("не удалось сохранить остановку бота",
			zap.String("bot_id", inst.BotID),
			zap.Error(err))
	}
}

func (e *Engine) runningCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, st := range e.instances {
		if st != nil {
			n++
		}
	}
	return n
}
