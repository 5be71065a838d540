package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fundingarb/internal/config"
	"fundingarb/internal/exchange"
	"fundingarb/internal/models"
)

// ============================================================
// Фейки для тестов торгового ядра
// ============================================================

// fakeGateway - управляемый шлюз биржи
type fakeGateway struct {
	mu sync.Mutex

	name      string
	balance   float64
	markPrice float64
	positions []*exchange.PositionInfo

	balanceErr  error
	posErr      error
	openErr     error
	closeErr    error
	adjustErr   error
	withdrawErr error

	// цена исполнения закрывающих ордеров (0 = markPrice)
	closePrice float64

	openCalls     []string // "side qty"
	closeCalls    []string
	adjustCalls   []float64 // суммы в порядке вызовов
	withdrawCalls []float64
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, balance: 10000, markPrice: 100}
}

func (g *fakeGateway) Connect(apiKey, secret string) error { return nil }
func (g *fakeGateway) GetName() string                     { return g.name }
func (g *fakeGateway) Close() error                        { return nil }

func (g *fakeGateway) GetBalance(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.balanceErr != nil {
		return 0, g.balanceErr
	}
	return g.balance, nil
}

func (g *fakeGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.markPrice, nil
}

func (g *fakeGateway) OpenPosition(ctx context.Context, symbol, side string, qty float64, leverage int) (*exchange.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openCalls = append(g.openCalls, fmt.Sprintf("%s %.2f", side, qty))
	if g.openErr != nil {
		return nil, g.openErr
	}
	return &exchange.Order{
		ID:           fmt.Sprintf("%s-open-%d", g.name, len(g.openCalls)),
		Symbol:       symbol,
		Quantity:     qty,
		FilledQty:    qty,
		AvgFillPrice: g.markPrice,
		Status:       exchange.OrderStatusFilled,
		CreatedAt:    time.Now(),
	}, nil
}

func (g *fakeGateway) ClosePosition(ctx context.Context, symbol, side string, qty float64) (*exchange.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeCalls = append(g.closeCalls, fmt.Sprintf("%s %.2f", side, qty))
	if g.closeErr != nil {
		return nil, g.closeErr
	}
	price := g.closePrice
	if price == 0 {
		price = g.markPrice
	}
	// закрытие убирает позицию с биржи
	remaining := g.positions[:0]
	for _, p := range g.positions {
		if p.Symbol == symbol {
			continue
		}
		remaining = append(remaining, p)
	}
	g.positions = remaining
	return &exchange.Order{
		ID:           fmt.Sprintf("%s-close-%d", g.name, len(g.closeCalls)),
		Symbol:       symbol,
		Quantity:     qty,
		FilledQty:    qty,
		AvgFillPrice: price,
		Status:       exchange.OrderStatusFilled,
		CreatedAt:    time.Now(),
	}, nil
}

func (g *fakeGateway) GetPositions(ctx context.Context) ([]*exchange.PositionInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.posErr != nil {
		return nil, g.posErr
	}
	return g.positions, nil
}

func (g *fakeGateway) AdjustPositionMargin(ctx context.Context, symbol string, amount float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adjustCalls = append(g.adjustCalls, amount)
	if g.adjustErr != nil {
		// ошибка только на первый вызов: откат должен пройти
		err := g.adjustErr
		g.adjustErr = nil
		return err
	}
	return nil
}

func (g *fakeGateway) Withdraw(ctx context.Context, coin string, amount float64, address string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.withdrawCalls = append(g.withdrawCalls, amount)
	if g.withdrawErr != nil {
		return "", g.withdrawErr
	}
	return "wd-1", nil
}

// setPosition выставляет одну открытую позицию на бирже
func (g *fakeGateway) setPosition(symbol, side string, size, entry, mark, liq, margin float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions = []*exchange.PositionInfo{{
		Symbol:           symbol,
		Side:             side,
		Size:             size,
		EntryPrice:       entry,
		MarkPrice:        mark,
		LiquidationPrice: liq,
		Margin:           margin,
		UpdatedAt:        time.Now(),
	}}
}

// fakeProvider выдает фейковые шлюзы по имени биржи
type fakeProvider struct {
	gateways map[string]*fakeGateway
}

func newFakeProvider(gws ...*fakeGateway) *fakeProvider {
	p := &fakeProvider{gateways: make(map[string]*fakeGateway)}
	for _, g := range gws {
		p.gateways[g.name] = g
	}
	return p
}

func (p *fakeProvider) Gateway(ctx context.Context, userID, exchangeName string) (exchange.Gateway, error) {
	gw, ok := p.gateways[exchangeName]
	if !ok {
		return nil, fmt.Errorf("шлюз %s не подключен", exchangeName)
	}
	return gw, nil
}

// ============ In-memory хранилища ============

type memPositions struct {
	mu        sync.Mutex
	items     map[string]*models.Position
	createErr error
}

func newMemPositions() *memPositions {
	return &memPositions{items: make(map[string]*models.Position)}
}

func (s *memPositions) Create(ctx context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *p
	s.items[p.PositionID] = &cp
	return nil
}

func (s *memPositions) GetOpenByUser(ctx context.Context, userID string) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Position
	for _, p := range s.items {
		if p.UserID == userID && p.Status == models.PositionStatusOpen {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memPositions) UpdateRisk(ctx context.Context, positionID string, currentPrice, liquidationPrice, riskLevel float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.items[positionID]; ok {
		p.CurrentPrice = currentPrice
		p.LiquidationPrice = liquidationPrice
		p.RiskLevel = riskLevel
	}
	return nil
}

func (s *memPositions) Close(ctx context.Context, positionID string, exitPrice, realizedPnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.items[positionID]; ok {
		now := time.Now().UTC()
		p.Status = models.PositionStatusClosed
		p.ExitPrice = exitPrice
		p.RealizedPnl = realizedPnl
		p.ClosedAt = &now
	}
	return nil
}

func (s *memPositions) get(positionID string) *models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.items[positionID]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (s *memPositions) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.items {
		if p.Status == models.PositionStatusOpen {
			n++
		}
	}
	return n
}

type memBots struct {
	mu        sync.Mutex
	instances map[string]*models.BotInstance
	configs   map[string]*models.BotConfig // ключ: userID/configName
}

func newMemBots() *memBots {
	return &memBots{
		instances: make(map[string]*models.BotInstance),
		configs:   make(map[string]*models.BotConfig),
	}
}

func (s *memBots) GetInstance(ctx context.Context, userID string) (*models.BotInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[userID]
	if !ok {
		return nil, fmt.Errorf("бот пользователя %s не найден", userID)
	}
	cp := *inst
	return &cp, nil
}

func (s *memBots) SaveInstance(ctx context.Context, inst *models.BotInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inst
	s.instances[inst.UserID] = &cp
	return nil
}

func (s *memBots) UpdateInstance(ctx context.Context, inst *models.BotInstance) error {
	return s.SaveInstance(ctx, inst)
}

func (s *memBots) ListRunning(ctx context.Context) ([]*models.BotInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.BotInstance
	for _, inst := range s.instances {
		if inst.Status == models.BotStatusRunning {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memBots) GetConfig(ctx context.Context, userID, configName string) (*models.BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[userID+"/"+configName]
	if !ok {
		return nil, fmt.Errorf("конфигурация %s не найдена", configName)
	}
	cp := *cfg
	return &cp, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []*models.RiskEvent
}

func (s *memEvents) Create(ctx context.Context, ev *models.RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memEvents) all() []*models.RiskEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.RiskEvent(nil), s.events...)
}

type memMarginLogs struct {
	mu      sync.Mutex
	entries []*models.MarginBalanceLog
}

func (s *memMarginLogs) Create(ctx context.Context, entry *models.MarginBalanceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memMarginLogs) all() []*models.MarginBalanceLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.MarginBalanceLog(nil), s.entries...)
}

type memNotifs struct {
	mu    sync.Mutex
	items []*models.Notification
}

func (s *memNotifs) Create(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	return nil
}

// fakeHub - no-op реализация WebSocketHub
type fakeHub struct {
	mu     sync.Mutex
	notifs []*models.Notification
}

func (h *fakeHub) BroadcastBotUpdate(userID string, inst *models.BotInstance)      {}
func (h *fakeHub) BroadcastRiskUpdate(userID string, positions []*models.Position) {}
func (h *fakeHub) BroadcastBalanceUpdate(userID, exchangeName string, bal float64) {}
func (h *fakeHub) BroadcastNotification(notif *models.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifs = append(h.notifs, notif)
}

// ============ Конструкторы тестовых данных ============

func testBotConfig() *models.BotConfig {
	return &models.BotConfig{
		UserID:            "user-1",
		ConfigName:        "default",
		Symbol:            "SOLUSDT",
		Amount:            100,
		LongExchange:      "bybit",
		ShortExchange:     "bitmex",
		Leverage:          3,
		MaxRiskLevel:      80,
		LiquidationBuffer: 20,
		MarginThreshold:   20,
	}
}

func testInstance() *models.BotInstance {
	now := time.Now().UTC()
	return &models.BotInstance{
		BotID:        "bot_test",
		UserID:       "user-1",
		ConfigName:   "default",
		Status:       models.BotStatusRunning,
		StartedAt:    now,
		LastActivity: now,
	}
}

func testBotSettings() config.BotConfig {
	return config.BotConfig{
		CheckInterval:     10 * time.Second,
		CoolingPeriod:     time.Millisecond,
		MaxRiskLevel:      80,
		LiquidationBuffer: 20,
		CapitalBuffer:     1.5,
		DefaultLeverage:   3,
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		OrderTimeout:      time.Second,
		MaxCloseRetries:   2,
	}
}

func openPosition(id, exchangeName, side string, size, entry, current, liq float64) *models.Position {
	now := time.Now().UTC()
	return &models.Position{
		PositionID:       id,
		UserID:           "user-1",
		BotID:            "bot_test",
		Exchange:         exchangeName,
		Symbol:           "SOLUSDT",
		Side:             side,
		Size:             size,
		EntryPrice:       entry,
		CurrentPrice:     current,
		LiquidationPrice: liq,
		Margin:           size * entry / 3,
		Leverage:         3,
		Status:           models.PositionStatusOpen,
		OpenedAt:         now,
		LastUpdated:      now,
	}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
