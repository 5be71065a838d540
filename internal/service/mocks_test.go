package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"fundingarb/internal/bot"
	"fundingarb/internal/exchange"
	"fundingarb/internal/models"
	"fundingarb/internal/repository"
)

// ============================================================
// Моки для тестов сервисов
// ============================================================

// mockGateway - мок шлюза биржи
type mockGateway struct {
	mu sync.Mutex

	name       string
	balance    float64
	connectErr error
	balanceErr error

	connectedWith [2]string // apiKey, secretKey последнего Connect
	closed        bool
}

func (g *mockGateway) Connect(apiKey, secret string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connectErr != nil {
		return g.connectErr
	}
	g.connectedWith = [2]string{apiKey, secret}
	return nil
}

func (g *mockGateway) GetName() string { return g.name }

func (g *mockGateway) GetBalance(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.balanceErr != nil {
		return 0, g.balanceErr
	}
	return g.balance, nil
}

func (g *mockGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}

func (g *mockGateway) OpenPosition(ctx context.Context, symbol, side string, qty float64, leverage int) (*exchange.Order, error) {
	return nil, errors.New("not implemented")
}

func (g *mockGateway) ClosePosition(ctx context.Context, symbol, side string, qty float64) (*exchange.Order, error) {
	return nil, errors.New("not implemented")
}

func (g *mockGateway) GetPositions(ctx context.Context) ([]*exchange.PositionInfo, error) {
	return nil, nil
}

func (g *mockGateway) AdjustPositionMargin(ctx context.Context, symbol string, amount float64) error {
	return nil
}

func (g *mockGateway) Withdraw(ctx context.Context, coin string, amount float64, address string) (string, error) {
	return "", errors.New("not implemented")
}

func (g *mockGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// mockExchangeRepo - in-memory репозиторий бирж
type mockExchangeRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.ExchangeAccount // ключ userID/name
	nextID   int

	createErr error
	getErr    error
}

func newMockExchangeRepo() *mockExchangeRepo {
	return &mockExchangeRepo{accounts: make(map[string]*models.ExchangeAccount)}
}

func (r *mockExchangeRepo) key(userID, name string) string { return userID + "/" + name }

func (r *mockExchangeRepo) Create(ctx context.Context, acc *models.ExchangeAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, exists := r.accounts[r.key(acc.UserID, acc.Name)]; exists {
		return repository.ErrExchangeExists
	}
	r.nextID++
	acc.ID = r.nextID
	copied := *acc
	r.accounts[r.key(acc.UserID, acc.Name)] = &copied
	return nil
}

func (r *mockExchangeRepo) GetByUserAndName(ctx context.Context, userID, name string) (*models.ExchangeAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	acc, exists := r.accounts[r.key(userID, name)]
	if !exists {
		return nil, repository.ErrExchangeNotFound
	}
	copied := *acc
	return &copied, nil
}

func (r *mockExchangeRepo) GetByUser(ctx context.Context, userID string) ([]*models.ExchangeAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.ExchangeAccount
	for _, acc := range r.accounts {
		if acc.UserID == userID {
			copied := *acc
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *mockExchangeRepo) UpdateKeys(ctx context.Context, userID, name, apiKey, secretKey string) error {
	return r.update(userID, name, func(acc *models.ExchangeAccount) {
		acc.APIKey = apiKey
		acc.SecretKey = secretKey
	})
}

func (r *mockExchangeRepo) UpdateBalance(ctx context.Context, userID, name string, balance float64) error {
	return r.update(userID, name, func(acc *models.ExchangeAccount) { acc.Balance = balance })
}

func (r *mockExchangeRepo) SetConnected(ctx context.Context, userID, name string, connected bool) error {
	return r.update(userID, name, func(acc *models.ExchangeAccount) { acc.Connected = connected })
}

func (r *mockExchangeRepo) SetLastError(ctx context.Context, userID, name, lastError string) error {
	return r.update(userID, name, func(acc *models.ExchangeAccount) { acc.LastError = lastError })
}

func (r *mockExchangeRepo) Delete(ctx context.Context, userID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[r.key(userID, name)]; !exists {
		return repository.ErrExchangeNotFound
	}
	delete(r.accounts, r.key(userID, name))
	return nil
}

func (r *mockExchangeRepo) update(userID, name string, fn func(*models.ExchangeAccount)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, exists := r.accounts[r.key(userID, name)]
	if !exists {
		return repository.ErrExchangeNotFound
	}
	fn(acc)
	acc.UpdatedAt = time.Now().UTC()
	return nil
}

// mockBotEngine - мок торгового движка
type mockBotEngine struct {
	startErr  error
	stopErr   error
	statusErr error

	startCalls []string // userID/configName
	stopCalls  []string

	status *bot.BotStatus
}

func (e *mockBotEngine) Start(ctx context.Context, userID, configName string) (*models.BotInstance, error) {
	e.startCalls = append(e.startCalls, userID+"/"+configName)
	if e.startErr != nil {
		return nil, e.startErr
	}
	return &models.BotInstance{
		BotID:      "bot_test",
		UserID:     userID,
		ConfigName: configName,
		Status:     models.BotStatusRunning,
		StartedAt:  time.Now().UTC(),
	}, nil
}

func (e *mockBotEngine) Stop(ctx context.Context, userID string) error {
	e.stopCalls = append(e.stopCalls, userID)
	return e.stopErr
}

func (e *mockBotEngine) Status(ctx context.Context, userID string) (*bot.BotStatus, error) {
	if e.statusErr != nil {
		return nil, e.statusErr
	}
	return e.status, nil
}

// mockBotRepo - in-memory репозиторий конфигураций ботов
type mockBotRepo struct {
	mu      sync.Mutex
	configs map[string]*models.BotConfig // ключ userID/configName

	saveErr error
}

func newMockBotRepo() *mockBotRepo {
	return &mockBotRepo{configs: make(map[string]*models.BotConfig)}
}

func (r *mockBotRepo) GetInstance(ctx context.Context, userID string) (*models.BotInstance, error) {
	return nil, repository.ErrBotInstanceNotFound
}

func (r *mockBotRepo) SaveInstance(ctx context.Context, inst *models.BotInstance) error { return nil }

func (r *mockBotRepo) UpdateInstance(ctx context.Context, inst *models.BotInstance) error { return nil }

func (r *mockBotRepo) ListRunning(ctx context.Context) ([]*models.BotInstance, error) {
	return nil, nil
}

func (r *mockBotRepo) GetConfig(ctx context.Context, userID, configName string) (*models.BotConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, exists := r.configs[userID+"/"+configName]
	if !exists {
		return nil, repository.ErrBotConfigNotFound
	}
	return cfg, nil
}

func (r *mockBotRepo) ListConfigs(ctx context.Context, userID string) ([]*models.BotConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.BotConfig
	for _, cfg := range r.configs {
		if cfg.UserID == userID {
			result = append(result, cfg)
		}
	}
	return result, nil
}

func (r *mockBotRepo) SaveConfig(ctx context.Context, cfg *models.BotConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	key := cfg.UserID + "/" + cfg.ConfigName
	if _, exists := r.configs[key]; exists {
		return repository.ErrBotConfigExists
	}
	r.configs[key] = cfg
	return nil
}

func (r *mockBotRepo) UpdateConfig(ctx context.Context, cfg *models.BotConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cfg.UserID + "/" + cfg.ConfigName
	if _, exists := r.configs[key]; !exists {
		return repository.ErrBotConfigNotFound
	}
	r.configs[key] = cfg
	return nil
}

func (r *mockBotRepo) DeleteConfig(ctx context.Context, userID, configName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := userID + "/" + configName
	if _, exists := r.configs[key]; !exists {
		return repository.ErrBotConfigNotFound
	}
	delete(r.configs, key)
	return nil
}

// mockPositionRepo - мок репозитория позиций
type mockPositionRepo struct {
	history    []*models.Position
	totalPnl   float64
	historyErr error
	pnlErr     error

	historyLimit int // последний запрошенный limit
}

func (r *mockPositionRepo) Create(ctx context.Context, p *models.Position) error { return nil }

func (r *mockPositionRepo) GetByID(ctx context.Context, positionID string) (*models.Position, error) {
	return nil, repository.ErrPositionNotFound
}

func (r *mockPositionRepo) GetOpenByUser(ctx context.Context, userID string) ([]*models.Position, error) {
	return nil, nil
}

func (r *mockPositionRepo) GetHistoryByUser(ctx context.Context, userID string, limit int) ([]*models.Position, error) {
	r.historyLimit = limit
	if r.historyErr != nil {
		return nil, r.historyErr
	}
	return r.history, nil
}

func (r *mockPositionRepo) UpdateRisk(ctx context.Context, positionID string, currentPrice, liquidationPrice, riskLevel float64) error {
	return nil
}

func (r *mockPositionRepo) Close(ctx context.Context, positionID string, exitPrice, realizedPnl float64) error {
	return nil
}

func (r *mockPositionRepo) TotalPnlByUser(ctx context.Context, userID string) (float64, error) {
	if r.pnlErr != nil {
		return 0, r.pnlErr
	}
	return r.totalPnl, nil
}

// mockEventRepo - мок журнала событий риска
type mockEventRepo struct {
	events    []*models.RiskEvent
	limitSeen int
}

func (r *mockEventRepo) Create(ctx context.Context, ev *models.RiskEvent) error { return nil }

func (r *mockEventRepo) GetRecentByUser(ctx context.Context, userID string, limit int) ([]*models.RiskEvent, error) {
	r.limitSeen = limit
	return r.events, nil
}

func (r *mockEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// mockMarginRepo - мок журнала балансировок
type mockMarginRepo struct {
	logs []*models.MarginBalanceLog
}

func (r *mockMarginRepo) Create(ctx context.Context, entry *models.MarginBalanceLog) error {
	return nil
}

func (r *mockMarginRepo) GetRecentByUser(ctx context.Context, userID string, limit int) ([]*models.MarginBalanceLog, error) {
	return r.logs, nil
}

// mockNotifRepo - мок репозитория уведомлений
type mockNotifRepo struct {
	created   []*models.Notification
	recent    []*models.Notification
	createErr error

	limitSeen  int
	cutoffSeen time.Time
}

func (r *mockNotifRepo) Create(ctx context.Context, n *models.Notification) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, n)
	return nil
}

func (r *mockNotifRepo) GetRecentByUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	r.limitSeen = limit
	return r.recent, nil
}

func (r *mockNotifRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.cutoffSeen = cutoff
	return 3, nil
}

// mockBroadcaster - мок WebSocket hub
type mockBroadcaster struct {
	notifications []*models.Notification
	balances      []string // userID/exchange
}

func (b *mockBroadcaster) BroadcastNotification(notif *models.Notification) {
	b.notifications = append(b.notifications, notif)
}

func (b *mockBroadcaster) BroadcastBalanceUpdate(userID, exchangeName string, balance float64) {
	b.balances = append(b.balances, userID+"/"+exchangeName)
}
