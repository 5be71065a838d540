package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"fundingarb/internal/models"
	"fundingarb/internal/service"
)

// ErrMockDatabase имитирует ошибку базы данных
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Bot Service ============

// MockBotService мок для BotServiceInterface
type MockBotService struct {
	instance *models.BotInstance
	status   *service.BotStatusResponse
	configs  map[string]*models.BotConfig
	history  *service.PositionHistoryResponse
	events   []*models.RiskEvent
	logs     []*models.MarginBalanceLog

	startErr   error
	stopErr    error
	statusErr  error
	configsErr error
	saveErr    error
	updateErr  error
	deleteErr  error
	historyErr error
	eventsErr  error
	logsErr    error

	// Записанные вызовы для проверок
	startCalls []string // userID/configName
	stopCalls  []string
	limitSeen  int

	mu sync.Mutex
}

// NewMockBotService создает новый мок сервиса ботов
func NewMockBotService() *MockBotService {
	return &MockBotService{
		configs: make(map[string]*models.BotConfig),
	}
}

func (m *MockBotService) StartBot(ctx context.Context, userID, configName string) (*models.BotInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls = append(m.startCalls, userID+"/"+configName)
	if m.startErr != nil {
		return nil, m.startErr
	}
	if m.instance == nil {
		m.instance = &models.BotInstance{
			BotID:      "bot-1",
			UserID:     userID,
			ConfigName: configName,
			Status:     models.BotStatusRunning,
			StartedAt:  time.Now(),
		}
	}
	return m.instance, nil
}

func (m *MockBotService) StopBot(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCalls = append(m.stopCalls, userID)
	return m.stopErr
}

func (m *MockBotService) GetStatus(ctx context.Context, userID string) (*service.BotStatusResponse, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.status, nil
}

func (m *MockBotService) GetConfigs(ctx context.Context, userID string) ([]*models.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.configsErr != nil {
		return nil, m.configsErr
	}
	result := make([]*models.BotConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		result = append(result, cfg)
	}
	return result, nil
}

func (m *MockBotService) SaveConfig(ctx context.Context, cfg *models.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	m.configs[cfg.ConfigName] = cfg
	return nil
}

func (m *MockBotService) UpdateConfig(ctx context.Context, cfg *models.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	m.configs[cfg.ConfigName] = cfg
	return nil
}

func (m *MockBotService) DeleteConfig(ctx context.Context, userID, configName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.configs, configName)
	return nil
}

func (m *MockBotService) GetPositionHistory(ctx context.Context, userID string, limit int) (*service.PositionHistoryResponse, error) {
	m.limitSeen = limit
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	if m.history == nil {
		return &service.PositionHistoryResponse{}, nil
	}
	return m.history, nil
}

func (m *MockBotService) GetRiskEvents(ctx context.Context, userID string, limit int) ([]*models.RiskEvent, error) {
	m.limitSeen = limit
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	return m.events, nil
}

func (m *MockBotService) GetMarginLogs(ctx context.Context, userID string, limit int) ([]*models.MarginBalanceLog, error) {
	m.limitSeen = limit
	if m.logsErr != nil {
		return nil, m.logsErr
	}
	return m.logs, nil
}

// ============ Mock Exchange Service ============

// MockExchangeService мок для ExchangeServiceInterface
type MockExchangeService struct {
	accounts map[string]*models.ExchangeAccount // ключ: name
	balance  float64

	connectErr    error
	disconnectErr error
	getErr        error
	balanceErr    error

	connectCalls []string // userID/name
	mu           sync.Mutex
}

// NewMockExchangeService создает новый мок сервиса бирж
func NewMockExchangeService() *MockExchangeService {
	return &MockExchangeService{
		accounts: make(map[string]*models.ExchangeAccount),
	}
}

func (m *MockExchangeService) ConnectExchange(ctx context.Context, userID, name, apiKey, secretKey string) (*models.ExchangeAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls = append(m.connectCalls, userID+"/"+name)
	if m.connectErr != nil {
		return nil, m.connectErr
	}

	acc := &models.ExchangeAccount{
		UserID:    userID,
		Name:      name,
		Connected: true,
		Balance:   m.balance,
	}
	m.accounts[name] = acc
	return acc, nil
}

func (m *MockExchangeService) DisconnectExchange(ctx context.Context, userID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disconnectErr != nil {
		return m.disconnectErr
	}
	if _, ok := m.accounts[name]; !ok {
		return service.ErrExchangeNotConnected
	}
	delete(m.accounts, name)
	return nil
}

func (m *MockExchangeService) GetExchanges(ctx context.Context, userID string) ([]*models.ExchangeAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.ExchangeAccount, 0, len(m.accounts))
	for _, acc := range m.accounts {
		result = append(result, acc)
	}
	return result, nil
}

func (m *MockExchangeService) RefreshBalance(ctx context.Context, userID, name string) (float64, error) {
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	return m.balance, nil
}

// ============ Mock Notification Service ============

// MockNotificationService мок для NotificationServiceInterface
type MockNotificationService struct {
	notifications []*models.Notification
	getErr        error
	limitSeen     int
	mu            sync.Mutex
}

// NewMockNotificationService создает новый мок сервиса уведомлений
func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{}
}

func (m *MockNotificationService) GetNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.limitSeen = limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.notifications, nil
}

func (m *MockNotificationService) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, n)
	return nil
}

// Проверяем что моки реализуют интерфейсы сервисов
var _ service.BotServiceInterface = (*MockBotService)(nil)
var _ service.ExchangeServiceInterface = (*MockExchangeService)(nil)
var _ service.NotificationServiceInterface = (*MockNotificationService)(nil)
