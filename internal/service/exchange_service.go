package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fundingarb/internal/exchange"
	"fundingarb/internal/models"
	"fundingarb/internal/repository"
	"fundingarb/pkg/crypto"
)

// Ошибки сервиса
var (
	ErrExchangeNotSupported = errors.New("exchange is not supported")
	ErrExchangeNotConnected = errors.New("exchange is not connected")
	ErrInvalidCredentials   = errors.New("invalid API credentials")
	ErrConnectionFailed     = errors.New("failed to connect to exchange")
)

// BalanceBroadcaster - интерфейс для отправки обновлений балансов через WebSocket
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type BalanceBroadcaster interface {
	BroadcastBalanceUpdate(userID, exchangeName string, balance float64)
}

// ExchangeService - бизнес-логика управления биржевыми аккаунтами
//
// Реализует bot.GatewayProvider: торговое ядро запрашивает шлюз
// через Gateway(), сервис расшифровывает API ключи из БД и
// кеширует подключенные шлюзы по пользователю.
type ExchangeService struct {
	exchangeRepo  ExchangeRepositoryInterface
	encryptionKey []byte

	// Кэш активных шлюзов, ключ "userID/exchangeName"
	gateways   map[string]exchange.Gateway
	gatewaysMu sync.RWMutex

	// Фабрика шлюзов, подменяется в тестах
	newGateway func(name string) (exchange.Gateway, error)

	wsHub  BalanceBroadcaster
	logger *zap.Logger
}

// NewExchangeService создает новый экземпляр сервиса
func NewExchangeService(
	exchangeRepo ExchangeRepositoryInterface,
	encryptionKey string,
	logger *zap.Logger,
) *ExchangeService {
	return &ExchangeService{
		exchangeRepo:  exchangeRepo,
		encryptionKey: []byte(encryptionKey),
		gateways:      make(map[string]exchange.Gateway),
		newGateway:    exchange.NewGateway,
		logger:        logger.Named("exchange_service"),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast балансов.
//
// Вызывается после инициализации Hub в main.go:
//
//	exchangeService := service.NewExchangeService(...)
//	exchangeService.SetWebSocketHub(wsHub)
func (s *ExchangeService) SetWebSocketHub(hub BalanceBroadcaster) {
	s.wsHub = hub
}

// ConnectExchange подключает биржу с указанными API ключами
// Выполняет:
// 1. Проверку поддержки биржи
// 2. Тестовое подключение (проверка ключей запросом баланса)
// 3. Шифрование ключей перед сохранением
// 4. Сохранение в БД и кеширование шлюза
func (s *ExchangeService) ConnectExchange(ctx context.Context, userID, name, apiKey, secretKey string) (*models.ExchangeAccount, error) {
	name = strings.ToLower(name)

	if !exchange.IsSupported(name) {
		return nil, ErrExchangeNotSupported
	}

	gw, err := s.newGateway(name)
	if err != nil {
		return nil, err
	}

	if err := gw.Connect(apiKey, secretKey); err != nil {
		return nil, errors.Join(ErrInvalidCredentials, err)
	}

	// Запрос баланса проверяет и права ключей, и доступность API
	balance, err := gw.GetBalance(ctx)
	if err != nil {
		_ = gw.Close()
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	encryptedAPIKey, err := crypto.Encrypt(apiKey, s.encryptionKey)
	if err != nil {
		_ = gw.Close()
		return nil, err
	}

	encryptedSecretKey, err := crypto.Encrypt(secretKey, s.encryptionKey)
	if err != nil {
		_ = gw.Close()
		return nil, err
	}

	existing, err := s.exchangeRepo.GetByUserAndName(ctx, userID, name)
	switch {
	case err == nil:
		// Аккаунт уже есть: обновляем ключи и статус
		if err := s.exchangeRepo.UpdateKeys(ctx, userID, name, encryptedAPIKey, encryptedSecretKey); err != nil {
			_ = gw.Close()
			return nil, err
		}
		if err := s.exchangeRepo.SetConnected(ctx, userID, name, true); err != nil {
			_ = gw.Close()
			return nil, err
		}
		_ = s.exchangeRepo.UpdateBalance(ctx, userID, name, balance)
		_ = s.exchangeRepo.SetLastError(ctx, userID, name, "")

		existing.Connected = true
		existing.Balance = balance
		existing.LastError = ""
		existing.UpdatedAt = time.Now().UTC()

	case errors.Is(err, repository.ErrExchangeNotFound):
		existing = &models.ExchangeAccount{
			UserID:    userID,
			Name:      name,
			APIKey:    encryptedAPIKey,
			SecretKey: encryptedSecretKey,
			Connected: true,
			Balance:   balance,
		}
		if err := s.exchangeRepo.Create(ctx, existing); err != nil {
			_ = gw.Close()
			return nil, err
		}

	default:
		_ = gw.Close()
		return nil, err
	}

	s.gatewaysMu.Lock()
	s.gateways[gatewayKey(userID, name)] = gw
	s.gatewaysMu.Unlock()

	s.logger.Info("биржа подключена",
		zap.String("user_id", userID),
		zap.String("exchange", name),
		zap.Float64("balance", balance))

	return sanitize(existing), nil
}

// DisconnectExchange отключает биржу пользователя
//
// Ключи удаляются из БД, закрытие открытых позиций остается
// за пользователем: бот с открытой парой на этой бирже перейдет
// в SUSPENDED на следующем тике.
func (s *ExchangeService) DisconnectExchange(ctx context.Context, userID, name string) error {
	name = strings.ToLower(name)

	if _, err := s.exchangeRepo.GetByUserAndName(ctx, userID, name); err != nil {
		if errors.Is(err, repository.ErrExchangeNotFound) {
			return ErrExchangeNotConnected
		}
		return err
	}

	s.gatewaysMu.Lock()
	key := gatewayKey(userID, name)
	if gw, exists := s.gateways[key]; exists {
		_ = gw.Close()
		delete(s.gateways, key)
	}
	s.gatewaysMu.Unlock()

	if err := s.exchangeRepo.Delete(ctx, userID, name); err != nil {
		return err
	}

	s.logger.Info("биржа отключена",
		zap.String("user_id", userID),
		zap.String("exchange", name))
	return nil
}

// GetExchanges возвращает список бирж пользователя со статусами
// Для каждой поддерживаемой биржи возвращает запись даже если
// аккаунт не подключен (для таблицы подключений в UI)
func (s *ExchangeService) GetExchanges(ctx context.Context, userID string) ([]*models.ExchangeAccount, error) {
	accounts, err := s.exchangeRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*models.ExchangeAccount, len(accounts))
	for _, acc := range accounts {
		byName[acc.Name] = acc
	}

	result := make([]*models.ExchangeAccount, 0, len(exchange.SupportedExchanges))
	for _, name := range exchange.SupportedExchanges {
		if acc, exists := byName[name]; exists {
			result = append(result, sanitize(acc))
		} else {
			result = append(result, &models.ExchangeAccount{
				UserID:    userID,
				Name:      name,
				Connected: false,
			})
		}
	}
	return result, nil
}

// RefreshBalance запрашивает актуальный баланс через API биржи
// После успешного обновления отправляет broadcast через WebSocket
func (s *ExchangeService) RefreshBalance(ctx context.Context, userID, name string) (float64, error) {
	name = strings.ToLower(name)

	gw, err := s.Gateway(ctx, userID, name)
	if err != nil {
		return 0, err
	}

	balance, err := gw.GetBalance(ctx)
	if err != nil {
		_ = s.exchangeRepo.SetLastError(ctx, userID, name, err.Error())
		return 0, err
	}

	if err := s.exchangeRepo.UpdateBalance(ctx, userID, name, balance); err != nil {
		return balance, err
	}
	_ = s.exchangeRepo.SetLastError(ctx, userID, name, "")

	if s.wsHub != nil {
		s.wsHub.BroadcastBalanceUpdate(userID, name, balance)
	}
	return balance, nil
}

// Gateway возвращает подключенный шлюз биржи пользователя
//
// Реализация bot.GatewayProvider: используется торговым ядром на
// каждом тике. Шлюз берется из кеша, при отсутствии создается из
// зашифрованных ключей в БД.
func (s *ExchangeService) Gateway(ctx context.Context, userID, name string) (exchange.Gateway, error) {
	name = strings.ToLower(name)

	s.gatewaysMu.RLock()
	gw, exists := s.gateways[gatewayKey(userID, name)]
	s.gatewaysMu.RUnlock()
	if exists {
		return gw, nil
	}

	account, err := s.exchangeRepo.GetByUserAndName(ctx, userID, name)
	if err != nil {
		if errors.Is(err, repository.ErrExchangeNotFound) {
			return nil, ErrExchangeNotConnected
		}
		return nil, err
	}
	if !account.Connected {
		return nil, ErrExchangeNotConnected
	}

	return s.getOrCreateGateway(userID, account)
}

// getOrCreateGateway создает шлюз из зашифрованных ключей аккаунта
func (s *ExchangeService) getOrCreateGateway(userID string, account *models.ExchangeAccount) (exchange.Gateway, error) {
	s.gatewaysMu.Lock()
	defer s.gatewaysMu.Unlock()

	// Перепроверка под write lock: шлюз мог создать конкурентный вызов
	key := gatewayKey(userID, account.Name)
	if gw, exists := s.gateways[key]; exists {
		return gw, nil
	}

	apiKey, err := crypto.Decrypt(account.APIKey, s.encryptionKey)
	if err != nil {
		return nil, err
	}
	secretKey, err := crypto.Decrypt(account.SecretKey, s.encryptionKey)
	if err != nil {
		return nil, err
	}

	gw, err := s.newGateway(account.Name)
	if err != nil {
		return nil, err
	}
	if err := gw.Connect(apiKey, secretKey); err != nil {
		return nil, errors.Join(ErrInvalidCredentials, err)
	}

	s.gateways[key] = gw
	return gw, nil
}

// Close закрывает все шлюзы
// Вызывается при graceful shutdown
func (s *ExchangeService) Close() error {
	s.gatewaysMu.Lock()
	defer s.gatewaysMu.Unlock()

	for key, gw := range s.gateways {
		_ = gw.Close()
		delete(s.gateways, key)
	}
	return nil
}

func gatewayKey(userID, name string) string {
	return userID + "/" + name
}

// sanitize возвращает копию аккаунта без API ключей
func sanitize(acc *models.ExchangeAccount) *models.ExchangeAccount {
	return &models.ExchangeAccount{
		ID:        acc.ID,
		UserID:    acc.UserID,
		Name:      acc.Name,
		Connected: acc.Connected,
		Balance:   acc.Balance,
		LastError: acc.LastError,
		UpdatedAt: acc.UpdatedAt,
		CreatedAt: acc.CreatedAt,
	}
}
