package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"fundingarb/internal/bot"
	"fundingarb/internal/exchange"
	"fundingarb/internal/models"
	"fundingarb/pkg/utils"
)

// Ошибки сервиса ботов
var (
	ErrInvalidConfig = errors.New("invalid bot configuration")
)

// BotEngine - интерфейс торгового движка
//
// Позволяет тестировать сервис без реального Engine
type BotEngine interface {
	Start(ctx context.Context, userID, configName string) (*models.BotInstance, error)
	Stop(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (*bot.BotStatus, error)
}

// BotStatusResponse - статус бота с агрегированным PNL для API
type BotStatusResponse struct {
	*bot.BotStatus
	TotalPnl float64 `json:"total_pnl"`
}

// PositionHistoryResponse - история закрытых позиций с итоговым PNL
type PositionHistoryResponse struct {
	Positions []*models.Position `json:"positions"`
	TotalPnl  float64            `json:"total_pnl"`
}

// BotService - бизнес-логика управления ботами
//
// Тонкая обертка над торговым движком: валидация конфигураций,
// CRUD конфигураций и чтение журналов. Сама торговля живет в
// internal/bot.
type BotService struct {
	engine       BotEngine
	botRepo      BotRepositoryInterface
	positionRepo PositionRepositoryInterface
	eventRepo    RiskEventRepositoryInterface
	marginRepo   MarginLogRepositoryInterface
	logger       *zap.Logger
}

// NewBotService создает новый экземпляр сервиса
func NewBotService(
	engine BotEngine,
	botRepo BotRepositoryInterface,
	positionRepo PositionRepositoryInterface,
	eventRepo RiskEventRepositoryInterface,
	marginRepo MarginLogRepositoryInterface,
	logger *zap.Logger,
) *BotService {
	return &BotService{
		engine:       engine,
		botRepo:      botRepo,
		positionRepo: positionRepo,
		eventRepo:    eventRepo,
		marginRepo:   marginRepo,
		logger:       logger.Named("bot_service"),
	}
}

// StartBot запускает бота пользователя с указанной конфигурацией
func (s *BotService) StartBot(ctx context.Context, userID, configName string) (*models.BotInstance, error) {
	inst, err := s.engine.Start(ctx, userID, configName)
	if err != nil {
		return nil, err
	}

	s.logger.Info("бот запущен",
		zap.String("user_id", userID),
		zap.String("bot_id", inst.BotID),
		zap.String("config", inst.ConfigName))
	return inst, nil
}

// StopBot останавливает бота пользователя
//
// Открытые позиции не закрываются: остановка прекращает только
// мониторинг и торговый цикл.
func (s *BotService) StopBot(ctx context.Context, userID string) error {
	if err := s.engine.Stop(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("бот остановлен", zap.String("user_id", userID))
	return nil
}

// GetStatus возвращает статус бота с агрегированным PNL
func (s *BotService) GetStatus(ctx context.Context, userID string) (*BotStatusResponse, error) {
	status, err := s.engine.Status(ctx, userID)
	if err != nil {
		return nil, err
	}

	totalPnl, err := s.positionRepo.TotalPnlByUser(ctx, userID)
	if err != nil {
		// PNL вспомогательный: статус важнее ошибки агрегации
		s.logger.Warn("не удалось получить суммарный PNL",
			zap.String("user_id", userID), zap.Error(err))
		totalPnl = 0
	}

	return &BotStatusResponse{BotStatus: status, TotalPnl: totalPnl}, nil
}

// GetConfigs возвращает все конфигурации пользователя
func (s *BotService) GetConfigs(ctx context.Context, userID string) ([]*models.BotConfig, error) {
	return s.botRepo.ListConfigs(ctx, userID)
}

// SaveConfig валидирует и сохраняет новую конфигурацию
func (s *BotService) SaveConfig(ctx context.Context, cfg *models.BotConfig) error {
	if err := validateBotConfig(cfg); err != nil {
		return err
	}
	return s.botRepo.SaveConfig(ctx, cfg)
}

// UpdateConfig валидирует и обновляет существующую конфигурацию
//
// Запущенный бот продолжает работать со старой конфигурацией до
// перезапуска: конфигурация читается один раз при старте.
func (s *BotService) UpdateConfig(ctx context.Context, cfg *models.BotConfig) error {
	if err := validateBotConfig(cfg); err != nil {
		return err
	}
	return s.botRepo.UpdateConfig(ctx, cfg)
}

// DeleteConfig удаляет конфигурацию пользователя
func (s *BotService) DeleteConfig(ctx context.Context, userID, configName string) error {
	return s.botRepo.DeleteConfig(ctx, userID, configName)
}

// GetPositionHistory возвращает закрытые позиции с итоговым PNL
func (s *BotService) GetPositionHistory(ctx context.Context, userID string, limit int) (*PositionHistoryResponse, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	positions, err := s.positionRepo.GetHistoryByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	totalPnl, err := s.positionRepo.TotalPnlByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &PositionHistoryResponse{Positions: positions, TotalPnl: totalPnl}, nil
}

// GetRiskEvents возвращает последние события риска пользователя
func (s *BotService) GetRiskEvents(ctx context.Context, userID string, limit int) ([]*models.RiskEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.eventRepo.GetRecentByUser(ctx, userID, limit)
}

// GetMarginLogs возвращает последние балансировки маржи пользователя
func (s *BotService) GetMarginLogs(ctx context.Context, userID string, limit int) ([]*models.MarginBalanceLog, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.marginRepo.GetRecentByUser(ctx, userID, limit)
}

// validateBotConfig проверяет торговую конфигурацию перед сохранением
func validateBotConfig(cfg *models.BotConfig) error {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	cfg.LongExchange = strings.ToLower(strings.TrimSpace(cfg.LongExchange))
	cfg.ShortExchange = strings.ToLower(strings.TrimSpace(cfg.ShortExchange))

	if cfg.ConfigName == "" {
		return errors.Join(ErrInvalidConfig, errors.New("config_name is required"))
	}
	if err := utils.ValidateSymbol(cfg.Symbol); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	if err := utils.ValidateAmount(cfg.Amount); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	if err := utils.ValidateExchangePair(cfg.LongExchange, cfg.ShortExchange); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	for _, name := range cfg.Exchanges() {
		if !exchange.IsSupported(name) {
			return errors.Join(ErrInvalidConfig, errors.New("unsupported exchange: "+name))
		}
	}
	if cfg.Leverage != 0 {
		if err := utils.ValidateLeverage(cfg.Leverage); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
	}
	if cfg.MaxRiskLevel < 0 || cfg.MaxRiskLevel > 100 {
		return errors.Join(ErrInvalidConfig, errors.New("max_risk_level must be in [0, 100]"))
	}
	if cfg.LiquidationBuffer < 0 || cfg.LiquidationBuffer > 100 {
		return errors.Join(ErrInvalidConfig, errors.New("liquidation_buffer must be in [0, 100]"))
	}
	if cfg.MarginThreshold < 0 || cfg.MarginThreshold > 100 {
		return errors.Join(ErrInvalidConfig, errors.New("margin_threshold must be in [0, 100]"))
	}
	return nil
}
