package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"fundingarb/internal/models"
)

// Ошибки репозитория ботов
var (
	ErrBotInstanceNotFound = errors.New("bot instance not found")
	ErrBotConfigNotFound   = errors.New("bot config not found")
	ErrBotConfigExists     = errors.New("bot config already exists")
)

// BotRepository - работа с таблицами bot_instances и bot_configs
//
// На пользователя хранится одна строка bot_instances (upsert по
// user_id) и произвольное число именованных конфигураций.
type BotRepository struct {
	db *sql.DB
}

// NewBotRepository создает новый экземпляр репозитория
func NewBotRepository(db *sql.DB) *BotRepository {
	return &BotRepository{db: db}
}

// ============ Экземпляры ============

// GetInstance возвращает экземпляр бота пользователя
func (r *BotRepository) GetInstance(ctx context.Context, userID string) (*models.BotInstance, error) {
	query := selectInstances + ` WHERE user_id = $1`

	inst, err := scanInstance(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBotInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

// SaveInstance создает или заменяет экземпляр бота пользователя
func (r *BotRepository) SaveInstance(ctx context.Context, inst *models.BotInstance) error {
	query := `
		INSERT INTO bot_instances (bot_id, user_id, config_name, status, positions_count, total_pnl, last_activity, started_at, stopped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE
		SET bot_id = EXCLUDED.bot_id, config_name = EXCLUDED.config_name, status = EXCLUDED.status, positions_count = EXCLUDED.positions_count, total_pnl = EXCLUDED.total_pnl, last_activity = EXCLUDED.last_activity, started_at = EXCLUDED.started_at, stopped_at = EXCLUDED.stopped_at`

	_, err := r.db.ExecContext(
		ctx,
		query,
		inst.BotID,
		inst.UserID,
		inst.ConfigName,
		inst.Status,
		inst.PositionsCount,
		inst.TotalPnl,
		inst.LastActivity,
		inst.StartedAt,
		inst.StoppedAt,
	)
	return err
}

// UpdateInstance обновляет изменяемые поля экземпляра
func (r *BotRepository) UpdateInstance(ctx context.Context, inst *models.BotInstance) error {
	query := `
		UPDATE bot_instances
		SET status = $1, positions_count = $2, total_pnl = $3, last_activity = $4, stopped_at = $5
		WHERE bot_id = $6`

	result, err := r.db.ExecContext(
		ctx,
		query,
		inst.Status,
		inst.PositionsCount,
		inst.TotalPnl,
		inst.LastActivity,
		inst.StoppedAt,
		inst.BotID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrBotInstanceNotFound)
}

// ListRunning возвращает все запущенные экземпляры
// (используется для восстановления после рестарта процесса)
func (r *BotRepository) ListRunning(ctx context.Context) ([]*models.BotInstance, error) {
	query := selectInstances + ` WHERE status = $1 ORDER BY started_at`

	rows, err := r.db.QueryContext(ctx, query, models.BotStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*models.BotInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

// ============ Конфигурации ============

// GetConfig возвращает именованную конфигурацию пользователя
func (r *BotRepository) GetConfig(ctx context.Context, userID, configName string) (*models.BotConfig, error) {
	query := selectConfigs + ` WHERE user_id = $1 AND config_name = $2`

	cfg, err := scanConfig(r.db.QueryRowContext(ctx, query, userID, configName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBotConfigNotFound
		}
		return nil, err
	}
	return cfg, nil
}

// ListConfigs возвращает все конфигурации пользователя
func (r *BotRepository) ListConfigs(ctx context.Context, userID string) ([]*models.BotConfig, error) {
	query := selectConfigs + ` WHERE user_id = $1 ORDER BY config_name`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.BotConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return configs, nil
}

// SaveConfig создает новую конфигурацию
func (r *BotRepository) SaveConfig(ctx context.Context, cfg *models.BotConfig) error {
	query := `
		INSERT INTO bot_configs (user_id, config_name, symbol, amount, long_exchange, short_exchange, leverage, max_risk_level, liquidation_buffer, margin_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	err := r.db.QueryRowContext(
		ctx,
		query,
		cfg.UserID,
		cfg.ConfigName,
		cfg.Symbol,
		cfg.Amount,
		cfg.LongExchange,
		cfg.ShortExchange,
		cfg.Leverage,
		cfg.MaxRiskLevel,
		cfg.LiquidationBuffer,
		cfg.MarginThreshold,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	).Scan(&cfg.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrBotConfigExists
		}
		return err
	}
	return nil
}

// UpdateConfig обновляет торговые параметры конфигурации
func (r *BotRepository) UpdateConfig(ctx context.Context, cfg *models.BotConfig) error {
	query := `
		UPDATE bot_configs
		SET symbol = $1, amount = $2, long_exchange = $3, short_exchange = $4, leverage = $5, max_risk_level = $6, liquidation_buffer = $7, margin_threshold = $8, updated_at = $9
		WHERE user_id = $10 AND config_name = $11`

	cfg.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(
		ctx,
		query,
		cfg.Symbol,
		cfg.Amount,
		cfg.LongExchange,
		cfg.ShortExchange,
		cfg.Leverage,
		cfg.MaxRiskLevel,
		cfg.LiquidationBuffer,
		cfg.MarginThreshold,
		cfg.UpdatedAt,
		cfg.UserID,
		cfg.ConfigName,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrBotConfigNotFound)
}

// DeleteConfig удаляет конфигурацию пользователя
func (r *BotRepository) DeleteConfig(ctx context.Context, userID, configName string) error {
	query := `DELETE FROM bot_configs WHERE user_id = $1 AND config_name = $2`

	result, err := r.db.ExecContext(ctx, query, userID, configName)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrBotConfigNotFound)
}

const selectInstances = `
	SELECT bot_id, user_id, config_name, status, positions_count, total_pnl, last_activity, started_at, stopped_at
	FROM bot_instances`

const selectConfigs = `
	SELECT id, user_id, config_name, symbol, amount, long_exchange, short_exchange, leverage, max_risk_level, liquidation_buffer, margin_threshold, created_at, updated_at
	FROM bot_configs`

func scanInstance(row rowScanner) (*models.BotInstance, error) {
	inst := &models.BotInstance{}
	var stoppedAt sql.NullTime

	err := row.Scan(
		&inst.BotID,
		&inst.UserID,
		&inst.ConfigName,
		&inst.Status,
		&inst.PositionsCount,
		&inst.TotalPnl,
		&inst.LastActivity,
		&inst.StartedAt,
		&stoppedAt,
	)
	if err != nil {
		return nil, err
	}

	if stoppedAt.Valid {
		t := stoppedAt.Time
		inst.StoppedAt = &t
	}
	return inst, nil
}

func scanConfig(row rowScanner) (*models.BotConfig, error) {
	cfg := &models.BotConfig{}
	err := row.Scan(
		&cfg.ID,
		&cfg.UserID,
		&cfg.ConfigName,
		&cfg.Symbol,
		&cfg.Amount,
		&cfg.LongExchange,
		&cfg.ShortExchange,
		&cfg.Leverage,
		&cfg.MaxRiskLevel,
		&cfg.LiquidationBuffer,
		&cfg.MarginThreshold,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "23505")
}
