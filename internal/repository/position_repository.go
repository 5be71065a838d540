package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fundingarb/internal/models"
)

// Ошибки репозитория позиций
var ErrPositionNotFound = errors.New("position not found")

// PositionRepository - работа с таблицей positions
//
// Каждая строка - одна нога арбитражной пары. Риск-поля обновляются
// монитором на каждом тике, закрытие фиксирует цену выхода и PNL.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create создает новую позицию
func (r *PositionRepository) Create(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (position_id, user_id, bot_id, exchange, symbol, side, size, entry_price, liquidation_price, current_price, risk_level, margin, leverage, status, opened_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	p.LastUpdated = p.OpenedAt

	_, err := r.db.ExecContext(
		ctx,
		query,
		p.PositionID,
		p.UserID,
		p.BotID,
		p.Exchange,
		p.Symbol,
		p.Side,
		p.Size,
		p.EntryPrice,
		p.LiquidationPrice,
		p.CurrentPrice,
		p.RiskLevel,
		p.Margin,
		p.Leverage,
		p.Status,
		p.OpenedAt,
		p.LastUpdated,
	)
	return err
}

// GetByID возвращает позицию по position_id
func (r *PositionRepository) GetByID(ctx context.Context, positionID string) (*models.Position, error) {
	query := selectPositions + ` WHERE position_id = $1`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetOpenByUser возвращает открытые позиции пользователя
func (r *PositionRepository) GetOpenByUser(ctx context.Context, userID string) ([]*models.Position, error) {
	query := selectPositions + ` WHERE user_id = $1 AND status = $2 ORDER BY opened_at`

	rows, err := r.db.QueryContext(ctx, query, userID, models.PositionStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetHistoryByUser возвращает закрытые позиции пользователя (новые первыми)
func (r *PositionRepository) GetHistoryByUser(ctx context.Context, userID string, limit int) ([]*models.Position, error) {
	query := selectPositions + ` WHERE user_id = $1 AND status = $2 ORDER BY closed_at DESC LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, userID, models.PositionStatusClosed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// UpdateRisk обновляет риск-поля позиции после тика мониторинга
func (r *PositionRepository) UpdateRisk(ctx context.Context, positionID string, currentPrice, liquidationPrice, riskLevel float64) error {
	query := `
		UPDATE positions
		SET current_price = $1, liquidation_price = $2, risk_level = $3, last_updated = $4
		WHERE position_id = $5`

	result, err := r.db.ExecContext(ctx, query, currentPrice, liquidationPrice, riskLevel, time.Now().UTC(), positionID)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrPositionNotFound)
}

// Close переводит позицию в closed с фиксацией цены выхода и PNL
func (r *PositionRepository) Close(ctx context.Context, positionID string, exitPrice, realizedPnl float64) error {
	query := `
		UPDATE positions
		SET status = $1, exit_price = $2, realized_pnl = $3, closed_at = $4, last_updated = $4
		WHERE position_id = $5 AND status = $6`

	result, err := r.db.ExecContext(ctx, query, models.PositionStatusClosed, exitPrice, realizedPnl, time.Now().UTC(), positionID, models.PositionStatusOpen)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrPositionNotFound)
}

// TotalPnlByUser возвращает суммарный реализованный PNL пользователя
func (r *PositionRepository) TotalPnlByUser(ctx context.Context, userID string) (float64, error) {
	query := `SELECT COALESCE(SUM(realized_pnl), 0) FROM positions WHERE user_id = $1 AND status = $2`

	var total float64
	err := r.db.QueryRowContext(ctx, query, userID, models.PositionStatusClosed).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

const selectPositions = `
	SELECT position_id, user_id, bot_id, exchange, symbol, side, size, entry_price, liquidation_price, current_price, risk_level, margin, leverage, status, exit_price, realized_pnl, opened_at, closed_at, last_updated
	FROM positions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{}
	var exitPrice, realizedPnl sql.NullFloat64
	var closedAt sql.NullTime

	err := row.Scan(
		&p.PositionID,
		&p.UserID,
		&p.BotID,
		&p.Exchange,
		&p.Symbol,
		&p.Side,
		&p.Size,
		&p.EntryPrice,
		&p.LiquidationPrice,
		&p.CurrentPrice,
		&p.RiskLevel,
		&p.Margin,
		&p.Leverage,
		&p.Status,
		&exitPrice,
		&realizedPnl,
		&p.OpenedAt,
		&closedAt,
		&p.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	p.ExitPrice = exitPrice.Float64
	p.RealizedPnl = realizedPnl.Float64
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return p, nil
}

func scanPositions(rows *sql.Rows) ([]*models.Position, error) {
	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}

// requireAffected возвращает notFound если UPDATE/DELETE не затронул строк
func requireAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
