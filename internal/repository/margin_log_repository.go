package repository

import (
	"context"
	"database/sql"
	"time"

	"fundingarb/internal/models"
)

// MarginLogRepository - работа с таблицей margin_balance_logs (append-only)
//
// Каждая попытка перевода маржи фиксируется одной строкой, включая
// частично выполненные: step_failed содержит шаг на котором произошел
// сбой, при успехе он пуст.
type MarginLogRepository struct {
	db *sql.DB
}

// NewMarginLogRepository создает новый экземпляр репозитория
func NewMarginLogRepository(db *sql.DB) *MarginLogRepository {
	return &MarginLogRepository{db: db}
}

// Create создает запись о балансировке
func (r *MarginLogRepository) Create(ctx context.Context, entry *models.MarginBalanceLog) error {
	query := `
		INSERT INTO margin_balance_logs (user_id, from_exchange, to_exchange, amount, source_margin, target_margin, success, step_failed, error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	return r.db.QueryRowContext(
		ctx,
		query,
		entry.UserID,
		entry.FromExchange,
		entry.ToExchange,
		entry.Amount,
		entry.SourceMargin,
		entry.TargetMargin,
		entry.Success,
		entry.StepFailed,
		entry.Error,
		entry.Timestamp,
	).Scan(&entry.ID)
}

// GetRecentByUser возвращает последние балансировки пользователя
func (r *MarginLogRepository) GetRecentByUser(ctx context.Context, userID string, limit int) ([]*models.MarginBalanceLog, error) {
	query := `
		SELECT id, user_id, from_exchange, to_exchange, amount, source_margin, target_margin, success, step_failed, error, timestamp
		FROM margin_balance_logs
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.MarginBalanceLog
	for rows.Next() {
		entry := &models.MarginBalanceLog{}
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.FromExchange,
			&entry.ToExchange,
			&entry.Amount,
			&entry.SourceMargin,
			&entry.TargetMargin,
			&entry.Success,
			&entry.StepFailed,
			&entry.Error,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
