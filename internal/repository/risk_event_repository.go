package repository

import (
	"context"
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"

	"fundingarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RiskEventRepository - работа с таблицей risk_events (append-only)
//
// Data хранится как JSONB: состав полей зависит от типа события
// (liquidation_risk, position_cycle).
type RiskEventRepository struct {
	db *sql.DB
}

// NewRiskEventRepository создает новый экземпляр репозитория
func NewRiskEventRepository(db *sql.DB) *RiskEventRepository {
	return &RiskEventRepository{db: db}
}

// Create создает новое событие риска
func (r *RiskEventRepository) Create(ctx context.Context, ev *models.RiskEvent) error {
	query := `
		INSERT INTO risk_events (user_id, event_type, severity, data, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}

	return r.db.QueryRowContext(
		ctx,
		query,
		ev.UserID,
		ev.EventType,
		ev.Severity,
		data,
		ev.Timestamp,
	).Scan(&ev.ID)
}

// GetRecentByUser возвращает последние события пользователя
func (r *RiskEventRepository) GetRecentByUser(ctx context.Context, userID string, limit int) ([]*models.RiskEvent, error) {
	query := `
		SELECT id, user_id, event_type, severity, data, timestamp
		FROM risk_events
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.RiskEvent
	for rows.Next() {
		ev := &models.RiskEvent{}
		var data []byte
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.EventType, &ev.Severity, &data, &ev.Timestamp); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteOlderThan удаляет события старше указанного момента,
// возвращает количество удаленных строк
func (r *RiskEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM risk_events WHERE timestamp < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
