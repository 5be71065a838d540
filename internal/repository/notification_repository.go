package repository

import (
	"context"
	"database/sql"
	"time"

	"fundingarb/internal/models"
)

// NotificationRepository - работа с таблицей notifications
//
// Лента уведомлений пользователя: OPEN, EMERGENCY_CLOSE, MARGIN,
// SECOND_LEG_FAIL, PARTIAL_ENTRY и ошибки. Meta хранится как JSONB.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create создает новое уведомление
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, timestamp, type, severity, bot_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	meta, err := json.Marshal(n.Meta)
	if err != nil {
		return err
	}

	return r.db.QueryRowContext(
		ctx,
		query,
		n.UserID,
		n.Timestamp,
		n.Type,
		n.Severity,
		n.BotID,
		n.Message,
		meta,
	).Scan(&n.ID)
}

// GetRecentByUser возвращает последние уведомления пользователя
func (r *NotificationRepository) GetRecentByUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, user_id, timestamp, type, severity, bot_id, message, meta
		FROM notifications
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var meta []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Timestamp, &n.Type, &n.Severity, &n.BotID, &n.Message, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, err
			}
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

// DeleteOlderThan удаляет уведомления старше указанного момента
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE timestamp < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
