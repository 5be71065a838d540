package service

import (
	"context"
	"time"

	"fundingarb/internal/models"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// NotificationService предоставляет бизнес-логику для управления уведомлениями.
//
// Торговое ядро пишет уведомления напрямую через Engine, этот
// сервис обслуживает API: лента уведомлений пользователя, ручное
// создание и периодическая очистка журнала.
//
// Типы уведомлений:
// - OPEN: открытие арбитражной пары
// - CLOSE: закрытие позиций
// - EMERGENCY_CLOSE: экстренное закрытие по риску ликвидации
// - ERROR: ошибка API/ордера
// - MARGIN: балансировка маржи
// - SECOND_LEG_FAIL: не удалось открыть вторую ногу
// - PARTIAL_ENTRY: откат первой ноги не удался
type NotificationService struct {
	notificationRepo NotificationRepositoryInterface
	wsHub            WebSocketBroadcaster
}

// NewNotificationService создает новый экземпляр NotificationService.
func NewNotificationService(notificationRepo NotificationRepositoryInterface) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// CreateNotification создает новое уведомление.
//
// После успешного создания отправляет broadcast через WebSocket
// (если hub настроен).
func (s *NotificationService) CreateNotification(ctx context.Context, notif *models.Notification) error {
	if err := s.notificationRepo.Create(ctx, notif); err != nil {
		return err
	}

	// Broadcast через WebSocket hub для real-time обновления UI
	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}
	return nil
}

// GetNotifications возвращает последние уведомления пользователя.
//
// Уведомления отсортированы по времени (новые сверху).
func (s *NotificationService) GetNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return s.notificationRepo.GetRecentByUser(ctx, userID, limit)
}

// CleanupOld удаляет уведомления старше указанного срока хранения.
//
// Вызывается периодически из main.go (по умолчанию хранение 30 дней).
func (s *NotificationService) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return s.notificationRepo.DeleteOlderThan(ctx, time.Now().UTC().Add(-retention))
}
