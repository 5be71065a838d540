package handlers

import (
	"net/http"

	"fundingarb/internal/api/middleware"
	"fundingarb/internal/models"
	"fundingarb/internal/service"
)

// NotificationHandler отвечает за ленту уведомлений
//
// Endpoints:
// - GET /api/v1/notifications - последние уведомления пользователя
type NotificationHandler struct {
	notificationService service.NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler
func NewNotificationHandler(notificationService service.NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// GetNotifications возвращает последние уведомления пользователя
// GET /api/v1/notifications?limit=100
//
// Ответ:
//
//	[
//	  {
//	    "id": 12,
//	    "type": "EMERGENCY_CLOSE",
//	    "severity": "error",
//	    "message": "🚨 Аварийное закрытие SOLUSDT",
//	    "timestamp": "..."
//	  },
//	  ...
//	]
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.notificationService.GetNotifications(r.Context(), middleware.UserID(r), queryLimit(r))
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get notifications", err.Error())
		return
	}

	if notifications == nil {
		notifications = []*models.Notification{}
	}
	h.respondWithJSON(w, http.StatusOK, notifications)
}

// respondWithJSON отправляет JSON ответ
func (h *NotificationHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	writeJSON(w, code, payload)
}

// respondWithError отправляет JSON ответ с ошибкой
func (h *NotificationHandler) respondWithError(w http.ResponseWriter, code int, message, details string) {
	writeJSON(w, code, ErrorResponse{Error: message, Details: details})
}
