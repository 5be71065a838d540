package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	UserID    string                 `json:"user_id" db:"user_id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`           // OPEN, CLOSE, EMERGENCY_CLOSE, ERROR, MARGIN, SECOND_LEG_FAIL, PARTIAL_ENTRY
	Severity  string                 `json:"severity" db:"severity"`   // info, warn, error
	BotID     string                 `json:"bot_id,omitempty" db:"bot_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeOpen           = "OPEN"            // открытие арбитражной пары позиций
	NotificationTypeClose          = "CLOSE"           // закрытие позиций
	NotificationTypeEmergencyClose = "EMERGENCY_CLOSE" // экстренное закрытие по риску ликвидации
	NotificationTypeError          = "ERROR"           // ошибка API/ордера
	NotificationTypeMargin         = "MARGIN"          // балансировка маржи
	NotificationTypeSecondLegFail  = "SECOND_LEG_FAIL" // не удалось открыть вторую ногу
	NotificationTypePartialEntry   = "PARTIAL_ENTRY"   // откат первой ноги не удался, требуется ручное вмешательство
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
