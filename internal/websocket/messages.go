package websocket

import (
	"time"

	"fundingarb/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeBotUpdate - обновление статуса бота
	// Отправляется при изменении состояния (запуск, остановка, смена фазы цикла)
	MessageTypeBotUpdate MessageType = "botUpdate"

	// MessageTypeRiskUpdate - риск открытых позиций
	// Отправляется после каждого тика мониторинга (раз в 10 секунд)
	MessageTypeRiskUpdate MessageType = "riskUpdate"

	// MessageTypeNotification - новое уведомление
	// Отправляется при событиях: открытие, закрытие, экстренное закрытие, ошибки
	MessageTypeNotification MessageType = "notification"

	// MessageTypeBalanceUpdate - обновление баланса биржи
	// Отправляется после обновления баланса через API
	MessageTypeBalanceUpdate MessageType = "balanceUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
//
// UserID определяет маршрутизацию: сообщение доставляется только
// клиентам, аутентифицированным как этот пользователь.
type BaseMessage struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
}

// BotUpdateMessage - сообщение об изменении статуса бота
type BotUpdateMessage struct {
	BaseMessage
	Data *models.BotInstance `json:"data"`
}

// RiskUpdateMessage - сообщение с риском открытых позиций
//
// Содержит обе ноги арбитражной пары с актуальными mark price,
// ценами ликвидации и уровнем риска 0-100.
type RiskUpdateMessage struct {
	BaseMessage
	Data []RiskPositionData `json:"data"`
}

// RiskPositionData - риск одной ноги позиции
type RiskPositionData struct {
	PositionID       string  `json:"position_id"`
	Exchange         string  `json:"exchange"`
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	EntryPrice       float64 `json:"entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	LiquidationPrice float64 `json:"liquidation_price"`
	RiskLevel        float64 `json:"risk_level"`
	Margin           float64 `json:"margin"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// BalanceUpdateMessage - сообщение об обновлении баланса биржи
type BalanceUpdateMessage struct {
	BaseMessage
	Exchange string  `json:"exchange"`
	Balance  float64 `json:"balance"`
}

// ============ Фабричные функции для создания сообщений ============

// NewBotUpdateMessage создает сообщение обновления статуса бота
func NewBotUpdateMessage(userID string, inst *models.BotInstance) *BotUpdateMessage {
	return &BotUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeBotUpdate,
			UserID:    userID,
			Timestamp: time.Now(),
		},
		Data: inst,
	}
}

// NewRiskUpdateMessage создает сообщение с риском позиций
func NewRiskUpdateMessage(userID string, positions []*models.Position) *RiskUpdateMessage {
	data := make([]RiskPositionData, 0, len(positions))
	for _, pos := range positions {
		data = append(data, RiskPositionData{
			PositionID:       pos.PositionID,
			Exchange:         pos.Exchange,
			Symbol:           pos.Symbol,
			Side:             pos.Side,
			EntryPrice:       pos.EntryPrice,
			CurrentPrice:     pos.CurrentPrice,
			LiquidationPrice: pos.LiquidationPrice,
			RiskLevel:        pos.RiskLevel,
			Margin:           pos.Margin,
		})
	}

	return &RiskUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeRiskUpdate,
			UserID:    userID,
			Timestamp: time.Now(),
		},
		Data: data,
	}
}

// NewNotificationMessage создает сообщение с уведомлением
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			UserID:    notif.UserID,
			Timestamp: time.Now(),
		},
		Data: notif,
	}
}

// NewBalanceUpdateMessage создает сообщение обновления баланса
func NewBalanceUpdateMessage(userID, exchangeName string, balance float64) *BalanceUpdateMessage {
	return &BalanceUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeBalanceUpdate,
			UserID:    userID,
			Timestamp: time.Now(),
		},
		Exchange: exchangeName,
		Balance:  balance,
	}
}
