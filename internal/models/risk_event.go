package models

import "time"

// RiskEvent представляет событие риска (append-only журнал)
//
// Пишется EmergencyCloser при экстренном закрытии и CycleManager
// при переоткрытии позиций.
type RiskEvent struct {
	ID        int                    `json:"id" db:"id"`
	UserID    string                 `json:"user_id" db:"user_id"`
	EventType string                 `json:"event_type" db:"event_type"` // liquidation_risk, emergency_close, position_cycle
	Severity  string                 `json:"severity" db:"severity"`     // info, medium, high, critical, error
	Data      map[string]interface{} `json:"data" db:"data"`             // JSON в БД
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
}

// Типы событий риска
const (
	RiskEventLiquidationRisk = "liquidation_risk"
	RiskEventEmergencyClose  = "emergency_close"
	RiskEventPositionCycle   = "position_cycle"
)

// Уровни серьезности риска по risk level
const (
	RiskSeverityLow      = "low"
	RiskSeverityMedium   = "medium"
	RiskSeverityHigh     = "high"
	RiskSeverityCritical = "critical"
)

// Серьезность событий не связанных с risk level (переоткрытие цикла)
const (
	RiskSeverityInfo  = "info"
	RiskSeverityError = "error"
)

// RiskSeverityFor возвращает уровень серьезности для risk level
func RiskSeverityFor(riskLevel float64) string {
	switch {
	case riskLevel >= 90:
		return RiskSeverityCritical
	case riskLevel >= 80:
		return RiskSeverityHigh
	case riskLevel >= 50:
		return RiskSeverityMedium
	default:
		return RiskSeverityLow
	}
}
