package models

import "time"

// Шаги балансировки маржи (для фиксации точки отказа)
const (
	MarginStepRemove   = "remove_margin"   // снятие маржи с позиции-источника
	MarginStepTransfer = "transfer_funds"  // перевод средств между биржами
	MarginStepAdd      = "add_margin"      // добавление маржи на позицию-получатель
)

// MarginBalanceLog представляет запись о балансировке маржи (append-only)
//
// При частичном выполнении StepFailed содержит шаг на котором
// произошёл сбой; отката между биржами нет - перевод средств не атомарен.
type MarginBalanceLog struct {
	ID           int       `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	FromExchange string    `json:"from_exchange" db:"from_exchange"`
	ToExchange   string    `json:"to_exchange" db:"to_exchange"`
	Amount       float64   `json:"amount" db:"amount"`
	SourceMargin float64   `json:"source_margin" db:"source_margin"` // маржа источника до перевода
	TargetMargin float64   `json:"target_margin" db:"target_margin"` // маржа получателя до перевода
	Success      bool      `json:"success" db:"success"`
	StepFailed   string    `json:"step_failed,omitempty" db:"step_failed"` // пусто при успехе
	Error        string    `json:"error,omitempty" db:"error"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}
