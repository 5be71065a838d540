package models

import "time"

// Position представляет одну ногу арбитражной позиции на бирже
//
// Пара LONG+SHORT для одного символа на двух биржах образует
// полную арбитражную позицию. Частичная пара (одна нога) не должна
// существовать дольше транзакции входа.
type Position struct {
	PositionID       string    `json:"position_id" db:"position_id"`
	UserID           string    `json:"user_id" db:"user_id"`
	BotID            string    `json:"bot_id" db:"bot_id"`
	Exchange         string    `json:"exchange" db:"exchange"`
	Symbol           string    `json:"symbol" db:"symbol"`                       // SOLUSDT
	Side             string    `json:"side" db:"side"`                           // long, short
	Size             float64   `json:"size" db:"size"`                           // объем в монетах
	EntryPrice       float64   `json:"entry_price" db:"entry_price"`
	LiquidationPrice float64   `json:"liquidation_price" db:"liquidation_price"`
	CurrentPrice     float64   `json:"current_price" db:"current_price"`         // последняя mark price
	RiskLevel        float64   `json:"risk_level" db:"risk_level"`               // 0-100, чем выше тем ближе ликвидация
	Margin           float64   `json:"margin" db:"margin"`                       // маржа позиции в USDT
	Leverage         int       `json:"leverage" db:"leverage"`
	Status           string    `json:"status" db:"status"`                       // open, closed
	ExitPrice        float64   `json:"exit_price" db:"exit_price"`
	RealizedPnl      float64   `json:"realized_pnl" db:"realized_pnl"`
	OpenedAt         time.Time `json:"opened_at" db:"opened_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	LastUpdated      time.Time `json:"last_updated" db:"last_updated"`
}

// Статусы позиции
const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Стороны позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// IsOpen возвращает true если позиция открыта
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// PnlAt возвращает PNL позиции при закрытии по указанной цене
//
// long:  (exit - entry) * size
// short: (entry - exit) * size
func (p *Position) PnlAt(exitPrice float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - exitPrice) * p.Size
	}
	return (exitPrice - p.EntryPrice) * p.Size
}
