package models

import "time"

// BotInstance представляет состояние экземпляра бота пользователя
//
// Инвариант: не более одного running экземпляра на пользователя.
type BotInstance struct {
	BotID          string    `json:"bot_id" db:"bot_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	ConfigName     string    `json:"config_name" db:"config_name"`
	Status         string    `json:"status" db:"status"` // stopped, running
	PositionsCount int       `json:"positions_count" db:"positions_count"`
	TotalPnl       float64   `json:"total_pnl" db:"total_pnl"`
	LastActivity   time.Time `json:"last_activity" db:"last_activity"`
	StartedAt      time.Time `json:"started_at" db:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty" db:"stopped_at"`
}

// Статусы бота
const (
	BotStatusStopped = "stopped"
	BotStatusRunning = "running"
)

// Состояния цикла позиции (state machine)
const (
	StateEntering   = "ENTERING"   // открытие обеих ног
	StateMonitoring = "MONITORING" // позиции открыты, контроль риска
	StateClosing    = "CLOSING"    // закрытие позиций
	StateSuspended  = "SUSPENDED"  // вход временно невозможен, повтор на следующем тике
	StateStopped    = "STOPPED"    // остановлен пользователем
)

// CycleRuntime представляет runtime состояние цикла позиций бота
//
// Не персистится: при рестарте восстанавливается из статуса бота
// и открытых позиций (running + открытая пара ⇒ MONITORING).
type CycleRuntime struct {
	BotID         string    `json:"bot_id"`
	State         string    `json:"state"`
	CyclesCount   int       `json:"cycles_count"`  // завершенные циклы закрытие → переоткрытие
	CoolingUntil  time.Time `json:"cooling_until"` // до этого момента вход не выполняется
	SuspendReason string    `json:"suspend_reason,omitempty"`
	LastRiskCheck time.Time `json:"last_risk_check"`
	LastUpdate    time.Time `json:"last_update"`
}

// BotConfig - торговая конфигурация бота пользователя
type BotConfig struct {
	ID            int       `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	ConfigName    string    `json:"config_name" db:"config_name"`
	Symbol        string    `json:"symbol" db:"symbol"`                 // SOLUSDT
	Amount        float64   `json:"amount" db:"amount"`                 // размер позиции в USDT
	LongExchange  string    `json:"long_exchange" db:"long_exchange"`   // биржа для LONG ноги
	ShortExchange string    `json:"short_exchange" db:"short_exchange"` // биржа для SHORT ноги
	Leverage      int       `json:"leverage" db:"leverage"`

	// Лимиты риска
	MaxRiskLevel      float64 `json:"max_risk_level" db:"max_risk_level"`           // порог экстренного закрытия (%)
	LiquidationBuffer float64 `json:"liquidation_buffer" db:"liquidation_buffer"`   // запас до ликвидации (%)

	// Балансировка маржи
	MarginThreshold float64 `json:"margin_threshold" db:"margin_threshold"` // разница % для балансировки

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Exchanges возвращает биржи конфигурации в порядке [LONG, SHORT]
func (c *BotConfig) Exchanges() [2]string {
	return [2]string{c.LongExchange, c.ShortExchange}
}

// DefaultBotConfig возвращает конфигурацию по умолчанию
// (используется когда у пользователя нет сохранённых конфигураций)
func DefaultBotConfig(userID string) *BotConfig {
	return &BotConfig{
		UserID:            userID,
		ConfigName:        "default",
		Symbol:            "SOLUSDT",
		Amount:            100,
		LongExchange:      "bybit",
		ShortExchange:     "bitmex",
		Leverage:          3,
		MaxRiskLevel:      80,
		LiquidationBuffer: 20,
		MarginThreshold:   20,
	}
}
