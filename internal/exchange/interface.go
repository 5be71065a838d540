package exchange

import (
	"context"
	"time"
)

// Gateway определяет унифицированный интерфейс для работы с любой биржей
//
// Все адаптеры нормализуют ответы бирж к единым типам: имена полей,
// знаки размеров позиций и единицы маржи различаются между биржами
// и скрываются внутри адаптера.
type Gateway interface {
	// Connect проверяет API ключи и устанавливает соединение с биржей
	Connect(apiKey, secret string) error

	// GetName возвращает имя биржи
	GetName() string

	// GetBalance получает доступный баланс фьючерсного аккаунта в USDT
	GetBalance(ctx context.Context) (float64, error)

	// GetMarkPrice получает текущую mark price символа
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// OpenPosition открывает позицию рыночным ордером с заданным плечом
	OpenPosition(ctx context.Context, symbol, side string, qty float64, leverage int) (*Order, error)

	// ClosePosition закрывает позицию встречным рыночным ордером
	// Возвращает ордер закрытия (цена исполнения нужна для расчёта PNL)
	ClosePosition(ctx context.Context, symbol, side string, qty float64) (*Order, error)

	// GetPositions получает список открытых позиций с ценами ликвидации
	GetPositions(ctx context.Context) ([]*PositionInfo, error)

	// AdjustPositionMargin добавляет (amount > 0) или снимает (amount < 0)
	// маржу позиции, amount в USDT
	AdjustPositionMargin(ctx context.Context, symbol string, amount float64) error

	// Withdraw выводит средства на указанный адрес, возвращает ID вывода
	Withdraw(ctx context.Context, coin string, amount float64, address string) (string, error)

	// Close закрывает соединения с биржей
	Close() error
}

// Order представляет исполненный ордер
type Order struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"` // "buy" или "sell"
	Type         string    `json:"type"`
	Quantity     float64   `json:"quantity"`
	FilledQty    float64   `json:"filled_qty"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PositionInfo представляет открытую позицию на бирже
type PositionInfo struct {
	Symbol           string    `json:"symbol"`
	Side             string    `json:"side"` // "long" или "short"
	Size             float64   `json:"size"` // всегда положительный
	EntryPrice       float64   `json:"entry_price"`
	MarkPrice        float64   `json:"mark_price"`
	LiquidationPrice float64   `json:"liquidation_price"` // 0 если биржа не вернула
	Margin           float64   `json:"margin"`            // маржа позиции в USDT
	Leverage         int       `json:"leverage"`
	UnrealizedPnl    float64   `json:"unrealized_pnl"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Side constants for orders (используются при размещении ордеров)
const (
	SideBuy  = "buy"  // покупка (открытие long или закрытие short)
	SideSell = "sell" // продажа (открытие short или закрытие long)
)

// Side constants for positions (используются для описания направления позиции)
const (
	SideLong  = "long"  // длинная позиция (ставка на рост)
	SideShort = "short" // короткая позиция (ставка на падение)
)

// Order status constants
const (
	OrderStatusFilled    = "filled"
	OrderStatusPartial   = "partial"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// CoinUSDT - расчётная валюта всех операций
const CoinUSDT = "USDT"
