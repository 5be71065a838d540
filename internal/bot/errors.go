package bot

import (
	"errors"
	"fmt"
)

// Ошибки предусловий (не ретраятся)
var (
	// ErrBotAlreadyRunning - у пользователя уже есть запущенный бот
	ErrBotAlreadyRunning = errors.New("бот уже запущен")

	// ErrBotNotRunning - попытка остановить незапущенный бот
	ErrBotNotRunning = errors.New("бот не запущен")

	// ErrInsufficientCapital - баланс меньше amount * capital buffer
	ErrInsufficientCapital = errors.New("недостаточно капитала для входа")

	// ErrPairAlreadyOpen - пара позиций по символу уже открыта
	ErrPairAlreadyOpen = errors.New("арбитражная пара уже открыта")
)

// PartialEntryError - вторая нога не открылась и откат первой не удался.
//
// Самая опасная ситуация входа: на бирже осталась непокрытая позиция.
// Никогда не гасится молча, всегда сопровождается критическим
// уведомлением SECOND_LEG_FAIL и требует ручного вмешательства.
type PartialEntryError struct {
	Symbol       string
	LongExchange string // биржа с зависшей LONG ногой
	OpenErr      error  // ошибка открытия SHORT ноги
	RollbackErr  error  // ошибка отката LONG ноги
}

func (e *PartialEntryError) Error() string {
	return fmt.Sprintf("частичный вход %s: short не открылся (%v), откат long на %s не удался (%v)",
		e.Symbol, e.OpenErr, e.LongExchange, e.RollbackErr)
}

// Unwrap возвращает ошибку открытия второй ноги
func (e *PartialEntryError) Unwrap() error {
	return e.OpenErr
}

// StateTransitionError - недопустимый переход state machine
type StateTransitionError struct {
	BotID string
	From  string
	To    string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход состояния бота %s: %s → %s", e.BotID, e.From, e.To)
}
