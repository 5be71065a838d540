package bot

import (
	"time"

	"fundingarb/internal/models"
)

// ValidTransitions определяет допустимые переходы между состояниями цикла
var ValidTransitions = map[string][]string{
	models.StateEntering:   {models.StateMonitoring, models.StateSuspended, models.StateStopped}, // Suspended если вход не прошел предусловия
	models.StateMonitoring: {models.StateClosing, models.StateSuspended, models.StateStopped},
	models.StateClosing:    {models.StateEntering, models.StateSuspended, models.StateStopped}, // Entering при переоткрытии после cooling
	models.StateSuspended:  {models.StateEntering, models.StateStopped},                        // повтор входа на каждом тике
	models.StateStopped:    {models.StateEntering},                                             // только явный повторный запуск
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TryTransition выполняет переход с проверкой допустимости.
// При недопустимом переходе состояние не меняется.
func TryTransition(rt *models.CycleRuntime, to string) error {
	if !CanTransition(rt.State, to) {
		return &StateTransitionError{BotID: rt.BotID, From: rt.State, To: to}
	}
	RecordCycleTransition(rt.State, to)
	rt.State = to
	rt.LastUpdate = time.Now().UTC()
	return nil
}

// ForceTransition выполняет переход без проверки (явный Stop пользователя)
func ForceTransition(rt *models.CycleRuntime, to string) {
	RecordCycleTransition(rt.State, to)
	rt.State = to
	rt.LastUpdate = time.Now().UTC()
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s string) string {
	switch s {
	case models.StateEntering:
		return "Открытие позиций..."
	case models.StateMonitoring:
		return "Позиции открыты, мониторинг риска"
	case models.StateClosing:
		return "Экстренное закрытие позиций..."
	case models.StateSuspended:
		return "Вход приостановлен, повтор на следующем тике"
	case models.StateStopped:
		return "Бот остановлен"
	default:
		return "Неизвестное состояние"
	}
}

// IsActive возвращает true если цикл активен (бот работает)
func IsActive(s string) bool {
	return s == models.StateEntering || s == models.StateMonitoring ||
		s == models.StateClosing || s == models.StateSuspended
}

// HasOpenPosition возвращает true если в этом состоянии есть открытая пара
func HasOpenPosition(s string) bool {
	return s == models.StateMonitoring || s == models.StateClosing
}
