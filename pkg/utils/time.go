package utils

import (
	"fmt"
	"time"
)

// time.go - утилиты для работы со временем
//
// Используются планировщиком балансировки маржи: времена запуска
// задаются как "HH:MM" по UTC, планировщик вычисляет ближайший
// следующий запуск.

// ClockTime представляет время суток без даты (UTC)
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime парсит строку формата "HH:MM"
//
// Примеры:
//   - ParseClockTime("00:00") = ClockTime{0, 0}
//   - ParseClockTime("12:30") = ClockTime{12, 30}
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// ParseClockTimes парсит список строк "HH:MM"
func ParseClockTimes(values []string) ([]ClockTime, error) {
	result := make([]ClockTime, 0, len(values))
	for _, v := range values {
		ct, err := ParseClockTime(v)
		if err != nil {
			return nil, err
		}
		result = append(result, ct)
	}
	return result, nil
}

// At возвращает момент времени с этим временем суток в дате t (UTC)
func (c ClockTime) At(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, time.UTC)
}

// NextRunAfter возвращает ближайший момент запуска строго после now
// для набора времён суток. Если все времена сегодня уже прошли,
// берётся самое раннее время следующего дня.
func NextRunAfter(now time.Time, times []ClockTime) time.Time {
	now = now.UTC()

	var next time.Time
	for _, ct := range times {
		candidate := ct.At(now)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}

	return next
}

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		if minutes > 0 {
			return (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute).String()
		}
		return (time.Duration(hours) * time.Hour).String()
	}

	if minutes > 0 {
		if seconds > 0 {
			return (time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second).String()
		}
		return (time.Duration(minutes) * time.Minute).String()
	}

	return (time.Duration(seconds) * time.Second).String()
}

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
