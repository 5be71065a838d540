package utils

import (
	"math"
)

// math.go - математические утилиты для торговых операций
//
// Все функции являются чистыми (pure functions) без побочных эффектов.

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Округление вниз гарантирует, что мы не превысим доступные средства.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Floor(value/lotSize) * lotSize
}

// CalculatePNL расчитывает прибыль/убыток по позиции.
//
// Формулы:
//   - Long PNL = (P_close - P_open) × qty
//   - Short PNL = (P_open - P_close) × qty
//
// Параметры:
//   - side: "long" или "short"
//   - entryPrice: цена входа
//   - exitPrice: цена выхода
//   - quantity: объём позиции
func CalculatePNL(side string, entryPrice, exitPrice, quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}

	switch side {
	case "long":
		return (exitPrice - entryPrice) * quantity
	case "short":
		return (entryPrice - exitPrice) * quantity
	default:
		return 0
	}
}

// ImbalancePct возвращает относительную разницу двух величин в процентах
// от большей из них.
//
//	ImbalancePct(600, 400) = 33.33
//	ImbalancePct(500, 500) = 0
func ImbalancePct(a, b float64) float64 {
	max := math.Max(a, b)
	if max <= 0 {
		return 0
	}
	return math.Abs(a-b) / max * 100
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
