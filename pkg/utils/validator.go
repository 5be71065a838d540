package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных API и конфигураций

var symbolRe = regexp.MustCompile(`^[A-Z0-9]{2,20}(USDT|USD)$`)

// ValidateSymbol проверяет формат торгового символа (например SOLUSDT)
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !symbolRe.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %s", symbol)
	}
	return nil
}

// ValidateAmount проверяет объём позиции
func ValidateAmount(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %v", amount)
	}
	return nil
}

// ValidateLeverage проверяет плечо
func ValidateLeverage(leverage int) error {
	if leverage < 1 || leverage > 100 {
		return fmt.Errorf("leverage must be between 1 and 100, got %d", leverage)
	}
	return nil
}

// ValidateExchangePair проверяет что биржи для ног различаются и не пусты
func ValidateExchangePair(longExchange, shortExchange string) error {
	if longExchange == "" || shortExchange == "" {
		return fmt.Errorf("both exchanges are required")
	}
	if strings.EqualFold(longExchange, shortExchange) {
		return fmt.Errorf("long and short exchanges must differ, got %s", longExchange)
	}
	return nil
}

// ValidateAPIKey выполняет базовую проверку API ключа
func ValidateAPIKey(key string) error {
	if len(key) < 8 {
		return fmt.Errorf("api key is too short")
	}
	if strings.ContainsAny(key, " \t\n") {
		return fmt.Errorf("api key contains whitespace")
	}
	return nil
}
