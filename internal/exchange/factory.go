package exchange

import (
	"fmt"
	"strings"
)

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = []string{
	"bybit",
	"bitmex",
}

// NewGateway создает новый экземпляр биржи по имени
func NewGateway(name string) (Gateway, error) {
	name = strings.ToLower(name)

	switch name {
	case "bybit":
		return NewBybit(), nil
	case "bitmex":
		return NewBitmex(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
