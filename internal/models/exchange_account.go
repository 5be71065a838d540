package models

import "time"

// ExchangeAccount представляет биржевой аккаунт пользователя с API ключами
type ExchangeAccount struct {
	ID        int       `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"` // bybit, bitmex
	APIKey    string    `json:"-" db:"api_key"` // зашифрован, не возвращается в JSON
	SecretKey string    `json:"-" db:"secret_key"` // зашифрован
	Connected bool      `json:"connected" db:"connected"`
	Balance   float64   `json:"balance" db:"balance"` // equity в USDT
	LastError string    `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
