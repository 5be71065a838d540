package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Bot      BotConfig
	Margin   MarginConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	JWTSecret      string
	EncryptionKey  string
	SessionTimeout int

	// bcrypt хеш пароля для входа в API. Пустое значение
	// отключает выдачу токенов (логин вернет 503).
	PasswordHash string
}

// BotConfig - настройки торгового цикла
type BotConfig struct {
	// Основной цикл мониторинга
	CheckInterval time.Duration // период проверки рисков и состояния позиций
	CoolingPeriod time.Duration // пауза между закрытием и переоткрытием

	// Пороги по умолчанию (могут быть переопределены конфигурацией пользователя)
	MaxRiskLevel      float64 // риск (%) при котором выполняется экстренное закрытие
	LiquidationBuffer float64 // минимальный запас (%) до цены ликвидации
	CapitalBuffer     float64 // множитель запаса капитала для входа
	DefaultLeverage   int

	// Retry логика для критических операций
	MaxRetries      int
	RetryBackoff    time.Duration
	OrderTimeout    time.Duration // таймаут ожидания исполнения ордера
	MaxCloseRetries int           // попытки экстренного закрытия одной ноги
}

// MarginConfig - настройки балансировки маржи между биржами
type MarginConfig struct {
	Threshold  float64  // разница маржи (%) при которой выполняется балансировка
	CheckTimes []string // времена запуска в UTC, формат "HH:MM"

	// Адреса депозита для перевода средств между биржами.
	// Вывод делается на адрес биржи-получателя (сеть Solana).
	DepositAddresses map[string]string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "fundingarb"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
			EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
			SessionTimeout: getEnvAsInt("SESSION_TIMEOUT", 3600),
			PasswordHash:   getEnv("API_PASSWORD_HASH", ""),
		},
		Bot: BotConfig{
			CheckInterval: getEnvAsDuration("CHECK_INTERVAL", 10*time.Second),
			CoolingPeriod: getEnvAsDuration("COOLING_PERIOD", 5*time.Second),

			MaxRiskLevel:      getEnvAsFloat("MAX_RISK_LEVEL", 80),
			LiquidationBuffer: getEnvAsFloat("LIQUIDATION_BUFFER", 20),
			CapitalBuffer:     getEnvAsFloat("CAPITAL_BUFFER", 1.5),
			DefaultLeverage:   getEnvAsInt("DEFAULT_LEVERAGE", 3),

			MaxRetries:      getEnvAsInt("MAX_RETRIES", 4),
			RetryBackoff:    getEnvAsDuration("RETRY_BACKOFF", 500*time.Millisecond),
			OrderTimeout:    getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
			MaxCloseRetries: getEnvAsInt("MAX_CLOSE_RETRIES", 5),
		},
		Margin: MarginConfig{
			Threshold:  getEnvAsFloat("MARGIN_THRESHOLD", 20),
			CheckTimes: getEnvAsList("MARGIN_CHECK_TIMES", []string{"00:00", "12:00"}),
			DepositAddresses: map[string]string{
				"bybit":  getEnv("BYBIT_DEPOSIT_ADDRESS", ""),
				"bitmex": getEnv("BITMEX_DEPOSIT_ADDRESS", ""),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования API ключей бирж
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// JWT_SECRET обязателен и не должен быть default значением
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required for authentication")
	}

	if c.Security.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be changed from default value in production")
	}

	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Валидация основного цикла
	if c.Bot.CheckInterval <= 0 {
		return fmt.Errorf("CHECK_INTERVAL must be positive, got %v", c.Bot.CheckInterval)
	}

	if c.Bot.CoolingPeriod < 0 {
		return fmt.Errorf("COOLING_PERIOD cannot be negative, got %v", c.Bot.CoolingPeriod)
	}

	// Валидация порогов риска
	if c.Bot.MaxRiskLevel <= 0 || c.Bot.MaxRiskLevel > 100 {
		return fmt.Errorf("MAX_RISK_LEVEL must be in (0, 100], got %v", c.Bot.MaxRiskLevel)
	}

	if c.Bot.LiquidationBuffer < 0 || c.Bot.LiquidationBuffer > 100 {
		return fmt.Errorf("LIQUIDATION_BUFFER must be in [0, 100], got %v", c.Bot.LiquidationBuffer)
	}

	if c.Bot.CapitalBuffer < 1 {
		return fmt.Errorf("CAPITAL_BUFFER must be at least 1, got %v", c.Bot.CapitalBuffer)
	}

	if c.Bot.DefaultLeverage < 1 || c.Bot.DefaultLeverage > 100 {
		return fmt.Errorf("DEFAULT_LEVERAGE must be between 1 and 100, got %d", c.Bot.DefaultLeverage)
	}

	// Валидация retry параметров
	if c.Bot.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative, got %d", c.Bot.MaxRetries)
	}

	if c.Bot.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES should not exceed 10, got %d", c.Bot.MaxRetries)
	}

	if c.Bot.MaxCloseRetries < 1 {
		return fmt.Errorf("MAX_CLOSE_RETRIES must be at least 1, got %d", c.Bot.MaxCloseRetries)
	}

	// Валидация таймаутов
	if c.Bot.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Bot.OrderTimeout)
	}

	// Валидация балансировки маржи
	if c.Margin.Threshold <= 0 || c.Margin.Threshold > 100 {
		return fmt.Errorf("MARGIN_THRESHOLD must be in (0, 100], got %v", c.Margin.Threshold)
	}

	if len(c.Margin.CheckTimes) == 0 {
		return fmt.Errorf("MARGIN_CHECK_TIMES cannot be empty")
	}

	for _, ct := range c.Margin.CheckTimes {
		if _, err := time.Parse("15:04", ct); err != nil {
			return fmt.Errorf("MARGIN_CHECK_TIMES entry %q must be in HH:MM format", ct)
		}
	}

	// Валидация SessionTimeout
	if c.Security.SessionTimeout < 60 {
		return fmt.Errorf("SESSION_TIMEOUT must be at least 60 seconds, got %d", c.Security.SessionTimeout)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
