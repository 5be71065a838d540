package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - настройка структурированного логирования (zap)

// InitLogger создаёт и настраивает zap logger
//
// Параметры:
//   - level: debug, info, warn, error
//   - format: json или console
//
// Возвращает сконфигурированный *zap.Logger; ошибку при неизвестном уровне
func InitLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if strings.ToLower(format) == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.Encoding = "json"
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// MustInitLogger как InitLogger, но паникует при ошибке
// Используется в main при старте, когда без логгера продолжать нельзя
func MustInitLogger(level, format string) *zap.Logger {
	logger, err := InitLogger(level, format)
	if err != nil {
		panic(err)
	}
	return logger
}
