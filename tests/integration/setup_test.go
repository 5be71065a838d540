//go:build integration

// Package integration contains integration tests for the funding arbitrage bot.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle with token auth
// - WebSocket tests: connection, per-user message routing
// - Database tests: repository round-trips against a real Postgres
//
// Integration tests use build tag "integration" to separate from unit tests.
// Run with: go test -tags=integration ./tests/integration/...
//
// Tests are skipped when the test database is unreachable.
package integration

import (
	"database/sql"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"fundingarb/internal/api"
	"fundingarb/internal/bot"
	"fundingarb/internal/config"
	"fundingarb/internal/repository"
	"fundingarb/internal/service"
	"fundingarb/internal/websocket"
	"fundingarb/pkg/crypto"
)

const (
	testJWTSecret     = "integration-test-jwt-secret-0123456789"
	testEncryptionKey = "0123456789abcdef0123456789abcdef" // ровно 32 байта
	testPassword      = "integration-test-password"
)

// TestConfig contains database configuration for integration tests
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestRepositories contains all repository instances for testing
type TestRepositories struct {
	Exchange     *repository.ExchangeRepository
	Bot          *repository.BotRepository
	Position     *repository.PositionRepository
	RiskEvent    *repository.RiskEventRepository
	MarginLog    *repository.MarginLogRepository
	Notification *repository.NotificationRepository
}

// TestServices contains all service instances for testing
type TestServices struct {
	Exchange     *service.ExchangeService
	Bot          *service.BotService
	Notification *service.NotificationService
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	DB       *sql.DB
	Router   *mux.Router
	Server   *httptest.Server
	Hub      *websocket.Hub
	Engine   *bot.Engine
	Repos    *TestRepositories
	Services *TestServices
	Cleanup  func()
}

// getTestConfig returns configuration from environment variables or defaults
func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "fundingarb_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// testBotConfig returns engine defaults suitable for tests
func testBotConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{
			CheckInterval:     10 * time.Second,
			CoolingPeriod:     5 * time.Second,
			MaxRiskLevel:      80,
			LiquidationBuffer: 20,
			CapitalBuffer:     1.5,
			DefaultLeverage:   3,
			MaxRetries:        2,
			RetryBackoff:      10 * time.Millisecond,
			OrderTimeout:      time.Second,
			MaxCloseRetries:   2,
		},
		Margin: config.MarginConfig{
			Threshold:  20,
			CheckTimes: []string{"00:00", "12:00"},
		},
	}
}

// SetupTestDB creates a test database connection
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	cfg := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)

	db, err := sql.Open(cfg.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	cleanup := func() {
		db.Close()
	}

	return db, cleanup
}

// SetupTestServer creates a complete test server with all components
func SetupTestServer(t *testing.T) *TestServer {
	t.Helper()

	db, dbCleanup := SetupTestDB(t)
	if db == nil {
		return nil
	}

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
		return nil
	}

	logger := zap.NewNop()

	hub := websocket.NewHub(logger)
	go hub.Run()

	repos := &TestRepositories{
		Exchange:     repository.NewExchangeRepository(db),
		Bot:          repository.NewBotRepository(db),
		Position:     repository.NewPositionRepository(db),
		RiskEvent:    repository.NewRiskEventRepository(db),
		MarginLog:    repository.NewMarginLogRepository(db),
		Notification: repository.NewNotificationRepository(db),
	}

	exchangeSvc := service.NewExchangeService(repos.Exchange, testEncryptionKey, logger)
	exchangeSvc.SetWebSocketHub(hub)

	engine := bot.NewEngine(
		testBotConfig(),
		exchangeSvc,
		repos.Bot,
		repos.Position,
		repos.RiskEvent,
		repos.MarginLog,
		repos.Notification,
		hub,
		logger,
	)

	botSvc := service.NewBotService(engine, repos.Bot, repos.Position, repos.RiskEvent, repos.MarginLog, logger)

	notificationSvc := service.NewNotificationService(repos.Notification)
	notificationSvc.SetWebSocketHub(hub)

	services := &TestServices{
		Exchange:     exchangeSvc,
		Bot:          botSvc,
		Notification: notificationSvc,
	}

	passwordHash, err := crypto.HashPasswordWithCost(testPassword, 4)
	if err != nil {
		t.Fatalf("failed to hash test password: %v", err)
	}

	deps := &api.Dependencies{
		BotService:          botSvc,
		ExchangeService:     exchangeSvc,
		NotificationService: notificationSvc,
		Hub:                 hub,
		JWTSecret:           testJWTSecret,
		PasswordHash:        passwordHash,
		SessionTimeout:      time.Hour,
		Logger:              logger,
	}
	router := api.SetupRoutes(deps)

	server := httptest.NewServer(router)

	cleanup := func() {
		server.Close()
		hub.Stop()
		exchangeSvc.Close()
		cleanupTestTables(db)
		dbCleanup()
	}

	return &TestServer{
		DB:       db,
		Router:   router,
		Server:   server,
		Hub:      hub,
		Engine:   engine,
		Repos:    repos,
		Services: services,
		Cleanup:  cleanup,
	}
}

// initTestTables creates or truncates tables for testing
func initTestTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS exchange_accounts (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			name VARCHAR(50) NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			secret_key TEXT NOT NULL DEFAULT '',
			connected BOOLEAN DEFAULT false,
			balance DECIMAL(20, 8) DEFAULT 0,
			last_error TEXT DEFAULT '',
			updated_at TIMESTAMP DEFAULT NOW(),
			created_at TIMESTAMP DEFAULT NOW(),
			UNIQUE (user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS bot_instances (
			bot_id VARCHAR(100) PRIMARY KEY,
			user_id VARCHAR(100) UNIQUE NOT NULL,
			config_name VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			positions_count INT DEFAULT 0,
			total_pnl DECIMAL(20, 8) DEFAULT 0,
			last_activity TIMESTAMP DEFAULT NOW(),
			started_at TIMESTAMP DEFAULT NOW(),
			stopped_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS bot_configs (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			config_name VARCHAR(100) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			amount DECIMAL(20, 8) NOT NULL,
			long_exchange VARCHAR(50) NOT NULL,
			short_exchange VARCHAR(50) NOT NULL,
			leverage INT NOT NULL,
			max_risk_level DECIMAL(5, 2) NOT NULL,
			liquidation_buffer DECIMAL(5, 2) NOT NULL,
			margin_threshold DECIMAL(5, 2) NOT NULL,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW(),
			UNIQUE (user_id, config_name)
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			position_id VARCHAR(100) PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			bot_id VARCHAR(100) NOT NULL,
			exchange VARCHAR(50) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			liquidation_price DECIMAL(20, 8) DEFAULT 0,
			current_price DECIMAL(20, 8) DEFAULT 0,
			risk_level DECIMAL(5, 2) DEFAULT 0,
			margin DECIMAL(20, 8) DEFAULT 0,
			leverage INT NOT NULL,
			status VARCHAR(20) NOT NULL,
			exit_price DECIMAL(20, 8) DEFAULT 0,
			realized_pnl DECIMAL(20, 8) DEFAULT 0,
			opened_at TIMESTAMP DEFAULT NOW(),
			closed_at TIMESTAMP,
			last_updated TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			event_type VARCHAR(50) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			data JSONB DEFAULT '{}',
			timestamp TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS margin_balance_logs (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			from_exchange VARCHAR(50) NOT NULL,
			to_exchange VARCHAR(50) NOT NULL,
			amount DECIMAL(20, 8) NOT NULL,
			source_margin DECIMAL(20, 8) DEFAULT 0,
			target_margin DECIMAL(20, 8) DEFAULT 0,
			success BOOLEAN DEFAULT false,
			step_failed VARCHAR(50) DEFAULT '',
			error TEXT DEFAULT '',
			timestamp TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			timestamp TIMESTAMP DEFAULT NOW(),
			type VARCHAR(50) NOT NULL,
			severity VARCHAR(10) DEFAULT 'info',
			bot_id VARCHAR(100) DEFAULT '',
			message TEXT NOT NULL,
			meta JSONB DEFAULT '{}'
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	cleanupTestTables(db)
	return nil
}

// cleanupTestTables truncates all test tables
func cleanupTestTables(db *sql.DB) {
	tables := []string{
		"notifications",
		"margin_balance_logs",
		"risk_events",
		"positions",
		"bot_configs",
		"bot_instances",
		"exchange_accounts",
	}

	for _, table := range tables {
		db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
	}
}
