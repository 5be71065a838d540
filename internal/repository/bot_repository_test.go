package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"fundingarb/internal/models"
)

// ============================================================
// BotRepository Tests
// ============================================================

func instanceColumns() []string {
	return []string{"bot_id", "user_id", "config_name", "status", "positions_count", "total_pnl", "last_activity", "started_at", "stopped_at"}
}

func configColumns() []string {
	return []string{"id", "user_id", "config_name", "symbol", "amount", "long_exchange", "short_exchange", "leverage", "max_risk_level", "liquidation_buffer", "margin_threshold", "created_at", "updated_at"}
}

func TestBotRepositoryGetInstance(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		userID      string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name:   "success",
			userID: "user-1",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(instanceColumns()).
					AddRow("bot-1", "user-1", "default", "running", 2, 15.5, now, now, nil)
				mock.ExpectQuery(`SELECT .+ FROM bot_instances WHERE user_id = \$1`).
					WithArgs("user-1").
					WillReturnRows(rows)
			},
			expectError: nil,
		},
		{
			name:   "not found",
			userID: "unknown",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM bot_instances WHERE user_id = \$1`).
					WithArgs("unknown").
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrBotInstanceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewBotRepository(db)
			result, err := repo.GetInstance(context.Background(), tt.userID)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if result.BotID != "bot-1" {
					t.Errorf("expected BotID=bot-1, got %s", result.BotID)
				}
				if result.PositionsCount != 2 {
					t.Errorf("expected PositionsCount=2, got %d", result.PositionsCount)
				}
				if result.StoppedAt != nil {
					t.Error("expected StoppedAt=nil for running bot")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestBotRepositorySaveInstance(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO bot_instances .+ ON CONFLICT \(user_id\) DO UPDATE`).
		WithArgs("bot-1", "user-1", "default", "running", 0, float64(0), now, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewBotRepository(db)
	err = repo.SaveInstance(context.Background(), &models.BotInstance{
		BotID:        "bot-1",
		UserID:       "user-1",
		ConfigName:   "default",
		Status:       models.BotStatusRunning,
		LastActivity: now,
		StartedAt:    now,
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBotRepositoryUpdateInstance(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		instance    *models.BotInstance
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			instance: &models.BotInstance{
				BotID:          "bot-1",
				Status:         models.BotStatusRunning,
				PositionsCount: 2,
				TotalPnl:       10.0,
				LastActivity:   now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE bot_instances SET`).
					WithArgs("running", 2, 10.0, now, nil, "bot-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: nil,
		},
		{
			name: "not found",
			instance: &models.BotInstance{
				BotID:        "missing",
				Status:       models.BotStatusStopped,
				LastActivity: now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE bot_instances SET`).
					WithArgs("stopped", 0, float64(0), now, nil, "missing").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectError: ErrBotInstanceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewBotRepository(db)
			err = repo.UpdateInstance(context.Background(), tt.instance)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestBotRepositoryListRunning(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectedLen int
	}{
		{
			name: "two running bots",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(instanceColumns()).
					AddRow("bot-1", "user-1", "default", "running", 2, 5.0, now, now, nil).
					AddRow("bot-2", "user-2", "aggressive", "running", 2, -3.0, now, now, nil)
				mock.ExpectQuery(`SELECT .+ FROM bot_instances WHERE status = \$1`).
					WithArgs("running").
					WillReturnRows(rows)
			},
			expectedLen: 2,
		},
		{
			name: "none running",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM bot_instances WHERE status = \$1`).
					WithArgs("running").
					WillReturnRows(sqlmock.NewRows(instanceColumns()))
			},
			expectedLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewBotRepository(db)
			result, err := repo.ListRunning(context.Background())

			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if len(result) != tt.expectedLen {
				t.Errorf("expected %d instances, got %d", tt.expectedLen, len(result))
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestBotRepositoryGetConfig(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		configName  string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name:       "success",
			configName: "default",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(configColumns()).
					AddRow(1, "user-1", "default", "SOLUSDT", 100.0, "bybit", "bitmex", 3, 80.0, 20.0, 20.0, now, now)
				mock.ExpectQuery(`SELECT .+ FROM bot_configs WHERE user_id = \$1 AND config_name = \$2`).
					WithArgs("user-1", "default").
					WillReturnRows(rows)
			},
			expectError: nil,
		},
		{
			name:       "not found",
			configName: "missing",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM bot_configs WHERE user_id = \$1 AND config_name = \$2`).
					WithArgs("user-1", "missing").
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrBotConfigNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewBotRepository(db)
			result, err := repo.GetConfig(context.Background(), "user-1", tt.configName)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if result.Symbol != "SOLUSDT" {
					t.Errorf("expected Symbol=SOLUSDT, got %s", result.Symbol)
				}
				if result.LongExchange != "bybit" || result.ShortExchange != "bitmex" {
					t.Errorf("expected bybit/bitmex, got %s/%s", result.LongExchange, result.ShortExchange)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestBotRepositorySaveConfig(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO bot_configs`).
					WithArgs("user-1", "default", "SOLUSDT", 100.0, "bybit", "bitmex", 3, 80.0, 20.0, 20.0, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
			},
			expectError: nil,
		},
		{
			name: "duplicate config name",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO bot_configs`).
					WithArgs("user-1", "default", "SOLUSDT", 100.0, "bybit", "bitmex", 3, 80.0, 20.0, 20.0, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnError(errors.New("duplicate key value violates unique constraint"))
			},
			expectError: ErrBotConfigExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewBotRepository(db)
			cfg := models.DefaultBotConfig("user-1")
			err = repo.SaveConfig(context.Background(), cfg)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if cfg.ID != 1 {
					t.Errorf("expected ID=1, got %d", cfg.ID)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestBotRepositoryDeleteConfig(t *testing.T) {
	tests := []struct {
		name        string
		configName  string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name:       "success",
			configName: "aggressive",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM bot_configs WHERE user_id = \$1 AND config_name = \$2`).
					WithArgs("user-1", "aggressive").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: nil,
		},
		{
			name:       "not found",
			configName: "missing",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM bot_configs WHERE user_id = \$1 AND config_name = \$2`).
					WithArgs("user-1", "missing").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectError: ErrBotConfigNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewBotRepository(db)
			err = repo.DeleteConfig(context.Background(), "user-1", tt.configName)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}
