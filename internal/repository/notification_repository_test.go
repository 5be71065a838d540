package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"fundingarb/internal/models"
)

// ============================================================
// NotificationRepository Tests
// ============================================================

func TestNotificationRepositoryCreate(t *testing.T) {
	tests := []struct {
		name         string
		notification *models.Notification
		mockSetup    func(mock sqlmock.Sqlmock)
		expectError  bool
	}{
		{
			name: "success with meta",
			notification: &models.Notification{
				UserID:   "user-1",
				Type:     models.NotificationTypeOpen,
				Severity: models.SeverityInfo,
				BotID:    "bot_abc",
				Message:  "📈 Пара SOLUSDT открыта",
				Meta:     map[string]interface{}{"symbol": "SOLUSDT"},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
					WithArgs("user-1", sqlmock.AnyArg(), models.NotificationTypeOpen, models.SeverityInfo, "bot_abc", "📈 Пара SOLUSDT открыта", sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
			},
			expectError: false,
		},
		{
			name: "database error",
			notification: &models.Notification{
				UserID:   "user-1",
				Type:     models.NotificationTypeError,
				Severity: models.SeverityError,
				Message:  "что-то пошло не так",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
					WillReturnError(errors.New("connection refused"))
			},
			expectError: true,
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

			repo := NewNotificationRepository(db)
			err = repo.Create(context.Background(), tt.notification)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tt.notification.ID != 5 {
					t.Errorf("expected ID=5, got %d", tt.notification.ID)
				}
				if tt.notification.Timestamp.IsZero() {
					t.Error("expected Timestamp to be set")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestNotificationRepositoryGetRecentByUser(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	columns := []string{"id", "user_id", "timestamp", "type", "severity", "bot_id", "message", "meta"}
	rows := sqlmock.NewRows(columns).
		AddRow(2, "user-1", now, models.NotificationTypeEmergencyClose, models.SeverityError, "bot_abc", "🚨 Аварийное закрытие", []byte(`{"symbol":"SOLUSDT","closed_count":2}`)).
		AddRow(1, "user-1", now.Add(-time.Minute), models.NotificationTypeOpen, models.SeverityInfo, "bot_abc", "📈 Пара открыта", []byte(`{}`))
	mock.ExpectQuery(`SELECT .+ FROM notifications WHERE user_id = \$1 ORDER BY timestamp DESC LIMIT \$2`).
		WithArgs("user-1", 50).
		WillReturnRows(rows)

	repo := NewNotificationRepository(db)
	result, err := repo.GetRecentByUser(context.Background(), "user-1", 50)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(result))
	}
	if result[0].Type != models.NotificationTypeEmergencyClose {
		t.Errorf("expected type %s, got %s", models.NotificationTypeEmergencyClose, result[0].Type)
	}
	if result[0].Meta["symbol"] != "SOLUSDT" {
		t.Errorf("expected meta symbol SOLUSDT, got %v", result[0].Meta["symbol"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNotificationRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM notifications WHERE timestamp < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	repo := NewNotificationRepository(db)
	deleted, err := repo.DeleteOlderThan(context.Background(), cutoff)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 17 {
		t.Errorf("expected 17 deleted, got %d", deleted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
