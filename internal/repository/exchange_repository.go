package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fundingarb/internal/models"
)

// Ошибки репозитория бирж
var (
	ErrExchangeNotFound = errors.New("exchange account not found")
	ErrExchangeExists   = errors.New("exchange account already exists")
)

// ExchangeRepository - работа с таблицей exchange_accounts
//
// API ключи хранятся зашифрованными, расшифровка выполняется на
// уровне сервиса при создании шлюза.
type ExchangeRepository struct {
	db *sql.DB
}

// NewExchangeRepository создает новый экземпляр репозитория
func NewExchangeRepository(db *sql.DB) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

// Create создает новый аккаунт биржи пользователя
func (r *ExchangeRepository) Create(ctx context.Context, acc *models.ExchangeAccount) error {
	query := `
		INSERT INTO exchange_accounts (user_id, name, api_key, secret_key, connected, balance, last_error, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now

	err := r.db.QueryRowContext(
		ctx,
		query,
		acc.UserID,
		acc.Name,
		acc.APIKey,
		acc.SecretKey,
		acc.Connected,
		acc.Balance,
		acc.LastError,
		acc.UpdatedAt,
		acc.CreatedAt,
	).Scan(&acc.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrExchangeExists
		}
		return err
	}
	return nil
}

// GetByUserAndName возвращает аккаунт биржи пользователя
func (r *ExchangeRepository) GetByUserAndName(ctx context.Context, userID, name string) (*models.ExchangeAccount, error) {
	query := selectExchangeAccounts + ` WHERE user_id = $1 AND name = $2`

	acc, err := scanExchangeAccount(r.db.QueryRowContext(ctx, query, userID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExchangeNotFound
		}
		return nil, err
	}
	return acc, nil
}

// GetByUser возвращает все аккаунты бирж пользователя
func (r *ExchangeRepository) GetByUser(ctx context.Context, userID string) ([]*models.ExchangeAccount, error) {
	query := selectExchangeAccounts + ` WHERE user_id = $1 ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.ExchangeAccount
	for rows.Next() {
		acc, err := scanExchangeAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateKeys обновляет API ключи аккаунта
func (r *ExchangeRepository) UpdateKeys(ctx context.Context, userID, name, apiKey, secretKey string) error {
	query := `
		UPDATE exchange_accounts
		SET api_key = $1, secret_key = $2, updated_at = $3
		WHERE user_id = $4 AND name = $5`

	result, err := r.db.ExecContext(ctx, query, apiKey, secretKey, time.Now().UTC(), userID, name)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrExchangeNotFound)
}

// UpdateBalance обновляет закешированный баланс аккаунта
func (r *ExchangeRepository) UpdateBalance(ctx context.Context, userID, name string, balance float64) error {
	query := `
		UPDATE exchange_accounts
		SET balance = $1, updated_at = $2
		WHERE user_id = $3 AND name = $4`

	result, err := r.db.ExecContext(ctx, query, balance, time.Now().UTC(), userID, name)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrExchangeNotFound)
}

// SetConnected обновляет флаг подключения
func (r *ExchangeRepository) SetConnected(ctx context.Context, userID, name string, connected bool) error {
	query := `
		UPDATE exchange_accounts
		SET connected = $1, updated_at = $2
		WHERE user_id = $3 AND name = $4`

	result, err := r.db.ExecContext(ctx, query, connected, time.Now().UTC(), userID, name)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrExchangeNotFound)
}

// SetLastError сохраняет последнюю ошибку API биржи
func (r *ExchangeRepository) SetLastError(ctx context.Context, userID, name, lastError string) error {
	query := `
		UPDATE exchange_accounts
		SET last_error = $1, updated_at = $2
		WHERE user_id = $3 AND name = $4`

	result, err := r.db.ExecContext(ctx, query, lastError, time.Now().UTC(), userID, name)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrExchangeNotFound)
}

// Delete удаляет аккаунт биржи пользователя
func (r *ExchangeRepository) Delete(ctx context.Context, userID, name string) error {
	query := `DELETE FROM exchange_accounts WHERE user_id = $1 AND name = $2`

	result, err := r.db.ExecContext(ctx, query, userID, name)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrExchangeNotFound)
}

const selectExchangeAccounts = `
	SELECT id, user_id, name, api_key, secret_key, connected, balance, last_error, updated_at, created_at
	FROM exchange_accounts`

func scanExchangeAccount(row rowScanner) (*models.ExchangeAccount, error) {
	acc := &models.ExchangeAccount{}
	err := row.Scan(
		&acc.ID,
		&acc.UserID,
		&acc.Name,
		&acc.APIKey,
		&acc.SecretKey,
		&acc.Connected,
		&acc.Balance,
		&acc.LastError,
		&acc.UpdatedAt,
		&acc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return acc, nil
}
