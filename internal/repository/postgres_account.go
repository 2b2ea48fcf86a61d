package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/felipepmaragno/llm-cost-audit/internal/crypto"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
)

// PostgresAccountRepository stores accounts in the accounts table.
type PostgresAccountRepository struct {
	db *sql.DB
}

// NewPostgresAccountRepository returns a repository over db.
func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

// GetByAPIKey looks the account up by the hash of apiKey.
func (r *PostgresAccountRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Account, error) {
	query := `
		SELECT id, email, api_key_hash, enabled, created_at, updated_at
		FROM accounts
		WHERE api_key_hash = $1 AND enabled = true
	`
	return r.scanOne(ctx, query, crypto.HashAPIKey(apiKey))
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `
		SELECT id, email, api_key_hash, enabled, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	return r.scanOne(ctx, query, id)
}

func (r *PostgresAccountRepository) scanOne(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var account domain.Account
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Email,
		&account.APIKeyHash,
		&account.Enabled,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &account, nil
}

func (r *PostgresAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	if account.APIKeyHash == "" && account.APIKey != "" {
		account.APIKeyHash = crypto.HashAPIKey(account.APIKey)
	}

	query := `
		INSERT INTO accounts (id, email, api_key_hash, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.APIKeyHash,
		account.Enabled,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

func (r *PostgresAccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}
