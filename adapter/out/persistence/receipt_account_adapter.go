// Package persistence provides database adapters.
package persistence

import (
	"context"
	"database/sql"
	"errors"

	"receipt_server/core/domain"
	"receipt_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// AccountAdapter implements out.AccountRepositoryPort using PostgreSQL.
type AccountAdapter struct {
	db *sqlx.DB
}

func NewAccountAdapter(db *sqlx.DB) *AccountAdapter {
	return &AccountAdapter{db: db}
}

var _ out.AccountRepositoryPort = (*AccountAdapter)(nil)

// FindByID returns one account by primary key.
func (a *AccountAdapter) FindByID(ctx context.Context, accountID int64) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT id, email, display_name, provider, is_active, created_at, updated_at
		FROM accounts
		WHERE id = $1`

	if err := a.db.GetContext(ctx, &account, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindActive returns every account eligible for sync.
func (a *AccountAdapter) FindActive(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	query := `
		SELECT id, email, display_name, provider, is_active, created_at, updated_at
		FROM accounts
		WHERE is_active = true
		ORDER BY id`

	if err := a.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, err
	}
	return accounts, nil
}
