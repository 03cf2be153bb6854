package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"receipt_server/core/domain"
	"receipt_server/core/port/out"
	"receipt_server/pkg/crypto"
	"receipt_server/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// CredentialAdapter implements out.CredentialRepositoryPort using
// PostgreSQL. Token columns are encrypted at rest when an encryption key
// is configured.
type CredentialAdapter struct {
	db                *sqlx.DB
	encryptionEnabled bool
}

func NewCredentialAdapter(db *sqlx.DB) *CredentialAdapter {
	err := crypto.Init()
	encryptionEnabled := err == nil
	if !encryptionEnabled {
		logger.Warn("Token encryption disabled: %v", err)
	} else {
		logger.Info("Token encryption enabled")
	}

	return &CredentialAdapter{
		db:                db,
		encryptionEnabled: encryptionEnabled,
	}
}

var _ out.CredentialRepositoryPort = (*CredentialAdapter)(nil)

func (a *CredentialAdapter) encryptToken(token string) string {
	if !a.encryptionEnabled || token == "" {
		return token
	}
	encrypted, err := crypto.EncryptToken(token)
	if err != nil {
		logger.Warn("Failed to encrypt token: %v", err)
		return token
	}
	return encrypted
}

// decryptToken handles legacy plaintext rows by returning them as-is.
func (a *CredentialAdapter) decryptToken(token string) string {
	if token == "" || !crypto.IsEncrypted(token) {
		return token
	}
	decrypted, err := crypto.DecryptToken(token)
	if err != nil {
		return token
	}
	return decrypted
}

// FindByAccountID returns the account's active credential row.
func (a *CredentialAdapter) FindByAccountID(ctx context.Context, accountID int64) (*domain.Credential, error) {
	var cred domain.Credential
	query := `
		SELECT id, account_id, access_token, refresh_token, token_type, expires_at, updated_at
		FROM credentials
		WHERE account_id = $1 AND is_active = true
		ORDER BY updated_at DESC
		LIMIT 1`

	if err := a.db.GetContext(ctx, &cred, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	cred.AccessToken = a.decryptToken(cred.AccessToken)
	cred.RefreshToken = a.decryptToken(cred.RefreshToken)
	return &cred, nil
}

// UpdateTokens overwrites the token fields of the credential row. The
// row itself is the account's single mutable credential slot; refresh
// never inserts.
func (a *CredentialAdapter) UpdateTokens(ctx context.Context, cred *domain.Credential) error {
	query := `
		UPDATE credentials
		SET access_token = $1, refresh_token = $2, token_type = $3, expires_at = $4, updated_at = $5
		WHERE id = $6`

	result, err := a.db.ExecContext(ctx, query,
		a.encryptToken(cred.AccessToken),
		a.encryptToken(cred.RefreshToken),
		cred.TokenType,
		cred.ExpiresAt,
		time.Now(),
		cred.ID,
	)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}
