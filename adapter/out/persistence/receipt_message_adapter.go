package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"receipt_server/core/domain"
	"receipt_server/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// MessageAdapter implements out.MessageRepositoryPort using PostgreSQL.
type MessageAdapter struct {
	db *sqlx.DB
}

func NewMessageAdapter(db *sqlx.DB) *MessageAdapter {
	return &MessageAdapter{db: db}
}

var _ out.MessageRepositoryPort = (*MessageAdapter)(nil)

// Upsert writes a message idempotently on (account_id, provider_message_id).
// A conflicting row only refreshes its bookkeeping columns (read flag,
// categories); the bodies of the first sync win. The xmax trick tells the
// caller whether the row was new, so extraction runs exactly once per message.
func (a *MessageAdapter) Upsert(ctx context.Context, msg *domain.Message) (out.UpsertOutcome, error) {
	query := `
		INSERT INTO messages (account_id, provider_message_id, subject, from_email, from_name,
		                      received_at, is_read, has_attachments, body_preview, body_html,
		                      categories, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (account_id, provider_message_id) DO UPDATE
		SET is_read = EXCLUDED.is_read,
		    categories = EXCLUDED.categories,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS inserted`

	now := time.Now()
	var (
		id       int64
		inserted bool
	)
	err := a.db.QueryRowContext(ctx, query,
		msg.AccountID,
		msg.ProviderMessageID,
		msg.Subject,
		msg.FromAddress,
		msg.FromName,
		msg.ReceivedAt,
		msg.IsRead,
		msg.HasAttachments,
		msg.BodyPreview,
		msg.BodyHTML,
		pq.Array(msg.Categories),
		now,
	).Scan(&id, &inserted)
	if err != nil {
		return "", err
	}

	msg.ID = id
	if inserted {
		return out.UpsertInserted, nil
	}
	return out.UpsertUpdated, nil
}

// FindByID returns one message with its categories.
func (a *MessageAdapter) FindByID(ctx context.Context, messageID int64) (*domain.Message, error) {
	query := `
		SELECT id, account_id, provider_message_id, subject, from_email, from_name,
		       received_at, is_read, has_attachments, body_preview, body_html,
		       categories, created_at, updated_at
		FROM messages
		WHERE id = $1`

	msg, err := a.scanMessage(a.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// CountByAccount returns the number of stored messages for an account.
func (a *MessageAdapter) CountByAccount(ctx context.Context, accountID int64) (int64, error) {
	var count int64
	err := a.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE account_id = $1`, accountID)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (a *MessageAdapter) scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	err := row.Scan(
		&msg.ID,
		&msg.AccountID,
		&msg.ProviderMessageID,
		&msg.Subject,
		&msg.FromAddress,
		&msg.FromName,
		&msg.ReceivedAt,
		&msg.IsRead,
		&msg.HasAttachments,
		&msg.BodyPreview,
		&msg.BodyHTML,
		pq.Array(&msg.Categories),
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
