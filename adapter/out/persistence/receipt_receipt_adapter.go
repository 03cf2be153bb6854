package persistence

import (
	"context"
	"time"

	"receipt_server/core/domain"
	"receipt_server/core/port/out"
	"receipt_server/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// ReceiptAdapter implements out.ReceiptRepositoryPort using PostgreSQL.
type ReceiptAdapter struct {
	db *sqlx.DB
}

func NewReceiptAdapter(db *sqlx.DB) *ReceiptAdapter {
	return &ReceiptAdapter{db: db}
}

var _ out.ReceiptRepositoryPort = (*ReceiptAdapter)(nil)

const receiptUpsertQuery = `
	INSERT INTO receipts (account_id, message_id, provider_message_id, received_at,
	                      external_account_ref, transaction_id, amount, instrument_brand,
	                      instrument_suffix, reference_code, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	ON CONFLICT (account_id, provider_message_id) DO UPDATE
	SET external_account_ref = EXCLUDED.external_account_ref,
	    transaction_id = EXCLUDED.transaction_id,
	    amount = EXCLUDED.amount,
	    instrument_brand = EXCLUDED.instrument_brand,
	    instrument_suffix = EXCLUDED.instrument_suffix,
	    reference_code = EXCLUDED.reference_code,
	    status = EXCLUDED.status,
	    updated_at = EXCLUDED.updated_at
	RETURNING id`

// UpsertMany writes the batch inside one transaction. If the transaction
// fails it falls back to writing each receipt on its own so a single bad
// row costs only itself, not the whole batch.
func (a *ReceiptAdapter) UpsertMany(ctx context.Context, receipts []*domain.Receipt) (*out.UpsertManyResult, error) {
	result := &out.UpsertManyResult{}
	if len(receipts) == 0 {
		return result, nil
	}

	if err := a.upsertTx(ctx, receipts); err == nil {
		result.Stored = len(receipts)
		return result, nil
	} else {
		logger.Warn("[ReceiptAdapter.UpsertMany] Batch of %d failed, retrying row by row: %v", len(receipts), err)
	}

	for _, receipt := range receipts {
		if err := a.upsertOne(ctx, a.db, receipt); err != nil {
			result.Failed = append(result.Failed, out.ReceiptUpsertFailure{Receipt: receipt, Err: err})
			continue
		}
		result.Stored++
	}
	return result, nil
}

func (a *ReceiptAdapter) upsertTx(ctx context.Context, receipts []*domain.Receipt) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, receipt := range receipts {
		if err := a.upsertOne(ctx, tx, receipt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// sqlx.DB and sqlx.Tx both satisfy sqlx.QueryerContext, so upsertOne
// serves the batch path and the row-by-row fallback alike.
func (a *ReceiptAdapter) upsertOne(ctx context.Context, q sqlx.QueryerContext, receipt *domain.Receipt) error {
	now := time.Now()
	row := q.QueryRowxContext(ctx, receiptUpsertQuery,
		receipt.AccountID,
		receipt.MessageID,
		receipt.ProviderMessageID,
		receipt.ReceivedAt,
		receipt.ExternalAccountRef,
		receipt.TransactionID,
		receipt.Amount,
		receipt.InstrumentBrand,
		receipt.InstrumentSuffix,
		receipt.ReferenceCode,
		receipt.Status,
		now,
	)
	return row.Scan(&receipt.ID)
}

// Update overwrites an existing receipt row in place, used by reprocessing.
func (a *ReceiptAdapter) Update(ctx context.Context, receipt *domain.Receipt) error {
	query := `
		UPDATE receipts
		SET external_account_ref = $1, transaction_id = $2, amount = $3,
		    instrument_brand = $4, instrument_suffix = $5, reference_code = $6,
		    status = $7, updated_at = $8
		WHERE id = $9`

	result, err := a.db.ExecContext(ctx, query,
		receipt.ExternalAccountRef,
		receipt.TransactionID,
		receipt.Amount,
		receipt.InstrumentBrand,
		receipt.InstrumentSuffix,
		receipt.ReferenceCode,
		receipt.Status,
		time.Now(),
		receipt.ID,
	)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ExistsByMessage reports whether the account already holds a receipt
// derived from the message.
func (a *ReceiptAdapter) ExistsByMessage(ctx context.Context, accountID int64, providerMessageID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM receipts
			WHERE account_id = $1 AND provider_message_id = $2
		)`
	err := a.db.GetContext(ctx, &exists, query, accountID, providerMessageID)
	return exists, err
}

// ListByStatus returns the account's receipts holding any of the statuses.
func (a *ReceiptAdapter) ListByStatus(ctx context.Context, accountID int64, statuses []domain.ReceiptStatus) ([]domain.Receipt, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, account_id, message_id, provider_message_id, received_at,
		       external_account_ref, transaction_id, amount, instrument_brand,
		       instrument_suffix, reference_code, status, created_at, updated_at
		FROM receipts
		WHERE account_id = ? AND status IN (?)
		ORDER BY received_at`, accountID, statuses)
	if err != nil {
		return nil, err
	}

	var receipts []domain.Receipt
	if err := a.db.SelectContext(ctx, &receipts, a.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return receipts, nil
}

// CountByStatus returns the per-status receipt counts for an account.
func (a *ReceiptAdapter) CountByStatus(ctx context.Context, accountID int64) (map[domain.ReceiptStatus]int64, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM receipts WHERE account_id = $1 GROUP BY status`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.ReceiptStatus]int64)
	for rows.Next() {
		var (
			status domain.ReceiptStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
