// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"receipt_server/core/domain"
)

// =============================================================================
// Persistence Ports
// =============================================================================

// AccountRepositoryPort reads the mailbox accounts eligible for sync.
type AccountRepositoryPort interface {
	FindByID(ctx context.Context, accountID int64) (*domain.Account, error)
	FindActive(ctx context.Context) ([]domain.Account, error)
}

// CredentialRepositoryPort stores OAuth credentials per account.
type CredentialRepositoryPort interface {
	FindByAccountID(ctx context.Context, accountID int64) (*domain.Credential, error)
	// UpdateTokens replaces the token material of the account's active
	// credential row.
	UpdateTokens(ctx context.Context, cred *domain.Credential) error
}

// UpsertOutcome tells a caller whether an idempotent write created a new
// row or touched an existing one.
type UpsertOutcome string

const (
	UpsertInserted UpsertOutcome = "inserted"
	UpsertUpdated  UpsertOutcome = "updated"
)

// MessageRepositoryPort persists synced messages idempotently on
// (account_id, provider_message_id).
type MessageRepositoryPort interface {
	Upsert(ctx context.Context, msg *domain.Message) (UpsertOutcome, error)
	FindByID(ctx context.Context, messageID int64) (*domain.Message, error)
	CountByAccount(ctx context.Context, accountID int64) (int64, error)
}

// UpsertManyResult reports a batch receipt write. Failed carries the rows
// that could not be stored even by the row-by-row fallback.
type UpsertManyResult struct {
	Stored int
	Failed []ReceiptUpsertFailure
}

// ReceiptUpsertFailure pairs a receipt with the error that kept it out
// of storage.
type ReceiptUpsertFailure struct {
	Receipt *domain.Receipt
	Err     error
}

// ReceiptRepositoryPort persists extraction results, one row per message.
type ReceiptRepositoryPort interface {
	// UpsertMany writes a batch in one transaction. When the batch fails
	// it retries row by row so one bad row never sinks the rest.
	UpsertMany(ctx context.Context, receipts []*domain.Receipt) (*UpsertManyResult, error)
	Update(ctx context.Context, receipt *domain.Receipt) error
	ExistsByMessage(ctx context.Context, accountID int64, providerMessageID string) (bool, error)
	ListByStatus(ctx context.Context, accountID int64, statuses []domain.ReceiptStatus) ([]domain.Receipt, error)
	CountByStatus(ctx context.Context, accountID int64) (map[domain.ReceiptStatus]int64, error)
}
