// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"

	"receipt_server/core/domain"
)

// CredentialServicePort manages the OAuth credential lifecycle.
type CredentialServicePort interface {
	// GetValid returns a credential whose access token is usable now,
	// refreshing it first when expired or about to expire.
	GetValid(ctx context.Context, accountID int64) (*domain.Credential, error)
	// Refresh force-refreshes the credential for an account.
	Refresh(ctx context.Context, accountID int64) (*domain.Credential, error)
	// RefreshAll refreshes every active account, returning per-account errors.
	RefreshAll(ctx context.Context) map[int64]error
}

// SyncServicePort drives mailbox synchronization.
type SyncServicePort interface {
	SyncWindow(ctx context.Context, accountID int64, window domain.SyncWindow) (*domain.WindowResult, error)
	// BackfillAccount covers the trailing N days as single-day windows,
	// oldest first, continuing past per-day failures.
	BackfillAccount(ctx context.Context, accountID int64, days int) (*domain.BackfillResult, error)
	// SyncDaily covers today's window for one account.
	SyncDaily(ctx context.Context, accountID int64) (*domain.WindowResult, error)
}

// ReceiptProcessorPort runs extraction and classification over messages.
type ReceiptProcessorPort interface {
	ProcessMessages(ctx context.Context, accountID int64, messages []domain.Message) (*domain.ProcessResult, error)
	// Reprocess replays extraction over the account's Fail and
	// Unmatched receipts from their stored message bodies.
	Reprocess(ctx context.Context, accountID int64) (*domain.ProcessResult, error)
}

// SchedulerStatus is a point-in-time snapshot of the background loop.
type SchedulerStatus struct {
	Running         bool                               `json:"running"`
	PendingBackfill []int64                            `json:"pending_backfill"`
	LastDailyDate   string                             `json:"last_daily_date"`
	LastResults     map[int64]domain.AccountSyncResult `json:"last_results"`
}

// SyncSchedulerPort controls the background sync loop.
type SyncSchedulerPort interface {
	Start()
	Stop()
	// EnqueueBackfill marks an account for backfill on the next tick.
	EnqueueBackfill(accountID int64)
	Status() SchedulerStatus
}
