// Package mailsync pulls receipt mail from the provider into storage and
// hands freshly inserted messages to the extraction pipeline.
package mailsync

import (
	"context"
	"fmt"
	"time"

	"receipt_server/core/domain"
	"receipt_server/core/port/in"
	"receipt_server/core/port/out"
	"receipt_server/pkg/logger"
)

type SyncService struct {
	credentials in.CredentialServicePort
	provider    out.MailboxProviderPort
	messageRepo out.MessageRepositoryPort
	processor   in.ReceiptProcessorPort
	pageSize    int
}

func NewSyncService(
	credentials in.CredentialServicePort,
	provider out.MailboxProviderPort,
	messageRepo out.MessageRepositoryPort,
	processor in.ReceiptProcessorPort,
	pageSize int,
) *SyncService {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &SyncService{
		credentials: credentials,
		provider:    provider,
		messageRepo: messageRepo,
		processor:   processor,
		pageSize:    pageSize,
	}
}

var _ in.SyncServicePort = (*SyncService)(nil)

// SyncWindow covers one date window for an account: list from the
// provider, persist the receipt-subject messages idempotently, then run
// extraction over the messages that were actually new. Replays of an
// already-covered window insert nothing and therefore derive nothing.
func (s *SyncService) SyncWindow(ctx context.Context, accountID int64, window domain.SyncWindow) (*domain.WindowResult, error) {
	result := &domain.WindowResult{AccountID: accountID, Window: window}

	cred, err := s.credentials.GetValid(ctx, accountID)
	if err != nil {
		return nil, err
	}

	page, err := s.provider.ListMessages(ctx, cred.AccessToken, out.ListWindow{
		From: window.From,
		To:   window.To,
	}, s.pageSize)
	if err != nil {
		return nil, err
	}
	result.Fetched = len(page.Messages)

	var fresh []domain.Message
	for _, pm := range page.Messages {
		if !domain.IsReceiptSubject(pm.Subject) {
			continue
		}
		result.Matched++

		msg := &domain.Message{
			AccountID:         accountID,
			ProviderMessageID: pm.ProviderMessageID,
			Subject:           pm.Subject,
			FromAddress:       pm.FromAddress,
			FromName:          pm.FromName,
			ReceivedAt:        pm.ReceivedAt,
			IsRead:            pm.IsRead,
			HasAttachments:    pm.HasAttachments,
			BodyPreview:       pm.BodyPreview,
			BodyHTML:          pm.BodyHTML,
			Categories:        pm.Categories,
		}

		outcome, err := s.messageRepo.Upsert(ctx, msg)
		if err != nil {
			logger.WithAccount(accountID).Error("[SyncService.SyncWindow] Upsert failed for message %s: %v",
				pm.ProviderMessageID, err)
			result.Processed.Errors++
			continue
		}
		if outcome == out.UpsertInserted {
			result.Inserted++
			fresh = append(fresh, *msg)
		} else {
			result.Updated++
		}
	}

	processed, err := s.processor.ProcessMessages(ctx, accountID, fresh)
	if err != nil {
		return result, err
	}
	processed.Errors += result.Processed.Errors
	result.Processed = *processed

	logger.WithAccount(accountID).Info("[SyncService.SyncWindow] Window %s..%s: fetched %d, matched %d, inserted %d, updated %d",
		window.From.Format("2006-01-02"), window.To.Format("2006-01-02"),
		result.Fetched, result.Matched, result.Inserted, result.Updated)
	return result, nil
}

// BackfillAccount re-covers the trailing days of the mailbox as
// single-day windows, oldest first. A failed day does not stop the run;
// the aggregate error tells the scheduler to keep the account queued so
// a later pass re-covers the gap idempotently.
func (s *SyncService) BackfillAccount(ctx context.Context, accountID int64, days int) (*domain.BackfillResult, error) {
	if days <= 0 {
		days = 30
	}

	result := &domain.BackfillResult{
		AccountID: accountID,
		Days:      days,
		StartedAt: time.Now(),
	}

	today := utcDate(time.Now())
	for offset := days; offset >= 0; offset-- {
		day := today.AddDate(0, 0, -offset)
		window := domain.SyncWindow{From: day, To: day}

		wr, err := s.SyncWindow(ctx, accountID, window)
		if err != nil {
			logger.WithAccount(accountID).Warn("[SyncService.BackfillAccount] Day %s failed: %v",
				day.Format("2006-01-02"), err)
			result.FailedDays++
			continue
		}
		result.Windows = append(result.Windows, *wr)
	}
	result.FinishedAt = time.Now()

	if result.FailedDays > 0 {
		return result, fmt.Errorf("backfill account %d: %d of %d day windows failed",
			accountID, result.FailedDays, days+1)
	}
	return result, nil
}

// SyncDaily covers the yesterday-to-today window, wide enough to absorb
// timezone drift around midnight.
func (s *SyncService) SyncDaily(ctx context.Context, accountID int64) (*domain.WindowResult, error) {
	today := utcDate(time.Now())
	return s.SyncWindow(ctx, accountID, domain.SyncWindow{
		From: today.AddDate(0, 0, -1),
		To:   today,
	})
}

// utcDate truncates a time to its UTC calendar date.
func utcDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
