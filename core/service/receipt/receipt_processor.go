// Package receipt runs the extraction pipeline over synced messages.
package receipt

import (
	"context"
	"strings"
	"time"

	"receipt_server/core/domain"
	"receipt_server/core/port/out"
	"receipt_server/core/service/classification"
	"receipt_server/core/service/extract"
	"receipt_server/pkg/apperr"
	"receipt_server/pkg/logger"
)

type Processor struct {
	extractor   *extract.ReceiptExtractor
	classifier  *classification.ReceiptClassifier
	receiptRepo out.ReceiptRepositoryPort
	messageRepo out.MessageRepositoryPort
}

func NewProcessor(
	extractor *extract.ReceiptExtractor,
	classifier *classification.ReceiptClassifier,
	receiptRepo out.ReceiptRepositoryPort,
	messageRepo out.MessageRepositoryPort,
) *Processor {
	return &Processor{
		extractor:   extractor,
		classifier:  classifier,
		receiptRepo: receiptRepo,
		messageRepo: messageRepo,
	}
}

// ProcessMessages derives one receipt per message: extract, classify,
// then store the whole batch. A message that fails persistence counts
// as an error in the result but never stops the batch.
func (p *Processor) ProcessMessages(ctx context.Context, accountID int64, messages []domain.Message) (*domain.ProcessResult, error) {
	result := &domain.ProcessResult{}
	if len(messages) == 0 {
		return result, nil
	}

	receipts := make([]*domain.Receipt, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		receipt := p.deriveReceipt(ctx, msg)
		result.Add(receipt.Status)
		receipts = append(receipts, receipt)
	}

	upserted, err := p.receiptRepo.UpsertMany(ctx, receipts)
	if err != nil {
		return result, apperr.DatabaseError("upsert receipts", err)
	}
	result.Errors += len(upserted.Failed)
	for _, failure := range upserted.Failed {
		logger.WithAccount(accountID).Error("[Processor.ProcessMessages] Failed to store receipt for message %s: %v",
			failure.Receipt.ProviderMessageID, failure.Err)
	}

	logger.WithAccount(accountID).Info("[Processor.ProcessMessages] Processed %d messages: %d success, %d duplicate, %d fail, %d unmatched, %d errors",
		result.Total, result.Success, result.Duplicate, result.Fail, result.Unmatched, result.Errors)
	return result, nil
}

// Reprocess replays extraction over the account's Fail and Unmatched
// receipts using the stored message bodies. The row being overwritten is
// not treated as a duplicate of itself, so a fixed extractor can promote
// old failures to Success.
func (p *Processor) Reprocess(ctx context.Context, accountID int64) (*domain.ProcessResult, error) {
	result := &domain.ProcessResult{}

	stale, err := p.receiptRepo.ListByStatus(ctx, accountID,
		[]domain.ReceiptStatus{domain.ReceiptStatusFail, domain.ReceiptStatusUnmatched})
	if err != nil {
		return nil, apperr.DatabaseError("list receipts", err)
	}

	for i := range stale {
		old := &stale[i]
		msg, err := p.messageRepo.FindByID(ctx, old.MessageID)
		if err != nil {
			logger.WithAccount(accountID).Warn("[Processor.Reprocess] Message %d missing for receipt %d: %v",
				old.MessageID, old.ID, err)
			result.Errors++
			continue
		}

		fresh := p.deriveReceiptFrom(msg, false)
		fresh.ID = old.ID
		fresh.CreatedAt = old.CreatedAt

		if err := p.receiptRepo.Update(ctx, fresh); err != nil {
			logger.WithAccount(accountID).Error("[Processor.Reprocess] Failed to update receipt %d: %v", old.ID, err)
			result.Errors++
			continue
		}
		result.Add(fresh.Status)
	}

	logger.WithAccount(accountID).Info("[Processor.Reprocess] Reprocessed %d receipts: %d success, %d fail, %d unmatched, %d errors",
		result.Total, result.Success, result.Fail, result.Unmatched, result.Errors)
	return result, nil
}

// deriveReceipt extracts and classifies against live duplicate state.
// A message that already produced a receipt classifies Duplicate; two
// distinct messages carrying the same transaction id do not.
func (p *Processor) deriveReceipt(ctx context.Context, msg *domain.Message) *domain.Receipt {
	candidate := p.extractor.Extract(msg.BodyHTML, msg.BodyPreview)

	hasExisting, err := p.receiptRepo.ExistsByMessage(ctx, msg.AccountID, msg.ProviderMessageID)
	if err != nil {
		logger.WithAccount(msg.AccountID).Warn("[Processor.deriveReceipt] Duplicate check failed for message %s: %v",
			msg.ProviderMessageID, err)
		hasExisting = false
	}

	return p.buildReceipt(msg, candidate, hasExisting)
}

// deriveReceiptFrom extracts and classifies with the duplicate answer
// supplied by the caller.
func (p *Processor) deriveReceiptFrom(msg *domain.Message, hasExisting bool) *domain.Receipt {
	candidate := p.extractor.Extract(msg.BodyHTML, msg.BodyPreview)
	return p.buildReceipt(msg, candidate, hasExisting)
}

func (p *Processor) buildReceipt(msg *domain.Message, candidate *domain.Candidate, hasExisting bool) *domain.Receipt {
	loweredBody := strings.ToLower(msg.BodyPreview + "\n" + msg.BodyHTML)
	status := p.classifier.Classify(candidate, loweredBody, hasExisting)

	now := time.Now()
	return &domain.Receipt{
		AccountID:          msg.AccountID,
		MessageID:          msg.ID,
		ProviderMessageID:  msg.ProviderMessageID,
		ReceivedAt:         msg.ReceivedAt,
		ExternalAccountRef: candidate.ExternalAccountRef,
		TransactionID:      candidate.TransactionID,
		Amount:             candidate.Amount,
		InstrumentBrand:    candidate.InstrumentBrand,
		InstrumentSuffix:   candidate.InstrumentSuffix,
		ReferenceCode:      candidate.ReferenceCode,
		Status:             status,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
