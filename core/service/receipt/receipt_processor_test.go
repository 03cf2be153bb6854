package receipt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"receipt_server/core/domain"
	"receipt_server/core/port/out"
	"receipt_server/core/service/classification"
	"receipt_server/core/service/extract"
)

type fakeReceiptRepo struct {
	stored  map[string]*domain.Receipt // keyed by provider message id
	updates []*domain.Receipt
	failFor map[string]error // provider message ids that refuse to store
}

func newFakeReceiptRepo() *fakeReceiptRepo {
	return &fakeReceiptRepo{
		stored:  make(map[string]*domain.Receipt),
		failFor: make(map[string]error),
	}
}

func (f *fakeReceiptRepo) UpsertMany(ctx context.Context, receipts []*domain.Receipt) (*out.UpsertManyResult, error) {
	result := &out.UpsertManyResult{}
	for _, r := range receipts {
		if err, ok := f.failFor[r.ProviderMessageID]; ok {
			result.Failed = append(result.Failed, out.ReceiptUpsertFailure{Receipt: r, Err: err})
			continue
		}
		f.stored[r.ProviderMessageID] = r
		result.Stored++
	}
	return result, nil
}

func (f *fakeReceiptRepo) Update(ctx context.Context, receipt *domain.Receipt) error {
	f.updates = append(f.updates, receipt)
	f.stored[receipt.ProviderMessageID] = receipt
	return nil
}

func (f *fakeReceiptRepo) ExistsByMessage(ctx context.Context, accountID int64, providerMessageID string) (bool, error) {
	_, ok := f.stored[providerMessageID]
	return ok, nil
}

func (f *fakeReceiptRepo) ListByStatus(ctx context.Context, accountID int64, statuses []domain.ReceiptStatus) ([]domain.Receipt, error) {
	var result []domain.Receipt
	for _, r := range f.stored {
		for _, s := range statuses {
			if r.Status == s {
				result = append(result, *r)
				break
			}
		}
	}
	return result, nil
}

func (f *fakeReceiptRepo) CountByStatus(ctx context.Context, accountID int64) (map[domain.ReceiptStatus]int64, error) {
	counts := make(map[domain.ReceiptStatus]int64)
	for _, r := range f.stored {
		counts[r.Status]++
	}
	return counts, nil
}

type fakeMessageRepo struct {
	byID map[int64]*domain.Message
}

func (f *fakeMessageRepo) Upsert(ctx context.Context, msg *domain.Message) (out.UpsertOutcome, error) {
	return out.UpsertInserted, nil
}

func (f *fakeMessageRepo) FindByID(ctx context.Context, messageID int64) (*domain.Message, error) {
	msg, ok := f.byID[messageID]
	if !ok {
		return nil, fmt.Errorf("message %d not found", messageID)
	}
	return msg, nil
}

func (f *fakeMessageRepo) CountByAccount(ctx context.Context, accountID int64) (int64, error) {
	return int64(len(f.byID)), nil
}

func newTestProcessor(receiptRepo *fakeReceiptRepo, messageRepo *fakeMessageRepo) *Processor {
	return NewProcessor(
		extract.NewReceiptExtractor(),
		classification.NewReceiptClassifier(),
		receiptRepo,
		messageRepo,
	)
}

func receiptMessage(id int64, providerID, transactionID string) domain.Message {
	return domain.Message{
		ID:                id,
		AccountID:         1,
		ProviderMessageID: providerID,
		Subject:           "Your Meta ads receipt",
		ReceivedAt:        time.Now(),
		BodyPreview:       "Transaction for\nAcct (1234567890)\nTransaction ID\n" + transactionID,
		BodyHTML:          `<div>$7.00 USD</div><div>Visa · 1582</div>`,
	}
}

func TestProcessMessagesDerivesOneReceiptPerMessage(t *testing.T) {
	receiptRepo := newFakeReceiptRepo()
	p := newTestProcessor(receiptRepo, &fakeMessageRepo{})

	messages := []domain.Message{
		receiptMessage(1, "m-1", "1234567890-111"),
		receiptMessage(2, "m-2", "1234567890-222"),
	}

	result, err := p.ProcessMessages(context.Background(), 1, messages)
	if err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	if result.Total != 2 || result.Success != 2 {
		t.Errorf("result = %+v, want 2 total 2 success", result)
	}
	if len(receiptRepo.stored) != 2 {
		t.Errorf("stored = %d receipts, want 2", len(receiptRepo.stored))
	}

	r := receiptRepo.stored["m-1"]
	if r.TransactionID != "1234567890-111" {
		t.Errorf("TransactionID = %q", r.TransactionID)
	}
	if r.Amount != "7.00" || r.InstrumentBrand != "Visa" || r.InstrumentSuffix != "1582" {
		t.Errorf("extracted fields = %q %q %q", r.Amount, r.InstrumentBrand, r.InstrumentSuffix)
	}
	if r.ExternalAccountRef != "1234567890" {
		t.Errorf("ExternalAccountRef = %q", r.ExternalAccountRef)
	}
}

func TestProcessMessagesMarksDuplicates(t *testing.T) {
	receiptRepo := newFakeReceiptRepo()
	receiptRepo.stored["m-1"] = &domain.Receipt{
		AccountID:         1,
		ProviderMessageID: "m-1",
		Status:            domain.ReceiptStatusSuccess,
	}
	p := newTestProcessor(receiptRepo, &fakeMessageRepo{})

	result, err := p.ProcessMessages(context.Background(), 1, []domain.Message{
		receiptMessage(1, "m-1", "1234567890-111"),
	})
	if err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	if result.Duplicate != 1 {
		t.Errorf("Duplicate = %d, want 1", result.Duplicate)
	}
	if receiptRepo.stored["m-1"].Status != domain.ReceiptStatusDuplicate {
		t.Errorf("status = %v, want Duplicate", receiptRepo.stored["m-1"].Status)
	}
}

func TestProcessMessagesRepeatedTransactionIDIsNotDuplicate(t *testing.T) {
	receiptRepo := newFakeReceiptRepo()
	receiptRepo.stored["m-1"] = &domain.Receipt{
		AccountID:         1,
		ProviderMessageID: "m-1",
		TransactionID:     "1234567890-111",
		Status:            domain.ReceiptStatusSuccess,
	}
	p := newTestProcessor(receiptRepo, &fakeMessageRepo{})

	// distinct message, identical transaction id in the body
	result, err := p.ProcessMessages(context.Background(), 1, []domain.Message{
		receiptMessage(2, "m-2", "1234567890-111"),
	})
	if err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	if result.Success != 1 || result.Duplicate != 0 {
		t.Errorf("result = %+v, want 1 success 0 duplicate", result)
	}
	if receiptRepo.stored["m-2"].Status != domain.ReceiptStatusSuccess {
		t.Errorf("status = %v, want Success", receiptRepo.stored["m-2"].Status)
	}
}

func TestProcessMessagesMarksFailedCharges(t *testing.T) {
	receiptRepo := newFakeReceiptRepo()
	p := newTestProcessor(receiptRepo, &fakeMessageRepo{})

	msg := receiptMessage(1, "m-1", "1234567890-111")
	msg.BodyHTML = `<div>Your payment FAILED, please retry.</div>`

	result, err := p.ProcessMessages(context.Background(), 1, []domain.Message{msg})
	if err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	if result.Fail != 1 {
		t.Errorf("Fail = %d, want 1", result.Fail)
	}
}

func TestProcessMessagesCountsStorageFailures(t *testing.T) {
	receiptRepo := newFakeReceiptRepo()
	receiptRepo.failFor["m-2"] = fmt.Errorf("constraint violation")
	p := newTestProcessor(receiptRepo, &fakeMessageRepo{})

	result, err := p.ProcessMessages(context.Background(), 1, []domain.Message{
		receiptMessage(1, "m-1", "1234567890-111"),
		receiptMessage(2, "m-2", "1234567890-222"),
	})
	if err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	if result.Errors != 1 {
		t.Errorf("Errors = %d, want 1", result.Errors)
	}
	if len(receiptRepo.stored) != 1 {
		t.Errorf("stored = %d, want 1", len(receiptRepo.stored))
	}
}

func TestProcessMessagesEmptyBatch(t *testing.T) {
	p := newTestProcessor(newFakeReceiptRepo(), &fakeMessageRepo{})

	result, err := p.ProcessMessages(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("Total = %d, want 0", result.Total)
	}
}

func TestReprocessPromotesFixedReceipts(t *testing.T) {
	receiptRepo := newFakeReceiptRepo()
	messageRepo := &fakeMessageRepo{byID: map[int64]*domain.Message{}}

	// a receipt that previously classified Unmatched, whose stored message
	// body now extracts cleanly
	msg := receiptMessage(10, "m-10", "1234567890-111")
	messageRepo.byID[10] = &msg
	receiptRepo.stored["m-10"] = &domain.Receipt{
		ID:                5,
		AccountID:         1,
		MessageID:         10,
		ProviderMessageID: "m-10",
		Status:            domain.ReceiptStatusUnmatched,
		CreatedAt:         time.Now().Add(-24 * time.Hour),
	}

	p := newTestProcessor(receiptRepo, messageRepo)

	result, err := p.Reprocess(context.Background(), 1)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if result.Success != 1 {
		t.Errorf("Success = %d, want 1", result.Success)
	}
	if len(receiptRepo.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(receiptRepo.updates))
	}
	updated := receiptRepo.updates[0]
	if updated.ID != 5 {
		t.Errorf("updated ID = %d, want 5 (overwrite in place)", updated.ID)
	}
	if updated.Status != domain.ReceiptStatusSuccess {
		t.Errorf("status = %v, want Success", updated.Status)
	}
}

func TestReprocessSkipsMissingMessages(t *testing.T) {
	receiptRepo := newFakeReceiptRepo()
	receiptRepo.stored["m-10"] = &domain.Receipt{
		ID:                5,
		AccountID:         1,
		MessageID:         10,
		ProviderMessageID: "m-10",
		Status:            domain.ReceiptStatusFail,
	}
	p := newTestProcessor(receiptRepo, &fakeMessageRepo{byID: map[int64]*domain.Message{}})

	result, err := p.Reprocess(context.Background(), 1)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if result.Errors != 1 {
		t.Errorf("Errors = %d, want 1", result.Errors)
	}
}
