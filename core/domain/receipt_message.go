package domain

import "time"

// Message is a synced mail message, keyed by (AccountID, ProviderMessageID).
// BodyHTML and BodyPreview are kept verbatim so extraction can be replayed
// without another provider round trip.
type Message struct {
	ID                int64     `db:"id" json:"id"`
	AccountID         int64     `db:"account_id" json:"account_id"`
	ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id"`
	Subject           string    `db:"subject" json:"subject"`
	FromAddress       string    `db:"from_email" json:"from_email"`
	FromName          string    `db:"from_name" json:"from_name"`
	ReceivedAt        time.Time `db:"received_at" json:"received_at"`
	IsRead            bool      `db:"is_read" json:"is_read"`
	HasAttachments    bool      `db:"has_attachments" json:"has_attachments"`
	BodyPreview       string    `db:"body_preview" json:"body_preview"`
	BodyHTML          string    `db:"body_html" json:"body_html"`
	Categories        []string  `db:"-" json:"categories"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// receiptSubjectPrefixes gates which messages enter the pipeline.
// Meta sends its billing receipts under these subjects, in English
// and Vietnamese.
var receiptSubjectPrefixes = []string{
	"Your Meta ads receipt",
	"Biên lai quảng cáo Meta của bạn",
	"Meta ads receipt",
	"Biên lai Meta",
}

// IsReceiptSubject reports whether a subject line identifies a receipt mail.
func IsReceiptSubject(subject string) bool {
	for _, prefix := range receiptSubjectPrefixes {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
