package domain

import "time"

// ReceiptStatus is the classification outcome for an extracted receipt.
type ReceiptStatus string

const (
	ReceiptStatusSuccess   ReceiptStatus = "Success"
	ReceiptStatusDuplicate ReceiptStatus = "Duplicate"
	ReceiptStatusFail      ReceiptStatus = "Fail"
	ReceiptStatusUnmatched ReceiptStatus = "Unmatched"
)

// Candidate is the raw field set pulled out of a message body before
// classification. ReferenceCode is a pointer so a code that was looked
// for and came back empty stays distinguishable from one never found.
type Candidate struct {
	TransactionID      string
	ExternalAccountRef string
	ReferenceCode      *string
	Amount             string
	InstrumentBrand    string
	InstrumentSuffix   string
}

// HasAmount reports whether an amount was extracted.
func (c *Candidate) HasAmount() bool {
	return c.Amount != ""
}

// ReferenceEmpty reports whether a reference code was extracted but
// came back empty.
func (c *Candidate) ReferenceEmpty() bool {
	return c.ReferenceCode != nil && *c.ReferenceCode == ""
}

// Receipt is a persisted extraction result, one per message, keyed by
// (AccountID, ProviderMessageID).
type Receipt struct {
	ID                 int64         `db:"id" json:"id"`
	AccountID          int64         `db:"account_id" json:"account_id"`
	MessageID          int64         `db:"message_id" json:"message_id"`
	ProviderMessageID  string        `db:"provider_message_id" json:"provider_message_id"`
	ReceivedAt         time.Time     `db:"received_at" json:"received_at"`
	ExternalAccountRef string        `db:"external_account_ref" json:"external_account_ref"`
	TransactionID      string        `db:"transaction_id" json:"transaction_id"`
	Amount             string        `db:"amount" json:"amount"`
	InstrumentBrand    string        `db:"instrument_brand" json:"instrument_brand"`
	InstrumentSuffix   string        `db:"instrument_suffix" json:"instrument_suffix"`
	ReferenceCode      *string       `db:"reference_code" json:"reference_code"`
	Status             ReceiptStatus `db:"status" json:"status"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}
