// Package classification assigns a status to extracted receipt candidates.
package classification

import (
	"strings"

	"receipt_server/core/domain"
)

type ReceiptClassifier struct{}

func NewReceiptClassifier() *ReceiptClassifier {
	return &ReceiptClassifier{}
}

// Classify picks the status for a candidate. The checks run in a fixed
// order so the outcome is deterministic for a given input:
//
//  1. the body mentions a failed charge
//  2. a receipt for the same message is already stored
//  3. the reference section was present but yielded no code
//  4. otherwise the receipt is good
//
// loweredBody must already be lowercased; hasExisting is the caller's
// answer to whether the account already holds a receipt for the message.
func (c *ReceiptClassifier) Classify(candidate *domain.Candidate, loweredBody string, hasExisting bool) domain.ReceiptStatus {
	if strings.Contains(loweredBody, "failed") {
		return domain.ReceiptStatusFail
	}
	if hasExisting {
		return domain.ReceiptStatusDuplicate
	}
	if candidate.ReferenceEmpty() {
		return domain.ReceiptStatusUnmatched
	}
	return domain.ReceiptStatusSuccess
}
