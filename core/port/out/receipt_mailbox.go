package out

import (
	"context"
	"time"
)

// =============================================================================
// Mailbox Provider Port
// =============================================================================

// ProviderMessage is a raw message as returned by the provider, before
// persistence.
type ProviderMessage struct {
	ProviderMessageID string
	Subject           string
	FromAddress       string
	FromName          string
	ReceivedAt        time.Time
	IsRead            bool
	HasAttachments    bool
	BodyPreview       string
	BodyHTML          string
	Categories        []string
}

// MailboxPage is one page of a provider listing.
type MailboxPage struct {
	Messages []ProviderMessage
	NextLink string
}

// ListWindow is the inclusive day range a listing covers, in UTC.
type ListWindow struct {
	From time.Time
	To   time.Time
}

// MailboxProviderPort lists messages from an external mailbox.
type MailboxProviderPort interface {
	GetProviderType() string

	// ListMessages returns one bounded page of messages received inside
	// the window. pageSize is clamped to the provider's maximum.
	ListMessages(ctx context.Context, accessToken string, window ListWindow, pageSize int) (*MailboxPage, error)
}
