package domain

import "time"

type Provider string

const (
	MailProviderOutlook Provider = "outlook"
)

// Account is a connected mailbox whose receipts get synced.
type Account struct {
	ID          int64     `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Provider    Provider  `db:"provider" json:"provider"`
	Active      bool      `db:"is_active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Credential holds the OAuth token material for an account.
// AccessToken is short-lived; RefreshToken is the long-lived grant
// used to mint replacements.
type Credential struct {
	ID           int64     `db:"id" json:"id"`
	AccountID    int64     `db:"account_id" json:"account_id"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	TokenType    string    `db:"token_type" json:"token_type"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires before now+skew.
// A zero ExpiresAt counts as expired.
func (c *Credential) ExpiresWithin(skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(skew).After(c.ExpiresAt)
}
