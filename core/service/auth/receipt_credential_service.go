// Package auth manages the OAuth credential lifecycle for mailbox accounts.
package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"receipt_server/core/domain"
	"receipt_server/core/port/out"
	"receipt_server/pkg/apperr"
	"receipt_server/pkg/httputil"
	"receipt_server/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// expirySkew keeps a safety margin so a token never runs out mid-request.
const expirySkew = 2 * time.Minute

type CredentialService struct {
	accountRepo out.AccountRepositoryPort
	credRepo    out.CredentialRepositoryPort
	config      *oauth2.Config
	tokenClient *http.Client

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewCredentialService(
	accountRepo out.AccountRepositoryPort,
	credRepo out.CredentialRepositoryPort,
	clientID, clientSecret, tenantID string,
) *CredentialService {
	return &CredentialService{
		accountRepo: accountRepo,
		credRepo:    credRepo,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenantID),
			Scopes: []string{
				"https://graph.microsoft.com/Mail.Read",
				"offline_access",
			},
		},
		tokenClient: httputil.NewOptimizedClient(httputil.TokenClientConfig()),
		locks:       make(map[int64]*sync.Mutex),
	}
}

// accountLock returns the per-account mutex, creating it on first use.
// Refreshes for the same account serialize; different accounts do not.
func (s *CredentialService) accountLock(accountID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountID] = lock
	}
	return lock
}

// GetValid returns a credential usable for a provider call right now.
// A token expiring within the skew window is refreshed first.
func (s *CredentialService) GetValid(ctx context.Context, accountID int64) (*domain.Credential, error) {
	cred, err := s.credRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperr.AuthFailed(accountID, err)
	}
	if !cred.ExpiresWithin(expirySkew) {
		return cred, nil
	}
	return s.Refresh(ctx, accountID)
}

// Refresh exchanges the stored refresh token for fresh token material.
// Concurrent callers for the same account collapse into one provider
// round trip: the lock holder refreshes, the rest re-read and return.
func (s *CredentialService) Refresh(ctx context.Context, accountID int64) (*domain.Credential, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := s.credRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperr.AuthFailed(accountID, err)
	}

	// Another caller may have refreshed while we waited on the lock.
	if !cred.ExpiresWithin(expirySkew) {
		return cred, nil
	}

	// Hand oauth2 only the refresh token. A token carrying a still-future
	// expiry would make the source return the old access token unchanged,
	// defeating the skew window.
	token := &oauth2.Token{
		RefreshToken: cred.RefreshToken,
	}

	// Route the exchange through the tuned token client
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, s.tokenClient)

	tokenSource := s.config.TokenSource(tokenCtx, token)
	newToken, err := tokenSource.Token()
	if err != nil {
		if isGrantRevokedError(err) {
			logger.Warn("[CredentialService.Refresh] Refresh grant rejected for account %d: %v", accountID, err)
			return nil, apperr.TokenExpired(accountID)
		}
		return nil, apperr.AuthFailed(accountID, err)
	}

	cred.AccessToken = newToken.AccessToken
	if newToken.RefreshToken != "" {
		cred.RefreshToken = newToken.RefreshToken
	}
	cred.TokenType = newToken.TokenType
	cred.ExpiresAt = newToken.Expiry
	cred.UpdatedAt = time.Now()

	if err := s.credRepo.UpdateTokens(ctx, cred); err != nil {
		return nil, apperr.DatabaseError("update credential", err)
	}

	logger.Debug("[CredentialService.Refresh] Token refreshed for account %d, expires %s",
		accountID, cred.ExpiresAt.Format(time.RFC3339))
	return cred, nil
}

// RefreshAll force-refreshes every active account. Failures are collected
// per account instead of aborting the sweep.
func (s *CredentialService) RefreshAll(ctx context.Context) map[int64]error {
	results := make(map[int64]error)

	accounts, err := s.accountRepo.FindActive(ctx)
	if err != nil {
		logger.Error("[CredentialService.RefreshAll] Failed to list accounts: %v", err)
		return results
	}

	for _, account := range accounts {
		if _, err := s.Refresh(ctx, account.ID); err != nil {
			logger.Warn("[CredentialService.RefreshAll] Refresh failed for account %d: %v", account.ID, err)
			results[account.ID] = err
		} else {
			results[account.ID] = nil
		}
	}
	return results
}

// isGrantRevokedError reports whether the refresh grant itself is dead
// and re-authentication is required.
func isGrantRevokedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "invalid_client") ||
		strings.Contains(errStr, "AADSTS70000") ||
		strings.Contains(errStr, "AADSTS700082")
}
