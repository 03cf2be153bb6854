package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"receipt_server/core/domain"
	"receipt_server/pkg/apperr"

	"golang.org/x/oauth2"
)

type fakeAccountRepo struct {
	accounts []domain.Account
}

func (f *fakeAccountRepo) FindByID(ctx context.Context, accountID int64) (*domain.Account, error) {
	for i := range f.accounts {
		if f.accounts[i].ID == accountID {
			return &f.accounts[i], nil
		}
	}
	return nil, apperr.NotFound("account")
}

func (f *fakeAccountRepo) FindActive(ctx context.Context) ([]domain.Account, error) {
	return f.accounts, nil
}

type fakeCredRepo struct {
	mu      sync.Mutex
	creds   map[int64]*domain.Credential
	updates int
}

func (f *fakeCredRepo) FindByAccountID(ctx context.Context, accountID int64) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[accountID]
	if !ok {
		return nil, apperr.NotFound("credential")
	}
	c := *cred
	return &c, nil
}

func (f *fakeCredRepo) UpdateTokens(ctx context.Context, cred *domain.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *cred
	f.creds[cred.AccountID] = &c
	f.updates++
	return nil
}

func newTestService(t *testing.T, tokenHandler http.HandlerFunc, creds map[int64]*domain.Credential) (*CredentialService, *fakeCredRepo, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(tokenHandler)
	t.Cleanup(server.Close)

	credRepo := &fakeCredRepo{creds: creds}
	accountRepo := &fakeAccountRepo{accounts: []domain.Account{{ID: 1, Email: "ads@example.com", Active: true}}}

	svc := NewCredentialService(accountRepo, credRepo, "client-id", "client-secret", "common")
	svc.config.Endpoint = oauth2.Endpoint{TokenURL: server.URL + "/token"}
	return svc, credRepo, server
}

func validCred(accountID int64) *domain.Credential {
	return &domain.Credential{
		AccountID:    accountID,
		AccessToken:  "live-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(1 * time.Hour),
	}
}

func expiredCred(accountID int64) *domain.Credential {
	return &domain.Credential{
		AccountID:    accountID,
		AccessToken:  "stale-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(-1 * time.Hour),
	}
}

func TestGetValidReturnsFreshCredentialWithoutRefresh(t *testing.T) {
	called := false
	svc, _, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, map[int64]*domain.Credential{1: validCred(1)})

	cred, err := svc.GetValid(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValid: %v", err)
	}
	if cred.AccessToken != "live-token" {
		t.Errorf("access token = %q, want live-token", cred.AccessToken)
	}
	if called {
		t.Error("token endpoint called for a fresh credential")
	}
}

func TestGetValidRefreshesExpiredCredential(t *testing.T) {
	svc, credRepo, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.Form.Get("refresh_token"); got != "refresh-token" {
			t.Errorf("refresh_token = %q, want refresh-token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-token","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`))
	}, map[int64]*domain.Credential{1: expiredCred(1)})

	cred, err := svc.GetValid(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValid: %v", err)
	}
	if cred.AccessToken != "new-token" {
		t.Errorf("access token = %q, want new-token", cred.AccessToken)
	}
	if cred.RefreshToken != "new-refresh" {
		t.Errorf("refresh token = %q, want new-refresh", cred.RefreshToken)
	}
	if credRepo.updates != 1 {
		t.Errorf("updates = %d, want 1", credRepo.updates)
	}
}

func TestGetValidRefreshesInsideSkewWindow(t *testing.T) {
	calls := 0
	svc, credRepo, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-token","token_type":"Bearer","expires_in":3600}`))
	}, map[int64]*domain.Credential{1: {
		AccountID:    1,
		AccessToken:  "soon-stale",
		RefreshToken: "refresh-token",
		// inside the 2-minute skew but still technically valid
		ExpiresAt: time.Now().Add(1 * time.Minute),
	}})

	cred, err := svc.GetValid(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValid: %v", err)
	}
	if calls != 1 {
		t.Errorf("token endpoint calls = %d, want 1", calls)
	}
	if cred.AccessToken != "new-token" {
		t.Errorf("access token = %q, want exchanged new-token", cred.AccessToken)
	}
	if credRepo.updates != 1 {
		t.Errorf("updates = %d, want 1", credRepo.updates)
	}
}

func TestRefreshKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	svc, credRepo, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-token","token_type":"Bearer","expires_in":3600}`))
	}, map[int64]*domain.Credential{1: expiredCred(1)})

	cred, err := svc.Refresh(context.Background(), 1)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if cred.RefreshToken != "refresh-token" {
		t.Errorf("refresh token = %q, want stored refresh-token", cred.RefreshToken)
	}
	stored := credRepo.creds[1]
	if stored.RefreshToken != "refresh-token" {
		t.Errorf("stored refresh token = %q, want refresh-token", stored.RefreshToken)
	}
}

func TestRefreshFailureLeavesStoredCredentialUntouched(t *testing.T) {
	svc, credRepo, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}, map[int64]*domain.Credential{1: expiredCred(1)})

	_, err := svc.Refresh(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperr.IsCode(err, apperr.CodeTokenExpired) {
		t.Errorf("error code = %v, want token expired", err)
	}
	stored := credRepo.creds[1]
	if stored.AccessToken != "stale-token" {
		t.Errorf("stored access token = %q, want stale-token", stored.AccessToken)
	}
	if credRepo.updates != 0 {
		t.Errorf("updates = %d, want 0", credRepo.updates)
	}
}

func TestConcurrentRefreshHitsProviderOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	svc, _, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-token","token_type":"Bearer","expires_in":3600}`))
	}, map[int64]*domain.Credential{1: expiredCred(1)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Refresh(context.Background(), 1); err != nil {
				t.Errorf("Refresh: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("token endpoint calls = %d, want 1", calls)
	}
}
