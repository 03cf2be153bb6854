package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"receipt_server/core/domain"
	"receipt_server/pkg/cache"
)

type fakeAccountRepo struct {
	accounts []domain.Account
	err      error
}

func (f *fakeAccountRepo) FindByID(ctx context.Context, accountID int64) (*domain.Account, error) {
	for i := range f.accounts {
		if f.accounts[i].ID == accountID {
			return &f.accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account %d not found", accountID)
}

func (f *fakeAccountRepo) FindActive(ctx context.Context) ([]domain.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts, nil
}

type fakeSyncService struct {
	mu            sync.Mutex
	dailyCalls    []int64
	backfillCalls []int64
	backfillErrs  map[int64]error
}

func (f *fakeSyncService) SyncWindow(ctx context.Context, accountID int64, window domain.SyncWindow) (*domain.WindowResult, error) {
	return &domain.WindowResult{AccountID: accountID, Window: window}, nil
}

func (f *fakeSyncService) BackfillAccount(ctx context.Context, accountID int64, days int) (*domain.BackfillResult, error) {
	f.mu.Lock()
	f.backfillCalls = append(f.backfillCalls, accountID)
	f.mu.Unlock()
	if err := f.backfillErrs[accountID]; err != nil {
		return &domain.BackfillResult{AccountID: accountID, FailedDays: 1}, err
	}
	return &domain.BackfillResult{
		AccountID: accountID,
		Windows:   []domain.WindowResult{{AccountID: accountID, Fetched: 2, Inserted: 1}},
	}, nil
}

func (f *fakeSyncService) SyncDaily(ctx context.Context, accountID int64) (*domain.WindowResult, error) {
	f.mu.Lock()
	f.dailyCalls = append(f.dailyCalls, accountID)
	f.mu.Unlock()
	return &domain.WindowResult{AccountID: accountID, Fetched: 1}, nil
}

func newTestScheduler(accounts *fakeAccountRepo, syncService *fakeSyncService) *SyncScheduler {
	return NewSyncScheduler(accounts, syncService, cache.NewSyncStatusCache(nil, 0), time.Minute, 30)
}

func TestTickRunsDailyOncePerDate(t *testing.T) {
	syncService := &fakeSyncService{}
	s := newTestScheduler(&fakeAccountRepo{accounts: []domain.Account{{ID: 1}, {ID: 2}}}, syncService)

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if len(syncService.dailyCalls) != 2 {
		t.Errorf("daily calls = %v, want one per account on the first tick only", syncService.dailyCalls)
	}

	status := s.Status()
	if status.LastDailyDate != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("LastDailyDate = %q", status.LastDailyDate)
	}
	if len(status.LastResults) != 2 {
		t.Errorf("LastResults = %d entries, want 2", len(status.LastResults))
	}
}

func TestTickRunsPendingBackfillAndClearsSet(t *testing.T) {
	syncService := &fakeSyncService{}
	s := newTestScheduler(&fakeAccountRepo{accounts: []domain.Account{{ID: 1}}}, syncService)

	s.EnqueueBackfill(1)
	s.EnqueueBackfill(1) // double enqueue collapses

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(syncService.backfillCalls) != 1 {
		t.Errorf("backfill calls = %v, want exactly one", syncService.backfillCalls)
	}
	if pending := s.Status().PendingBackfill; len(pending) != 0 {
		t.Errorf("pending = %v, want empty", pending)
	}
	// account was pending, so the daily phase skipped it this tick
	if len(syncService.dailyCalls) != 0 {
		t.Errorf("daily calls = %v, want none", syncService.dailyCalls)
	}
}

func TestTickRetainsFailedBackfill(t *testing.T) {
	syncService := &fakeSyncService{backfillErrs: map[int64]error{1: fmt.Errorf("provider down")}}
	s := newTestScheduler(&fakeAccountRepo{accounts: []domain.Account{{ID: 1}}}, syncService)

	s.EnqueueBackfill(1)
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if pending := s.Status().PendingBackfill; len(pending) != 1 || pending[0] != 1 {
		t.Errorf("pending = %v, want [1]", pending)
	}

	// the failure is visible on the status surface
	record, ok := s.Status().LastResults[1]
	if !ok || record.Error == "" {
		t.Errorf("last result = %+v, want recorded error", record)
	}

	// next tick retries the same account
	syncService.backfillErrs = nil
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	if len(syncService.backfillCalls) != 2 {
		t.Errorf("backfill calls = %v, want retry", syncService.backfillCalls)
	}
	if pending := s.Status().PendingBackfill; len(pending) != 0 {
		t.Errorf("pending after retry = %v, want empty", pending)
	}
}

func TestTickAccountListFailure(t *testing.T) {
	s := newTestScheduler(&fakeAccountRepo{err: fmt.Errorf("db down")}, &fakeSyncService{})

	if err := s.tick(context.Background()); err == nil {
		t.Fatal("expected error when account listing fails")
	}
	if s.Status().LastDailyDate != "" {
		t.Error("daily date recorded despite failed tick")
	}
}

func TestSchedulerRestartsAfterStop(t *testing.T) {
	syncService := &fakeSyncService{}
	s := NewSyncScheduler(&fakeAccountRepo{}, syncService, cache.NewSyncStatusCache(nil, 0), 10*time.Millisecond, 30)

	s.Start()
	s.Stop()

	s.EnqueueBackfill(7)
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.Status().PendingBackfill) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("backfill never drained after restart")
		}
		time.Sleep(5 * time.Millisecond)
	}

	syncService.mu.Lock()
	calls := len(syncService.backfillCalls)
	syncService.mu.Unlock()
	if calls != 1 {
		t.Errorf("backfill calls = %d, want 1", calls)
	}
}

func TestStartIsIdempotentAndStopDrains(t *testing.T) {
	syncService := &fakeSyncService{}
	s := NewSyncScheduler(&fakeAccountRepo{}, syncService, cache.NewSyncStatusCache(nil, 0), 10*time.Millisecond, 30)

	s.Start()
	s.Start() // second call must not spawn another loop
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if s.Status().Running {
		t.Error("scheduler still reports running after Stop")
	}
}
