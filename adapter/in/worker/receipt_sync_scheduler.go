package worker

import (
	"context"
	"sync"
	"time"

	"receipt_server/core/domain"
	"receipt_server/core/port/in"
	"receipt_server/core/port/out"
	"receipt_server/pkg/cache"
	"receipt_server/pkg/logger"
	"receipt_server/pkg/metrics"
)

// =============================================================================
// SyncScheduler - background receipt sync loop
// =============================================================================
//
// One ticker drives two phases per tick: pending backfills first (accounts
// queued by registration or the HTTP surface), then one daily pass per UTC
// date over every active account.

const (
	DefaultTickInterval = 1 * time.Minute
	errorBackoff        = 5 * time.Minute
	tickTimeout         = 30 * time.Minute
)

type SyncScheduler struct {
	accountRepo out.AccountRepositoryPort
	syncService in.SyncServicePort
	statusCache *cache.SyncStatusCache

	tickInterval time.Duration
	backfillDays int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	running         bool
	pendingBackfill map[int64]struct{}
	lastDailyDate   string
	lastResults     map[int64]domain.AccountSyncResult
}

func NewSyncScheduler(
	accountRepo out.AccountRepositoryPort,
	syncService in.SyncServicePort,
	statusCache *cache.SyncStatusCache,
	tickInterval time.Duration,
	backfillDays int,
) *SyncScheduler {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	if backfillDays <= 0 {
		backfillDays = 30
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncScheduler{
		accountRepo:     accountRepo,
		syncService:     syncService,
		statusCache:     statusCache,
		tickInterval:    tickInterval,
		backfillDays:    backfillDays,
		ctx:             ctx,
		cancel:          cancel,
		pendingBackfill: make(map[int64]struct{}),
		lastResults:     make(map[int64]domain.AccountSyncResult),
	}
}

var _ in.SyncSchedulerPort = (*SyncScheduler)(nil)

// Start launches the loop. Calling it again while running is a no-op;
// a stopped scheduler restarts with a fresh context.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Info("[SyncScheduler] Already running, ignoring Start")
		return
	}
	s.running = true
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	ctx := s.ctx
	s.mu.Unlock()

	logger.Info("[SyncScheduler] Starting (tick %s, backfill %d days)", s.tickInterval, s.backfillDays)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the loop and waits for an in-flight tick to drain.
func (s *SyncScheduler) Stop() {
	logger.Info("[SyncScheduler] Stopping...")
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	logger.Info("[SyncScheduler] Stopped")
}

// Done reports scheduler shutdown; closed once Stop cancels the loop.
func (s *SyncScheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.Done()
}

// EnqueueBackfill queues an account for backfill on the next tick.
// Queueing the same account twice collapses into one entry.
func (s *SyncScheduler) EnqueueBackfill(accountID int64) {
	s.mu.Lock()
	s.pendingBackfill[accountID] = struct{}{}
	s.mu.Unlock()
	logger.WithAccount(accountID).Info("[SyncScheduler] Backfill queued")
}

// Status snapshots the loop state for the HTTP surface.
func (s *SyncScheduler) Status() in.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]int64, 0, len(s.pendingBackfill))
	for id := range s.pendingBackfill {
		pending = append(pending, id)
	}
	results := make(map[int64]domain.AccountSyncResult, len(s.lastResults))
	for id, r := range s.lastResults {
		results[id] = r
	}
	return in.SchedulerStatus{
		Running:         s.running,
		PendingBackfill: pending,
		LastDailyDate:   s.lastDailyDate,
		LastResults:     results,
	}
}

func (s *SyncScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				logger.Error("[SyncScheduler] Tick failed, backing off %s: %v", errorBackoff, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(errorBackoff):
				}
			}
		}
	}
}

// tick runs the backfill phase then, at most once per UTC date, the daily
// phase. Per-account failures are recorded and the pass continues; only a
// failure to enumerate accounts aborts the tick.
func (s *SyncScheduler) tick(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	s.runBackfills(ctx)

	today := time.Now().UTC().Format("2006-01-02")
	s.mu.Lock()
	dailyDone := s.lastDailyDate == today
	s.mu.Unlock()
	if dailyDone {
		return nil
	}

	accounts, err := s.accountRepo.FindActive(ctx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		s.mu.Lock()
		_, pending := s.pendingBackfill[account.ID]
		s.mu.Unlock()
		if pending {
			// the backfill already covers today's window
			continue
		}
		s.runDaily(ctx, account)
	}

	s.mu.Lock()
	s.lastDailyDate = today
	s.mu.Unlock()
	return nil
}

// runBackfills drains the pending set. An account whose backfill failed
// stays queued so the next tick re-covers its days.
func (s *SyncScheduler) runBackfills(ctx context.Context) {
	s.mu.Lock()
	pending := make([]int64, 0, len(s.pendingBackfill))
	for id := range s.pendingBackfill {
		pending = append(pending, id)
	}
	s.mu.Unlock()

	for _, accountID := range pending {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		result, err := s.syncService.BackfillAccount(ctx, accountID, s.backfillDays)
		metrics.RecordLatency("sync:backfill", time.Since(started))
		s.recordBackfill(ctx, accountID, result, err)

		if err != nil {
			logger.WithAccount(accountID).Warn("[SyncScheduler] Backfill incomplete, keeping queued: %v", err)
			continue
		}
		s.mu.Lock()
		delete(s.pendingBackfill, accountID)
		s.mu.Unlock()
		logger.WithAccount(accountID).Info("[SyncScheduler] Backfill complete (%d windows)", len(result.Windows))
	}
}

func (s *SyncScheduler) runDaily(ctx context.Context, account domain.Account) {
	started := time.Now()
	wr, err := s.syncService.SyncDaily(ctx, account.ID)
	metrics.RecordLatency("sync:daily", time.Since(started))

	record := domain.AccountSyncResult{
		AccountID:  account.ID,
		Email:      account.Email,
		Kind:       "daily",
		FinishedAt: time.Now(),
	}
	if err != nil {
		record.Error = err.Error()
		logger.WithAccount(account.ID).Error("[SyncScheduler] Daily sync failed: %v", err)
	} else {
		record.Window = wr.Window
		record.Fetched = wr.Fetched
		record.Inserted = wr.Inserted
		record.Processed = wr.Processed
	}
	s.storeResult(ctx, record)
}

func (s *SyncScheduler) recordBackfill(ctx context.Context, accountID int64, result *domain.BackfillResult, err error) {
	record := domain.AccountSyncResult{
		AccountID:  accountID,
		Kind:       "backfill",
		FinishedAt: time.Now(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	if result != nil {
		for _, w := range result.Windows {
			record.Fetched += w.Fetched
			record.Inserted += w.Inserted
			record.Processed.Merge(w.Processed)
		}
		if len(result.Windows) > 0 {
			record.Window = domain.SyncWindow{
				From: result.Windows[0].Window.From,
				To:   result.Windows[len(result.Windows)-1].Window.To,
			}
		}
	}
	s.storeResult(ctx, record)
}

func (s *SyncScheduler) storeResult(ctx context.Context, record domain.AccountSyncResult) {
	s.mu.Lock()
	s.lastResults[record.AccountID] = record
	s.mu.Unlock()

	if err := s.statusCache.SetResult(ctx, record.AccountID, record); err != nil {
		logger.WithAccount(record.AccountID).Warn("[SyncScheduler] Failed to cache sync result: %v", err)
	}
}
