package bootstrap

import (
	"os"

	"receipt_server/adapter/in/worker"
	"receipt_server/config"
	"receipt_server/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker runs the sync scheduler without the HTTP surface. Used for
// deployments that split the API and the periodic sync loop.
type Worker struct {
	scheduler *worker.SyncScheduler
	deps      *Dependencies
	zlog      zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "receipts-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	scheduler := worker.NewSyncScheduler(
		deps.AccountRepo,
		deps.SyncService,
		deps.SyncStatusCache,
		cfg.SyncTickInterval,
		cfg.BackfillDays,
	)

	w := &Worker{
		scheduler: scheduler,
		deps:      deps,
		zlog:      zlog,
	}
	return w, cleanup, nil
}

// Start begins the sync loop. Blocks until Stop is called.
func (w *Worker) Start() {
	w.zlog.Info().
		Int("backfill_days", w.deps.Config.BackfillDays).
		Dur("tick", w.deps.Config.SyncTickInterval).
		Msg("sync scheduler starting")
	w.scheduler.Start()

	// Start returns immediately, hold until Stop flips the context
	<-w.done()
}

// Stop shuts the scheduler down and waits for in-flight syncs.
func (w *Worker) Stop() {
	w.zlog.Info().Msg("sync scheduler stopping")
	w.scheduler.Stop()
	w.zlog.Info().Msg("sync scheduler stopped")
}

func (w *Worker) done() <-chan struct{} {
	return w.scheduler.Done()
}
