package worker

import (
	"context"
	"sync"
	"time"

	"github.com/craftsphere/wallet-ledger/internal/idempotency"
	"github.com/craftsphere/wallet-ledger/internal/observability"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/craftsphere/wallet-ledger/internal/service"
	"go.uber.org/zap"
)

// ReconciliationWorker runs periodic ledger integrity checks and recovers
// transfer legs orphaned by a crash between commit and completion.
type ReconciliationWorker struct {
	reconciliation *service.ReconciliationService
	transfers      *service.TransferService
	idemStore      *idempotency.Store
	interval       time.Duration
	orphanWindow   time.Duration
	batchSize      int32
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewReconciliationWorker constructs a worker with a default hourly interval.
func NewReconciliationWorker(reconciliation *service.ReconciliationService, transfers *service.TransferService) *ReconciliationWorker {
	return &ReconciliationWorker{
		reconciliation: reconciliation,
		transfers:      transfers,
		interval:       time.Hour,
		orphanWindow:   10 * time.Minute,
		batchSize:      50,
		stopCh:         make(chan struct{}),
	}
}

// WithIdempotencyStore enables garbage collection of expired idempotency keys
// as part of each run.
func (w *ReconciliationWorker) WithIdempotencyStore(store *idempotency.Store) *ReconciliationWorker {
	w.idemStore = store
	return w
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithOrphanWindow sets how old a pending transfer leg must be before the
// sweep considers it orphaned.
func (w *ReconciliationWorker) WithOrphanWindow(window time.Duration) *ReconciliationWorker {
	if window > 0 {
		w.orphanWindow = window
	}
	return w
}

// Start blocks and runs reconciliation at the configured interval.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	recovered, err := w.transfers.RecoverOrphanTransfers(ctx, repository.StaleRowsParams{
		Cutoff: time.Now().Add(-w.orphanWindow),
		Limit:  w.batchSize,
	})
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("orphan transfer sweep failed", zap.Error(err))
		return
	}
	if recovered > 0 {
		zap.L().Warn("recovered orphan transfer legs", zap.Int("count", recovered))
	}

	if _, err := w.reconciliation.Run(ctx); err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return
	}

	if w.idemStore != nil {
		purged, err := w.idemStore.PurgeExpired(ctx)
		if err != nil {
			zap.L().Error("idempotency key purge failed", zap.Error(err))
		} else if purged > 0 {
			zap.L().Info("purged expired idempotency keys", zap.Int64("count", purged))
		}
	}
	observability.IncrementWorkerRun("reconciliation", "success")
}
