package worker

import (
	"context"
	"sync"
	"time"

	"github.com/craftsphere/wallet-ledger/internal/observability"
	"github.com/craftsphere/wallet-ledger/internal/service"
	"go.uber.org/zap"
)

// PayoutTimeoutWorker fails withdrawals whose rail confirmation never
// arrived, restoring the reserved funds. Safe for concurrent instances
// thanks to FOR UPDATE SKIP LOCKED.
type PayoutTimeoutWorker struct {
	payouts      *service.PayoutService
	window       time.Duration
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewPayoutTimeoutWorker creates a worker with defaults suited to a rail
// that normally confirms within minutes.
func NewPayoutTimeoutWorker(payouts *service.PayoutService) *PayoutTimeoutWorker {
	return &PayoutTimeoutWorker{
		payouts:      payouts,
		window:       24 * time.Hour,
		pollInterval: time.Minute,
		batchSize:    20,
		stopCh:       make(chan struct{}),
	}
}

// WithWindow sets how long a withdrawal may stay pending.
func (w *PayoutTimeoutWorker) WithWindow(window time.Duration) *PayoutTimeoutWorker {
	if window > 0 {
		w.window = window
	}
	return w
}

// WithPollInterval sets the poll interval for the worker.
func (w *PayoutTimeoutWorker) WithPollInterval(interval time.Duration) *PayoutTimeoutWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *PayoutTimeoutWorker) WithBatchSize(size int32) *PayoutTimeoutWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps stale withdrawals at the configured interval.
func (w *PayoutTimeoutWorker) Start(ctx context.Context) {
	zap.L().Info("payout timeout worker starting",
		zap.Duration("window", w.window),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("payout timeout worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("payout timeout worker stop signal received")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *PayoutTimeoutWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *PayoutTimeoutWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs a single sweep immediately. Useful for manual triggering.
func (w *PayoutTimeoutWorker) SweepOnce(ctx context.Context) (int, error) {
	return w.payouts.TimeOutStaleWithdrawals(ctx, w.window, w.batchSize)
}

func (w *PayoutTimeoutWorker) sweepOnce(ctx context.Context) {
	resolved, err := w.payouts.TimeOutStaleWithdrawals(ctx, w.window, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("payout_timeout", "failed")
		zap.L().Error("payout timeout sweep failed", zap.Error(err))
		return
	}
	if resolved > 0 {
		zap.L().Warn("timed out stale withdrawals", zap.Int("count", resolved))
	}
	observability.IncrementWorkerRun("payout_timeout", "success")
}
