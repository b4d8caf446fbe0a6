package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	ledgerDriftCounter      *prometheus.CounterVec
	idempotencyCounter      *prometheus.CounterVec
	payoutResolutionCounter *prometheus.CounterVec
	transferCounter         *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerDriftCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_drift_total",
			Help: "Number of times a wallet balance diverged from its ledger sum",
		}, []string{"currency"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		payoutResolutionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_resolutions_total",
			Help: "Payout lifecycle transitions",
		}, []string{"resolution"})

		transferCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_transfers_total",
			Help: "Transfer outcomes",
		}, []string{"category", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerDriftCounter,
			idempotencyCounter,
			payoutResolutionCounter,
			transferCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerDrift(currency string) {
	if ledgerDriftCounter == nil {
		return
	}
	ledgerDriftCounter.WithLabelValues(currency).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementPayoutResolution(resolution string) {
	if payoutResolutionCounter == nil {
		return
	}
	payoutResolutionCounter.WithLabelValues(resolution).Inc()
}

func IncrementTransfer(category, result string) {
	if transferCounter == nil {
		return
	}
	transferCounter.WithLabelValues(category, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
