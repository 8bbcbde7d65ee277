package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookingsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by outcome.",
		},
		[]string{"outcome"},
	)

	syncSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_skipped_total",
			Help:      "Sync triggers skipped because another run held the lock.",
		},
	)

	ordersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders handled by the processor by outcome.",
		},
		[]string{"outcome"},
	)

	retryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_outcomes_total",
			Help:      "Retry queue transitions by outcome.",
		},
		[]string{"outcome"},
	)

	retryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_depth",
			Help:      "Unresolved retry entries still eligible for retry.",
		},
	)

	botCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_commands_total",
			Help:      "Operator chat commands by command and result.",
		},
		[]string{"command", "result"},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, syncRuns, syncSkipped, ordersProcessed, retryOutcomes, retryQueueDepth, botCommands, syncDuration)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveRun records a finished run.
func ObserveRun(outcome string, d time.Duration) {
	syncRuns.WithLabelValues(outcome).Inc()
	syncDuration.Observe(d.Seconds())
}

func IncSkipped() {
	syncSkipped.Inc()
}

// IncOrder counts an order outcome: synced, skipped or failed.
func IncOrder(outcome string) {
	ordersProcessed.WithLabelValues(outcome).Inc()
}

// IncRetry counts a retry transition: enqueued, failed, resolved or exhausted.
func IncRetry(outcome string) {
	retryOutcomes.WithLabelValues(outcome).Inc()
}

func SetRetryQueueDepth(n int) {
	retryQueueDepth.Set(float64(n))
}

// IncBotCommand counts an operator chat command.
func IncBotCommand(command, result string) {
	botCommands.WithLabelValues(command, result).Inc()
}
