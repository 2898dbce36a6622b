package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowrelay_requests_queued_total",
		Help: "Requests captured into the offline queue.",
	})

	ReplaysSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowrelay_replays_succeeded_total",
		Help: "Queued requests successfully replayed against the engine.",
	})

	ReplaysFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowrelay_replays_failed_total",
		Help: "Replay attempts that failed and left the request queued.",
	})

	ReplaysUnauthorized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowrelay_replays_unauthorized_total",
		Help: "Replay passes cancelled by an engine authorization failure.",
	})

	Reconciliations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowrelay_reconciliations_total",
		Help: "External-id reconciliation passes executed after replay.",
	})

	StorageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowrelay_storage_errors_total",
		Help: "Durable store operations that failed and fell back to a cache miss.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowrelay_queue_depth",
		Help: "Requests currently waiting for replay.",
	})

	CachingProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowrelay_caching_progress",
		Help: "Progress of the initial reference-data caching pass, 0 to 100.",
	})
)
