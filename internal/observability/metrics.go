package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thb_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	StoreTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thb_store_tx_seconds",
			Help:    "Duration of store transactions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver", "result"},
	)

	HoldsReserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thb_holds_reserved_total",
			Help: "Hold tier updates applied, by tier",
		},
		[]string{"tier"},
	)

	HoldsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thb_holds_rejected_total",
			Help: "Hold tier updates rejected for lack of capacity, by tier",
		},
		[]string{"tier"},
	)

	Heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thb_heartbeats_total",
			Help: "Heartbeats processed, by outcome",
		},
		[]string{"outcome"},
	)

	Bookings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thb_bookings_total",
			Help: "Booking attempts, by outcome",
		},
		[]string{"outcome"},
	)

	InventoryInconsistencies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thb_inventory_inconsistencies_total",
			Help: "Ledger and hold store disagreements detected",
		},
	)

	HoldsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thb_holds_swept_total",
			Help: "Expired holds removed by the sweeper",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thb_sweep_seconds",
			Help:    "Duration of expiry sweeper ticks",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thb_outbox_lag_seconds",
			Help: "Age of the oldest outbox record relayed in the last batch",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thb_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thb_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
