package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PeerTableSize tracks the number of rows in the peer table, by status.
	PeerTableSize = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "table_size",
			Help:      "Number of peer table rows by status",
		},
		[]string{"status"}, // discovered, connecting, connected, disconnected
	)

	// ReconnectAttempts counts dial attempts by outcome.
	ReconnectAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "reconnect_attempts_total",
			Help:      "Total reconnect dial attempts",
		},
		[]string{"outcome"}, // success, failure
	)

	// ReconnectBackoffSeconds observes the backoff chosen after a failure.
	ReconnectBackoffSeconds = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "reconnect_backoff_seconds",
			Help:      "Backoff duration chosen after a failed dial",
			Buckets:   []float64{1, 2, 4, 8, 16, 30},
		},
	)

	// PubkeyPinViolations counts rejected discovery events for pinned peers.
	PubkeyPinViolations = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "pubkey_pin_violations_total",
			Help:      "Discovery events rejected because they disagreed with a pinned pubkey",
		},
	)
)
