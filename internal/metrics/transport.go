package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently established QUIC connections.
	ActiveConnections = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "active_connections",
			Help:      "Number of established peer QUIC connections",
		},
	)

	// MessagesTotal counts envelopes by direction and stream kind.
	MessagesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "messages_total",
			Help:      "Total envelopes sent/received by stream kind",
		},
		[]string{"direction", "stream"}, // inbound|outbound, uni|bidi
	)

	// StreamDuration observes bidi request/response round trip time.
	StreamDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bidi_duration_seconds",
			Help:      "Bidirectional request/response round-trip duration",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// AutoResponsesTotal counts synthesized replies by request kind.
	AutoResponsesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "auto_responses_total",
			Help:      "Synthesized replies by request kind",
		},
		[]string{"kind"},
	)

	// DialDeduped counts dials skipped inside the singleflight group
	// because a connection to the peer already existed.
	DialDeduped = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "dial_deduped_total",
			Help:      "Outbound dials skipped because a connection to the peer already existed",
		},
	)
)
