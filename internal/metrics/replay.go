package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReplayCacheSize tracks current entry count.
	ReplayCacheSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replay_cache",
			Name:      "size",
			Help:      "Current number of tracked envelope IDs",
		},
	)

	// ReplayHits counts envelopes dropped as replays.
	ReplayHits = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay_cache",
			Name:      "hits_total",
			Help:      "Envelopes dropped because their id was already seen within TTL",
		},
	)

	// ReplayEvictions counts entries dropped by TTL expiry or cap eviction.
	ReplayEvictions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay_cache",
			Name:      "evictions_total",
			Help:      "Entries evicted from the replay cache",
		},
		[]string{"reason"}, // ttl, cap
	)
)
